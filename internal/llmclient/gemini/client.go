// Package gemini adapts a genai-compatible endpoint (the Gemini API, or a
// proxy speaking the same wire protocol) to the llmclient.Provider
// contract.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	genai "google.golang.org/genai"

	"companion-keeper/internal/llmclient"
)

type Client struct {
	sdk   *genai.Client
	model string
}

// New builds a client against baseURL, the proxy endpoint speaking the
// genai wire protocol.
func New(ctx context.Context, baseURL, apiKey, model string) (*Client, error) {
	httpOpts := genai.HTTPOptions{}
	if strings.TrimSpace(baseURL) != "" {
		httpOpts.BaseURL = strings.TrimSuffix(baseURL, "/") + "/"
	}
	sdk, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		HTTPOptions: httpOpts,
	})
	if err != nil {
		return nil, err
	}
	return &Client{sdk: sdk, model: model}, nil
}

func toContents(messages []llmclient.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.Role(genai.RoleUser)
		text := m.Content
		switch m.Role {
		case "assistant":
			role = genai.RoleModel
		case "system":
			text = "[system] " + m.Content
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		contents = append(contents, genai.NewContentFromText(text, role))
	}
	return contents
}

func (c *Client) call(ctx context.Context, messages []llmclient.Message, jsonMode bool) (string, error) {
	contents := toContents(messages)
	cfg := &genai.GenerateContentConfig{}
	if jsonMode {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := c.sdk.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini: empty response")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

func (c *Client) ChatComplete(ctx context.Context, messages []llmclient.Message, opts llmclient.CallOptions) (string, error) {
	ctx, span := llmclient.StartRequestSpan(ctx, "Gemini ChatComplete", c.model, len(messages))
	defer span.End()
	llmclient.LogRedactedPrompt(ctx, messages)

	start := time.Now()
	text, err := c.call(ctx, messages, false)
	llmclient.LogCallTiming(ctx, "gemini_chat_complete", c.model, time.Since(start), err)
	if err != nil {
		return "", err
	}
	llmclient.LogRedactedResponse(ctx, text)
	return text, nil
}

func (c *Client) ChatCompleteJSON(ctx context.Context, messages []llmclient.Message, opts llmclient.CallOptions) (llmclient.JSONResult, error) {
	ctx, span := llmclient.StartRequestSpan(ctx, "Gemini ChatCompleteJSON", c.model, len(messages))
	defer span.End()
	llmclient.LogRedactedPrompt(ctx, messages)

	start := time.Now()
	text, err := c.call(ctx, messages, true)
	llmclient.LogCallTiming(ctx, "gemini_chat_complete_json", c.model, time.Since(start), err)
	if err != nil {
		return llmclient.JSONResult{}, err
	}
	llmclient.LogRedactedResponse(ctx, text)

	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return llmclient.JSONResult{Raw: text}, err
	}
	return llmclient.JSONResult{Parsed: parsed, Raw: text}, nil
}
