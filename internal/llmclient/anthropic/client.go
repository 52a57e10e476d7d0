// Package anthropic adapts the Anthropic messages endpoint to the
// llmclient.Provider contract.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"companion-keeper/internal/llmclient"
)

const defaultMaxTokens int64 = 4096

type Client struct {
	sdk       anthropic.Client
	model     string
	maxTokens int64
}

func New(baseURL, apiKey, model string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(baseURL, "/")))
	}
	return &Client{sdk: anthropic.NewClient(opts...), model: model, maxTokens: defaultMaxTokens}
}

// adaptMessages hoists system-role turns into Anthropic's separate System
// field, per the Messages API's shape.
func adaptMessages(messages []llmclient.Message) (string, []anthropic.MessageParam) {
	var sys strings.Builder
	converted := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			if sys.Len() > 0 {
				sys.WriteString("\n")
			}
			sys.WriteString(m.Content)
		case "assistant":
			converted = append(converted, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return sys.String(), converted
}

func (c *Client) call(ctx context.Context, messages []llmclient.Message) (string, int, int, error) {
	sys, converted := adaptMessages(messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		Messages:  converted,
		MaxTokens: c.maxTokens,
	}
	if sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}

	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return "", 0, 0, err
	}
	if len(resp.Content) == 0 {
		return "", 0, 0, errors.New("anthropic: empty content")
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens), nil
}

func (c *Client) ChatComplete(ctx context.Context, messages []llmclient.Message, opts llmclient.CallOptions) (string, error) {
	ctx, span := llmclient.StartRequestSpan(ctx, "Anthropic ChatComplete", c.model, len(messages))
	defer span.End()
	llmclient.LogRedactedPrompt(ctx, messages)

	start := time.Now()
	text, promptTokens, completionTokens, err := c.call(ctx, messages)
	llmclient.LogCallTiming(ctx, "anthropic_chat_complete", c.model, time.Since(start), err)
	if err != nil {
		return "", err
	}
	llmclient.RecordTokenUsage(ctx, span, c.model, promptTokens, completionTokens)
	llmclient.LogRedactedResponse(ctx, text)
	return text, nil
}

func (c *Client) ChatCompleteJSON(ctx context.Context, messages []llmclient.Message, opts llmclient.CallOptions) (llmclient.JSONResult, error) {
	jsonMessages := append(append([]llmclient.Message{}, messages...), llmclient.Message{
		Role:    "system",
		Content: "Respond with a single JSON object and nothing else.",
	})

	ctx, span := llmclient.StartRequestSpan(ctx, "Anthropic ChatCompleteJSON", c.model, len(jsonMessages))
	defer span.End()
	llmclient.LogRedactedPrompt(ctx, jsonMessages)

	start := time.Now()
	text, promptTokens, completionTokens, err := c.call(ctx, jsonMessages)
	llmclient.LogCallTiming(ctx, "anthropic_chat_complete_json", c.model, time.Since(start), err)
	if err != nil {
		return llmclient.JSONResult{}, err
	}
	llmclient.RecordTokenUsage(ctx, span, c.model, promptTokens, completionTokens)
	llmclient.LogRedactedResponse(ctx, text)

	parsed, err := extractJSON(text)
	if err != nil {
		return llmclient.JSONResult{Raw: text}, err
	}
	return llmclient.JSONResult{Parsed: parsed, Raw: text}, nil
}

// extractJSON tolerates leading/trailing prose around the JSON object,
// parsing the span from the first '{' to the last '}'.
func extractJSON(text string) (any, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end == -1 || end < start {
		return nil, errors.New("anthropic: no JSON object found in response")
	}
	var parsed any
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}
