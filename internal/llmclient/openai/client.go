// Package openai adapts an OpenAI-compatible chat-completions endpoint
// (the OpenAI API itself, or a locally-hosted endpoint speaking the same
// wire shape under a different base URL) to the llmclient.Provider
// contract.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"companion-keeper/internal/llmclient"
)

type Client struct {
	sdk   openai.Client
	model string
}

// New builds a client against baseURL (the OpenAI API itself, or a
// locally-hosted/proxy endpoint sharing the same wire shape).
func New(baseURL, apiKey, model string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(baseURL, "/")))
	}
	return &Client{sdk: openai.NewClient(opts...), model: model}
}

func toSDKMessages(messages []llmclient.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func (c *Client) call(ctx context.Context, messages []llmclient.Message, jsonMode bool) (string, int, int, error) {
	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: toSDKMessages(messages),
	}
	if jsonMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", 0, 0, err
	}
	if len(resp.Choices) == 0 {
		return "", 0, 0, errors.New("openai: empty choices")
	}
	return resp.Choices[0].Message.Content, int(resp.Usage.PromptTokens), int(resp.Usage.CompletionTokens), nil
}

func (c *Client) ChatComplete(ctx context.Context, messages []llmclient.Message, opts llmclient.CallOptions) (string, error) {
	ctx, span := llmclient.StartRequestSpan(ctx, "OpenAI ChatComplete", c.model, len(messages))
	defer span.End()
	llmclient.LogRedactedPrompt(ctx, messages)

	start := time.Now()
	text, promptTokens, completionTokens, err := c.call(ctx, messages, false)
	llmclient.LogCallTiming(ctx, "openai_chat_complete", c.model, time.Since(start), err)
	if err != nil {
		return "", err
	}
	llmclient.RecordTokenUsage(ctx, span, c.model, promptTokens, completionTokens)
	llmclient.LogRedactedResponse(ctx, text)
	return text, nil
}

func (c *Client) ChatCompleteJSON(ctx context.Context, messages []llmclient.Message, opts llmclient.CallOptions) (llmclient.JSONResult, error) {
	ctx, span := llmclient.StartRequestSpan(ctx, "OpenAI ChatCompleteJSON", c.model, len(messages))
	defer span.End()
	llmclient.LogRedactedPrompt(ctx, messages)

	start := time.Now()
	text, promptTokens, completionTokens, err := c.call(ctx, messages, true)
	llmclient.LogCallTiming(ctx, "openai_chat_complete_json", c.model, time.Since(start), err)
	if err != nil {
		return llmclient.JSONResult{}, err
	}
	llmclient.RecordTokenUsage(ctx, span, c.model, promptTokens, completionTokens)
	llmclient.LogRedactedResponse(ctx, text)

	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return llmclient.JSONResult{Raw: text}, err
	}
	return llmclient.JSONResult{Parsed: parsed, Raw: text}, nil
}
