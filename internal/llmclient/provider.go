// Package llmclient defines the LLM client contract the generation engine
// consumes, plus telemetry and retry wrapping shared by every concrete
// provider. The engine stays provider-agnostic: provider quirks (JSON mode
// flags, system-prompt splitting, headers) live inside the subpackages.
package llmclient

import "context"

// Message is one chat turn in the contract the engine drives.
type Message struct {
	Role    string
	Content string
}

// CallOptions carries per-call tagging and retry notification.
type CallOptions struct {
	RequestTag string
	OnRetry    func(attempt int, err error, delay float64)
}

// JSONResult is chatCompleteJson's return shape: the parsed payload plus
// the raw response text.
type JSONResult struct {
	Parsed any
	Raw    string
}

// Provider is the engine-facing LLM client contract.
type Provider interface {
	ChatComplete(ctx context.Context, messages []Message, opts CallOptions) (string, error)
	ChatCompleteJSON(ctx context.Context, messages []Message, opts CallOptions) (JSONResult, error)
}
