package engine

import (
	"context"
	"fmt"
	"time"

	"companion-keeper/internal/llmclient"
	"companion-keeper/internal/pipeline"
)

// callJSON wraps a provider.ChatCompleteJSON call with a per-call timeout,
// retry/backoff, and progress reporting. statusOf is intentionally nil:
// the llmclient.Provider contract does not expose HTTP status codes, so
// Classify falls back to marker-matching the error text alone.
func callJSON(ctx context.Context, provider llmclient.Provider, tracker *progressTracker, phase Phase, tag string, timeout time.Duration, messages []llmclient.Message) (llmclient.JSONResult, error) {
	onRetry := func(attempt int, err error, delay float64) {
		tracker.callRetrying(phase, fmt.Sprintf("retry %d for %s: %v (waiting %.1fs)", attempt, tag, err, delay))
	}

	return llmclient.Call(ctx, onRetry, nil, func(ctx context.Context) (llmclient.JSONResult, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return provider.ChatCompleteJSON(ctx, messages, llmclient.CallOptions{RequestTag: tag, OnRetry: onRetry})
	})
}

// callText wraps a provider.ChatComplete call the same way, used by
// preflight.
func callText(ctx context.Context, provider llmclient.Provider, tracker *progressTracker, phase Phase, tag string, timeout time.Duration, messages []llmclient.Message) (string, error) {
	onRetry := func(attempt int, err error, delay float64) {
		tracker.callRetrying(phase, fmt.Sprintf("retry %d for %s: %v (waiting %.1fs)", attempt, tag, err, delay))
	}

	return llmclient.Call(ctx, onRetry, nil, func(ctx context.Context) (string, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return provider.ChatComplete(ctx, messages, llmclient.CallOptions{RequestTag: tag, OnRetry: onRetry})
	})
}

// callTimeout converts the configured per-call timeout into a Duration.
func callTimeout(req Request) time.Duration {
	if req.CallTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(req.CallTimeoutSeconds) * time.Second
}

// realErrors filters nils and the cancellation sentinel out of a stage's
// collected per-conversation errors.
func realErrors(errs []error) []error {
	var out []error
	for _, e := range errs {
		if e != nil && e != llmclient.ErrAborted {
			out = append(out, e)
		}
	}
	return out
}

// wrapLlmCallFailed wraps a terminal per-call error into LlmCallFailedError
// unless it is the cancellation sentinel, which must pass through
// unwrapped.
func wrapLlmCallFailed(tag string, err error) error {
	if err == nil {
		return nil
	}
	if err == llmclient.ErrAborted {
		return err
	}
	return &pipeline.LlmCallFailedError{RequestTag: tag, Attempts: 6, Last: err}
}
