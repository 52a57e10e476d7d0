package llmclient

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"companion-keeper/internal/observability"
)

var (
	promptTokenCounter     otelmetric.Int64Counter
	completionTokenCounter otelmetric.Int64Counter
)

func init() {
	m := otel.Meter("internal/llmclient")
	promptTokenCounter, _ = m.Int64Counter("llm.prompt_tokens", otelmetric.WithDescription("Cumulative prompt tokens by model"))
	completionTokenCounter, _ = m.Int64Counter("llm.completion_tokens", otelmetric.WithDescription("Cumulative completion tokens by model"))
}

// StartRequestSpan starts a tracer span for one provider call.
func StartRequestSpan(ctx context.Context, operation, model string, messages int) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("internal/llmclient").Start(ctx, operation)
	span.SetAttributes(attribute.String("llm.model", model), attribute.Int("llm.messages", messages))
	return ctx, span
}

// LogRedactedPrompt logs a redacted copy of the request messages at debug
// level.
func LogRedactedPrompt(ctx context.Context, messages []Message) {
	log := observability.LoggerWithTrace(ctx)
	b, err := json.Marshal(messages)
	if err != nil {
		return
	}
	red := observability.RedactJSON(b)
	tmp := log.With().RawJSON("prompt", red).Logger()
	tmp.Debug().Msg("llm_request")
}

// LogRedactedResponse logs a redacted copy of the response payload at debug
// level.
func LogRedactedResponse(ctx context.Context, resp any) {
	log := observability.LoggerWithTrace(ctx)
	b, err := json.Marshal(resp)
	if err != nil {
		return
	}
	red := observability.RedactJSON(b)
	tmp := log.With().RawJSON("response", red).Logger()
	tmp.Debug().Msg("llm_response")
}

// RecordTokenUsage sets span attributes and updates OTel counters for one
// call's token usage.
func RecordTokenUsage(ctx context.Context, span trace.Span, model string, promptTokens, completionTokens int) {
	total := promptTokens + completionTokens
	if span != nil {
		span.SetAttributes(
			attribute.Int("llm.prompt_tokens", promptTokens),
			attribute.Int("llm.completion_tokens", completionTokens),
			attribute.Int("llm.total_tokens", total),
		)
	}
	attrs := otelmetric.WithAttributes(attribute.String("llm.model", model))
	if promptTokens > 0 {
		promptTokenCounter.Add(ctx, int64(promptTokens), attrs)
	}
	if completionTokens > 0 {
		completionTokenCounter.Add(ctx, int64(completionTokens), attrs)
	}
}

// LogCallTiming emits a structured timing log for one completed call: at
// debug level on success, at error level when err is non-nil.
func LogCallTiming(ctx context.Context, operation, model string, dur time.Duration, err error) {
	log := observability.LoggerWithTrace(ctx)
	ev := log.Debug()
	if err != nil {
		ev = log.Error().Err(err)
	}
	ev.Str("model", model).Dur("duration", dur).Msg(operation)
}
