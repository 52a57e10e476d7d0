package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"companion-keeper/internal/llmclient"
	"companion-keeper/internal/pipeline"
)

// runPreflight does a single OK-ping call before any real work, fatal on
// failure with no checkpoint written. This avoids wasting retry budget on
// a misconfigured provider/model pair.
func runPreflight(ctx context.Context, provider llmclient.Provider, tracker *progressTracker, timeout time.Duration) error {
	tracker.callStarted(PhasePreflight, "preflight check")

	messages := []llmclient.Message{
		{Role: "user", Content: "Reply with the single word OK."},
	}

	text, err := callText(ctx, provider, tracker, PhasePreflight, "preflight", timeout, messages)
	if err != nil {
		if err == llmclient.ErrAborted {
			tracker.callFailed(PhasePreflight, "preflight cancelled")
			return err
		}
		tracker.callFailed(PhasePreflight, fmt.Sprintf("preflight failed: %v", err))
		return fmt.Errorf("%w: %v", pipeline.ErrProviderPreflightFailed, err)
	}
	if strings.TrimSpace(text) == "" {
		tracker.callFailed(PhasePreflight, "preflight returned empty response")
		return fmt.Errorf("%w: empty response", pipeline.ErrProviderPreflightFailed)
	}

	tracker.callCompleted(PhasePreflight, "preflight ok")
	return nil
}
