package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"companion-keeper/internal/card"
	"companion-keeper/internal/exporter"
	"companion-keeper/internal/llmclient"
	"companion-keeper/internal/lorebook"
	"companion-keeper/internal/prompts"
)

func wireEntriesToLorebook(entries []card.Entry) []lorebook.LorebookEntry {
	out := make([]lorebook.LorebookEntry, len(entries))
	for i, e := range entries {
		out[i] = lorebook.LorebookEntry{
			Name:     e.Name,
			Keys:     e.Keys,
			Content:  e.Content,
			Priority: e.Priority,
		}
	}
	return out
}

// fakeProvider is a deterministic llmclient.Provider test double: it
// inspects the request tag prefix to decide which canned JSON payload to
// return, and counts calls by tag prefix so tests can assert resume and
// skip behavior without a real LLM.
type fakeProvider struct {
	calls           int64
	memoryCandidate bool // whether memory extraction returns any candidates

	// cancelAfter, if set, invokes cancel once the nth call (across both
	// ChatComplete and ChatCompleteJSON) has been observed, simulating a
	// caller-driven cancellation mid-run.
	cancelAfter int64
	cancel      context.CancelFunc
}

func (f *fakeProvider) ChatComplete(ctx context.Context, messages []llmclient.Message, opts llmclient.CallOptions) (string, error) {
	f.maybeCancel()
	return "OK", nil
}

func (f *fakeProvider) maybeCancel() int64 {
	n := atomic.AddInt64(&f.calls, 1)
	if f.cancelAfter > 0 && n == f.cancelAfter && f.cancel != nil {
		f.cancel()
	}
	return n
}

func (f *fakeProvider) ChatCompleteJSON(ctx context.Context, messages []llmclient.Message, opts llmclient.CallOptions) (llmclient.JSONResult, error) {
	f.maybeCancel()

	tag := opts.RequestTag
	switch {
	case tag == "persona-synthesis":
		return llmclient.JSONResult{Parsed: map[string]any{
			"name":        "Ava",
			"description": "A thoughtful companion.",
			"first_mes":   "Hi there.",
			"mes_example": "<START>\n{{user}}: Hi.\n{{char}}: Hi there.",
		}}, nil
	case tag == "memory-synthesis":
		return llmclient.JSONResult{Parsed: map[string]any{
			"entries": []map[string]any{
				{"name": "tea", "keys": []string{"tea"}, "content": "likes tea", "category": "user_context", "priority": 5},
			},
		}}, nil
	case len(tag) >= 7 && tag[:7] == "memory:":
		if !f.memoryCandidate {
			return llmclient.JSONResult{Parsed: map[string]any{"candidates": []any{}}}, nil
		}
		return llmclient.JSONResult{Parsed: map[string]any{
			"candidates": []map[string]any{
				{"name": "tea", "keys": []string{"tea"}, "content": "likes tea", "category": "user_context", "priority": 3},
			},
		}}, nil
	default: // persona:<id>
		return llmclient.JSONResult{Parsed: map[string]any{"trait": "curious"}}, nil
	}
}

func writeFixtureConversation(t *testing.T, dir, name string, turns int) string {
	t.Helper()
	var messages []exporter.CleanedMessage
	for i := 0; i < turns; i++ {
		messages = append(messages,
			exporter.CleanedMessage{Role: exporter.RoleUser, Text: "hello"},
			exporter.CleanedMessage{Role: exporter.RoleAssistant, Text: "hi, how can I help"})
	}
	data, err := exporter.MarshalConversation(name, "test-model", messages, exporter.FormatJSON)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func baseRequest() Request {
	return Request{
		CompanionName:              "Ava",
		Mode:                       ModeFull,
		SamplingPolicy:             "top",
		SampleSize:                 10,
		MaxMessagesPerConversation: 50,
		MaxCharsPerConversation:    5000,
		MaxTotalChars:              50000,
		MaxMemories:                10,
		PrimaryModel:               "test-model",
		ContextWindowTokens:        8192,
		MaxParallelCalls:           2,
		CallTimeoutSeconds:         30,
		Prompts:                    prompts.Default,
		CreatorName:                "companion-keeper",
		CharacterVersion:           "1",
	}
}

func TestRunResumeSkipsCompletedWork(t *testing.T) {
	dir := t.TempDir()
	runDir := filepath.Join(dir, "run")
	f1 := writeFixtureConversation(t, dir, "conv-1.json", 3)
	f2 := writeFixtureConversation(t, dir, "conv-2.json", 3)

	provider := &fakeProvider{memoryCandidate: true}
	req := baseRequest()

	out, err := Run(context.Background(), RunInput{
		ModelDir:       dir,
		AvailableFiles: []string{f1, f2},
		RunDir:         runDir,
		Request:        req,
		Provider:       provider,
	})
	require.NoError(t, err)
	require.Equal(t, "done", out.Status)

	// preflight(1) + 2 persona observations + 2 memory extractions +
	// persona synthesis(1) + memory synthesis(1) = 7
	firstRunCalls := atomic.LoadInt64(&provider.calls)
	require.EqualValues(t, 7, firstRunCalls)
	require.Len(t, out.Lorebook.Data.Entries, 1)

	// A second run over the same RunDir/signature must skip every
	// per-conversation call (checkpointed) but still re-run both synthesis
	// stages, which are never resumed.
	provider2 := &fakeProvider{memoryCandidate: true}
	out2, err := Run(context.Background(), RunInput{
		ModelDir:       dir,
		AvailableFiles: []string{f1, f2},
		RunDir:         runDir,
		Request:        req,
		Provider:       provider2,
	})
	require.NoError(t, err)
	require.Equal(t, "done", out2.Status)

	secondRunCalls := atomic.LoadInt64(&provider2.calls)
	require.EqualValues(t, 3, secondRunCalls) // preflight + persona synthesis + memory synthesis
}

func TestRunSkipsMemorySynthesisWhenNoCandidates(t *testing.T) {
	dir := t.TempDir()
	runDir := filepath.Join(dir, "run")
	f1 := writeFixtureConversation(t, dir, "conv-1.json", 3)

	provider := &fakeProvider{memoryCandidate: false}
	req := baseRequest()

	out, err := Run(context.Background(), RunInput{
		ModelDir:       dir,
		AvailableFiles: []string{f1},
		RunDir:         runDir,
		Request:        req,
		Provider:       provider,
	})
	require.NoError(t, err)
	require.Equal(t, "done", out.Status)
	require.Empty(t, out.Lorebook.Data.Entries)

	// preflight(1) + 1 persona observation + 1 memory extraction (returns
	// zero candidates) + persona synthesis(1); no memory-synthesis call.
	require.EqualValues(t, 4, atomic.LoadInt64(&provider.calls))
}

func TestRunReportsCancelledOnAbort(t *testing.T) {
	dir := t.TempDir()
	runDir := filepath.Join(dir, "run")
	f1 := writeFixtureConversation(t, dir, "conv-1.json", 3)
	f2 := writeFixtureConversation(t, dir, "conv-2.json", 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// cancelAfter=2 lets preflight (call 1) succeed, then cancels the
	// context on the first per-conversation call (call 2): llmclient.Call
	// observes ctx.Err() != nil right after that call returns and converts
	// it (and every subsequent claim) into the abort sentinel.
	provider := &fakeProvider{memoryCandidate: true, cancelAfter: 2, cancel: cancel}
	req := baseRequest()

	out, err := Run(ctx, RunInput{
		ModelDir:       dir,
		AvailableFiles: []string{f1, f2},
		RunDir:         runDir,
		Request:        req,
		Provider:       provider,
	})
	require.NoError(t, err)
	require.Equal(t, "cancelled", out.Status)
}

func TestRunAppendModeSkipsPreviouslyScannedFiles(t *testing.T) {
	dir := t.TempDir()
	runDir := filepath.Join(dir, "run")
	f1 := writeFixtureConversation(t, dir, "conv-1.json", 3)

	provider := &fakeProvider{memoryCandidate: true}
	req := baseRequest()
	req.Mode = ModeAppendMemories

	existingCard := &card.Draft{Name: "Ava", Description: "An established companion.", FirstMes: "Hey, good to see you."}
	out, err := Run(context.Background(), RunInput{
		ModelDir:       dir,
		AvailableFiles: []string{f1},
		RunDir:         runDir,
		Request:        req,
		Provider:       provider,
		ExistingCard:   existingCard,
	})
	require.NoError(t, err)
	require.Equal(t, "done", out.Status)
	require.Equal(t, "Ava", out.Card.Data.Name)

	// Second append run over the same model dir/run dir: conv-1 is already
	// in the scan manifest, so no persona/memory packets survive and the
	// only calls are preflight + memory synthesis (re-run from the carried
	// forward existing memory, which still has candidates).
	provider2 := &fakeProvider{memoryCandidate: true}
	out2, err := Run(context.Background(), RunInput{
		ModelDir:         dir,
		AvailableFiles:   []string{f1},
		RunDir:           runDir,
		Request:          req,
		Provider:         provider2,
		ExistingCard:     existingCard,
		ExistingMemories: wireEntriesToLorebook(out.Lorebook.Data.Entries),
	})
	require.NoError(t, err)
	require.Equal(t, "done", out2.Status)
	require.EqualValues(t, 2, atomic.LoadInt64(&provider2.calls)) // preflight + memory synthesis
}
