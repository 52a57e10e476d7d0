package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"companion-keeper/internal/checkpoint"
	"companion-keeper/internal/llmclient"
	"companion-keeper/internal/lorebook"
	"companion-keeper/internal/pipeline"
	"companion-keeper/internal/prompts"
	"companion-keeper/internal/sampler"
)

// memoryCandidatesResponse is the decoded shape of a memory extraction
// call's JSON output.
type memoryCandidatesResponse struct {
	Candidates []lorebook.MemoryCandidate `json:"candidates"`
}

// runMemoryExtraction drives the per-conversation memory extraction stage:
// each packet's call is skipped iff its source file is already fully
// recorded in the checkpoint. On success it records both the checkpoint
// candidates and the scan manifest entry.
func runMemoryExtraction(ctx context.Context, in RunInput, store *checkpoint.Store, scanManifest *checkpoint.ScanManifestStore, budgets Budgets, tracker *progressTracker, packets []sampler.ConversationPacket) []error {
	companionName := in.Request.CompanionName
	tpl := in.Request.Prompts

	return parallelEach(ctx, packets, in.Request.MaxParallelCalls, func(ctx context.Context, packet sampler.ConversationPacket, _ int) error {
		if store.HasMemoryFile(packet.SourceFile) {
			return nil
		}

		tag := "memory:" + packet.ConversationID
		tracker.callStarted(PhaseMemoryExtract, "extracting memories from "+packet.ConversationID)

		transcript := TruncateToBudget(packet.Transcript, budgets.PerChatTokens)
		sys := prompts.Render(tpl.MemorySystem, prompts.Placeholders{CompanionName: companionName})
		user := prompts.Render(tpl.MemoryUser, prompts.Placeholders{
			CompanionName:  companionName,
			ConversationID: packet.ConversationID,
			Transcript:     transcript,
		})

		result, err := callJSON(ctx, in.Provider, tracker, PhaseMemoryExtract, tag, callTimeout(in.Request), []llmclient.Message{
			{Role: "system", Content: sys},
			{Role: "user", Content: user},
		})
		if err != nil {
			wrapped := wrapLlmCallFailed(tag, err)
			if wrapped == llmclient.ErrAborted {
				tracker.callFailed(PhaseMemoryExtract, "cancelled")
				return wrapped
			}
			tracker.callFailed(PhaseMemoryExtract, fmt.Sprintf("memory extraction failed for %s: %v", packet.ConversationID, err))
			return wrapped
		}

		raw, err := json.Marshal(result.Parsed)
		if err != nil {
			tracker.callFailed(PhaseMemoryExtract, fmt.Sprintf("malformed memory payload for %s: %v", packet.ConversationID, err))
			return err
		}
		var decoded memoryCandidatesResponse
		if err := json.Unmarshal(raw, &decoded); err != nil {
			tracker.callFailed(PhaseMemoryExtract, fmt.Sprintf("malformed memory payload for %s: %v", packet.ConversationID, err))
			return err
		}
		for i := range decoded.Candidates {
			if decoded.Candidates[i].SourceConversation == "" {
				decoded.Candidates[i].SourceConversation = packet.ConversationID
			}
		}

		if err := store.RecordMemoryCandidates(packet.SourceFile, decoded.Candidates); err != nil {
			tracker.callFailed(PhaseMemoryExtract, fmt.Sprintf("checkpoint write failed for %s: %v", packet.ConversationID, err))
			return err
		}
		if stat, statErr := os.Stat(packet.SourceFile); statErr == nil {
			_ = scanManifest.MarkScanned(packet.SourceFile, stat.Size(), stat.ModTime().UnixMilli())
		} else {
			_ = scanManifest.MarkScanned(packet.SourceFile, 0, 0)
		}

		tracker.callCompleted(PhaseMemoryExtract, "extracted memories from "+packet.ConversationID)
		return nil
	})
}

// runMemorySynthesis compacts the merged candidate pool, runs the memory
// synthesis call when any candidates exist, compacts the result again, and
// caps it at maxMemories. When every extraction failed and no candidates
// exist from any source, the stage fails with the error summary.
func runMemorySynthesis(ctx context.Context, in RunInput, store *checkpoint.Store, budgets Budgets, tracker *progressTracker, memoryFileOrder []string, stageErrs []error) ([]lorebook.LorebookEntry, error) {
	var merged []lorebook.MemoryCandidate
	if in.Request.Mode == ModeAppendMemories {
		merged = append(merged, lorebook.ExistingToCandidates(in.ExistingMemories)...)
	}
	merged = append(merged, store.AllCandidates(memoryFileOrder)...)

	compacted := lorebook.Compact(merged)
	if len(compacted) == 0 {
		if errs := realErrors(stageErrs); len(errs) > 0 && store.MemoryFileCount() == 0 {
			return nil, &pipeline.StageFailedError{Stage: "MemoryExtractionFailed", Errors: errs}
		}
		return nil, nil
	}

	payload, err := json.Marshal(compacted)
	if err != nil {
		return nil, err
	}

	tpl := in.Request.Prompts
	maxMemories := in.Request.MaxMemories
	sys := prompts.Render(tpl.MemorySynthesisSystem, prompts.Placeholders{CompanionName: in.Request.CompanionName})
	user := prompts.Render(tpl.MemorySynthesisUser, prompts.Placeholders{
		CompanionName:     in.Request.CompanionName,
		CandidateMemories: TruncateToBudget(string(payload), budgets.SynthesisTokens),
		MaxMemories:       fmt.Sprintf("%d", maxMemories),
	})

	tracker.callStarted(PhaseMemorySynthesis, "synthesizing memories")
	result, err := callJSON(ctx, in.Provider, tracker, PhaseMemorySynthesis, "memory-synthesis", callTimeout(in.Request), []llmclient.Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: user},
	})
	if err != nil {
		if err == llmclient.ErrAborted {
			tracker.callFailed(PhaseMemorySynthesis, "cancelled")
			return nil, err
		}
		tracker.callFailed(PhaseMemorySynthesis, fmt.Sprintf("memory synthesis failed: %v", err))
		return nil, &pipeline.StageFailedError{Stage: "SynthesisFailed", Errors: []error{err}}
	}
	tracker.callCompleted(PhaseMemorySynthesis, "memories synthesized")

	raw, err := json.Marshal(result.Parsed)
	if err != nil {
		return nil, &pipeline.StageFailedError{Stage: "SynthesisFailed", Errors: []error{err}}
	}
	var decoded struct {
		Entries []lorebook.MemoryCandidate `json:"entries"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, &pipeline.StageFailedError{Stage: "SynthesisFailed", Errors: []error{err}}
	}

	final := lorebook.Compact(decoded.Entries)
	entries := lorebook.ToEntries(final)
	return lorebook.CapByPriority(entries, maxMemories), nil
}
