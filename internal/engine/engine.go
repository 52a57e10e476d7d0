package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"companion-keeper/internal/card"
	"companion-keeper/internal/checkpoint"
	"companion-keeper/internal/exporter"
	"companion-keeper/internal/llmclient"
	"companion-keeper/internal/sampler"
)

// Run drives the full generation state machine: init -> preflight ->
// (persona_observation || memory_extract)* -> persona_synthesis (skipped in
// append mode) -> memory_synthesis -> manifest -> done.
func Run(ctx context.Context, in RunInput) (*Output, error) {
	tracker := newProgressTracker(1, in.OnProgress)
	tracker.emit(PhaseInit, "loading conversation scores")

	scores, messagesByPath, conversationIDByPath, err := loadScores(in.AvailableFiles)
	if err != nil {
		return nil, err
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("no candidate conversation files available")
	}

	seedParams := sampler.SeedParams{
		ModelDir:                in.ModelDir,
		PrimaryModel:            in.Request.PrimaryModel,
		CompanionName:           in.Request.CompanionName,
		SampleSize:              in.Request.SampleSize,
		SamplingMode:            string(in.Request.SamplingPolicy),
		MessagesPerConversation: in.Request.MaxMessagesPerConversation,
		CharsPerConversation:    in.Request.MaxCharsPerConversation,
		TotalCharsBudget:        in.Request.MaxTotalChars,
		PromptOverrideDigest:    in.Request.PromptOverrideDigest,
	}
	seed := sampler.ResolveSeed(in.Request.Seed, seedParams)

	selected := sampler.Select(scores, in.Request.SamplingPolicy, in.Request.SampleSize, seed)
	if len(selected) == 0 {
		return nil, fmt.Errorf("sampling selected zero conversations")
	}

	budgets := ComputeBudgets(in.Request.ContextWindowTokens)

	maxTotalChars := in.Request.MaxTotalChars
	clampedCeiling := budgets.UsableContextTokens * 4 * len(selected)
	if maxTotalChars > clampedCeiling {
		maxTotalChars = clampedCeiling
		tracker.emit(PhaseInit, fmt.Sprintf("maxTotalChars clamped to %d to fit the model's context window", maxTotalChars))
	}

	charBudget := sampler.EffectivePerConversationCharBudget(in.Request.MaxCharsPerConversation, maxTotalChars, len(selected))

	var packets []sampler.ConversationPacket
	for _, s := range selected {
		msgs := messagesByPath[s.FilePath]
		conversationID := conversationIDByPath[s.FilePath]
		packet, ok := sampler.BuildPacket(conversationID, s.FilePath, msgs, in.Request.MaxMessagesPerConversation, charBudget)
		if ok {
			packets = append(packets, packet)
		}
	}
	if len(packets) == 0 {
		return nil, fmt.Errorf("no conversation packets survived budget building")
	}

	sigParams := signatureParams(in.ModelDir, in.Request, seed, budgets.PerChatTokens, budgets.SynthesisTokens)
	signature := checkpoint.Signature(sigParams)

	checkpointPath := filepath.Join(in.RunDir, "generation_resume.json")
	store, err := checkpoint.Load(checkpointPath, signature, in.Request.ForceRerun)
	if err != nil {
		return nil, err
	}

	scanManifestPath := filepath.Join(in.RunDir, "scan_manifest.json")
	scanManifest, err := checkpoint.LoadScanManifest(scanManifestPath, in.ModelDir)
	if err != nil {
		return nil, err
	}
	if in.Request.ForceRerun {
		if err := scanManifest.Clear(); err != nil {
			return nil, err
		}
	}

	personaPackets := packets
	memoryPackets := packets
	if in.Request.Mode == ModeAppendMemories {
		personaPackets = nil
		memoryPackets = filterUnscanned(packets, scanManifest)
	}

	total := estimateTotalCalls(in, store, personaPackets, memoryPackets)
	tracker = newProgressTracker(total, in.OnProgress)

	if err := runPreflight(ctx, in.Provider, tracker, callTimeout(in.Request)); err != nil {
		return nil, err
	}

	var personaErrs, memoryErrs []error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		personaErrs = runPersonaObservations(ctx, in, store, budgets, tracker, personaPackets)
	}()
	go func() {
		defer wg.Done()
		memoryErrs = runMemoryExtraction(ctx, in, store, scanManifest, budgets, tracker, memoryPackets)
	}()
	wg.Wait()

	allErrs := append(append([]error{}, personaErrs...), memoryErrs...)
	errorMessages := collectErrorMessages(allErrs)

	if ctx.Err() != nil {
		return cancelledOutput(in, store, scanManifest, personaPackets, memoryPackets, errorMessages), nil
	}

	var draft card.Draft
	var personaPayload any
	if in.Request.Mode == ModeFull {
		draft, err = runPersonaSynthesis(ctx, in, store, budgets, tracker, personaPackets, personaErrs)
		if err != nil {
			if err == llmclient.ErrAborted {
				return cancelledOutput(in, store, scanManifest, personaPackets, memoryPackets, errorMessages), nil
			}
			return nil, err
		}
		personaPayload = draft
	} else if in.ExistingCard != nil {
		draft = *in.ExistingCard
	}

	// Synthesis gathers candidates over every selected file plus anything
	// the checkpoint already processed — not just the post-filter subset.
	// In append mode a crash-resumed run skips files recorded in the scan
	// manifest, but their checkpointed candidates must still reach
	// synthesis.
	memoryFileOrder := memorySynthesisOrder(packets, store)
	entries, err := runMemorySynthesis(ctx, in, store, budgets, tracker, memoryFileOrder, memoryErrs)
	if err != nil {
		if err == llmclient.ErrAborted {
			return cancelledOutput(in, store, scanManifest, personaPackets, memoryPackets, errorMessages), nil
		}
		return nil, err
	}

	tracker.emit(PhaseManifest, "writing run artifacts")

	now := time.Now().UTC().Unix()

	cardV3 := card.BuildCard(draft, in.Request.CreatorName, in.Request.CharacterVersion, now, now, entries)
	lorebookV3 := card.BuildLorebook(draft.Name+"'s Lorebook", "Memories extracted from chat history.", entries)

	manifest := ProcessingManifest{
		Mode:                  string(in.Request.Mode),
		SamplingPolicy:        string(in.Request.SamplingPolicy),
		Seed:                  seed,
		PersonaFiles:          sourceFiles(personaPackets),
		MemoryFiles:           sourceFiles(memoryPackets),
		ProcessedPersonaCount: store.ObservationCount(),
		ProcessedMemoryCount:  store.MemoryFileCount(),
		Artifacts: map[string]string{
			"checkpoint":   store.Path(),
			"scanManifest": scanManifest.Path(),
		},
	}
	report := GenerationReport{
		Status:               "done",
		Errors:               errorMessages,
		PersonaObservations:  store.ObservationCount(),
		MemoryFilesProcessed: store.MemoryFileCount(),
		LorebookEntries:      len(entries),
		TotalCalls:           total,
	}

	if err := writeArtifacts(in.RunDir, cardV3, lorebookV3, personaPackets, memoryPackets, personaPayload, map[string]any{"entries": entries}, manifest, report); err != nil {
		return nil, err
	}
	if in.Request.Mode == ModeAppendMemories {
		added := len(entries) - len(in.ExistingMemories)
		if added < 0 {
			added = 0
		}
		if err := appendMemoryHistory(in.RunDir, added, len(entries)); err != nil {
			return nil, err
		}
	}

	tracker.emit(PhaseDone, "generation complete")

	return &Output{
		Status:           "done",
		Card:             cardV3,
		Lorebook:         lorebookV3,
		ProcessedFiles:   in.AvailableFiles,
		PersonaFiles:     sourceFiles(personaPackets),
		MemoryFiles:      sourceFiles(memoryPackets),
		CheckpointPath:   store.Path(),
		ScanManifestPath: scanManifest.Path(),
		Errors:           errorMessages,
	}, nil
}

func loadScores(files []string) ([]sampler.ConversationScore, map[string][]exporter.CleanedMessage, map[string]string, error) {
	// Canonical filename order: the seeded selection policies consume scores
	// in incoming order, so the candidate ordering must not depend on how
	// the caller produced the file list.
	sorted := append([]string(nil), files...)
	sort.Slice(sorted, func(i, j int) bool {
		return filepath.Base(sorted[i]) < filepath.Base(sorted[j])
	})

	scores := make([]sampler.ConversationScore, 0, len(sorted))
	messagesByPath := make(map[string][]exporter.CleanedMessage, len(sorted))
	conversationIDByPath := make(map[string]string, len(sorted))
	for _, path := range sorted {
		conversationID, _, messages, err := exporter.ReadConversationFile(path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if conversationID == "" {
			conversationID = path
		}
		messagesByPath[path] = messages
		conversationIDByPath[path] = conversationID
		scores = append(scores, sampler.Score(filepath.Base(path), path, messages))
	}
	return scores, messagesByPath, conversationIDByPath, nil
}

// memorySynthesisOrder lists the selected memory source files in packet
// order, followed by any checkpoint-processed files outside the selection
// in their recorded order.
func memorySynthesisOrder(packets []sampler.ConversationPacket, store *checkpoint.Store) []string {
	order := sourceFiles(packets)
	seen := make(map[string]bool, len(order))
	for _, f := range order {
		seen[f] = true
	}
	for _, f := range store.ProcessedFiles() {
		if !seen[f] {
			seen[f] = true
			order = append(order, f)
		}
	}
	return order
}

func filterUnscanned(packets []sampler.ConversationPacket, scanManifest *checkpoint.ScanManifestStore) []sampler.ConversationPacket {
	out := make([]sampler.ConversationPacket, 0, len(packets))
	for _, p := range packets {
		if !scanManifest.IsScanned(p.SourceFile) {
			out = append(out, p)
		}
	}
	return out
}

// estimateTotalCalls fixes the progress denominator at run start:
// 1 preflight + one observation per persona packet + persona synthesis
// (full mode) + one extraction per memory packet + memory synthesis when
// any candidates can exist. Calls skipped on resume still count toward the
// denominator; they complete instantly.
func estimateTotalCalls(in RunInput, store *checkpoint.Store, personaPackets, memoryPackets []sampler.ConversationPacket) int {
	total := 1 + len(personaPackets) + len(memoryPackets)
	if in.Request.Mode == ModeFull {
		total++
	}
	haveCandidates := len(memoryPackets) > 0 || len(in.ExistingMemories) > 0 || store.MemoryFileCount() > 0
	if haveCandidates {
		total++
	}
	return total
}

func cancelledOutput(in RunInput, store *checkpoint.Store, scanManifest *checkpoint.ScanManifestStore, personaPackets, memoryPackets []sampler.ConversationPacket, errorMessages []string) *Output {
	return &Output{
		Status:           "cancelled",
		ProcessedFiles:   in.AvailableFiles,
		PersonaFiles:     sourceFiles(personaPackets),
		MemoryFiles:      sourceFiles(memoryPackets),
		CheckpointPath:   store.Path(),
		ScanManifestPath: scanManifest.Path(),
		Errors:           errorMessages,
	}
}

// collectErrorMessages drops nils and the cancellation sentinel, which is
// never reported as a failure.
func collectErrorMessages(errs []error) []string {
	var out []string
	for _, e := range errs {
		if e != nil && e != llmclient.ErrAborted {
			out = append(out, e.Error())
		}
	}
	return out
}
