// Package engine implements the generation engine: preflight,
// per-conversation persona observation + memory extraction with bounded
// parallelism, two synthesis passes, checkpointed resume, and the
// deduplicating memory compactor. It owns all LLM effects, concurrency,
// and durable run state.
package engine

import (
	"companion-keeper/internal/card"
	"companion-keeper/internal/checkpoint"
	"companion-keeper/internal/llmclient"
	"companion-keeper/internal/lorebook"
	"companion-keeper/internal/prompts"
	"companion-keeper/internal/sampler"
)

// Mode selects which stages the engine runs.
type Mode string

const (
	ModeFull           Mode = "full"
	ModeAppendMemories Mode = "appendMemories"
)

// Request describes one generation run: sampling, budgets, LLM config,
// prompt overrides, and mode.
type Request struct {
	CompanionName string
	Mode          Mode

	SamplingPolicy sampler.Policy
	SampleSize     int
	Seed           *int64

	MaxMessagesPerConversation int
	MaxCharsPerConversation    int
	MaxTotalChars              int
	MaxMemories                int

	PrimaryModel        string
	ContextWindowTokens int

	MaxParallelCalls   int
	CallTimeoutSeconds int
	ForceRerun         bool

	Prompts              prompts.Set
	PromptOverrideDigest string

	CreatorName      string
	CharacterVersion string
}

// RunInput is Run's full argument set.
type RunInput struct {
	ModelDir       string
	AvailableFiles []string
	RunDir         string
	Request        Request
	Provider       llmclient.Provider

	ExistingCard     *card.Draft
	ExistingMemories []lorebook.LorebookEntry

	OnProgress func(Event)
}

// Output is Run's result.
type Output struct {
	Status string // "done" or "cancelled"

	Card     card.V3
	Lorebook card.LorebookV3

	ProcessedFiles []string
	PersonaFiles   []string
	MemoryFiles    []string

	CheckpointPath   string
	ScanManifestPath string

	Errors []string
}

// signatureParams derives the checkpoint.SignatureParams from a Request
// and the resolved seed.
func signatureParams(modelDir string, req Request, seed int64, perChatBudgetTokens, synthesisBudgetTokens int) checkpoint.SignatureParams {
	return checkpoint.SignatureParams{
		ModelDir:                modelDir,
		PrimaryModel:            req.PrimaryModel,
		CompanionName:           req.CompanionName,
		SamplingMode:            string(req.SamplingPolicy),
		Seed:                    seed,
		MessagesPerConversation: req.MaxMessagesPerConversation,
		CharsPerConversation:    req.MaxCharsPerConversation,
		TotalCharsBudget:        req.MaxTotalChars,
		PerChatBudgetTokens:     perChatBudgetTokens,
		SynthesisBudgetTokens:   synthesisBudgetTokens,
	}
}
