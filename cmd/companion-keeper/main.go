// Command companion-keeper runs the personality-preservation pipeline over
// a chat export. Three subcommands cover the pipeline's stages:
//
//	extract   stream an export into the per-model conversation cache
//	sample    score cached conversations and print the selected subset
//	generate  drive the LLM engine to produce a Character Card V3 + lorebook
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"companion-keeper/internal/cache"
	"companion-keeper/internal/card"
	"companion-keeper/internal/config"
	"companion-keeper/internal/engine"
	"companion-keeper/internal/exporter"
	"companion-keeper/internal/llmclient"
	"companion-keeper/internal/llmclient/anthropic"
	"companion-keeper/internal/llmclient/gemini"
	"companion-keeper/internal/llmclient/openai"
	"companion-keeper/internal/lorebook"
	"companion-keeper/internal/observability"
	"companion-keeper/internal/prompts"
	"companion-keeper/internal/sampler"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "extract":
		err = runExtract(os.Args[2:])
	case "sample":
		err = runSample(os.Args[2:])
	case "generate":
		err = runGenerate(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Error().Err(err).Str("command", os.Args[1]).Msg("companion-keeper failed")
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: companion-keeper <extract|sample|generate> [flags]")
}

// bootstrap loads .env, the RunConfig, and initializes logging, shared by
// every subcommand.
func bootstrap(configPath string) (*config.RunConfig, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if _, err := observability.InitLogger(cfg.Logging.LogPath, cfg.Logging.Level); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

func runExtract(args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to RunConfig yaml")
	inputPath := fs.String("input", "", "path to a conversations.json or export .zip")
	models := fs.String("models", "", "comma-separated model tags to extract")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *inputPath == "" {
		return fmt.Errorf("-input is required")
	}
	if *models == "" {
		return fmt.Errorf("-models is required")
	}

	cfg, err := bootstrap(*configPath)
	if err != nil {
		return err
	}

	for _, model := range strings.Split(*models, ",") {
		model = strings.TrimSpace(model)
		if model == "" {
			continue
		}
		result, err := cache.Ensure(cfg.Cache.Root, *inputPath, model, exporter.FormatJSONL, exporter.OrderCurrentPath)
		if err != nil {
			return fmt.Errorf("extract %q: %w", model, err)
		}
		log.Info().
			Str("model", model).
			Int("files", len(result.Files)).
			Bool("reused", result.ReusedExtraction).
			Str("dir", result.ModelExportsDir).
			Msg("extraction ready")
	}
	return nil
}

func runSample(args []string) error {
	fs := flag.NewFlagSet("sample", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to RunConfig yaml")
	inputPath := fs.String("input", "", "path to a conversations.json or export .zip")
	model := fs.String("model", "", "model tag to sample from")
	n := fs.Int("n", 40, "number of conversations to select")
	policy := fs.String("policy", "weighted-random", "top | random-uniform | weighted-random")
	seed := fs.Int64("seed", 0, "sampling seed; 0 derives one from the inputs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *inputPath == "" {
		return fmt.Errorf("-input is required")
	}
	if *model == "" {
		return fmt.Errorf("-model is required")
	}

	cfg, err := bootstrap(*configPath)
	if err != nil {
		return err
	}

	result, err := cache.Ensure(cfg.Cache.Root, *inputPath, *model, exporter.FormatJSONL, exporter.OrderCurrentPath)
	if err != nil {
		return fmt.Errorf("extract conversations: %w", err)
	}

	scores := make([]sampler.ConversationScore, 0, len(result.Files))
	for _, path := range result.Files {
		_, _, messages, err := exporter.ReadConversationFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		scores = append(scores, sampler.Score(filepath.Base(path), path, messages))
	}

	effectiveSeed := sampler.ResolveSeed(seedIfSet(*seed), sampler.SeedParams{
		ModelDir:     result.ModelExportsDir,
		PrimaryModel: *model,
		SampleSize:   *n,
		SamplingMode: *policy,
	})
	selected := sampler.Select(scores, sampler.Policy(*policy), *n, effectiveSeed)

	// One JSON line per selection on stdout so the output pipes cleanly.
	enc := json.NewEncoder(os.Stdout)
	for _, s := range selected {
		if err := enc.Encode(map[string]any{
			"fileName":       s.FileName,
			"filePath":       s.FilePath,
			"assistantChars": s.AssistantChars,
			"assistantTurns": s.AssistantTurns,
			"turns":          s.Turns,
		}); err != nil {
			return err
		}
	}
	log.Info().Int("selected", len(selected)).Int64("seed", effectiveSeed).Str("policy", *policy).Msg("sampling complete")
	return nil
}

func runGenerate(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	var (
		configPath       = fs.String("config", "config.yaml", "path to RunConfig yaml")
		inputPath        = fs.String("input", "", "path to a conversations.json or export .zip")
		outputDir        = fs.String("output", "./runs", "directory under which a run directory is created")
		companionName    = fs.String("companion-name", "", "the companion's display name")
		providerName     = fs.String("provider", "openai", "openai | anthropic | gemini")
		mode             = fs.String("mode", "full", "full | appendMemories")
		samplingPolicy   = fs.String("sampling-policy", "weighted-random", "top | random-uniform | weighted-random")
		sampleSize       = fs.Int("sample-size", 40, "number of conversations to sample")
		seedFlag         = fs.Int64("seed", 0, "explicit seed; 0 derives one from run-shaping params")
		maxMessages      = fs.Int("max-messages-per-conversation", 200, "message cap per sampled conversation")
		maxCharsPerConv  = fs.Int("max-chars-per-conversation", 12000, "character cap per sampled conversation")
		maxTotalChars    = fs.Int("max-total-chars", 400000, "character cap across all sampled conversations")
		maxMemoriesFlag  = fs.Int("max-memories", 0, "overrides generation.max_memories from config when > 0")
		forceRerun       = fs.Bool("force-rerun", false, "ignore any existing checkpoint/scan manifest")
		creatorName      = fs.String("creator", "companion-keeper", "creator field stamped into the card")
		characterVersion = fs.String("character-version", "1", "character_version field stamped into the card")
		existingCardPath = fs.String("existing-card", "", "path to a prior character_card_v3.json (required for appendMemories mode)")
		existingLorePath = fs.String("existing-lorebook", "", "path to a prior lorebook_v3.json (appendMemories mode)")
		promptsOverride  = fs.String("prompts", "", "optional JSON file overriding one or more prompt templates")
		runDirFlag       = fs.String("run-dir", "", "reuse an existing run directory (resume); default creates a fresh one")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *inputPath == "" {
		return fmt.Errorf("-input is required")
	}
	if *companionName == "" {
		return fmt.Errorf("-companion-name is required")
	}

	cfg, err := bootstrap(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.InitOTel(ctx, "companion-keeper")
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	runMode := engine.ModeFull
	if *mode == string(engine.ModeAppendMemories) {
		runMode = engine.ModeAppendMemories
	}

	var providerCfg config.ProviderConfig
	var provider llmclient.Provider
	switch *providerName {
	case "anthropic":
		providerCfg = cfg.Providers.Anthropic
		provider = anthropic.New(providerCfg.BaseURL, providerCfg.APIKey(), providerCfg.Model)
	case "gemini":
		providerCfg = cfg.Providers.Gemini
		provider, err = gemini.New(ctx, providerCfg.BaseURL, providerCfg.APIKey(), providerCfg.Model)
		if err != nil {
			return fmt.Errorf("init gemini provider: %w", err)
		}
	default:
		providerCfg = cfg.Providers.OpenAI
		provider = openai.New(providerCfg.BaseURL, providerCfg.APIKey(), providerCfg.Model)
	}
	if providerCfg.Model == "" {
		return fmt.Errorf("provider %q has no model configured", *providerName)
	}

	log.Info().Str("provider", *providerName).Str("model", providerCfg.Model).Msg("extracting conversations")

	ensureResult, err := cache.Ensure(cfg.Cache.Root, *inputPath, providerCfg.Model, exporter.FormatJSONL, exporter.OrderCurrentPath)
	if err != nil {
		return fmt.Errorf("extract conversations: %w", err)
	}
	log.Info().Int("files", len(ensureResult.Files)).Bool("reused", ensureResult.ReusedExtraction).Msg("extraction ready")

	promptSet := prompts.Default
	promptDigest := ""
	if *promptsOverride != "" {
		promptSet, promptDigest, err = loadPromptOverrides(*promptsOverride)
		if err != nil {
			return fmt.Errorf("load prompt overrides: %w", err)
		}
	}

	maxMemories := cfg.Generation.MaxMemories
	if *maxMemoriesFlag > 0 {
		maxMemories = *maxMemoriesFlag
	}

	var existingCard *card.Draft
	var existingMemories []lorebook.LorebookEntry
	if runMode == engine.ModeAppendMemories {
		if *existingCardPath == "" {
			return fmt.Errorf("appendMemories mode requires -existing-card")
		}
		existingCard, err = loadExistingCard(*existingCardPath)
		if err != nil {
			return fmt.Errorf("load existing card: %w", err)
		}
		if *existingLorePath != "" {
			existingMemories, err = loadExistingLorebook(*existingLorePath)
			if err != nil {
				return fmt.Errorf("load existing lorebook: %w", err)
			}
		}
	}

	runDir := *runDirFlag
	if runDir == "" {
		runDir = filepath.Join(*outputDir, uuid.NewString())
	}

	req := engine.Request{
		CompanionName:              *companionName,
		Mode:                       runMode,
		SamplingPolicy:             sampler.Policy(*samplingPolicy),
		SampleSize:                 *sampleSize,
		Seed:                       seedIfSet(*seedFlag),
		MaxMessagesPerConversation: *maxMessages,
		MaxCharsPerConversation:    *maxCharsPerConv,
		MaxTotalChars:              *maxTotalChars,
		MaxMemories:                maxMemories,
		PrimaryModel:               providerCfg.Model,
		ContextWindowTokens:        llmclient.ContextWindowFor(providerCfg.Model, providerCfg.ContextWindowTokens),
		MaxParallelCalls:           cfg.Generation.MaxParallelCalls,
		CallTimeoutSeconds:         cfg.Generation.CallTimeoutSeconds,
		ForceRerun:                 *forceRerun || cfg.Generation.ForceRerun,
		Prompts:                    promptSet,
		PromptOverrideDigest:       promptDigest,
		CreatorName:                *creatorName,
		CharacterVersion:           *characterVersion,
	}

	// Progress goes to stderr as single-line JSON so stdout stays clean for
	// piping the artifact paths.
	progressEnc := json.NewEncoder(os.Stderr)
	output, err := engine.Run(ctx, engine.RunInput{
		ModelDir:         ensureResult.ModelExportsDir,
		AvailableFiles:   ensureResult.Files,
		RunDir:           runDir,
		Request:          req,
		Provider:         provider,
		ExistingCard:     existingCard,
		ExistingMemories: existingMemories,
		OnProgress: func(ev engine.Event) {
			_ = progressEnc.Encode(map[string]any{
				"phase":     string(ev.Phase),
				"message":   ev.Message,
				"started":   ev.StartedCalls,
				"completed": ev.CompletedCalls,
				"failed":    ev.FailedCalls,
				"active":    ev.ActiveCalls,
				"total":     ev.TotalCalls,
			})
		},
	})
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}

	log.Info().Str("status", output.Status).Str("runDir", runDir).Int("lorebookEntries", len(output.Lorebook.Data.Entries)).Msg("run complete")
	fmt.Println(runDir)
	return nil
}

func seedIfSet(seed int64) *int64 {
	if seed == 0 {
		return nil
	}
	return &seed
}

func loadPromptOverrides(path string) (prompts.Set, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return prompts.Set{}, "", err
	}
	var overlay prompts.Set
	if err := json.Unmarshal(data, &overlay); err != nil {
		return prompts.Set{}, "", err
	}

	merged := prompts.Default
	applyNonEmpty(&merged.PersonaObservationSystem, overlay.PersonaObservationSystem)
	applyNonEmpty(&merged.PersonaObservationUser, overlay.PersonaObservationUser)
	applyNonEmpty(&merged.PersonaSynthesisSystem, overlay.PersonaSynthesisSystem)
	applyNonEmpty(&merged.PersonaSynthesisUser, overlay.PersonaSynthesisUser)
	applyNonEmpty(&merged.MemorySystem, overlay.MemorySystem)
	applyNonEmpty(&merged.MemoryUser, overlay.MemoryUser)
	applyNonEmpty(&merged.MemorySynthesisSystem, overlay.MemorySynthesisSystem)
	applyNonEmpty(&merged.MemorySynthesisUser, overlay.MemorySynthesisUser)

	sum := sha256.Sum256(data)
	return merged, hex.EncodeToString(sum[:]), nil
}

func applyNonEmpty(dst *string, override string) {
	if override != "" {
		*dst = override
	}
}

func loadExistingCard(path string) (*card.Draft, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var wire card.V3
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	d := card.Draft{
		Name:                    wire.Data.Name,
		Description:             wire.Data.Description,
		Personality:             wire.Data.Personality,
		Scenario:                wire.Data.Scenario,
		FirstMes:                wire.Data.FirstMes,
		MesExample:              wire.Data.MesExample,
		CreatorNotes:            wire.Data.CreatorNotes,
		Tags:                    wire.Data.Tags,
		SystemPrompt:            wire.Data.SystemPrompt,
		PostHistoryInstructions: wire.Data.PostHistoryInstructions,
		AlternateGreetings:      wire.Data.AlternateGreetings,
	}
	return &d, nil
}

func loadExistingLorebook(path string) ([]lorebook.LorebookEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var wire card.LorebookV3
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	out := make([]lorebook.LorebookEntry, len(wire.Data.Entries))
	for i, e := range wire.Data.Entries {
		out[i] = lorebook.LorebookEntry{
			Name:     e.Name,
			Keys:     e.Keys,
			Content:  e.Content,
			Priority: e.Priority,
		}
	}
	return out, nil
}
