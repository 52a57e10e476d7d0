// Package config loads the YAML-based run configuration for the
// companion-keeper pipeline.
package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// ProviderConfig describes one LLM backend. APIKeyEnv names the environment
// variable holding the credential; the key itself is never stored in the
// struct that gets logged or serialized into run manifests.
type ProviderConfig struct {
	BaseURL             string `yaml:"base_url"`
	APIKeyEnv           string `yaml:"api_key_env"`
	Model               string `yaml:"model"`
	ContextWindowTokens int    `yaml:"context_window_tokens"`
}

// CacheConfig configures the extraction cache root.
type CacheConfig struct {
	Root string `yaml:"root"`
}

// GenerationConfig configures the generation engine's run-shaping parameters.
type GenerationConfig struct {
	MaxParallelCalls   int  `yaml:"max_parallel_calls"`
	CallTimeoutSeconds int  `yaml:"call_timeout_seconds"`
	MaxMemories        int  `yaml:"max_memories"`
	ForceRerun         bool `yaml:"force_rerun"`
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogPath string `yaml:"log_path"`
}

// RunConfig is the top-level YAML document.
type RunConfig struct {
	Providers struct {
		OpenAI    ProviderConfig `yaml:"openai"`
		Anthropic ProviderConfig `yaml:"anthropic"`
		Gemini    ProviderConfig `yaml:"gemini"`
	} `yaml:"providers"`
	Cache      CacheConfig      `yaml:"cache"`
	Generation GenerationConfig `yaml:"generation"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// Load reads and parses a RunConfig from filename, applying defaults to
// any unset field and logging each default applied.
func Load(filename string) (*RunConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", filename, err)
	}

	var cfg RunConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", filename, err)
	}

	applyDefaults(&cfg)
	log.Info().Str("config", filename).Msg("configuration loaded")
	return &cfg, nil
}

func applyDefaults(cfg *RunConfig) {
	if cfg.Cache.Root == "" {
		cfg.Cache.Root = "extractionCache"
		log.Info().Str("field", "cache.root").Str("default", cfg.Cache.Root).Msg("using default")
	}
	if cfg.Generation.MaxParallelCalls <= 0 {
		cfg.Generation.MaxParallelCalls = 4
		log.Info().Str("field", "generation.max_parallel_calls").Int("default", cfg.Generation.MaxParallelCalls).Msg("using default")
	}
	if cfg.Generation.MaxParallelCalls > 16 {
		cfg.Generation.MaxParallelCalls = 16
	}
	if cfg.Generation.CallTimeoutSeconds <= 0 {
		cfg.Generation.CallTimeoutSeconds = 180
		log.Info().Str("field", "generation.call_timeout_seconds").Int("default", cfg.Generation.CallTimeoutSeconds).Msg("using default")
	}
	if cfg.Generation.MaxMemories <= 0 {
		cfg.Generation.MaxMemories = 200
		log.Info().Str("field", "generation.max_memories").Int("default", cfg.Generation.MaxMemories).Msg("using default")
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
		log.Info().Str("field", "logging.level").Str("default", cfg.Logging.Level).Msg("using default")
	}
}

// APIKey resolves the credential for a provider from its configured
// environment variable.
func (p ProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}
