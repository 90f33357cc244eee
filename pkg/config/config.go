package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Request   RequestConfig   `yaml:"request"`
	Log       LogConfig       `yaml:"log"`
	History   HistoryConfig   `yaml:"history"`
	DB        DBConfig        `yaml:"db"`
	LLM       LLMConfig       `yaml:"llm"`
	Generator GeneratorConfig `yaml:"generator"`
	Quality   QualityConfig   `yaml:"quality"`
	Summary   SummaryConfig   `yaml:"summary"`
}

// RequestConfig holds HTTP request settings.
type RequestConfig struct {
	Retries int           `yaml:"retries"`
	Timeout Duration      `yaml:"timeout"`
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// ProviderConfig holds settings for one LLM provider in the chain.
type ProviderConfig struct {
	Type     string            `yaml:"type"`     // "gemini", "openai"
	Key      string            `yaml:"key"`      // API key
	BaseURL  string            `yaml:"base_url"` // OpenAI-compatible root URL
	Profiles map[string]string `yaml:"profiles"` // intent -> model
}

// LLMConfig holds settings for the LLM provider chain. Providers are
// tried in order; the first provider that supports the requested profile
// and is not circuit-broken handles the call.
type LLMConfig struct {
	Providers []ProviderConfig `yaml:"providers"`
	Failover  bool             `yaml:"failover"`
}

// GeneratorConfig holds settings for the script generator.
type GeneratorConfig struct {
	DefaultTemplate   string   `yaml:"default_template"`
	MaxOutputTokens   int32    `yaml:"max_output_tokens"`
	MaxInputChars     int      `yaml:"max_input_chars"`
	BatchSegments     int      `yaml:"batch_segments"` // 0 = derive from document size
	Temperature       float32  `yaml:"temperature"`
	MinDocumentChars  int      `yaml:"min_document_chars"`
	ContextTailLines  int      `yaml:"context_tail_lines"` // rolling context carried between batches
	GenerationTimeout Duration `yaml:"generation_timeout"` // per gateway call
}

// QualityConfig holds the tunable scoring constants. Penalty magnitudes
// and the pass threshold are policy, not contract.
type QualityConfig struct {
	PassThreshold          int `yaml:"pass_threshold"`
	PenaltyTruncation      int `yaml:"penalty_truncation"`
	PenaltyMalformedFormat int `yaml:"penalty_malformed_format"`
	PenaltyOffTemplateTag  int `yaml:"penalty_off_template_tag"`
	PenaltyCoherenceBreak  int `yaml:"penalty_coherence_break"`
	PenaltyShortContent    int `yaml:"penalty_short_content"`
	MinLines               int `yaml:"min_lines"`
	SeamOverlapThreshold   int `yaml:"seam_overlap_threshold"` // shared words required across a seam
}

// SummaryConfig holds settings for the summary generator.
type SummaryConfig struct {
	MinimalWordCap  int   `yaml:"minimal_word_cap"`
	MaxOutputTokens int32 `yaml:"max_output_tokens"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server LogSettings `yaml:"server"`
}

// HistoryConfig controls prompt/response history files.
type HistoryConfig struct {
	LLM HistorySettings `yaml:"llm"`
}

// HistorySettings holds settings for one history log.
type HistorySettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DBConfig holds database settings for the script archive.
type DBConfig struct {
	Path string `yaml:"path"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Request: RequestConfig{
			Retries: 3,
			Timeout: Duration(300 * time.Second),
			Backoff: BackoffConfig{
				BaseDelay: Duration(1 * time.Second),
				MaxDelay:  Duration(60 * time.Second),
			},
		},
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/podscript.log",
				Level: "INFO",
			},
		},
		History: HistoryConfig{
			LLM: HistorySettings{
				Enabled: true,
				Path:    "./logs/llm.log",
			},
		},
		DB: DBConfig{
			Path: "./data/podscript.db",
		},
		LLM: LLMConfig{
			Failover: true,
			Providers: []ProviderConfig{
				{
					Type: "gemini",
					Profiles: map[string]string{
						"script":  "gemini-2.5-flash",
						"summary": "gemini-2.5-flash-lite",
					},
				},
			},
		},
		Generator: GeneratorConfig{
			DefaultTemplate:   "podcast",
			MaxOutputTokens:   8192,
			MaxInputChars:     400000,
			BatchSegments:     0,
			Temperature:       0.7,
			MinDocumentChars:  40,
			ContextTailLines:  2,
			GenerationTimeout: Duration(300 * time.Second),
		},
		Quality: QualityConfig{
			PassThreshold:          60,
			PenaltyTruncation:      35,
			PenaltyMalformedFormat: 25,
			PenaltyOffTemplateTag:  15,
			PenaltyCoherenceBreak:  10,
			PenaltyShortContent:    10,
			MinLines:               5,
			SeamOverlapThreshold:   2,
		},
		Summary: SummaryConfig{
			MinimalWordCap:  200,
			MaxOutputTokens: 2048,
		},
	}
}

// Load loads the configuration from the given path. If the file does not
// exist, it is created with default values. If it exists, defaults are
// merged with the stored values but the file is NOT rewritten (to
// preserve user formatting and comments).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	defer cfg.applyEnvFallbacks()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := Save(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to save config file: %w", err)
		}
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

var envKeys = map[string]string{
	"gemini":     "GEMINI_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"groq":       "GROQ_API_KEY",
	"nvidia":     "NVIDIA_API_KEY",
	"deepseek":   "DEEPSEEK_API_KEY",
	"perplexity": "PERPLEXITY_API_KEY",
}

// applyEnvFallbacks fills missing provider keys from the environment so
// keys never have to live in the config file.
func (c *Config) applyEnvFallbacks() {
	for i := range c.LLM.Providers {
		p := &c.LLM.Providers[i]
		if p.Key == "" {
			p.Key = os.Getenv(envKeys[p.Type])
		}
	}
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# podscript configuration
# ----------------------
# Duration units: ns, us (or µs), ms, s, m, h, d (day), w (week)
# Provider API keys may be left empty and supplied via the environment
# instead (GEMINI_API_KEY, OPENAI_API_KEY, GROQ_API_KEY, NVIDIA_API_KEY,
# DEEPSEEK_API_KEY, PERPLEXITY_API_KEY).

`)
	data = append(header, data...)

	// Inject a comment for the provider type enum.
	reType := regexp.MustCompile(`(?m)^(\s+)- type:`)
	data = reType.ReplaceAll(data, []byte("${1}# Options: gemini, openai, groq, nvidia, deepseek, perplexity\n${1}- type:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// An existing file is left alone.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return Save(path, DefaultConfig())
}
