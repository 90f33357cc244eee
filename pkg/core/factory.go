package core

import (
	"fmt"

	"podscript/pkg/config"
	"podscript/pkg/llm"
	"podscript/pkg/llm/deepseek"
	"podscript/pkg/llm/failover"
	"podscript/pkg/llm/gemini"
	"podscript/pkg/llm/groq"
	"podscript/pkg/llm/nvidia"
	"podscript/pkg/llm/openai"
	"podscript/pkg/llm/perplexity"
	"podscript/pkg/request"
	"podscript/pkg/tracker"
)

// NewLLMProvider builds the provider chain from configuration. A single
// configured provider is returned directly; multiple providers are
// wrapped in the failover chain, tried in config order.
func NewLLMProvider(cfg config.LLMConfig, hist config.HistorySettings, rc *request.Client, t *tracker.Tracker) (llm.Provider, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no llm providers configured")
	}

	logPath := ""
	if hist.Enabled {
		logPath = hist.Path
	}

	var providers []llm.Provider
	var names []string
	for i, pCfg := range cfg.Providers {
		p, err := newProvider(pCfg, logPath, rc, t)
		if err != nil {
			return nil, fmt.Errorf("provider %d (%s): %w", i, pCfg.Type, err)
		}
		providers = append(providers, p)
		names = append(names, pCfg.Type)
	}

	if len(providers) == 1 || !cfg.Failover {
		return providers[0], nil
	}
	return failover.New(providers, names)
}

// NewResearcher returns the web-grounded search capability when the
// configuration includes a perplexity provider, nil when it does not.
// Research is the one feature tied to a specific provider type; the
// generation chain stays provider-agnostic.
func NewResearcher(cfg config.LLMConfig, rc *request.Client, t *tracker.Tracker) (*perplexity.Client, error) {
	for _, pCfg := range cfg.Providers {
		if pCfg.Type == "perplexity" {
			return perplexity.NewClient(pCfg, rc, t)
		}
	}
	return nil, nil
}

func newProvider(cfg config.ProviderConfig, logPath string, rc *request.Client, t *tracker.Tracker) (llm.Provider, error) {
	switch cfg.Type {
	case "gemini":
		return gemini.NewClient(cfg, logPath, t)
	case "openai":
		return openai.NewClient(cfg, rc, t)
	case "groq":
		return groq.NewClient(cfg, rc, t)
	case "nvidia":
		return nvidia.NewClient(cfg, rc, t)
	case "deepseek":
		return deepseek.NewClient(cfg, rc, t)
	case "perplexity":
		return perplexity.NewClient(cfg, rc, t)
	default:
		return nil, fmt.Errorf("unknown llm provider type: %s", cfg.Type)
	}
}
