package deepseek

import (
	"podscript/pkg/config"
	"podscript/pkg/llm/openai"
	"podscript/pkg/request"
	"podscript/pkg/tracker"
)

const defaultBaseURL = "https://api.deepseek.com/v1"

// NewClient creates a DeepSeek client using the generic OpenAI provider.
func NewClient(cfg config.ProviderConfig, rc *request.Client, t *tracker.Tracker) (*openai.Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return openai.NewClient(cfg, rc, t)
}
