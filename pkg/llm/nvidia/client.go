package nvidia

import (
	"podscript/pkg/config"
	"podscript/pkg/llm/openai"
	"podscript/pkg/request"
	"podscript/pkg/tracker"
)

const defaultBaseURL = "https://integrate.api.nvidia.com/v1"

// NewClient creates an NVIDIA NIM client using the generic OpenAI provider.
func NewClient(cfg config.ProviderConfig, rc *request.Client, t *tracker.Tracker) (*openai.Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return openai.NewClient(cfg, rc, t)
}
