package llm

import (
	"context"
)

// Options controls a single generation call.
type Options struct {
	// MaxOutputTokens caps the response length. Zero means provider default.
	MaxOutputTokens int32

	// Temperature for sampling. Zero means provider default.
	Temperature float32
}

// Result is the outcome of a generation call.
type Result struct {
	// Text is the model output, possibly cut off when Truncated is set.
	Text string

	// Truncated reports that the provider stopped because the output
	// budget ran out, not because the model finished.
	Truncated bool

	// OutputTokens is the provider-reported completion token count,
	// zero when the provider does not report usage.
	OutputTokens int32
}

// Provider defines the interface for interacting with LLM services.
type Provider interface {
	// Generate sends a prompt under the named profile and returns the
	// response. A Result with Truncated set is NOT an error: callers
	// decide whether a cut-off response is usable.
	Generate(ctx context.Context, profile, prompt string, opts Options) (*Result, error)

	// HealthCheck verifies that the provider is configured and reachable.
	HealthCheck(ctx context.Context) error

	// HasProfile checks if the provider has a specific profile configured.
	HasProfile(profile string) bool
}
