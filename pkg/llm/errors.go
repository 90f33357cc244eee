package llm

import "fmt"

// GatewayError wraps a failure reported by an LLM provider. Callers
// surface the provider's message verbatim and never retry on it.
type GatewayError struct {
	Provider string
	Message  string
	Err      error
}

func (e *GatewayError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
	return e.Provider + ": gateway error"
}

func (e *GatewayError) Unwrap() error { return e.Err }

// NewGatewayError builds a GatewayError around an underlying failure.
func NewGatewayError(provider string, err error) *GatewayError {
	return &GatewayError{Provider: provider, Err: err}
}
