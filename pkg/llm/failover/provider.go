package failover

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"podscript/pkg/llm"
)

const (
	lastRetries    = 3
	lastRetryDelay = 1 * time.Second
)

// Provider chains several LLM backends behind the llm.Provider interface.
// A fatal error (bad credentials) takes a backend out of rotation for the
// rest of the session; a retryable one makes the chain skip it for as many
// requests as it has failed in a row on that profile.
type Provider struct {
	providers []llm.Provider
	names     []string
	disabled  map[int]bool
	backoffs  map[string]*backoffState // providerName:profile
	mu        sync.RWMutex
}

type backoffState struct {
	subsequentFailures int
	skippedRequests    int
}

// inBackoff reports whether the provider should still be skipped and
// advances the skip counter if so. Caller holds the write lock.
func (bs *backoffState) inBackoff() bool {
	if bs.skippedRequests >= bs.subsequentFailures {
		return false
	}
	bs.skippedRequests++
	return true
}

// New builds a failover chain. names label the providers in log output and
// backoff keys, so both slices must line up.
func New(providers []llm.Provider, names []string) (*Provider, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider required for failover")
	}
	if len(providers) != len(names) {
		return nil, fmt.Errorf("provider count (%d) does not match name count (%d)", len(providers), len(names))
	}

	return &Provider{
		providers: providers,
		names:     names,
		disabled:  make(map[int]bool),
		backoffs:  make(map[string]*backoffState),
	}, nil
}

// HasProfile implements llm.Provider.
func (f *Provider) HasProfile(profile string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, p := range f.providers {
		if p.HasProfile(profile) {
			return true
		}
	}
	return false
}

// HealthCheck passes as soon as one non-disabled provider responds.
func (f *Provider) HealthCheck(ctx context.Context) error {
	var failures []string
	for _, c := range f.eligible("") {
		if err := c.p.HealthCheck(ctx); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", c.name, err))
			continue
		}
		return nil
	}

	if len(failures) == 0 {
		return fmt.Errorf("no providers available in failover chain")
	}
	return fmt.Errorf("all LLM providers failed health check: %s", strings.Join(failures, "; "))
}

type candidate struct {
	index int
	p     llm.Provider
	name  string
}

// eligible returns the providers still in rotation that carry the profile.
// An empty profile matches everything.
func (f *Provider) eligible(profile string) []candidate {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []candidate
	for i, p := range f.providers {
		if f.disabled[i] {
			continue
		}
		if profile != "" && !p.HasProfile(profile) {
			continue
		}
		out = append(out, candidate{i, p, f.names[i]})
	}
	return out
}

// Generate walks the chain until a provider answers.
func (f *Provider) Generate(ctx context.Context, profile, prompt string, opts llm.Options) (*llm.Result, error) {
	chain := f.eligible(profile)
	if len(chain) == 0 {
		return nil, fmt.Errorf("no active provider supports profile %q", profile)
	}

	for idx, c := range chain {
		key := c.name + ":" + profile
		if f.skipForBackoff(key, c.name, profile) {
			continue
		}

		res, err := c.p.Generate(ctx, profile, prompt, opts)
		if err == nil {
			f.clearBackoff(key)
			return res, nil
		}

		last := idx == len(chain)-1

		if isUnrecoverable(err) {
			if last {
				return nil, err
			}
			slog.Warn("LLM Provider fatal error, disabling for the session", "provider", c.name, "error", err)
			f.mu.Lock()
			f.disabled[c.index] = true
			f.mu.Unlock()
			continue
		}

		failures := f.recordFailure(key)
		if !last {
			slog.Info("LLM Provider failed (retryable), falling back", "provider", c.name, "next", chain[idx+1].name, "error", err, "backoff_failures", failures)
			continue
		}

		res, err = f.retryLast(ctx, c.p, c.name, profile, prompt, opts)
		if err == nil {
			f.clearBackoff(key)
		}
		return res, err
	}

	return nil, fmt.Errorf("all LLM providers exhausted for profile %q", profile)
}

func (f *Provider) skipForBackoff(key, name, profile string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	bs, ok := f.backoffs[key]
	if !ok || !bs.inBackoff() {
		return false
	}
	slog.Debug("LLM Provider in backoff, skipping", "provider", name, "profile", profile, "skipped", bs.skippedRequests, "target", bs.subsequentFailures)
	return true
}

func (f *Provider) recordFailure(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	bs, ok := f.backoffs[key]
	if !ok {
		bs = &backoffState{}
		f.backoffs[key] = bs
	}
	bs.subsequentFailures++
	bs.skippedRequests = 0
	return bs.subsequentFailures
}

func (f *Provider) clearBackoff(key string) {
	f.mu.Lock()
	delete(f.backoffs, key)
	f.mu.Unlock()
}

// retryLast gives the final candidate a few attempts with exponential delay
// before giving up on the whole chain.
func (f *Provider) retryLast(ctx context.Context, p llm.Provider, name, profile, prompt string, opts llm.Options) (*llm.Result, error) {
	var lastErr error
	delay := lastRetryDelay
	for attempt := 1; attempt <= lastRetries; attempt++ {
		res, err := p.Generate(ctx, profile, prompt, opts)
		if err == nil {
			return res, nil
		}

		lastErr = err
		if isUnrecoverable(err) {
			return nil, fmt.Errorf("last provider failed with fatal error: %w", err)
		}

		slog.Warn("Last LLM provider failed, retrying with backoff", "provider", name, "attempt", attempt, "next_delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, fmt.Errorf("last provider exhausted after %d retries: %w", lastRetries, lastErr)
}

// Markers of errors no amount of retrying will fix. 429 and 400 stay
// retryable on purpose.
var fatalMarkers = []string{
	"401", "403",
	"unauthorized", "forbidden", "invalid_api_key",
	"context canceled", "context deadline exceeded",
}

func isUnrecoverable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range fatalMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
