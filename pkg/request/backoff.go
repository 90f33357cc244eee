package request

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// ProviderBackoff tracks consecutive failures per LLM provider and
// computes how long the worker has to hold off before the next call.
type ProviderBackoff struct {
	mu        sync.RWMutex
	states    map[string]*backoffState
	baseDelay time.Duration
	maxDelay  time.Duration
}

type backoffState struct {
	failures    int
	nextAllowed time.Time
}

// NewProviderBackoff creates a backoff manager with the given delay bounds.
func NewProviderBackoff(baseDelay, maxDelay time.Duration) *ProviderBackoff {
	return &ProviderBackoff{
		states:    make(map[string]*backoffState),
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
	}
}

// Wait blocks until the provider is allowed to make a request again.
func (b *ProviderBackoff) Wait(provider string) {
	b.mu.RLock()
	state, ok := b.states[provider]
	b.mu.RUnlock()

	if !ok {
		return
	}
	if wait := time.Until(state.nextAllowed); wait > 0 {
		time.Sleep(wait)
	}
}

// RecordFailure bumps the failure count and pushes out the next allowed time.
func (b *ProviderBackoff) RecordFailure(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.states[provider]
	if !ok {
		state = &backoffState{}
		b.states[provider] = state
	}

	state.failures++
	state.nextAllowed = time.Now().Add(b.delayFor(state.failures))
}

// RecordSuccess steps the failure count back down. Recovery is gradual
// so one lucky call after a burst of 429s does not reopen the floodgates.
func (b *ProviderBackoff) RecordSuccess(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.states[provider]
	if !ok {
		return
	}

	if state.failures > 0 {
		state.failures--
	}
	if state.failures == 0 {
		state.nextAllowed = time.Time{}
	}
}

// delayFor returns baseDelay * 2^(failures-1), capped, with 10% jitter.
func (b *ProviderBackoff) delayFor(failures int) time.Duration {
	delay := min(time.Duration(float64(b.baseDelay)*math.Pow(2, float64(failures-1))), b.maxDelay)
	return delay + time.Duration(float64(delay)*0.1*rand.Float64())
}

// State reports the current failure count and hold-off time for a provider.
func (b *ProviderBackoff) State(provider string) (failures int, nextAllowed time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if state, ok := b.states[provider]; ok {
		return state.failures, state.nextAllowed
	}
	return 0, time.Time{}
}
