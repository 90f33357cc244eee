package tracker

import (
	"sync"
	"sync/atomic"
)

// Tracker counts per-provider gateway usage. Counters are purely
// observational; nothing in the pipeline branches on them.
type Tracker struct {
	mu        sync.RWMutex
	providers map[string]*counters
}

type counters struct {
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	apiSuccess  atomic.Int64
	apiFailures atomic.Int64
	truncations atomic.Int64
}

// ProviderStats is a point-in-time copy of one provider's counters.
type ProviderStats struct {
	CacheHits   int64
	CacheMisses int64
	APISuccess  int64
	APIFailures int64
	Truncations int64
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{providers: make(map[string]*counters)}
}

func (t *Tracker) of(provider string) *counters {
	t.mu.RLock()
	c, ok := t.providers[provider]
	t.mu.RUnlock()
	if ok {
		return c
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok = t.providers[provider]; ok {
		return c
	}
	c = &counters{}
	t.providers[provider] = c
	return c
}

func (t *Tracker) TrackCacheHit(provider string)   { t.of(provider).cacheHits.Add(1) }
func (t *Tracker) TrackCacheMiss(provider string)  { t.of(provider).cacheMisses.Add(1) }
func (t *Tracker) TrackAPISuccess(provider string) { t.of(provider).apiSuccess.Add(1) }
func (t *Tracker) TrackAPIFailure(provider string) { t.of(provider).apiFailures.Add(1) }

// TrackTruncation counts gateway responses cut off by the output budget.
func (t *Tracker) TrackTruncation(provider string) { t.of(provider).truncations.Add(1) }

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() map[string]ProviderStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]ProviderStats, len(t.providers))
	for name, c := range t.providers {
		out[name] = ProviderStats{
			CacheHits:   c.cacheHits.Load(),
			CacheMisses: c.cacheMisses.Load(),
			APISuccess:  c.apiSuccess.Load(),
			APIFailures: c.apiFailures.Load(),
			Truncations: c.truncations.Load(),
		}
	}
	return out
}
