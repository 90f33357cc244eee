package request

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"podscript/pkg/cache"
	"podscript/pkg/tracker"
	"podscript/pkg/version"
)

var defaultUserAgent = fmt.Sprintf("podscript/%s", version.Version)

// ctxKey is the private type for context keys in this package.
type ctxKey int

// CtxProviderLabel overrides the provider label derived from the request
// host, so tracker stats group by logical provider rather than domain.
const CtxProviderLabel ctxKey = iota

const queueDepth = 100

// Client handles HTTP requests with per-provider queuing, caching,
// backoff, and tracking. Calls to the same provider are serialized
// through a single worker goroutine.
type Client struct {
	httpClient *http.Client
	cache      cache.Cacher
	tracker    *tracker.Tracker
	backoff    *ProviderBackoff
	retries    int
	baseDelay  time.Duration

	queues map[string]chan job
	mu     sync.Mutex // guards queues
}

type job struct {
	req      *http.Request
	headers  map[string]string
	cacheKey string
	provider string
	respChan chan jobResult
}

type jobResult struct {
	body []byte
	err  error
}

// Options configures the client.
type Options struct {
	Timeout   time.Duration
	Retries   int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (o *Options) fill() {
	if o.Timeout <= 0 {
		o.Timeout = 300 * time.Second
	}
	if o.Retries <= 0 {
		o.Retries = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 500 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 60 * time.Second
	}
}

// New creates a new Client. A nil cache disables response caching.
func New(c cache.Cacher, t *tracker.Tracker, opts Options) *Client {
	opts.fill()
	if c == nil {
		c = cache.NullCache{}
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		cache:      c,
		tracker:    t,
		backoff:    NewProviderBackoff(opts.BaseDelay, opts.MaxDelay),
		retries:    opts.Retries,
		baseDelay:  opts.BaseDelay,
		queues:     make(map[string]chan job),
	}
}

// GetWithHeaders performs a GET request with custom headers. A non-empty
// cacheKey makes the response cacheable.
func (c *Client) GetWithHeaders(ctx context.Context, u string, headers map[string]string, cacheKey string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, u, nil, headers, cacheKey)
}

// PostWithHeaders performs a POST request with custom headers and queuing.
func (c *Client) PostWithHeaders(ctx context.Context, u string, body []byte, headers map[string]string) ([]byte, error) {
	return c.do(ctx, http.MethodPost, u, body, headers, "")
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, headers map[string]string, cacheKey string) ([]byte, error) {
	provider, err := c.providerFor(ctx, u)
	if err != nil {
		return nil, err
	}

	if cacheKey != "" {
		if val, hit := c.cache.GetCache(ctx, cacheKey); hit {
			c.trackCacheHit(provider)
			slog.Debug("Cache Hit", "provider", provider, "key", cacheKey)
			return val, nil
		}
		c.trackCacheMiss(provider)
	}

	var rd io.Reader = http.NoBody
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	respChan := make(chan jobResult, 1)
	c.dispatch(provider, job{req: req, headers: headers, cacheKey: cacheKey, provider: provider, respChan: respChan})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-respChan:
		return res.body, res.err
	}
}

func (c *Client) providerFor(ctx context.Context, u string) (string, error) {
	parsed, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if label, ok := ctx.Value(CtxProviderLabel).(string); ok && label != "" {
		return label, nil
	}
	return normalizeProvider(parsed.Host), nil
}

func normalizeProvider(host string) string {
	switch {
	case strings.HasSuffix(host, "googleapis.com"):
		return "gemini"
	case strings.HasSuffix(host, "openai.com"):
		return "openai"
	default:
		return host
	}
}

// dispatch hands the job to the provider's worker, spawning it on first
// use. A full queue blocks the caller, which throttles producers.
func (c *Client) dispatch(provider string, j job) {
	c.mu.Lock()
	q, ok := c.queues[provider]
	if !ok {
		q = make(chan job, queueDepth)
		c.queues[provider] = q
		go c.worker(provider, q)
	}
	c.mu.Unlock()

	select {
	case q <- j:
	case <-j.req.Context().Done():
		// Caller gave up before we could even enqueue
		j.respChan <- jobResult{err: j.req.Context().Err()}
	}
}

// worker drains one provider's queue sequentially.
func (c *Client) worker(provider string, q <-chan job) {
	for j := range q {
		if err := j.req.Context().Err(); err != nil {
			slog.Warn("Job dropped from queue (context expired)", "provider", provider, "error", err)
			j.respChan <- jobResult{err: err}
			continue
		}

		// Respect any accumulated backoff for this provider.
		c.backoff.Wait(provider)

		applyHeaders(j.req, j.headers)
		body, err := c.executeWithBackoff(j.req)

		if err != nil {
			c.trackFailure(provider)
			c.backoff.RecordFailure(provider)
			j.respChan <- jobResult{err: err}
			continue
		}

		c.trackSuccess(provider)
		c.backoff.RecordSuccess(provider)
		if j.cacheKey != "" {
			if err := c.cache.SetCache(context.Background(), j.cacheKey, body); err != nil {
				slog.Error("Failed to cache response", "url", j.req.URL, "error", err)
			}
		}
		j.respChan <- jobResult{body: body}
	}
}

func applyHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", defaultUserAgent)
	}
}

// executeWithBackoff attempts the request with exponential backoff on
// network errors, 429 and 5xx. Other 4xx fail immediately with the
// response body folded into the error.
func (c *Client) executeWithBackoff(req *http.Request) ([]byte, error) {
	for attempt := 0; attempt < c.retries; attempt++ {
		if err := req.Context().Err(); err != nil {
			return nil, err
		}

		slog.Debug("Network Request", "host", req.URL.Host, "path", req.URL.Path, "attempt", attempt+1)
		resp, err := c.httpClient.Do(req)

		if err != nil {
			// Cancellation from our side is terminal, network flakiness is not.
			if ctxErr := req.Context().Err(); ctxErr != nil {
				return nil, ctxErr
			}
			slog.Warn("Request failed, retrying", "url", req.URL, "attempt", attempt+1, "error", err)
			if err := c.sleepBeforeRetry(req.Context(), attempt); err != nil {
				return nil, err
			}
			continue
		}

		if retryableStatus(resp.StatusCode) {
			resp.Body.Close()
			slog.Warn("API Backoff", "status", resp.StatusCode, "url", req.URL, "attempt", attempt+1)
			if err := c.sleepBeforeRetry(req.Context(), attempt); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode >= 400 {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, fmt.Errorf("api error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read error: %w", err)
		}
		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded")
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code < 600)
}

func (c *Client) sleepBeforeRetry(ctx context.Context, attempt int) error {
	select {
	case <-time.After(c.baseDelay << uint(attempt)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) trackSuccess(provider string) {
	if c.tracker != nil {
		c.tracker.TrackAPISuccess(provider)
	}
}

func (c *Client) trackFailure(provider string) {
	if c.tracker != nil {
		c.tracker.TrackAPIFailure(provider)
	}
}

func (c *Client) trackCacheHit(provider string) {
	if c.tracker != nil {
		c.tracker.TrackCacheHit(provider)
	}
}

func (c *Client) trackCacheMiss(provider string) {
	if c.tracker != nil {
		c.tracker.TrackCacheMiss(provider)
	}
}
