package perplexity

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"podscript/pkg/config"
	"podscript/pkg/llm"
	"podscript/pkg/request"
	"podscript/pkg/tracker"
)

const defaultEndpoint = "https://api.perplexity.ai/chat/completions"

// Client implements llm.Provider for the Perplexity Sonar API. Sonar
// speaks the OpenAI chat-completions format but grounds answers in web
// search and attaches citations, which have to be stripped before the
// text can be used as script material.
type Client struct {
	rc       *request.Client
	tracker  *tracker.Tracker
	apiKey   string
	endpoint string
	profiles map[string]string

	mu sync.RWMutex
}

type sonarRequest struct {
	Model            string       `json:"model"`
	Messages         []sonarTurn  `json:"messages"`
	MaxTokens        int32        `json:"max_tokens,omitempty"`
	Temperature      float32      `json:"temperature,omitempty"`
	WebSearchOptions *sonarSearch `json:"web_search_options,omitempty"`
}

type sonarSearch struct {
	// "low", "medium", or "high"
	SearchContextSize string `json:"search_context_size,omitempty"`
}

type sonarTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type sonarResponse struct {
	Choices   []sonarChoice `json:"choices"`
	Citations []string      `json:"citations,omitempty"`
	Usage     *sonarUsage   `json:"usage,omitempty"`
	Error     *sonarError   `json:"error,omitempty"`
}

type sonarChoice struct {
	Message      sonarTurn `json:"message"`
	FinishReason string    `json:"finish_reason"`
}

type sonarUsage struct {
	CompletionTokens int32 `json:"completion_tokens"`
}

type sonarError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewClient creates a new Perplexity Sonar client.
func NewClient(cfg config.ProviderConfig, rc *request.Client, t *tracker.Tracker) (*Client, error) {
	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Client{
		apiKey:   cfg.Key,
		endpoint: endpoint,
		profiles: cfg.Profiles,
		rc:       rc,
		tracker:  t,
	}, nil
}

// Inline citation markers like [1] or [3][7] that Sonar embeds in prose.
var citationMarker = regexp.MustCompile(`\[\d+\]`)

// Generate sends a prompt under the named profile. Web search is left
// off: script generation works from the supplied document, not the web.
func (c *Client) Generate(ctx context.Context, profile, prompt string, opts llm.Options) (*llm.Result, error) {
	model, err := c.resolveModel(profile)
	if err != nil {
		return nil, err
	}

	req := sonarRequest{
		Model: model,
		Messages: []sonarTurn{
			{Role: "user", Content: prompt},
		},
		MaxTokens:   opts.MaxOutputTokens,
		Temperature: opts.Temperature,
	}

	resp, err := c.execute(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &llm.Result{
		Text:      citationMarker.ReplaceAllString(resp.Choices[0].Message.Content, ""),
		Truncated: resp.Choices[0].FinishReason == "length",
	}
	if resp.Usage != nil {
		result.OutputTokens = resp.Usage.CompletionTokens
	}
	if result.Truncated && c.tracker != nil {
		c.tracker.TrackTruncation("perplexity")
	}
	return result, nil
}

// HealthCheck verifies API access with a minimal completion. Sonar has
// no reliable /models endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("perplexity: api key is missing")
	}

	profile := c.anyProfile()
	if profile == "" {
		return fmt.Errorf("perplexity: no profiles configured")
	}

	_, err := c.Generate(ctx, profile, "ping", llm.Options{MaxOutputTokens: 8})
	return err
}

func (c *Client) anyProfile() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for p := range c.profiles {
		return p
	}
	return ""
}

// HasProfile checks if the provider has a specific profile configured.
func (c *Client) HasProfile(profile string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	model, ok := c.profiles[profile]
	return ok && model != ""
}

// SearchResult is a web-grounded answer with its citation URLs.
type SearchResult struct {
	Content   string
	Citations []string
}

// Search performs a grounded web query, the Sonar-specific feature.
// Useful for enriching a script with facts beyond the source document.
func (c *Client) Search(ctx context.Context, profile, query string) (*SearchResult, error) {
	model, err := c.resolveModel(profile)
	if err != nil {
		return nil, err
	}

	req := sonarRequest{
		Model: model,
		Messages: []sonarTurn{
			{Role: "user", Content: query},
		},
		WebSearchOptions: &sonarSearch{SearchContextSize: "high"},
	}

	resp, err := c.execute(ctx, req)
	if err != nil {
		return nil, err
	}

	return &SearchResult{
		Content:   strings.TrimSpace(resp.Choices[0].Message.Content),
		Citations: resp.Citations,
	}, nil
}

func (c *Client) execute(ctx context.Context, sreq sonarRequest) (*sonarResponse, error) {
	if c.apiKey == "" {
		return nil, &llm.GatewayError{Provider: "perplexity", Message: "api key is missing"}
	}

	body, err := json.Marshal(sreq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	headers := map[string]string{
		"Authorization": "Bearer " + c.apiKey,
		"Content-Type":  "application/json",
	}

	ctx = context.WithValue(ctx, request.CtxProviderLabel, "perplexity")
	respBody, err := c.rc.PostWithHeaders(ctx, c.endpoint, body, headers)
	if err != nil {
		return nil, llm.NewGatewayError("perplexity", err)
	}

	var sresp sonarResponse
	if err := json.Unmarshal(respBody, &sresp); err != nil {
		return nil, llm.NewGatewayError("perplexity", fmt.Errorf("failed to unmarshal response: %w", err))
	}

	if sresp.Error != nil {
		return nil, &llm.GatewayError{
			Provider: "perplexity",
			Message:  fmt.Sprintf("%s (%s)", sresp.Error.Message, sresp.Error.Type),
		}
	}

	if len(sresp.Choices) == 0 {
		return nil, &llm.GatewayError{Provider: "perplexity", Message: "api returned no choices"}
	}

	return &sresp, nil
}

func (c *Client) resolveModel(profile string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if model, ok := c.profiles[profile]; ok && model != "" {
		return model, nil
	}
	return "", fmt.Errorf("profile %q not configured for perplexity", profile)
}
