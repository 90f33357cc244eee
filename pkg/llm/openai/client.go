package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"podscript/pkg/config"
	"podscript/pkg/llm"
	"podscript/pkg/request"
	"podscript/pkg/tracker"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client implements llm.Provider over the Chat Completions wire format.
// It serves api.openai.com by default, but any compatible endpoint works
// when BaseURL is set, which is how the groq, nvidia and deepseek
// providers are built.
type Client struct {
	rc       *request.Client
	tracker  *tracker.Tracker
	apiKey   string
	baseURL  string
	profiles map[string]string
	label    string

	mu sync.RWMutex
}

// Request is a Chat Completions request body.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int32     `json:"max_tokens,omitempty"`
	Temperature float32   `json:"temperature,omitempty"`
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response is a Chat Completions response body. Error is populated by
// gateways that report failures with HTTP 200.
type Response struct {
	Choices []choice   `json:"choices"`
	Usage   *usage     `json:"usage,omitempty"`
	Error   *wireError `json:"error,omitempty"`
}

type choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type usage struct {
	CompletionTokens int32 `json:"completion_tokens"`
}

type wireError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewClient creates a new OpenAI-compatible client.
func NewClient(cfg config.ProviderConfig, rc *request.Client, t *tracker.Tracker) (*Client, error) {
	c := &Client{
		rc:       rc,
		tracker:  t,
		apiKey:   cfg.Key,
		baseURL:  defaultBaseURL,
		profiles: cfg.Profiles,
		label:    "openai",
	}
	if cfg.BaseURL != "" {
		c.baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if cfg.Type != "" {
		c.label = cfg.Type
	}
	return c, nil
}

// SetLabel sets the provider label for request tracking.
func (c *Client) SetLabel(label string) {
	c.mu.Lock()
	c.label = label
	c.mu.Unlock()
}

// Generate sends a prompt under the named profile and returns the response.
func (c *Client) Generate(ctx context.Context, profile, prompt string, opts llm.Options) (*llm.Result, error) {
	model, err := c.ResolveModel(profile)
	if err != nil {
		return nil, err
	}

	return c.execute(ctx, Request{
		Model:       model,
		Messages:    []Message{{Role: "user", Content: prompt}},
		MaxTokens:   opts.MaxOutputTokens,
		Temperature: opts.Temperature,
	})
}

// HealthCheck verifies the /models endpoint answers and every configured
// profile model is in the listing.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("%s: api key is missing", c.label)
	}
	if len(c.profiles) == 0 {
		return nil
	}

	available, err := c.listModels(ctx)
	if err != nil {
		return err
	}

	var missing []string
	for _, model := range c.profiles {
		if model != "" && !available[model] {
			missing = append(missing, model)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: configured models %v not found", c.label, missing)
	}
	return nil
}

func (c *Client) listModels(ctx context.Context) (map[string]bool, error) {
	u := c.baseURL + "/models"
	// The listing changes rarely; cache it per gateway so repeated runs
	// skip the round trip.
	respBody, err := c.rc.GetWithHeaders(c.withLabel(ctx), u, c.headers(false), "models:"+c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch models from %s: %w", u, err)
	}

	var listing struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &listing); err != nil {
		return nil, fmt.Errorf("failed to parse models response: %w", err)
	}

	available := make(map[string]bool, len(listing.Data))
	for _, m := range listing.Data {
		available[m.ID] = true
	}
	return available, nil
}

// HasProfile checks if the provider has a specific profile configured.
func (c *Client) HasProfile(profile string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	model, ok := c.profiles[profile]
	return ok && model != ""
}

// ResolveModel maps a profile to its configured model name.
func (c *Client) ResolveModel(profile string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if model, ok := c.profiles[profile]; ok && model != "" {
		return model, nil
	}
	return "", fmt.Errorf("profile %q not configured", profile)
}

func (c *Client) headers(withBody bool) map[string]string {
	h := map[string]string{"Authorization": "Bearer " + c.apiKey}
	if withBody {
		h["Content-Type"] = "application/json"
	}
	return h
}

func (c *Client) withLabel(ctx context.Context) context.Context {
	c.mu.RLock()
	label := c.label
	c.mu.RUnlock()
	if label != "" {
		ctx = context.WithValue(ctx, request.CtxProviderLabel, label)
	}
	return ctx
}

func (c *Client) execute(ctx context.Context, oreq Request) (*llm.Result, error) {
	if c.apiKey == "" {
		return nil, &llm.GatewayError{Provider: c.label, Message: "api key is missing"}
	}

	body, err := json.Marshal(oreq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	respBody, err := c.rc.PostWithHeaders(c.withLabel(ctx), c.baseURL+"/chat/completions", body, c.headers(true))
	if err != nil {
		return nil, llm.NewGatewayError(c.label, err)
	}

	var oresp Response
	if err := json.Unmarshal(respBody, &oresp); err != nil {
		return nil, llm.NewGatewayError(c.label, fmt.Errorf("failed to unmarshal response: %w", err))
	}
	if oresp.Error != nil {
		return nil, &llm.GatewayError{
			Provider: c.label,
			Message:  fmt.Sprintf("%s (%s)", oresp.Error.Message, oresp.Error.Type),
		}
	}
	if len(oresp.Choices) == 0 {
		return nil, &llm.GatewayError{Provider: c.label, Message: "api returned no choices"}
	}

	first := oresp.Choices[0]
	result := &llm.Result{
		Text:      first.Message.Content,
		Truncated: first.FinishReason == "length",
	}
	if oresp.Usage != nil {
		result.OutputTokens = oresp.Usage.CompletionTokens
	}
	if result.Truncated && c.tracker != nil {
		c.tracker.TrackTruncation(c.label)
	}

	return result, nil
}
