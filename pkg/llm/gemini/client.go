package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/iterator"
	"google.golang.org/genai"

	"podscript/pkg/config"
	"podscript/pkg/llm"
	"podscript/pkg/tracker"
)

const defaultModel = "gemini-2.5-flash"

// Client implements llm.Provider for Google Gemini.
type Client struct {
	genaiClient *genai.Client
	apiKey      string
	profiles    map[string]string // profile -> modelName
	tracker     *tracker.Tracker
	logPath     string

	mu sync.RWMutex
}

// NewClient creates a new Gemini client.
func NewClient(cfg config.ProviderConfig, logPath string, t *tracker.Tracker) (*Client, error) {
	c := &Client{tracker: t, logPath: logPath}
	if err := c.Configure(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Configure updates the client with new settings. Without an API key the
// client stays unconfigured and every call reports a gateway error.
func (c *Client) Configure(cfg config.ProviderConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.apiKey = cfg.Key
	c.profiles = cfg.Profiles
	c.genaiClient = nil

	if c.apiKey == "" {
		return nil
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: c.apiKey})
	if err != nil {
		return fmt.Errorf("failed to create genai client: %w", err)
	}
	c.genaiClient = client

	// Validate configured models. Failure is not fatal: startup should
	// survive a flaky or rate-limited API, actual calls fail later.
	if err := c.validateModels(context.Background()); err != nil {
		slog.Warn("Gemini model validation failed (proceeding anyway)", "error", err)
	}

	return nil
}

// Close cleans up resources.
func (c *Client) Close() {
	c.mu.Lock()
	c.genaiClient = nil
	c.mu.Unlock()
}

// Generate sends a prompt under the named profile and returns the response.
func (c *Client) Generate(ctx context.Context, profile, prompt string, opts llm.Options) (*llm.Result, error) {
	c.mu.RLock()
	client := c.genaiClient
	c.mu.RUnlock()

	if client == nil {
		return nil, &llm.GatewayError{Provider: "gemini", Message: "client not configured"}
	}

	modelName := c.resolveModel(profile)
	genCfg := &genai.GenerateContentConfig{}
	if opts.MaxOutputTokens > 0 {
		genCfg.MaxOutputTokens = opts.MaxOutputTokens
	}
	if opts.Temperature > 0 {
		temp := opts.Temperature
		genCfg.Temperature = &temp
	}

	resp, err := client.Models.GenerateContent(ctx, modelName, genai.Text(prompt), genCfg)
	if err != nil {
		c.logPrompt(profile, prompt, fmt.Sprintf("ERROR: %v", err))
		c.trackFailure()
		return nil, llm.NewGatewayError("gemini", err)
	}

	text, err := responseText(resp)
	if err != nil {
		c.logPrompt(profile, prompt, fmt.Sprintf("TEXT_PARSE_ERROR: %v", err))
		c.trackFailure()
		return nil, llm.NewGatewayError("gemini", err)
	}

	result := &llm.Result{Text: text}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens {
		result.Truncated = true
		if c.tracker != nil {
			c.tracker.TrackTruncation("gemini")
		}
	}
	if resp.UsageMetadata != nil {
		result.OutputTokens = resp.UsageMetadata.CandidatesTokenCount
	}

	c.logPrompt(profile, prompt, text)
	if c.tracker != nil {
		c.tracker.TrackAPISuccess("gemini")
	}
	return result, nil
}

// HealthCheck verifies that the provider is configured and reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	client := c.genaiClient
	c.mu.RUnlock()

	if client == nil {
		return fmt.Errorf("gemini client not configured (missing API key)")
	}

	name := c.resolveModel("script")
	if !strings.HasPrefix(name, "models/") {
		name = "models/" + name
	}
	if _, err := client.Models.Get(ctx, name, nil); err != nil {
		return fmt.Errorf("gemini health check failed: %w", err)
	}
	return nil
}

// HasProfile checks if the provider has a specific profile configured.
func (c *Client) HasProfile(profile string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.profiles[profile]
	return ok
}

// resolveModel returns the target model name for the given profile.
func (c *Client) resolveModel(profile string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if model, ok := c.profiles[profile]; ok && model != "" {
		return model
	}
	return defaultModel
}

func (c *Client) trackFailure() {
	if c.tracker != nil {
		c.tracker.TrackAPIFailure("gemini")
	}
}

// logPrompt appends the exchange to the prompt history file. Best effort,
// history must never break generation.
func (c *Client) logPrompt(profile, prompt, response string) {
	if c.logPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.logPath), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(c.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	_, _ = fmt.Fprintf(f, "[%s] PROFILE: %s\nPROMPT:\n%s\n\nRESPONSE:\n%s\n%s\n",
		time.Now().Format("2006-01-02 15:04:05"), profile,
		llm.TruncateDocumentBlock(prompt, 80), llm.WordWrap(response, 80),
		strings.Repeat("-", 80))
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates returned")
	}
	if resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("candidate has no content")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

// validateModels checks whether the configured profile models exist for
// the API key. On mismatch it lists what the key can actually use.
func (c *Client) validateModels(ctx context.Context) error {
	checked := make(map[string]bool)
	var missing []string

	for profile, model := range c.profiles {
		if model == "" || checked[model] {
			continue
		}
		checked[model] = true

		name := model
		if !strings.HasPrefix(name, "models/") {
			name = "models/" + name
		}
		if _, err := c.genaiClient.Models.Get(ctx, name, nil); err != nil {
			slog.Warn("Gemini model not available", "profile", profile, "model", model, "error", err)
			missing = append(missing, model)
		}
	}

	if len(missing) == 0 {
		slog.Debug("Gemini model validation success")
		return nil
	}

	// Fetch available models for recovery hints.
	iter, listErr := c.genaiClient.Models.List(ctx, nil)
	if listErr != nil {
		slog.Warn("Failed to list models for recovery", "error", listErr)
		return nil
	}

	var available []string
	for {
		m, nextErr := iter.Next(ctx)
		if nextErr == iterator.Done {
			break
		}
		if nextErr != nil {
			break
		}
		if strings.Contains(strings.ToLower(m.Name), "gemini") {
			available = append(available, m.Name)
		}
	}

	slog.Error("Configured models not found", "missing", strings.Join(missing, ", "))
	for _, m := range available {
		slog.Error("- available: " + m)
	}

	return nil // Lazy validation: generation calls surface the real error
}
