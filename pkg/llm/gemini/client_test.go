package gemini

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"google.golang.org/genai"

	"podscript/pkg/config"
	"podscript/pkg/llm"
	"podscript/pkg/tracker"
)

func newUnconfiguredClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(config.ProviderConfig{
		Type: "gemini",
		Profiles: map[string]string{
			"script":  "gemini-2.5-flash",
			"summary": "gemini-2.5-flash-lite",
		},
	}, "", tracker.New())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestGenerate_NotConfigured(t *testing.T) {
	c := newUnconfiguredClient(t)

	_, err := c.Generate(context.Background(), "script", "hello", llm.Options{})
	if err == nil {
		t.Fatal("expected error without API key")
	}

	var gwErr *llm.GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %T: %v", err, err)
	}
	if gwErr.Provider != "gemini" {
		t.Errorf("Provider = %q, want gemini", gwErr.Provider)
	}
}

func TestHealthCheck_NoKey(t *testing.T) {
	c := newUnconfiguredClient(t)

	if err := c.HealthCheck(context.Background()); err == nil {
		t.Error("expected health check failure without API key")
	}
}

func TestHasProfile(t *testing.T) {
	c := newUnconfiguredClient(t)

	if !c.HasProfile("script") {
		t.Error("HasProfile(script) = false, want true")
	}
	if c.HasProfile("label") {
		t.Error("HasProfile(label) = true, want false")
	}
}

func TestResolveModel(t *testing.T) {
	c := newUnconfiguredClient(t)

	if got := c.resolveModel("summary"); got != "gemini-2.5-flash-lite" {
		t.Errorf("resolveModel(summary) = %q", got)
	}
	if got := c.resolveModel("unknown"); got != defaultModel {
		t.Errorf("resolveModel(unknown) = %q, want default", got)
	}
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{
					Parts: []*genai.Part{
						{Text: "speaker-1: Hello."},
						{Text: "\nspeaker-2: Hi."},
					},
				},
			},
		},
	}

	text, err := responseText(resp)
	if err != nil {
		t.Fatalf("responseText failed: %v", err)
	}
	if !strings.Contains(text, "speaker-1: Hello.") || !strings.Contains(text, "speaker-2: Hi.") {
		t.Errorf("parts not concatenated: %q", text)
	}

	if _, err := responseText(&genai.GenerateContentResponse{}); err == nil {
		t.Error("expected error on empty candidates")
	}
}

func TestLogPrompt(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "llm.log")
	c := newUnconfiguredClient(t)
	c.logPath = logPath

	c.logPrompt("script", "<start of source document>\nlong doc text\n<end of source document>", "speaker-1: Hi.")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "PROFILE: script") {
		t.Errorf("log entry missing profile header: %s", data)
	}
	if !strings.Contains(string(data), "speaker-1: Hi.") {
		t.Errorf("log entry missing response: %s", data)
	}
}
