package core

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podscript/pkg/config"
	"podscript/pkg/generator"
	"podscript/pkg/llm"
	"podscript/pkg/model"
	"podscript/pkg/prompt"
)

type stubProvider struct {
	text  string
	calls int
}

func (s *stubProvider) Generate(ctx context.Context, profile, text string, opts llm.Options) (*llm.Result, error) {
	s.calls++
	return &llm.Result{Text: s.text}, nil
}
func (s *stubProvider) HealthCheck(ctx context.Context) error { return nil }
func (s *stubProvider) HasProfile(profile string) bool        { return true }

type memoryArchive struct {
	saved     int
	summaries map[string]string // scriptID -> summary text
}

func (m *memoryArchive) SaveScript(ctx context.Context, script *model.Script, report model.QualityReport) (string, error) {
	m.saved++
	return fmt.Sprintf("id-%d", m.saved), nil
}

func (m *memoryArchive) SaveSummary(ctx context.Context, scriptUUID string, kind model.SummaryKind, text string) (string, error) {
	if m.summaries == nil {
		m.summaries = make(map[string]string)
	}
	m.summaries[scriptUUID] = text
	return fmt.Sprintf("sum-%d", len(m.summaries)), nil
}

func newService(t *testing.T, p llm.Provider, archive Archiver) *Service {
	t.Helper()
	m, err := prompt.NewManager()
	require.NoError(t, err)
	cfg := config.DefaultConfig()
	gen := generator.New(p, m, cfg.Generator, cfg.Summary)
	return New(gen, cfg.Quality, archive)
}

func dialogue(turns int) string {
	var sb strings.Builder
	for i := 0; i < turns; i++ {
		fmt.Fprintf(&sb, "speaker-%d: Turn %d about the topic at hand today.\n", i%2+1, i+1)
	}
	return sb.String()
}

func TestGenerateScript_EvaluatesOnce(t *testing.T) {
	p := &stubProvider{text: dialogue(8)}
	archive := &memoryArchive{}
	svc := newService(t, p, archive)

	doc := model.NewDocument(strings.Repeat("A document about one steady topic. ", 10), model.FormatText)
	out, err := svc.GenerateScript(context.Background(), doc, model.GenerationConfig{Template: "podcast"})
	require.NoError(t, err)

	assert.Equal(t, 8, out.Script.LineCount())
	assert.True(t, out.Report.Passed)
	assert.Equal(t, 1, archive.saved)
	assert.Equal(t, "id-1", out.ArchiveID)
}

func TestGenerateScript_InputErrorSkipsPipeline(t *testing.T) {
	p := &stubProvider{text: dialogue(8)}
	archive := &memoryArchive{}
	svc := newService(t, p, archive)

	_, err := svc.GenerateScript(context.Background(), model.NewDocument("", model.FormatText), model.GenerationConfig{})
	require.Error(t, err)
	assert.Equal(t, 0, p.calls)
	assert.Equal(t, 0, archive.saved)
}

func TestGenerateScript_NilArchiver(t *testing.T) {
	p := &stubProvider{text: dialogue(8)}
	svc := newService(t, p, nil)

	doc := model.NewDocument(strings.Repeat("Plenty of text about the same topic here. ", 10), model.FormatText)
	out, err := svc.GenerateScript(context.Background(), doc, model.GenerationConfig{Template: "podcast"})
	require.NoError(t, err)
	assert.Empty(t, out.ArchiveID)
}

func TestPlanSegments(t *testing.T) {
	svc := newService(t, &stubProvider{text: dialogue(4)}, nil)

	text := strings.Repeat("First topic sentence for planning. ", 8) + "\n\n" + strings.Repeat("Second topic sentence for planning. ", 8)
	segments, err := svc.PlanSegments(model.NewDocument(text, model.FormatText), 2)
	require.NoError(t, err)
	assert.Len(t, segments, 2)
}

func TestGenerateSummary(t *testing.T) {
	p := &stubProvider{text: "A short and tidy summary of the episode."}
	svc := newService(t, p, nil)

	script := &model.Script{
		Template: "podcast",
		Lines:    []model.ScriptLine{{Speaker: "speaker-1", Text: "We covered everything."}},
	}
	out, err := svc.GenerateSummary(context.Background(), script, "", model.SummaryMinimal, "")
	require.NoError(t, err)
	assert.Equal(t, "A short and tidy summary of the episode.", out)
}

func TestGenerateSummary_Archived(t *testing.T) {
	p := &stubProvider{text: "A compact recap of the conversation."}
	archive := &memoryArchive{}
	svc := newService(t, p, archive)

	script := &model.Script{
		Template: "podcast",
		Lines:    []model.ScriptLine{{Speaker: "speaker-1", Text: "We covered everything."}},
	}
	out, err := svc.GenerateSummary(context.Background(), script, "id-1", model.SummaryBlog, "")
	require.NoError(t, err)
	assert.Equal(t, out, archive.summaries["id-1"], "summary must land in the archive keyed by its script")
}
