package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podscript/pkg/config"
	"podscript/pkg/llm"
	"podscript/pkg/model"
	"podscript/pkg/prompt"
	"podscript/pkg/quality"
)

// stubProvider replays scripted results and records every call.
type stubProvider struct {
	results []*llm.Result
	errs    []error
	calls   int
	prompts []string
	opts    []llm.Options
}

func (s *stubProvider) Generate(ctx context.Context, profile, text string, opts llm.Options) (*llm.Result, error) {
	idx := s.calls
	s.calls++
	s.prompts = append(s.prompts, text)
	s.opts = append(s.opts, opts)
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	if s.errs != nil && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	return s.results[idx], nil
}

func (s *stubProvider) HealthCheck(ctx context.Context) error { return nil }
func (s *stubProvider) HasProfile(profile string) bool        { return true }

func newGenerator(t *testing.T, p llm.Provider) *Generator {
	t.Helper()
	m, err := prompt.NewManager()
	require.NoError(t, err)
	cfg := config.DefaultConfig()
	return New(p, m, cfg.Generator, cfg.Summary)
}

// dialogue builds a complete alternating two-voice response.
func dialogue(turns int, topic string) string {
	var sb strings.Builder
	for i := 0; i < turns; i++ {
		speaker := i%2 + 1
		fmt.Fprintf(&sb, "speaker-%d: Here is turn %d about %s and its many sides.\n", speaker, i+1, topic)
	}
	return sb.String()
}

func testDoc() model.Document {
	paras := []string{
		strings.Repeat("Glaciers carve valleys and store ancient ice. ", 4),
		strings.Repeat("Volcanoes build islands and darken skies with ash. ", 4),
		strings.Repeat("Earthquakes shake cities and reshape coastlines. ", 4),
	}
	return model.NewDocument(strings.Join(paras, "\n\n"), model.FormatText)
}

func TestGenerate_SingleCallPath(t *testing.T) {
	p := &stubProvider{results: []*llm.Result{{Text: dialogue(8, "glaciers")}}}
	g := newGenerator(t, p)

	res, err := g.Generate(context.Background(), testDoc(), model.GenerationConfig{Template: "podcast"})
	require.NoError(t, err)

	assert.Equal(t, 1, p.calls, "exactly one gateway call on the single-call path")
	assert.False(t, res.Batched)
	assert.False(t, res.Truncated)
	assert.Empty(t, res.Seams)
	assert.Equal(t, 8, res.Script.LineCount())
	assert.Equal(t, "podcast", res.Script.Template)
}

func TestGenerate_ClampsGenerationConfig(t *testing.T) {
	p := &stubProvider{results: []*llm.Result{{Text: dialogue(8, "glaciers")}}}
	g := newGenerator(t, p)

	_, err := g.Generate(context.Background(), testDoc(), model.GenerationConfig{
		Template:        "podcast",
		MaxOutputTokens: 5, // below the supported floor
	})
	require.NoError(t, err)

	require.Len(t, p.opts, 1)
	assert.Equal(t, int32(model.MinOutputTokens), p.opts[0].MaxOutputTokens,
		"out-of-range token budgets must be clamped before they reach the gateway")
	assert.InDelta(t, model.DefaultTemperature, p.opts[0].Temperature, 0.001)
}

func TestGenerate_FallbackOnTruncationFlag(t *testing.T) {
	p := &stubProvider{results: []*llm.Result{
		{Text: dialogue(2, "glaciers"), Truncated: true},
		{Text: dialogue(6, "glaciers")},
		{Text: dialogue(6, "volcanoes")},
		{Text: dialogue(6, "earthquakes")},
	}}
	g := newGenerator(t, p)

	res, err := g.Generate(context.Background(), testDoc(), model.GenerationConfig{Template: "podcast"})
	require.NoError(t, err)

	assert.True(t, res.Batched)
	assert.GreaterOrEqual(t, p.calls, 2, "fallback must add gateway calls")
	assert.Greater(t, res.Script.LineCount(), 2, "batched script must outgrow the truncated single call")
	assert.NotEmpty(t, res.Seams)
	assert.False(t, res.Truncated)
}

func TestGenerate_FallbackOnIncompleteLastLine(t *testing.T) {
	// Flag says fine, but the text stops mid-sentence.
	cut := "speaker-1: The glacier was moving and then it"
	p := &stubProvider{results: []*llm.Result{
		{Text: cut},
		{Text: dialogue(6, "glaciers")},
		{Text: dialogue(6, "volcanoes")},
	}}
	g := newGenerator(t, p)

	res, err := g.Generate(context.Background(), testDoc(), model.GenerationConfig{Template: "podcast"})
	require.NoError(t, err)
	assert.True(t, res.Batched, "parse validation alone must trigger the fallback")
}

func TestGenerate_EndToEndThreeSegments(t *testing.T) {
	p := &stubProvider{results: []*llm.Result{
		{Text: dialogue(2, "glaciers"), Truncated: true},
		{Text: dialogue(5, "glaciers and ancient ice")},
		{Text: dialogue(5, "volcanoes and ancient ice")},
		{Text: dialogue(5, "earthquakes and ancient ice")},
	}}
	g := newGenerator(t, p)

	res, err := g.Generate(context.Background(), testDoc(), model.GenerationConfig{
		Template:     "podcast",
		SegmentCount: 3,
	})
	require.NoError(t, err)

	assert.Equal(t, 4, p.calls, "one failed single call plus three batch calls")
	assert.Len(t, res.Seams, 2)
	assert.Equal(t, 15, res.Script.LineCount())

	// Alternation must hold across every seam.
	for i := 1; i < len(res.Script.Lines); i++ {
		assert.NotEqual(t, res.Script.Lines[i-1].Speaker, res.Script.Lines[i].Speaker,
			"lines %d and %d share a speaker", i-1, i)
	}

	tmpl, err := prompt.Get("podcast")
	require.NoError(t, err)
	report := quality.New(config.DefaultConfig().Quality).Evaluate(res.Script, tmpl, res.Seams, res.Truncated)
	assert.False(t, report.Has(model.DefectMalformedFormat), "defects: %v", report.Defects)
}

func TestGenerate_EmptyDocument(t *testing.T) {
	p := &stubProvider{results: []*llm.Result{{Text: dialogue(4, "nothing")}}}
	g := newGenerator(t, p)

	_, err := g.Generate(context.Background(), model.NewDocument("", model.FormatText), model.GenerationConfig{Template: "podcast"})
	require.Error(t, err)

	var inputErr *model.InputError
	assert.ErrorAs(t, err, &inputErr)
	assert.Equal(t, 0, p.calls, "no gateway call may happen on invalid input")
}

func TestGenerate_UnknownTemplate(t *testing.T) {
	p := &stubProvider{results: []*llm.Result{{Text: "x."}}}
	g := newGenerator(t, p)

	_, err := g.Generate(context.Background(), testDoc(), model.GenerationConfig{Template: "screenplay"})
	require.Error(t, err)
	assert.Equal(t, 0, p.calls)
}

func TestGenerate_GatewayErrorSurfaced(t *testing.T) {
	gwErr := &llm.GatewayError{Provider: "gemini", Message: "rate limited"}
	p := &stubProvider{results: []*llm.Result{nil}, errs: []error{gwErr}}
	g := newGenerator(t, p)

	_, err := g.Generate(context.Background(), testDoc(), model.GenerationConfig{Template: "podcast"})
	require.Error(t, err)

	var surfaced *llm.GatewayError
	require.True(t, errors.As(err, &surfaced))
	assert.Equal(t, "rate limited", surfaced.Message)
	assert.Equal(t, 1, p.calls, "gateway errors are surfaced, never retried")
}

func TestGenerate_TruncatedFinalSliceNoRecursion(t *testing.T) {
	p := &stubProvider{results: []*llm.Result{
		{Text: dialogue(2, "glaciers"), Truncated: true},
		{Text: dialogue(5, "glaciers")},
		{Text: "speaker-1: The volcano was about to", Truncated: true},
	}}
	g := newGenerator(t, p)

	res, err := g.Generate(context.Background(), testDoc(), model.GenerationConfig{
		Template:     "podcast",
		SegmentCount: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, p.calls, "no extra calls after a truncated final slice")
	assert.True(t, res.Truncated)
	assert.NotZero(t, res.Script.LineCount(), "best-effort script is still returned")
}

func TestGenerate_MonologueRenumbering(t *testing.T) {
	p := &stubProvider{results: []*llm.Result{
		{Text: "speaker-1: A start that trails off and", Truncated: true},
		{Text: "speaker-1: First part of the story told alone.\nspeaker-2: A stray second voice."},
		{Text: "speaker-1: Final part of the story, wrapped up."},
	}}
	g := newGenerator(t, p)

	res, err := g.Generate(context.Background(), testDoc(), model.GenerationConfig{
		Template:     "monologue",
		SegmentCount: 2,
	})
	require.NoError(t, err)

	for i, line := range res.Script.Lines {
		assert.Equal(t, "speaker-1", line.Speaker, "line %d", i)
	}
}

func TestParseLines_BestEffort(t *testing.T) {
	tmpl, err := prompt.Get("podcast")
	require.NoError(t, err)

	raw := "```\nspeaker-1: Kept line one.\n```\nSome narration chatter.\nspeaker-2: Kept line two.\n\n"
	lines := parseLines(raw, tmpl)
	require.Len(t, lines, 2)
	assert.Equal(t, "Kept line one.", lines[0].Text)
	assert.Equal(t, "speaker-2", lines[1].Speaker)
}

func TestRenumber_AcrossSeam(t *testing.T) {
	tmpl, err := prompt.Get("podcast")
	require.NoError(t, err)

	slice := []model.ScriptLine{
		{Speaker: "speaker-1", Text: "Restarted numbering."},
		{Speaker: "speaker-2", Text: "Second voice."},
		{Speaker: "speaker-2", Text: "Second voice again."},
		{Speaker: "speaker-1", Text: "Back to the first."},
	}
	renumber(slice, tmpl, model.ScriptLine{Speaker: "speaker-1", Text: "Previous line."})

	assert.Equal(t, "speaker-2", slice[0].Speaker, "slice must open with the opposite voice")
	assert.Equal(t, "speaker-1", slice[1].Speaker)
	assert.Equal(t, "speaker-1", slice[2].Speaker, "internal repeats keep their shape")
	assert.Equal(t, "speaker-2", slice[3].Speaker)
}

func TestSummarize_MinimalWordCap(t *testing.T) {
	long := strings.TrimSpace(strings.Repeat("This sentence pads the summary well past any cap. ", 60))
	p := &stubProvider{results: []*llm.Result{{Text: long}}}
	g := newGenerator(t, p)

	script := &model.Script{
		Template: "podcast",
		Lines:    []model.ScriptLine{{Speaker: "speaker-1", Text: "We talked about many things."}},
	}

	out, err := g.Summarize(context.Background(), script, model.SummaryMinimal, "")
	require.NoError(t, err)

	words := strings.Fields(out)
	assert.LessOrEqual(t, len(words), 200)
	assert.True(t, prompt.EndsComplete(out), "cap must land on a sentence boundary: %q", out)
}

func TestSummarize_BlogUncapped(t *testing.T) {
	long := strings.TrimSpace(strings.Repeat("A paragraph of blog prose with plenty of words in it. ", 50))
	p := &stubProvider{results: []*llm.Result{{Text: long}}}
	g := newGenerator(t, p)

	script := &model.Script{
		Template: "podcast",
		Lines:    []model.ScriptLine{{Speaker: "speaker-1", Text: "We talked about many things."}},
	}

	out, err := g.Summarize(context.Background(), script, model.SummaryBlog, "")
	require.NoError(t, err)
	assert.Greater(t, len(strings.Fields(out)), 200, "blog summaries are not word-capped")
}

func TestSummarize_EmptyScript(t *testing.T) {
	p := &stubProvider{results: []*llm.Result{{Text: "x."}}}
	g := newGenerator(t, p)

	_, err := g.Summarize(context.Background(), &model.Script{}, model.SummaryMinimal, "")
	require.Error(t, err)
	assert.Equal(t, 0, p.calls)
}

func TestCapWords(t *testing.T) {
	text := "One two three. Four five six seven. Eight nine."
	assert.Equal(t, "One two three.", capWords(text, 5))
	assert.Equal(t, text, capWords(text, 50))
	assert.Equal(t, text, capWords(text, 0), "zero cap disables the check")
}
