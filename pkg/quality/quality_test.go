package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podscript/pkg/config"
	"podscript/pkg/model"
	"podscript/pkg/prompt"
)

func newEvaluator() *Evaluator {
	return New(config.DefaultConfig().Quality)
}

func podcastTemplate(t *testing.T) *prompt.Template {
	t.Helper()
	tmpl, err := prompt.Get("podcast")
	require.NoError(t, err)
	return tmpl
}

func cleanScript() *model.Script {
	return &model.Script{
		Template: "podcast",
		Lines: []model.ScriptLine{
			{Speaker: "speaker-1", Text: "Welcome to the show, today we talk about glaciers."},
			{Speaker: "speaker-2", Text: "Glaciers are rivers of ice that shape whole valleys."},
			{Speaker: "speaker-1", Text: "And those valleys tell us how the ice moved over centuries."},
			{Speaker: "speaker-2", Text: "The ice also stores a record of the ancient atmosphere."},
			{Speaker: "speaker-1", Text: "That record is why glaciers matter for climate science."},
			{Speaker: "speaker-2", Text: "Thanks for listening, see you next time."},
		},
	}
}

func TestEvaluate_CleanScript(t *testing.T) {
	report := newEvaluator().Evaluate(cleanScript(), podcastTemplate(t), nil, false)

	assert.Equal(t, 100, report.Score)
	assert.Empty(t, report.Defects)
	assert.True(t, report.Passed)
}

func TestEvaluate_Idempotent(t *testing.T) {
	e := newEvaluator()
	tmpl := podcastTemplate(t)
	script := cleanScript()
	script.Lines[2].Speaker = "speaker-1" // alternation violation

	first := e.Evaluate(script, tmpl, nil, false)
	second := e.Evaluate(script, tmpl, nil, false)
	assert.Equal(t, first, second)
}

func TestEvaluate_MonotoneUnderAddedDefects(t *testing.T) {
	e := newEvaluator()
	tmpl := podcastTemplate(t)

	script := cleanScript()
	prev := e.Evaluate(script, tmpl, nil, false).Score

	// 1: alternation violation
	script.Lines[1].Speaker = "speaker-1"
	s := e.Evaluate(script, tmpl, nil, false).Score
	assert.LessOrEqual(t, s, prev)
	prev = s

	// 2: off-template speaker tag
	script.Lines[3].Speaker = "speaker-7"
	s = e.Evaluate(script, tmpl, nil, false).Score
	assert.LessOrEqual(t, s, prev)
	prev = s

	// 3: truncated ending
	script.Lines[len(script.Lines)-1].Text = "and then the ice suddenly"
	s = e.Evaluate(script, tmpl, nil, false).Score
	assert.LessOrEqual(t, s, prev)
	prev = s

	// 4: short content (keeping the truncated tail)
	script.Lines = script.Lines[:4]
	script.Lines[3].Text = "and then the ice suddenly"
	s = e.Evaluate(script, tmpl, nil, false).Score
	assert.LessOrEqual(t, s, prev)
	assert.GreaterOrEqual(t, s, 0)
}

func TestEvaluate_TruncationSignalFails(t *testing.T) {
	report := newEvaluator().Evaluate(cleanScript(), podcastTemplate(t), nil, true)

	assert.True(t, report.Has(model.DefectTruncation))
	assert.False(t, report.Passed, "a truncation defect fails regardless of score")
}

func TestEvaluate_TruncationResidue(t *testing.T) {
	script := cleanScript()
	script.Lines[len(script.Lines)-1].Text = "and the ice kept moving until"

	report := newEvaluator().Evaluate(script, podcastTemplate(t), nil, false)
	assert.True(t, report.Has(model.DefectTruncation))
}

func TestEvaluate_OffTemplatePlaceholders(t *testing.T) {
	script := cleanScript()
	script.Lines[0].Text = "[intro music] Welcome to the show about glaciers."

	report := newEvaluator().Evaluate(script, podcastTemplate(t), nil, false)
	assert.True(t, report.Has(model.DefectOffTemplateTag))
}

func TestEvaluate_SeamCoherence(t *testing.T) {
	e := newEvaluator()
	tmpl := podcastTemplate(t)

	// Seam lines share plenty of words: no defect.
	good := cleanScript()
	report := e.Evaluate(good, tmpl, []int{3}, false)
	assert.False(t, report.Has(model.DefectCoherenceBreak), "defects: %v", report.Defects)

	// Abrupt topic change across the seam.
	bad := cleanScript()
	bad.Lines[3].Text = "Anyway, my favourite pasta recipe needs browned butter."
	bad.Lines[4].Text = "You simmer sage leaves until fragrant, then serve."
	report = e.Evaluate(bad, tmpl, []int{3}, false)
	assert.True(t, report.Has(model.DefectCoherenceBreak))
}

func TestEvaluate_ShortContent(t *testing.T) {
	script := &model.Script{
		Template: "podcast",
		Lines: []model.ScriptLine{
			{Speaker: "speaker-1", Text: "Welcome and goodbye."},
		},
	}

	report := newEvaluator().Evaluate(script, podcastTemplate(t), nil, false)
	assert.True(t, report.Has(model.DefectShortContent))
}

func TestEvaluate_UntaggedTemplate(t *testing.T) {
	tmpl, err := prompt.Get("lecture")
	require.NoError(t, err)

	script := &model.Script{
		Template: "lecture",
		Lines: []model.ScriptLine{
			{Text: "Today we consider the history of navigation at sea."},
			{Text: "Early sailors relied on the stars and on coastal landmarks."},
			{Text: "The marine chronometer finally made longitude measurable."},
			{Text: "Navigation at sea shaped trade routes for centuries."},
			{Text: "That history still echoes in the terms sailors use today."},
		},
	}

	report := newEvaluator().Evaluate(script, tmpl, nil, false)
	assert.Equal(t, 100, report.Score, "defects: %v", report.Defects)
	assert.True(t, report.Passed)
}

func TestEvaluate_ScoreFloor(t *testing.T) {
	script := &model.Script{
		Template: "podcast",
		Lines: []model.ScriptLine{
			{Speaker: "speaker-9", Text: "[static]"},
		},
	}

	report := newEvaluator().Evaluate(script, podcastTemplate(t), []int{1}, true)
	assert.GreaterOrEqual(t, report.Score, 0)
	assert.False(t, report.Passed)
}
