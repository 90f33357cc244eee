package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"podscript/pkg/config"
	"podscript/pkg/llm"
	"podscript/pkg/model"
	"podscript/pkg/planner"
	"podscript/pkg/prompt"
)

// profile names used for gateway calls.
const (
	profileScript  = "script"
	profileSummary = "summary"
)

// Result bundles the assembled script with the batching information
// quality control needs.
type Result struct {
	Script *model.Script

	// Seams holds the line indexes where a new batch started. Empty when
	// the single-call path succeeded.
	Seams []int

	// Truncated reports that the final slice was still cut off. The
	// generator never recurses on it; quality control flags the defect.
	Truncated bool

	// Batched reports that the fallback path ran.
	Batched bool

	// Calls counts the gateway invocations made.
	Calls int
}

// Generator turns documents into scripts. It is a two-state machine: the
// whole document in one call, then a per-segment batched fallback when
// the single call comes back truncated or unparseable.
type Generator struct {
	provider llm.Provider
	prompts  *prompt.Manager
	cfg      config.GeneratorConfig
	summary  config.SummaryConfig
}

// New creates a Generator.
func New(provider llm.Provider, prompts *prompt.Manager, cfg config.GeneratorConfig, summary config.SummaryConfig) *Generator {
	return &Generator{provider: provider, prompts: prompts, cfg: cfg, summary: summary}
}

// Generate produces a script from the document. Gateway errors are
// surfaced verbatim and never retried here; a truncated final slice is
// returned as a flagged best-effort result, not an error.
func (g *Generator) Generate(ctx context.Context, doc model.Document, genCfg model.GenerationConfig) (*Result, error) {
	if err := g.checkInput(doc, &genCfg); err != nil {
		return nil, err
	}
	genCfg = genCfg.Normalize()

	tmpl, err := prompt.Get(genCfg.Template)
	if err != nil {
		return nil, err
	}

	opts := llm.Options{
		MaxOutputTokens: genCfg.MaxOutputTokens,
		Temperature:     genCfg.Temperature,
	}

	// State 1: the whole document in one call.
	text, err := g.render(tmpl.Skeleton, prompt.SingleCallData(doc, genCfg.Instructions))
	if err != nil {
		return nil, err
	}

	res, err := g.call(ctx, profileScript, text, opts)
	if err != nil {
		return nil, err
	}

	lines := parseLines(res.Text, tmpl)
	if !res.Truncated && complete(lines) {
		slog.Info("Script generated in a single call", "template", tmpl.ID, "lines", len(lines))
		return &Result{
			Script: &model.Script{Template: tmpl.ID, Lines: lines, CreatedAt: time.Now()},
			Calls:  1,
		}, nil
	}

	slog.Info("Single call insufficient, entering batched fallback",
		"template", tmpl.ID, "truncated", res.Truncated, "parsed_lines", len(lines))

	// State 2: batched fallback.
	return g.generateBatched(ctx, doc, genCfg, tmpl, opts)
}

func (g *Generator) generateBatched(ctx context.Context, doc model.Document, genCfg model.GenerationConfig, tmpl *prompt.Template, opts llm.Options) (*Result, error) {
	segments, err := planner.Plan(doc, g.batchCount(doc, genCfg))
	if err != nil {
		return nil, err
	}

	script := &model.Script{Template: tmpl.ID, CreatedAt: time.Now()}
	result := &Result{Script: script, Batched: true, Calls: 1} // the failed single call counts

	for _, seg := range segments {
		tail := prompt.ContextTail(script, g.cfg.ContextTailLines)
		text, err := g.render(tmpl.Skeleton, prompt.SegmentData(seg, len(segments), tail, genCfg.Instructions))
		if err != nil {
			return nil, err
		}

		res, err := g.call(ctx, profileScript, text, opts)
		if err != nil {
			return nil, err
		}
		result.Calls++

		lines := parseLines(res.Text, tmpl)
		if len(lines) == 0 {
			slog.Warn("Batch slice produced no parseable lines", "segment", seg.Index, "label", seg.Label)
			continue
		}
		renumber(lines, tmpl, script.LastLine())

		if len(script.Lines) > 0 {
			result.Seams = append(result.Seams, len(script.Lines))
		}
		script.Lines = append(script.Lines, lines...)

		// Only the final slice's truncation survives into the result;
		// there is no further fallback to take.
		result.Truncated = res.Truncated || !complete(lines)
	}

	slog.Info("Batched generation finished",
		"segments", len(segments), "lines", len(script.Lines), "seams", len(result.Seams), "truncated", result.Truncated)
	return result, nil
}

// Summarize condenses a finished script. minimal enforces the word cap by
// instruction first and sentence-boundary truncation second.
func (g *Generator) Summarize(ctx context.Context, script *model.Script, kind model.SummaryKind, instructions string) (string, error) {
	if script == nil || script.LineCount() == 0 {
		return "", model.NewInputError("script is empty")
	}
	if kind != model.SummaryBlog && kind != model.SummaryMinimal {
		return "", model.NewInputError("unknown summary kind %q", kind)
	}

	text, err := g.render(prompt.SummarySkeleton(kind), prompt.SummaryData{
		Document:     script.Text(),
		WordCap:      g.summary.MinimalWordCap,
		Instructions: instructions,
	})
	if err != nil {
		return "", err
	}

	res, err := g.call(ctx, profileSummary, text, llm.Options{MaxOutputTokens: g.summary.MaxOutputTokens})
	if err != nil {
		return "", err
	}

	out := strings.TrimSpace(res.Text)
	if kind == model.SummaryMinimal {
		out = capWords(out, g.summary.MinimalWordCap)
	}
	return out, nil
}

func (g *Generator) checkInput(doc model.Document, genCfg *model.GenerationConfig) error {
	if doc.IsEmpty() {
		return model.NewInputError("document is empty")
	}
	if g.cfg.MinDocumentChars > 0 && doc.Length < g.cfg.MinDocumentChars {
		return model.NewInputError("document too short: %d chars, minimum %d", doc.Length, g.cfg.MinDocumentChars)
	}
	maxInput := genCfg.MaxInputChars
	if maxInput <= 0 {
		maxInput = g.cfg.MaxInputChars
	}
	if maxInput > 0 && doc.Length > maxInput {
		return model.NewInputError("document too long: %d chars, maximum %d", doc.Length, maxInput)
	}
	if genCfg.Template == "" {
		genCfg.Template = g.cfg.DefaultTemplate
	}
	if genCfg.MaxOutputTokens == 0 {
		genCfg.MaxOutputTokens = g.cfg.MaxOutputTokens
	}
	if genCfg.Temperature == 0 {
		genCfg.Temperature = g.cfg.Temperature
	}
	return nil
}

// batchCount picks the segment count for the fallback: the caller's
// explicit wish, then the configured default, then the planner's
// suggestion. Never fewer than two, or batching would change nothing.
func (g *Generator) batchCount(doc model.Document, genCfg model.GenerationConfig) int {
	n := genCfg.SegmentCount
	if n <= 1 {
		n = g.cfg.BatchSegments
	}
	if n <= 1 {
		n = planner.SuggestParts(doc, genCfg.MaxOutputTokens)
	}
	if n < 2 {
		n = 2
	}
	return n
}

func (g *Generator) render(skeleton string, data any) (string, error) {
	out, err := g.prompts.Render(skeleton, data)
	if err != nil {
		return "", fmt.Errorf("rendering prompt %s: %w", skeleton, err)
	}
	return out, nil
}

// call performs one gateway invocation with the configured timeout.
func (g *Generator) call(ctx context.Context, profile, text string, opts llm.Options) (*llm.Result, error) {
	if g.cfg.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(g.cfg.GenerationTimeout))
		defer cancel()
	}
	return g.provider.Generate(ctx, profile, text, opts)
}

// parseLines extracts script lines from a gateway response, best-effort:
// markdown fences and (for tagged templates) untagged chatter are dropped.
func parseLines(text string, tmpl *prompt.Template) []model.ScriptLine {
	var lines []model.ScriptLine
	for _, raw := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.HasPrefix(trimmed, "```") {
			continue
		}

		speaker, content, ok := tmpl.MatchLine(trimmed)
		if !ok {
			continue
		}

		line := model.ScriptLine{Text: content}
		if tmpl.Tagged {
			line.Speaker = fmt.Sprintf("speaker-%d", speaker)
		}
		lines = append(lines, line)
	}
	return lines
}

// complete reports whether a parsed slice ends cleanly.
func complete(lines []model.ScriptLine) bool {
	if len(lines) == 0 {
		return false
	}
	return prompt.EndsComplete(lines[len(lines)-1].Text)
}

// renumber rewrites a slice's speaker tags so the alternation continues
// across the seam: the slice keeps its internal turn structure but starts
// with the voice opposite to the script's current last line.
func renumber(lines []model.ScriptLine, tmpl *prompt.Template, last model.ScriptLine) {
	if !tmpl.Tagged || len(lines) == 0 {
		return
	}

	if tmpl.Speakers == 1 {
		for i := range lines {
			lines[i].Speaker = "speaker-1"
		}
		return
	}

	current := "speaker-1"
	if last.Speaker == "speaker-1" {
		current = "speaker-2"
	}

	prevOrig := ""
	for i := range lines {
		if i > 0 && lines[i].Speaker != prevOrig {
			current = toggle(current)
		}
		prevOrig = lines[i].Speaker
		lines[i].Speaker = current
	}
}

func toggle(speaker string) string {
	if speaker == "speaker-1" {
		return "speaker-2"
	}
	return "speaker-1"
}

// capWords enforces the minimal-summary word cap, cutting at the last
// sentence boundary that fits. A single over-long sentence is hard-cut.
func capWords(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	words := strings.Fields(text)
	if len(words) <= limit {
		return text
	}

	kept := words[:limit]
	for i := len(kept) - 1; i >= 0; i-- {
		if prompt.EndsComplete(kept[i]) {
			return strings.Join(kept[:i+1], " ")
		}
	}
	return strings.Join(kept, " ") + "…"
}
