package quality

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"podscript/pkg/config"
	"podscript/pkg/model"
	"podscript/pkg/prompt"
)

// Evaluator runs the quality checks over a finished script. It is
// deterministic: the same script yields the same report, and adding
// defects can only lower the score.
type Evaluator struct {
	cfg config.QualityConfig
}

// New creates an Evaluator with the given scoring constants.
func New(cfg config.QualityConfig) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Evaluate checks the whole assembled script once. seams holds the line
// indexes where a new batch started (empty when the single-call path
// succeeded); truncated carries the generator's residual-truncation
// signal for the final slice.
func (e *Evaluator) Evaluate(script *model.Script, tmpl *prompt.Template, seams []int, truncated bool) model.QualityReport {
	var defects []model.Defect

	if d, ok := e.checkFormat(script, tmpl); ok {
		defects = append(defects, d)
	}
	if d, ok := e.checkOffTemplateTags(script, tmpl); ok {
		defects = append(defects, d)
	}
	if d, ok := e.checkTruncation(script, truncated); ok {
		defects = append(defects, d)
	}
	if d, ok := e.checkSeams(script, seams); ok {
		defects = append(defects, d)
	}
	if d, ok := e.checkLength(script); ok {
		defects = append(defects, d)
	}

	score := 100
	for _, d := range defects {
		score -= e.penalty(d.Category)
	}
	if score < 0 {
		score = 0
	}

	report := model.QualityReport{
		Score:   score,
		Defects: defects,
	}
	report.Passed = score >= e.cfg.PassThreshold && !report.Has(model.DefectTruncation)

	slog.Debug("Quality evaluation", "score", score, "defects", len(defects), "passed", report.Passed)
	return report
}

func (e *Evaluator) penalty(c model.DefectCategory) int {
	switch c {
	case model.DefectTruncation:
		return e.cfg.PenaltyTruncation
	case model.DefectMalformedFormat:
		return e.cfg.PenaltyMalformedFormat
	case model.DefectOffTemplateTag:
		return e.cfg.PenaltyOffTemplateTag
	case model.DefectCoherenceBreak:
		return e.cfg.PenaltyCoherenceBreak
	case model.DefectShortContent:
		return e.cfg.PenaltyShortContent
	default:
		return 0
	}
}

// checkFormat verifies every line against the template's speaker pattern
// and, for two-voice templates, the alternation invariant.
func (e *Evaluator) checkFormat(script *model.Script, tmpl *prompt.Template) (model.Defect, bool) {
	var bad int
	prevSpeaker := ""
	for i, line := range script.Lines {
		if strings.TrimSpace(line.Text) == "" {
			bad++
			continue
		}
		if tmpl.Tagged {
			if line.Speaker == "" {
				bad++
				continue
			}
			if tmpl.Speakers == 2 && i > 0 && line.Speaker == prevSpeaker {
				bad++
			}
			prevSpeaker = line.Speaker
		} else if line.Speaker != "" {
			bad++
		}
	}

	if bad == 0 {
		return model.Defect{}, false
	}
	return model.Defect{
		Category: model.DefectMalformedFormat,
		Detail:   fmt.Sprintf("%d line(s) violate the %s format", bad, tmpl.ID),
	}, true
}

var (
	speakerTag  = regexp.MustCompile(`^speaker-(\d+)$`)
	placeholder = regexp.MustCompile(`\[[^\]]{1,40}\]`)
)

// checkOffTemplateTags flags speaker numbers outside the template's range
// and residual stage directions like "[intro music]".
func (e *Evaluator) checkOffTemplateTags(script *model.Script, tmpl *prompt.Template) (model.Defect, bool) {
	var details []string

	if tmpl.Tagged {
		outOfRange := 0
		for _, line := range script.Lines {
			m := speakerTag.FindStringSubmatch(line.Speaker)
			if m == nil {
				continue // counted by checkFormat
			}
			var n int
			fmt.Sscanf(m[1], "%d", &n)
			if n < 1 || n > tmpl.Speakers {
				outOfRange++
			}
		}
		if outOfRange > 0 {
			details = append(details, fmt.Sprintf("%d line(s) use a speaker outside 1..%d", outOfRange, tmpl.Speakers))
		}
	}

	placeholders := 0
	for _, line := range script.Lines {
		placeholders += len(placeholder.FindAllString(line.Text, -1))
	}
	if placeholders > 0 {
		details = append(details, fmt.Sprintf("%d bracketed placeholder(s)", placeholders))
	}

	if len(details) == 0 {
		return model.Defect{}, false
	}
	return model.Defect{
		Category: model.DefectOffTemplateTag,
		Detail:   strings.Join(details, "; "),
	}, true
}

func (e *Evaluator) checkTruncation(script *model.Script, truncated bool) (model.Defect, bool) {
	if truncated {
		return model.Defect{
			Category: model.DefectTruncation,
			Detail:   "generator reported a truncated final slice",
		}, true
	}

	last := script.LastLine()
	if last.Text == "" {
		return model.Defect{
			Category: model.DefectTruncation,
			Detail:   "script is empty",
		}, true
	}
	if !prompt.EndsComplete(last.Text) {
		return model.Defect{
			Category: model.DefectTruncation,
			Detail:   fmt.Sprintf("final line does not end a sentence: %q", tailOf(last.Text, 40)),
		}, true
	}
	return model.Defect{}, false
}

// checkSeams runs a lexical-overlap scan across each batch seam: the
// lines just before and after a seam should share some content words.
func (e *Evaluator) checkSeams(script *model.Script, seams []int) (model.Defect, bool) {
	breaks := 0
	for _, seam := range seams {
		if seam <= 0 || seam >= len(script.Lines) {
			continue
		}
		before := seamWindow(script.Lines, seam-2, seam)
		after := seamWindow(script.Lines, seam, seam+2)
		if overlap(before, after) < e.cfg.SeamOverlapThreshold {
			breaks++
		}
	}

	if breaks == 0 {
		return model.Defect{}, false
	}
	return model.Defect{
		Category: model.DefectCoherenceBreak,
		Detail:   fmt.Sprintf("%d of %d seam(s) show an abrupt topic shift", breaks, len(seams)),
	}, true
}

func (e *Evaluator) checkLength(script *model.Script) (model.Defect, bool) {
	if script.LineCount() >= e.cfg.MinLines {
		return model.Defect{}, false
	}
	return model.Defect{
		Category: model.DefectShortContent,
		Detail:   fmt.Sprintf("only %d line(s), expected at least %d", script.LineCount(), e.cfg.MinLines),
	}, true
}

func seamWindow(lines []model.ScriptLine, from, to int) string {
	if from < 0 {
		from = 0
	}
	if to > len(lines) {
		to = len(lines)
	}
	var sb strings.Builder
	for _, l := range lines[from:to] {
		sb.WriteString(l.Text)
		sb.WriteString(" ")
	}
	return sb.String()
}

var seamWord = regexp.MustCompile(`[\p{L}][\p{L}\p{N}'-]{2,}`)

// overlap counts distinct content words the two texts share.
func overlap(a, b string) int {
	seen := make(map[string]bool)
	for _, w := range seamWord.FindAllString(strings.ToLower(a), -1) {
		seen[w] = true
	}
	shared := make(map[string]bool)
	for _, w := range seamWord.FindAllString(strings.ToLower(b), -1) {
		if seen[w] {
			shared[w] = true
		}
	}
	return len(shared)
}

func tailOf(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return "..." + string(runes[len(runes)-n:])
}
