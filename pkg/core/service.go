package core

import (
	"context"
	"log/slog"

	"podscript/pkg/config"
	"podscript/pkg/generator"
	"podscript/pkg/model"
	"podscript/pkg/planner"
	"podscript/pkg/prompt"
	"podscript/pkg/quality"
)

// Archiver persists finished scripts and their summaries. Implementations
// live outside the core; a nil Archiver disables persistence.
type Archiver interface {
	SaveScript(ctx context.Context, script *model.Script, report model.QualityReport) (string, error)
	SaveSummary(ctx context.Context, scriptUUID string, kind model.SummaryKind, text string) (string, error)
}

// Service is the façade over the pipeline: plan, generate, evaluate,
// summarize. One Service handles any number of independent requests;
// all per-request state lives on the stack.
type Service struct {
	gen     *generator.Generator
	eval    *quality.Evaluator
	archive Archiver
}

// New wires up a Service.
func New(gen *generator.Generator, qCfg config.QualityConfig, archive Archiver) *Service {
	return &Service{
		gen:     gen,
		eval:    quality.New(qCfg),
		archive: archive,
	}
}

// Outcome is one finished pipeline run. ArchiveID is empty when
// persistence is disabled or the archive write failed.
type Outcome struct {
	Script    *model.Script
	Report    model.QualityReport
	ArchiveID string
}

// GenerateScript runs the full pipeline: generate (single-call or
// batched), then evaluate the assembled script exactly once.
func (s *Service) GenerateScript(ctx context.Context, doc model.Document, cfg model.GenerationConfig) (*Outcome, error) {
	res, err := s.gen.Generate(ctx, doc, cfg)
	if err != nil {
		return nil, err
	}

	tmpl, err := prompt.Get(res.Script.Template)
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		Script: res.Script,
		Report: s.eval.Evaluate(res.Script, tmpl, res.Seams, res.Truncated),
	}

	if s.archive != nil {
		if id, err := s.archive.SaveScript(ctx, out.Script, out.Report); err != nil {
			slog.Warn("Failed to archive script", "error", err)
		} else {
			slog.Debug("Script archived", "id", id)
			out.ArchiveID = id
		}
	}

	return out, nil
}

// GenerateSummary condenses a finished script and archives the result
// next to it. scriptID links the summary to its archived script; it may
// be empty when the script itself was not archived.
func (s *Service) GenerateSummary(ctx context.Context, script *model.Script, scriptID string, kind model.SummaryKind, instructions string) (string, error) {
	text, err := s.gen.Summarize(ctx, script, kind, instructions)
	if err != nil {
		return "", err
	}

	if s.archive != nil {
		if id, err := s.archive.SaveSummary(ctx, scriptID, kind, text); err != nil {
			slog.Warn("Failed to archive summary", "error", err)
		} else {
			slog.Debug("Summary archived", "id", id, "script_id", scriptID)
		}
	}

	return text, nil
}

// PlanSegments exposes the planner for preview and debugging.
func (s *Service) PlanSegments(doc model.Document, count int) ([]model.Segment, error) {
	return planner.Plan(doc, count)
}
