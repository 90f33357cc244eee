package model

import (
	"strings"
	"time"
)

// SourceFormat tags the origin of a document's text.
type SourceFormat string

const (
	FormatText SourceFormat = "text"
	FormatHTML SourceFormat = "html"
	FormatPDF  SourceFormat = "pdf"
	FormatEPUB SourceFormat = "epub"
)

// Document is the immutable input to the pipeline. The text has already
// been extracted from its container; the core never sees raw binary.
type Document struct {
	Text   string       `json:"text"`
	Length int          `json:"length"`
	Format SourceFormat `json:"format"`
}

// NewDocument builds a Document from extracted text.
func NewDocument(text string, format SourceFormat) Document {
	return Document{Text: text, Length: len(text), Format: format}
}

// IsEmpty reports whether the document contains no usable text.
func (d Document) IsEmpty() bool {
	return strings.TrimSpace(d.Text) == ""
}

// GenerationConfig is the per-request value object. It is passed by value
// into every call; there is no shared generation state between requests.
type GenerationConfig struct {
	Template        string  `json:"template"`
	MaxOutputTokens int32   `json:"max_output_tokens"`
	MaxInputChars   int     `json:"max_input_chars"`
	SegmentCount    int     `json:"segment_count"`
	Temperature     float32 `json:"temperature"`
	Instructions    string  `json:"instructions"` // optional free-text user instructions
}

// Generation limits. MaxOutputTokensCeiling is a conservative floor across
// the supported model families; per-model ceilings belong to the provider.
const (
	MinOutputTokens        = 256
	MaxOutputTokensCeiling = 65536
	DefaultOutputTokens    = 8192
	DefaultTemperature     = 0.7
)

// Normalize clamps the config into its supported range and fills defaults.
func (c GenerationConfig) Normalize() GenerationConfig {
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = DefaultOutputTokens
	}
	if c.MaxOutputTokens < MinOutputTokens {
		c.MaxOutputTokens = MinOutputTokens
	}
	if c.MaxOutputTokens > MaxOutputTokensCeiling {
		c.MaxOutputTokens = MaxOutputTokensCeiling
	}
	if c.Temperature <= 0 {
		c.Temperature = DefaultTemperature
	}
	if c.SegmentCount < 1 {
		c.SegmentCount = 1
	}
	return c
}

// Segment is one planned chunk of the source document. Segments never
// overlap; concatenating them in ordinal order reconstructs the document
// (modulo whitespace normalization at the split points).
type Segment struct {
	Index           int    `json:"index"`
	Text            string `json:"text"`
	Label           string `json:"label"`
	EstimatedTokens int    `json:"estimated_tokens"`
}

// ScriptLine is one speaker turn. Speaker is empty for untagged templates
// (lecture, summaries).
type ScriptLine struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// String renders the line the way it appears in a transcript.
func (l ScriptLine) String() string {
	if l.Speaker == "" {
		return l.Text
	}
	return l.Speaker + ": " + l.Text
}

// Script is the assembled output of the generator. It is built
// incrementally (one shot or batch by batch) and immutable once handed to
// quality control.
type Script struct {
	Template  string       `json:"template"`
	Lines     []ScriptLine `json:"lines"`
	CreatedAt time.Time    `json:"created_at"`
}

// Text renders the full script as a transcript.
func (s *Script) Text() string {
	parts := make([]string, 0, len(s.Lines))
	for _, l := range s.Lines {
		parts = append(parts, l.String())
	}
	return strings.Join(parts, "\n")
}

// LineCount returns the number of speaker turns.
func (s *Script) LineCount() int { return len(s.Lines) }

// LastLine returns the final line, or a zero line for an empty script.
func (s *Script) LastLine() ScriptLine {
	if len(s.Lines) == 0 {
		return ScriptLine{}
	}
	return s.Lines[len(s.Lines)-1]
}

// SummaryKind selects the promotional summary flavor.
type SummaryKind string

const (
	SummaryBlog    SummaryKind = "blog"    // long-form Markdown article
	SummaryMinimal SummaryKind = "minimal" // hard-capped synopsis
)

// DefectCategory classifies a quality defect.
type DefectCategory string

const (
	DefectTruncation      DefectCategory = "truncation"
	DefectMalformedFormat DefectCategory = "malformed-format"
	DefectOffTemplateTag  DefectCategory = "off-template-tag"
	DefectCoherenceBreak  DefectCategory = "coherence-break"
	DefectShortContent    DefectCategory = "short-content"
)

// Defect is one detected quality issue.
type Defect struct {
	Category DefectCategory `json:"category"`
	Detail   string         `json:"detail"`
}

// QualityReport is the result of evaluating a finished script. It is
// created once per script and never mutated.
type QualityReport struct {
	Score   int      `json:"score"` // 0-100
	Defects []Defect `json:"defects"`
	Passed  bool     `json:"passed"`
}

// Has reports whether the report contains a defect of the given category.
func (r *QualityReport) Has(cat DefectCategory) bool {
	for _, d := range r.Defects {
		if d.Category == cat {
			return true
		}
	}
	return false
}
