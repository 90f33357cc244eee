package prompt

import (
	"strings"

	"podscript/pkg/model"
)

// Positions of a segment within a batched generation pass.
const (
	PositionOnly   = "only"
	PositionFirst  = "first"
	PositionMiddle = "middle"
	PositionLast   = "last"
)

// ScriptData feeds a script skeleton.
type ScriptData struct {
	Document     string // full document or one segment
	Label        string // thematic label, empty for single-call
	Position     string
	SegmentIndex int // 1-based
	SegmentCount int
	Context      string // tail of the previously generated lines
	Instructions string // caller-supplied extra directives
}

// SummaryData feeds a summary skeleton.
type SummaryData struct {
	Document     string
	WordCap      int
	Instructions string
}

// SingleCallData builds the prompt data for the whole-document path.
func SingleCallData(doc model.Document, instructions string) ScriptData {
	return ScriptData{
		Document:     doc.Text,
		Position:     PositionOnly,
		SegmentIndex: 1,
		SegmentCount: 1,
		Instructions: instructions,
	}
}

// SegmentData builds the prompt data for one segment of the batched path.
// contextTail carries the last lines of the script generated so far.
func SegmentData(seg model.Segment, count int, contextTail, instructions string) ScriptData {
	return ScriptData{
		Document:     seg.Text,
		Label:        seg.Label,
		Position:     positionFor(seg.Index, count),
		SegmentIndex: seg.Index + 1,
		SegmentCount: count,
		Context:      contextTail,
		Instructions: instructions,
	}
}

func positionFor(index, count int) string {
	switch {
	case count <= 1:
		return PositionOnly
	case index == 0:
		return PositionFirst
	case index == count-1:
		return PositionLast
	default:
		return PositionMiddle
	}
}

// ContextTail returns the last n lines of a script rendered for prompt
// injection, or "" when the script is empty.
func ContextTail(script *model.Script, n int) string {
	if script == nil || len(script.Lines) == 0 || n <= 0 {
		return ""
	}
	start := len(script.Lines) - n
	if start < 0 {
		start = 0
	}
	var sb strings.Builder
	for i, line := range script.Lines[start:] {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(line.String())
	}
	return sb.String()
}
