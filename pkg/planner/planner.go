package planner

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"podscript/pkg/model"
)

// Plan partitions a document into count ordered segments, cutting at
// paragraph boundaries nearest to the even-division points. Segments are
// gap-free: concatenating them in ordinal order reproduces the document
// byte-for-byte. When the document has fewer split points than requested,
// Plan degrades to fewer segments rather than returning empty ones.
func Plan(doc model.Document, count int) ([]model.Segment, error) {
	if doc.IsEmpty() {
		return nil, model.NewInputError("document is empty")
	}
	if count < 1 {
		return nil, model.NewInputError("segment count must be >= 1, got %d", count)
	}

	if count == 1 {
		return []model.Segment{newSegment(0, doc.Text)}, nil
	}

	units := splitUnits(doc.Text)
	if len(units) <= count {
		if len(units) < count {
			slog.Debug("Planner degrading to fewer segments", "requested", count, "available", len(units))
		}
		segments := make([]model.Segment, 0, len(units))
		for i, u := range units {
			segments = append(segments, newSegment(i, u))
		}
		return segments, nil
	}

	bounds := pickBoundaries(units, count)

	segments := make([]model.Segment, 0, count)
	prev := 0
	for i, b := range bounds {
		segments = append(segments, newSegment(i, strings.Join(units[prev:b], "")))
		prev = b
	}
	segments = append(segments, newSegment(len(bounds), strings.Join(units[prev:], "")))
	return segments, nil
}

// SuggestParts estimates how many batched segments keep each slice's
// script within the per-call output budget.
func SuggestParts(doc model.Document, maxOutputTokens int32) int {
	if maxOutputTokens <= 0 {
		maxOutputTokens = model.DefaultOutputTokens
	}

	// A script tends to come out about as long as its source, so the
	// input token estimate doubles as the per-part output estimate.
	estTokens := estimateTokens(doc.Text)
	parts := int(estTokens/int(maxOutputTokens)) + 1

	if parts < 1 {
		parts = 1
	}
	if parts > 8 {
		parts = 8
	}
	return parts
}

func newSegment(index int, text string) model.Segment {
	return model.Segment{
		Index:           index,
		Text:            text,
		Label:           labelFor(text),
		EstimatedTokens: estimateTokens(text),
	}
}

func estimateTokens(text string) int {
	// ~4 characters per token, the usual rough cut for English prose.
	return len(text)/4 + 1
}

// splitUnits breaks text into paragraph units, each carrying its trailing
// blank-line separator so the units concatenate back to the input exactly.
// Single-paragraph documents fall back to sentence units.
func splitUnits(text string) []string {
	units := splitAfter(text, paragraphSep)
	if len(units) > 1 {
		return units
	}
	return splitAfter(text, sentenceSep)
}

var (
	paragraphSep = regexp.MustCompile(`\n\s*\n`)
	sentenceSep  = regexp.MustCompile(`[.!?]["')\]]?\s+`)
)

// splitAfter cuts text after every separator match, keeping the separator
// attached to the preceding piece.
func splitAfter(text string, sep *regexp.Regexp) []string {
	matches := sep.FindAllStringIndex(text, -1)
	var units []string
	prev := 0
	for _, m := range matches {
		if m[1] >= len(text) {
			break // trailing separator stays with the last unit
		}
		units = append(units, text[prev:m[1]])
		prev = m[1]
	}
	units = append(units, text[prev:])
	return units
}

// pickBoundaries selects count-1 strictly increasing unit indexes, each
// nearest to its even-division point in character offset.
func pickBoundaries(units []string, count int) []int {
	offsets := make([]int, len(units)+1)
	for i, u := range units {
		offsets[i+1] = offsets[i] + len(u)
	}
	total := offsets[len(units)]

	var bounds []int
	prev := 0
	for k := 1; k < count; k++ {
		target := total * k / count

		// Nearest boundary to target that still leaves room for the
		// remaining cuts.
		best := -1
		for b := prev + 1; b <= len(units)-(count-k); b++ {
			if best == -1 || abs(offsets[b]-target) < abs(offsets[best]-target) {
				best = b
			}
		}
		if best == -1 {
			break
		}
		bounds = append(bounds, best)
		prev = best
	}
	return bounds
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// labelFor derives a short thematic label from a segment's content: an
// explicit heading when the segment starts with one, otherwise the most
// frequent content words.
func labelFor(text string) string {
	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines) && i < 3; i++ {
		if h, ok := headingOf(lines[i]); ok {
			return h
		}
	}

	keywords := topKeywords(text, 2)
	if len(keywords) > 0 {
		return strings.Join(keywords, ", ")
	}
	return "general discussion"
}

var numberedHeading = regexp.MustCompile(`^\d+[.)]\s+(.+)$`)

func headingOf(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", false
	}
	if strings.HasPrefix(trimmed, "#") {
		return strings.TrimSpace(strings.TrimLeft(trimmed, "# ")), true
	}
	if len(trimmed) < 60 && strings.HasSuffix(trimmed, ":") {
		return strings.TrimSuffix(trimmed, ":"), true
	}
	if m := numberedHeading.FindStringSubmatch(trimmed); m != nil && len(trimmed) < 60 {
		return m[1], true
	}
	return "", false
}

var wordPattern = regexp.MustCompile(`[\p{L}][\p{L}\p{N}'-]+`)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"has": true, "have": true, "was": true, "were": true, "will": true,
	"with": true, "this": true, "that": true, "they": true, "them": true,
	"then": true, "than": true, "from": true, "what": true, "when": true,
	"where": true, "which": true, "who": true, "how": true, "why": true,
	"its": true, "it's": true, "into": true, "also": true, "been": true,
	"more": true, "most": true, "some": true, "such": true, "only": true,
	"other": true, "over": true, "their": true, "there": true, "these": true,
	"those": true, "would": true, "could": true, "should": true, "about": true,
	// Reporting and discourse words never name a topic.
	"say": true, "says": true, "said": true, "talk": true, "talks": true,
	"talked": true, "tell": true, "tells": true, "discusses": true,
	"describes": true, "explains": true, "sentence": true, "sentences": true,
	"paragraph": true, "paragraphs": true, "text": true, "article": true,
	"document": true, "section": true, "chapter": true,
}

// topKeywords returns the n most frequent content words, ties broken by
// first appearance so the result is deterministic.
func topKeywords(text string, n int) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)

	freq := make(map[string]int)
	firstSeen := make(map[string]int)
	for i, w := range words {
		if len(w) < 3 || stopwords[w] {
			continue
		}
		if _, ok := freq[w]; !ok {
			firstSeen[w] = i
		}
		freq[w]++
	}

	unique := make([]string, 0, len(freq))
	for w := range freq {
		unique = append(unique, w)
	}
	sort.Slice(unique, func(i, j int) bool {
		if freq[unique[i]] != freq[unique[j]] {
			return freq[unique[i]] > freq[unique[j]]
		}
		return firstSeen[unique[i]] < firstSeen[unique[j]]
	})

	if len(unique) > n {
		unique = unique[:n]
	}
	return unique
}
