package prompt

import (
	"regexp"
	"strconv"
	"strings"

	"podscript/pkg/model"
)

// speakerLine matches one tagged dialogue line: "speaker-N: text".
var speakerLine = regexp.MustCompile(`^speaker-(\d+):\s*(.+)$`)

// Template describes one script format the generator can produce.
type Template struct {
	ID       string
	Speakers int  // number of distinct voices, 0 for untagged prose
	Tagged   bool // lines carry speaker-N: prefixes
	Skeleton string
}

var registry = map[string]*Template{
	"podcast": {
		ID:       "podcast",
		Speakers: 2,
		Tagged:   true,
		Skeleton: "podcast.tmpl",
	},
	"monologue": {
		ID:       "monologue",
		Speakers: 1,
		Tagged:   true,
		Skeleton: "monologue.tmpl",
	},
	"lecture": {
		ID:       "lecture",
		Speakers: 0,
		Tagged:   false,
		Skeleton: "lecture.tmpl",
	},
}

// Get looks up a script template by id.
func Get(id string) (*Template, error) {
	t, ok := registry[id]
	if !ok {
		return nil, model.NewInputError("unknown template %q (known: %s)", id, strings.Join(IDs(), ", "))
	}
	return t, nil
}

// IDs returns the known template ids in stable order.
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	// map iteration order is random; keep the list stable for messages
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[j] < ids[i] {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}
	return ids
}

// MatchLine parses one response line against the template's format.
// For untagged templates every non-empty line matches as speaker 0.
func (t *Template) MatchLine(line string) (speaker int, text string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return 0, "", false
	}

	if !t.Tagged {
		return 0, trimmed, true
	}

	m := speakerLine.FindStringSubmatch(trimmed)
	if m == nil {
		return 0, "", false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, "", false
	}
	return n, strings.TrimSpace(m[2]), true
}

// closingCue matches sentence-final punctuation, optionally followed by
// a closing quote or bracket.
var closingCue = regexp.MustCompile(`[.!?…]["'”’)\]]?\s*$`)

// EndsComplete reports whether text ends a sentence. A line failing this
// check is treated as possible truncation residue.
func EndsComplete(text string) bool {
	return closingCue.MatchString(strings.TrimSpace(text))
}

// SummarySkeleton maps a summary kind to its prompt skeleton.
func SummarySkeleton(kind model.SummaryKind) string {
	if kind == model.SummaryMinimal {
		return "minimal-summary.tmpl"
	}
	return "blog-summary.tmpl"
}
