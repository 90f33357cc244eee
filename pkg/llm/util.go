package llm

import (
	"strings"
)

// WordWrap re-wraps text to the given width, preserving existing line
// breaks. Used for the prompt/response history log.
func WordWrap(text string, width int) string {
	if width <= 0 {
		return text
	}

	var out []string
	for _, line := range strings.Split(text, "\n") {
		words := strings.Fields(line)
		if len(words) == 0 {
			out = append(out, "")
			continue
		}

		current := words[0]
		for _, word := range words[1:] {
			if len(current)+1+len(word) > width {
				out = append(out, current)
				current = word
				continue
			}
			current += " " + word
		}
		out = append(out, current)
	}

	return strings.Join(out, "\n")
}

// TruncateDocumentBlock shortens lines inside the source-document block
// of a prompt to maxLen runes and drops empty lines within the block.
// Used when logging prompts so the history file stays readable.
func TruncateDocumentBlock(text string, maxLen int) string {
	if text == "" {
		return ""
	}

	lines := strings.Split(text, "\n")
	var result []string
	inDocBlock := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.Contains(trimmed, "<start of source document>") {
			inDocBlock = true
			result = append(result, line)
			continue
		}
		if inDocBlock && strings.Contains(trimmed, "<end of source document>") {
			inDocBlock = false
			result = append(result, line)
			continue
		}

		if inDocBlock {
			if trimmed == "" {
				continue
			}
			runes := []rune(trimmed)
			if len(runes) > maxLen {
				result = append(result, string(runes[:maxLen])+"...")
			} else {
				result = append(result, trimmed)
			}
		} else {
			result = append(result, line)
		}
	}

	return strings.Join(result, "\n")
}
