package indexer

import (
	"strings"
	"unicode"
)

// Preprocess normalizes extracted text before chunking: line endings become
// "\n", control characters are dropped, runs of horizontal whitespace collapse
// to one space, and more than one blank line collapses to one. Paragraph breaks
// survive so the chunker can split on them.
func Preprocess(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var b strings.Builder
	b.Grow(len(text))
	space, newlines := false, 0
	for _, r := range text {
		switch {
		case r == '\n':
			space = false
			newlines++
			if newlines <= 2 {
				b.WriteRune('\n')
			}
		case unicode.IsSpace(r):
			if !space && newlines == 0 {
				space = true
			}
		case unicode.IsControl(r):
		default:
			if space {
				b.WriteRune(' ')
				space = false
			}
			newlines = 0
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
