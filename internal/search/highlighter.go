package search

import (
	"strings"
	"unicode/utf8"
)

// Highlight collapses whitespace in content and truncates it to maxRunes,
// appending "..." when cut. maxRunes <= 0 returns the collapsed text.
func Highlight(content string, maxRunes int) string {
	content = strings.Join(strings.Fields(content), " ")
	if maxRunes <= 0 || utf8.RuneCountInString(content) <= maxRunes {
		return content
	}
	n := 0
	for i := range content {
		if n == maxRunes {
			return strings.TrimRight(content[:i], " ") + "..."
		}
		n++
	}
	return content
}
