// Package indexer turns documents into tagged chunks on the manifold.
package indexer

import (
	"strings"
	"unicode/utf8"
)

// DefaultSeparators are tried in order: paragraphs, lines, words, runes.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Chunker splits text recursively on a list of separators so that each chunk
// is at most Size runes, with about Overlap runes shared between neighbours.
type Chunker struct {
	size       int
	overlap    int
	minLength  int
	separators []string
}

// NewChunker creates a chunker. Sizes are in runes; chunks whose trimmed length
// is not above minLength are dropped.
func NewChunker(size, overlap, minLength int) *Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &Chunker{size: size, overlap: overlap, minLength: minLength, separators: DefaultSeparators}
}

// Split returns the chunks of text.
func (c *Chunker) Split(text string) []string {
	var out []string
	for _, chunk := range c.split(text, c.separators) {
		chunk = strings.TrimSpace(chunk)
		if utf8.RuneCountInString(chunk) > c.minLength {
			out = append(out, chunk)
		}
	}
	return out
}

func (c *Chunker) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, s := range separators {
		if s == "" || strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	var pieces []string
	if sep == "" {
		pieces = strings.Split(text, "")
	} else {
		pieces = strings.Split(text, sep)
	}

	var out, fits []string
	for _, p := range pieces {
		if p == "" {
			continue
		}
		if utf8.RuneCountInString(p) < c.size {
			fits = append(fits, p)
			continue
		}
		if len(fits) > 0 {
			out = append(out, c.merge(fits, sep)...)
			fits = nil
		}
		if len(rest) == 0 {
			out = append(out, p)
		} else {
			out = append(out, c.split(p, rest)...)
		}
	}
	if len(fits) > 0 {
		out = append(out, c.merge(fits, sep)...)
	}
	return out
}

// merge packs pieces into windows of at most size runes, carrying up to
// overlap runes of trailing pieces into the next window.
func (c *Chunker) merge(pieces []string, sep string) []string {
	sepLen := utf8.RuneCountInString(sep)
	var out, window []string
	total := 0
	join := func(n int) int {
		if n > 0 {
			return sepLen
		}
		return 0
	}
	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if total+n+join(len(window)) > c.size && len(window) > 0 {
			if doc := strings.TrimSpace(strings.Join(window, sep)); doc != "" {
				out = append(out, doc)
			}
			for total > c.overlap || (total+n+join(len(window)) > c.size && total > 0) {
				total -= utf8.RuneCountInString(window[0]) + join(len(window)-1)
				window = window[1:]
			}
		}
		window = append(window, p)
		total += n + join(len(window)-1)
	}
	if doc := strings.TrimSpace(strings.Join(window, sep)); doc != "" {
		out = append(out, doc)
	}
	return out
}
