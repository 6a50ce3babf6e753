package search

import (
	"testing"
)

func TestHighlight(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"long text here", 4, "long..."},
		{"long text here", 5, "long..."},
		{"x", 0, "x"},
		{"line one\n\nline   two", 0, "line one line two"},
		{"双曲空间中的测地线", 4, "双曲空间..."},
	}
	for _, tt := range tests {
		if got := Highlight(tt.in, tt.max); got != tt.want {
			t.Errorf("Highlight(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
