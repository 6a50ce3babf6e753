// Package cli formats geodex results for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/geodex/internal/models"
	"github.com/hyperjump/geodex/internal/search"
)

// snippetRunes bounds how much chunk text a text-format result shows.
const snippetRunes = 200

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json" (case-insensitive); empty means text.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(OutputText):
		return OutputText, nil
	case string(OutputJSON):
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms", response.Total, response.QueryTime)
	if response.TagFilter != nil {
		fmt.Fprintf(w, " (tag %q)", *response.TagFilter)
	}
	fmt.Fprint(w, "\n\n")
	for _, r := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Distance: %.6f | Tag: %s | Chunk: %d\n", r.Rank, r.Distance, r.Tag, r.ChunkIndex)
		if r.Source != "" {
			fmt.Fprintf(w, "Source: %s\n", r.Source)
		}
		fmt.Fprintf(w, "\n%s\n\n", search.Highlight(r.ChunkText, snippetRunes))
	}
	return nil
}

// WriteLookupResults writes lexical lookup hits to w in the given format.
func WriteLookupResults(w io.Writer, response *models.LookupResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d matches in %dms\n\n", response.Total, response.QueryTime)
	for i, h := range response.Hits {
		fmt.Fprintf(w, "%d. [%s] chunk %d (score %.4f)\n   %s\n", i+1, h.Tag, h.ChunkIndex, h.Score, search.Highlight(h.ChunkText, snippetRunes))
	}
	return nil
}

// WriteStats writes corpus statistics to w in the given format.
func WriteStats(w io.Writer, stats *models.Stats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	fmt.Fprintf(w, "Chunks:     %d\n", stats.TotalChunks)
	fmt.Fprintf(w, "Tags:       %s\n", strings.Join(stats.Tags, ", "))
	fmt.Fprintf(w, "Curvature:  %g\n", stats.Curvature)
	fmt.Fprintf(w, "Dimensions: %d\n", stats.Dimensions)
	if stats.DiskUsageBytes > 0 {
		fmt.Fprintf(w, "Disk usage: %s\n", FormatBytes(stats.DiskUsageBytes))
	}
	return nil
}

// FormatBytes renders n using binary units.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
