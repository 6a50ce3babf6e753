// Package keyword provides a lexical index over chunk text, used for exact-term lookups
// alongside geodesic search.
package keyword

import (
	"context"

	"github.com/hyperjump/geodex/internal/models"
)

// Index defines lexical indexing over stored chunks.
type Index interface {
	// Index adds chunks; each chunk must already carry its SequenceID.
	Index(ctx context.Context, chunks []*models.ChunkRecord) error
	// Search matches query against chunk text, restricted to tag when non-nil.
	Search(ctx context.Context, query string, tag *string, limit int) ([]*Hit, error)
	DeleteByTag(ctx context.Context, tag string) (int, error)
	DeleteBySource(ctx context.Context, source string) (int, error)
	DocCount() (uint64, error)
	Close() error
}

// Hit is a single lexical match.
type Hit struct {
	ChunkIndex int64
	Text       string
	Tag        string
	Source     string
	Score      float64
}
