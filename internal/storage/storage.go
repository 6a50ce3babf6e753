// Package storage defines the persistence interface for chunks and their manifold points.
package storage

import (
	"context"

	"github.com/hyperjump/geodex/internal/models"
)

// Storage defines chunk persistence operations.
type Storage interface {
	// EnsureManifold records curvature and dimensions on first use and fails
	// with manifold.ErrConfiguration if the store was built with different ones.
	EnsureManifold(ctx context.Context, curvature float64, dimensions int) error

	// Chunk operations. Inserts are all-or-nothing and assign SequenceID and CreatedAt.
	InsertChunks(ctx context.Context, chunks []*models.ChunkRecord) error
	ReplaceSourceChunks(ctx context.Context, source string, chunks []*models.ChunkRecord) (int64, error)
	ListChunksByTag(ctx context.Context, tag string) ([]*models.ChunkRecord, error)
	DeleteChunksByTag(ctx context.Context, tag string) (int64, error)
	DeleteChunksBySource(ctx context.Context, source string) (int64, error)

	// Snapshot returns a point-in-time view of all chunks, or of one tag when tag is non-nil.
	Snapshot(ctx context.Context, tag *string) ([]*models.ChunkRecord, error)

	// Stats
	CountChunks(ctx context.Context) (int64, error)
	ListTags(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error

	Close() error
}
