// Package embedding turns chunk text into Euclidean embedding vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidEmbedding is wrapped when a provider returns an unusable vector.
	ErrInvalidEmbedding = errors.New("invalid embedding")
	// ErrEmbeddingFailed is wrapped by callers when the provider call itself fails.
	ErrEmbeddingFailed = errors.New("embedding failed")
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
	Dimensions() int
	Close() error
}

// Validate checks that v has dim components, all finite.
func Validate(v []float64, dim int) error {
	if len(v) != dim {
		return fmt.Errorf("%w: expected %d dimensions, got %d", ErrInvalidEmbedding, dim, len(v))
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: component %d is not finite", ErrInvalidEmbedding, i)
		}
	}
	return nil
}
