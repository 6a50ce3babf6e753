// Package ranking selects the chunks nearest to a query point by exact
// geodesic distance.
package ranking

import (
	"context"
	"fmt"
	"runtime"

	"github.com/hyperjump/geodex/internal/manifold"
	"github.com/hyperjump/geodex/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultParallelThreshold is the corpus size from which Search splits the scan across workers.
const DefaultParallelThreshold = 4096

// Query asks for the TopK chunks nearest to Point, optionally restricted to one tag.
type Query struct {
	Point     []float64
	TopK      int
	TagFilter *string
}

// Engine ranks corpora against queries. It holds no per-query state.
type Engine struct {
	space             *manifold.Space
	workers           int
	parallelThreshold int
	logger            *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets the number of partitions used for large corpora.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithParallelThreshold sets the corpus size from which the scan is partitioned.
// Zero or negative keeps the default.
func WithParallelThreshold(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelThreshold = n
		}
	}
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine returns an Engine measuring distances in space.
func NewEngine(space *manifold.Space, opts ...Option) *Engine {
	e := &Engine{
		space:             space,
		workers:           runtime.GOMAXPROCS(0),
		parallelThreshold: DefaultParallelThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers < 1 {
		e.workers = 1
	}
	return e
}

// Space returns the manifold the engine ranks in.
func (e *Engine) Space() *manifold.Space { return e.space }

// Search is a sequential rank of corpus against q in space.
func Search(q Query, corpus []*models.ChunkRecord, space *manifold.Space) ([]models.ScoredChunk, error) {
	return NewEngine(space, WithWorkers(1)).Search(context.Background(), q, corpus)
}

// Search returns the q.TopK chunks of corpus nearest to q.Point, ordered by
// ascending distance with ties broken by ascending SequenceID. Chunks whose tag
// differs from a non-nil TagFilter are skipped. An empty eligible set yields an
// empty result.
func (e *Engine) Search(ctx context.Context, q Query, corpus []*models.ChunkRecord) ([]models.ScoredChunk, error) {
	if q.TopK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", manifold.ErrInvalidInput, q.TopK)
	}
	dist, err := e.space.DistanceFrom(q.Point)
	if err != nil {
		return nil, fmt.Errorf("query point: %w", err)
	}

	parts := 1
	if len(corpus) >= e.parallelThreshold && e.workers > 1 {
		parts = e.workers
	}

	var lists [][]candidate
	if parts == 1 {
		l, err := scan(ctx, q, corpus, 0, dist)
		if err != nil {
			return nil, err
		}
		lists = [][]candidate{l}
	} else {
		lists, err = e.scanParallel(ctx, q, corpus, parts, dist)
		if err != nil {
			return nil, err
		}
	}

	merged := mergeTopK(lists, q.TopK)
	out := make([]models.ScoredChunk, len(merged))
	for i, c := range merged {
		out[i] = models.ScoredChunk{Chunk: c.chunk, Distance: c.distance}
	}
	if e.logger != nil {
		e.logger.Debug("ranked corpus",
			zap.Int("corpus", len(corpus)),
			zap.Int("partitions", len(lists)),
			zap.Int("top_k", q.TopK),
			zap.Int("results", len(out)),
		)
	}
	return out, nil
}

func (e *Engine) scanParallel(ctx context.Context, q Query, corpus []*models.ChunkRecord, parts int, dist func([]float64) (float64, error)) ([][]candidate, error) {
	size := (len(corpus) + parts - 1) / parts
	lists := make([][]candidate, (len(corpus)+size-1)/size)

	g, gctx := errgroup.WithContext(ctx)
	for p, start := 0, 0; start < len(corpus); p, start = p+1, start+size {
		end := min(start+size, len(corpus))
		g.Go(func() error {
			l, err := scan(gctx, q, corpus[start:end], start, dist)
			if err != nil {
				return err
			}
			lists[p] = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return lists, nil
}

// scan ranks one contiguous slice of the corpus; offset is its position in the whole.
func scan(ctx context.Context, q Query, records []*models.ChunkRecord, offset int, dist func([]float64) (float64, error)) ([]candidate, error) {
	queue := newBoundedQueue(min(q.TopK, len(records)))
	for i, rec := range records {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if rec == nil {
			continue
		}
		if q.TagFilter != nil && rec.Tag != *q.TagFilter {
			continue
		}
		d, err := dist(rec.Point)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", rec.SequenceID, err)
		}
		queue.offer(candidate{chunk: rec, distance: d, index: offset + i})
	}
	return queue.drain(), nil
}
