// Package search answers nearest-chunk queries by geodesic distance on the manifold.
package search

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hyperjump/geodex/internal/config"
	"github.com/hyperjump/geodex/internal/embedding"
	"github.com/hyperjump/geodex/internal/keyword"
	"github.com/hyperjump/geodex/internal/models"
	"github.com/hyperjump/geodex/internal/ranking"
	"github.com/hyperjump/geodex/internal/storage"
)

// Engine embeds queries, projects them onto the manifold and ranks stored chunks.
type Engine struct {
	storage   storage.Storage
	embedder  embedding.Embedder
	ranker    *ranking.Engine
	keywords  keyword.Index
	config    *config.SearchConfig
	diskPaths []string
	logger    *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithKeywordIndex enables Lookup.
func WithKeywordIndex(k keyword.Index) Option {
	return func(e *Engine) { e.keywords = k }
}

// WithDiskUsagePaths lists the files and directories whose size Stats reports.
func WithDiskUsagePaths(paths ...string) Option {
	return func(e *Engine) { e.diskPaths = paths }
}

// WithLogger sets a logger for query timings.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a search engine over store. The ranker's space fixes the curvature.
func NewEngine(
	store storage.Storage,
	embedder embedding.Embedder,
	ranker *ranking.Engine,
	cfg *config.SearchConfig,
	opts ...Option,
) *Engine {
	e := &Engine{
		storage:  store,
		embedder: embedder,
		ranker:   ranker,
		config:   cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search returns the TopK stored chunks closest to the query, ascending by
// distance. An empty store, or a tag with no chunks, yields no results.
func (e *Engine) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()
	if err := req.Validate(e.config.DefaultTopK, e.config.MaxTopK); err != nil {
		return nil, err
	}

	vec, err := e.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", embedding.ErrEmbeddingFailed, err)
	}
	point, err := e.ranker.Space().Project(vec)
	if err != nil {
		return nil, fmt.Errorf("projecting query: %w", err)
	}
	corpus, err := e.storage.Snapshot(ctx, req.TagFilter)
	if err != nil {
		return nil, fmt.Errorf("loading chunks: %w", err)
	}
	scored, err := e.ranker.Search(ctx, ranking.Query{Point: point, TopK: req.TopK, TagFilter: req.TagFilter}, corpus)
	if err != nil {
		return nil, fmt.Errorf("ranking failed: %w", err)
	}

	resp := &models.SearchResponse{
		Query:     req.Query,
		TagFilter: req.TagFilter,
		Results:   make([]*models.SearchResult, 0, len(scored)),
		Total:     len(scored),
	}
	for i, s := range scored {
		resp.Results = append(resp.Results, &models.SearchResult{
			ChunkIndex: s.Chunk.SequenceID,
			ChunkText:  s.Chunk.Text,
			Tag:        s.Chunk.Tag,
			Source:     s.Chunk.Source,
			Distance:   s.Distance,
			Rank:       i + 1,
		})
	}
	resp.QueryTime = time.Since(start).Milliseconds()
	e.logger.Debug("search completed",
		zap.String("query", req.Query),
		zap.Int("corpus", len(corpus)),
		zap.Int("results", resp.Total),
		zap.Int64("query_time_ms", resp.QueryTime))
	return resp, nil
}

// Lookup runs a lexical match over chunk text.
func (e *Engine) Lookup(ctx context.Context, req *models.LookupRequest) (*models.LookupResponse, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if e.keywords == nil {
		return nil, fmt.Errorf("%w: lexical lookup is not enabled", models.ErrInvalidRequest)
	}
	var tag *string
	if req.Tag != "" {
		tag = &req.Tag
	}
	hits, err := e.keywords.Search(ctx, req.Query, tag, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	resp := &models.LookupResponse{
		Query: req.Query,
		Hits:  make([]*models.LookupHit, 0, len(hits)),
		Total: len(hits),
	}
	for _, h := range hits {
		resp.Hits = append(resp.Hits, &models.LookupHit{
			ChunkIndex: h.ChunkIndex,
			ChunkText:  h.Text,
			Tag:        h.Tag,
			Score:      h.Score,
		})
	}
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}

// Stats summarises the stored corpus and the manifold it lives on.
func (e *Engine) Stats(ctx context.Context) (*models.Stats, error) {
	total, err := e.storage.CountChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting chunks: %w", err)
	}
	tags, err := e.storage.ListTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	space := e.ranker.Space()
	stats := &models.Stats{
		TotalChunks: total,
		Tags:        tags,
		Curvature:   space.Curvature(),
		Dimensions:  space.Dimensions(),
	}
	if len(e.diskPaths) > 0 {
		usage, err := storage.DiskUsageBytes(e.diskPaths...)
		if err != nil {
			e.logger.Warn("disk usage unavailable", zap.Error(err))
		}
		stats.DiskUsageBytes = usage
	}
	return stats, nil
}

// Documents lists the chunks stored under tag.
func (e *Engine) Documents(ctx context.Context, tag string) ([]models.ChunkSummary, error) {
	chunks, err := e.storage.ListChunksByTag(ctx, tag)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	out := make([]models.ChunkSummary, len(chunks))
	for i, c := range chunks {
		out[i] = models.ChunkSummary{
			ChunkIndex: c.SequenceID,
			Source:     c.Source,
			ChunkText:  c.Text,
			TextLength: utf8.RuneCountInString(c.Text),
			CreatedAt:  c.CreatedAt,
		}
	}
	return out, nil
}
