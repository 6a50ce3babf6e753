package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/geodex/internal/config"
	"github.com/hyperjump/geodex/internal/embedding"
	"github.com/hyperjump/geodex/internal/indexer"
	"github.com/hyperjump/geodex/internal/keyword"
	"github.com/hyperjump/geodex/internal/manifold"
	"github.com/hyperjump/geodex/internal/ranking"
	"github.com/hyperjump/geodex/internal/search"
	"github.com/hyperjump/geodex/internal/storage"
)

// Components holds initialized services.
type Components struct {
	Storage      *storage.SQLiteStorage
	Space        *manifold.Space
	Embedder     embedding.Embedder
	KeywordIndex *keyword.BleveIndex
	Engine       *search.Engine
	Indexer      *indexer.Indexer
}

// Close releases everything that was opened, in reverse order.
func (c *Components) Close() {
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Components, err error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	c := &Components{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.Space, err = manifold.NewSpace(
		cfg.Manifold.CurvatureValue(),
		cfg.Embedding.Dimensions,
		manifold.WithTolerance(cfg.Manifold.ConstraintTolerance),
		manifold.WithZeroNormEpsilon(cfg.Manifold.ZeroNormEpsilon),
	)
	if err != nil {
		return nil, err
	}

	c.Storage, err = storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err = c.Storage.EnsureManifold(ctx, c.Space.Curvature(), c.Space.Dimensions()); err != nil {
		return nil, err
	}

	c.Embedder, err = embedding.New(cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Storage.BleveIndexPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create keyword index directory: %w", err)
	}
	c.KeywordIndex, err = keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	idxOpts := []indexer.Option{indexer.WithLogger(logger), indexer.WithKeywordIndex(c.KeywordIndex)}
	if cfg.Embedding.BatchSize > 0 {
		idxOpts = append(idxOpts, indexer.WithBatchSize(cfg.Embedding.BatchSize))
	}
	if cfg.Manifold.Workers > 0 {
		idxOpts = append(idxOpts, indexer.WithWorkers(cfg.Manifold.Workers))
	}
	c.Indexer, err = indexer.NewIndexer(c.Storage, c.Embedder, c.Space, &cfg.Search, idxOpts...)
	if err != nil {
		return nil, err
	}
	n, err := c.Indexer.RebuildKeywordIndex(ctx)
	if err != nil {
		logger.Warn("keyword index rebuild failed", zap.Error(err))
		err = nil
	} else if n > 0 {
		logger.Info("keyword index rebuilt from storage", zap.Int("chunks", n))
	}

	rankOpts := []ranking.Option{
		ranking.WithParallelThreshold(cfg.Manifold.ParallelThreshold),
		ranking.WithLogger(logger),
	}
	if cfg.Manifold.Workers > 0 {
		rankOpts = append(rankOpts, ranking.WithWorkers(cfg.Manifold.Workers))
	}
	diskPaths := append(storage.DatabaseFiles(cfg.Storage.DatabasePath), cfg.Storage.BleveIndexPath)
	c.Engine = search.NewEngine(
		c.Storage,
		c.Embedder,
		ranking.NewEngine(c.Space, rankOpts...),
		&cfg.Search,
		search.WithKeywordIndex(c.KeywordIndex),
		search.WithDiskUsagePaths(diskPaths...),
		search.WithLogger(logger),
	)

	logger.Info("components ready",
		zap.Float64("curvature", c.Space.Curvature()),
		zap.Int("dimensions", c.Space.Dimensions()),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("database_path", cfg.Storage.DatabasePath),
	)
	return c, nil
}
