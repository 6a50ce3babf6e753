package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hyperjump/geodex/internal/manifold"
)

// Embedding providers.
const (
	ProviderZhipu  = "zhipu"
	ProviderOpenAI = "openai"
	ProviderONNX   = "onnx"
	ProviderMock   = "mock"
)

const (
	DefaultCurvature   = -1.0
	DefaultMaxFileSize = 50 * 1024 * 1024
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = ".geodex/chunks.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = ".geodex/bleve"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderZhipu
	}
	cfg.Embedding.Provider = strings.ToLower(cfg.Embedding.Provider)
	switch cfg.Embedding.Provider {
	case ProviderZhipu:
		if cfg.Embedding.Model == "" {
			cfg.Embedding.Model = "embedding-3"
		}
		if cfg.Embedding.APIKeyEnv == "" {
			cfg.Embedding.APIKeyEnv = "ZHIPU_API_KEY"
		}
	case ProviderOpenAI:
		if cfg.Embedding.Model == "" {
			cfg.Embedding.Model = "text-embedding-3-small"
		}
		if cfg.Embedding.APIKeyEnv == "" {
			cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
		}
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1024
	}
	if cfg.Embedding.SendDimensions == nil {
		t := cfg.Embedding.Provider == ProviderZhipu || cfg.Embedding.Provider == ProviderOpenAI
		cfg.Embedding.SendDimensions = &t
	}
	if cfg.Embedding.TimeoutSecs == 0 {
		cfg.Embedding.TimeoutSecs = 30
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 64
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}

	if cfg.Manifold.Curvature == nil {
		k := DefaultCurvature
		cfg.Manifold.Curvature = &k
	}
	if cfg.Manifold.ConstraintTolerance == 0 {
		cfg.Manifold.ConstraintTolerance = manifold.DefaultConstraintTolerance
	}
	if cfg.Manifold.ZeroNormEpsilon == 0 {
		cfg.Manifold.ZeroNormEpsilon = manifold.DefaultZeroNormEpsilon
	}
	if cfg.Manifold.ParallelThreshold == 0 {
		cfg.Manifold.ParallelThreshold = 4096
	}

	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 10
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 100
	}
	if cfg.Search.ChunkSize == 0 {
		cfg.Search.ChunkSize = 1000
	}
	if cfg.Search.ChunkOverlap == 0 {
		cfg.Search.ChunkOverlap = 200
	}
	if cfg.Search.MinChunkLength == 0 {
		cfg.Search.MinChunkLength = 10
	}
	if cfg.Search.MaxFileSize == 0 {
		cfg.Search.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.Search.Extensions == nil {
		cfg.Search.Extensions = []string{".pdf", ".txt", ".md"}
	}

	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = cfg.Search.Extensions
	}
	for i := range cfg.Watch.Directories {
		if cfg.Watch.Directories[i].Tag == "" {
			cfg.Watch.Directories[i].Tag = "default"
		}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}

// ApplyEnv overrides cfg from environment variables. Run it before ApplyDefaults
// so provider-specific defaults follow an overridden provider.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv("GEODEX_DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GEODEX_DEBUG: %w", err)
		}
		cfg.Debug = b
	}
	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if err := envInt("PORT", &cfg.Server.Port); err != nil {
		return err
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.Storage.DatabasePath = v
	}
	if err := envInt("CHUNK_SIZE", &cfg.Search.ChunkSize); err != nil {
		return err
	}
	if err := envInt("CHUNK_OVERLAP", &cfg.Search.ChunkOverlap); err != nil {
		return err
	}
	if v := os.Getenv("MAX_FILE_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_FILE_SIZE: %w", err)
		}
		cfg.Search.MaxFileSize = n
	}
	if v := os.Getenv("GEODEX_CURVATURE"); v != "" {
		k, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("GEODEX_CURVATURE: %w", err)
		}
		cfg.Manifold.Curvature = &k
	}
	if v := os.Getenv("GEODEX_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = strings.ToLower(v)
	}
	return nil
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = n
	return nil
}
