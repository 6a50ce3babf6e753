// Package config provides configuration loading and structs for the geodex server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/geodex/internal/manifold"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Manifold  ManifoldConfig  `yaml:"manifold"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
}

// WatchDirectory is a watched root whose files are ingested under Tag.
type WatchDirectory struct {
	Path string `yaml:"path" json:"path"`
	Tag  string `yaml:"tag" json:"tag"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []WatchDirectory `yaml:"directories"`
	Extensions  []string         `yaml:"extensions"`
	Recursive   *bool            `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the chunk database and the lexical index.
type StorageConfig struct {
	DatabasePath   string `yaml:"database_path"`
	BleveIndexPath string `yaml:"bleve_index_path"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is one of zhipu, openai, onnx, mock.
	Provider       string `yaml:"provider"`
	BaseURL        string `yaml:"base_url"`
	APIKeyEnv      string `yaml:"api_key_env"`
	APIKey         string `yaml:"-"`
	Model          string `yaml:"model"`
	Dimensions     int    `yaml:"dimensions"`
	SendDimensions *bool  `yaml:"send_dimensions"`
	TimeoutSecs    int    `yaml:"timeout_secs"`
	MaxRetries     int    `yaml:"max_retries"`
	BatchSize      int    `yaml:"batch_size"`
	ModelPath      string `yaml:"model_path"`
	OutputName     string `yaml:"output_name"`
	MaxTokens      int    `yaml:"max_tokens"`
	CacheSize      int    `yaml:"cache_size"`
}

// ManifoldConfig holds the hyperboloid parameters. Curvature is fixed for the
// lifetime of a database.
type ManifoldConfig struct {
	Curvature           *float64 `yaml:"curvature"`
	ConstraintTolerance float64  `yaml:"constraint_tolerance"`
	ZeroNormEpsilon     float64  `yaml:"zero_norm_epsilon"`
	Workers             int      `yaml:"workers"`
	ParallelThreshold   int      `yaml:"parallel_threshold"`
}

// CurvatureValue returns κ, or -1 when unset.
func (m *ManifoldConfig) CurvatureValue() float64 {
	if m.Curvature != nil {
		return *m.Curvature
	}
	return DefaultCurvature
}

// SearchConfig holds search, chunking and upload settings.
type SearchConfig struct {
	DefaultTopK    int      `yaml:"default_top_k"`
	MaxTopK        int      `yaml:"max_top_k"`
	ChunkSize      int      `yaml:"chunk_size"`
	ChunkOverlap   int      `yaml:"chunk_overlap"`
	MinChunkLength int      `yaml:"min_chunk_length"`
	MaxFileSize    int64    `yaml:"max_file_size"`
	Extensions     []string `yaml:"extensions"`
}

// Load reads .env files, parses the config file at path, applies defaults and
// environment overrides, and expands paths.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	if err := LoadDotEnv(filepath.Join(configDir, ".env"), ".env"); err != nil {
		return nil, err
	}
	return finish(&cfg, configDir)
}

// Default returns the default configuration with .env and environment
// overrides applied. Relative "./" paths resolve against the working directory.
func Default() (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return finish(&Config{}, wd)
}

func finish(cfg *Config, configDir string) (*Config, error) {
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if cfg.Embedding.APIKeyEnv != "" {
		cfg.Embedding.APIKey = os.Getenv(cfg.Embedding.APIKeyEnv)
	}

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i].Path = expandPath(cfg.Watch.Directories[i].Path, configDir)
	}
	return cfg, nil
}

// LoadDotEnv loads the given .env files into the process environment.
// Missing files are skipped; variables already set are not overridden.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Save writes the config to path. Used for persisting watch directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects settings the service cannot run with. Errors wrap manifold.ErrConfiguration.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", manifold.ErrConfiguration, fmt.Sprintf(format, args...)))
	}

	if k := cfg.Manifold.CurvatureValue(); !(k < 0) {
		add("manifold.curvature must be negative, got %v", k)
	}
	if cfg.Manifold.ConstraintTolerance <= 0 {
		add("manifold.constraint_tolerance must be positive")
	}
	if cfg.Embedding.Dimensions <= 0 {
		add("embedding.dimensions must be positive")
	}
	switch cfg.Embedding.Provider {
	case ProviderZhipu, ProviderOpenAI:
		if cfg.Embedding.APIKey == "" {
			add("embedding provider %s needs an API key in $%s", cfg.Embedding.Provider, cfg.Embedding.APIKeyEnv)
		}
	case ProviderONNX:
		if cfg.Embedding.ModelPath == "" {
			add("embedding.model_path is required for the onnx provider")
		}
	case ProviderMock:
	default:
		add("unknown embedding provider %q", cfg.Embedding.Provider)
	}
	if cfg.Search.ChunkSize <= 0 {
		add("search.chunk_size must be positive")
	}
	if cfg.Search.ChunkOverlap < 0 || cfg.Search.ChunkOverlap >= cfg.Search.ChunkSize {
		add("search.chunk_overlap must be in [0, chunk_size)")
	}
	if cfg.Search.MaxFileSize <= 0 {
		add("search.max_file_size must be positive")
	}
	if cfg.Search.DefaultTopK <= 0 || cfg.Search.DefaultTopK > cfg.Search.MaxTopK {
		add("search.default_top_k must be in [1, max_top_k]")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		add("server.port out of range: %d", cfg.Server.Port)
	}
	return errors.Join(errs...)
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if strings.HasPrefix(path, "~/") {
		path = path[2:]
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
