package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/geodex/internal/manifold"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "./test.db"
embedding:
  provider: mock
  dimensions: 8
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if want := filepath.Join(filepath.Dir(path), "test.db"); cfg.Storage.DatabasePath != want {
		t.Errorf("database_path: got %q, want %q", cfg.Storage.DatabasePath, want)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
	if cfg.Manifold.CurvatureValue() != -1 {
		t.Errorf("curvature default: got %v", cfg.Manifold.CurvatureValue())
	}
	if cfg.Search.ChunkSize != 1000 || cfg.Search.ChunkOverlap != 200 || cfg.Search.MinChunkLength != 10 {
		t.Errorf("chunking defaults: %+v", cfg.Search)
	}
	if cfg.Search.MaxFileSize != 50*1024*1024 {
		t.Errorf("max file size default: %d", cfg.Search.MaxFileSize)
	}
	if cfg.Search.DefaultTopK != 10 || cfg.Search.MaxTopK != 100 {
		t.Errorf("top_k defaults: %+v", cfg.Search)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_ZhipuDefaultsAndDotEnv(t *testing.T) {
	path := writeConfig(t, `
embedding:
  api_key_env: GEODEX_TEST_API_KEY
`)
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := os.WriteFile(envFile, []byte("GEODEX_TEST_API_KEY=from-dotenv\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("GEODEX_TEST_API_KEY") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Embedding.Provider != ProviderZhipu || cfg.Embedding.Model != "embedding-3" {
		t.Errorf("embedding defaults: %+v", cfg.Embedding)
	}
	if cfg.Embedding.Dimensions != 1024 {
		t.Errorf("dimensions: got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Embedding.APIKey != "from-dotenv" {
		t.Errorf("api key: got %q", cfg.Embedding.APIKey)
	}
	if cfg.Embedding.SendDimensions == nil || !*cfg.Embedding.SendDimensions {
		t.Error("send_dimensions should default to true for zhipu")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
manifold:
  curvature: -2
`)
	t.Setenv("PORT", "9100")
	t.Setenv("CHUNK_SIZE", "500")
	t.Setenv("GEODEX_CURVATURE", "-0.5")
	t.Setenv("GEODEX_EMBEDDING_PROVIDER", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port: got %d", cfg.Server.Port)
	}
	if cfg.Search.ChunkSize != 500 {
		t.Errorf("chunk size: got %d", cfg.Search.ChunkSize)
	}
	if cfg.Manifold.CurvatureValue() != -0.5 {
		t.Errorf("curvature: got %v", cfg.Manifold.CurvatureValue())
	}
	if cfg.Embedding.Provider != ProviderOpenAI || cfg.Embedding.Model != "text-embedding-3-small" || cfg.Embedding.APIKey != "sk-test" {
		t.Errorf("provider override: %+v", cfg.Embedding)
	}

	t.Setenv("PORT", "not-a-number")
	if _, err := Load(path); err == nil {
		t.Error("expected error for bad PORT")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{Embedding: EmbeddingConfig{Provider: ProviderMock}}
		ApplyDefaults(cfg)
		return cfg
	}
	pos := 1.0
	zero := 0.0

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"positive curvature", func(c *Config) { c.Manifold.Curvature = &pos }},
		{"zero curvature", func(c *Config) { c.Manifold.Curvature = &zero }},
		{"overlap too large", func(c *Config) { c.Search.ChunkOverlap = c.Search.ChunkSize }},
		{"negative max file size", func(c *Config) { c.Search.MaxFileSize = -1 }},
		{"default top_k above max", func(c *Config) { c.Search.DefaultTopK = c.Search.MaxTopK + 1 }},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "word2vec" }},
		{"missing api key", func(c *Config) { c.Embedding.Provider = ProviderZhipu }},
		{"onnx without model", func(c *Config) { c.Embedding.Provider = ProviderONNX }},
	}
	if err := Validate(base()); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			if !errors.Is(err, manifold.ErrConfiguration) {
				t.Errorf("got %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./data/chunks.db"
  bleve_index_path: "./data/bleve"
watch:
  directories:
    - path: "./docs"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Dir(path)
	if cfg.Storage.BleveIndexPath != filepath.Join(dir, "data", "bleve") {
		t.Errorf("bleve path: got %q", cfg.Storage.BleveIndexPath)
	}
	if len(cfg.Watch.Directories) != 1 {
		t.Fatalf("watch directories: %+v", cfg.Watch.Directories)
	}
	wd := cfg.Watch.Directories[0]
	if wd.Path != filepath.Join(dir, "docs") || wd.Tag != "default" {
		t.Errorf("watch directory: %+v", wd)
	}
	if !cfg.Watch.RecursiveOrDefault() {
		t.Error("recursive should default to true")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := writeConfig(t, "embedding:\n  provider: mock\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Watch.Directories = append(cfg.Watch.Directories, WatchDirectory{Path: "/srv/docs", Tag: "manuals"})
	cfg.Embedding.APIKey = "should-not-persist"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "should-not-persist") {
		t.Error("API key must not be written to the config file")
	}
	again, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Watch.Directories) != 1 || again.Watch.Directories[0].Tag != "manuals" {
		t.Errorf("watch directories after reload: %+v", again.Watch.Directories)
	}
}
