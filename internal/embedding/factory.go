package embedding

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/geodex/internal/config"
)

// New creates the embedder selected by cfg.Provider.
// Supported providers: "zhipu" (default), "openai", "onnx", "mock".
// Remote and ONNX embedders are wrapped in an LRU cache of cfg.CacheSize entries.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		e   Embedder
		err error
	)
	switch cfg.Provider {
	case config.ProviderZhipu, "":
		e, err = newRemote(cfg, ZhipuBaseURL, logger)
	case config.ProviderOpenAI:
		e, err = newRemote(cfg, OpenAIBaseURL, logger)
	case config.ProviderONNX:
		e, err = NewONNXEmbedder(ONNXConfig{
			ModelPath:  cfg.ModelPath,
			Dimensions: cfg.Dimensions,
			MaxTokens:  cfg.MaxTokens,
			OutputName: cfg.OutputName,
		})
	case config.ProviderMock:
		return NewMockEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: zhipu, openai, onnx, mock)", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize > 0 {
		e = NewCachedEmbedder(e, cfg.CacheSize)
	}
	logger.Info("Embedding provider ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("dimensions", e.Dimensions()))
	return e, nil
}

func newRemote(cfg config.EmbeddingConfig, defaultURL string, logger *zap.Logger) (*RemoteEmbedder, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultURL
	}
	send := cfg.SendDimensions != nil && *cfg.SendDimensions
	return NewRemoteEmbedder(RemoteConfig{
		BaseURL:        baseURL,
		APIKey:         cfg.APIKey,
		Model:          cfg.Model,
		Dimensions:     cfg.Dimensions,
		Timeout:        time.Duration(cfg.TimeoutSecs) * time.Second,
		MaxRetries:     cfg.MaxRetries,
		BatchSize:      cfg.BatchSize,
		SendDimensions: send,
	}, WithRemoteLogger(logger))
}
