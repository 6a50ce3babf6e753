package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	ZhipuBaseURL  = "https://open.bigmodel.cn/api/paas/v4"
	OpenAIBaseURL = "https://api.openai.com/v1"

	defaultRemoteBatchSize = 64
	defaultMaxRetries      = 5
	maxRetryAfter          = 30 * time.Second
)

// RemoteConfig configures an OpenAI-compatible embeddings endpoint.
type RemoteConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
	MaxRetries int
	BatchSize  int
	// SendDimensions adds the "dimensions" field to requests, for models with
	// a configurable output size (embedding-3, text-embedding-3-*).
	SendDimensions bool
}

// RemoteEmbedder calls an OpenAI-compatible /embeddings endpoint such as
// ZhipuAI's embedding-3 or OpenAI's text-embedding-3 models.
type RemoteEmbedder struct {
	baseURL        string
	apiKey         string
	model          string
	dimensions     int
	maxRetries     int
	batchSize      int
	sendDimensions bool
	baseDelay      time.Duration
	client         *http.Client
	logger         *zap.Logger
}

// RemoteOption configures a RemoteEmbedder.
type RemoteOption func(*RemoteEmbedder)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(e *RemoteEmbedder) { e.client = c }
}

// WithRetryDelay sets the base delay of the exponential backoff.
func WithRetryDelay(d time.Duration) RemoteOption {
	return func(e *RemoteEmbedder) { e.baseDelay = d }
}

// WithRemoteLogger sets a logger for retry warnings.
func WithRemoteLogger(l *zap.Logger) RemoteOption {
	return func(e *RemoteEmbedder) { e.logger = l }
}

// NewRemoteEmbedder validates cfg and returns an embedder.
func NewRemoteEmbedder(cfg RemoteConfig, opts ...RemoteOption) (*RemoteEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("remote embedder: missing API key")
	}
	if cfg.Model == "" {
		return nil, errors.New("remote embedder: missing model")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("remote embedder: dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = ZhipuBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultRemoteBatchSize
	}
	e := &RemoteEmbedder{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		model:          cfg.Model,
		dimensions:     cfg.Dimensions,
		maxRetries:     cfg.MaxRetries,
		batchSize:      cfg.BatchSize,
		sendDimensions: cfg.SendDimensions,
		baseDelay:      200 * time.Millisecond,
		client:         &http.Client{Timeout: cfg.Timeout},
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Embed returns the embedding of a single text.
func (e *RemoteEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in requests of at most the configured batch size.
// Output order matches input order.
func (e *RemoteEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		vs, err := e.request(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vs...)
	}
	return out, nil
}

// Dimensions returns the configured embedding dimension.
func (e *RemoteEmbedder) Dimensions() int { return e.dimensions }

// Close releases idle connections.
func (e *RemoteEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

type embeddingsRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

type apiError struct {
	Error struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *RemoteEmbedder) request(ctx context.Context, batch []string) ([][]float64, error) {
	body := embeddingsRequest{Model: e.model, Input: batch}
	if e.sendDimensions {
		body.Dimensions = e.dimensions
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	url := e.baseURL + "/embeddings"

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, e.retryDelay(attempt-1, lastErr)); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+e.apiKey)

		resp, err := e.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			e.logger.Warn("embedding request failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		payload, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = &retryableError{status: resp.Status, retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
			e.logger.Warn("embedding endpoint throttled, retrying",
				zap.Int("attempt", attempt), zap.String("status", resp.Status))
			continue
		}
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("embeddings request failed: %s: %s", resp.Status, errorMessage(payload))
		}
		return e.decode(payload, len(batch))
	}
	return nil, fmt.Errorf("embeddings request failed after %d attempts: %w", e.maxRetries+1, lastErr)
}

func (e *RemoteEmbedder) decode(payload []byte, want int) ([][]float64, error) {
	var out embeddingsResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrInvalidEmbedding, err)
	}
	if len(out.Data) != want {
		return nil, fmt.Errorf("%w: asked for %d embeddings, got %d", ErrInvalidEmbedding, want, len(out.Data))
	}
	vs := make([][]float64, want)
	for i, d := range out.Data {
		idx := d.Index
		if idx < 0 || idx >= want || vs[idx] != nil {
			idx = i
		}
		if err := Validate(d.Embedding, e.dimensions); err != nil {
			return nil, err
		}
		vs[idx] = d.Embedding
	}
	for i, v := range vs {
		if v == nil {
			return nil, fmt.Errorf("%w: missing embedding %d", ErrInvalidEmbedding, i)
		}
	}
	return vs, nil
}

type retryableError struct {
	status     string
	retryAfter time.Duration
}

func (r *retryableError) Error() string { return "embeddings endpoint returned " + r.status }

func (e *RemoteEmbedder) retryDelay(attempt int, lastErr error) time.Duration {
	var re *retryableError
	if errors.As(lastErr, &re) && re.retryAfter > 0 {
		return re.retryAfter
	}
	d := e.baseDelay << attempt
	if d > 5*time.Second || d < 0 {
		d = 5 * time.Second
	}
	return d
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, maxRetryAfter)
}

func errorMessage(payload []byte) string {
	var apiErr apiError
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Error.Message != "" {
		return apiErr.Error.Message
	}
	s := strings.TrimSpace(string(payload))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
