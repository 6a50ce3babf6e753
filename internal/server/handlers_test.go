package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/geodex/internal/config"
	"github.com/hyperjump/geodex/internal/embedding"
	"github.com/hyperjump/geodex/internal/indexer"
	"github.com/hyperjump/geodex/internal/keyword"
	"github.com/hyperjump/geodex/internal/manifold"
	"github.com/hyperjump/geodex/internal/models"
	"github.com/hyperjump/geodex/internal/ranking"
	"github.com/hyperjump/geodex/internal/search"
	"github.com/hyperjump/geodex/internal/storage"
)

const dims = 8

type mockWatchService struct {
	dirs []config.WatchDirectory
}

func (m *mockWatchService) Directories() []config.WatchDirectory {
	return append([]config.WatchDirectory(nil), m.dirs...)
}

func (m *mockWatchService) AddDirectory(dir config.WatchDirectory, _ bool) error {
	for i, d := range m.dirs {
		if d.Path == dir.Path {
			m.dirs[i].Tag = dir.Tag
			return nil
		}
	}
	m.dirs = append(m.dirs, dir)
	return nil
}

func (m *mockWatchService) RemoveDirectory(path string) error {
	for i, d := range m.dirs {
		if d.Path == path {
			m.dirs = append(m.dirs[:i], m.dirs[i+1:]...)
			return nil
		}
	}
	return nil
}

type failingEmbedder struct{ embedding.Embedder }

func (failingEmbedder) Embed(context.Context, string) ([]float64, error) {
	return nil, errors.New("provider down")
}

type testServer struct {
	srv     *Server
	handler http.Handler
	store   *storage.SQLiteStorage
	cfg     *config.Config
}

func newTestServer(t *testing.T, emb embedding.Embedder, opts ...Option) *testServer {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "chunks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	kw, err := keyword.NewMemoryIndex()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kw.Close() })

	space, err := manifold.NewSpace(-1, dims)
	require.NoError(t, err)
	require.NoError(t, store.EnsureManifold(context.Background(), space.Curvature(), space.Dimensions()))

	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Search.MaxFileSize = 256
	cfg.Search.Extensions = []string{".txt", ".md"}
	cfg.Embedding.Dimensions = dims

	if emb == nil {
		emb = embedding.NewMockEmbedder(dims)
	}
	idx, err := indexer.NewIndexer(store, embedding.NewMockEmbedder(dims), space, &cfg.Search, indexer.WithKeywordIndex(kw))
	require.NoError(t, err)
	engine := search.NewEngine(store, emb, ranking.NewEngine(space), &cfg.Search, search.WithKeywordIndex(kw))
	srv := NewServer(engine, idx, store, cfg, zap.NewNop(), opts...)
	return &testServer{srv: srv, handler: srv.Handler(), store: store, cfg: cfg}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

func (ts *testServer) upload(t *testing.T, filename, content, tag string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	if tag != "" {
		require.NoError(t, mw.WriteField("tag", tag))
	}
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/api/v1/upload", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v))
}

const sampleText = "Geodesic distance on the hyperboloid ranks document chunks."

func TestUploadAndSearch(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.upload(t, "notes.txt", sampleText, "papers")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var up struct {
		Success     bool   `json:"success"`
		Tag         string `json:"tag"`
		ChunksCount int    `json:"chunks_count"`
		FileInfo    struct {
			Filename string `json:"filename"`
		} `json:"file_info"`
	}
	decode(t, w, &up)
	assert.True(t, up.Success)
	assert.Equal(t, "papers", up.Tag)
	assert.Equal(t, 1, up.ChunksCount)
	assert.Equal(t, "notes.txt", up.FileInfo.Filename)

	w = ts.do(t, http.MethodPost, "/api/v1/search", map[string]interface{}{"query": sampleText, "top_k": 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp models.SearchResponse
	decode(t, w, &resp)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, sampleText, resp.Results[0].ChunkText)
	assert.Equal(t, "papers", resp.Results[0].Tag)
	assert.Zero(t, resp.Results[0].Distance)
	assert.Equal(t, 1, resp.Results[0].Rank)
}

func TestUpload_Rejections(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name     string
		filename string
		content  string
		tag      string
		want     int
	}{
		{"too large", "big.txt", strings.Repeat("x", 300), "t", http.StatusRequestEntityTooLarge},
		{"unsupported", "tool.exe", sampleText, "t", http.StatusBadRequest},
		{"missing tag", "a.txt", sampleText, "", http.StatusBadRequest},
		{"empty document", "blank.txt", "   \n\n  ", "t", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.upload(t, tt.filename, tt.content, tt.tag)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	r := httptest.NewRequest(http.MethodPost, "/api/v1/upload", strings.NewReader("not multipart"))
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearch_Errors(t *testing.T) {
	ts := newTestServer(t, nil)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader("{"))
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/search", map[string]interface{}{"query": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/search", map[string]interface{}{"query": "q", "top_k": -2})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	failing := newTestServer(t, failingEmbedder{embedding.NewMockEmbedder(dims)})
	w = failing.do(t, http.MethodPost, "/api/v1/search", map[string]interface{}{"query": "q"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestDocumentsAndStats(t *testing.T) {
	ts := newTestServer(t, nil)
	require.Equal(t, http.StatusOK, ts.upload(t, "a.txt", sampleText, "keep").Code)
	require.Equal(t, http.StatusOK, ts.upload(t, "b.md", "Another chunk about Lorentz models.", "drop").Code)

	w := ts.do(t, http.MethodGet, "/api/v1/documents/keep", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var docs struct {
		Tag         string                `json:"tag"`
		ChunksCount int                   `json:"chunks_count"`
		Chunks      []models.ChunkSummary `json:"chunks"`
	}
	decode(t, w, &docs)
	assert.Equal(t, "keep", docs.Tag)
	require.Equal(t, 1, docs.ChunksCount)
	assert.Equal(t, len([]rune(sampleText)), docs.Chunks[0].TextLength)

	w = ts.do(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.Stats
	decode(t, w, &stats)
	assert.Equal(t, int64(2), stats.TotalChunks)
	assert.Equal(t, []string{"drop", "keep"}, stats.Tags)
	assert.Equal(t, float64(-1), stats.Curvature)

	w = ts.do(t, http.MethodDelete, "/api/v1/documents/drop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var del struct {
		DeletedCount int64 `json:"deleted_count"`
	}
	decode(t, w, &del)
	assert.Equal(t, int64(1), del.DeletedCount)

	w = ts.do(t, http.MethodGet, "/api/v1/documents/drop", nil)
	decode(t, w, &docs)
	assert.Zero(t, docs.ChunksCount)
}

func TestLookup(t *testing.T) {
	ts := newTestServer(t, nil)
	require.Equal(t, http.StatusOK, ts.upload(t, "a.txt", sampleText, "papers").Code)

	w := ts.do(t, http.MethodPost, "/api/v1/lookup", map[string]interface{}{"query": "hyperboloid"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp models.LookupResponse
	decode(t, w, &resp)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "papers", resp.Hits[0].Tag)

	w = ts.do(t, http.MethodPost, "/api/v1/lookup", map[string]interface{}{"query": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "connected", body["database"])
	assert.EqualValues(t, 0, body["total_chunks"])
	assert.NotEmpty(t, body["timestamp"])

	require.NoError(t, ts.store.Close())
	w = ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRootAndCORS(t *testing.T) {
	ts := newTestServer(t, nil, WithVersion("1.2.3"))
	w := ts.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Name      string            `json:"name"`
		Version   string            `json:"version"`
		Endpoints map[string]string `json:"endpoints"`
	}
	decode(t, w, &body)
	assert.Equal(t, "geodex", body.Name)
	assert.Equal(t, "1.2.3", body.Version)
	assert.Equal(t, "/api/v1/search", body.Endpoints["search"])
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	r := httptest.NewRequest(http.MethodOptions, "/api/v1/search", nil)
	r.Header.Set("Origin", "http://example.com")
	r.Header.Set("Access-Control-Request-Method", "POST")
	w = httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestWatchDirectories_NotEnabled(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodGet, "/api/v1/watch/directories", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
	w = ts.do(t, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": "/tmp", "tag": "x"})
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestWatchDirectories_AddListRemove(t *testing.T) {
	watchDir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	mock := &mockWatchService{dirs: []config.WatchDirectory{{Path: "/srv/docs", Tag: "docs"}}}
	ts := newTestServer(t, nil, WithWatchService(mock, cfgPath))

	w := ts.do(t, http.MethodGet, "/api/v1/watch/directories", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Directories []config.WatchDirectory `json:"directories"`
	}
	decode(t, w, &list)
	assert.Equal(t, []config.WatchDirectory{{Path: "/srv/docs", Tag: "docs"}}, list.Directories)

	w = ts.do(t, http.MethodPost, "/api/v1/watch/directories", map[string]interface{}{"path": watchDir, "tag": "inbox", "sync": false})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, mock.dirs, 2)
	assert.Equal(t, "inbox", mock.dirs[1].Tag)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	var saved config.Config
	require.NoError(t, yaml.Unmarshal(data, &saved))
	assert.Equal(t, mock.dirs, saved.Watch.Directories)

	w = ts.do(t, http.MethodDelete, "/api/v1/watch/directories?path="+watchDir, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, mock.dirs, 1)
}

func TestWatchDirectories_AddValidation(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0600))
	ts := newTestServer(t, nil, WithWatchService(&mockWatchService{}, ""))

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{"no path", map[string]string{"tag": "t"}, http.StatusBadRequest},
		{"no tag", map[string]string{"path": t.TempDir()}, http.StatusBadRequest},
		{"missing dir", map[string]string{"path": filepath.Join(t.TempDir(), "nope"), "tag": "t"}, http.StatusNotFound},
		{"not a dir", map[string]string{"path": file, "tag": "t"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/v1/watch/directories", tt.body)
			assert.Equal(t, tt.want, w.Code)
		})
	}

	w := ts.do(t, http.MethodDelete, "/api/v1/watch/directories", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{indexer.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{models.ErrInvalidRequest, http.StatusBadRequest},
		{manifold.ErrInvalidInput, http.StatusBadRequest},
		{indexer.ErrUnsupportedFormat, http.StatusBadRequest},
		{indexer.ErrEmptyDocument, http.StatusBadRequest},
		{embedding.ErrEmbeddingFailed, http.StatusBadGateway},
		{manifold.ErrConfiguration, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
