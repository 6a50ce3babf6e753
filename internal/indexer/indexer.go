package indexer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/geodex/internal/config"
	"github.com/hyperjump/geodex/internal/embedding"
	"github.com/hyperjump/geodex/internal/extract"
	"github.com/hyperjump/geodex/internal/fileid"
	"github.com/hyperjump/geodex/internal/keyword"
	"github.com/hyperjump/geodex/internal/manifold"
	"github.com/hyperjump/geodex/internal/models"
	"github.com/hyperjump/geodex/internal/storage"
)

var (
	// ErrUnsupportedFormat is returned for file extensions that are not ingested.
	ErrUnsupportedFormat = extract.ErrUnsupportedFormat
	// ErrEmptyDocument is returned when a file yields no chunks.
	ErrEmptyDocument = errors.New("document is empty or has no extractable text")
	// ErrFileTooLarge is returned when a file exceeds the configured maximum size.
	ErrFileTooLarge = errors.New("file exceeds maximum size")
)

// Indexer ingests documents: extract, chunk, embed, project onto the manifold
// and store under a tag.
type Indexer struct {
	storage   storage.Storage
	embedder  embedding.Embedder
	space     *manifold.Space
	keywords  keyword.Index // optional
	chunker   *Chunker
	extractor *extract.Extractor
	config    *config.SearchConfig
	batchSize int
	workers   int
	logger    *zap.Logger // optional; when set, logs debug events
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets a logger for debug output (file ingested, tag deleted, etc.).
func WithLogger(l *zap.Logger) Option {
	return func(idx *Indexer) { idx.logger = l }
}

// WithKeywordIndex also indexes chunk text for lexical lookup.
func WithKeywordIndex(k keyword.Index) Option {
	return func(idx *Indexer) { idx.keywords = k }
}

// WithBatchSize sets how many chunks are embedded per call.
func WithBatchSize(n int) Option {
	return func(idx *Indexer) {
		if n > 0 {
			idx.batchSize = n
		}
	}
}

// WithWorkers sets the projection parallelism; 0 uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(idx *Indexer) { idx.workers = n }
}

// NewIndexer creates an indexer. The embedder must produce vectors of the
// space's dimension.
func NewIndexer(
	store storage.Storage,
	embedder embedding.Embedder,
	space *manifold.Space,
	cfg *config.SearchConfig,
	opts ...Option,
) (*Indexer, error) {
	if embedder.Dimensions() != space.Dimensions() {
		return nil, fmt.Errorf("%w: embedder produces %d dimensions, manifold expects %d",
			manifold.ErrConfiguration, embedder.Dimensions(), space.Dimensions())
	}
	idx := &Indexer{
		storage:   store,
		embedder:  embedder,
		space:     space,
		chunker:   NewChunker(cfg.ChunkSize, cfg.ChunkOverlap, cfg.MinChunkLength),
		extractor: extract.NewExtractor(),
		config:    cfg,
		batchSize: 64,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx, nil
}

// FileInfo describes filename and size, including whether the extension is ingested.
func (idx *Indexer) FileInfo(filename string, size int64) models.FileInfo {
	ext := strings.ToLower(filepath.Ext(filename))
	return models.FileInfo{
		Filename:      filename,
		FileExtension: ext,
		FileSize:      size,
		FileSizeMB:    math.Round(float64(size)/(1024*1024)*100) / 100,
		Supported:     idx.supported(ext),
	}
}

func (idx *Indexer) supported(ext string) bool {
	if !extract.Supported(ext) {
		return false
	}
	return len(idx.config.Extensions) == 0 || extensionAllowed(ext, idx.config.Extensions)
}

func (idx *Indexer) checkFile(info models.FileInfo) error {
	if idx.config.MaxFileSize > 0 && info.FileSize > idx.config.MaxFileSize {
		return fmt.Errorf("%w: %s is %.2f MB", ErrFileTooLarge, info.Filename, info.FileSizeMB)
	}
	if !info.Supported {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, info.FileExtension)
	}
	return nil
}

func checkTag(tag string) (string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", fmt.Errorf("%w: tag cannot be empty", models.ErrInvalidRequest)
	}
	return tag, nil
}

// IngestBytes ingests an uploaded file under tag. Each upload gets a new
// document ID; uploading the same file twice stores it twice.
func (idx *Indexer) IngestBytes(ctx context.Context, filename string, content []byte, tag string) (*models.UploadResult, error) {
	tag, err := checkTag(tag)
	if err != nil {
		return nil, err
	}
	info := idx.FileInfo(filename, int64(len(content)))
	if err := idx.checkFile(info); err != nil {
		return nil, err
	}
	docID := fileid.UploadDocID()
	chunks, err := idx.build(ctx, content, info, docID, filepath.Base(filename), tag)
	if err != nil {
		return nil, err
	}
	if err := idx.storage.InsertChunks(ctx, chunks); err != nil {
		return nil, fmt.Errorf("failed to store chunks: %w", err)
	}
	idx.indexKeywords(ctx, chunks)
	if idx.logger != nil {
		idx.logger.Debug("indexer upload ingested",
			zap.String("filename", filename), zap.String("tag", tag), zap.Int("chunks", len(chunks)))
	}
	return result(info, docID, tag, len(chunks)), nil
}

// IngestFile ingests the file at path under tag. The document ID and source
// derive from the absolute path, and chunks previously stored for that path
// are replaced.
func (idx *Indexer) IngestFile(ctx context.Context, path, tag string) (*models.UploadResult, error) {
	tag, err := checkTag(tag)
	if err != nil {
		return nil, err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	st, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !st.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}
	info := idx.FileInfo(filepath.Base(absPath), st.Size())
	if err := idx.checkFile(info); err != nil {
		return nil, err
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	docID := fileid.FileDocID(absPath)
	chunks, err := idx.build(ctx, content, info, docID, absPath, tag)
	if err != nil {
		return nil, err
	}
	replaced, err := idx.storage.ReplaceSourceChunks(ctx, absPath, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to store chunks: %w", err)
	}
	if idx.keywords != nil {
		if _, err := idx.keywords.DeleteBySource(ctx, absPath); err != nil && idx.logger != nil {
			idx.logger.Warn("keyword index delete failed", zap.String("source", absPath), zap.Error(err))
		}
	}
	idx.indexKeywords(ctx, chunks)
	if idx.logger != nil {
		idx.logger.Debug("indexer file ingested",
			zap.String("path", absPath), zap.String("tag", tag),
			zap.Int("chunks", len(chunks)), zap.Int64("replaced", replaced))
	}
	return result(info, docID, tag, len(chunks)), nil
}

// IngestDirectory walks dir recursively and ingests each supported regular file
// under tag. Files without extractable text are skipped. Returns the number of
// files ingested and the first error encountered, if any.
func (idx *Indexer) IngestDirectory(ctx context.Context, dir, tag string) (n int, err error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	st, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !st.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !idx.supported(strings.ToLower(filepath.Ext(path))) {
			return nil
		}
		// Resolve symlinks so only regular files are ingested
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		if _, ingestErr := idx.IngestFile(ctx, path, tag); ingestErr != nil {
			if errors.Is(ingestErr, ErrEmptyDocument) || errors.Is(ingestErr, ErrFileTooLarge) {
				if idx.logger != nil {
					idx.logger.Debug("indexer skipping file", zap.String("path", path), zap.Error(ingestErr))
				}
				return nil
			}
			return fmt.Errorf("%s: %w", path, ingestErr)
		}
		n++
		return nil
	})
	return n, err
}

// DeleteTag removes every chunk stored under tag and returns how many were deleted.
func (idx *Indexer) DeleteTag(ctx context.Context, tag string) (int64, error) {
	deleted, err := idx.storage.DeleteChunksByTag(ctx, tag)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	if idx.keywords != nil {
		if _, err := idx.keywords.DeleteByTag(ctx, tag); err != nil {
			return deleted, fmt.Errorf("failed to delete from keyword index: %w", err)
		}
	}
	if idx.logger != nil {
		idx.logger.Debug("indexer tag deleted", zap.String("tag", tag), zap.Int64("chunks", deleted))
	}
	return deleted, nil
}

// DeleteSource removes the chunks ingested from path.
func (idx *Indexer) DeleteSource(ctx context.Context, path string) (int64, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	deleted, err := idx.storage.DeleteChunksBySource(ctx, absPath)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	if idx.keywords != nil {
		if _, err := idx.keywords.DeleteBySource(ctx, absPath); err != nil {
			return deleted, fmt.Errorf("failed to delete from keyword index: %w", err)
		}
	}
	if idx.logger != nil {
		idx.logger.Debug("indexer source deleted", zap.String("path", absPath), zap.Int64("chunks", deleted))
	}
	return deleted, nil
}

// RebuildKeywordIndex repopulates an empty keyword index from storage, e.g.
// after its directory was removed.
func (idx *Indexer) RebuildKeywordIndex(ctx context.Context) (int, error) {
	if idx.keywords == nil {
		return 0, nil
	}
	count, err := idx.keywords.DocCount()
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}
	chunks, err := idx.storage.Snapshot(ctx, nil)
	if err != nil {
		return 0, err
	}
	if err := idx.keywords.Index(ctx, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// build extracts, chunks, embeds and projects content into unsaved records.
func (idx *Indexer) build(ctx context.Context, content []byte, info models.FileInfo, docID, source, tag string) ([]*models.ChunkRecord, error) {
	text, err := idx.extractor.ExtractBytes(content, info.FileExtension)
	if err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}
	texts := idx.chunker.Split(Preprocess(text))
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, info.Filename)
	}

	vectors, err := idx.embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	points, err := idx.space.ProjectBatch(ctx, vectors, idx.workers)
	if err != nil {
		return nil, fmt.Errorf("failed to project embeddings: %w", err)
	}

	chunks := make([]*models.ChunkRecord, len(texts))
	for i, t := range texts {
		chunks[i] = &models.ChunkRecord{
			DocumentID: docID,
			Source:     source,
			Text:       t,
			Tag:        tag,
			Point:      points[i],
		}
	}
	return chunks, nil
}

func (idx *Indexer) embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += idx.batchSize {
		end := min(start+idx.batchSize, len(texts))
		vs, err := idx.embedder.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", embedding.ErrEmbeddingFailed, err)
		}
		if len(vs) != end-start {
			return nil, fmt.Errorf("%w: asked for %d embeddings, got %d", embedding.ErrInvalidEmbedding, end-start, len(vs))
		}
		out = append(out, vs...)
	}
	return out, nil
}

// indexKeywords logs lexical index failures instead of returning them.
func (idx *Indexer) indexKeywords(ctx context.Context, chunks []*models.ChunkRecord) {
	if idx.keywords == nil {
		return
	}
	if err := idx.keywords.Index(ctx, chunks); err != nil && idx.logger != nil {
		idx.logger.Warn("keyword indexing failed", zap.Int("chunks", len(chunks)), zap.Error(err))
	}
}

func result(info models.FileInfo, docID, tag string, n int) *models.UploadResult {
	return &models.UploadResult{
		Message:     fmt.Sprintf("ingested %s: %d chunks stored", info.Filename, n),
		DocumentID:  docID,
		Tag:         tag,
		ChunksCount: n,
		FileInfo:    info,
	}
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
