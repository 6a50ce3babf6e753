package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/geodex/internal/config"
	"github.com/hyperjump/geodex/internal/embedding"
	"github.com/hyperjump/geodex/internal/fileid"
	"github.com/hyperjump/geodex/internal/keyword"
	"github.com/hyperjump/geodex/internal/manifold"
	"github.com/hyperjump/geodex/internal/models"
	"github.com/hyperjump/geodex/internal/storage"
)

const testDims = 8

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".txt", []string{".txt", ".md"}, true},
		{".TXT", []string{".txt"}, true},
		{".md", []string{"txt", "md"}, true},
		{".go", []string{".txt"}, false},
		{"", []string{".txt"}, false},
	}
	for _, tt := range tests {
		got := extensionAllowed(tt.ext, tt.allowed)
		if got != tt.want {
			t.Errorf("extensionAllowed(%q, %v) = %v, want %v", tt.ext, tt.allowed, got, tt.want)
		}
	}
}

type fixture struct {
	idx      *Indexer
	store    storage.Storage
	keywords *keyword.BleveIndex
	space    *manifold.Space
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.SearchConfig{
		ChunkSize:      60,
		ChunkOverlap:   10,
		MinChunkLength: 10,
		MaxFileSize:    4096,
		Extensions:     []string{".txt", ".md", ".xlsx"},
	}
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	kw, err := keyword.NewMemoryIndex()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kw.Close() })
	space, err := manifold.NewSpace(-1, testDims)
	if err != nil {
		t.Fatal(err)
	}
	idx, err := NewIndexer(store, embedding.NewMockEmbedder(testDims), space, cfg,
		WithKeywordIndex(kw), WithBatchSize(2), WithWorkers(2))
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{idx: idx, store: store, keywords: kw, space: space}
}

const sampleText = `Hyperbolic space has constant negative curvature.

The Lorentz model represents it as one sheet of a hyperboloid.

Geodesic distance is the arccosh of the scaled Lorentz inner product.`

func TestNewIndexer_DimensionMismatch(t *testing.T) {
	space, err := manifold.NewSpace(-1, 4)
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewIndexer(nil, embedding.NewMockEmbedder(8), space, &config.SearchConfig{})
	if !errors.Is(err, manifold.ErrConfiguration) {
		t.Errorf("got %v, want ErrConfiguration", err)
	}
}

func TestFileInfo(t *testing.T) {
	f := newFixture(t)
	info := f.idx.FileInfo("Report.MD", 1572864)
	if info.FileExtension != ".md" || !info.Supported {
		t.Errorf("unexpected info: %+v", info)
	}
	if info.FileSizeMB != 1.5 {
		t.Errorf("FileSizeMB = %v, want 1.5", info.FileSizeMB)
	}
	if f.idx.FileInfo("deck.pptx", 10).Supported {
		t.Error(".pptx should not be supported")
	}
	// extractable but not in the configured extension list
	if f.idx.FileInfo("paper.pdf", 10).Supported {
		t.Error(".pdf is not in the configured extensions")
	}
}

func TestIngestBytes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.idx.IngestBytes(ctx, "notes.txt", []byte(sampleText), " research ")
	if err != nil {
		t.Fatalf("IngestBytes: %v", err)
	}
	if res.ChunksCount < 3 {
		t.Errorf("expected at least 3 chunks, got %d", res.ChunksCount)
	}
	if res.Tag != "research" || !strings.HasPrefix(res.DocumentID, "upload:") {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.FileInfo.Filename != "notes.txt" || res.FileInfo.FileSize != int64(len(sampleText)) {
		t.Errorf("unexpected file info: %+v", res.FileInfo)
	}

	tag := "research"
	chunks, err := f.store.Snapshot(ctx, &tag)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != res.ChunksCount {
		t.Fatalf("stored %d chunks, result says %d", len(chunks), res.ChunksCount)
	}
	for _, c := range chunks {
		if c.Source != "notes.txt" || c.DocumentID != res.DocumentID {
			t.Errorf("unexpected chunk: %+v", c)
		}
		if err := f.space.Validate(c.Point); err != nil {
			t.Errorf("chunk %d point off the manifold: %v", c.SequenceID, err)
		}
	}

	hits, err := f.keywords.Search(ctx, "hyperboloid", &tag, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Errorf("keyword hits = %d, want 1", len(hits))
	}

	again, err := f.idx.IngestBytes(ctx, "notes.txt", []byte(sampleText), "research")
	if err != nil {
		t.Fatal(err)
	}
	if again.DocumentID == res.DocumentID {
		t.Error("each upload should get its own document ID")
	}
}

func TestIngestBytes_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		filename string
		content  []byte
		tag      string
		want     error
	}{
		{"blank tag", "a.txt", []byte(sampleText), "  ", models.ErrInvalidRequest},
		{"too large", "a.txt", []byte(strings.Repeat("x", 5000)), "t", ErrFileTooLarge},
		{"unsupported", "run.sh", []byte("#!/bin/sh\necho hello world"), "t", ErrUnsupportedFormat},
		{"empty", "a.txt", []byte("   \n\n  "), "t", ErrEmptyDocument},
		{"too short", "a.md", []byte("tiny"), "t", ErrEmptyDocument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.idx.IngestBytes(ctx, tt.filename, tt.content, tt.tag)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
	n, err := f.store.CountChunks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("failed ingests stored %d chunks", n)
	}
}

func TestIngestFile_createAndReplace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "doc.md")
	if err := os.WriteFile(path, []byte(sampleText), 0600); err != nil {
		t.Fatal(err)
	}
	first, err := f.idx.IngestFile(ctx, path, "docs")
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	abs, _ := filepath.Abs(path)
	if first.DocumentID != fileid.FileDocID(abs) {
		t.Errorf("DocumentID = %q", first.DocumentID)
	}

	if err := os.WriteFile(path, []byte("A single replacement paragraph about geodesics."), 0600); err != nil {
		t.Fatal(err)
	}
	second, err := f.idx.IngestFile(ctx, path, "docs")
	if err != nil {
		t.Fatalf("IngestFile (update): %v", err)
	}
	if second.ChunksCount != 1 {
		t.Errorf("expected 1 chunk after update, got %d", second.ChunksCount)
	}
	all, err := f.store.Snapshot(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Source != abs {
		t.Fatalf("old chunks should be replaced: %+v", all)
	}
	if n, _ := f.keywords.DocCount(); n != 1 {
		t.Errorf("keyword index holds %d chunks, want 1", n)
	}
}

func TestIngestFile_excel(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "data.xlsx")
	x := excelize.NewFile()
	x.SetCellValue("Sheet1", "A1", "Excel searchable content")
	if err := x.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	x.Close()

	res, err := f.idx.IngestFile(context.Background(), path, "sheets")
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	chunks, err := f.store.ListChunksByTag(context.Background(), "sheets")
	if err != nil {
		t.Fatal(err)
	}
	if res.ChunksCount != 1 || len(chunks) != 1 || chunks[0].Text != "Excel searchable content" {
		t.Errorf("unexpected chunks: %+v", chunks)
	}
}

func TestIngestFile_notRegularOrMissing(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	if _, err := f.idx.IngestFile(context.Background(), dir, "t"); err == nil {
		t.Error("expected error for directory")
	}
	if _, err := f.idx.IngestFile(context.Background(), filepath.Join(dir, "missing.txt"), "t"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestIngestDirectory(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		filepath.Join(dir, "a.txt"):     "file a talks about curvature",
		filepath.Join(dir, "b.md"):      "file b talks about geodesics",
		filepath.Join(sub, "c.txt"):     "file c talks about projection",
		filepath.Join(dir, "empty.txt"): "",
		filepath.Join(dir, "skip.xyz"):  "not ingested at all",
	}
	for p, content := range files {
		if err := os.WriteFile(p, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}

	n, err := f.idx.IngestDirectory(context.Background(), dir, "corpus")
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	if n != 3 {
		t.Errorf("ingested %d files, want 3", n)
	}
	tags, err := f.store.ListTags(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 1 || tags[0] != "corpus" {
		t.Errorf("tags = %v", tags)
	}
}

func TestDeleteTagAndSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dir := t.TempDir()
	keep := filepath.Join(dir, "keep.txt")
	drop := filepath.Join(dir, "drop.txt")
	for _, p := range []string{keep, drop} {
		if err := os.WriteFile(p, []byte("content of "+filepath.Base(p)+" for deletion tests"), 0600); err != nil {
			t.Fatal(err)
		}
		if _, err := f.idx.IngestFile(ctx, p, "files"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.idx.IngestBytes(ctx, "up.txt", []byte(sampleText), "uploads"); err != nil {
		t.Fatal(err)
	}

	n, err := f.idx.DeleteSource(ctx, drop)
	if err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteSource removed %d, want 1", n)
	}
	rest, err := f.store.ListChunksByTag(ctx, "files")
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 1 || !strings.HasSuffix(rest[0].Source, "keep.txt") {
		t.Errorf("remaining chunks: %+v", rest)
	}

	n, err = f.idx.DeleteTag(ctx, "uploads")
	if err != nil {
		t.Fatalf("DeleteTag: %v", err)
	}
	if n < 3 {
		t.Errorf("DeleteTag removed %d chunks", n)
	}
	if c, _ := f.keywords.DocCount(); c != 1 {
		t.Errorf("keyword index holds %d chunks, want 1", c)
	}
	if n, err := f.idx.DeleteTag(ctx, "uploads"); err != nil || n != 0 {
		t.Errorf("second DeleteTag: n=%d err=%v", n, err)
	}
}

func TestRebuildKeywordIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.idx.IngestBytes(ctx, "notes.txt", []byte(sampleText), "research")
	if err != nil {
		t.Fatal(err)
	}

	fresh, err := keyword.NewMemoryIndex()
	if err != nil {
		t.Fatal(err)
	}
	defer fresh.Close()
	f.idx.keywords = fresh

	n, err := f.idx.RebuildKeywordIndex(ctx)
	if err != nil {
		t.Fatalf("RebuildKeywordIndex: %v", err)
	}
	if n != res.ChunksCount {
		t.Errorf("rebuilt %d chunks, want %d", n, res.ChunksCount)
	}
	if n, _ := f.idx.RebuildKeywordIndex(ctx); n != 0 {
		t.Errorf("non-empty index should not be rebuilt, got %d", n)
	}
}
