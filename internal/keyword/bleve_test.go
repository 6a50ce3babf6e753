package keyword

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/geodex/internal/models"
)

func sampleChunks() []*models.ChunkRecord {
	return []*models.ChunkRecord{
		{SequenceID: 1, Text: "The Lorentz model embeds hyperbolic space in Minkowski space.", Tag: "math", Source: "/docs/lorentz.md"},
		{SequenceID: 2, Text: "Geodesic distance grows with arccosh of the inner product.", Tag: "math", Source: "/docs/lorentz.md"},
		{SequenceID: 3, Text: "Quarterly report mentions Omnisyan and the Bayes app.", Tag: "reports", Source: "/docs/q2.txt"},
	}
}

func newTestIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex(filepath.Join(t.TempDir(), "bleve"))
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	if err := idx.Index(context.Background(), sampleChunks()); err != nil {
		t.Fatalf("Index: %v", err)
	}
	return idx
}

func TestBleveIndex_SearchFindsText(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	hits, err := idx.Search(ctx, "Omnisyan", nil, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	h := hits[0]
	if h.ChunkIndex != 3 || h.Tag != "reports" || h.Source != "/docs/q2.txt" {
		t.Errorf("unexpected hit: %+v", h)
	}
	if h.Text == "" || h.Score <= 0 {
		t.Errorf("hit should carry text and a positive score: %+v", h)
	}

	// Standard analyzer does not stem, so "bayes" matches "Bayes".
	hits, err = idx.Search(ctx, "bayes", nil, 10)
	if err != nil {
		t.Fatalf("Search bayes: %v", err)
	}
	if len(hits) != 1 || hits[0].ChunkIndex != 3 {
		t.Errorf("bayes: got %+v", hits)
	}
}

func TestBleveIndex_SearchTagFilter(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	all, err := idx.Search(ctx, "space distance report", nil, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("unfiltered: expected 3 hits, got %d", len(all))
	}

	tag := "math"
	hits, err := idx.Search(ctx, "space distance report", &tag, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("filtered: expected 2 hits, got %d", len(hits))
	}
	for _, h := range hits {
		if h.Tag != "math" {
			t.Errorf("hit outside tag filter: %+v", h)
		}
	}

	missing := "nope"
	hits, err = idx.Search(ctx, "space", &missing, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("unknown tag: expected no hits, got %d", len(hits))
	}
}

func TestBleveIndex_DeleteByTagAndSource(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	n, err := idx.DeleteBySource(ctx, "/docs/q2.txt")
	if err != nil {
		t.Fatalf("DeleteBySource: %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteBySource removed %d, want 1", n)
	}
	n, err = idx.DeleteByTag(ctx, "math")
	if err != nil {
		t.Fatalf("DeleteByTag: %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteByTag removed %d, want 2", n)
	}
	count, err := idx.DocCount()
	if err != nil {
		t.Fatalf("DocCount: %v", err)
	}
	if count != 0 {
		t.Errorf("DocCount after deletes = %d", count)
	}
	n, err = idx.DeleteByTag(ctx, "math")
	if err != nil || n != 0 {
		t.Errorf("second DeleteByTag: n=%d err=%v", n, err)
	}
}

func TestBleveIndex_Reopen(t *testing.T) {
	indexPath := filepath.Join(t.TempDir(), "sub", "bleve")
	ctx := context.Background()

	idx1, err := NewBleveIndex(indexPath)
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	if err := idx1.Index(ctx, sampleChunks()); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := idx1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(indexPath); err != nil {
		t.Fatalf("index path should exist: %v", err)
	}

	idx2, err := NewBleveIndex(indexPath)
	if err != nil {
		t.Fatalf("NewBleveIndex (open existing): %v", err)
	}
	defer func() {
		_ = idx2.Close()
	}()
	hits, err := idx2.Search(ctx, "minkowski", nil, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ChunkIndex != 1 {
		t.Errorf("after reopen: got %+v", hits)
	}
}

func TestNewMemoryIndex(t *testing.T) {
	idx, err := NewMemoryIndex()
	if err != nil {
		t.Fatalf("NewMemoryIndex: %v", err)
	}
	defer idx.Close()
	if err := idx.Index(context.Background(), nil); err != nil {
		t.Errorf("empty Index: %v", err)
	}
	if n, _ := idx.DocCount(); n != 0 {
		t.Errorf("DocCount = %d", n)
	}
}
