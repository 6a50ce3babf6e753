package keyword

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/geodex/internal/models"
)

const deletePageSize = 1000

// chunkDoc is the indexed form of a chunk.
type chunkDoc struct {
	Text       string `json:"text"`
	Tag        string `json:"tag"`
	Source     string `json:"source"`
	ChunkIndex int64  `json:"chunk_index"`
}

// BleveIndex implements Index using Bleve. Documents are keyed by chunk index.
type BleveIndex struct {
	index bleve.Index
}

func chunkMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	// Standard analyzer (lowercase + tokenize, no stemming) so exact terms match.
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	doc.AddFieldMappingsAt("text", text)

	kw := bleve.NewKeywordFieldMapping()
	doc.AddFieldMappingsAt("tag", kw)
	doc.AddFieldMappingsAt("source", bleve.NewKeywordFieldMapping())
	doc.AddFieldMappingsAt("chunk_index", bleve.NewNumericFieldMapping())

	im.DefaultMapping = doc
	return im
}

// NewBleveIndex creates or opens a Bleve index at path.
// If you change the mapping in code, remove the index directory to force a re-index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}
	index, err := bleve.New(path, chunkMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// NewMemoryIndex returns an index that lives only in memory.
func NewMemoryIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(chunkMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func docID(seq int64) string {
	return strconv.FormatInt(seq, 10)
}

// Index adds chunks in a single batch.
func (b *BleveIndex) Index(ctx context.Context, chunks []*models.ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc := chunkDoc{Text: c.Text, Tag: c.Tag, Source: c.Source, ChunkIndex: c.SequenceID}
		if err := batch.Index(docID(c.SequenceID), doc); err != nil {
			return fmt.Errorf("failed to index chunk %d: %w", c.SequenceID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to apply Bleve batch: %w", err)
	}
	return nil
}

// Search runs a match query on chunk text, ANDed with a tag term when tag is non-nil.
func (b *BleveIndex) Search(ctx context.Context, query string, tag *string, limit int) ([]*Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	text := bleve.NewMatchQuery(query)
	text.SetField("text")
	var q blevequery.Query = text
	if tag != nil {
		tq := bleve.NewTermQuery(*tag)
		tq.SetField("tag")
		q = bleve.NewConjunctionQuery(text, tq)
	}
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"text", "tag", "source", "chunk_index"}
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := &Hit{Score: h.Score}
		hit.Text, _ = h.Fields["text"].(string)
		hit.Tag, _ = h.Fields["tag"].(string)
		hit.Source, _ = h.Fields["source"].(string)
		if n, ok := h.Fields["chunk_index"].(float64); ok {
			hit.ChunkIndex = int64(n)
		} else if n, err := strconv.ParseInt(h.ID, 10, 64); err == nil {
			hit.ChunkIndex = n
		}
		out = append(out, hit)
	}
	return out, nil
}

// DeleteByTag removes every chunk carrying tag.
func (b *BleveIndex) DeleteByTag(ctx context.Context, tag string) (int, error) {
	return b.deleteMatching(ctx, "tag", tag)
}

// DeleteBySource removes every chunk of source.
func (b *BleveIndex) DeleteBySource(ctx context.Context, source string) (int, error) {
	return b.deleteMatching(ctx, "source", source)
}

func (b *BleveIndex) deleteMatching(ctx context.Context, field, value string) (int, error) {
	total := 0
	for {
		tq := bleve.NewTermQuery(value)
		tq.SetField(field)
		req := bleve.NewSearchRequest(tq)
		req.Size = deletePageSize
		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return total, fmt.Errorf("Bleve search failed: %w", err)
		}
		if len(res.Hits) == 0 {
			return total, nil
		}
		batch := b.index.NewBatch()
		for _, h := range res.Hits {
			batch.Delete(h.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return total, fmt.Errorf("failed to apply Bleve batch: %w", err)
		}
		total += len(res.Hits)
	}
}

// DocCount returns the number of indexed chunks.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
