// Package models defines core data structures for chunks, queries, and search results.
package models

import "time"

// ChunkRecord is a stored text chunk with its manifold point.
// SequenceID is assigned by storage on insert and only grows.
type ChunkRecord struct {
	SequenceID int64     `json:"chunk_index" db:"chunk_index"`
	DocumentID string    `json:"document_id" db:"document_id"`
	Source     string    `json:"source" db:"source"`
	Text       string    `json:"chunk_text" db:"chunk_text"`
	Tag        string    `json:"tag" db:"tag"`
	Point      []float64 `json:"-" db:"embedding"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// ScoredChunk pairs a chunk with its geodesic distance to a query.
type ScoredChunk struct {
	Chunk    *ChunkRecord
	Distance float64
}

// ChunkSummary is the listing form of a chunk, as returned for a tag.
type ChunkSummary struct {
	ChunkIndex int64     `json:"chunk_index"`
	Source     string    `json:"source"`
	ChunkText  string    `json:"chunk_text"`
	TextLength int       `json:"text_length"`
	CreatedAt  time.Time `json:"created_at"`
}

// FileInfo describes an uploaded or ingested file.
type FileInfo struct {
	Filename      string  `json:"filename"`
	FileExtension string  `json:"file_extension"`
	FileSize      int64   `json:"file_size"`
	FileSizeMB    float64 `json:"file_size_mb"`
	Supported     bool    `json:"supported"`
}

// UploadResult is returned after a file has been ingested.
type UploadResult struct {
	Message     string   `json:"message"`
	DocumentID  string   `json:"document_id"`
	Tag         string   `json:"tag"`
	ChunksCount int      `json:"chunks_count"`
	FileInfo    FileInfo `json:"file_info"`
}
