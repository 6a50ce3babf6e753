// Package storage provides SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/geodex/internal/manifold"
	"github.com/hyperjump/geodex/internal/models"
)

const (
	settingCurvature  = "curvature"
	settingDimensions = "dimensions"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS document_chunks (
		chunk_index INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		chunk_text TEXT NOT NULL,
		tag TEXT NOT NULL,
		embedding TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_tag ON document_chunks(tag);
	CREATE INDEX IF NOT EXISTS idx_chunks_source ON document_chunks(source);
	CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON document_chunks(document_id);

	CREATE TABLE IF NOT EXISTS manifold_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// EnsureManifold stores curvature and dimensions the first time and checks them afterwards.
func (s *SQLiteStorage) EnsureManifold(ctx context.Context, curvature float64, dimensions int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	settings := map[string]string{}
	rows, err := tx.QueryContext(ctx, `SELECT key, value FROM manifold_settings`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return err
		}
		settings[k] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if stored, ok := settings[settingCurvature]; ok {
		c, err := strconv.ParseFloat(stored, 64)
		if err != nil {
			return fmt.Errorf("%w: stored curvature %q is unreadable", manifold.ErrConfiguration, stored)
		}
		if c != curvature {
			return fmt.Errorf("%w: store was built with curvature %v, configured %v", manifold.ErrConfiguration, c, curvature)
		}
	}
	if stored, ok := settings[settingDimensions]; ok {
		d, err := strconv.Atoi(stored)
		if err != nil {
			return fmt.Errorf("%w: stored dimensions %q are unreadable", manifold.ErrConfiguration, stored)
		}
		if d != dimensions {
			return fmt.Errorf("%w: store was built with %d dimensions, configured %d", manifold.ErrConfiguration, d, dimensions)
		}
	}

	for k, v := range map[string]string{
		settingCurvature:  strconv.FormatFloat(curvature, 'g', -1, 64),
		settingDimensions: strconv.Itoa(dimensions),
	} {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO manifold_settings (key, value) VALUES (?, ?)`, k, v,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// InsertChunks inserts chunks in a single transaction.
func (s *SQLiteStorage) InsertChunks(ctx context.Context, chunks []*models.ChunkRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertChunks(ctx, tx, chunks); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceSourceChunks deletes all chunks of source and inserts chunks in one transaction.
// It returns the number of deleted chunks.
func (s *SQLiteStorage) ReplaceSourceChunks(ctx context.Context, source string, chunks []*models.ChunkRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE source = ?`, source)
	if err != nil {
		return 0, err
	}
	deleted, _ := result.RowsAffected()
	if err := insertChunks(ctx, tx, chunks); err != nil {
		return 0, err
	}
	return deleted, tx.Commit()
}

func insertChunks(ctx context.Context, tx *sql.Tx, chunks []*models.ChunkRecord) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO document_chunks (document_id, source, chunk_text, tag, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, chunk := range chunks {
		encoded, err := encodePoint(chunk.Point)
		if err != nil {
			return err
		}
		result, err := stmt.ExecContext(ctx, chunk.DocumentID, chunk.Source, chunk.Text, chunk.Tag, encoded, now)
		if err != nil {
			return err
		}
		id, err := result.LastInsertId()
		if err != nil {
			return err
		}
		chunk.SequenceID = id
		chunk.CreatedAt = now
	}
	return nil
}

// Snapshot reads the eligible chunks inside one read transaction.
func (s *SQLiteStorage) Snapshot(ctx context.Context, tag *string) ([]*models.ChunkRecord, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `SELECT chunk_index, document_id, source, chunk_text, tag, embedding, created_at
		FROM document_chunks`
	var args []any
	if tag != nil {
		query += ` WHERE tag = ?`
		args = append(args, *tag)
	}
	query += ` ORDER BY chunk_index`

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows, true)
}

// ListChunksByTag returns the chunks of tag ordered by chunk_index, without points.
func (s *SQLiteStorage) ListChunksByTag(ctx context.Context, tag string) ([]*models.ChunkRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_index, document_id, source, chunk_text, tag, '', created_at
		 FROM document_chunks WHERE tag = ? ORDER BY chunk_index`,
		tag,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows, false)
}

func scanChunks(rows *sql.Rows, withPoints bool) ([]*models.ChunkRecord, error) {
	var chunks []*models.ChunkRecord
	for rows.Next() {
		var chunk models.ChunkRecord
		var encoded string
		if err := rows.Scan(&chunk.SequenceID, &chunk.DocumentID, &chunk.Source, &chunk.Text, &chunk.Tag, &encoded, &chunk.CreatedAt); err != nil {
			return nil, err
		}
		if withPoints {
			p, err := decodePoint(encoded)
			if err != nil {
				return nil, fmt.Errorf("chunk %d: %w", chunk.SequenceID, err)
			}
			chunk.Point = p
		}
		chunks = append(chunks, &chunk)
	}
	return chunks, rows.Err()
}

// DeleteChunksByTag removes all chunks with tag and returns how many were removed.
func (s *SQLiteStorage) DeleteChunksByTag(ctx context.Context, tag string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE tag = ?`, tag)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteChunksBySource removes all chunks ingested from source.
func (s *SQLiteStorage) DeleteChunksBySource(ctx context.Context, source string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE source = ?`, source)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_chunks`).Scan(&count)
	return count, err
}

// ListTags returns the distinct tags in ascending order.
func (s *SQLiteStorage) ListTags(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT tag FROM document_chunks ORDER BY tag`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tags := []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// Ping checks the database connection.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// encodePoint stores a point as a JSON array; Go's float formatting round-trips exactly.
func encodePoint(p []float64) (string, error) {
	if len(p) == 0 {
		return "", fmt.Errorf("%w: chunk has no manifold point", manifold.ErrInvalidInput)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode point: %w", err)
	}
	return string(data), nil
}

func decodePoint(s string) ([]float64, error) {
	var p []float64
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("failed to decode point: %w", err)
	}
	return p, nil
}
