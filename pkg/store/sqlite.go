// Package store provides the bundled SQLite-backed chunk store. It
// implements the engine's Store collaborator with brute-force cosine
// ranking, which is adequate for corpora in the tens of thousands of
// chunks; larger deployments swap in a dedicated vector store behind the
// same interface.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/dotsetgreg/refrag/pkg/engine"
)

// SQLiteStore persists chunks and their embeddings in a single database
// file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the chunk database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create chunk db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process store. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			updated_at_ms INTEGER NOT NULL,
			domains_json TEXT NOT NULL DEFAULT '[]',
			metadata_json TEXT NOT NULL DEFAULT '{}',
			embedding BLOB NOT NULL,
			embedding_model TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source);`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_updated ON chunks(updated_at_ms);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init chunk store: %w", err)
		}
	}
	return nil
}

// PutChunk upserts one chunk with its embedding. A missing ID is assigned.
func (s *SQLiteStore) PutChunk(ctx context.Context, chunk engine.Chunk, model string) (engine.Chunk, error) {
	if strings.TrimSpace(chunk.Text) == "" {
		return chunk, fmt.Errorf("chunk text is required")
	}
	if len(chunk.Embedding) == 0 {
		return chunk, fmt.Errorf("chunk embedding is required")
	}
	if chunk.ID == "" {
		chunk.ID = uuid.NewString()
	}
	if chunk.UpdatedAt.IsZero() {
		chunk.UpdatedAt = time.Now()
	}

	domainsJSON, err := json.Marshal(chunk.Domains)
	if err != nil {
		return chunk, fmt.Errorf("marshal chunk domains: %w", err)
	}
	metadataJSON, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return chunk, fmt.Errorf("marshal chunk metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chunks (id, text, source, updated_at_ms, domains_json, metadata_json, embedding, embedding_model)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			source = excluded.source,
			updated_at_ms = excluded.updated_at_ms,
			domains_json = excluded.domains_json,
			metadata_json = excluded.metadata_json,
			embedding = excluded.embedding,
			embedding_model = excluded.embedding_model
	`, chunk.ID, chunk.Text, chunk.Source, chunk.UpdatedAt.UnixMilli(),
		string(domainsJSON), string(metadataJSON), encodeVector(chunk.Embedding), model)
	if err != nil {
		return chunk, fmt.Errorf("upsert chunk: %w", err)
	}
	return chunk, nil
}

// Query ranks stored chunks by cosine similarity to the query embedding and
// returns the top filters.Limit matches. Zero matches is valid output.
func (s *SQLiteStore) Query(ctx context.Context, embedding []float32, filters engine.StoreFilters) ([]engine.Chunk, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = 64
	}

	where := []string{}
	args := []interface{}{}
	if len(filters.Sources) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(filters.Sources)), ",")
		where = append(where, "source IN ("+placeholders+")")
		for _, src := range filters.Sources {
			args = append(args, src)
		}
	}

	query := `SELECT id, text, source, updated_at_ms, domains_json, metadata_json, embedding FROM chunks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	type ranked struct {
		chunk engine.Chunk
		score float64
	}
	candidates := []ranked{}
	for rows.Next() {
		var (
			chunk        engine.Chunk
			updatedAtMS  int64
			domainsJSON  string
			metadataJSON string
			blob         []byte
		)
		if err := rows.Scan(&chunk.ID, &chunk.Text, &chunk.Source, &updatedAtMS, &domainsJSON, &metadataJSON, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunk.UpdatedAt = time.UnixMilli(updatedAtMS)
		if err := json.Unmarshal([]byte(domainsJSON), &chunk.Domains); err != nil {
			chunk.Domains = nil
		}
		if err := json.Unmarshal([]byte(metadataJSON), &chunk.Metadata); err != nil {
			chunk.Metadata = nil
		}
		chunk.Embedding = decodeVector(blob)

		if len(filters.Domains) > 0 && len(chunk.Domains) > 0 && !domainsOverlap(chunk.Domains, filters.Domains) {
			// Domain filters are soft: chunks with no domain tags stay in.
			continue
		}

		chunk.Score = cosine(embedding, chunk.Embedding)
		candidates = append(candidates, ranked{chunk: chunk, score: chunk.Score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score == candidates[j].score {
			return candidates[i].chunk.UpdatedAt.After(candidates[j].chunk.UpdatedAt)
		}
		return candidates[i].score > candidates[j].score
	})

	out := make([]engine.Chunk, 0, limit)
	for _, c := range candidates {
		out = append(out, c.chunk)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ListChunks returns stored chunks ordered newest first, without embeddings.
// Intended for inspection; retrieval goes through Query.
func (s *SQLiteStore) ListChunks(ctx context.Context, limit int) ([]engine.Chunk, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, source, updated_at_ms, domains_json, metadata_json
		FROM chunks ORDER BY updated_at_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	out := []engine.Chunk{}
	for rows.Next() {
		var (
			chunk        engine.Chunk
			updatedAtMS  int64
			domainsJSON  string
			metadataJSON string
		)
		if err := rows.Scan(&chunk.ID, &chunk.Text, &chunk.Source, &updatedAtMS, &domainsJSON, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunk.UpdatedAt = time.UnixMilli(updatedAtMS)
		if err := json.Unmarshal([]byte(domainsJSON), &chunk.Domains); err != nil {
			chunk.Domains = nil
		}
		if err := json.Unmarshal([]byte(metadataJSON), &chunk.Metadata); err != nil {
			chunk.Metadata = nil
		}
		out = append(out, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}

// Count returns the number of stored chunks.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

func domainsOverlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func encodeVector(vec []float32) []byte {
	out := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func decodeVector(blob []byte) []float32 {
	if len(blob) < 4 {
		return nil
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i] * b[i])
	}
	return dot
}
