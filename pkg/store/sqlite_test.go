package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dotsetgreg/refrag/pkg/engine"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "chunks.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func put(t *testing.T, s *SQLiteStore, chunk engine.Chunk) engine.Chunk {
	t.Helper()
	saved, err := s.PutChunk(context.Background(), chunk, "test-model")
	if err != nil {
		t.Fatalf("put chunk: %v", err)
	}
	return saved
}

func TestPutChunkAssignsIDAndRoundTrips(t *testing.T) {
	s := newTestStore(t)
	saved := put(t, s, engine.Chunk{
		Text:      "write-ahead logging keeps readers unblocked",
		Source:    "docs/wal.md",
		Domains:   []string{"technical"},
		Metadata:  map[string]string{"section": "3"},
		Embedding: []float32{0.6, 0.8},
	})
	if saved.ID == "" {
		t.Fatalf("missing id on saved chunk")
	}

	results, err := s.Query(context.Background(), []float32{0.6, 0.8}, engine.StoreFilters{Limit: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	got := results[0]
	if got.ID != saved.ID || got.Text != saved.Text || got.Source != saved.Source {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, saved)
	}
	if len(got.Domains) != 1 || got.Domains[0] != "technical" {
		t.Fatalf("domains lost: %+v", got.Domains)
	}
	if got.Metadata["section"] != "3" {
		t.Fatalf("metadata lost: %+v", got.Metadata)
	}
	if len(got.Embedding) != 2 {
		t.Fatalf("embedding lost: %+v", got.Embedding)
	}
}

func TestPutChunkUpsertsExistingID(t *testing.T) {
	s := newTestStore(t)
	first := put(t, s, engine.Chunk{ID: "fixed", Text: "original text", Embedding: []float32{1, 0}})
	put(t, s, engine.Chunk{ID: first.ID, Text: "revised text", Embedding: []float32{1, 0}})

	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("upsert created a duplicate row: count = %d", n)
	}
	results, err := s.Query(context.Background(), []float32{1, 0}, engine.StoreFilters{Limit: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if results[0].Text != "revised text" {
		t.Fatalf("upsert did not replace text: %q", results[0].Text)
	}
}

func TestPutChunkValidation(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.PutChunk(context.Background(), engine.Chunk{Text: "  ", Embedding: []float32{1}}, "m"); err == nil {
		t.Fatalf("blank text must be rejected")
	}
	if _, err := s.PutChunk(context.Background(), engine.Chunk{Text: "no vector"}, "m"); err == nil {
		t.Fatalf("missing embedding must be rejected")
	}
}

func TestQueryRanksBySimilarity(t *testing.T) {
	s := newTestStore(t)
	put(t, s, engine.Chunk{ID: "far", Text: "far chunk", Embedding: []float32{0, 1}})
	put(t, s, engine.Chunk{ID: "near", Text: "near chunk", Embedding: []float32{1, 0}})
	put(t, s, engine.Chunk{ID: "mid", Text: "mid chunk", Embedding: []float32{0.7071, 0.7071}})

	results, err := s.Query(context.Background(), []float32{1, 0}, engine.StoreFilters{Limit: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].ID != "near" || results[1].ID != "mid" || results[2].ID != "far" {
		t.Fatalf("bad ranking: %s, %s, %s", results[0].ID, results[1].ID, results[2].ID)
	}
	if results[0].Score <= results[1].Score {
		t.Fatalf("scores not descending: %f vs %f", results[0].Score, results[1].Score)
	}
}

func TestQueryLimitTruncates(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		put(t, s, engine.Chunk{Text: "chunk body", Embedding: []float32{1, float32(i) / 10}})
	}
	results, err := s.Query(context.Background(), []float32{1, 0}, engine.StoreFilters{Limit: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("limit ignored: got %d", len(results))
	}
}

func TestQueryDomainFilterIsSoft(t *testing.T) {
	s := newTestStore(t)
	put(t, s, engine.Chunk{ID: "tagged-match", Text: "medical text", Domains: []string{"medical"}, Embedding: []float32{1, 0}})
	put(t, s, engine.Chunk{ID: "tagged-miss", Text: "legal text", Domains: []string{"legal"}, Embedding: []float32{1, 0}})
	put(t, s, engine.Chunk{ID: "untagged", Text: "general text", Embedding: []float32{1, 0}})

	results, err := s.Query(context.Background(), []float32{1, 0}, engine.StoreFilters{
		Domains: []string{"medical"},
		Limit:   10,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	ids := map[string]bool{}
	for _, c := range results {
		ids[c.ID] = true
	}
	if !ids["tagged-match"] || !ids["untagged"] {
		t.Fatalf("soft filter dropped a keeper: %v", ids)
	}
	if ids["tagged-miss"] {
		t.Fatalf("mismatched tagged chunk should be excluded: %v", ids)
	}
}

func TestQuerySourceFilter(t *testing.T) {
	s := newTestStore(t)
	put(t, s, engine.Chunk{ID: "a", Text: "from docs", Source: "docs", Embedding: []float32{1, 0}})
	put(t, s, engine.Chunk{ID: "b", Text: "from wiki", Source: "wiki", Embedding: []float32{1, 0}})

	results, err := s.Query(context.Background(), []float32{1, 0}, engine.StoreFilters{
		Sources: []string{"docs"},
		Limit:   10,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Fatalf("source filter failed: %+v", results)
	}
}

func TestQueryEmptyStore(t *testing.T) {
	s := newTestStore(t)
	results, err := s.Query(context.Background(), []float32{1, 0}, engine.StoreFilters{Limit: 10})
	if err != nil {
		t.Fatalf("empty store query must not error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("empty store returned chunks: %+v", results)
	}
}

func TestListChunksNewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		put(t, s, engine.Chunk{
			ID:        []string{"oldest", "middle", "newest"}[i],
			Text:      "listed chunk body",
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
			Embedding: []float32{1, 0},
		})
	}

	chunks, err := s.ListChunks(context.Background(), 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("limit ignored: got %d", len(chunks))
	}
	if chunks[0].ID != "newest" || chunks[1].ID != "middle" {
		t.Fatalf("bad order: %s, %s", chunks[0].ID, chunks[1].ID)
	}
	if len(chunks[0].Embedding) != 0 {
		t.Fatalf("listing should not load embeddings")
	}
}

func TestQueryTieBreaksByRecency(t *testing.T) {
	s := newTestStore(t)
	old := time.Now().Add(-48 * time.Hour)
	put(t, s, engine.Chunk{ID: "older", Text: "same vector", UpdatedAt: old, Embedding: []float32{1, 0}})
	put(t, s, engine.Chunk{ID: "newer", Text: "same vector", UpdatedAt: time.Now(), Embedding: []float32{1, 0}})

	results, err := s.Query(context.Background(), []float32{1, 0}, engine.StoreFilters{Limit: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if results[0].ID != "newer" {
		t.Fatalf("recency tie-break failed: %s first", results[0].ID)
	}
}
