package vectorstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rcliao/closer/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func entry(id, text string, vec []float32, offset time.Duration) model.MemoryEntry {
	return model.MemoryEntry{
		ID:        id,
		Text:      text,
		Embedding: vec,
		CreatedAt: base.Add(offset),
	}
}

func seed(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	for _, e := range []model.MemoryEntry{
		entry("a", "North wind", []float32{1, 0, 0}, 0),
		entry("b", "North-east wind", []float32{1, 1, 0}, time.Second),
		entry("c", "South wind", []float32{-1, 0, 0}, 2*time.Second),
	} {
		if err := s.Insert(ctx, e); err != nil {
			t.Fatalf("insert %s: %v", e.ID, err)
		}
	}
}

func TestInsertAndListAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e := entry("01A", "  Keep Case & Punctuation!", []float32{0.5, 0.5}, 0)
	e.Metadata = map[string]string{"source": "test"}
	if err := s.Insert(ctx, e); err != nil {
		t.Fatalf("insert: %v", err)
	}

	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(all))
	}
	got := all[0]
	if got.Text != e.Text {
		t.Errorf("text must be stored verbatim, got %q", got.Text)
	}
	if !got.CreatedAt.Equal(e.CreatedAt) {
		t.Errorf("expected created_at %v, got %v", e.CreatedAt, got.CreatedAt)
	}
	if got.Metadata["source"] != "test" {
		t.Errorf("expected metadata to round trip, got %v", got.Metadata)
	}
	if len(got.Embedding) != 2 {
		t.Errorf("expected 2-dim embedding, got %v", got.Embedding)
	}
}

func TestInsertDuplicateID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := entry("dup", "x", []float32{1}, 0)
	if err := s.Insert(ctx, e); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Insert(ctx, e); err == nil {
		t.Error("expected error for duplicate id")
	}
}

func TestInsertRequiresEmbedding(t *testing.T) {
	s := newTestStore(t)
	if err := s.Insert(context.Background(), entry("x", "y", nil, 0)); err == nil {
		t.Error("expected error without embedding")
	}
}

func TestQueryOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)

	hits, err := s.Query(ctx, []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits (k larger than store), got %d", len(hits))
	}
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if hits[i].Entry.ID != id {
			t.Errorf("hit %d: expected %s, got %s", i, id, hits[i].Entry.ID)
		}
	}
	if hits[0].Distance > 1e-6 {
		t.Errorf("expected ~0 distance for identical vector, got %f", hits[0].Distance)
	}
	if hits[2].Distance < 1.99 {
		t.Errorf("expected ~2 distance for opposite vector, got %f", hits[2].Distance)
	}

	top, _ := s.Query(ctx, []float32{1, 0, 0}, 1)
	if len(top) != 1 || top[0].Entry.ID != "a" {
		t.Errorf("expected only 'a', got %v", top)
	}
}

func TestQueryEmptyStore(t *testing.T) {
	s := newTestStore(t)
	hits, err := s.Query(context.Background(), []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits, got %d", len(hits))
	}
}

func TestDeleteAndCount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)

	n, err := s.Delete(ctx, "a", "c", "missing")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}
	count, _ := s.Count(ctx)
	if count != 1 {
		t.Errorf("expected 1 remaining, got %d", count)
	}
}

func TestSnapshotTo(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)

	dir := t.TempDir()
	if err := s.SnapshotTo(ctx, dir); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	copyPath := filepath.Join(dir, "test.db")
	if _, err := os.Stat(copyPath); err != nil {
		t.Fatalf("snapshot file missing: %v", err)
	}

	restored, err := NewSQLiteStore(copyPath, nil)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer restored.Close()
	n, _ := restored.Count(ctx)
	if n != 3 {
		t.Errorf("expected 3 entries in snapshot, got %d", n)
	}
	if s.Size() == 0 {
		t.Error("expected non-zero store size")
	}
}

func TestQuery_TiesPreferNewerThenID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	vec := []float32{0, 1, 0}
	for _, e := range []model.MemoryEntry{
		entry("old", "same", vec, 0),
		entry("mid-b", "same", vec, time.Second),
		entry("mid-a", "same", vec, time.Second),
		entry("new", "same", vec, 2*time.Second),
	} {
		if err := s.Insert(ctx, e); err != nil {
			t.Fatalf("insert %s: %v", e.ID, err)
		}
	}

	hits, err := s.Query(ctx, vec, 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	want := []string{"new", "mid-a", "mid-b"}
	if len(hits) != len(want) {
		t.Fatalf("expected %d hits, got %d", len(want), len(hits))
	}
	for i, id := range want {
		if hits[i].Entry.ID != id {
			t.Errorf("hit %d: expected %s, got %s", i, id, hits[i].Entry.ID)
		}
	}
}
