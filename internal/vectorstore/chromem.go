package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/rcliao/closer/internal/model"
)

// createdAtKey holds the entry timestamp inside chromem document metadata.
// It is stripped before entries leave the index.
const createdAtKey = "closer:created_at"

// IndexedStore keeps a chromem-go collection in memory as the
// nearest-neighbour index and writes through to a durable Store, which stays
// the system of record. The index is rebuilt from the durable store on open.
type IndexedStore struct {
	durable Store
	col     *chromem.Collection
	logger  *slog.Logger
}

var _ Store = (*IndexedStore)(nil)

// NewIndexedStore builds the index for collection name from every entry in
// durable.
func NewIndexedStore(ctx context.Context, durable Store, name string, logger *slog.Logger) (*IndexedStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db := chromem.NewDB()
	col, err := db.CreateCollection(name, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("chromem: create collection: %w", err)
	}

	entries, err := durable.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("chromem: load entries: %w", err)
	}
	docs := make([]chromem.Document, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, toDocument(e))
	}
	if len(docs) > 0 {
		if err := col.AddDocuments(ctx, docs, 4); err != nil {
			return nil, fmt.Errorf("chromem: index entries: %w", err)
		}
	}

	logger.Debug("chromem: index built", "collection", name, "entries", len(docs))
	return &IndexedStore{durable: durable, col: col, logger: logger}, nil
}

// noEmbed is the collection's embedding func. Every document arrives with
// its embedding already computed, so it is never expected to run.
func noEmbed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("chromem: documents must carry an embedding")
}

func (s *IndexedStore) Insert(ctx context.Context, e model.MemoryEntry) error {
	if err := s.durable.Insert(ctx, e); err != nil {
		return err
	}
	if err := s.col.AddDocument(ctx, toDocument(e)); err != nil {
		return fmt.Errorf("chromem: add document: %w", err)
	}
	return nil
}

func (s *IndexedStore) Query(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	n := s.col.Count()
	if k > n {
		k = n
	}
	if k <= 0 || len(vector) == 0 {
		return nil, nil
	}
	results, err := s.col.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			Entry:    fromResult(r),
			Distance: 1 - float64(r.Similarity),
		})
	}
	return hits, nil
}

func (s *IndexedStore) Delete(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := s.durable.Delete(ctx, ids...)
	if err != nil {
		return n, err
	}
	if err := s.col.Delete(ctx, nil, nil, ids...); err != nil {
		return n, fmt.Errorf("chromem: delete: %w", err)
	}
	return n, nil
}

func (s *IndexedStore) ListAll(ctx context.Context) ([]model.MemoryEntry, error) {
	return s.durable.ListAll(ctx)
}

func (s *IndexedStore) Count(ctx context.Context) (int, error) {
	return s.durable.Count(ctx)
}

// SnapshotTo delegates to the durable store when it supports snapshots.
func (s *IndexedStore) SnapshotTo(ctx context.Context, dir string) error {
	sn, ok := s.durable.(Snapshotter)
	if !ok {
		return fmt.Errorf("chromem: durable store %T cannot snapshot", s.durable)
	}
	return sn.SnapshotTo(ctx, dir)
}

func (s *IndexedStore) Path() string {
	if sn, ok := s.durable.(Snapshotter); ok {
		return sn.Path()
	}
	return ""
}

func (s *IndexedStore) Size() int64 {
	if sn, ok := s.durable.(Snapshotter); ok {
		return sn.Size()
	}
	return 0
}

func (s *IndexedStore) Close() error {
	return s.durable.Close()
}

func toDocument(e model.MemoryEntry) chromem.Document {
	meta := make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		meta[k] = v
	}
	meta[createdAtKey] = e.CreatedAt.UTC().Format(timeLayout)
	return chromem.Document{
		ID:        e.ID,
		Content:   e.Text,
		Embedding: e.Embedding,
		Metadata:  meta,
	}
}

func fromResult(r chromem.Result) model.MemoryEntry {
	e := model.MemoryEntry{
		ID:        r.ID,
		Text:      r.Content,
		Embedding: r.Embedding,
	}
	for k, v := range r.Metadata {
		if k == createdAtKey {
			e.CreatedAt, _ = time.Parse(timeLayout, v)
			continue
		}
		if e.Metadata == nil {
			e.Metadata = make(map[string]string)
		}
		e.Metadata[k] = v
	}
	return e
}
