// Package vectorstore provides the nearest-neighbour store behind the memory
// engine: a durable SQLite store and a chromem-go index layered over it.
package vectorstore

import (
	"context"

	"github.com/rcliao/closer/internal/model"
)

// Hit is a stored entry and its cosine distance to a query vector.
type Hit struct {
	Entry    model.MemoryEntry
	Distance float64
}

// Store defines the vector store contract.
type Store interface {
	// Insert persists an entry. Entry.ID and Entry.Embedding must be set.
	Insert(ctx context.Context, e model.MemoryEntry) error

	// Query returns up to k hits in ascending distance order. k larger than
	// the number of stored entries is not an error.
	Query(ctx context.Context, vector []float32, k int) ([]Hit, error)

	// Delete removes the given IDs and reports how many existed.
	Delete(ctx context.Context, ids ...string) (int, error)

	// ListAll returns every entry ordered by creation time, oldest first.
	ListAll(ctx context.Context) ([]model.MemoryEntry, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)

	Close() error
}

// Snapshotter is implemented by stores whose state lives in files that can
// be copied consistently.
type Snapshotter interface {
	// SnapshotTo writes a consistent copy of the store into dir, which must
	// already exist and be empty.
	SnapshotTo(ctx context.Context, dir string) error

	// Path returns the primary file backing the store.
	Path() string

	// Size returns the on-disk size of the store in bytes.
	Size() int64
}
