package embedding

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Cached memoizes embeddings by exact text. Keys are the untouched input
// string, so differently cased texts never share an entry.
type Cached struct {
	inner Embedder
	cache *ristretto.Cache
}

var _ Embedder = (*Cached)(nil)

// NewCached wraps inner with a ristretto cache holding up to maxEntries
// vectors.
func NewCached(inner Embedder, maxEntries int64) (*Cached, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
		// Cost is entry count; ristretto's per-item overhead must not count against it.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	return &Cached{inner: inner, cache: c}, nil
}

func (c *Cached) Embed(ctx context.Context, text string) (Vector, error) {
	if v, ok := c.cache.Get(text); ok {
		return v.(Vector), nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if c.cache.Set(text, vec, 1) {
		c.cache.Wait()
	}
	return vec, nil
}

func (c *Cached) Dims() int { return c.inner.Dims() }

// Close releases the cache's background goroutines.
func (c *Cached) Close() {
	c.cache.Close()
}
