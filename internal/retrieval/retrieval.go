// Package retrieval answers "which memories are relevant to this text".
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/rcliao/closer/internal/embedding"
	"github.com/rcliao/closer/internal/extcall"
	"github.com/rcliao/closer/internal/memerr"
	"github.com/rcliao/closer/internal/model"
	"github.com/rcliao/closer/internal/similarity"
	"github.com/rcliao/closer/internal/vectorstore"
)

const (
	DefaultK          = 5
	DefaultOversample = 3
)

// Config configures a Service.
type Config struct {
	// DefaultK is used when a query asks for k <= 0.
	DefaultK int
	// DefaultMinRelevance is used when a query passes a negative threshold.
	DefaultMinRelevance float64
	// Oversample multiplies k to size the candidate pool fetched from the
	// store before threshold filtering.
	Oversample int

	EmbedPolicy extcall.Policy
	StorePolicy extcall.Policy
}

// Service ranks stored memories against query text. It never writes.
type Service struct {
	store    vectorstore.Store
	embedder embedding.Embedder
	cfg      Config
	logger   *slog.Logger
}

// New creates a Service. A nil logger uses slog.Default().
func New(store vectorstore.Store, embedder embedding.Embedder, cfg Config, logger *slog.Logger) *Service {
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = DefaultK
	}
	if cfg.Oversample < 1 {
		cfg.Oversample = DefaultOversample
	}
	if cfg.EmbedPolicy == (extcall.Policy{}) {
		cfg.EmbedPolicy = extcall.DefaultPolicy
	}
	if cfg.StorePolicy == (extcall.Policy{}) {
		cfg.StorePolicy = extcall.Policy{Timeout: 10 * time.Second, Attempts: 2}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, embedder: embedder, cfg: cfg, logger: logger}
}

// Query returns at most k memories whose relevance to text is at least
// minRelevance, ordered by relevance descending, then newer first, then by
// ID. An empty store or no result above the threshold yields an empty
// slice and a nil error. k <= 0 and minRelevance < 0 select the configured
// defaults.
func (s *Service) Query(ctx context.Context, text string, k int, minRelevance float64) ([]model.RetrievalResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, memerr.Validation("query", "query text is empty")
	}
	if k <= 0 {
		k = s.cfg.DefaultK
	}
	if minRelevance < 0 {
		minRelevance = s.cfg.DefaultMinRelevance
	}

	total, err := extcall.Do(ctx, s.cfg.StorePolicy, memerr.ErrVectorStore, "count", func(ctx context.Context) (int, error) {
		return s.store.Count(ctx)
	})
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return []model.RetrievalResult{}, nil
	}

	vec, err := extcall.Do(ctx, s.cfg.EmbedPolicy, memerr.ErrEmbedding, "embed", func(ctx context.Context) (embedding.Vector, error) {
		return s.embedder.Embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}

	pool := k * s.cfg.Oversample
	if pool > total {
		pool = total
	}
	results, boundary, err := s.rank(ctx, vec, pool, minRelevance)
	if err != nil {
		return nil, err
	}

	// The store cuts the pool without our tie-break, so entries tied with
	// the last one it returned may have been left out. Widen to the whole
	// store once when that cut could change the top k, or when the pool
	// under-filled.
	if pool < total && (len(results) < k || results[k-1].Relevance == boundary) {
		s.logger.Debug("retrieval: widening candidate pool", "pool", pool, "total", total, "have", len(results))
		if results, _, err = s.rank(ctx, vec, total, minRelevance); err != nil {
			return nil, err
		}
	}

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// rank fetches pool hits, filters them by minRelevance and sorts them. It
// also returns the relevance of the farthest hit fetched, or -1 when the
// store returned fewer than pool hits.
func (s *Service) rank(ctx context.Context, vec []float32, pool int, minRelevance float64) ([]model.RetrievalResult, float64, error) {
	hits, err := extcall.Do(ctx, s.cfg.StorePolicy, memerr.ErrVectorStore, "query", func(ctx context.Context) ([]vectorstore.Hit, error) {
		return s.store.Query(ctx, vec, pool)
	})
	if err != nil {
		return nil, 0, err
	}

	boundary := -1.0
	results := make([]model.RetrievalResult, 0, len(hits))
	for i, h := range hits {
		rel := similarity.Normalize(h.Distance)
		if i == len(hits)-1 && len(hits) == pool {
			boundary = rel
		}
		if rel < minRelevance {
			continue
		}
		results = append(results, model.RetrievalResult{Entry: h.Entry, Relevance: rel, Distance: h.Distance})
	}
	Sort(results)
	return results, boundary, nil
}

// Sort orders results by relevance descending, then CreatedAt descending,
// then ID ascending.
func Sort(results []model.RetrievalResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		if !a.Entry.CreatedAt.Equal(b.Entry.CreatedAt) {
			return a.Entry.CreatedAt.After(b.Entry.CreatedAt)
		}
		return a.Entry.ID < b.Entry.ID
	})
}

// Recent returns the k most recently created memories, newest first, each
// with relevance 1. It is the unthemed sample used for dreaming.
func (s *Service) Recent(ctx context.Context, k int) ([]model.RetrievalResult, error) {
	if k <= 0 {
		k = s.cfg.DefaultK
	}
	entries, err := extcall.Do(ctx, s.cfg.StorePolicy, memerr.ErrVectorStore, "list", func(ctx context.Context) ([]model.MemoryEntry, error) {
		return s.store.ListAll(ctx)
	})
	if err != nil {
		return nil, err
	}

	results := make([]model.RetrievalResult, 0, k)
	for i := len(entries) - 1; i >= 0 && len(results) < k; i-- {
		results = append(results, model.RetrievalResult{Entry: entries[i], Relevance: 1})
	}
	return results, nil
}
