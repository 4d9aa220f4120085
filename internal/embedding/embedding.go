// Package embedding turns memory text into vectors. Providers are remote
// (Ollama, OpenAI-compatible) or local (hash); any of them can sit behind
// a query cache.
package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text. Text is embedded
// verbatim: case and punctuation are part of the input.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	// Dims is the vector length, or 0 while still unknown.
	Dims() int
}

const defaultTimeout = 30 * time.Second

// Config selects and configures an embedding provider.
type Config struct {
	Provider  string // "ollama" | "openai" | "hash"
	Model     string
	BaseURL   string
	APIKey    string
	Dims      int
	Timeout   time.Duration
	CacheSize int64 // max cached query embeddings; 0 disables the cache
}

// New builds the embedder described by cfg, wrapped in a cache when
// cfg.CacheSize > 0.
func New(cfg Config) (Embedder, error) {
	var e Embedder
	switch strings.ToLower(cfg.Provider) {
	case "ollama":
		o := NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Dims)
		o.setTimeout(cfg.Timeout)
		e = o
	case "openai":
		o := NewOpenAIEmbedder(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dims)
		o.setTimeout(cfg.Timeout)
		e = o
	case "hash", "":
		e = NewHashEmbedder(cfg.Dims)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if cfg.CacheSize <= 0 {
		return e, nil
	}
	return NewCached(e, cfg.CacheSize)
}
