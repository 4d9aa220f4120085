// Package app builds the engine graph from configuration. An App owns the
// store handle and every component that uses it; Close tears them down in
// reverse order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rcliao/closer/internal/config"
	"github.com/rcliao/closer/internal/dream"
	"github.com/rcliao/closer/internal/embedding"
	"github.com/rcliao/closer/internal/extcall"
	"github.com/rcliao/closer/internal/generate"
	"github.com/rcliao/closer/internal/lifecycle"
	"github.com/rcliao/closer/internal/logging"
	"github.com/rcliao/closer/internal/reflection"
	"github.com/rcliao/closer/internal/retrieval"
	"github.com/rcliao/closer/internal/vectorstore"
	"github.com/rcliao/closer/internal/websearch"
)

type App struct {
	Config config.Config

	Store      vectorstore.Store
	Embedder   embedding.Embedder
	Generator  generate.Generator
	Memory     *lifecycle.Manager
	Retrieval  *retrieval.Service
	Reflection *reflection.Engine
	Dream      *dream.Engine
	Search     *websearch.Client

	closers []func() error
}

// Options replace configured collaborators, mainly for tests.
type Options struct {
	Embedder  embedding.Embedder
	Generator generate.Generator
}

// New opens the store at cfg.DBPath and wires every component.
func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	cfg.Resolve()
	a := &App{Config: cfg}

	durable, err := vectorstore.NewSQLiteStore(cfg.DBPath, logging.ForComponent("sqlite"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, durable.Close)

	indexed, err := vectorstore.NewIndexedStore(ctx, durable, cfg.Collection, logging.ForComponent("index"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build index: %w", err)
	}
	a.Store = indexed

	a.Embedder = opts.Embedder
	if a.Embedder == nil {
		a.Embedder, err = embedding.New(embedding.Config{
			Provider:  cfg.Embedding.Provider,
			Model:     cfg.Embedding.Model,
			BaseURL:   cfg.Embedding.BaseURL,
			APIKey:    cfg.Embedding.APIKey,
			Dims:      cfg.Embedding.Dims,
			Timeout:   cfg.Timeouts.Embed,
			CacheSize: cfg.Embedding.CacheSize,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		if c, ok := a.Embedder.(*embedding.Cached); ok {
			a.closers = append(a.closers, func() error { c.Close(); return nil })
		}
	}

	a.Generator = opts.Generator
	if a.Generator == nil {
		a.Generator, err = generate.New(generate.Config{
			Provider: cfg.Generator.Provider,
			Model:    cfg.Generator.Model,
			BaseURL:  cfg.Generator.BaseURL,
			APIKey:   cfg.Generator.APIKey,
			Timeout:  cfg.Timeouts.Generate,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	embedPolicy := policy(cfg.Timeouts.Embed, 2)
	storePolicy := policy(cfg.Timeouts.Store, 1)
	genPolicy := policy(cfg.Timeouts.Generate, 2)

	a.Memory = lifecycle.New(a.Store, a.Embedder, lifecycle.Config{
		WordCeiling: cfg.Memory.WordCeiling,
		Retention:   cfg.Memory.BackupRetention,
		BackupDir:   cfg.BackupDir,
		Collection:  cfg.Collection,
		EmbedPolicy: embedPolicy,
		StorePolicy: storePolicy,
	}, logging.ForComponent("lifecycle"))

	a.Retrieval = retrieval.New(a.Store, a.Embedder, retrieval.Config{
		DefaultK:            cfg.Retrieval.DefaultK,
		DefaultMinRelevance: cfg.Retrieval.MinRelevance,
		Oversample:          cfg.Retrieval.Oversample,
		EmbedPolicy:         embedPolicy,
		StorePolicy:         policy(cfg.Timeouts.Store, 2),
	}, logging.ForComponent("retrieval"))

	a.Reflection = reflection.New(a.Retrieval, a.Generator, reflection.Config{
		MaxDepth:       cfg.Reflection.MaxDepth,
		K:              cfg.Reflection.K,
		MinRelevance:   orNegative(cfg.Reflection.MinRelevance),
		MaxTokens:      cfg.Reflection.MaxTokens,
		StopMarker:     cfg.Reflection.StopMarker,
		GeneratePolicy: genPolicy,
	}, logging.ForComponent("reflection"))

	a.Dream = dream.New(a.Retrieval, a.Generator, dream.Config{
		TokenCeiling:   cfg.Dream.TokenCeiling,
		K:              cfg.Dream.K,
		MinRelevance:   orNegative(cfg.Dream.MinRelevance),
		GeneratePolicy: genPolicy,
	}, logging.ForComponent("dream"))

	a.Search = websearch.New(websearch.Config{
		APIKey:  cfg.Search.APIKey,
		BaseURL: cfg.Search.BaseURL,
		Timeout: cfg.Timeouts.Search,
	}, logging.ForComponent("websearch"))

	slog.Debug("app ready", "db", cfg.DBPath, "collection", cfg.Collection,
		"embedder", cfg.Embedding.Provider, "generator", cfg.Generator.Provider)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func policy(timeout time.Duration, attempts int) extcall.Policy {
	p := extcall.DefaultPolicy
	p.Timeout = timeout
	p.Attempts = attempts
	return p
}

// orNegative maps an explicit zero threshold to "no filter" for engines
// that treat zero as "use the default".
func orNegative(v float64) float64 {
	if v == 0 {
		return -1
	}
	return v
}
