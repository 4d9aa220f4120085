// Package lifecycle owns every mutation of the memory store: saving entries,
// predicate-driven cleanup with a snapshot taken first, and retention of
// those snapshots.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/closer/internal/embedding"
	"github.com/rcliao/closer/internal/extcall"
	"github.com/rcliao/closer/internal/memerr"
	"github.com/rcliao/closer/internal/model"
	"github.com/rcliao/closer/internal/segment"
	"github.com/rcliao/closer/internal/vectorstore"
)

const (
	DefaultWordCeiling = 40
	DefaultRetention   = 2
	DefaultCollection  = "closer_memory"
)

// Config configures a Manager.
type Config struct {
	// WordCeiling is the maximum number of words a saved text may have.
	WordCeiling int
	// Retention is the number of snapshots kept after rotation.
	Retention int
	// BackupDir holds snapshot directories.
	BackupDir string
	// Collection names the store; snapshots are called <Collection>_backup_<nanos>.
	Collection string

	EmbedPolicy extcall.Policy
	StorePolicy extcall.Policy
}

func (c *Config) applyDefaults() {
	if c.WordCeiling <= 0 {
		c.WordCeiling = DefaultWordCeiling
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
	if c.EmbedPolicy == (extcall.Policy{}) {
		c.EmbedPolicy = extcall.DefaultPolicy
	}
	if c.StorePolicy == (extcall.Policy{}) {
		c.StorePolicy = extcall.Policy{Timeout: 10 * time.Second, Attempts: 1}
	}
}

// Manager is the single writer of memory entries and snapshots.
// Save, Delete, Cleanup, Snapshot and RotateBackups are serialized by mu;
// readers go straight to the store.
type Manager struct {
	store    vectorstore.Store
	embedder embedding.Embedder
	cfg      Config
	logger   *slog.Logger

	mu       sync.Mutex
	entropy  *ulid.MonotonicEntropy
	lastSnap int64
	clock    func() time.Time
}

// New creates a Manager. A nil logger uses slog.Default().
func New(store vectorstore.Store, embedder embedding.Embedder, cfg Config, logger *slog.Logger) *Manager {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger,
		entropy:  ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		clock:    time.Now,
	}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Store returns the underlying vector store for read-only use.
func (m *Manager) Store() vectorstore.Store { return m.store }

// ValidateText trims surrounding whitespace and enforces the word ceiling.
// Case and inner punctuation are left untouched.
func ValidateText(text string, ceiling int) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", memerr.Validation("save", "text is empty")
	}
	if n := segment.Words(text); n > ceiling {
		return "", memerr.Validation("save", "text has %d words, limit is %d", n, ceiling)
	}
	return text, nil
}

// Save validates, embeds and stores text, returning the new entry's ID.
func (m *Manager) Save(ctx context.Context, text string, metadata map[string]string) (string, error) {
	text, err := ValidateText(text, m.cfg.WordCeiling)
	if err != nil {
		return "", err
	}

	vec, err := extcall.Do(ctx, m.cfg.EmbedPolicy, memerr.ErrEmbedding, "embed", func(ctx context.Context) (embedding.Vector, error) {
		return m.embedder.Embed(ctx, text)
	})
	if err != nil {
		return "", err
	}
	if len(vec) == 0 {
		return "", memerr.Wrap(memerr.ErrEmbedding, "embed", fmt.Errorf("empty vector"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock().UTC()
	entry := model.MemoryEntry{
		ID:        ulid.MustNew(ulid.Timestamp(now), m.entropy).String(),
		Text:      text,
		Embedding: vec,
		CreatedAt: now,
		Metadata:  copyMeta(metadata),
	}
	if _, err := extcall.Do(ctx, m.cfg.StorePolicy, memerr.ErrVectorStore, "insert", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.store.Insert(ctx, entry)
	}); err != nil {
		return "", err
	}

	m.logger.Info("memory saved", "id", entry.ID, "preview", Preview(text, 50))
	return entry.ID, nil
}

// Delete removes a single entry by ID. Deleting an unknown ID is an
// ErrValidation.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := extcall.Do(ctx, m.cfg.StorePolicy, memerr.ErrVectorStore, "delete", func(ctx context.Context) (int, error) {
		return m.store.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return memerr.Validation("delete", "memory %s not found", id)
	}
	m.logger.Info("memory deleted", "id", id)
	return nil
}

// Preview returns at most n runes of text, with "..." appended when cut.
func Preview(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}

func copyMeta(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
