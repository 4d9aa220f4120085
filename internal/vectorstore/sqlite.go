package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/closer/internal/model"
	"github.com/rcliao/closer/internal/similarity"
)

// timeLayout is fixed-width so created_at sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using SQLite. Embeddings are stored as JSON
// arrays and similarity is computed in Go over the whole table.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

var (
	_ Store       = (*SQLiteStore)(nil)
	_ Snapshotter = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db, path: dbPath, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS entries (
		id         TEXT PRIMARY KEY,
		text       TEXT NOT NULL,
		embedding  TEXT NOT NULL,
		created_at TEXT NOT NULL,
		metadata   TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_entries_created ON entries(created_at);
	`)
	return err
}

func (s *SQLiteStore) Insert(ctx context.Context, e model.MemoryEntry) error {
	if e.ID == "" || len(e.Embedding) == 0 {
		return fmt.Errorf("sqlite store: entry needs id and embedding")
	}
	embJSON, err := json.Marshal(e.Embedding)
	if err != nil {
		return fmt.Errorf("sqlite store: marshal embedding: %w", err)
	}
	var metaJSON *string
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("sqlite store: marshal metadata: %w", err)
		}
		m := string(b)
		metaJSON = &m
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entries (id, text, embedding, created_at, metadata) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Text, string(embJSON), e.CreatedAt.UTC().Format(timeLayout), metaJSON)
	if err != nil {
		return fmt.Errorf("sqlite store: insert entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	entries, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(entries))
	for _, e := range entries {
		hits = append(hits, Hit{Entry: e, Distance: similarity.CosineDistance(vector, e.Embedding)})
	}
	// Ties go to the newer entry, then the smaller ID, matching retrieval
	// order so a cut at k keeps the entries a ranked query would keep.
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if !a.Entry.CreatedAt.Equal(b.Entry.CreatedAt) {
			return a.Entry.CreatedAt.After(b.Entry.CreatedAt)
		}
		return a.Entry.ID < b.Entry.ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: delete entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) ListAll(ctx context.Context) ([]model.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, embedding, created_at, metadata FROM entries ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: query entries: %w", err)
	}
	defer rows.Close()

	var entries []model.MemoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			s.logger.Warn("sqlite store: skip malformed row", "err", err)
			continue
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: iterate rows: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite store: count: %w", err)
	}
	return n, nil
}

// SnapshotTo writes a compacted, transactionally consistent copy of the
// database into dir using VACUUM INTO.
func (s *SQLiteStore) SnapshotTo(ctx context.Context, dir string) error {
	target := filepath.Join(dir, filepath.Base(s.path))
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, target); err != nil {
		return fmt.Errorf("sqlite store: vacuum into %s: %w", target, err)
	}
	return nil
}

func (s *SQLiteStore) Path() string { return s.path }

// Size returns the size of the database file plus its WAL.
func (s *SQLiteStore) Size() int64 {
	var total int64
	for _, p := range []string{s.path, s.path + "-wal"} {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return total
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (model.MemoryEntry, error) {
	var e model.MemoryEntry
	var embJSON, createdAt string
	var meta sql.NullString

	if err := row.Scan(&e.ID, &e.Text, &embJSON, &createdAt, &meta); err != nil {
		return e, err
	}
	if err := json.Unmarshal([]byte(embJSON), &e.Embedding); err != nil {
		return e, fmt.Errorf("decode embedding for %s: %w", e.ID, err)
	}
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return e, fmt.Errorf("decode created_at for %s: %w", e.ID, err)
	}
	e.CreatedAt = t
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &e.Metadata); err != nil {
			return e, fmt.Errorf("decode metadata for %s: %w", e.ID, err)
		}
	}
	return e, nil
}
