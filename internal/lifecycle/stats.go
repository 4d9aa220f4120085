package lifecycle

import (
	"context"
	"time"

	"github.com/rcliao/closer/internal/extcall"
	"github.com/rcliao/closer/internal/memerr"
	"github.com/rcliao/closer/internal/model"
	"github.com/rcliao/closer/internal/vectorstore"
)

// Stats holds store statistics.
type Stats struct {
	DBPath      string     `json:"db_path,omitempty"`
	DBSizeBytes int64      `json:"db_size_bytes"`
	Entries     int        `json:"entries"`
	Oldest      *time.Time `json:"oldest,omitempty"`
	Newest      *time.Time `json:"newest,omitempty"`
	BackupDir   string     `json:"backup_dir,omitempty"`
	Snapshots   int        `json:"snapshots"`
	Retention   int        `json:"retention"`
	WordCeiling int        `json:"word_ceiling"`
}

// Stats returns store statistics.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		BackupDir:   m.cfg.BackupDir,
		Retention:   m.cfg.Retention,
		WordCeiling: m.cfg.WordCeiling,
	}
	if sn, ok := m.store.(vectorstore.Snapshotter); ok {
		st.DBPath = sn.Path()
		st.DBSizeBytes = sn.Size()
	}

	entries, err := m.Export(ctx)
	if err != nil {
		return nil, err
	}
	st.Entries = len(entries)
	if len(entries) > 0 {
		oldest, newest := entries[0].CreatedAt, entries[len(entries)-1].CreatedAt
		st.Oldest, st.Newest = &oldest, &newest
	}

	snaps, err := m.Snapshots()
	if err != nil {
		return nil, err
	}
	st.Snapshots = len(snaps)
	return st, nil
}

// Export returns every stored entry, oldest first.
func (m *Manager) Export(ctx context.Context) ([]model.MemoryEntry, error) {
	return extcall.Do(ctx, m.cfg.StorePolicy, memerr.ErrVectorStore, "list", func(ctx context.Context) ([]model.MemoryEntry, error) {
		return m.store.ListAll(ctx)
	})
}

// Import saves each entry's text as a new memory, so every imported entry
// is embedded from its own text. The original ID is kept in metadata under
// "import_id". It stops at the first failure and reports how many were
// imported before it.
func (m *Manager) Import(ctx context.Context, entries []model.MemoryEntry) (int, error) {
	imported := 0
	for _, e := range entries {
		meta := copyMeta(e.Metadata)
		if e.ID != "" {
			if meta == nil {
				meta = make(map[string]string)
			}
			meta["import_id"] = e.ID
		}
		if _, err := m.Save(ctx, e.Text, meta); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}
