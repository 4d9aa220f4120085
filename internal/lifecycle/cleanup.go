package lifecycle

import (
	"context"
	"strings"

	"golang.org/x/text/cases"

	"github.com/rcliao/closer/internal/extcall"
	"github.com/rcliao/closer/internal/memerr"
	"github.com/rcliao/closer/internal/model"
)

// Predicate selects entries for removal. Cleanup calls it once per entry in
// creation order, oldest first, so stateful predicates may rely on that.
type Predicate func(e model.MemoryEntry) bool

// DefaultContaminationPatterns match test data that leaked into a
// production store.
var DefaultContaminationPatterns = []string{
	"test memory",
	"user loves diamonds",
	"test data",
	"testing memory",
	"garbage data",
	"test contamination",
	"memory test",
	"unit test",
	"test case",
}

// ContainsAny matches entries whose text contains any of patterns, ignoring
// case. Folding is applied to the comparison only; stored text is never
// rewritten.
func ContainsAny(patterns ...string) Predicate {
	fold := cases.Fold()
	folded := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			folded = append(folded, fold.String(p))
		}
	}
	return func(e model.MemoryEntry) bool {
		text := cases.Fold().String(e.Text)
		for _, p := range folded {
			if strings.Contains(text, p) {
				return true
			}
		}
		return false
	}
}

// Duplicates matches every entry whose text exactly equals the text of an
// earlier entry, keeping the oldest copy.
func Duplicates() Predicate {
	seen := make(map[string]bool)
	return func(e model.MemoryEntry) bool {
		if seen[e.Text] {
			return true
		}
		seen[e.Text] = true
		return false
	}
}

// IDs matches the given entry IDs.
func IDs(ids ...string) Predicate {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return func(e model.MemoryEntry) bool { return set[e.ID] }
}

// Any matches when at least one of preds matches. Every predicate sees
// every entry so stateful ones stay consistent.
func Any(preds ...Predicate) Predicate {
	return func(e model.MemoryEntry) bool {
		hit := false
		for _, p := range preds {
			if p(e) {
				hit = true
			}
		}
		return hit
	}
}

// CleanupOptions tunes a Cleanup run.
type CleanupOptions struct {
	// DryRun reports matches without snapshotting or deleting.
	DryRun bool
}

// CleanupReport describes a Cleanup run.
type CleanupReport struct {
	Scanned  int                 `json:"scanned"`
	Matched  []model.MemoryEntry `json:"matched"`
	Removed  int                 `json:"removed"`
	Snapshot *model.Snapshot     `json:"snapshot,omitempty"`
	Rotated  []model.Snapshot    `json:"rotated,omitempty"`
}

// Cleanup removes every entry matching pred. Every run that is not a dry
// run first writes a snapshot, matches or not, so each cleanup leaves a
// restore point; if the snapshot fails the store is left untouched and an
// ErrIO is returned. Old snapshots are rotated after the new one lands.
func (m *Manager) Cleanup(ctx context.Context, pred Predicate, opts CleanupOptions) (*CleanupReport, error) {
	if pred == nil {
		return nil, memerr.Validation("cleanup", "predicate is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := extcall.Do(ctx, m.cfg.StorePolicy, memerr.ErrVectorStore, "list", func(ctx context.Context) ([]model.MemoryEntry, error) {
		return m.store.ListAll(ctx)
	})
	if err != nil {
		return nil, err
	}

	report := &CleanupReport{Scanned: len(entries)}
	var ids []string
	for _, e := range entries {
		if pred(e) {
			report.Matched = append(report.Matched, e)
			ids = append(ids, e.ID)
		}
	}
	m.logger.Info("cleanup scanned", "entries", len(entries), "matched", len(ids), "dry_run", opts.DryRun)

	if opts.DryRun {
		return report, nil
	}

	snap, err := m.snapshotLocked(ctx)
	if err != nil {
		return report, err
	}
	report.Snapshot = &snap

	rotated, err := m.rotateLocked(ctx)
	report.Rotated = rotated
	if err != nil {
		m.logger.Warn("cleanup: rotate backups failed", "err", err)
	}

	if len(ids) == 0 {
		return report, nil
	}
	n, err := extcall.Do(ctx, m.cfg.StorePolicy, memerr.ErrVectorStore, "delete", func(ctx context.Context) (int, error) {
		return m.store.Delete(ctx, ids...)
	})
	report.Removed = n
	if err != nil {
		return report, err
	}
	m.logger.Info("cleanup removed entries", "removed", n, "snapshot", snap.Name)
	return report, nil
}
