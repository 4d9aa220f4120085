package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/rcliao/closer/internal/memerr"
	"github.com/rcliao/closer/internal/model"
	"github.com/rcliao/closer/internal/vectorstore"
)

func (m *Manager) snapshotPrefix() string {
	return m.cfg.Collection + "_backup_"
}

// Snapshots lists the snapshots in the backup directory, newest first.
func (m *Manager) Snapshots() ([]model.Snapshot, error) {
	if m.cfg.BackupDir == "" {
		return nil, nil
	}
	names, err := doublestar.Glob(os.DirFS(m.cfg.BackupDir), m.snapshotPrefix()+"*")
	if err != nil {
		return nil, memerr.Wrap(memerr.ErrIO, "list snapshots", err)
	}

	var snaps []model.Snapshot
	for _, name := range names {
		nanos, err := strconv.ParseInt(strings.TrimPrefix(name, m.snapshotPrefix()), 10, 64)
		if err != nil {
			continue
		}
		path := filepath.Join(m.cfg.BackupDir, name)
		if info, err := os.Stat(path); err != nil || !info.IsDir() {
			continue
		}
		snaps = append(snaps, model.Snapshot{
			Name:      name,
			Path:      path,
			Timestamp: time.Unix(0, nanos).UTC(),
		})
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].Timestamp.After(snaps[j].Timestamp)
	})
	return snaps, nil
}

// Snapshot writes a consistent copy of the store into a new snapshot
// directory.
func (m *Manager) Snapshot(ctx context.Context) (model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(ctx)
}

// snapshotLocked copies the store into a hidden staging directory and
// renames it into place, so a listed snapshot is always complete.
func (m *Manager) snapshotLocked(ctx context.Context) (model.Snapshot, error) {
	sn, ok := m.store.(vectorstore.Snapshotter)
	if !ok {
		return model.Snapshot{}, memerr.Wrap(memerr.ErrIO, "snapshot", fmt.Errorf("store %T does not support snapshots", m.store))
	}
	if m.cfg.BackupDir == "" {
		return model.Snapshot{}, memerr.Wrap(memerr.ErrIO, "snapshot", fmt.Errorf("no backup directory configured"))
	}
	if err := os.MkdirAll(m.cfg.BackupDir, 0o755); err != nil {
		return model.Snapshot{}, memerr.Wrap(memerr.ErrIO, "snapshot", err)
	}

	ts, err := m.nextSnapshotTime()
	if err != nil {
		return model.Snapshot{}, err
	}
	name := m.snapshotPrefix() + strconv.FormatInt(ts, 10)
	final := filepath.Join(m.cfg.BackupDir, name)
	staging := filepath.Join(m.cfg.BackupDir, "."+name+".tmp")

	if err := os.MkdirAll(staging, 0o755); err != nil {
		return model.Snapshot{}, memerr.Wrap(memerr.ErrIO, "snapshot", err)
	}
	if err := sn.SnapshotTo(ctx, staging); err != nil {
		os.RemoveAll(staging)
		return model.Snapshot{}, memerr.Wrap(memerr.ErrIO, "snapshot", err)
	}
	if err := os.Rename(staging, final); err != nil {
		os.RemoveAll(staging)
		return model.Snapshot{}, memerr.Wrap(memerr.ErrIO, "snapshot", err)
	}

	snap := model.Snapshot{Name: name, Path: final, Timestamp: time.Unix(0, ts).UTC()}
	m.logger.Info("snapshot written", "name", name)
	return snap, nil
}

// nextSnapshotTime returns a nanosecond timestamp strictly greater than
// any snapshot already on disk or issued by this manager.
func (m *Manager) nextSnapshotTime() (int64, error) {
	if m.lastSnap == 0 {
		existing, err := m.Snapshots()
		if err != nil {
			return 0, err
		}
		if len(existing) > 0 {
			m.lastSnap = existing[0].Timestamp.UnixNano()
		}
	}
	ts := m.clock().UnixNano()
	if ts <= m.lastSnap {
		ts = m.lastSnap + 1
	}
	m.lastSnap = ts
	return ts, nil
}

// RotateBackups removes the oldest snapshots until at most Retention remain
// and returns the ones removed. Running it again removes nothing.
func (m *Manager) RotateBackups(ctx context.Context) ([]model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rotateLocked(ctx)
}

func (m *Manager) rotateLocked(ctx context.Context) ([]model.Snapshot, error) {
	snaps, err := m.Snapshots()
	if err != nil {
		return nil, err
	}
	if len(snaps) <= m.cfg.Retention {
		return nil, nil
	}

	var removed []model.Snapshot
	for _, s := range snaps[m.cfg.Retention:] {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := os.RemoveAll(s.Path); err != nil {
			return removed, memerr.Wrap(memerr.ErrIO, "rotate backups", err)
		}
		m.logger.Info("snapshot removed", "name", s.Name)
		removed = append(removed, s)
	}
	return removed, nil
}
