// Package persist implements the crash-safe persistence engine: debounced
// batched flushes of the canonical store to a durable JSON snapshot, with a
// recovery marker protocol and versioned schema migration.
//
// All I/O goes through an injected hackpadfs.FS so tests run against an
// in-memory filesystem.
package persist

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/hack-pad/hackpadfs"
	"go.uber.org/zap"

	"github.com/kittclouds/workbench/internal/store"
)

const (
	snapshotFile  = "workspace.json"
	snapshotTemp  = "workspace.json.tmp"
	flushMarker   = "flush.marker"
	migrateMarker = "migration.marker"

	metricsWindow = 64
)

// FlushMetrics reports the most recent flush outcome plus rolling latency
// percentiles. Used for regression testing, not correctness.
type FlushMetrics struct {
	Success       bool
	DurationMs    float64
	P50DurationMs float64
	P95DurationMs float64
}

// Engine owns the durable snapshot lifecycle for one store.
type Engine struct {
	fsys     hackpadfs.FS
	dir      string
	store    *store.Store
	log      *zap.Logger
	debounce time.Duration

	mu    sync.Mutex // guards dirty/timer/window
	dirty bool
	timer *time.Timer

	flushMu sync.Mutex // single-flight: one flush at a time

	window  []float64
	lastOK  bool
	lastDur float64
}

// NewEngine creates a persistence engine rooted at dir on fsys. The engine
// subscribes to the store, so every mutation schedules a debounced flush.
func NewEngine(fsys hackpadfs.FS, dir string, s *store.Store, debounce time.Duration, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := hackpadfs.MkdirAll(fsys, dir, 0o755); err != nil {
		return nil, fmt.Errorf("persist: create dir %q: %w", dir, err)
	}
	e := &Engine{
		fsys:     fsys,
		dir:      dir,
		store:    s,
		log:      log,
		debounce: debounce,
		lastOK:   true,
	}
	s.Subscribe(func(int64) { e.MarkDirty() })
	return e, nil
}

// MarkDirty records pending changes and (re)arms the debounce timer.
// A flush already in progress absorbs later dirty-marks instead of
// starting a second overlapping write.
func (e *Engine) MarkDirty() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dirty = true
	if e.debounce <= 0 {
		return
	}
	if e.timer != nil {
		e.timer.Reset(e.debounce)
		return
	}
	e.timer = time.AfterFunc(e.debounce, func() {
		if err := e.Flush("debounce"); err != nil {
			e.log.Error("debounced flush failed", zap.Error(err))
		}
	})
}

// Flush writes the full canonical state durably: recovery marker, temp
// file, atomic rename, marker removal. On failure the marker stays behind
// and the dirty state is retried rather than dropped.
func (e *Engine) Flush(reason string) error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	e.mu.Lock()
	e.dirty = false
	if e.timer != nil {
		e.timer.Stop()
	}
	e.mu.Unlock()

	start := time.Now()
	err := e.writeSnapshot()
	e.record(time.Since(start), err == nil)

	if err != nil {
		e.mu.Lock()
		e.dirty = true
		e.mu.Unlock()
		e.log.Error("flush failed", zap.String("reason", reason), zap.Error(err))
		return fmt.Errorf("persist: flush (%s): %w", reason, err)
	}
	e.log.Debug("flushed workspace",
		zap.String("reason", reason),
		zap.Duration("took", time.Since(start)))
	return nil
}

// ForceSave flushes synchronously. Shutdown path.
func (e *Engine) ForceSave() error {
	return e.Flush("shutdown")
}

// FlushIfPending flushes only when there are unsaved changes. A clean
// engine reports success without touching disk.
func (e *Engine) FlushIfPending() error {
	e.mu.Lock()
	pending := e.dirty
	e.mu.Unlock()
	if !pending {
		return nil
	}
	return e.Flush("pending")
}

// Close stops the debounce timer and force-saves any pending state.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	pending := e.dirty
	e.mu.Unlock()
	if !pending {
		return nil
	}
	return e.ForceSave()
}

// writeSnapshot performs one durable write cycle.
func (e *Engine) writeSnapshot() error {
	items, databases, sessions := e.store.Export()
	data, err := encodeSnapshot(&Snapshot{
		SchemaVersion: CurrentSchemaVersion,
		SavedAt:       time.Now().UnixMilli(),
		Items:         items,
		Databases:     databases,
		Sessions:      sessions,
	})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	// Marker first: its presence on restart signals an interrupted flush.
	if err := hackpadfs.WriteFullFile(e.fsys, e.markerPath(), []byte("save in progress"), 0o644); err != nil {
		return fmt.Errorf("write flush marker: %w", err)
	}
	if err := hackpadfs.WriteFullFile(e.fsys, e.tempPath(), data, 0o644); err != nil {
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := hackpadfs.Rename(e.fsys, e.tempPath(), e.snapshotPath()); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	if err := hackpadfs.Remove(e.fsys, e.markerPath()); err != nil {
		return fmt.Errorf("remove flush marker: %w", err)
	}
	return nil
}

// =============================================================================
// Load & recovery
// =============================================================================

// Load restores the canonical store from the durable snapshot, honoring
// the recovery and migration markers. A missing snapshot is a fresh start,
// not an error.
func (e *Engine) Load() error {
	if e.exists(e.markerPath()) {
		// A flush died between marker-write and marker-delete. The temp
		// file may be partial; the named snapshot is the last durable one.
		e.log.Warn("previous flush interrupted, falling back to durable snapshot")
		if e.exists(e.tempPath()) {
			if err := hackpadfs.Remove(e.fsys, e.tempPath()); err != nil {
				return fmt.Errorf("persist: discard partial snapshot: %w", err)
			}
		}
		if err := hackpadfs.Remove(e.fsys, e.markerPath()); err != nil {
			return fmt.Errorf("persist: clear flush marker: %w", err)
		}
	}

	migrationPending := e.exists(e.migratePath())
	if migrationPending {
		e.log.Warn("previous schema migration interrupted, retrying")
	}

	data, err := hackpadfs.ReadFile(e.fsys, e.snapshotPath())
	if errors.Is(err, hackpadfs.ErrNotExist) {
		e.store.Import(nil, nil, nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("persist: read snapshot: %w", err)
	}

	snap, version, err := decodeSnapshot(data)
	if err != nil {
		return err
	}
	if version < CurrentSchemaVersion {
		snap, err = e.migrate(data, version)
		if err != nil {
			return err
		}
	} else if migrationPending {
		// Migration finished durably but its flag was never cleared.
		if err := hackpadfs.Remove(e.fsys, e.migratePath()); err != nil {
			return fmt.Errorf("persist: clear migration marker: %w", err)
		}
	}

	e.store.Import(snap.Items, snap.Databases, snap.Sessions)
	return nil
}

// migrate re-materializes every record into the current shape, guarded by
// the migration marker: set before any mutation, cleared only after the
// new-version snapshot is durably flushed. A clean failure leaves the
// pre-migration data fully intact.
func (e *Engine) migrate(data []byte, fromVersion int) (*Snapshot, error) {
	e.log.Info("migrating workspace snapshot",
		zap.Int("from", fromVersion), zap.Int("to", CurrentSchemaVersion))

	if err := hackpadfs.WriteFullFile(e.fsys, e.migratePath(), []byte("migration in progress"), 0o644); err != nil {
		return nil, fmt.Errorf("persist: write migration marker: %w", err)
	}

	snap, err := migrateSnapshot(data, fromVersion)
	if err != nil {
		// Restore the old version flag; the original file was never touched.
		if rmErr := hackpadfs.Remove(e.fsys, e.migratePath()); rmErr != nil {
			e.log.Error("failed to clear migration marker", zap.Error(rmErr))
		}
		return nil, fmt.Errorf("persist: migrate v%d snapshot: %w", fromVersion, err)
	}

	encoded, err := encodeSnapshot(snap)
	if err == nil {
		err = hackpadfs.WriteFullFile(e.fsys, e.tempPath(), encoded, 0o644)
	}
	if err == nil {
		err = hackpadfs.Rename(e.fsys, e.tempPath(), e.snapshotPath())
	}
	if err != nil {
		if rmErr := hackpadfs.Remove(e.fsys, e.migratePath()); rmErr != nil {
			e.log.Error("failed to clear migration marker", zap.Error(rmErr))
		}
		return nil, fmt.Errorf("persist: flush migrated snapshot: %w", err)
	}

	if err := hackpadfs.Remove(e.fsys, e.migratePath()); err != nil {
		return nil, fmt.Errorf("persist: clear migration marker: %w", err)
	}
	return snap, nil
}

// =============================================================================
// Metrics
// =============================================================================

// LastFlushMetrics reports the last flush outcome and p50/p95 latency over
// the rolling window.
func (e *Engine) LastFlushMetrics() FlushMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := FlushMetrics{Success: e.lastOK, DurationMs: e.lastDur}
	if len(e.window) > 0 {
		sorted := append([]float64(nil), e.window...)
		sort.Float64s(sorted)
		m.P50DurationMs = percentile(sorted, 50)
		m.P95DurationMs = percentile(sorted, 95)
	}
	return m
}

func (e *Engine) record(d time.Duration, ok bool) {
	ms := float64(d.Microseconds()) / 1000.0
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastOK = ok
	e.lastDur = ms
	e.window = append(e.window, ms)
	if len(e.window) > metricsWindow {
		e.window = e.window[len(e.window)-metricsWindow:]
	}
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (p * (len(sorted) - 1)) / 100
	return sorted[idx]
}

// =============================================================================
// Paths
// =============================================================================

func (e *Engine) snapshotPath() string { return path.Join(e.dir, snapshotFile) }
func (e *Engine) tempPath() string     { return path.Join(e.dir, snapshotTemp) }
func (e *Engine) markerPath() string   { return path.Join(e.dir, flushMarker) }
func (e *Engine) migratePath() string  { return path.Join(e.dir, migrateMarker) }

func (e *Engine) exists(p string) bool {
	_, err := hackpadfs.Stat(e.fsys, p)
	return err == nil
}
