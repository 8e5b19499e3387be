package indexer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"photo-indexer/internal/database"
	"photo-indexer/internal/faults"
	"photo-indexer/internal/logging"
	"photo-indexer/internal/metrics"
	"photo-indexer/internal/source"
)

// progressCeiling is the highest percent reported before ghost cleanup.
const progressCeiling = 95

// ErrAlreadyRunning is returned when Run is called while a pass is active.
var ErrAlreadyRunning = errors.New("reconciliation already in progress")

var log = logging.For("discovery")

// Store is the part of the index the reconciler writes.
type Store interface {
	LoadProjection(ctx context.Context) (map[string]database.Projection, error)
	BeginBatch(ctx context.Context) (*database.Batch, error)
	EndBatch(b *database.Batch, err error) error
	UpsertPhotos(ctx context.Context, b *database.Batch, files []database.PhotoFile) error
	DeletePhotosByPath(ctx context.Context, paths []string) (int, error)
}

// Settings supplies the included folders and owns the sync watermark.
type Settings interface {
	IncludedFolders(ctx context.Context) ([]string, error)
	LastScanTimestamp(ctx context.Context) (int64, error)
	SetLastScanTimestamp(sec int64) error
}

// Result summarizes one reconciliation pass.
type Result struct {
	Seen      int           `json:"seen"`
	Inserted  int           `json:"inserted"`
	Updated   int           `json:"updated"`
	Deleted   int           `json:"deleted"`
	Unchanged int           `json:"unchanged"`
	Duration  time.Duration `json:"duration"`
}

// Reconciler keeps the photo index in step with the source.
type Reconciler struct {
	store    Store
	source   source.Enumerator
	settings Settings
	now      func() time.Time

	mu         sync.Mutex
	running    bool
	lastResult *Result
	lastRun    time.Time
}

// NewReconciler creates a reconciler.
func NewReconciler(store Store, src source.Enumerator, settings Settings) *Reconciler {
	return &Reconciler{
		store:    store,
		source:   src,
		settings: settings,
		now:      time.Now,
	}
}

// Run performs one pass. Each emitted batch commits on its own; deletions are
// computed from the projection loaded before the first write. The watermark
// moves to the start of the pass only when the whole pass succeeds.
//
// progress, when non-nil, receives non-decreasing percentages. A pass with
// nothing to write and nothing to delete reports no progress.
func (r *Reconciler) Run(ctx context.Context, progress func(percent int)) (Result, error) {
	if !r.tryStart() {
		return Result{}, ErrAlreadyRunning
	}
	defer r.finish()

	start := r.now()
	result, err := r.run(ctx, start, progress)
	result.Duration = time.Since(start)

	metrics.ReconcileLastRunDuration.Set(result.Duration.Seconds())
	if err != nil {
		metrics.ReconcileRunsTotal.WithLabelValues("error").Inc()
		log.Warn("Pass failed after %v, watermark unchanged: %v", result.Duration, err)
		return result, err
	}
	metrics.ReconcileRunsTotal.WithLabelValues("success").Inc()

	r.mu.Lock()
	r.lastResult = &result
	r.lastRun = start
	r.mu.Unlock()

	log.Info("Pass complete: %d seen, %d inserted, %d updated, %d deleted, %d unchanged in %v",
		result.Seen, result.Inserted, result.Updated, result.Deleted, result.Unchanged, result.Duration)
	return result, nil
}

func (r *Reconciler) run(ctx context.Context, start time.Time, progress func(int)) (Result, error) {
	var result Result

	folders, err := r.settings.IncludedFolders(ctx)
	if err != nil {
		return result, faults.Wrap(faults.ErrConfiguration, "discovery", "load folders", "", err)
	}
	watermark, err := r.settings.LastScanTimestamp(ctx)
	if err != nil {
		return result, faults.Wrap(faults.ErrConfiguration, "discovery", "load watermark", "", err)
	}

	snapshot, err := r.store.LoadProjection(ctx)
	if err != nil {
		return result, faults.Storage("discovery", "load projection", err)
	}
	log.Debug("Loaded projection of %d photos, watermark %d, folders %v", len(snapshot), watermark, folders)

	observed := make(map[string]struct{}, len(snapshot))
	processed := 0
	lastPercent := -1
	report := func(percent int) {
		if progress != nil && percent > lastPercent {
			lastPercent = percent
			progress(percent)
		}
	}

	onSeen := func(path string) {
		observed[path] = struct{}{}
	}

	emit := func(batch []source.Descriptor) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		changed := make([]database.PhotoFile, 0, len(batch))
		inserted, updated := 0, 0
		for i := range batch {
			d := &batch[i]
			prev, known := snapshot[d.StableID]
			switch {
			case !known:
				inserted++
			case prev.Size != d.SizeBytes || prev.LastModified != d.LastModifiedSec:
				updated++
			default:
				continue
			}
			changed = append(changed, toPhotoFile(d))
		}

		if len(changed) > 0 {
			if err := r.writeBatch(ctx, changed); err != nil {
				return err
			}
		}
		result.Inserted += inserted
		result.Updated += updated
		processed += len(batch)

		if total := len(observed); total > 0 {
			pct := processed * progressCeiling / total
			if pct > progressCeiling {
				pct = progressCeiling
			}
			report(pct)
		}
		return nil
	}

	if err := r.source.Enumerate(ctx, folders, watermark, onSeen, emit); err != nil {
		result.Seen = len(observed)
		return result, err
	}
	result.Seen = len(observed)

	if err := ctx.Err(); err != nil {
		return result, err
	}

	var ghosts []string
	for path := range snapshot {
		if _, seen := observed[path]; seen {
			continue
		}
		if source.Included(folders, path) {
			ghosts = append(ghosts, path)
		}
	}

	if len(ghosts) > 0 {
		deleted, err := r.store.DeletePhotosByPath(ctx, ghosts)
		if err != nil {
			return result, faults.Storage("discovery", "delete ghosts", err)
		}
		result.Deleted = deleted
		log.Info("Removed %d photos no longer in the library", deleted)
	}

	result.Unchanged = result.Seen - result.Inserted - result.Updated
	if result.Unchanged < 0 {
		result.Unchanged = 0
	}

	if err := r.settings.SetLastScanTimestamp(start.Unix()); err != nil {
		return result, fmt.Errorf("failed to advance watermark: %w", err)
	}
	metrics.SyncWatermarkTimestamp.Set(float64(start.Unix()))

	metrics.ReconcileAssetsTotal.WithLabelValues("inserted").Add(float64(result.Inserted))
	metrics.ReconcileAssetsTotal.WithLabelValues("updated").Add(float64(result.Updated))
	metrics.ReconcileAssetsTotal.WithLabelValues("deleted").Add(float64(result.Deleted))
	metrics.ReconcileAssetsTotal.WithLabelValues("unchanged").Add(float64(result.Unchanged))

	if processed > 0 || result.Deleted > 0 {
		report(100)
	}
	return result, nil
}

// writeBatch upserts one batch in its own transaction.
func (r *Reconciler) writeBatch(ctx context.Context, files []database.PhotoFile) error {
	b, err := r.store.BeginBatch(ctx)
	if err != nil {
		return faults.Storage("discovery", "begin batch", err)
	}
	if err := r.store.EndBatch(b, r.store.UpsertPhotos(ctx, b, files)); err != nil {
		return faults.Storage("discovery", "upsert batch", err)
	}
	return nil
}

func toPhotoFile(d *source.Descriptor) database.PhotoFile {
	return database.PhotoFile{
		Path:         d.StableID,
		FileName:     d.DisplayName,
		FolderPath:   filepath.Dir(d.StableID),
		RelativePath: d.RelativeFolder,
		Size:         d.SizeBytes,
		LastModified: d.LastModifiedSec,
		DateTaken:    d.TakenAtMs,
		Width:        d.Width,
		Height:       d.Height,
		MimeType:     d.MimeType,
		MediaType:    d.MediaType,
		Latitude:     d.Lat,
		Longitude:    d.Lon,
	}
}

// tryStart attempts to start a pass, returns false if one is already running.
func (r *Reconciler) tryStart() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return false
	}
	r.running = true
	return true
}

func (r *Reconciler) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
}

// IsRunning reports whether a pass is in progress.
func (r *Reconciler) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// LastResult returns the result and start time of the last successful pass.
func (r *Reconciler) LastResult() (*Result, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastResult, r.lastRun
}
