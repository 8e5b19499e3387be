package analysis

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"photo-indexer/internal/database"
	"photo-indexer/internal/faults"
	"photo-indexer/internal/logging"
	"photo-indexer/internal/memory"
	"photo-indexer/internal/metrics"
	"photo-indexer/internal/workers"
)

var log = logging.For("analysis")

// Analyzer produces captions, tags, OCR text and an embedding for a photo.
type Analyzer interface {
	Model() string
	Analyze(ctx context.Context, photo *database.Photo) (*database.AnalysisResult, error)
}

// Detector finds faces in a photo.
type Detector interface {
	Model() string
	Detect(ctx context.Context, photo *database.Photo) ([]database.FaceDetection, error)
}

// batchRunner pages through a queue in id order and applies fn to each photo
// with bounded parallelism. fn reports deferred photos by returning
// deferred=true; any error it returns stops the run.
type batchRunner struct {
	stage   string
	monitor *memory.Monitor

	batchSize   int
	parallelism int

	count func(ctx context.Context) (int, error)
	page  func(ctx context.Context, afterID int64, limit int) ([]database.Photo, error)
}

type runStats struct {
	total, done, deferred int
}

func (r *batchRunner) run(ctx context.Context, progress func(int), fn func(ctx context.Context, p *database.Photo) (deferred bool, err error)) (runStats, error) {
	var stats runStats

	total, err := r.count(ctx)
	if err != nil {
		return stats, faults.Storage(r.stage, "count pending", err)
	}
	stats.total = total
	if total == 0 {
		return stats, nil
	}

	constrained := r.monitor.IsConstrained()
	batchSize := r.batchSize
	if batchSize <= 0 {
		batchSize = workers.EnrichBatchSize(constrained)
	}
	parallelism := r.parallelism
	if parallelism <= 0 {
		parallelism = workers.ForEnrichment(constrained)
	}

	lastPercent := -1
	var afterID int64
	for batchIndex := 0; ; batchIndex++ {
		if err := r.monitor.WaitIfPaused(ctx); err != nil {
			return stats, err
		}
		photos, err := r.page(ctx, afterID, batchSize)
		if err != nil {
			return stats, faults.Storage(r.stage, "load batch", err)
		}
		if len(photos) == 0 {
			break
		}
		afterID = photos[len(photos)-1].ID

		results := make([]bool, len(photos))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(parallelism)
		for i := range photos {
			i := i
			g.Go(func() error {
				deferred, err := fn(gctx, &photos[i])
				results[i] = deferred
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return stats, err
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		for _, deferred := range results {
			if deferred {
				stats.deferred++
			} else {
				stats.done++
			}
		}

		pct := (batchIndex + 1) * batchSize * 100 / total
		if pct > 100 {
			pct = 100
		}
		if progress != nil && pct > lastPercent {
			lastPercent = pct
			progress(pct)
		}
	}
	return stats, nil
}

// classify turns a per-photo boundary error into a decision: transient
// errors defer the photo, cancellation and storage failures stop the run,
// anything else is a failure of that photo alone.
func classify(err error) (deferred bool, stop error) {
	switch faults.Classify(err) {
	case faults.KindTransient:
		return true, nil
	case faults.KindCancelled, faults.KindPersistence, faults.KindConfiguration:
		return false, err
	}
	return false, nil
}

// storageOutcome classifies a store error the same way: busy databases defer
// the photo, anything else stops the run.
func storageOutcome(stage, op string, err error) (deferred bool, stop error) {
	err = faults.Storage(stage, op, err)
	if faults.Retryable(err) {
		return true, nil
	}
	return false, err
}

func observe(stage, result string) {
	metrics.AnalysisItemsTotal.WithLabelValues(stage, result).Inc()
}

func logEntry(photoID int64, kind, model string, started time.Time, err error) database.AnalysisLogEntry {
	e := database.AnalysisLogEntry{
		PhotoID:      photoID,
		AnalysisType: kind,
		ModelUsed:    model,
		StartedAt:    started,
		CompletedAt:  time.Now(),
		Success:      err == nil,
	}
	if err != nil {
		e.ErrorMessage = err.Error()
	}
	return e
}
