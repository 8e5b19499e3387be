package enrich

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"photo-indexer/internal/database"
	"photo-indexer/internal/faults"
	"photo-indexer/internal/logging"
	"photo-indexer/internal/mediatypes"
	"photo-indexer/internal/memory"
	"photo-indexer/internal/metrics"
	"photo-indexer/internal/workers"
)

var log = logging.For("enrich")

// Store is the part of the index the enricher reads and writes.
type Store interface {
	CountPending(ctx context.Context, queue string) (int, error)
	PendingMetadata(ctx context.Context, afterID int64, limit int) ([]database.Photo, error)
	UpdateMetadata(ctx context.Context, id int64, m database.PhotoMetadata) error
}

// Geocoder resolves coordinates to a display place name.
type Geocoder interface {
	PlaceName(ctx context.Context, lat, lon float64) (string, error)
}

// Result summarizes one enrichment run.
type Result struct {
	Total    int           `json:"total"`
	Complete int           `json:"complete"`
	Partial  int           `json:"partial"`
	Deferred int           `json:"deferred"`
	Duration time.Duration `json:"duration"`
}

type outcome int

const (
	outcomeComplete outcome = iota
	outcomePartial
	outcomeDeferred
)

// Enricher fills in EXIF-derived metadata for photos flagged as not yet
// extracted.
type Enricher struct {
	store    Store
	reader   Reader
	geocoder Geocoder
	monitor  *memory.Monitor

	// BatchSize and Parallelism override the host-derived defaults when set.
	BatchSize   int
	Parallelism int
}

// New creates an enricher. geocoder and monitor may be nil.
func New(store Store, reader Reader, geocoder Geocoder, monitor *memory.Monitor) *Enricher {
	return &Enricher{store: store, reader: reader, geocoder: geocoder, monitor: monitor}
}

// Run processes every pending photo in id order. Photos whose file could not
// be read for a transient reason keep their flag; when any were deferred the
// run finishes its batches and then returns a transient error so the caller
// retries.
func (e *Enricher) Run(ctx context.Context, progress func(percent int)) (Result, error) {
	start := time.Now()
	var result Result

	total, err := e.store.CountPending(ctx, "metadata")
	if err != nil {
		return result, faults.Storage("enrich", "count pending", err)
	}
	result.Total = total
	if total == 0 {
		log.Debug("No photos pending metadata extraction")
		return result, nil
	}

	constrained := e.monitor.IsConstrained()
	batchSize := e.BatchSize
	if batchSize <= 0 {
		batchSize = workers.EnrichBatchSize(constrained)
	}
	parallelism := e.Parallelism
	if parallelism <= 0 {
		parallelism = workers.ForEnrichment(constrained)
	}
	log.Info("Enriching %d photos (batch %d, parallelism %d)", total, batchSize, parallelism)

	lastPercent := -1
	var afterID int64
	for batchIndex := 0; ; batchIndex++ {
		if err := e.monitor.WaitIfPaused(ctx); err != nil {
			return result, err
		}

		photos, err := e.store.PendingMetadata(ctx, afterID, batchSize)
		if err != nil {
			return result, faults.Storage("enrich", "load batch", err)
		}
		if len(photos) == 0 {
			break
		}
		afterID = photos[len(photos)-1].ID

		if err := e.processBatch(ctx, photos, parallelism, &result); err != nil {
			result.Duration = time.Since(start)
			return result, err
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

	result.Duration = time.Since(start)
	log.Info("Enrichment finished in %v: %d complete, %d partial, %d deferred",
		result.Duration, result.Complete, result.Partial, result.Deferred)

	if result.Deferred > 0 {
		return result, faults.Transient("enrich", "run", fmt.Errorf("%d photos deferred after I/O errors", result.Deferred))
	}
	return result, nil
}

func (e *Enricher) processBatch(ctx context.Context, photos []database.Photo, parallelism int, result *Result) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	var mu sync.Mutex
	for i := range photos {
		p := &photos[i]
		g.Go(func() error {
			out, err := e.enrichOne(gctx, p)
			if err != nil {
				return err
			}
			mu.Lock()
			switch out {
			case outcomeComplete:
				result.Complete++
			case outcomePartial:
				result.Partial++
			case outcomeDeferred:
				result.Deferred++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// enrichOne reads, merges and persists metadata for one photo. It returns an
// error only for failures that should stop the run.
func (e *Enricher) enrichOne(ctx context.Context, p *database.Photo) (outcome, error) {
	if err := ctx.Err(); err != nil {
		return outcomeDeferred, err
	}
	start := time.Now()
	defer func() {
		metrics.EnrichAssetDuration.Observe(time.Since(start).Seconds())
	}()

	out := outcomeComplete
	ex, err := e.reader.Read(p.Path)
	switch faults.Classify(err) {
	case faults.KindUnknown:
		if err != nil {
			log.Debug("Unreadable EXIF in %s: %v", p.Path, err)
			out, ex = outcomePartial, nil
		}
	case faults.KindTransient:
		log.Warn("Deferring %s: %v", p.Path, err)
		metrics.EnrichAssetsTotal.WithLabelValues("deferred").Inc()
		return outcomeDeferred, nil
	case faults.KindCancelled:
		return outcomeDeferred, err
	default:
		log.Debug("No usable EXIF in %s: %v", p.Path, err)
		out, ex = outcomePartial, nil
	}
	if ex != nil {
		log.Debug("%s: %s", p.FileName, ex)
	}

	meta := merge(p, ex)

	if meta.Latitude != nil && meta.Longitude != nil && e.geocoder != nil {
		place, err := e.geocoder.PlaceName(ctx, *meta.Latitude, *meta.Longitude)
		switch faults.Classify(err) {
		case faults.KindUnknown:
			if place != "" {
				meta.LocationName = place
			}
		case faults.KindData:
			log.Debug("Ignoring coordinates of %s: %v", p.Path, err)
			meta.Latitude, meta.Longitude = nil, nil
		case faults.KindTransient:
			metrics.EnrichAssetsTotal.WithLabelValues("deferred").Inc()
			return outcomeDeferred, nil
		default:
			return outcomeDeferred, err
		}
	}

	if err := e.store.UpdateMetadata(ctx, p.ID, meta); err != nil {
		err = faults.Storage("enrich", "update metadata", err)
		if faults.Retryable(err) {
			metrics.EnrichAssetsTotal.WithLabelValues("deferred").Inc()
			return outcomeDeferred, nil
		}
		return outcomeDeferred, err
	}

	if out == outcomeComplete {
		metrics.EnrichAssetsTotal.WithLabelValues("complete").Inc()
	} else {
		metrics.EnrichAssetsTotal.WithLabelValues("partial").Inc()
	}
	return out, nil
}

// merge combines what the index already knows with EXIF. EXIF wins where it
// has a value; a nil ex keeps the persisted fields.
func merge(p *database.Photo, ex *Exif) database.PhotoMetadata {
	meta := database.PhotoMetadata{
		DateTaken:    p.DateTaken,
		Width:        p.Width,
		Height:       p.Height,
		Orientation:  p.Orientation,
		Latitude:     p.Latitude,
		Longitude:    p.Longitude,
		LocationName: p.LocationName,
		CameraMake:   p.CameraMake,
		CameraModel:  p.CameraModel,
	}
	if ex != nil {
		if ex.DateTaken != nil {
			meta.DateTaken = ex.DateTaken
		}
		if ex.Width != nil && ex.Height != nil {
			meta.Width, meta.Height = ex.Width, ex.Height
		}
		if ex.Latitude != nil && ex.Longitude != nil {
			meta.Latitude, meta.Longitude = ex.Latitude, ex.Longitude
		}
		meta.Orientation = ex.Orientation
		if ex.Make != "" {
			meta.CameraMake = ex.Make
		}
		if ex.Model != "" {
			meta.CameraModel = ex.Model
		}
	}

	hints := mediatypes.Hints{
		FileName:     p.FileName,
		RelativePath: p.RelativePath,
		CameraMake:   meta.CameraMake,
		CameraModel:  meta.CameraModel,
	}
	if meta.Width != nil && meta.Height != nil {
		hints.Width, hints.Height = *meta.Width, *meta.Height
	}
	meta.MediaType = string(mediatypes.Classify(hints))
	return meta
}
