package analysis

import (
	"context"
	"fmt"
	"time"

	"photo-indexer/internal/database"
	"photo-indexer/internal/faults"
	"photo-indexer/internal/identity"
	"photo-indexer/internal/memory"
	"photo-indexer/internal/settings"
)

// FaceStore is the part of the index the face stage uses.
type FaceStore interface {
	CountPending(ctx context.Context, queue string) (int, error)
	PendingFaceScan(ctx context.Context, afterID int64, limit int) ([]database.Photo, error)
	SaveFaces(ctx context.Context, photoID int64, detections []database.FaceDetection) ([]int64, error)
	LogAnalysis(ctx context.Context, entry database.AnalysisLogEntry) error
}

// ThresholdSource supplies the face matching thresholds.
type ThresholdSource interface {
	FaceThresholds(ctx context.Context) (settings.Thresholds, error)
}

// Faces detects faces in unscanned photos and offers them to the matcher.
type Faces struct {
	store      FaceStore
	detector   Detector
	matcher    identity.Matcher
	thresholds ThresholdSource
	runner     batchRunner
}

// NewFaces creates the face analysis stage. A nil detector makes the stage a
// no-op; a nil matcher leaves every new face pending.
func NewFaces(store FaceStore, detector Detector, matcher identity.Matcher, thresholds ThresholdSource, monitor *memory.Monitor) *Faces {
	return &Faces{
		store:      store,
		detector:   detector,
		matcher:    matcher,
		thresholds: thresholds,
		runner: batchRunner{
			stage:   "face_analysis",
			monitor: monitor,
			count: func(ctx context.Context) (int, error) {
				return store.CountPending(ctx, "faces")
			},
			page: store.PendingFaceScan,
		},
	}
}

// SetBatching overrides the host-derived batch size and parallelism.
func (f *Faces) SetBatching(batchSize, parallelism int) {
	f.runner.batchSize, f.runner.parallelism = batchSize, parallelism
}

// Run scans every unscanned still photo.
func (f *Faces) Run(ctx context.Context, progress func(int)) error {
	if f.detector == nil {
		log.Info("No face detector configured, skipping")
		return nil
	}

	var t settings.Thresholds
	matcher := f.matcher
	if matcher != nil && f.thresholds != nil {
		var err error
		if t, err = f.thresholds.FaceThresholds(ctx); err != nil {
			return faults.Storage("face_analysis", "load thresholds", err)
		}
	} else {
		matcher = nil
	}

	start := time.Now()
	stats, err := f.runner.run(ctx, progress, func(ctx context.Context, p *database.Photo) (bool, error) {
		return f.scan(ctx, p, matcher, t)
	})
	if err != nil {
		return err
	}
	if stats.total > 0 {
		log.Info("Face scan of %d photos finished in %v (%d deferred)", stats.total, time.Since(start), stats.deferred)
	}
	if stats.deferred > 0 {
		return faults.Transient("face_analysis", "run", fmt.Errorf("%d photos deferred", stats.deferred))
	}
	return nil
}

func (f *Faces) scan(ctx context.Context, p *database.Photo, matcher identity.Matcher, t settings.Thresholds) (bool, error) {
	started := time.Now()
	model := f.detector.Model()

	detections, err := f.detector.Detect(ctx, p)
	if err != nil {
		deferred, stop := classify(err)
		switch {
		case stop != nil:
			return false, stop
		case deferred:
			observe("face_analysis", "deferred")
			return true, nil
		}
		log.Warn("Face detection on %s failed: %v", p.Path, err)
		observe("face_analysis", "failed")
		if lerr := f.store.LogAnalysis(ctx, logEntry(p.ID, "faces", model, started, err)); lerr != nil {
			return storageOutcome("face_analysis", "log failure", lerr)
		}
		return false, nil
	}

	for i := range detections {
		if detections[i].EmbeddingModel == "" {
			detections[i].EmbeddingModel = model
		}
	}
	ids, err := f.store.SaveFaces(ctx, p.ID, detections)
	if err != nil {
		return storageOutcome("face_analysis", "save faces", err)
	}
	if err := f.store.LogAnalysis(ctx, logEntry(p.ID, "faces", model, started, nil)); err != nil {
		log.Warn("Failed to log face scan of %s: %v", p.Path, err)
	}
	observe("face_analysis", "success")

	if matcher == nil || len(ids) == 0 {
		return false, nil
	}
	faces := make([]database.Face, len(ids))
	for i, id := range ids {
		faces[i] = database.Face{
			ID:         id,
			PhotoID:    p.ID,
			PhotoPath:  p.Path,
			Box:        detections[i].Box,
			Embedding:  detections[i].Embedding,
			Confidence: detections[i].Confidence,
			State:      database.FaceStatePending,
		}
	}
	if n, err := matcher.Match(ctx, faces, t); err != nil {
		log.Warn("Matching faces of %s failed: %v", p.Path, err)
	} else if n > 0 {
		log.Debug("Auto-assigned %d of %d faces in %s", n, len(faces), p.FileName)
	}
	return false, nil
}
