package analysis

import (
	"context"
	"fmt"
	"time"

	"photo-indexer/internal/database"
	"photo-indexer/internal/faults"
	"photo-indexer/internal/memory"
)

// ContentStore is the part of the index the content stage uses.
type ContentStore interface {
	CountPending(ctx context.Context, queue string) (int, error)
	PendingAnalysis(ctx context.Context, afterID int64, limit int) ([]database.Photo, error)
	SaveAnalysis(ctx context.Context, id int64, r database.AnalysisResult, entry database.AnalysisLogEntry) error
	LogAnalysis(ctx context.Context, entry database.AnalysisLogEntry) error
}

// Content runs the analyzer over photos flagged for reanalysis.
type Content struct {
	store    ContentStore
	analyzer Analyzer
	runner   batchRunner
}

// NewContent creates the content analysis stage. A nil analyzer makes the
// stage a no-op.
func NewContent(store ContentStore, analyzer Analyzer, monitor *memory.Monitor) *Content {
	return &Content{
		store:    store,
		analyzer: analyzer,
		runner: batchRunner{
			stage:   "content_analysis",
			monitor: monitor,
			count: func(ctx context.Context) (int, error) {
				return store.CountPending(ctx, "analysis")
			},
			page: store.PendingAnalysis,
		},
	}
}

// SetBatching overrides the host-derived batch size and parallelism.
func (c *Content) SetBatching(batchSize, parallelism int) {
	c.runner.batchSize, c.runner.parallelism = batchSize, parallelism
}

// Run analyzes every flagged photo. Failed photos are logged and stay
// flagged; transiently failed ones make the run return a transient error
// once all batches are done.
func (c *Content) Run(ctx context.Context, progress func(int)) error {
	if c.analyzer == nil {
		log.Info("No content analyzer configured, skipping")
		return nil
	}

	start := time.Now()
	stats, err := c.runner.run(ctx, progress, c.analyze)
	if err != nil {
		return err
	}
	if stats.total > 0 {
		log.Info("Content analysis of %d photos finished in %v (%d deferred)", stats.total, time.Since(start), stats.deferred)
	}
	if stats.deferred > 0 {
		return faults.Transient("content_analysis", "run", fmt.Errorf("%d photos deferred", stats.deferred))
	}
	return nil
}

func (c *Content) analyze(ctx context.Context, p *database.Photo) (bool, error) {
	started := time.Now()
	model := c.analyzer.Model()

	result, err := c.analyzer.Analyze(ctx, p)
	if err != nil {
		deferred, stop := classify(err)
		switch {
		case stop != nil:
			return false, stop
		case deferred:
			observe("content_analysis", "deferred")
			return true, nil
		}
		log.Warn("Analysis of %s failed: %v", p.Path, err)
		observe("content_analysis", "failed")
		if lerr := c.store.LogAnalysis(ctx, logEntry(p.ID, "content", model, started, err)); lerr != nil {
			return storageOutcome("content_analysis", "log failure", lerr)
		}
		return false, nil
	}

	if result.DescriptionModel == "" {
		result.DescriptionModel = model
	}
	if err := c.store.SaveAnalysis(ctx, p.ID, *result, logEntry(p.ID, "content", model, started, nil)); err != nil {
		return storageOutcome("content_analysis", "save", err)
	}
	observe("content_analysis", "success")
	return false, nil
}
