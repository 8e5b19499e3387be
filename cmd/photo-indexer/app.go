package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"photo-indexer/internal/analysis"
	"photo-indexer/internal/database"
	"photo-indexer/internal/enrich"
	"photo-indexer/internal/filesystem"
	"photo-indexer/internal/geocode"
	"photo-indexer/internal/identity"
	"photo-indexer/internal/indexer"
	"photo-indexer/internal/memory"
	"photo-indexer/internal/metrics"
	"photo-indexer/internal/pipeline"
	"photo-indexer/internal/settings"
	"photo-indexer/internal/source"
	"photo-indexer/internal/startup"
)

const (
	statsInterval      = time.Minute
	sessionIdleTimeout = 30 * time.Minute
)

// app holds the wired components shared by every command.
type app struct {
	config   *startup.Config
	db       *database.Database
	settings *settings.Cache
	monitor  *memory.Monitor

	importer     *geocode.Importer
	orchestrator *pipeline.Orchestrator
	people       *identity.Manager
}

// openApp opens the database and wires the pipeline. The caller owns Close.
func openApp(ctx context.Context, cfg *startup.Config) (*app, error) {
	memResult := memory.ConfigureFromEnv()
	startup.LogMemoryConfig(memResult)

	dbStart := time.Now()
	db, err := database.New(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	startup.LogDatabaseInit(time.Since(dbStart))

	cache := settings.New(db)
	if err := cache.Load(ctx); err != nil {
		cache.Close()
		db.Close()
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if err := cfg.SeedSettings(ctx, cache); err != nil {
		cache.Close()
		db.Close()
		return nil, fmt.Errorf("failed to seed settings: %w", err)
	}

	filesystem.SetLibraryRoot(cfg.LibraryDir)
	filesystem.SetObserver(metrics.NewFilesystemObserver())
	metrics.InitializeMetrics()

	monitor := memory.NewMonitor(memResult.MonitorConfig())
	monitor.Start()

	sourceConfig := source.DefaultConfig()
	sourceConfig.ProbeDimensions = cfg.ProbeDimensions
	enumerator := source.NewFSEnumerator(cfg.LibraryDir, sourceConfig)

	importer := geocode.NewImporter(db, cache, cfg.CitiesFile)
	resolver := geocode.NewResolver(db)
	reader := enrich.FileReader{Retry: filesystem.DefaultRetryConfig()}

	stages := []pipeline.Stage{
		pipeline.DiscoveryStage(indexer.NewReconciler(db, enumerator, cache)),
		pipeline.ReferenceImportStage(importer),
		pipeline.EnrichmentStage(enrich.New(db, reader, resolver, monitor)),
		pipeline.ContentStage(analysis.NewContent(db, nil, monitor)),
		pipeline.FaceStage(analysis.NewFaces(db, nil, identity.NewCentroidMatcher(db), cache, monitor)),
	}

	return &app{
		config:       cfg,
		db:           db,
		settings:     cache,
		monitor:      monitor,
		importer:     importer,
		orchestrator: pipeline.New(stages, pipeline.Options{LockPath: cfg.LockPath}),
		people:       identity.NewManager(db),
	}, nil
}

// Close cancels any active run, persists pending settings and closes the
// database.
func (a *app) Close() error {
	var errs []error

	if a.orchestrator.Cancel() {
		waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := a.orchestrator.Wait(waitCtx); err != nil {
			errs = append(errs, fmt.Errorf("wait for pipeline: %w", err))
		}
		cancel()
	}

	a.monitor.Stop()

	a.settings.Close()

	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	return errors.Join(errs...)
}
