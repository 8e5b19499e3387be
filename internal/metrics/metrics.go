package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_indexer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photo_indexer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_indexer_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_indexer_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photo_indexer_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photo_indexer_db_transaction_duration_seconds",
			Help:    "Duration of batch transactions by outcome",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"outcome"},
	)

	DBRowsAffected = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photo_indexer_db_rows_affected",
			Help:    "Rows affected per write operation",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		},
		[]string{"operation"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_indexer_db_connections_open",
			Help: "Number of open database connections",
		},
	)
)

// Reconciler metrics
var (
	ReconcileRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_indexer_reconcile_runs_total",
			Help: "Reconciliation passes by result",
		},
		[]string{"result"},
	)

	ReconcileAssetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_indexer_reconcile_assets_total",
			Help: "Assets handled by the reconciler by action",
		},
		[]string{"action"}, // inserted, updated, deleted, unchanged
	)

	ReconcileLastRunDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_indexer_reconcile_last_run_duration_seconds",
			Help: "Duration of the last reconciliation pass",
		},
	)

	SyncWatermarkTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_indexer_sync_watermark_timestamp",
			Help: "Unix time of the last fully successful reconciliation pass",
		},
	)
)

// Pipeline metrics
var (
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_indexer_pipeline_runs_total",
			Help: "Pipeline runs by kind and result",
		},
		[]string{"kind", "result"},
	)

	PipelineRequestsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_indexer_pipeline_requests_dropped_total",
			Help: "Pipeline requests dropped because a run was already active",
		},
		[]string{"kind"},
	)

	PipelineRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_indexer_pipeline_running",
			Help: "Whether a pipeline is currently running (1 = running, 0 = idle)",
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photo_indexer_stage_duration_seconds",
			Help:    "Duration of a single stage attempt",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"stage"},
	)

	StageOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_indexer_stage_outcomes_total",
			Help: "Stage attempt outcomes",
		},
		[]string{"stage", "outcome"},
	)

	StageProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "photo_indexer_stage_progress_percent",
			Help: "Last reported progress of each stage",
		},
		[]string{"stage"},
	)
)

// Enrichment and analysis metrics
var (
	EnrichAssetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_indexer_enrich_assets_total",
			Help: "Assets processed by the metadata enricher by result",
		},
		[]string{"result"}, // complete, partial, deferred
	)

	EnrichAssetDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "photo_indexer_enrich_asset_duration_seconds",
			Help:    "Time to enrich one asset",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	AnalysisItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_indexer_analysis_items_total",
			Help: "Photos processed by the content and face analysis stages",
		},
		[]string{"stage", "result"},
	)
)

// Geocoding metrics
var (
	GeocodeLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_indexer_geocode_lookups_total",
			Help: "Reverse geocoding lookups by the tier that answered",
		},
		[]string{"tier"}, // 0.01, 0.1, 1, 10, full_scan, empty
	)

	GeocodeLookupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "photo_indexer_geocode_lookup_duration_seconds",
			Help:    "Reverse geocoding lookup duration",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)

	CitiesImportedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photo_indexer_cities_imported_total",
			Help: "Reference cities inserted by the import stage",
		},
	)
)

// Identity metrics
var (
	IdentityOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_indexer_identity_operations_total",
			Help: "Face identity operations by type and status",
		},
		[]string{"operation", "status"},
	)
)

// Settings cache metrics
var (
	SettingsCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_indexer_settings_cache_lookups_total",
			Help: "Settings cache lookups by result",
		},
		[]string{"result"}, // hit, miss
	)

	SettingsWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photo_indexer_settings_write_errors_total",
			Help: "Durable settings writes that failed",
		},
	)
)

// Library metrics
var (
	LibraryPhotos = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_indexer_library_photos",
			Help: "Photos in the index",
		},
	)

	LibraryPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "photo_indexer_library_pending",
			Help: "Photos waiting for a stage",
		},
		[]string{"stage"}, // metadata, analysis, faces
	)

	LibraryFaces = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "photo_indexer_library_faces",
			Help: "Face detections by assignment state",
		},
		[]string{"state"},
	)

	LibraryPersons = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_indexer_library_persons",
			Help: "Person identities",
		},
	)

	LibraryCities = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_indexer_library_cities",
			Help: "Reference cities loaded",
		},
	)
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_indexer_memory_usage_ratio",
			Help: "Heap usage as a fraction of the memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_indexer_memory_paused",
			Help: "Whether batch processing is paused for memory pressure",
		},
	)
)

// Filesystem metrics
var (
	FilesystemOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photo_indexer_filesystem_operation_duration_seconds",
			Help:    "Filesystem operation duration",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"volume", "operation"},
	)

	FilesystemOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_indexer_filesystem_operation_errors_total",
			Help: "Filesystem operations that returned an error",
		},
		[]string{"volume", "operation"},
	)

	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_indexer_filesystem_retry_attempts_total",
			Help: "Filesystem retry attempts",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_indexer_filesystem_retry_success_total",
			Help: "Filesystem operations that succeeded after retrying",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_indexer_filesystem_retry_failures_total",
			Help: "Filesystem operations that failed after all retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photo_indexer_filesystem_retry_duration_seconds",
			Help:    "Total time spent in exhausted retry loops",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation", "volume"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_indexer_filesystem_stale_errors_total",
			Help: "Retryable filesystem errors observed",
		},
		[]string{"operation", "volume"},
	)
)

// AppInfo exposes build information as labels.
var AppInfo = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "photo_indexer_app_info",
		Help: "Build information",
	},
	[]string{"version", "commit", "go_version"},
)
