// Package metrics provides Prometheus instrumentation for the photo indexer.
//
// All metrics are prefixed with "photo_indexer_" and registered on the default
// registry through promauto. Categories:
//
//   - HTTP: request counts, durations and in-flight requests of the API
//   - Database: query and transaction durations, rows affected per write
//   - Reconciler: inserted/updated/deleted counts and the sync watermark
//   - Pipeline: runs, dropped requests, per-stage duration, outcome and progress
//   - Enrichment and analysis: per-asset results
//   - Geocoding: which bounding-box tier answered each lookup
//   - Identity: face assignment, merge and deletion operations
//   - Library: photos, pending work, faces by state, persons, cities
//   - Memory and filesystem: backpressure state and retry behavior
//
// InitializeMetrics pre-populates label combinations. Collector publishes the
// library gauges on an interval.
package metrics
