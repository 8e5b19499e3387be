// Package startup handles configuration loading and startup/shutdown logging.
//
// # Configuration
//
// Configuration is loaded from environment variables via [LoadConfig]:
//
//   - LIBRARY_DIR: Root of the photo library (default: /photos)
//   - DATA_DIR: Database and pipeline lock file location (default: /data)
//   - CITIES_FILE: Tab-separated city dataset, optionally gzipped (default: $DATA_DIR/cities.txt)
//   - PORT: HTTP API port (default: 8080)
//   - METRICS_PORT: Prometheus metrics server port (default: 9090)
//   - METRICS_ENABLED: Enable or disable the metrics server (default: true)
//   - SCAN_SCHEDULE: Cron spec for periodic library scans, "off" disables (default: @every 6h)
//   - SCAN_ON_START: Run a full scan when the server starts (default: true)
//   - PROBE_DIMENSIONS: Read image headers for width and height during discovery (default: true)
//   - INCLUDED_FOLDERS: Comma-separated folder names to index (default: everything)
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//   - LOG_HEALTH_CHECKS: Log health check requests (default: false)
//   - MEMORY_LIMIT, MEMORY_RATIO, GOMEMLIMIT, LOW_MEMORY: heap limit and batch policy
//   - CONFIG_FILE: Optional YAML overlay
//
// The YAML overlay accepts included_folders and face_thresholds (high,
// medium, new). Environment folders win over the file. Both are written into
// the settings cache at startup with [Config.SeedSettings].
//
// # Build Information
//
// Build-time variables are injected via ldflags and exposed via [GetBuildInfo].
package startup
