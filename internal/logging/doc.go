// Package logging provides the leveled logger used across the photo indexer.
//
// Levels, lowest first:
//   - DEBUG: per-batch and per-asset detail
//   - INFO: stage start/finish and configuration
//   - WARN: absorbed per-asset failures
//   - ERROR: stage and pipeline failures
//   - FATAL: startup errors that terminate the process
//
// The level comes from LOG_LEVEL (or DEBUG=true) and can be overridden with
// SetLevel. For returns a Logger that prefixes every line with a component name.
package logging
