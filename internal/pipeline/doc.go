// Package pipeline sequences the indexing stages into runs.
//
// A library scan runs discovery and metadata enrichment; a full scan adds the
// city import and both analysis stages. Only one run is active at a time per
// process, and a lock file under the data directory extends that to other
// processes sharing the same index. Requests made while a run is active are
// dropped rather than queued.
//
// Transient stage failures are retried with exponential backoff up to
// MaxAttempts. Anything else ends the run at the failing stage; work already
// committed by earlier batches stays committed.
package pipeline
