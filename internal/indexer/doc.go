// Package indexer keeps the photo index synchronized with the library.
//
// A Reconciler pass loads a projection (path, size, modification time) of the
// index, consumes the source's batches and upserts only assets that are new or
// whose size or modification time changed. Every path the source reports is
// recorded; after the pass, indexed paths inside the included folders that
// were not reported are deleted together with their faces.
//
// Identity is the file path. A moved or renamed file is a delete plus an
// insert and loses its enrichment.
//
// Each batch commits independently, so a cancelled or failed pass leaves a
// valid index behind. The sync watermark only advances after a pass that
// completed without error.
package indexer
