// Command photo-indexer indexes a photo library into SQLite and serves an
// operational HTTP API for scans and face identities.
//
// Usage:
//
//	photo-indexer [serve]             run the API, metrics endpoint and scan scheduler
//	photo-indexer scan [--full]       run one pipeline pass in the foreground
//	photo-indexer import-cities       load the reverse geocoding dataset
//	photo-indexer people list         list persons (--json for JSON)
//	photo-indexer people merge K A    merge person A into person K
//	photo-indexer people delete ID    delete a person
//	photo-indexer people prune        delete persons with no faces
//	photo-indexer people rename ID N  rename a person
//
// Configuration comes from the environment; see package startup for the
// variables. --verbose enables debug logging.
package main
