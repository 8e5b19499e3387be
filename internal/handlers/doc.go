// Package handlers provides the operational HTTP API of the indexer.
//
// It includes handlers for:
//   - Starting, cancelling and inspecting pipeline runs
//   - The face review queue (next, identify, skip, ignore)
//   - Person management (list, merge, delete, prune, rename)
//   - Library statistics, health probes and build information
//
// Responses are JSON. A scan request while a run is active is answered with
// 409 and {"status":"already_running"}; it is never queued.
package handlers
