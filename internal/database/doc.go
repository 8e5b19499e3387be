// Package database provides the SQLite index for the photo library.
//
// It stores:
//   - Photos with their file identity, extracted metadata and AI fields
//   - Face detections and the persons they are assigned to
//   - The reference city table used for reverse geocoding
//   - Durable settings and the per-photo analysis log
//
// The database runs in WAL mode with foreign keys enforced. Writes go through
// BeginBatch/EndBatch so every batch commits independently; identity changes
// (assign, merge, delete) each run in a single transaction and recompute the
// affected persons' photo counts from the faces table.
package database
