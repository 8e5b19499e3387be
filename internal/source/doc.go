// Package source enumerates candidate assets from the photo library.
//
// FSEnumerator walks the library root, keeps media files under the included
// folders, stats them with retry and, for files newer than the sync
// watermark, builds a Descriptor with a cheap media-type classification.
// Every candidate is reported through onSeen so the reconciler can detect
// deletions; only the newer ones are emitted, newest first, in batches of
// BatchSize.
package source
