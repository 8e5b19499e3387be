// Package enrich extracts EXIF metadata for photos the reconciler flagged.
//
// Photos are loaded in id-ordered pages and processed with bounded
// parallelism. A photo without readable EXIF is still marked extracted with
// what the index already knew; a photo whose file hit a transient I/O error is
// left flagged for the next run.
package enrich
