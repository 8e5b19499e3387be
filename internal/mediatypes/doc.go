// Package mediatypes holds the dependency-free media vocabulary shared by the
// source walker, the reconciler and the enricher: which extensions are indexed,
// their MIME types, and the heuristic media-type classification.
//
//	mt := mediatypes.Classify(mediatypes.Hints{
//	    FileName:     "Screenshot_20240101.png",
//	    RelativePath: "Pictures/Screenshots",
//	})
//	// mt == mediatypes.MediaTypeScreenshot
//
// Classification is cheap and best effort. "selfie" is only produced once the
// camera model is known, which happens during metadata enrichment.
package mediatypes
