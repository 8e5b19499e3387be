package source

import (
	"context"
	"path/filepath"
	"strings"
)

// BatchSize is the number of descriptors emitted per batch.
const BatchSize = 50

// Descriptor describes one asset as seen by the source.
type Descriptor struct {
	StableID        string // absolute path; the identity key
	DisplayName     string
	SizeBytes       int64
	LastModifiedSec int64
	TakenAtMs       *int64
	Width           *int
	Height          *int
	MimeType        string
	RelativeFolder  string
	Lat             *float64
	Lon             *float64
	MediaType       string
}

// Enumerator lists assets under the included folders.
//
// onSeen is called for every candidate asset, including those not newer than
// the watermark. emit receives batches of at most BatchSize descriptors for
// assets modified after watermarkSec (all assets when it is 0), newest first.
// An error returned by emit stops the enumeration and is returned.
type Enumerator interface {
	Enumerate(ctx context.Context, folders []string, watermarkSec int64,
		onSeen func(path string), emit func([]Descriptor) error) error
}

// folderMarkers are the well-known top-level media folders. The relative
// folder of an asset under one of them starts at the marker.
var folderMarkers = []string{"/DCIM/", "/Pictures/", "/Download/", "/Documents/"}

// RelativeFolder returns the display folder of path: from the first
// well-known media folder marker to the parent directory, or the parent
// directory relative to root when no marker is present.
func RelativeFolder(root, path string) string {
	slashed := filepath.ToSlash(path)
	for _, marker := range folderMarkers {
		if i := strings.Index(slashed, marker); i >= 0 {
			rest := slashed[i+1:]
			if j := strings.LastIndex(rest, "/"); j >= 0 {
				return rest[:j]
			}
			return rest
		}
	}

	rel, err := filepath.Rel(root, filepath.Dir(path))
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// Included reports whether path falls under one of folders. Matching is by
// substring so that a folder name matches wherever it appears in the tree.
// No folders means everything is included.
func Included(folders []string, path string) bool {
	if len(folders) == 0 {
		return true
	}
	for _, f := range folders {
		if f != "" && strings.Contains(path, f) {
			return true
		}
	}
	return false
}
