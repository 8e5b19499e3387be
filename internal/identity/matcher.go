package identity

import (
	"context"
	"math"

	"photo-indexer/internal/database"
	"photo-indexer/internal/settings"
)

// Matcher proposes persons for freshly detected faces.
type Matcher interface {
	// Match examines faces and returns how many were assigned.
	Match(ctx context.Context, faces []database.Face, t settings.Thresholds) (int, error)
}

// MatchStore is what CentroidMatcher needs from the index.
type MatchStore interface {
	PersonCentroids(ctx context.Context) (map[int64][]float32, error)
	AssignFace(ctx context.Context, faceID, personID int64, state database.FaceState, confidence float64) error
}

// CentroidMatcher compares each face embedding with every person centroid by
// cosine distance. A face whose nearest centroid is within the high threshold
// is assigned automatically with confidence 1-distance; anything farther stays
// pending for review.
type CentroidMatcher struct {
	store MatchStore
}

// NewCentroidMatcher creates a matcher over store.
func NewCentroidMatcher(store MatchStore) *CentroidMatcher {
	return &CentroidMatcher{store: store}
}

// Match assigns faces whose nearest centroid is close enough.
func (c *CentroidMatcher) Match(ctx context.Context, faces []database.Face, t settings.Thresholds) (int, error) {
	if len(faces) == 0 {
		return 0, nil
	}
	centroids, err := c.store.PersonCentroids(ctx)
	if err != nil || len(centroids) == 0 {
		return 0, err
	}

	assigned := 0
	for _, f := range faces {
		if len(f.Embedding) == 0 {
			continue
		}
		personID, dist, ok := nearest(f.Embedding, centroids)
		if !ok {
			continue
		}
		switch {
		case dist <= t.High:
			if err := c.store.AssignFace(ctx, f.ID, personID, database.FaceStateAuto, 1-dist); err != nil {
				record("auto_assign", err)
				return assigned, err
			}
			record("auto_assign", nil)
			assigned++
		case dist <= t.Medium:
			log.Debug("Face %d resembles person %d (distance %.3f), left for review", f.ID, personID, dist)
		}
	}
	return assigned, nil
}

// nearest returns the person whose centroid is closest to v. Ties go to the
// lower id.
func nearest(v []float32, centroids map[int64][]float32) (int64, float64, bool) {
	var best int64
	bestDist := math.Inf(1)
	found := false
	for id, c := range centroids {
		d, ok := CosineDistance(v, c)
		if !ok {
			continue
		}
		if d < bestDist || (d == bestDist && id < best) {
			best, bestDist, found = id, d, true
		}
	}
	return best, bestDist, found
}

// CosineDistance returns 1 - cos(a, b). It reports false for vectors of
// different length or zero magnitude.
func CosineDistance(a, b []float32) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb)), true
}
