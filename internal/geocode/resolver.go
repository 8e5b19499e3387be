package geocode

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"photo-indexer/internal/database"
	"photo-indexer/internal/faults"
	"photo-indexer/internal/logging"
	"photo-indexer/internal/metrics"
)

var log = logging.For("geocode")

// searchDeltas are the half-widths, in degrees, of the boxes tried before
// falling back to a full scan.
var searchDeltas = []float64{0.01, 0.1, 1, 10}

// CityStore is the read side of the reference city table.
type CityStore interface {
	NearestCityInBox(ctx context.Context, lat, lon, delta float64) (*database.City, error)
	NearestCity(ctx context.Context, lat, lon float64) (*database.City, error)
	CityCount(ctx context.Context) (int, error)
}

// Resolver maps coordinates to the nearest reference city.
type Resolver struct {
	store CityStore
}

// NewResolver creates a resolver over store.
func NewResolver(store CityStore) *Resolver {
	return &Resolver{store: store}
}

// FindNearestCity returns the city closest to (lat, lon) by squared degree
// distance, or nil when no cities are loaded. Boxes of growing size are
// searched first; the first non-empty box answers.
func (r *Resolver) FindNearestCity(ctx context.Context, lat, lon float64) (*database.City, error) {
	if err := ValidateCoordinates(lat, lon); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.GeocodeLookupDuration.Observe(time.Since(start).Seconds())
	}()

	for _, delta := range searchDeltas {
		city, err := r.store.NearestCityInBox(ctx, lat, lon, delta)
		if err != nil {
			return nil, faults.Storage("geocode", "box lookup", err)
		}
		if city != nil {
			metrics.GeocodeLookupsTotal.WithLabelValues(strconv.FormatFloat(delta, 'g', -1, 64)).Inc()
			return city, nil
		}
	}

	city, err := r.store.NearestCity(ctx, lat, lon)
	if err != nil {
		return nil, faults.Storage("geocode", "full scan", err)
	}
	if city == nil {
		metrics.GeocodeLookupsTotal.WithLabelValues("empty").Inc()
		return nil, nil
	}
	metrics.GeocodeLookupsTotal.WithLabelValues("full_scan").Inc()
	log.Debug("Full scan answered (%.4f, %.4f) with %s", lat, lon, city.Name)
	return city, nil
}

// PlaceName returns "Name, CC" for the nearest city, the bare name when the
// country code is empty, or "" when nothing is loaded.
func (r *Resolver) PlaceName(ctx context.Context, lat, lon float64) (string, error) {
	city, err := r.FindNearestCity(ctx, lat, lon)
	if err != nil || city == nil {
		return "", err
	}
	return FormatPlace(city), nil
}

// FormatPlace renders a city as a display location.
func FormatPlace(c *database.City) string {
	if c.CountryCode == "" {
		return c.Name
	}
	return c.Name + ", " + c.CountryCode
}

// ValidateCoordinates rejects non-finite or out-of-range coordinates.
func ValidateCoordinates(lat, lon float64) error {
	switch {
	case math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0):
		return faults.Data("geocode", "validate", fmt.Errorf("non-finite coordinates (%v, %v)", lat, lon))
	case lat < -90 || lat > 90:
		return faults.Data("geocode", "validate", fmt.Errorf("latitude %v out of range", lat))
	case lon < -180 || lon > 180:
		return faults.Data("geocode", "validate", fmt.Errorf("longitude %v out of range", lon))
	}
	return nil
}
