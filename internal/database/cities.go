package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const cityColumns = "id, name, country_code, latitude, longitude, population"

// distanceOrder ranks rows by squared degree distance from (?, ?). Ties go to
// the lower id so results are deterministic.
const distanceOrder = `ORDER BY ((latitude - ?) * (latitude - ?) + (longitude - ?) * (longitude - ?)), id LIMIT 1`

func scanCity(row rowScanner) (*City, error) {
	var c City
	if err := row.Scan(&c.ID, &c.Name, &c.CountryCode, &c.Latitude, &c.Longitude, &c.Population); err != nil {
		return nil, err
	}
	return &c, nil
}

// NearestCityInBox returns the closest city inside the box lat±delta,
// lon±delta, or nil when the box is empty.
func (d *Database) NearestCityInBox(ctx context.Context, lat, lon, delta float64) (*City, error) {
	start := time.Now()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	c, err := scanCity(d.db.QueryRowContext(ctx, "SELECT "+cityColumns+` FROM cities
		WHERE latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?
		`+distanceOrder,
		lat-delta, lat+delta, lon-delta, lon+delta, lat, lat, lon, lon))
	if errors.Is(err, sql.ErrNoRows) {
		recordQuery("nearest_city_box", start, nil)
		return nil, nil
	}
	recordQuery("nearest_city_box", start, err)
	return c, err
}

// NearestCity scans the whole table for the closest city, or nil when the
// table is empty.
func (d *Database) NearestCity(ctx context.Context, lat, lon float64) (*City, error) {
	start := time.Now()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, bulkTimeout)
	defer cancel()

	c, err := scanCity(d.db.QueryRowContext(ctx, "SELECT "+cityColumns+" FROM cities "+distanceOrder,
		lat, lat, lon, lon))
	if errors.Is(err, sql.ErrNoRows) {
		recordQuery("nearest_city", start, nil)
		return nil, nil
	}
	recordQuery("nearest_city", start, err)
	return c, err
}

// CityCount returns the number of reference cities.
func (d *Database) CityCount(ctx context.Context) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var n int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cities").Scan(&n)
	return n, err
}

// InsertCities writes a batch of cities. Existing ids are replaced so a
// re-import converges.
func (d *Database) InsertCities(ctx context.Context, b *Batch, cities []City) error {
	start := time.Now()

	stmt, err := b.Tx.PrepareContext(ctx, "INSERT OR REPLACE INTO cities ("+cityColumns+") VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		recordQuery("insert_cities", start, err)
		return fmt.Errorf("failed to prepare city insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range cities {
		if _, err := stmt.ExecContext(ctx, c.ID, c.Name, c.CountryCode, c.Latitude, c.Longitude, c.Population); err != nil {
			recordQuery("insert_cities", start, err)
			return fmt.Errorf("failed to insert city %d: %w", c.ID, err)
		}
	}

	recordQuery("insert_cities", start, nil)
	return nil
}
