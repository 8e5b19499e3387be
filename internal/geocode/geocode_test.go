package geocode

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"photo-indexer/internal/database"
	"photo-indexer/internal/faults"
)

func setupTestDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func insertCities(t *testing.T, db *database.Database, cities ...database.City) {
	t.Helper()
	ctx := context.Background()
	b, err := db.BeginBatch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.EndBatch(b, db.InsertCities(ctx, b, cities)); err != nil {
		t.Fatal(err)
	}
}

type flagSettings struct {
	loaded bool
	sets   int
}

func (f *flagSettings) CitiesLoaded(context.Context) (bool, error) { return f.loaded, nil }

func (f *flagSettings) SetCitiesLoaded(v bool) error {
	f.loaded = v
	f.sets++
	return nil
}

// countingStore records which box sizes were queried.
type countingStore struct {
	*database.Database
	deltas []float64
	scans  int
}

func (c *countingStore) NearestCityInBox(ctx context.Context, lat, lon, delta float64) (*database.City, error) {
	c.deltas = append(c.deltas, delta)
	return c.Database.NearestCityInBox(ctx, lat, lon, delta)
}

func (c *countingStore) NearestCity(ctx context.Context, lat, lon float64) (*database.City, error) {
	c.scans++
	return c.Database.NearestCity(ctx, lat, lon)
}

func TestFindNearestCityTiers(t *testing.T) {
	db := setupTestDB(t)
	insertCities(t, db,
		database.City{ID: 1, Name: "Paris", CountryCode: "FR", Latitude: 48.8566, Longitude: 2.3522},
		database.City{ID: 2, Name: "Lyon", CountryCode: "FR", Latitude: 45.7640, Longitude: 4.8357},
		database.City{ID: 3, Name: "Reykjavik", CountryCode: "IS", Latitude: 64.1466, Longitude: -21.9426},
	)

	tests := []struct {
		name      string
		lat, lon  float64
		want      string
		wantTiers int
		wantScan  bool
	}{
		{"inside smallest box", 48.857, 2.352, "Paris", 1, false},
		{"second box", 48.90, 2.40, "Paris", 2, false},
		{"third box", 46.2, 4.5, "Lyon", 3, false},
		{"widest box", 55.0, 5.0, "Paris", 4, false},
		{"full scan", -40.0, 170.0, "Lyon", 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &countingStore{Database: db}
			city, err := NewResolver(store).FindNearestCity(context.Background(), tt.lat, tt.lon)
			if err != nil {
				t.Fatal(err)
			}
			if city == nil || city.Name != tt.want {
				t.Fatalf("got %+v, want %s", city, tt.want)
			}
			if len(store.deltas) != tt.wantTiers {
				t.Errorf("queried %v, want %d tiers", store.deltas, tt.wantTiers)
			}
			if (store.scans > 0) != tt.wantScan {
				t.Errorf("full scans = %d", store.scans)
			}
		})
	}
}

func TestFindNearestCityEmptyTable(t *testing.T) {
	db := setupTestDB(t)
	city, err := NewResolver(db).FindNearestCity(context.Background(), 10, 10)
	if err != nil || city != nil {
		t.Errorf("got %+v, %v; want nil, nil", city, err)
	}
}

func TestFindNearestCityRejectsBadCoordinates(t *testing.T) {
	r := NewResolver(setupTestDB(t))
	tests := []struct {
		name     string
		lat, lon float64
	}{
		{"nan", math.NaN(), 0},
		{"inf", 0, math.Inf(1)},
		{"lat range", 91, 0},
		{"lon range", 0, -181},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.FindNearestCity(context.Background(), tt.lat, tt.lon)
			if !errors.Is(err, faults.ErrData) {
				t.Errorf("err = %v, want data error", err)
			}
		})
	}
}

func TestPlaceName(t *testing.T) {
	db := setupTestDB(t)
	insertCities(t, db,
		database.City{ID: 1, Name: "Paris", CountryCode: "FR", Latitude: 48.8566, Longitude: 2.3522},
		database.City{ID: 2, Name: "Nowhere", Latitude: -10, Longitude: -10},
	)
	r := NewResolver(db)
	ctx := context.Background()

	if got, _ := r.PlaceName(ctx, 48.85, 2.35); got != "Paris, FR" {
		t.Errorf("PlaceName = %q, want %q", got, "Paris, FR")
	}
	if got, _ := r.PlaceName(ctx, -10, -10); got != "Nowhere" {
		t.Errorf("PlaceName = %q, want %q", got, "Nowhere")
	}
}

func TestParseCityLine(t *testing.T) {
	row := func(cols map[int]string) string {
		fields := make([]string, 19)
		for i, v := range cols {
			fields[i] = v
		}
		return strings.Join(fields, "\t")
	}
	good := map[int]string{0: "2988507", 1: "Paris", 4: "48.85341", 5: "2.3488", 8: "FR", 14: "2138551"}

	tests := []struct {
		name   string
		line   string
		ok     bool
		wantPo int64
	}{
		{"valid", row(good), true, 2138551},
		{"short row", "1\tParis\tx", false, 0},
		{"bad id", row(map[int]string{0: "x", 4: "1", 5: "1"}), false, 0},
		{"bad lat", row(map[int]string{0: "1", 4: "north", 5: "1"}), false, 0},
		{"bad population", row(map[int]string{0: "1", 4: "1", 5: "1", 14: "many"}), true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := ParseCityLine(tt.line)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && c.Population != tt.wantPo {
				t.Errorf("Population = %d, want %d", c.Population, tt.wantPo)
			}
		})
	}
}

func writeDataset(t *testing.T, n int, gz bool) string {
	t.Helper()
	var sb strings.Builder
	for i := 1; i <= n; i++ {
		fields := make([]string, 19)
		fields[0] = fmt.Sprint(i)
		fields[1] = fmt.Sprintf("City%d", i)
		fields[4] = fmt.Sprintf("%.4f", float64(i%180)-89)
		fields[5] = fmt.Sprintf("%.4f", float64(i%360)-179)
		fields[8] = "ZZ"
		fields[14] = "20000"
		sb.WriteString(strings.Join(fields, "\t"))
		sb.WriteByte('\n')
	}
	sb.WriteString("garbage line\n")

	name := "cities15000.txt"
	if gz {
		name += ".gz"
	}
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if gz {
		w := gzip.NewWriter(f)
		if _, err := w.Write([]byte(sb.String())); err != nil {
			t.Fatal(err)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
		return path
	}
	if _, err := f.WriteString(sb.String()); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImporterRun(t *testing.T) {
	for _, gz := range []bool{false, true} {
		t.Run(fmt.Sprintf("gzip=%v", gz), func(t *testing.T) {
			db := setupTestDB(t)
			settings := &flagSettings{}
			path := writeDataset(t, 2500, gz)

			var percents []int
			err := NewImporter(db, settings, path).Run(context.Background(), func(p int) {
				percents = append(percents, p)
			})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}

			count, _ := db.CityCount(context.Background())
			if count != 2500 {
				t.Errorf("CityCount = %d, want 2500", count)
			}
			if !settings.loaded {
				t.Error("cities_loaded should be set")
			}
			if len(percents) == 0 || percents[len(percents)-1] != 100 {
				t.Fatalf("progress = %v, want to end at 100", percents)
			}
			for i, p := range percents[:len(percents)-1] {
				if p > 99 {
					t.Errorf("progress %d before final commit: %v", p, percents)
				}
				if i > 0 && p < percents[i-1] {
					t.Errorf("progress regressed: %v", percents)
				}
			}
		})
	}
}

func TestImporterShortCircuits(t *testing.T) {
	t.Run("flag set", func(t *testing.T) {
		db := setupTestDB(t)
		settings := &flagSettings{loaded: true}
		if err := NewImporter(db, settings, "/does/not/exist").Run(context.Background(), nil); err != nil {
			t.Fatal(err)
		}
		if settings.sets != 0 {
			t.Error("flag should not be rewritten")
		}
	})

	t.Run("cities present", func(t *testing.T) {
		db := setupTestDB(t)
		insertCities(t, db, database.City{ID: 1, Name: "Paris", Latitude: 1, Longitude: 1})
		settings := &flagSettings{}
		if err := NewImporter(db, settings, "/does/not/exist").Run(context.Background(), nil); err != nil {
			t.Fatal(err)
		}
		if !settings.loaded {
			t.Error("flag should be set when cities already exist")
		}
	})
}

func TestImporterMissingFileIsPermanent(t *testing.T) {
	db := setupTestDB(t)
	err := NewImporter(db, &flagSettings{}, filepath.Join(t.TempDir(), "missing.txt")).Run(context.Background(), nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if faults.Retryable(err) {
		t.Errorf("missing dataset should not be retryable: %v", err)
	}
}
