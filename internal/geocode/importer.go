package geocode

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"photo-indexer/internal/database"
	"photo-indexer/internal/faults"
	"photo-indexer/internal/metrics"
)

const (
	// ImportBatchSize is the number of cities committed per transaction.
	ImportBatchSize = 1000

	minColumns = 15
	maxLineLen = 1 << 20
)

// ImportStore is the write side of the reference city table.
type ImportStore interface {
	CityCount(ctx context.Context) (int, error)
	BeginBatch(ctx context.Context) (*database.Batch, error)
	EndBatch(b *database.Batch, err error) error
	InsertCities(ctx context.Context, b *database.Batch, cities []database.City) error
}

// ImportSettings records whether the import has completed.
type ImportSettings interface {
	CitiesLoaded(ctx context.Context) (bool, error)
	SetCitiesLoaded(loaded bool) error
}

// Importer loads a GeoNames city dump into the index.
type Importer struct {
	store    ImportStore
	settings ImportSettings
	path     string
}

// NewImporter creates an importer reading the dataset at path. A ".gz"
// suffix selects gzip decompression.
func NewImporter(store ImportStore, settings ImportSettings, path string) *Importer {
	return &Importer{store: store, settings: settings, path: path}
}

// Run imports the dataset unless it was already loaded. Progress stays below
// 100 until the final batch commits.
func (im *Importer) Run(ctx context.Context, progress func(percent int)) error {
	loaded, err := im.settings.CitiesLoaded(ctx)
	if err != nil {
		return faults.Storage("reference_import", "read flag", err)
	}
	if loaded {
		log.Debug("Cities already loaded, skipping import")
		return nil
	}
	count, err := im.store.CityCount(ctx)
	if err != nil {
		return faults.Storage("reference_import", "count cities", err)
	}
	if count > 0 {
		log.Info("Found %d cities from a previous import, marking loaded", count)
		return im.settings.SetCitiesLoaded(true)
	}

	f, err := os.Open(im.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return faults.Wrap(faults.ErrConfiguration, "reference_import", "open dataset", im.path, err)
		}
		return faults.Transient("reference_import", "open dataset", err)
	}
	defer f.Close()

	var total int64
	if info, err := f.Stat(); err == nil {
		total = info.Size()
	}
	counted := &countingReader{r: f}

	var r io.Reader = counted
	if strings.HasSuffix(im.path, ".gz") {
		gz, err := gzip.NewReader(counted)
		if err != nil {
			return faults.Data("reference_import", "open gzip", err)
		}
		defer gz.Close()
		r = gz
	}

	lastPercent := -1
	report := func() {
		if progress == nil || total <= 0 {
			return
		}
		pct := int(counted.n * 100 / total)
		if pct > 99 {
			pct = 99
		}
		if pct > lastPercent {
			lastPercent = pct
			progress(pct)
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineLen)

	batch := make([]database.City, 0, ImportBatchSize)
	imported, skipped := 0, 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := im.store.BeginBatch(ctx)
		if err != nil {
			return faults.Storage("reference_import", "begin batch", err)
		}
		if err := im.store.EndBatch(b, im.store.InsertCities(ctx, b, batch)); err != nil {
			return faults.Storage("reference_import", "insert cities", err)
		}
		imported += len(batch)
		metrics.CitiesImportedTotal.Add(float64(len(batch)))
		batch = batch[:0]
		report()
		return nil
	}

	for scanner.Scan() {
		city, ok := ParseCityLine(scanner.Text())
		if !ok {
			skipped++
			continue
		}
		batch = append(batch, city)
		if len(batch) >= ImportBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return faults.Data("reference_import", "read dataset", err)
	}
	if err := flush(); err != nil {
		return err
	}

	if err := im.settings.SetCitiesLoaded(true); err != nil {
		return fmt.Errorf("failed to record import: %w", err)
	}
	if progress != nil {
		progress(100)
	}
	log.Info("Imported %d cities from %s (%d lines skipped)", imported, im.path, skipped)
	return nil
}

// ParseCityLine parses one GeoNames row. Rows with too few columns or an
// unparsable id or coordinate are rejected; a bad population becomes 0.
func ParseCityLine(line string) (database.City, bool) {
	cols := strings.Split(line, "\t")
	if len(cols) < minColumns {
		return database.City{}, false
	}
	id, err := strconv.ParseInt(cols[0], 10, 64)
	if err != nil {
		return database.City{}, false
	}
	lat, err := strconv.ParseFloat(cols[4], 64)
	if err != nil {
		return database.City{}, false
	}
	lon, err := strconv.ParseFloat(cols[5], 64)
	if err != nil {
		return database.City{}, false
	}
	population, _ := strconv.ParseInt(cols[14], 10, 64)

	return database.City{
		ID:          id,
		Name:        cols[1],
		CountryCode: cols[8],
		Latitude:    lat,
		Longitude:   lon,
		Population:  population,
	}, true
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
