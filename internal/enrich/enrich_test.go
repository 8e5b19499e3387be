package enrich

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"

	"photo-indexer/internal/database"
	"photo-indexer/internal/faults"
	"photo-indexer/internal/filesystem"
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

func seedPhotos(t *testing.T, db *database.Database, paths ...string) {
	t.Helper()
	ctx := context.Background()
	files := make([]database.PhotoFile, 0, len(paths))
	for i, p := range paths {
		files = append(files, database.PhotoFile{
			Path:         p,
			FileName:     filepath.Base(p),
			FolderPath:   filepath.Dir(p),
			Size:         int64(i + 1),
			LastModified: 100,
			MediaType:    "photo",
		})
	}
	b, err := db.BeginBatch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.EndBatch(b, db.UpsertPhotos(ctx, b, files)); err != nil {
		t.Fatal(err)
	}
}

func rational(n uint32) exifcommon.Rational {
	return exifcommon.Rational{Numerator: n, Denominator: 1}
}

func buildExif(t *testing.T) []byte {
	t.Helper()

	im, err := exifcommon.NewIfdMappingWithStandard()
	if err != nil {
		t.Fatal(err)
	}
	ti := exif.NewTagIndex()
	root := exif.NewIfdBuilder(im, ti, exifcommon.IfdStandardIfdIdentity, exifcommon.EncodeDefaultByteOrder)

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(root.AddStandardWithName("Make", "Canon "))
	must(root.AddStandardWithName("Model", "EOS R5"))
	must(root.AddStandardWithName("Orientation", []uint16{6}))

	exifIfd, err := exif.GetOrCreateIbFromRootIb(root, "IFD/Exif")
	must(err)
	must(exifIfd.AddStandardWithName("DateTimeOriginal", "2023:07:14 10:30:00"))

	gps, err := exif.GetOrCreateIbFromRootIb(root, "IFD/GPSInfo")
	must(err)
	must(gps.AddStandardWithName("GPSLatitudeRef", "N"))
	must(gps.AddStandardWithName("GPSLatitude", []exifcommon.Rational{rational(48), rational(51), rational(36)}))
	must(gps.AddStandardWithName("GPSLongitudeRef", "W"))
	must(gps.AddStandardWithName("GPSLongitude", []exifcommon.Rational{rational(2), rational(21), rational(0)}))

	data, err := exif.NewIfdByteEncoder().EncodeToExif(root)
	must(err)
	return data
}

func TestParseExif(t *testing.T) {
	ex, err := ParseExif(buildExif(t))
	if err != nil {
		t.Fatalf("ParseExif: %v", err)
	}

	if ex.Make != "Canon" || ex.Model != "EOS R5" {
		t.Errorf("camera = %q %q", ex.Make, ex.Model)
	}
	if ex.Orientation != 6 {
		t.Errorf("Orientation = %d, want 6", ex.Orientation)
	}

	want, _ := time.ParseInLocation(exifDateLayout, "2023:07:14 10:30:00", time.Local)
	if ex.DateTaken == nil || *ex.DateTaken != want.UnixMilli() {
		t.Errorf("DateTaken = %v, want %d", ex.DateTaken, want.UnixMilli())
	}

	if ex.Latitude == nil || math.Abs(*ex.Latitude-48.86) > 1e-9 {
		t.Errorf("Latitude = %v, want 48.86", ex.Latitude)
	}
	if ex.Longitude == nil || math.Abs(*ex.Longitude-(-2.35)) > 1e-9 {
		t.Errorf("Longitude = %v, want -2.35", ex.Longitude)
	}
}

func TestParseExifGarbage(t *testing.T) {
	if _, err := ParseExif([]byte("not exif at all")); !errors.Is(err, faults.ErrData) {
		t.Errorf("err = %v, want data error", err)
	}
}

func TestParseExifTime(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		offset string
		want   int64
		ok     bool
	}{
		{"with offset", "2023:07:14 10:30:00", "+02:00", time.Date(2023, 7, 14, 8, 30, 0, 0, time.UTC).UnixMilli(), true},
		{"zero date", "0000:00:00 00:00:00", "", 0, false},
		{"empty", "", "", 0, false},
		{"malformed", "yesterday", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseExifTime(tt.value, tt.offset)
			if ok != tt.ok || got != tt.want {
				t.Errorf("parseExifTime = %d, %v; want %d, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestFileReaderWithoutExif(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}
	f.Close()

	r := FileReader{Retry: filesystem.RetryConfig{MaxRetries: 0, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}}
	tests := []struct {
		name string
		path string
	}{
		{"no exif", path},
		{"missing file", filepath.Join(dir, "gone.jpg")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Read(tt.path); !errors.Is(err, faults.ErrData) {
				t.Errorf("Read = %v, want data error", err)
			}
		})
	}
}

// fakeReader serves canned results by path.
type fakeReader struct {
	mu      sync.Mutex
	results map[string]*Exif
	errs    map[string]error
	calls   int
}

func (f *fakeReader) Read(path string) (*Exif, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.errs[path]; ok {
		return nil, err
	}
	if ex, ok := f.results[path]; ok {
		return ex, nil
	}
	return nil, faults.Data("test", "read", errors.New("no exif"))
}

type fakeGeocoder struct{}

func (fakeGeocoder) PlaceName(_ context.Context, lat, lon float64) (string, error) {
	return fmt.Sprintf("Near %.0f,%.0f", lat, lon), nil
}

func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }
func int64Ptr(n int64) *int64     { return &n }

func TestEnricherRun(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedPhotos(t, db, "/lib/DCIM/a.jpg", "/lib/DCIM/pano.jpg", "/lib/DCIM/corrupt.jpg")

	reader := &fakeReader{results: map[string]*Exif{
		"/lib/DCIM/a.jpg": {
			Make: "Google", Model: "Pixel 8", Orientation: 1,
			DateTaken: int64Ptr(1_700_000_000_000),
			Latitude:  floatPtr(48.8), Longitude: floatPtr(2.3),
			Width:     intPtr(4000), Height: intPtr(3000),
		},
		"/lib/DCIM/pano.jpg": {Orientation: 1, Width: intPtr(9000), Height: intPtr(2000)},
	}}

	e := New(db, reader, fakeGeocoder{}, nil)
	e.BatchSize = 2

	var percents []int
	result, err := e.Run(ctx, func(p int) { percents = append(percents, p) })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Complete != 2 || result.Partial != 1 || result.Deferred != 0 {
		t.Errorf("result = %+v", result)
	}

	if n, _ := db.CountPending(ctx, "metadata"); n != 0 {
		t.Errorf("pending = %d, want 0", n)
	}

	a, _ := db.GetPhotoByPath(ctx, "/lib/DCIM/a.jpg")
	if a.CameraModel != "Pixel 8" || a.LocationName != "Near 49,2" {
		t.Errorf("a = %q / %q", a.CameraModel, a.LocationName)
	}
	if a.DateTaken == nil || *a.DateTaken != 1_700_000_000_000 {
		t.Errorf("DateTaken = %v", a.DateTaken)
	}
	pano, _ := db.GetPhotoByPath(ctx, "/lib/DCIM/pano.jpg")
	if pano.MediaType != "panorama" {
		t.Errorf("MediaType = %q, want panorama", pano.MediaType)
	}
	corrupt, _ := db.GetPhotoByPath(ctx, "/lib/DCIM/corrupt.jpg")
	if !corrupt.MetadataExtracted {
		t.Error("a data error should still clear the flag")
	}

	if len(percents) != 2 || percents[len(percents)-1] != 100 {
		t.Errorf("progress = %v, want two events ending at 100", percents)
	}
}

func TestEnricherDefersTransientFailures(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedPhotos(t, db, "/lib/ok.jpg", "/lib/stale.jpg")

	reader := &fakeReader{
		results: map[string]*Exif{"/lib/ok.jpg": {Orientation: 1}},
		errs:    map[string]error{"/lib/stale.jpg": faults.Transient("test", "open", syscall.ESTALE)},
	}
	e := New(db, reader, nil, nil)

	result, err := e.Run(ctx, nil)
	if !errors.Is(err, faults.ErrTransient) {
		t.Fatalf("Run = %v, want transient error", err)
	}
	if result.Deferred != 1 || result.Complete != 1 {
		t.Errorf("result = %+v", result)
	}

	stale, _ := db.GetPhotoByPath(ctx, "/lib/stale.jpg")
	if stale.MetadataExtracted {
		t.Error("deferred photo must keep its flag")
	}

	// Once the file is readable the retry completes it.
	delete(reader.errs, "/lib/stale.jpg")
	if _, err := e.Run(ctx, nil); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if n, _ := db.CountPending(ctx, "metadata"); n != 0 {
		t.Errorf("pending after retry = %d", n)
	}
}

func TestEnricherNothingPending(t *testing.T) {
	db := setupTestDB(t)
	reader := &fakeReader{}
	var events int
	if _, err := New(db, reader, nil, nil).Run(context.Background(), func(int) { events++ }); err != nil {
		t.Fatal(err)
	}
	if events != 0 || reader.calls != 0 {
		t.Errorf("events = %d, reads = %d; want none", events, reader.calls)
	}
}

// failingStore turns every metadata write into a hard storage failure.
type failingStore struct {
	*database.Database
}

func (failingStore) UpdateMetadata(context.Context, int64, database.PhotoMetadata) error {
	return errors.New("database disk image is malformed")
}

func TestEnricherAbortsOnPersistenceError(t *testing.T) {
	db := setupTestDB(t)
	seedPhotos(t, db, "/lib/a.jpg")

	_, err := New(failingStore{db}, &fakeReader{}, nil, nil).Run(context.Background(), nil)
	if !errors.Is(err, faults.ErrPersistence) {
		t.Errorf("Run = %v, want persistence error", err)
	}
	if faults.Retryable(err) {
		t.Error("persistence errors should not be retried")
	}
}

func TestEnricherCancelled(t *testing.T) {
	db := setupTestDB(t)
	seedPhotos(t, db, "/lib/a.jpg")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(db, &fakeReader{}, nil, nil).Run(ctx, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}

func TestMergeKeepsPersistedFields(t *testing.T) {
	lat, lon := 1.5, 2.5
	p := &database.Photo{
		FileName:  "IMG_1.jpg",
		Width:     intPtr(100),
		Height:    intPtr(100),
		Latitude:  &lat,
		Longitude: &lon,
	}

	meta := merge(p, nil)
	if meta.Latitude == nil || *meta.Latitude != lat {
		t.Error("persisted coordinates should survive a missing EXIF block")
	}
	if meta.MediaType != "square" {
		t.Errorf("MediaType = %q, want square", meta.MediaType)
	}

	meta = merge(p, &Exif{Orientation: 8, Width: intPtr(300), Height: intPtr(100)})
	if meta.Orientation != 8 || *meta.Width != 300 || meta.MediaType != "panorama" {
		t.Errorf("merge = %+v", meta)
	}
}
