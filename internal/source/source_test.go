package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"photo-indexer/internal/filesystem"
)

func writeFile(t *testing.T, path string, modified time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, modified, modified); err != nil {
		t.Fatal(err)
	}
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.White)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.Retry = filesystem.RetryConfig{MaxRetries: 0, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	return cfg
}

type collector struct {
	seen    []string
	batches [][]Descriptor
}

func (c *collector) onSeen(path string) { c.seen = append(c.seen, path) }

func (c *collector) emit(batch []Descriptor) error {
	c.batches = append(c.batches, append([]Descriptor(nil), batch...))
	return nil
}

func (c *collector) all() []Descriptor {
	var out []Descriptor
	for _, b := range c.batches {
		out = append(out, b...)
	}
	return out
}

func TestRelativeFolder(t *testing.T) {
	tests := []struct {
		name string
		root string
		path string
		want string
	}{
		{"dcim marker", "/lib", "/lib/storage/DCIM/Camera/a.jpg", "DCIM/Camera"},
		{"pictures marker", "/lib", "/lib/Pictures/Screenshots/s.png", "Pictures/Screenshots"},
		{"download marker", "/lib", "/lib/x/Download/a.jpg", "Download"},
		{"no marker", "/lib", "/lib/trips/2023/a.jpg", "trips/2023"},
		{"root file", "/lib", "/lib/a.jpg", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RelativeFolder(tt.root, tt.path); got != tt.want {
				t.Errorf("RelativeFolder(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestIncluded(t *testing.T) {
	tests := []struct {
		folders []string
		path    string
		want    bool
	}{
		{nil, "/lib/a.jpg", true},
		{[]string{"Camera"}, "/lib/DCIM/Camera/a.jpg", true},
		{[]string{"Camera"}, "/lib/Pictures/a.jpg", false},
		{[]string{"", "WhatsApp"}, "/lib/WhatsApp/Media/a.jpg", true},
	}
	for _, tt := range tests {
		if got := Included(tt.folders, tt.path); got != tt.want {
			t.Errorf("Included(%v, %q) = %v, want %v", tt.folders, tt.path, got, tt.want)
		}
	}
}

func TestEnumerateWatermark(t *testing.T) {
	root := t.TempDir()
	old := time.Unix(1_000_000, 0)
	recent := time.Unix(2_000_000, 0)

	writeFile(t, filepath.Join(root, "old.jpg"), old)
	writeFile(t, filepath.Join(root, "new.jpg"), recent)
	writeFile(t, filepath.Join(root, "notes.txt"), recent)
	writeFile(t, filepath.Join(root, ".hidden", "x.jpg"), recent)

	e := NewFSEnumerator(root, testConfig())

	tests := []struct {
		name      string
		watermark int64
		wantEmit  int
	}{
		{"zero watermark emits all", 0, 2},
		{"watermark filters old", 1_500_000, 1},
		{"watermark after everything", 3_000_000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &collector{}
			if err := e.Enumerate(context.Background(), nil, tt.watermark, c.onSeen, c.emit); err != nil {
				t.Fatalf("Enumerate: %v", err)
			}
			if len(c.seen) != 2 {
				t.Errorf("seen %d paths, want 2 (media files only, hidden skipped)", len(c.seen))
			}
			if got := len(c.all()); got != tt.wantEmit {
				t.Errorf("emitted %d, want %d", got, tt.wantEmit)
			}
		})
	}
}

func TestEnumerateBatchesNewestFirst(t *testing.T) {
	root := t.TempDir()
	n := BatchSize + 7
	for i := 0; i < n; i++ {
		writeFile(t, filepath.Join(root, fmt.Sprintf("img%03d.jpg", i)), time.Unix(int64(1_000_000+i), 0))
	}

	c := &collector{}
	e := NewFSEnumerator(root, testConfig())
	if err := e.Enumerate(context.Background(), nil, 0, c.onSeen, c.emit); err != nil {
		t.Fatal(err)
	}

	if len(c.batches) != 2 || len(c.batches[0]) != BatchSize || len(c.batches[1]) != 7 {
		t.Fatalf("batch sizes = %d batches", len(c.batches))
	}
	all := c.all()
	if !sort.SliceIsSorted(all, func(i, j int) bool { return all[i].LastModifiedSec > all[j].LastModifiedSec }) {
		t.Error("descriptors should be newest first")
	}
	seen, emitted := e.Stats()
	if seen != int64(n) || emitted != int64(n) {
		t.Errorf("Stats = %d, %d", seen, emitted)
	}
}

func TestEnumerateFolders(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	writeFile(t, filepath.Join(root, "DCIM", "Camera", "a.jpg"), now)
	writeFile(t, filepath.Join(root, "Other", "b.jpg"), now)

	c := &collector{}
	e := NewFSEnumerator(root, testConfig())
	if err := e.Enumerate(context.Background(), []string{"DCIM/Camera"}, 0, c.onSeen, c.emit); err != nil {
		t.Fatal(err)
	}
	all := c.all()
	if len(all) != 1 || all[0].DisplayName != "a.jpg" {
		t.Fatalf("emitted %+v", all)
	}
	if all[0].RelativeFolder != "DCIM/Camera" {
		t.Errorf("RelativeFolder = %q", all[0].RelativeFolder)
	}
}

func TestEnumerateClassifiesWithDimensions(t *testing.T) {
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "pano.png"), 300, 100)
	writePNG(t, filepath.Join(root, "sq.png"), 50, 50)
	writePNG(t, filepath.Join(root, "Screenshots", "s.png"), 50, 100)

	c := &collector{}
	e := NewFSEnumerator(root, testConfig())
	if err := e.Enumerate(context.Background(), nil, 0, c.onSeen, c.emit); err != nil {
		t.Fatal(err)
	}

	got := make(map[string]Descriptor)
	for _, d := range c.all() {
		got[d.DisplayName] = d
	}
	want := map[string]string{"pano.png": "panorama", "sq.png": "square", "s.png": "screenshot"}
	for name, mt := range want {
		if got[name].MediaType != mt {
			t.Errorf("%s MediaType = %q, want %q", name, got[name].MediaType, mt)
		}
	}
	if d := got["pano.png"]; d.Width == nil || *d.Width != 300 {
		t.Errorf("pano width = %v", d.Width)
	}
	if got["pano.png"].MimeType != "image/png" {
		t.Errorf("MimeType = %q", got["pano.png"].MimeType)
	}
}

func TestEnumerateEmitErrorStops(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"), time.Now())

	boom := errors.New("boom")
	e := NewFSEnumerator(root, testConfig())
	err := e.Enumerate(context.Background(), nil, 0, nil, func([]Descriptor) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("Enumerate = %v, want %v", err, boom)
	}
}

func TestEnumerateCancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"), time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewFSEnumerator(root, testConfig())
	err := e.Enumerate(ctx, nil, 0, nil, func([]Descriptor) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Enumerate = %v, want context.Canceled", err)
	}
}

func TestEnumerateMissingRoot(t *testing.T) {
	e := NewFSEnumerator(filepath.Join(t.TempDir(), "missing"), testConfig())
	if err := e.Enumerate(context.Background(), nil, 0, nil, func([]Descriptor) error { return nil }); err == nil {
		t.Error("expected an error for a missing root")
	}
}
