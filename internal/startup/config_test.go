package startup

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/gorilla/mux"

	"photo-indexer/internal/faults"
	"photo-indexer/internal/memory"
	"photo-indexer/internal/settings"
)

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LIBRARY_DIR", "DATA_DIR", "CITIES_FILE", "PORT", "METRICS_PORT", "METRICS_ENABLED",
		"SCAN_SCHEDULE", "SCAN_ON_START", "PROBE_DIMENSIONS", "INCLUDED_FOLDERS",
		"LOG_HEALTH_CHECKS", "CONFIG_FILE",
	} {
		if v, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, v) })
			os.Unsetenv(key)
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearConfigEnv(t)
	dir := t.TempDir()
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("LIBRARY_DIR", filepath.Join(dir, "photos"))

	config, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if config.Port != "8080" || config.MetricsPort != "9090" || !config.MetricsEnabled {
		t.Errorf("ports = %+v", config)
	}
	if config.ScanSchedule != DefaultScanSchedule || !config.ScanEnabled() || !config.ScanOnStart {
		t.Errorf("schedule = %q, on start %v", config.ScanSchedule, config.ScanOnStart)
	}
	if config.DatabasePath != filepath.Join(dir, "data", "photos.db") {
		t.Errorf("DatabasePath = %s", config.DatabasePath)
	}
	if config.LockPath != filepath.Join(dir, "data", "pipeline.lock") {
		t.Errorf("LockPath = %s", config.LockPath)
	}
	if config.CitiesFile != filepath.Join(dir, "data", "cities.txt") {
		t.Errorf("CitiesFile = %s", config.CitiesFile)
	}
	if _, err := os.Stat(filepath.Join(dir, "data")); err != nil {
		t.Errorf("data directory not created: %v", err)
	}
	if config.Thresholds != nil || config.IncludedFolders != nil {
		t.Errorf("unexpected overlay values: %+v", config)
	}
}

func TestLoadConfigEnvironment(t *testing.T) {
	clearConfigEnv(t)
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("LIBRARY_DIR", dir)
	t.Setenv("INCLUDED_FOLDERS", "Camera, Screenshots ,,")
	t.Setenv("SCAN_SCHEDULE", "off")
	t.Setenv("SCAN_ON_START", "false")
	t.Setenv("PROBE_DIMENSIONS", "0")

	config, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"Camera", "Screenshots"}; !reflect.DeepEqual(config.IncludedFolders, want) {
		t.Errorf("IncludedFolders = %q, want %q", config.IncludedFolders, want)
	}
	if config.ScanEnabled() || config.ScanOnStart || config.ProbeDimensions {
		t.Errorf("flags = %+v", config)
	}
}

func TestLoadConfigInvalidScheduleFallsBack(t *testing.T) {
	clearConfigEnv(t)
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("LIBRARY_DIR", dir)
	t.Setenv("SCAN_SCHEDULE", "every now and then")

	config, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if config.ScanSchedule != DefaultScanSchedule {
		t.Errorf("ScanSchedule = %q", config.ScanSchedule)
	}
}

func TestLoadConfigFileOverlay(t *testing.T) {
	clearConfigEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
included_folders:
  - DCIM
  - Pictures
face_thresholds:
  high: 0.35
  medium: 0.55
  new: 0.7
`)
	t.Setenv("DATA_DIR", dir)
	t.Setenv("LIBRARY_DIR", dir)
	t.Setenv("CONFIG_FILE", path)

	config, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"DCIM", "Pictures"}; !reflect.DeepEqual(config.IncludedFolders, want) {
		t.Errorf("IncludedFolders = %q", config.IncludedFolders)
	}
	want := settings.Thresholds{High: 0.35, Medium: 0.55, New: 0.7}
	if config.Thresholds == nil || *config.Thresholds != want {
		t.Errorf("Thresholds = %+v", config.Thresholds)
	}

	// Environment folders take precedence over the file.
	t.Setenv("INCLUDED_FOLDERS", "Camera")
	config, err = LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(config.IncludedFolders, []string{"Camera"}) {
		t.Errorf("IncludedFolders = %q", config.IncludedFolders)
	}
}

func TestLoadFileConfigErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"unknown field", "scan_everything: true\n"},
		{"malformed yaml", "included_folders: [unclosed\n"},
		{"threshold out of range", "face_thresholds: {high: 0, medium: 0.5, new: 0.7}\n"},
		{"thresholds out of order", "face_thresholds: {high: 0.8, medium: 0.5, new: 0.7}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			writeFile(t, path, tt.content)
			_, err := LoadFileConfig(path)
			if !errors.Is(err, faults.ErrConfiguration) {
				t.Errorf("LoadFileConfig = %v, want configuration error", err)
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFileConfig(filepath.Join(dir, "absent.yaml"))
		if faults.Classify(err) != faults.KindConfiguration {
			t.Errorf("LoadFileConfig = %v", err)
		}
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(dir, "empty.yaml")
		writeFile(t, path, "")
		fc, err := LoadFileConfig(path)
		if err != nil || fc.FaceThresholds != nil || len(fc.IncludedFolders) != 0 {
			t.Errorf("LoadFileConfig = %+v, %v", fc, err)
		}
	})
}

type recordingSeeder struct {
	folders    []string
	thresholds *settings.Thresholds
}

func (r *recordingSeeder) SetIncludedFolders(folders []string) error {
	r.folders = folders
	return nil
}

func (r *recordingSeeder) SetFaceThresholds(t settings.Thresholds) error {
	r.thresholds = &t
	return nil
}

func TestSeedSettings(t *testing.T) {
	s := &recordingSeeder{}
	if err := (&Config{}).SeedSettings(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if s.folders != nil || s.thresholds != nil {
		t.Errorf("empty config wrote %+v", s)
	}

	config := &Config{
		IncludedFolders: []string{"DCIM"},
		Thresholds:      &settings.Thresholds{High: 0.3, Medium: 0.5, New: 0.7},
	}
	if err := config.SeedSettings(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(s.folders, []string{"DCIM"}) || s.thresholds == nil || s.thresholds.High != 0.3 {
		t.Errorf("seeded %+v", s)
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{" , ", nil},
		{"a", []string{"a"}},
		{"a, b ,c", []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		if got := splitList(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitList(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGetRouteGroup(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/healthz", "healthz"},
		{"/api/scan", "api/scan"},
		{"/api/faces/{id}/identify", "api/faces"},
		{"/", ""},
	}
	for _, tt := range tests {
		if got := getRouteGroup(tt.path); got != tt.want {
			t.Errorf("getRouteGroup(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestGetRoutes(t *testing.T) {
	noop := func(http.ResponseWriter, *http.Request) {}
	r := mux.NewRouter()
	r.HandleFunc("/healthz", noop).Methods("GET")
	r.HandleFunc("/api/scan", noop).Methods("POST").Name("scan")

	routes, err := GetRoutes(r)
	if err != nil {
		t.Fatal(err)
	}
	want := []RouteInfo{
		{Method: "GET", Path: "/healthz"},
		{Method: "POST", Path: "/api/scan", Name: "scan"},
	}
	if !reflect.DeepEqual(routes, want) {
		t.Errorf("routes = %+v", routes)
	}
}

func TestLogHelpersDoNotPanic(_ *testing.T) {
	LogMemoryConfig(memory.ConfigResult{Source: "none"})
	LogMemoryConfig(memory.ConfigResult{Configured: true, Source: "MEMORY_LIMIT", ContainerLimit: 1 << 30, GoMemLimit: 1 << 29, Ratio: 0.5, LowMemory: true})
	LogSchedulerInit(&Config{ScanSchedule: "off"})
	LogSchedulerInit(&Config{ScanSchedule: DefaultScanSchedule, ScanOnStart: true})
	(&Config{}).Log()
}
