package startup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"photo-indexer/internal/faults"
	"photo-indexer/internal/logging"
	"photo-indexer/internal/settings"
)

// DefaultScanSchedule runs a library scan every six hours.
const DefaultScanSchedule = "@every 6h"

// Config holds all application configuration
type Config struct {
	LibraryDir      string
	DataDir         string
	CitiesFile      string
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	ScanSchedule    string
	ScanOnStart     bool
	ProbeDimensions bool
	LogHealthChecks bool
	ConfigFile      string

	// IncludedFolders and Thresholds are seeded into the settings cache
	// when set.
	IncludedFolders []string
	Thresholds      *settings.Thresholds

	// Derived paths
	DatabasePath string
	LockPath     string
}

// FileConfig is the optional YAML overlay named by CONFIG_FILE.
type FileConfig struct {
	IncludedFolders []string             `yaml:"included_folders"`
	FaceThresholds  *settings.Thresholds `yaml:"face_thresholds"`
}

// LoadConfig reads configuration from the environment and the optional
// CONFIG_FILE overlay, and prepares the data directory.
func LoadConfig() (*Config, error) {
	config := &Config{
		LibraryDir:      getEnv("LIBRARY_DIR", "/photos"),
		DataDir:         getEnv("DATA_DIR", "/data"),
		CitiesFile:      getEnv("CITIES_FILE", ""),
		Port:            getEnv("PORT", "8080"),
		MetricsPort:     getEnv("METRICS_PORT", "9090"),
		MetricsEnabled:  getEnvBool("METRICS_ENABLED", true),
		ScanSchedule:    getEnv("SCAN_SCHEDULE", DefaultScanSchedule),
		ScanOnStart:     getEnvBool("SCAN_ON_START", true),
		ProbeDimensions: getEnvBool("PROBE_DIMENSIONS", true),
		LogHealthChecks: getEnvBool("LOG_HEALTH_CHECKS", false),
		ConfigFile:      getEnv("CONFIG_FILE", ""),
		IncludedFolders: splitList(getEnv("INCLUDED_FOLDERS", "")),
	}

	if !scheduleDisabled(config.ScanSchedule) {
		if _, err := cron.ParseStandard(config.ScanSchedule); err != nil {
			logging.Warn("Invalid SCAN_SCHEDULE %q, using default %s: %v", config.ScanSchedule, DefaultScanSchedule, err)
			config.ScanSchedule = DefaultScanSchedule
		}
	}

	var err error
	if config.LibraryDir, err = filepath.Abs(config.LibraryDir); err != nil {
		return nil, fmt.Errorf("failed to resolve library directory path: %w", err)
	}
	if config.DataDir, err = filepath.Abs(config.DataDir); err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if config.CitiesFile == "" {
		config.CitiesFile = filepath.Join(config.DataDir, "cities.txt")
	}
	config.DatabasePath = filepath.Join(config.DataDir, "photos.db")
	config.LockPath = filepath.Join(config.DataDir, "pipeline.lock")

	if config.ConfigFile != "" {
		fc, err := LoadFileConfig(config.ConfigFile)
		if err != nil {
			return nil, err
		}
		if len(fc.IncludedFolders) > 0 && len(config.IncludedFolders) == 0 {
			config.IncludedFolders = fc.IncludedFolders
		}
		config.Thresholds = fc.FaceThresholds
	}

	if err := ensureDirectory(config.DataDir, "data"); err != nil {
		return nil, fmt.Errorf("data directory error: %w", err)
	}
	if err := testWriteAccess(config.DataDir); err != nil {
		return nil, fmt.Errorf("data directory is not writable (required for database): %w", err)
	}
	if err := ensureDirectory(config.LibraryDir, "library"); err != nil {
		logging.Warn("Library directory issue: %v", err)
	}

	return config, nil
}

// LoadFileConfig parses a YAML overlay. Unknown fields are rejected.
func LoadFileConfig(path string) (*FileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, faults.Wrap(faults.ErrConfiguration, "startup", "open config file", path, err)
	}
	defer f.Close()

	var fc FileConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, faults.Wrap(faults.ErrConfiguration, "startup", "parse config file", path, err)
	}
	if t := fc.FaceThresholds; t != nil {
		if err := validateThresholds(*t); err != nil {
			return nil, faults.Wrap(faults.ErrConfiguration, "startup", "validate config file", path, err)
		}
	}
	return &fc, nil
}

func validateThresholds(t settings.Thresholds) error {
	for name, v := range map[string]float64{"high": t.High, "medium": t.Medium, "new": t.New} {
		if v <= 0 || v > 2 {
			return fmt.Errorf("face threshold %s=%v outside (0, 2]", name, v)
		}
	}
	if t.High > t.Medium || t.Medium > t.New {
		return fmt.Errorf("face thresholds must satisfy high <= medium <= new, got %v/%v/%v", t.High, t.Medium, t.New)
	}
	return nil
}

// SettingsSeeder is the part of the settings cache the overlay writes.
type SettingsSeeder interface {
	SetIncludedFolders(folders []string) error
	SetFaceThresholds(t settings.Thresholds) error
}

// SeedSettings writes the configured folders and thresholds into the
// settings cache. Unset values leave the stored ones alone.
func (c *Config) SeedSettings(ctx context.Context, s SettingsSeeder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(c.IncludedFolders) > 0 {
		if err := s.SetIncludedFolders(c.IncludedFolders); err != nil {
			return fmt.Errorf("failed to seed included folders: %w", err)
		}
		logging.Info("  Included folders: %s", strings.Join(c.IncludedFolders, ", "))
	}
	if c.Thresholds != nil {
		if err := s.SetFaceThresholds(*c.Thresholds); err != nil {
			return fmt.Errorf("failed to seed face thresholds: %w", err)
		}
		logging.Info("  Face thresholds: high=%v medium=%v new=%v", c.Thresholds.High, c.Thresholds.Medium, c.Thresholds.New)
	}
	return nil
}

// ScanEnabled reports whether periodic scans are scheduled.
func (c *Config) ScanEnabled() bool {
	return !scheduleDisabled(c.ScanSchedule)
}

// Log prints the effective configuration.
func (c *Config) Log() {
	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  LIBRARY_DIR:         %s", c.LibraryDir)
	logging.Info("  DATA_DIR:            %s", c.DataDir)
	logging.Info("  CITIES_FILE:         %s", c.CitiesFile)
	logging.Info("  PORT:                %s", c.Port)
	logging.Info("  METRICS_PORT:        %s", c.MetricsPort)
	logging.Info("  METRICS_ENABLED:     %v", c.MetricsEnabled)
	logging.Info("  SCAN_SCHEDULE:       %s", c.ScanSchedule)
	logging.Info("  SCAN_ON_START:       %v", c.ScanOnStart)
	logging.Info("  PROBE_DIMENSIONS:    %v", c.ProbeDimensions)
	logging.Info("  LOG_HEALTH_CHECKS:   %v", c.LogHealthChecks)
	logging.Info("  LOG_LEVEL:           %s", logging.GetLevel())
	if c.ConfigFile != "" {
		logging.Info("  CONFIG_FILE:         %s", c.ConfigFile)
	}
	logging.Info("")
	logging.Info("  Database: %s", c.DatabasePath)
	logging.Info("  Lock:     %s", c.LockPath)
}

func scheduleDisabled(spec string) bool {
	switch strings.ToLower(strings.TrimSpace(spec)) {
	case "", "off", "none", "disabled":
		return true
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}
