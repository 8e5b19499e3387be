package memory

import (
	"math"
	"os"
	"runtime/debug"
	"strconv"
	"strings"

	"photo-indexer/internal/logging"
)

// DefaultMemoryRatio is the share of the container limit handed to the Go heap.
const DefaultMemoryRatio = 0.85

// ConfigResult reports how the heap limit was established.
type ConfigResult struct {
	Configured     bool
	Source         string // "GOMEMLIMIT", "MEMORY_LIMIT" or "none"
	ContainerLimit int64
	GoMemLimit     int64
	Ratio          float64
	LowMemory      bool
}

// ConfigureFromEnv sets GOMEMLIMIT from the container limit. Call early in main.
//
//   - GOMEMLIMIT: takes precedence when set
//   - MEMORY_LIMIT: container limit in bytes
//   - MEMORY_RATIO: share of MEMORY_LIMIT for the heap (default 0.85)
//   - LOW_MEMORY: force the constrained batch policy
func ConfigureFromEnv() ConfigResult {
	result := ConfigResult{Source: "none", LowMemory: envTrue("LOW_MEMORY")}

	if env := os.Getenv("GOMEMLIMIT"); env != "" {
		if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
			result.Configured = true
			result.Source = "GOMEMLIMIT"
			result.GoMemLimit = limit
		}
		logging.Info("GOMEMLIMIT set via environment: %s", env)
		return result
	}

	raw := os.Getenv("MEMORY_LIMIT")
	if raw == "" {
		return result
	}
	containerLimit, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || containerLimit <= 0 {
		logging.Warn("Ignoring invalid MEMORY_LIMIT %q", raw)
		return result
	}

	ratio := DefaultMemoryRatio
	if rawRatio := os.Getenv("MEMORY_RATIO"); rawRatio != "" {
		parsed, err := strconv.ParseFloat(rawRatio, 64)
		switch {
		case err != nil:
			logging.Warn("Failed to parse MEMORY_RATIO %q: %v, using %.2f", rawRatio, err, DefaultMemoryRatio)
		case parsed <= 0 || parsed > 1:
			logging.Warn("MEMORY_RATIO %q out of range (0.0-1.0), using %.2f", rawRatio, DefaultMemoryRatio)
		default:
			ratio = parsed
		}
	}

	goMemLimit := int64(float64(containerLimit) * ratio)
	debug.SetMemoryLimit(goMemLimit)

	result.Configured = true
	result.Source = "MEMORY_LIMIT"
	result.ContainerLimit = containerLimit
	result.GoMemLimit = goMemLimit
	result.Ratio = ratio

	logging.Info("Configured GOMEMLIMIT: %s (%.0f%% of %s)", formatBytes(goMemLimit), ratio*100, formatBytes(containerLimit))
	return result
}

// MonitorConfig turns the environment result into a Monitor configuration.
func (r ConfigResult) MonitorConfig() Config {
	cfg := DefaultConfig()
	cfg.LimitBytes = r.GoMemLimit
	cfg.ForceConstrained = r.LowMemory
	return cfg
}

func envTrue(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return strconv.FormatInt(b, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return strconv.FormatFloat(float64(b)/float64(div), 'f', 1, 64) + " " + string("KMGTPE"[exp]) + "iB"
}
