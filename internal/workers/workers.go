package workers

import (
	"os"
	"runtime"
	"strconv"
)

const (
	minEnrichBatch = 5
	maxEnrichBatch = 50
)

// Count returns a worker count scaled from GOMAXPROCS, which follows container
// CPU limits. multiplier is 1.0 for CPU-bound work and 2.0 for I/O-bound work.
// limit caps the result; 0 means no cap.
//
// ENRICH_WORKERS overrides the computed value.
func Count(multiplier float64, limit int) int {
	if override := os.Getenv("ENRICH_WORKERS"); override != "" {
		if count, err := strconv.Atoi(override); err == nil && count > 0 {
			if limit > 0 && count > limit {
				return limit
			}
			return count
		}
	}

	workers := int(float64(runtime.GOMAXPROCS(0)) * multiplier)
	if workers < 1 {
		workers = 1
	}
	if limit > 0 && workers > limit {
		workers = limit
	}
	return workers
}

// ForCPU returns one worker per CPU, capped at limit.
func ForCPU(limit int) int {
	return Count(1.0, limit)
}

// ForIO returns two workers per CPU, capped at limit.
func ForIO(limit int) int {
	return Count(2.0, limit)
}

// ForEnrichment returns the per-batch parallelism for metadata and analysis
// stages: one per core, halved on constrained hosts, never below one.
func ForEnrichment(constrained bool) int {
	n := ForCPU(0)
	if constrained {
		n /= 2
	}
	if n < 1 {
		n = 1
	}
	return n
}

// EnrichBatchSize returns the number of assets loaded per enrichment batch:
// five per core clamped to [5, 50], halved with a floor of 5 on constrained hosts.
func EnrichBatchSize(constrained bool) int {
	size := runtime.GOMAXPROCS(0) * 5
	if size < minEnrichBatch {
		size = minEnrichBatch
	}
	if size > maxEnrichBatch {
		size = maxEnrichBatch
	}
	if constrained {
		size /= 2
		if size < minEnrichBatch {
			size = minEnrichBatch
		}
	}
	return size
}
