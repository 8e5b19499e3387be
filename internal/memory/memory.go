package memory

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"photo-indexer/internal/logging"
	"photo-indexer/internal/metrics"
)

// DefaultConstrainedLimit is the heap limit at or below which the host is
// treated as memory-constrained and batch sizes are halved.
const DefaultConstrainedLimit = 2 << 30

// Config holds memory management configuration
type Config struct {
	// LimitBytes is the soft memory limit (0 = use GOMEMLIMIT or no limit)
	LimitBytes int64

	// HighWaterMark is the fraction of the limit at which callers should throttle
	HighWaterMark float64

	// CriticalWaterMark is the fraction at which batch processing pauses
	CriticalWaterMark float64

	// ConstrainedLimit marks hosts at or below this limit as constrained
	ConstrainedLimit int64

	// ForceConstrained treats the host as constrained regardless of limit
	ForceConstrained bool

	CheckInterval time.Duration
}

// DefaultConfig returns the defaults used by the indexer.
func DefaultConfig() Config {
	return Config{
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		ConstrainedLimit:  DefaultConstrainedLimit,
		CheckInterval:     2 * time.Second,
	}
}

// Monitor samples heap usage and gives stages a backpressure signal at each
// batch boundary.
type Monitor struct {
	config Config
	limit  int64

	mu       sync.RWMutex
	current  uint64
	paused   bool
	resumed  chan struct{}
	stopOnce sync.Once
	stop     chan struct{}
}

// NewMonitor creates a monitor. With no explicit limit the current GOMEMLIMIT
// is used; with neither, backpressure is disabled.
func NewMonitor(config Config) *Monitor {
	limit := config.LimitBytes
	if limit == 0 {
		if goMemLimit := debug.SetMemoryLimit(-1); goMemLimit > 0 && goMemLimit < 1<<62 {
			limit = goMemLimit
		}
	}
	if limit == 0 {
		logging.Debug("Memory monitor: no memory limit configured, backpressure disabled")
	} else {
		logging.Info("Memory monitor limit: %s (constrained=%v)", formatBytes(limit), config.ForceConstrained || limit <= config.ConstrainedLimit)
	}

	return &Monitor{
		config:  config,
		limit:   limit,
		resumed: make(chan struct{}),
		stop:    make(chan struct{}),
	}
}

// Start begins periodic sampling. It is a no-op without a limit.
func (m *Monitor) Start() {
	if m.limit == 0 {
		return
	}
	go m.loop()
}

// Stop ends sampling and releases any waiter.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Monitor) loop() {
	interval := m.config.CheckInterval
	if interval <= 0 {
		interval = DefaultConfig().CheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			m.update(stats.Alloc)
		case <-m.stop:
			return
		}
	}
}

// update applies a heap sample. Split out of loop so tests can drive it.
func (m *Monitor) update(alloc uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = alloc
	if m.limit <= 0 {
		return
	}

	usage := float64(alloc) / float64(m.limit)
	metrics.MemoryUsageRatio.Set(usage)

	switch {
	case usage >= m.config.CriticalWaterMark && !m.paused:
		logging.Warn("Memory critical (%.1f%% of limit), pausing batch processing", usage*100)
		m.paused = true
		metrics.MemoryPaused.Set(1)
		go runtime.GC()
	case usage < m.config.HighWaterMark && m.paused:
		logging.Info("Memory recovered (%.1f%% of limit), resuming", usage*100)
		m.paused = false
		metrics.MemoryPaused.Set(0)
		close(m.resumed)
		m.resumed = make(chan struct{})
	}
}

// WaitIfPaused blocks while usage is critical. It returns ctx.Err() when the
// context ends first and nil once processing may continue.
func (m *Monitor) WaitIfPaused(ctx context.Context) error {
	if m == nil {
		return ctx.Err()
	}
	m.mu.RLock()
	if !m.paused {
		m.mu.RUnlock()
		return ctx.Err()
	}
	resumed := m.resumed
	m.mu.RUnlock()

	logging.Debug("Waiting for memory pressure to clear")
	select {
	case <-resumed:
		return nil
	case <-m.stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ShouldThrottle reports whether usage is above the high water mark.
func (m *Monitor) ShouldThrottle() bool {
	if m == nil || m.limit == 0 {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return float64(m.current) >= float64(m.limit)*m.config.HighWaterMark
}

// IsPaused reports whether batch processing is paused.
func (m *Monitor) IsPaused() bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused
}

// IsConstrained reports whether the host should run with reduced batch sizes
// and parallelism.
func (m *Monitor) IsConstrained() bool {
	if m == nil {
		return false
	}
	if m.config.ForceConstrained {
		return true
	}
	return m.limit > 0 && m.limit <= m.config.ConstrainedLimit
}

// Limit returns the effective memory limit in bytes (0 = none).
func (m *Monitor) Limit() int64 {
	if m == nil {
		return 0
	}
	return m.limit
}
