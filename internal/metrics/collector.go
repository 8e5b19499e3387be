package metrics

import (
	"context"
	"sync"
	"time"

	"photo-indexer/internal/logging"
)

// LibraryStats is the snapshot published by the collector.
type LibraryStats struct {
	Photos          int            `json:"photos"`
	PendingMetadata int            `json:"pendingMetadata"`
	PendingAnalysis int            `json:"pendingAnalysis"`
	PendingFaces    int            `json:"pendingFaceScan"`
	FacesByState    map[string]int `json:"facesByState"`
	Persons         int            `json:"persons"`
	Cities          int            `json:"cities"`
}

// StatsProvider computes library statistics.
type StatsProvider interface {
	LibraryStats(ctx context.Context) (LibraryStats, error)
}

// Collector periodically publishes library statistics as gauges.
type Collector struct {
	provider StatsProvider
	interval time.Duration
	stopOnce sync.Once
	stop     chan struct{}
}

// NewCollector creates a collector polling provider every interval.
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		provider: provider,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the collection loop.
func (c *Collector) Start() {
	go c.loop()
}

// Stop ends the collection loop.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Collector) loop() {
	c.Collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Collect()
		case <-c.stop:
			return
		}
	}
}

// Collect publishes one snapshot.
func (c *Collector) Collect() {
	if c.provider == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := c.provider.LibraryStats(ctx)
	if err != nil {
		logging.Warn("Metrics collection failed: %v", err)
		return
	}

	LibraryPhotos.Set(float64(stats.Photos))
	LibraryPending.WithLabelValues("metadata").Set(float64(stats.PendingMetadata))
	LibraryPending.WithLabelValues("analysis").Set(float64(stats.PendingAnalysis))
	LibraryPending.WithLabelValues("faces").Set(float64(stats.PendingFaces))
	for _, state := range []string{"pending", "manual", "auto", "ignored"} {
		LibraryFaces.WithLabelValues(state).Set(float64(stats.FacesByState[state]))
	}
	LibraryPersons.Set(float64(stats.Persons))
	LibraryCities.Set(float64(stats.Cities))

	logging.Debug("Metrics collected: photos=%d, pendingMetadata=%d, persons=%d",
		stats.Photos, stats.PendingMetadata, stats.Persons)
}
