package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"photo-indexer/internal/logging"
	"photo-indexer/internal/metrics"
)

// Keys owned by the cache.
const (
	KeyIncludedFolders     = "included_folders"
	KeyLastScanTimestamp   = "last_scan_timestamp"
	KeyCitiesLoaded        = "cities_loaded"
	KeyFaceThresholdHigh   = "face_threshold_high"
	KeyFaceThresholdMedium = "face_threshold_medium"
	KeyFaceThresholdNew    = "face_threshold_new"
)

var knownKeys = map[string]bool{
	KeyIncludedFolders:     true,
	KeyLastScanTimestamp:   true,
	KeyCitiesLoaded:        true,
	KeyFaceThresholdHigh:   true,
	KeyFaceThresholdMedium: true,
	KeyFaceThresholdNew:    true,
}

// ErrUnknownKey is returned for keys outside the cache's fixed set.
var ErrUnknownKey = errors.New("unknown settings key")

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("settings cache closed")

// Default face matching thresholds.
const (
	DefaultThresholdHigh   = 0.40
	DefaultThresholdMedium = 0.60
	DefaultThresholdNew    = 0.75
)

// Thresholds are the three face matching thresholds. Their interpretation
// belongs to the configured matcher.
type Thresholds struct {
	High   float64 `json:"high" yaml:"high"`
	Medium float64 `json:"medium" yaml:"medium"`
	New    float64 `json:"new" yaml:"new"`
}

// Store is the durable side of the cache.
type Store interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	AllSettings(ctx context.Context) (map[string]string, error)
}

var log = logging.For("settings")

// Cache is a read-through cache over Store. Writes update memory
// immediately and are persisted by a single background writer; a later
// write to the same key replaces an earlier one that has not been persisted.
type Cache struct {
	store Store

	mu      sync.RWMutex
	values  map[string]string
	absent  map[string]bool
	pending map[string]string

	wake     chan struct{}
	flushReq chan chan struct{}
	stop     chan struct{}
	stopped  chan struct{}

	closeOnce sync.Once
}

// New creates a cache and starts its writer.
func New(store Store) *Cache {
	c := &Cache{
		store:    store,
		values:   make(map[string]string),
		absent:   make(map[string]bool),
		pending:  make(map[string]string),
		wake:     make(chan struct{}, 1),
		flushReq: make(chan chan struct{}),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go c.writer()
	return c
}

// Load warms the cache with every stored setting.
func (c *Cache) Load(ctx context.Context) error {
	all, err := c.store.AllSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range knownKeys {
		if _, queued := c.pending[key]; queued {
			continue
		}
		if v, ok := all[key]; ok {
			c.values[key] = v
			delete(c.absent, key)
		} else {
			c.absent[key] = true
		}
	}
	log.Debug("Loaded %d settings", len(all))
	return nil
}

// Get returns the value of key and whether it is set. Misses read through to
// the store.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	if !knownKeys[key] {
		return "", false, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	c.mu.RLock()
	v, ok := c.values[key]
	absent := c.absent[key]
	c.mu.RUnlock()

	if ok || absent {
		metrics.SettingsCacheLookups.WithLabelValues("hit").Inc()
		return v, ok, nil
	}
	metrics.SettingsCacheLookups.WithLabelValues("miss").Inc()

	v, ok, err := c.store.GetSetting(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A write may have landed while the store was being read.
	if cur, set := c.values[key]; set {
		return cur, true, nil
	}
	if ok {
		c.values[key] = v
	} else {
		c.absent[key] = true
	}
	return v, ok, nil
}

// Set updates the cached value and queues the durable write.
func (c *Cache) Set(key, value string) error {
	if !knownKeys[key] {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	select {
	case <-c.stop:
		return ErrClosed
	default:
	}

	c.mu.Lock()
	c.values[key] = value
	delete(c.absent, key)
	c.pending[key] = value
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Flush blocks until every write queued before the call is persisted.
func (c *Cache) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case c.flushReq <- done:
	case <-c.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close persists pending writes and stops the writer.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.stopped
	})
}

func (c *Cache) writer() {
	defer close(c.stopped)

	for {
		select {
		case <-c.wake:
			c.drain()
		case done := <-c.flushReq:
			c.drain()
			close(done)
		case <-c.stop:
			c.drain()
			return
		}
	}
}

func (c *Cache) drain() {
	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.mu.Unlock()
			return
		}
		batch := c.pending
		c.pending = make(map[string]string)
		c.mu.Unlock()

		for key, value := range batch {
			if err := c.store.SetSetting(context.Background(), key, value); err != nil {
				metrics.SettingsWriteErrors.Inc()
				log.Error("Failed to persist setting %s: %v", key, err)
			}
		}
	}
}

// IncludedFolders returns the configured folder prefixes. An empty result
// means the whole library.
func (c *Cache) IncludedFolders(ctx context.Context) ([]string, error) {
	v, ok, err := c.Get(ctx, KeyIncludedFolders)
	if err != nil || !ok || v == "" {
		return nil, err
	}
	var folders []string
	if err := json.Unmarshal([]byte(v), &folders); err != nil {
		return nil, fmt.Errorf("malformed %s: %w", KeyIncludedFolders, err)
	}
	return folders, nil
}

// SetIncludedFolders replaces the folder prefixes.
func (c *Cache) SetIncludedFolders(folders []string) error {
	if folders == nil {
		folders = []string{}
	}
	b, err := json.Marshal(folders)
	if err != nil {
		return err
	}
	return c.Set(KeyIncludedFolders, string(b))
}

// LastScanTimestamp returns the sync watermark in epoch seconds, 0 when no
// pass has completed.
func (c *Cache) LastScanTimestamp(ctx context.Context) (int64, error) {
	v, ok, err := c.Get(ctx, KeyLastScanTimestamp)
	if err != nil || !ok {
		return 0, err
	}
	ts, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed %s: %w", KeyLastScanTimestamp, err)
	}
	return ts, nil
}

// SetLastScanTimestamp stores the sync watermark.
func (c *Cache) SetLastScanTimestamp(sec int64) error {
	return c.Set(KeyLastScanTimestamp, strconv.FormatInt(sec, 10))
}

// CitiesLoaded reports whether the reference import completed.
func (c *Cache) CitiesLoaded(ctx context.Context) (bool, error) {
	v, ok, err := c.Get(ctx, KeyCitiesLoaded)
	if err != nil || !ok {
		return false, err
	}
	return strconv.ParseBool(v)
}

// SetCitiesLoaded records the reference import state.
func (c *Cache) SetCitiesLoaded(loaded bool) error {
	return c.Set(KeyCitiesLoaded, strconv.FormatBool(loaded))
}

// FaceThresholds returns the matching thresholds, falling back to the
// defaults for unset or malformed values.
func (c *Cache) FaceThresholds(ctx context.Context) (Thresholds, error) {
	t := Thresholds{High: DefaultThresholdHigh, Medium: DefaultThresholdMedium, New: DefaultThresholdNew}

	for key, dst := range map[string]*float64{
		KeyFaceThresholdHigh:   &t.High,
		KeyFaceThresholdMedium: &t.Medium,
		KeyFaceThresholdNew:    &t.New,
	} {
		v, ok, err := c.Get(ctx, key)
		if err != nil {
			return t, err
		}
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			log.Warn("Ignoring malformed %s=%q", key, v)
			continue
		}
		*dst = f
	}
	return t, nil
}

// SetFaceThresholds stores all three thresholds.
func (c *Cache) SetFaceThresholds(t Thresholds) error {
	for key, v := range map[string]float64{
		KeyFaceThresholdHigh:   t.High,
		KeyFaceThresholdMedium: t.Medium,
		KeyFaceThresholdNew:    t.New,
	} {
		if err := c.Set(key, strconv.FormatFloat(v, 'f', -1, 64)); err != nil {
			return err
		}
	}
	return nil
}
