// Package settings provides the read-through cache for the indexer's
// durable settings: included folders, the sync watermark, the reference
// import flag and the face matching thresholds.
//
// The cache is created once at startup and passed to the components that need
// it:
//
//	cache := settings.New(db)
//	defer cache.Close()
//	if err := cache.Load(ctx); err != nil { ... }
//
//	ts, _ := cache.LastScanTimestamp(ctx)
//	_ = cache.SetLastScanTimestamp(time.Now().Unix())
//
// Set returns as soon as memory is updated; use Flush when a caller must know
// the value reached the store.
package settings
