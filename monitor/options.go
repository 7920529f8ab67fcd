package monitor

import (
	"hash/fnv"
	"time"
)

// DefaultMaxEntries is the default capacity of a MemoryStore.
const DefaultMaxEntries = 10000

// DefaultRetention is how long database stores keep entries when cleanup is enabled.
const DefaultRetention = 7 * 24 * time.Hour

// storeOptions holds configuration for monitor stores.
type storeOptions struct {
	maxEntries      int
	tableName       string
	cleanupInterval time.Duration
	retention       time.Duration
	samplingRate    float64
}

// defaultStoreOptions returns the default store options.
func defaultStoreOptions() *storeOptions {
	return &storeOptions{
		maxEntries:      DefaultMaxEntries,
		tableName:       "hook_monitor",
		cleanupInterval: 0,
		retention:       DefaultRetention,
		samplingRate:    1.0, // record every dispatch
	}
}

func newStoreOptions(opts ...StoreOption) *storeOptions {
	o := defaultStoreOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// sampled reports whether the dispatch is recorded. The decision depends on
// the dispatch ID only, so all subscribers of a dispatch share it.
func (o *storeOptions) sampled(dispatchID string) bool {
	if o.samplingRate >= 1.0 {
		return true
	}
	h := fnv.New32a()
	h.Write([]byte(dispatchID))
	return float64(h.Sum32()%1000)/1000.0 < o.samplingRate
}

// StoreOption configures a Store.
type StoreOption func(*storeOptions)

// WithMaxEntries bounds the number of entries kept in memory.
// When full, the oldest entries are evicted first. Zero or negative
// disables the bound.
//
// Example:
//
//	store := monitor.NewMemoryStore(monitor.WithMaxEntries(1000))
func WithMaxEntries(n int) StoreOption {
	return func(o *storeOptions) {
		o.maxEntries = n
	}
}

// WithTableName sets the table name of PostgresStore and the key prefix of RedisStore.
//
// Default is "hook_monitor". Use this when several registries share a database.
//
// Example:
//
//	store := monitor.NewPostgresStore(db,
//	    monitor.WithTableName("orders_hook_monitor"),
//	)
func WithTableName(name string) StoreOption {
	return func(o *storeOptions) {
		if name != "" {
			o.tableName = name
		}
	}
}

// WithCleanupInterval enables periodic removal of entries older than the
// retention period in database stores.
//
// Default is 0 (disabled); call DeleteOlderThan manually in that case.
//
// Example:
//
//	store := monitor.NewPostgresStore(db,
//	    monitor.WithCleanupInterval(5 * time.Minute),
//	    monitor.WithRetention(24 * time.Hour),
//	)
func WithCleanupInterval(interval time.Duration) StoreOption {
	return func(o *storeOptions) {
		o.cleanupInterval = interval
	}
}

// WithRetention sets the age after which the periodic cleanup removes entries.
// Default is 7 days.
func WithRetention(age time.Duration) StoreOption {
	return func(o *storeOptions) {
		if age > 0 {
			o.retention = age
		}
	}
}

// WithSampling records only a fraction of dispatches.
//
// Rate must be between 0.0 and 1.0:
//   - 1.0: Record all dispatches (default)
//   - 0.1: Record 10% of dispatches
//
// Sampling is deterministic per dispatch ID: either every subscriber of a
// dispatch is recorded or none is.
func WithSampling(rate float64) StoreOption {
	return func(o *storeOptions) {
		if rate >= 0 && rate <= 1.0 {
			o.samplingRate = rate
		}
	}
}
