package internaltelemetry

import "go.opentelemetry.io/otel/metric"

// StorageMetrics holds the metric instruments exported by the storage and
// transaction core: buffer pool hit/miss/eviction counters and
// lock-wait/deadlock-victim counters, each built as a counter on one shared
// meter.
type StorageMetrics struct {
	BufferPoolHits      metric.Int64Counter
	BufferPoolMisses    metric.Int64Counter
	BufferPoolEvictions metric.Int64Counter

	LockWaits       metric.Int64Counter
	DeadlockVictims metric.Int64Counter
}

// NewStorageMetrics creates and registers every instrument on meter. A nil
// *StorageMetrics is a valid no-op value for any caller that passes it
// through without recording — callers must still nil-check before use.
func NewStorageMetrics(meter metric.Meter) (*StorageMetrics, error) {
	hits, err := meter.Int64Counter(
		"ember.buffer_pool.hits_total",
		metric.WithDescription("Page fetches satisfied by a resident frame."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	misses, err := meter.Int64Counter(
		"ember.buffer_pool.misses_total",
		metric.WithDescription("Page fetches requiring a disk read."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	evictions, err := meter.Int64Counter(
		"ember.buffer_pool.evictions_total",
		metric.WithDescription("Frames reclaimed via LRU-K eviction."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	lockWaits, err := meter.Int64Counter(
		"ember.lock_manager.waits_total",
		metric.WithDescription("Lock requests that had to block before being granted."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	deadlockVictims, err := meter.Int64Counter(
		"ember.lock_manager.deadlock_victims_total",
		metric.WithDescription("Transactions aborted by the deadlock detector."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &StorageMetrics{
		BufferPoolHits:      hits,
		BufferPoolMisses:    misses,
		BufferPoolEvictions: evictions,
		LockWaits:           lockWaits,
		DeadlockVictims:     deadlockVictims,
	}, nil
}
