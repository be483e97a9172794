package tierstore

import (
	"sync/atomic"
	"time"
)

// OpenKind says which tier served an OpenInput call.
type OpenKind string

const (
	// OpenLocal is the first open of a file from local disk.
	OpenLocal OpenKind = "local"
	// OpenCache is a clone of a cache-resident handle.
	OpenCache OpenKind = "cache"
	// OpenBlock is a block-based handle over the remote copy.
	OpenBlock OpenKind = "block"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; package
// prommetrics provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordOpen is called after each OpenInput call. kind is empty on error.
	RecordOpen(kind OpenKind, duration time.Duration, err error)

	// RecordAfterUpload is called after each AfterUpload batch.
	RecordAfterUpload(count int, duration time.Duration, err error)

	// RecordFetch is called after each ranged read against the remote store.
	RecordFetch(bytes int64, duration time.Duration, err error)

	// RecordEviction is called when a cached file is evicted.
	RecordEviction(bytes int64)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordOpen(OpenKind, time.Duration, error)  {}
func (NoopMetricsCollector) RecordAfterUpload(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordFetch(int64, time.Duration, error)     {}
func (NoopMetricsCollector) RecordEviction(int64)                        {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	LocalOpens        atomic.Int64
	CacheOpens        atomic.Int64
	BlockOpens        atomic.Int64
	OpenErrors        atomic.Int64
	OpenTotalNanos    atomic.Int64
	AfterUploadCount  atomic.Int64
	AfterUploadFiles  atomic.Int64
	AfterUploadErrors atomic.Int64
	FetchCount        atomic.Int64
	FetchBytes        atomic.Int64
	FetchErrors       atomic.Int64
	FetchTotalNanos   atomic.Int64
	Evictions         atomic.Int64
	EvictedBytes      atomic.Int64
}

// RecordOpen implements MetricsCollector.
func (b *BasicMetricsCollector) RecordOpen(kind OpenKind, duration time.Duration, err error) {
	b.OpenTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.OpenErrors.Add(1)
		return
	}
	switch kind {
	case OpenLocal:
		b.LocalOpens.Add(1)
	case OpenCache:
		b.CacheOpens.Add(1)
	case OpenBlock:
		b.BlockOpens.Add(1)
	}
}

// RecordAfterUpload implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAfterUpload(count int, _ time.Duration, err error) {
	b.AfterUploadCount.Add(1)
	b.AfterUploadFiles.Add(int64(count))
	if err != nil {
		b.AfterUploadErrors.Add(1)
	}
}

// RecordFetch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFetch(bytes int64, duration time.Duration, err error) {
	b.FetchCount.Add(1)
	b.FetchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.FetchErrors.Add(1)
		return
	}
	b.FetchBytes.Add(bytes)
}

// RecordEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEviction(bytes int64) {
	b.Evictions.Add(1)
	b.EvictedBytes.Add(bytes)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	opens := b.LocalOpens.Load() + b.CacheOpens.Load() + b.BlockOpens.Load() + b.OpenErrors.Load()
	return BasicMetricsStats{
		LocalOpens:        b.LocalOpens.Load(),
		CacheOpens:        b.CacheOpens.Load(),
		BlockOpens:        b.BlockOpens.Load(),
		OpenErrors:        b.OpenErrors.Load(),
		OpenAvgNanos:      avg(b.OpenTotalNanos.Load(), opens),
		AfterUploadCount:  b.AfterUploadCount.Load(),
		AfterUploadFiles:  b.AfterUploadFiles.Load(),
		AfterUploadErrors: b.AfterUploadErrors.Load(),
		FetchCount:        b.FetchCount.Load(),
		FetchBytes:        b.FetchBytes.Load(),
		FetchErrors:       b.FetchErrors.Load(),
		FetchAvgNanos:     avg(b.FetchTotalNanos.Load(), b.FetchCount.Load()),
		Evictions:         b.Evictions.Load(),
		EvictedBytes:      b.EvictedBytes.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	LocalOpens        int64
	CacheOpens        int64
	BlockOpens        int64
	OpenErrors        int64
	OpenAvgNanos      int64
	AfterUploadCount  int64
	AfterUploadFiles  int64
	AfterUploadErrors int64
	FetchCount        int64
	FetchBytes        int64
	FetchErrors       int64
	FetchAvgNanos     int64
	Evictions         int64
	EvictedBytes      int64
}
