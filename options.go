package tierstore

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/tierstore/codec"
	"github.com/hupe1980/tierstore/filecache"
	"github.com/hupe1980/tierstore/remote"
	"github.com/hupe1980/tierstore/transfer"
)

const (
	// DefaultCacheCapacity is the default resident byte budget of the file cache.
	DefaultCacheCapacity = 256 << 20
	// DefaultBlockCacheBytes is the default in-memory block cache size.
	DefaultBlockCacheBytes = transfer.DefaultBlockCacheBytes
)

// Option configures a CompositeDirectory.
type Option func(*options)

type options struct {
	logger  *Logger
	metrics MetricsCollector

	cacheCapacity  int64
	cacheSegments  int
	residentLimit  int64
	blockSize      int
	blockCache     int64
	blockCacheDir  string
	blockCacheDisk int64

	fetchTimeout     time.Duration
	fetchConcurrency int
	maxFetches       int64
	ioLimit          int64
	memoryLimit      int64
	tracer           trace.Tracer

	codec             codec.Codec
	compression       codec.Compression
	uploadConcurrency int

	skipRecovery bool
}

func defaultOptions() options {
	return options{
		logger:           NoopLogger(),
		metrics:          NoopMetricsCollector{},
		cacheCapacity:    DefaultCacheCapacity,
		cacheSegments:    filecache.DefaultSegments,
		blockSize:        remote.DefaultBlockSize,
		blockCache:       DefaultBlockCacheBytes,
		fetchConcurrency: transfer.DefaultFetchConcurrency,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger. Nil keeps the no-op logger.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetricsCollector sets a custom metrics collector for monitoring operations.
// If not specified, NoopMetricsCollector is used (zero overhead).
//
// Example:
//
//	metrics := &tierstore.BasicMetricsCollector{}
//	dir, err := tierstore.Open(ctx, path, store, tierstore.WithMetricsCollector(metrics))
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc != nil {
			o.metrics = mc
		}
	}
}

// WithCacheCapacity sets the resident byte budget of the file cache.
func WithCacheCapacity(bytes int64) Option {
	return func(o *options) {
		if bytes > 0 {
			o.cacheCapacity = bytes
		}
	}
}

// WithCacheSegments sets the number of independently locked cache segments.
func WithCacheSegments(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.cacheSegments = n
		}
	}
}

// WithResidentSizeLimit makes AfterUpload switch files larger than bytes to
// block-based reads immediately. Zero disables the limit.
func WithResidentSizeLimit(bytes int64) Option {
	return func(o *options) {
		if bytes >= 0 {
			o.residentLimit = bytes
		}
	}
}

// WithBlockSize sets the block size used for uploads and fetches.
func WithBlockSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.blockSize = n
		}
	}
}

// WithBlockCacheBytes sets the size of the in-memory block cache.
func WithBlockCacheBytes(bytes int64) Option {
	return func(o *options) {
		if bytes > 0 {
			o.blockCache = bytes
		}
	}
}

// WithBlockCacheDir adds a disk block cache of maxBytes under dir behind
// the in-memory one.
func WithBlockCacheDir(dir string, maxBytes int64) Option {
	return func(o *options) {
		o.blockCacheDir = dir
		o.blockCacheDisk = maxBytes
	}
}

// WithFetchTimeout bounds every remote range fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.fetchTimeout = d
		}
	}
}

// WithFetchConcurrency bounds parallel block runs within one fetch.
func WithFetchConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.fetchConcurrency = n
		}
	}
}

// WithResourceLimits sets the budgets shared by all remote reads:
// concurrent fetches, download bytes per second and block cache memory.
// Zero leaves a limit at its default.
func WithResourceLimits(maxFetches, ioBytesPerSec, memoryBytes int64) Option {
	return func(o *options) {
		o.maxFetches = maxFetches
		o.ioLimit = ioBytesPerSec
		o.memoryLimit = memoryBytes
	}
}

// WithTracer sets the tracer used for remote fetch spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

// WithCodec sets the manifest codec.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithCompression sets the manifest compression.
func WithCompression(c codec.Compression) Option {
	return func(o *options) {
		if c != nil {
			o.compression = c
		}
	}
}

// WithUploadConcurrency bounds parallel file uploads in Flush.
func WithUploadConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.uploadConcurrency = n
		}
	}
}

// WithoutRecovery makes Open skip rebuilding state from disk and manifest.
func WithoutRecovery() Option {
	return func(o *options) {
		o.skipRecovery = true
	}
}
