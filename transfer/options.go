package transfer

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/tierstore/internal/cache"
	"github.com/hupe1980/tierstore/internal/resource"
)

const (
	// DefaultBlockSize applies to metadata without a block size.
	DefaultBlockSize = 8 << 10
	// DefaultBlockCacheBytes sizes the in-memory block cache.
	DefaultBlockCacheBytes = 64 << 20
	// DefaultFetchConcurrency bounds parallel runs within one request.
	DefaultFetchConcurrency = 4
)

// FetchEvent describes one completed ranged read against the blob store.
type FetchEvent struct {
	Name     string
	Bytes    int64
	Blocks   int
	Duration time.Duration
	Err      error
}

// Option configures a Manager.
type Option func(*options)

type options struct {
	blockSize   int64
	blockCache  cache.BlockCache
	concurrency int
	timeout     time.Duration
	rc          *resource.Controller
	tracer      trace.Tracer
	logger      *slog.Logger
	observers   []func(FetchEvent)
}

func defaultOptions() options {
	return options{
		blockSize:   DefaultBlockSize,
		concurrency: DefaultFetchConcurrency,
		tracer:      otel.Tracer("github.com/hupe1980/tierstore/transfer"),
		logger:      slog.New(slog.DiscardHandler),
	}
}

// WithBlockSize sets the block size for metadata that records none.
func WithBlockSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.blockSize = n
		}
	}
}

// WithBlockCache replaces the default in-memory block cache.
func WithBlockCache(c cache.BlockCache) Option {
	return func(o *options) {
		o.blockCache = c
	}
}

// WithFetchConcurrency bounds the parallel ranged reads of one request.
func WithFetchConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithFetchTimeout bounds every FetchRange call. Zero disables.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithResourceController applies a process-wide fetch slot, IO rate and
// memory budget.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithTracer sets the tracer. The default uses the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithLogger sets the logger. Nil discards.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithFetchObserver registers a callback invoked after every ranged read.
func WithFetchObserver(fn func(FetchEvent)) Option {
	return func(o *options) {
		if fn != nil {
			o.observers = append(o.observers, fn)
		}
	}
}
