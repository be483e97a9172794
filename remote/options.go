package remote

import (
	"log/slog"

	"github.com/hupe1980/tierstore/codec"
	"github.com/hupe1980/tierstore/internal/resource"
)

// DefaultBlockSize is the checksum block size of new uploads.
const DefaultBlockSize = 8 << 10

// Option configures a SegmentStore.
type Option func(*options)

type options struct {
	codec       codec.Codec
	compression codec.Compression
	blockSize   int
	concurrency int
	rc          *resource.Controller
	logger      *slog.Logger
}

func defaultOptions() options {
	return options{
		codec:       codec.Default,
		compression: codec.Zstd{},
		blockSize:   DefaultBlockSize,
		concurrency: 4,
		logger:      slog.New(slog.DiscardHandler),
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

// WithBlockSize sets the block size used for per-block checksums.
func WithBlockSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.blockSize = n
		}
	}
}

// WithUploadConcurrency bounds the number of files uploaded in parallel.
func WithUploadConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
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

// WithResourceController charges uploaded bytes against the IO budget of rc.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}
