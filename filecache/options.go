package filecache

import "log/slog"

// DefaultSegments is the default number of independently locked segments.
const DefaultSegments = 16

// RemovalReason says why an entry left the cache.
type RemovalReason int

const (
	// RemovalEvicted is a capacity eviction.
	RemovalEvicted RemovalReason = iota
	// RemovalExplicit is Remove or Close.
	RemovalExplicit
	// RemovalReplaced is a Put over an existing entry; only the old value left.
	RemovalReplaced
)

func (r RemovalReason) String() string {
	switch r {
	case RemovalEvicted:
		return "evicted"
	case RemovalExplicit:
		return "explicit"
	case RemovalReplaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// RemovalNotification is passed to removal listeners after the value was
// closed. Listeners run outside cache locks.
type RemovalNotification struct {
	Key    string
	Value  CachedIndexInput
	Weight int64
	Reason RemovalReason
}

// RemovalListener observes removed entries.
type RemovalListener func(RemovalNotification)

// Option configures a FileCache.
type Option func(*options)

type options struct {
	segments  int
	listeners []RemovalListener
	logger    *slog.Logger
}

// WithSegments sets the number of segments.
func WithSegments(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.segments = n
		}
	}
}

// WithRemovalListener adds a listener for removed entries.
func WithRemovalListener(l RemovalListener) Option {
	return func(o *options) {
		if l != nil {
			o.listeners = append(o.listeners, l)
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
