package cache

import (
	"context"
	"fmt"
)

// BlockKey identifies one fixed-size block of a remote file. File is the
// remote (uploaded) name, so blocks of a re-uploaded file never collide
// with stale ones.
type BlockKey struct {
	File  string
	Block uint64
}

func (k BlockKey) String() string {
	return fmt.Sprintf("%s#%d", k.File, k.Block)
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Bytes     int64
	Entries   int
}

// BlockCache is a byte-oriented cache for immutable blocks.
// Returned slices must be treated as read-only.
type BlockCache interface {
	// Get returns a cached block. ok=false if missing.
	Get(ctx context.Context, key BlockKey) (b []byte, ok bool)
	// Set caches a block. Implementations may retain b; callers must not modify it.
	Set(ctx context.Context, key BlockKey, b []byte)
	// Invalidate removes entries matching the predicate.
	Invalidate(predicate func(key BlockKey) bool)
	// Close releases resources such as background writers.
	Close() error
	// Stats returns a snapshot of the counters.
	Stats() Stats
}

// ForFile returns a predicate matching every block of file.
func ForFile(file string) func(BlockKey) bool {
	return func(k BlockKey) bool { return k.File == file }
}
