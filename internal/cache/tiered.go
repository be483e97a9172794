package cache

import (
	"context"
	"errors"
)

// TieredBlockCache checks a fast cache first and a larger one second.
// Hits in the second tier are promoted into the first.
type TieredBlockCache struct {
	l1, l2 BlockCache
}

// NewTieredBlockCache combines an in-memory l1 with a persistent l2.
func NewTieredBlockCache(l1, l2 BlockCache) *TieredBlockCache {
	return &TieredBlockCache{l1: l1, l2: l2}
}

// Get returns the block from the first tier that has it.
func (t *TieredBlockCache) Get(ctx context.Context, key BlockKey) ([]byte, bool) {
	if b, ok := t.l1.Get(ctx, key); ok {
		return b, true
	}
	b, ok := t.l2.Get(ctx, key)
	if ok {
		t.l1.Set(ctx, key, b)
	}
	return b, ok
}

// Set stores the block in both tiers.
func (t *TieredBlockCache) Set(ctx context.Context, key BlockKey, b []byte) {
	t.l1.Set(ctx, key, b)
	t.l2.Set(ctx, key, b)
}

// Invalidate removes matching blocks from both tiers.
func (t *TieredBlockCache) Invalidate(predicate func(key BlockKey) bool) {
	t.l1.Invalidate(predicate)
	t.l2.Invalidate(predicate)
}

// Close closes both tiers.
func (t *TieredBlockCache) Close() error {
	return errors.Join(t.l1.Close(), t.l2.Close())
}

// Stats counts a hit in either tier as a hit; bytes are those of the second tier.
func (t *TieredBlockCache) Stats() Stats {
	s1, s2 := t.l1.Stats(), t.l2.Stats()
	return Stats{
		Hits:      s1.Hits + s2.Hits,
		Misses:    s2.Misses,
		Evictions: s1.Evictions + s2.Evictions,
		Bytes:     s2.Bytes,
		Entries:   s2.Entries,
	}
}
