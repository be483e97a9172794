package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/hupe1980/tierstore/internal/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUBlockCache(t *testing.T) {
	ctx := context.Background()
	c := NewLRUBlockCache(30, nil)

	k1 := BlockKey{File: "_0.cfs__a", Block: 0}
	k2 := BlockKey{File: "_0.cfs__a", Block: 1}
	k3 := BlockKey{File: "_1.cfs__b", Block: 0}

	c.Set(ctx, k1, make([]byte, 10))
	c.Set(ctx, k2, make([]byte, 10))
	_, ok := c.Get(ctx, k1) // k1 now most recent
	require.True(t, ok)

	c.Set(ctx, k3, make([]byte, 15))

	_, ok = c.Get(ctx, k2)
	assert.False(t, ok, "least recently used block is evicted")
	_, ok = c.Get(ctx, k1)
	assert.True(t, ok)

	st := c.Stats()
	assert.Equal(t, int64(2), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.Equal(t, int64(1), st.Evictions)
	assert.Equal(t, int64(25), st.Bytes)
	assert.Equal(t, 2, st.Entries)
}

func TestLRUBlockCache_EdgeCases(t *testing.T) {
	ctx := context.Background()
	k := BlockKey{File: "f", Block: 1}

	t.Run("larger than capacity", func(t *testing.T) {
		c := NewLRUBlockCache(50, nil)
		c.Set(ctx, k, make([]byte, 60))
		_, ok := c.Get(ctx, k)
		assert.False(t, ok)
	})

	t.Run("existing key keeps first value", func(t *testing.T) {
		c := NewLRUBlockCache(50, nil)
		c.Set(ctx, k, []byte("first"))
		c.Set(ctx, k, []byte("second!"))
		got, ok := c.Get(ctx, k)
		require.True(t, ok)
		assert.Equal(t, "first", string(got))
		assert.Equal(t, int64(5), c.Size())
	})

	t.Run("memory budget", func(t *testing.T) {
		rc := resource.NewController(resource.Config{MemoryLimitBytes: 10})
		c := NewLRUBlockCache(50, rc)
		c.Set(ctx, k, make([]byte, 8))
		c.Set(ctx, BlockKey{File: "f", Block: 2}, make([]byte, 8))

		_, ok := c.Get(ctx, BlockKey{File: "f", Block: 2})
		assert.False(t, ok, "budget exhausted by the first block")
		assert.Equal(t, int64(8), rc.MemoryUsage())

		require.NoError(t, c.Close())
		assert.Zero(t, rc.MemoryUsage())
	})
}

func TestLRUBlockCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	c := NewLRUBlockCache(100, nil)
	c.Set(ctx, BlockKey{File: "a", Block: 0}, []byte("a0"))
	c.Set(ctx, BlockKey{File: "a", Block: 1}, []byte("a1"))
	c.Set(ctx, BlockKey{File: "b", Block: 0}, []byte("b0"))

	c.Invalidate(ForFile("a"))

	_, ok := c.Get(ctx, BlockKey{File: "a", Block: 0})
	assert.False(t, ok)
	_, ok = c.Get(ctx, BlockKey{File: "b", Block: 0})
	assert.True(t, ok)
	assert.Equal(t, int64(2), c.Size())
}

func TestShardedLRUBlockCache(t *testing.T) {
	ctx := context.Background()
	c := NewShardedLRUBlockCache(64<<20, nil)

	for i := range 1000 {
		c.Set(ctx, BlockKey{File: fmt.Sprintf("_%d.cfs", i%10), Block: uint64(i)}, make([]byte, 1024))
	}
	assert.Equal(t, int64(1000*1024), c.Size())

	nonEmpty := 0
	for _, shard := range c.shards {
		if shard.Size() > 0 {
			nonEmpty++
		}
	}
	assert.Greater(t, nonEmpty, 30, "blocks spread over shards")

	c.Invalidate(ForFile("_3.cfs"))
	st := c.Stats()
	assert.Equal(t, 900, st.Entries)
	assert.Equal(t, int64(900*1024), st.Bytes)
}

func TestShardedLRUBlockCache_Concurrent(t *testing.T) {
	ctx := context.Background()
	c := NewShardedLRUBlockCache(64<<20, nil)
	data := make([]byte, 128)

	var wg sync.WaitGroup
	for g := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			file := fmt.Sprintf("_%d.cfs", g)
			for i := range 200 {
				key := BlockKey{File: file, Block: uint64(i)}
				c.Set(ctx, key, data)
				got, ok := c.Get(ctx, key)
				assert.True(t, ok)
				assert.Len(t, got, len(data))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(32*200), c.Stats().Hits)
}
