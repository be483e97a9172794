package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskBlockCache(t *testing.T) {
	tmpDir := t.TempDir()
	c, err := NewDiskBlockCache(DiskCacheConfig{RootDir: tmpDir, MaxSizeBytes: 1024})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	key1 := BlockKey{File: "_0.cfs__x", Block: 0}
	c.Set(ctx, key1, make([]byte, 400))
	c.Wait()

	assert.FileExists(t, c.keyPath(key1))
	got, ok := c.Get(ctx, key1)
	require.True(t, ok)
	assert.Len(t, got, 400)

	key2 := BlockKey{File: "_0.cfs__x", Block: 1}
	key3 := BlockKey{File: "_0.cfs__x", Block: 2}
	c.Set(ctx, key2, make([]byte, 400))
	c.Wait()
	c.Set(ctx, key3, make([]byte, 400))
	c.Wait()

	_, ok = c.Get(ctx, key1)
	assert.False(t, ok, "oldest block evicted")
	assert.NoFileExists(t, c.keyPath(key1))

	_, ok = c.Get(ctx, key2)
	assert.True(t, ok)
	_, ok = c.Get(ctx, key3)
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestDiskBlockCache_Reload(t *testing.T) {
	tmpDir := t.TempDir()
	config := DiskCacheConfig{RootDir: tmpDir, MaxSizeBytes: 10_000}
	key := BlockKey{File: "dir/with/slashes", Block: 7}

	c, err := NewDiskBlockCache(config)
	require.NoError(t, err)
	c.Set(context.Background(), key, []byte("hello"))
	require.NoError(t, c.Close())

	// Interrupted write from a previous run.
	stray := filepath.Join(filepath.Dir(c.keyPath(key)), ".tmp-blk-123")
	require.NoError(t, os.WriteFile(stray, []byte("junk"), 0o644))

	c, err = NewDiskBlockCache(config)
	require.NoError(t, err)
	got, ok := c.Get(context.Background(), key)
	require.True(t, ok)
	assert.Equal(t, "hello", string(got))
	assert.Equal(t, int64(5), c.Stats().Bytes)
	assert.NoFileExists(t, stray)
}

func TestDiskBlockCache_Invalidate(t *testing.T) {
	c, err := NewDiskBlockCache(DiskCacheConfig{RootDir: t.TempDir(), MaxSizeBytes: 10_000})
	require.NoError(t, err)
	ctx := context.Background()

	a := BlockKey{File: "a", Block: 0}
	b := BlockKey{File: "b", Block: 0}
	c.Set(ctx, a, []byte("aaaa"))
	c.Set(ctx, b, []byte("bbbb"))
	c.Wait()

	c.Invalidate(ForFile("a"))
	_, ok := c.Get(ctx, a)
	assert.False(t, ok)
	assert.NoFileExists(t, c.keyPath(a))
	_, ok = c.Get(ctx, b)
	assert.True(t, ok)
}

func TestTieredBlockCache(t *testing.T) {
	ctx := context.Background()
	l1 := NewLRUBlockCache(1<<20, nil)
	l2, err := NewDiskBlockCache(DiskCacheConfig{RootDir: t.TempDir(), MaxSizeBytes: 1 << 20})
	require.NoError(t, err)
	c := NewTieredBlockCache(l1, l2)
	defer c.Close()

	key := BlockKey{File: "_0.doc", Block: 3}
	c.Set(ctx, key, []byte("block"))
	l2.Wait()

	l1.Invalidate(ForFile("_0.doc"))
	got, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, "block", string(got))

	_, ok = l1.Get(ctx, key)
	assert.True(t, ok, "second-tier hit promoted")

	c.Invalidate(ForFile("_0.doc"))
	_, ok = c.Get(ctx, key)
	assert.False(t, ok)
}
