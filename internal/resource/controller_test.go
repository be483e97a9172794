package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Memory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	require.NoError(t, c.AcquireMemory(50))
	require.NoError(t, c.AcquireMemory(40))
	assert.Equal(t, int64(90), c.MemoryUsage())

	assert.ErrorIs(t, c.AcquireMemory(20), ErrMemoryLimitExceeded)
	assert.Equal(t, int64(90), c.MemoryUsage())

	c.ReleaseMemory(50)
	require.NoError(t, c.AcquireMemory(20))
	assert.Equal(t, int64(60), c.MemoryUsage())
	assert.Equal(t, int64(100), c.MemoryLimit())
}

func TestController_UnlimitedMemory(t *testing.T) {
	c := NewController(Config{})

	require.NoError(t, c.AcquireMemory(1000))
	c.ReleaseMemory(500)
	assert.Equal(t, int64(500), c.MemoryUsage())
	assert.Zero(t, c.MemoryLimit())
}

func TestController_Fetches(t *testing.T) {
	c := NewController(Config{MaxConcurrentFetches: 2})

	require.NoError(t, c.AcquireFetch(t.Context()))
	require.NoError(t, c.AcquireFetch(t.Context()))
	assert.False(t, c.TryAcquireFetch())

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.AcquireFetch(ctx), context.DeadlineExceeded)

	c.ReleaseFetch()
	assert.True(t, c.TryAcquireFetch())
}

func TestController_IO(t *testing.T) {
	t.Run("unlimited", func(t *testing.T) {
		c := NewController(Config{})
		require.NoError(t, c.AcquireIO(t.Context(), 1<<30))
		assert.Equal(t, int64(1<<30), c.IOBytes())
	})

	t.Run("larger than burst", func(t *testing.T) {
		c := NewController(Config{IOLimitBytesPerSec: 1 << 20})
		require.NoError(t, c.AcquireIO(t.Context(), 1<<20+10))
		assert.Equal(t, int64(1<<20+10), c.IOBytes())
	})

	t.Run("cancelled", func(t *testing.T) {
		c := NewController(Config{IOLimitBytesPerSec: 10})
		require.NoError(t, c.AcquireIO(t.Context(), 10))

		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		assert.Error(t, c.AcquireIO(ctx, 10))
		assert.Equal(t, int64(10), c.IOBytes())
	})
}

func TestController_Nil(t *testing.T) {
	var c *Controller
	assert.NoError(t, c.AcquireMemory(10))
	c.ReleaseMemory(10)
	assert.Zero(t, c.MemoryUsage())
	assert.NoError(t, c.AcquireFetch(t.Context()))
	assert.True(t, c.TryAcquireFetch())
	c.ReleaseFetch()
	assert.NoError(t, c.AcquireIO(t.Context(), 1))
	assert.Zero(t, c.IOBytes())
}
