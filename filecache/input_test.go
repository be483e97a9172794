package filecache

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tierstore/directory"
)

func TestFileCachedIndexInput(t *testing.T) {
	c := NewFileCachedIndexInput(directory.NewByteInput("seg", []byte("hello")))
	assert.Equal(t, int64(5), c.Size())

	in, err := c.IndexInput()
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, c.IsClosed())

	_, err = c.IndexInput()
	assert.ErrorIs(t, err, directory.ErrAlreadyClosed)

	// Clones outlive the cached handle.
	b, err := io.ReadAll(in)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
	require.NoError(t, in.Close())
}

func TestSwitchable_OutstandingClonesSurviveSwitch(t *testing.T) {
	data := []byte("resident bytes of a segment file")
	var opened int
	sw := NewSwitchableCachedIndexInput(directory.NewByteInput("seg", data), func() (directory.IndexInput, error) {
		opened++
		return directory.NewByteInput("seg", data), nil
	})

	before, err := sw.IndexInput()
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), sw.Size())

	require.NoError(t, sw.SwitchToBlockBased())
	require.NoError(t, sw.SwitchToBlockBased())
	assert.Equal(t, 1, opened)
	assert.Zero(t, sw.Size())

	got, err := io.ReadAll(before)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	after, err := sw.IndexInput()
	require.NoError(t, err)
	got, err = io.ReadAll(after)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, before.Close())
	require.NoError(t, after.Close())
	require.NoError(t, sw.Close())
	assert.ErrorIs(t, sw.SwitchToBlockBased(), directory.ErrAlreadyClosed)
	_, err = sw.IndexInput()
	assert.ErrorIs(t, err, directory.ErrAlreadyClosed)
}

func TestSwitchable_OpenerFailureKeepsResident(t *testing.T) {
	boom := errors.New("boom")
	sw := NewSwitchableCachedIndexInput(directory.NewByteInput("seg", []byte("abc")), func() (directory.IndexInput, error) {
		return nil, boom
	})
	assert.ErrorIs(t, sw.SwitchToBlockBased(), boom)
	assert.False(t, sw.IsBlockBased())

	in, err := sw.IndexInput()
	require.NoError(t, err)
	require.NoError(t, in.Close())
}

func TestSwitchable_ConcurrentCloneAndSwitch(t *testing.T) {
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i)
	}
	sw := NewSwitchableCachedIndexInput(directory.NewByteInput("seg", data), func() (directory.IndexInput, error) {
		return directory.NewByteInput("seg", data), nil
	})

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in, err := sw.IndexInput()
			if err != nil {
				errs <- err
				return
			}
			defer in.Close()
			got, err := io.ReadAll(in)
			if err != nil {
				errs <- err
				return
			}
			if len(got) != len(data) || got[4095] != data[4095] {
				errs <- errors.New("inconsistent read")
			}
		}()
	}
	require.NoError(t, sw.SwitchToBlockBased())
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
