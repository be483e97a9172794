package tierstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tierstore/blobstore"
	"github.com/hupe1980/tierstore/directory"
	"github.com/hupe1980/tierstore/internal/hash"
	"github.com/hupe1980/tierstore/internal/testutil"
	"github.com/hupe1980/tierstore/remote"
	"github.com/hupe1980/tierstore/tracker"
	"github.com/hupe1980/tierstore/transfer"
)

const testBlockSize = 1024

type staticSource map[string]remote.UploadedSegmentMetadata

func (s staticSource) SegmentsUploaded() map[string]remote.UploadedSegmentMetadata {
	return maps.Clone(s)
}

func randomBytes(n int, seed int64) []byte {
	return testutil.NewRNG(seed).Bytes(n)
}

func openTest(t *testing.T, path string, store blobstore.BlobStore, opts ...Option) *CompositeDirectory {
	t.Helper()
	opts = append([]Option{WithBlockSize(testBlockSize)}, opts...)
	d, err := Open(context.Background(), path, store, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func writeFile(t *testing.T, d directory.Directory, name string, data []byte) {
	t.Helper()
	out, err := d.CreateOutput(name, directory.IOContextFlush)
	require.NoError(t, err)
	_, err = out.Write(data)
	require.NoError(t, err)
	require.NoError(t, out.Close())
}

func readFile(t *testing.T, d directory.Directory, name string) []byte {
	t.Helper()
	in, err := d.OpenInput(name, directory.IOContextDefault)
	require.NoError(t, err)
	defer in.Close()
	b, err := io.ReadAll(in)
	require.NoError(t, err)
	return b
}

// putRemote stores data as an uploaded blob and returns its metadata.
func putRemote(t *testing.T, store blobstore.BlobStore, name string, data []byte) remote.UploadedSegmentMetadata {
	t.Helper()
	h := hash.NewBlockHasher(testBlockSize)
	_, _ = h.Write(data)
	md := remote.UploadedSegmentMetadata{
		OriginalName:   name,
		UploadedName:   name + "__remote",
		Checksum:       h.Sum32(),
		Length:         int64(len(data)),
		BlockSize:      testBlockSize,
		BlockChecksums: h.Blocks(),
	}
	require.NoError(t, store.Put(context.Background(), md.UploadedName, data))
	return md
}

func TestCompositeDirectory_ReadAfterUpload(t *testing.T) {
	ctx := context.Background()
	d := openTest(t, t.TempDir(), blobstore.NewMemoryStore())

	data := randomBytes(1000, 1)
	writeFile(t, d, "segment_0", data)
	require.NoError(t, d.Flush(ctx, []string{"segment_0"}))

	assert.Equal(t, data, readFile(t, d, "segment_0"))

	info, ok := d.FileState("segment_0")
	require.True(t, ok)
	assert.Equal(t, tracker.StateCache, info.State)
	assert.Equal(t, tracker.TypeNonBlock, info.Type)
	require.NotNil(t, info.Metadata)
	assert.Equal(t, int64(1000), info.Metadata.Length)

	refs, ok := d.Cache().RefCount(info.Path)
	require.True(t, ok)
	assert.Zero(t, refs)
}

func TestCompositeDirectory_OpenThenUpload(t *testing.T) {
	ctx := context.Background()
	metrics := &BasicMetricsCollector{}
	d := openTest(t, t.TempDir(), blobstore.NewMemoryStore(), WithMetricsCollector(metrics))

	data := randomBytes(3000, 2)
	writeFile(t, d, "_0.cfs", data)

	assert.Equal(t, data, readFile(t, d, "_0.cfs"))
	info, ok := d.FileState("_0.cfs")
	require.True(t, ok)
	assert.Equal(t, tracker.StateDisk, info.State)
	assert.Nil(t, info.Metadata)

	refs, _ := d.Cache().RefCount(info.Path)
	assert.Equal(t, 1, refs, "first open pins the entry")

	assert.Equal(t, data, readFile(t, d, "_0.cfs"))

	require.NoError(t, d.Flush(ctx, []string{"_0.cfs"}))
	info, _ = d.FileState("_0.cfs")
	assert.Equal(t, tracker.StateCache, info.State)
	assert.NotNil(t, info.Metadata)

	refs, _ = d.Cache().RefCount(info.Path)
	assert.Zero(t, refs)

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.LocalOpens)
	assert.Equal(t, int64(1), stats.CacheOpens)
	assert.Equal(t, int64(1), stats.AfterUploadCount)
}

func TestCompositeDirectory_RemoteOnlyOpensBlockBased(t *testing.T) {
	local, err := directory.OpenFS(t.TempDir())
	require.NoError(t, err)
	store := blobstore.NewMemoryStore()
	tm := transfer.NewManager(store, transfer.WithBlockSize(testBlockSize))

	data := randomBytes(10_000, 3)
	md := putRemote(t, store, "segment_1", data)
	d := NewCompositeDirectory(local, staticSource{"segment_1": md}, tm)
	defer d.Close()

	_, _, err = d.Tracker().Track(tracker.FileTrackingInfo{
		FileName: "segment_1",
		State:    tracker.StateRemoteOnly,
		Type:     tracker.TypeNonBlock,
		Path:     local.Resolve("segment_1"),
		Metadata: &md,
	})
	require.NoError(t, err)

	in, err := d.OpenInput("segment_1", directory.IOContextDefault)
	require.NoError(t, err)
	defer in.Close()
	assert.IsType(t, &transfer.BlockIndexInput{}, in)
	assert.Equal(t, int64(10_000), in.Length())

	before := store.RangeReads()
	buf := make([]byte, 100)
	_, err = io.ReadFull(in, buf)
	require.NoError(t, err)
	assert.Equal(t, data[:100], buf)
	assert.Equal(t, before+1, store.RangeReads())

	info, _ := d.FileState("segment_1")
	assert.Equal(t, tracker.StateRemoteOnly, info.State)
	assert.Equal(t, tracker.TypeBlock, info.Type)

	// Promotion is one-way.
	err = d.Tracker().UpdateFileType("segment_1", tracker.TypeNonBlock)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCompositeDirectory_UntrackedRemoteFile(t *testing.T) {
	local, err := directory.OpenFS(t.TempDir())
	require.NoError(t, err)
	store := blobstore.NewMemoryStore()
	data := randomBytes(5000, 4)
	md := putRemote(t, store, "_1.si", data)

	d := NewCompositeDirectory(local, staticSource{"_1.si": md}, transfer.NewManager(store))
	defer d.Close()

	assert.Equal(t, data, readFile(t, d, "_1.si"))
	info, ok := d.FileState("_1.si")
	require.True(t, ok)
	assert.Equal(t, tracker.StateRemoteOnly, info.State)
	assert.Equal(t, tracker.TypeBlock, info.Type)
}

func TestCompositeDirectory_CorruptRemoteFile(t *testing.T) {
	local, err := directory.OpenFS(t.TempDir())
	require.NoError(t, err)
	store := blobstore.NewMemoryStore()
	md := putRemote(t, store, "_2.doc", randomBytes(4096, 5))
	require.True(t, store.Corrupt(md.UploadedName, 1500))

	d := NewCompositeDirectory(local, staticSource{"_2.doc": md}, transfer.NewManager(store))
	defer d.Close()

	in, err := d.OpenInput("_2.doc", directory.IOContextDefault)
	require.NoError(t, err)
	defer in.Close()

	_, err = io.ReadAll(in)
	assert.ErrorIs(t, err, ErrCorruption)
}

func TestCompositeDirectory_ConcurrentClones(t *testing.T) {
	ctx := context.Background()
	d := openTest(t, t.TempDir(), blobstore.NewMemoryStore())

	data := randomBytes(8000, 6)
	writeFile(t, d, "segment_0", data)
	require.NoError(t, d.Flush(ctx, []string{"segment_0"}))

	inputs := make([]directory.IndexInput, 2)
	var wg sync.WaitGroup
	for i := range inputs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in, err := d.OpenInput("segment_0", directory.IOContextDefault)
			assert.NoError(t, err)
			inputs[i] = in
		}()
	}
	wg.Wait()
	require.NotNil(t, inputs[0])
	require.NotNil(t, inputs[1])

	require.NoError(t, inputs[0].Close())

	b, err := io.ReadAll(inputs[1])
	require.NoError(t, err)
	assert.Equal(t, data, b)
	require.NoError(t, inputs[1].Close())
}

func TestCompositeDirectory_ConcurrentFirstOpen(t *testing.T) {
	d := openTest(t, t.TempDir(), blobstore.NewMemoryStore())
	data := randomBytes(2000, 7)
	writeFile(t, d, "_3.tim", data)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in, err := d.OpenInput("_3.tim", directory.IOContextDefault)
			if !assert.NoError(t, err) {
				return
			}
			defer in.Close()
			b, err := io.ReadAll(in)
			assert.NoError(t, err)
			assert.Equal(t, data, b)
		}()
	}
	wg.Wait()

	refs, ok := d.Cache().RefCount(d.Local().Resolve("_3.tim"))
	require.True(t, ok)
	assert.Equal(t, 1, refs, "only one registration pins the entry")
}

func TestCompositeDirectory_DecRefUnderflow(t *testing.T) {
	d := openTest(t, t.TempDir(), blobstore.NewMemoryStore())

	err := d.Cache().DecRef(d.Local().Resolve("missing"))
	assert.ErrorIs(t, err, ErrUnderflow)

	var uerr *UnderflowError
	assert.True(t, errors.As(err, &uerr))
}

func TestCompositeDirectory_EvictionMovesToRemoteOnly(t *testing.T) {
	ctx := context.Background()
	metrics := &BasicMetricsCollector{}
	d := openTest(t, t.TempDir(), blobstore.NewMemoryStore(),
		WithCacheCapacity(4096),
		WithCacheSegments(1),
		WithMetricsCollector(metrics),
	)

	files := map[string][]byte{}
	names := []string{"f0", "f1", "f2", "f3", "f4", "f5"}
	for i, name := range names {
		files[name] = randomBytes(1000, int64(10+i))
		writeFile(t, d, name, files[name])
		require.NoError(t, d.Flush(ctx, []string{name}))
	}

	assert.LessOrEqual(t, d.Cache().Usage(), int64(5000))
	info, _ := d.FileState("f0")
	assert.Equal(t, tracker.StateRemoteOnly, info.State)
	info, _ = d.FileState("f5")
	assert.Equal(t, tracker.StateCache, info.State)
	assert.Positive(t, metrics.GetStats().Evictions)

	assert.Equal(t, files["f0"], readFile(t, d, "f0"))
	info, _ = d.FileState("f0")
	assert.Equal(t, tracker.TypeBlock, info.Type)
	assert.Equal(t, int64(1), metrics.GetStats().BlockOpens)
}

func TestCompositeDirectory_OpenCacheFileWithoutEntry(t *testing.T) {
	ctx := context.Background()
	d := openTest(t, t.TempDir(), blobstore.NewMemoryStore())

	data := randomBytes(3000, 31)
	writeFile(t, d, "a", data)
	require.NoError(t, d.Flush(ctx, []string{"a"}))
	info, ok := d.FileState("a")
	require.True(t, ok)
	require.Equal(t, tracker.StateCache, info.State)

	// Explicit removal does not notify the tracker, so the state stays CACHE.
	require.NoError(t, d.Cache().Remove(info.Path))
	info, _ = d.FileState("a")
	require.Equal(t, tracker.StateCache, info.State)

	assert.Equal(t, data, readFile(t, d, "a"))
	info, _ = d.FileState("a")
	assert.Equal(t, tracker.StateRemoteOnly, info.State)
	assert.Equal(t, tracker.TypeBlock, info.Type)
	assert.Equal(t, data, readFile(t, d, "a"))
}

func TestCompositeDirectory_OpensUnderUploadPressure(t *testing.T) {
	ctx := context.Background()
	d := openTest(t, t.TempDir(), blobstore.NewMemoryStore(),
		WithCacheCapacity(3000),
		WithCacheSegments(1),
	)

	hot := randomBytes(1000, 40)
	writeFile(t, d, "hot", hot)
	require.NoError(t, d.Flush(ctx, []string{"hot"}))

	const numCold = 24
	cold := make([][]byte, numCold)
	for i := range cold {
		cold[i] = randomBytes(1000, int64(50+i))
	}
	coldName := func(i int) string { return "cold_" + string(rune('a'+i)) }

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range cold {
			name := coldName(i)
			out, err := d.CreateOutput(name, directory.IOContextFlush)
			if !assert.NoError(t, err) {
				return
			}
			_, err = out.Write(cold[i])
			assert.NoError(t, err)
			assert.NoError(t, out.Close())
			// Every other file is pinned by an open before its upload.
			if i%2 == 0 {
				in, err := d.OpenInput(name, directory.IOContextDefault)
				if assert.NoError(t, err) {
					assert.NoError(t, in.Close())
				}
			}
			assert.NoError(t, d.Flush(ctx, []string{name}))
		}
	}()
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				in, err := d.OpenInput("hot", directory.IOContextDefault)
				if !assert.NoError(t, err) {
					return
				}
				b, err := io.ReadAll(in)
				assert.NoError(t, err)
				assert.Equal(t, hot, b)
				assert.NoError(t, in.Close())
			}
		}()
	}
	wg.Wait()

	for i := range cold {
		assert.Equal(t, cold[i], readFile(t, d, coldName(i)))
		info, ok := d.FileState(coldName(i))
		require.True(t, ok)
		assert.NotEqual(t, tracker.StateDisk, info.State)
	}
	d.Prune()
	assert.LessOrEqual(t, d.Cache().Usage(), d.Cache().Capacity())
	assert.Zero(t, d.Cache().ActiveUsage())
}

func TestCompositeDirectory_Prune(t *testing.T) {
	ctx := context.Background()
	d := openTest(t, t.TempDir(), blobstore.NewMemoryStore(),
		WithCacheCapacity(4096),
		WithCacheSegments(4),
	)

	names := []string{"p0", "p1", "p2", "p3", "p4", "p5"}
	for i, name := range names {
		writeFile(t, d, name, randomBytes(1000, int64(20+i)))
		in, err := d.OpenInput(name, directory.IOContextDefault)
		require.NoError(t, err)
		require.NoError(t, in.Close())
	}
	// Pinned until uploaded.
	assert.Equal(t, int64(6000), d.Cache().Usage())
	assert.Zero(t, d.Prune())

	require.NoError(t, d.Flush(ctx, names))
	freed := d.Prune()
	assert.Equal(t, int64(2000), freed)
	assert.LessOrEqual(t, d.Cache().Usage(), d.Cache().Capacity())

	for _, name := range names[:2] {
		info, _ := d.FileState(name)
		assert.Equal(t, tracker.StateRemoteOnly, info.State, name)
	}
	for _, name := range names[2:] {
		info, _ := d.FileState(name)
		assert.Equal(t, tracker.StateCache, info.State, name)
	}
}

func TestCompositeDirectory_ResidentSizeLimit(t *testing.T) {
	ctx := context.Background()
	metrics := &BasicMetricsCollector{}
	d := openTest(t, t.TempDir(), blobstore.NewMemoryStore(),
		WithResidentSizeLimit(2048),
		WithMetricsCollector(metrics),
	)

	small, large := randomBytes(1000, 30), randomBytes(5000, 31)
	writeFile(t, d, "small", small)
	writeFile(t, d, "large", large)
	require.NoError(t, d.Flush(ctx, []string{"small", "large"}))

	assert.Equal(t, int64(1000), d.Cache().Usage())
	assert.Equal(t, large, readFile(t, d, "large"))
	assert.Equal(t, small, readFile(t, d, "small"))

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.BlockOpens)
	assert.Equal(t, int64(1), stats.CacheOpens)
}

func TestCompositeDirectory_SwitchToBlockBased(t *testing.T) {
	ctx := context.Background()
	d := openTest(t, t.TempDir(), blobstore.NewMemoryStore())

	data := randomBytes(4000, 40)
	writeFile(t, d, "seg", data)

	// Not uploaded yet: no metadata to read blocks from.
	in, err := d.OpenInput("seg", directory.IOContextDefault)
	require.NoError(t, err)
	require.NoError(t, in.Close())
	assert.ErrorIs(t, d.SwitchToBlockBased("seg"), ErrNotUploaded)

	require.NoError(t, d.Flush(ctx, []string{"seg"}))
	require.NoError(t, d.SwitchToBlockBased("seg"))
	assert.Zero(t, d.Cache().Usage())
	assert.Equal(t, data, readFile(t, d, "seg"))
}

func TestCompositeDirectory_DeleteAndRename(t *testing.T) {
	ctx := context.Background()
	d := openTest(t, t.TempDir(), blobstore.NewMemoryStore())

	writeFile(t, d, "a", randomBytes(100, 50))
	require.NoError(t, d.Flush(ctx, []string{"a"}))
	require.True(t, d.Tracker().IsPresent("a"))

	require.NoError(t, d.DeleteFile("a"))
	assert.False(t, d.Tracker().IsPresent("a"))
	assert.Zero(t, d.Cache().Len())

	data := randomBytes(200, 51)
	writeFile(t, d, "b.tmp", data)
	_, err := d.OpenInput("b.tmp", directory.IOContextDefault)
	require.NoError(t, err)
	require.True(t, d.Tracker().IsPresent("b.tmp"))

	require.NoError(t, d.Rename("b.tmp", "b"))
	assert.False(t, d.Tracker().IsPresent("b.tmp"))
	assert.Equal(t, data, readFile(t, d, "b"))

	names, err := d.ListAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, names)
}

func TestCompositeDirectory_DeleteKeepsRemoteCopy(t *testing.T) {
	ctx := context.Background()
	d := openTest(t, t.TempDir(), blobstore.NewMemoryStore())

	data := randomBytes(1500, 52)
	writeFile(t, d, "a", data)
	require.NoError(t, d.Flush(ctx, []string{"a"}))
	require.NoError(t, d.DeleteFile("a"))

	assert.Equal(t, data, readFile(t, d, "a"))
	info, ok := d.FileState("a")
	require.True(t, ok)
	assert.Equal(t, tracker.StateRemoteOnly, info.State)

	store, ok := d.remote.(*remote.SegmentStore)
	require.True(t, ok)
	require.NoError(t, store.Delete(ctx, "a"))
	require.ErrorIs(t, d.DeleteFile("a"), os.ErrNotExist)

	_, err := d.OpenInput("a", directory.IOContextDefault)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCompositeDirectory_InvalidateLogsUnderflow(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	d := openTest(t, t.TempDir(), blobstore.NewMemoryStore(), WithLogger(logger))

	writeFile(t, d, "a", randomBytes(100, 53))
	in, err := d.OpenInput("a", directory.IOContextDefault)
	require.NoError(t, err)
	require.NoError(t, in.Close())
	info, _ := d.FileState("a")
	require.Equal(t, tracker.StateDisk, info.State)

	// Drop the pin behind the directory's back.
	require.NoError(t, d.Cache().DecRef(info.Path))
	require.NoError(t, d.DeleteFile("a"))

	assert.Contains(t, buf.String(), "releasing pinned cache entry failed")
	assert.False(t, d.Cache().Contains(info.Path))
}

func TestCompositeDirectory_Errors(t *testing.T) {
	ctx := context.Background()
	d := openTest(t, t.TempDir(), blobstore.NewMemoryStore())

	t.Run("open missing", func(t *testing.T) {
		_, err := d.OpenInput("nope", directory.IOContextDefault)
		assert.ErrorIs(t, err, os.ErrNotExist)
		assert.False(t, d.Tracker().IsPresent("nope"))
	})

	t.Run("after upload without upload", func(t *testing.T) {
		writeFile(t, d, "local", []byte("x"))
		err := d.AfterUpload(ctx, []string{"local"})
		assert.ErrorIs(t, err, ErrNotUploaded)
	})

	t.Run("delete missing", func(t *testing.T) {
		err := d.DeleteFile("nope")
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("flush without uploader", func(t *testing.T) {
		local, err := directory.OpenFS(t.TempDir())
		require.NoError(t, err)
		other := NewCompositeDirectory(local, staticSource{}, transfer.NewManager(blobstore.NewMemoryStore()))
		defer other.Close()
		assert.ErrorIs(t, other.Flush(ctx, nil), ErrNoUploader)
	})
}

func TestCompositeDirectory_Recover(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir()
	store := blobstore.NewMemoryStore()

	first, err := Open(ctx, path, store, WithBlockSize(testBlockSize))
	require.NoError(t, err)

	kept, lost, fresh := randomBytes(3000, 60), randomBytes(3000, 61), randomBytes(100, 62)
	writeFile(t, first, "kept", kept)
	writeFile(t, first, "lost", lost)
	require.NoError(t, first.Flush(ctx, []string{"kept", "lost"}))
	writeFile(t, first, "fresh", fresh)
	require.NoError(t, first.Close())

	require.NoError(t, os.Remove(filepath.Join(path, "lost")))

	d, err := Open(ctx, path, store, WithBlockSize(testBlockSize), WithoutRecovery())
	require.NoError(t, err)
	defer d.Close()

	stats, err := d.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, RecoveryStats{Cached: 1, RemoteOnly: 1, LocalOnly: 1}, stats)

	info, ok := d.FileState("kept")
	require.True(t, ok)
	assert.Equal(t, tracker.StateCache, info.State)
	info, ok = d.FileState("lost")
	require.True(t, ok)
	assert.Equal(t, tracker.StateRemoteOnly, info.State)
	assert.False(t, d.Tracker().IsPresent("fresh"))

	assert.Equal(t, kept, readFile(t, d, "kept"))
	assert.Equal(t, lost, readFile(t, d, "lost"))
	assert.Equal(t, fresh, readFile(t, d, "fresh"))

	info, _ = d.FileState("fresh")
	assert.Equal(t, tracker.StateDisk, info.State)

	// A second pass leaves tracked files alone.
	stats, err = d.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, RecoveryStats{LocalOnly: 1}, stats)
}

func TestCompositeDirectory_SkewedConcurrentReads(t *testing.T) {
	ctx := context.Background()
	d := openTest(t, t.TempDir(), blobstore.NewMemoryStore(),
		WithCacheCapacity(8000),
		WithCacheSegments(2),
	)

	const numFiles = 12
	files := make([][]byte, numFiles)
	names := make([]string, numFiles)
	for i := range files {
		names[i] = "_" + string(rune('a'+i)) + ".cfs"
		files[i] = randomBytes(2000+i*100, int64(100+i))
		writeFile(t, d, names[i], files[i])
	}
	require.NoError(t, d.Flush(ctx, names))

	rng := testutil.NewRNG(42)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				i := rng.Zipf(numFiles, 1.2)
				in, err := d.OpenInput(names[i], directory.IOContextDefault)
				if !assert.NoError(t, err) {
					return
				}
				b, err := io.ReadAll(in)
				assert.NoError(t, err)
				assert.Equal(t, files[i], b)
				assert.NoError(t, in.Close())
			}
		}()
	}
	wg.Wait()

	d.Prune()
	assert.LessOrEqual(t, d.Cache().Usage(), d.Cache().Capacity())
	assert.Zero(t, d.Cache().ActiveUsage())
}
