package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/tierstore/blobstore"
	"github.com/hupe1980/tierstore/internal/cache"
	"github.com/hupe1980/tierstore/internal/hash"
	"github.com/hupe1980/tierstore/remote"
)

// Manager fetches block-aligned byte ranges of uploaded files.
type Manager struct {
	store blobstore.BlobStore
	opts  options
	cache cache.BlockCache

	group     singleflight.Group
	blobs     sync.Map // uploaded name -> blobstore.Blob
	residency sync.Map // uploaded name -> *residency
	closed    atomic.Bool

	fetches         atomic.Int64
	fetchedBytes    atomic.Int64
	blockHits       atomic.Int64
	blockMisses     atomic.Int64
	corruptions     atomic.Int64
	transportErrors atomic.Int64
}

type residency struct {
	mu    sync.Mutex
	bm    *roaring.Bitmap
	total uint64
}

// Stats is a snapshot of Manager counters.
type Stats struct {
	Fetches         int64
	FetchedBytes    int64
	BlockHits       int64
	BlockMisses     int64
	Corruptions     int64
	TransportErrors int64
	BlockCache      cache.Stats
}

// blockRun is the half-open block range [start, end).
type blockRun struct {
	start, end int64
}

// NewManager returns a Manager reading from store.
func NewManager(store blobstore.BlobStore, opts ...Option) *Manager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	bc := o.blockCache
	if bc == nil {
		bc = cache.NewShardedLRUBlockCache(DefaultBlockCacheBytes, o.rc)
	}
	return &Manager{store: store, opts: o, cache: bc}
}

func (m *Manager) blockSize(md *remote.UploadedSegmentMetadata) int64 {
	if md.BlockSize > 0 {
		return int64(md.BlockSize)
	}
	return m.opts.blockSize
}

func blockKey(md *remote.UploadedSegmentMetadata, idx int64) cache.BlockKey {
	return cache.BlockKey{File: md.UploadedName, Block: uint64(idx)}
}

// FetchRange returns length bytes at off of the file described by md.
//
// Failures are either *TransportError (the store, network, a timeout or
// ctx) or *CorruptionError. Requests outside the file fail with
// ErrOutOfRange.
func (m *Manager) FetchRange(ctx context.Context, md *remote.UploadedSegmentMetadata, off, length int64) ([]byte, error) {
	return m.fetch(ctx, md, off, length, true)
}

// FetchBlock returns block idx of the file.
func (m *Manager) FetchBlock(ctx context.Context, md *remote.UploadedSegmentMetadata, idx int64) ([]byte, error) {
	bs := m.blockSize(md)
	off := idx * bs
	if idx < 0 || off >= md.Length {
		return nil, fmt.Errorf("%w: block %d of %s", ErrOutOfRange, idx, md.OriginalName)
	}
	return m.fetch(ctx, md, off, min(bs, md.Length-off), true)
}

func (m *Manager) fetch(ctx context.Context, md *remote.UploadedSegmentMetadata, off, length int64, cacheBlocks bool) ([]byte, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if md == nil {
		return nil, errors.New("transfer: nil metadata")
	}
	if off < 0 || length < 0 || off+length > md.Length {
		return nil, fmt.Errorf("%w: [%d, %d) of %s (%d bytes)", ErrOutOfRange, off, off+length, md.OriginalName, md.Length)
	}
	if length == 0 {
		return []byte{}, nil
	}

	if m.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.timeout)
		defer cancel()
	}
	ctx, span := m.opts.tracer.Start(ctx, "transfer.FetchRange", trace.WithAttributes(
		attribute.String("tierstore.file", md.OriginalName),
		attribute.Int64("tierstore.offset", off),
		attribute.Int64("tierstore.length", length),
	))
	defer span.End()

	bs := m.blockSize(md)
	first, last := off/bs, (off+length-1)/bs
	blocks := make([][]byte, last-first+1)

	var runs []blockRun
	for idx := first; idx <= last; idx++ {
		if b, ok := m.cache.Get(ctx, blockKey(md, idx)); ok && int64(len(b)) == m.blockLen(md, idx) {
			blocks[idx-first] = b
			m.blockHits.Add(1)
			continue
		}
		m.blockMisses.Add(1)
		if n := len(runs); n > 0 && runs[n-1].end == idx {
			runs[n-1].end++
		} else {
			runs = append(runs, blockRun{start: idx, end: idx + 1})
		}
	}
	span.SetAttributes(attribute.Int("tierstore.runs", len(runs)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.concurrency)
	for _, r := range runs {
		g.Go(func() error {
			fetched, err := m.fetchRun(gctx, md, r, cacheBlocks)
			if err != nil {
				return err
			}
			copy(blocks[r.start-first:], fetched)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := make([]byte, length)
	n := 0
	for i, b := range blocks {
		start := (first + int64(i)) * bs
		from := max(off-start, 0)
		to := min(off+length-start, int64(len(b)))
		n += copy(out[n:], b[from:to])
	}

	// A zero checksum means the whole-file checksum is unknown.
	if off == 0 && length == md.Length && md.Checksum != 0 {
		if sum := hash.CRC32C(out); sum != md.Checksum {
			m.corruptions.Add(1)
			m.Forget(md.UploadedName)
			err := &CorruptionError{Name: md.OriginalName, Block: -1, Expected: md.Checksum, Actual: sum}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}
	return out, nil
}

func (m *Manager) blockLen(md *remote.UploadedSegmentMetadata, idx int64) int64 {
	bs := m.blockSize(md)
	return min(bs, md.Length-idx*bs)
}

// fetchRun reads one run, sharing the read with concurrent callers asking
// for the same run.
func (m *Manager) fetchRun(ctx context.Context, md *remote.UploadedSegmentMetadata, r blockRun, cacheBlocks bool) ([][]byte, error) {
	key := fmt.Sprintf("%s:%d-%d:%t", md.UploadedName, r.start, r.end, cacheBlocks)
	for {
		ch := m.group.DoChan(key, func() (any, error) {
			return m.readRun(ctx, md, r, cacheBlocks)
		})
		select {
		case <-ctx.Done():
			return nil, m.transportError(md, r, ctx.Err())
		case res := <-ch:
			if res.Err == nil {
				return res.Val.([][]byte), nil
			}
			// The leader gave up; retry with our own context.
			if res.Shared && ctx.Err() == nil && isContextError(res.Err) {
				continue
			}
			return nil, res.Err
		}
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (m *Manager) transportError(md *remote.UploadedSegmentMetadata, r blockRun, err error) error {
	m.transportErrors.Add(1)
	bs := m.blockSize(md)
	off := r.start * bs
	return &TransportError{Name: md.OriginalName, Offset: off, Length: min(r.end*bs, md.Length) - off, Err: err}
}

func (m *Manager) readRun(ctx context.Context, md *remote.UploadedSegmentMetadata, r blockRun, cacheBlocks bool) (_ [][]byte, err error) {
	bs := m.blockSize(md)
	off := r.start * bs
	n := min(r.end*bs, md.Length) - off

	began := time.Now()
	defer func() {
		ev := FetchEvent{Name: md.OriginalName, Bytes: n, Blocks: int(r.end - r.start), Duration: time.Since(began), Err: err}
		for _, fn := range m.opts.observers {
			fn(ev)
		}
	}()

	if err := m.opts.rc.AcquireFetch(ctx); err != nil {
		return nil, m.transportError(md, r, err)
	}
	defer m.opts.rc.ReleaseFetch()
	if err := m.opts.rc.AcquireIO(ctx, int(n)); err != nil {
		return nil, m.transportError(md, r, err)
	}

	blob, err := m.blob(ctx, md.UploadedName)
	if err != nil {
		return nil, m.transportError(md, r, err)
	}
	rd, err := blob.ReadRange(ctx, off, n)
	if err != nil {
		return nil, m.transportError(md, r, err)
	}
	buf := make([]byte, n)
	_, err = io.ReadFull(rd, buf)
	if cerr := rd.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, m.transportError(md, r, err)
	}
	m.fetches.Add(1)
	m.fetchedBytes.Add(n)

	blocks := make([][]byte, 0, r.end-r.start)
	for i := int64(0); i < n; i += bs {
		blocks = append(blocks, buf[i:min(i+bs, n):min(i+bs, n)])
	}

	if md.Verifiable() {
		for i, b := range blocks {
			idx := r.start + int64(i)
			if got, want := hash.CRC32C(b), md.BlockChecksums[idx]; got != want {
				m.corruptions.Add(1)
				m.opts.logger.Error("block checksum mismatch", "file", md.OriginalName, "block", idx)
				return nil, &CorruptionError{Name: md.OriginalName, Block: idx, Expected: want, Actual: got}
			}
		}
	}

	if cacheBlocks {
		for i, b := range blocks {
			m.cache.Set(ctx, blockKey(md, r.start+int64(i)), b)
		}
		m.markFetched(md, r)
	}
	return blocks, nil
}

// blob returns a shared open handle of name.
func (m *Manager) blob(ctx context.Context, name string) (blobstore.Blob, error) {
	if b, ok := m.blobs.Load(name); ok {
		return b.(blobstore.Blob), nil
	}
	v, err, _ := m.group.Do("open:"+name, func() (any, error) {
		if b, ok := m.blobs.Load(name); ok {
			return b, nil
		}
		b, err := m.store.Open(ctx, name)
		if err != nil {
			return nil, err
		}
		m.blobs.Store(name, b)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(blobstore.Blob), nil
}

func (m *Manager) markFetched(md *remote.UploadedSegmentMetadata, r blockRun) {
	v, _ := m.residency.LoadOrStore(md.UploadedName, &residency{
		bm:    roaring.New(),
		total: uint64(md.NumBlocks(int(m.blockSize(md)))),
	})
	res := v.(*residency)
	res.mu.Lock()
	res.bm.AddRange(uint64(r.start), uint64(r.end))
	res.mu.Unlock()
}

// Residency reports how many blocks of an uploaded file were fetched and
// cached, and how many blocks the file has.
func (m *Manager) Residency(uploadedName string) (fetched, total uint64) {
	v, ok := m.residency.Load(uploadedName)
	if !ok {
		return 0, 0
	}
	res := v.(*residency)
	res.mu.Lock()
	defer res.mu.Unlock()
	return res.bm.GetCardinality(), res.total
}

// Forget drops every cached block and the open handle of an uploaded file.
func (m *Manager) Forget(uploadedName string) {
	m.cache.Invalidate(cache.ForFile(uploadedName))
	m.residency.Delete(uploadedName)
	if b, ok := m.blobs.LoadAndDelete(uploadedName); ok {
		_ = b.(blobstore.Blob).Close()
	}
}

func (m *Manager) Stats() Stats {
	return Stats{
		Fetches:         m.fetches.Load(),
		FetchedBytes:    m.fetchedBytes.Load(),
		BlockHits:       m.blockHits.Load(),
		BlockMisses:     m.blockMisses.Load(),
		Corruptions:     m.corruptions.Load(),
		TransportErrors: m.transportErrors.Load(),
		BlockCache:      m.cache.Stats(),
	}
}

// Close releases open blob handles and the block cache.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	var errs []error
	m.blobs.Range(func(k, v any) bool {
		errs = append(errs, v.(blobstore.Blob).Close())
		m.blobs.Delete(k)
		return true
	})
	errs = append(errs, m.cache.Close())
	return errors.Join(errs...)
}
