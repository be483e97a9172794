package tierstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/tierstore/blobstore"
	"github.com/hupe1980/tierstore/directory"
	"github.com/hupe1980/tierstore/filecache"
	"github.com/hupe1980/tierstore/internal/cache"
	"github.com/hupe1980/tierstore/internal/resource"
	"github.com/hupe1980/tierstore/remote"
	"github.com/hupe1980/tierstore/tracker"
	"github.com/hupe1980/tierstore/transfer"
)

// Open opens a composite directory rooted at localPath over store. It loads
// the remote manifest and, unless WithoutRecovery is given, rebuilds
// tracking state from the local files and the manifest.
//
// Example:
//
//	store := blobstore.NewLocalStore("/var/lib/remote")
//	dir, err := tierstore.Open(ctx, "/var/lib/index", store,
//	    tierstore.WithCacheCapacity(1<<30),
//	    tierstore.WithResidentSizeLimit(64<<20),
//	)
func Open(ctx context.Context, localPath string, store blobstore.BlobStore, opts ...Option) (*CompositeDirectory, error) {
	o := applyOptions(opts)

	local, err := directory.OpenFS(localPath, directory.WithLogger(o.logger.Logger))
	if err != nil {
		return nil, err
	}

	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:     o.memoryLimit,
		MaxConcurrentFetches: o.maxFetches,
		IOLimitBytesPerSec:   o.ioLimit,
	})

	segOpts := []remote.Option{
		remote.WithBlockSize(o.blockSize),
		remote.WithResourceController(rc),
		remote.WithLogger(o.logger.Logger),
	}
	if o.codec != nil {
		segOpts = append(segOpts, remote.WithCodec(o.codec))
	}
	if o.compression != nil {
		segOpts = append(segOpts, remote.WithCompression(o.compression))
	}
	if o.uploadConcurrency > 0 {
		segOpts = append(segOpts, remote.WithUploadConcurrency(o.uploadConcurrency))
	}
	segments := remote.NewSegmentStore(store, segOpts...)
	if err := segments.Init(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("load manifest: %w", err), local.Close())
	}

	var blocks cache.BlockCache = cache.NewShardedLRUBlockCache(o.blockCache, rc)
	if o.blockCacheDir != "" {
		disk, err := cache.NewDiskBlockCache(cache.DiskCacheConfig{
			RootDir:      o.blockCacheDir,
			MaxSizeBytes: o.blockCacheDisk,
		})
		if err != nil {
			return nil, errors.Join(fmt.Errorf("open block cache: %w", err), local.Close())
		}
		blocks = cache.NewTieredBlockCache(blocks, disk)
	}

	tmOpts := []transfer.Option{
		transfer.WithBlockSize(int64(o.blockSize)),
		transfer.WithBlockCache(blocks),
		transfer.WithFetchConcurrency(o.fetchConcurrency),
		transfer.WithResourceController(rc),
		transfer.WithLogger(o.logger.Logger),
		transfer.WithFetchObserver(func(e transfer.FetchEvent) {
			o.metrics.RecordFetch(e.Bytes, e.Duration, e.Err)
		}),
	}
	if o.fetchTimeout > 0 {
		tmOpts = append(tmOpts, transfer.WithFetchTimeout(o.fetchTimeout))
	}
	if o.tracer != nil {
		tmOpts = append(tmOpts, transfer.WithTracer(o.tracer))
	}
	tm := transfer.NewManager(store, tmOpts...)

	d := NewCompositeDirectory(local, segments, tm, opts...)
	if !o.skipRecovery {
		if _, err := d.Recover(ctx); err != nil {
			return nil, errors.Join(err, d.Close())
		}
	}
	return d, nil
}

// RecoveryStats counts the files Recover classified.
type RecoveryStats struct {
	// Cached files are local and uploaded; they are cached unpinned.
	Cached int
	// RemoteOnly files are uploaded but not on local disk.
	RemoteOnly int
	// LocalOnly files are local but not uploaded; they stay untracked until
	// first opened.
	LocalOnly int
}

// Recover rebuilds tracking state after a restart: uploaded files present
// locally become CACHE, uploaded files missing locally become REMOTE_ONLY,
// and local files never uploaded stay untracked. Names already tracked are
// left alone.
func (d *CompositeDirectory) Recover(ctx context.Context) (stats RecoveryStats, err error) {
	defer func() { d.logger.LogRecovery(ctx, stats, err) }()

	names, err := d.local.ListAll()
	if err != nil {
		return stats, err
	}
	local := make(map[string]struct{}, len(names))
	for _, name := range names {
		local[name] = struct{}{}
	}

	uploaded := d.remote.SegmentsUploaded()
	for name, md := range uploaded {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if d.tracker.IsPresent(name) {
			continue
		}
		key := d.key(name)
		info := tracker.FileTrackingInfo{
			FileName: name,
			Type:     tracker.TypeNonBlock,
			Path:     key,
			Metadata: &md,
		}

		if _, ok := local[name]; ok {
			if n, err := d.local.FileLength(name); err == nil && n == md.Length {
				in, err := d.local.OpenInput(name, directory.IOContextDefault)
				if err != nil {
					return stats, err
				}
				d.cache.Put(key, filecache.NewSwitchableCachedIndexInput(in, d.blockOpener(name)))
				if err := d.cache.DecRef(key); err != nil {
					return stats, err
				}
				info.State = tracker.StateCache
				if _, _, err := d.tracker.Track(info); err != nil {
					return stats, err
				}
				stats.Cached++
				continue
			}
			d.logger.Warn("local file differs from uploaded copy, serving remote", "file", name)
		}

		info.State = tracker.StateRemoteOnly
		if _, _, err := d.tracker.Track(info); err != nil {
			return stats, err
		}
		stats.RemoteOnly++
	}

	for name := range local {
		if _, ok := uploaded[name]; !ok {
			stats.LocalOnly++
		}
	}
	return stats, nil
}
