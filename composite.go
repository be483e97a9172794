package tierstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/tierstore/directory"
	"github.com/hupe1980/tierstore/filecache"
	"github.com/hupe1980/tierstore/remote"
	"github.com/hupe1980/tierstore/tracker"
	"github.com/hupe1980/tierstore/transfer"
)

// maxOpenAttempts bounds retries of a cache hit whose handle was replaced
// or closed between lookup and clone.
const maxOpenAttempts = 8

// LocalDirectory is a Directory that can map a file name to its absolute path.
type LocalDirectory interface {
	directory.Directory
	directory.Resolver
}

// SegmentMetadataSource reports the files known to be in the remote store.
type SegmentMetadataSource interface {
	SegmentsUploaded() map[string]remote.UploadedSegmentMetadata
}

var _ directory.Directory = (*CompositeDirectory)(nil)

// CompositeDirectory serves index files from local disk, a reference-counted
// file cache, and block-wise from a remote store. Writes always go to disk.
type CompositeDirectory struct {
	local    LocalDirectory
	remote   SegmentMetadataSource
	transfer *transfer.Manager
	cache    *filecache.FileCache
	tracker  *tracker.Tracker

	// registering collapses concurrent first registrations of one name.
	registering singleflight.Group

	opts    options
	logger  *Logger
	metrics MetricsCollector
}

// NewCompositeDirectory composes local, remote and the transfer manager.
// The file cache and tracker are created here and owned by the directory.
func NewCompositeDirectory(local LocalDirectory, src SegmentMetadataSource, tm *transfer.Manager, opts ...Option) *CompositeDirectory {
	o := applyOptions(opts)
	d := &CompositeDirectory{
		local:    local,
		remote:   src,
		transfer: tm,
		tracker:  tracker.New(),
		opts:     o,
		logger:   o.logger,
		metrics:  o.metrics,
	}
	d.cache = filecache.New(o.cacheCapacity,
		filecache.WithSegments(o.cacheSegments),
		filecache.WithLogger(o.logger.Logger),
		filecache.WithRemovalListener(d.onRemoval),
	)
	return d
}

// Tracker returns the file tracker.
func (d *CompositeDirectory) Tracker() *tracker.Tracker { return d.tracker }

// Cache returns the file cache.
func (d *CompositeDirectory) Cache() *filecache.FileCache { return d.cache }

// Transfer returns the transfer manager.
func (d *CompositeDirectory) Transfer() *transfer.Manager { return d.transfer }

// Local returns the local directory.
func (d *CompositeDirectory) Local() LocalDirectory { return d.local }

// FileState returns the tracking info of name.
func (d *CompositeDirectory) FileState(name string) (tracker.FileTrackingInfo, bool) {
	return d.tracker.Get(name)
}

func (d *CompositeDirectory) key(name string) string { return d.local.Resolve(name) }

func (d *CompositeDirectory) ListAll() ([]string, error) { return d.local.ListAll() }

func (d *CompositeDirectory) FileLength(name string) (int64, error) { return d.local.FileLength(name) }

func (d *CompositeDirectory) CreateOutput(name string, ctx directory.IOContext) (directory.IndexOutput, error) {
	return d.local.CreateOutput(name, ctx)
}

func (d *CompositeDirectory) CreateTempOutput(prefix, suffix string, ctx directory.IOContext) (directory.IndexOutput, error) {
	return d.local.CreateTempOutput(prefix, suffix, ctx)
}

func (d *CompositeDirectory) Sync(names []string) error { return d.local.Sync(names) }

func (d *CompositeDirectory) SyncMetaData() error { return d.local.SyncMetaData() }

func (d *CompositeDirectory) PendingDeletions() []string { return d.local.PendingDeletions() }

func (d *CompositeDirectory) ObtainLock(name string) (directory.Lock, error) {
	return d.local.ObtainLock(name)
}

// DeleteFile deletes name from local disk and forgets any cached handle and
// tracking state for it. Local errors are returned unchanged. The remote copy
// is kept: while name stays in the uploaded segments, a later OpenInput
// tracks it again as remote only and reads it from the remote store. Use
// remote.SegmentStore.Delete to drop the uploaded copy.
func (d *CompositeDirectory) DeleteFile(name string) error {
	err := d.local.DeleteFile(name)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		d.invalidate(name)
	}
	d.logger.LogDelete(context.Background(), name, err)
	return err
}

// Rename renames source to dest on local disk and forgets both names.
func (d *CompositeDirectory) Rename(source, dest string) error {
	if err := d.local.Rename(source, dest); err != nil {
		return err
	}
	d.invalidate(source)
	d.invalidate(dest)
	return nil
}

func (d *CompositeDirectory) invalidate(name string) {
	key := d.key(name)
	info, ok := d.tracker.Remove(name)
	if ok && info.State == tracker.StateDisk {
		// Release the pin taken on first open.
		if err := d.cache.DecRef(key); err != nil {
			d.logger.Warn("releasing pinned cache entry failed", "file", name, "error", err)
		}
	}
	if err := d.cache.Remove(key); err != nil {
		d.logger.Warn("cache entry in use, left for eviction", "file", name, "error", err)
	}
	if ok && info.Metadata != nil {
		d.transfer.Forget(info.Metadata.UploadedName)
	}
}

// blockOpener builds the block-based replacement of a resident handle from
// the metadata tracked at switch time.
func (d *CompositeDirectory) blockOpener(name string) filecache.BlockOpener {
	return func() (directory.IndexInput, error) {
		info, ok := d.tracker.Get(name)
		if !ok || info.Metadata == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotUploaded, name)
		}
		return transfer.NewBlockIndexInput(d.transfer, info.Metadata, false), nil
	}
}

// AfterUpload registers files that were just uploaded to the remote store.
// Files still pinned from their first local open are released; files never
// opened get an evictable cache entry. Metadata is recorded either way.
func (d *CompositeDirectory) AfterUpload(ctx context.Context, names []string) (err error) {
	start := time.Now()
	defer func() {
		d.metrics.RecordAfterUpload(len(names), time.Since(start), err)
		d.logger.LogAfterUpload(ctx, len(names), err)
	}()

	uploaded := d.remote.SegmentsUploaded()
	for _, name := range names {
		md, ok := uploaded[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotUploaded, name)
		}
		if err := d.afterUpload(name, &md); err != nil {
			return err
		}
	}
	return nil
}

func (d *CompositeDirectory) afterUpload(name string, md *remote.UploadedSegmentMetadata) error {
	key := d.key(name)
	for {
		info, tracked := d.tracker.Get(name)
		if !tracked {
			if _, err, _ := d.registering.Do(name, func() (any, error) {
				return nil, d.registerUploaded(name, key, md)
			}); err != nil {
				return err
			}
			// Either our registration or a concurrent open won; re-evaluate.
			continue
		}

		if info.State == tracker.StateDisk {
			// The entry must be CACHE before it becomes evictable so the
			// removal listener sees it.
			if _, err := d.tracker.Update(name, func(cur tracker.FileTrackingInfo) (tracker.FileTrackingInfo, error) {
				return cur.WithMetadata(md).WithState(tracker.StateCache), nil
			}); err != nil {
				return err
			}
			if err := d.cache.DecRef(key); err != nil {
				return err
			}
		} else if err := d.tracker.SetMetadata(name, md); err != nil {
			return err
		}
		break
	}

	if d.opts.residentLimit > 0 && md.Length > d.opts.residentLimit {
		if err := d.cache.SwitchToBlockBased(key); err != nil && !errors.Is(err, filecache.ErrNotFound) {
			return err
		}
	}
	return nil
}

func (d *CompositeDirectory) registerUploaded(name, key string, md *remote.UploadedSegmentMetadata) error {
	if d.tracker.IsPresent(name) {
		return nil
	}
	in, err := d.local.OpenInput(name, directory.IOContextDefault)
	if err != nil {
		return err
	}
	d.cache.Put(key, filecache.NewSwitchableCachedIndexInput(in, d.blockOpener(name)))
	_, _, err = d.tracker.Track(tracker.FileTrackingInfo{
		FileName: name,
		State:    tracker.StateCache,
		Type:     tracker.TypeNonBlock,
		Path:     key,
		Metadata: md,
	})
	return errors.Join(err, d.cache.DecRef(key))
}

// registerOpened handles the first open of an untracked name. A local file
// is cached pinned and tracked DISK; a file only present remotely is tracked
// REMOTE_ONLY.
func (d *CompositeDirectory) registerOpened(name, key string, ctx directory.IOContext) error {
	if d.tracker.IsPresent(name) {
		return nil
	}
	in, err := d.local.OpenInput(name, ctx)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		md, ok := d.remote.SegmentsUploaded()[name]
		if !ok {
			return err
		}
		_, _, terr := d.tracker.Track(tracker.FileTrackingInfo{
			FileName: name,
			State:    tracker.StateRemoteOnly,
			Type:     tracker.TypeNonBlock,
			Path:     key,
			Metadata: &md,
		})
		return terr
	}
	d.cache.Put(key, filecache.NewSwitchableCachedIndexInput(in, d.blockOpener(name)))
	_, _, err = d.tracker.Track(tracker.FileTrackingInfo{
		FileName: name,
		State:    tracker.StateDisk,
		Type:     tracker.TypeNonBlock,
		Path:     key,
	})
	return err
}

// OpenInput returns a readable handle for name. A file seen for the first
// time is opened from disk and pinned in the cache until uploaded; a cached
// file is served as a clone of the cached handle; anything else is read
// block-wise from the remote store.
func (d *CompositeDirectory) OpenInput(name string, ctx directory.IOContext) (directory.IndexInput, error) {
	start := time.Now()
	in, kind, err := d.openInput(name, ctx)
	d.metrics.RecordOpen(kind, time.Since(start), err)
	d.logger.LogOpen(context.Background(), name, kind, err)
	if err != nil {
		return nil, err
	}
	return in, nil
}

func (d *CompositeDirectory) openInput(name string, ctx directory.IOContext) (directory.IndexInput, OpenKind, error) {
	key := d.key(name)
	kind := OpenCache
	for attempt := 0; ; attempt++ {
		info, tracked := d.tracker.Get(name)
		if !tracked {
			if _, err, _ := d.registering.Do(name, func() (any, error) {
				return nil, d.registerOpened(name, key, ctx)
			}); err != nil {
				return nil, "", err
			}
			if info, tracked = d.tracker.Get(name); tracked && info.State == tracker.StateDisk {
				kind = OpenLocal
			}
			continue
		}

		if v, ok := d.cache.Get(key); ok {
			in, err := v.IndexInput()
			derr := d.cache.DecRef(key)
			if errors.Is(err, directory.ErrAlreadyClosed) && attempt < maxOpenAttempts {
				continue
			}
			if err != nil {
				return nil, "", err
			}
			if derr != nil {
				_ = in.Close()
				return nil, "", derr
			}
			if sw, ok := v.(*filecache.SwitchableCachedIndexInput); ok && sw.IsBlockBased() {
				kind = OpenBlock
			}
			return in, kind, nil
		}

		in, err := d.openBlock(info, ctx)
		if err != nil {
			return nil, "", err
		}
		return in, OpenBlock, nil
	}
}

func (d *CompositeDirectory) openBlock(info tracker.FileTrackingInfo, ctx directory.IOContext) (directory.IndexInput, error) {
	if info.Metadata == nil {
		return nil, &os.PathError{Op: "open", Path: info.Path, Err: os.ErrNotExist}
	}
	// An entry still marked CACHE was evicted or removed; it is remote only now.
	if _, err := d.tracker.Update(info.FileName, func(cur tracker.FileTrackingInfo) (tracker.FileTrackingInfo, error) {
		return cur.WithState(tracker.StateRemoteOnly).WithType(tracker.TypeBlock), nil
	}); err != nil {
		return nil, err
	}
	return transfer.NewBlockIndexInput(d.transfer, info.Metadata, ctx == directory.IOContextReadOnce), nil
}

// onRemoval moves an evicted CACHE file to REMOTE_ONLY so later opens read
// it block-wise.
func (d *CompositeDirectory) onRemoval(n filecache.RemovalNotification) {
	if n.Reason != filecache.RemovalEvicted {
		return
	}
	d.metrics.RecordEviction(n.Weight)

	name := filepath.Base(n.Key)
	info, ok := d.tracker.Get(name)
	if !ok || info.Path != n.Key || info.State != tracker.StateCache {
		return
	}
	err := d.tracker.UpdateState(name, tracker.StateRemoteOnly)
	d.logger.LogEviction(context.Background(), name, n.Weight, err)
}

// SwitchToBlockBased converts the cached handle of name to block-based reads.
func (d *CompositeDirectory) SwitchToBlockBased(name string) error {
	return d.cache.SwitchToBlockBased(d.key(name))
}

// Prune evicts unreferenced cache entries until usage is within capacity
// and returns the bytes freed.
func (d *CompositeDirectory) Prune() int64 {
	return d.cache.Prune()
}

// Flush syncs names to disk, uploads them and registers the upload.
func (d *CompositeDirectory) Flush(ctx context.Context, names []string) error {
	store, ok := d.remote.(*remote.SegmentStore)
	if !ok {
		return ErrNoUploader
	}
	if err := d.local.Sync(names); err != nil {
		return err
	}
	if err := store.Upload(ctx, d.local, names); err != nil {
		return err
	}
	return d.AfterUpload(ctx, names)
}

// Close closes cached handles, the transfer manager and the local directory.
func (d *CompositeDirectory) Close() error {
	return errors.Join(
		d.cache.Close(),
		d.transfer.Close(),
		d.local.Close(),
	)
}
