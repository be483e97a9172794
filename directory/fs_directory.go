package directory

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/hupe1980/tierstore/internal/fs"
	"github.com/hupe1980/tierstore/internal/mmap"
)

// FSOption configures an FSDirectory.
type FSOption func(*fsOptions)

type fsOptions struct {
	fs     fs.FileSystem
	logger *slog.Logger
}

// WithFileSystem replaces the local file system, e.g. with a fault injector.
func WithFileSystem(fsys fs.FileSystem) FSOption {
	return func(o *fsOptions) {
		if fsys != nil {
			o.fs = fsys
		}
	}
}

// WithLogger sets the logger. Nil discards.
func WithLogger(l *slog.Logger) FSOption {
	return func(o *fsOptions) {
		o.logger = l
	}
}

// FSDirectory stores files in one local directory and serves reads
// through memory maps.
type FSDirectory struct {
	root   string
	fs     fs.FileSystem
	logger *slog.Logger
	closed atomic.Bool

	mu             sync.Mutex
	pendingDeletes map[string]struct{}
	locks          map[string]struct{}
}

var (
	_ Directory = (*FSDirectory)(nil)
	_ Resolver  = (*FSDirectory)(nil)
)

// OpenFS opens (creating if needed) the directory at root.
func OpenFS(root string, opts ...FSOption) (*FSDirectory, error) {
	o := fsOptions{fs: fs.Default}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := o.fs.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}

	return &FSDirectory{
		root:           abs,
		fs:             o.fs,
		logger:         o.logger,
		pendingDeletes: make(map[string]struct{}),
		locks:          make(map[string]struct{}),
	}, nil
}

// Root returns the absolute directory path.
func (d *FSDirectory) Root() string { return d.root }

// Resolve returns the absolute path of name.
func (d *FSDirectory) Resolve(name string) string {
	return filepath.Join(d.root, name)
}

func (d *FSDirectory) ensureOpen() error {
	if d.closed.Load() {
		return ErrAlreadyClosed
	}
	return nil
}

// ListAll returns the sorted names of all regular files, excluding files
// whose deletion is still pending.
func (d *FSDirectory) ListAll() ([]string, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	entries, err := d.fs.ReadDir(d.root)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if _, pending := d.pendingDeletes[e.Name()]; pending {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}

func (d *FSDirectory) FileLength(name string) (int64, error) {
	if err := d.ensureOpen(); err != nil {
		return 0, err
	}
	if d.isPendingDelete(name) {
		return 0, &os.PathError{Op: "stat", Path: d.Resolve(name), Err: os.ErrNotExist}
	}
	fi, err := d.fs.Stat(d.Resolve(name))
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// DeleteFile removes name. A file that exists but cannot be removed yet
// (e.g. still open on Windows) is recorded as a pending deletion and
// retried by later write operations.
func (d *FSDirectory) DeleteFile(name string) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	if d.isPendingDelete(name) {
		return &os.PathError{Op: "remove", Path: d.Resolve(name), Err: os.ErrNotExist}
	}
	return d.deleteFile(name, false)
}

func (d *FSDirectory) deleteFile(name string, retry bool) error {
	err := d.fs.Remove(d.Resolve(name))
	switch {
	case err == nil:
		d.mu.Lock()
		delete(d.pendingDeletes, name)
		d.mu.Unlock()
		return nil
	case errors.Is(err, os.ErrNotExist):
		d.mu.Lock()
		delete(d.pendingDeletes, name)
		d.mu.Unlock()
		if retry {
			return nil
		}
		return err
	default:
		d.mu.Lock()
		d.pendingDeletes[name] = struct{}{}
		d.mu.Unlock()
		d.logger.Warn("file deletion deferred", "name", name, "error", err)
		return nil
	}
}

func (d *FSDirectory) isPendingDelete(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pendingDeletes[name]
	return ok
}

func (d *FSDirectory) deletePendingFiles() {
	for _, name := range d.PendingDeletions() {
		_ = d.deleteFile(name, true)
	}
}

// PendingDeletions returns the sorted names still waiting to be removed.
func (d *FSDirectory) PendingDeletions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.pendingDeletes))
	for name := range d.pendingDeletes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// CreateOutput creates a new file. It fails with os.ErrExist if name exists.
func (d *FSDirectory) CreateOutput(name string, _ IOContext) (IndexOutput, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	d.deletePendingFiles()
	if d.isPendingDelete(name) {
		return nil, &os.PathError{Op: "create", Path: d.Resolve(name), Err: os.ErrExist}
	}
	f, err := d.fs.OpenFile(d.Resolve(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return newFSOutput(name, f), nil
}

// CreateTempOutput creates a file named prefix_suffix_<random>.tmp.
func (d *FSDirectory) CreateTempOutput(prefix, suffix string, ctx IOContext) (IndexOutput, error) {
	for {
		id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		out, err := d.CreateOutput(fmt.Sprintf("%s_%s_%s.tmp", prefix, suffix, id), ctx)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		return out, err
	}
}

// Sync fsyncs the named files.
func (d *FSDirectory) Sync(names []string) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	d.deletePendingFiles()
	for _, name := range names {
		if err := d.fsync(d.Resolve(name)); err != nil {
			return err
		}
	}
	return nil
}

// SyncMetaData fsyncs the directory itself so renames and creations are
// durable. Platforms that cannot sync directories are ignored.
func (d *FSDirectory) SyncMetaData() error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	err := d.fsync(d.root)
	if err != nil && !errors.Is(err, os.ErrPermission) && !errors.Is(err, os.ErrInvalid) {
		return err
	}
	return nil
}

func (d *FSDirectory) fsync(path string) error {
	f, err := d.fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	return errors.Join(f.Sync(), f.Close())
}

func (d *FSDirectory) Rename(source, dest string) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	d.deletePendingFiles()
	if d.isPendingDelete(source) {
		return &os.LinkError{Op: "rename", Old: d.Resolve(source), New: d.Resolve(dest), Err: os.ErrNotExist}
	}
	if err := d.fs.Rename(d.Resolve(source), d.Resolve(dest)); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.pendingDeletes, dest)
	d.mu.Unlock()
	return nil
}

// OpenInput maps name into memory. Clones of the returned handle share the
// mapping, which is released once the handle and all clones are closed.
func (d *FSDirectory) OpenInput(name string, ctx IOContext) (IndexInput, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	if d.isPendingDelete(name) {
		return nil, &os.PathError{Op: "open", Path: d.Resolve(name), Err: os.ErrNotExist}
	}

	path := d.Resolve(name)
	// Opening through the file system first surfaces local errors (and
	// injected faults) exactly as the file system reports them.
	f, err := d.fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	m, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	pattern := mmap.AccessRandom
	if ctx == IOContextReadOnce || ctx == IOContextMerge {
		pattern = mmap.AccessSequential
	}
	if err := m.Advise(pattern); err != nil {
		d.logger.Debug("madvise failed", "name", name, "error", err)
	}
	return newMappedInput(name, m), nil
}

// ObtainLock acquires an exclusive lock backed by the file name. The lock is
// exclusive within the process and, where supported, across processes.
func (d *FSDirectory) ObtainLock(name string) (Lock, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	path := d.Resolve(name)

	d.mu.Lock()
	if _, held := d.locks[path]; held {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %s held by this process", ErrLockObtainFailed, name)
	}
	d.locks[path] = struct{}{}
	d.mu.Unlock()

	unregister := func() {
		d.mu.Lock()
		delete(d.locks, path)
		d.mu.Unlock()
	}

	f, err := d.fs.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		unregister()
		return nil, err
	}
	if err := lockFile(f.Fd()); err != nil {
		_ = f.Close()
		unregister()
		return nil, fmt.Errorf("%w: %s: %w", ErrLockObtainFailed, name, err)
	}
	return &fsLock{dir: d, path: path, f: f, unregister: unregister}, nil
}

// Close marks the directory closed. Open inputs stay readable.
func (d *FSDirectory) Close() error {
	d.closed.Store(true)
	return nil
}

type fsLock struct {
	dir        *FSDirectory
	path       string
	f          fs.File
	unregister func()
	closed     atomic.Bool
}

func (l *fsLock) EnsureValid() error {
	if l.closed.Load() {
		return fmt.Errorf("%w: lock released", ErrAlreadyClosed)
	}
	if _, err := l.dir.fs.Stat(l.path); err != nil {
		return fmt.Errorf("%w: lock file lost: %w", ErrLockObtainFailed, err)
	}
	return nil
}

func (l *fsLock) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	defer l.unregister()
	return errors.Join(unlockFile(l.f.Fd()), l.f.Close())
}
