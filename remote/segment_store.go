package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/tierstore/blobstore"
	"github.com/hupe1980/tierstore/directory"
	"github.com/hupe1980/tierstore/internal/hash"
	"github.com/hupe1980/tierstore/internal/resource"
)

// SegmentStore uploads files to a blob store and tracks what was uploaded.
type SegmentStore struct {
	store blobstore.BlobStore
	opts  options

	mu       sync.RWMutex
	segments map[string]UploadedSegmentMetadata
	id       uint64

	// saveMu orders manifest writes.
	saveMu sync.Mutex
}

// NewSegmentStore returns a store with no uploaded segments. Call Init to
// load an existing manifest.
func NewSegmentStore(store blobstore.BlobStore, opts ...Option) *SegmentStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &SegmentStore{
		store:    store,
		opts:     o,
		segments: make(map[string]UploadedSegmentMetadata),
	}
}

// Init loads the manifest from the blob store. A missing manifest means no
// segments were uploaded yet.
func (s *SegmentStore) Init(ctx context.Context) error {
	m, err := loadManifest(ctx, s.store)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.segments = m.Segments
	s.id = m.ID
	s.mu.Unlock()

	s.opts.logger.Info("segment manifest loaded", "segments", len(m.Segments), "id", m.ID)
	return nil
}

// BlobStore returns the underlying blob store.
func (s *SegmentStore) BlobStore() blobstore.BlobStore { return s.store }

// BlockSize returns the checksum block size used for uploads.
func (s *SegmentStore) BlockSize() int { return s.opts.blockSize }

// SegmentsUploaded returns a copy of the uploaded segment map.
func (s *SegmentStore) SegmentsUploaded() map[string]UploadedSegmentMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.segments)
}

// Get returns the metadata of one uploaded file.
func (s *SegmentStore) Get(name string) (UploadedSegmentMetadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	md, ok := s.segments[name]
	return md, ok
}

// Upload copies the named files from dir to the blob store and persists the
// manifest. Files that were uploaded before are skipped. When some uploads
// fail, the successful ones are still recorded and the errors are returned.
func (s *SegmentStore) Upload(ctx context.Context, dir directory.Directory, names []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.concurrency)

	var (
		resMu   sync.Mutex
		results []UploadedSegmentMetadata
	)
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if _, ok := s.Get(name); ok {
			s.opts.logger.Debug("segment already uploaded", "name", name)
			continue
		}
		g.Go(func() error {
			md, err := s.uploadFile(gctx, dir, name)
			if err != nil {
				return fmt.Errorf("upload %s: %w", name, err)
			}
			resMu.Lock()
			results = append(results, md)
			resMu.Unlock()
			return nil
		})
	}
	uploadErr := g.Wait()

	if len(results) == 0 {
		return uploadErr
	}

	s.mu.Lock()
	for _, md := range results {
		s.segments[md.OriginalName] = md
	}
	s.mu.Unlock()

	if err := s.persist(ctx); err != nil {
		return errors.Join(uploadErr, err)
	}
	s.opts.logger.Info("segments uploaded", "count", len(results))
	return uploadErr
}

func (s *SegmentStore) uploadFile(ctx context.Context, dir directory.Directory, name string) (UploadedSegmentMetadata, error) {
	in, err := dir.OpenInput(name, directory.IOContextReadOnce)
	if err != nil {
		return UploadedSegmentMetadata{}, err
	}
	defer in.Close()

	uploaded := name + separator + uuid.NewString()
	w, err := s.store.Create(ctx, uploaded)
	if err != nil {
		return UploadedSegmentMetadata{}, err
	}

	h := hash.NewBlockHasher(s.opts.blockSize)
	if _, err := io.Copy(io.MultiWriter(resource.NewWriter(ctx, w, s.opts.rc), h), in); err != nil {
		return UploadedSegmentMetadata{}, errors.Join(err, blobstore.Abort(ctx, w))
	}
	if h.Len() != in.Length() {
		err := fmt.Errorf("short read: %d of %d bytes", h.Len(), in.Length())
		return UploadedSegmentMetadata{}, errors.Join(err, blobstore.Abort(ctx, w))
	}
	if err := w.Close(); err != nil {
		return UploadedSegmentMetadata{}, err
	}

	return UploadedSegmentMetadata{
		OriginalName:   name,
		UploadedName:   uploaded,
		Checksum:       h.Sum32(),
		Length:         h.Len(),
		BlockSize:      s.opts.blockSize,
		BlockChecksums: h.Blocks(),
	}, nil
}

// Delete removes name from the manifest and then deletes its blob.
func (s *SegmentStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	md, ok := s.segments[name]
	delete(s.segments, name)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	if err := s.persist(ctx); err != nil {
		s.mu.Lock()
		s.segments[name] = md
		s.mu.Unlock()
		return err
	}
	return s.store.Delete(ctx, md.UploadedName)
}

// Orphans lists uploaded blobs the manifest does not reference, e.g. left
// behind by a crash between upload and manifest write.
func (s *SegmentStore) Orphans(ctx context.Context) ([]string, error) {
	names, err := s.store.List(ctx, "")
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	referenced := make(map[string]struct{}, len(s.segments))
	for _, md := range s.segments {
		referenced[md.UploadedName] = struct{}{}
	}
	s.mu.RUnlock()

	var orphans []string
	for _, name := range names {
		if name == ManifestName {
			continue
		}
		if _, ok := referenced[name]; !ok {
			orphans = append(orphans, name)
		}
	}
	return orphans, nil
}

func (s *SegmentStore) persist(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	s.id++
	m := &manifest{ID: s.id, Segments: maps.Clone(s.segments)}
	s.mu.Unlock()

	return saveManifest(ctx, s.store, s.opts.codec, s.opts.compression, m)
}
