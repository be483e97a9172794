package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/hupe1980/tierstore/blobstore"
	"github.com/hupe1980/tierstore/internal/hash"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Store implements blobstore.BlobStore on a Google Cloud Storage bucket.
type Store struct {
	bucket *storage.BucketHandle
	prefix string
}

var _ blobstore.BlobStore = (*Store)(nil)

// New creates a client with the given options and returns a Store for bucket.
func New(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*Store, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return NewStore(client, bucket, prefix), nil
}

// NewStore returns a Store using client.
func NewStore(client *storage.Client, bucket, prefix string) *Store {
	return &Store{bucket: client.Bucket(bucket), prefix: prefix}
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

func translateError(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: %w", blobstore.ErrNotFound, err)
	}
	return err
}

// Open reads the object attributes to learn its size.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	obj := s.bucket.Object(s.key(name))
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	// Pin the generation so every ranged read sees the same bytes.
	return &gcsBlob{obj: obj.Generation(attrs.Generation), size: attrs.Size}, nil
}

// Create streams writes into a resumable upload committed on Close.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &gcsWritableBlob{w: s.bucket.Object(s.key(name)).NewWriter(ctx), cancel: cancel}, nil
}

// Put uploads data with a CRC32C the server verifies.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	w := s.bucket.Object(s.key(name)).NewWriter(ctx)
	w.CRC32C = hash.CRC32C(data)
	w.SendCRC32C = true
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Delete removes an object; missing objects are ignored.
func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.bucket.Object(s.key(name)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return err
	}
	return nil
}

// List iterates the objects under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	full := s.key(prefix)
	if (prefix == "" && s.prefix != "") || strings.HasSuffix(prefix, "/") {
		full += "/"
	}

	var names []string
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: full})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		name := strings.TrimPrefix(strings.TrimPrefix(attrs.Name, s.prefix), "/")
		if name != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

type gcsBlob struct {
	obj  *storage.ObjectHandle
	size int64
}

func (b *gcsBlob) Size() int64 { return b.size }

func (b *gcsBlob) Close() error { return nil }

func (b *gcsBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	rc, err := b.ReadRange(ctx, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	n, err := io.ReadFull(rc, p)
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return n, io.EOF
	}
	return n, err
}

func (b *gcsBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if off < 0 || length < 0 {
		return nil, blobstore.ErrInvalidRange
	}
	if off >= b.size {
		return nil, io.EOF
	}
	if length == 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	r, err := b.obj.NewRangeReader(ctx, off, min(length, b.size-off))
	if err != nil {
		return nil, translateError(err)
	}
	return r, nil
}

type gcsWritableBlob struct {
	w      *storage.Writer
	cancel context.CancelFunc

	once sync.Once
	err  error
}

func (b *gcsWritableBlob) Write(p []byte) (int, error) { return b.w.Write(p) }

func (b *gcsWritableBlob) Close() error {
	b.once.Do(func() {
		b.err = b.w.Close()
		b.cancel()
	})
	return b.err
}

// Abort cancels the upload context, which discards the object.
func (b *gcsWritableBlob) Abort(context.Context) error {
	b.once.Do(func() {
		b.cancel()
		_ = b.w.Close()
	})
	return nil
}

// Sync is a no-op: the object is committed on Close.
func (b *gcsWritableBlob) Sync() error { return nil }
