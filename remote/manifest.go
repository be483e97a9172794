package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/tierstore/blobstore"
	"github.com/hupe1980/tierstore/codec"
)

const (
	// ManifestName is the blob holding the manifest.
	ManifestName    = "segments.manifest"
	manifestVersion = 1
)

// manifest is the persisted form of the uploaded segment map.
type manifest struct {
	Version  int                                `json:"version"`
	ID       uint64                             `json:"id"`
	Segments map[string]UploadedSegmentMetadata `json:"segments"`
}

func loadManifest(ctx context.Context, store blobstore.BlobStore) (*manifest, error) {
	b, err := store.Open(ctx, ManifestName)
	if errors.Is(err, blobstore.ErrNotFound) {
		return &manifest{Version: manifestVersion, Segments: map[string]UploadedSegmentMetadata{}}, nil
	}
	if err != nil {
		return nil, err
	}
	defer b.Close()

	data, err := blobstore.ReadFull(ctx, b, 0, b.Size())
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err := codec.Decode(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported manifest version: %d (expected %d)", m.Version, manifestVersion)
	}
	if m.Segments == nil {
		m.Segments = map[string]UploadedSegmentMetadata{}
	}
	for name, md := range m.Segments {
		if err := md.Validate(); err != nil {
			return nil, fmt.Errorf("manifest entry %s: %w", name, err)
		}
	}
	return &m, nil
}

func saveManifest(ctx context.Context, store blobstore.BlobStore, c codec.Codec, comp codec.Compression, m *manifest) error {
	m.Version = manifestVersion
	data, err := codec.Encode(c, comp, m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return store.Put(ctx, ManifestName, data)
}
