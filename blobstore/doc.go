// Package blobstore abstracts the remote object store that holds uploaded
// segment files.
//
// Blobs are immutable once committed. Readers fetch byte ranges, so a
// backend only needs ranged GETs to serve block-based reads:
//
//	blob, err := store.Open(ctx, "_0.cfs__6f1c...")
//	rc, err := blob.ReadRange(ctx, 8192, 8192)
//
// # Implementations
//
//   - [LocalStore]: a local directory, reads through mmap
//   - [MemoryStore]: in memory, with corruption and read counting for tests
//   - s3.Store: Amazon S3 (aws-sdk-go-v2)
//   - minio.Store: MinIO and other S3-compatible servers (minio-go)
//   - gcs.Store: Google Cloud Storage
//
// Every implementation reports missing blobs with an error matching
// [ErrNotFound].
package blobstore
