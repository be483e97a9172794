// Package minio stores uploaded segment files on MinIO or another
// S3-compatible server through minio-go.
//
//	store, err := minio.New(minio.Config{
//	    Endpoint:  "localhost:9000",
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	    Bucket:    "segments",
//	    Prefix:    "index-7/",
//	})
//
// Reads use GetObject with a byte range, so only the requested blocks are
// transferred.
package minio
