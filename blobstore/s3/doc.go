// Package s3 stores uploaded segment files in Amazon S3 or an
// S3-compatible service.
//
//	store, err := s3.New(ctx, "search-segments",
//	    s3.WithPrefix("cluster-a/index-7/"),
//	    s3.WithRegion("eu-central-1"),
//	)
//
// Reads are ranged GETs, so block-based inputs only transfer the blocks
// they touch. Uploads stream through the multipart uploader with CRC32C
// checksums.
package s3
