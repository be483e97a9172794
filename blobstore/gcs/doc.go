// Package gcs stores uploaded segment files in Google Cloud Storage.
//
//	store, err := gcs.New(ctx, "search-segments", "index-7")
//
// Blobs pin the object generation seen at Open, so ranged reads of one
// handle never mix bytes of two uploads.
package gcs
