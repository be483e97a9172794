// Package remote uploads finished segment files to a blob store and keeps
// the manifest that maps each local file name to its uploaded copy.
//
// Uploaded blobs are named <file>__<uuid> and never overwritten. The
// manifest blob records, per file, the whole-file CRC32C and one CRC32C per
// fixed-size block so that ranged reads can be verified independently.
package remote
