// Package hash provides the CRC32-Castagnoli checksums used to verify
// segment files and the blocks fetched from remote storage.
//
// One-shot:
//
//	sum := hash.CRC32C(data)
//
// Whole file plus per-block sums in one pass:
//
//	h := hash.NewBlockHasher(8 << 10)
//	io.Copy(h, r)
//	whole, blocks := h.Sum32(), h.Blocks()
//
// Go's crc32 package uses SSE4.2 or the ARM CRC extension when available.
package hash
