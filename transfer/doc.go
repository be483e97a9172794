// Package transfer reads uploaded segment files from a blob store in
// fixed-size blocks.
//
// Manager.FetchRange aligns every request to block boundaries, serves the
// blocks it already holds from a block cache and fetches each missing run
// of consecutive blocks with a single ranged read. Blocks are verified
// against the per-block CRC32C recorded at upload before they are cached,
// so a failed, corrupted or cancelled fetch never leaves a block behind.
//
// BlockIndexInput is a directory.IndexInput over a Manager that never holds
// more than one block of the file.
package transfer
