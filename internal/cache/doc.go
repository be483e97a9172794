// Package cache holds blocks fetched from remote storage.
//
// Keys are (remote file, block index) pairs. Three implementations share
// the [BlockCache] interface:
//
//   - [LRUBlockCache]: one mutex, optional memory budget via resource.Controller
//   - [ShardedLRUBlockCache]: 64 LRU shards selected by maphash
//   - [DiskBlockCache]: one file per block, LRU index rebuilt on startup,
//     semaphore-bounded background writes
//
// [TieredBlockCache] stacks a RAM cache over a disk cache.
//
// Only verified blocks may be stored; callers check integrity before Set.
package cache
