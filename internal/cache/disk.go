package cache

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DiskCacheConfig configures a DiskBlockCache.
type DiskCacheConfig struct {
	// RootDir holds one subdirectory per remote file.
	RootDir string
	// MaxSizeBytes bounds the bytes kept on disk.
	MaxSizeBytes int64
	// MaxConcurrentWrites bounds background writes. Defaults to 16.
	MaxConcurrentWrites int64
}

// DiskBlockCache is a BlockCache backed by files under RootDir. An in-memory
// LRU index tracks the files; it is rebuilt by scanning RootDir on startup.
type DiskBlockCache struct {
	mu          sync.Mutex
	rootDir     string
	maxSize     int64
	currentSize int64

	writeSem *semaphore.Weighted
	wg       sync.WaitGroup

	items   map[BlockKey]*lruEntry
	lruHead *lruEntry
	lruTail *lruEntry

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type lruEntry struct {
	key        BlockKey
	size       int64
	filePath   string
	next, prev *lruEntry
}

// NewDiskBlockCache opens or creates a disk cache rooted at config.RootDir.
func NewDiskBlockCache(config DiskCacheConfig) (*DiskBlockCache, error) {
	if err := os.MkdirAll(config.RootDir, 0o755); err != nil {
		return nil, err
	}

	maxWrites := config.MaxConcurrentWrites
	if maxWrites <= 0 {
		maxWrites = 16
	}

	c := &DiskBlockCache{
		rootDir:  config.RootDir,
		maxSize:  config.MaxSizeBytes,
		items:    make(map[BlockKey]*lruEntry),
		writeSem: semaphore.NewWeighted(maxWrites),
	}
	c.scanExistingFiles()

	c.mu.Lock()
	for c.currentSize > c.maxSize && c.lruTail != nil {
		c.evictOne()
	}
	c.mu.Unlock()

	return c, nil
}

func (c *DiskBlockCache) scanExistingFiles() {
	_ = filepath.WalkDir(c.rootDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil //nolint:nilerr // a partially readable cache dir is still usable
		}
		if strings.HasPrefix(d.Name(), ".tmp-blk-") {
			// Interrupted write from a previous run.
			_ = os.Remove(path)
			return nil
		}
		key, ok := c.parsePathToKey(path)
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil //nolint:nilerr
		}
		c.addToLRU(key, path, info.Size())
		return nil
	})
}

// Layout: <root>/<escaped file>/<block>.blk
func (c *DiskBlockCache) keyPath(key BlockKey) string {
	return filepath.Join(c.rootDir, url.PathEscape(key.File), fmt.Sprintf("%d.blk", key.Block))
}

func (c *DiskBlockCache) parsePathToKey(absPath string) (BlockKey, bool) {
	rel, err := filepath.Rel(c.rootDir, absPath)
	if err != nil {
		return BlockKey{}, false
	}
	dir, file := filepath.Split(rel)
	dir = filepath.Clean(dir)
	if dir == "." || filepath.Dir(dir) != "." {
		return BlockKey{}, false
	}

	digits, ok := strings.CutSuffix(file, ".blk")
	if !ok {
		return BlockKey{}, false
	}
	block, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return BlockKey{}, false
	}
	name, err := url.PathUnescape(dir)
	if err != nil {
		return BlockKey{}, false
	}
	return BlockKey{File: name, Block: block}, true
}

// Get reads a cached block from disk.
func (c *DiskBlockCache) Get(_ context.Context, key BlockKey) ([]byte, bool) {
	c.mu.Lock()
	ent, ok := c.items[key]
	if ok {
		c.moveToFront(ent)
	}
	c.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	data, err := os.ReadFile(ent.filePath)
	if err != nil {
		c.mu.Lock()
		if cur, ok := c.items[key]; ok && cur == ent {
			c.removeEntry(ent)
		}
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return data, true
}

// Set writes the block in the background. When all write slots are busy
// the block is dropped; a later miss simply fetches it again.
func (c *DiskBlockCache) Set(_ context.Context, key BlockKey, b []byte) {
	size := int64(len(b))

	c.mu.Lock()
	if ent, ok := c.items[key]; ok {
		c.moveToFront(ent)
		c.mu.Unlock()
		return
	}
	if size > c.maxSize {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if !c.writeSem.TryAcquire(1) {
		return
	}

	absPath := c.keyPath(key)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.writeSem.Release(1)

		if err := writeFileAtomic(absPath, b); err != nil {
			return
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.items[key]; ok {
			return
		}
		for c.currentSize+size > c.maxSize && c.lruTail != nil {
			c.evictOne()
		}
		c.addToLRU(key, absPath, size)
	}()
}

func writeFileAtomic(absPath string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(absPath), ".tmp-blk-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, absPath); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// Invalidate deletes matching blocks.
func (c *DiskBlockCache) Invalidate(predicate func(key BlockKey) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*lruEntry
	for k, ent := range c.items {
		if predicate(k) {
			toRemove = append(toRemove, ent)
		}
	}
	for _, ent := range toRemove {
		_ = os.Remove(ent.filePath)
		c.removeEntry(ent)
	}
}

// Wait blocks until pending background writes finished.
func (c *DiskBlockCache) Wait() {
	c.wg.Wait()
}

// Close waits for pending writes. Cached files stay on disk for the next start.
func (c *DiskBlockCache) Close() error {
	c.wg.Wait()
	return nil
}

// Stats returns a snapshot of the counters.
func (c *DiskBlockCache) Stats() Stats {
	c.mu.Lock()
	size, n := c.currentSize, len(c.items)
	c.mu.Unlock()
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Bytes:     size,
		Entries:   n,
	}
}

// LRU helpers, c.mu must be held.

func (c *DiskBlockCache) addToLRU(key BlockKey, path string, size int64) {
	ent := &lruEntry{key: key, filePath: path, size: size}
	c.items[key] = ent
	c.currentSize += size

	ent.next = c.lruHead
	if c.lruHead != nil {
		c.lruHead.prev = ent
	}
	c.lruHead = ent
	if c.lruTail == nil {
		c.lruTail = ent
	}
}

func (c *DiskBlockCache) moveToFront(ent *lruEntry) {
	if c.lruHead == ent {
		return
	}
	c.unlink(ent)
	ent.next = c.lruHead
	ent.prev = nil
	if c.lruHead != nil {
		c.lruHead.prev = ent
	}
	c.lruHead = ent
	if c.lruTail == nil {
		c.lruTail = ent
	}
}

func (c *DiskBlockCache) unlink(ent *lruEntry) {
	if ent.prev != nil {
		ent.prev.next = ent.next
	} else {
		c.lruHead = ent.next
	}
	if ent.next != nil {
		ent.next.prev = ent.prev
	} else {
		c.lruTail = ent.prev
	}
	ent.next, ent.prev = nil, nil
}

func (c *DiskBlockCache) removeEntry(ent *lruEntry) {
	c.unlink(ent)
	delete(c.items, ent.key)
	c.currentSize -= ent.size
}

func (c *DiskBlockCache) evictOne() {
	victim := c.lruTail
	_ = os.Remove(victim.filePath)
	c.removeEntry(victim)
	c.evictions.Add(1)
}
