package filecache

import (
	"container/list"
	"errors"
	"hash/maphash"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
)

// FileCache is a reference-counted, segmented LRU cache of open files.
//
// Put pins the new entry with one reference; the caller releases it with
// DecRef. Total usage may exceed the capacity while referenced entries
// hold it up.
type FileCache struct {
	capacity  int64
	segments  []*segment
	seed      maphash.Seed
	clock     atomic.Uint64
	listeners []RemovalListener
	logger    *slog.Logger

	usage       atomic.Int64
	activeUsage atomic.Int64
	entries     atomic.Int64

	hits         atomic.Int64
	misses       atomic.Int64
	evictions    atomic.Int64
	replacements atomic.Int64
}

type segment struct {
	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List // front is most recent
}

type entry struct {
	key    string
	value  CachedIndexInput
	weight int64
	refs   int
	tick   uint64
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits         int64
	Misses       int64
	Evictions    int64
	Replacements int64
	Entries      int64
	Usage        int64
	ActiveUsage  int64
	Capacity     int64
}

// New returns a cache that evicts down to capacity bytes.
func New(capacity int64, opts ...Option) *FileCache {
	o := options{segments: DefaultSegments, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}

	c := &FileCache{
		capacity:  capacity,
		segments:  make([]*segment, o.segments),
		seed:      maphash.MakeSeed(),
		listeners: o.listeners,
		logger:    o.logger,
	}
	for i := range c.segments {
		c.segments[i] = &segment{
			items: make(map[string]*list.Element),
			lru:   list.New(),
		}
	}
	return c
}

func (c *FileCache) segment(key string) *segment {
	return c.segments[maphash.String(c.seed, key)%uint64(len(c.segments))]
}

// removal is a value to close and announce once locks are released.
type removal struct {
	key    string
	value  CachedIndexInput
	weight int64
	reason RemovalReason
}

func (c *FileCache) finish(removed []removal) {
	for _, r := range removed {
		if err := r.value.Close(); err != nil {
			c.logger.Warn("closing cached file failed", "key", r.key, "reason", r.reason.String(), "error", err)
		}
		c.logger.Debug("cached file removed", "key", r.key, "reason", r.reason.String(), "bytes", r.weight)
		n := RemovalNotification{Key: r.key, Value: r.value, Weight: r.weight, Reason: r.reason}
		for _, l := range c.listeners {
			l(n)
		}
	}
}

// setWeight updates the weight of e. The segment lock must be held.
func (c *FileCache) setWeight(e *entry, w int64) {
	delta := w - e.weight
	e.weight = w
	c.usage.Add(delta)
	if e.refs > 0 {
		c.activeUsage.Add(delta)
	}
}

// unlink removes e from s. The segment lock must be held.
func (c *FileCache) unlink(s *segment, el *list.Element) *entry {
	e := el.Value.(*entry)
	s.lru.Remove(el)
	delete(s.items, e.key)
	c.usage.Add(-e.weight)
	if e.refs > 0 {
		c.activeUsage.Add(-e.weight)
	}
	c.entries.Add(-1)
	return e
}

// evictLocked drops unreferenced entries of s, oldest first, while the
// total usage exceeds the capacity. Entries of other segments are left to
// their own puts and to Prune.
func (c *FileCache) evictLocked(s *segment) []removal {
	var out []removal
	for el := s.lru.Back(); el != nil && c.usage.Load() > c.capacity; {
		prev := el.Prev()
		if e := el.Value.(*entry); e.refs == 0 {
			c.unlink(s, el)
			c.evictions.Add(1)
			out = append(out, removal{key: e.key, value: e.value, weight: e.weight, reason: RemovalEvicted})
		}
		el = prev
	}
	return out
}

// Put stores value under key and pins it with one reference. An existing
// entry keeps its references and gains one; its previous value is closed.
func (c *FileCache) Put(key string, value CachedIndexInput) {
	s := c.segment(key)
	s.mu.Lock()

	var removed []removal
	tick := c.clock.Add(1)
	if el, ok := s.items[key]; ok {
		e := el.Value.(*entry)
		old, oldWeight := e.value, e.weight
		if e.refs == 0 {
			c.activeUsage.Add(e.weight)
		}
		e.refs++
		e.value = value
		e.tick = tick
		c.setWeight(e, value.Size())
		s.lru.MoveToFront(el)
		if old != value {
			c.replacements.Add(1)
			removed = append(removed, removal{key: key, value: old, weight: oldWeight, reason: RemovalReplaced})
		}
	} else {
		e := &entry{key: key, value: value, refs: 1, tick: tick}
		s.items[key] = s.lru.PushFront(e)
		c.entries.Add(1)
		c.setWeight(e, value.Size())
	}
	removed = append(removed, c.evictLocked(s)...)
	s.mu.Unlock()

	c.finish(removed)
}

// Get returns the value under key and adds a reference, which the caller
// must release with DecRef.
func (c *FileCache) Get(key string) (CachedIndexInput, bool) {
	s := c.segment(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	e := el.Value.(*entry)
	if e.refs == 0 {
		c.activeUsage.Add(e.weight)
	}
	e.refs++
	e.tick = c.clock.Add(1)
	s.lru.MoveToFront(el)
	c.hits.Add(1)
	return e.value, true
}

// IncRef adds a reference to an existing entry.
func (c *FileCache) IncRef(key string) error {
	s := c.segment(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return ErrNotFound
	}
	e := el.Value.(*entry)
	if e.refs == 0 {
		c.activeUsage.Add(e.weight)
	}
	e.refs++
	return nil
}

// DecRef releases one reference. An entry without references becomes
// evictable but stays cached.
func (c *FileCache) DecRef(key string) error {
	s := c.segment(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return &UnderflowError{Key: key}
	}
	e := el.Value.(*entry)
	if e.refs == 0 {
		return &UnderflowError{Key: key, Present: true}
	}
	e.refs--
	if e.refs == 0 {
		c.activeUsage.Add(-e.weight)
	}
	return nil
}

// RefCount returns the references held on key.
func (c *FileCache) RefCount(key string) (int, bool) {
	s := c.segment(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return 0, false
	}
	return el.Value.(*entry).refs, true
}

// Contains reports whether key is cached without touching its recency.
func (c *FileCache) Contains(key string) bool {
	s := c.segment(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[key]
	return ok
}

// Remove drops and closes the entry under key. Referenced entries are not
// removed and yield ErrEntryInUse. Removing a missing key is a no-op.
func (c *FileCache) Remove(key string) error {
	s := c.segment(key)
	s.mu.Lock()

	el, ok := s.items[key]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if el.Value.(*entry).refs > 0 {
		s.mu.Unlock()
		return ErrEntryInUse
	}
	e := c.unlink(s, el)
	s.mu.Unlock()

	c.finish([]removal{{key: key, value: e.value, weight: e.weight, reason: RemovalExplicit}})
	return nil
}

// SwitchToBlockBased converts the entry under key to block-based reads and
// re-weighs it.
func (c *FileCache) SwitchToBlockBased(key string) error {
	s := c.segment(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return ErrNotFound
	}
	e := el.Value.(*entry)
	sw, ok := e.value.(interface{ SwitchToBlockBased() error })
	if !ok {
		return ErrNotSwitchable
	}
	if err := sw.SwitchToBlockBased(); err != nil {
		return err
	}
	c.setWeight(e, e.value.Size())
	return nil
}

// Prune evicts unreferenced entries across all segments, least recently
// used first, until usage is within capacity. It returns the bytes freed.
func (c *FileCache) Prune() int64 {
	if c.usage.Load() <= c.capacity {
		return 0
	}

	type candidate struct {
		seg  *segment
		key  string
		tick uint64
	}
	var cands []candidate
	for _, s := range c.segments {
		s.mu.Lock()
		for key, el := range s.items {
			if e := el.Value.(*entry); e.refs == 0 {
				cands = append(cands, candidate{seg: s, key: key, tick: e.tick})
			}
		}
		s.mu.Unlock()
	}
	slices.SortFunc(cands, func(a, b candidate) int {
		switch {
		case a.tick < b.tick:
			return -1
		case a.tick > b.tick:
			return 1
		}
		return 0
	})

	var freed int64
	for _, cand := range cands {
		if c.usage.Load() <= c.capacity {
			break
		}
		s := cand.seg
		s.mu.Lock()
		el, ok := s.items[cand.key]
		// Skip entries touched since the scan.
		if !ok || el.Value.(*entry).refs > 0 || el.Value.(*entry).tick != cand.tick {
			s.mu.Unlock()
			continue
		}
		e := c.unlink(s, el)
		c.evictions.Add(1)
		s.mu.Unlock()

		freed += e.weight
		c.finish([]removal{{key: e.key, value: e.value, weight: e.weight, reason: RemovalEvicted}})
	}
	return freed
}

// Usage returns the summed weight of all entries.
func (c *FileCache) Usage() int64 { return c.usage.Load() }

// ActiveUsage returns the summed weight of referenced entries.
func (c *FileCache) ActiveUsage() int64 { return c.activeUsage.Load() }

// Capacity returns the configured capacity in bytes.
func (c *FileCache) Capacity() int64 { return c.capacity }

// Len returns the number of entries.
func (c *FileCache) Len() int { return int(c.entries.Load()) }

func (c *FileCache) Stats() Stats {
	return Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Evictions:    c.evictions.Load(),
		Replacements: c.replacements.Load(),
		Entries:      c.entries.Load(),
		Usage:        c.usage.Load(),
		ActiveUsage:  c.activeUsage.Load(),
		Capacity:     c.capacity,
	}
}

// Keys returns the cached keys in no particular order.
func (c *FileCache) Keys() []string {
	var keys []string
	for _, s := range c.segments {
		s.mu.Lock()
		for k := range s.items {
			keys = append(keys, k)
		}
		s.mu.Unlock()
	}
	return keys
}

// Close removes and closes every entry regardless of references. Removal
// listeners are not notified.
func (c *FileCache) Close() error {
	var (
		removed []removal
		errs    []error
	)
	for _, s := range c.segments {
		s.mu.Lock()
		for el := s.lru.Front(); el != nil; {
			next := el.Next()
			e := c.unlink(s, el)
			removed = append(removed, removal{key: e.key, value: e.value, weight: e.weight, reason: RemovalExplicit})
			el = next
		}
		s.mu.Unlock()
	}
	for _, r := range removed {
		if err := r.value.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
