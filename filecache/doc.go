// Package filecache keeps open, fully resident file handles keyed by
// absolute path.
//
// Every entry carries a reference count. Get pins an entry and DecRef
// releases it; only entries with no references are evicted, least recently
// used first. The cache is split into independently locked segments so
// readers of different files never share a lock.
package filecache
