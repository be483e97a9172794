// Package mmap maps read-only segment files into memory.
//
// A Mapping is the backing store of a resident index input: every clone of
// the input reads the same mapped bytes, and the mapping is released once
// the last reader lets go of it.
//
//	m, err := mmap.Open(path)
//	if err != nil { ... }
//	defer m.Close()
//	n, err := m.ReadAt(buf, off)
//
// Unix uses mmap(2) and madvise(2); Windows uses MapViewOfFile and ignores
// access hints.
package mmap
