// Package fs abstracts the local file system used by the on-disk directory.
//
//   - [LocalFS] is the production implementation over package os.
//   - [FaultyFS] injects open, read, write, sync, close, remove and rename
//     failures for files matching a name pattern.
//
// Tests swap in a FaultyFS to check that local I/O errors reach callers
// unchanged:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("_0.cfs", fs.Fault{FailOnSync: true, FailAfterBytes: -1})
//
// Operations take no context: local syscalls cannot be interrupted. Remote
// reads go through package blobstore, which is context aware.
package fs
