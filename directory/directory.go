package directory

import (
	"errors"
	"io"
)

var (
	// ErrAlreadyClosed is returned by operations on a closed directory or handle.
	ErrAlreadyClosed = errors.New("directory: already closed")
	// ErrLockObtainFailed is returned when a lock is held by someone else.
	ErrLockObtainFailed = errors.New("directory: lock obtain failed")
)

// IOContext hints how a file is going to be accessed.
type IOContext int

const (
	IOContextDefault IOContext = iota
	// IOContextReadOnce is used for a single forward pass (checksumming, upload).
	IOContextReadOnce
	IOContextMerge
	IOContextFlush
)

func (c IOContext) String() string {
	switch c {
	case IOContextDefault:
		return "default"
	case IOContextReadOnce:
		return "read_once"
	case IOContextMerge:
		return "merge"
	case IOContextFlush:
		return "flush"
	default:
		return "unknown"
	}
}

// IndexInput is a readable file handle with its own cursor.
//
// A handle is not safe for concurrent use; clone it instead. ReadAt does not
// move the cursor and may be called concurrently with other ReadAt calls.
type IndexInput interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer

	// Name returns the file name the handle was opened for.
	Name() string
	// Length returns the file length in bytes.
	Length() int64
	// Clone returns an independent handle positioned at the current offset.
	// Closing either handle leaves the other usable.
	Clone() (IndexInput, error)
}

// IndexOutput is a writable, append-only file handle.
type IndexOutput interface {
	io.Writer
	io.Closer

	Name() string
	// FilePointer returns the number of bytes written.
	FilePointer() int64
	// Checksum returns the CRC32C of the bytes written so far.
	Checksum() uint32
}

// Lock is an exclusive, process-wide lock on a name in a directory.
type Lock interface {
	io.Closer
	// EnsureValid returns an error if the lock was released or lost.
	EnsureValid() error
}

// Directory is a flat namespace of write-once files.
type Directory interface {
	ListAll() ([]string, error)
	FileLength(name string) (int64, error)
	DeleteFile(name string) error
	CreateOutput(name string, ctx IOContext) (IndexOutput, error)
	CreateTempOutput(prefix, suffix string, ctx IOContext) (IndexOutput, error)
	Sync(names []string) error
	SyncMetaData() error
	Rename(source, dest string) error
	OpenInput(name string, ctx IOContext) (IndexInput, error)
	ObtainLock(name string) (Lock, error)
	PendingDeletions() []string
	Close() error
}

// Resolver is implemented by directories backed by real paths.
type Resolver interface {
	Resolve(name string) string
}
