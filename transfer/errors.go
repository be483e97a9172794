package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport is matched by TransportError.
	ErrTransport = errors.New("transfer: transport failure")
	// ErrCorruption is matched by CorruptionError.
	ErrCorruption = errors.New("transfer: corrupted range")
	// ErrOutOfRange is returned for requests outside the file.
	ErrOutOfRange = errors.New("transfer: range out of bounds")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transfer: manager closed")
)

// TransportError wraps a blob store, network, timeout or cancellation
// failure. No bytes of the failed range were cached.
type TransportError struct {
	Name   string
	Offset int64
	Length int64
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transfer: fetch %s [%d, %d): %v", e.Name, e.Offset, e.Offset+e.Length, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// CorruptionError reports fetched bytes that do not match their recorded
// checksum.
type CorruptionError struct {
	Name     string
	Block    int64 // -1 for the whole-file checksum
	Expected uint32
	Actual   uint32
}

func (e *CorruptionError) Error() string {
	if e.Block < 0 {
		return fmt.Sprintf("transfer: %s: file checksum mismatch: expected %08x, got %08x", e.Name, e.Expected, e.Actual)
	}
	return fmt.Sprintf("transfer: %s: block %d checksum mismatch: expected %08x, got %08x", e.Name, e.Block, e.Expected, e.Actual)
}

func (e *CorruptionError) Is(target error) bool { return target == ErrCorruption }
