package filecache

import (
	"errors"
	"fmt"
)

var (
	// ErrUnderflow is matched by UnderflowError.
	ErrUnderflow = errors.New("filecache: reference count underflow")
	// ErrEntryInUse is returned when removing an entry that is referenced.
	ErrEntryInUse = errors.New("filecache: entry in use")
	// ErrNotSwitchable is returned by SwitchToBlockBased for entries that
	// cannot switch.
	ErrNotSwitchable = errors.New("filecache: entry is not switchable")
	// ErrNotFound is returned for operations on a missing entry.
	ErrNotFound = errors.New("filecache: entry not found")
)

// UnderflowError is returned by DecRef without a matching reference.
type UnderflowError struct {
	Key     string
	Present bool
}

func (e *UnderflowError) Error() string {
	if !e.Present {
		return fmt.Sprintf("filecache: decRef of absent entry %q", e.Key)
	}
	return fmt.Sprintf("filecache: decRef of unreferenced entry %q", e.Key)
}

func (e *UnderflowError) Is(target error) bool { return target == ErrUnderflow }
