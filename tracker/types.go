package tracker

import (
	"errors"
	"fmt"

	"github.com/hupe1980/tierstore/remote"
)

// FileState is the storage tier backing a file.
type FileState uint8

const (
	// StateDisk means the bytes live only in the local directory.
	StateDisk FileState = iota
	// StateCache means the bytes are in the local cache and uploaded.
	StateCache
	// StateRemoteOnly means only the remote copy is available.
	StateRemoteOnly
)

func (s FileState) String() string {
	switch s {
	case StateDisk:
		return "DISK"
	case StateCache:
		return "CACHE"
	case StateRemoteOnly:
		return "REMOTE_ONLY"
	default:
		return fmt.Sprintf("FileState(%d)", uint8(s))
	}
}

// FileType is how a file is read.
type FileType uint8

const (
	TypeNonBlock FileType = iota
	TypeBlock
)

func (t FileType) String() string {
	switch t {
	case TypeNonBlock:
		return "NON_BLOCK"
	case TypeBlock:
		return "BLOCK"
	default:
		return fmt.Sprintf("FileType(%d)", uint8(t))
	}
}

// FileTrackingInfo is the tracked state of one file. Values are immutable;
// use the With methods to derive updated copies.
type FileTrackingInfo struct {
	FileName string
	State    FileState
	Type     FileType
	// Path is the absolute local path.
	Path string
	// Metadata is set once the file was uploaded.
	Metadata *remote.UploadedSegmentMetadata
}

func (i FileTrackingInfo) WithState(s FileState) FileTrackingInfo {
	i.State = s
	return i
}

func (i FileTrackingInfo) WithType(t FileType) FileTrackingInfo {
	i.Type = t
	return i
}

func (i FileTrackingInfo) WithMetadata(md *remote.UploadedSegmentMetadata) FileTrackingInfo {
	i.Metadata = md
	return i
}

func (i FileTrackingInfo) String() string {
	return fmt.Sprintf("%s[%s/%s]", i.FileName, i.State, i.Type)
}

var (
	// ErrUnknownFile is matched by UnknownFileError.
	ErrUnknownFile = errors.New("tracker: unknown file")
	// ErrInvalidTransition is matched by InvalidTransitionError.
	ErrInvalidTransition = errors.New("tracker: invalid transition")
)

// UnknownFileError is returned when updating an untracked name.
type UnknownFileError struct {
	Name string
}

func (e *UnknownFileError) Error() string {
	return fmt.Sprintf("tracker: unknown file %q", e.Name)
}

func (e *UnknownFileError) Is(target error) bool { return target == ErrUnknownFile }

// InvalidTransitionError is returned for a transition the state machine
// does not allow.
type InvalidTransitionError struct {
	Name   string
	From   string
	To     string
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("tracker: invalid transition for %q: %s -> %s", e.Name, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }
