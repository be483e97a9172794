package tierstore

import (
	"errors"

	"github.com/hupe1980/tierstore/directory"
	"github.com/hupe1980/tierstore/filecache"
	"github.com/hupe1980/tierstore/tracker"
	"github.com/hupe1980/tierstore/transfer"
)

var (
	// ErrNotUploaded is returned by AfterUpload for files the remote store
	// has no metadata for.
	ErrNotUploaded = errors.New("tierstore: file not uploaded")
	// ErrNoUploader is returned by Flush when the remote source cannot upload.
	ErrNoUploader = errors.New("tierstore: remote source cannot upload")
)

// Errors of the underlying packages, re-exported so callers need one import.
var (
	ErrUnknownFile       = tracker.ErrUnknownFile
	ErrInvalidTransition = tracker.ErrInvalidTransition
	ErrUnderflow         = filecache.ErrUnderflow
	ErrEntryInUse        = filecache.ErrEntryInUse
	ErrTransport         = transfer.ErrTransport
	ErrCorruption        = transfer.ErrCorruption
	ErrAlreadyClosed     = directory.ErrAlreadyClosed
	ErrLockObtainFailed  = directory.ErrLockObtainFailed
)

type (
	UnknownFileError       = tracker.UnknownFileError
	InvalidTransitionError = tracker.InvalidTransitionError
	UnderflowError         = filecache.UnderflowError
	TransportError         = transfer.TransportError
	CorruptionError        = transfer.CorruptionError
)
