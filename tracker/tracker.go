package tracker

import (
	"sync"
	"sync/atomic"

	"github.com/hupe1980/tierstore/remote"
)

// FileTracker is the state registry consulted by every read decision.
type FileTracker interface {
	IsPresent(name string) bool
	UpdateState(name string, state FileState) error
	UpdateFileType(name string, t FileType) error
}

// Tracker implements FileTracker with one atomic slot per name.
type Tracker struct {
	entries sync.Map // string -> *atomic.Pointer[FileTrackingInfo]
	size    atomic.Int64
}

var _ FileTracker = (*Tracker)(nil)

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{}
}

func (t *Tracker) slot(name string) (*atomic.Pointer[FileTrackingInfo], bool) {
	v, ok := t.entries.Load(name)
	if !ok {
		return nil, false
	}
	return v.(*atomic.Pointer[FileTrackingInfo]), true
}

// IsPresent reports whether name is tracked.
func (t *Tracker) IsPresent(name string) bool {
	_, ok := t.Get(name)
	return ok
}

// Get returns the current info of name.
func (t *Tracker) Get(name string) (FileTrackingInfo, bool) {
	p, ok := t.slot(name)
	if !ok {
		return FileTrackingInfo{}, false
	}
	cur := p.Load()
	if cur == nil {
		return FileTrackingInfo{}, false
	}
	return *cur, true
}

// Track creates an entry. If name is already tracked the existing info is
// returned with loaded set, and nothing changes.
func (t *Tracker) Track(info FileTrackingInfo) (actual FileTrackingInfo, loaded bool, err error) {
	if err := validate(info); err != nil {
		return FileTrackingInfo{}, false, err
	}
	for {
		p := new(atomic.Pointer[FileTrackingInfo])
		v := info
		p.Store(&v)

		existing, loaded := t.entries.LoadOrStore(info.FileName, p)
		if !loaded {
			t.size.Add(1)
			return info, false, nil
		}
		if cur := existing.(*atomic.Pointer[FileTrackingInfo]).Load(); cur != nil {
			return *cur, true, nil
		}
		// Slot is being removed; retry until it is gone.
		t.entries.CompareAndDelete(info.FileName, existing)
	}
}

// Update applies fn to the current info of name with compare-and-swap,
// retrying on contention. fn must be free of side effects.
func (t *Tracker) Update(name string, fn func(FileTrackingInfo) (FileTrackingInfo, error)) (FileTrackingInfo, error) {
	p, ok := t.slot(name)
	if !ok {
		return FileTrackingInfo{}, &UnknownFileError{Name: name}
	}
	for {
		cur := p.Load()
		if cur == nil {
			return FileTrackingInfo{}, &UnknownFileError{Name: name}
		}
		next, err := fn(*cur)
		if err != nil {
			return *cur, err
		}
		if err := checkTransition(*cur, next); err != nil {
			return *cur, err
		}
		if next == *cur {
			return next, nil
		}
		v := next
		if p.CompareAndSwap(cur, &v) {
			return next, nil
		}
	}
}

// UpdateState moves name to state.
func (t *Tracker) UpdateState(name string, state FileState) error {
	_, err := t.Update(name, func(i FileTrackingInfo) (FileTrackingInfo, error) {
		return i.WithState(state), nil
	})
	return err
}

// UpdateFileType changes how name is read. Only NON_BLOCK to BLOCK in
// state REMOTE_ONLY is allowed; setting the current type is a no-op.
func (t *Tracker) UpdateFileType(name string, ft FileType) error {
	_, err := t.Update(name, func(i FileTrackingInfo) (FileTrackingInfo, error) {
		return i.WithType(ft), nil
	})
	return err
}

// SetMetadata records the uploaded copy of name. Metadata is set once.
func (t *Tracker) SetMetadata(name string, md *remote.UploadedSegmentMetadata) error {
	_, err := t.Update(name, func(i FileTrackingInfo) (FileTrackingInfo, error) {
		if i.Metadata != nil && i.Metadata.Equal(md) {
			return i, nil
		}
		return i.WithMetadata(md), nil
	})
	return err
}

// Remove forgets name and returns its last info.
func (t *Tracker) Remove(name string) (FileTrackingInfo, bool) {
	p, ok := t.slot(name)
	if !ok {
		return FileTrackingInfo{}, false
	}
	cur := p.Swap(nil)
	t.entries.CompareAndDelete(name, p)
	if cur == nil {
		return FileTrackingInfo{}, false
	}
	t.size.Add(-1)
	return *cur, true
}

// Len returns the number of tracked names.
func (t *Tracker) Len() int {
	return int(t.size.Load())
}

// Snapshot returns a point-in-time copy. Entries updated concurrently may
// appear in either version.
func (t *Tracker) Snapshot() map[string]FileTrackingInfo {
	out := make(map[string]FileTrackingInfo, t.Len())
	t.entries.Range(func(k, v any) bool {
		if cur := v.(*atomic.Pointer[FileTrackingInfo]).Load(); cur != nil {
			out[k.(string)] = *cur
		}
		return true
	})
	return out
}

// Map returns the bulk accessor.
func (t *Tracker) Map() *Map {
	return &Map{t: t}
}
