package filecache

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/tierstore/directory"
)

// CachedIndexInput is the value owned by a cache entry.
type CachedIndexInput interface {
	// IndexInput returns a new independent handle. The caller closes it.
	IndexInput() (directory.IndexInput, error)
	// Size returns the resident weight in bytes.
	Size() int64
	Close() error
	IsClosed() bool
}

// FileCachedIndexInput owns one resident master handle.
type FileCachedIndexInput struct {
	master directory.IndexInput
	closed atomic.Bool
}

// NewFileCachedIndexInput takes ownership of master.
func NewFileCachedIndexInput(master directory.IndexInput) *FileCachedIndexInput {
	return &FileCachedIndexInput{master: master}
}

func (c *FileCachedIndexInput) IndexInput() (directory.IndexInput, error) {
	if c.closed.Load() {
		return nil, directory.ErrAlreadyClosed
	}
	return c.master.Clone()
}

func (c *FileCachedIndexInput) Size() int64    { return c.master.Length() }
func (c *FileCachedIndexInput) IsClosed() bool { return c.closed.Load() }

func (c *FileCachedIndexInput) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.master.Close()
}

// BlockOpener builds the block-based replacement of a resident handle.
type BlockOpener func() (directory.IndexInput, error)

// mode is one immutable variant of a SwitchableCachedIndexInput: either a
// resident master or a block-based master.
type mode struct {
	in    directory.IndexInput
	block bool
}

// SwitchableCachedIndexInput starts resident and can be converted, once,
// into a block-based handle that no longer occupies cache space.
type SwitchableCachedIndexInput struct {
	open BlockOpener

	mu     sync.Mutex // serializes switching and closing
	cur    atomic.Pointer[mode]
	closed atomic.Bool
}

// NewSwitchableCachedIndexInput takes ownership of resident.
func NewSwitchableCachedIndexInput(resident directory.IndexInput, open BlockOpener) *SwitchableCachedIndexInput {
	s := &SwitchableCachedIndexInput{open: open}
	s.cur.Store(&mode{in: resident})
	return s
}

// IndexInput clones the current master. A clone racing with a switch is
// retried against the block-based master.
func (s *SwitchableCachedIndexInput) IndexInput() (directory.IndexInput, error) {
	for {
		if s.closed.Load() {
			return nil, directory.ErrAlreadyClosed
		}
		m := s.cur.Load()
		c, err := m.in.Clone()
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, directory.ErrAlreadyClosed) || s.cur.Load() == m {
			return nil, err
		}
	}
}

// SwitchToBlockBased replaces the resident master with a block-based one.
// Outstanding clones keep reading the resident bytes they share. Switching
// twice is a no-op.
func (s *SwitchableCachedIndexInput) SwitchToBlockBased() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return directory.ErrAlreadyClosed
	}
	old := s.cur.Load()
	if old.block {
		return nil
	}
	if s.open == nil {
		return errors.New("filecache: no block opener")
	}
	in, err := s.open()
	if err != nil {
		return err
	}
	s.cur.Store(&mode{in: in, block: true})
	return old.in.Close()
}

// IsBlockBased reports whether the switch happened.
func (s *SwitchableCachedIndexInput) IsBlockBased() bool {
	return s.cur.Load().block
}

// Size is zero once block-based.
func (s *SwitchableCachedIndexInput) Size() int64 {
	m := s.cur.Load()
	if m.block {
		return 0
	}
	return m.in.Length()
}

func (s *SwitchableCachedIndexInput) IsClosed() bool { return s.closed.Load() }

func (s *SwitchableCachedIndexInput) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Swap(true) {
		return nil
	}
	return s.cur.Load().in.Close()
}
