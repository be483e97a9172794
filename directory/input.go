package directory

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/hupe1980/tierstore/internal/mmap"
)

var errNegativeOffset = errors.New("directory: negative offset")

// source is the backing memory shared by a master input and its clones.
// It is released when the last holder closes.
type source struct {
	data    []byte
	refs    atomic.Int64
	release func() error
}

func newSource(data []byte, release func() error) *source {
	s := &source{data: data, release: release}
	s.refs.Store(1)
	return s
}

// acquire never resurrects a source whose count already dropped to zero.
func (s *source) acquire() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (s *source) decRef() error {
	if s.refs.Add(-1) == 0 && s.release != nil {
		return s.release()
	}
	return nil
}

// byteInput serves reads from a shared in-memory source.
type byteInput struct {
	name   string
	src    *source
	pos    int64
	closed atomic.Bool
}

// NewByteInput returns an IndexInput over b. The slice must not be modified
// while the input or any of its clones is open.
func NewByteInput(name string, b []byte) IndexInput {
	return &byteInput{name: name, src: newSource(b, nil)}
}

func newMappedInput(name string, m *mmap.Mapping) IndexInput {
	return &byteInput{name: name, src: newSource(m.Bytes(), m.Close)}
}

func (in *byteInput) Name() string  { return in.name }
func (in *byteInput) Length() int64 { return int64(len(in.src.data)) }

func (in *byteInput) ReadAt(p []byte, off int64) (int, error) {
	if in.closed.Load() {
		return 0, ErrAlreadyClosed
	}
	if off < 0 {
		return 0, errNegativeOffset
	}
	data := in.src.data
	if off >= int64(len(data)) {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (in *byteInput) Read(p []byte) (int, error) {
	n, err := in.ReadAt(p, in.pos)
	in.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (in *byteInput) Seek(offset int64, whence int) (int64, error) {
	if in.closed.Load() {
		return 0, ErrAlreadyClosed
	}
	pos, err := seekPos(in.pos, in.Length(), offset, whence)
	if err != nil {
		return in.pos, err
	}
	in.pos = pos
	return pos, nil
}

func (in *byteInput) Clone() (IndexInput, error) {
	if in.closed.Load() || !in.src.acquire() {
		return nil, ErrAlreadyClosed
	}
	return &byteInput{name: in.name, src: in.src, pos: in.pos}, nil
}

func (in *byteInput) Close() error {
	if in.closed.Swap(true) {
		return nil
	}
	return in.src.decRef()
}

// seekPos resolves a Seek request. Seeking past the end is allowed; reads
// there return io.EOF.
func seekPos(cur, length, offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = cur + offset
	case io.SeekEnd:
		pos = length + offset
	default:
		return 0, errors.New("directory: invalid whence")
	}
	if pos < 0 {
		return 0, errNegativeOffset
	}
	return pos, nil
}

// SeekPos is seekPos for IndexInput implementations in other packages.
func SeekPos(cur, length, offset int64, whence int) (int64, error) {
	return seekPos(cur, length, offset, whence)
}
