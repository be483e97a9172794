package transfer

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/hupe1980/tierstore/directory"
	"github.com/hupe1980/tierstore/remote"
)

// BlockIndexInput reads an uploaded file through a Manager. It holds at
// most the block under its cursor.
type BlockIndexInput struct {
	m        *Manager
	md       *remote.UploadedSegmentMetadata
	noCache  bool
	pos      int64
	cur      []byte
	curBlock int64
	closed   atomic.Bool
}

var _ directory.IndexInput = (*BlockIndexInput)(nil)

// NewBlockIndexInput returns an input over md. With readOnce set, fetched
// blocks bypass the Manager's block cache.
func NewBlockIndexInput(m *Manager, md *remote.UploadedSegmentMetadata, readOnce bool) *BlockIndexInput {
	return &BlockIndexInput{m: m, md: md, noCache: readOnce, curBlock: -1}
}

func (in *BlockIndexInput) Name() string  { return in.md.OriginalName }
func (in *BlockIndexInput) Length() int64 { return in.md.Length }

// Metadata returns the uploaded file the input reads.
func (in *BlockIndexInput) Metadata() *remote.UploadedSegmentMetadata { return in.md }

func (in *BlockIndexInput) ReadAt(p []byte, off int64) (int, error) {
	return in.ReadAtContext(context.Background(), p, off)
}

// ReadAtContext is ReadAt with cancellation.
func (in *BlockIndexInput) ReadAtContext(ctx context.Context, p []byte, off int64) (int, error) {
	if in.closed.Load() {
		return 0, directory.ErrAlreadyClosed
	}
	if off >= in.md.Length {
		if len(p) == 0 && off == in.md.Length {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := min(int64(len(p)), in.md.Length-off)
	b, err := in.m.fetch(ctx, in.md, off, n, !in.noCache)
	if err != nil {
		return 0, err
	}
	copy(p, b)
	if n < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

func (in *BlockIndexInput) Read(p []byte) (int, error) {
	if in.closed.Load() {
		return 0, directory.ErrAlreadyClosed
	}
	if in.pos >= in.md.Length {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}

	bs := in.m.blockSize(in.md)
	total := 0
	for total < len(p) && in.pos < in.md.Length {
		idx := in.pos / bs
		if idx != in.curBlock {
			b, err := in.m.fetch(context.Background(), in.md, idx*bs, min(bs, in.md.Length-idx*bs), !in.noCache)
			if err != nil {
				return total, err
			}
			in.cur, in.curBlock = b, idx
		}
		n := copy(p[total:], in.cur[in.pos-idx*bs:])
		total += n
		in.pos += int64(n)
	}
	return total, nil
}

func (in *BlockIndexInput) Seek(offset int64, whence int) (int64, error) {
	if in.closed.Load() {
		return 0, directory.ErrAlreadyClosed
	}
	pos, err := directory.SeekPos(in.pos, in.md.Length, offset, whence)
	if err != nil {
		return in.pos, err
	}
	in.pos = pos
	return pos, nil
}

// Clone shares only the Manager and metadata with the original.
func (in *BlockIndexInput) Clone() (directory.IndexInput, error) {
	if in.closed.Load() {
		return nil, directory.ErrAlreadyClosed
	}
	return &BlockIndexInput{m: in.m, md: in.md, noCache: in.noCache, pos: in.pos, curBlock: -1}, nil
}

func (in *BlockIndexInput) Close() error {
	in.closed.Store(true)
	return nil
}
