package directory

import (
	"bufio"
	"errors"
	"hash"

	"github.com/hupe1980/tierstore/internal/fs"
	ihash "github.com/hupe1980/tierstore/internal/hash"
)

const outputBufferSize = 64 << 10

type fsOutput struct {
	name   string
	f      fs.File
	w      *bufio.Writer
	crc    hash.Hash32
	pos    int64
	closed bool
}

func newFSOutput(name string, f fs.File) *fsOutput {
	return &fsOutput{
		name: name,
		f:    f,
		w:    bufio.NewWriterSize(f, outputBufferSize),
		crc:  ihash.NewCRC32C(),
	}
}

func (o *fsOutput) Name() string       { return o.name }
func (o *fsOutput) FilePointer() int64 { return o.pos }
func (o *fsOutput) Checksum() uint32   { return o.crc.Sum32() }

func (o *fsOutput) Write(p []byte) (int, error) {
	if o.closed {
		return 0, ErrAlreadyClosed
	}
	n, err := o.w.Write(p)
	_, _ = o.crc.Write(p[:n])
	o.pos += int64(n)
	return n, err
}

// Close flushes buffered bytes and closes the file. It does not fsync;
// callers use Directory.Sync for durability.
func (o *fsOutput) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	return errors.Join(o.w.Flush(), o.f.Close())
}
