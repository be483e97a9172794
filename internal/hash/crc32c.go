package hash

import (
	"hash"
	"hash/crc32"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// UpdateCRC32C extends a running checksum with p.
func UpdateCRC32C(crc uint32, p []byte) uint32 {
	return crc32.Update(crc, crc32cTable, p)
}

// NewCRC32C returns a streaming CRC32-Castagnoli hash.
func NewCRC32C() hash.Hash32 {
	return crc32.New(crc32cTable)
}

// BlockHasher computes a whole-stream checksum together with one checksum
// per fixed-size block. The final block may be short.
type BlockHasher struct {
	blockSize int
	whole     uint32
	block     uint32
	filled    int
	sums      []uint32
	length    int64
}

// NewBlockHasher returns a BlockHasher for blocks of blockSize bytes.
func NewBlockHasher(blockSize int) *BlockHasher {
	if blockSize <= 0 {
		panic("hash: block size must be positive")
	}
	return &BlockHasher{blockSize: blockSize}
}

// Write implements io.Writer. It never fails.
func (h *BlockHasher) Write(p []byte) (int, error) {
	n := len(p)
	h.whole = UpdateCRC32C(h.whole, p)
	h.length += int64(n)

	for len(p) > 0 {
		take := min(h.blockSize-h.filled, len(p))
		h.block = UpdateCRC32C(h.block, p[:take])
		h.filled += take
		p = p[take:]
		if h.filled == h.blockSize {
			h.sums = append(h.sums, h.block)
			h.block, h.filled = 0, 0
		}
	}
	return n, nil
}

// Sum32 returns the checksum of everything written so far.
func (h *BlockHasher) Sum32() uint32 { return h.whole }

// Len returns the number of bytes written.
func (h *BlockHasher) Len() int64 { return h.length }

// Blocks returns the per-block checksums, including a trailing partial block.
func (h *BlockHasher) Blocks() []uint32 {
	out := make([]uint32, len(h.sums), len(h.sums)+1)
	copy(out, h.sums)
	if h.filled > 0 {
		out = append(out, h.block)
	}
	return out
}
