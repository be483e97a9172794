package remote

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// UploadedSegmentMetadata describes the durable remote copy of one file.
type UploadedSegmentMetadata struct {
	OriginalName   string   `json:"original_name"`
	UploadedName   string   `json:"uploaded_name"`
	Checksum       uint32   `json:"checksum"`
	Length         int64    `json:"length"`
	BlockSize      int      `json:"block_size,omitempty"`
	BlockChecksums []uint32 `json:"block_checksums,omitempty"`
}

// separator joins the original name and the upload id in blob names.
const separator = "__"

// ErrInvalidMetadata is returned by Validate.
var ErrInvalidMetadata = errors.New("remote: invalid segment metadata")

// NumBlocks returns the number of blocks of size blockSize covering the file.
func (m *UploadedSegmentMetadata) NumBlocks(blockSize int) int64 {
	if blockSize <= 0 || m.Length == 0 {
		return 0
	}
	return (m.Length + int64(blockSize) - 1) / int64(blockSize)
}

// Verifiable reports whether per-block checksums are present.
func (m *UploadedSegmentMetadata) Verifiable() bool {
	return m.BlockSize > 0 && int64(len(m.BlockChecksums)) == m.NumBlocks(m.BlockSize)
}

// Validate checks internal consistency.
func (m *UploadedSegmentMetadata) Validate() error {
	switch {
	case m.OriginalName == "":
		return fmt.Errorf("%w: empty original name", ErrInvalidMetadata)
	case m.UploadedName == "":
		return fmt.Errorf("%w: %s: empty uploaded name", ErrInvalidMetadata, m.OriginalName)
	case m.Length < 0:
		return fmt.Errorf("%w: %s: negative length", ErrInvalidMetadata, m.OriginalName)
	case len(m.BlockChecksums) > 0 && !m.Verifiable():
		return fmt.Errorf("%w: %s: %d block checksums for %d bytes at block size %d",
			ErrInvalidMetadata, m.OriginalName, len(m.BlockChecksums), m.Length, m.BlockSize)
	}
	return nil
}

// Equal reports whether both describe the same uploaded copy.
func (m *UploadedSegmentMetadata) Equal(o *UploadedSegmentMetadata) bool {
	if m == nil || o == nil {
		return m == o
	}
	return m.OriginalName == o.OriginalName &&
		m.UploadedName == o.UploadedName &&
		m.Checksum == o.Checksum &&
		m.Length == o.Length &&
		m.BlockSize == o.BlockSize &&
		slices.Equal(m.BlockChecksums, o.BlockChecksums)
}

func (m UploadedSegmentMetadata) String() string {
	return fmt.Sprintf("%s -> %s (%d bytes, crc32c %08x)", m.OriginalName, m.UploadedName, m.Length, m.Checksum)
}

// OriginalName returns the file name an uploaded blob name was derived from.
func OriginalName(uploaded string) string {
	if i := strings.LastIndex(uploaded, separator); i > 0 {
		return uploaded[:i]
	}
	return uploaded
}
