package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hupe1980/tierstore/internal/hash"
)

// ErrCorruptEnvelope is returned for bytes that are not a valid envelope.
var ErrCorruptEnvelope = errors.New("codec: corrupt envelope")

var magic = [4]byte{'T', 'S', 'E', '1'}

// Envelope layout:
//
//	magic[4] | codecLen u8 | codec | compLen u8 | comp | crc32c u32 | payload
//
// The checksum covers the compressed payload.

// Encode marshals v with c, compresses it with comp and wraps both names
// into a header.
func Encode(c Codec, comp Compression, v any) ([]byte, error) {
	if c == nil {
		c = Default
	}
	if comp == nil {
		comp = None{}
	}
	raw, err := c.Marshal(v)
	if err != nil {
		return nil, err
	}
	payload, err := comp.Compress(raw)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(magic)+2+len(c.Name())+len(comp.Name())+4+len(payload))
	out = append(out, magic[:]...)
	out = append(out, byte(len(c.Name())))
	out = append(out, c.Name()...)
	out = append(out, byte(len(comp.Name())))
	out = append(out, comp.Name()...)
	out = binary.LittleEndian.AppendUint32(out, hash.CRC32C(payload))
	return append(out, payload...), nil
}

// Decode reverses Encode, selecting codec and compression from the header.
func Decode(data []byte, v any) error {
	if len(data) < len(magic) || [4]byte(data[:4]) != magic {
		return fmt.Errorf("%w: bad magic", ErrCorruptEnvelope)
	}
	rest := data[4:]

	readName := func() (string, error) {
		if len(rest) < 1 || len(rest) < 1+int(rest[0]) {
			return "", fmt.Errorf("%w: truncated header", ErrCorruptEnvelope)
		}
		n := int(rest[0])
		name := string(rest[1 : 1+n])
		rest = rest[1+n:]
		return name, nil
	}

	codecName, err := readName()
	if err != nil {
		return err
	}
	compName, err := readName()
	if err != nil {
		return err
	}
	if len(rest) < 4 {
		return fmt.Errorf("%w: truncated header", ErrCorruptEnvelope)
	}
	sum := binary.LittleEndian.Uint32(rest)
	payload := rest[4:]
	if hash.CRC32C(payload) != sum {
		return fmt.Errorf("%w: checksum mismatch", ErrCorruptEnvelope)
	}

	c, ok := ByName(codecName)
	if !ok {
		return fmt.Errorf("%w: unknown codec %q", ErrCorruptEnvelope, codecName)
	}
	comp, ok := CompressionByName(compName)
	if !ok {
		return fmt.Errorf("%w: unknown compression %q", ErrCorruptEnvelope, compName)
	}

	raw, err := comp.Decompress(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptEnvelope, err)
	}
	return c.Unmarshal(raw, v)
}
