// Package codec implements the fixed-width little-endian primitive readers
// every FSD loader is built on.
//
// Readers never read past off+width. A buffer that is too short is reported
// as fsdtype.ErrCorrupt.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/meigma/fsd/internal/fsdtype"
	"github.com/meigma/fsd/internal/sizing"
)

// WordSize is the size of every length, count and offset word.
const WordSize = 4

// BoolTrue is the byte value that encodes true. Any other value is false.
const BoolTrue = 0xFF

func short(b []byte, off, width int) error {
	return fmt.Errorf("%w: need %d bytes at offset %d, buffer has %d", fsdtype.ErrCorrupt, width, off, len(b))
}

func span(b []byte, off, width int) ([]byte, error) {
	if !sizing.InBounds(off, width, len(b)) {
		return nil, short(b, off, width)
	}
	return b[off : off+width], nil
}

// Uint32 reads an unsigned 32-bit integer.
func Uint32(b []byte, off int) (uint32, error) {
	p, err := span(b, off, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}

// Int32 reads a signed 32-bit integer.
func Int32(b []byte, off int) (int32, error) {
	v, err := Uint32(b, off)
	return int32(v), err //nolint:gosec // two's complement reinterpretation
}

// Offset reads an unsigned 32-bit word and returns it as an int.
func Offset(b []byte, off int) (int, error) {
	v, err := Uint32(b, off)
	if err != nil {
		return 0, err
	}
	return sizing.ToInt(uint64(v), fsdtype.ErrSizeOverflow)
}

// Uint reads an unsigned integer of width 1, 2 or 4 bytes.
func Uint(b []byte, off, width int) (uint32, error) {
	p, err := span(b, off, width)
	if err != nil {
		return 0, err
	}
	switch width {
	case 1:
		return uint32(p[0]), nil
	case 2:
		return uint32(binary.LittleEndian.Uint16(p)), nil
	case 4:
		return binary.LittleEndian.Uint32(p), nil
	default:
		return 0, fmt.Errorf("%w: unsupported integer width %d", fsdtype.ErrCorrupt, width)
	}
}

// Float32 reads an IEEE-754 single precision float.
func Float32(b []byte, off int) (float32, error) {
	v, err := Uint32(b, off)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// Float64 reads an IEEE-754 double precision float.
func Float64(b []byte, off int) (float64, error) {
	p, err := span(b, off, 8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(p)), nil
}

// Bool reads a single byte; only BoolTrue is true.
func Bool(b []byte, off int) (bool, error) {
	p, err := span(b, off, 1)
	if err != nil {
		return false, err
	}
	return p[0] == BoolTrue, nil
}

// Bytes reads a length-prefixed byte string.
// The returned slice aliases b.
func Bytes(b []byte, off int) ([]byte, error) {
	n, err := Offset(b, off)
	if err != nil {
		return nil, err
	}
	return span(b, off+WordSize, n)
}

// String reads a length-prefixed byte string and copies it into a string.
func String(b []byte, off int) (string, error) {
	p, err := Bytes(b, off)
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// ReadAt reads exactly n bytes at off from r.
func ReadAt(r io.ReaderAt, off int64, n int) ([]byte, error) {
	if off < 0 || n < 0 {
		return nil, fmt.Errorf("%w: read %d bytes at offset %d", fsdtype.ErrCorrupt, n, off)
	}
	buf := make([]byte, n)
	read, err := r.ReadAt(buf, off)
	if read == n {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: short read at offset %d (%d of %d bytes)", fsdtype.ErrCorrupt, off, read, n)
	}
	return nil, err
}

// Uint32At reads an unsigned 32-bit integer at off from r.
func Uint32At(r io.ReaderAt, off int64) (uint32, error) {
	p, err := ReadAt(r, off, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}
