// Package decompress wraps zstd for schema blobs and compressed containers.
package decompress

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/meigma/fsd/internal/fsdtype"
)

// Magic is the zstd frame magic number.
var Magic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// IsZstd reports whether b starts with a zstd frame.
func IsZstd(b []byte) bool {
	return bytes.HasPrefix(b, Magic)
}

// Pool manages reusable zstd decoders bounded by a maximum output size.
type Pool struct {
	pool      sync.Pool
	maxMemory uint64
}

// NewPool creates a decoder pool. If maxMemory is 0, no limit is applied.
func NewPool(maxMemory uint64) *Pool {
	p := &Pool{maxMemory: maxMemory}
	p.pool.New = func() any {
		dec, err := p.newDecoder()
		if err != nil {
			return nil
		}
		return dec
	}
	return p
}

func (p *Pool) newDecoder() (*zstd.Decoder, error) {
	opts := []zstd.DOption{zstd.WithDecoderConcurrency(1)}
	if p.maxMemory != 0 {
		opts = append(opts, zstd.WithDecoderMaxMemory(p.maxMemory))
	}
	return zstd.NewReader(nil, opts...)
}

// DecodeAll decompresses src in one shot.
// Output larger than the pool limit fails with fsdtype.ErrSizeOverflow.
func (p *Pool) DecodeAll(src []byte) ([]byte, error) {
	var h zstd.Header
	if err := h.Decode(src); err == nil && h.HasFCS && p.maxMemory != 0 && h.FrameContentSize > p.maxMemory {
		return nil, fmt.Errorf("%w: decompressed size %d exceeds %d bytes", fsdtype.ErrSizeOverflow, h.FrameContentSize, p.maxMemory)
	}

	dec, ok := p.pool.Get().(*zstd.Decoder)
	if !ok || dec == nil {
		var err error
		if dec, err = p.newDecoder(); err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
	}
	defer p.pool.Put(dec)

	out, err := dec.DecodeAll(src, nil)
	if err != nil {
		if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
			return nil, fmt.Errorf("%w: decompressed size exceeds %d bytes", fsdtype.ErrSizeOverflow, p.maxMemory)
		}
		return nil, fmt.Errorf("%w: zstd: %v", fsdtype.ErrCorrupt, err)
	}
	if p.maxMemory != 0 && uint64(len(out)) > p.maxMemory {
		return nil, fmt.Errorf("%w: decompressed size exceeds %d bytes", fsdtype.ErrSizeOverflow, p.maxMemory)
	}
	return out, nil
}

var encoders = sync.Pool{
	New: func() any {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil
		}
		return enc
	},
}

// Compress encodes src as a single zstd frame.
func Compress(src []byte) ([]byte, error) {
	enc, ok := encoders.Get().(*zstd.Encoder)
	if !ok || enc == nil {
		var err error
		if enc, err = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1)); err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
	}
	defer encoders.Put(enc)
	return enc.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
}
