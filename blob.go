package fsd

import (
	"github.com/meigma/fsd/internal/codec"
	"github.com/meigma/fsd/schema"
)

// Blob is a binary value: a length-prefixed byte string that holds a nested
// container. Its schema is either declared by the binary node or embedded at
// the front of the bytes.
type Blob struct {
	cfg    *config
	data   []byte
	schema *schema.Binary
}

func newBlob(cfg *config, data []byte, off int, n *schema.Binary) (*Blob, error) {
	b, err := codec.Bytes(data, off)
	if err != nil {
		return nil, err
	}
	return &Blob{cfg: cfg, data: b, schema: n}, nil
}

// Bytes returns the raw contents. The slice aliases the underlying buffer
// and must not be modified.
func (b *Blob) Bytes() []byte {
	return b.data
}

// Len returns the size of the contents in bytes.
func (b *Blob) Len() int {
	return len(b.data)
}

// Decode loads the contents as a nested root value.
func (b *Blob) Decode() (any, error) {
	return loadBytes(b.cfg, b.data, b.schema.Inner)
}
