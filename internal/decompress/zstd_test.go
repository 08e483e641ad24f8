package decompress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/fsd/internal/fsdtype"
)

func TestCompressRoundTrip(t *testing.T) {
	t.Parallel()

	src := bytes.Repeat([]byte("fsd schema "), 200)
	compressed, err := Compress(src)
	require.NoError(t, err)
	assert.True(t, IsZstd(compressed))
	assert.Less(t, len(compressed), len(src))

	out, err := NewPool(0).DecodeAll(compressed)
	require.NoError(t, err)
	assert.Equal(t, src, out)
}

func TestDecodeAllLimit(t *testing.T) {
	t.Parallel()

	src := bytes.Repeat([]byte{0}, 1<<16)
	compressed, err := Compress(src)
	require.NoError(t, err)

	_, err = NewPool(1024).DecodeAll(compressed)
	assert.ErrorIs(t, err, fsdtype.ErrSizeOverflow)
}

func TestDecodeAllGarbage(t *testing.T) {
	t.Parallel()

	garbage := append(bytes.Clone(Magic), 0xde, 0xad, 0xbe, 0xef)
	_, err := NewPool(0).DecodeAll(garbage)
	assert.ErrorIs(t, err, fsdtype.ErrCorrupt)
}

func TestIsZstd(t *testing.T) {
	t.Parallel()

	assert.False(t, IsZstd(nil))
	assert.False(t, IsZstd([]byte{0x28, 0xB5}))
	assert.False(t, IsZstd([]byte("FSDS....")))
}
