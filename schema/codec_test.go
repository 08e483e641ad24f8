package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/fsd/internal/decompress"
)

const richSchema = `
type: dict
multiIndex: true
keyTypes: {type: int, min: 0}
valueTypes:
  type: object
  attributes:
    id: {type: int}
    name: {type: unicode}
    tag: {type: enum, isOptional: true, default: X, values: {X: 1, Y: 2}}
    flags: {type: enum, readEnumValue: true, values: {A: 0, B: 70000}}
    pos: {type: vector3, aliases: {x: 0, y: 1, z: 2}}
    weight: {type: double, isOptional: true, default: 0.25}
    up: {type: vector3, isOptional: true, default: [0, 1, 0]}
    children:
      type: list
      itemTypes: {type: int}
    fixed:
      type: list
      length: 2
      itemTypes: {type: string}
    choice:
      type: union
      optionTypes:
        - {type: int}
        - {type: string}
    blob:
      type: binary
      schema: {type: bool}
    opaque: {type: binary}
    lookup:
      type: dict
      buildIndex: true
      keyTypes: {type: string}
      valueTypes: {type: float}
indices:
  byName:
    keyTypes: {type: string}
  byGroup:
    ids: [g1, g2]
`

func TestMarshalRoundTrip(t *testing.T) {
	t.Parallel()

	n := mustOptimize(t, richSchema)
	data, err := Marshal(n)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, n, got)
	assert.True(t, Equal(n, got))
}

func TestMarshalCompressed(t *testing.T) {
	t.Parallel()

	n := mustOptimize(t, richSchema)
	data, err := Marshal(n, WithCompression())
	require.NoError(t, err)
	assert.True(t, decompress.IsZstd(data))

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.True(t, Equal(n, got))

	_, err = Unmarshal(data, WithMaxSize(16))
	assert.ErrorIs(t, err, ErrSizeOverflow)
}

func TestDecoderPoolReused(t *testing.T) {
	t.Parallel()

	assert.Same(t, decoderPool(DefaultMaxSchemaSize), decoderPool(DefaultMaxSchemaSize))
	assert.NotSame(t, decoderPool(DefaultMaxSchemaSize), decoderPool(1024))

	n := mustOptimize(t, richSchema)
	data, err := Marshal(n, WithCompression())
	require.NoError(t, err)
	for range 3 {
		got, err := Unmarshal(data)
		require.NoError(t, err)
		assert.True(t, Equal(n, got))
	}
}

func TestMarshalDeterministic(t *testing.T) {
	t.Parallel()

	a, err := Marshal(mustOptimize(t, richSchema))
	require.NoError(t, err)
	b, err := Marshal(mustOptimize(t, richSchema))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	da, err := Digest(mustOptimize(t, richSchema))
	require.NoError(t, err)
	db, err := Digest(mustOptimize(t, "type: int"))
	require.NoError(t, err)
	assert.NotEqual(t, da, db)
	assert.NoError(t, da.Validate())
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", []byte{1, 2, 3}},
		{"wrong identifier", []byte{8, 0, 0, 0, 'N', 'O', 'P', 'E', 0, 0, 0, 0}},
		{"bad root offset", []byte{0xff, 0xff, 0xff, 0x7f, 'F', 'S', 'D', 'S'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Unmarshal(tt.data)
			assert.ErrorIs(t, err, ErrInvalidSchema)
		})
	}
}

func TestUnmarshalTruncated(t *testing.T) {
	t.Parallel()

	orig := mustOptimize(t, richSchema)
	data, err := Marshal(orig)
	require.NoError(t, err)

	for _, cut := range []int{0, 9, len(data) / 3, len(data) / 2} {
		_, err := Unmarshal(data[:cut])
		assert.Error(t, err, "cut at %d", cut)
	}

	// Trailing alignment padding is not referenced, so some short prefixes
	// still decode. Any prefix that decodes must yield the same schema.
	for cut := range len(data) {
		got, err := Unmarshal(data[:cut])
		if err != nil {
			continue
		}
		assert.True(t, Equal(orig, got), "cut at %d decoded to a different schema", cut)
	}
}

func TestMarshalRejectsUnencodableDefault(t *testing.T) {
	t.Parallel()

	n := &Scalar{Common: Common{Type: "int", Size: 4, FixedSize: true, HasDefault: true, Default: map[string]int{}}, Scalar: ScalarInt}
	_, err := Marshal(n)
	assert.ErrorIs(t, err, ErrInvalidSchema)
}
