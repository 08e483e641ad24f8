package fsd

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/fsd/internal/testutil"
	"github.com/meigma/fsd/schema"
)

// mustSchema parses and optimizes a YAML schema for the client usage.
func mustSchema(tb testing.TB, src string) schema.Node {
	tb.Helper()
	raw, err := schema.Parse([]byte(src))
	require.NoError(tb, err)
	n, err := schema.Optimize(raw, "")
	require.NoError(tb, err)
	return n
}

// mustLoad encodes v with n and loads it back.
func mustLoad(tb testing.TB, n schema.Node, v any) any {
	tb.Helper()
	root, err := LoadFromBytes(testutil.MustEncode(tb, n, v), n)
	require.NoError(tb, err)
	return root
}

func mustObject(tb testing.TB, n schema.Node, v map[string]any) *Object {
	tb.Helper()
	obj, ok := mustLoad(tb, n, v).(*Object)
	require.True(tb, ok, "root is not an object")
	return obj
}

const itemSchema = `
type: object
attributes:
  id: {type: int}
  name: {type: string}
  tag:
    type: enum
    isOptional: true
    values: {X: 1, Y: 2}
`

func TestObjectOptionalAttribute(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, itemSchema)

	a := mustObject(t, n, map[string]any{"id": 42, "name": "foo"})
	id, err := a.Int("id")
	require.NoError(t, err)
	assert.Equal(t, int32(42), id)
	name, err := a.String("name")
	require.NoError(t, err)
	assert.Equal(t, "foo", name)
	assert.False(t, a.Has("tag"))
	_, err = a.Get("tag")
	assert.ErrorIs(t, err, ErrAttributeNotFound)

	b := mustObject(t, n, map[string]any{"id": 7, "name": "bar", "tag": "X"})
	id, err = b.Int("id")
	require.NoError(t, err)
	assert.Equal(t, int32(7), id)
	name, err = b.String("name")
	require.NoError(t, err)
	assert.Equal(t, "bar", name)
	assert.True(t, b.Has("tag"))
	tag, err := b.String("tag")
	require.NoError(t, err)
	assert.Equal(t, "X", tag)
}

func TestObjectOptionalDefault(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, `
type: object
attributes:
  id: {type: int}
  tag:
    type: enum
    isOptional: true
    default: Y
    values: {X: 1, Y: 2}
  weight: {type: float, isOptional: true, default: 1.5}
`)
	obj := mustObject(t, n, map[string]any{"id": 1})

	tag, err := obj.Get("tag")
	require.NoError(t, err)
	assert.Equal(t, "Y", tag)

	w, err := obj.Float("weight")
	require.NoError(t, err)
	assert.InDelta(t, 1.5, w, 1e-9)
	assert.False(t, obj.Has("weight"))
}

func TestObjectOptionalSubsets(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, `
type: object
attributes:
  a: {type: int, isOptional: true}
  b: {type: string, isOptional: true}
  c: {type: float, isOptional: true}
  d: {type: string}
`)
	full := map[string]any{"a": 11, "b": "bee", "c": 2.5}
	names := []string{"a", "b", "c"}

	for mask := range 1 << len(names) {
		t.Run(fmt.Sprintf("mask=%03b", mask), func(t *testing.T) {
			t.Parallel()

			v := map[string]any{"d": "always"}
			for i, name := range names {
				if mask&(1<<i) != 0 {
					v[name] = full[name]
				}
			}
			obj := mustObject(t, n, v)

			for i, name := range names {
				present := mask&(1<<i) != 0
				assert.Equal(t, present, obj.Has(name), name)
				got, err := obj.Get(name)
				if !present {
					assert.ErrorIs(t, err, ErrAttributeNotFound, name)
					continue
				}
				require.NoError(t, err, name)
				switch name {
				case "a":
					assert.Equal(t, int32(11), got)
				case "b":
					assert.Equal(t, "bee", got)
				case "c":
					assert.Equal(t, float32(2.5), got)
				}
			}
			d, err := obj.String("d")
			require.NoError(t, err)
			assert.Equal(t, "always", d)
		})
	}
}

func TestObjectFixedSize(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, `
type: object
attributes:
  a: {type: int}
  b: {type: bool}
  c: {type: float}
  d: {type: enum, values: {A: 0, B: 300}}
  e: {type: typeID, min: 0}
`)
	require.True(t, n.Base().FixedSize)

	obj := mustObject(t, n, map[string]any{"a": -5, "b": true, "c": 0.25, "d": "B", "e": 4000000000})

	a, err := obj.Int("a")
	require.NoError(t, err)
	assert.Equal(t, int32(-5), a)
	b, err := obj.Bool("b")
	require.NoError(t, err)
	assert.True(t, b)
	c, err := obj.Float("c")
	require.NoError(t, err)
	assert.InDelta(t, 0.25, c, 1e-9)
	d, err := obj.String("d")
	require.NoError(t, err)
	assert.Equal(t, "B", d)
	e, err := obj.Uint("e")
	require.NoError(t, err)
	assert.Equal(t, uint32(4000000000), e)
}

func TestObjectNested(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, `
type: object
attributes:
  pos: {type: vector3}
  inner:
    type: object
    attributes:
      label: {type: string}
      scores: {type: list, itemTypes: {type: int}}
  meta:
    type: dict
    keyTypes: {type: string}
    valueTypes: {type: int}
`)
	obj := mustObject(t, n, map[string]any{
		"pos": []float64{1, 2, 3},
		"inner": map[string]any{
			"label":  "in",
			"scores": []any{3, 1, 4},
		},
		"meta": []testutil.Pair{{Key: "k", Value: 9}},
	})

	pos, err := obj.Get("pos")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, pos)

	inner, err := obj.Object("inner")
	require.NoError(t, err)
	label, err := inner.String("label")
	require.NoError(t, err)
	assert.Equal(t, "in", label)
	scores, err := inner.List("scores")
	require.NoError(t, err)
	items, err := scores.Slice()
	require.NoError(t, err)
	assert.Equal(t, []any{int32(3), int32(1), int32(4)}, items)

	meta, err := obj.Dict("meta")
	require.NoError(t, err)
	v, err := meta.Get("k")
	require.NoError(t, err)
	assert.Equal(t, int32(9), v)
}

func TestObjectErrors(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, itemSchema)
	obj := mustObject(t, n, map[string]any{"id": 1, "name": "x"})

	_, err := obj.Get("missing")
	require.ErrorIs(t, err, ErrUnknownAttribute)
	assert.False(t, obj.Has("missing"))

	_, err = obj.Bool("id")
	require.ErrorIs(t, err, ErrTypeMismatch)

	_, err = obj.Float("name")
	require.ErrorIs(t, err, ErrTypeMismatch)

	v, err := obj.GetOrDefault("tag", "none")
	require.NoError(t, err)
	assert.Equal(t, "none", v)

	v, err = obj.GetOrDefault("name", "none")
	require.NoError(t, err)
	assert.Equal(t, "x", v)
}

func TestObjectDescribe(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, itemSchema)
	obj := mustObject(t, n, map[string]any{"id": 3, "name": "foo"})

	assert.Equal(t, `{id:3 name:"foo" tag:NULL}`, obj.Describe())
	assert.Equal(t, []string{"id", "name", "tag"}, obj.Names())
}

func TestObjectCorruptOffsetTable(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, itemSchema)
	data := testutil.MustEncode(t, n, map[string]any{"id": 3, "name": "foo"})

	// Truncate inside the offset table: id (4) + bitmask (4) + one word.
	_, err := LoadFromBytes(data[:10], n)
	assert.ErrorIs(t, err, ErrCorrupt)
}
