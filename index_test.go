package fsd

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/fsd/internal/testutil"
	"github.com/meigma/fsd/schema"
)

const playerSchema = `
type: dict
keyTypes: {type: int}
valueTypes:
  type: object
  attributes:
    id: {type: int}
    name: {type: string}
    level: {type: int, isOptional: true, default: 1}
`

func playerPairs(n int) []testutil.Pair {
	pairs := make([]testutil.Pair, 0, n)
	for i := range n {
		v := map[string]any{"id": i, "name": fmt.Sprintf("player-%d", i)}
		if i%3 == 0 {
			v["level"] = i * 10
		}
		pairs = append(pairs, testutil.Pair{Key: i * 7, Value: v})
	}
	return pairs
}

func mustIndex(tb testing.TB, src *testutil.MockByteSource, n schema.Node, cacheSize int, opts ...Option) *Index {
	tb.Helper()
	m, err := LoadIndexFromFile(src, n, cacheSize, opts...)
	require.NoError(tb, err)
	ix, ok := m.(*Index)
	require.True(tb, ok, "got %T", m)
	return ix
}

// describe renders a looked-up value so results of different views compare by content.
func describe(tb testing.TB, v any) string {
	tb.Helper()
	if o, ok := v.(*Object); ok {
		return o.Describe()
	}
	return fmt.Sprint(v)
}

func TestIndexLookup(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, playerSchema)
	src := testutil.NewMockByteSource(testutil.MustEncode(t, n, playerPairs(30)))
	ix := mustIndex(t, src, n, 8)

	assert.Equal(t, 30, ix.Len())
	v, err := ix.Get(21)
	require.NoError(t, err)
	obj := v.(*Object)
	name, err := obj.String("name")
	require.NoError(t, err)
	assert.Equal(t, "player-3", name)
	level, err := obj.Int("level")
	require.NoError(t, err)
	assert.Equal(t, int32(30), level)

	v, err = ix.Get(14)
	require.NoError(t, err)
	level, err = v.(*Object).Int("level")
	require.NoError(t, err)
	assert.Equal(t, int32(1), level, "absent level falls back to the default")

	_, err = ix.Get(22)
	require.ErrorIs(t, err, ErrNotFound)
	v, err = ix.GetOrDefault(22, "none")
	require.NoError(t, err)
	assert.Equal(t, "none", v)

	ok, err := ix.Contains(0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIndexReadsOnlyTheValue(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, playerSchema)
	pairs := playerPairs(100)
	data := testutil.MustEncode(t, n, pairs)
	src := testutil.NewMockByteSource(data)
	ix := mustIndex(t, src, n, 8)

	src.ResetCounters()
	_, err := ix.Get(7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), src.Reads())

	one := testutil.MustEncode(t, n.(*schema.Dict).Value, pairs[1].Value)
	assert.Equal(t, int64(len(one)), src.BytesRead())
}

func TestIndexCache(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, playerSchema)
	src := testutil.NewMockByteSource(testutil.MustEncode(t, n, playerPairs(10)))
	ix := mustIndex(t, src, n, 4)

	_, err := ix.Get(7)
	require.NoError(t, err)
	src.ResetCounters()

	_, err = ix.Get(7)
	require.NoError(t, err)
	assert.Zero(t, src.Reads(), "second lookup should be served from the cache")

	stats := ix.CacheStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestIndexCacheTransparency(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, playerSchema)
	pairs := playerPairs(40)
	data := testutil.MustEncode(t, n, pairs)

	const k = 3
	cached := mustIndex(t, testutil.NewMockByteSource(data), n, k)
	cold := mustIndex(t, testutil.NewMockByteSource(data), n, 0)

	for round := range 3 {
		for i, p := range pairs {
			// Revisit earlier keys after more than k others were looked up.
			key := pairs[(i*5+round)%len(pairs)].Key
			if i%2 == 0 {
				key = p.Key
			}
			want, err := cold.Get(key)
			require.NoError(t, err)
			got, err := cached.Get(key)
			require.NoError(t, err)
			assert.Equal(t, describe(t, want), describe(t, got), "key %v", key)
		}
	}
	assert.Positive(t, cached.CacheStats().Evictions)
	assert.Zero(t, cold.CacheStats().Hits)
}

func TestIndexKeysAndRange(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, "type: dict\nkeyTypes: {type: string}\nvalueTypes: {type: int}")
	data := testutil.MustEncode(t, n, []testutil.Pair{
		{Key: "b", Value: 2}, {Key: "c", Value: 3}, {Key: "a", Value: 1},
	})
	ix := mustIndex(t, testutil.NewMockByteSource(data), n, 0)

	assert.Equal(t, []any{"a", "b", "c"}, collectKeys(t, ix))

	sum := int32(0)
	require.NoError(t, ix.Range(func(_, v any) error {
		sum += v.(int32)
		return nil
	}))
	assert.Equal(t, int32(6), sum)
}

func TestIndexNested(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, `
type: dict
keyTypes: {type: int}
valueTypes:
  type: dict
  buildIndex: true
  keyTypes: {type: string}
  valueTypes: {type: unicode}
`)
	data := testutil.MustEncode(t, n, []testutil.Pair{
		{Key: 1, Value: []testutil.Pair{{Key: "en", Value: "hello"}, {Key: "de", Value: "hallo"}}},
		{Key: 2, Value: []testutil.Pair{{Key: "fr", Value: "bonjour"}}},
	})
	ix := mustIndex(t, testutil.NewMockByteSource(data), n, 4)

	v, err := ix.Get(1)
	require.NoError(t, err)
	inner, ok := v.(*Index)
	require.True(t, ok, "got %T", v)
	assert.Equal(t, 2, inner.Len())

	s, err := inner.Get("de")
	require.NoError(t, err)
	assert.Equal(t, "hallo", s)

	v, err = ix.Get(2)
	require.NoError(t, err)
	s, err = v.(*Index).Get("fr")
	require.NoError(t, err)
	assert.Equal(t, "bonjour", s)
}

func TestIndexWithOffset(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, playerSchema)
	prefix := bytes.Repeat([]byte{0xAB}, 17)
	data := append(prefix, testutil.MustEncode(t, n, playerPairs(5))...)
	ix := mustIndex(t, testutil.NewMockByteSource(data), n, 2, WithOffset(int64(len(prefix))))

	v, err := ix.Get(28)
	require.NoError(t, err)
	id, err := v.(*Object).Int("id")
	require.NoError(t, err)
	assert.Equal(t, int32(4), id)
}

func TestIndexEmbeddedSchema(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, playerSchema)
	data, err := testutil.EncodeWithSchema(n, playerPairs(5), schema.WithCompression())
	require.NoError(t, err)

	m, err := LoadIndexFromFile(testutil.NewMockByteSource(data), nil, 2)
	require.NoError(t, err)
	v, err := m.Get(14)
	require.NoError(t, err)
	name, err := v.(*Object).String("name")
	require.NoError(t, err)
	assert.Equal(t, "player-2", name)
}

func TestIndexFooterWithoutSize(t *testing.T) {
	t.Parallel()

	d := mustSchema(t, "type: dict\nkeyTypes: {type: string}\nvalueTypes: {type: string}").(*schema.Dict)
	word := &schema.Scalar{
		Common:   schema.Common{Type: "int", Size: 4, FixedSize: true},
		Scalar:   schema.ScalarInt,
		Unsigned: true,
	}
	d.KeyFooter = schema.NewList(schema.NewObject("object", []schema.Attribute{
		{Name: "key", Node: d.Key},
		{Name: "offset", Node: word},
	}))

	data := testutil.MustEncode(t, d, []testutil.Pair{{Key: "x", Value: "first"}, {Key: "y", Value: "second"}})

	src := testutil.NewMockByteSource(data)
	ix := mustIndex(t, src, d, 0)

	for key, want := range map[string]string{"x": "first", "y": "second"} {
		src.ResetCounters()
		v, err := ix.Get(key)
		require.NoError(t, err)
		assert.Equal(t, want, v)

		// Only the value itself is read, not the rest of the payload.
		assert.Equal(t, int64(1), src.Reads())
		assert.Equal(t, int64(4+len(want)), src.BytesRead())
	}
}

func TestIndexZeroSizeValues(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, `
type: dict
keyTypes: {type: int}
valueTypes:
  type: object
  attributes:
    x: {type: int, usage: Server}
`)
	data := testutil.MustEncode(t, n, []testutil.Pair{
		{Key: 1, Value: map[string]any{}},
		{Key: 2, Value: map[string]any{}},
	})
	ix := mustIndex(t, testutil.NewMockByteSource(data), n, 4)

	for _, k := range []int{1, 2} {
		v, err := ix.Get(k)
		require.NoError(t, err, "key %d", k)
		obj, ok := v.(*Object)
		require.True(t, ok, "got %T", v)
		assert.Empty(t, obj.Names())
	}
}

func TestIndexResetCache(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, playerSchema)
	src := testutil.NewMockByteSource(testutil.MustEncode(t, n, playerPairs(10)))
	ix := mustIndex(t, src, n, 8)

	_, err := ix.Get(7)
	require.NoError(t, err)
	_, err = ix.Get(7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ix.CacheStats().Hits)

	ix.ResetCache()
	src.ResetCounters()
	_, err = ix.Get(7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), src.Reads())
	assert.Equal(t, int64(1), ix.CacheStats().Hits)
}

func TestIndexRejectsNonDict(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, "type: list\nitemTypes: {type: int}")
	data := testutil.MustEncode(t, n, []any{1})
	_, err := LoadIndexFromFile(testutil.NewMockByteSource(data), n, 0)
	assert.ErrorIs(t, err, ErrUnsupportedSchema)
}

func TestIndexTruncated(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, playerSchema)
	data := testutil.MustEncode(t, n, playerPairs(5))
	_, err := LoadIndexFromFile(testutil.NewMockByteSource(data[:len(data)-3]), n, 0)
	assert.ErrorIs(t, err, ErrCorrupt)
}
