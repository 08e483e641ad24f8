package fsd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/fsd/internal/testutil"
	"github.com/meigma/fsd/schema"
)

const typesSchema = `
type: dict
multiIndex: true
keyTypes: {type: int}
valueTypes:
  type: object
  attributes:
    name: {type: string}
    volume: {type: float}
indices:
  byName:
    keyTypes: {type: string}
  byGroup:
    ids: [groupA, groupB]
`

func typesData() testutil.MultiIndexData {
	return testutil.MultiIndexData{
		Entries: []testutil.Pair{
			{Key: 1, Value: map[string]any{"name": "alpha", "volume": 1.0}},
			{Key: 2, Value: map[string]any{"name": "beta", "volume": 2.5}},
			{Key: 3, Value: map[string]any{"name": "gamma", "volume": 0.5}},
		},
		Sub: map[string][]testutil.Pair{
			"byName": {{Key: "alpha", Value: 1}, {Key: "beta", Value: 2}, {Key: "gamma", Value: 3}},
			"groupA": {{Key: 100, Value: 1}, {Key: 200, Value: 2}},
			"groupB": {{Key: 300, Value: 3}, {Key: 100, Value: 3}},
		},
	}
}

func mustMultiIndex(tb testing.TB, data testutil.MultiIndexData, opts ...Option) *MultiIndex {
	tb.Helper()
	n := mustSchema(tb, typesSchema)
	raw, err := testutil.EncodeMultiIndex(n.(*schema.Dict), data)
	require.NoError(tb, err)
	m, err := LoadIndexFromFile(testutil.NewMockByteSource(raw), n, 16, opts...)
	require.NoError(tb, err)
	mi, ok := m.(*MultiIndex)
	require.True(tb, ok, "got %T", m)
	return mi
}

func TestMultiIndexNames(t *testing.T) {
	t.Parallel()

	mi := mustMultiIndex(t, typesData())
	assert.Equal(t, []string{"byName", "byGroup"}, mi.Names())
	assert.Equal(t, 3, mi.Len())

	_, ok := mi.Named("byColor")
	assert.False(t, ok)
}

func TestMultiIndexConsistency(t *testing.T) {
	t.Parallel()

	for _, concurrency := range []int{0, 1, 4} {
		mi := mustMultiIndex(t, typesData(), WithFooterConcurrency(concurrency))

		byName, ok := mi.Named("byName")
		require.True(t, ok)
		byGroup, ok := mi.Named("byGroup")
		require.True(t, ok)

		main, err := mi.Get(2)
		require.NoError(t, err)
		viaName, err := byName.Get("beta")
		require.NoError(t, err)
		viaGroup, err := byGroup.Get(200)
		require.NoError(t, err)

		assert.Equal(t, main.(*Object).Describe(), viaName.(*Object).Describe())
		assert.Equal(t, main.(*Object).Describe(), viaGroup.(*Object).Describe())
		assert.Equal(t, `{name:"beta" volume:2.5}`, viaName.(*Object).Describe())
	}
}

func TestMultiIndexChain(t *testing.T) {
	t.Parallel()

	mi := mustMultiIndex(t, typesData())
	byGroup, ok := mi.Named("byGroup")
	require.True(t, ok)

	v, err := byGroup.Get(300)
	require.NoError(t, err)
	name, err := v.(*Object).String("name")
	require.NoError(t, err)
	assert.Equal(t, "gamma", name)

	// 100 is in both groups; the first id wins.
	v, err = byGroup.Get(100)
	require.NoError(t, err)
	name, err = v.(*Object).String("name")
	require.NoError(t, err)
	assert.Equal(t, "alpha", name)

	ok, err = byGroup.Contains(999)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = byGroup.Get(999)
	require.ErrorIs(t, err, ErrNotFound)

	v, err = byGroup.GetOrDefault(999, "none")
	require.NoError(t, err)
	assert.Equal(t, "none", v)

	assert.Equal(t, 4, byGroup.Len())
	assert.Equal(t, []any{100, 200, 100, 300}, collectKeys(t, byGroup))
}

func TestMultiIndexMissingSubIndex(t *testing.T) {
	t.Parallel()

	data := typesData()
	delete(data.Sub, "groupB")

	n := mustSchema(t, typesSchema)
	raw, err := testutil.EncodeMultiIndex(n.(*schema.Dict), data)
	require.NoError(t, err)
	_, err = LoadIndexFromFile(testutil.NewMockByteSource(raw), n, 0)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestMultiIndexRejectedInMemory(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, typesSchema)
	raw, err := testutil.EncodeMultiIndex(n.(*schema.Dict), typesData())
	require.NoError(t, err)
	_, err = LoadFromBytes(raw, n)
	assert.ErrorIs(t, err, ErrUnsupportedSchema)
}
