package fsd

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/fsd/internal/testutil"
	"github.com/meigma/fsd/schema"
)

func mustDict(tb testing.TB, n schema.Node, pairs []testutil.Pair) *Dict {
	tb.Helper()
	d, ok := mustLoad(tb, n, pairs).(*Dict)
	require.True(tb, ok, "root is not a dict")
	return d
}

func collectKeys(tb testing.TB, m Mapping) []any {
	tb.Helper()
	var keys []any
	for k, err := range m.Keys() {
		require.NoError(tb, err)
		keys = append(keys, k)
	}
	return keys
}

func TestDictIntKeys(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, "type: dict\nkeyTypes: {type: int}\nvalueTypes: {type: string}")
	require.True(t, n.(*schema.Dict).IntKeys())

	d := mustDict(t, n, []testutil.Pair{
		{Key: 1, Value: "a"},
		{Key: 5, Value: "b"},
		{Key: 1000000, Value: "c"},
	})

	v, err := d.Get(5)
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	v, err = d.GetOrDefault(6, nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = d.Get(6)
	require.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 3, d.Len())
	assert.Equal(t, []any{1, 5, 1000000}, collectKeys(t, d))
}

func TestDictBackendsAgree(t *testing.T) {
	t.Parallel()

	intKeyed := mustSchema(t, "type: dict\nkeyTypes: {type: int}\nvalueTypes: {type: string}")
	generic := mustSchema(t, "type: dict\nkeyTypes: {type: typeID}\nvalueTypes: {type: string}")
	require.True(t, intKeyed.(*schema.Dict).IntKeys())
	require.False(t, generic.(*schema.Dict).IntKeys())

	rng := rand.New(rand.NewPCG(7, 11))
	for round := range 5 {
		t.Run(fmt.Sprintf("round=%d", round), func(t *testing.T) {
			seen := make(map[int]string)
			var pairs []testutil.Pair
			for len(pairs) < 200 {
				k := rng.IntN(2_000_000) - 1_000_000
				if _, dup := seen[k]; dup {
					continue
				}
				v := make([]byte, rng.IntN(64))
				for i := range v {
					v[i] = byte('a' + rng.IntN(26))
				}
				seen[k] = string(v)
				pairs = append(pairs, testutil.Pair{Key: k, Value: string(v)})
			}

			a := mustDict(t, intKeyed, pairs)
			b := mustDict(t, generic, pairs)
			require.Equal(t, len(pairs), a.Len())
			require.Equal(t, len(pairs), b.Len())

			for k, want := range seen {
				va, err := a.Get(k)
				require.NoError(t, err)
				vb, err := b.Get(k)
				require.NoError(t, err)
				assert.Equal(t, want, va)
				assert.Equal(t, va, vb)

				fa, err := a.Get(float64(k))
				require.NoError(t, err)
				fb, err := b.Get(float64(k))
				require.NoError(t, err)
				assert.Equal(t, want, fa)
				assert.Equal(t, fa, fb)

				okA, err := a.Contains(float64(k) + 0.5)
				require.NoError(t, err)
				okB, err := b.Contains(float64(k) + 0.5)
				require.NoError(t, err)
				assert.False(t, okA)
				assert.False(t, okB)
			}
			for range 200 {
				k := rng.IntN(4_000_000) - 2_000_000
				if _, ok := seen[k]; ok {
					continue
				}
				va, err := a.GetOrDefault(k, "absent")
				require.NoError(t, err)
				vb, err := b.GetOrDefault(k, "absent")
				require.NoError(t, err)
				assert.Equal(t, "absent", va)
				assert.Equal(t, "absent", vb)
			}

			keys := collectKeys(t, a)
			assert.True(t, slices.IsSortedFunc(keys, func(x, y any) int { return x.(int) - y.(int) }))
			assert.Equal(t, keys, collectKeys(t, b))
		})
	}
}

func TestDictZeroSizeValues(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, `
type: dict
keyTypes: {type: int}
valueTypes:
  type: object
  attributes:
    x: {type: int, usage: Server}
`)
	require.Zero(t, n.(*schema.Dict).Value.Base().Size)

	d := mustDict(t, n, []testutil.Pair{
		{Key: 1, Value: map[string]any{}},
		{Key: 2, Value: map[string]any{}},
	})
	for _, k := range []int{1, 2} {
		v, err := d.Get(k)
		require.NoError(t, err, "key %d", k)
		obj, ok := v.(*Object)
		require.True(t, ok, "got %T", v)
		assert.Empty(t, obj.Names())
	}
}

func TestDictKeyNormalization(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, "type: dict\nkeyTypes: {type: int}\nvalueTypes: {type: int}")
	d := mustDict(t, n, []testutil.Pair{{Key: 12, Value: 1}})

	for _, key := range []any{12, int8(12), int32(12), int64(12), uint16(12), uint64(12)} {
		ok, err := d.Contains(key)
		require.NoError(t, err)
		assert.True(t, ok, "%T", key)
	}
	for _, key := range []any{"12", struct{}{}, nil} {
		ok, err := d.Contains(key)
		require.NoError(t, err)
		assert.False(t, ok, "%T", key)
	}
}

func TestDictStringKeys(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, `
type: dict
keyTypes: {type: string}
valueTypes:
  type: object
  attributes:
    n: {type: int}
    label: {type: string, isOptional: true}
`)
	d := mustDict(t, n, []testutil.Pair{
		{Key: "pear", Value: map[string]any{"n": 3}},
		{Key: "apple", Value: map[string]any{"n": 1, "label": "red"}},
		{Key: "fig", Value: map[string]any{"n": 2}},
	})

	assert.Equal(t, []any{"apple", "fig", "pear"}, collectKeys(t, d))

	v, err := d.Get("apple")
	require.NoError(t, err)
	label, err := v.(*Object).String("label")
	require.NoError(t, err)
	assert.Equal(t, "red", label)

	ok, err := d.Contains("banana")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.Contains(7)
	require.NoError(t, err)
	assert.False(t, ok)

	var got []int32
	require.NoError(t, d.Range(func(_, value any) error {
		n, err := value.(*Object).Int("n")
		got = append(got, n)
		return err
	}))
	assert.Equal(t, []int32{1, 2, 3}, got)
}

func TestDictFloatKeys(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, "type: dict\nkeyTypes: {type: float}\nvalueTypes: {type: string}")
	d := mustDict(t, n, []testutil.Pair{
		{Key: 1.5, Value: "one and a half"},
		{Key: -2.25, Value: "minus"},
		{Key: 2.0, Value: "two"},
	})

	v, err := d.Get(float32(1.5))
	require.NoError(t, err)
	assert.Equal(t, "one and a half", v)

	v, err = d.Get(-2.25)
	require.NoError(t, err)
	assert.Equal(t, "minus", v)

	v, err = d.Get(2)
	require.NoError(t, err)
	assert.Equal(t, "two", v)
}

func TestDictValuesAndRangeStop(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, "type: dict\nkeyTypes: {type: int}\nvalueTypes: {type: int}")
	d := mustDict(t, n, []testutil.Pair{{Key: 3, Value: 30}, {Key: 1, Value: 10}, {Key: 2, Value: 20}})

	var values []any
	for v, err := range d.Values() {
		require.NoError(t, err)
		values = append(values, v)
	}
	assert.Equal(t, []any{int32(10), int32(20), int32(30)}, values)

	stop := errors.New("stop")
	calls := 0
	err := d.Range(func(_, _ any) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestDictConcurrentLookups(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, "type: dict\nkeyTypes: {type: string}\nvalueTypes: {type: int}")
	var pairs []testutil.Pair
	for i := range 50 {
		pairs = append(pairs, testutil.Pair{Key: fmt.Sprintf("k%02d", i), Value: i})
	}
	d := mustDict(t, n, pairs)

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				k := fmt.Sprintf("k%02d", (i+g)%50)
				v, err := d.Get(k)
				assert.NoError(t, err)
				assert.Equal(t, int32((i+g)%50), v)
			}
		}()
	}
	wg.Wait()
}

func TestDictCorrupt(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, "type: dict\nkeyTypes: {type: int}\nvalueTypes: {type: string}")
	good := testutil.MustEncode(t, n, []testutil.Pair{{Key: 1, Value: "a"}, {Key: 2, Value: "b"}})

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"truncated", func(b []byte) []byte { return b[:len(b)-2] }},
		{"length past end", func(b []byte) []byte {
			b[0], b[1] = 0xFF, 0xFF
			return b
		}},
		{"key table larger than dict", func(b []byte) []byte {
			b[len(b)-1] = 0x7F
			return b
		}},
		{"entry count too large", func(b []byte) []byte {
			// The key table of two entries is 4 + 2*12 bytes before the size word.
			b[len(b)-4-28] = 0xFF
			return b
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadFromBytes(tt.mutate(slices.Clone(good)), n)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestDictValueOffsetOutsidePayload(t *testing.T) {
	t.Parallel()

	n := mustSchema(t, "type: dict\nkeyTypes: {type: int}\nvalueTypes: {type: int}")
	data := testutil.MustEncode(t, n, []testutil.Pair{{Key: 1, Value: 5}})

	// Point the only entry's offset at the key table.
	// Layout: [L][value 4][count][key][offset][size][table size].
	data[4+4+4+4] = 8
	d, err := LoadFromBytes(data, n)
	require.NoError(t, err)
	_, err = d.(*Dict).Get(1)
	assert.ErrorIs(t, err, ErrCorrupt)
}
