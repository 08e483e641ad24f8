package fsd

import (
	"cmp"
	"fmt"
	"math"
	"strings"

	"github.com/meigma/fsd/internal/codec"
	"github.com/meigma/fsd/internal/sizing"
	"github.com/meigma/fsd/schema"
)

// ref locates one value relative to the payload base of its container.
// A zero size means the key table did not record one.
type ref struct {
	offset int
	size   int
}

// keyTable resolves keys to value locations. At walks entries in key order.
type keyTable interface {
	Len() int
	Lookup(key any) (ref, bool, error)
	At(i int) (any, ref, error)
}

// newKeyTable builds the key table stored at data[off:].
// Plain int keys use the flat triple table; every other key type uses a
// sorted list of {key, offset, size} objects.
func newKeyTable(cfg *config, data []byte, off int, key schema.Node, footer *schema.List) (keyTable, error) {
	if schema.IsIntKey(key) {
		unsigned := key.(*schema.Scalar).Unsigned //nolint:errcheck // IsIntKey guarantees a scalar
		return newIntKeyTable(data, off, unsigned)
	}
	return newSortedKeyTable(cfg, data, off, footer)
}

const tripleSize = 3 * codec.WordSize

// intKeyTable is the flat [count][key offset size]... table of integer keys.
type intKeyTable struct {
	data     []byte
	entries  int
	unsigned bool
	index    map[int]ref
}

func newIntKeyTable(data []byte, off int, unsigned bool) (*intKeyTable, error) {
	count, err := codec.Offset(data, off)
	if err != nil {
		return nil, err
	}
	span, ok := sizing.MulInt(count, tripleSize)
	if !ok || !sizing.InBounds(off+codec.WordSize, span, len(data)) {
		return nil, fmt.Errorf("%w: key table of %d entries at offset %d exceeds %d bytes", ErrCorrupt, count, off, len(data))
	}
	t := &intKeyTable{
		data:     data[off+codec.WordSize : off+codec.WordSize+span],
		entries:  count,
		unsigned: unsigned,
		index:    make(map[int]ref, count),
	}
	for i := range count {
		k, r, err := t.At(i)
		if err != nil {
			return nil, err
		}
		t.index[k.(int)] = r //nolint:errcheck // At always yields int keys
	}
	return t, nil
}

func (t *intKeyTable) Len() int { return t.entries }

func (t *intKeyTable) At(i int) (any, ref, error) {
	if i < 0 || i >= t.entries {
		return nil, ref{}, fmt.Errorf("%w: key %d of %d", ErrOutOfRange, i, t.entries)
	}
	p := i * tripleSize
	raw, err := codec.Uint32(t.data, p)
	if err != nil {
		return nil, ref{}, err
	}
	off, err := codec.Offset(t.data, p+codec.WordSize)
	if err != nil {
		return nil, ref{}, err
	}
	size, err := codec.Offset(t.data, p+2*codec.WordSize)
	if err != nil {
		return nil, ref{}, err
	}
	k := int(int32(raw)) //nolint:gosec // two's complement reinterpretation
	if t.unsigned {
		k = int(raw)
	}
	return k, ref{offset: off, size: size}, nil
}

func (t *intKeyTable) Lookup(key any) (ref, bool, error) {
	var k int
	switch key := key.(type) {
	case int:
		k = key
	case float64:
		if key != math.Trunc(key) || key < math.MinInt || key >= math.MaxInt {
			return ref{}, false, nil
		}
		k = int(key)
	default:
		return ref{}, false, nil
	}
	r, ok := t.index[k]
	return r, ok, nil
}

// sortedKeyTable binary-searches a list of footer objects.
type sortedKeyTable struct {
	list *List
}

func newSortedKeyTable(cfg *config, data []byte, off int, footer *schema.List) (*sortedKeyTable, error) {
	if footer == nil {
		return nil, fmt.Errorf("%w: dict has no key footer schema", ErrInvalidSchema)
	}
	item, ok := footer.Item.(*schema.Object)
	if !ok {
		return nil, fmt.Errorf("%w: key footer item is %T", ErrInvalidSchema, footer.Item)
	}
	for _, name := range []string{"key", "offset"} {
		if _, ok := item.Attribute(name); !ok {
			return nil, fmt.Errorf("%w: key footer item has no %q attribute", ErrInvalidSchema, name)
		}
	}
	l, err := newList(cfg, data, off, footer)
	if err != nil {
		return nil, err
	}
	return &sortedKeyTable{list: l}, nil
}

func (t *sortedKeyTable) Len() int { return t.list.Len() }

func (t *sortedKeyTable) At(i int) (any, ref, error) {
	v, err := t.list.Get(i)
	if err != nil {
		return nil, ref{}, err
	}
	row, ok := v.(*Object)
	if !ok {
		return nil, ref{}, fmt.Errorf("%w: key footer row is %T", ErrCorrupt, v)
	}
	rawKey, err := row.Get("key")
	if err != nil {
		return nil, ref{}, err
	}
	key, ok := normalizeKey(rawKey)
	if !ok {
		return nil, ref{}, fmt.Errorf("%w: unsupported footer key type %T", ErrCorrupt, rawKey)
	}
	var r ref
	if r.offset, err = rowInt(row, "offset"); err != nil {
		return nil, ref{}, err
	}
	if row.Has("size") {
		if r.size, err = rowInt(row, "size"); err != nil {
			return nil, ref{}, err
		}
	}
	return key, r, nil
}

func rowInt(row *Object, name string) (int, error) {
	v, err := row.Get(name)
	if err != nil {
		return 0, err
	}
	switch v := v.(type) {
	case uint32:
		return sizing.ToInt(uint64(v), ErrSizeOverflow)
	case int32:
		if v < 0 {
			return 0, fmt.Errorf("%w: negative %s %d", ErrCorrupt, name, v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("%w: key footer %s is %T", ErrCorrupt, name, v)
	}
}

func (t *sortedKeyTable) Lookup(key any) (ref, bool, error) {
	lo, hi := 0, t.list.Len()-1
	for lo <= hi {
		mid := int(uint(lo+hi) >> 1)
		k, r, err := t.At(mid)
		if err != nil {
			return ref{}, false, err
		}
		c, ok := compareKeys(key, k)
		if !ok {
			return ref{}, false, nil
		}
		switch {
		case c == 0:
			return r, true, nil
		case c < 0:
			hi = mid - 1
		default:
			lo = mid + 1
		}
	}
	return ref{}, false, nil
}

// normalizeKey maps caller and footer keys onto int, float64 or string so
// they compare by value regardless of their Go integer or float width.
func normalizeKey(key any) (any, bool) {
	switch k := key.(type) {
	case int:
		return k, true
	case int8:
		return int(k), true
	case int16:
		return int(k), true
	case int32:
		return int(k), true
	case int64:
		if k < math.MinInt || k > math.MaxInt {
			return nil, false
		}
		return int(k), true
	case uint:
		if uint64(k) > math.MaxInt {
			return nil, false
		}
		return int(k), true
	case uint8:
		return int(k), true
	case uint16:
		return int(k), true
	case uint32:
		return int(k), true
	case uint64:
		if k > math.MaxInt {
			return nil, false
		}
		return int(k), true
	case float32:
		return float64(k), true
	case float64:
		return k, true
	case string:
		return k, true
	case []byte:
		return string(k), true
	default:
		return nil, false
	}
}

// compareKeys orders two normalized keys. It reports false when the keys
// are of different kinds and cannot be compared.
func compareKeys(a, b any) (int, bool) {
	switch a := a.(type) {
	case int:
		switch b := b.(type) {
		case int:
			return cmp.Compare(a, b), true
		case float64:
			return cmp.Compare(float64(a), b), true
		}
	case float64:
		switch b := b.(type) {
		case float64:
			return cmp.Compare(a, b), true
		case int:
			return cmp.Compare(a, float64(b)), true
		}
	case string:
		if b, ok := b.(string); ok {
			return strings.Compare(a, b), true
		}
	}
	return 0, false
}
