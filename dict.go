package fsd

import (
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/meigma/fsd/internal/codec"
	"github.com/meigma/fsd/internal/sizing"
	"github.com/meigma/fsd/schema"
)

// Mapping is the read contract shared by Dict, Index and the named
// sub-indices of a MultiIndex.
//
// Keys are compared by value: any Go integer type matches an int key,
// float32 and float64 match float keys, a whole-number float also matches the
// equal int key, and strings match string keys.
// A key of an unsupported type is simply not found.
type Mapping interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(key any) (any, error)

	// GetOrDefault returns the value stored under key, or def when the key
	// is absent. Errors are reserved for corrupt data.
	GetOrDefault(key, def any) (any, error)

	// Contains reports whether key is present.
	Contains(key any) (bool, error)

	// Len returns the number of keys.
	Len() int

	// Keys yields every key in key table order.
	Keys() iter.Seq2[any, error]
}

// Interface compliance.
var (
	_ Mapping = (*Dict)(nil)
	_ Mapping = (*Index)(nil)
	_ Mapping = (*MultiIndex)(nil)
	_ Mapping = chain(nil)
)

// frameBounds locates the parts of a dict frame
// [u32 L][payload][key table][u32 key table size] starting at off.
// It returns the payload base and the key table bounds.
func frameBounds(data []byte, off int) (base, tableStart, tableEnd int, err error) {
	l, err := codec.Offset(data, off)
	if err != nil {
		return 0, 0, 0, err
	}
	end, ok := sizing.AddInt(off, l)
	if !ok || l < codec.WordSize {
		return 0, 0, 0, fmt.Errorf("%w: dict length %d at offset %d", ErrCorrupt, l, off)
	}
	size, err := codec.Offset(data, end)
	if err != nil {
		return 0, 0, 0, err
	}
	base = off + codec.WordSize
	if size > end-base {
		return 0, 0, 0, fmt.Errorf("%w: key table of %d bytes exceeds dict of %d bytes", ErrCorrupt, size, l)
	}
	return base, end - size, end, nil
}

// Dict is an in-memory view of a sorted key to value mapping.
// It is safe for concurrent use.
type Dict struct {
	cfg    *config
	data   []byte
	schema *schema.Dict
	base   int
	end    int
	keys   keyTable

	mu   sync.Mutex
	memo map[any]ref
}

func newDict(cfg *config, data []byte, off int, n *schema.Dict) (*Dict, error) {
	base, start, end, err := frameBounds(data, off)
	if err != nil {
		return nil, err
	}
	keys, err := newKeyTable(cfg, data[:end], start, n.Key, n.Footer())
	if err != nil {
		return nil, fmt.Errorf("dict key table: %w", err)
	}
	return &Dict{
		cfg:    cfg,
		data:   data,
		schema: n,
		base:   base,
		end:    start,
		keys:   keys,
		memo:   make(map[any]ref),
	}, nil
}

// Schema returns the dict schema.
func (d *Dict) Schema() *schema.Dict {
	return d.schema
}

// Len returns the number of keys.
func (d *Dict) Len() int {
	return d.keys.Len()
}

func (d *Dict) lookup(key any) (ref, bool, error) {
	k, ok := normalizeKey(key)
	if !ok {
		return ref{}, false, nil
	}
	d.mu.Lock()
	r, hit := d.memo[k]
	d.mu.Unlock()
	if hit {
		return r, true, nil
	}
	r, found, err := d.keys.Lookup(k)
	if err != nil || !found {
		return ref{}, false, err
	}
	d.mu.Lock()
	d.memo[k] = r
	d.mu.Unlock()
	return r, true, nil
}

func (d *Dict) value(r ref) (any, error) {
	pos, ok := sizing.AddInt(d.base, r.offset)
	if !ok || pos > d.end {
		return nil, fmt.Errorf("%w: value offset %d outside dict payload", ErrCorrupt, r.offset)
	}
	return decode(d.cfg, d.data, pos, d.schema.Value)
}

// Get returns the value stored under key.
func (d *Dict) Get(key any) (any, error) {
	r, ok, err := d.lookup(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, key)
	}
	return d.value(r)
}

// GetOrDefault returns the value stored under key, or def if it is absent.
func (d *Dict) GetOrDefault(key, def any) (any, error) {
	v, err := d.Get(key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	return v, err
}

// Contains reports whether key is present.
func (d *Dict) Contains(key any) (bool, error) {
	_, ok, err := d.lookup(key)
	return ok, err
}

// Keys yields the keys in key table order.
func (d *Dict) Keys() iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for i := range d.keys.Len() {
			k, _, err := d.keys.At(i)
			if !yield(k, err) || err != nil {
				return
			}
		}
	}
}

// Values yields the values in key table order.
func (d *Dict) Values() iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for i := range d.keys.Len() {
			_, r, err := d.keys.At(i)
			var v any
			if err == nil {
				v, err = d.value(r)
			}
			if !yield(v, err) || err != nil {
				return
			}
		}
	}
}

// Range calls fn for every entry in key table order.
// It stops at the first error returned by fn or by decoding.
func (d *Dict) Range(fn func(key, value any) error) error {
	for i := range d.keys.Len() {
		k, r, err := d.keys.At(i)
		if err != nil {
			return err
		}
		v, err := d.value(r)
		if err != nil {
			return fmt.Errorf("key %v: %w", k, err)
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}
