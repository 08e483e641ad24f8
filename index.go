package fsd

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"
	"sync"

	"github.com/meigma/fsd/cache"
	"github.com/meigma/fsd/internal/codec"
	"github.com/meigma/fsd/internal/sizing"
	"github.com/meigma/fsd/schema"
)

// Index is a disk-backed dict. Only the key table is held in memory; each
// lookup reads the value's bytes from the underlying reader and decodes them.
//
// Decoded values are kept in a bounded LRU cache. When the value schema is a
// dict marked to build an index, lookups return a nested *Index instead of an
// in-memory *Dict.
//
// Index is safe for concurrent use if the underlying io.ReaderAt is.
type Index struct {
	cfg    *config
	r      io.ReaderAt
	value  schema.Node
	schema *schema.Dict

	// base is the absolute position of the payload; end is the absolute
	// position of the first byte past the region values may occupy.
	base int64
	end  int64

	keys      keyTable
	tableSize int
	values    *cache.Cache[int64, any]
	cacheSize int

	// bounds is built from the main key table and shared with sub-indices.
	bounds *valueBounds
}

// valueBounds holds the sorted value offsets of a key table. Values whose
// size was not recorded end where the next value starts.
type valueBounds struct {
	keys    keyTable
	once    sync.Once
	offsets []int
	err     error
}

// next returns the smallest value offset greater than off.
func (b *valueBounds) next(off int) (int, bool, error) {
	b.once.Do(func() {
		offs := make([]int, 0, b.keys.Len())
		for i := range b.keys.Len() {
			_, r, err := b.keys.At(i)
			if err != nil {
				b.err = err
				return
			}
			offs = append(offs, r.offset)
		}
		slices.Sort(offs)
		b.offsets = slices.Compact(offs)
	})
	if b.err != nil {
		return 0, false, b.err
	}
	i, found := slices.BinarySearch(b.offsets, off)
	if found {
		i++
	}
	if i == len(b.offsets) {
		return 0, false, nil
	}
	return b.offsets[i], true, nil
}

// frameAt reads the dict frame header at off and returns the payload base,
// key table start and key table end, all absolute.
func frameAt(r io.ReaderAt, off int64) (base, tableStart, tableEnd int64, err error) {
	l, err := codec.Uint32At(r, off)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("read dict length: %w", err)
	}
	if l < codec.WordSize {
		return 0, 0, 0, fmt.Errorf("%w: dict length %d at offset %d", ErrCorrupt, l, off)
	}
	end, ok := sizing.AddInt64(off, int64(l))
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: dict at offset %d", ErrSizeOverflow, off)
	}
	size, err := codec.Uint32At(r, end)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("read key table size: %w", err)
	}
	base = off + codec.WordSize
	if int64(size) > end-base {
		return 0, 0, 0, fmt.Errorf("%w: key table of %d bytes exceeds dict of %d bytes", ErrCorrupt, size, l)
	}
	return base, end - int64(size), end, nil
}

func newIndex(cfg *config, r io.ReaderAt, off int64, n *schema.Dict, cacheSize int) (*Index, error) {
	base, start, end, err := frameAt(r, off)
	if err != nil {
		return nil, err
	}
	table, err := readTable(r, start, end-start)
	if err != nil {
		return nil, err
	}
	keys, err := newKeyTable(cfg, table, 0, n.Key, n.Footer())
	if err != nil {
		return nil, fmt.Errorf("index key table: %w", err)
	}
	cfg.log().Debug("index loaded",
		"offset", off,
		"int_keys", n.IntKeys(),
		"entries", keys.Len(),
		"table_bytes", len(table))
	return &Index{
		cfg:       cfg,
		r:         r,
		value:     n.Value,
		schema:    n,
		base:      base,
		end:       start,
		keys:      keys,
		tableSize: len(table),
		values:    cache.New[int64, any](cacheSize),
		cacheSize: cacheSize,
		bounds:    &valueBounds{keys: keys},
	}, nil
}

func readTable(r io.ReaderAt, off, size int64) ([]byte, error) {
	n, err := sizing.ToInt(uint64(size), ErrSizeOverflow) //nolint:gosec // size is non-negative
	if err != nil {
		return nil, err
	}
	table, err := codec.ReadAt(r, off, n)
	if err != nil {
		return nil, fmt.Errorf("read key table: %w", err)
	}
	return table, nil
}

// Schema returns the dict schema the index was loaded with.
// Sub-indices of a MultiIndex return the main dict schema.
func (x *Index) Schema() *schema.Dict {
	return x.schema
}

// Len returns the number of keys.
func (x *Index) Len() int {
	return x.keys.Len()
}

// CacheStats returns the value cache counters.
func (x *Index) CacheStats() cache.Stats {
	return x.values.Stats()
}

// ResetCache drops every cached value. Sub-indices of a MultiIndex share the
// cache of the main index.
func (x *Index) ResetCache() {
	x.values.Clear()
}

func (x *Index) lookup(key any) (ref, bool, error) {
	k, ok := normalizeKey(key)
	if !ok {
		return ref{}, false, nil
	}
	return x.keys.Lookup(k)
}

// Get returns the value stored under key.
func (x *Index) Get(key any) (any, error) {
	r, ok, err := x.lookup(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, key)
	}
	return x.load(r)
}

// GetOrDefault returns the value stored under key, or def if it is absent.
func (x *Index) GetOrDefault(key, def any) (any, error) {
	v, err := x.Get(key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	return v, err
}

// Contains reports whether key is present. It does not read the value.
func (x *Index) Contains(key any) (bool, error) {
	_, ok, err := x.lookup(key)
	return ok, err
}

// Keys yields the keys in key table order.
func (x *Index) Keys() iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for i := range x.keys.Len() {
			k, _, err := x.keys.At(i)
			if !yield(k, err) || err != nil {
				return
			}
		}
	}
}

// Range calls fn for every entry in key table order, reading each value.
func (x *Index) Range(fn func(key, value any) error) error {
	for i := range x.keys.Len() {
		k, r, err := x.keys.At(i)
		if err != nil {
			return err
		}
		v, err := x.load(r)
		if err != nil {
			return fmt.Errorf("key %v: %w", k, err)
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

// load returns the value at r, from the cache when possible.
func (x *Index) load(r ref) (any, error) {
	pos, ok := sizing.AddInt64(x.base, int64(r.offset))
	if !ok || pos > x.end {
		return nil, fmt.Errorf("%w: value offset %d outside index payload", ErrCorrupt, r.offset)
	}
	return x.values.GetOrLoad(pos, func() (any, error) {
		return x.read(pos, r)
	})
}

func (x *Index) read(pos int64, r ref) (any, error) {
	if d, ok := x.value.(*schema.Dict); ok && d.BuildIndex && !d.MultiIndex {
		return newIndex(x.cfg, x.r, pos, d, x.cacheSize)
	}
	avail := x.end - pos
	n := int64(r.size)
	if r.size == 0 {
		// No recorded size: read up to the next value, or the payload end.
		n = avail
		next, ok, err := x.bounds.next(r.offset)
		if err != nil {
			return nil, err
		}
		if ok {
			n = min(n, x.base+int64(next)-pos)
		}
	}
	if n > avail {
		return nil, fmt.Errorf("%w: value of %d bytes at offset %d overruns payload", ErrCorrupt, r.size, pos)
	}
	buf, err := codec.ReadAt(x.r, pos, int(n))
	if err != nil {
		return nil, fmt.Errorf("read value: %w", err)
	}
	x.cfg.log().Debug("index value read", "offset", pos, "bytes", n)
	return decode(x.cfg, buf, 0, x.value)
}
