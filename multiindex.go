package fsd

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/fsd/internal/codec"
	"github.com/meigma/fsd/internal/sizing"
	"github.com/meigma/fsd/schema"
)

// MultiIndex is a disk-backed index that also carries named secondary
// indices over the same payload.
//
// The main Index maps primary keys to values. Each named index maps its own
// keys to the same values, so a value reached through two indices decodes
// identically. All indices share one value cache.
type MultiIndex struct {
	*Index

	named map[string]Mapping
	names []string
}

// subIDKey is the key schema of the lookup table that locates sub-index key tables.
var subIDKey = &schema.Scalar{Common: schema.Common{Type: "string"}, Scalar: schema.ScalarString}

// newMultiIndex loads a multi-index container at off.
//
// The container is a dict frame whose payload also holds every sub-index key
// table, followed by [u32 T][T bytes] of lookup table mapping each sub-index
// id to the payload offset and size of its key table.
func newMultiIndex(cfg *config, r io.ReaderAt, off int64, n *schema.Dict, cacheSize int) (*MultiIndex, error) {
	main, err := newIndex(cfg, r, off, n, cacheSize)
	if err != nil {
		return nil, err
	}

	// The lookup table starts after the key table size word.
	at := main.keysEnd() + codec.WordSize
	size, err := codec.Uint32At(r, at)
	if err != nil {
		return nil, fmt.Errorf("read sub-index table size: %w", err)
	}
	raw, err := readTable(r, at+codec.WordSize, int64(size))
	if err != nil {
		return nil, err
	}
	lookup, err := newKeyTable(cfg, raw, 0, subIDKey, schema.DefaultKeyFooter(subIDKey))
	if err != nil {
		return nil, fmt.Errorf("sub-index table: %w", err)
	}

	var ids []string
	keyOf := make(map[string]schema.Node)
	for _, sub := range n.Indices {
		for _, id := range sub.IDs {
			if _, dup := keyOf[id]; !dup {
				ids = append(ids, id)
			}
			keyOf[id] = sub.Key
		}
	}

	subs := make([]*Index, len(ids))
	g := new(errgroup.Group)
	if cfg.footerConcurrency > 0 {
		g.SetLimit(cfg.footerConcurrency)
	} else {
		g.SetLimit(1)
	}
	for i, id := range ids {
		g.Go(func() error {
			loc, ok, err := lookup.Lookup(id)
			if err != nil {
				return fmt.Errorf("sub-index %q: %w", id, err)
			}
			if !ok {
				return fmt.Errorf("%w: sub-index %q missing from lookup table", ErrCorrupt, id)
			}
			sub, err := main.subIndex(loc, keyOf[id])
			if err != nil {
				return fmt.Errorf("sub-index %q: %w", id, err)
			}
			subs[i] = sub
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[string]*Index, len(ids))
	for i, id := range ids {
		byID[id] = subs[i]
	}
	m := &MultiIndex{Index: main, named: make(map[string]Mapping, len(n.Indices))}
	for _, sub := range n.Indices {
		if len(sub.IDs) == 1 {
			m.named[sub.Name] = byID[sub.IDs[0]]
		} else {
			c := make(chain, len(sub.IDs))
			for i, id := range sub.IDs {
				c[i] = byID[id]
			}
			m.named[sub.Name] = c
		}
		m.names = append(m.names, sub.Name)
		cfg.log().Debug("sub-index built", "name", sub.Name, "ids", sub.IDs)
	}
	return m, nil
}

// keysEnd returns the absolute position of the key table size word.
func (x *Index) keysEnd() int64 {
	return x.end + int64(x.tableSize)
}

// subIndex builds an index whose key table lives at loc inside the payload
// and whose entries point at values of x.
func (x *Index) subIndex(loc ref, key schema.Node) (*Index, error) {
	start, ok := sizing.AddInt64(x.base, int64(loc.offset))
	if !ok || start+int64(loc.size) > x.end {
		return nil, fmt.Errorf("%w: key table at offset %d overruns payload", ErrCorrupt, loc.offset)
	}
	table, err := readTable(x.r, start, int64(loc.size))
	if err != nil {
		return nil, err
	}
	keys, err := newKeyTable(x.cfg, table, 0, key, schema.DefaultKeyFooter(key))
	if err != nil {
		return nil, err
	}
	sub := *x
	sub.keys = keys
	sub.tableSize = len(table)
	return &sub, nil
}

// Named returns the named secondary index.
func (m *MultiIndex) Named(name string) (Mapping, bool) {
	ix, ok := m.named[name]
	return ix, ok
}

// Names returns the secondary index names in declaration order.
func (m *MultiIndex) Names() []string {
	return slices.Clone(m.names)
}

// chain tries each sub-index in turn and returns the first hit.
type chain []*Index

func (c chain) Get(key any) (any, error) {
	for _, ix := range c {
		v, err := ix.Get(key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return v, err
	}
	return nil, fmt.Errorf("%w: %v", ErrNotFound, key)
}

func (c chain) GetOrDefault(key, def any) (any, error) {
	v, err := c.Get(key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	return v, err
}

func (c chain) Contains(key any) (bool, error) {
	for _, ix := range c {
		ok, err := ix.Contains(key)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// Len counts entries across the chained indices. A key present in more
// than one of them is counted once per index.
func (c chain) Len() int {
	n := 0
	for _, ix := range c {
		n += ix.Len()
	}
	return n
}

func (c chain) Keys() iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for _, ix := range c {
			for k, err := range ix.Keys() {
				if !yield(k, err) || err != nil {
					return
				}
			}
		}
	}
}
