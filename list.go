package fsd

import (
	"fmt"
	"iter"

	"github.com/meigma/fsd/internal/codec"
	"github.com/meigma/fsd/internal/sizing"
	"github.com/meigma/fsd/schema"
)

// List is a lazy view of a list container.
//
// Fixed-size items are addressed by stride. Other items are reached through
// a table of offset words relative to the start of the list.
type List struct {
	cfg    *config
	data   []byte
	schema *schema.List

	// start is the base of relative item offsets; items is the first
	// stride slot or offset word.
	start int
	items int
	n     int
}

func newList(cfg *config, data []byte, off int, n *schema.List) (*List, error) {
	l := &List{cfg: cfg, data: data, schema: n, start: off, items: off}
	if n.HasLength {
		l.n = n.Length
	} else {
		count, err := codec.Offset(data, off)
		if err != nil {
			return nil, err
		}
		l.n = count
		l.items = off + codec.WordSize
	}

	stride := codec.WordSize
	if n.HasFixedItemSize {
		stride = n.FixedItemSize
	}
	span, ok := sizing.MulInt(l.n, stride)
	if !ok || !sizing.InBounds(l.items, span, len(data)) {
		return nil, fmt.Errorf("%w: list of %d items at offset %d exceeds buffer of %d bytes", ErrCorrupt, l.n, off, len(data))
	}
	return l, nil
}

// Len returns the number of items.
func (l *List) Len() int {
	return l.n
}

// Schema returns the list schema.
func (l *List) Schema() *schema.List {
	return l.schema
}

// Get decodes item i.
func (l *List) Get(i int) (any, error) {
	if i < 0 || i >= l.n {
		return nil, fmt.Errorf("%w: item %d of list with %d items", ErrOutOfRange, i, l.n)
	}
	pos, err := l.itemOffset(i)
	if err != nil {
		return nil, err
	}
	return decode(l.cfg, l.data, pos, l.schema.Item)
}

func (l *List) itemOffset(i int) (int, error) {
	if l.schema.HasFixedItemSize {
		return l.items + i*l.schema.FixedItemSize, nil
	}
	rel, err := codec.Offset(l.data, l.items+i*codec.WordSize)
	if err != nil {
		return 0, err
	}
	pos, ok := sizing.AddInt(l.start, rel)
	if !ok {
		return 0, fmt.Errorf("%w: item %d offset %d", ErrSizeOverflow, i, rel)
	}
	return pos, nil
}

// Values yields every item in index order, stopping after the first error.
// The sequence can be ranged over more than once.
func (l *List) Values() iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for i := range l.n {
			v, err := l.Get(i)
			if !yield(v, err) || err != nil {
				return
			}
		}
	}
}

// Slice decodes every item into a slice.
func (l *List) Slice() ([]any, error) {
	out := make([]any, 0, l.n)
	for v, err := range l.Values() {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
