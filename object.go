package fsd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/meigma/fsd/internal/codec"
	"github.com/meigma/fsd/internal/sizing"
	"github.com/meigma/fsd/schema"
)

// Object is a lazy view of one object instance.
//
// Constant-offset attributes resolve through the schema. Variable and
// optional attributes resolve through an offset table computed from this
// instance's presence bitmask when the view is created.
type Object struct {
	cfg    *config
	data   []byte
	off    int
	schema *schema.Object

	// offsets holds the instance offsets of present variable attributes,
	// relative to off. It is nil for fixed-size objects.
	offsets map[string]int
}

func newObject(cfg *config, data []byte, off int, n *schema.Object) (*Object, error) {
	o := &Object{cfg: cfg, data: data, off: off, schema: n}
	if n.FixedSize {
		if !sizing.InBounds(off, n.Size, len(data)) {
			return nil, fmt.Errorf("%w: object of %d bytes at offset %d exceeds buffer of %d bytes", ErrCorrupt, n.Size, off, len(data))
		}
		return o, nil
	}

	maskAt := off + n.EndOfFixedSizeData
	var bits uint32
	if n.HasOptional() {
		var err error
		if bits, err = codec.Uint32(data, maskAt); err != nil {
			return nil, err
		}
	}

	present := make([]string, 0, len(n.VariableAttributes))
	for _, name := range n.VariableAttributes {
		bit, optional := n.OptionalBits[name]
		if optional && bits&bit == 0 {
			continue
		}
		present = append(present, name)
	}

	table := maskAt + codec.WordSize
	base := n.EndOfFixedSizeData + codec.WordSize + codec.WordSize*len(present)
	if !sizing.InBounds(table, codec.WordSize*len(present), len(data)) {
		return nil, fmt.Errorf("%w: object offset table at %d exceeds buffer of %d bytes", ErrCorrupt, table, len(data))
	}
	o.offsets = make(map[string]int, len(present))
	for i, name := range present {
		rel, err := codec.Offset(data, table+i*codec.WordSize)
		if err != nil {
			return nil, err
		}
		pos, ok := sizing.AddInt(base, rel)
		if !ok || !sizing.InBounds(off, pos, len(data)) {
			return nil, fmt.Errorf("%w: attribute %q offset %d outside buffer", ErrCorrupt, name, rel)
		}
		o.offsets[name] = pos
	}
	return o, nil
}

// Schema returns the object schema.
func (o *Object) Schema() *schema.Object {
	return o.schema
}

// Names returns the attribute names in declaration order.
func (o *Object) Names() []string {
	return o.schema.Names()
}

// attrOffset returns the offset of name relative to the object start.
func (o *Object) attrOffset(name string) (int, bool) {
	if off, ok := o.schema.ConstantOffsets[name]; ok {
		return off, true
	}
	off, ok := o.offsets[name]
	return off, ok
}

// Has reports whether name is physically present in this instance.
func (o *Object) Has(name string) bool {
	if _, ok := o.schema.Attribute(name); !ok {
		return false
	}
	_, ok := o.attrOffset(name)
	return ok
}

// Get decodes the named attribute.
//
// An absent optional attribute yields its schema default, or
// ErrAttributeNotFound when it declares none. Names outside the schema fail
// with ErrUnknownAttribute.
func (o *Object) Get(name string) (any, error) {
	attr, ok := o.schema.Attribute(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAttribute, name)
	}
	off, ok := o.attrOffset(name)
	if !ok {
		if b := attr.Base(); b.HasDefault {
			return b.Default, nil
		}
		return nil, fmt.Errorf("%w: %q", ErrAttributeNotFound, name)
	}
	v, err := decode(o.cfg, o.data, o.off+off, attr)
	if err != nil {
		return nil, fmt.Errorf("attribute %q: %w", name, err)
	}
	return v, nil
}

// GetOrDefault decodes the named attribute, returning def when it is absent
// and declares no default.
func (o *Object) GetOrDefault(name string, def any) (any, error) {
	v, err := o.Get(name)
	if errors.Is(err, ErrAttributeNotFound) {
		return def, nil
	}
	return v, err
}

// Int returns a signed int attribute.
func (o *Object) Int(name string) (int32, error) { return attrAs[int32](o, name) }

// Uint returns an unsigned int attribute.
func (o *Object) Uint(name string) (uint32, error) { return attrAs[uint32](o, name) }

// Bool returns a bool attribute.
func (o *Object) Bool(name string) (bool, error) { return attrAs[bool](o, name) }

// String returns a string, resPath, unicode or enum name attribute.
func (o *Object) String(name string) (string, error) { return attrAs[string](o, name) }

// Float returns a float or double attribute widened to float64.
func (o *Object) Float(name string) (float64, error) {
	v, err := o.Get(name)
	if err != nil {
		return 0, err
	}
	switch v := v.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("%w: attribute %q is %T, not a float", ErrTypeMismatch, name, v)
	}
}

// Object returns a nested object attribute.
func (o *Object) Object(name string) (*Object, error) { return attrAs[*Object](o, name) }

// List returns a list attribute.
func (o *Object) List(name string) (*List, error) { return attrAs[*List](o, name) }

// Dict returns a dict attribute.
func (o *Object) Dict(name string) (*Dict, error) { return attrAs[*Dict](o, name) }

func attrAs[T any](o *Object, name string) (T, error) {
	var zero T
	v, err := o.Get(name)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: attribute %q is %T, not %T", ErrTypeMismatch, name, v, zero)
	}
	return t, nil
}

// Describe renders the object as {name:value ...}. Absent attributes without
// a default render as NULL; attributes that fail to decode render their error.
func (o *Object) Describe() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, name := range o.schema.Names() {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(name)
		sb.WriteByte(':')
		v, err := o.Get(name)
		switch {
		case errors.Is(err, ErrAttributeNotFound):
			sb.WriteString("NULL")
		case err != nil:
			fmt.Fprintf(&sb, "<%v>", err)
		default:
			fmt.Fprint(&sb, formatValue(v))
		}
	}
	sb.WriteByte('}')
	return sb.String()
}

func formatValue(v any) any {
	switch v := v.(type) {
	case *Object:
		return v.Describe()
	case *List:
		parts := make([]string, 0, v.Len())
		for item, err := range v.Values() {
			if err != nil {
				parts = append(parts, fmt.Sprintf("<%v>", err))
				break
			}
			parts = append(parts, fmt.Sprint(formatValue(item)))
		}
		return "[" + strings.Join(parts, " ") + "]"
	case *Dict:
		return fmt.Sprintf("dict(%d)", v.Len())
	case string:
		return fmt.Sprintf("%q", v)
	default:
		return v
	}
}
