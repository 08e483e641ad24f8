package schema

import (
	"fmt"
	"math"
)

// Optimize compiles a raw schema tree into its runtime form.
//
// Only object attributes declared for usage (UsageClient when empty) are
// kept. Sizes, constant attribute offsets, presence bits and list strides are
// computed once here. Any malformed node aborts the whole optimization.
func Optimize(raw *Raw, usage string) (Node, error) {
	if usage == "" {
		usage = UsageClient
	}
	o := optimizer{usage: usage}
	return o.node(raw, "$")
}

type optimizer struct {
	usage string
}

func (o *optimizer) node(r *Raw, path string) (Node, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s: missing schema", ErrInvalidSchema, path)
	}

	var (
		n   Node
		err error
	)
	switch r.Type {
	case "int", "typeID", "localizationID":
		n = o.integer(r)
	case "float":
		n, err = o.floating(r, path)
	case "double":
		n = &Scalar{Common: Common{Type: r.Type, Size: 8, FixedSize: true}, Scalar: ScalarDouble}
	case "bool":
		n = &Scalar{Common: Common{Type: r.Type, Size: 1, FixedSize: true}, Scalar: ScalarBool}
	case "string", "resPath":
		n = &Scalar{Common: Common{Type: r.Type}, Scalar: ScalarString}
	case "unicode":
		n = &Scalar{Common: Common{Type: r.Type}, Scalar: ScalarUnicode}
	case "enum":
		n, err = o.enum(r, path)
	case "vector2", "vector3", "vector4":
		n, err = o.vector(r, path, int(r.Type[6]-'0'), false)
	case "vector2d", "vector3d", "vector4d":
		n, err = o.vector(r, path, int(r.Type[6]-'0'), true)
	case "list":
		n, err = o.list(r, path)
	case "dict":
		n, err = o.dict(r, path)
	case "object":
		n, err = o.object(r, path)
	case "union":
		n, err = o.union(r, path)
	case "binary":
		n, err = o.binary(r, path)
	case "":
		return nil, fmt.Errorf("%w: %s: missing type", ErrInvalidSchema, path)
	default:
		return nil, fmt.Errorf("%w: %s: %q", ErrUnknownType, path, r.Type)
	}
	if err != nil {
		return nil, err
	}

	b := n.Base()
	b.Optional = r.IsOptional
	if r.HasDefault {
		def, err := coerceDefault(n, r.Default)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: default: %v", ErrInvalidSchema, path, err)
		}
		b.Default = def
		b.HasDefault = true
	}
	return n, nil
}

func (o *optimizer) integer(r *Raw) Node {
	unsigned := (r.Min != nil && *r.Min >= 0) || (r.ExclusiveMin != nil && *r.ExclusiveMin >= -1)
	return &Scalar{
		Common:   Common{Type: r.Type, Size: 4, FixedSize: true},
		Scalar:   ScalarInt,
		Unsigned: unsigned,
	}
}

func precisionDouble(p, path string) (bool, error) {
	switch p {
	case "", "single":
		return false, nil
	case "double":
		return true, nil
	default:
		return false, fmt.Errorf("%w: %s: unknown precision %q", ErrInvalidSchema, path, p)
	}
}

func (o *optimizer) floating(r *Raw, path string) (Node, error) {
	double, err := precisionDouble(r.Precision, path)
	if err != nil {
		return nil, err
	}
	if double {
		return &Scalar{Common: Common{Type: r.Type, Size: 8, FixedSize: true}, Scalar: ScalarDouble}, nil
	}
	return &Scalar{Common: Common{Type: r.Type, Size: 4, FixedSize: true}, Scalar: ScalarFloat}, nil
}

func (o *optimizer) vector(r *Raw, path string, dims int, double bool) (Node, error) {
	if !double {
		var err error
		if double, err = precisionDouble(r.Precision, path); err != nil {
			return nil, err
		}
	}
	for name, i := range r.Aliases {
		if i < 0 || i >= dims {
			return nil, fmt.Errorf("%w: %s: alias %q points at component %d of %d", ErrInvalidSchema, path, name, i, dims)
		}
	}
	width := 4
	if double {
		width = 8
	}
	return &Vector{
		Common:  Common{Type: r.Type, Size: dims * width, FixedSize: true},
		Dims:    dims,
		Double:  double,
		Aliases: cloneAliases(r.Aliases),
	}, nil
}

func (o *optimizer) enum(r *Raw, path string) (Node, error) {
	if len(r.Values) == 0 {
		return nil, fmt.Errorf("%w: %s: enum declares no values", ErrInvalidSchema, path)
	}
	return NewEnum(r.Type, r.Values, r.ReadEnumValue), nil
}

func (o *optimizer) list(r *Raw, path string) (Node, error) {
	item, err := o.node(r.ItemTypes, path+"[]")
	if err != nil {
		return nil, err
	}
	l := NewList(item)
	if r.Length != nil {
		if *r.Length < 0 {
			return nil, fmt.Errorf("%w: %s: negative list length %d", ErrInvalidSchema, path, *r.Length)
		}
		l.Length = *r.Length
		l.HasLength = true
	}
	return l, nil
}

func (o *optimizer) dict(r *Raw, path string) (Node, error) {
	key, err := o.node(r.KeyTypes, path+".keyTypes")
	if err != nil {
		return nil, err
	}
	value, err := o.node(r.ValueTypes, path+".valueTypes")
	if err != nil {
		return nil, err
	}
	d := &Dict{
		Common:     Common{Type: r.Type},
		Key:        key,
		Value:      value,
		BuildIndex: r.BuildIndex,
		MultiIndex: r.MultiIndex,
	}
	for _, idx := range r.Indices {
		sub := SubIndex{Name: idx.Name, IDs: idx.IDs, Key: key}
		if len(sub.IDs) == 0 {
			sub.IDs = []string{idx.Name}
		}
		if idx.KeyTypes != nil {
			if sub.Key, err = o.node(idx.KeyTypes, path+".indices."+idx.Name); err != nil {
				return nil, err
			}
		}
		d.Indices = append(d.Indices, sub)
	}
	if len(d.Indices) > 0 && !d.MultiIndex {
		return nil, fmt.Errorf("%w: %s: indices declared without multiIndex", ErrInvalidSchema, path)
	}
	return d, nil
}

func (o *optimizer) object(r *Raw, path string) (Node, error) {
	attrs := make([]Attribute, 0, len(r.Attributes))
	seen := make(map[string]bool, len(r.Attributes))
	for _, a := range r.Attributes {
		if a.Schema == nil {
			return nil, fmt.Errorf("%w: %s.%s: missing schema", ErrInvalidSchema, path, a.Name)
		}
		if a.Schema.usage() != o.usage {
			continue
		}
		if seen[a.Name] {
			return nil, fmt.Errorf("%w: %s: duplicate attribute %q", ErrInvalidSchema, path, a.Name)
		}
		seen[a.Name] = true
		n, err := o.node(a.Schema, path+"."+a.Name)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, Attribute{Name: a.Name, Node: n})
	}
	return NewObject(r.Type, attrs), nil
}

func (o *optimizer) union(r *Raw, path string) (Node, error) {
	if len(r.OptionTypes) == 0 {
		return nil, fmt.Errorf("%w: %s: union declares no option types", ErrInvalidSchema, path)
	}
	u := &Union{Common: Common{Type: r.Type}}
	for i, opt := range r.OptionTypes {
		n, err := o.node(opt, fmt.Sprintf("%s.optionTypes[%d]", path, i))
		if err != nil {
			return nil, err
		}
		u.Variants = append(u.Variants, n)
	}
	return u, nil
}

func (o *optimizer) binary(r *Raw, path string) (Node, error) {
	b := &Binary{Common: Common{Type: r.Type}}
	if r.Schema != nil {
		inner, err := o.node(r.Schema, path+".schema")
		if err != nil {
			return nil, err
		}
		b.Inner = inner
	}
	return b, nil
}

// coerceDefault converts a YAML default into the Go type n decodes to.
func coerceDefault(n Node, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch n := n.(type) {
	case *Scalar:
		return coerceScalar(n, v)
	case *Enum:
		return coerceEnum(n, v)
	case *Vector:
		items, ok := v.([]any)
		if !ok || len(items) != n.Dims {
			return nil, fmt.Errorf("want %d components, got %v", n.Dims, v)
		}
		out := make([]float64, len(items))
		for i, item := range items {
			f, ok := toFloat64(item)
			if !ok {
				return nil, fmt.Errorf("component %d is not a number", i)
			}
			out[i] = f
		}
		return out, nil
	default:
		return v, nil
	}
}

func coerceScalar(n *Scalar, v any) (any, error) {
	switch n.Scalar {
	case ScalarInt:
		i, ok := toInt64(v)
		if !ok {
			return nil, fmt.Errorf("%v is not an integer", v)
		}
		if n.Unsigned {
			if i < 0 || i > math.MaxUint32 {
				return nil, fmt.Errorf("%d out of range for unsigned int", i)
			}
			return uint32(i), nil
		}
		if i < math.MinInt32 || i > math.MaxInt32 {
			return nil, fmt.Errorf("%d out of range for int", i)
		}
		return int32(i), nil
	case ScalarFloat:
		f, ok := toFloat64(v)
		if !ok {
			return nil, fmt.Errorf("%v is not a number", v)
		}
		return float32(f), nil
	case ScalarDouble:
		f, ok := toFloat64(v)
		if !ok {
			return nil, fmt.Errorf("%v is not a number", v)
		}
		return f, nil
	case ScalarBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%v is not a bool", v)
		}
		return b, nil
	default:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%v is not a string", v)
		}
		return s, nil
	}
}

func coerceEnum(n *Enum, v any) (any, error) {
	var (
		ordinal uint32
		name    string
		ok      bool
	)
	switch v := v.(type) {
	case string:
		name = v
		if ordinal, ok = n.Ordinal(v); !ok {
			return nil, fmt.Errorf("unknown enum name %q", v)
		}
	default:
		i, isInt := toInt64(v)
		if !isInt || i < 0 || i > math.MaxUint32 {
			return nil, fmt.Errorf("%v is not an enum ordinal", v)
		}
		ordinal = uint32(i)
		if name, ok = n.Name(ordinal); !ok && !n.ReadRaw {
			return nil, fmt.Errorf("unknown enum ordinal %d", ordinal)
		}
	}
	if n.ReadRaw {
		return ordinal, nil
	}
	return name, nil
}

func toInt64(v any) (int64, bool) {
	switch v := v.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case float64:
		if v != math.Trunc(v) || v < math.MinInt64 || v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	default:
		return 0, false
	}
}

func toFloat64(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	default:
		i, ok := toInt64(v)
		return float64(i), ok
	}
}
