package testutil

import (
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"testing"

	"github.com/meigma/fsd/schema"
)

// Pair is one dict entry. Dict values are given as []Pair in any order.
type Pair struct {
	Key   any
	Value any
}

// UnionValue selects a union variant.
type UnionValue struct {
	Variant int
	Value   any
}

// Blob is a binary attribute value. Value is encoded with the binary node's
// inner schema, or with Schema embedded in front of it when the node has none.
type Blob struct {
	Schema schema.Node
	Value  any
}

// Encode serializes v in the container layout described by n.
//
// Objects are map[string]any, lists are []any, dicts are []Pair, vectors
// are []float64 and enums are names or ordinals.
func Encode(n schema.Node, v any) ([]byte, error) {
	switch n := n.(type) {
	case *schema.Scalar:
		return encodeScalar(n, v)
	case *schema.Enum:
		return encodeEnum(n, v)
	case *schema.Vector:
		return encodeVector(n, v)
	case *schema.List:
		return encodeList(n, v)
	case *schema.Object:
		return encodeObject(n, v)
	case *schema.Dict:
		pairs, ok := v.([]Pair)
		if !ok {
			return nil, fmt.Errorf("dict value must be []Pair, got %T", v)
		}
		return encodeDict(n, pairs)
	case *schema.Union:
		u, ok := v.(UnionValue)
		if !ok || u.Variant < 0 || u.Variant >= len(n.Variants) {
			return nil, fmt.Errorf("bad union value %v", v)
		}
		body, err := Encode(n.Variants[u.Variant], u.Value)
		if err != nil {
			return nil, err
		}
		return append(word(uint32(u.Variant)), body...), nil
	case *schema.Binary:
		return encodeBinary(n, v)
	default:
		return nil, fmt.Errorf("cannot encode %T", n)
	}
}

// MustEncode is Encode for tests.
func MustEncode(tb testing.TB, n schema.Node, v any) []byte {
	tb.Helper()
	data, err := Encode(n, v)
	if err != nil {
		tb.Fatalf("encode: %v", err)
	}
	return data
}

// EncodeWithSchema prefixes the encoding of v with the length-prefixed schema blob of n.
func EncodeWithSchema(n schema.Node, v any, opts ...schema.MarshalOption) ([]byte, error) {
	blob, err := schema.Marshal(n, opts...)
	if err != nil {
		return nil, err
	}
	data, err := Encode(n, v)
	if err != nil {
		return nil, err
	}
	out := word(uint32(len(blob)))
	out = append(out, blob...)
	return append(out, data...), nil
}

func word(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

func encodeScalar(n *schema.Scalar, v any) ([]byte, error) {
	switch n.Scalar {
	case schema.ScalarInt:
		i, ok := toInt64(v)
		if !ok {
			return nil, fmt.Errorf("%v is not an integer", v)
		}
		if n.Unsigned {
			if i < 0 || i > math.MaxUint32 {
				return nil, fmt.Errorf("%d out of unsigned range", i)
			}
			return word(uint32(i)), nil
		}
		if i < math.MinInt32 || i > math.MaxInt32 {
			return nil, fmt.Errorf("%d out of signed range", i)
		}
		return word(uint32(int32(i))), nil
	case schema.ScalarFloat:
		f, ok := toFloat64(v)
		if !ok {
			return nil, fmt.Errorf("%v is not a number", v)
		}
		return word(math.Float32bits(float32(f))), nil
	case schema.ScalarDouble:
		f, ok := toFloat64(v)
		if !ok {
			return nil, fmt.Errorf("%v is not a number", v)
		}
		return binary.LittleEndian.AppendUint64(nil, math.Float64bits(f)), nil
	case schema.ScalarBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%v is not a bool", v)
		}
		if b {
			return []byte{0xFF}, nil
		}
		return []byte{0}, nil
	default:
		var s []byte
		switch v := v.(type) {
		case string:
			s = []byte(v)
		case []byte:
			s = v
		default:
			return nil, fmt.Errorf("%v is not a string", v)
		}
		return append(word(uint32(len(s))), s...), nil
	}
}

func encodeEnum(n *schema.Enum, v any) ([]byte, error) {
	var ordinal uint32
	if name, ok := v.(string); ok {
		if ordinal, ok = n.Ordinal(name); !ok {
			return nil, fmt.Errorf("unknown enum name %q", name)
		}
	} else {
		i, ok := toInt64(v)
		if !ok || i < 0 || i > math.MaxUint32 {
			return nil, fmt.Errorf("%v is not an enum ordinal", v)
		}
		ordinal = uint32(i)
	}
	out := word(ordinal)
	return out[:n.Width], nil
}

func encodeVector(n *schema.Vector, v any) ([]byte, error) {
	comps, ok := v.([]float64)
	if !ok || len(comps) != n.Dims {
		return nil, fmt.Errorf("vector needs %d components, got %v", n.Dims, v)
	}
	var out []byte
	for _, c := range comps {
		if n.Double {
			out = binary.LittleEndian.AppendUint64(out, math.Float64bits(c))
		} else {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(float32(c)))
		}
	}
	return out, nil
}

func encodeList(n *schema.List, v any) ([]byte, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("list value must be []any, got %T", v)
	}
	if n.HasLength && len(items) != n.Length {
		return nil, fmt.Errorf("list declares length %d, got %d items", n.Length, len(items))
	}
	var head []byte
	if !n.HasLength {
		head = word(uint32(len(items)))
	}
	encoded := make([][]byte, len(items))
	for i, item := range items {
		b, err := Encode(n.Item, item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if n.HasFixedItemSize && len(b) != n.FixedItemSize {
			return nil, fmt.Errorf("item %d encodes to %d bytes, stride is %d", i, len(b), n.FixedItemSize)
		}
		encoded[i] = b
	}
	if n.HasFixedItemSize {
		return append(head, slices.Concat(encoded...)...), nil
	}
	// Offset words are relative to the start of the list.
	pos := len(head) + 4*len(items)
	out := head
	for _, b := range encoded {
		out = binary.LittleEndian.AppendUint32(out, uint32(pos))
		pos += len(b)
	}
	return append(out, slices.Concat(encoded...)...), nil
}

func encodeObject(n *schema.Object, v any) ([]byte, error) {
	values, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("object value must be map[string]any, got %T", v)
	}
	for name := range values {
		if _, ok := n.Attribute(name); !ok {
			return nil, fmt.Errorf("attribute %q is not in the schema", name)
		}
	}

	fixed := make([]byte, n.EndOfFixedSizeData)
	for name, off := range n.ConstantOffsets {
		val, ok := values[name]
		if !ok {
			return nil, fmt.Errorf("missing required attribute %q", name)
		}
		attr, _ := n.Attribute(name)
		b, err := Encode(attr, val)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		copy(fixed[off:], b)
	}
	if n.FixedSize {
		return fixed, nil
	}

	var (
		bits    uint32
		present [][]byte
	)
	for _, name := range n.VariableAttributes {
		val, ok := values[name]
		bit, optional := n.OptionalBits[name]
		if !ok {
			if optional {
				continue
			}
			return nil, fmt.Errorf("missing required attribute %q", name)
		}
		bits |= bit
		attr, _ := n.Attribute(name)
		b, err := Encode(attr, val)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		present = append(present, b)
	}
	out := binary.LittleEndian.AppendUint32(fixed, bits)
	pos := 0
	for _, b := range present {
		out = binary.LittleEndian.AppendUint32(out, uint32(pos))
		pos += len(b)
	}
	return append(out, slices.Concat(present...)...), nil
}

func encodeBinary(n *schema.Binary, v any) ([]byte, error) {
	var body []byte
	switch v := v.(type) {
	case []byte:
		body = v
	case Blob:
		var err error
		switch {
		case n.Inner != nil:
			body, err = Encode(n.Inner, v.Value)
		case v.Schema != nil:
			body, err = EncodeWithSchema(v.Schema, v.Value)
		default:
			err = errors.New("blob needs a schema")
		}
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("binary value must be []byte or Blob, got %T", v)
	}
	return append(word(uint32(len(body))), body...), nil
}

type entry struct {
	key    any
	offset uint32
	size   uint32
}

// encodeDict writes [u32 L][payload][footer][u32 footer size], L pointing at the size word.
func encodeDict(n *schema.Dict, pairs []Pair) ([]byte, error) {
	payload, entries, err := encodeValues(n.Value, pairs)
	if err != nil {
		return nil, err
	}
	footer, err := encodeFooter(n.Key, n.Footer(), entries)
	if err != nil {
		return nil, err
	}
	return frame(payload, footer), nil
}

func frame(payload, footer []byte) []byte {
	out := word(uint32(4 + len(payload) + len(footer)))
	out = append(out, payload...)
	out = append(out, footer...)
	return binary.LittleEndian.AppendUint32(out, uint32(len(footer)))
}

func encodeValues(value schema.Node, pairs []Pair) ([]byte, []entry, error) {
	var payload []byte
	entries := make([]entry, 0, len(pairs))
	seen := make(map[any]bool, len(pairs))
	for _, p := range pairs {
		key := normalizeKey(p.Key)
		if seen[key] {
			return nil, nil, fmt.Errorf("duplicate key %v", p.Key)
		}
		seen[key] = true
		b, err := Encode(value, p.Value)
		if err != nil {
			return nil, nil, fmt.Errorf("key %v: %w", p.Key, err)
		}
		entries = append(entries, entry{key: key, offset: uint32(len(payload)), size: uint32(len(b))})
		payload = append(payload, b...)
	}
	return payload, entries, nil
}

// encodeFooter writes the key table for entries, sorted by key.
func encodeFooter(key schema.Node, footer *schema.List, entries []entry) ([]byte, error) {
	entries = slices.Clone(entries)
	slices.SortFunc(entries, func(a, b entry) int { return compareKeys(a.key, b.key) })

	if schema.IsIntKey(key) {
		out := word(uint32(len(entries)))
		for _, e := range entries {
			k, ok := toInt64(e.key)
			if !ok {
				return nil, fmt.Errorf("key %v is not an integer", e.key)
			}
			out = binary.LittleEndian.AppendUint32(out, uint32(k))
			out = binary.LittleEndian.AppendUint32(out, e.offset)
			out = binary.LittleEndian.AppendUint32(out, e.size)
		}
		return out, nil
	}

	item, ok := footer.Item.(*schema.Object)
	if !ok {
		return nil, fmt.Errorf("key footer item is %T, want object", footer.Item)
	}
	_, withSize := item.Attribute("size")
	rows := make([]any, len(entries))
	for i, e := range entries {
		row := map[string]any{"key": e.key, "offset": e.offset}
		if withSize {
			row["size"] = e.size
		}
		rows[i] = row
	}
	return Encode(footer, rows)
}

// MultiIndexData describes the contents of a multi-index container.
type MultiIndexData struct {
	// Entries are the main key to value pairs.
	Entries []Pair

	// Sub maps a physical sub-index identifier to its (sub key, main key) pairs.
	Sub map[string][]Pair
}

// EncodeMultiIndex writes a multi-index container for d.
//
// The layout is a dict frame whose payload holds the values followed by every
// sub-index key table, then [u32 T][T bytes] of lookup table mapping each
// sub-index identifier to the payload offset and size of its key table.
func EncodeMultiIndex(d *schema.Dict, data MultiIndexData) ([]byte, error) {
	payload, entries, err := encodeValues(d.Value, data.Entries)
	if err != nil {
		return nil, err
	}
	byKey := make(map[any]entry, len(entries))
	for _, e := range entries {
		byKey[e.key] = e
	}

	keyOf := make(map[string]schema.Node)
	for _, sub := range d.Indices {
		for _, id := range sub.IDs {
			keyOf[id] = sub.Key
		}
	}

	ids := slices.Sorted(maps.Keys(data.Sub))
	var lookup []entry
	for _, id := range ids {
		key, ok := keyOf[id]
		if !ok {
			return nil, fmt.Errorf("sub-index %q is not declared", id)
		}
		var subEntries []entry
		for _, p := range data.Sub[id] {
			target, ok := byKey[normalizeKey(p.Value)]
			if !ok {
				return nil, fmt.Errorf("sub-index %q: main key %v not found", id, p.Value)
			}
			subEntries = append(subEntries, entry{key: normalizeKey(p.Key), offset: target.offset, size: target.size})
		}
		table, err := encodeFooter(key, schema.DefaultKeyFooter(key), subEntries)
		if err != nil {
			return nil, fmt.Errorf("sub-index %q: %w", id, err)
		}
		lookup = append(lookup, entry{key: id, offset: uint32(len(payload)), size: uint32(len(table))})
		payload = append(payload, table...)
	}

	footer, err := encodeFooter(d.Key, d.Footer(), entries)
	if err != nil {
		return nil, err
	}
	idKey := &schema.Scalar{Common: schema.Common{Type: "string"}, Scalar: schema.ScalarString}
	table, err := encodeFooter(idKey, schema.DefaultKeyFooter(idKey), lookup)
	if err != nil {
		return nil, err
	}
	out := frame(payload, footer)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(table)))
	return append(out, table...), nil
}

// normalizeKey maps integer keys to int so equal keys compare equal.
func normalizeKey(k any) any {
	if i, ok := toInt64(k); ok {
		if _, isFloat := k.(float64); !isFloat {
			return int(i)
		}
	}
	if f, ok := k.(float32); ok {
		return float64(f)
	}
	return k
}

func compareKeys(a, b any) int {
	switch a := a.(type) {
	case int:
		return cmp.Compare(a, b.(int))
	case float64:
		return cmp.Compare(a, b.(float64))
	case string:
		return strings.Compare(a, b.(string))
	default:
		return 0
	}
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
	case uint:
		return int64(v), true
	case uint64:
		return int64(v), v <= math.MaxInt64
	case float64:
		return int64(v), v == math.Trunc(v)
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
