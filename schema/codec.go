package schema

//go:generate flatc --go --go-namespace fb -o ../internal schema.fbs

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/meigma/fsd/internal/decompress"
	"github.com/meigma/fsd/internal/fb"
)

// DefaultMaxSchemaSize bounds the decompressed size of a schema blob.
const DefaultMaxSchemaSize = 64 << 20

// maxDepth bounds node nesting when decoding untrusted schema blobs.
const maxDepth = 256

const (
	flagOptional uint32 = 1 << iota
	flagHasDefault
	flagFixedSize
	flagUnsigned
	flagDouble
	flagReadRaw
	flagBuildIndex
	flagMultiIndex
	flagFixedItemSize
	flagHasLength
	flagKeyFooter
	flagInner
)

const (
	defaultNone byte = iota
	defaultNil
	defaultInt32
	defaultUint32
	defaultFloat32
	defaultFloat64
	defaultBool
	defaultString
	defaultFloats
)

type marshalConfig struct {
	compress bool
}

// MarshalOption configures Marshal.
type MarshalOption func(*marshalConfig)

// WithCompression zstd-compresses the encoded schema.
func WithCompression() MarshalOption {
	return func(c *marshalConfig) {
		c.compress = true
	}
}

// Marshal encodes an optimized schema as a binary blob that Unmarshal reads back.
// The uncompressed encoding is deterministic for a given schema.
func Marshal(n Node, opts ...MarshalOption) ([]byte, error) {
	var cfg marshalConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	e := encoder{b: flatbuffers.NewBuilder(1024)}
	root, err := e.node(n)
	if err != nil {
		return nil, err
	}
	fb.FinishNodeBuffer(e.b, root)
	data := e.b.FinishedBytes()
	if !cfg.compress {
		return data, nil
	}
	return decompress.Compress(data)
}

type encoder struct {
	b *flatbuffers.Builder
}

type nodeFields struct {
	flags    uint32
	scalar   byte
	width    uint32
	length   uint32
	children []Node
	names    []string
	nums     []int64
	bits     []uint32
	indices  []SubIndex
}

func u32(v int, what string) (uint32, error) {
	if v < 0 || uint64(v) > uint64(^uint32(0)) {
		return 0, fmt.Errorf("%w: %s %d out of range", ErrInvalidSchema, what, v)
	}
	return uint32(v), nil
}

func (e *encoder) node(n Node) (flatbuffers.UOffsetT, error) {
	if n == nil {
		return 0, fmt.Errorf("%w: nil node", ErrInvalidSchema)
	}
	f, err := fieldsOf(n)
	if err != nil {
		return 0, err
	}
	c := n.Base()
	if c.Optional {
		f.flags |= flagOptional
	}
	if c.FixedSize {
		f.flags |= flagFixedSize
	}
	size, err := u32(c.Size, "size")
	if err != nil {
		return 0, err
	}

	// Nested tables, strings and vectors must be built before the node table.
	children := make([]flatbuffers.UOffsetT, len(f.children))
	for i, child := range f.children {
		if children[i], err = e.node(child); err != nil {
			return 0, err
		}
	}
	indices := make([]flatbuffers.UOffsetT, len(f.indices))
	for i, sub := range f.indices {
		if indices[i], err = e.subIndex(sub); err != nil {
			return 0, err
		}
	}
	typeName := e.b.CreateString(c.Type)
	names := e.strings(f.names)

	var def defaultValue
	if c.HasDefault {
		f.flags |= flagHasDefault
		if def, err = encodeDefault(c.Default); err != nil {
			return 0, err
		}
	}
	var defStr, defFloats flatbuffers.UOffsetT
	if def.kind == defaultString {
		defStr = e.b.CreateString(def.s)
	}
	if def.kind == defaultFloats {
		fb.NodeStartDefaultFloatsVector(e.b, len(def.floats))
		for _, v := range slices.Backward(def.floats) {
			e.b.PrependFloat64(v)
		}
		defFloats = e.b.EndVector(len(def.floats))
	}

	var childVec, indexVec, numVec, bitVec flatbuffers.UOffsetT
	if len(children) > 0 {
		childVec = e.offsets(fb.NodeStartChildrenVector, children)
	}
	if len(indices) > 0 {
		indexVec = e.offsets(fb.NodeStartIndicesVector, indices)
	}
	if len(f.nums) > 0 {
		fb.NodeStartNumsVector(e.b, len(f.nums))
		for _, v := range slices.Backward(f.nums) {
			e.b.PrependInt64(v)
		}
		numVec = e.b.EndVector(len(f.nums))
	}
	if len(f.bits) > 0 {
		fb.NodeStartBitsVector(e.b, len(f.bits))
		for _, v := range slices.Backward(f.bits) {
			e.b.PrependUint32(v)
		}
		bitVec = e.b.EndVector(len(f.bits))
	}

	fb.NodeStart(e.b)
	fb.NodeAddKind(e.b, byte(n.Kind()))
	fb.NodeAddTypeName(e.b, typeName)
	fb.NodeAddFlags(e.b, f.flags)
	fb.NodeAddSize(e.b, size)
	fb.NodeAddScalar(e.b, f.scalar)
	fb.NodeAddWidth(e.b, f.width)
	fb.NodeAddLength(e.b, f.length)
	if childVec != 0 {
		fb.NodeAddChildren(e.b, childVec)
	}
	if names != 0 {
		fb.NodeAddNames(e.b, names)
	}
	if numVec != 0 {
		fb.NodeAddNums(e.b, numVec)
	}
	if bitVec != 0 {
		fb.NodeAddBits(e.b, bitVec)
	}
	fb.NodeAddDefaultKind(e.b, def.kind)
	fb.NodeAddDefaultInt(e.b, def.i)
	fb.NodeAddDefaultFloat(e.b, def.f)
	if defStr != 0 {
		fb.NodeAddDefaultStr(e.b, defStr)
	}
	if defFloats != 0 {
		fb.NodeAddDefaultFloats(e.b, defFloats)
	}
	if indexVec != 0 {
		fb.NodeAddIndices(e.b, indexVec)
	}
	return fb.NodeEnd(e.b), nil
}

func (e *encoder) subIndex(sub SubIndex) (flatbuffers.UOffsetT, error) {
	key, err := e.node(sub.Key)
	if err != nil {
		return 0, err
	}
	name := e.b.CreateString(sub.Name)
	ids := e.strings(sub.IDs)
	fb.SubIndexStart(e.b)
	fb.SubIndexAddName(e.b, name)
	if ids != 0 {
		fb.SubIndexAddIds(e.b, ids)
	}
	fb.SubIndexAddKey(e.b, key)
	return fb.SubIndexEnd(e.b), nil
}

func (e *encoder) strings(ss []string) flatbuffers.UOffsetT {
	if len(ss) == 0 {
		return 0
	}
	offs := make([]flatbuffers.UOffsetT, len(ss))
	for i, s := range ss {
		offs[i] = e.b.CreateString(s)
	}
	return e.offsets(fb.NodeStartNamesVector, offs)
}

func (e *encoder) offsets(start func(*flatbuffers.Builder, int) flatbuffers.UOffsetT, offs []flatbuffers.UOffsetT) flatbuffers.UOffsetT {
	start(e.b, len(offs))
	for _, off := range slices.Backward(offs) {
		e.b.PrependUOffsetT(off)
	}
	return e.b.EndVector(len(offs))
}

func fieldsOf(n Node) (nodeFields, error) {
	var f nodeFields
	switch n := n.(type) {
	case *Scalar:
		f.scalar = byte(n.Scalar)
		if n.Unsigned {
			f.flags |= flagUnsigned
		}
	case *Vector:
		f.width = uint32(n.Dims)
		if n.Double {
			f.flags |= flagDouble
		}
		for _, name := range slices.Sorted(maps.Keys(n.Aliases)) {
			f.names = append(f.names, name)
			f.nums = append(f.nums, int64(n.Aliases[name]))
		}
	case *Enum:
		f.width = uint32(n.Width)
		if n.ReadRaw {
			f.flags |= flagReadRaw
		}
		for _, v := range n.Values {
			f.names = append(f.names, v.Name)
			f.nums = append(f.nums, int64(v.Ordinal))
		}
	case *List:
		f.children = []Node{n.Item}
		if n.HasFixedItemSize {
			f.flags |= flagFixedItemSize
			f.width = uint32(n.FixedItemSize)
		}
		if n.HasLength {
			f.flags |= flagHasLength
			f.length = uint32(n.Length)
		}
	case *Dict:
		f.children = []Node{n.Key, n.Value}
		if n.KeyFooter != nil {
			f.flags |= flagKeyFooter
			f.children = append(f.children, n.KeyFooter)
		}
		if n.BuildIndex {
			f.flags |= flagBuildIndex
		}
		if n.MultiIndex {
			f.flags |= flagMultiIndex
		}
		f.indices = n.Indices
	case *Object:
		f.length = uint32(n.EndOfFixedSizeData)
		for _, a := range n.Attributes {
			f.children = append(f.children, a.Node)
			f.names = append(f.names, a.Name)
			off, ok := n.ConstantOffsets[a.Name]
			if !ok {
				off = -1
			}
			f.nums = append(f.nums, int64(off))
			f.bits = append(f.bits, n.OptionalBits[a.Name])
		}
	case *Union:
		f.children = n.Variants
	case *Binary:
		if n.Inner != nil {
			f.flags |= flagInner
			f.children = []Node{n.Inner}
		}
	default:
		return f, fmt.Errorf("%w: cannot encode node %T", ErrInvalidSchema, n)
	}
	return f, nil
}

type defaultValue struct {
	kind   byte
	i      int64
	f      float64
	s      string
	floats []float64
}

func encodeDefault(v any) (defaultValue, error) {
	switch v := v.(type) {
	case nil:
		return defaultValue{kind: defaultNil}, nil
	case int32:
		return defaultValue{kind: defaultInt32, i: int64(v)}, nil
	case uint32:
		return defaultValue{kind: defaultUint32, i: int64(v)}, nil
	case float32:
		return defaultValue{kind: defaultFloat32, f: float64(v)}, nil
	case float64:
		return defaultValue{kind: defaultFloat64, f: v}, nil
	case bool:
		d := defaultValue{kind: defaultBool}
		if v {
			d.i = 1
		}
		return d, nil
	case string:
		return defaultValue{kind: defaultString, s: v}, nil
	case []float64:
		return defaultValue{kind: defaultFloats, floats: v}, nil
	default:
		return defaultValue{}, fmt.Errorf("%w: default of type %T cannot be encoded", ErrInvalidSchema, v)
	}
}

type unmarshalConfig struct {
	maxSize uint64
}

// UnmarshalOption configures Unmarshal.
type UnmarshalOption func(*unmarshalConfig)

// WithMaxSize bounds the decompressed size of a compressed schema blob.
// Zero disables the limit.
func WithMaxSize(n uint64) UnmarshalOption {
	return func(c *unmarshalConfig) {
		c.maxSize = n
	}
}

// Unmarshal decodes a schema blob produced by Marshal, compressed or not.
func Unmarshal(data []byte, opts ...UnmarshalOption) (Node, error) {
	cfg := unmarshalConfig{maxSize: DefaultMaxSchemaSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if decompress.IsZstd(data) {
		var err error
		if data, err = decoderPool(cfg.maxSize).DecodeAll(data); err != nil {
			return nil, fmt.Errorf("decompress schema: %w", err)
		}
	}
	return unmarshal(data)
}

// pools holds one zstd decoder pool per output size limit.
var pools sync.Map

func decoderPool(limit uint64) *decompress.Pool {
	if p, ok := pools.Load(limit); ok {
		return p.(*decompress.Pool) //nolint:errcheck // only pools are stored
	}
	p, _ := pools.LoadOrStore(limit, decompress.NewPool(limit))
	return p.(*decompress.Pool) //nolint:errcheck // only pools are stored
}

func unmarshal(data []byte) (n Node, err error) {
	if len(data) < 8 || !fb.NodeBufferHasIdentifier(data) {
		return nil, fmt.Errorf("%w: missing schema identifier", ErrInvalidSchema)
	}
	defer func() {
		if r := recover(); r != nil {
			n = nil
			err = fmt.Errorf("%w: malformed schema blob: %v", ErrInvalidSchema, r)
		}
	}()
	return decodeNode(fb.GetRootAsNode(data, 0), 0)
}

func decodeNode(t *fb.Node, depth int) (Node, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: schema nested deeper than %d", ErrInvalidSchema, maxDepth)
	}
	flags := t.Flags()
	c := Common{
		Type:      string(t.TypeName()),
		Optional:  flags&flagOptional != 0,
		Size:      int(t.Size()),
		FixedSize: flags&flagFixedSize != 0,
	}
	if flags&flagHasDefault != 0 {
		def, err := decodeDefault(t)
		if err != nil {
			return nil, err
		}
		c.Default = def
		c.HasDefault = true
	}

	children := make([]Node, t.ChildrenLength())
	for i := range children {
		var child fb.Node
		if !t.Children(&child, i) {
			return nil, fmt.Errorf("%w: missing child %d", ErrInvalidSchema, i)
		}
		n, err := decodeNode(&child, depth+1)
		if err != nil {
			return nil, err
		}
		children[i] = n
	}
	names := make([]string, t.NamesLength())
	for i := range names {
		names[i] = string(t.Names(i))
	}
	nums := make([]int64, t.NumsLength())
	for i := range nums {
		nums[i] = t.Nums(i)
	}

	switch Kind(t.Kind()) {
	case KindScalar:
		s := ScalarType(t.Scalar())
		if s < ScalarInt || s > ScalarUnicode {
			return nil, fmt.Errorf("%w: scalar type %d", ErrInvalidSchema, s)
		}
		return &Scalar{Common: c, Scalar: s, Unsigned: flags&flagUnsigned != 0}, nil

	case KindVector:
		if len(names) != len(nums) {
			return nil, fmt.Errorf("%w: vector alias table is inconsistent", ErrInvalidSchema)
		}
		v := &Vector{Common: c, Dims: int(t.Width()), Double: flags&flagDouble != 0}
		if v.Dims <= 0 {
			return nil, fmt.Errorf("%w: vector has %d components", ErrInvalidSchema, v.Dims)
		}
		for i, name := range names {
			if nums[i] < 0 || nums[i] >= int64(v.Dims) {
				return nil, fmt.Errorf("%w: alias %q out of range", ErrInvalidSchema, name)
			}
			if v.Aliases == nil {
				v.Aliases = make(map[string]int, len(names))
			}
			v.Aliases[name] = int(nums[i])
		}
		return v, nil

	case KindEnum:
		if len(names) != len(nums) {
			return nil, fmt.Errorf("%w: enum value table is inconsistent", ErrInvalidSchema)
		}
		e := &Enum{Common: c, Width: int(t.Width()), ReadRaw: flags&flagReadRaw != 0}
		switch e.Width {
		case 1, 2, 4:
		default:
			return nil, fmt.Errorf("%w: enum width %d", ErrInvalidSchema, e.Width)
		}
		for i, name := range names {
			if nums[i] < 0 || nums[i] > int64(^uint32(0)) {
				return nil, fmt.Errorf("%w: enum ordinal %d", ErrInvalidSchema, nums[i])
			}
			e.Values = append(e.Values, EnumValue{Name: name, Ordinal: uint32(nums[i])})
		}
		e.index()
		return e, nil

	case KindList:
		if len(children) != 1 {
			return nil, fmt.Errorf("%w: list needs one item schema", ErrInvalidSchema)
		}
		l := &List{Common: c, Item: children[0]}
		if flags&flagFixedItemSize != 0 {
			l.FixedItemSize = int(t.Width())
			l.HasFixedItemSize = true
		}
		if flags&flagHasLength != 0 {
			l.Length = int(t.Length())
			l.HasLength = true
		}
		return l, nil

	case KindDict:
		want := 2
		if flags&flagKeyFooter != 0 {
			want = 3
		}
		if len(children) != want {
			return nil, fmt.Errorf("%w: dict has %d child schemas", ErrInvalidSchema, len(children))
		}
		d := &Dict{
			Common:     c,
			Key:        children[0],
			Value:      children[1],
			BuildIndex: flags&flagBuildIndex != 0,
			MultiIndex: flags&flagMultiIndex != 0,
		}
		if want == 3 {
			footer, ok := children[2].(*List)
			if !ok {
				return nil, fmt.Errorf("%w: dict key footer is not a list", ErrInvalidSchema)
			}
			d.KeyFooter = footer
		}
		for i := range t.IndicesLength() {
			var sub fb.SubIndex
			t.Indices(&sub, i)
			s, err := decodeSubIndex(&sub, depth+1)
			if err != nil {
				return nil, err
			}
			d.Indices = append(d.Indices, s)
		}
		return d, nil

	case KindObject:
		if len(names) != len(children) || len(nums) != len(children) || t.BitsLength() != len(children) {
			return nil, fmt.Errorf("%w: object attribute table is inconsistent", ErrInvalidSchema)
		}
		o := &Object{
			Common:             c,
			ConstantOffsets:    make(map[string]int),
			OptionalBits:       make(map[string]uint32),
			EndOfFixedSizeData: int(t.Length()),
		}
		for i, name := range names {
			o.Attributes = append(o.Attributes, Attribute{Name: name, Node: children[i]})
			switch bit := t.Bits(i); {
			case nums[i] >= 0:
				if nums[i] > int64(o.EndOfFixedSizeData) {
					return nil, fmt.Errorf("%w: attribute %q offset past fixed data", ErrInvalidSchema, name)
				}
				o.ConstantOffsets[name] = int(nums[i])
			case bit != 0:
				o.OptionalBits[name] = bit
				o.VariableAttributes = append(o.VariableAttributes, name)
			default:
				o.VariableAttributes = append(o.VariableAttributes, name)
			}
		}
		o.index()
		return o, nil

	case KindUnion:
		return &Union{Common: c, Variants: children}, nil

	case KindBinary:
		b := &Binary{Common: c}
		if flags&flagInner != 0 {
			if len(children) != 1 {
				return nil, fmt.Errorf("%w: binary inner schema missing", ErrInvalidSchema)
			}
			b.Inner = children[0]
		}
		return b, nil

	default:
		return nil, fmt.Errorf("%w: node kind %d", ErrUnknownType, t.Kind())
	}
}

func decodeSubIndex(t *fb.SubIndex, depth int) (SubIndex, error) {
	s := SubIndex{Name: string(t.Name())}
	for i := range t.IdsLength() {
		s.IDs = append(s.IDs, string(t.Ids(i)))
	}
	key := t.Key(nil)
	if key == nil {
		return s, fmt.Errorf("%w: sub-index %q has no key schema", ErrInvalidSchema, s.Name)
	}
	var err error
	s.Key, err = decodeNode(key, depth)
	return s, err
}

func decodeDefault(t *fb.Node) (any, error) {
	switch t.DefaultKind() {
	case defaultNil:
		return nil, nil
	case defaultInt32:
		return int32(t.DefaultInt()), nil
	case defaultUint32:
		return uint32(t.DefaultInt()), nil
	case defaultFloat32:
		return float32(t.DefaultFloat()), nil
	case defaultFloat64:
		return t.DefaultFloat(), nil
	case defaultBool:
		return t.DefaultInt() != 0, nil
	case defaultString:
		return string(t.DefaultStr()), nil
	case defaultFloats:
		out := make([]float64, t.DefaultFloatsLength())
		for i := range out {
			out[i] = t.DefaultFloats(i)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: default kind %d", ErrInvalidSchema, t.DefaultKind())
	}
}
