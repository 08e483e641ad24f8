package schema

import (
	"fmt"
	"maps"
	"slices"
)

// UsageClient is the usage target that consumer-side loaders optimize for.
const UsageClient = "Client"

// Kind identifies the shape of a schema node.
type Kind uint8

// Schema node kinds.
const (
	KindScalar Kind = iota + 1
	KindVector
	KindEnum
	KindList
	KindDict
	KindObject
	KindUnion
	KindBinary
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindVector:
		return "vector"
	case KindEnum:
		return "enum"
	case KindList:
		return "list"
	case KindDict:
		return "dict"
	case KindObject:
		return "object"
	case KindUnion:
		return "union"
	case KindBinary:
		return "binary"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// Node is an optimized schema node.
//
// The concrete types are *Scalar, *Vector, *Enum, *List, *Dict, *Object,
// *Union and *Binary. An optimized node carries everything needed to decode
// its bytes without the raw schema it was built from.
type Node interface {
	Kind() Kind
	Base() *Common
	isNode()
}

// Common holds the properties shared by every node.
type Common struct {
	// Type is the declared type tag, e.g. "typeID", "resPath" or "vector3".
	Type string

	// Optional marks an object attribute that may be absent.
	Optional bool

	// Default is returned for an absent optional attribute when HasDefault is set.
	// It holds the same Go type the node decodes to.
	Default    any
	HasDefault bool

	// Size is the encoded size in bytes when FixedSize is set.
	Size      int
	FixedSize bool
}

// Base returns the shared node properties.
func (c *Common) Base() *Common { return c }

func (c *Common) isNode() {}

// ScalarType selects the primitive codec of a Scalar.
type ScalarType uint8

// Scalar types.
const (
	ScalarInt ScalarType = iota + 1
	ScalarFloat
	ScalarDouble
	ScalarBool
	ScalarString
	ScalarUnicode
)

// Scalar is an int, float, double, bool or string node.
type Scalar struct {
	Common
	Scalar ScalarType

	// Unsigned selects unsigned decoding for ScalarInt.
	Unsigned bool
}

// Kind implements Node.
func (*Scalar) Kind() Kind { return KindScalar }

// Vector is a fixed-length tuple of floats.
type Vector struct {
	Common
	Dims   int
	Double bool

	// Aliases maps component names to positions. A vector with aliases
	// decodes to a named vector.
	Aliases map[string]int
}

// Kind implements Node.
func (*Vector) Kind() Kind { return KindVector }

// Named reports whether the vector declares component aliases.
func (v *Vector) Named() bool { return len(v.Aliases) > 0 }

// EnumValue is one name/ordinal pair of an Enum.
type EnumValue struct {
	Name    string
	Ordinal uint32
}

// Enum is an unsigned ordinal mapped to a name.
type Enum struct {
	Common

	// Width is the encoded ordinal width in bytes: 1, 2 or 4.
	Width  int
	Values []EnumValue

	// ReadRaw returns the ordinal instead of the name.
	ReadRaw bool

	byOrdinal map[uint32]string
	byName    map[string]uint32
}

// Kind implements Node.
func (*Enum) Kind() Kind { return KindEnum }

// NewEnum builds an enum node with the smallest width that can hold its largest ordinal.
func NewEnum(typeName string, values []EnumValue, readRaw bool) *Enum {
	var maxOrdinal uint32
	for _, v := range values {
		maxOrdinal = max(maxOrdinal, v.Ordinal)
	}
	width := 4
	switch {
	case maxOrdinal <= 0xFF:
		width = 1
	case maxOrdinal <= 0xFFFF:
		width = 2
	}
	e := &Enum{
		Common:  Common{Type: typeName, Size: width, FixedSize: true},
		Width:   width,
		Values:  slices.Clone(values),
		ReadRaw: readRaw,
	}
	e.index()
	return e
}

func (e *Enum) index() {
	e.byOrdinal = make(map[uint32]string, len(e.Values))
	e.byName = make(map[string]uint32, len(e.Values))
	for _, v := range e.Values {
		if _, dup := e.byOrdinal[v.Ordinal]; !dup {
			e.byOrdinal[v.Ordinal] = v.Name
		}
		e.byName[v.Name] = v.Ordinal
	}
}

// Name returns the name of ordinal.
func (e *Enum) Name(ordinal uint32) (string, bool) {
	name, ok := e.byOrdinal[ordinal]
	return name, ok
}

// Ordinal returns the ordinal of name.
func (e *Enum) Ordinal(name string) (uint32, bool) {
	ordinal, ok := e.byName[name]
	return ordinal, ok
}

// List is a sequence of items sharing one schema.
type List struct {
	Common
	Item Node

	// FixedItemSize is the stride of fixed-size items; HasFixedItemSize
	// selects direct-stride addressing instead of the offset table.
	FixedItemSize    int
	HasFixedItemSize bool

	// Length pins the element count when the list is embedded in a
	// layout that already knows it; no count word is stored.
	Length    int
	HasLength bool
}

// Kind implements Node.
func (*List) Kind() Kind { return KindList }

// NewList builds a list node, recording the item stride when the item is fixed-size.
func NewList(item Node) *List {
	l := &List{Common: Common{Type: "list"}, Item: item}
	if b := item.Base(); b.FixedSize {
		l.FixedItemSize = b.Size
		l.HasFixedItemSize = true
	}
	return l
}

// SubIndex declares one named secondary index of a multi-index dict.
type SubIndex struct {
	Name string

	// IDs are the physical sub-index identifiers backing Name, tried in order.
	IDs []string

	// Key is the key schema of the physical sub-indices.
	Key Node
}

// Dict maps sorted keys to values through a footer key table.
type Dict struct {
	Common
	Key   Node
	Value Node

	// BuildIndex marks a dict that is loaded as a nested disk-backed index.
	BuildIndex bool

	// KeyFooter is the list schema of the generic key table.
	// When nil, DefaultKeyFooter(Key) is used.
	KeyFooter *List

	// MultiIndex marks a root dict that carries named secondary indices.
	MultiIndex bool
	Indices    []SubIndex
}

// Kind implements Node.
func (*Dict) Kind() Kind { return KindDict }

// IntKeys reports whether the dict uses the flat integer key table.
func (d *Dict) IntKeys() bool {
	return IsIntKey(d.Key)
}

// Footer returns the generic key table schema.
func (d *Dict) Footer() *List {
	if d.KeyFooter != nil {
		return d.KeyFooter
	}
	return DefaultKeyFooter(d.Key)
}

// IsIntKey reports whether key selects the flat integer key table.
// Only keys declared as plain "int" do; typeID and localizationID keys
// use the generic footer.
func IsIntKey(key Node) bool {
	s, ok := key.(*Scalar)
	return ok && s.Scalar == ScalarInt && s.Type == "int"
}

// DefaultKeyFooter returns the generic key table schema for a key type:
// a list of {key, offset, size} objects sorted by key.
func DefaultKeyFooter(key Node) *List {
	word := func() *Scalar {
		return &Scalar{Common: Common{Type: "int", Size: 4, FixedSize: true}, Scalar: ScalarInt, Unsigned: true}
	}
	item := NewObject("object", []Attribute{
		{Name: "key", Node: key},
		{Name: "offset", Node: word()},
		{Name: "size", Node: word()},
	})
	return NewList(item)
}

// Attribute is one named member of an Object.
type Attribute struct {
	Name string
	Node Node
}

// Object is a record with named attributes.
//
// Attributes partition into constant-offset attributes (ConstantOffsets),
// required attributes at data-dependent offsets, and optional attributes
// (OptionalBits). VariableAttributes lists the latter two in declaration order.
type Object struct {
	Common
	Attributes         []Attribute
	ConstantOffsets    map[string]int
	VariableAttributes []string
	OptionalBits       map[string]uint32

	// EndOfFixedSizeData is the offset of the presence bitmask word.
	EndOfFixedSizeData int

	byName map[string]int
}

// Kind implements Node.
func (*Object) Kind() Kind { return KindObject }

// NewObject lays out attrs in declaration order.
//
// Non-optional attributes of a fixed-layout type receive consecutive constant
// offsets. Optional attributes receive left-shifting presence bits starting
// at 1. Everything else is addressed through the per-instance offset table.
// The object is fixed-size when every attribute has a constant offset.
func NewObject(typeName string, attrs []Attribute) *Object {
	o := &Object{
		Common:          Common{Type: typeName},
		Attributes:      slices.Clone(attrs),
		ConstantOffsets: make(map[string]int),
		OptionalBits:    make(map[string]uint32),
	}
	offset := 0
	bit := uint32(1)
	for _, a := range attrs {
		b := a.Node.Base()
		switch {
		case b.Optional:
			o.OptionalBits[a.Name] = bit
			o.VariableAttributes = append(o.VariableAttributes, a.Name)
			bit <<= 1
		case !hasFixedLayout(a.Node):
			o.VariableAttributes = append(o.VariableAttributes, a.Name)
		default:
			o.ConstantOffsets[a.Name] = offset
			offset += b.Size
		}
	}
	o.EndOfFixedSizeData = offset
	if len(o.VariableAttributes) == 0 {
		o.Size = offset
		o.FixedSize = true
	}
	o.index()
	return o
}

func (o *Object) index() {
	o.byName = make(map[string]int, len(o.Attributes))
	for i, a := range o.Attributes {
		o.byName[a.Name] = i
	}
}

// Attribute returns the schema of the named attribute.
func (o *Object) Attribute(name string) (Node, bool) {
	i, ok := o.byName[name]
	if !ok {
		return nil, false
	}
	return o.Attributes[i].Node, true
}

// Names returns the attribute names in declaration order.
func (o *Object) Names() []string {
	names := make([]string, len(o.Attributes))
	for i, a := range o.Attributes {
		names[i] = a.Name
	}
	return names
}

// HasOptional reports whether the object declares optional attributes.
func (o *Object) HasOptional() bool {
	return len(o.OptionalBits) > 0
}

// fixedLayoutTypes are the type tags placed at constant offsets inside objects.
// double and the vectorNd tags have a fixed size but are addressed through
// the offset table, matching files produced by the reference writer.
var fixedLayoutTypes = map[string]bool{
	"int":            true,
	"typeID":         true,
	"localizationID": true,
	"float":          true,
	"bool":           true,
	"enum":           true,
	"vector2":        true,
	"vector3":        true,
	"vector4":        true,
}

// hasFixedLayout reports whether a non-optional attribute of this node gets a constant offset.
func hasFixedLayout(n Node) bool {
	if o, ok := n.(*Object); ok {
		return o.FixedSize
	}
	return fixedLayoutTypes[n.Base().Type] && n.Base().FixedSize
}

// Union is a tagged choice between variant schemas.
type Union struct {
	Common
	Variants []Node
}

// Kind implements Node.
func (*Union) Kind() Kind { return KindUnion }

// Binary is a length-prefixed blob decoded with its own schema.
// A nil Inner means the blob carries an embedded schema.
type Binary struct {
	Common
	Inner Node
}

// Kind implements Node.
func (*Binary) Kind() Kind { return KindBinary }

// Equal reports whether two optimized schemas describe the same layout.
func Equal(a, b Node) bool {
	da, errA := Digest(a)
	db, errB := Digest(b)
	return errA == nil && errB == nil && da == db
}

// cloneAliases copies an alias table.
func cloneAliases(m map[string]int) map[string]int {
	if len(m) == 0 {
		return nil
	}
	return maps.Clone(m)
}
