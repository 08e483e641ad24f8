package fsd

import (
	"fmt"
	"unicode/utf8"

	"github.com/meigma/fsd/internal/codec"
	"github.com/meigma/fsd/internal/sizing"
	"github.com/meigma/fsd/schema"
)

// decode interprets the bytes at off in data as n.
//
// Scalars decode to Go values (int32 or uint32, float32, float64, bool,
// string). Enums decode to their name, or to the uint32 ordinal when the
// schema reads raw values. Containers decode to lazy views over data.
func decode(cfg *config, data []byte, off int, n schema.Node) (any, error) {
	switch n := n.(type) {
	case *schema.Scalar:
		return decodeScalar(data, off, n)
	case *schema.Enum:
		return decodeEnum(data, off, n)
	case *schema.Vector:
		return decodeVector(data, off, n)
	case *schema.List:
		return newList(cfg, data, off, n)
	case *schema.Object:
		return newObject(cfg, data, off, n)
	case *schema.Dict:
		if n.MultiIndex {
			return nil, fmt.Errorf("%w: multi-index dict needs LoadIndexFromFile", ErrUnsupportedSchema)
		}
		return newDict(cfg, data, off, n)
	case *schema.Union:
		variant, err := codec.Uint32(data, off)
		if err != nil {
			return nil, err
		}
		if int64(variant) >= int64(len(n.Variants)) {
			return nil, fmt.Errorf("%w: union variant %d of %d", ErrCorrupt, variant, len(n.Variants))
		}
		return decode(cfg, data, off+codec.WordSize, n.Variants[variant])
	case *schema.Binary:
		return newBlob(cfg, data, off, n)
	case nil:
		return nil, fmt.Errorf("%w: nil schema node", ErrInvalidSchema)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, n)
	}
}

func decodeScalar(data []byte, off int, n *schema.Scalar) (any, error) {
	switch n.Scalar {
	case schema.ScalarInt:
		if n.Unsigned {
			return codec.Uint32(data, off)
		}
		return codec.Int32(data, off)
	case schema.ScalarFloat:
		return codec.Float32(data, off)
	case schema.ScalarDouble:
		return codec.Float64(data, off)
	case schema.ScalarBool:
		return codec.Bool(data, off)
	case schema.ScalarString:
		return codec.String(data, off)
	case schema.ScalarUnicode:
		b, err := codec.Bytes(data, off)
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(b) {
			return nil, fmt.Errorf("%w: invalid UTF-8 at offset %d", ErrCorrupt, off)
		}
		return string(b), nil
	default:
		return nil, fmt.Errorf("%w: scalar type %d", ErrUnknownType, n.Scalar)
	}
}

func decodeEnum(data []byte, off int, n *schema.Enum) (any, error) {
	ordinal, err := codec.Uint(data, off, n.Width)
	if err != nil {
		return nil, err
	}
	if n.ReadRaw {
		return ordinal, nil
	}
	name, ok := n.Name(ordinal)
	if !ok {
		return nil, fmt.Errorf("%w: unknown enum ordinal %d", ErrCorrupt, ordinal)
	}
	return name, nil
}

func decodeVector(data []byte, off int, n *schema.Vector) (any, error) {
	step := 4
	if n.Double {
		step = 8
	}
	span, ok := sizing.MulInt(n.Dims, step)
	if !ok || !sizing.InBounds(off, span, len(data)) {
		return nil, fmt.Errorf("%w: vector of %d components at offset %d exceeds buffer of %d bytes", ErrCorrupt, n.Dims, off, len(data))
	}
	comps := make([]float64, n.Dims)
	for i := range comps {
		pos := off + i*step
		if n.Double {
			v, err := codec.Float64(data, pos)
			if err != nil {
				return nil, err
			}
			comps[i] = v
			continue
		}
		v, err := codec.Float32(data, pos)
		if err != nil {
			return nil, err
		}
		comps[i] = float64(v)
	}
	if n.Named() {
		return &NamedVector{values: comps, aliases: n.Aliases}, nil
	}
	return comps, nil
}
