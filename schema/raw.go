package schema

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Raw is a human-authored schema node, as declared in a YAML schema file.
//
// Mappings whose order matters (object attributes, enum values, multi-index
// declarations) keep their declaration order.
type Raw struct {
	Type       string
	Usage      string
	IsOptional bool

	Default    any
	HasDefault bool

	// object
	Attributes []RawAttribute

	// dict
	KeyTypes   *Raw
	ValueTypes *Raw
	BuildIndex bool
	MultiIndex bool
	Indices    []RawIndex

	// list
	ItemTypes *Raw
	Length    *int

	// union
	OptionTypes []*Raw

	// binary
	Schema *Raw

	// enum
	Values        []EnumValue
	ReadEnumValue bool

	// int
	Min          *float64
	ExclusiveMin *float64

	// float and vectors
	Precision string
	Aliases   map[string]int
}

// RawAttribute is one declared object attribute.
type RawAttribute struct {
	Name   string
	Schema *Raw
}

// RawIndex declares a named secondary index of a multi-index dict.
type RawIndex struct {
	Name     string
	IDs      []string
	KeyTypes *Raw
}

// usage returns the declared usage, defaulting to the client target.
func (r *Raw) usage() string {
	if r.Usage == "" {
		return UsageClient
	}
	return r.Usage
}

type rawYAML struct {
	Type          string         `yaml:"type"`
	Usage         string         `yaml:"usage"`
	IsOptional    bool           `yaml:"isOptional"`
	Default       yaml.Node      `yaml:"default"`
	Attributes    yaml.Node      `yaml:"attributes"`
	KeyTypes      *Raw           `yaml:"keyTypes"`
	ValueTypes    *Raw           `yaml:"valueTypes"`
	BuildIndex    bool           `yaml:"buildIndex"`
	MultiIndex    bool           `yaml:"multiIndex"`
	Indices       yaml.Node      `yaml:"indices"`
	ItemTypes     *Raw           `yaml:"itemTypes"`
	Length        *int           `yaml:"length"`
	OptionTypes   []*Raw         `yaml:"optionTypes"`
	Schema        *Raw           `yaml:"schema"`
	Values        yaml.Node      `yaml:"values"`
	ReadEnumValue bool           `yaml:"readEnumValue"`
	Min           *float64       `yaml:"min"`
	ExclusiveMin  *float64       `yaml:"exclusiveMin"`
	Precision     string         `yaml:"precision"`
	Aliases       map[string]int `yaml:"aliases"`
}

type rawIndexYAML struct {
	IDs      []string `yaml:"ids"`
	KeyTypes *Raw     `yaml:"keyTypes"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *Raw) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: line %d: schema node must be a mapping", ErrInvalidSchema, value.Line)
	}
	var y rawYAML
	if err := value.Decode(&y); err != nil {
		return fmt.Errorf("%w: line %d: %v", ErrInvalidSchema, value.Line, err)
	}
	*r = Raw{
		Type:          y.Type,
		Usage:         y.Usage,
		IsOptional:    y.IsOptional,
		KeyTypes:      y.KeyTypes,
		ValueTypes:    y.ValueTypes,
		BuildIndex:    y.BuildIndex,
		MultiIndex:    y.MultiIndex,
		ItemTypes:     y.ItemTypes,
		Length:        y.Length,
		OptionTypes:   y.OptionTypes,
		Schema:        y.Schema,
		ReadEnumValue: y.ReadEnumValue,
		Min:           y.Min,
		ExclusiveMin:  y.ExclusiveMin,
		Precision:     y.Precision,
		Aliases:       y.Aliases,
	}
	if y.Default.Kind != 0 {
		if err := y.Default.Decode(&r.Default); err != nil {
			return fmt.Errorf("%w: line %d: default: %v", ErrInvalidSchema, y.Default.Line, err)
		}
		r.HasDefault = true
	}
	if err := eachPair(&y.Attributes, "attributes", func(key string, v *yaml.Node) error {
		attr := &Raw{}
		if err := v.Decode(attr); err != nil {
			return err
		}
		r.Attributes = append(r.Attributes, RawAttribute{Name: key, Schema: attr})
		return nil
	}); err != nil {
		return err
	}
	if err := eachPair(&y.Values, "values", func(key string, v *yaml.Node) error {
		var ordinal uint32
		if err := v.Decode(&ordinal); err != nil {
			return fmt.Errorf("%w: line %d: enum value %q: %v", ErrInvalidSchema, v.Line, key, err)
		}
		r.Values = append(r.Values, EnumValue{Name: key, Ordinal: ordinal})
		return nil
	}); err != nil {
		return err
	}
	return eachPair(&y.Indices, "indices", func(key string, v *yaml.Node) error {
		var idx rawIndexYAML
		if err := v.Decode(&idx); err != nil {
			return fmt.Errorf("%w: line %d: index %q: %v", ErrInvalidSchema, v.Line, key, err)
		}
		r.Indices = append(r.Indices, RawIndex{Name: key, IDs: idx.IDs, KeyTypes: idx.KeyTypes})
		return nil
	})
}

// eachPair walks a mapping node in declaration order. Absent nodes are skipped.
func eachPair(n *yaml.Node, field string, fn func(key string, v *yaml.Node) error) error {
	if n.Kind == 0 {
		return nil
	}
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: line %d: %s must be a mapping", ErrInvalidSchema, n.Line, field)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if err := fn(n.Content[i].Value, n.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// Parse parses a single raw schema node from YAML.
func Parse(data []byte) (*Raw, error) {
	r := &Raw{}
	if err := yaml.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	return r, nil
}

// Document is a schema file holding named schemas and the name of the one
// used at runtime.
type Document struct {
	Schemas       map[string]*Raw `yaml:"schemas"`
	RuntimeSchema string          `yaml:"runtimeSchema"`
}

// ParseDocument parses a schema document from YAML.
func ParseDocument(data []byte) (*Document, error) {
	doc := &Document{}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parse schema document: %w", err)
	}
	return doc, nil
}

// Runtime returns the raw runtime schema.
func (d *Document) Runtime() (*Raw, error) {
	r, ok := d.Schemas[d.RuntimeSchema]
	if !ok || r == nil {
		return nil, fmt.Errorf("%w: runtime schema %q not declared", ErrInvalidSchema, d.RuntimeSchema)
	}
	return r, nil
}

// Optimize optimizes the runtime schema for usage.
func (d *Document) Optimize(usage string) (Node, error) {
	r, err := d.Runtime()
	if err != nil {
		return nil, err
	}
	return Optimize(r, usage)
}
