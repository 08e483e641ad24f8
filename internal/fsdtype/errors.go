// Package fsdtype holds the sentinel errors shared by the fsd packages.
package fsdtype

import "errors"

// Schema errors.
var (
	// ErrInvalidSchema is returned when a schema tree is malformed.
	ErrInvalidSchema = errors.New("fsd: invalid schema")

	// ErrUnknownType is returned when a schema node declares an unrecognized type.
	ErrUnknownType = errors.New("fsd: unknown schema type")

	// ErrUnsupportedSchema is returned when a loader cannot handle the schema,
	// such as a multi-index schema given to an in-memory loader.
	ErrUnsupportedSchema = errors.New("fsd: unsupported schema")

	// ErrSchemaMismatch is returned when an embedded schema does not match the expected digest.
	ErrSchemaMismatch = errors.New("fsd: schema mismatch")

	// ErrNoEmbeddedSchema is returned when a container does not start with a schema blob.
	ErrNoEmbeddedSchema = errors.New("fsd: no embedded schema")
)

// Data errors.
var (
	// ErrCorrupt is returned when container bytes do not match their schema.
	ErrCorrupt = errors.New("fsd: corrupt data")

	// ErrOutOfRange is returned when a list index is outside the list bounds.
	ErrOutOfRange = errors.New("fsd: index out of range")

	// ErrSizeOverflow is returned when an offset or size does not fit the platform int.
	ErrSizeOverflow = errors.New("fsd: size overflow")
)

// Lookup errors.
var (
	// ErrNotFound is returned when a dict or index key is absent.
	ErrNotFound = errors.New("fsd: key not found")

	// ErrAttributeNotFound is returned when an optional attribute is absent
	// and its schema declares no default.
	ErrAttributeNotFound = errors.New("fsd: attribute not found")

	// ErrUnknownAttribute is returned when an attribute name is not part of the object schema.
	ErrUnknownAttribute = errors.New("fsd: unknown attribute")

	// ErrTypeMismatch is returned by typed accessors when a value has another Go type.
	ErrTypeMismatch = errors.New("fsd: value type mismatch")
)
