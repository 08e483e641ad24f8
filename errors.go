package fsd

import "github.com/meigma/fsd/internal/fsdtype"

// Schema errors re-exported from internal/fsdtype.
var (
	// ErrInvalidSchema is returned when a schema tree or schema blob is malformed.
	ErrInvalidSchema = fsdtype.ErrInvalidSchema

	// ErrUnknownType is returned when a schema node declares an unrecognized type.
	ErrUnknownType = fsdtype.ErrUnknownType

	// ErrUnsupportedSchema is returned when a loader cannot handle the schema,
	// such as a multi-index schema given to LoadFromBytes.
	ErrUnsupportedSchema = fsdtype.ErrUnsupportedSchema

	// ErrSchemaMismatch is returned when an embedded schema does not match WithSchemaDigest.
	ErrSchemaMismatch = fsdtype.ErrSchemaMismatch

	// ErrNoEmbeddedSchema is returned by LoadEmbeddedSchema when the input
	// does not start with a schema blob.
	ErrNoEmbeddedSchema = fsdtype.ErrNoEmbeddedSchema
)

// Data errors re-exported from internal/fsdtype.
var (
	// ErrCorrupt is returned when container bytes do not match their schema.
	ErrCorrupt = fsdtype.ErrCorrupt

	// ErrOutOfRange is returned when a list index is outside the list bounds.
	ErrOutOfRange = fsdtype.ErrOutOfRange

	// ErrSizeOverflow is returned when an offset or size exceeds supported limits.
	ErrSizeOverflow = fsdtype.ErrSizeOverflow
)

// Lookup errors re-exported from internal/fsdtype.
var (
	// ErrNotFound is returned when a dict or index key is absent.
	ErrNotFound = fsdtype.ErrNotFound

	// ErrAttributeNotFound is returned when an optional attribute is absent
	// and its schema declares no default.
	ErrAttributeNotFound = fsdtype.ErrAttributeNotFound

	// ErrUnknownAttribute is returned when an attribute name is not part of the object schema.
	ErrUnknownAttribute = fsdtype.ErrUnknownAttribute

	// ErrTypeMismatch is returned by typed accessors when a value has another Go type.
	ErrTypeMismatch = fsdtype.ErrTypeMismatch
)
