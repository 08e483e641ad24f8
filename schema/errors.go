package schema

import "github.com/meigma/fsd/internal/fsdtype"

// Sentinel errors re-exported from internal/fsdtype.
var (
	// ErrInvalidSchema is returned when a schema tree is malformed.
	ErrInvalidSchema = fsdtype.ErrInvalidSchema

	// ErrUnknownType is returned when a schema node declares an unrecognized type.
	ErrUnknownType = fsdtype.ErrUnknownType

	// ErrSizeOverflow is returned when a compressed schema blob expands past its limit.
	ErrSizeOverflow = fsdtype.ErrSizeOverflow
)
