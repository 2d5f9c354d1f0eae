package odm

import "errors"

// Sentinel errors for the record-mapping layer. Operations return these
// wrapped with field and identity context so callers can match with
// errors.Is. Store failures are not translated: they propagate wrapped but
// unchanged, and this layer never retries them.
var (
	// ErrSchema marks a malformed attribute or schema declaration,
	// detected when the schema is built. A type whose schema fails to
	// build is unusable.
	ErrSchema = errors.New("invalid schema")

	// ErrMissingField is returned at construction when a field with no
	// default was not supplied.
	ErrMissingField = errors.New("missing field")

	// ErrUnexpectedField is returned at construction when the caller
	// supplied a field the schema does not declare.
	ErrUnexpectedField = errors.New("unexpected field")

	// ErrUnknownAttribute is returned by field access on a name the
	// schema does not declare.
	ErrUnknownAttribute = errors.New("unknown attribute")

	// ErrReadOnly is returned when writing a field not declared mutable.
	ErrReadOnly = errors.New("attribute is read-only")

	// ErrWrongType is returned when a supplied value does not fit the
	// attribute: a reference attribute given anything but a live record
	// of the declared type, or a plain attribute given a reference.
	ErrWrongType = errors.New("wrong value type")

	// ErrNotFound is returned by lookups matching zero documents.
	ErrNotFound = errors.New("record not found")

	// ErrIntegrity is returned when a lookup by identity matches more
	// than one document. It signals store corruption: retrying cannot
	// fix duplicate identities, so callers should surface it loudly.
	ErrIntegrity = errors.New("store integrity violation")
)
