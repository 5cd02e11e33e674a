package schema

import "errors"

var (
	// ErrInvalidSchema is returned when a collection definition cannot be turned
	// into a table layout.
	ErrInvalidSchema = errors.New("docrel: invalid schema")

	// ErrUnknownCollection is returned when a collection is not registered.
	ErrUnknownCollection = errors.New("docrel: unknown collection")

	// ErrUnknownTable is returned when a table name or id is not registered.
	ErrUnknownTable = errors.New("docrel: unknown table")
)
