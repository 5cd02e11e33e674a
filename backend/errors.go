package backend

import "errors"

var (
	// ErrUnknownTable is returned when an operation names a table the backend
	// does not know.
	ErrUnknownTable = errors.New("docrel: backend: unknown table")

	// ErrUnknownColumn is returned when a row names a column its table lacks.
	ErrUnknownColumn = errors.New("docrel: backend: unknown column")

	// ErrTxDone is returned when a transaction is used after commit or rollback.
	ErrTxDone = errors.New("docrel: backend: transaction already finished")

	// ErrUniqueViolation is returned by backends without a native driver error
	// when a unique column would hold a duplicate value.
	ErrUniqueViolation = errors.New("docrel: backend: unique constraint violated")

	// ErrUnsupported is returned when a backend cannot express an operation.
	ErrUnsupported = errors.New("docrel: backend: unsupported operation")
)
