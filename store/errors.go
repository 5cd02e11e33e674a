package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a document doesn't exist.
	ErrNotFound = errors.New("docrel: document not found")

	// ErrMissingID is returned when an update names neither an id nor a
	// conflict target.
	ErrMissingID = errors.New("docrel: update requires an id or an upsert target")

	// ErrConflictNotUpdated is returned when the conflicting row of an update
	// exists but is rejected by the update's where filters.
	ErrConflictNotUpdated = errors.New("docrel: conflicting row not updated")

	// ErrInvalidOperation is returned for an operation other than create or update.
	ErrInvalidOperation = errors.New("docrel: invalid operation")

	// ErrWrite is matched by every failure of the write phase.
	ErrWrite = errors.New("docrel: write failed")

	// ErrReconstruct is matched by failures reading a document back after a
	// committed write.
	ErrReconstruct = errors.New("docrel: reconstruct failed")
)

// TaskError identifies the write task that failed an upsert. The whole
// transaction, base row included, was rolled back.
type TaskError struct {
	// Task is the task kind: base, locales, relationships, numbers, blocks,
	// arrays or selects.
	Task string

	// Table is the table the task was writing.
	Table string

	Err error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("docrel: %s task on %s: %v", e.Task, e.Table, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Is reports ErrWrite so callers can match any write failure.
func (e *TaskError) Is(target error) bool { return target == ErrWrite }

// ReconstructError reports a failure to read back a document whose write was
// committed.
type ReconstructError struct {
	Collection string
	ID         string
	Err        error
}

func (e *ReconstructError) Error() string {
	return fmt.Sprintf("docrel: reconstruct %s %s: %v", e.Collection, e.ID, e.Err)
}

func (e *ReconstructError) Unwrap() error { return e.Err }

// Is reports ErrReconstruct.
func (e *ReconstructError) Is(target error) bool { return target == ErrReconstruct }
