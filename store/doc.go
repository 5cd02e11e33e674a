// Package store writes nested documents to a relational backend and reads
// them back.
//
// A document is decomposed into the rows of its collection's tables (see
// package transform), written in one backend transaction, and recomposed from
// a single nested read.
//
// # Upsert protocol
//
//   - The base row is inserted (create) or upserted at the upsert target
//     (update). An update whose Where filters reject the conflicting row fails
//     with [ErrConflictNotUpdated].
//   - Dependent rows are written by concurrent tasks: locale rows,
//     relationships, numbers, blocks, arrays and selects. On update each task
//     first deletes the rows in the document's scope, so dependent data is
//     replaced, never merged.
//   - Relationship, number and block rows are pruned by path: rows whose path
//     the document does not touch survive an update.
//   - The committed document is read back at the requested depth.
//
// # Configuration
//
// Use [DefaultConfig] and adjust:
//
//	cfg := store.DefaultConfig()
//	cfg.MaxConcurrency = 16
//	cfg.Locales = []string{"en", "de"}
//
// # Errors
//
//   - [ErrMissingID] - update without id or upsert target
//   - [ErrInvalidOperation] - operation is neither create nor update
//   - [ErrConflictNotUpdated] - the conflicting row did not match Where
//   - [ErrNotFound] - no document with that id
//   - [*TaskError] - a write task failed; matches [ErrWrite]
//   - [*ReconstructError] - the write committed but the read-back failed;
//     matches [ErrReconstruct]
package store
