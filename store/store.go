package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jacentio/docrel/backend"
	"github.com/jacentio/docrel/query"
	"github.com/jacentio/docrel/rows"
	"github.com/jacentio/docrel/schema"
	"github.com/jacentio/docrel/transform"
)

var tracer = otel.Tracer("github.com/jacentio/docrel/store")

// Operation is the mode of an upsert.
type Operation string

const (
	// OpCreate inserts a new base row.
	OpCreate Operation = "create"

	// OpUpdate overwrites the row conflicting at the upsert target, or inserts
	// one, and replaces all of its dependent rows.
	OpUpdate Operation = "update"
)

// UpsertInput describes one write.
type UpsertInput struct {
	// ID is the document identity. Required for updates without an
	// UpsertTarget; assigned before the write when set.
	ID string

	Operation  Operation
	Data       transform.Document
	Collection string

	// UpsertTarget names the base column identifying the conflicting row of
	// an update: id or a unique column. Default: id.
	UpsertTarget []string

	// Where restricts which conflicting row an update may overwrite.
	Where []backend.Filter

	// Depth is the relationship population depth of the returned document.
	Depth int
}

// Store writes documents to, and reads them from, a backend.
type Store struct {
	conn     backend.Conn
	registry *schema.Registry
	config   Config
	logger   *slog.Logger
}

// New creates a new Store instance.
func New(conn backend.Conn, registry *schema.Registry, config Config) *Store {
	config.validate()
	return &Store{
		conn:     conn,
		registry: registry,
		config:   config,
		logger:   config.Logger,
	}
}

// Registry returns the table registry.
func (s *Store) Registry() *schema.Registry {
	return s.registry
}

// BuildReadDescriptor returns the descriptor documents of collection are read
// with at the given relationship depth.
func (s *Store) BuildReadDescriptor(collection string, depth int) (*query.Descriptor, error) {
	return query.Build(s.registry, collection, depth)
}

// Upsert writes a document and returns it as read back from storage.
//
// The base row and every dependent row are written in one transaction. On
// update, dependent rows in the document's scope are replaced, not merged.
// Failures before commit match ErrWrite or are validation errors; a failure
// reading the committed document back is a *ReconstructError.
func (s *Store) Upsert(ctx context.Context, in UpsertInput) (doc transform.Document, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "docrel.Upsert", trace.WithAttributes(
		attribute.String("collection", in.Collection),
		attribute.String("operation", string(in.Operation)),
	))
	defer func() {
		outcome := "ok"
		switch {
		case errors.Is(err, ErrReconstruct):
			outcome = "reconstruct_error"
		case errors.Is(err, ErrWrite):
			outcome = "write_error"
		case err != nil:
			outcome = "invalid"
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.config.Metrics.observeUpsert(in.Collection, in.Operation, outcome, start)
	}()

	layout, err := s.registry.Layout(in.Collection)
	if err != nil {
		return nil, err
	}
	switch in.Operation {
	case OpCreate:
	case OpUpdate:
		if in.ID == "" && len(in.UpsertTarget) == 0 {
			return nil, ErrMissingID
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidOperation, in.Operation)
	}
	if len(in.UpsertTarget) > 1 {
		return nil, fmt.Errorf("%w: upsert target %v names more than one column", ErrInvalidOperation, in.UpsertTarget)
	}
	for _, col := range in.UpsertTarget {
		c, ok := layout.Base.Column(col)
		if !ok {
			return nil, fmt.Errorf("%w: upsert target %q is not a column of %s", transform.ErrSchemaMismatch, col, layout.Base.Name)
		}
		if col != rows.ColID && !c.Unique {
			return nil, fmt.Errorf("%w: upsert target %q of %s is not unique", ErrInvalidOperation, col, layout.Base.Name)
		}
	}

	rti, err := transform.Decompose(in.Data, layout.Collection.Fields, layout.Base.Name, transform.Options{
		Strict:  s.config.Strict,
		Locales: s.config.Locales,
	})
	if err != nil {
		return nil, err
	}
	if in.ID != "" {
		rti.Row[rows.ColID] = in.ID
	}

	id, err := s.write(ctx, in, layout, rti)
	if err != nil {
		s.logger.Error("docrel: upsert failed",
			"collection", in.Collection,
			"operation", in.Operation,
			"error", err,
		)
		return nil, err
	}
	s.logger.Info("docrel: upserted",
		"collection", in.Collection,
		"operation", in.Operation,
		"id", id,
	)

	doc, err = s.read(ctx, in.Collection, id, in.Depth)
	if err != nil {
		return nil, &ReconstructError{Collection: in.Collection, ID: id, Err: err}
	}
	return doc, nil
}

// write runs the transactional part of an upsert and returns the base row id.
func (s *Store) write(ctx context.Context, in UpsertInput, layout *schema.Layout, rti *rows.RowToInsert) (id string, err error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return "", &TaskError{Task: "begin", Table: layout.Base.Name, Err: err}
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, backend.ErrTxDone) {
			s.logger.Warn("docrel: rollback failed", "collection", in.Collection, "error", rbErr)
		}
	}()

	base, err := s.writeBase(ctx, tx, in, layout, rti.Row)
	if err != nil {
		return "", err
	}

	u := &upsert{
		store:  s,
		tx:     newLimitedTx(tx, s.config.MaxConcurrency),
		layout: layout,
		rti:    rti,
		id:     base.ID(),
		update: in.Operation == OpUpdate,
	}
	if err := u.run(ctx); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", &TaskError{Task: "commit", Table: layout.Base.Name, Err: err}
	}
	return u.id, nil
}

func (s *Store) writeBase(ctx context.Context, tx backend.Tx, in UpsertInput, layout *schema.Layout, row rows.Row) (rows.Row, error) {
	table := layout.Base.Name
	if in.Operation == OpCreate {
		stored, err := tx.Insert(ctx, table, []rows.Row{row})
		if err != nil {
			return nil, &TaskError{Task: "base", Table: table, Err: err}
		}
		if len(stored) != 1 {
			return nil, &TaskError{Task: "base", Table: table, Err: fmt.Errorf("insert returned %d rows", len(stored))}
		}
		return stored[0], nil
	}

	target := in.UpsertTarget
	if len(target) == 0 {
		target = []string{rows.ColID}
	}
	stored, ok, err := tx.Upsert(ctx, table, row, target, in.Where)
	if err != nil {
		return nil, &TaskError{Task: "base", Table: table, Err: err}
	}
	if !ok {
		return nil, ErrConflictNotUpdated
	}
	return stored, nil
}

// Find reads a document. A negative depth uses Config.ReadDepth.
func (s *Store) Find(ctx context.Context, collection, id string, depth int) (transform.Document, error) {
	ctx, span := tracer.Start(ctx, "docrel.Find", trace.WithAttributes(attribute.String("collection", collection)))
	defer span.End()
	if depth < 0 {
		depth = s.config.ReadDepth
	}
	return s.read(ctx, collection, id, depth)
}

func (s *Store) read(ctx context.Context, collection, id string, depth int) (transform.Document, error) {
	ctx, span := tracer.Start(ctx, "docrel.read", trace.WithAttributes(attribute.Int("depth", depth)))
	defer span.End()

	desc, err := query.Build(s.registry, collection, depth)
	if err != nil {
		return nil, err
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := query.Load(ctx, tx, desc, backend.Eq(rows.ColID, id))
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, collection, id)
	}
	return transform.Compose(s.registry, collection, res[0])
}

// Delete removes a document and every row it owns.
func (s *Store) Delete(ctx context.Context, collection, id string) (err error) {
	ctx, span := tracer.Start(ctx, "docrel.Delete", trace.WithAttributes(attribute.String("collection", collection)))
	defer span.End()

	layout, err := s.registry.Layout(collection)
	if err != nil {
		return err
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	n, err := tx.Delete(ctx, layout.Base.Name, backend.Eq(rows.ColID, id))
	if err != nil {
		return fmt.Errorf("docrel: delete %s %s: %w", collection, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, collection, id)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("docrel: delete %s %s: %w", collection, id, err)
	}
	s.logger.Info("docrel: deleted", "collection", collection, "id", id)
	return nil
}
