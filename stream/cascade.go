// Package stream provides DynamoDB Streams handlers for cascade operations.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/docrel/backend/dynamo"
	"github.com/jacentio/docrel/rows"
)

// Handler purges the dependent rows of base rows removed outside a docrel
// transaction, such as by TTL expiry or a console delete.
type Handler struct {
	db     *dynamo.DB
	logger *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(db *dynamo.DB, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		db:     db,
		logger: logger,
	}
}

// HandleCascadeDelete processes the stream events of base tables.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleCascadeDelete(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != string(events.DynamoDBOperationTypeRemove) {
		return nil
	}

	tableName := tableFromARN(record.EventSourceArn)
	tbl, ok := h.db.RegistryTable(tableName)
	if !ok || tbl.ParentColumn != "" {
		h.logger.Debug("skipping record", "eventID", record.EventID, "table", tableName)
		return nil
	}
	id := getStringAttr(record.Change.Keys, rows.ColID)
	if id == "" {
		return fmt.Errorf("record %s: missing %s key", record.EventID, rows.ColID)
	}

	// The id may have been written again since the event was emitted.
	exists, err := h.db.Exists(ctx, tbl.Name, id)
	if err != nil {
		return fmt.Errorf("check %s %s: %w", tbl.Name, id, err)
	}
	if exists {
		h.logger.Info("row exists again, skipping cascade", "table", tbl.Name, "id", id)
		return nil
	}

	n, err := h.db.Purge(ctx, tbl.Name, id)
	if err != nil {
		return fmt.Errorf("purge %s %s: %w", tbl.Name, id, err)
	}
	h.logger.Info("cascade delete completed",
		"table", tbl.Name,
		"id", id,
		"rowsRemoved", n,
	)
	return nil
}

// tableFromARN returns the table name of a stream ARN of the form
// arn:aws:dynamodb:region:account:table/NAME/stream/LABEL.
func tableFromARN(arn string) string {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, "/")
	return name
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}
