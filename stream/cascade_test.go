package stream_test

import (
	"context"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/docrel/backend/dynamo"
	"github.com/jacentio/docrel/internal/dynamotest"
	"github.com/jacentio/docrel/internal/testschema"
	"github.com/jacentio/docrel/schema"
	"github.com/jacentio/docrel/store"
	"github.com/jacentio/docrel/stream"
)

const arnPrefix = "arn:aws:dynamodb:eu-west-1:123456789012:table/"

type fixture struct {
	client  *dynamotest.Client
	db      *dynamo.DB
	store   *store.Store
	handler *stream.Handler
	reg     *schema.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := testschema.Registry()
	client := dynamotest.New()
	config := dynamo.DefaultConfig()
	config.TablePrefix = "prod_"
	config.NumShards = 2
	db := dynamo.New(client, reg, config)
	if err := db.CreateTables(context.Background()); err != nil {
		t.Fatalf("CreateTables: %v", err)
	}
	return &fixture{
		client:  client,
		db:      db,
		store:   store.New(db, reg, store.DefaultConfig()),
		handler: stream.NewHandler(db, nil),
		reg:     reg,
	}
}

func (f *fixture) createPage(t *testing.T, slug string) string {
	t.Helper()
	data := testschema.PageDocument()
	data["slug"] = slug
	doc, err := f.store.Upsert(context.Background(), store.UpsertInput{
		Operation:  store.OpCreate,
		Collection: "pages",
		Data:       data,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	return doc["id"].(string)
}

// dependents counts the rows of every dependent pages table.
func (f *fixture) dependents() int {
	n := 0
	for _, tbl := range f.reg.Tables() {
		if tbl.ID.Base == "pages" && tbl.ParentColumn != "" {
			n += len(f.client.Items(f.db.TableName(tbl.Name)))
		}
	}
	return n
}

func (f *fixture) removeBase(id string) {
	f.client.Remove("prod_pages", dynamotest.Item{
		dynamo.AttrPK: &types.AttributeValueMemberS{Value: id},
		"id":          &types.AttributeValueMemberS{Value: id},
	})
}

func removeEvent(table, id string) events.DynamoDBEvent {
	return events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{{
		EventID:        "evt-" + id,
		EventName:      "REMOVE",
		EventSourceArn: arnPrefix + table + "/stream/2024-01-01T00:00:00.000",
		Change: events.DynamoDBStreamRecord{
			Keys: map[string]events.DynamoDBAttributeValue{
				dynamo.AttrPK: events.NewStringAttribute(id),
				"id":          events.NewStringAttribute(id),
			},
		},
	}}}
}

func TestNewHandler(t *testing.T) {
	// Test with nil db and logger (should not panic)
	h := stream.NewHandler(nil, nil)
	if h == nil {
		t.Fatal("expected non-nil Handler")
	}
}

func TestHandleCascadeDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createPage(t, "first")
	other := f.createPage(t, "second")
	before := f.dependents()
	if before == 0 {
		t.Fatal("expected dependent rows")
	}

	f.removeBase(id)
	if err := f.handler.HandleCascadeDelete(ctx, removeEvent("prod_pages", id)); err != nil {
		t.Fatalf("HandleCascadeDelete: %v", err)
	}
	if got := f.dependents(); got != before/2 {
		t.Errorf("expected %d dependent rows left, got %d", before/2, got)
	}
	if _, err := f.store.Find(ctx, "pages", other, 0); err != nil {
		t.Errorf("other page should be intact: %v", err)
	}

	// Redelivery is a no-op.
	if err := f.handler.HandleCascadeDelete(ctx, removeEvent("prod_pages", id)); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if got := f.dependents(); got != before/2 {
		t.Errorf("expected %d dependent rows after redelivery, got %d", before/2, got)
	}
}

func TestHandleCascadeDelete_RowExistsAgain(t *testing.T) {
	f := newFixture(t)
	id := f.createPage(t, "page")
	before := f.dependents()

	if err := f.handler.HandleCascadeDelete(context.Background(), removeEvent("prod_pages", id)); err != nil {
		t.Fatalf("HandleCascadeDelete: %v", err)
	}
	if got := f.dependents(); got != before {
		t.Errorf("expected dependents of a live row to be kept, got %d of %d", got, before)
	}
}

func TestHandleCascadeDelete_SkippedRecords(t *testing.T) {
	f := newFixture(t)
	id := f.createPage(t, "page")
	before := f.dependents()
	f.removeBase(id)

	tests := []struct {
		name   string
		mutate func(*events.DynamoDBEventRecord)
	}{
		{"insert event", func(r *events.DynamoDBEventRecord) { r.EventName = "INSERT" }},
		{"modify event", func(r *events.DynamoDBEventRecord) { r.EventName = "MODIFY" }},
		{"dependent table", func(r *events.DynamoDBEventRecord) {
			r.EventSourceArn = arnPrefix + "prod_pages_items/stream/label"
		}},
		{"unprefixed table", func(r *events.DynamoDBEventRecord) {
			r.EventSourceArn = arnPrefix + "pages/stream/label"
		}},
		{"unknown table", func(r *events.DynamoDBEventRecord) {
			r.EventSourceArn = arnPrefix + "prod_other/stream/label"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := removeEvent("prod_pages", id)
			tt.mutate(&event.Records[0])
			if err := f.handler.HandleCascadeDelete(context.Background(), event); err != nil {
				t.Fatalf("HandleCascadeDelete: %v", err)
			}
			if got := f.dependents(); got != before {
				t.Errorf("expected no rows removed, got %d of %d", got, before)
			}
		})
	}
}

func TestHandleCascadeDelete_MissingKey(t *testing.T) {
	f := newFixture(t)
	event := removeEvent("prod_pages", "x")
	event.Records[0].Change.Keys = nil
	if err := f.handler.HandleCascadeDelete(context.Background(), event); err == nil {
		t.Fatal("expected an error for a record without an id")
	}
}

func TestHandleCascadeDelete_EmptyEvent(t *testing.T) {
	f := newFixture(t)
	if err := f.handler.HandleCascadeDelete(context.Background(), events.DynamoDBEvent{}); err != nil {
		t.Fatalf("HandleCascadeDelete: %v", err)
	}
}
