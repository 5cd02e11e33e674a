//go:build e2e

// Package e2e runs the store conformance suite against real databases.
// Run with: go test -tags=e2e -v ./e2e/...
//
// DOCREL_POSTGRES_DSN selects a PostgreSQL server (URL form). DynamoDB tests
// use the default AWS credential chain; DOCREL_DYNAMO_ENDPOINT points them at
// DynamoDB Local instead. A backend whose variable is unset is skipped, except
// DynamoDB which runs when either DOCREL_DYNAMO_ENDPOINT or AWS_PROFILE is set.
package e2e

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jacentio/docrel/backend"
	"github.com/jacentio/docrel/backend/dynamo"
	"github.com/jacentio/docrel/backend/sqldb"
	"github.com/jacentio/docrel/internal/storetest"
	"github.com/jacentio/docrel/internal/testschema"
	"github.com/jacentio/docrel/schema"
	"github.com/jacentio/docrel/store"
	"github.com/jacentio/docrel/stream"
)

// Table and schema names are unique per test run to avoid conflicts.
const namePrefix = "docrel_e2e"

var (
	testID      string
	postgresDSN string
	ddbClient   *dynamodb.Client
	ddbTables   []string
)

// --- Test Setup & Teardown ---

func TestMain(m *testing.M) {
	testID = uuid.New().String()[:8]
	fmt.Printf("Test ID: %s\n", testID)
	ctx := context.Background()

	postgresDSN = os.Getenv("DOCREL_POSTGRES_DSN")

	endpoint := os.Getenv("DOCREL_DYNAMO_ENDPOINT")
	if endpoint != "" || os.Getenv("AWS_PROFILE") != "" {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			fmt.Printf("Failed to load AWS config: %v\n", err)
			os.Exit(1)
		}
		ddbClient = dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
	}

	code := m.Run()

	if ddbClient != nil {
		deleteTables(ctx)
	}
	os.Exit(code)
}

func deleteTables(ctx context.Context) {
	fmt.Printf("Deleting %d test tables...\n", len(ddbTables))
	for _, tableName := range ddbTables {
		_, err := ddbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{
			TableName: aws.String(tableName),
		})
		if err != nil {
			fmt.Printf("Warning: failed to delete table %s: %v\n", tableName, err)
		}
	}
}

// openPostgres opens the database in a fresh schema dropped after the test.
func openPostgres(t *testing.T, reg *schema.Registry) *sqldb.DB {
	t.Helper()
	if postgresDSN == "" {
		t.Skip("DOCREL_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	name := fmt.Sprintf("%s_%s_%s", namePrefix, testID, uuid.New().String()[:8])

	admin, err := sqlx.Open("postgres", postgresDSN)
	if err != nil {
		t.Fatalf("open admin connection: %v", err)
	}
	if _, err := admin.ExecContext(ctx, `CREATE SCHEMA "`+name+`"`); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		if _, err := admin.ExecContext(ctx, `DROP SCHEMA "`+name+`" CASCADE`); err != nil {
			t.Logf("drop schema %s: %v", name, err)
		}
		_ = admin.Close()
	})

	u, err := url.Parse(postgresDSN)
	if err != nil {
		t.Fatalf("parse DSN: %v", err)
	}
	q := u.Query()
	q.Set("search_path", name)
	u.RawQuery = q.Encode()

	db, err := sqldb.Open("postgres", u.String(), reg, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.CreateTables(ctx); err != nil {
		t.Fatalf("create tables: %v", err)
	}
	return db
}

// openDynamo creates a prefixed set of tables and waits for them to be active.
func openDynamo(t *testing.T, reg *schema.Registry) *dynamo.DB {
	t.Helper()
	if ddbClient == nil {
		t.Skip("neither DOCREL_DYNAMO_ENDPOINT nor AWS_PROFILE set")
	}
	ctx := context.Background()
	prefix := fmt.Sprintf("%s-%s-%s-", namePrefix, testID, uuid.New().String()[:8])

	cfg := dynamo.DefaultConfig()
	cfg.TablePrefix = prefix
	cfg.UniqueTable = prefix + "unique"
	cfg.NumShards = 2
	db := dynamo.New(ddbClient, reg, cfg)
	if err := db.CreateTables(ctx); err != nil {
		t.Fatalf("create tables: %v", err)
	}

	tables := []string{cfg.UniqueTable}
	for _, tbl := range reg.Tables() {
		tables = append(tables, db.TableName(tbl.Name))
	}
	ddbTables = append(ddbTables, tables...)
	for _, tableName := range tables {
		waiter := dynamodb.NewTableExistsWaiter(ddbClient)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(tableName),
		}, 2*time.Minute); err != nil {
			t.Fatalf("wait for table %s: %v", tableName, err)
		}
	}
	return db
}

// --- Conformance ---

func TestStore_Postgres(t *testing.T) {
	storetest.Run(t, func(t *testing.T, reg *schema.Registry) backend.Conn {
		return openPostgres(t, reg)
	})
}

func TestStore_Dynamo(t *testing.T) {
	storetest.Run(t, func(t *testing.T, reg *schema.Registry) backend.Conn {
		return openDynamo(t, reg)
	})
}

// --- Stream Cascade ---

func TestStream_CascadeAfterExternalDelete(t *testing.T) {
	reg := testschema.Registry()
	db := openDynamo(t, reg)
	ctx := context.Background()
	s := store.New(db, reg, store.DefaultConfig())

	doc, err := s.Upsert(ctx, store.UpsertInput{
		Operation:  store.OpCreate,
		Collection: "pages",
		Data:       testschema.PageDocument(),
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	id := doc["id"].(string)

	// Delete the base item behind docrel's back, as a TTL expiry would.
	pagesTable := db.TableName("pages")
	_, err = ddbClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(pagesTable),
		Key: map[string]types.AttributeValue{
			dynamo.AttrPK: &types.AttributeValueMemberS{Value: id},
			"id":          &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		t.Fatalf("DeleteItem failed: %v", err)
	}

	handler := stream.NewHandler(db, nil)
	err = handler.HandleCascadeDelete(ctx, events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{{
		EventID:        "e2e-" + id,
		EventName:      "REMOVE",
		EventSourceArn: "arn:aws:dynamodb:local:000000000000:table/" + pagesTable + "/stream/label",
		Change: events.DynamoDBStreamRecord{
			Keys: map[string]events.DynamoDBAttributeValue{
				"id": events.NewStringAttribute(id),
			},
		},
	}}})
	if err != nil {
		t.Fatalf("HandleCascadeDelete failed: %v", err)
	}

	n, err := db.Purge(ctx, "pages", id)
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no dependent rows left, purge removed %d", n)
	}
}
