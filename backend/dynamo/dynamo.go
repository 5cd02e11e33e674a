// Package dynamo is a DynamoDB backend.
//
// Every registry table maps to one DynamoDB table keyed by a partition key
// (_pk) and the row id. Base rows are partitioned by their own id; dependent
// rows by their parent's id, optionally sharded (see Config.NumShards), so
// a parent's rows are read with strongly consistent queries.
//
// Writes are staged in the transaction and committed with a single
// TransactWriteItems call. Unique columns are enforced through constraint
// items in Config.UniqueTable.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/docrel/backend"
	"github.com/jacentio/docrel/internal/shard"
	"github.com/jacentio/docrel/rows"
	"github.com/jacentio/docrel/schema"
)

// Client is the subset of the DynamoDB API the backend uses.
type Client interface {
	dynamodb.QueryAPIClient
	dynamodb.ScanAPIClient
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// Reserved attribute names.
const (
	AttrPK = "_pk"

	attrOwner  = "owner"
	attrTable  = "table_name"
	attrColumn = "column_name"
	attrValue  = "column_value"

	// constraintSK is the sort key of every constraint item.
	constraintSK = "CONSTRAINT"
)

var _ backend.Conn = (*DB)(nil)

// DB is a backend.Conn over DynamoDB.
type DB struct {
	client   Client
	registry *schema.Registry
	config   Config
	logger   *slog.Logger
}

// New creates a new DB instance.
func New(client Client, registry *schema.Registry, config Config) *DB {
	config.validate()
	return &DB{
		client:   client,
		registry: registry,
		config:   config,
		logger:   config.Logger,
	}
}

// Registry returns the table registry.
func (d *DB) Registry() *schema.Registry {
	return d.registry
}

// TableName returns the DynamoDB table name of a registry table.
func (d *DB) TableName(table string) string {
	return d.config.TablePrefix + table
}

// RegistryTable returns the registry table stored in a DynamoDB table.
func (d *DB) RegistryTable(dynamoTable string) (*schema.Table, bool) {
	if len(dynamoTable) < len(d.config.TablePrefix) || dynamoTable[:len(d.config.TablePrefix)] != d.config.TablePrefix {
		return nil, false
	}
	t, err := d.registry.Table(dynamoTable[len(d.config.TablePrefix):])
	if err != nil {
		return nil, false
	}
	return t, true
}

// Begin starts a transaction. Nothing is written before Commit.
func (d *DB) Begin(ctx context.Context) (backend.Tx, error) {
	return newTx(ctx, d, false), nil
}

// partitionKey returns the _pk of a row of tbl.
func (d *DB) partitionKey(tbl *schema.Table, row rows.Row) string {
	if tbl.ParentColumn == "" {
		return row.ID()
	}
	return shard.ParentKey(row.String(tbl.ParentColumn), row.ID(), d.config.NumShards)
}

func (d *DB) key(tbl *schema.Table, row rows.Row) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrPK:     &types.AttributeValueMemberS{Value: d.partitionKey(tbl, row)},
		rows.ColID: &types.AttributeValueMemberS{Value: row.ID()},
	}
}

// load reads the committed rows of tbl that may match where. Callers apply
// the filters.
func (d *DB) load(ctx context.Context, tbl *schema.Table, where []backend.Filter) ([]rows.Row, error) {
	if tbl.ParentColumn == "" {
		if ids, ok := keyValues(where, rows.ColID); ok {
			return d.getAll(ctx, tbl, ids)
		}
	} else if parents, ok := keyValues(where, tbl.ParentColumn); ok {
		return d.queryParents(ctx, tbl, parents)
	}
	return d.scan(ctx, tbl)
}

// keyValues returns the values an Eq or In filter on column allows.
func keyValues(where []backend.Filter, column string) ([]string, bool) {
	for _, f := range where {
		if f.Column() != column {
			continue
		}
		switch f.Op() {
		case backend.OpEq:
			s, ok := f.Value().(string)
			if !ok {
				return nil, true
			}
			return []string{s}, true
		case backend.OpIn:
			var out []string
			for _, v := range f.Values() {
				if s, ok := v.(string); ok {
					out = append(out, s)
				}
			}
			return out, true
		}
	}
	return nil, false
}

func (d *DB) getAll(ctx context.Context, tbl *schema.Table, ids []string) ([]rows.Row, error) {
	var out []rows.Row
	for _, id := range ids {
		res, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(d.TableName(tbl.Name)),
			Key:            d.key(tbl, rows.Row{rows.ColID: id}),
			ConsistentRead: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("dynamo: get %s %s: %w", tbl.Name, id, err)
		}
		if res.Item == nil {
			continue
		}
		r, err := unmarshalRow(res.Item)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// queryParents reads every partition of the given parents. With more than
// one partition, queries fan out concurrently.
func (d *DB) queryParents(ctx context.Context, tbl *schema.Table, parents []string) ([]rows.Row, error) {
	var pks []string
	for _, p := range parents {
		pks = append(pks, shard.ParentKeys(p, d.config.NumShards)...)
	}

	// Fast path for a single partition (default)
	if len(pks) == 1 {
		return d.queryPartition(ctx, tbl, pks[0])
	}

	var mu sync.Mutex
	var all []rows.Row
	var wg sync.WaitGroup
	errs := make(chan error, len(pks))

	for _, pk := range pks {
		wg.Add(1)
		go func(pk string) {
			defer wg.Done()
			rs, err := d.queryPartition(ctx, tbl, pk)
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			all = append(all, rs...)
			mu.Unlock()
		}(pk)
	}

	go func() {
		wg.Wait()
		close(errs)
	}()

	for err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return all, nil
}

func (d *DB) queryPartition(ctx context.Context, tbl *schema.Table, pk string) ([]rows.Row, error) {
	var out []rows.Row
	paginator := dynamodb.NewQueryPaginator(d.client, &dynamodb.QueryInput{
		TableName:                aws.String(d.TableName(tbl.Name)),
		KeyConditionExpression:   aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{"#pk": AttrPK},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
		ConsistentRead: aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamo: query %s partition %s: %w", tbl.Name, pk, err)
		}
		for _, item := range page.Items {
			r, err := unmarshalRow(item)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
	}
	return out, nil
}

func (d *DB) scan(ctx context.Context, tbl *schema.Table) ([]rows.Row, error) {
	d.logger.Debug("dynamo: full table scan", "table", tbl.Name)
	var out []rows.Row
	paginator := dynamodb.NewScanPaginator(d.client, &dynamodb.ScanInput{
		TableName:      aws.String(d.TableName(tbl.Name)),
		ConsistentRead: aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamo: scan %s: %w", tbl.Name, err)
		}
		for _, item := range page.Items {
			r, err := unmarshalRow(item)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
	}
	return out, nil
}

// Exists reports whether the row id of the base table is stored.
func (d *DB) Exists(ctx context.Context, table, id string) (bool, error) {
	tbl, err := d.registry.Table(table)
	if err != nil {
		return false, fmt.Errorf("%w: %s", backend.ErrUnknownTable, table)
	}
	if tbl.ParentColumn != "" {
		return false, fmt.Errorf("%w: exists on dependent table %s", backend.ErrUnsupported, table)
	}
	rs, err := d.getAll(ctx, tbl, []string{id})
	if err != nil {
		return false, err
	}
	return len(rs) > 0, nil
}

// Purge removes every row depending on the base row id of table, committing
// in chunks of Config.MaxTransactItems. It is idempotent and leaves the base
// row alone.
func (d *DB) Purge(ctx context.Context, table, id string) (int, error) {
	t := newTx(ctx, d, true)
	n := 0
	for _, rel := range d.registry.ChildrenOf(table) {
		removed, err := t.Delete(ctx, rel.ChildTable, backend.Eq(rel.ParentColumn, id))
		if err != nil {
			_ = t.Rollback()
			return 0, err
		}
		n += int(removed)
	}
	if err := t.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// CreateTables creates the DynamoDB table of every registered table and the
// constraints table. Existing tables are left alone. Base tables get a
// KEYS_ONLY stream for the cascade handler.
func (d *DB) CreateTables(ctx context.Context) error {
	create := func(name string, stream bool) error {
		in := &dynamodb.CreateTableInput{
			TableName: aws.String(name),
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String(AttrPK), AttributeType: types.ScalarAttributeTypeS},
				{AttributeName: aws.String(rows.ColID), AttributeType: types.ScalarAttributeTypeS},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(AttrPK), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String(rows.ColID), KeyType: types.KeyTypeRange},
			},
			BillingMode: types.BillingModePayPerRequest,
		}
		if stream {
			in.StreamSpecification = &types.StreamSpecification{
				StreamEnabled:  aws.Bool(true),
				StreamViewType: types.StreamViewTypeKeysOnly,
			}
		}
		_, err := d.client.CreateTable(ctx, in)
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("dynamo: create table %s: %w", name, err)
		}
		return nil
	}

	for _, t := range d.registry.Tables() {
		if err := create(d.TableName(t.Name), t.ParentColumn == ""); err != nil {
			return err
		}
	}
	if err := create(d.config.UniqueTable, false); err != nil {
		return err
	}
	d.logger.Info("dynamo: tables ready", "tables", len(d.registry.Tables())+1)
	return nil
}

func unmarshalRow(item map[string]types.AttributeValue) (rows.Row, error) {
	var r rows.Row
	if err := attributevalue.UnmarshalMap(item, &r); err != nil {
		return nil, fmt.Errorf("dynamo: unmarshal row: %w", err)
	}
	delete(r, AttrPK)
	return r, nil
}

func marshalRow(row rows.Row, pk string) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(map[string]any(row))
	if err != nil {
		return nil, fmt.Errorf("dynamo: marshal row %s: %w", row.ID(), err)
	}
	item[AttrPK] = &types.AttributeValueMemberS{Value: pk}
	return item, nil
}
