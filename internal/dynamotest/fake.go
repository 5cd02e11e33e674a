// Package dynamotest provides an in-process DynamoDB fake covering the calls
// the dynamo backend makes.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Item is a stored DynamoDB item.
type Item = map[string]types.AttributeValue

// Client keeps tables in memory. Tables are keyed by their hash and range
// attributes as declared at CreateTable. Conditions understand the
// attribute_not_exists and owner equality forms the backend writes.
type Client struct {
	mu     sync.Mutex
	tables map[string]*table

	// Transactions counts successful TransactWriteItems calls.
	Transactions int

	// MaxTransactItems mirrors the service limit. Default: 100
	MaxTransactItems int
}

type table struct {
	hash, rng string
	items     map[string]Item
}

// New creates an empty fake.
func New() *Client {
	return &Client{tables: map[string]*table{}, MaxTransactItems: 100}
}

func str(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (t *table) key(item Item) string {
	return str(item[t.hash]) + "\x00" + str(item[t.rng])
}

func (c *Client) table(name *string) (*table, error) {
	t, ok := c.tables[aws.ToString(name)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found: " + aws.ToString(name))}
	}
	return t, nil
}

func clone(item Item) Item {
	out := make(Item, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func (c *Client) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name := aws.ToString(in.TableName)
	if _, ok := c.tables[name]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String("table exists: " + name)}
	}
	t := &table{items: map[string]Item{}}
	for _, k := range in.KeySchema {
		switch k.KeyType {
		case types.KeyTypeHash:
			t.hash = aws.ToString(k.AttributeName)
		case types.KeyTypeRange:
			t.rng = aws.ToString(k.AttributeName)
		}
	}
	c.tables[name] = t
	return &dynamodb.CreateTableOutput{}, nil
}

func (c *Client) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.table(in.TableName)
	if err != nil {
		return nil, err
	}
	item, ok := t.items[t.key(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: clone(item)}, nil
}

// Query supports a single hash key equality condition.
func (c *Client) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.table(in.TableName)
	if err != nil {
		return nil, err
	}
	want := str(in.ExpressionAttributeValues[":pk"])
	var out []Item
	for _, k := range sortedKeys(t.items) {
		if item := t.items[k]; str(item[t.hash]) == want {
			out = append(out, clone(item))
		}
	}
	return &dynamodb.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

func (c *Client) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.table(in.TableName)
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(t.items))
	for _, k := range sortedKeys(t.items) {
		out = append(out, clone(t.items[k]))
	}
	return &dynamodb.ScanOutput{Items: out, Count: int32(len(out))}, nil
}

func (c *Client) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(in.TransactItems) > c.MaxTransactItems {
		return nil, fmt.Errorf("validation: %d transact items exceed %d", len(in.TransactItems), c.MaxTransactItems)
	}

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	seen := map[string]bool{}
	for i, w := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: aws.String("None")}
		name, key, cond, values, err := c.target(w)
		if err != nil {
			return nil, err
		}
		if seen[name+"\x01"+key] {
			return nil, errors.New("validation: transaction touches an item twice")
		}
		seen[name+"\x01"+key] = true

		existing, exists := c.tables[name].items[key]
		if cond != "" && !holds(cond, existing, exists, values) {
			reasons[i] = types.CancellationReason{Code: aws.String("ConditionalCheckFailed")}
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, w := range in.TransactItems {
		name, key, _, _, _ := c.target(w)
		switch {
		case w.Put != nil:
			c.tables[name].items[key] = clone(w.Put.Item)
		case w.Delete != nil:
			delete(c.tables[name].items, key)
		}
	}
	c.Transactions++
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (c *Client) target(w types.TransactWriteItem) (name, key, cond string, values map[string]types.AttributeValue, err error) {
	switch {
	case w.Put != nil:
		t, err := c.table(w.Put.TableName)
		if err != nil {
			return "", "", "", nil, err
		}
		return aws.ToString(w.Put.TableName), t.key(w.Put.Item), aws.ToString(w.Put.ConditionExpression), w.Put.ExpressionAttributeValues, nil
	case w.Delete != nil:
		t, err := c.table(w.Delete.TableName)
		if err != nil {
			return "", "", "", nil, err
		}
		return aws.ToString(w.Delete.TableName), t.key(w.Delete.Key), aws.ToString(w.Delete.ConditionExpression), w.Delete.ExpressionAttributeValues, nil
	}
	return "", "", "", nil, errors.New("fake: only Put and Delete are supported")
}

// holds evaluates the condition forms the backend writes.
func holds(cond string, existing Item, exists bool, values map[string]types.AttributeValue) bool {
	switch cond {
	case "attribute_not_exists(#id)":
		return !exists
	case "attribute_not_exists(#pk) OR #owner = :owner":
		return !exists || str(existing["owner"]) == str(values[":owner"])
	}
	return false
}

// Items returns the items of a table sorted by key.
func (c *Client) Items(name string) []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[name]
	if !ok {
		return nil
	}
	out := make([]Item, 0, len(t.items))
	for _, k := range sortedKeys(t.items) {
		out = append(out, clone(t.items[k]))
	}
	return out
}

// Remove deletes an item outside any transaction, as a TTL expiry or another
// writer would.
func (c *Client) Remove(name string, key Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tables[name]; ok {
		delete(t.items, t.key(key))
	}
}

func sortedKeys(m map[string]Item) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
