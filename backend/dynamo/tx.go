package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/docrel/backend"
	"github.com/jacentio/docrel/internal/shard"
	"github.com/jacentio/docrel/rows"
	"github.com/jacentio/docrel/schema"
)

// Condition expressions of staged writes.
const (
	condInsert     = "attribute_not_exists(#id)"
	condConstraint = "attribute_not_exists(#pk) OR #owner = :owner"
)

// tx stages writes in memory. Reads merge the staged state over the
// committed rows.
type tx struct {
	ctx     context.Context
	db      *DB
	chunked bool

	mu   sync.Mutex
	done bool

	// puts holds staged rows by table and id. inserted marks the ids that
	// must not exist when committed.
	puts     map[string]map[string]rows.Row
	inserted map[string]map[string]bool

	// dels holds committed rows staged for deletion; prior holds the
	// committed version of rows overwritten by a put.
	dels  map[string]map[string]rows.Row
	prior map[string]map[string]rows.Row
}

func newTx(ctx context.Context, db *DB, chunked bool) *tx {
	return &tx{
		ctx:      ctx,
		db:       db,
		chunked:  chunked,
		puts:     map[string]map[string]rows.Row{},
		inserted: map[string]map[string]bool{},
		dels:     map[string]map[string]rows.Row{},
		prior:    map[string]map[string]rows.Row{},
	}
}

func set[V any](m map[string]map[string]V, table, id string, v V) {
	if m[table] == nil {
		m[table] = map[string]V{}
	}
	m[table][id] = v
}

func (t *tx) table(name string) (*schema.Table, error) {
	tbl, err := t.db.registry.Table(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", backend.ErrUnknownTable, name)
	}
	return tbl, nil
}

func checkColumns(tbl *schema.Table, row rows.Row) error {
	for c := range row {
		if !tbl.HasColumn(c) {
			return fmt.Errorf("%w: %s.%s", backend.ErrUnknownColumn, tbl.Name, c)
		}
	}
	return nil
}

// stage records row as the new state of its id. Callers hold t.mu.
func (t *tx) stage(table string, row rows.Row, committed rows.Row, insert bool) {
	id := row.ID()
	if old, ok := t.dels[table][id]; ok {
		delete(t.dels[table], id)
		set(t.prior, table, id, old)
		insert = false
	}
	if committed != nil {
		if _, ok := t.prior[table][id]; !ok {
			set(t.prior, table, id, committed)
		}
	}
	if insert {
		set(t.inserted, table, id, true)
	}
	set(t.puts, table, id, row.Clone())
}

func (t *tx) Insert(ctx context.Context, table string, rs []rows.Row) ([]rows.Row, error) {
	tbl, err := t.table(table)
	if err != nil {
		return nil, err
	}
	stored := make([]rows.Row, len(rs))
	for i, r := range rs {
		if err := checkColumns(tbl, r); err != nil {
			return nil, err
		}
		r = r.Clone()
		if r.ID() == "" {
			r[rows.ColID] = uuid.NewString()
		}
		stored[i] = r
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, backend.ErrTxDone
	}
	for _, r := range stored {
		if _, ok := t.puts[table][r.ID()]; ok {
			return nil, fmt.Errorf("%w: %s.id %s", backend.ErrUniqueViolation, table, r.ID())
		}
	}
	for _, r := range stored {
		t.stage(table, r, nil, true)
	}
	return stored, nil
}

func (t *tx) Upsert(ctx context.Context, table string, row rows.Row, target []string, cond []backend.Filter) (rows.Row, bool, error) {
	tbl, err := t.table(table)
	if err != nil {
		return nil, false, err
	}
	if err := checkColumns(tbl, row); err != nil {
		return nil, false, err
	}
	if len(target) == 0 {
		target = []string{rows.ColID}
	}
	filters := make([]backend.Filter, 0, len(target))
	for _, c := range target {
		v, ok := row[c]
		if !ok || v == nil {
			filters = nil
			break
		}
		filters = append(filters, backend.Eq(c, v))
	}

	var existing rows.Row
	if filters != nil {
		found, err := t.Select(ctx, table, filters)
		if err != nil {
			return nil, false, err
		}
		if len(found) > 0 {
			existing = found[0]
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, false, backend.ErrTxDone
	}
	if existing == nil {
		stored := row.Clone()
		if stored.ID() == "" {
			stored[rows.ColID] = uuid.NewString()
		}
		t.stage(table, stored, nil, true)
		return stored.Clone(), true, nil
	}
	if !backend.Match(existing, cond) {
		return nil, false, nil
	}
	merged := existing.Clone()
	for k, v := range row {
		if k != rows.ColID {
			merged[k] = v
		}
	}
	var committed rows.Row
	if _, staged := t.puts[table][existing.ID()]; !staged {
		committed = existing
	}
	t.stage(table, merged, committed, t.inserted[table][existing.ID()])
	return merged.Clone(), true, nil
}

// Delete removes matching rows and cascades to dependent tables through the
// registry.
func (t *tx) Delete(ctx context.Context, table string, where ...backend.Filter) (int64, error) {
	matched, err := t.Select(ctx, table, where)
	if err != nil {
		return 0, err
	}
	if len(matched) == 0 {
		return 0, nil
	}

	ids := make([]string, len(matched))
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return 0, backend.ErrTxDone
	}
	for i, r := range matched {
		id := r.ID()
		ids[i] = id
		if t.inserted[table][id] {
			delete(t.puts[table], id)
			delete(t.inserted[table], id)
			continue
		}
		committed := r
		if p, ok := t.prior[table][id]; ok {
			committed = p
			delete(t.prior[table], id)
		}
		delete(t.puts[table], id)
		set(t.dels, table, id, committed)
	}
	t.mu.Unlock()

	for _, rel := range t.db.registry.ChildrenOf(table) {
		if _, err := t.Delete(ctx, rel.ChildTable, backend.In(rel.ParentColumn, ids)); err != nil {
			return 0, err
		}
	}
	return int64(len(matched)), nil
}

func (t *tx) Select(ctx context.Context, table string, where []backend.Filter, order ...backend.Order) ([]rows.Row, error) {
	tbl, err := t.table(table)
	if err != nil {
		return nil, err
	}
	committed, err := t.db.load(ctx, tbl, where)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, backend.ErrTxDone
	}
	var out []rows.Row
	for _, r := range committed {
		id := r.ID()
		if _, deleted := t.dels[table][id]; deleted {
			continue
		}
		if _, staged := t.puts[table][id]; staged {
			continue
		}
		if backend.Match(r, where) {
			out = append(out, r)
		}
	}
	for _, id := range sortedIDs(t.puts[table]) {
		if r := t.puts[table][id]; backend.Match(r, where) {
			out = append(out, r.Clone())
		}
	}
	backend.Sort(out, order)
	return out, nil
}

func (t *tx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return backend.ErrTxDone
	}
	t.done = true
	return nil
}

func (t *tx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return backend.ErrTxDone
	}
	t.done = true

	items, err := t.writeItems()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	limit := t.db.config.MaxTransactItems
	if !t.chunked && len(items) > limit {
		return fmt.Errorf("%w: transaction of %d items exceeds %d", backend.ErrUnsupported, len(items), limit)
	}
	for start := 0; start < len(items); start += limit {
		end := min(start+limit, len(items))
		_, err := t.db.client.TransactWriteItems(t.ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: items[start:end],
		})
		if err := mapTransactionError(err); err != nil {
			return err
		}
	}
	t.db.logger.Debug("dynamo: committed", "items", len(items))
	return nil
}

// writeItems renders the staged state, sorted by table and id.
func (t *tx) writeItems() ([]types.TransactWriteItem, error) {
	var items []types.TransactWriteItem
	constraints := newConstraintSet()

	tables := map[string]bool{}
	for name := range t.puts {
		tables[name] = true
	}
	for name := range t.dels {
		tables[name] = true
	}
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		tbl, err := t.table(name)
		if err != nil {
			return nil, err
		}
		tableName := aws.String(t.db.TableName(name))

		for _, id := range sortedIDs(t.puts[name]) {
			row := t.puts[name][id]
			item, err := marshalRow(row, t.db.partitionKey(tbl, row))
			if err != nil {
				return nil, err
			}
			put := &types.Put{TableName: tableName, Item: item}
			if t.inserted[name][id] {
				put.ConditionExpression = aws.String(condInsert)
				put.ExpressionAttributeNames = map[string]string{"#id": rows.ColID}
			}
			items = append(items, types.TransactWriteItem{Put: put})
			if err := constraints.claim(tbl, row); err != nil {
				return nil, err
			}
			constraints.release(tbl, t.prior[name][id])
		}

		for _, id := range sortedIDs(t.dels[name]) {
			row := t.dels[name][id]
			items = append(items, types.TransactWriteItem{Delete: &types.Delete{
				TableName: tableName,
				Key:       t.db.key(tbl, row),
			}})
			constraints.release(tbl, row)
		}
	}

	return append(items, constraints.items(t.db.config.UniqueTable)...), nil
}

// mapTransactionError maps cancelled conditional writes to unique violations.
func mapTransactionError(err error) error {
	if err == nil {
		return nil
	}
	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for _, reason := range txErr.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				return fmt.Errorf("%w: %w", backend.ErrUniqueViolation, err)
			}
		}
	}
	return fmt.Errorf("dynamo: commit: %w", err)
}

func sortedIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type constraint struct {
	table, column, value, owner string
}

// constraintSet collects the constraint items a commit claims and releases.
type constraintSet struct {
	claimed  map[string]constraint
	released map[string]bool
}

func newConstraintSet() *constraintSet {
	return &constraintSet{claimed: map[string]constraint{}, released: map[string]bool{}}
}

func uniqueValues(tbl *schema.Table, row rows.Row) map[string]constraint {
	out := map[string]constraint{}
	for _, c := range tbl.Columns {
		if !c.Unique {
			continue
		}
		v, ok := row[c.Name]
		if !ok || v == nil {
			continue
		}
		value := fmt.Sprint(v)
		out[shard.ConstraintKey(tbl.Name, c.Name, value)] = constraint{tbl.Name, c.Name, value, row.ID()}
	}
	return out
}

func (s *constraintSet) claim(tbl *schema.Table, row rows.Row) error {
	for k, c := range uniqueValues(tbl, row) {
		if other, ok := s.claimed[k]; ok && other.owner != c.owner {
			return fmt.Errorf("%w: %s.%s = %q", backend.ErrUniqueViolation, c.table, c.column, c.value)
		}
		s.claimed[k] = c
	}
	return nil
}

func (s *constraintSet) release(tbl *schema.Table, row rows.Row) {
	if row == nil {
		return
	}
	for k := range uniqueValues(tbl, row) {
		s.released[k] = true
	}
}

// items renders claims as conditional puts and releases not reclaimed as
// deletes.
func (s *constraintSet) items(table string) []types.TransactWriteItem {
	var items []types.TransactWriteItem
	for _, k := range sortedIDs(s.claimed) {
		c := s.claimed[k]
		put := &types.Put{
			TableName: aws.String(table),
			Item: map[string]types.AttributeValue{
				AttrPK:     &types.AttributeValueMemberS{Value: k},
				rows.ColID: &types.AttributeValueMemberS{Value: constraintSK},
				attrOwner:  &types.AttributeValueMemberS{Value: c.owner},
				attrTable:  &types.AttributeValueMemberS{Value: c.table},
				attrColumn: &types.AttributeValueMemberS{Value: c.column},
				attrValue:  &types.AttributeValueMemberS{Value: c.value},
			},
		}
		// A value released in this commit changes hands unconditionally.
		if !s.released[k] {
			put.ConditionExpression = aws.String(condConstraint)
			put.ExpressionAttributeNames = map[string]string{"#pk": AttrPK, "#owner": attrOwner}
			put.ExpressionAttributeValues = map[string]types.AttributeValue{
				":owner": &types.AttributeValueMemberS{Value: c.owner},
			}
		}
		items = append(items, types.TransactWriteItem{Put: put})
	}
	for _, k := range sortedIDs(s.released) {
		if _, reclaimed := s.claimed[k]; reclaimed {
			continue
		}
		items = append(items, types.TransactWriteItem{Delete: &types.Delete{
			TableName: aws.String(table),
			Key: map[string]types.AttributeValue{
				AttrPK:     &types.AttributeValueMemberS{Value: k},
				rows.ColID: &types.AttributeValueMemberS{Value: constraintSK},
			},
		}})
	}
	return items
}
