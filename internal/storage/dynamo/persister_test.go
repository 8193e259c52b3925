package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-fulfillment-tracker/internal/orders"
)

// mockDynamo stores items per table: table -> pk -> item. It understands the
// handful of condition expressions the persister issues.
type mockDynamo struct {
	mu       sync.Mutex
	tables   map[string]map[string]map[string]types.AttributeValue
	pageSize int
	scans    int
	queries  int
	failPut  error
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{tables: map[string]map[string]map[string]types.AttributeValue{}, pageSize: 2}
}

func (m *mockDynamo) table(name string) map[string]map[string]types.AttributeValue {
	if _, ok := m.tables[name]; !ok {
		m.tables[name] = map[string]map[string]types.AttributeValue{}
	}
	return m.tables[name]
}

// primaryKey flattens the table key: order_id for orders, order_id#version
// for audit records.
func primaryKey(item map[string]types.AttributeValue) string {
	id := item["order_id"].(*types.AttributeValueMemberS).Value
	if _, ok := item["to_status"]; ok {
		return id + "#" + item["version"].(*types.AttributeValueMemberN).Value
	}
	return id
}

func versionOf(item map[string]types.AttributeValue) int64 {
	n, _ := strconv.ParseInt(item["version"].(*types.AttributeValueMemberN).Value, 10, 64)
	return n
}

// checkPut reports whether the put's condition holds. Callers hold m.mu.
func (m *mockDynamo) checkPut(table string, item map[string]types.AttributeValue, cond *string, values map[string]types.AttributeValue) bool {
	pk := primaryKey(item)
	existing, exists := m.table(table)[pk]
	if cond == nil {
		return true
	}
	switch *cond {
	case "attribute_not_exists(order_id)":
		return !exists
	case "version = :prev":
		if !exists {
			return false
		}
		return existing["version"].(*types.AttributeValueMemberN).Value == values[":prev"].(*types.AttributeValueMemberN).Value
	}
	return false
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut != nil {
		return nil, m.failPut
	}
	if !m.checkPut(*params.TableName, params.Item, params.ConditionExpression, params.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	pk := primaryKey(params.Item)
	m.table(*params.TableName)[pk] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk := primaryKey(params.Key)
	item, ok := m.table(*params.TableName)[pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	return nil, errors.New("not used")
}

func (m *mockDynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, it := range params.TransactItems {
		code := "None"
		if p := it.Put; p != nil && !m.checkPut(*p.TableName, p.Item, p.ConditionExpression, p.ExpressionAttributeValues) {
			code = "ConditionalCheckFailed"
			failed = true
		}
		reasons[i] = types.CancellationReason{Code: awsString(code)}
	}
	if failed {
		return nil, &types.TransactionCanceledException{CancellationReasons: reasons}
	}
	for _, it := range params.TransactItems {
		if p := it.Put; p != nil {
			pk := primaryKey(p.Item)
			m.table(*p.TableName)[pk] = p.Item
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (m *mockDynamo) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans++
	tbl := m.table(*params.TableName)
	keys := make([]string, 0, len(tbl))
	for k := range tbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if params.ExclusiveStartKey != nil {
		after := primaryKey(params.ExclusiveStartKey)
		start = sort.SearchStrings(keys, after) + 1
	}
	end := start + m.pageSize
	if end > len(keys) {
		end = len(keys)
	}
	out := &dyn.ScanOutput{}
	for _, k := range keys[start:end] {
		out.Items = append(out.Items, tbl[k])
	}
	if end < len(keys) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: keys[end-1]},
		}
	}
	return out, nil
}

func (m *mockDynamo) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++
	id := params.ExpressionAttributeValues[":id"].(*types.AttributeValueMemberS).Value
	var items []map[string]types.AttributeValue
	for _, it := range m.table(*params.TableName) {
		if it["order_id"].(*types.AttributeValueMemberS).Value == id {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool { return versionOf(items[i]) < versionOf(items[j]) })

	start := 0
	if params.ExclusiveStartKey != nil {
		after := versionOf(params.ExclusiveStartKey)
		for start < len(items) && versionOf(items[start]) <= after {
			start++
		}
	}
	end := min(start+m.pageSize, len(items))
	out := &dyn.QueryOutput{Items: items[start:end]}
	if end < len(items) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: id},
			"version":  items[end-1]["version"],
		}
	}
	return out, nil
}

func sampleOrder(id string) *orders.Order {
	now := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	items := []orders.LineItem{
		{ItemRef: "burger", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")},
		{ItemRef: "soda", Quantity: 1, UnitPrice: decimal.RequireFromString("5.50")},
	}
	return &orders.Order{
		ID:              id,
		Status:          orders.StatusPending,
		Customer:        orders.Customer{ID: "cust-7", DisplayName: "Ana"},
		LineItems:       items,
		Total:           orders.ComputeTotal(items),
		PaymentMethod:   "card",
		DeliveryAddress: "Rua Augusta 100",
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}
}

func TestSaveLoad_PreservesDecimalsAndFields(t *testing.T) {
	mock := newMockDynamo()
	p := New(mock, "orders", "transitions")
	ctx := context.Background()

	o := sampleOrder("o-1")
	if err := p.Save(ctx, o); err != nil {
		t.Fatalf("save: %v", err)
	}
	item := mock.tables["orders"]["o-1"]
	if tot, ok := item["total"].(*types.AttributeValueMemberS); !ok || tot.Value != "25.5" {
		t.Fatalf("total should be stored as a decimal string, got %+v", item["total"])
	}

	got, err := p.Load(ctx, "o-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil || !got.Total.Equal(decimal.RequireFromString("25.50")) {
		t.Fatalf("unexpected order: %+v", got)
	}
	if got.Customer.DisplayName != "Ana" || got.DeliveryAddress != "Rua Augusta 100" || !got.CreatedAt.Equal(o.CreatedAt) {
		t.Fatalf("fields lost in round trip: %+v", got)
	}

	missing, err := p.Load(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected (nil, nil) for missing order, got %v %v", missing, err)
	}
}

func TestSave_VersionConditions(t *testing.T) {
	p := New(newMockDynamo(), "orders", "")
	ctx := context.Background()
	o := sampleOrder("o-1")
	if err := p.Save(ctx, o); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := p.Save(ctx, o); !errors.Is(err, orders.ErrConcurrentModification) {
		t.Fatalf("duplicate create should conflict, got %v", err)
	}

	next := o.Clone()
	next.Status = orders.StatusPreparing
	next.Version = 2
	if err := p.Save(ctx, next); err != nil {
		t.Fatalf("update: %v", err)
	}
	stale := o.Clone()
	stale.Version = 2
	if err := p.Save(ctx, stale); !errors.Is(err, orders.ErrConcurrentModification) {
		t.Fatalf("stale update should conflict, got %v", err)
	}
}

func TestSave_WrapsClientErrors(t *testing.T) {
	mock := newMockDynamo()
	mock.failPut = errors.New("throttled")
	p := New(mock, "orders", "")
	err := p.Save(context.Background(), sampleOrder("o-1"))
	if err == nil || errors.Is(err, orders.ErrConcurrentModification) {
		t.Fatalf("expected plain client error, got %v", err)
	}
}

func TestSaveWithTransition_Atomic(t *testing.T) {
	mock := newMockDynamo()
	p := New(mock, "orders", "transitions")
	ctx := context.Background()
	o := sampleOrder("o-1")
	_ = p.Save(ctx, o)

	next := o.Clone()
	next.Status = orders.StatusPreparing
	next.Version = 2
	rec := orders.StatusTransition{OrderID: "o-1", From: orders.StatusPending, To: orders.StatusPreparing, At: next.UpdatedAt, Actor: "chef"}
	if err := p.SaveWithTransition(ctx, next, rec); err != nil {
		t.Fatalf("save with transition: %v", err)
	}
	if _, ok := mock.tables["transitions"]["o-1#2"]; !ok {
		t.Fatalf("audit record not written")
	}

	// replaying the same version fails both writes
	if err := p.SaveWithTransition(ctx, next, rec); !errors.Is(err, orders.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
	if len(mock.tables["transitions"]) != 1 {
		t.Fatalf("conflicting transaction wrote an audit record")
	}
}

func TestScanAll_FollowsPagination(t *testing.T) {
	mock := newMockDynamo()
	p := New(mock, "orders", "")
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		if err := p.Save(ctx, sampleOrder(id)); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	all, err := p.ScanAll(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 orders, got %d", len(all))
	}
	if mock.scans != 3 {
		t.Fatalf("expected 3 pages, got %d", mock.scans)
	}
}

func TestHistory_QueriesOneOrderInVersionOrder(t *testing.T) {
	mock := newMockDynamo()
	p := New(mock, "orders", "transitions")
	ctx := context.Background()

	for _, id := range []string{"o-1", "o-2"} {
		o := sampleOrder(id)
		if err := p.Save(ctx, o); err != nil {
			t.Fatalf("save: %v", err)
		}
		last := 12
		if id == "o-2" {
			last = 2
		}
		for v := 2; v <= last; v++ {
			next := o.Clone()
			next.Version = int64(v)
			rec := orders.StatusTransition{OrderID: id, From: o.Status, To: orders.StatusPreparing, At: o.UpdatedAt, Actor: fmt.Sprintf("a%d", v)}
			if err := p.SaveWithTransition(ctx, next, rec); err != nil {
				t.Fatalf("save v%d: %v", v, err)
			}
			o = next
		}
	}

	h, err := p.History(ctx, "o-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(h) != 11 {
		t.Fatalf("expected 11 records for o-1, got %d", len(h))
	}
	for i, rec := range h {
		if want := fmt.Sprintf("a%d", i+2); rec.Actor != want || rec.OrderID != "o-1" {
			t.Fatalf("record %d: got %s/%s, want %s", i, rec.OrderID, rec.Actor, want)
		}
	}
	if mock.queries < 2 {
		t.Fatalf("expected paginated queries, got %d", mock.queries)
	}

	none, err := New(mock, "orders", "").History(ctx, "o-1")
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no history without a transitions table, got %+v %v", none, err)
	}
}
