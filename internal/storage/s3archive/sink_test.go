package s3archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-fulfillment-tracker/internal/orders"
)

type mockS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
	err     error
}

func (m *mockS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
		m.meta = map[string]map[string]string{}
	}
	key := *params.Bucket + "/" + *params.Key
	m.objects[key] = body
	m.meta[key] = params.Metadata
	return &s3.PutObjectOutput{}, nil
}

func TestSink_Put(t *testing.T) {
	mock := &mockS3{}
	sink := New(mock, "order-archive", "orders/2026")
	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	o := &orders.Order{
		ID:         "o-42",
		Status:     orders.StatusDelivered,
		LineItems:  []orders.LineItem{{ItemRef: "x", Quantity: 1, UnitPrice: decimal.RequireFromString("9.99")}},
		Total:      decimal.RequireFromString("9.99"),
		Version:    5,
		ArchivedAt: &at,
	}
	if err := sink.Put(context.Background(), o); err != nil {
		t.Fatalf("put: %v", err)
	}

	body, ok := mock.objects["order-archive/orders/2026/o-42.json"]
	if !ok {
		t.Fatalf("object not written, have %v", mock.objects)
	}
	var got orders.Order
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("archived body is not an order: %v", err)
	}
	if got.ID != "o-42" || !got.Total.Equal(o.Total) || got.ArchivedAt == nil {
		t.Fatalf("unexpected archived order: %+v", got)
	}
	if mock.meta["order-archive/orders/2026/o-42.json"]["version"] != "5" {
		t.Fatalf("missing version metadata")
	}
}

func TestSink_PutError(t *testing.T) {
	mock := &mockS3{err: errors.New("access denied")}
	if err := New(mock, "b", "").Put(context.Background(), &orders.Order{ID: "o-1"}); err == nil {
		t.Fatalf("expected error")
	}
}
