package metrics

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-fulfillment-tracker/internal/orders"
)

func TestExporter_CollectsSnapshot(t *testing.T) {
	a := NewAggregator()
	a.Include(orders.StatusPending, decimal.NewFromInt(4))
	a.Include(orders.StatusReady, decimal.RequireFromString("25.50"))
	a.Apply(orders.StatusReady, orders.StatusDelivered, decimal.RequireFromString("25.50"))
	a.Include(orders.StatusCancelled, decimal.NewFromInt(9))

	e := NewExporter("fulfillment", a.Snapshot)
	expected := `
# HELP fulfillment_orders Orders held, archived included.
# TYPE fulfillment_orders gauge
fulfillment_orders 3
# HELP fulfillment_revenue_total Revenue recognised from delivered orders.
# TYPE fulfillment_revenue_total gauge
fulfillment_revenue_total 25.5
`
	if err := testutil.CollectAndCompare(e, strings.NewReader(expected), "fulfillment_orders", "fulfillment_revenue_total"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
	if n := testutil.CollectAndCount(e, "fulfillment_orders_by_status"); n != len(orders.AllStatuses) {
		t.Fatalf("expected one series per status, got %d", n)
	}
}

func TestExporter_ObserveTransition(t *testing.T) {
	e := NewExporter("fulfillment", NewAggregator().Snapshot)
	e.ObserveTransition(orders.StatusReady, orders.StatusDelivered, nil)
	e.ObserveTransition(orders.StatusReady, orders.StatusDelivered, nil)
	e.ObserveTransition(orders.StatusDelivered, orders.StatusCancelled,
		&orders.TransitionError{OrderID: "o1", From: orders.StatusDelivered, To: orders.StatusCancelled, Err: orders.ErrIllegalTransition})

	if got := testutil.ToFloat64(e.transitions.WithLabelValues("DELIVERED", "ok")); got != 2 {
		t.Fatalf("expected 2 ok deliveries, got %v", got)
	}
	if got := testutil.ToFloat64(e.transitions.WithLabelValues("CANCELLED", "illegal")); got != 1 {
		t.Fatalf("expected 1 illegal cancel, got %v", got)
	}
}

func TestOutcome(t *testing.T) {
	cases := map[string]error{
		"ok":            nil,
		"timeout":       fmt.Errorf("%w: waiting", orders.ErrTimeout),
		"storage_error": fmt.Errorf("%w: put", orders.ErrStorage),
		"conflict":      orders.ErrConcurrentModification,
		"not_found":     orders.ErrNotFound,
		"error":         errors.New("other"),
	}
	for want, err := range cases {
		if got := Outcome(err); got != want {
			t.Fatalf("Outcome(%v) = %s, want %s", err, got, want)
		}
	}
}
