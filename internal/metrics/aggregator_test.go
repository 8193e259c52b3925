package metrics

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-fulfillment-tracker/internal/orders"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestAggregator_RevenueOnlyOnDelivery(t *testing.T) {
	a := NewAggregator()
	total := dec("25.50")
	a.Include(orders.StatusPending, total)

	path := []orders.Status{orders.StatusPreparing, orders.StatusReady}
	prev := orders.StatusPending
	for _, next := range path {
		a.Apply(prev, next, total)
		if got := a.Snapshot().TotalRevenue; !got.IsZero() {
			t.Fatalf("revenue recognised early at %s: %s", next, got)
		}
		prev = next
	}

	a.Apply(orders.StatusReady, orders.StatusDelivered, total)
	snap := a.Snapshot()
	if !snap.TotalRevenue.Equal(total) {
		t.Fatalf("expected revenue %s, got %s", total, snap.TotalRevenue)
	}
	if !snap.AverageValue.Equal(total) {
		t.Fatalf("expected average %s, got %s", total, snap.AverageValue)
	}
	if snap.CountByStatus[orders.StatusDelivered] != 1 || snap.TotalCount != 1 {
		t.Fatalf("unexpected counts: %+v", snap.CountByStatus)
	}
}

func TestAggregator_NoDoubleCountOnCancel(t *testing.T) {
	a := NewAggregator()
	total := dec("10")
	a.Include(orders.StatusReady, total)
	a.Include(orders.StatusReady, total)

	// First order is delivered then (test-only path) cancelled: reversal.
	a.Apply(orders.StatusReady, orders.StatusDelivered, total)
	a.Apply(orders.StatusDelivered, orders.StatusCancelled, total)
	if got := a.Snapshot().TotalRevenue; !got.IsZero() {
		t.Fatalf("expected reversal to zero, got %s", got)
	}

	// Second order is cancelled from READY: it never counted, so nothing is reversed.
	a.Apply(orders.StatusReady, orders.StatusCancelled, total)
	snap := a.Snapshot()
	if !snap.TotalRevenue.IsZero() {
		t.Fatalf("cancel from READY changed revenue: %s", snap.TotalRevenue)
	}
	if snap.CountByStatus[orders.StatusCancelled] != 2 {
		t.Fatalf("expected 2 cancelled, got %d", snap.CountByStatus[orders.StatusCancelled])
	}
}

func TestAggregator_AverageGuardsDivideByZero(t *testing.T) {
	a := NewAggregator()
	a.Include(orders.StatusPending, dec("3"))
	snap := a.Snapshot()
	if !snap.AverageValue.IsZero() {
		t.Fatalf("expected zero average, got %s", snap.AverageValue)
	}
}

func TestAggregator_SeedFromScan(t *testing.T) {
	a := NewAggregator()
	a.Include(orders.StatusPending, dec("1"))

	a.Seed([]*orders.Order{
		{ID: "a", Status: orders.StatusDelivered, Total: dec("10")},
		{ID: "b", Status: orders.StatusDelivered, Total: dec("5")},
		{ID: "c", Status: orders.StatusCancelled, Total: dec("7")},
	})
	snap := a.Snapshot()
	if snap.TotalCount != 3 {
		t.Fatalf("seed should replace previous state, count=%d", snap.TotalCount)
	}
	if !snap.TotalRevenue.Equal(dec("15")) {
		t.Fatalf("expected revenue 15, got %s", snap.TotalRevenue)
	}
	if !snap.AverageValue.Equal(dec("7.5")) {
		t.Fatalf("expected average 7.5, got %s", snap.AverageValue)
	}
}

func TestAggregator_SameStatusIsNoop(t *testing.T) {
	a := NewAggregator()
	a.Include(orders.StatusDelivered, dec("4"))
	a.Apply(orders.StatusDelivered, orders.StatusDelivered, dec("4"))
	snap := a.Snapshot()
	if snap.CountByStatus[orders.StatusDelivered] != 1 || !snap.TotalRevenue.Equal(dec("4")) {
		t.Fatalf("no-op apply changed state: %+v", snap)
	}
}

func TestAggregator_ExcludeUndoesInclude(t *testing.T) {
	a := NewAggregator()
	a.Include(orders.StatusDelivered, dec("7.25"))
	a.Include(orders.StatusPending, dec("3"))

	a.Exclude(orders.StatusDelivered, dec("7.25"))
	a.Include(orders.StatusCancelled, dec("7.25"))

	snap := a.Snapshot()
	if !snap.TotalRevenue.IsZero() {
		t.Fatalf("expected revenue removed with the order, got %s", snap.TotalRevenue)
	}
	if snap.CountByStatus[orders.StatusDelivered] != 0 || snap.CountByStatus[orders.StatusCancelled] != 1 {
		t.Fatalf("unexpected counts: %+v", snap.CountByStatus)
	}
}
