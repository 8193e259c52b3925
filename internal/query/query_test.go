package query

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-fulfillment-tracker/internal/orders"
)

var base = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func fixture() []*orders.Order {
	mk := func(id, name string, status orders.Status, total string, day int) *orders.Order {
		return &orders.Order{
			ID:        id,
			Status:    status,
			Customer:  orders.Customer{ID: "c-" + id, DisplayName: name},
			Total:     decimal.RequireFromString(total),
			CreatedAt: base.AddDate(0, 0, day),
			UpdatedAt: base.AddDate(0, 0, day),
		}
	}
	archivedAt := base.AddDate(0, 1, 0)
	archived := mk("ord-5", "Ana Souza", orders.StatusDelivered, "80", 4)
	archived.ArchivedAt = &archivedAt
	return []*orders.Order{
		mk("ord-1", "Ana Souza", orders.StatusPending, "10", 0),
		mk("ord-2", "Bruno Lima", orders.StatusPreparing, "25.50", 1),
		mk("ord-3", "Carla Dias", orders.StatusDelivered, "40", 2),
		mk("ord-4", "ANA PAULA", orders.StatusCancelled, "5", 3),
		archived,
	}
}

func ids(items []*orders.Order) []string {
	out := make([]string, len(items))
	for i, o := range items {
		out[i] = o.ID
	}
	return out
}

func assertIDs(t *testing.T, got []*orders.Order, want ...string) {
	t.Helper()
	g := ids(got)
	if fmt.Sprint(g) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, g)
	}
}

func TestRun_NoFilterMatchesAllLiveOrders(t *testing.T) {
	all := fixture()
	res, err := Run(context.Background(), all, Filter{}, Sort{}, Page{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Total != 4 {
		t.Fatalf("expected 4 live orders, got %d", res.Total)
	}
	assertIDs(t, res.Items, "ord-1", "ord-2", "ord-3", "ord-4")

	res, _ = Run(context.Background(), all, Filter{IncludeArchived: true}, Sort{}, Page{})
	if res.Total != len(all) {
		t.Fatalf("expected %d including archived, got %d", len(all), res.Total)
	}
}

func TestRun_TextMatchesNameCaseInsensitiveAndIDSubstring(t *testing.T) {
	res, _ := Run(context.Background(), fixture(), Filter{Text: "ana"}, Sort{}, Page{})
	assertIDs(t, res.Items, "ord-1", "ord-4")

	res, _ = Run(context.Background(), fixture(), Filter{Text: "RD-3"}, Sort{}, Page{})
	assertIDs(t, res.Items, "ord-3")
}

func TestRun_FiltersAreAnded(t *testing.T) {
	lo := decimal.RequireFromString("10")
	hi := decimal.RequireFromString("40")
	from := base.AddDate(0, 0, 1)
	f := Filter{
		Statuses:    []orders.Status{orders.StatusPending, orders.StatusPreparing, orders.StatusDelivered},
		MinTotal:    &lo,
		MaxTotal:    &hi,
		CreatedFrom: &from,
	}
	res, _ := Run(context.Background(), fixture(), f, Sort{}, Page{})
	// ord-1 fails the date bound, ord-4 the status set
	assertIDs(t, res.Items, "ord-2", "ord-3")
}

func TestRun_RangeBoundsAreInclusive(t *testing.T) {
	v := decimal.RequireFromString("25.5")
	day := base.AddDate(0, 0, 1)
	res, _ := Run(context.Background(), fixture(), Filter{MinTotal: &v, MaxTotal: &v, CreatedFrom: &day, CreatedTo: &day}, Sort{}, Page{})
	assertIDs(t, res.Items, "ord-2")
}

func TestRun_SortAndPage(t *testing.T) {
	res, _ := Run(context.Background(), fixture(), Filter{}, Sort{Field: SortTotal, Desc: true}, Page{Offset: 1, Limit: 2})
	if res.Total != 4 {
		t.Fatalf("total should ignore paging, got %d", res.Total)
	}
	assertIDs(t, res.Items, "ord-2", "ord-1")

	res, _ = Run(context.Background(), fixture(), Filter{}, Sort{Field: SortID, Desc: true}, Page{Limit: 1})
	assertIDs(t, res.Items, "ord-4")

	res, _ = Run(context.Background(), fixture(), Filter{}, Sort{}, Page{Offset: 10})
	if len(res.Items) != 0 || res.Total != 4 {
		t.Fatalf("offset past end: %+v", res)
	}
}

func TestRun_IsRestartableAndDoesNotMutate(t *testing.T) {
	all := fixture()
	first, _ := Run(context.Background(), all, Filter{Text: "a"}, Sort{Field: SortTotal}, Page{})
	first.Items[0].Status = orders.StatusReady
	second, _ := Run(context.Background(), all, Filter{Text: "a"}, Sort{Field: SortTotal}, Page{})
	if fmt.Sprint(ids(first.Items)) != fmt.Sprint(ids(second.Items)) {
		t.Fatalf("results differ between runs")
	}
	if second.Items[0].Status == orders.StatusReady {
		t.Fatalf("caller mutation leaked into source orders")
	}
}

func TestRun_ExpiredContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, fixture(), Filter{}, Sort{}, Page{})
	if !errors.Is(err, orders.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestParseSortField(t *testing.T) {
	if f, err := ParseSortField(""); err != nil || f != SortCreatedAt {
		t.Fatalf("default sort: %v %v", f, err)
	}
	if _, err := ParseSortField("customer"); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}
