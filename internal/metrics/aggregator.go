// Package metrics maintains fulfillment rollups incrementally and exports them.
package metrics

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-fulfillment-tracker/internal/orders"
)

// Snapshot is a read-only view of the rollups.
type Snapshot struct {
	TotalCount    int                   `json:"total_count"`
	CountByStatus map[orders.Status]int `json:"count_by_status"`
	TotalRevenue  decimal.Decimal       `json:"total_revenue"`
	AverageValue  decimal.Decimal       `json:"average_value"`
}

// Aggregator keeps counts by status and recognised revenue without rescanning orders.
// Only Seed walks the full collection; every other update is O(1).
type Aggregator struct {
	mu      sync.Mutex
	counts  map[orders.Status]int
	revenue decimal.Decimal
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		counts:  make(map[orders.Status]int, len(orders.AllStatuses)),
		revenue: decimal.Zero,
	}
}

// Seed resets the rollups from a full scan. Used once at cold start.
func (a *Aggregator) Seed(all []*orders.Order) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counts = make(map[orders.Status]int, len(orders.AllStatuses))
	a.revenue = decimal.Zero
	for _, o := range all {
		a.include(o.Status, o.Total)
	}
}

// Include counts an order that entered the collection in the given status.
func (a *Aggregator) Include(status orders.Status, total decimal.Decimal) {
	a.mu.Lock()
	a.include(status, total)
	a.mu.Unlock()
}

func (a *Aggregator) include(status orders.Status, total decimal.Decimal) {
	a.counts[status]++
	if status.RevenueRecognized() {
		a.revenue = a.revenue.Add(total)
	}
}

// Exclude removes an order counted by Include, taking its revenue with it.
func (a *Aggregator) Exclude(status orders.Status, total decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counts[status]--
	if status.RevenueRecognized() {
		a.revenue = a.revenue.Sub(total)
	}
}

// Apply moves one order from oldStatus to newStatus.
//
// Revenue is recognised when an order enters a revenue status from a
// non-revenue one, and reversed only when a revenue-recognised order is
// cancelled. Any other pair leaves revenue untouched, so a path that never
// recognised revenue can never reverse it.
func (a *Aggregator) Apply(oldStatus, newStatus orders.Status, total decimal.Decimal) {
	if oldStatus == newStatus {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counts[oldStatus]--
	a.counts[newStatus]++
	switch {
	case newStatus.RevenueRecognized() && !oldStatus.RevenueRecognized():
		a.revenue = a.revenue.Add(total)
	case oldStatus.RevenueRecognized() && newStatus == orders.StatusCancelled:
		a.revenue = a.revenue.Sub(total)
	}
}

// Snapshot returns a copy of the current rollups.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	counts := make(map[orders.Status]int, len(orders.AllStatuses))
	total := 0
	for _, s := range orders.AllStatuses {
		counts[s] = a.counts[s]
		total += a.counts[s]
	}

	avg := decimal.Zero
	if delivered := a.counts[orders.StatusDelivered]; delivered > 0 {
		avg = a.revenue.DivRound(decimal.NewFromInt(int64(delivered)), 2)
	}
	return Snapshot{
		TotalCount:    total,
		CountByStatus: counts,
		TotalRevenue:  a.revenue,
		AverageValue:  avg,
	}
}
