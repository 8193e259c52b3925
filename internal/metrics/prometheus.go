package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/imrishuroy/go-fulfillment-tracker/internal/orders"
)

// SnapshotFunc returns the current rollups, e.g. (*tracker.Tracker).Metrics.
type SnapshotFunc func() Snapshot

// Exporter exposes rollups and transition outcomes to Prometheus. Rollups are
// read from the snapshot source at scrape time so they are never stale.
type Exporter struct {
	source SnapshotFunc

	ordersDesc  *prometheus.Desc
	statusDesc  *prometheus.Desc
	revenueDesc *prometheus.Desc
	averageDesc *prometheus.Desc
	transitions *prometheus.CounterVec
}

// NewExporter returns an Exporter reading from source.
func NewExporter(namespace string, source SnapshotFunc) *Exporter {
	return &Exporter{
		source:      source,
		ordersDesc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "orders"), "Orders held, archived included.", nil, nil),
		statusDesc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "orders_by_status"), "Orders per fulfillment status.", []string{"status"}, nil),
		revenueDesc: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "revenue_total"), "Revenue recognised from delivered orders.", nil, nil),
		averageDesc: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "average_order_value"), "Average total of delivered orders.", nil, nil),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transition_requests_total",
			Help:      "Transition requests by target status and outcome.",
		}, []string{"to", "outcome"}),
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.ordersDesc
	ch <- e.statusDesc
	ch <- e.revenueDesc
	ch <- e.averageDesc
	e.transitions.Describe(ch)
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	s := e.source()
	ch <- prometheus.MustNewConstMetric(e.ordersDesc, prometheus.GaugeValue, float64(s.TotalCount))
	for _, st := range orders.AllStatuses {
		ch <- prometheus.MustNewConstMetric(e.statusDesc, prometheus.GaugeValue, float64(s.CountByStatus[st]), string(st))
	}
	revenue, _ := s.TotalRevenue.Float64()
	avg, _ := s.AverageValue.Float64()
	ch <- prometheus.MustNewConstMetric(e.revenueDesc, prometheus.GaugeValue, revenue)
	ch <- prometheus.MustNewConstMetric(e.averageDesc, prometheus.GaugeValue, avg)
	e.transitions.Collect(ch)
}

// ObserveTransition counts one transition request.
func (e *Exporter) ObserveTransition(from, to orders.Status, err error) {
	e.transitions.WithLabelValues(string(to), Outcome(err)).Inc()
}

// Outcome classifies a transition result for labelling.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, orders.ErrIllegalTransition):
		return "illegal"
	case errors.Is(err, orders.ErrNotFound):
		return "not_found"
	case errors.Is(err, orders.ErrTimeout):
		return "timeout"
	case errors.Is(err, orders.ErrConcurrentModification):
		return "conflict"
	case errors.Is(err, orders.ErrStorage):
		return "storage_error"
	case errors.Is(err, orders.ErrInvalidOrder):
		return "invalid"
	}
	return "error"
}
