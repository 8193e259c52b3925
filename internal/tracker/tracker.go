// Package tracker is the order fulfillment core: it validates lifecycle
// transitions, edits line items, serves queries and metrics, and publishes
// every committed change.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/imrishuroy/go-fulfillment-tracker/internal/metrics"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/notify"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/orders"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/query"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/store"
)

// Publisher receives committed changes, e.g. *notify.Notifier.
type Publisher interface {
	Publish(e notify.Event)
}

// Observer is told the outcome of every transition request.
type Observer interface {
	ObserveTransition(from, to orders.Status, err error)
}

// ArchiveSink stores a copy of an order before it is archived.
type ArchiveSink interface {
	Put(ctx context.Context, o *orders.Order) error
}

// Config wires the tracker's collaborators. Persister is required.
type Config struct {
	Persister store.Persister
	Publisher Publisher
	Observer  Observer
	Archive   ArchiveSink
	// Retention is how long a terminal order stays live before ArchiveExpired
	// soft-deletes it. Zero disables archiving.
	Retention time.Duration
	Logger    *slog.Logger
	NowFunc   func() time.Time
	NewID     func() string
}

// Tracker owns the order collection for the lifetime of the process.
type Tracker struct {
	store     *store.Store
	publisher Publisher
	observer  Observer
	archive   ArchiveSink
	retention time.Duration
	log       *slog.Logger
	nowFunc   func() time.Time
	newID     func() string
}

// Open builds a tracker and performs the cold-start scan of the persister.
func Open(ctx context.Context, cfg Config) (*Tracker, error) {
	if cfg.Persister == nil {
		return nil, errors.New("tracker: persister is required")
	}
	t := &Tracker{
		store:     store.New(cfg.Persister),
		publisher: cfg.Publisher,
		observer:  cfg.Observer,
		archive:   cfg.Archive,
		retention: cfg.Retention,
		log:       cfg.Logger,
		nowFunc:   cfg.NowFunc,
		newID:     cfg.NewID,
	}
	if t.log == nil {
		t.log = slog.Default()
	}
	if t.nowFunc == nil {
		t.nowFunc = time.Now
	}
	if t.newID == nil {
		t.newID = newOrderID
	}

	started := time.Now()
	n, err := t.store.Seed(ctx)
	if err != nil {
		return nil, fmt.Errorf("cold start: %w", err)
	}
	t.log.Info("order store loaded", "orders", n, "elapsed", time.Since(started))
	return t, nil
}

// Get returns the order with id.
func (t *Tracker) Get(ctx context.Context, id string) (*orders.Order, error) {
	if o, ok := t.store.Get(id); ok {
		return o, nil
	}
	unlock, err := t.store.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return t.store.Fetch(ctx, id)
}

// Query returns one page of orders matching f.
func (t *Tracker) Query(ctx context.Context, f query.Filter, s query.Sort, p query.Page) (query.Result, error) {
	if err := ctx.Err(); err != nil {
		return query.Result{}, fmt.Errorf("%w: query: %v", orders.ErrTimeout, err)
	}
	return query.Run(ctx, t.store.View().Orders, f, s, p)
}

// Metrics returns the current rollups.
func (t *Tracker) Metrics() metrics.Snapshot {
	return t.store.Metrics()
}

// Count returns the number of orders held, archived ones included.
func (t *Tracker) Count() int {
	return t.store.Count()
}

// History returns the status transitions recorded for id.
func (t *Tracker) History(ctx context.Context, id string) ([]orders.StatusTransition, error) {
	if _, err := t.Get(ctx, id); err != nil {
		return nil, err
	}
	return t.store.History(ctx, id)
}

// Transitions returns the most recent audit records committed by this process.
func (t *Tracker) Transitions() []orders.StatusTransition {
	return t.store.Transitions()
}

func (t *Tracker) publish(e notify.Event) {
	if t.publisher != nil {
		t.publisher.Publish(e)
	}
}

// stamp returns a timestamp not earlier than prev.
func (t *Tracker) stamp(prev time.Time) time.Time {
	now := t.nowFunc().UTC()
	if now.Before(prev) {
		return prev
	}
	return now
}
