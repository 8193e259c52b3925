// Package store holds the authoritative in-memory order collection.
//
// All mutation funnels through Store so every order has a total update order.
// Three levels of coordination are used:
//
//   - a per-order lock serialises read-validate-write cycles on one order;
//   - the Persister is called while that lock is held, outside any global lock;
//   - the commit gate is taken exclusively only to swap the order value,
//     append the audit record and apply the metrics delta, so readers never
//     observe an order change without its metrics change.
//
// A failed write leaves the held copy in place but marks it stale: the write
// may have landed, or another process may own a newer version. The next Fetch
// reloads a stale order from the persister and reconciles the metrics.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/imrishuroy/go-fulfillment-tracker/internal/metrics"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/orders"
)

// maxRecent bounds the process-wide audit log returned by Transitions.
const maxRecent = 4096

// Persister is the durable storage collaborator.
type Persister interface {
	// Load returns (nil, nil) when the order does not exist.
	Load(ctx context.Context, id string) (*orders.Order, error)
	// Save writes the order. Implementations reject a stale Version with
	// orders.ErrConcurrentModification.
	Save(ctx context.Context, o *orders.Order) error
	ScanAll(ctx context.Context) ([]*orders.Order, error)
}

// TransitionSaver is implemented by persisters that can write the order and
// its audit record atomically.
type TransitionSaver interface {
	SaveWithTransition(ctx context.Context, o *orders.Order, t orders.StatusTransition) error
}

// HistoryReader is implemented by persisters that keep the audit trail and
// can read it back, oldest first.
type HistoryReader interface {
	History(ctx context.Context, id string) ([]orders.StatusTransition, error)
}

// View is a consistent read of orders and metrics taken at one commit point.
type View struct {
	Orders  []*orders.Order
	Metrics metrics.Snapshot
}

// Store is the in-memory source of truth backed by a Persister.
type Store struct {
	persister Persister
	locks     sync.Map // order id -> *entityLock

	gate    sync.RWMutex
	orders  map[string]*orders.Order
	stale   map[string]struct{}
	history map[string][]orders.StatusTransition // only when the persister cannot read history
	recent  []orders.StatusTransition
	next    int // write position in recent once it is full
	agg     *metrics.Aggregator
}

// New returns an empty store writing through to p.
func New(p Persister) *Store {
	return &Store{
		persister: p,
		orders:    make(map[string]*orders.Order),
		stale:     make(map[string]struct{}),
		history:   make(map[string][]orders.StatusTransition),
		agg:       metrics.NewAggregator(),
	}
}

// Seed replaces the in-memory collection with a full scan from the persister
// and seeds the metrics from it.
func (s *Store) Seed(ctx context.Context) (int, error) {
	all, err := s.persister.ScanAll(ctx)
	if err != nil {
		return 0, storageError("scan orders", err)
	}
	m := make(map[string]*orders.Order, len(all))
	for _, o := range all {
		o.Total = orders.ComputeTotal(o.LineItems)
		m[o.ID] = o
	}
	s.gate.Lock()
	s.orders = m
	s.stale = make(map[string]struct{})
	s.agg.Seed(all)
	s.gate.Unlock()
	return len(m), nil
}

// Lock acquires the per-order lock for id, waiting at most until ctx is done.
func (s *Store) Lock(ctx context.Context, id string) (func(), error) {
	v, _ := s.locks.LoadOrStore(id, newEntityLock())
	l := v.(*entityLock)
	if err := l.lock(ctx); err != nil {
		return nil, fmt.Errorf("%w: waiting for order %s", orders.ErrTimeout, id)
	}
	return l.unlock, nil
}

// Get returns a copy of the order held in memory. A stale order is reported
// as not held so the caller goes through Fetch.
func (s *Store) Get(id string) (*orders.Order, bool) {
	s.gate.RLock()
	o, ok := s.orders[id]
	_, stale := s.stale[id]
	s.gate.RUnlock()
	if !ok || stale {
		return nil, false
	}
	return o.Clone(), true
}

// Fetch returns the order from memory, falling back to the persister when it
// is missing or stale. An order read from storage replaces the held copy and
// the metrics are moved from the old copy to the new one.
// Callers must hold the order's lock.
func (s *Store) Fetch(ctx context.Context, id string) (*orders.Order, error) {
	if o, ok := s.Get(id); ok {
		return o, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", orders.ErrTimeout, err)
	}
	o, err := s.persister.Load(ctx, id)
	if err != nil {
		return nil, s.saveError(ctx, "load order "+id, err)
	}
	if o != nil {
		o.Total = orders.ComputeTotal(o.LineItems)
	}

	s.gate.Lock()
	defer s.gate.Unlock()
	prev, held := s.orders[id]
	if held {
		s.agg.Exclude(prev.Status, prev.Total)
	}
	delete(s.stale, id)
	if o == nil {
		delete(s.orders, id)
		delete(s.history, id)
		return nil, fmt.Errorf("%w: %s", orders.ErrNotFound, id)
	}
	s.orders[id] = o
	s.agg.Include(o.Status, o.Total)
	return o.Clone(), nil
}

// Refresh drops the held copy of id and reloads it from the persister.
// Callers must hold the order's lock.
func (s *Store) Refresh(ctx context.Context, id string) (*orders.Order, error) {
	s.invalidate(id)
	return s.Fetch(ctx, id)
}

func (s *Store) invalidate(id string) {
	s.gate.Lock()
	if _, ok := s.orders[id]; ok {
		s.stale[id] = struct{}{}
	}
	s.gate.Unlock()
}

// Upsert persists next and then commits it, together with rec and the matching
// metrics delta, in one step. rec is nil for mutations that do not change the
// status. Callers must hold the order's lock. On error nothing visible changes
// and the held copy is marked stale.
func (s *Store) Upsert(ctx context.Context, next *orders.Order, rec *orders.StatusTransition) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", orders.ErrTimeout, err)
	}

	var err error
	if ts, ok := s.persister.(TransitionSaver); ok && rec != nil {
		err = ts.SaveWithTransition(ctx, next, *rec)
	} else {
		err = s.persister.Save(ctx, next)
	}
	if err != nil {
		s.invalidate(next.ID)
		return s.saveError(ctx, "save order "+next.ID, err)
	}

	stored := next.Clone()
	s.gate.Lock()
	defer s.gate.Unlock()
	prev, existed := s.orders[stored.ID]
	s.orders[stored.ID] = stored
	delete(s.stale, stored.ID)
	switch {
	case !existed:
		s.agg.Include(stored.Status, stored.Total)
	case prev.Status != stored.Status:
		s.agg.Apply(prev.Status, stored.Status, stored.Total)
	}
	if rec != nil {
		s.remember(*rec)
	}
	if stored.Archived() {
		delete(s.history, stored.ID)
	}
	return nil
}

// remember records rec in the bounded recent log and, when the persister
// cannot serve history, in the per-order log. Callers hold the gate.
func (s *Store) remember(rec orders.StatusTransition) {
	if len(s.recent) < maxRecent {
		s.recent = append(s.recent, rec)
	} else {
		s.recent[s.next] = rec
		s.next = (s.next + 1) % maxRecent
	}
	if _, ok := s.persister.(HistoryReader); !ok {
		s.history[rec.OrderID] = append(s.history[rec.OrderID], rec)
	}
}

// Count returns the number of orders held, archived ones included.
func (s *Store) Count() int {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return len(s.orders)
}

// Metrics returns the current rollups.
func (s *Store) Metrics() metrics.Snapshot {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return s.agg.Snapshot()
}

// View copies order pointers and metrics under the shared gate. Stored orders
// are immutable, so the copy stays consistent after the gate is released.
func (s *Store) View() View {
	s.gate.RLock()
	defer s.gate.RUnlock()
	out := make([]*orders.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	return View{Orders: out, Metrics: s.agg.Snapshot()}
}

// History returns the audit records of one order in commit order. It reads
// from the persister when it keeps the audit trail; otherwise it serves what
// this process committed, which is dropped once the order is archived.
func (s *Store) History(ctx context.Context, id string) ([]orders.StatusTransition, error) {
	if hr, ok := s.persister.(HistoryReader); ok {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", orders.ErrTimeout, err)
		}
		h, err := hr.History(ctx, id)
		if err != nil {
			return nil, s.saveError(ctx, "read history of order "+id, err)
		}
		return h, nil
	}
	s.gate.RLock()
	defer s.gate.RUnlock()
	return append([]orders.StatusTransition{}, s.history[id]...), nil
}

// Transitions returns the most recent audit records committed by this
// process, oldest first. At most maxRecent records are kept.
func (s *Store) Transitions() []orders.StatusTransition {
	s.gate.RLock()
	defer s.gate.RUnlock()
	out := make([]orders.StatusTransition, 0, len(s.recent))
	out = append(out, s.recent[s.next:]...)
	return append(out, s.recent[:s.next]...)
}

func (s *Store) saveError(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, orders.ErrConcurrentModification):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), ctx.Err() != nil:
		return fmt.Errorf("%w: %s: %v", orders.ErrTimeout, op, err)
	}
	return storageError(op, err)
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", orders.ErrStorage, op, err)
}

// entityLock is a mutex whose acquisition can be abandoned when a context ends.
type entityLock struct {
	ch chan struct{}
}

func newEntityLock() *entityLock {
	return &entityLock{ch: make(chan struct{}, 1)}
}

func (l *entityLock) lock(ctx context.Context) error {
	select {
	case l.ch <- struct{}{}:
		return nil
	default:
	}
	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *entityLock) unlock() {
	<-l.ch
}
