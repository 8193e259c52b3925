// Package notify fans committed order changes out to subscribers.
//
// Publish only enqueues; every subscriber drains its own FIFO on its own
// goroutine, so a slow or failing subscriber never delays the publisher or
// the other subscribers. Delivery is at-least-once up to MaxAttempts.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-fulfillment-tracker/internal/orders"
)

// EventKind classifies a change.
type EventKind string

const (
	EventCreated       EventKind = "created"
	EventStatusChanged EventKind = "status_changed"
	EventItemsChanged  EventKind = "line_items_changed"
	EventArchived      EventKind = "archived"
)

// Event describes one committed change of an order.
type Event struct {
	Kind      EventKind       `json:"kind"`
	OrderID   string          `json:"order_id"`
	OldStatus orders.Status   `json:"old_status,omitempty"`
	NewStatus orders.Status   `json:"new_status"`
	Total     decimal.Decimal `json:"total"`
	Version   int64           `json:"version"`
	Actor     string          `json:"actor,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Key identifies the change for subscriber-side deduplication.
func (e Event) Key() string {
	return fmt.Sprintf("%s:%d", e.OrderID, e.Version)
}

// Subscriber receives events. A returned error triggers a retry.
type Subscriber interface {
	Handle(ctx context.Context, e Event) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, e Event) error

func (f SubscriberFunc) Handle(ctx context.Context, e Event) error { return f(ctx, e) }

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("notifier closed")

// Options tune delivery.
type Options struct {
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	DeliveryTimeout time.Duration
	Logger          *slog.Logger
}

func (o *Options) withDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 100 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Second
	}
	if o.DeliveryTimeout <= 0 {
		o.DeliveryTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Notifier is the change fan-out.
type Notifier struct {
	opts Options

	ctx    context.Context // cancelled when Close gives up waiting
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   []*subscription
	closed bool
}

// New returns a Notifier with no subscribers.
func New(opts Options) *Notifier {
	opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{opts: opts, ctx: ctx, cancel: cancel}
}

// Subscribe registers s under name. When statuses are given, only status
// changes into one of them are delivered.
func (n *Notifier) Subscribe(name string, s Subscriber, statuses ...orders.Status) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	sub := &subscription{
		name:   name,
		target: s,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		n:      n,
		log:    n.opts.Logger.With("subscriber", name),
	}
	if len(statuses) > 0 {
		sub.only = make(map[orders.Status]struct{}, len(statuses))
		for _, st := range statuses {
			sub.only[st] = struct{}{}
		}
	}
	n.subs = append(n.subs, sub)
	go sub.run()
	return nil
}

// Publish enqueues e for every interested subscriber and returns immediately.
func (n *Notifier) Publish(e Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		n.opts.Logger.Warn("event dropped after close", "order_id", e.OrderID, "kind", e.Kind)
		return
	}
	for _, s := range n.subs {
		if s.wants(e) {
			s.enqueue(e)
		}
	}
}

// Close stops accepting events and waits until every queue is drained or ctx
// is done. Events still queued when ctx ends are dropped and logged.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	subs := append([]*subscription(nil), n.subs...)
	n.mu.Unlock()

	for _, s := range subs {
		s.signal()
	}
	for _, s := range subs {
		select {
		case <-s.done:
		case <-ctx.Done():
			n.cancel()
			dropped := 0
			for _, rest := range subs {
				dropped += rest.pending()
			}
			n.opts.Logger.Error("notifier flush aborted", "dropped", dropped, "error", ctx.Err())
			return fmt.Errorf("flush notifier: %w", ctx.Err())
		}
	}
	n.cancel()
	return nil
}

// Flush waits until every event published so far has been handled, or ctx
// is done. Unlike Close it keeps the notifier open.
func (n *Notifier) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if n.idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("flush notifier: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (n *Notifier) idle() bool {
	n.mu.Lock()
	subs := append([]*subscription(nil), n.subs...)
	n.mu.Unlock()
	for _, s := range subs {
		if !s.idle() {
			return false
		}
	}
	return true
}

// Pending returns the number of undelivered events across subscribers.
func (n *Notifier) Pending() int {
	n.mu.Lock()
	subs := append([]*subscription(nil), n.subs...)
	n.mu.Unlock()
	total := 0
	for _, s := range subs {
		total += s.pending()
	}
	return total
}

func (n *Notifier) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

type subscription struct {
	name   string
	target Subscriber
	only   map[orders.Status]struct{}
	n      *Notifier
	log    *slog.Logger

	mu       sync.Mutex
	queue    []Event
	inflight bool
	wake     chan struct{}
	done     chan struct{}
}

func (s *subscription) wants(e Event) bool {
	if s.only == nil {
		return true
	}
	if e.Kind != EventStatusChanged {
		return false
	}
	_, ok := s.only[e.NewStatus]
	return ok
}

func (s *subscription) enqueue(e Event) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	s.signal()
}

func (s *subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *subscription) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) == 0 && !s.inflight
}

// next pops the head of the queue and marks it in flight until finish.
func (s *subscription) next() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Event{}, false
	}
	e := s.queue[0]
	s.queue[0] = Event{}
	s.queue = s.queue[1:]
	s.inflight = true
	return e, true
}

func (s *subscription) finish() {
	s.mu.Lock()
	s.inflight = false
	s.mu.Unlock()
}

func (s *subscription) run() {
	defer close(s.done)
	for {
		for {
			if s.n.ctx.Err() != nil {
				return
			}
			e, ok := s.next()
			if !ok {
				break
			}
			s.deliver(e)
			s.finish()
		}
		if s.n.isClosed() && s.pending() == 0 {
			return
		}
		select {
		case <-s.wake:
		case <-s.n.ctx.Done():
			return
		}
	}
}

func (s *subscription) deliver(e Event) {
	backoff := s.n.opts.InitialBackoff
	for attempt := 1; ; attempt++ {
		err := s.handleOnce(e)
		if err == nil {
			return
		}
		if attempt >= s.n.opts.MaxAttempts {
			s.log.Error("event delivery failed, giving up",
				"order_id", e.OrderID, "kind", e.Kind, "attempts", attempt, "error", err)
			return
		}
		s.log.Warn("event delivery failed, retrying",
			"order_id", e.OrderID, "kind", e.Kind, "attempt", attempt, "backoff", backoff, "error", err)

		t := time.NewTimer(backoff)
		select {
		case <-t.C:
		case <-s.n.ctx.Done():
			t.Stop()
			return
		}
		backoff = min(backoff*2, s.n.opts.MaxBackoff)
	}
}

func (s *subscription) handleOnce(e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(s.n.ctx, s.n.opts.DeliveryTimeout)
	defer cancel()
	return s.target.Handle(ctx, e)
}
