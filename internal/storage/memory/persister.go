// Package memory is a process-local Persister used for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/imrishuroy/go-fulfillment-tracker/internal/orders"
)

// Persister keeps orders in a map with the same version check as the durable stores.
type Persister struct {
	mu          sync.Mutex
	orders      map[string]*orders.Order
	transitions []orders.StatusTransition

	failSave error
	saves    int
}

// New returns an empty Persister.
func New(seed ...*orders.Order) *Persister {
	p := &Persister{orders: make(map[string]*orders.Order, len(seed))}
	for _, o := range seed {
		p.orders[o.ID] = o.Clone()
	}
	return p
}

func (p *Persister) Load(ctx context.Context, id string) (*orders.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[id]
	if !ok {
		return nil, nil
	}
	return o.Clone(), nil
}

func (p *Persister) Save(ctx context.Context, o *orders.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.save(ctx, o)
}

func (p *Persister) SaveWithTransition(ctx context.Context, o *orders.Order, t orders.StatusTransition) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.save(ctx, o); err != nil {
		return err
	}
	p.transitions = append(p.transitions, t)
	return nil
}

func (p *Persister) save(ctx context.Context, o *orders.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.failSave != nil {
		return p.failSave
	}
	var prev int64
	if cur, ok := p.orders[o.ID]; ok {
		prev = cur.Version
	}
	if o.Version != prev+1 {
		return fmt.Errorf("%w: order %s stored version %d, write version %d",
			orders.ErrConcurrentModification, o.ID, prev, o.Version)
	}
	p.orders[o.ID] = o.Clone()
	p.saves++
	return nil
}

func (p *Persister) ScanAll(ctx context.Context) ([]*orders.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*orders.Order, 0, len(p.orders))
	for _, o := range p.orders {
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// History returns the audit records of one order in write order.
func (p *Persister) History(ctx context.Context, id string) ([]orders.StatusTransition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := []orders.StatusTransition{}
	for _, t := range p.transitions {
		if t.OrderID == id {
			out = append(out, t)
		}
	}
	return out, nil
}

// FailWith makes every following write return err until called with nil.
func (p *Persister) FailWith(err error) {
	p.mu.Lock()
	p.failSave = err
	p.mu.Unlock()
}

// Transitions returns the audit records written through SaveWithTransition.
func (p *Persister) Transitions() []orders.StatusTransition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]orders.StatusTransition(nil), p.transitions...)
}

// Saves returns the number of successful writes.
func (p *Persister) Saves() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}
