package tracker

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-fulfillment-tracker/internal/notify"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/orders"
)

func newOrderID() string { return uuid.NewString() }

// Create stores a new PENDING order. The total is derived from the line items.
func (t *Tracker) Create(ctx context.Context, in orders.NewOrder, actor string) (*orders.Order, error) {
	if err := validateCustomer(in.Customer); err != nil {
		return nil, err
	}
	if err := validateLineItems(in.LineItems); err != nil {
		return nil, err
	}

	now := t.nowFunc().UTC()
	o := &orders.Order{
		ID:              t.newID(),
		Status:          orders.StatusPending,
		Customer:        in.Customer,
		LineItems:       append([]orders.LineItem(nil), in.LineItems...),
		Total:           orders.ComputeTotal(in.LineItems),
		PaymentMethod:   in.PaymentMethod,
		DeliveryAddress: in.DeliveryAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}

	unlock, err := t.store.Lock(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := t.store.Upsert(ctx, o, nil); err != nil {
		return nil, err
	}

	t.publish(notify.Event{
		Kind:      notify.EventCreated,
		OrderID:   o.ID,
		NewStatus: o.Status,
		Total:     o.Total,
		Version:   o.Version,
		Actor:     actor,
		Timestamp: now,
	})
	t.log.InfoContext(ctx, "order created", "order_id", o.ID, "total", o.Total.StringFixed(2), "actor", actor)
	return o, nil
}

// Transition moves order id to target on behalf of actor.
//
// Requesting the current status is a successful no-op. Otherwise target must
// be reachable from the current status in one step. The new status, the audit
// record and the metrics delta are committed together, and the change event is
// published only after that commit.
func (t *Tracker) Transition(ctx context.Context, id string, target orders.Status, actor string) (o *orders.Order, err error) {
	var from orders.Status
	defer func() {
		if t.observer != nil {
			t.observer.ObserveTransition(from, target, err)
		}
	}()

	if !target.Valid() {
		return nil, &orders.TransitionError{OrderID: id, To: target, Err: orders.ErrIllegalTransition}
	}
	if strings.TrimSpace(actor) == "" {
		return nil, fmt.Errorf("%w: actor is required", orders.ErrInvalidOrder)
	}

	unlock, err := t.store.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cur, err := t.store.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if !permits(cur, target) {
		// another writer sharing the persister may have moved the order on
		if cur, err = t.store.Refresh(ctx, id); err != nil {
			return nil, err
		}
	}
	from = cur.Status

	if cur.Status == target {
		return cur, nil
	}
	if !permits(cur, target) {
		return nil, &orders.TransitionError{OrderID: id, From: cur.Status, To: target, Err: orders.ErrIllegalTransition}
	}

	next := cur.Clone()
	next.Status = target
	next.UpdatedAt = t.stamp(cur.UpdatedAt)
	next.Version++
	rec := orders.StatusTransition{
		OrderID: id,
		From:    cur.Status,
		To:      target,
		At:      next.UpdatedAt,
		Actor:   actor,
	}
	if err := t.store.Upsert(ctx, next, &rec); err != nil {
		return nil, &orders.TransitionError{OrderID: id, From: cur.Status, To: target, Err: err}
	}

	// Still under the order lock, so events for one order are queued in commit order.
	t.publish(notify.Event{
		Kind:      notify.EventStatusChanged,
		OrderID:   id,
		OldStatus: cur.Status,
		NewStatus: target,
		Total:     next.Total,
		Version:   next.Version,
		Actor:     actor,
		Timestamp: next.UpdatedAt,
	})
	t.log.InfoContext(ctx, "order transitioned",
		"order_id", id, "from", cur.Status, "to", target, "actor", actor)
	return next, nil
}

// ReplaceLineItems swaps the line items of a PENDING order and recomputes its total.
func (t *Tracker) ReplaceLineItems(ctx context.Context, id string, items []orders.LineItem, actor string) (*orders.Order, error) {
	if err := validateLineItems(items); err != nil {
		return nil, err
	}

	unlock, err := t.store.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cur, err := t.store.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if !editable(cur) {
		if cur, err = t.store.Refresh(ctx, id); err != nil {
			return nil, err
		}
	}
	if !editable(cur) {
		return nil, fmt.Errorf("%w: order %s is %s", orders.ErrLineItemsFrozen, id, cur.Status)
	}

	next := cur.Clone()
	next.LineItems = append([]orders.LineItem(nil), items...)
	next.Total = orders.ComputeTotal(items)
	next.UpdatedAt = t.stamp(cur.UpdatedAt)
	next.Version++
	if err := t.store.Upsert(ctx, next, nil); err != nil {
		return nil, err
	}

	t.publish(notify.Event{
		Kind:      notify.EventItemsChanged,
		OrderID:   id,
		OldStatus: cur.Status,
		NewStatus: next.Status,
		Total:     next.Total,
		Version:   next.Version,
		Actor:     actor,
		Timestamp: next.UpdatedAt,
	})
	t.log.InfoContext(ctx, "order line items replaced",
		"order_id", id, "items", len(items), "total", next.Total.StringFixed(2), "actor", actor)
	return next, nil
}

// permits reports whether cur may move to target, a repeat of the current
// status included.
func permits(cur *orders.Order, target orders.Status) bool {
	if cur.Status == target {
		return true
	}
	return !cur.Archived() && orders.CanTransition(cur.Status, target)
}

func editable(cur *orders.Order) bool {
	return cur.Status == orders.StatusPending && !cur.Archived()
}

func validateCustomer(c orders.Customer) error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: customer reference is required", orders.ErrInvalidOrder)
	}
	return nil
}

func validateLineItems(items []orders.LineItem) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: at least one line item is required", orders.ErrInvalidOrder)
	}
	for i, it := range items {
		switch {
		case strings.TrimSpace(it.ItemRef) == "":
			return fmt.Errorf("%w: line %d: item reference is required", orders.ErrInvalidOrder, i)
		case it.Quantity <= 0:
			return fmt.Errorf("%w: line %d: quantity must be positive", orders.ErrInvalidOrder, i)
		case it.UnitPrice.IsNegative():
			return fmt.Errorf("%w: line %d: unit price must not be negative", orders.ErrInvalidOrder, i)
		}
	}
	return nil
}
