package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imrishuroy/go-fulfillment-tracker/internal/notify"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/orders"
)

// ArchiveExpired soft-deletes terminal orders whose last update is at least
// the retention window older than now. It returns how many orders were
// archived. Orders whose archive copy cannot be written are left live and
// reported in the returned error; the sweep continues with the rest.
func (t *Tracker) ArchiveExpired(ctx context.Context, now time.Time) (int, error) {
	if t.retention <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-t.retention)

	var candidates []string
	for _, o := range t.store.View().Orders {
		if expired(o, cutoff) {
			candidates = append(candidates, o.ID)
		}
	}

	archived := 0
	var errs []error
	for _, id := range candidates {
		ok, err := t.archiveOne(ctx, id, now, cutoff)
		if err != nil {
			if errors.Is(err, orders.ErrTimeout) {
				errs = append(errs, err)
				break
			}
			t.log.ErrorContext(ctx, "archive order failed", "order_id", id, "error", err)
			errs = append(errs, err)
			continue
		}
		if ok {
			archived++
		}
	}
	if archived > 0 {
		t.log.InfoContext(ctx, "archived expired orders", "count", archived, "cutoff", cutoff)
	}
	return archived, errors.Join(errs...)
}

func (t *Tracker) archiveOne(ctx context.Context, id string, now, cutoff time.Time) (bool, error) {
	unlock, err := t.store.Lock(ctx, id)
	if err != nil {
		return false, err
	}
	defer unlock()

	cur, err := t.store.Fetch(ctx, id)
	if err != nil {
		return false, err
	}
	// re-check under the lock; the order may have changed since the scan
	if !expired(cur, cutoff) {
		return false, nil
	}

	next := cur.Clone()
	at := now.UTC()
	next.ArchivedAt = &at
	next.UpdatedAt = t.stamp(cur.UpdatedAt)
	next.Version++

	if t.archive != nil {
		if err := t.archive.Put(ctx, next); err != nil {
			return false, fmt.Errorf("archive copy of order %s: %w", id, err)
		}
	}
	if err := t.store.Upsert(ctx, next, nil); err != nil {
		return false, err
	}

	t.publish(notify.Event{
		Kind:      notify.EventArchived,
		OrderID:   id,
		OldStatus: cur.Status,
		NewStatus: next.Status,
		Total:     next.Total,
		Version:   next.Version,
		Timestamp: next.UpdatedAt,
	})
	return true, nil
}

func expired(o *orders.Order, cutoff time.Time) bool {
	return o.Status.Terminal() && !o.Archived() && !o.UpdatedAt.After(cutoff)
}

// RunArchiver calls ArchiveExpired every interval until ctx is done.
func (t *Tracker) RunArchiver(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := t.ArchiveExpired(ctx, t.nowFunc()); err != nil {
				t.log.Error("archive sweep failed", "error", err)
			}
		}
	}
}
