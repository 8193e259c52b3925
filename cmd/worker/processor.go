package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/go-fulfillment-tracker/internal/idempotency"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/logging"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/notify"
)

// EventLedger remembers which events were applied, e.g. *idempotency.Store.
type EventLedger interface {
	Begin(ctx context.Context, key, requestHash string) (*idempotency.IdempotencyRecord, bool, error)
	MarkDone(ctx context.Context, key, orderID, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
}

// ReceiptWriter persists fiscal receipts, e.g. *ReceiptStore.
type ReceiptWriter interface {
	Record(ctx context.Context, r Receipt) (bool, error)
}

var (
	_ EventLedger   = (*idempotency.Store)(nil)
	_ ReceiptWriter = (*ReceiptStore)(nil)
)

// errInFlight means another delivery of the same event holds the ledger key.
var errInFlight = errors.New("event is being processed by another delivery")

// Processor turns order change events into fiscal receipts, once per event.
type Processor struct {
	ledger   EventLedger
	receipts ReceiptWriter
	log      *slog.Logger
	nowFunc  func() time.Time
}

// NewProcessor creates a processor. A nil logger uses slog.Default.
func NewProcessor(ledger EventLedger, receipts ReceiptWriter, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{ledger: ledger, receipts: receipts, log: log, nowFunc: time.Now}
}

// Handle processes an SQS batch. Failed messages are reported individually so
// only they are redelivered.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		mctx := logging.WithAttrs(ctx, slog.String("message_id", rec.MessageId))
		if err := p.processMessage(mctx, rec); err != nil {
			p.log.ErrorContext(mctx, "worker error", "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var e notify.Event
	if err := json.Unmarshal([]byte(rec.Body), &e); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if e.OrderID == "" || e.Version == 0 {
		return fmt.Errorf("invalid message body: missing order_id or version")
	}

	receipt, ok := receiptFor(e, p.nowFunc())
	if !ok {
		p.log.DebugContext(ctx, "event has no fiscal effect", "order_id", e.OrderID, "kind", e.Kind, "new_status", e.NewStatus)
		return nil
	}

	key := "evt:" + e.Key()
	existing, created, err := p.ledger.Begin(ctx, key, e.Key())
	if err != nil {
		return fmt.Errorf("claim %s: %w", key, err)
	}
	if !created {
		switch existing.Status {
		case idempotency.StatusDone:
			p.log.InfoContext(ctx, "duplicate event skipped", "order_id", e.OrderID, "version", e.Version)
			return nil
		default:
			return fmt.Errorf("%s: %w", key, errInFlight)
		}
	}

	inserted, err := p.receipts.Record(ctx, receipt)
	if err != nil {
		if ferr := p.ledger.MarkFailed(context.WithoutCancel(ctx), key, err.Error()); ferr != nil {
			p.log.ErrorContext(ctx, "failed to release event key", "key", key, "error", ferr)
		}
		return err
	}
	if !inserted {
		p.log.InfoContext(ctx, "receipt already recorded", "receipt_id", receipt.ReceiptID)
	}

	body, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	if err := p.ledger.MarkDone(ctx, key, e.OrderID, string(body), http.StatusOK); err != nil {
		// The receipt is durable and a replay only finds it recorded. Release the
		// key rather than leave it in progress until it expires.
		p.log.WarnContext(ctx, "failed to mark event done", "key", key, "error", err)
		if ferr := p.ledger.MarkFailed(context.WithoutCancel(ctx), key, "mark done: "+err.Error()); ferr != nil {
			p.log.ErrorContext(ctx, "failed to release event key", "key", key, "error", ferr)
		}
	}

	p.log.InfoContext(ctx, "receipt recorded",
		"order_id", e.OrderID, "receipt_id", receipt.ReceiptID, "kind", receipt.Kind, "amount", receipt.Amount)
	return nil
}
