package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the fulfillment state of an order.
type Status string

// Order statuses
const (
	StatusPending   Status = "PENDING"
	StatusPreparing Status = "PREPARING"
	StatusReady     Status = "READY"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusPreparing,
	StatusReady,
	StatusDelivered,
	StatusCancelled,
}

// Customer is an opaque reference to a customer record owned elsewhere.
type Customer struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

// LineItem is a single priced line on an order.
type LineItem struct {
	ItemRef   string          `json:"item_ref"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Subtotal returns quantity × unit price.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Order is the unit under lifecycle management.
//
// Order values held by the Store are never mutated in place; every change
// produces a new value through Clone so readers can keep a pointer safely.
type Order struct {
	ID              string          `json:"order_id"`
	Status          Status          `json:"status"`
	Customer        Customer        `json:"customer"`
	LineItems       []LineItem      `json:"line_items"`
	Total           decimal.Decimal `json:"total"`
	PaymentMethod   string          `json:"payment_method,omitempty"`
	DeliveryAddress string          `json:"delivery_address,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Version         int64           `json:"version"`
	ArchivedAt      *time.Time      `json:"archived_at,omitempty"`
}

// Archived reports whether the order has been soft-deleted.
func (o *Order) Archived() bool {
	return o.ArchivedAt != nil
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	c := *o
	c.LineItems = append([]LineItem(nil), o.LineItems...)
	if o.ArchivedAt != nil {
		at := *o.ArchivedAt
		c.ArchivedAt = &at
	}
	return &c
}

// ComputeTotal sums quantity × unit price over the line items.
func ComputeTotal(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// StatusTransition is an append-only audit record of a committed status change.
type StatusTransition struct {
	OrderID string    `json:"order_id"`
	From    Status    `json:"from_status"`
	To      Status    `json:"to_status"`
	At      time.Time `json:"timestamp"`
	Actor   string    `json:"actor"`
}

// NewOrder carries the caller-supplied fields for order creation.
type NewOrder struct {
	Customer        Customer
	LineItems       []LineItem
	PaymentMethod   string
	DeliveryAddress string
}
