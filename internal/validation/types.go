package validation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-fulfillment-tracker/internal/orders"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/query"
)

// LineItem is a single order line on the wire.
type LineItem struct {
	ItemRef   string          `json:"item_ref" validate:"required,max=128"`
	Quantity  int             `json:"quantity" validate:"required,min=1"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"money"` // zero allowed for free items
}

// Customer references the ordering customer.
type Customer struct {
	ID          string `json:"id" validate:"required,max=64"`
	DisplayName string `json:"display_name,omitempty" validate:"max=128"`
}

// CreateOrderRequest is the payload for POST /orders
type CreateOrderRequest struct {
	Customer        Customer   `json:"customer"`
	LineItems       []LineItem `json:"line_items" validate:"required,min=1,max=100,dive"`
	PaymentMethod   string     `json:"payment_method,omitempty" validate:"max=32"`
	DeliveryAddress string     `json:"delivery_address,omitempty" validate:"max=512"`
	// ExpectedTotal is an optional client-side total; when present it must
	// match the sum of the line items.
	ExpectedTotal *decimal.Decimal `json:"expected_total,omitempty" validate:"omitempty,money"`
	Actor         string           `json:"actor,omitempty" validate:"max=64"`
}

// ReplaceItemsRequest is the payload for PUT /orders/:id/items
type ReplaceItemsRequest struct {
	LineItems []LineItem `json:"line_items" validate:"required,min=1,max=100,dive"`
	Actor     string     `json:"actor" validate:"required,max=64"`
}

// TransitionRequest is the payload for POST /orders/:id/transitions
type TransitionRequest struct {
	Status string `json:"status" validate:"required,order_status"`
	Actor  string `json:"actor" validate:"required,max=64"`
}

// ListOrdersQuery holds the query string of GET /orders
type ListOrdersQuery struct {
	Status          []string `form:"status" validate:"dive,order_status"`
	Q               string   `form:"q" validate:"max=128"`
	MinTotal        string   `form:"min_total" validate:"omitempty,money"`
	MaxTotal        string   `form:"max_total" validate:"omitempty,money"`
	CreatedFrom     string   `form:"created_from" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	CreatedTo       string   `form:"created_to" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Sort            string   `form:"sort" validate:"omitempty,oneof=created_at updated_at total id"`
	Order           string   `form:"order" validate:"omitempty,oneof=asc desc"`
	Offset          int      `form:"offset" validate:"min=0"`
	Limit           int      `form:"limit" validate:"min=0,max=500"`
	IncludeArchived bool     `form:"include_archived"`
}

func toLineItems(in []LineItem) []orders.LineItem {
	out := make([]orders.LineItem, 0, len(in))
	for _, li := range in {
		out = append(out, orders.LineItem{ItemRef: li.ItemRef, Quantity: li.Quantity, UnitPrice: li.UnitPrice})
	}
	return out
}

// ToNewOrder converts a validated request into creation input.
func (r CreateOrderRequest) ToNewOrder() orders.NewOrder {
	return orders.NewOrder{
		Customer:        orders.Customer{ID: r.Customer.ID, DisplayName: r.Customer.DisplayName},
		LineItems:       toLineItems(r.LineItems),
		PaymentMethod:   r.PaymentMethod,
		DeliveryAddress: r.DeliveryAddress,
	}
}

// Items converts the validated line items.
func (r ReplaceItemsRequest) Items() []orders.LineItem {
	return toLineItems(r.LineItems)
}

// Target returns the validated target status.
func (r TransitionRequest) Target() orders.Status {
	s, _ := orders.ParseStatus(r.Status)
	return s
}

// ToQuery converts a validated query string into query arguments.
func (q ListOrdersQuery) ToQuery() (query.Filter, query.Sort, query.Page) {
	f := query.Filter{Text: q.Q, IncludeArchived: q.IncludeArchived}
	for _, s := range q.Status {
		st, _ := orders.ParseStatus(s)
		f.Statuses = append(f.Statuses, st)
	}
	if d, err := decimal.NewFromString(q.MinTotal); err == nil {
		f.MinTotal = &d
	}
	if d, err := decimal.NewFromString(q.MaxTotal); err == nil {
		f.MaxTotal = &d
	}
	if t, err := time.Parse(time.RFC3339, q.CreatedFrom); err == nil {
		f.CreatedFrom = &t
	}
	if t, err := time.Parse(time.RFC3339, q.CreatedTo); err == nil {
		f.CreatedTo = &t
	}
	field, _ := query.ParseSortField(q.Sort)
	return f, query.Sort{Field: field, Desc: q.Order == "desc"}, query.Page{Offset: q.Offset, Limit: q.Limit}
}
