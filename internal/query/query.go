// Package query serves filtered, sorted and paged projections of orders.
//
// Run scans every order it is given: filtering is O(n) and sorting the
// matches is O(m log m) before the page is cut. There is no secondary index;
// at the collection sizes this service targets (around 10^4 orders) a scan
// over immutable order pointers is cheaper than maintaining one. Callers take
// the input slice from a store view, so the scan never holds store locks.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-fulfillment-tracker/internal/orders"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500

	// how many orders are filtered between deadline checks
	checkEvery = 512
)

// Filter selects orders. Zero-valued dimensions match everything; set
// dimensions are AND-ed.
type Filter struct {
	Statuses []orders.Status
	// Text matches case-insensitively against the customer display name and
	// as a substring of the order ID.
	Text            string
	MinTotal        *decimal.Decimal
	MaxTotal        *decimal.Decimal
	CreatedFrom     *time.Time
	CreatedTo       *time.Time
	IncludeArchived bool
}

// SortField names an order attribute to sort by.
type SortField string

const (
	SortCreatedAt SortField = "created_at"
	SortUpdatedAt SortField = "updated_at"
	SortTotal     SortField = "total"
	SortID        SortField = "id"
)

// ParseSortField converts a wire value, defaulting to SortCreatedAt.
func ParseSortField(v string) (SortField, error) {
	switch f := SortField(v); f {
	case "":
		return SortCreatedAt, nil
	case SortCreatedAt, SortUpdatedAt, SortTotal, SortID:
		return f, nil
	}
	return "", fmt.Errorf("unknown sort field %q", v)
}

// Sort orders the matches. Ties are broken by order ID ascending.
type Sort struct {
	Field SortField
	Desc  bool
}

// Page selects a window of the sorted matches.
type Page struct {
	Offset int
	Limit  int
}

// Result is one page of matches.
type Result struct {
	Items []*orders.Order `json:"items"`
	// Total counts all matches, not only the returned page.
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// Run applies f, s and p to all. It does not modify all or the orders in it;
// returned items are copies.
func Run(ctx context.Context, all []*orders.Order, f Filter, s Sort, p Page) (Result, error) {
	m := newMatcher(f)
	matched := make([]*orders.Order, 0, len(all))
	for i, o := range all {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return Result{}, fmt.Errorf("%w: query: %v", orders.ErrTimeout, err)
			}
		}
		if m.match(o) {
			matched = append(matched, o)
		}
	}

	sort.Slice(matched, less(matched, s))

	limit := p.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)
	offset := max(p.Offset, 0)

	res := Result{Total: len(matched), Offset: offset, Limit: limit, Items: []*orders.Order{}}
	if offset >= len(matched) {
		return res, nil
	}
	end := min(offset+limit, len(matched))
	res.Items = make([]*orders.Order, 0, end-offset)
	for _, o := range matched[offset:end] {
		res.Items = append(res.Items, o.Clone())
	}
	return res, nil
}

type matcher struct {
	f        Filter
	statuses map[orders.Status]struct{}
	text     string
}

func newMatcher(f Filter) matcher {
	m := matcher{f: f, text: strings.ToLower(strings.TrimSpace(f.Text))}
	if len(f.Statuses) > 0 {
		m.statuses = make(map[orders.Status]struct{}, len(f.Statuses))
		for _, s := range f.Statuses {
			m.statuses[s] = struct{}{}
		}
	}
	return m
}

func (m matcher) match(o *orders.Order) bool {
	if o.Archived() && !m.f.IncludeArchived {
		return false
	}
	if m.statuses != nil {
		if _, ok := m.statuses[o.Status]; !ok {
			return false
		}
	}
	if m.text != "" &&
		!strings.Contains(strings.ToLower(o.Customer.DisplayName), m.text) &&
		!strings.Contains(strings.ToLower(o.ID), m.text) {
		return false
	}
	if m.f.MinTotal != nil && o.Total.LessThan(*m.f.MinTotal) {
		return false
	}
	if m.f.MaxTotal != nil && o.Total.GreaterThan(*m.f.MaxTotal) {
		return false
	}
	if m.f.CreatedFrom != nil && o.CreatedAt.Before(*m.f.CreatedFrom) {
		return false
	}
	if m.f.CreatedTo != nil && o.CreatedAt.After(*m.f.CreatedTo) {
		return false
	}
	return true
}

func less(items []*orders.Order, s Sort) func(i, j int) bool {
	cmp := func(a, b *orders.Order) int {
		switch s.Field {
		case SortUpdatedAt:
			return a.UpdatedAt.Compare(b.UpdatedAt)
		case SortTotal:
			return a.Total.Cmp(b.Total)
		case SortID:
			return 0
		default:
			return a.CreatedAt.Compare(b.CreatedAt)
		}
	}
	return func(i, j int) bool {
		a, b := items[i], items[j]
		c := cmp(a, b)
		if s.Desc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
		if s.Desc && s.Field == SortID {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	}
}
