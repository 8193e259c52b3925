package orders

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the referenced order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrIllegalTransition is returned when the requested status is not reachable from the current one.
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrTimeout is returned when the caller's deadline expires before commit. Nothing was applied.
	ErrTimeout = errors.New("deadline exceeded before commit")
	// ErrStorage wraps failures of the persistence collaborator.
	ErrStorage = errors.New("storage failure")
	// ErrConcurrentModification signals a stale version was written; refetch and retry once.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrLineItemsFrozen is returned when line items are edited after fulfillment began.
	ErrLineItemsFrozen = errors.New("line items are frozen once fulfillment begins")
	// ErrInvalidOrder is returned for malformed creation or line-item input.
	ErrInvalidOrder = errors.New("invalid order")
)

// TransitionError describes a rejected transition request.
type TransitionError struct {
	OrderID string
	From    Status
	To      Status
	Err     error
}

func (e *TransitionError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("order %s -> %s: %v", e.OrderID, e.To, e.Err)
	}
	return fmt.Sprintf("order %s %s -> %s: %v", e.OrderID, e.From, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// Retryable reports whether err is an infrastructure failure the caller may retry with backoff.
// Validation failures are caller mistakes and never retryable.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrStorage) ||
		errors.Is(err, ErrConcurrentModification)
}
