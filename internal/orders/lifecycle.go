package orders

// allowedNext is the fulfillment state machine. Statuses without an entry are terminal.
var allowedNext = map[Status][]Status{
	StatusPending:   {StatusPreparing, StatusCancelled},
	StatusPreparing: {StatusReady, StatusCancelled},
	StatusReady:     {StatusDelivered, StatusCancelled},
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPreparing, StatusReady, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// RevenueRecognized reports whether orders in s count toward revenue.
func (s Status) RevenueRecognized() bool {
	return s == StatusDelivered
}

// AllowedNext returns the statuses reachable from s in one step.
func (s Status) AllowedNext() []Status {
	return append([]Status(nil), allowedNext[s]...)
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range allowedNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseStatus converts a wire value into a Status.
func ParseStatus(v string) (Status, bool) {
	s := Status(v)
	return s, s.Valid()
}
