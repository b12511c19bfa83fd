package order

import "strings"

// Status is the last-known lifecycle state of an order.
type Status int

const (
	StatusUnknown Status = iota
	// Pending exists only locally, before the first acknowledgement.
	Pending
	Resting
	PartiallyFilled
	Filled
	Cancelled
	Expired
	Rejected
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resting:
		return "resting"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	case Expired:
		return "expired"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case Filled, Cancelled, Expired, Rejected:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusUnknown:   {Pending, Resting, PartiallyFilled, Filled, Cancelled, Expired, Rejected},
	Pending:         {Resting, PartiallyFilled, Filled, Cancelled, Expired, Rejected},
	Resting:         {PartiallyFilled, Filled, Cancelled, Expired},
	PartiallyFilled: {Resting, Filled, Cancelled, Expired},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
// Staying in the same non-terminal state is allowed so fill counts can
// advance.
func CanTransition(from, to Status) bool {
	if to == StatusUnknown {
		return false
	}
	if from == to {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseStatus maps the exchange's status string onto Status. A resting
// order with fills is reported as PartiallyFilled.
func ParseStatus(wire string, fillCount int) Status {
	switch strings.ToLower(wire) {
	case "pending":
		return Pending
	case "resting":
		if fillCount > 0 {
			return PartiallyFilled
		}
		return Resting
	case "executed", "filled":
		return Filled
	case "canceled", "cancelled":
		return Cancelled
	case "expired":
		return Expired
	case "rejected":
		return Rejected
	default:
		return StatusUnknown
	}
}
