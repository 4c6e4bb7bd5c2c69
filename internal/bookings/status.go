package bookings

import "fmt"

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusReserved         Status = "RESERVED"
	StatusAwaitingApproval Status = "AWAITING_APPROVAL"
	StatusConfirmed        Status = "CONFIRMED"
	StatusExpired          Status = "EXPIRED"
	StatusCancelled        Status = "CANCELLED"
)

// IsValid checks if the booking status is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusReserved, StatusAwaitingApproval, StatusConfirmed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition can leave s
func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusExpired || s == StatusCancelled
}

// HoldsStall reports whether a booking in s keeps its stall out of circulation
// while the booking is still pending
func (s Status) HoldsStall() bool {
	return s == StatusReserved || s == StatusAwaitingApproval
}

// Event drives a booking from one status to the next.
type Event string

const (
	EventExpire        Event = "expire"
	EventAttachPayment Event = "attach_payment"
	EventApprove       Event = "approve"
	EventReject        Event = "reject"
)

// AllowedTransitions is the exhaustive transition table. Any pair absent here is illegal.
var AllowedTransitions = map[Status][]Status{
	StatusReserved:         {StatusExpired, StatusAwaitingApproval, StatusCancelled},
	StatusAwaitingApproval: {StatusConfirmed, StatusCancelled},
	StatusConfirmed:        {},
	StatusExpired:          {},
	StatusCancelled:        {},
}

// CanTransition reports whether from -> to appears in AllowedTransitions
func CanTransition(from, to Status) bool {
	for _, next := range AllowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Next resolves the status an event leads to from s
func (s Status) Next(e Event) (Status, error) {
	var to Status
	switch e {
	case EventExpire:
		to = StatusExpired
	case EventAttachPayment:
		to = StatusAwaitingApproval
	case EventApprove:
		to = StatusConfirmed
	case EventReject:
		to = StatusCancelled
	default:
		return s, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, e)
	}

	if !CanTransition(s, to) {
		return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, e, s)
	}
	return to, nil
}

// PaymentStatus is the verification state of submitted payment evidence.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusApproved PaymentStatus = "APPROVED"
	PaymentStatusRejected PaymentStatus = "REJECTED"
)

// IsValid checks if the payment status is valid
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusApproved, PaymentStatusRejected:
		return true
	}
	return false
}

func (s PaymentStatus) String() string {
	return string(s)
}
