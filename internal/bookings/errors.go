package bookings

import (
	"errors"

	"stallbook/internal/stalls"
)

var (
	// ErrStallNotAvailable is returned when the stall was not AVAILABLE at claim time
	ErrStallNotAvailable = errors.New("stall not available")
	// ErrBookingAlreadyProcessed is returned when payment arrives for a booking that is no longer on hold
	ErrBookingAlreadyProcessed = errors.New("booking already processed")
	ErrBookingNotFound         = errors.New("booking not found")
	// ErrInvalidState is returned when an admin decision targets a booking in the wrong status
	ErrInvalidState      = errors.New("booking is not in a valid state for this operation")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrInvalidTransition = errors.New("invalid booking transition")
	// ErrStaleStall is returned when a stall no longer matches the booking that owns it
	ErrStaleStall   = errors.New("stall status does not match booking")
	ErrInvalidQuery = errors.New("invalid booking query")
)

// IsConflict reports whether err is a lost race against another writer
func IsConflict(err error) bool {
	return errors.Is(err, ErrStallNotAvailable) || errors.Is(err, ErrBookingAlreadyProcessed)
}

// IsNotFound reports whether err names a missing stall, booking or payment
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBookingNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, stalls.ErrStallNotFound)
}
