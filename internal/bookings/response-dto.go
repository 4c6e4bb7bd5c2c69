package bookings

import "time"

type BookingListResponse struct {
	Bookings   []Booking `json:"bookings"`
	TotalCount int64     `json:"total_count"`
	Limit      int       `json:"limit"`
	Offset     int       `json:"offset"`
	HasMore    bool      `json:"has_more"`
}

// BookingResponse is a booking with its hold countdown and payment
type BookingResponse struct {
	Booking
	// SecondsRemaining counts down the hold, only present while RESERVED
	SecondsRemaining *int64   `json:"seconds_remaining,omitempty"`
	Payment          *Payment `json:"payment,omitempty"`
}

// NewBookingResponse computes the countdown against now
func NewBookingResponse(booking *Booking, payment *Payment, now time.Time) *BookingResponse {
	resp := &BookingResponse{Booking: *booking, Payment: payment}
	if deadline, ok := booking.HoldDeadline(); ok {
		remaining := int64(deadline.Sub(now).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		resp.SecondsRemaining = &remaining
	}
	return resp
}

// HoldPolicyResponse exposes the server hold duration so client countdowns match it
type HoldPolicyResponse struct {
	HoldDurationSeconds int64     `json:"hold_duration_seconds"`
	HoldDuration        string    `json:"hold_duration"`
	ServerTime          time.Time `json:"server_time"`

	// ActiveHolds lists the caller's RESERVED bookings, only for authenticated callers
	ActiveHolds []*BookingResponse `json:"active_holds,omitempty"`
}

type MaintenanceResponse struct {
	Operation string `json:"operation"`
	Count     int64  `json:"count"`
}
