package bookings

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// LifecycleEventType names a committed booking state change
type LifecycleEventType string

const (
	EventBookingReserved         LifecycleEventType = "booking.reserved"
	EventBookingPaymentSubmitted LifecycleEventType = "booking.payment_submitted"
	EventBookingConfirmed        LifecycleEventType = "booking.confirmed"
	EventBookingCancelled        LifecycleEventType = "booking.cancelled"
	EventBookingExpired          LifecycleEventType = "booking.expired"
	EventBookingDeleted          LifecycleEventType = "booking.deleted"
	EventStallsReturned          LifecycleEventType = "stalls.returned"
)

// LifecycleEvent is published after the transaction that caused it commits
type LifecycleEvent struct {
	ID         uuid.UUID          `json:"id"`
	Type       LifecycleEventType `json:"type"`
	BookingID  *uuid.UUID         `json:"booking_id,omitempty"`
	BookingRef string             `json:"booking_ref,omitempty"`
	StallID    *uuid.UUID         `json:"stall_id,omitempty"`
	UserID     *uuid.UUID         `json:"user_id,omitempty"`
	Status     Status             `json:"status,omitempty"`
	ActorID    *uuid.UUID         `json:"actor_id,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	Count      int64              `json:"count,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// EventPublisher delivers lifecycle events keyed for partitioning or routing
type EventPublisher interface {
	Publish(ctx context.Context, key string, payload interface{}) error
}

func newBookingEvent(t LifecycleEventType, booking *Booking, at time.Time) LifecycleEvent {
	return LifecycleEvent{
		ID:         uuid.New(),
		Type:       t,
		BookingID:  ptr(booking.ID),
		BookingRef: booking.Ref,
		StallID:    ptr(booking.StallID),
		UserID:     ptr(booking.UserID),
		Status:     booking.Status,
		OccurredAt: at,
	}
}
