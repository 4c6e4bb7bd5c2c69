package bookings

import (
	"fmt"
	"time"
)

// DefaultHoldDuration is how long a RESERVED booking keeps its stall before payment evidence arrives
const DefaultHoldDuration = 30 * time.Minute

// HoldPolicy owns the clock and the hold duration. Every deadline, including the one
// exposed to clients for countdowns, is derived from the same policy value.
type HoldPolicy struct {
	Duration time.Duration
	Now      func() time.Time
}

// NewHoldPolicy returns a policy on the wall clock, falling back to DefaultHoldDuration
func NewHoldPolicy(duration time.Duration) HoldPolicy {
	if duration <= 0 {
		duration = DefaultHoldDuration
	}
	return HoldPolicy{Duration: duration, Now: time.Now}
}

// CurrentTime returns the policy clock in UTC
func (p HoldPolicy) CurrentTime() time.Time {
	if p.Now == nil {
		return time.Now().UTC()
	}
	return p.Now().UTC()
}

// ExpiresAt returns the hold deadline of a booking reserved at reservedAt
func (p HoldPolicy) ExpiresAt(reservedAt time.Time) time.Time {
	return reservedAt.Add(p.Duration)
}

// IsLapsed reports whether a hold ending at expiresAt has passed at now
func (p HoldPolicy) IsLapsed(expiresAt, now time.Time) bool {
	return expiresAt.Before(now)
}

// FormatBookingRef renders the human-readable booking reference. The sequence is
// padded to four digits and grows past that when needed.
func FormatBookingRef(year int, seq int64) string {
	return fmt.Sprintf("BK-%d-%04d", year, seq)
}
