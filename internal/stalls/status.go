package stalls

// Status is the projection of the active booking held against a stall.
type Status string

const (
	StatusAvailable Status = "AVAILABLE"
	StatusReserved  Status = "RESERVED"
	StatusConfirmed Status = "CONFIRMED"
)

// IsValid checks if the stall status is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusAvailable, StatusReserved, StatusConfirmed:
		return true
	}
	return false
}

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// IsClaimable reports whether a reservation may claim a stall in this status
func (s Status) IsClaimable() bool {
	return s == StatusAvailable
}
