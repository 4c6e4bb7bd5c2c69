package bookings

import (
	"time"

	"github.com/google/uuid"
)

// Booking is a claim by one user against one stall
type Booking struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Ref     string    `gorm:"column:booking_ref;type:varchar(32);uniqueIndex;not null" json:"booking_ref"`
	StallID uuid.UUID `gorm:"type:uuid;index;not null" json:"stall_id"`
	UserID  uuid.UUID `gorm:"type:uuid;index;not null" json:"user_id"`
	Status  Status    `gorm:"type:varchar(20);index;check:status IN ('RESERVED', 'AWAITING_APPROVAL', 'CONFIRMED', 'EXPIRED', 'CANCELLED');default:'RESERVED'" json:"status"`

	ReservedAt time.Time `gorm:"not null" json:"reserved_at"`
	// ExpiresAt is only consulted while Status is RESERVED
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`

	EvidenceRef       *string    `gorm:"type:text" json:"evidence_ref,omitempty"`
	PaymentUploadedAt *time.Time `json:"payment_uploaded_at,omitempty"`

	ApprovedBy *uuid.UUID `gorm:"type:uuid" json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`

	RejectedBy     *uuid.UUID `gorm:"type:uuid" json:"rejected_by,omitempty"`
	RejectedAt     *time.Time `json:"rejected_at,omitempty"`
	RejectedReason *string    `gorm:"type:text" json:"rejected_reason,omitempty"`

	ExpiredAt  *time.Time `json:"expired_at,omitempty"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName sets the table name for Booking
func (Booking) TableName() string {
	return "bookings"
}

// HoldDeadline returns the hold expiry while the booking is still on hold
func (b *Booking) HoldDeadline() (time.Time, bool) {
	if b.Status != StatusReserved {
		return time.Time{}, false
	}
	return b.ExpiresAt, true
}

// IsActive reports whether the booking currently occupies its stall
func (b *Booking) IsActive() bool {
	if b.Status.HoldsStall() {
		return true
	}
	return b.Status == StatusConfirmed && b.ReturnedAt == nil
}

// Payment records the evidence submitted against a booking
type Payment struct {
	ID             uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	BookingID      uuid.UUID     `gorm:"type:uuid;uniqueIndex;not null" json:"booking_id"`
	EvidenceRef    string        `gorm:"type:text" json:"evidence_ref"`
	Amount         float64       `gorm:"not null" json:"amount"`
	Currency       string        `gorm:"type:varchar(3);default:'USD'" json:"currency"`
	Status         PaymentStatus `gorm:"type:varchar(20);check:status IN ('PENDING', 'APPROVED', 'REJECTED');default:'PENDING'" json:"status"`
	UploadedAt     *time.Time    `json:"uploaded_at,omitempty"`
	VerifiedAt     *time.Time    `json:"verified_at,omitempty"`
	VerifiedBy     *uuid.UUID    `gorm:"type:uuid" json:"verified_by,omitempty"`
	RejectedReason *string       `gorm:"type:text" json:"rejected_reason,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// TableName sets the table name for Payment
func (Payment) TableName() string {
	return "payments"
}

// SequenceCounter is the per-year counter behind booking references
type SequenceCounter struct {
	Year  int   `gorm:"primaryKey;autoIncrement:false" json:"year"`
	Value int64 `gorm:"not null;default:0" json:"value"`
}

// TableName sets the table name for SequenceCounter
func (SequenceCounter) TableName() string {
	return "booking_sequences"
}

// BookingChanges lists the optional columns written alongside a status transition
type BookingChanges struct {
	EvidenceRef       *string
	PaymentUploadedAt *time.Time
	ApprovedBy        *uuid.UUID
	ApprovedAt        *time.Time
	RejectedBy        *uuid.UUID
	RejectedAt        *time.Time
	RejectedReason    *string
	ExpiredAt         *time.Time
}

// Columns returns the column map for a gorm Updates call
func (c BookingChanges) Columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if c.EvidenceRef != nil {
		cols["evidence_ref"] = *c.EvidenceRef
	}
	if c.PaymentUploadedAt != nil {
		cols["payment_uploaded_at"] = *c.PaymentUploadedAt
	}
	if c.ApprovedBy != nil {
		cols["approved_by"] = *c.ApprovedBy
	}
	if c.ApprovedAt != nil {
		cols["approved_at"] = *c.ApprovedAt
	}
	if c.RejectedBy != nil {
		cols["rejected_by"] = *c.RejectedBy
	}
	if c.RejectedAt != nil {
		cols["rejected_at"] = *c.RejectedAt
	}
	if c.RejectedReason != nil {
		cols["rejected_reason"] = *c.RejectedReason
	}
	if c.ExpiredAt != nil {
		cols["expired_at"] = *c.ExpiredAt
	}
	return cols
}

// Apply copies the set fields onto b
func (c BookingChanges) Apply(b *Booking) {
	if c.EvidenceRef != nil {
		b.EvidenceRef = ptr(*c.EvidenceRef)
	}
	if c.PaymentUploadedAt != nil {
		b.PaymentUploadedAt = ptr(*c.PaymentUploadedAt)
	}
	if c.ApprovedBy != nil {
		b.ApprovedBy = ptr(*c.ApprovedBy)
	}
	if c.ApprovedAt != nil {
		b.ApprovedAt = ptr(*c.ApprovedAt)
	}
	if c.RejectedBy != nil {
		b.RejectedBy = ptr(*c.RejectedBy)
	}
	if c.RejectedAt != nil {
		b.RejectedAt = ptr(*c.RejectedAt)
	}
	if c.RejectedReason != nil {
		b.RejectedReason = ptr(*c.RejectedReason)
	}
	if c.ExpiredAt != nil {
		b.ExpiredAt = ptr(*c.ExpiredAt)
	}
}

// PaymentChanges lists the optional columns written when a payment is resolved
type PaymentChanges struct {
	VerifiedAt     *time.Time
	VerifiedBy     *uuid.UUID
	RejectedReason *string
}

// Columns returns the column map for a gorm Updates call
func (c PaymentChanges) Columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if c.VerifiedAt != nil {
		cols["verified_at"] = *c.VerifiedAt
	}
	if c.VerifiedBy != nil {
		cols["verified_by"] = *c.VerifiedBy
	}
	if c.RejectedReason != nil {
		cols["rejected_reason"] = *c.RejectedReason
	}
	return cols
}

// Apply copies the set fields onto p
func (c PaymentChanges) Apply(p *Payment) {
	if c.VerifiedAt != nil {
		p.VerifiedAt = ptr(*c.VerifiedAt)
	}
	if c.VerifiedBy != nil {
		p.VerifiedBy = ptr(*c.VerifiedBy)
	}
	if c.RejectedReason != nil {
		p.RejectedReason = ptr(*c.RejectedReason)
	}
}

// BookingListQuery filters and paginates booking listings
type BookingListQuery struct {
	UserID  *uuid.UUID `form:"-"`
	StallID string     `form:"stall_id"`
	Status  string     `form:"status"`
	Limit   int        `form:"limit"`
	Offset  int        `form:"offset"`
}

// Normalize applies listing defaults
func (q *BookingListQuery) Normalize() {
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
}

func ptr[T any](v T) *T {
	return &v
}
