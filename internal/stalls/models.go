package stalls

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrStallNotFound = errors.New("stall not found")

// Stall defines a leasable marketplace unit
type Stall struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Code   string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"code"`
	Zone   string    `gorm:"type:varchar(64);index;not null" json:"zone"`
	Size   string    `gorm:"type:varchar(32)" json:"size,omitempty"`
	Price  float64   `gorm:"not null" json:"price"`
	Status Status    `gorm:"type:varchar(20);index;check:status IN ('AVAILABLE', 'RESERVED', 'CONFIRMED');default:'AVAILABLE'" json:"status"`

	// ActiveBookingID is set while Status is RESERVED or CONFIRMED
	ActiveBookingID *uuid.UUID `gorm:"type:uuid;index" json:"active_booking_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName sets the table name for Stall
func (Stall) TableName() string {
	return "stalls"
}

// StallListQuery filters and paginates stall listings
type StallListQuery struct {
	Zone   string `form:"zone"`
	Status string `form:"status"`
	Page   int    `form:"page"`
	Limit  int    `form:"limit"`
}

// Normalize applies listing defaults
func (q *StallListQuery) Normalize() {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
}

// Offset returns the row offset of the requested page
func (q StallListQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}
