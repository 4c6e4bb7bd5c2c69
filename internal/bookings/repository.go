package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stallbook/internal/stalls"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StallUpdate is a guarded stall status change
type StallUpdate struct {
	StallID uuid.UUID
	From    stalls.Status
	To      stalls.Status
	// Owner restricts the update to a stall whose active booking is Owner
	Owner *uuid.UUID
	// Holder is written as the stall's active booking, nil clears it
	Holder *uuid.UUID
}

// Repository is the persistence surface of the booking core. Every mutating method
// is a conditional write reporting whether it matched, never a read-then-write.
type Repository interface {
	// Transaction runs fn against a repository bound to one store transaction.
	// A non-nil error from fn rolls back every write made through tx.
	Transaction(ctx context.Context, fn func(tx Repository) error) error

	// Stall operations
	GetStall(ctx context.Context, stallID uuid.UUID) (*stalls.Stall, error)
	CompareAndSetStall(ctx context.Context, update StallUpdate) (bool, error)
	// ReleaseConfirmedStalls frees every CONFIRMED stall and returns them as they were
	// before the release, so callers know which bookings held them
	ReleaseConfirmedStalls(ctx context.Context) ([]stalls.Stall, error)

	// Sequence operations
	NextSequence(ctx context.Context, year int) (int64, error)

	// Booking operations
	CreateBooking(ctx context.Context, booking *Booking) error
	GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	GetBookingByRef(ctx context.Context, ref string) (*Booking, error)
	// GetBookingForUpdate reads a booking and locks it until the transaction ends
	GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error)
	TransitionBooking(ctx context.Context, id uuid.UUID, from, to Status, changes BookingChanges) (bool, error)
	MarkBookingsReturned(ctx context.Context, ids []uuid.UUID, returnedAt time.Time) (int64, error)
	FindExpiredHolds(ctx context.Context, now time.Time, limit int) ([]Booking, error)
	ListBookings(ctx context.Context, query BookingListQuery) ([]Booking, int64, error)
	DeleteBooking(ctx context.Context, id uuid.UUID) error

	// Payment operations
	CreatePayment(ctx context.Context, payment *Payment) error
	GetPaymentByBookingID(ctx context.Context, bookingID uuid.UUID) (*Payment, error)
	ResolvePayment(ctx context.Context, bookingID uuid.UUID, to PaymentStatus, changes PaymentChanges) (bool, error)
	DeletePayments(ctx context.Context, bookingID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&repository{db: tx})
	})
}

func (r *repository) GetStall(ctx context.Context, stallID uuid.UUID) (*stalls.Stall, error) {
	var stall stalls.Stall
	err := r.db.WithContext(ctx).Where("id = ?", stallID).First(&stall).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, stalls.ErrStallNotFound
		}
		return nil, fmt.Errorf("failed to get stall: %w", err)
	}
	return &stall, nil
}

// CompareAndSetStall is a single UPDATE ... WHERE status = from, the row count is the outcome
func (r *repository) CompareAndSetStall(ctx context.Context, update StallUpdate) (bool, error) {
	query := r.db.WithContext(ctx).
		Model(&stalls.Stall{}).
		Where("id = ? AND status = ?", update.StallID, update.From)
	if update.Owner != nil {
		query = query.Where("active_booking_id = ?", *update.Owner)
	}

	var holder interface{}
	if update.Holder != nil {
		holder = *update.Holder
	}

	result := query.Updates(map[string]interface{}{
		"status":            update.To,
		"active_booking_id": holder,
		"updated_at":        time.Now().UTC(),
	})
	if result.Error != nil {
		return false, fmt.Errorf("failed to update stall status: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) ReleaseConfirmedStalls(ctx context.Context) ([]stalls.Stall, error) {
	var confirmed []stalls.Stall
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("status = ?", stalls.StatusConfirmed).
		Find(&confirmed).Error
	if err != nil {
		return nil, fmt.Errorf("failed to lock confirmed stalls: %w", err)
	}
	if len(confirmed) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(confirmed))
	for _, stall := range confirmed {
		ids = append(ids, stall.ID)
	}

	result := r.db.WithContext(ctx).
		Model(&stalls.Stall{}).
		Where("id IN ? AND status = ?", ids, stalls.StatusConfirmed).
		Updates(map[string]interface{}{
			"status":            stalls.StatusAvailable,
			"active_booking_id": nil,
			"updated_at":        time.Now().UTC(),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to release confirmed stalls: %w", result.Error)
	}
	return confirmed, nil
}

// NextSequence increments the year's counter and reads it back in one statement.
// Inside a transaction the increment rolls back with it.
func (r *repository) NextSequence(ctx context.Context, year int) (int64, error) {
	var value int64
	err := r.db.WithContext(ctx).Raw(`
		INSERT INTO booking_sequences (year, value) VALUES (?, 1)
		ON CONFLICT (year) DO UPDATE SET value = booking_sequences.value + 1
		RETURNING value
	`, year).Scan(&value).Error
	if err != nil {
		return 0, fmt.Errorf("failed to increment booking sequence: %w", err)
	}
	return value, nil
}

func (r *repository) CreateBooking(ctx context.Context, booking *Booking) error {
	if booking.ID == uuid.Nil {
		booking.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(booking).Error
}

func (r *repository) GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	var booking Booking
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&booking).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &booking, nil
}

func (r *repository) GetBookingByRef(ctx context.Context, ref string) (*Booking, error) {
	var booking Booking
	err := r.db.WithContext(ctx).Where("booking_ref = ?", ref).First(&booking).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &booking, nil
}

func (r *repository) GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error) {
	var booking Booking
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&booking).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to lock booking: %w", err)
	}
	return &booking, nil
}

func (r *repository) TransitionBooking(ctx context.Context, id uuid.UUID, from, to Status, changes BookingChanges) (bool, error) {
	if !CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	updates := changes.Columns()
	updates["status"] = to
	updates["updated_at"] = time.Now().UTC()

	result := r.db.WithContext(ctx).
		Model(&Booking{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to update booking status: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) MarkBookingsReturned(ctx context.Context, ids []uuid.UUID, returnedAt time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Model(&Booking{}).
		Where("id IN ? AND status = ? AND returned_at IS NULL", ids, StatusConfirmed).
		Updates(map[string]interface{}{
			"returned_at": returnedAt,
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark bookings returned: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *repository) FindExpiredHolds(ctx context.Context, now time.Time, limit int) ([]Booking, error) {
	var bookings []Booking
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", StatusReserved, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&bookings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find expired holds: %w", err)
	}
	return bookings, nil
}

func (r *repository) ListBookings(ctx context.Context, query BookingListQuery) ([]Booking, int64, error) {
	var bookings []Booking
	var totalCount int64

	query.Normalize()

	baseQuery := r.db.WithContext(ctx).Model(&Booking{})
	if query.UserID != nil {
		baseQuery = baseQuery.Where("user_id = ?", *query.UserID)
	}
	if query.StallID != "" {
		baseQuery = baseQuery.Where("stall_id = ?", query.StallID)
	}
	if query.Status != "" {
		baseQuery = baseQuery.Where("status = ?", query.Status)
	}

	if err := baseQuery.Count(&totalCount).Error; err != nil {
		return nil, 0, err
	}

	err := baseQuery.
		Order("created_at DESC").
		Offset(query.Offset).
		Limit(query.Limit).
		Find(&bookings).Error

	return bookings, totalCount, err
}

func (r *repository) DeleteBooking(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&Booking{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete booking: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrBookingNotFound
	}
	return nil
}

func (r *repository) CreatePayment(ctx context.Context, payment *Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) GetPaymentByBookingID(ctx context.Context, bookingID uuid.UUID) (*Payment, error) {
	var payment Payment
	err := r.db.WithContext(ctx).Where("booking_id = ?", bookingID).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &payment, nil
}

// ResolvePayment moves a PENDING payment to its verdict
func (r *repository) ResolvePayment(ctx context.Context, bookingID uuid.UUID, to PaymentStatus, changes PaymentChanges) (bool, error) {
	updates := changes.Columns()
	updates["status"] = to
	updates["updated_at"] = time.Now().UTC()

	result := r.db.WithContext(ctx).
		Model(&Payment{}).
		Where("booking_id = ? AND status = ?", bookingID, PaymentStatusPending).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to update payment status: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) DeletePayments(ctx context.Context, bookingID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("booking_id = ?", bookingID).Delete(&Payment{}).Error
}
