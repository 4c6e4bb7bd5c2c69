// Package memstore is an in-process transactional store backing the stall and
// booking repositories when DB_DRIVER=memory. A transaction holds the store lock
// for its whole duration and restores a snapshot when it fails, which gives the
// same all-or-nothing and conditional-write behaviour as the Postgres repositories.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"stallbook/internal/bookings"
	"stallbook/internal/stalls"

	"github.com/google/uuid"
)

var (
	ErrDuplicateKey    = errors.New("memstore: duplicate key")
	ErrActiveBooking   = errors.New("memstore: stall already has an active booking")
	ErrUnknownSequence = errors.New("memstore: invalid sequence year")
)

type state struct {
	stalls    map[uuid.UUID]stalls.Stall
	bookings  map[uuid.UUID]bookings.Booking
	payments  map[uuid.UUID]bookings.Payment // keyed by booking ID
	sequences map[int]int64
}

func newState() *state {
	return &state{
		stalls:    make(map[uuid.UUID]stalls.Stall),
		bookings:  make(map[uuid.UUID]bookings.Booking),
		payments:  make(map[uuid.UUID]bookings.Payment),
		sequences: make(map[int]int64),
	}
}

// clone copies the maps. Stored structs are never mutated in place, so sharing
// their pointer fields between snapshots is safe.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.stalls {
		c.stalls[k] = v
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	return c
}

// Store is safe for concurrent use
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

func New() *Store {
	return &Store{state: newState(), now: time.Now}
}

// Stalls returns the stall repository view of the store
func (s *Store) Stalls() stalls.Repository {
	return &stallRepository{view{store: s}}
}

// Bookings returns the booking repository view of the store
func (s *Store) Bookings() bookings.Repository {
	return &bookingRepository{view{store: s}}
}

// view runs operations either under its own lock or inside an enclosing transaction
type view struct {
	store  *Store
	locked bool
}

func (v view) do(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if v.locked {
		return fn(v.store.state)
	}
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return fn(v.store.state)
}

func (v view) transaction(ctx context.Context, fn func(inner view) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !v.locked {
		v.store.mu.Lock()
		defer v.store.mu.Unlock()
	}

	snapshot := v.store.state.clone()
	if err := fn(view{store: v.store, locked: true}); err != nil {
		v.store.state = snapshot
		return err
	}
	return nil
}

type stallRepository struct {
	view
}

func (r *stallRepository) CreateStall(ctx context.Context, stall *stalls.Stall) error {
	if stall.ID == uuid.Nil {
		stall.ID = uuid.New()
	}
	if stall.Status == "" {
		stall.Status = stalls.StatusAvailable
	}
	return r.do(ctx, func(st *state) error {
		if _, exists := st.stalls[stall.ID]; exists {
			return ErrDuplicateKey
		}
		for _, existing := range st.stalls {
			if existing.Code == stall.Code {
				return ErrDuplicateKey
			}
		}
		now := r.store.now().UTC()
		stall.CreatedAt, stall.UpdatedAt = now, now
		st.stalls[stall.ID] = *stall
		return nil
	})
}

func (r *stallRepository) GetStallByID(ctx context.Context, id uuid.UUID) (*stalls.Stall, error) {
	var stall stalls.Stall
	err := r.do(ctx, func(st *state) error {
		found, ok := st.stalls[id]
		if !ok {
			return stalls.ErrStallNotFound
		}
		stall = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stall, nil
}

func (r *stallRepository) ListStalls(ctx context.Context, query stalls.StallListQuery) ([]stalls.Stall, int64, error) {
	query.Normalize()

	var matched []stalls.Stall
	err := r.do(ctx, func(st *state) error {
		for _, stall := range st.stalls {
			if query.Zone != "" && stall.Zone != query.Zone {
				continue
			}
			if query.Status != "" && string(stall.Status) != query.Status {
				continue
			}
			matched = append(matched, stall)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Zone != matched[j].Zone {
			return matched[i].Zone < matched[j].Zone
		}
		return matched[i].Code < matched[j].Code
	})

	return paginate(matched, query.Offset(), query.Limit), int64(len(matched)), nil
}

type bookingRepository struct {
	view
}

func (r *bookingRepository) Transaction(ctx context.Context, fn func(tx bookings.Repository) error) error {
	return r.transaction(ctx, func(inner view) error {
		return fn(&bookingRepository{inner})
	})
}

func (r *bookingRepository) GetStall(ctx context.Context, stallID uuid.UUID) (*stalls.Stall, error) {
	return (&stallRepository{r.view}).GetStallByID(ctx, stallID)
}

func (r *bookingRepository) CompareAndSetStall(ctx context.Context, update bookings.StallUpdate) (bool, error) {
	matched := false
	err := r.do(ctx, func(st *state) error {
		stall, ok := st.stalls[update.StallID]
		if !ok || stall.Status != update.From {
			return nil
		}
		if update.Owner != nil && (stall.ActiveBookingID == nil || *stall.ActiveBookingID != *update.Owner) {
			return nil
		}

		stall.Status = update.To
		stall.ActiveBookingID = nil
		if update.Holder != nil {
			holder := *update.Holder
			stall.ActiveBookingID = &holder
		}
		stall.UpdatedAt = r.store.now().UTC()
		st.stalls[stall.ID] = stall
		matched = true
		return nil
	})
	return matched, err
}

func (r *bookingRepository) ReleaseConfirmedStalls(ctx context.Context) ([]stalls.Stall, error) {
	var released []stalls.Stall
	err := r.do(ctx, func(st *state) error {
		now := r.store.now().UTC()
		for id, stall := range st.stalls {
			if stall.Status != stalls.StatusConfirmed {
				continue
			}
			released = append(released, stall)
			stall.Status = stalls.StatusAvailable
			stall.ActiveBookingID = nil
			stall.UpdatedAt = now
			st.stalls[id] = stall
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

func (r *bookingRepository) NextSequence(ctx context.Context, year int) (int64, error) {
	if year <= 0 {
		return 0, ErrUnknownSequence
	}
	var value int64
	err := r.do(ctx, func(st *state) error {
		st.sequences[year]++
		value = st.sequences[year]
		return nil
	})
	return value, err
}

func (r *bookingRepository) CreateBooking(ctx context.Context, booking *bookings.Booking) error {
	if booking.ID == uuid.Nil {
		booking.ID = uuid.New()
	}
	return r.do(ctx, func(st *state) error {
		if _, exists := st.bookings[booking.ID]; exists {
			return ErrDuplicateKey
		}
		for _, existing := range st.bookings {
			if existing.Ref == booking.Ref {
				return ErrDuplicateKey
			}
			if existing.StallID == booking.StallID && existing.IsActive() && booking.IsActive() {
				return ErrActiveBooking
			}
		}
		now := r.store.now().UTC()
		booking.CreatedAt, booking.UpdatedAt = now, now
		st.bookings[booking.ID] = *booking
		return nil
	})
}

func (r *bookingRepository) GetBookingByID(ctx context.Context, id uuid.UUID) (*bookings.Booking, error) {
	var booking bookings.Booking
	err := r.do(ctx, func(st *state) error {
		found, ok := st.bookings[id]
		if !ok {
			return bookings.ErrBookingNotFound
		}
		booking = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

func (r *bookingRepository) GetBookingByRef(ctx context.Context, ref string) (*bookings.Booking, error) {
	var booking bookings.Booking
	err := r.do(ctx, func(st *state) error {
		for _, found := range st.bookings {
			if found.Ref == ref {
				booking = found
				return nil
			}
		}
		return bookings.ErrBookingNotFound
	})
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// GetBookingForUpdate is GetBookingByID, the store lock already serializes transactions
func (r *bookingRepository) GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*bookings.Booking, error) {
	return r.GetBookingByID(ctx, id)
}

func (r *bookingRepository) TransitionBooking(ctx context.Context, id uuid.UUID, from, to bookings.Status, changes bookings.BookingChanges) (bool, error) {
	if !bookings.CanTransition(from, to) {
		return false, bookings.ErrInvalidTransition
	}
	matched := false
	err := r.do(ctx, func(st *state) error {
		booking, ok := st.bookings[id]
		if !ok || booking.Status != from {
			return nil
		}
		booking.Status = to
		changes.Apply(&booking)
		booking.UpdatedAt = r.store.now().UTC()
		st.bookings[id] = booking
		matched = true
		return nil
	})
	return matched, err
}

func (r *bookingRepository) MarkBookingsReturned(ctx context.Context, ids []uuid.UUID, returnedAt time.Time) (int64, error) {
	var marked int64
	err := r.do(ctx, func(st *state) error {
		for _, id := range ids {
			booking, ok := st.bookings[id]
			if !ok || booking.Status != bookings.StatusConfirmed || booking.ReturnedAt != nil {
				continue
			}
			at := returnedAt
			booking.ReturnedAt = &at
			booking.UpdatedAt = r.store.now().UTC()
			st.bookings[id] = booking
			marked++
		}
		return nil
	})
	return marked, err
}

func (r *bookingRepository) FindExpiredHolds(ctx context.Context, now time.Time, limit int) ([]bookings.Booking, error) {
	var expired []bookings.Booking
	err := r.do(ctx, func(st *state) error {
		for _, booking := range st.bookings {
			if booking.Status == bookings.StatusReserved && booking.ExpiresAt.Before(now) {
				expired = append(expired, booking)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func (r *bookingRepository) ListBookings(ctx context.Context, query bookings.BookingListQuery) ([]bookings.Booking, int64, error) {
	query.Normalize()

	var matched []bookings.Booking
	err := r.do(ctx, func(st *state) error {
		for _, booking := range st.bookings {
			if query.UserID != nil && booking.UserID != *query.UserID {
				continue
			}
			if query.StallID != "" && booking.StallID.String() != query.StallID {
				continue
			}
			if query.Status != "" && string(booking.Status) != query.Status {
				continue
			}
			matched = append(matched, booking)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].Ref > matched[j].Ref
	})

	return paginate(matched, query.Offset, query.Limit), int64(len(matched)), nil
}

func (r *bookingRepository) DeleteBooking(ctx context.Context, id uuid.UUID) error {
	return r.do(ctx, func(st *state) error {
		if _, ok := st.bookings[id]; !ok {
			return bookings.ErrBookingNotFound
		}
		delete(st.bookings, id)
		return nil
	})
}

func (r *bookingRepository) CreatePayment(ctx context.Context, payment *bookings.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	return r.do(ctx, func(st *state) error {
		if _, exists := st.payments[payment.BookingID]; exists {
			return ErrDuplicateKey
		}
		now := r.store.now().UTC()
		payment.CreatedAt, payment.UpdatedAt = now, now
		st.payments[payment.BookingID] = *payment
		return nil
	})
}

func (r *bookingRepository) GetPaymentByBookingID(ctx context.Context, bookingID uuid.UUID) (*bookings.Payment, error) {
	var payment bookings.Payment
	err := r.do(ctx, func(st *state) error {
		found, ok := st.payments[bookingID]
		if !ok {
			return bookings.ErrPaymentNotFound
		}
		payment = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *bookingRepository) ResolvePayment(ctx context.Context, bookingID uuid.UUID, to bookings.PaymentStatus, changes bookings.PaymentChanges) (bool, error) {
	matched := false
	err := r.do(ctx, func(st *state) error {
		payment, ok := st.payments[bookingID]
		if !ok || payment.Status != bookings.PaymentStatusPending {
			return nil
		}
		payment.Status = to
		changes.Apply(&payment)
		payment.UpdatedAt = r.store.now().UTC()
		st.payments[bookingID] = payment
		matched = true
		return nil
	})
	return matched, err
}

func (r *bookingRepository) DeletePayments(ctx context.Context, bookingID uuid.UUID) error {
	return r.do(ctx, func(st *state) error {
		delete(st.payments, bookingID)
		return nil
	})
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
