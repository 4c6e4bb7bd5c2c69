package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stallbook/internal/stalls"
	"stallbook/pkg/logger"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultSweepBatchSize = 100

var tracer = otel.Tracer("stallbook/internal/bookings")

// StallCache is the stall read projection invalidated after a stall changes status
type StallCache interface {
	Invalidate(ctx context.Context) error
}

type Service interface {
	// Reservation
	Reserve(ctx context.Context, stallID, userID uuid.UUID) (*Booking, error)

	// Payment intake
	AttachPayment(ctx context.Context, bookingID uuid.UUID, evidenceRef string) (*Booking, error)

	// Admin decisions
	Approve(ctx context.Context, bookingID, approverID uuid.UUID) (*Booking, error)
	Reject(ctx context.Context, bookingID uuid.UUID, reason string, approverID uuid.UUID) (*Booking, error)
	DeleteBooking(ctx context.Context, bookingID uuid.UUID) error

	// Expiry
	Sweep(ctx context.Context) (int, error)
	ForceReturn(ctx context.Context) (int64, error)

	// Reads
	GetBooking(ctx context.Context, bookingID uuid.UUID) (*Booking, error)
	GetBookingByRef(ctx context.Context, ref string) (*Booking, error)
	GetPayment(ctx context.Context, bookingID uuid.UUID) (*Payment, error)
	ListBookings(ctx context.Context, query BookingListQuery) (*BookingListResponse, error)
	Policy() HoldPolicy

	SetStallCache(cache StallCache)
}

// ServiceOption tunes a service at construction
type ServiceOption func(*service)

// WithSweepBatchSize bounds how many expired holds one sweep pass loads at a time
func WithSweepBatchSize(n int) ServiceOption {
	return func(s *service) {
		if n > 0 {
			s.sweepBatchSize = n
		}
	}
}

// WithInlineSweep toggles the freshness sweep run before every entry point
func WithInlineSweep(enabled bool) ServiceOption {
	return func(s *service) {
		s.inlineSweep = enabled
	}
}

type service struct {
	repo           Repository
	policy         HoldPolicy
	publisher      EventPublisher
	stallCache     StallCache
	sweepBatchSize int
	inlineSweep    bool
}

func NewService(repo Repository, policy HoldPolicy, publisher EventPublisher, opts ...ServiceOption) Service {
	if policy.Duration <= 0 {
		policy.Duration = DefaultHoldDuration
	}
	s := &service{
		repo:           repo,
		policy:         policy,
		publisher:      publisher,
		sweepBatchSize: defaultSweepBatchSize,
		inlineSweep:    true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetStallCache injects the stall cache (used to avoid circular dependencies)
func (s *service) SetStallCache(cache StallCache) {
	s.stallCache = cache
}

func (s *service) Policy() HoldPolicy {
	return s.policy
}

// Reserve claims the stall and inserts a RESERVED booking in one transaction.
// The stall claim is the only point of mutual exclusion: the losing callers of a
// race see zero matched rows and get ErrStallNotAvailable without retrying.
func (s *service) Reserve(ctx context.Context, stallID, userID uuid.UUID) (*Booking, error) {
	ctx, span := tracer.Start(ctx, "bookings.Reserve", trace.WithAttributes(
		attribute.String("stall.id", stallID.String()),
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	s.freshen(ctx)

	now := s.policy.CurrentTime()
	booking := &Booking{
		ID:         uuid.New(),
		StallID:    stallID,
		UserID:     userID,
		Status:     StatusReserved,
		ReservedAt: now,
		ExpiresAt:  s.policy.ExpiresAt(now),
	}

	err := s.repo.Transaction(ctx, func(tx Repository) error {
		claimed, err := tx.CompareAndSetStall(ctx, StallUpdate{
			StallID: stallID,
			From:    stalls.StatusAvailable,
			To:      stalls.StatusReserved,
			Holder:  &booking.ID,
		})
		if err != nil {
			return err
		}
		if !claimed {
			// Zero rows either means someone else holds it or it does not exist
			if _, err := tx.GetStall(ctx, stallID); err != nil {
				return err
			}
			return ErrStallNotAvailable
		}

		seq, err := tx.NextSequence(ctx, now.Year())
		if err != nil {
			return err
		}
		booking.Ref = FormatBookingRef(now.Year(), seq)

		if err := tx.CreateBooking(ctx, booking); err != nil {
			return fmt.Errorf("failed to create booking: %w", err)
		}
		return nil
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("booking.ref", booking.Ref))
	logger.GetDefault().LogBookingReserved(ctx, booking.Ref, stallID.String(), userID.String(), booking.ExpiresAt)

	s.stallChanged(ctx)
	s.publish(ctx, newBookingEvent(EventBookingReserved, booking, now))
	return booking, nil
}

// AttachPayment moves a RESERVED booking to AWAITING_APPROVAL and records a PENDING payment
func (s *service) AttachPayment(ctx context.Context, bookingID uuid.UUID, evidenceRef string) (*Booking, error) {
	ctx, span := tracer.Start(ctx, "bookings.AttachPayment", trace.WithAttributes(
		attribute.String("booking.id", bookingID.String()),
	))
	defer span.End()

	if evidenceRef == "" {
		err := errors.New("payment evidence is required")
		recordError(span, err)
		return nil, err
	}

	s.freshen(ctx)

	now := s.policy.CurrentTime()
	var booking *Booking

	err := s.repo.Transaction(ctx, func(tx Repository) error {
		var err error
		booking, err = tx.GetBookingByID(ctx, bookingID)
		if err != nil {
			return err
		}

		if _, err := booking.Status.Next(EventAttachPayment); err != nil {
			return ErrBookingAlreadyProcessed
		}
		// A lapsed hold the sweeper has not reached yet is treated as already expired
		if s.policy.IsLapsed(booking.ExpiresAt, now) {
			return ErrBookingAlreadyProcessed
		}

		stall, err := tx.GetStall(ctx, booking.StallID)
		if err != nil {
			return err
		}

		changes := BookingChanges{
			EvidenceRef:       &evidenceRef,
			PaymentUploadedAt: &now,
		}
		moved, err := tx.TransitionBooking(ctx, booking.ID, StatusReserved, StatusAwaitingApproval, changes)
		if err != nil {
			return err
		}
		if !moved {
			return ErrBookingAlreadyProcessed
		}

		payment := &Payment{
			BookingID:   booking.ID,
			EvidenceRef: evidenceRef,
			Amount:      stall.Price,
			Currency:    "USD",
			Status:      PaymentStatusPending,
			UploadedAt:  &now,
		}
		if err := tx.CreatePayment(ctx, payment); err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}

		booking.Status = StatusAwaitingApproval
		changes.Apply(booking)
		return nil
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	logger.GetDefault().LogPaymentSubmitted(ctx, booking.Ref, evidenceRef)
	s.publish(ctx, newBookingEvent(EventBookingPaymentSubmitted, booking, now))
	return booking, nil
}

// Approve confirms an AWAITING_APPROVAL booking, its stall and its payment in one commit
func (s *service) Approve(ctx context.Context, bookingID, approverID uuid.UUID) (*Booking, error) {
	ctx, span := tracer.Start(ctx, "bookings.Approve", trace.WithAttributes(
		attribute.String("booking.id", bookingID.String()),
		attribute.String("approver.id", approverID.String()),
	))
	defer span.End()

	s.freshen(ctx)

	now := s.policy.CurrentTime()
	var booking *Booking

	err := s.repo.Transaction(ctx, func(tx Repository) error {
		var err error
		booking, err = tx.GetBookingByID(ctx, bookingID)
		if err != nil {
			return err
		}
		if _, err := booking.Status.Next(EventApprove); err != nil {
			return fmt.Errorf("%w: booking is %s", ErrInvalidState, booking.Status)
		}

		changes := BookingChanges{ApprovedBy: &approverID, ApprovedAt: &now}
		moved, err := tx.TransitionBooking(ctx, booking.ID, StatusAwaitingApproval, StatusConfirmed, changes)
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("%w: booking changed concurrently", ErrInvalidState)
		}

		confirmed, err := tx.CompareAndSetStall(ctx, StallUpdate{
			StallID: booking.StallID,
			From:    stalls.StatusReserved,
			To:      stalls.StatusConfirmed,
			Owner:   &booking.ID,
			Holder:  &booking.ID,
		})
		if err != nil {
			return err
		}
		if !confirmed {
			return fmt.Errorf("%w: stall %s", ErrStaleStall, booking.StallID)
		}

		resolved, err := tx.ResolvePayment(ctx, booking.ID, PaymentStatusApproved, PaymentChanges{
			VerifiedAt: &now,
			VerifiedBy: &approverID,
		})
		if err != nil {
			return err
		}
		if !resolved {
			return fmt.Errorf("%w: no pending payment for booking %s", ErrPaymentNotFound, booking.Ref)
		}

		booking.Status = StatusConfirmed
		changes.Apply(booking)
		return nil
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	logger.GetDefault().LogBookingApproved(ctx, booking.Ref, approverID.String())

	s.stallChanged(ctx)
	event := newBookingEvent(EventBookingConfirmed, booking, now)
	event.ActorID = &approverID
	s.publish(ctx, event)
	return booking, nil
}

// Reject cancels any non-terminal booking, frees its stall and rejects its payment.
// Rejecting an already cancelled booking returns it unchanged.
func (s *service) Reject(ctx context.Context, bookingID uuid.UUID, reason string, approverID uuid.UUID) (*Booking, error) {
	ctx, span := tracer.Start(ctx, "bookings.Reject", trace.WithAttributes(
		attribute.String("booking.id", bookingID.String()),
		attribute.String("approver.id", approverID.String()),
	))
	defer span.End()

	s.freshen(ctx)

	now := s.policy.CurrentTime()
	var booking *Booking
	alreadyCancelled := false

	err := s.repo.Transaction(ctx, func(tx Repository) error {
		var err error
		booking, err = tx.GetBookingByID(ctx, bookingID)
		if err != nil {
			return err
		}
		if booking.Status == StatusCancelled {
			alreadyCancelled = true
			return nil
		}
		if _, err := booking.Status.Next(EventReject); err != nil {
			return fmt.Errorf("%w: booking is %s", ErrInvalidState, booking.Status)
		}

		from := booking.Status
		changes := BookingChanges{
			RejectedBy:     &approverID,
			RejectedAt:     &now,
			RejectedReason: &reason,
		}
		moved, err := tx.TransitionBooking(ctx, booking.ID, from, StatusCancelled, changes)
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("%w: booking changed concurrently", ErrInvalidState)
		}

		released, err := tx.CompareAndSetStall(ctx, StallUpdate{
			StallID: booking.StallID,
			From:    stalls.StatusReserved,
			To:      stalls.StatusAvailable,
			Owner:   &booking.ID,
		})
		if err != nil {
			return err
		}
		if !released {
			return fmt.Errorf("%w: stall %s", ErrStaleStall, booking.StallID)
		}

		paymentChanges := PaymentChanges{
			VerifiedAt:     &now,
			VerifiedBy:     &approverID,
			RejectedReason: &reason,
		}
		resolved, err := tx.ResolvePayment(ctx, booking.ID, PaymentStatusRejected, paymentChanges)
		if err != nil {
			return err
		}
		if !resolved {
			// A booking rejected during its hold has no evidence yet, the verdict is still recorded
			payment := &Payment{
				BookingID: booking.ID,
				Currency:  "USD",
				Status:    PaymentStatusRejected,
			}
			paymentChanges.Apply(payment)
			if err := tx.CreatePayment(ctx, payment); err != nil {
				return fmt.Errorf("failed to record rejected payment: %w", err)
			}
		}

		booking.Status = StatusCancelled
		changes.Apply(booking)
		return nil
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	if alreadyCancelled {
		return booking, nil
	}

	logger.GetDefault().LogBookingRejected(ctx, booking.Ref, approverID.String(), reason)

	s.stallChanged(ctx)
	event := newBookingEvent(EventBookingCancelled, booking, now)
	event.ActorID = &approverID
	event.Reason = reason
	s.publish(ctx, event)
	return booking, nil
}

// DeleteBooking removes a booking and its payments. A booking that still occupies
// its stall gives the stall back in the same transaction.
func (s *service) DeleteBooking(ctx context.Context, bookingID uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "bookings.DeleteBooking", trace.WithAttributes(
		attribute.String("booking.id", bookingID.String()),
	))
	defer span.End()

	now := s.policy.CurrentTime()
	var booking *Booking
	stallReleased := false

	err := s.repo.Transaction(ctx, func(tx Repository) error {
		var err error
		booking, err = tx.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}

		if booking.IsActive() {
			from := stalls.StatusReserved
			if booking.Status == StatusConfirmed {
				from = stalls.StatusConfirmed
			}
			stallReleased, err = tx.CompareAndSetStall(ctx, StallUpdate{
				StallID: booking.StallID,
				From:    from,
				To:      stalls.StatusAvailable,
				Owner:   &booking.ID,
			})
			if err != nil {
				return err
			}
			if !stallReleased {
				logger.GetDefault().WarnContext(ctx, "stall not held by deleted booking",
					"booking_ref", booking.Ref,
					"stall_id", booking.StallID.String(),
				)
			}
		}

		if err := tx.DeletePayments(ctx, booking.ID); err != nil {
			return fmt.Errorf("failed to delete payments: %w", err)
		}
		return tx.DeleteBooking(ctx, booking.ID)
	})
	if err != nil {
		recordError(span, err)
		return err
	}

	if stallReleased {
		s.stallChanged(ctx)
	}
	s.publish(ctx, newBookingEvent(EventBookingDeleted, booking, now))
	return nil
}

// Sweep expires every RESERVED booking whose deadline has passed and frees its stall.
// Each booking is handled in its own transaction, a booking already moved by a
// concurrent writer is skipped.
func (s *service) Sweep(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "bookings.Sweep")
	defer span.End()

	now := s.policy.CurrentTime()
	var expired []*Booking
	// Expirations commit one by one, announce them even when a later one fails
	defer func() {
		span.SetAttributes(attribute.Int("sweep.reclaimed", len(expired)))
		s.announceExpired(ctx, expired, now)
	}()

	for {
		holds, err := s.repo.FindExpiredHolds(ctx, now, s.sweepBatchSize)
		if err != nil {
			recordError(span, err)
			return len(expired), err
		}
		if len(holds) == 0 {
			break
		}

		progressed := 0
		for i := range holds {
			hold := holds[i]
			ok, err := s.expire(ctx, &hold, now)
			if err != nil {
				recordError(span, err)
				return len(expired), err
			}
			if ok {
				progressed++
				expired = append(expired, &hold)
			}
		}

		// Every hold in this batch was taken by a concurrent writer, the next read would repeat it
		if len(holds) < s.sweepBatchSize || progressed == 0 {
			break
		}
	}

	return len(expired), nil
}

func (s *service) announceExpired(ctx context.Context, expired []*Booking, now time.Time) {
	if len(expired) == 0 {
		return
	}
	logger.GetDefault().LogSweep(ctx, len(expired))
	s.stallChanged(ctx)
	for _, booking := range expired {
		logger.GetDefault().LogBookingExpired(ctx, booking.Ref, booking.StallID.String())
		s.publish(ctx, newBookingEvent(EventBookingExpired, booking, now))
	}
}

func (s *service) expire(ctx context.Context, booking *Booking, now time.Time) (bool, error) {
	expired := false
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		changes := BookingChanges{ExpiredAt: &now}
		moved, err := tx.TransitionBooking(ctx, booking.ID, StatusReserved, StatusExpired, changes)
		if err != nil {
			return err
		}
		if !moved {
			return nil
		}

		released, err := tx.CompareAndSetStall(ctx, StallUpdate{
			StallID: booking.StallID,
			From:    stalls.StatusReserved,
			To:      stalls.StatusAvailable,
			Owner:   &booking.ID,
		})
		if err != nil {
			return err
		}
		if !released {
			logger.GetDefault().WarnContext(ctx, "expired booking did not hold its stall",
				"booking_ref", booking.Ref,
				"stall_id", booking.StallID.String(),
			)
		}

		booking.Status = StatusExpired
		changes.Apply(booking)
		expired = true
		return nil
	})
	return expired, err
}

// ForceReturn frees every CONFIRMED stall and closes the leases of the bookings that held them
func (s *service) ForceReturn(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "bookings.ForceReturn")
	defer span.End()

	now := s.policy.CurrentTime()
	var returned int64

	err := s.repo.Transaction(ctx, func(tx Repository) error {
		released, err := tx.ReleaseConfirmedStalls(ctx)
		if err != nil {
			return err
		}
		returned = int64(len(released))

		// Close only the leases of the released stalls
		holders := make([]uuid.UUID, 0, len(released))
		for _, stall := range released {
			if stall.ActiveBookingID != nil {
				holders = append(holders, *stall.ActiveBookingID)
			}
		}
		_, err = tx.MarkBookingsReturned(ctx, holders, now)
		return err
	})
	if err != nil {
		recordError(span, err)
		return 0, err
	}

	span.SetAttributes(attribute.Int64("stalls.returned", returned))
	logger.GetDefault().LogStallsReturned(ctx, returned)

	if returned > 0 {
		s.stallChanged(ctx)
	}
	s.publish(ctx, LifecycleEvent{
		ID:         uuid.New(),
		Type:       EventStallsReturned,
		Count:      returned,
		OccurredAt: now,
	})
	return returned, nil
}

func (s *service) GetBooking(ctx context.Context, bookingID uuid.UUID) (*Booking, error) {
	s.freshen(ctx)
	return s.repo.GetBookingByID(ctx, bookingID)
}

func (s *service) GetBookingByRef(ctx context.Context, ref string) (*Booking, error) {
	s.freshen(ctx)
	return s.repo.GetBookingByRef(ctx, ref)
}

func (s *service) GetPayment(ctx context.Context, bookingID uuid.UUID) (*Payment, error) {
	return s.repo.GetPaymentByBookingID(ctx, bookingID)
}

func (s *service) ListBookings(ctx context.Context, query BookingListQuery) (*BookingListResponse, error) {
	if query.Status != "" && !Status(query.Status).IsValid() {
		return nil, fmt.Errorf("%w: unknown status %s", ErrInvalidQuery, query.Status)
	}

	s.freshen(ctx)

	if query.StallID != "" {
		if _, err := uuid.Parse(query.StallID); err != nil {
			return nil, fmt.Errorf("%w: stall_id %s", ErrInvalidQuery, query.StallID)
		}
	}

	query.Normalize()
	bookings, total, err := s.repo.ListBookings(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}

	return &BookingListResponse{
		Bookings:   bookings,
		TotalCount: total,
		Limit:      query.Limit,
		Offset:     query.Offset,
		HasMore:    int64(query.Offset+len(bookings)) < total,
	}, nil
}

// freshen runs the inline sweep, failures are logged and never block the caller
func (s *service) freshen(ctx context.Context) {
	if !s.inlineSweep {
		return
	}
	if _, err := s.Sweep(ctx); err != nil {
		logger.GetDefault().ErrorWithContext(ctx, "inline sweep failed", err, nil)
	}
}

func (s *service) stallChanged(ctx context.Context) {
	if s.stallCache == nil {
		return
	}
	if err := s.stallCache.Invalidate(ctx); err != nil {
		logger.GetDefault().ErrorWithContext(ctx, "stall cache invalidation failed", err, nil)
	}
}

func (s *service) publish(ctx context.Context, event LifecycleEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, string(event.Type), event); err != nil {
		logger.GetDefault().ErrorWithContext(ctx, "failed to publish booking event", err, map[string]interface{}{
			"event_type":  string(event.Type),
			"booking_ref": event.BookingRef,
		})
	}
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
