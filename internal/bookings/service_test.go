package bookings_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stallbook/internal/bookings"
	"stallbook/internal/shared/database/memstore"
	"stallbook/internal/stalls"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// fakeClock is a settable clock shared by the hold policy of a fixture
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []bookings.LifecycleEvent
}

func (p *recordingPublisher) Publish(_ context.Context, key string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	event := payload.(bookings.LifecycleEvent)
	if key != string(event.Type) {
		return fmt.Errorf("key %q does not match event %q", key, event.Type)
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Types() []bookings.LifecycleEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]bookings.LifecycleEventType, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

type countingCache struct {
	calls atomic.Int64
}

func (c *countingCache) Invalidate(context.Context) error {
	c.calls.Add(1)
	return nil
}

type fixture struct {
	store     *memstore.Store
	clock     *fakeClock
	publisher *recordingPublisher
	cache     *countingCache
	service   bookings.Service
}

func newFixture(t *testing.T, opts ...bookings.ServiceOption) *fixture {
	t.Helper()
	f := &fixture{
		store:     memstore.New(),
		clock:     &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)},
		publisher: &recordingPublisher{},
		cache:     &countingCache{},
	}
	f.service = f.newService(f.store.Bookings(), opts...)
	return f
}

func (f *fixture) policy() bookings.HoldPolicy {
	return bookings.HoldPolicy{Duration: 30 * time.Minute, Now: f.clock.Now}
}

func (f *fixture) newService(repo bookings.Repository, opts ...bookings.ServiceOption) bookings.Service {
	svc := bookings.NewService(repo, f.policy(), f.publisher, opts...)
	svc.SetStallCache(f.cache)
	return svc
}

func (f *fixture) addStall(t *testing.T, code string) uuid.UUID {
	t.Helper()
	stall := &stalls.Stall{Code: code, Zone: "Food Court", Size: "3x3", Price: 1500}
	require.NoError(t, f.store.Stalls().CreateStall(context.Background(), stall))
	return stall.ID
}

func (f *fixture) stall(t *testing.T, id uuid.UUID) *stalls.Stall {
	t.Helper()
	stall, err := f.store.Stalls().GetStallByID(context.Background(), id)
	require.NoError(t, err)
	return stall
}

func (f *fixture) booking(t *testing.T, id uuid.UUID) *bookings.Booking {
	t.Helper()
	booking, err := f.store.Bookings().GetBookingByID(context.Background(), id)
	require.NoError(t, err)
	return booking
}

func (f *fixture) awaitingApproval(t *testing.T, stallID uuid.UUID) *bookings.Booking {
	t.Helper()
	ctx := context.Background()
	booking, err := f.service.Reserve(ctx, stallID, uuid.New())
	require.NoError(t, err)
	booking, err = f.service.AttachPayment(ctx, booking.ID, "uploads/receipt.png")
	require.NoError(t, err)
	return booking
}

// faultyRepo fails payment resolution inside transactions
type faultyRepo struct {
	bookings.Repository
	resolveErr error
}

func (r *faultyRepo) Transaction(ctx context.Context, fn func(tx bookings.Repository) error) error {
	return r.Repository.Transaction(ctx, func(tx bookings.Repository) error {
		return fn(&faultyRepo{Repository: tx, resolveErr: r.resolveErr})
	})
}

func (r *faultyRepo) ResolvePayment(ctx context.Context, bookingID uuid.UUID, to bookings.PaymentStatus, changes bookings.PaymentChanges) (bool, error) {
	if r.resolveErr != nil {
		return false, r.resolveErr
	}
	return r.Repository.ResolvePayment(ctx, bookingID, to, changes)
}

func TestReserve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stallID := f.addStall(t, "FC-001")
	userID := uuid.New()

	booking, err := f.service.Reserve(ctx, stallID, userID)
	require.NoError(t, err)

	assert.Equal(t, "BK-2025-0001", booking.Ref)
	assert.Equal(t, bookings.StatusReserved, booking.Status)
	assert.Equal(t, userID, booking.UserID)
	assert.Equal(t, f.clock.Now(), booking.ReservedAt)
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), booking.ExpiresAt)

	stall := f.stall(t, stallID)
	assert.Equal(t, stalls.StatusReserved, stall.Status)
	require.NotNil(t, stall.ActiveBookingID)
	assert.Equal(t, booking.ID, *stall.ActiveBookingID)

	assert.Equal(t, []bookings.LifecycleEventType{bookings.EventBookingReserved}, f.publisher.Types())
	assert.Equal(t, int64(1), f.cache.calls.Load())
}

func TestReserveUnavailableStall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stallID := f.addStall(t, "FC-001")

	_, err := f.service.Reserve(ctx, stallID, uuid.New())
	require.NoError(t, err)

	_, err = f.service.Reserve(ctx, stallID, uuid.New())
	assert.ErrorIs(t, err, bookings.ErrStallNotAvailable)
	assert.True(t, bookings.IsConflict(err))

	_, err = f.service.Reserve(ctx, uuid.New(), uuid.New())
	assert.ErrorIs(t, err, stalls.ErrStallNotFound)
	assert.True(t, bookings.IsNotFound(err))

	// Failed claims never consume a sequence number
	other, err := f.service.Reserve(ctx, f.addStall(t, "FC-002"), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "BK-2025-0002", other.Ref)
}

func TestConcurrentReserveSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stallID := f.addStall(t, "FC-001")

	const contenders = 100
	var (
		successes atomic.Int64
		conflicts atomic.Int64
		winner    atomic.Value
	)

	var g errgroup.Group
	for i := 0; i < contenders; i++ {
		g.Go(func() error {
			booking, err := f.service.Reserve(ctx, stallID, uuid.New())
			switch {
			case err == nil:
				successes.Add(1)
				winner.Store(booking.ID)
			case errors.Is(err, bookings.ErrStallNotAvailable):
				conflicts.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(1), successes.Load())
	assert.Equal(t, int64(contenders-1), conflicts.Load())

	stall := f.stall(t, stallID)
	assert.Equal(t, stalls.StatusReserved, stall.Status)
	require.NotNil(t, stall.ActiveBookingID)
	assert.Equal(t, winner.Load().(uuid.UUID), *stall.ActiveBookingID)

	list, err := f.service.ListBookings(ctx, bookings.BookingListQuery{StallID: stallID.String(), Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, int64(1), list.TotalCount)
}

func TestConcurrentReserveDistinctStallsUniqueRefs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const stallCount = 25
	ids := make([]uuid.UUID, stallCount)
	for i := range ids {
		ids[i] = f.addStall(t, fmt.Sprintf("FS-%03d", i+1))
	}

	refs := make([]string, stallCount)
	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			booking, err := f.service.Reserve(ctx, id, uuid.New())
			if err != nil {
				return err
			}
			refs[i] = booking.Ref
			return nil
		})
	}
	require.NoError(t, g.Wait())

	seen := make(map[string]bool, stallCount)
	for _, ref := range refs {
		assert.False(t, seen[ref], "duplicate ref %s", ref)
		seen[ref] = true
	}
	for seq := 1; seq <= stallCount; seq++ {
		assert.True(t, seen[bookings.FormatBookingRef(2025, int64(seq))], "missing sequence %d", seq)
	}
}

func TestSequenceRestartsPerYear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.service.Reserve(ctx, f.addStall(t, "FC-001"), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "BK-2025-0001", first.Ref)

	f.clock.Advance(365 * 24 * time.Hour)
	next, err := f.service.Reserve(ctx, f.addStall(t, "FC-002"), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "BK-2026-0001", next.Ref)
}

func TestSweepExpiresLapsedHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stallID := f.addStall(t, "FC-001")

	booking, err := f.service.Reserve(ctx, stallID, uuid.New())
	require.NoError(t, err)

	f.clock.Advance(29 * time.Minute)
	count, err := f.service.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	f.clock.Advance(2 * time.Minute)
	count, err = f.service.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	expired := f.booking(t, booking.ID)
	assert.Equal(t, bookings.StatusExpired, expired.Status)
	require.NotNil(t, expired.ExpiredAt)

	stall := f.stall(t, stallID)
	assert.Equal(t, stalls.StatusAvailable, stall.Status)
	assert.Nil(t, stall.ActiveBookingID)

	count, err = f.service.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	assert.Contains(t, f.publisher.Types(), bookings.EventBookingExpired)
}

func TestSweepLeavesAwaitingApprovalAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stallID := f.addStall(t, "FC-001")
	booking := f.awaitingApproval(t, stallID)

	f.clock.Advance(2 * time.Hour)
	count, err := f.service.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	assert.Equal(t, bookings.StatusAwaitingApproval, f.booking(t, booking.ID).Status)
	assert.Equal(t, stalls.StatusReserved, f.stall(t, stallID).Status)
}

func TestConcurrentSweepsReclaimEachHoldOnce(t *testing.T) {
	f := newFixture(t, bookings.WithSweepBatchSize(3))
	ctx := context.Background()

	const holds = 20
	for i := 0; i < holds; i++ {
		_, err := f.service.Reserve(ctx, f.addStall(t, fmt.Sprintf("HC-%03d", i+1)), uuid.New())
		require.NoError(t, err)
	}
	f.clock.Advance(31 * time.Minute)

	var total atomic.Int64
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			n, err := f.service.Sweep(ctx)
			total.Add(int64(n))
			return err
		})
	}
	require.NoError(t, g.Wait())

	// A pass may stop early when a concurrent pass took its whole batch
	n, err := f.service.Sweep(ctx)
	require.NoError(t, err)
	total.Add(int64(n))

	assert.Equal(t, int64(holds), total.Load())

	list, err := f.service.ListBookings(ctx, bookings.BookingListQuery{Status: string(bookings.StatusExpired), Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, int64(holds), list.TotalCount)
}

func TestInlineSweepFreesStallForNextReserve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stallID := f.addStall(t, "FC-001")

	first, err := f.service.Reserve(ctx, stallID, uuid.New())
	require.NoError(t, err)

	f.clock.Advance(31 * time.Minute)
	second, err := f.service.Reserve(ctx, stallID, uuid.New())
	require.NoError(t, err)

	assert.Equal(t, bookings.StatusExpired, f.booking(t, first.ID).Status)
	assert.Equal(t, second.ID, *f.stall(t, stallID).ActiveBookingID)
}

func TestAttachPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stallID := f.addStall(t, "FC-001")

	booking, err := f.service.Reserve(ctx, stallID, uuid.New())
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	updated, err := f.service.AttachPayment(ctx, booking.ID, "uploads/receipt.png")
	require.NoError(t, err)

	assert.Equal(t, bookings.StatusAwaitingApproval, updated.Status)
	require.NotNil(t, updated.EvidenceRef)
	assert.Equal(t, "uploads/receipt.png", *updated.EvidenceRef)
	require.NotNil(t, updated.PaymentUploadedAt)
	assert.Equal(t, f.clock.Now(), *updated.PaymentUploadedAt)

	payment, err := f.service.GetPayment(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, bookings.PaymentStatusPending, payment.Status)
	assert.Equal(t, "uploads/receipt.png", payment.EvidenceRef)
	assert.Equal(t, 1500.0, payment.Amount)

	assert.Equal(t, stalls.StatusReserved, f.stall(t, stallID).Status)
}

func TestAttachPaymentRequiresEvidence(t *testing.T) {
	f := newFixture(t)
	booking, err := f.service.Reserve(context.Background(), f.addStall(t, "FC-001"), uuid.New())
	require.NoError(t, err)

	_, err = f.service.AttachPayment(context.Background(), booking.ID, "")
	assert.Error(t, err)
	assert.Equal(t, bookings.StatusReserved, f.booking(t, booking.ID).Status)
}

func TestAttachPaymentAlreadyProcessed(t *testing.T) {
	t.Run("awaiting approval", func(t *testing.T) {
		f := newFixture(t)
		booking := f.awaitingApproval(t, f.addStall(t, "FC-001"))

		_, err := f.service.AttachPayment(context.Background(), booking.ID, "uploads/second.png")
		assert.ErrorIs(t, err, bookings.ErrBookingAlreadyProcessed)

		stored := f.booking(t, booking.ID)
		assert.Equal(t, bookings.StatusAwaitingApproval, stored.Status)
		assert.Equal(t, "uploads/receipt.png", *stored.EvidenceRef)
	})

	t.Run("expired", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		booking, err := f.service.Reserve(ctx, f.addStall(t, "FC-001"), uuid.New())
		require.NoError(t, err)

		f.clock.Advance(31 * time.Minute)
		_, err = f.service.Sweep(ctx)
		require.NoError(t, err)

		_, err = f.service.AttachPayment(ctx, booking.ID, "uploads/late.png")
		assert.ErrorIs(t, err, bookings.ErrBookingAlreadyProcessed)

		stored := f.booking(t, booking.ID)
		assert.Equal(t, bookings.StatusExpired, stored.Status)
		assert.Nil(t, stored.EvidenceRef)

		_, err = f.service.GetPayment(ctx, booking.ID)
		assert.ErrorIs(t, err, bookings.ErrPaymentNotFound)
	})

	t.Run("lapsed before sweep", func(t *testing.T) {
		f := newFixture(t, bookings.WithInlineSweep(false))
		ctx := context.Background()
		booking, err := f.service.Reserve(ctx, f.addStall(t, "FC-001"), uuid.New())
		require.NoError(t, err)

		f.clock.Advance(31 * time.Minute)
		_, err = f.service.AttachPayment(ctx, booking.ID, "uploads/late.png")
		assert.ErrorIs(t, err, bookings.ErrBookingAlreadyProcessed)
		assert.Equal(t, bookings.StatusReserved, f.booking(t, booking.ID).Status)
	})

	t.Run("missing booking", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.AttachPayment(context.Background(), uuid.New(), "uploads/receipt.png")
		assert.ErrorIs(t, err, bookings.ErrBookingNotFound)
	})
}

func TestApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stallID := f.addStall(t, "FC-001")
	booking := f.awaitingApproval(t, stallID)
	approver := uuid.New()

	approved, err := f.service.Approve(ctx, booking.ID, approver)
	require.NoError(t, err)

	assert.Equal(t, bookings.StatusConfirmed, approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, approver, *approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)

	stall := f.stall(t, stallID)
	assert.Equal(t, stalls.StatusConfirmed, stall.Status)
	assert.Equal(t, booking.ID, *stall.ActiveBookingID)

	payment, err := f.service.GetPayment(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, bookings.PaymentStatusApproved, payment.Status)
	require.NotNil(t, payment.VerifiedBy)
	assert.Equal(t, approver, *payment.VerifiedBy)

	assert.Equal(t, []bookings.LifecycleEventType{
		bookings.EventBookingReserved,
		bookings.EventBookingPaymentSubmitted,
		bookings.EventBookingConfirmed,
	}, f.publisher.Types())
}

func TestApproveRequiresAwaitingApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	booking, err := f.service.Reserve(ctx, f.addStall(t, "FC-001"), uuid.New())
	require.NoError(t, err)

	_, err = f.service.Approve(ctx, booking.ID, uuid.New())
	assert.ErrorIs(t, err, bookings.ErrInvalidState)
	assert.Equal(t, bookings.StatusReserved, f.booking(t, booking.ID).Status)

	_, err = f.service.Approve(ctx, uuid.New(), uuid.New())
	assert.ErrorIs(t, err, bookings.ErrBookingNotFound)
}

func TestApproveRollsBackOnPaymentFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stallID := f.addStall(t, "FC-001")
	booking := f.awaitingApproval(t, stallID)

	injected := errors.New("payment table unavailable")
	faulty := f.newService(&faultyRepo{Repository: f.store.Bookings(), resolveErr: injected})

	_, err := faulty.Approve(ctx, booking.ID, uuid.New())
	assert.ErrorIs(t, err, injected)

	stored := f.booking(t, booking.ID)
	assert.Equal(t, bookings.StatusAwaitingApproval, stored.Status)
	assert.Nil(t, stored.ApprovedBy)

	stall := f.stall(t, stallID)
	assert.Equal(t, stalls.StatusReserved, stall.Status)
	assert.Equal(t, booking.ID, *stall.ActiveBookingID)

	payment, err := f.service.GetPayment(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, bookings.PaymentStatusPending, payment.Status)
	assert.Nil(t, payment.VerifiedAt)

	// The untouched booking can still be approved normally
	_, err = f.service.Approve(ctx, booking.ID, uuid.New())
	assert.NoError(t, err)
}

func TestReject(t *testing.T) {
	t.Run("awaiting approval", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		stallID := f.addStall(t, "FC-001")
		booking := f.awaitingApproval(t, stallID)
		approver := uuid.New()

		rejected, err := f.service.Reject(ctx, booking.ID, "receipt unreadable", approver)
		require.NoError(t, err)
		assert.Equal(t, bookings.StatusCancelled, rejected.Status)
		assert.Equal(t, "receipt unreadable", *rejected.RejectedReason)
		assert.Equal(t, approver, *rejected.RejectedBy)

		stall := f.stall(t, stallID)
		assert.Equal(t, stalls.StatusAvailable, stall.Status)
		assert.Nil(t, stall.ActiveBookingID)

		payment, err := f.service.GetPayment(ctx, booking.ID)
		require.NoError(t, err)
		assert.Equal(t, bookings.PaymentStatusRejected, payment.Status)
		assert.Equal(t, "receipt unreadable", *payment.RejectedReason)
		assert.Equal(t, "uploads/receipt.png", payment.EvidenceRef)
	})

	t.Run("reserved", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		stallID := f.addStall(t, "FC-001")
		booking, err := f.service.Reserve(ctx, stallID, uuid.New())
		require.NoError(t, err)

		rejected, err := f.service.Reject(ctx, booking.ID, "duplicate vendor", uuid.New())
		require.NoError(t, err)
		assert.Equal(t, bookings.StatusCancelled, rejected.Status)
		assert.Equal(t, stalls.StatusAvailable, f.stall(t, stallID).Status)

		payment, err := f.service.GetPayment(ctx, booking.ID)
		require.NoError(t, err)
		assert.Equal(t, bookings.PaymentStatusRejected, payment.Status)

		// The stall is immediately claimable again
		_, err = f.service.Reserve(ctx, stallID, uuid.New())
		assert.NoError(t, err)
	})

	t.Run("already cancelled", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		booking := f.awaitingApproval(t, f.addStall(t, "FC-001"))

		_, err := f.service.Reject(ctx, booking.ID, "first", uuid.New())
		require.NoError(t, err)
		events := len(f.publisher.Types())

		again, err := f.service.Reject(ctx, booking.ID, "second", uuid.New())
		require.NoError(t, err)
		assert.Equal(t, bookings.StatusCancelled, again.Status)
		assert.Equal(t, "first", *again.RejectedReason)
		assert.Len(t, f.publisher.Types(), events)
	})

	t.Run("terminal states", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		confirmed := f.awaitingApproval(t, f.addStall(t, "FC-001"))
		_, err := f.service.Approve(ctx, confirmed.ID, uuid.New())
		require.NoError(t, err)
		_, err = f.service.Reject(ctx, confirmed.ID, "too late", uuid.New())
		assert.ErrorIs(t, err, bookings.ErrInvalidState)

		expired, err := f.service.Reserve(ctx, f.addStall(t, "FC-002"), uuid.New())
		require.NoError(t, err)
		f.clock.Advance(31 * time.Minute)
		_, err = f.service.Reject(ctx, expired.ID, "too late", uuid.New())
		assert.ErrorIs(t, err, bookings.ErrInvalidState)
	})
}

func TestForceReturn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var confirmed []*bookings.Booking
	for _, code := range []string{"FM-001", "FM-002"} {
		booking := f.awaitingApproval(t, f.addStall(t, code))
		approved, err := f.service.Approve(ctx, booking.ID, uuid.New())
		require.NoError(t, err)
		confirmed = append(confirmed, approved)
	}
	heldStall := f.addStall(t, "FM-003")
	held, err := f.service.Reserve(ctx, heldStall, uuid.New())
	require.NoError(t, err)

	returned, err := f.service.ForceReturn(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), returned)

	for _, booking := range confirmed {
		stall := f.stall(t, booking.StallID)
		assert.Equal(t, stalls.StatusAvailable, stall.Status)
		assert.Nil(t, stall.ActiveBookingID)

		stored := f.booking(t, booking.ID)
		assert.Equal(t, bookings.StatusConfirmed, stored.Status)
		assert.NotNil(t, stored.ReturnedAt)
		assert.False(t, stored.IsActive())
	}

	assert.Equal(t, stalls.StatusReserved, f.stall(t, heldStall).Status)
	assert.Equal(t, bookings.StatusReserved, f.booking(t, held.ID).Status)

	// Returned stalls go back into circulation
	_, err = f.service.Reserve(ctx, confirmed[0].StallID, uuid.New())
	assert.NoError(t, err)

	returned, err = f.service.ForceReturn(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), returned)
	assert.Contains(t, f.publisher.Types(), bookings.EventStallsReturned)
}

func TestDeleteBooking(t *testing.T) {
	t.Run("active booking frees its stall", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		stallID := f.addStall(t, "FC-001")
		booking := f.awaitingApproval(t, stallID)

		require.NoError(t, f.service.DeleteBooking(ctx, booking.ID))

		_, err := f.service.GetBooking(ctx, booking.ID)
		assert.ErrorIs(t, err, bookings.ErrBookingNotFound)
		_, err = f.service.GetPayment(ctx, booking.ID)
		assert.ErrorIs(t, err, bookings.ErrPaymentNotFound)

		stall := f.stall(t, stallID)
		assert.Equal(t, stalls.StatusAvailable, stall.Status)
		assert.Nil(t, stall.ActiveBookingID)
	})

	t.Run("confirmed booking frees its stall", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		stallID := f.addStall(t, "FC-001")
		booking := f.awaitingApproval(t, stallID)
		_, err := f.service.Approve(ctx, booking.ID, uuid.New())
		require.NoError(t, err)

		require.NoError(t, f.service.DeleteBooking(ctx, booking.ID))
		assert.Equal(t, stalls.StatusAvailable, f.stall(t, stallID).Status)
	})

	t.Run("terminal booking leaves the stall alone", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		stallID := f.addStall(t, "FC-001")
		expired, err := f.service.Reserve(ctx, stallID, uuid.New())
		require.NoError(t, err)
		f.clock.Advance(31 * time.Minute)

		current, err := f.service.Reserve(ctx, stallID, uuid.New())
		require.NoError(t, err)

		require.NoError(t, f.service.DeleteBooking(ctx, expired.ID))

		stall := f.stall(t, stallID)
		assert.Equal(t, stalls.StatusReserved, stall.Status)
		assert.Equal(t, current.ID, *stall.ActiveBookingID)
	})

	t.Run("missing booking", func(t *testing.T) {
		f := newFixture(t)
		err := f.service.DeleteBooking(context.Background(), uuid.New())
		assert.ErrorIs(t, err, bookings.ErrBookingNotFound)
	})
}

func TestListBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	for i := 0; i < 3; i++ {
		_, err := f.service.Reserve(ctx, f.addStall(t, fmt.Sprintf("FS-%03d", i+1)), userID)
		require.NoError(t, err)
	}
	_, err := f.service.Reserve(ctx, f.addStall(t, "FS-900"), uuid.New())
	require.NoError(t, err)

	page, err := f.service.ListBookings(ctx, bookings.BookingListQuery{UserID: &userID, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.TotalCount)
	assert.Len(t, page.Bookings, 2)
	assert.True(t, page.HasMore)

	page, err = f.service.ListBookings(ctx, bookings.BookingListQuery{UserID: &userID, Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, page.Bookings, 1)
	assert.False(t, page.HasMore)

	_, err = f.service.ListBookings(ctx, bookings.BookingListQuery{Status: "PAID"})
	assert.ErrorIs(t, err, bookings.ErrInvalidQuery)

	_, err = f.service.ListBookings(ctx, bookings.BookingListQuery{StallID: "stall-1"})
	assert.ErrorIs(t, err, bookings.ErrInvalidQuery)
}

func TestGetBookingByRef(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	booking, err := f.service.Reserve(ctx, f.addStall(t, "FC-001"), uuid.New())
	require.NoError(t, err)

	found, err := f.service.GetBookingByRef(ctx, booking.Ref)
	require.NoError(t, err)
	assert.Equal(t, booking.ID, found.ID)

	_, err = f.service.GetBookingByRef(ctx, "BK-2025-9999")
	assert.ErrorIs(t, err, bookings.ErrBookingNotFound)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, key string, payload interface{}) error {
	args := m.Called(ctx, key, payload)
	return args.Error(0)
}

func TestPublishFailureDoesNotFailReserve(t *testing.T) {
	store := memstore.New()
	stall := &stalls.Stall{Code: "FC-001", Zone: "Food Court", Price: 1500}
	require.NoError(t, store.Stalls().CreateStall(context.Background(), stall))

	publisher := new(mockPublisher)
	publisher.On("Publish", mock.Anything, "booking.reserved", mock.AnythingOfType("bookings.LifecycleEvent")).
		Return(errors.New("broker unavailable")).Once()

	svc := bookings.NewService(store.Bookings(), bookings.NewHoldPolicy(0), publisher)
	booking, err := svc.Reserve(context.Background(), stall.ID, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, bookings.StatusReserved, booking.Status)

	publisher.AssertExpectations(t)
}

// lockRecordingRepo records which bookings were locked inside a transaction
type lockRecordingRepo struct {
	bookings.Repository
	mu     *sync.Mutex
	locked *[]uuid.UUID
	inTx   bool
}

func (r *lockRecordingRepo) Transaction(ctx context.Context, fn func(tx bookings.Repository) error) error {
	return r.Repository.Transaction(ctx, func(tx bookings.Repository) error {
		return fn(&lockRecordingRepo{Repository: tx, mu: r.mu, locked: r.locked, inTx: true})
	})
}

func (r *lockRecordingRepo) GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*bookings.Booking, error) {
	if r.inTx {
		r.mu.Lock()
		*r.locked = append(*r.locked, id)
		r.mu.Unlock()
	}
	return r.Repository.GetBookingForUpdate(ctx, id)
}

func TestDeleteBookingLocksBookingBeforeReleasingStall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stallID := f.addStall(t, "FC-001")
	booking := f.awaitingApproval(t, stallID)

	var locked []uuid.UUID
	svc := f.newService(&lockRecordingRepo{Repository: f.store.Bookings(), mu: &sync.Mutex{}, locked: &locked})

	require.NoError(t, svc.DeleteBooking(ctx, booking.ID))
	assert.Equal(t, []uuid.UUID{booking.ID}, locked)
	assert.Equal(t, stalls.StatusAvailable, f.stall(t, stallID).Status)
}

func TestForceReturnClosesOnlyLeasesOfReleasedStalls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A confirmed booking whose stall was not CONFIRMED when the stalls were released
	stallID := f.addStall(t, "FM-001")
	late := &bookings.Booking{
		Ref:     bookings.FormatBookingRef(2025, 900),
		StallID: stallID,
		UserID:  uuid.New(),
		Status:  bookings.StatusConfirmed,
	}
	require.NoError(t, f.store.Bookings().CreateBooking(ctx, late))

	approved := f.awaitingApproval(t, f.addStall(t, "FM-002"))
	_, err := f.service.Approve(ctx, approved.ID, uuid.New())
	require.NoError(t, err)

	returned, err := f.service.ForceReturn(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), returned)

	assert.NotNil(t, f.booking(t, approved.ID).ReturnedAt)

	stored := f.booking(t, late.ID)
	assert.Nil(t, stored.ReturnedAt)
	assert.True(t, stored.IsActive())
}

// expireFailRepo fails the expiry transition of one booking
type expireFailRepo struct {
	bookings.Repository
	failID uuid.UUID
	err    error
}

func (r *expireFailRepo) Transaction(ctx context.Context, fn func(tx bookings.Repository) error) error {
	return r.Repository.Transaction(ctx, func(tx bookings.Repository) error {
		return fn(&expireFailRepo{Repository: tx, failID: r.failID, err: r.err})
	})
}

func (r *expireFailRepo) TransitionBooking(ctx context.Context, id uuid.UUID, from, to bookings.Status, changes bookings.BookingChanges) (bool, error) {
	if id == r.failID && to == bookings.StatusExpired {
		return false, r.err
	}
	return r.Repository.TransitionBooking(ctx, id, from, to, changes)
}

func TestSweepAnnouncesCommittedExpirationsWhenLaterOneFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.service.Reserve(ctx, f.addStall(t, "FC-001"), uuid.New())
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, err := f.service.Reserve(ctx, f.addStall(t, "FC-002"), uuid.New())
	require.NoError(t, err)
	f.clock.Advance(31 * time.Minute)

	injected := errors.New("connection reset")
	svc := f.newService(&expireFailRepo{Repository: f.store.Bookings(), failID: second.ID, err: injected})
	invalidations := f.cache.calls.Load()

	count, err := svc.Sweep(ctx)
	require.ErrorIs(t, err, injected)
	assert.Equal(t, 1, count)

	assert.Equal(t, bookings.StatusExpired, f.booking(t, first.ID).Status)
	assert.Equal(t, bookings.StatusReserved, f.booking(t, second.ID).Status)

	var expired []string
	f.publisher.mu.Lock()
	for _, event := range f.publisher.events {
		if event.Type == bookings.EventBookingExpired {
			expired = append(expired, event.BookingRef)
		}
	}
	f.publisher.mu.Unlock()
	assert.Equal(t, []string{first.Ref}, expired)
	assert.Equal(t, invalidations+1, f.cache.calls.Load())
}
