package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitware/seat-allocation/internal/hold"
	"github.com/transitware/seat-allocation/internal/ledger"
	"github.com/transitware/seat-allocation/internal/model"
	"github.com/transitware/seat-allocation/internal/notify"
)

type fakePayments struct {
	err   error
	calls int
}

func (p *fakePayments) Resolve(_ context.Context, _ model.Booking, _ string) error {
	p.calls++
	return p.err
}

type fakePublisher struct {
	mu     sync.Mutex
	queues []string
}

func (p *fakePublisher) Publish(_ context.Context, queue string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queues = append(p.queues, queue)
	return nil
}

type fixture struct {
	ledger   *ledger.Ledger
	holds    *hold.Manager
	payments *fakePayments
	pub      *fakePublisher
	coord    *Coordinator
}

func newFixture(t *testing.T, seatIDs ...string) *fixture {
	t.Helper()
	l := ledger.New(nil)
	seats := make([]model.Seat, 0, len(seatIDs))
	for i, id := range seatIDs {
		seats = append(seats, model.Seat{ID: id, Number: id, Row: 1, Column: i + 1, PriceCents: 1500})
	}
	l.Provision(model.VehicleSchedule{ID: "sched-1", TotalSeats: len(seatIDs)}, seats)

	h := hold.NewManager(l, nil, ledger.RetryBudget{Attempts: 3, Backoff: time.Millisecond})
	payments := &fakePayments{}
	pub := &fakePublisher{}
	return &fixture{
		ledger:   l,
		holds:    h,
		payments: payments,
		pub:      pub,
		coord:    NewCoordinator(l, h, payments, pub, nil),
	}
}

func (f *fixture) holdAndCreate(t *testing.T, seatIDs ...string) model.Booking {
	t.Helper()
	ctx := context.Background()
	_, err := f.holds.HoldSeats(ctx, "sched-1", seatIDs, "agent-1", time.Minute)
	require.NoError(t, err)
	b, err := f.coord.Create(ctx, "sched-1", seatIDs, model.Customer{ID: "cust-1", Name: "Ada", Phone: "0800"}, "agent-1")
	require.NoError(t, err)
	return b
}

func TestCreateRequiresActiveHolds(t *testing.T) {
	f := newFixture(t, "S-1A")
	_, err := f.coord.Create(context.Background(), "sched-1", []string{"S-1A"}, model.Customer{}, "agent-1")
	assert.True(t, errors.Is(err, ErrHoldExpired))
}

func TestCreateOpensPendingBooking(t *testing.T) {
	f := newFixture(t, "S-1A", "S-1B")
	b := f.holdAndCreate(t, "S-1A", "S-1B")

	assert.Equal(t, model.BookingPending, b.Status)
	assert.Equal(t, uint32(3000), b.TotalCents)
	assert.Equal(t, []string{"S-1A", "S-1B"}, b.SeatIDs)
	assert.Contains(t, b.Reference, "BK")
	assert.Equal(t, "Ada", b.Customer.Name)

	// Creation never touches seat state; seats stay held.
	seat, err := f.ledger.Get("sched-1", "S-1A")
	require.NoError(t, err)
	assert.Equal(t, model.SeatHeld, seat.Status)
}

func TestConfirmBooksEverySeat(t *testing.T) {
	f := newFixture(t, "S-1A", "S-1B")
	b := f.holdAndCreate(t, "S-1A", "S-1B")

	confirmed, err := f.coord.Confirm(context.Background(), b.ID, "pay-123")
	require.NoError(t, err)
	assert.Equal(t, model.BookingConfirmed, confirmed.Status)
	assert.Equal(t, 1, f.payments.calls)

	for _, id := range b.SeatIDs {
		seat, err := f.ledger.Get("sched-1", id)
		require.NoError(t, err)
		assert.Equal(t, model.SeatBooked, seat.Status)
		assert.Equal(t, b.ID, seat.BookingID)
		_, live := f.holds.ActiveHold("sched-1", id)
		assert.False(t, live)
	}
	assert.Contains(t, f.pub.queues, notify.QueueBookingConfirmed)
}

func TestConfirmPaymentFailureCancelsAndFrees(t *testing.T) {
	f := newFixture(t, "S-1A")
	b := f.holdAndCreate(t, "S-1A")
	f.payments.err = errors.New("card declined")

	_, err := f.coord.Confirm(context.Background(), b.ID, "pay-123")
	assert.True(t, errors.Is(err, ErrPaymentFailed))

	got, err := f.coord.Get(b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingCancelled, got.Status)

	seat, err := f.ledger.Get("sched-1", "S-1A")
	require.NoError(t, err)
	assert.Equal(t, model.SeatAvailable, seat.Status)
}

func TestConfirmFailsWhenHoldLapsed(t *testing.T) {
	f := newFixture(t, "S-1A")
	ctx := context.Background()
	_, err := f.holds.HoldSeats(ctx, "sched-1", []string{"S-1A"}, "agent-1", 10*time.Millisecond)
	require.NoError(t, err)
	b, err := f.coord.Create(ctx, "sched-1", []string{"S-1A"}, model.Customer{}, "agent-1")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	f.holds.ExpireOnce(ctx)

	_, err = f.coord.Confirm(ctx, b.ID, "pay-123")
	assert.True(t, errors.Is(err, ErrHoldExpired))
	// Money must not have moved for a booking that failed fast.
	assert.Equal(t, 0, f.payments.calls)
}

func TestConfirmCompensatesPartiallyBookedBatch(t *testing.T) {
	f := newFixture(t, "S-1A", "S-1B")
	b := f.holdAndCreate(t, "S-1A", "S-1B")
	ctx := context.Background()

	// Simulate the sweeper reclaiming S-1B between create and confirm:
	// the hold record is still live but the seat version has moved.
	h, live := f.holds.ActiveHold("sched-1", "S-1B")
	require.True(t, live)
	_, err := f.ledger.CompareAndSwap(ctx, "sched-1", "S-1B", h.SeatVersion, model.SeatAvailable, model.SeatMeta{})
	require.NoError(t, err)

	_, err = f.coord.Confirm(ctx, b.ID, "pay-123")
	assert.True(t, errors.Is(err, ErrHoldExpired))

	// S-1A was booked first and must have been rolled back.
	for _, id := range b.SeatIDs {
		seat, err := f.ledger.Get("sched-1", id)
		require.NoError(t, err)
		assert.Equal(t, model.SeatAvailable, seat.Status, "seat %s", id)
	}
	got, err := f.coord.Get(b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingCancelled, got.Status)
}

func TestCancelPendingReleasesHolds(t *testing.T) {
	f := newFixture(t, "S-1A")
	b := f.holdAndCreate(t, "S-1A")

	cancelled, err := f.coord.Cancel(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingCancelled, cancelled.Status)

	seat, err := f.ledger.Get("sched-1", "S-1A")
	require.NoError(t, err)
	assert.Equal(t, model.SeatAvailable, seat.Status)
}

func TestCancelConfirmedFreesBookedSeats(t *testing.T) {
	f := newFixture(t, "S-1A", "S-1B")
	b := f.holdAndCreate(t, "S-1A", "S-1B")
	ctx := context.Background()

	_, err := f.coord.Confirm(ctx, b.ID, "pay-123")
	require.NoError(t, err)

	cancelled, err := f.coord.Cancel(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingCancelled, cancelled.Status)

	for _, id := range b.SeatIDs {
		seat, err := f.ledger.Get("sched-1", id)
		require.NoError(t, err)
		assert.Equal(t, model.SeatAvailable, seat.Status)
		assert.Empty(t, seat.BookingID)
	}
}

func TestCancelConfirmedSkipsReallocatedSeat(t *testing.T) {
	f := newFixture(t, "S-1A")
	b := f.holdAndCreate(t, "S-1A")
	ctx := context.Background()

	_, err := f.coord.Confirm(ctx, b.ID, "pay-123")
	require.NoError(t, err)

	// Another booking took the seat over after an out-of-band release.
	seat, err := f.ledger.Get("sched-1", "S-1A")
	require.NoError(t, err)
	_, err = f.ledger.CompareAndSwap(ctx, "sched-1", "S-1A", seat.Version, model.SeatBooked, model.SeatMeta{BookingID: "BKG-other"})
	require.NoError(t, err)

	_, err = f.coord.Cancel(ctx, b.ID)
	require.NoError(t, err)

	seat, err = f.ledger.Get("sched-1", "S-1A")
	require.NoError(t, err)
	assert.Equal(t, model.SeatBooked, seat.Status)
	assert.Equal(t, "BKG-other", seat.BookingID)
}

func TestCompleteOnlyFromConfirmed(t *testing.T) {
	f := newFixture(t, "S-1A")
	b := f.holdAndCreate(t, "S-1A")
	ctx := context.Background()

	_, err := f.coord.Complete(ctx, b.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	_, err = f.coord.Confirm(ctx, b.ID, "pay-123")
	require.NoError(t, err)

	done, err := f.coord.Complete(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingCompleted, done.Status)

	// Completed is terminal.
	_, err = f.coord.Cancel(ctx, b.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	_, err = f.coord.Complete(ctx, b.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestGetUnknownBooking(t *testing.T) {
	f := newFixture(t, "S-1A")
	_, err := f.coord.Get("BKG-nope")
	assert.True(t, errors.Is(err, ErrBookingNotFound))
}

func TestReferenceResolverRequiresReference(t *testing.T) {
	r := ReferenceResolver{}
	assert.Error(t, r.Resolve(context.Background(), model.Booking{}, ""))
	assert.NoError(t, r.Resolve(context.Background(), model.Booking{}, "pos-778"))
}
