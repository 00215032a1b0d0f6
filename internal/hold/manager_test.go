package hold

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitware/seat-allocation/internal/ledger"
	"github.com/transitware/seat-allocation/internal/model"
	"github.com/transitware/seat-allocation/internal/notify"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	queue   string
	payload any
}

func (p *fakePublisher) Publish(_ context.Context, queue string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{queue: queue, payload: payload})
	return nil
}

func (p *fakePublisher) byQueue(queue string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.queue == queue {
			out = append(out, e)
		}
	}
	return out
}

func newTestManager(t *testing.T, seatIDs ...string) (*Manager, *ledger.Ledger, *fakePublisher) {
	t.Helper()
	l := ledger.New(nil)
	seats := make([]model.Seat, 0, len(seatIDs))
	for i, id := range seatIDs {
		seats = append(seats, model.Seat{ID: id, Number: id, Row: 1, Column: i + 1, PriceCents: 1500})
	}
	l.Provision(model.VehicleSchedule{ID: "sched-1", TotalSeats: len(seatIDs)}, seats)
	pub := &fakePublisher{}
	return NewManager(l, pub, ledger.RetryBudget{Attempts: 3, Backoff: time.Millisecond}), l, pub
}

func TestHoldSeatsGrantsWholeBatch(t *testing.T) {
	m, l, _ := newTestManager(t, "S-1A", "S-1B")

	holds, err := m.HoldSeats(context.Background(), "sched-1", []string{"S-1B", "S-1A"}, "agent-1", time.Minute)
	require.NoError(t, err)
	require.Len(t, holds, 2)
	assert.Equal(t, "S-1A", holds[0].SeatID) // sorted acquisition order
	assert.Equal(t, "S-1B", holds[1].SeatID)

	for _, h := range holds {
		assert.NotEmpty(t, h.Token)
		seat, err := l.Get("sched-1", h.SeatID)
		require.NoError(t, err)
		assert.Equal(t, model.SeatHeld, seat.Status)
		assert.Equal(t, "agent-1", seat.HolderID)
		assert.Equal(t, seat.Version, h.SeatVersion)
	}
}

func TestSecondHolderRejected(t *testing.T) {
	m, _, _ := newTestManager(t, "S-1A")

	_, err := m.HoldSeats(context.Background(), "sched-1", []string{"S-1A"}, "agent-1", time.Minute)
	require.NoError(t, err)

	_, err = m.HoldSeats(context.Background(), "sched-1", []string{"S-1A"}, "agent-2", time.Minute)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSeatUnavailable))

	var ue *UnavailableError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, []string{"S-1A"}, ue.SeatIDs)
}

func TestPartiallyBlockedBatchLeavesNothingHeld(t *testing.T) {
	m, l, _ := newTestManager(t, "S-1A", "S-1B")

	_, err := m.HoldSeats(context.Background(), "sched-1", []string{"S-1A"}, "agent-1", time.Minute)
	require.NoError(t, err)

	_, err = m.HoldSeats(context.Background(), "sched-1", []string{"S-1A", "S-1B"}, "agent-2", time.Minute)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPartialHoldConflict))

	var pe *PartialHoldError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, []string{"S-1A"}, pe.SeatIDs)

	// The free seat of the failed batch must stay free and untouched.
	seat, err := l.Get("sched-1", "S-1B")
	require.NoError(t, err)
	assert.Equal(t, model.SeatAvailable, seat.Status)
	assert.Equal(t, uint64(1), seat.Version)
	_, live := m.ActiveHold("sched-1", "S-1B")
	assert.False(t, live)
}

func TestFullyBlockedBatchIsPlainUnavailability(t *testing.T) {
	m, _, _ := newTestManager(t, "S-1A", "S-1B")

	_, err := m.HoldSeats(context.Background(), "sched-1", []string{"S-1A", "S-1B"}, "agent-1", time.Minute)
	require.NoError(t, err)

	_, err = m.HoldSeats(context.Background(), "sched-1", []string{"S-1A", "S-1B"}, "agent-2", time.Minute)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSeatUnavailable))
	assert.False(t, errors.Is(err, ErrPartialHoldConflict))
}

func TestReleaseHoldIsIdempotent(t *testing.T) {
	m, l, _ := newTestManager(t, "S-1A")
	ctx := context.Background()

	_, err := m.HoldSeats(ctx, "sched-1", []string{"S-1A"}, "agent-1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, m.ReleaseHold(ctx, "sched-1", "S-1A", "agent-1"))
	seat, err := l.Get("sched-1", "S-1A")
	require.NoError(t, err)
	assert.Equal(t, model.SeatAvailable, seat.Status)
	version := seat.Version

	// Releasing again, or releasing a seat never held, changes nothing.
	require.NoError(t, m.ReleaseHold(ctx, "sched-1", "S-1A", "agent-1"))
	require.NoError(t, m.ReleaseHold(ctx, "sched-1", "S-1A", "someone-else"))
	seat, err = l.Get("sched-1", "S-1A")
	require.NoError(t, err)
	assert.Equal(t, version, seat.Version)
}

func TestReleaseByNonOwnerKeepsHold(t *testing.T) {
	m, l, _ := newTestManager(t, "S-1A")
	ctx := context.Background()

	_, err := m.HoldSeats(ctx, "sched-1", []string{"S-1A"}, "agent-1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, m.ReleaseHold(ctx, "sched-1", "S-1A", "agent-2"))
	seat, err := l.Get("sched-1", "S-1A")
	require.NoError(t, err)
	assert.Equal(t, model.SeatHeld, seat.Status)
	_, live := m.ActiveHold("sched-1", "S-1A")
	assert.True(t, live)
}

func TestSweepReclaimsExpiredHolds(t *testing.T) {
	m, l, pub := newTestManager(t, "S-1A", "S-1B")
	ctx := context.Background()

	_, err := m.HoldSeats(ctx, "sched-1", []string{"S-1A"}, "agent-1", 10*time.Millisecond)
	require.NoError(t, err)
	_, err = m.HoldSeats(ctx, "sched-1", []string{"S-1B"}, "agent-2", time.Minute)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, m.ExpireOnce(ctx))

	seat, err := l.Get("sched-1", "S-1A")
	require.NoError(t, err)
	assert.Equal(t, model.SeatAvailable, seat.Status)
	assert.Empty(t, seat.HolderID)

	seat, err = l.Get("sched-1", "S-1B")
	require.NoError(t, err)
	assert.Equal(t, model.SeatHeld, seat.Status)

	events := pub.byQueue(notify.QueueHoldExpired)
	require.Len(t, events, 1)
	ev, ok := events[0].payload.(notify.HoldExpiredEvent)
	require.True(t, ok)
	assert.Equal(t, "S-1A", ev.SeatID)
	assert.Equal(t, "agent-1", ev.HolderID)
}

func TestSweepSkipsSeatWhoseVersionMoved(t *testing.T) {
	m, l, _ := newTestManager(t, "S-1A")
	ctx := context.Background()

	holds, err := m.HoldSeats(ctx, "sched-1", []string{"S-1A"}, "agent-1", 10*time.Millisecond)
	require.NoError(t, err)

	// A booking wins the race before the sweeper fires.
	_, err = l.CompareAndSwap(ctx, "sched-1", "S-1A", holds[0].SeatVersion, model.SeatBooked, model.SeatMeta{BookingID: "BKG-1"})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, m.ExpireOnce(ctx))

	seat, err := l.Get("sched-1", "S-1A")
	require.NoError(t, err)
	assert.Equal(t, model.SeatBooked, seat.Status)
}

func TestLapsedHoldReclaimedInlineByNextHolder(t *testing.T) {
	m, l, _ := newTestManager(t, "S-1A")
	ctx := context.Background()

	_, err := m.HoldSeats(ctx, "sched-1", []string{"S-1A"}, "agent-1", 10*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	// No sweep has run; the new hold reclaims the lapsed one itself.
	holds, err := m.HoldSeats(ctx, "sched-1", []string{"S-1A"}, "agent-2", time.Minute)
	require.NoError(t, err)
	require.Len(t, holds, 1)

	seat, err := l.Get("sched-1", "S-1A")
	require.NoError(t, err)
	assert.Equal(t, model.SeatHeld, seat.Status)
	assert.Equal(t, "agent-2", seat.HolderID)
}

func TestActiveHoldTreatsExpiredAsAbsent(t *testing.T) {
	m, _, _ := newTestManager(t, "S-1A")

	_, err := m.HoldSeats(context.Background(), "sched-1", []string{"S-1A"}, "agent-1", 10*time.Millisecond)
	require.NoError(t, err)

	_, live := m.ActiveHold("sched-1", "S-1A")
	assert.True(t, live)

	time.Sleep(20 * time.Millisecond)
	_, live = m.ActiveHold("sched-1", "S-1A")
	assert.False(t, live)
}

func TestConcurrentHoldersSingleWinner(t *testing.T) {
	m, _, _ := newTestManager(t, "S-1A")
	ctx := context.Background()

	const holders = 8
	var wg sync.WaitGroup
	granted := make(chan string, holders)
	for i := 0; i < holders; i++ {
		holder := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.HoldSeats(ctx, "sched-1", []string{"S-1A"}, holder, time.Minute); err == nil {
				granted <- holder
			}
		}()
	}
	wg.Wait()
	close(granted)

	var winners []string
	for w := range granted {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1)

	h, live := m.ActiveHold("sched-1", "S-1A")
	require.True(t, live)
	assert.Equal(t, winners[0], h.HolderID)
}
