// Package hold grants, renews and expires time-bounded claims on
// individual seats.  All seat mutations go through the ledger's
// compare-and-swap; the manager itself only tracks which hold owns
// which seat.
package hold

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/transitware/seat-allocation/internal/ledger"
	"github.com/transitware/seat-allocation/internal/model"
	"github.com/transitware/seat-allocation/internal/notify"
	"github.com/transitware/seat-allocation/internal/utils"
)

// ErrSeatUnavailable is returned when any requested seat is not
// AVAILABLE at hold time.  The caller should offer alternate seats.
var ErrSeatUnavailable = errors.New("seat unavailable")

// ErrPartialHoldConflict is returned when the batch passed the
// availability check but lost a version race mid-acquisition and the
// retry budget is exhausted.  No seat from the batch stays held.
var ErrPartialHoldConflict = errors.New("partial hold conflict")

// UnavailableError lists which seats blocked a hold so the caller can
// suggest alternatives.
type UnavailableError struct {
	SeatIDs []string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("seats unavailable: %v", e.SeatIDs)
}

func (e *UnavailableError) Unwrap() error { return ErrSeatUnavailable }

// PartialHoldError reports a batch that mixed available and unavailable
// seats and was therefore rejected wholesale.
type PartialHoldError struct {
	SeatIDs []string // the seats that could not be held
}

func (e *PartialHoldError) Error() string {
	return fmt.Sprintf("batch not satisfiable, unavailable seats: %v", e.SeatIDs)
}

func (e *PartialHoldError) Unwrap() error { return ErrPartialHoldConflict }

// Manager owns all active seat holds.  A seat has at most one active
// hold; expired holds are logically absent even before the sweeper
// reclaims them.
type Manager struct {
	ledger *ledger.Ledger
	pub    notify.Publisher // may be nil
	retry  ledger.RetryBudget

	mu    sync.Mutex
	holds map[string]model.SeatHold // keyed by scheduleID + "/" + seatID
}

// NewManager constructs a hold manager.  pub may be nil to disable
// expiry notifications (tests).
func NewManager(l *ledger.Ledger, pub notify.Publisher, retry ledger.RetryBudget) *Manager {
	return &Manager{
		ledger: l,
		pub:    pub,
		retry:  retry,
		holds:  make(map[string]model.SeatHold),
	}
}

// HoldSeats places an all-or-nothing hold on every seat in seatIDs for
// holderID.  If any seat cannot be held, no seat in the batch is held.
// Seats are acquired in sorted identity order so concurrent multi-seat
// requests cannot livelock each other.  Transient version races (e.g.
// with the expiry sweeper) are retried within the configured budget.
func (m *Manager) HoldSeats(ctx context.Context, scheduleID string, seatIDs []string, holderID string, ttl time.Duration) ([]model.SeatHold, error) {
	if holderID == "" {
		return nil, errors.New("holder id is required")
	}
	if ttl <= 0 {
		return nil, errors.New("hold ttl must be positive")
	}
	ids := dedupeSorted(seatIDs)
	if len(ids) == 0 {
		return nil, errors.New("no seat ids provided")
	}

	var held []model.SeatHold
	err := m.retry.Do(ctx, func() error {
		var attemptErr error
		held, attemptErr = m.tryHold(ctx, scheduleID, ids, holderID, ttl)
		return attemptErr
	})
	if err != nil {
		if errors.Is(err, ledger.ErrVersionConflict) {
			return nil, ErrPartialHoldConflict
		}
		return nil, err
	}
	return held, nil
}

// tryHold is a single acquisition attempt.  Already-acquired seats are
// compensated back to AVAILABLE before any error is returned, so a
// failed attempt never leaks a partial hold.
func (m *Manager) tryHold(ctx context.Context, scheduleID string, ids []string, holderID string, ttl time.Duration) ([]model.SeatHold, error) {
	now := time.Now().UTC()

	// Availability pass.  Seats whose hold has lapsed but has not been
	// swept yet are reclaimed inline, mirroring the sweeper.
	type candidate struct {
		id      string
		version uint64
	}
	candidates := make([]candidate, 0, len(ids))
	var unavailable []string
	for _, id := range ids {
		seat, err := m.ledger.Get(scheduleID, id)
		if err != nil {
			return nil, err
		}
		if seat.Status == model.SeatHeld && seat.HoldExpiresAt != nil && !now.Before(*seat.HoldExpiresAt) {
			reclaimed, err := m.reclaim(ctx, seat)
			if err != nil {
				return nil, err
			}
			seat = reclaimed
		}
		if seat.Status != model.SeatAvailable {
			unavailable = append(unavailable, id)
			continue
		}
		candidates = append(candidates, candidate{id: id, version: seat.Version})
	}
	if len(unavailable) > 0 {
		// A batch that is only partly blocked is a distinct failure: the
		// caller asked for seats that exist but cannot be granted
		// together.  A fully blocked request is plain unavailability.
		if len(unavailable) < len(ids) {
			return nil, &PartialHoldError{SeatIDs: unavailable}
		}
		return nil, &UnavailableError{SeatIDs: unavailable}
	}

	expiresAt := now.Add(ttl)
	acquired := make([]model.Seat, 0, len(candidates))
	holds := make([]model.SeatHold, 0, len(candidates))
	for _, c := range candidates {
		token, err := utils.NewHolderToken()
		if err != nil {
			m.compensate(ctx, scheduleID, acquired)
			return nil, err
		}
		seat, err := m.ledger.CompareAndSwap(ctx, scheduleID, c.id, c.version, model.SeatHeld, model.SeatMeta{
			HolderID:      holderID,
			HoldExpiresAt: &expiresAt,
		})
		if err != nil {
			m.compensate(ctx, scheduleID, acquired)
			return nil, err
		}
		acquired = append(acquired, seat)
		holds = append(holds, model.SeatHold{
			ScheduleID:  scheduleID,
			SeatID:      c.id,
			HolderID:    holderID,
			Token:       token,
			SeatVersion: seat.Version,
			CreatedAt:   now,
			ExpiresAt:   expiresAt,
		})
	}

	m.mu.Lock()
	for _, h := range holds {
		m.holds[holdKey(scheduleID, h.SeatID)] = h
	}
	m.mu.Unlock()
	return holds, nil
}

// ReleaseHold releases holderID's hold on a seat.  It is idempotent:
// releasing an expired, already-released or never-held seat succeeds.
func (m *Manager) ReleaseHold(ctx context.Context, scheduleID, seatID, holderID string) error {
	m.mu.Lock()
	h, ok := m.holds[holdKey(scheduleID, seatID)]
	if ok && h.HolderID == holderID {
		delete(m.holds, holdKey(scheduleID, seatID))
	}
	m.mu.Unlock()
	if !ok || h.HolderID != holderID {
		return nil
	}
	// Best-effort seat release at the hold's recorded version.  If the
	// version has moved the seat already left the HELD state (expired,
	// booked, or force-resolved); the release has nothing left to do.
	if _, err := m.ledger.CompareAndSwap(ctx, scheduleID, seatID, h.SeatVersion, model.SeatAvailable, model.SeatMeta{}); err != nil {
		if errors.Is(err, ledger.ErrVersionConflict) {
			return nil
		}
		return err
	}
	return nil
}

// ActiveHold returns the live hold on a seat, treating expired holds as
// absent.
func (m *Manager) ActiveHold(scheduleID, seatID string) (model.SeatHold, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[holdKey(scheduleID, seatID)]
	if !ok || h.Expired(time.Now().UTC()) {
		return model.SeatHold{}, false
	}
	return h, true
}

// HoldsByHolder returns all live holds a holder has on a schedule.
func (m *Manager) HoldsByHolder(scheduleID, holderID string) []model.SeatHold {
	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SeatHold
	for _, h := range m.holds {
		if h.ScheduleID == scheduleID && h.HolderID == holderID && !h.Expired(now) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeatID < out[j].SeatID })
	return out
}

// AttachBooking records the booking-in-progress identity on a hold so
// the coordinator and sweeps can correlate them.
func (m *Manager) AttachBooking(scheduleID, seatID, holderID, bookingID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := holdKey(scheduleID, seatID)
	if h, ok := m.holds[key]; ok && h.HolderID == holderID {
		h.BookingID = bookingID
		m.holds[key] = h
	}
}

// Adopt registers a hold that was created outside HoldSeats, e.g. by
// replaying an offline hold mutation that already swapped the seat to
// HELD.  The sweeper then owns its expiry like any other hold.
func (m *Manager) Adopt(h model.SeatHold) {
	m.mu.Lock()
	m.holds[holdKey(h.ScheduleID, h.SeatID)] = h
	m.mu.Unlock()
}

// Drop removes a hold record without touching the seat.  The booking
// coordinator calls it after a seat has been swapped HELD -> BOOKED.
func (m *Manager) Drop(scheduleID, seatID string) {
	m.mu.Lock()
	delete(m.holds, holdKey(scheduleID, seatID))
	m.mu.Unlock()
}

// ExpireOnce performs a single sweep over all holds, reclaiming seats
// whose hold has lapsed.  The CAS uses the hold's recorded version; if
// the version has since moved the seat was already handled by a racing
// request and the sweep silently skips it — expiry is a best-effort
// reclaim, not a second source of truth.  Returns the number of seats
// reclaimed.
func (m *Manager) ExpireOnce(ctx context.Context) int {
	now := time.Now().UTC()
	m.mu.Lock()
	var lapsed []model.SeatHold
	for key, h := range m.holds {
		if h.Expired(now) {
			lapsed = append(lapsed, h)
			delete(m.holds, key)
		}
	}
	m.mu.Unlock()

	reclaimed := 0
	for _, h := range lapsed {
		_, err := m.ledger.CompareAndSwap(ctx, h.ScheduleID, h.SeatID, h.SeatVersion, model.SeatAvailable, model.SeatMeta{})
		if err != nil {
			if !errors.Is(err, ledger.ErrVersionConflict) {
				log.Printf("sweeper: reclaim seat %s/%s failed: %v", h.ScheduleID, h.SeatID, err)
			}
			continue
		}
		reclaimed++
		if m.pub != nil {
			ev := notify.HoldExpiredEvent{
				ScheduleID: h.ScheduleID,
				SeatID:     h.SeatID,
				HolderID:   h.HolderID,
				ExpiredAt:  h.ExpiresAt.Format(time.RFC3339),
			}
			if err := m.pub.Publish(ctx, notify.QueueHoldExpired, ev); err != nil {
				log.Printf("sweeper: publish hold expiry for %s/%s failed: %v", h.ScheduleID, h.SeatID, err)
			}
		}
	}
	return reclaimed
}

// Run sweeps expired holds on a fixed interval until ctx is cancelled.
// Intended to run as a background goroutine started from main.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := m.ExpireOnce(ctx); n > 0 {
				log.Printf("sweeper: reclaimed %d expired holds", n)
			}
		}
	}
}

// reclaim frees a seat whose hold lapsed but has not been swept yet.
// A version conflict means someone else got there first; re-read and
// carry on with whatever state they left.
func (m *Manager) reclaim(ctx context.Context, seat model.Seat) (model.Seat, error) {
	m.mu.Lock()
	delete(m.holds, holdKey(seat.ScheduleID, seat.ID))
	m.mu.Unlock()
	freed, err := m.ledger.CompareAndSwap(ctx, seat.ScheduleID, seat.ID, seat.Version, model.SeatAvailable, model.SeatMeta{})
	if err != nil {
		if errors.Is(err, ledger.ErrVersionConflict) {
			return m.ledger.Get(seat.ScheduleID, seat.ID)
		}
		return model.Seat{}, err
	}
	return freed, nil
}

// compensate rolls already-acquired seats of a failed batch back to
// AVAILABLE.  Compensation uses each seat's post-hold version, so it is
// idempotent: a second pass finds the version moved and does nothing.
func (m *Manager) compensate(ctx context.Context, scheduleID string, acquired []model.Seat) {
	for _, s := range acquired {
		if _, err := m.ledger.CompareAndSwap(ctx, scheduleID, s.ID, s.Version, model.SeatAvailable, model.SeatMeta{}); err != nil && !errors.Is(err, ledger.ErrVersionConflict) {
			log.Printf("hold: compensate seat %s/%s failed: %v", scheduleID, s.ID, err)
		}
		m.Drop(scheduleID, s.ID)
	}
}

func holdKey(scheduleID, seatID string) string { return scheduleID + "/" + seatID }

func dedupeSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
