package ledger

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/transitware/seat-allocation/internal/model"
)

// Journal is the optional write-through persistence hook.  The ledger is
// authoritative in memory; journal failures are logged and never roll
// back a committed swap.  A nil journal disables persistence entirely,
// which is how the test suite runs.
type Journal interface {
	SaveSeat(ctx context.Context, seat model.Seat) error
	SaveInventory(ctx context.Context, inv model.InventoryCounts) error
}

// Ledger is the single shared mutable resource of the allocation core.
// Writes are serialized per seat, never globally: two swaps on different
// seats proceed fully in parallel.  Reads take only a per-seat read lock
// and return copies.
type Ledger struct {
	mu        sync.RWMutex // guards the schedule index, not seat state
	schedules map[string]*scheduleState
	journal   Journal
}

type scheduleState struct {
	info  model.VehicleSchedule
	mu    sync.Mutex // guards inv
	inv   model.InventoryCounts
	seats map[string]*seatSlot
}

type seatSlot struct {
	mu   sync.RWMutex
	seat model.Seat
}

// New returns an empty ledger.  The journal may be nil.
func New(journal Journal) *Ledger {
	return &Ledger{
		schedules: make(map[string]*scheduleState),
		journal:   journal,
	}
}

// Provision seeds the ledger for a vehicle schedule from catalog input.
// Every seat starts at version 1 with its catalog status (normally
// AVAILABLE, but the catalog may pre-block seats).  Provisioning an
// already-known schedule replaces it; the catalog owns schedule
// lifecycle, not the core.
func (l *Ledger) Provision(sched model.VehicleSchedule, seats []model.Seat) {
	now := time.Now().UTC()
	st := &scheduleState{
		info:  sched,
		seats: make(map[string]*seatSlot, len(seats)),
	}
	inv := model.InventoryCounts{
		ScheduleID:     sched.ID,
		Total:          len(seats),
		Version:        1,
		UpdatedAt:      now,
		WriteArrivedAt: now,
	}
	for _, s := range seats {
		s.ScheduleID = sched.ID
		if s.Status == "" {
			s.Status = model.SeatAvailable
		}
		if s.Version == 0 {
			s.Version = 1
		}
		if s.UpdatedAt.IsZero() {
			s.UpdatedAt = now
		}
		if s.WriteArrivedAt.IsZero() {
			s.WriteArrivedAt = s.UpdatedAt
		}
		st.seats[s.ID] = &seatSlot{seat: s}
		switch s.Status {
		case model.SeatBlocked:
			inv.Blocked++
		case model.SeatHeld:
			inv.Held++
		case model.SeatBooked:
			inv.Booked++
		default:
			inv.Available++
		}
	}
	st.inv = inv
	l.mu.Lock()
	l.schedules[sched.ID] = st
	l.mu.Unlock()
}

// Get returns a copy of the seat and its current version.
func (l *Ledger) Get(scheduleID, seatID string) (model.Seat, error) {
	slot, err := l.slot(scheduleID, seatID)
	if err != nil {
		return model.Seat{}, err
	}
	slot.mu.RLock()
	seat := slot.seat
	slot.mu.RUnlock()
	return seat, nil
}

// CompareAndSwap transitions a seat to newStatus if and only if its
// current version equals expectedVersion.  On success the version
// advances by one and the updated seat is returned.  On a stale
// expectedVersion it fails with a *VersionConflictError; the seat is
// left untouched.  This is the sole mutation entry point for seat state.
func (l *Ledger) CompareAndSwap(ctx context.Context, scheduleID, seatID string, expectedVersion uint64, newStatus model.SeatStatus, meta model.SeatMeta) (model.Seat, error) {
	slot, err := l.slot(scheduleID, seatID)
	if err != nil {
		return model.Seat{}, err
	}

	slot.mu.Lock()
	if slot.seat.Version != expectedVersion {
		cur := slot.seat.Version
		slot.mu.Unlock()
		return model.Seat{}, &VersionConflictError{
			ScheduleID: scheduleID,
			SeatID:     seatID,
			Expected:   expectedVersion,
			Current:    cur,
		}
	}
	prev := slot.seat.Status
	slot.seat.Status = newStatus
	slot.seat.HolderID = meta.HolderID
	slot.seat.HoldExpiresAt = meta.HoldExpiresAt
	slot.seat.BookingID = meta.BookingID
	slot.seat.Version++
	slot.seat.UpdatedAt = time.Now().UTC()
	if meta.ObservedAt.IsZero() {
		slot.seat.WriteArrivedAt = slot.seat.UpdatedAt
	} else {
		slot.seat.WriteArrivedAt = meta.ObservedAt
	}
	seat := slot.seat
	slot.mu.Unlock()

	l.applyCountDelta(scheduleID, prev, newStatus)

	if l.journal != nil {
		if err := l.journal.SaveSeat(ctx, seat); err != nil {
			log.Printf("ledger: journal save seat %s/%s failed: %v", scheduleID, seatID, err)
		}
	}
	return seat, nil
}

// Snapshot returns every seat of a schedule, sorted by seat ID, as a
// point-in-time copy.  Individual seats are read under their own lock,
// so the snapshot is per-seat consistent but not cross-seat atomic.
func (l *Ledger) Snapshot(scheduleID string) ([]model.Seat, error) {
	st, err := l.schedule(scheduleID)
	if err != nil {
		return nil, err
	}
	seats := make([]model.Seat, 0, len(st.seats))
	for _, slot := range st.seats {
		slot.mu.RLock()
		seats = append(seats, slot.seat)
		slot.mu.RUnlock()
	}
	sort.Slice(seats, func(i, j int) bool { return seats[i].ID < seats[j].ID })
	return seats, nil
}

// Schedule returns the catalog info the ledger was provisioned with.
func (l *Ledger) Schedule(scheduleID string) (model.VehicleSchedule, error) {
	st, err := l.schedule(scheduleID)
	if err != nil {
		return model.VehicleSchedule{}, err
	}
	return st.info, nil
}

// Inventory returns the schedule-level allocation rollup.
func (l *Ledger) Inventory(scheduleID string) (model.InventoryCounts, error) {
	st, err := l.schedule(scheduleID)
	if err != nil {
		return model.InventoryCounts{}, err
	}
	st.mu.Lock()
	inv := st.inv
	st.mu.Unlock()
	return inv, nil
}

// CompareAndSwapInventory adjusts a schedule's total capacity by delta
// under the same optimistic discipline as seat writes.  It backs the
// update-quantity offline mutation issued by operator channels.
// observedAt follows the SeatMeta.ObservedAt convention: zero means the
// write is online and the apply time is the arrival time.
func (l *Ledger) CompareAndSwapInventory(ctx context.Context, scheduleID string, expectedVersion uint64, delta int, observedAt time.Time) (model.InventoryCounts, error) {
	st, err := l.schedule(scheduleID)
	if err != nil {
		return model.InventoryCounts{}, err
	}
	st.mu.Lock()
	if st.inv.Version != expectedVersion {
		cur := st.inv.Version
		st.mu.Unlock()
		return model.InventoryCounts{}, &VersionConflictError{
			ScheduleID: scheduleID,
			SeatID:     "",
			Expected:   expectedVersion,
			Current:    cur,
		}
	}
	if st.inv.Total+delta < 0 {
		st.mu.Unlock()
		return model.InventoryCounts{}, errors.New("capacity adjustment would be negative")
	}
	st.inv.Total += delta
	st.inv.Available += delta
	st.inv.Version++
	st.inv.UpdatedAt = time.Now().UTC()
	if observedAt.IsZero() {
		st.inv.WriteArrivedAt = st.inv.UpdatedAt
	} else {
		st.inv.WriteArrivedAt = observedAt
	}
	inv := st.inv
	st.mu.Unlock()

	if l.journal != nil {
		if err := l.journal.SaveInventory(ctx, inv); err != nil {
			log.Printf("ledger: journal save inventory %s failed: %v", scheduleID, err)
		}
	}
	return inv, nil
}

// InventoryVersion returns just the current inventory version, used by
// replay to build conflict records for update-quantity mutations.
func (l *Ledger) InventoryVersion(scheduleID string) (uint64, error) {
	inv, err := l.Inventory(scheduleID)
	if err != nil {
		return 0, err
	}
	return inv.Version, nil
}

func (l *Ledger) schedule(scheduleID string) (*scheduleState, error) {
	l.mu.RLock()
	st, ok := l.schedules[scheduleID]
	l.mu.RUnlock()
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return st, nil
}

func (l *Ledger) slot(scheduleID, seatID string) (*seatSlot, error) {
	st, err := l.schedule(scheduleID)
	if err != nil {
		return nil, err
	}
	slot, ok := st.seats[seatID]
	if !ok {
		return nil, ErrSeatNotFound
	}
	return slot, nil
}

// applyCountDelta moves one seat between status buckets in the rollup.
// Inventory version does not advance here: only explicit capacity
// adjustments are versioned writes, rollups are derived state.
func (l *Ledger) applyCountDelta(scheduleID string, from, to model.SeatStatus) {
	if from == to {
		return
	}
	st, err := l.schedule(scheduleID)
	if err != nil {
		return
	}
	st.mu.Lock()
	bucket(&st.inv, from, -1)
	bucket(&st.inv, to, +1)
	st.inv.UpdatedAt = time.Now().UTC()
	st.mu.Unlock()
}

func bucket(inv *model.InventoryCounts, s model.SeatStatus, d int) {
	switch s {
	case model.SeatAvailable:
		inv.Available += d
	case model.SeatHeld:
		inv.Held += d
	case model.SeatBooked:
		inv.Booked += d
	case model.SeatBlocked:
		inv.Blocked += d
	}
}
