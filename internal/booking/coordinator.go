// Package booking converts held seats into confirmed bookings tied to a
// payment outcome.  There is no cross-seat atomic transaction primitive:
// confirmation swaps seats one by one and applies explicit, idempotent
// compensations when a later swap fails.
package booking

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/transitware/seat-allocation/internal/hold"
	"github.com/transitware/seat-allocation/internal/ledger"
	"github.com/transitware/seat-allocation/internal/model"
	"github.com/transitware/seat-allocation/internal/notify"
)

// ErrBookingNotFound is returned for unknown booking identities.
var ErrBookingNotFound = errors.New("booking not found")

// ErrHoldExpired is returned when confirmation finds a referenced seat
// without a live hold: either the TTL lapsed or the version moved under
// a racing writer.  Distinct from payment failure so the caller can
// offer alternate seats instead of refunding.
var ErrHoldExpired = errors.New("hold expired")

// ErrPaymentFailed is returned when the external payment boundary
// reports failure.  Seat unavailability is never the cause.
var ErrPaymentFailed = errors.New("payment failed")

// ErrInvalidTransition is returned when an operation is not legal from
// the booking's current status.
var ErrInvalidTransition = errors.New("invalid booking transition")

// PaymentResolver is the injected payment boundary.  Resolve returns
// nil when payment for the booking is captured; any error counts as
// failure.  The core treats it as opaque and never retries it.
type PaymentResolver interface {
	Resolve(ctx context.Context, b model.Booking, paymentRef string) error
}

// Store is the optional persistence hook for bookings.  Like the seat
// journal, a store failure is logged, not propagated: the in-memory
// state is authoritative.
type Store interface {
	SaveBooking(ctx context.Context, b model.Booking) error
}

// Coordinator drives the booking state machine:
// Pending -> {Confirmed, Cancelled}; Confirmed -> {Completed, Cancelled}.
type Coordinator struct {
	ledger   *ledger.Ledger
	holds    *hold.Manager
	payments PaymentResolver
	pub      notify.Publisher // may be nil
	store    Store            // may be nil

	mu       sync.Mutex
	bookings map[string]model.Booking
}

// NewCoordinator wires the coordinator.  payments must be non-nil.
func NewCoordinator(l *ledger.Ledger, h *hold.Manager, payments PaymentResolver, pub notify.Publisher, store Store) *Coordinator {
	if payments == nil {
		panic("nil PaymentResolver passed to NewCoordinator")
	}
	return &Coordinator{
		ledger:   l,
		holds:    h,
		payments: payments,
		pub:      pub,
		store:    store,
		bookings: make(map[string]model.Booking),
	}
}

// Create opens a PENDING booking over seats the holder currently holds.
// Every referenced seat must carry an active, unexpired hold owned by
// holderID; the total price is read from the ledger.
func (c *Coordinator) Create(ctx context.Context, scheduleID string, seatIDs []string, customer model.Customer, holderID string) (model.Booking, error) {
	if len(seatIDs) == 0 {
		return model.Booking{}, errors.New("no seat ids provided")
	}
	ids := uniqueSorted(seatIDs)

	var total uint32
	for _, id := range ids {
		h, ok := c.holds.ActiveHold(scheduleID, id)
		if !ok || h.HolderID != holderID {
			return model.Booking{}, fmt.Errorf("%w: seat %s has no active hold for holder %s", ErrHoldExpired, id, holderID)
		}
		seat, err := c.ledger.Get(scheduleID, id)
		if err != nil {
			return model.Booking{}, err
		}
		total += seat.PriceCents
	}

	now := time.Now().UTC()
	suffix, err := shortID()
	if err != nil {
		return model.Booking{}, err
	}
	b := model.Booking{
		ID:         "BKG-" + suffix,
		Reference:  model.BookingReference(now, suffix[:4]),
		ScheduleID: scheduleID,
		SeatIDs:    ids,
		Customer:   customer,
		HolderID:   holderID,
		TotalCents: total,
		Status:     model.BookingPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, id := range ids {
		c.holds.AttachBooking(scheduleID, id, holderID, b.ID)
	}
	c.put(ctx, b)
	return b, nil
}

// Confirm resolves payment and, on success, atomically moves every
// referenced seat HELD -> BOOKED using each hold's recorded version.
// Payment completes before any ledger write; no lock is held across the
// external call.  If any seat swap fails, seats that already swapped
// are compensated back to AVAILABLE and the booking is cancelled.
func (c *Coordinator) Confirm(ctx context.Context, bookingID, paymentRef string) (model.Booking, error) {
	b, err := c.get(bookingID)
	if err != nil {
		return model.Booking{}, err
	}
	if b.Status != model.BookingPending {
		return b, fmt.Errorf("%w: confirm from %s", ErrInvalidTransition, b.Status)
	}

	// Gather hold versions up front; a missing hold fails fast before
	// money moves.
	type target struct {
		seatID  string
		version uint64
	}
	targets := make([]target, 0, len(b.SeatIDs))
	for _, id := range b.SeatIDs {
		h, ok := c.holds.ActiveHold(b.ScheduleID, id)
		if !ok || h.HolderID != b.HolderID {
			return b, fmt.Errorf("%w: seat %s", ErrHoldExpired, id)
		}
		targets = append(targets, target{seatID: id, version: h.SeatVersion})
	}

	if err := c.payments.Resolve(ctx, b, paymentRef); err != nil {
		log.Printf("booking: payment for %s failed: %v", b.ID, err)
		c.releaseAll(ctx, b)
		c.transition(ctx, &b, model.BookingCancelled)
		return b, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}

	booked := make([]model.Seat, 0, len(targets))
	for _, t := range targets {
		seat, err := c.ledger.CompareAndSwap(ctx, b.ScheduleID, t.seatID, t.version, model.SeatBooked, model.SeatMeta{
			HolderID:  b.HolderID,
			BookingID: b.ID,
		})
		if err != nil {
			// A moved version means the hold lapsed underneath us (the
			// sweeper won the race).  Undo the seats already booked and
			// give the whole booking up.
			c.compensate(ctx, b, booked)
			c.releaseAll(ctx, b)
			c.transition(ctx, &b, model.BookingCancelled)
			if errors.Is(err, ledger.ErrVersionConflict) {
				return b, fmt.Errorf("%w: seat %s", ErrHoldExpired, t.seatID)
			}
			return b, err
		}
		booked = append(booked, seat)
		c.holds.Drop(b.ScheduleID, t.seatID)
	}

	c.transition(ctx, &b, model.BookingConfirmed)
	if c.pub != nil {
		ev := notify.BookingConfirmedEvent{
			BookingID:    b.ID,
			Reference:    b.Reference,
			ScheduleID:   b.ScheduleID,
			CustomerID:   b.Customer.ID,
			CustomerName: b.Customer.Name,
			SeatIDs:      b.SeatIDs,
			TotalCents:   b.TotalCents,
			ConfirmedAt:  b.UpdatedAt.Format(time.RFC3339),
		}
		if err := c.pub.Publish(ctx, notify.QueueBookingConfirmed, ev); err != nil {
			log.Printf("booking: publish confirmation for %s failed: %v", b.ID, err)
		}
	}
	return b, nil
}

// Cancel aborts a booking from PENDING or CONFIRMED and returns every
// referenced seat to AVAILABLE.  Cancelling a terminal booking fails
// with ErrInvalidTransition.
func (c *Coordinator) Cancel(ctx context.Context, bookingID string) (model.Booking, error) {
	b, err := c.get(bookingID)
	if err != nil {
		return model.Booking{}, err
	}
	switch b.Status {
	case model.BookingPending:
		c.releaseAll(ctx, b)
	case model.BookingConfirmed:
		// Booked seats have no hold anymore; free them at their current
		// version with a small retry against unrelated concurrent writes.
		for _, id := range b.SeatIDs {
			seatID := id
			err := ledger.DefaultRetry.Do(ctx, func() error {
				seat, err := c.ledger.Get(b.ScheduleID, seatID)
				if err != nil {
					return err
				}
				if seat.BookingID != b.ID || seat.Status != model.SeatBooked {
					return nil // already released or re-allocated
				}
				_, err = c.ledger.CompareAndSwap(ctx, b.ScheduleID, seatID, seat.Version, model.SeatAvailable, model.SeatMeta{})
				return err
			})
			if err != nil {
				log.Printf("booking: cancel release seat %s/%s failed: %v", b.ScheduleID, seatID, err)
			}
		}
	default:
		return b, fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, b.Status)
	}
	c.transition(ctx, &b, model.BookingCancelled)
	return b, nil
}

// Complete marks a confirmed booking as completed once the journey has
// concluded.  Seats stay BOOKED; the schedule is over.
func (c *Coordinator) Complete(ctx context.Context, bookingID string) (model.Booking, error) {
	b, err := c.get(bookingID)
	if err != nil {
		return model.Booking{}, err
	}
	if b.Status != model.BookingConfirmed {
		return b, fmt.Errorf("%w: complete from %s", ErrInvalidTransition, b.Status)
	}
	c.transition(ctx, &b, model.BookingCompleted)
	return b, nil
}

// Get returns a booking by ID.
func (c *Coordinator) Get(bookingID string) (model.Booking, error) {
	return c.get(bookingID)
}

// compensate rolls back seats that were swapped to BOOKED before a
// later seat in the batch failed.  Each rollback CASes at the booked
// version; a conflict means someone else already moved the seat and the
// compensation is complete for it.
func (c *Coordinator) compensate(ctx context.Context, b model.Booking, booked []model.Seat) {
	for _, s := range booked {
		if _, err := c.ledger.CompareAndSwap(ctx, b.ScheduleID, s.ID, s.Version, model.SeatAvailable, model.SeatMeta{}); err != nil && !errors.Is(err, ledger.ErrVersionConflict) {
			log.Printf("booking: compensate seat %s/%s failed: %v", b.ScheduleID, s.ID, err)
		}
	}
}

func (c *Coordinator) releaseAll(ctx context.Context, b model.Booking) {
	for _, id := range b.SeatIDs {
		if err := c.holds.ReleaseHold(ctx, b.ScheduleID, id, b.HolderID); err != nil {
			log.Printf("booking: release hold %s/%s failed: %v", b.ScheduleID, id, err)
		}
	}
}

func (c *Coordinator) transition(ctx context.Context, b *model.Booking, to model.BookingStatus) {
	b.Status = to
	b.UpdatedAt = time.Now().UTC()
	c.put(ctx, *b)
}

func (c *Coordinator) put(ctx context.Context, b model.Booking) {
	c.mu.Lock()
	c.bookings[b.ID] = b
	c.mu.Unlock()
	if c.store != nil {
		if err := c.store.SaveBooking(ctx, b); err != nil {
			log.Printf("booking: persist %s failed: %v", b.ID, err)
		}
	}
}

func (c *Coordinator) get(bookingID string) (model.Booking, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.bookings[bookingID]
	if !ok {
		return model.Booking{}, ErrBookingNotFound
	}
	return b, nil
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; !ok && id != "" {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	// fixed sorted order keeps multi-seat CAS acquisition deadlock-free
	sort.Strings(out)
	return out
}

func shortID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
