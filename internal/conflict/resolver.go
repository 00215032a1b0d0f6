// Package conflict replays queued offline mutations against the ledger
// and arbitrates version conflicts.  Booking mutations are not
// commutative — two holds for the same seat cannot both win — so
// resolution picks exactly one outcome and always tells the losing side.
package conflict

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
	"github.com/transitware/seat-allocation/internal/syncqueue"
)

// ErrConflictNotFound is returned for unknown conflict identities.
var ErrConflictNotFound = errors.New("conflict not found")

// ErrUnresolved is returned when an operation requires a conflict to be
// closed but it is still manual-pending.
var ErrUnresolved = errors.New("sync conflict unresolved")

// Store is the optional persistence hook for conflict records.
type Store interface {
	SaveConflict(ctx context.Context, c model.SyncConflict) error
}

// Archive optionally records consumed mutations for audit.  outcome is
// "applied", "discarded", "rejected" or "parked".
type Archive interface {
	ArchiveMutation(ctx context.Context, m model.OfflineMutation, outcome string) error
}

// ReplayReport summarizes one replay pass over an origin's backlog.
type ReplayReport struct {
	OriginID   string `json:"origin_id"`
	Applied    int    `json:"applied"`
	Conflicted int    `json:"conflicted"`
	Rejected   int    `json:"rejected"`
	Skipped    int    `json:"skipped"`
}

// Resolver consumes the offline sync queue.  It owns SyncConflict
// records from creation until they are closed; under the manual
// strategy that can be long after the originating replay.
type Resolver struct {
	ledger   *ledger.Ledger
	holds    *hold.Manager
	queue    syncqueue.Queue
	strategy model.Strategy
	pub      notify.Publisher // may be nil
	store    Store            // may be nil
	archive  Archive          // may be nil

	mu        sync.Mutex
	conflicts map[string]model.SyncConflict
	parked    map[string]model.OfflineMutation // manual-pending mutations by conflict ID
	seen      map[string]struct{}              // consumed mutation IDs, for idempotent replay
}

// NewResolver wires a resolver with the configured strategy.
func NewResolver(l *ledger.Ledger, h *hold.Manager, q syncqueue.Queue, strategy model.Strategy, pub notify.Publisher, store Store, archive Archive) *Resolver {
	return &Resolver{
		ledger:    l,
		holds:     h,
		queue:     q,
		strategy:  strategy,
		pub:       pub,
		store:     store,
		archive:   archive,
		conflicts: make(map[string]model.SyncConflict),
		parked:    make(map[string]model.OfflineMutation),
		seen:      make(map[string]struct{}),
	}
}

// Replay drains up to batchSize mutations for one origin and applies
// each against the ledger at its recorded base version.  Mutations from
// one origin apply in enqueue order.  Replaying a mutation that was
// already consumed (ack lost, retry) is a no-op by mutation identity.
func (r *Resolver) Replay(ctx context.Context, originID string, batchSize int) (ReplayReport, error) {
	report := ReplayReport{OriginID: originID}
	batch, err := r.queue.Drain(ctx, originID, batchSize)
	if err != nil {
		return report, fmt.Errorf("drain origin %s: %w", originID, err)
	}
	for _, m := range batch {
		if r.alreadySeen(m.ID) {
			report.Skipped++
			r.ack(ctx, m)
			continue
		}
		switch outcome := r.replayOne(ctx, m); outcome {
		case outcomeApplied:
			report.Applied++
		case outcomeConflicted:
			report.Conflicted++
		case outcomeRejected:
			report.Rejected++
		}
	}
	return report, nil
}

// ReplayAll replays every origin with a backlog and returns one report
// per origin.  Origins are independent; an error on one origin does not
// stop the others.
func (r *Resolver) ReplayAll(ctx context.Context, batchSize int) ([]ReplayReport, error) {
	origins, err := r.queue.Origins(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]ReplayReport, 0, len(origins))
	for _, origin := range origins {
		rep, err := r.Replay(ctx, origin, batchSize)
		if err != nil {
			log.Printf("replay: origin %s failed: %v", origin, err)
			continue
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

type outcome int

const (
	outcomeApplied outcome = iota
	outcomeConflicted
	outcomeRejected
)

func (r *Resolver) replayOne(ctx context.Context, m model.OfflineMutation) outcome {
	err := r.apply(ctx, m, m.BaseVersion)
	if err == nil {
		r.consume(ctx, m, "applied")
		return outcomeApplied
	}

	var vc *ledger.VersionConflictError
	if !errors.As(err, &vc) {
		// Unknown seat, malformed payload, negative capacity: the
		// mutation can never apply.  Reject permanently.
		log.Printf("replay: mutation %s from %s rejected: %v", m.ID, m.OriginID, err)
		r.consume(ctx, m, "rejected")
		return outcomeRejected
	}

	c := r.newConflict(m, vc)
	switch r.strategy {
	case model.LastWriteWins:
		r.resolveLastWriteWins(ctx, &c, m)
	case model.FirstWriteWins:
		// The authority's write got there first by definition: the
		// queued mutation arrived later and is discarded.
		r.close(ctx, &c, model.AppliedRemote)
		r.consume(ctx, m, "discarded")
		r.notifyOutcome(ctx, c, m.OriginID, false)
	case model.Manual:
		r.mu.Lock()
		r.parked[c.ID] = m
		r.mu.Unlock()
		r.saveConflict(ctx, c)
		// Consumed from the queue but not applied: the parked copy is
		// now owned by the resolver until an operator decides.
		r.consume(ctx, m, "parked")
	}
	return outcomeConflicted
}

// resolveLastWriteWins orders both writes by the authority's clock: the
// arrival time of the write that produced the standing state versus the
// time the queued mutation reached the authority.  Arrival time, not
// apply time, keeps the ordering stable when several queued mutations
// for the same seat are replayed in one batch.  The origin's local
// clock is never trusted for ordering.
func (r *Resolver) resolveLastWriteWins(ctx context.Context, c *model.SyncConflict, m model.OfflineMutation) {
	if m.EnqueuedAt.After(c.RemoteUpdatedAt) {
		// The queued write is newer: force it through at the current
		// version.  The displaced holder (if any) is notified below.
		displaced := r.displacedHolder(m)
		if err := r.forceApply(ctx, m); err != nil {
			log.Printf("replay: force-apply of %s failed: %v; keeping authority state", m.ID, err)
			r.close(ctx, c, model.AppliedRemote)
			r.consume(ctx, m, "discarded")
			r.notifyOutcome(ctx, *c, m.OriginID, false)
			return
		}
		r.close(ctx, c, model.AppliedLocal)
		r.consume(ctx, m, "applied")
		r.notifyOutcome(ctx, *c, m.OriginID, true)
		if displaced != "" && displaced != m.OriginID {
			r.notifyOutcome(ctx, *c, displaced, false)
		}
		return
	}
	r.close(ctx, c, model.AppliedRemote)
	r.consume(ctx, m, "discarded")
	r.notifyOutcome(ctx, *c, m.OriginID, false)
}

// ResolveManually closes a manual-pending conflict.  keepLocal applies
// the parked origin mutation at the current version; otherwise the
// authority's state stands.  Either way the losing side is notified.
func (r *Resolver) ResolveManually(ctx context.Context, conflictID string, keepLocal bool) (model.SyncConflict, error) {
	r.mu.Lock()
	c, ok := r.conflicts[conflictID]
	if !ok {
		r.mu.Unlock()
		return model.SyncConflict{}, ErrConflictNotFound
	}
	if !c.Open() {
		r.mu.Unlock()
		return c, fmt.Errorf("conflict %s already resolved as %s", conflictID, c.Resolution)
	}
	m, parked := r.parked[conflictID]
	delete(r.parked, conflictID)
	r.mu.Unlock()

	if keepLocal && parked {
		if err := r.forceApply(ctx, m); err != nil {
			// Re-park so the operator can retry once the seat settles.
			r.mu.Lock()
			r.parked[conflictID] = m
			r.mu.Unlock()
			return c, fmt.Errorf("%w: apply parked mutation %s: %v", ErrUnresolved, m.ID, err)
		}
		r.close(ctx, &c, model.AppliedLocal)
		r.notifyOutcome(ctx, c, c.OriginID, true)
		return c, nil
	}
	r.close(ctx, &c, model.AppliedRemote)
	r.notifyOutcome(ctx, c, c.OriginID, false)
	return c, nil
}

// Conflicts lists conflict records, optionally only open ones, sorted
// by creation time.
func (r *Resolver) Conflicts(onlyOpen bool) []model.SyncConflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.SyncConflict, 0, len(r.conflicts))
	for _, c := range r.conflicts {
		if onlyOpen && !c.Open() {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Conflict returns one conflict record by ID.
func (r *Resolver) Conflict(conflictID string) (model.SyncConflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conflicts[conflictID]
	if !ok {
		return model.SyncConflict{}, ErrConflictNotFound
	}
	return c, nil
}

// apply executes one mutation against the ledger at the given expected
// version.  It is the only translation point from queued intents to
// ledger writes.
func (r *Resolver) apply(ctx context.Context, m model.OfflineMutation, expected uint64) error {
	switch m.Op {
	case model.OpHold:
		ttl := time.Duration(m.Hold.TTLSeconds) * time.Second
		if ttl <= 0 {
			return errors.New("hold mutation: non-positive ttl")
		}
		now := time.Now().UTC()
		expiresAt := now.Add(ttl)
		seat, err := r.ledger.CompareAndSwap(ctx, m.ScheduleID, m.SeatID, expected, model.SeatHeld, model.SeatMeta{
			HolderID:      m.Hold.HolderID,
			HoldExpiresAt: &expiresAt,
			ObservedAt:    m.EnqueuedAt,
		})
		if err != nil {
			return err
		}
		r.holds.Adopt(model.SeatHold{
			ScheduleID:  m.ScheduleID,
			SeatID:      m.SeatID,
			HolderID:    m.Hold.HolderID,
			SeatVersion: seat.Version,
			CreatedAt:   now,
			ExpiresAt:   expiresAt,
		})
		return nil
	case model.OpRelease:
		_, err := r.ledger.CompareAndSwap(ctx, m.ScheduleID, m.SeatID, expected, model.SeatAvailable, model.SeatMeta{
			ObservedAt: m.EnqueuedAt,
		})
		if err == nil {
			r.holds.Drop(m.ScheduleID, m.SeatID)
		}
		return err
	case model.OpBook:
		_, err := r.ledger.CompareAndSwap(ctx, m.ScheduleID, m.SeatID, expected, model.SeatBooked, model.SeatMeta{
			HolderID:   m.Book.HolderID,
			BookingID:  m.Book.BookingID,
			ObservedAt: m.EnqueuedAt,
		})
		if err == nil {
			r.holds.Drop(m.ScheduleID, m.SeatID)
		}
		return err
	case model.OpUpdateQuantity:
		_, err := r.ledger.CompareAndSwapInventory(ctx, m.ScheduleID, expected, m.Quantity.Delta, m.EnqueuedAt)
		return err
	}
	return fmt.Errorf("%w: %q", model.ErrUnknownOp, m.Op)
}

// forceApply re-reads the current version and applies the mutation at
// it, retrying briefly if other writers keep moving the seat.
func (r *Resolver) forceApply(ctx context.Context, m model.OfflineMutation) error {
	return ledger.DefaultRetry.Do(ctx, func() error {
		var current uint64
		if m.Op == model.OpUpdateQuantity {
			v, err := r.ledger.InventoryVersion(m.ScheduleID)
			if err != nil {
				return err
			}
			current = v
		} else {
			seat, err := r.ledger.Get(m.ScheduleID, m.SeatID)
			if err != nil {
				return err
			}
			current = seat.Version
		}
		return r.apply(ctx, m, current)
	})
}

func (r *Resolver) newConflict(m model.OfflineMutation, vc *ledger.VersionConflictError) model.SyncConflict {
	now := time.Now().UTC()
	// RemoteUpdatedAt carries the arrival time of the standing write.
	// If it were the apply time instead, a batch replaying two queued
	// writes would let the first one applied beat a later-arrived one.
	remoteUpdatedAt := now
	if m.Op != model.OpUpdateQuantity {
		if seat, err := r.ledger.Get(m.ScheduleID, m.SeatID); err == nil {
			remoteUpdatedAt = seat.WriteArrivedAt
		}
	} else if inv, err := r.ledger.Inventory(m.ScheduleID); err == nil {
		remoteUpdatedAt = inv.WriteArrivedAt
	}
	c := model.SyncConflict{
		ID:              "CONF-" + randomSuffix(),
		ScheduleID:      m.ScheduleID,
		SeatID:          m.SeatID,
		MutationID:      m.ID,
		OriginID:        m.OriginID,
		LocalVersion:    vc.Expected,
		RemoteVersion:   vc.Current,
		LocalUpdatedAt:  m.EnqueuedAt,
		RemoteUpdatedAt: remoteUpdatedAt,
		Strategy:        r.strategy,
		Resolution:      model.ManualPending,
		CreatedAt:       now,
	}
	r.mu.Lock()
	r.conflicts[c.ID] = c
	r.mu.Unlock()
	return c
}

func (r *Resolver) close(ctx context.Context, c *model.SyncConflict, res model.Resolution) {
	now := time.Now().UTC()
	c.Resolution = res
	c.ResolvedAt = &now
	r.mu.Lock()
	r.conflicts[c.ID] = *c
	r.mu.Unlock()
	r.saveConflict(ctx, *c)
}

func (r *Resolver) saveConflict(ctx context.Context, c model.SyncConflict) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveConflict(ctx, c); err != nil {
		log.Printf("replay: persist conflict %s failed: %v", c.ID, err)
	}
}

// displacedHolder reports who currently holds the contested seat, so a
// winning offline mutation can notify the party it evicts.
func (r *Resolver) displacedHolder(m model.OfflineMutation) string {
	if m.Op == model.OpUpdateQuantity {
		return ""
	}
	seat, err := r.ledger.Get(m.ScheduleID, m.SeatID)
	if err != nil {
		return ""
	}
	return seat.HolderID
}

func (r *Resolver) notifyOutcome(ctx context.Context, c model.SyncConflict, originID string, won bool) {
	if r.pub == nil {
		return
	}
	resolvedAt := ""
	if c.ResolvedAt != nil {
		resolvedAt = c.ResolvedAt.Format(time.RFC3339)
	}
	ev := notify.ConflictResolvedEvent{
		ConflictID: c.ID,
		OriginID:   originID,
		MutationID: c.MutationID,
		ScheduleID: c.ScheduleID,
		SeatID:     c.SeatID,
		Resolution: string(c.Resolution),
		Won:        won,
		ResolvedAt: resolvedAt,
	}
	if err := r.pub.Publish(ctx, notify.QueueConflictResolved, ev); err != nil {
		log.Printf("replay: notify origin %s about conflict %s failed: %v", originID, c.ID, err)
	}
}

// consume marks a mutation as handled exactly once: idempotency record,
// queue ack, archive.
func (r *Resolver) consume(ctx context.Context, m model.OfflineMutation, outcome string) {
	r.mu.Lock()
	r.seen[m.ID] = struct{}{}
	r.mu.Unlock()
	r.ack(ctx, m)
	if r.archive != nil {
		if err := r.archive.ArchiveMutation(ctx, m, outcome); err != nil {
			log.Printf("replay: archive mutation %s failed: %v", m.ID, err)
		}
	}
}

func (r *Resolver) ack(ctx context.Context, m model.OfflineMutation) {
	if err := r.queue.Ack(ctx, m.OriginID, m.ID); err != nil && !errors.Is(err, syncqueue.ErrUnknownMutation) {
		log.Printf("replay: ack mutation %s failed: %v", m.ID, err)
	}
}

func (r *Resolver) alreadySeen(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.seen[id]
	return ok
}

func randomSuffix() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure is unrecoverable for ID generation
		panic(err)
	}
	return hex.EncodeToString(b)
}
