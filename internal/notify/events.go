// Package notify defines the outbound notification boundary.  The core
// emits events for an external delivery mechanism; whether they travel
// over RabbitMQ (production) or into a test recorder is the caller's
// choice.  A losing sync origin must always be told it lost — silent
// drops are not allowed, since the origin may still trust a locally
// cached hold.
package notify

import "context"

// Queue names events are published under.
const (
	QueueHoldExpired      = "seat.hold_expired"
	QueueBookingConfirmed = "booking.confirmed"
	QueueConflictResolved = "sync.conflict_resolved"
)

// HoldExpiredEvent is emitted when the sweeper reclaims a lapsed hold.
type HoldExpiredEvent struct {
	ScheduleID string `json:"schedule_id"`
	SeatID     string `json:"seat_id"`
	HolderID   string `json:"holder_id"`
	ExpiredAt  string `json:"expired_at"`
}

// BookingConfirmedEvent is emitted when a booking reaches CONFIRMED.
// It carries enough detail for downstream consumers to notify or log
// without querying the core.
type BookingConfirmedEvent struct {
	BookingID    string   `json:"booking_id"`
	Reference    string   `json:"reference"`
	ScheduleID   string   `json:"schedule_id"`
	CustomerID   string   `json:"customer_id"`
	CustomerName string   `json:"customer_name"`
	SeatIDs      []string `json:"seat_ids"`
	TotalCents   uint32   `json:"total_cents"`
	ConfirmedAt  string   `json:"confirmed_at"`
}

// ConflictResolvedEvent tells an origin channel how a replayed mutation
// fared.  Won is false for the losing side, which must reconcile its
// local cache (e.g. release a hold it believes it still has).
type ConflictResolvedEvent struct {
	ConflictID string `json:"conflict_id"`
	OriginID   string `json:"origin_id"`
	MutationID string `json:"mutation_id"`
	ScheduleID string `json:"schedule_id"`
	SeatID     string `json:"seat_id"`
	Resolution string `json:"resolution"`
	Won        bool   `json:"won"`
	ResolvedAt string `json:"resolved_at"`
}

// Publisher delivers an event payload to a named queue.  Implementations
// must not block the request path on broker trouble: log, return the
// error, move on.
type Publisher interface {
	Publish(ctx context.Context, queue string, payload any) error
}
