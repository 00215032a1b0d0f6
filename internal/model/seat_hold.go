package model

import "time"

// SeatHold represents a temporary, single-holder claim on a seat prior
// to payment.  Holds stop concurrent customers from grabbing the same
// seat during checkout and expire automatically at ExpiresAt.  An
// expired hold is logically absent even before the sweeper reclaims it.
//
// Fields:
//  ScheduleID  – schedule the held seat belongs to.
//  SeatID      – seat being held.
//  HolderID    – customer or channel session holding the seat.
//  Token       – opaque token returned to the client for correlation.
//  BookingID   – booking in progress against this hold, if any.
//  SeatVersion – seat version recorded when the hold was granted; used
//                as the CAS precondition by the sweeper and by booking
//                confirmation.
//  CreatedAt   – when the hold was granted (UTC).
//  ExpiresAt   – when the hold lapses (UTC); always after CreatedAt.
type SeatHold struct {
	ScheduleID  string
	SeatID      string
	HolderID    string
	Token       string
	BookingID   string
	SeatVersion uint64
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the hold has lapsed at the given instant.
func (h SeatHold) Expired(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}
