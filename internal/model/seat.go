package model

import "time"

// SeatStatus is the lifecycle state of a seat on a vehicle schedule.
// Transitions are total-ordered by the seat's version counter; every
// change of status goes through the ledger's compare-and-swap.
type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE" // seat can be held
	SeatHeld      SeatStatus = "HELD"      // seat is claimed by a holder, pending payment
	SeatBooked    SeatStatus = "BOOKED"    // seat belongs to a confirmed booking
	SeatBlocked   SeatStatus = "BLOCKED"   // seat is withheld from sale by the operator
)

// SeatType classifies a seat for layout and pricing purposes.
type SeatType string

const (
	SeatStandard      SeatType = "STANDARD"
	SeatPremium       SeatType = "PREMIUM"
	SeatAccessibility SeatType = "ACCESSIBILITY"
)

// Seat represents one physical seat on a vehicle schedule together with
// its allocation state.  The Version field increments on every state
// change and is the precondition for all writes (optimistic locking).
//
// Fields:
//  ID            – seat identifier, unique within a schedule (e.g. "S-12").
//  ScheduleID    – the vehicle schedule this seat belongs to.
//  Number        – printed seat label shown to passengers (e.g. "A3").
//  Row, Column   – physical position in the vehicle layout.
//  Type          – seat classification (standard, premium, accessibility).
//  Status        – current allocation status.
//  PriceCents    – seat price in minor currency units.
//  Version       – monotonically increasing change counter.
//  HolderID      – channel/customer holding the seat when Status is HELD.
//  HoldExpiresAt – expiry of the active hold, nil otherwise.
//  BookingID     – confirmed booking when Status is BOOKED.
//  UpdatedAt     – UTC timestamp of the last state change (apply time).
//  WriteArrivedAt – when the authority first observed the write that
//                  produced this state.  For online writes this equals
//                  the apply time; for replayed offline mutations it is
//                  the time the mutation reached the authority's queue,
//                  which can be long before replay applies it.  Conflict
//                  ordering uses this field, never UpdatedAt.
type Seat struct {
	ID             string
	ScheduleID     string
	Number         string
	Row            int
	Column         int
	Type           SeatType
	Status         SeatStatus
	PriceCents     uint32
	Version        uint64
	HolderID       string
	HoldExpiresAt  *time.Time
	BookingID      string
	UpdatedAt      time.Time
	WriteArrivedAt time.Time
}

// SeatMeta carries the status-dependent attributes written alongside a
// status change.  Zero values clear the corresponding seat fields, so a
// swap to AVAILABLE with an empty SeatMeta wipes holder and booking data.
// ObservedAt is the time the authority first observed the write; the
// ledger stamps the apply time when it is zero, which is correct for
// every online caller.  Replay supplies the mutation's enqueue time so
// conflict ordering is not distorted by when replay happened to run.
type SeatMeta struct {
	HolderID      string
	HoldExpiresAt *time.Time
	BookingID     string
	ObservedAt    time.Time
}
