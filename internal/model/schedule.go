package model

import "time"

// VehicleSchedule is the read-only catalog input supplied when a seat
// ledger is provisioned.  Route and schedule lifecycle belong to the
// catalog service; the allocation core only needs the identity, the
// departure time and the seat layout dimensions.
type VehicleSchedule struct {
	ID         string
	RouteID    string
	VehicleID  string
	DepartsAt  time.Time
	Rows       int
	Columns    int
	TotalSeats int
}

// InventoryCounts is the schedule-level rollup of seat allocation.  It
// carries its own version so capacity adjustments queued by offline
// operator channels go through the same compare-and-swap discipline as
// seat writes.
type InventoryCounts struct {
	ScheduleID string
	Total      int
	Available  int
	Held       int
	Booked     int
	Blocked    int
	Version    uint64
	UpdatedAt  time.Time
	// WriteArrivedAt mirrors Seat.WriteArrivedAt for capacity writes:
	// the time the authority first observed the adjustment that set the
	// current version, not the time replay applied it.
	WriteArrivedAt time.Time
}
