// Package ledger holds the authoritative per-schedule record of every
// seat's allocation state and version.  All mutations funnel through
// CompareAndSwap; it is the only place a seat's version advances.
package ledger

import (
	"errors"
	"fmt"
)

// ErrSeatNotFound is returned when a seat identity is unknown within a
// schedule.  Handlers should translate this into an HTTP 404 response.
var ErrSeatNotFound = errors.New("seat not found")

// ErrScheduleNotFound is returned when no ledger has been provisioned
// for the requested schedule.
var ErrScheduleNotFound = errors.New("schedule not found")

// ErrVersionConflict is the sentinel matched by errors.Is when an
// optimistic precondition fails.  Callers must re-read and retry, or
// escalate to the conflict resolver.
var ErrVersionConflict = errors.New("version conflict")

// VersionConflictError carries both sides of a failed compare-and-swap
// so the conflict resolver can record them without a second read.
type VersionConflictError struct {
	ScheduleID string
	SeatID     string
	Expected   uint64
	Current    uint64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on seat %s/%s: expected %d, current %d",
		e.ScheduleID, e.SeatID, e.Expected, e.Current)
}

// Unwrap makes errors.Is(err, ErrVersionConflict) hold for this type.
func (e *VersionConflictError) Unwrap() error { return ErrVersionConflict }
