package model

import (
	"fmt"
	"time"
)

// Strategy selects how replay resolves a version conflict between a
// queued offline mutation and the authority's current seat state.
type Strategy string

const (
	// LastWriteWins keeps whichever write carries the later timestamp on
	// the authority's clock.
	LastWriteWins Strategy = "last_write_wins"
	// FirstWriteWins keeps the write that reached the authority first;
	// the queued mutation always loses.
	FirstWriteWins Strategy = "first_write_wins"
	// Manual parks the conflict for an operator to resolve; no automatic
	// ledger mutation happens.
	Manual Strategy = "manual"
)

// ParseStrategy validates a configured strategy string.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case LastWriteWins, FirstWriteWins, Manual:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown conflict strategy %q", s)
}

// Resolution is the recorded outcome of a sync conflict.
type Resolution string

const (
	// AppliedLocal means the origin's queued mutation won and was applied.
	AppliedLocal Resolution = "applied-local"
	// AppliedRemote means the authority's state was kept and the queued
	// mutation was discarded.
	AppliedRemote Resolution = "applied-remote"
	// ManualPending means the conflict awaits an operator decision.
	ManualPending Resolution = "manual-pending"
)

// SyncConflict records a base-version mismatch detected while replaying
// an offline mutation, together with how it was (or is yet to be)
// resolved.  LocalVersion/LocalUpdatedAt describe the origin's queued
// write (LocalUpdatedAt is its enqueue time).  RemoteVersion is the
// authority's version at detection time and RemoteUpdatedAt the arrival
// time of the write that produced it, so both sides are ordered on the
// same clock.  Unresolved manual conflicts persist until an operator
// closes them.
type SyncConflict struct {
	ID              string
	ScheduleID      string
	SeatID          string
	MutationID      string
	OriginID        string
	LocalVersion    uint64
	RemoteVersion   uint64
	LocalUpdatedAt  time.Time
	RemoteUpdatedAt time.Time
	Strategy        Strategy
	Resolution      Resolution
	CreatedAt       time.Time
	ResolvedAt      *time.Time
}

// Open reports whether the conflict still awaits resolution.
func (c SyncConflict) Open() bool { return c.Resolution == ManualPending }
