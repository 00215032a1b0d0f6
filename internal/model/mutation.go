package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ChannelType identifies the kind of sales channel a mutation or request
// originates from.  Agent terminals and park kiosks can operate offline;
// operator back-offices are assumed connected but still replay through
// the same queue after an outage.
type ChannelType string

const (
	ChannelAgent    ChannelType = "AGENT"
	ChannelPark     ChannelType = "PARK"
	ChannelOperator ChannelType = "OPERATOR"
)

// MutationOp enumerates the closed set of operations a disconnected
// channel may queue.  Each op has its own strongly typed payload; the
// pairing is enforced by DecodePayload at the boundary.
type MutationOp string

const (
	OpHold           MutationOp = "hold"
	OpRelease        MutationOp = "release"
	OpBook           MutationOp = "book"
	OpUpdateQuantity MutationOp = "update-quantity"
)

// ErrUnknownOp is returned when a queued mutation names an operation
// outside the closed set.
var ErrUnknownOp = errors.New("unknown mutation op")

// HoldPayload is the payload for OpHold.
type HoldPayload struct {
	HolderID   string `json:"holder_id"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// ReleasePayload is the payload for OpRelease.
type ReleasePayload struct {
	HolderID string `json:"holder_id"`
}

// BookPayload is the payload for OpBook.
type BookPayload struct {
	HolderID   string `json:"holder_id"`
	BookingID  string `json:"booking_id"`
	CustomerID string `json:"customer_id"`
}

// QuantityPayload is the payload for OpUpdateQuantity.  Delta adjusts the
// schedule's total capacity (positive adds seats, negative withdraws).
type QuantityPayload struct {
	Delta int `json:"delta"`
}

// OfflineMutation is an intent recorded by a disconnected channel node
// and replayed against the authority once connectivity returns.  Exactly
// one of the payload pointers is set, matching Op.
//
// BaseVersion is the seat (or inventory) version the origin believed was
// current when it issued the mutation; replay uses it as the CAS
// precondition, and a mismatch raises a SyncConflict.
//
// IssuedAt is the origin's local clock and is informational only;
// conflict resolution orders by the authority's clock.
type OfflineMutation struct {
	ID          string
	OriginID    string
	OriginType  ChannelType
	Op          MutationOp
	ScheduleID  string
	SeatID      string
	BaseVersion uint64
	Hold        *HoldPayload
	Release     *ReleasePayload
	Book        *BookPayload
	Quantity    *QuantityPayload
	IssuedAt    time.Time
	EnqueuedAt  time.Time
}

// DecodePayload parses the raw JSON payload of a queued mutation into
// the typed field matching op.  Raw dynamic payloads never travel past
// this boundary.
func (m *OfflineMutation) DecodePayload(raw json.RawMessage) error {
	switch m.Op {
	case OpHold:
		var p HoldPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode hold payload: %w", err)
		}
		if p.HolderID == "" {
			return errors.New("hold payload: holder_id is required")
		}
		m.Hold = &p
	case OpRelease:
		var p ReleasePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode release payload: %w", err)
		}
		if p.HolderID == "" {
			return errors.New("release payload: holder_id is required")
		}
		m.Release = &p
	case OpBook:
		var p BookPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode book payload: %w", err)
		}
		if p.HolderID == "" || p.BookingID == "" {
			return errors.New("book payload: holder_id and booking_id are required")
		}
		m.Book = &p
	case OpUpdateQuantity:
		var p QuantityPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode update-quantity payload: %w", err)
		}
		if p.Delta == 0 {
			return errors.New("update-quantity payload: delta must be non-zero")
		}
		m.Quantity = &p
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, m.Op)
	}
	return nil
}

// EncodePayload is the inverse of DecodePayload, used when archiving a
// consumed mutation.
func (m *OfflineMutation) EncodePayload() (json.RawMessage, error) {
	switch m.Op {
	case OpHold:
		return json.Marshal(m.Hold)
	case OpRelease:
		return json.Marshal(m.Release)
	case OpBook:
		return json.Marshal(m.Book)
	case OpUpdateQuantity:
		return json.Marshal(m.Quantity)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownOp, m.Op)
}
