package model

import (
	"fmt"
	"time"
)

// BookingStatus is the lifecycle state of a booking.
// Pending -> Confirmed or Cancelled; Confirmed -> Completed or Cancelled.
// Cancelled and Completed are terminal.
type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingCompleted BookingStatus = "COMPLETED"
)

// Customer identifies the passenger a booking is made for.  Contact
// details travel with the booking so a motor-park agent can reach the
// passenger without a separate customer directory lookup.
type Customer struct {
	ID    string
	Name  string
	Phone string
}

// Booking aggregates one or more seats on a single schedule into one
// purchase.  A booking moves to Confirmed only when every referenced
// seat is swapped to BOOKED in the same operation; partial confirmation
// never occurs.
//
// Fields:
//  ID          – booking identifier.
//  Reference   – human-readable reference code printed on tickets.
//  ScheduleID  – schedule all seats belong to.
//  SeatIDs     – seats covered by this booking.
//  Customer    – passenger details.
//  HolderID    – hold owner the booking was created from.
//  TotalCents  – total price across all seats, in minor units.
//  Status      – current lifecycle state.
//  CreatedAt   – creation time (UTC).
//  UpdatedAt   – last transition time (UTC).
type Booking struct {
	ID         string
	Reference  string
	ScheduleID string
	SeatIDs    []string
	Customer   Customer
	HolderID   string
	TotalCents uint32
	Status     BookingStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// BookingReference derives a reference code from the creation time and a
// short suffix, e.g. "BK20240130-7f3a".  References are for humans; the
// booking ID remains the primary key.
func BookingReference(createdAt time.Time, suffix string) string {
	return fmt.Sprintf("BK%s-%s", createdAt.UTC().Format("20060102"), suffix)
}
