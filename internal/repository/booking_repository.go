package repository

import (
	"context"
	"database/sql"

	"github.com/transitware/seat-allocation/internal/model"
)

// BookingRepo provides data access to the bookings and booking_seats
// tables.  It implements booking.Store.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a BookingRepo bound to the provided database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// SaveBooking upserts a booking record together with its seat list.
// Seats change only on creation, so the seat rows are written with
// INSERT IGNORE and never rewritten on status transitions.
func (r *BookingRepo) SaveBooking(ctx context.Context, b model.Booking) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const upsert = `INSERT INTO bookings
                      (id, reference, schedule_id, customer_id, customer_name, customer_phone,
                       holder_id, total_cents, status, created_at, updated_at)
                    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
                    ON DUPLICATE KEY UPDATE status = VALUES(status), updated_at = VALUES(updated_at)`
	if _, err = tx.ExecContext(ctx, upsert,
		b.ID, b.Reference, b.ScheduleID, b.Customer.ID, b.Customer.Name, b.Customer.Phone,
		b.HolderID, b.TotalCents, string(b.Status), b.CreatedAt.UTC(), b.UpdatedAt.UTC()); err != nil {
		return err
	}

	const seatRow = `INSERT IGNORE INTO booking_seats (booking_id, seat_id) VALUES (?, ?)`
	for _, seatID := range b.SeatIDs {
		if _, err = tx.ExecContext(ctx, seatRow, b.ID, seatID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// FindBooking loads one booking with its seats.  Returns sql.ErrNoRows
// when the id is unknown.
func (r *BookingRepo) FindBooking(ctx context.Context, id string) (model.Booking, error) {
	const q = `SELECT id, reference, schedule_id, customer_id, customer_name, customer_phone,
                      holder_id, total_cents, status, created_at, updated_at
               FROM bookings WHERE id = ?`
	var (
		b      model.Booking
		status string
	)
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&b.ID, &b.Reference, &b.ScheduleID, &b.Customer.ID, &b.Customer.Name, &b.Customer.Phone,
		&b.HolderID, &b.TotalCents, &status, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return model.Booking{}, err
	}
	b.Status = model.BookingStatus(status)

	rows, err := r.db.QueryContext(ctx,
		`SELECT seat_id FROM booking_seats WHERE booking_id = ? ORDER BY seat_id`, id)
	if err != nil {
		return model.Booking{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var seatID string
		if err := rows.Scan(&seatID); err != nil {
			return model.Booking{}, err
		}
		b.SeatIDs = append(b.SeatIDs, seatID)
	}
	return b, rows.Err()
}
