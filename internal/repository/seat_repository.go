// Package repository persists allocation state to MySQL.  The in-memory
// ledger remains the source of truth at runtime; these repos implement
// the write-through journal and store hooks of the core packages and
// supply state for a warm restart of the authority node.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/transitware/seat-allocation/internal/model"
)

// SeatRepo provides data access to the schedules, seats and inventory
// tables.  It implements ledger.Journal.  All timestamps are stored in
// UTC; callers must keep comparisons in UTC.
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo returns a SeatRepo bound to the provided database.
func NewSeatRepo(db *sql.DB) *SeatRepo { return &SeatRepo{db: db} }

// SaveSchedule upserts the catalog info a ledger was provisioned with.
func (r *SeatRepo) SaveSchedule(ctx context.Context, s model.VehicleSchedule) error {
	const q = `INSERT INTO schedules (id, route_id, vehicle_id, departs_at, row_count, col_count, total_seats)
               VALUES (?, ?, ?, ?, ?, ?, ?)
               ON DUPLICATE KEY UPDATE route_id = VALUES(route_id), vehicle_id = VALUES(vehicle_id),
                 departs_at = VALUES(departs_at), row_count = VALUES(row_count),
                 col_count = VALUES(col_count), total_seats = VALUES(total_seats)`
	_, err := r.db.ExecContext(ctx, q,
		s.ID, s.RouteID, s.VehicleID, s.DepartsAt.UTC(), s.Rows, s.Columns, s.TotalSeats)
	return err
}

// SaveSeat upserts one seat row.  Called on every committed swap, so it
// must stay a single statement.
func (r *SeatRepo) SaveSeat(ctx context.Context, s model.Seat) error {
	const q = `INSERT INTO seats
                 (schedule_id, seat_id, seat_number, row_no, col_no, seat_type, status,
                  price_cents, version, holder_id, hold_expires_at, booking_id, updated_at, write_arrived_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
               ON DUPLICATE KEY UPDATE status = VALUES(status), version = VALUES(version),
                 holder_id = VALUES(holder_id), hold_expires_at = VALUES(hold_expires_at),
                 booking_id = VALUES(booking_id), updated_at = VALUES(updated_at),
                 write_arrived_at = VALUES(write_arrived_at)`
	var expiry any
	if s.HoldExpiresAt != nil {
		expiry = s.HoldExpiresAt.UTC()
	}
	_, err := r.db.ExecContext(ctx, q,
		s.ScheduleID, s.ID, s.Number, s.Row, s.Column, string(s.Type), string(s.Status),
		s.PriceCents, s.Version, s.HolderID, expiry, s.BookingID, s.UpdatedAt.UTC(), s.WriteArrivedAt.UTC())
	return err
}

// SaveInventory upserts a schedule's allocation rollup.
func (r *SeatRepo) SaveInventory(ctx context.Context, inv model.InventoryCounts) error {
	const q = `INSERT INTO inventory
                 (schedule_id, total, available, held, booked, blocked, version, updated_at, write_arrived_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
               ON DUPLICATE KEY UPDATE total = VALUES(total), available = VALUES(available),
                 held = VALUES(held), booked = VALUES(booked), blocked = VALUES(blocked),
                 version = VALUES(version), updated_at = VALUES(updated_at),
                 write_arrived_at = VALUES(write_arrived_at)`
	_, err := r.db.ExecContext(ctx, q,
		inv.ScheduleID, inv.Total, inv.Available, inv.Held, inv.Booked, inv.Blocked,
		inv.Version, inv.UpdatedAt.UTC(), inv.WriteArrivedAt.UTC())
	return err
}

// LoadSchedules reads every persisted schedule and its seats so the
// authority node can re-provision its ledger after a restart.
func (r *SeatRepo) LoadSchedules(ctx context.Context) ([]model.VehicleSchedule, map[string][]model.Seat, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, route_id, vehicle_id, departs_at, row_count, col_count, total_seats FROM schedules`)
	if err != nil {
		return nil, nil, err
	}
	var schedules []model.VehicleSchedule
	for rows.Next() {
		var s model.VehicleSchedule
		if scanErr := rows.Scan(&s.ID, &s.RouteID, &s.VehicleID, &s.DepartsAt, &s.Rows, &s.Columns, &s.TotalSeats); scanErr != nil {
			rows.Close()
			return nil, nil, scanErr
		}
		schedules = append(schedules, s)
	}
	if err = rows.Close(); err != nil {
		return nil, nil, err
	}

	seats := make(map[string][]model.Seat, len(schedules))
	for _, sched := range schedules {
		list, err := r.loadSeats(ctx, sched.ID)
		if err != nil {
			return nil, nil, err
		}
		seats[sched.ID] = list
	}
	return schedules, seats, nil
}

func (r *SeatRepo) loadSeats(ctx context.Context, scheduleID string) ([]model.Seat, error) {
	const q = `SELECT seat_id, seat_number, row_no, col_no, seat_type, status, price_cents,
                      version, holder_id, hold_expires_at, booking_id, updated_at, write_arrived_at
               FROM seats WHERE schedule_id = ? ORDER BY seat_id`
	rows, err := r.db.QueryContext(ctx, q, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Seat
	for rows.Next() {
		var (
			s      model.Seat
			typ    string
			status string
			expiry sql.NullTime
		)
		if err := rows.Scan(&s.ID, &s.Number, &s.Row, &s.Column, &typ, &status,
			&s.PriceCents, &s.Version, &s.HolderID, &expiry, &s.BookingID, &s.UpdatedAt, &s.WriteArrivedAt); err != nil {
			return nil, err
		}
		s.ScheduleID = scheduleID
		s.Type = model.SeatType(typ)
		s.Status = model.SeatStatus(status)
		if expiry.Valid {
			t := expiry.Time.UTC()
			s.HoldExpiresAt = &t
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// touch is a helper for repos that only need to know "now" in UTC.
func touch() time.Time { return time.Now().UTC() }
