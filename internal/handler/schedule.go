package handler

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/transitware/seat-allocation/internal/ledger"
	"github.com/transitware/seat-allocation/internal/model"
)

// Catalog persists provisioned schedules for warm restarts.  A nil
// Catalog disables persistence.
type Catalog interface {
	SaveSchedule(ctx context.Context, s model.VehicleSchedule) error
	SaveSeat(ctx context.Context, seat model.Seat) error
	SaveInventory(ctx context.Context, inv model.InventoryCounts) error
}

// ScheduleHandler provisions seat ledgers from catalog input and serves
// allocation snapshots.  Provisioning is an operator responsibility and
// is guarded by middleware; snapshots are readable by every channel.
type ScheduleHandler struct {
	Ledger  *ledger.Ledger
	Catalog Catalog
}

// NewScheduleHandler constructs a ScheduleHandler.  The catalog may be
// nil when the service runs without a database.
func NewScheduleHandler(l *ledger.Ledger, cat Catalog) *ScheduleHandler {
	if l == nil {
		panic("nil ledger passed to NewScheduleHandler")
	}
	return &ScheduleHandler{Ledger: l, Catalog: cat}
}

// provisionRequest is the body of POST /v1/schedules.  Seats are laid
// out as a rows-by-columns grid; rows listed in premium_rows get the
// premium type and price, seat numbers listed in accessible_seats get
// the accessibility type.
type provisionRequest struct {
	ID                string   `json:"id"`
	RouteID           string   `json:"route_id"`
	VehicleID         string   `json:"vehicle_id"`
	DepartsAt         string   `json:"departs_at"`
	Rows              int      `json:"rows"`
	Columns           int      `json:"columns"`
	PriceCents        uint32   `json:"price_cents"`
	PremiumPriceCents uint32   `json:"premium_price_cents"`
	PremiumRows       []int    `json:"premium_rows"`
	AccessibleSeats   []string `json:"accessible_seats"`
	BlockedSeats      []string `json:"blocked_seats"`
}

// Provision handles POST /v1/schedules.  It seeds a fresh seat ledger
// for a vehicle schedule from catalog input and responds 201 with the
// resulting inventory rollup.
func (h *ScheduleHandler) Provision(c echo.Context) error {
	var req provisionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.ID == "" || req.Rows <= 0 || req.Columns <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "id, rows and columns are required"})
	}
	departs, err := time.Parse(time.RFC3339, req.DepartsAt)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "departs_at must be RFC 3339"})
	}

	sched := model.VehicleSchedule{
		ID:         req.ID,
		RouteID:    req.RouteID,
		VehicleID:  req.VehicleID,
		DepartsAt:  departs.UTC(),
		Rows:       req.Rows,
		Columns:    req.Columns,
		TotalSeats: req.Rows * req.Columns,
	}
	seats := buildSeatGrid(req)
	h.Ledger.Provision(sched, seats)

	if h.Catalog != nil {
		ctx := c.Request().Context()
		if err := h.Catalog.SaveSchedule(ctx, sched); err != nil {
			log.Printf("schedule: persist %s: %v", sched.ID, err)
		} else {
			for _, s := range seats {
				if err := h.Catalog.SaveSeat(ctx, s); err != nil {
					log.Printf("schedule: persist seat %s/%s: %v", sched.ID, s.ID, err)
					break
				}
			}
			if inv, invErr := h.Ledger.Inventory(sched.ID); invErr == nil {
				if err := h.Catalog.SaveInventory(ctx, inv); err != nil {
					log.Printf("schedule: persist inventory %s: %v", sched.ID, err)
				}
			}
		}
	}

	inv, err := h.Ledger.Inventory(sched.ID)
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusCreated, inventoryView(inv))
}

// Seats handles GET /v1/schedules/:id/seats.  It returns a consistent
// per-seat snapshot of the schedule together with the inventory rollup.
func (h *ScheduleHandler) Seats(c echo.Context) error {
	scheduleID := c.Param("id")
	seats, err := h.Ledger.Snapshot(scheduleID)
	if err != nil {
		return writeDomainError(c, err)
	}
	inv, err := h.Ledger.Inventory(scheduleID)
	if err != nil {
		return writeDomainError(c, err)
	}
	views := make([]echo.Map, 0, len(seats))
	for _, s := range seats {
		views = append(views, seatView(s))
	}
	return c.JSON(http.StatusOK, echo.Map{
		"schedule_id": scheduleID,
		"inventory":   inventoryView(inv),
		"seats":       views,
	})
}

// buildSeatGrid expands the provisioning request into individual seats.
// Seat numbers follow the "<row><column letter>" convention, so seat 3
// in row 2 is "2C".
func buildSeatGrid(req provisionRequest) []model.Seat {
	premiumRows := make(map[int]bool, len(req.PremiumRows))
	for _, r := range req.PremiumRows {
		premiumRows[r] = true
	}
	accessible := make(map[string]bool, len(req.AccessibleSeats))
	for _, n := range req.AccessibleSeats {
		accessible[n] = true
	}
	blocked := make(map[string]bool, len(req.BlockedSeats))
	for _, n := range req.BlockedSeats {
		blocked[n] = true
	}
	premiumPrice := req.PremiumPriceCents
	if premiumPrice == 0 {
		premiumPrice = req.PriceCents
	}

	seats := make([]model.Seat, 0, req.Rows*req.Columns)
	for row := 1; row <= req.Rows; row++ {
		for col := 1; col <= req.Columns; col++ {
			number := fmt.Sprintf("%d%c", row, 'A'+col-1)
			s := model.Seat{
				ID:         "S-" + number,
				ScheduleID: req.ID,
				Number:     number,
				Row:        row,
				Column:     col,
				Type:       model.SeatStandard,
				Status:     model.SeatAvailable,
				PriceCents: req.PriceCents,
			}
			if premiumRows[row] {
				s.Type = model.SeatPremium
				s.PriceCents = premiumPrice
			}
			if accessible[number] {
				s.Type = model.SeatAccessibility
			}
			if blocked[number] {
				s.Status = model.SeatBlocked
			}
			seats = append(seats, s)
		}
	}
	return seats
}

func seatView(s model.Seat) echo.Map {
	v := echo.Map{
		"id":          s.ID,
		"number":      s.Number,
		"row":         s.Row,
		"column":      s.Column,
		"type":        s.Type,
		"status":      s.Status,
		"price_cents": s.PriceCents,
		"version":     s.Version,
		"updated_at":  s.UpdatedAt,
	}
	if s.Status == model.SeatHeld && s.HoldExpiresAt != nil {
		v["hold_expires_at"] = s.HoldExpiresAt
	}
	if s.Status == model.SeatBooked {
		v["booking_id"] = s.BookingID
	}
	return v
}

func inventoryView(inv model.InventoryCounts) echo.Map {
	return echo.Map{
		"schedule_id": inv.ScheduleID,
		"total":       inv.Total,
		"available":   inv.Available,
		"held":        inv.Held,
		"booked":      inv.Booked,
		"blocked":     inv.Blocked,
		"version":     inv.Version,
		"updated_at":  inv.UpdatedAt,
	}
}
