package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/transitware/seat-allocation/internal/hold"
	"github.com/transitware/seat-allocation/internal/model"
)

// HoldHandler exposes hold placement and release.  The holder identity
// defaults to the authenticated channel node but a channel may act for
// a named customer session by passing holder_id explicitly.
type HoldHandler struct {
	Holds      *hold.Manager
	DefaultTTL time.Duration
}

// NewHoldHandler constructs a HoldHandler with the service-wide default
// hold TTL.
func NewHoldHandler(m *hold.Manager, defaultTTL time.Duration) *HoldHandler {
	if m == nil {
		panic("nil hold manager passed to NewHoldHandler")
	}
	return &HoldHandler{Holds: m, DefaultTTL: defaultTTL}
}

// Hold handles POST /v1/schedules/:id/holds.  The body names the seats
// to claim; either every seat is held or none is.  Responds 201 with
// one hold record per seat.
func (h *HoldHandler) Hold(c echo.Context) error {
	scheduleID := c.Param("id")
	var body struct {
		SeatIDs    []string `json:"seat_ids"`
		HolderID   string   `json:"holder_id"`
		TTLSeconds int      `json:"ttl_seconds"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(body.SeatIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seat_ids is required"})
	}
	holderID := body.HolderID
	if holderID == "" {
		holderID = channelID(c)
	}
	if holderID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "holder_id is required"})
	}
	ttl := h.DefaultTTL
	if body.TTLSeconds > 0 {
		ttl = time.Duration(body.TTLSeconds) * time.Second
	}

	holds, err := h.Holds.HoldSeats(c.Request().Context(), scheduleID, body.SeatIDs, holderID, ttl)
	if err != nil {
		return writeDomainError(c, err)
	}
	views := make([]echo.Map, 0, len(holds))
	for _, hd := range holds {
		views = append(views, holdView(hd))
	}
	return c.JSON(http.StatusCreated, echo.Map{"holds": views})
}

// Release handles DELETE /v1/schedules/:id/seats/:seatId/hold.  Release
// is idempotent: releasing an absent or expired hold responds 204 just
// like releasing an active one.
func (h *HoldHandler) Release(c echo.Context) error {
	scheduleID := c.Param("id")
	seatID := c.Param("seatId")
	holderID := c.QueryParam("holder_id")
	if holderID == "" {
		holderID = channelID(c)
	}
	if err := h.Holds.ReleaseHold(c.Request().Context(), scheduleID, seatID, holderID); err != nil {
		return writeDomainError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func holdView(h model.SeatHold) echo.Map {
	return echo.Map{
		"schedule_id": h.ScheduleID,
		"seat_id":     h.SeatID,
		"holder_id":   h.HolderID,
		"token":       h.Token,
		"expires_at":  h.ExpiresAt,
	}
}
