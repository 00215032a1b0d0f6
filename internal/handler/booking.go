package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/transitware/seat-allocation/internal/booking"
	"github.com/transitware/seat-allocation/internal/model"
)

// BookingHandler exposes the booking lifecycle.  Every transition runs
// through the coordinator so seat state and booking state never
// diverge.
type BookingHandler struct {
	Bookings *booking.Coordinator
}

// NewBookingHandler constructs a BookingHandler.
func NewBookingHandler(co *booking.Coordinator) *BookingHandler {
	if co == nil {
		panic("nil coordinator passed to NewBookingHandler")
	}
	return &BookingHandler{Bookings: co}
}

// Create handles POST /v1/bookings.  Every named seat must carry an
// active hold owned by the caller; the booking starts Pending and the
// holds stay live until confirmation.
func (h *BookingHandler) Create(c echo.Context) error {
	var body struct {
		ScheduleID    string   `json:"schedule_id"`
		SeatIDs       []string `json:"seat_ids"`
		HolderID      string   `json:"holder_id"`
		CustomerID    string   `json:"customer_id"`
		CustomerName  string   `json:"customer_name"`
		CustomerPhone string   `json:"customer_phone"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.ScheduleID == "" || len(body.SeatIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "schedule_id and seat_ids are required"})
	}
	holderID := body.HolderID
	if holderID == "" {
		holderID = channelID(c)
	}
	customer := model.Customer{ID: body.CustomerID, Name: body.CustomerName, Phone: body.CustomerPhone}

	b, err := h.Bookings.Create(c.Request().Context(), body.ScheduleID, body.SeatIDs, customer, holderID)
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusCreated, bookingView(b))
}

// Confirm handles POST /v1/bookings/:id/confirm.  Payment settles
// first; only then are the held seats swapped to BOOKED.  A payment
// failure cancels the booking and frees its seats.
func (h *BookingHandler) Confirm(c echo.Context) error {
	var body struct {
		PaymentRef string `json:"payment_ref"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	b, err := h.Bookings.Confirm(c.Request().Context(), c.Param("id"), body.PaymentRef)
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, bookingView(b))
}

// Cancel handles POST /v1/bookings/:id/cancel.  Cancelling a confirmed
// booking returns its seats to the open pool through compensating
// swaps.
func (h *BookingHandler) Cancel(c echo.Context) error {
	b, err := h.Bookings.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, bookingView(b))
}

// Complete handles POST /v1/bookings/:id/complete, marking a confirmed
// booking as travelled.
func (h *BookingHandler) Complete(c echo.Context) error {
	b, err := h.Bookings.Complete(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, bookingView(b))
}

// Get handles GET /v1/bookings/:id.
func (h *BookingHandler) Get(c echo.Context) error {
	b, err := h.Bookings.Get(c.Param("id"))
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, bookingView(b))
}

func bookingView(b model.Booking) echo.Map {
	return echo.Map{
		"id":          b.ID,
		"reference":   b.Reference,
		"schedule_id": b.ScheduleID,
		"seat_ids":    b.SeatIDs,
		"customer": echo.Map{
			"id":    b.Customer.ID,
			"name":  b.Customer.Name,
			"phone": b.Customer.Phone,
		},
		"holder_id":   b.HolderID,
		"total_cents": b.TotalCents,
		"status":      b.Status,
		"created_at":  b.CreatedAt,
		"updated_at":  b.UpdatedAt,
	}
}
