package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/transitware/seat-allocation/internal/booking"
	"github.com/transitware/seat-allocation/internal/conflict"
	"github.com/transitware/seat-allocation/internal/hold"
	"github.com/transitware/seat-allocation/internal/ledger"
)

// writeDomainError translates allocation errors into HTTP responses
// with stable machine-readable reason codes.  Each callable failure
// mode gets its own code so channel clients can branch without parsing
// messages.
func writeDomainError(c echo.Context, err error) error {
	var unavailable *hold.UnavailableError
	if errors.As(err, &unavailable) {
		return c.JSON(http.StatusConflict, echo.Map{
			"error": "seat_unavailable", "seat_ids": unavailable.SeatIDs,
		})
	}
	var partial *hold.PartialHoldError
	if errors.As(err, &partial) {
		return c.JSON(http.StatusConflict, echo.Map{
			"error": "partial_hold_conflict", "seat_ids": partial.SeatIDs,
		})
	}
	switch {
	// Bare sentinels reach here when retries exhaust without a wrapper,
	// e.g. HoldSeats giving up after repeated version conflicts.
	case errors.Is(err, hold.ErrPartialHoldConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "partial_hold_conflict", "detail": err.Error()})
	case errors.Is(err, hold.ErrSeatUnavailable):
		return c.JSON(http.StatusConflict, echo.Map{"error": "seat_unavailable", "detail": err.Error()})
	case errors.Is(err, ledger.ErrSeatNotFound),
		errors.Is(err, ledger.ErrScheduleNotFound),
		errors.Is(err, booking.ErrBookingNotFound),
		errors.Is(err, conflict.ErrConflictNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found", "detail": err.Error()})
	case errors.Is(err, ledger.ErrVersionConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "version_conflict", "detail": err.Error()})
	case errors.Is(err, booking.ErrHoldExpired):
		return c.JSON(http.StatusConflict, echo.Map{"error": "hold_expired", "detail": err.Error()})
	case errors.Is(err, booking.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, echo.Map{"error": "invalid_transition", "detail": err.Error()})
	case errors.Is(err, booking.ErrPaymentFailed):
		return c.JSON(http.StatusPaymentRequired, echo.Map{"error": "payment_failed", "detail": err.Error()})
	case errors.Is(err, conflict.ErrUnresolved):
		return c.JSON(http.StatusConflict, echo.Map{"error": "sync_conflict_unresolved", "detail": err.Error()})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

// channelID extracts the authenticated channel node ID stored by the
// auth middleware.  Returns an empty string when the request is not
// authenticated.
func channelID(c echo.Context) string {
	if v, ok := c.Get("channel_id").(string); ok {
		return v
	}
	return ""
}
