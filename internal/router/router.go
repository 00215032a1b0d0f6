// Package router defines how HTTP routes are registered for the API.
package router

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/transitware/seat-allocation/internal/handler"
	"github.com/transitware/seat-allocation/internal/middleware"
	"github.com/transitware/seat-allocation/internal/model"
)

// Deps bundles everything route registration needs.  RDB may be nil,
// which disables rate limiting.
type Deps struct {
	Auth      *handler.AuthHandler
	Schedules *handler.ScheduleHandler
	Holds     *handler.HoldHandler
	Bookings  *handler.BookingHandler
	Sync      *handler.SyncHandler
	JWTSecret string
	RDB       *redis.Client
	RateLimit int
	RateWin   time.Duration
}

// Register wires all endpoints onto the Echo instance.  The health
// check and token issuance stay unauthenticated; everything else under
// /v1 requires a channel token, and provisioning plus manual conflict
// resolution are limited to operator channels.
func Register(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health)

	// Token issuance authenticates by API key, not by channel token, so
	// it sits outside the authenticated group.  Rate limited all the
	// same: it is the one endpoint open to credential guessing.
	e.POST("/v1/auth/token", d.Auth.Token,
		middleware.RateLimit(d.RDB, d.RateLimit, d.RateWin))

	v1 := e.Group("/v1",
		middleware.ChannelAuth(d.JWTSecret),
		middleware.RateLimit(d.RDB, d.RateLimit, d.RateWin),
	)

	v1.POST("/schedules/:id/holds", d.Holds.Hold)
	v1.DELETE("/schedules/:id/seats/:seatId/hold", d.Holds.Release)
	v1.GET("/schedules/:id/seats", d.Schedules.Seats)

	v1.POST("/bookings", d.Bookings.Create)
	v1.GET("/bookings/:id", d.Bookings.Get)
	v1.POST("/bookings/:id/confirm", d.Bookings.Confirm)
	v1.POST("/bookings/:id/cancel", d.Bookings.Cancel)
	v1.POST("/bookings/:id/complete", d.Bookings.Complete)

	v1.POST("/sync/mutations", d.Sync.Enqueue)
	v1.POST("/sync/replay", d.Sync.Replay)
	v1.GET("/sync/conflicts", d.Sync.Conflicts)

	operator := middleware.RequireChannel(string(model.ChannelOperator))
	v1.POST("/schedules", d.Schedules.Provision, operator)
	v1.POST("/sync/conflicts/:id/resolve", d.Sync.Resolve, operator)
}
