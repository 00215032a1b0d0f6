package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitware/seat-allocation/internal/booking"
	"github.com/transitware/seat-allocation/internal/conflict"
	"github.com/transitware/seat-allocation/internal/hold"
	"github.com/transitware/seat-allocation/internal/ledger"
	"github.com/transitware/seat-allocation/internal/model"
	"github.com/transitware/seat-allocation/internal/syncqueue"
)

type testStack struct {
	e         *echo.Echo
	ledger    *ledger.Ledger
	holds     *hold.Manager
	schedules *ScheduleHandler
	holdH     *HoldHandler
	bookings  *BookingHandler
	sync      *SyncHandler
}

func newStack(t *testing.T) *testStack {
	t.Helper()
	l := ledger.New(nil)
	h := hold.NewManager(l, nil, ledger.RetryBudget{Attempts: 3, Backoff: time.Millisecond})
	co := booking.NewCoordinator(l, h, booking.ReferenceResolver{}, nil, nil)
	q := syncqueue.NewMemoryQueue()
	r := conflict.NewResolver(l, h, q, model.LastWriteWins, nil, nil, nil)
	return &testStack{
		e:         echo.New(),
		ledger:    l,
		holds:     h,
		schedules: NewScheduleHandler(l, nil),
		holdH:     NewHoldHandler(h, 15*time.Minute),
		bookings:  NewBookingHandler(co),
		sync:      NewSyncHandler(q, r, 100),
	}
}

func (s *testStack) request(method, path, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	return s.e.NewContext(req, rec), rec
}

func (s *testStack) provision(t *testing.T) {
	t.Helper()
	c, rec := s.request(http.MethodPost, "/v1/schedules", `{
		"id": "sched-1", "route_id": "LAG-IBA", "vehicle_id": "BUS-01",
		"departs_at": "2026-09-01T08:00:00Z",
		"rows": 2, "columns": 2, "price_cents": 1500,
		"premium_rows": [1], "premium_price_cents": 2500
	}`)
	require.NoError(t, s.schedules.Provision(c))
	require.Equal(t, http.StatusCreated, rec.Code)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestProvisionAndSnapshot(t *testing.T) {
	s := newStack(t)
	s.provision(t)

	c, rec := s.request(http.MethodGet, "/v1/schedules/sched-1/seats", "")
	c.SetParamNames("id")
	c.SetParamValues("sched-1")
	require.NoError(t, s.schedules.Seats(c))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	seats := body["seats"].([]any)
	require.Len(t, seats, 4)
	first := seats[0].(map[string]any)
	assert.Equal(t, "S-1A", first["id"])
	assert.Equal(t, "PREMIUM", first["type"])
	assert.Equal(t, float64(2500), first["price_cents"])

	inv := body["inventory"].(map[string]any)
	assert.Equal(t, float64(4), inv["total"])
	assert.Equal(t, float64(4), inv["available"])
}

func TestHoldEndpointConflictCodes(t *testing.T) {
	s := newStack(t)
	s.provision(t)

	c, rec := s.request(http.MethodPost, "/v1/schedules/sched-1/holds",
		`{"seat_ids":["S-1A"],"holder_id":"agent-1"}`)
	c.SetParamNames("id")
	c.SetParamValues("sched-1")
	require.NoError(t, s.holdH.Hold(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	// Same seat again: plain unavailability.
	c, rec = s.request(http.MethodPost, "/v1/schedules/sched-1/holds",
		`{"seat_ids":["S-1A"],"holder_id":"agent-2"}`)
	c.SetParamNames("id")
	c.SetParamValues("sched-1")
	require.NoError(t, s.holdH.Hold(c))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "seat_unavailable", decodeBody(t, rec)["error"])

	// Mixed batch: distinct partial-conflict code.
	c, rec = s.request(http.MethodPost, "/v1/schedules/sched-1/holds",
		`{"seat_ids":["S-1A","S-1B"],"holder_id":"agent-2"}`)
	c.SetParamNames("id")
	c.SetParamValues("sched-1")
	require.NoError(t, s.holdH.Hold(c))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "partial_hold_conflict", decodeBody(t, rec)["error"])
}

func TestDomainErrorMapsBareHoldSentinels(t *testing.T) {
	s := newStack(t)

	// The hold manager returns the bare sentinels when retries exhaust
	// on version conflicts, without the seat-listing wrapper types.
	c, rec := s.request(http.MethodPost, "/v1/schedules/sched-1/holds", "")
	require.NoError(t, writeDomainError(c, hold.ErrPartialHoldConflict))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "partial_hold_conflict", decodeBody(t, rec)["error"])

	c, rec = s.request(http.MethodPost, "/v1/schedules/sched-1/holds", "")
	require.NoError(t, writeDomainError(c, hold.ErrSeatUnavailable))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "seat_unavailable", decodeBody(t, rec)["error"])
}

func TestReleaseEndpointIsIdempotent(t *testing.T) {
	s := newStack(t)
	s.provision(t)

	c, rec := s.request(http.MethodPost, "/v1/schedules/sched-1/holds",
		`{"seat_ids":["S-1A"],"holder_id":"agent-1"}`)
	c.SetParamNames("id")
	c.SetParamValues("sched-1")
	require.NoError(t, s.holdH.Hold(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	for i := 0; i < 2; i++ {
		c, rec = s.request(http.MethodDelete, "/v1/schedules/sched-1/seats/S-1A/hold?holder_id=agent-1", "")
		c.SetParamNames("id", "seatId")
		c.SetParamValues("sched-1", "S-1A")
		require.NoError(t, s.holdH.Release(c))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestBookingLifecycleOverHTTP(t *testing.T) {
	s := newStack(t)
	s.provision(t)

	c, rec := s.request(http.MethodPost, "/v1/schedules/sched-1/holds",
		`{"seat_ids":["S-2A","S-2B"],"holder_id":"agent-1"}`)
	c.SetParamNames("id")
	c.SetParamValues("sched-1")
	require.NoError(t, s.holdH.Hold(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	c, rec = s.request(http.MethodPost, "/v1/bookings", `{
		"schedule_id":"sched-1","seat_ids":["S-2A","S-2B"],"holder_id":"agent-1",
		"customer_id":"cust-1","customer_name":"Ada","customer_phone":"0800"
	}`)
	require.NoError(t, s.bookings.Create(c))
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody(t, rec)
	bookingID := created["id"].(string)
	assert.Equal(t, "PENDING", created["status"])
	assert.Equal(t, float64(3000), created["total_cents"])

	c, rec = s.request(http.MethodPost, "/v1/bookings/"+bookingID+"/confirm", `{"payment_ref":"pos-1"}`)
	c.SetParamNames("id")
	c.SetParamValues(bookingID)
	require.NoError(t, s.bookings.Confirm(c))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CONFIRMED", decodeBody(t, rec)["status"])

	seat, err := s.ledger.Get("sched-1", "S-2A")
	require.NoError(t, err)
	assert.Equal(t, model.SeatBooked, seat.Status)

	// Missing payment reference fails with its own code.
	c, rec = s.request(http.MethodPost, "/v1/bookings/"+bookingID+"/confirm", `{}`)
	c.SetParamNames("id")
	c.SetParamValues(bookingID)
	require.NoError(t, s.bookings.Confirm(c))
	assert.Equal(t, http.StatusConflict, rec.Code) // already confirmed
}

func TestSyncEnqueueValidatesPayload(t *testing.T) {
	s := newStack(t)
	s.provision(t)

	c, rec := s.request(http.MethodPost, "/v1/sync/mutations", `{
		"id":"m-1","origin_id":"kiosk-1","origin_type":"PARK","op":"hold",
		"schedule_id":"sched-1","seat_id":"S-1A","base_version":1,
		"payload":{"ttl_seconds":300}
	}`)
	require.NoError(t, s.sync.Enqueue(c))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_payload", decodeBody(t, rec)["error"])
}

func TestSyncEnqueueAndReplay(t *testing.T) {
	s := newStack(t)
	s.provision(t)

	c, rec := s.request(http.MethodPost, "/v1/sync/mutations", `{
		"id":"m-1","origin_id":"kiosk-1","origin_type":"PARK","op":"hold",
		"schedule_id":"sched-1","seat_id":"S-1A","base_version":1,
		"payload":{"holder_id":"kiosk-1","ttl_seconds":300}
	}`)
	require.NoError(t, s.sync.Enqueue(c))
	require.Equal(t, http.StatusAccepted, rec.Code)

	c, rec = s.request(http.MethodPost, "/v1/sync/replay", `{"origin_id":"kiosk-1"}`)
	require.NoError(t, s.sync.Replay(c))
	require.Equal(t, http.StatusOK, rec.Code)

	reports := decodeBody(t, rec)["reports"].([]any)
	require.Len(t, reports, 1)
	assert.Equal(t, float64(1), reports[0].(map[string]any)["applied"])

	seat, err := s.ledger.Get("sched-1", "S-1A")
	require.NoError(t, err)
	assert.Equal(t, model.SeatHeld, seat.Status)
}
