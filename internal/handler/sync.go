package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/transitware/seat-allocation/internal/conflict"
	"github.com/transitware/seat-allocation/internal/model"
	"github.com/transitware/seat-allocation/internal/syncqueue"
)

// SyncHandler receives offline mutations from reconnecting channel
// nodes, triggers replay, and exposes conflict inspection and manual
// resolution for operators.
type SyncHandler struct {
	Queue     syncqueue.Queue
	Resolver  *conflict.Resolver
	BatchSize int
}

// NewSyncHandler constructs a SyncHandler.  batchSize bounds how many
// queued mutations one replay call consumes per origin.
func NewSyncHandler(q syncqueue.Queue, r *conflict.Resolver, batchSize int) *SyncHandler {
	if q == nil || r == nil {
		panic("nil queue or resolver passed to NewSyncHandler")
	}
	return &SyncHandler{Queue: q, Resolver: r, BatchSize: batchSize}
}

// enqueueRequest is the wire form of one offline mutation.  The payload
// stays raw JSON until DecodePayload validates it against the op.
type enqueueRequest struct {
	ID          string          `json:"id"`
	OriginID    string          `json:"origin_id"`
	OriginType  string          `json:"origin_type"`
	Op          string          `json:"op"`
	ScheduleID  string          `json:"schedule_id"`
	SeatID      string          `json:"seat_id"`
	BaseVersion uint64          `json:"base_version"`
	Payload     json.RawMessage `json:"payload"`
	IssuedAt    time.Time       `json:"issued_at"`
}

// Enqueue handles POST /v1/sync/mutations.  Mutations are validated and
// appended to the caller's per-origin backlog; nothing is applied until
// replay runs.
func (h *SyncHandler) Enqueue(c echo.Context) error {
	var req enqueueRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.OriginID == "" {
		req.OriginID = channelID(c)
	}
	if req.ID == "" || req.OriginID == "" || req.ScheduleID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "id, origin_id and schedule_id are required"})
	}

	m := model.OfflineMutation{
		ID:          req.ID,
		OriginID:    req.OriginID,
		OriginType:  model.ChannelType(req.OriginType),
		Op:          model.MutationOp(req.Op),
		ScheduleID:  req.ScheduleID,
		SeatID:      req.SeatID,
		BaseVersion: req.BaseVersion,
		IssuedAt:    req.IssuedAt.UTC(),
		EnqueuedAt:  time.Now().UTC(),
	}
	if err := m.DecodePayload(req.Payload); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_payload", "detail": err.Error()})
	}
	if err := h.Queue.Enqueue(c.Request().Context(), m); err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusAccepted, echo.Map{"id": m.ID, "origin_id": m.OriginID})
}

// Replay handles POST /v1/sync/replay.  With an origin_id in the body
// only that origin's backlog is replayed; otherwise every known origin
// is replayed in turn.  The response reports what was applied,
// conflicted, rejected or skipped.
func (h *SyncHandler) Replay(c echo.Context) error {
	var body struct {
		OriginID string `json:"origin_id"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	ctx := c.Request().Context()
	if body.OriginID != "" {
		report, err := h.Resolver.Replay(ctx, body.OriginID, h.BatchSize)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{"reports": []conflict.ReplayReport{report}})
	}
	reports, err := h.Resolver.ReplayAll(ctx, h.BatchSize)
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"reports": reports})
}

// Conflicts handles GET /v1/sync/conflicts.  By default only open
// conflicts are listed; pass ?all=true to include resolved ones.
func (h *SyncHandler) Conflicts(c echo.Context) error {
	onlyOpen := c.QueryParam("all") != "true"
	list := h.Resolver.Conflicts(onlyOpen)
	views := make([]echo.Map, 0, len(list))
	for _, cf := range list {
		views = append(views, conflictView(cf))
	}
	return c.JSON(http.StatusOK, echo.Map{"conflicts": views})
}

// Resolve handles POST /v1/sync/conflicts/:id/resolve.  The operator
// decides whether the parked offline mutation wins (keep_local) or the
// authority state stands.
func (h *SyncHandler) Resolve(c echo.Context) error {
	var body struct {
		KeepLocal bool `json:"keep_local"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	cf, err := h.Resolver.ResolveManually(c.Request().Context(), c.Param("id"), body.KeepLocal)
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, conflictView(cf))
}

func conflictView(cf model.SyncConflict) echo.Map {
	v := echo.Map{
		"id":                cf.ID,
		"schedule_id":       cf.ScheduleID,
		"seat_id":           cf.SeatID,
		"mutation_id":       cf.MutationID,
		"origin_id":         cf.OriginID,
		"local_version":     cf.LocalVersion,
		"remote_version":    cf.RemoteVersion,
		"local_updated_at":  cf.LocalUpdatedAt,
		"remote_updated_at": cf.RemoteUpdatedAt,
		"strategy":          cf.Strategy,
		"resolution":        cf.Resolution,
		"created_at":        cf.CreatedAt,
	}
	if cf.ResolvedAt != nil {
		v["resolved_at"] = cf.ResolvedAt
	}
	return v
}
