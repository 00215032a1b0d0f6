package repository

import (
	"context"
	"database/sql"

	"github.com/transitware/seat-allocation/internal/model"
)

// ConflictRepo provides data access to the sync_conflicts and
// archived_mutations tables.  It implements both conflict.Store and
// conflict.Archive.
type ConflictRepo struct {
	db *sql.DB
}

// NewConflictRepo returns a ConflictRepo bound to the provided database.
func NewConflictRepo(db *sql.DB) *ConflictRepo { return &ConflictRepo{db: db} }

// SaveConflict upserts a conflict record.  Called once when the
// conflict is detected and again when it is resolved.
func (r *ConflictRepo) SaveConflict(ctx context.Context, c model.SyncConflict) error {
	const q = `INSERT INTO sync_conflicts
                 (id, schedule_id, seat_id, mutation_id, origin_id, local_version, remote_version,
                  local_updated_at, remote_updated_at, strategy, resolution, created_at, resolved_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
               ON DUPLICATE KEY UPDATE resolution = VALUES(resolution), resolved_at = VALUES(resolved_at)`
	var resolvedAt any
	if c.ResolvedAt != nil {
		resolvedAt = c.ResolvedAt.UTC()
	}
	_, err := r.db.ExecContext(ctx, q,
		c.ID, c.ScheduleID, c.SeatID, c.MutationID, c.OriginID, c.LocalVersion, c.RemoteVersion,
		c.LocalUpdatedAt.UTC(), c.RemoteUpdatedAt.UTC(), string(c.Strategy), string(c.Resolution),
		c.CreatedAt.UTC(), resolvedAt)
	return err
}

// ArchiveMutation records a consumed offline mutation and its outcome
// for audit.  The payload is archived in its wire form.
func (r *ConflictRepo) ArchiveMutation(ctx context.Context, m model.OfflineMutation, outcome string) error {
	raw, err := m.EncodePayload()
	if err != nil {
		return err
	}
	const q = `INSERT INTO archived_mutations
                 (id, origin_id, origin_type, op, schedule_id, seat_id, base_version,
                  payload, issued_at, enqueued_at, outcome, archived_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
               ON DUPLICATE KEY UPDATE outcome = VALUES(outcome), archived_at = VALUES(archived_at)`
	_, err = r.db.ExecContext(ctx, q,
		m.ID, m.OriginID, string(m.OriginType), string(m.Op), m.ScheduleID, m.SeatID,
		m.BaseVersion, []byte(raw), m.IssuedAt.UTC(), m.EnqueuedAt.UTC(), outcome, touch())
	return err
}

// OpenConflicts loads conflicts still awaiting manual resolution,
// oldest first.  Used by operator tooling after a restart.
func (r *ConflictRepo) OpenConflicts(ctx context.Context) ([]model.SyncConflict, error) {
	const q = `SELECT id, schedule_id, seat_id, mutation_id, origin_id, local_version, remote_version,
                      local_updated_at, remote_updated_at, strategy, resolution, created_at, resolved_at
               FROM sync_conflicts WHERE resolution = ? ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, q, string(model.ManualPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SyncConflict
	for rows.Next() {
		var (
			c          model.SyncConflict
			strategy   string
			resolution string
			resolvedAt sql.NullTime
		)
		if err := rows.Scan(&c.ID, &c.ScheduleID, &c.SeatID, &c.MutationID, &c.OriginID,
			&c.LocalVersion, &c.RemoteVersion, &c.LocalUpdatedAt, &c.RemoteUpdatedAt,
			&strategy, &resolution, &c.CreatedAt, &resolvedAt); err != nil {
			return nil, err
		}
		c.Strategy = model.Strategy(strategy)
		c.Resolution = model.Resolution(resolution)
		if resolvedAt.Valid {
			t := resolvedAt.Time.UTC()
			c.ResolvedAt = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
