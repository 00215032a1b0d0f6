package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/transitware/seat-allocation/internal/model"
)

// RedisQueue persists each origin's backlog in a Redis list so queued
// intents survive a kiosk or agent-terminal restart.  Layout:
//   <prefix>:q:<originID> – RPUSH'd JSON mutations, FIFO via LRANGE
//   <prefix>:origins      – set of origins with a live backlog
// Semantics match MemoryQueue; the two are interchangeable behind Queue.
type RedisQueue struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisQueue wraps an existing client.  prefix namespaces keys so
// several deployments can share one Redis.
func NewRedisQueue(rdb *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "syncq"
	}
	return &RedisQueue{rdb: rdb, prefix: prefix}
}

// wireMutation is the JSON shape stored in Redis.  The typed payload is
// flattened back to raw JSON for storage and re-decoded on drain.
type wireMutation struct {
	ID          string            `json:"id"`
	OriginID    string            `json:"origin_id"`
	OriginType  model.ChannelType `json:"origin_type"`
	Op          model.MutationOp  `json:"op"`
	ScheduleID  string            `json:"schedule_id"`
	SeatID      string            `json:"seat_id,omitempty"`
	BaseVersion uint64            `json:"base_version"`
	Payload     json.RawMessage   `json:"payload"`
	IssuedAt    time.Time         `json:"issued_at"`
	EnqueuedAt  time.Time         `json:"enqueued_at"`
}

func (q *RedisQueue) Enqueue(ctx context.Context, m model.OfflineMutation) error {
	if m.ID == "" {
		return fmt.Errorf("mutation id is required")
	}
	if m.OriginID == "" {
		return fmt.Errorf("origin id is required")
	}
	if m.EnqueuedAt.IsZero() {
		m.EnqueuedAt = time.Now().UTC()
	}
	payload, err := m.EncodePayload()
	if err != nil {
		return err
	}
	body, err := json.Marshal(wireMutation{
		ID:          m.ID,
		OriginID:    m.OriginID,
		OriginType:  m.OriginType,
		Op:          m.Op,
		ScheduleID:  m.ScheduleID,
		SeatID:      m.SeatID,
		BaseVersion: m.BaseVersion,
		Payload:     payload,
		IssuedAt:    m.IssuedAt,
		EnqueuedAt:  m.EnqueuedAt,
	})
	if err != nil {
		return err
	}
	pipe := q.rdb.TxPipeline()
	pipe.RPush(ctx, q.listKey(m.OriginID), body)
	pipe.SAdd(ctx, q.originsKey(), m.OriginID)
	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Drain(ctx context.Context, originID string, batchSize int) ([]model.OfflineMutation, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	raw, err := q.rdb.LRange(ctx, q.listKey(originID), 0, int64(batchSize-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.OfflineMutation, 0, len(raw))
	for _, body := range raw {
		m, err := decodeWire([]byte(body))
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (q *RedisQueue) Ack(ctx context.Context, originID, mutationID string) error {
	key := q.listKey(originID)
	// Find the exact stored body so LRem removes only this entry.
	raw, err := q.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return err
	}
	for _, body := range raw {
		var w wireMutation
		if err := json.Unmarshal([]byte(body), &w); err != nil {
			continue
		}
		if w.ID != mutationID {
			continue
		}
		if err := q.rdb.LRem(ctx, key, 1, body).Err(); err != nil {
			return err
		}
		if n, err := q.rdb.LLen(ctx, key).Result(); err == nil && n == 0 {
			_ = q.rdb.SRem(ctx, q.originsKey(), originID).Err()
		}
		return nil
	}
	return ErrUnknownMutation
}

func (q *RedisQueue) Origins(ctx context.Context) ([]string, error) {
	origins, err := q.rdb.SMembers(ctx, q.originsKey()).Result()
	if err != nil {
		return nil, err
	}
	return origins, nil
}

func (q *RedisQueue) listKey(originID string) string {
	return fmt.Sprintf("%s:q:%s", q.prefix, originID)
}

func (q *RedisQueue) originsKey() string {
	return q.prefix + ":origins"
}

func decodeWire(body []byte) (model.OfflineMutation, error) {
	var w wireMutation
	if err := json.Unmarshal(body, &w); err != nil {
		return model.OfflineMutation{}, fmt.Errorf("decode queued mutation: %w", err)
	}
	m := model.OfflineMutation{
		ID:          w.ID,
		OriginID:    w.OriginID,
		OriginType:  w.OriginType,
		Op:          w.Op,
		ScheduleID:  w.ScheduleID,
		SeatID:      w.SeatID,
		BaseVersion: w.BaseVersion,
		IssuedAt:    w.IssuedAt,
		EnqueuedAt:  w.EnqueuedAt,
	}
	if err := m.DecodePayload(w.Payload); err != nil {
		return model.OfflineMutation{}, err
	}
	return m, nil
}
