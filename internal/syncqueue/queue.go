// Package syncqueue buffers mutation intents recorded by disconnected
// sales channels until connectivity returns.  The queue is per-origin:
// one channel's backlog never blocks another's.  Drain hands mutations
// back in enqueue order without removing them; only Ack consumes, so a
// replay that crashes between drain and ack redelivers.
package syncqueue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/transitware/seat-allocation/internal/model"
)

// ErrUnknownMutation is returned when an ack names a mutation that is
// not (or no longer) queued for the origin.
var ErrUnknownMutation = errors.New("unknown mutation")

// Queue is the offline sync buffer contract.  An external replication
// mechanism drives it: the core never moves bytes over the network
// itself.
type Queue interface {
	// Enqueue appends a mutation to its origin's backlog.
	Enqueue(ctx context.Context, m model.OfflineMutation) error
	// Drain returns up to batchSize queued mutations for one origin in
	// enqueue order, leaving them queued until acked.
	Drain(ctx context.Context, originID string, batchSize int) ([]model.OfflineMutation, error)
	// Ack removes a mutation once it has been applied or permanently
	// rejected.
	Ack(ctx context.Context, originID, mutationID string) error
	// Origins lists every origin that currently has queued mutations.
	Origins(ctx context.Context) ([]string, error)
}

// MemoryQueue is the in-process Queue used by the authority node and by
// tests.  Kiosks that must survive restarts use RedisQueue instead.
type MemoryQueue struct {
	mu      sync.Mutex
	origins map[string][]model.OfflineMutation
}

// NewMemoryQueue returns an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{origins: make(map[string][]model.OfflineMutation)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, m model.OfflineMutation) error {
	if m.ID == "" {
		return errors.New("mutation id is required")
	}
	if m.OriginID == "" {
		return errors.New("origin id is required")
	}
	if m.EnqueuedAt.IsZero() {
		m.EnqueuedAt = time.Now().UTC()
	}
	q.mu.Lock()
	q.origins[m.OriginID] = append(q.origins[m.OriginID], m)
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) Drain(_ context.Context, originID string, batchSize int) ([]model.OfflineMutation, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	backlog := q.origins[originID]
	if len(backlog) > batchSize {
		backlog = backlog[:batchSize]
	}
	out := make([]model.OfflineMutation, len(backlog))
	copy(out, backlog)
	return out, nil
}

func (q *MemoryQueue) Ack(_ context.Context, originID, mutationID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	backlog := q.origins[originID]
	for i, m := range backlog {
		if m.ID == mutationID {
			q.origins[originID] = append(backlog[:i:i], backlog[i+1:]...)
			if len(q.origins[originID]) == 0 {
				delete(q.origins, originID)
			}
			return nil
		}
	}
	return ErrUnknownMutation
}

func (q *MemoryQueue) Origins(_ context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.origins))
	for origin := range q.origins {
		out = append(out, origin)
	}
	sort.Strings(out)
	return out, nil
}
