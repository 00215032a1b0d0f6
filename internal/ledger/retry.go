package ledger

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryBudget bounds how often a caller re-attempts an operation that
// lost a version race, e.g. a hold colliding with the expiry sweeper.
// Backoff doubles per attempt with jitter; the final error is surfaced
// once attempts are exhausted.  Only ErrVersionConflict is retried —
// every other failure reflects real state the caller must react to.
type RetryBudget struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetry is the budget used by the hold manager and booking
// coordinator unless configured otherwise.
var DefaultRetry = RetryBudget{Attempts: 3, Backoff: 10 * time.Millisecond}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// budget is exhausted.  fn must re-read current state on each attempt;
// the stale expected version that caused the previous conflict must not
// be reused.
func (b RetryBudget) Do(ctx context.Context, fn func() error) error {
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := b.Backoff
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !errors.Is(err, ErrVersionConflict) {
			return err
		}
		if i == attempts-1 {
			break
		}
		wait := backoff + time.Duration(rand.Int63n(int64(backoff)+1))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return err
}
