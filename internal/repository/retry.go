package repository

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/curatedhealth/missionengine/internal/domain"
)

// Backoff is an exponential retry schedule.
type Backoff struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// NextDelay returns the wait before attempt+1.
func (b Backoff) NextDelay(attempt int) time.Duration {
	mult := b.Multiplier
	if mult <= 0 {
		mult = 2
	}
	delay := float64(b.InitialDelay) * math.Pow(mult, float64(attempt))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		return b.MaxDelay
	}
	return time.Duration(delay)
}

// RetryStore retries write failures of the wrapped store with backoff.
// When attempts are exhausted the returned error wraps domain.ErrPersistence.
type RetryStore struct {
	Store
	backoff Backoff
	logger  *slog.Logger
}

// NewRetryStore wraps inner.
func NewRetryStore(inner Store, backoff Backoff, logger *slog.Logger) *RetryStore {
	if backoff.Attempts <= 0 {
		backoff.Attempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryStore{Store: inner, backoff: backoff, logger: logger}
}

func (r *RetryStore) do(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < r.backoff.Attempts; attempt++ {
		if attempt > 0 {
			delay := r.backoff.NextDelay(attempt - 1)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %s: %v", domain.ErrPersistence, op, ctx.Err())
			case <-time.After(delay):
			}
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		r.logger.Warn("store write failed", "op", op, "attempt", attempt+1, "error", lastErr)
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", domain.ErrPersistence, op, r.backoff.Attempts, lastErr)
}

// SaveSnapshot retries the wrapped SaveSnapshot.
func (r *RetryStore) SaveSnapshot(ctx context.Context, snap *domain.MissionSnapshot) error {
	return r.do(ctx, "save_snapshot", func() error {
		return r.Store.SaveSnapshot(ctx, snap)
	})
}

// AppendEvent retries the wrapped AppendEvent.
func (r *RetryStore) AppendEvent(ctx context.Context, event *domain.Event) error {
	return r.do(ctx, "append_event", func() error {
		return r.Store.AppendEvent(ctx, event)
	})
}
