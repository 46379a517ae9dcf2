package dgii

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

const defaultMaxConcurrent = 20

// Limiter caps concurrent requests to the authority.
type Limiter struct {
	sem    *semaphore.Weighted
	max    int64
	active atomic.Int64
}

// NewLimiter creates a limiter. Non-positive values use the default.
func NewLimiter(maxConcurrent int) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(maxConcurrent)), max: int64(maxConcurrent)}
}

// Acquire blocks for a slot or until ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.active.Add(1)
	return nil
}

// Release returns a slot taken by Acquire.
func (l *Limiter) Release() {
	l.active.Add(-1)
	l.sem.Release(1)
}

// Active returns the number of slots in use.
func (l *Limiter) Active() int {
	return int(l.active.Load())
}

// Max returns the configured capacity.
func (l *Limiter) Max() int {
	return int(l.max)
}
