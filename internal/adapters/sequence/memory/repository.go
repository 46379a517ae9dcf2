// Package memory keeps fiscal sequences in process memory. Its per key mutex
// only serializes callers inside one process, so it backs tests and local
// development, never a multi instance deployment.
package memory

import (
	"context"
	"sync"
	"time"

	"3tcapital/ecfcore/internal/core/sequence"
)

type row struct {
	mu  sync.Mutex
	seq sequence.FiscalSequence
}

// Repository implements sequence.Repository in memory.
type Repository struct {
	mu   sync.RWMutex
	rows map[sequence.Key]*row
	now  func() time.Time
}

func NewRepository() *Repository {
	return &Repository{
		rows: make(map[sequence.Key]*row),
		now:  time.Now,
	}
}

func (r *Repository) lookup(key sequence.Key) (*row, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rw, ok := r.rows[key]
	return rw, ok
}

// UpdateLocked runs fn on a copy of the row and stores it back only when fn
// succeeds.
func (r *Repository) UpdateLocked(ctx context.Context, key sequence.Key, fn func(seq *sequence.FiscalSequence) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rw, ok := r.lookup(key)
	if !ok {
		return sequence.NotConfigured(key)
	}

	rw.mu.Lock()
	defer rw.mu.Unlock()

	working := rw.seq
	if err := fn(&working); err != nil {
		return err
	}
	rw.seq = working
	return nil
}

// Get returns a copy of the row for key.
func (r *Repository) Get(ctx context.Context, key sequence.Key) (*sequence.FiscalSequence, error) {
	rw, ok := r.lookup(key)
	if !ok {
		return nil, sequence.NotConfigured(key)
	}

	rw.mu.Lock()
	defer rw.mu.Unlock()
	seq := rw.seq
	return &seq, nil
}

// Create stores a new row.
func (r *Repository) Create(ctx context.Context, seq sequence.FiscalSequence) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := seq.Key()
	if _, exists := r.rows[key]; exists {
		return sequence.AlreadyExists(key)
	}
	now := r.now()
	if seq.CreatedAt.IsZero() {
		seq.CreatedAt = now
	}
	seq.UpdatedAt = now
	r.rows[key] = &row{seq: seq}
	return nil
}
