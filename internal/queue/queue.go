// Package queue implements the durable delay queue behind reminder delivery:
// keyed jobs that run no earlier than a given instant, upsert by key,
// lease-based claiming, retry with backoff and terminal failure records.
//
// Three backends satisfy Backend: PostgreSQL (FOR UPDATE SKIP LOCKED), Redis
// (sorted sets driven by Lua scripts) and an in-process map for tests and
// local development.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cookalert/internal/types"
)

var (
	// ErrNoJob is returned by Claim when nothing is due.
	ErrNoJob = errors.New("queue: no job due")

	// ErrStaleJob is returned by Complete, Retry and Bury when the job was
	// replaced (newer generation) or reclaimed by another owner since it was
	// claimed. The caller's view of the job is obsolete and must be dropped.
	ErrStaleJob = errors.New("queue: job superseded")

	// ErrJobNotFound is returned by Get for unknown keys.
	ErrJobNotFound = errors.New("queue: job not found")
)

// Status is the persisted lifecycle state of a job. Completed jobs are
// deleted, so there is no completed status.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusFailed    Status = "failed"
)

// BackoffType selects how retry delays grow.
type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffFixed       BackoffType = "fixed"
)

// Backoff configures the delay between attempts.
type Backoff struct {
	Type  BackoffType   `json:"type" msgpack:"type"`
	Delay time.Duration `json:"delay" msgpack:"delay"`
	Max   time.Duration `json:"max,omitempty" msgpack:"max"`
}

// JobOptions are the per-job retry settings supplied by producers.
type JobOptions struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	Backoff  Backoff
}

// Job is a unit of delayed work. Key is the dedup and cancellation handle;
// Generation is bumped by every upsert and fences stale workers.
type Job struct {
	Key         string
	Payload     []byte
	NotBefore   time.Time
	Attempt     int
	MaxAttempts int
	Backoff     Backoff
	Generation  int64
	Status      Status
	LockedBy    string
	LockedAt    time.Time
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Backend is the storage contract for the delay queue. Implementations are
// the sole authority for mutual exclusion between workers.
type Backend interface {
	// Upsert inserts or replaces the job stored under job.Key. Replacement
	// resets Attempt, Status and lease, bumps Generation and writes the new
	// Generation back into job.
	Upsert(ctx context.Context, job *Job) error

	// Remove deletes the job under key in any state.
	Remove(ctx context.Context, key string) (bool, error)

	// Claim atomically takes the earliest scheduled job with NotBefore <= now,
	// or a running job whose lease started before leaseExpiredBefore, and
	// marks it running under owner. Returns ErrNoJob when nothing qualifies.
	Claim(ctx context.Context, owner string, now, leaseExpiredBefore time.Time) (*Job, error)

	// Complete deletes a claimed job.
	Complete(ctx context.Context, job *Job) error

	// Retry puts a claimed job back to scheduled at runAt with Attempt+1.
	// now stamps UpdatedAt.
	Retry(ctx context.Context, job *Job, now, runAt time.Time, reason string) error

	// Bury moves a claimed job to the terminal failed state at now.
	Bury(ctx context.Context, job *Job, now time.Time, reason string) error

	// Get returns the job under key or ErrJobNotFound.
	Get(ctx context.Context, key string) (*Job, error)
}

// Queue is the producer-side facade over a Backend.
type Queue struct {
	backend Backend
	clock   types.Clock
	logger  types.Logger
}

// NewQueue builds a Queue. A nil clock uses the system clock.
func NewQueue(backend Backend, clock types.Clock, logger types.Logger) *Queue {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Queue{backend: backend, clock: clock, logger: logger}
}

// Upsert schedules payload under key to run after delay, replacing any job
// already stored under the same key. Negative delays are treated as zero.
func (q *Queue) Upsert(ctx context.Context, key string, payload []byte, delay time.Duration, opts JobOptions) error {
	if key == "" {
		return errors.New("queue: empty job key")
	}
	if delay < 0 {
		delay = 0
	}
	opts = normalizeOptions(opts)

	now := q.clock.Now()
	job := &Job{
		Key:         key,
		Payload:     payload,
		NotBefore:   now.Add(delay),
		MaxAttempts: opts.Attempts,
		Backoff:     opts.Backoff,
		Status:      StatusScheduled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := q.backend.Upsert(ctx, job); err != nil {
		return fmt.Errorf("upsert job %s: %w", key, err)
	}

	q.logger.Info("job scheduled",
		"key", key,
		"generation", job.Generation,
		"not_before", job.NotBefore,
		"delay_ms", delay.Milliseconds(),
	)
	return nil
}

// Remove cancels the job under key. Removing an unknown key is not an error.
func (q *Queue) Remove(ctx context.Context, key string) (bool, error) {
	removed, err := q.backend.Remove(ctx, key)
	if err != nil {
		return false, fmt.Errorf("remove job %s: %w", key, err)
	}
	return removed, nil
}

// Get returns the stored job under key.
func (q *Queue) Get(ctx context.Context, key string) (*Job, error) {
	return q.backend.Get(ctx, key)
}

func normalizeOptions(opts JobOptions) JobOptions {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Backoff.Type == "" {
		opts.Backoff.Type = BackoffExponential
	}
	if opts.Backoff.Delay < 0 {
		opts.Backoff.Delay = 0
	}
	return opts
}
