package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend keeps jobs in a mutex-guarded map. It gives the same
// semantics as the durable backends within a single process and is used for
// tests and QUEUE_BACKEND=memory.
type MemoryBackend struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewMemoryBackend returns an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{jobs: make(map[string]*Job)}
}

func (b *MemoryBackend) Upsert(_ context.Context, job *Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored := cloneJob(job)
	stored.Attempt = 0
	stored.Status = StatusScheduled
	stored.LockedBy = ""
	stored.LockedAt = time.Time{}
	stored.LastError = ""
	stored.Generation = 1

	if prev, ok := b.jobs[job.Key]; ok {
		stored.Generation = prev.Generation + 1
		stored.CreatedAt = prev.CreatedAt
	}
	b.jobs[job.Key] = stored
	job.Generation = stored.Generation
	return nil
}

func (b *MemoryBackend) Remove(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.jobs[key]
	delete(b.jobs, key)
	return ok, nil
}

func (b *MemoryBackend) Claim(_ context.Context, owner string, now, leaseExpiredBefore time.Time) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var pick *Job
	for _, j := range b.jobs {
		eligible := (j.Status == StatusScheduled && !j.NotBefore.After(now)) ||
			(j.Status == StatusRunning && j.LockedAt.Before(leaseExpiredBefore))
		if !eligible {
			continue
		}
		if pick == nil || j.NotBefore.Before(pick.NotBefore) ||
			(j.NotBefore.Equal(pick.NotBefore) && j.Key < pick.Key) {
			pick = j
		}
	}
	if pick == nil {
		return nil, ErrNoJob
	}

	pick.Status = StatusRunning
	pick.LockedBy = owner
	pick.LockedAt = now
	pick.UpdatedAt = now
	return cloneJob(pick), nil
}

// owned returns the stored job when it is still the generation and lease the
// caller claimed.
func (b *MemoryBackend) owned(job *Job) (*Job, error) {
	stored, ok := b.jobs[job.Key]
	if !ok || stored.Generation != job.Generation || stored.Status != StatusRunning || stored.LockedBy != job.LockedBy {
		return nil, ErrStaleJob
	}
	return stored, nil
}

func (b *MemoryBackend) Complete(_ context.Context, job *Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.owned(job); err != nil {
		return err
	}
	delete(b.jobs, job.Key)
	return nil
}

func (b *MemoryBackend) Retry(_ context.Context, job *Job, now, runAt time.Time, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored, err := b.owned(job)
	if err != nil {
		return err
	}
	stored.Status = StatusScheduled
	stored.Attempt = job.Attempt + 1
	stored.NotBefore = runAt
	stored.LastError = reason
	stored.LockedBy = ""
	stored.LockedAt = time.Time{}
	stored.UpdatedAt = now.UTC()
	return nil
}

func (b *MemoryBackend) Bury(_ context.Context, job *Job, now time.Time, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored, err := b.owned(job)
	if err != nil {
		return err
	}
	stored.Status = StatusFailed
	stored.Attempt = job.Attempt + 1
	stored.LastError = reason
	stored.LockedBy = ""
	stored.LockedAt = time.Time{}
	stored.UpdatedAt = now.UTC()
	return nil
}

func (b *MemoryBackend) Get(_ context.Context, key string) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	j, ok := b.jobs[key]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(j), nil
}

// Len returns the number of stored jobs in any state.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.jobs)
}

func cloneJob(j *Job) *Job {
	c := *j
	if j.Payload != nil {
		c.Payload = append([]byte(nil), j.Payload...)
	}
	return &c
}

var _ Backend = (*MemoryBackend)(nil)
