package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newJob(key string, payload string, notBefore time.Time) *Job {
	return &Job{
		Key:         key,
		Payload:     []byte(payload),
		NotBefore:   notBefore,
		MaxAttempts: 3,
		Backoff:     Backoff{Type: BackoffExponential, Delay: 5 * time.Second, Max: time.Minute},
		Status:      StatusScheduled,
		CreatedAt:   t0,
		UpdatedAt:   t0,
	}
}

// runBackendContract exercises the behaviour every Backend must share.
func runBackendContract(t *testing.T, newBackend func(t *testing.T) Backend) {
	ctx := context.Background()
	never := t0.Add(-time.Hour)

	t.Run("upsert then get", func(t *testing.T) {
		b := newBackend(t)
		job := newJob("reminder:e1", `{"v":1}`, t0.Add(time.Minute))
		require.NoError(t, b.Upsert(ctx, job))
		assert.Equal(t, int64(1), job.Generation)

		got, err := b.Get(ctx, "reminder:e1")
		require.NoError(t, err)
		assert.Equal(t, StatusScheduled, got.Status)
		assert.Equal(t, int64(1), got.Generation)
		assert.Equal(t, 0, got.Attempt)
		assert.Equal(t, 3, got.MaxAttempts)
		assert.Equal(t, BackoffExponential, got.Backoff.Type)
		assert.Equal(t, 5*time.Second, got.Backoff.Delay)
		assert.Equal(t, `{"v":1}`, string(got.Payload))
		assert.True(t, got.NotBefore.Equal(t0.Add(time.Minute)))
	})

	t.Run("get unknown", func(t *testing.T) {
		_, err := newBackend(t).Get(ctx, "reminder:missing")
		assert.ErrorIs(t, err, ErrJobNotFound)
	})

	t.Run("upsert replaces by key", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Upsert(ctx, newJob("reminder:e1", `{"v":1}`, t0.Add(time.Hour))))
		second := newJob("reminder:e1", `{"v":2}`, t0.Add(2*time.Hour))
		require.NoError(t, b.Upsert(ctx, second))
		assert.Equal(t, int64(2), second.Generation)

		got, err := b.Get(ctx, "reminder:e1")
		require.NoError(t, err)
		assert.Equal(t, `{"v":2}`, string(got.Payload))
		assert.True(t, got.NotBefore.Equal(t0.Add(2*time.Hour)))

		// Only one job exists: after claiming it nothing else is due.
		job, err := b.Claim(ctx, "w1", t0.Add(3*time.Hour), never)
		require.NoError(t, err)
		assert.Equal(t, `{"v":2}`, string(job.Payload))
		_, err = b.Claim(ctx, "w1", t0.Add(3*time.Hour), never)
		assert.ErrorIs(t, err, ErrNoJob)
	})

	t.Run("claim respects not before", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Upsert(ctx, newJob("reminder:e1", `{}`, t0.Add(time.Minute))))

		_, err := b.Claim(ctx, "w1", t0, never)
		assert.ErrorIs(t, err, ErrNoJob)

		job, err := b.Claim(ctx, "w1", t0.Add(time.Minute), never)
		require.NoError(t, err)
		assert.Equal(t, "reminder:e1", job.Key)
		assert.Equal(t, StatusRunning, job.Status)
		assert.Equal(t, "w1", job.LockedBy)
		assert.True(t, job.LockedAt.Equal(t0.Add(time.Minute)))

		_, err = b.Claim(ctx, "w2", t0.Add(time.Minute), never)
		assert.ErrorIs(t, err, ErrNoJob, "a running job must not be claimed twice")
	})

	t.Run("claim earliest first", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Upsert(ctx, newJob("reminder:late", `{}`, t0.Add(2*time.Minute))))
		require.NoError(t, b.Upsert(ctx, newJob("reminder:early", `{}`, t0.Add(time.Minute))))

		job, err := b.Claim(ctx, "w1", t0.Add(time.Hour), never)
		require.NoError(t, err)
		assert.Equal(t, "reminder:early", job.Key)
	})

	t.Run("complete removes job", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Upsert(ctx, newJob("reminder:e1", `{}`, t0)))
		job, err := b.Claim(ctx, "w1", t0, never)
		require.NoError(t, err)

		require.NoError(t, b.Complete(ctx, job))
		_, err = b.Get(ctx, "reminder:e1")
		assert.ErrorIs(t, err, ErrJobNotFound)
	})

	t.Run("retry reschedules with attempt incremented", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Upsert(ctx, newJob("reminder:e1", `{}`, t0)))
		job, err := b.Claim(ctx, "w1", t0, never)
		require.NoError(t, err)

		require.NoError(t, b.Retry(ctx, job, t0.Add(time.Second), t0.Add(5*time.Second), "gateway down"))

		got, err := b.Get(ctx, "reminder:e1")
		require.NoError(t, err)
		assert.Equal(t, StatusScheduled, got.Status)
		assert.Equal(t, 1, got.Attempt)
		assert.Equal(t, "gateway down", got.LastError)
		assert.True(t, got.UpdatedAt.Equal(t0.Add(time.Second)), "updated_at comes from the caller's clock")
		assert.Empty(t, got.LockedBy)

		_, err = b.Claim(ctx, "w1", t0.Add(4*time.Second), never)
		assert.ErrorIs(t, err, ErrNoJob)

		again, err := b.Claim(ctx, "w1", t0.Add(5*time.Second), never)
		require.NoError(t, err)
		assert.Equal(t, 1, again.Attempt)
	})

	t.Run("bury keeps failed record", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Upsert(ctx, newJob("reminder:e1", `{}`, t0)))
		job, err := b.Claim(ctx, "w1", t0, never)
		require.NoError(t, err)

		require.NoError(t, b.Bury(ctx, job, t0.Add(2*time.Second), "boom"))

		got, err := b.Get(ctx, "reminder:e1")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Equal(t, 1, got.Attempt)
		assert.Equal(t, "boom", got.LastError)
		assert.True(t, got.UpdatedAt.Equal(t0.Add(2*time.Second)))

		_, err = b.Claim(ctx, "w1", t0.Add(time.Hour), never)
		assert.ErrorIs(t, err, ErrNoJob)

		revived := newJob("reminder:e1", `{}`, t0)
		require.NoError(t, b.Upsert(ctx, revived))
		assert.Equal(t, int64(2), revived.Generation)
		got, err = b.Get(ctx, "reminder:e1")
		require.NoError(t, err)
		assert.Equal(t, StatusScheduled, got.Status)
		assert.Equal(t, 0, got.Attempt)
	})

	t.Run("upsert while running fences the old worker", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Upsert(ctx, newJob("reminder:e1", `{"v":1}`, t0)))
		running, err := b.Claim(ctx, "w1", t0, never)
		require.NoError(t, err)

		require.NoError(t, b.Upsert(ctx, newJob("reminder:e1", `{"v":2}`, t0.Add(time.Minute))))

		assert.ErrorIs(t, b.Complete(ctx, running), ErrStaleJob)
		assert.ErrorIs(t, b.Retry(ctx, running, t0, t0, "x"), ErrStaleJob)
		assert.ErrorIs(t, b.Bury(ctx, running, t0, "x"), ErrStaleJob)

		next, err := b.Claim(ctx, "w2", t0.Add(time.Minute), never)
		require.NoError(t, err)
		assert.Equal(t, `{"v":2}`, string(next.Payload))
		assert.Equal(t, int64(2), next.Generation)
	})

	t.Run("expired lease is reclaimed", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Upsert(ctx, newJob("reminder:e1", `{}`, t0)))
		first, err := b.Claim(ctx, "w1", t0, never)
		require.NoError(t, err)

		lease := 5 * time.Minute
		now := t0.Add(time.Minute)
		_, err = b.Claim(ctx, "w2", now, now.Add(-lease))
		assert.ErrorIs(t, err, ErrNoJob, "lease still valid")

		now = t0.Add(6 * time.Minute)
		second, err := b.Claim(ctx, "w2", now, now.Add(-lease))
		require.NoError(t, err)
		assert.Equal(t, "w2", second.LockedBy)

		assert.ErrorIs(t, b.Complete(ctx, first), ErrStaleJob, "previous owner lost the lease")
		require.NoError(t, b.Complete(ctx, second))
	})

	t.Run("remove", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Upsert(ctx, newJob("reminder:e1", `{}`, t0)))

		removed, err := b.Remove(ctx, "reminder:e1")
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = b.Remove(ctx, "reminder:e1")
		require.NoError(t, err)
		assert.False(t, removed)

		_, err = b.Claim(ctx, "w1", t0.Add(time.Hour), never)
		assert.ErrorIs(t, err, ErrNoJob)
	})
}
