package reminders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cookalert/internal/queue"
	"cookalert/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type upsertCall struct {
	key     string
	payload []byte
	delay   time.Duration
	opts    queue.JobOptions
}

type fakeEnqueuer struct {
	mu        sync.Mutex
	upserts   []upsertCall
	removed   []string
	upsertErr error
	removeOK  bool
}

func (f *fakeEnqueuer) Upsert(_ context.Context, key string, payload []byte, delay time.Duration, opts queue.JobOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, upsertCall{key, payload, delay, opts})
	return nil
}

func (f *fakeEnqueuer) Remove(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, key)
	return f.removeOK, nil
}

type countingMetrics struct {
	NopMetrics
	mu        sync.Mutex
	scheduled int
	cancelled int
	outcomes  []Outcome
	retried   int
	buried    int
}

func (m *countingMetrics) RecordScheduled(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduled++
}

func (m *countingMetrics) RecordCancelled(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled++
}

func (m *countingMetrics) RecordOutcome(_ context.Context, o Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, o)
}

func (m *countingMetrics) JobRetried(context.Context, *queue.Job, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retried++
}

func (m *countingMetrics) JobBuried(context.Context, *queue.Job, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buried++
}

func defaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		LeadTime: 15 * time.Minute,
		JobOptions: queue.JobOptions{
			Attempts: 3,
			Backoff:  queue.Backoff{Type: queue.BackoffExponential, Delay: 5 * time.Second},
		},
	}
}

func TestScheduleReminder_FutureEvent(t *testing.T) {
	q := &fakeEnqueuer{}
	metrics := &countingMetrics{}
	s := NewScheduler(q, defaultSchedulerConfig(), types.FixedClock(t0), nil, metrics)

	e := &types.Event{ID: "e1", UserID: "u1", Title: "Bake Bread", EventTime: t0.Add(time.Hour)}
	require.NoError(t, s.ScheduleReminder(context.Background(), e))

	require.Len(t, q.upserts, 1)
	call := q.upserts[0]
	assert.Equal(t, "reminder:e1", call.key)
	assert.Equal(t, 2700000*time.Millisecond, call.delay)
	assert.Equal(t, 3, call.opts.Attempts)
	assert.Equal(t, 5*time.Second, call.opts.Backoff.Delay)

	p, err := DecodePayload(call.payload)
	require.NoError(t, err)
	assert.Equal(t, "Bake Bread", p.Event.Title)
	assert.Equal(t, 1, metrics.scheduled)
}

func TestScheduleReminder_StalledCloudWatchDoesNotBlock(t *testing.T) {
	cw := &mockCloudWatchClient{block: make(chan struct{})}
	metrics := NewCloudWatchMetrics(cw, "CookAlert", nil, WithFlushPeriod(time.Millisecond))
	t.Cleanup(func() {
		close(cw.block)
		_ = metrics.Close()
	})
	q := &fakeEnqueuer{}
	s := NewScheduler(q, defaultSchedulerConfig(), types.FixedClock(t0), nil, metrics)

	done := make(chan error, 1)
	go func() {
		for i := 0; i < 5; i++ {
			e := &types.Event{ID: "e1", UserID: "u1", Title: "Roast", EventTime: t0.Add(time.Hour)}
			if err := s.ScheduleReminder(context.Background(), e); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ScheduleReminder waited on CloudWatch")
	}
	assert.Len(t, q.upserts, 5)
}

func TestScheduleReminder_DelayNeverNegative(t *testing.T) {
	tests := []struct {
		name      string
		eventTime time.Time
		want      time.Duration
	}{
		{"already past", t0.Add(-time.Hour), 0},
		{"inside lead window", t0.Add(5 * time.Minute), 0},
		{"exactly at lead", t0.Add(15 * time.Minute), 0},
		{"just outside lead", t0.Add(15*time.Minute + time.Second), time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeEnqueuer{}
			s := NewScheduler(q, defaultSchedulerConfig(), types.FixedClock(t0), nil, nil)

			require.NoError(t, s.ScheduleReminder(context.Background(), &types.Event{ID: "e", UserID: "u", Title: "x", EventTime: tt.eventTime}))
			require.Len(t, q.upserts, 1)
			assert.Equal(t, tt.want, q.upserts[0].delay)
		})
	}
}

func TestScheduleReminder_ZeroLead(t *testing.T) {
	q := &fakeEnqueuer{}
	cfg := defaultSchedulerConfig()
	cfg.LeadTime = 0
	s := NewScheduler(q, cfg, types.FixedClock(t0), nil, nil)

	require.NoError(t, s.ScheduleReminder(context.Background(), &types.Event{ID: "e", UserID: "u", EventTime: t0.Add(time.Hour)}))
	assert.Equal(t, time.Hour, q.upserts[0].delay)
}

func TestScheduleReminder_SameEventReusesKey(t *testing.T) {
	q := &fakeEnqueuer{}
	s := NewScheduler(q, defaultSchedulerConfig(), types.FixedClock(t0), nil, nil)

	e := &types.Event{ID: "e1", UserID: "u1", Title: "Bake Bread", EventTime: t0.Add(time.Hour)}
	require.NoError(t, s.ScheduleReminder(context.Background(), e))
	e.Title = "Bake Rye"
	require.NoError(t, s.ScheduleReminder(context.Background(), e))

	require.Len(t, q.upserts, 2)
	assert.Equal(t, q.upserts[0].key, q.upserts[1].key)
}

func TestScheduleReminder_PropagatesQueueError(t *testing.T) {
	boom := errors.New("redis down")
	s := NewScheduler(&fakeEnqueuer{upsertErr: boom}, defaultSchedulerConfig(), types.FixedClock(t0), nil, nil)

	err := s.ScheduleReminder(context.Background(), &types.Event{ID: "e1", UserID: "u1", EventTime: t0.Add(time.Hour)})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestCancelReminder(t *testing.T) {
	q := &fakeEnqueuer{removeOK: true}
	metrics := &countingMetrics{}
	s := NewScheduler(q, defaultSchedulerConfig(), types.FixedClock(t0), nil, metrics)

	removed, err := s.CancelReminder(context.Background(), "e1")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{"reminder:e1"}, q.removed)
	assert.Equal(t, 1, metrics.cancelled)

	q.removeOK = false
	removed, err = s.CancelReminder(context.Background(), "e2")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, 1, metrics.cancelled)
}
