package reminders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cookalert/internal/external"
	"cookalert/internal/queue"
	"cookalert/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type staticDevices map[string]string

func (d staticDevices) SaveDeviceToken(_ context.Context, userID, token string) (*types.Device, error) {
	d[userID] = token
	return &types.Device{UserID: userID, PushToken: token}, nil
}

func (d staticDevices) GetDeviceToken(_ context.Context, userID string) (string, error) {
	return d[userID], nil
}

// scriptedGateway fails the first failures sends, then accepts.
type scriptedGateway struct {
	mu       sync.Mutex
	failures int
	sent     []external.PushMessage
	attempts int
}

func (g *scriptedGateway) Send(_ context.Context, msg external.PushMessage) (*external.PushTicket, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attempts++
	if g.attempts <= g.failures {
		return nil, types.NewAppError(types.ErrCodeUpstreamUnavailable, "gateway timeout", errors.New("timeout"))
	}
	g.sent = append(g.sent, msg)
	return &external.PushTicket{Status: "ok", ID: "ticket"}, nil
}

type flowFixture struct {
	clock     *stepClock
	backend   *queue.MemoryBackend
	scheduler *Scheduler
	worker    *queue.Worker
	gateway   *scriptedGateway
	metrics   *countingMetrics
}

func newFlowFixture(devices staticDevices, failures int) *flowFixture {
	clock := &stepClock{now: t0}
	backend := queue.NewMemoryBackend()
	metrics := &countingMetrics{}
	gateway := &scriptedGateway{failures: failures}

	scheduler := NewScheduler(queue.NewQueue(backend, clock, nil), defaultSchedulerConfig(), clock, nil, metrics)
	consumer := NewConsumer(devices, gateway, MessageFormat{DeepLinkBase: "cookalert://events/"},
		WithConsumerMetrics(metrics), WithConsumerClock(clock))
	worker := queue.NewWorker(backend, consumer.Handle, queue.WorkerConfig{ID: "w1"},
		queue.WithClock(clock), queue.WithObserver(metrics))

	return &flowFixture{clock, backend, scheduler, worker, gateway, metrics}
}

func (f *flowFixture) runOnce(t *testing.T) bool {
	t.Helper()
	ok, err := f.worker.RunOnce(context.Background(), "w1-0")
	require.NoError(t, err)
	return ok
}

func TestFlow_BakeBreadFiresAtLeadTime(t *testing.T) {
	f := newFlowFixture(staticDevices{"u1": "ExpoPushToken[abc]"}, 0)
	ctx := context.Background()

	e := &types.Event{ID: "e1", UserID: "u1", Title: "Bake Bread", EventTime: t0.Add(3600000 * time.Millisecond)}
	require.NoError(t, f.scheduler.ScheduleReminder(ctx, e))

	job, err := f.backend.Get(ctx, "reminder:e1")
	require.NoError(t, err)
	assert.Equal(t, 2700000*time.Millisecond, job.NotBefore.Sub(t0))

	f.clock.Advance(45*time.Minute - time.Second)
	assert.False(t, f.runOnce(t), "must not fire before the lead time")

	f.clock.Advance(time.Second)
	assert.True(t, f.runOnce(t))

	require.Len(t, f.gateway.sent, 1)
	assert.Equal(t, "ExpoPushToken[abc]", f.gateway.sent[0].To)
	assert.Equal(t, "Reminder: Bake Bread", f.gateway.sent[0].Title)

	_, err = f.backend.Get(ctx, "reminder:e1")
	assert.ErrorIs(t, err, queue.ErrJobNotFound, "completed jobs are removed")
	assert.Equal(t, []Outcome{OutcomeSent}, f.metrics.outcomes)
}

func TestFlow_PastEventFiresImmediately(t *testing.T) {
	f := newFlowFixture(staticDevices{"u1": "ExpoPushToken[abc]"}, 0)

	e := &types.Event{ID: "e1", UserID: "u1", Title: "Bake Bread", EventTime: t0.Add(-time.Hour)}
	require.NoError(t, f.scheduler.ScheduleReminder(context.Background(), e))

	job, err := f.backend.Get(context.Background(), "reminder:e1")
	require.NoError(t, err)
	assert.True(t, job.NotBefore.Equal(t0))

	assert.True(t, f.runOnce(t))
	require.Len(t, f.gateway.sent, 1)
}

func TestFlow_RescheduleKeepsSingleJob(t *testing.T) {
	f := newFlowFixture(staticDevices{"u1": "ExpoPushToken[abc]"}, 0)
	ctx := context.Background()

	e := &types.Event{ID: "e1", UserID: "u1", Title: "Bake Bread", EventTime: t0.Add(time.Hour)}
	require.NoError(t, f.scheduler.ScheduleReminder(ctx, e))
	e.Title = "Bake Sourdough"
	e.EventTime = t0.Add(2 * time.Hour)
	require.NoError(t, f.scheduler.ScheduleReminder(ctx, e))

	assert.Equal(t, 1, f.backend.Len())

	f.clock.Advance(time.Hour)
	assert.False(t, f.runOnce(t), "old fire time must not trigger")

	f.clock.Advance(45 * time.Minute)
	assert.True(t, f.runOnce(t))
	require.Len(t, f.gateway.sent, 1)
	assert.Equal(t, "Reminder: Bake Sourdough", f.gateway.sent[0].Title)
}

func TestFlow_TransientFailureRetriesWithBackoff(t *testing.T) {
	f := newFlowFixture(staticDevices{"u1": "ExpoPushToken[abc]"}, 1)
	ctx := context.Background()

	require.NoError(t, f.scheduler.ScheduleReminder(ctx, &types.Event{ID: "e1", UserID: "u1", Title: "Roast", EventTime: t0}))

	assert.True(t, f.runOnce(t))
	job, err := f.backend.Get(ctx, "reminder:e1")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusScheduled, job.Status)
	assert.Equal(t, 1, job.Attempt)
	assert.Equal(t, 5*time.Second, job.NotBefore.Sub(t0))
	assert.Equal(t, 1, f.metrics.retried)

	f.clock.Advance(5 * time.Second)
	assert.True(t, f.runOnce(t))
	require.Len(t, f.gateway.sent, 1)
	assert.Equal(t, 2, f.gateway.attempts)
}

func TestFlow_ExhaustedRetriesLeaveFailedRecord(t *testing.T) {
	f := newFlowFixture(staticDevices{"u1": "ExpoPushToken[abc]"}, 100)
	ctx := context.Background()

	require.NoError(t, f.scheduler.ScheduleReminder(ctx, &types.Event{ID: "e1", UserID: "u1", Title: "Roast", EventTime: t0}))

	for i := 0; i < 3; i++ {
		assert.True(t, f.runOnce(t), "attempt %d", i+1)
		f.clock.Advance(time.Minute)
	}
	assert.False(t, f.runOnce(t))

	job, err := f.backend.Get(ctx, "reminder:e1")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, job.Status)
	assert.Equal(t, 3, f.gateway.attempts)
	assert.Equal(t, 2, f.metrics.retried)
	assert.Equal(t, 1, f.metrics.buried)
}

func TestFlow_NoDeviceCompletesWithoutSending(t *testing.T) {
	f := newFlowFixture(staticDevices{}, 0)
	ctx := context.Background()

	require.NoError(t, f.scheduler.ScheduleReminder(ctx, &types.Event{ID: "e1", UserID: "u1", Title: "Roast", EventTime: t0}))
	assert.True(t, f.runOnce(t))

	assert.Empty(t, f.gateway.sent)
	assert.Equal(t, 0, f.backend.Len())
}

func TestFlow_CancelledReminderNeverFires(t *testing.T) {
	f := newFlowFixture(staticDevices{"u1": "ExpoPushToken[abc]"}, 0)
	ctx := context.Background()

	require.NoError(t, f.scheduler.ScheduleReminder(ctx, &types.Event{ID: "e1", UserID: "u1", Title: "Roast", EventTime: t0}))
	removed, err := f.scheduler.CancelReminder(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, removed)

	assert.False(t, f.runOnce(t))
	assert.Empty(t, f.gateway.sent)
}
