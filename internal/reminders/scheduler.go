package reminders

import (
	"context"
	"fmt"
	"time"

	"cookalert/internal/queue"
	"cookalert/internal/types"
)

// Enqueuer is the slice of queue.Queue the Scheduler needs.
type Enqueuer interface {
	Upsert(ctx context.Context, key string, payload []byte, delay time.Duration, opts queue.JobOptions) error
	Remove(ctx context.Context, key string) (bool, error)
}

// SchedulerConfig sets when reminders fire and how failed deliveries retry.
type SchedulerConfig struct {
	LeadTime   time.Duration
	JobOptions queue.JobOptions
}

// Scheduler computes fire times and keeps exactly one reminder job per event.
type Scheduler struct {
	queue   Enqueuer
	cfg     SchedulerConfig
	clock   types.Clock
	logger  types.Logger
	metrics Metrics
}

// NewScheduler creates a Scheduler. Nil clock, logger or metrics fall back
// to the system clock and no-op implementations.
func NewScheduler(q Enqueuer, cfg SchedulerConfig, clock types.Clock, logger types.Logger, metrics Metrics) *Scheduler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Scheduler{
		queue:   q,
		cfg:     cfg,
		clock:   clock,
		logger:  logger.With("component", "reminder_scheduler"),
		metrics: metrics,
	}
}

// FireTime is the instant the reminder for e becomes due.
func (s *Scheduler) FireTime(e *types.Event) time.Time {
	return e.EventTime.Add(-s.cfg.LeadTime)
}

// Delay is how long from now until the reminder for e is due, never negative.
// Events already inside the lead window fire immediately.
func (s *Scheduler) Delay(e *types.Event) time.Duration {
	return max(0, s.FireTime(e).Sub(s.clock.Now()))
}

// ScheduleReminder upserts the reminder job for e, replacing any pending one.
// The event is assumed valid.
func (s *Scheduler) ScheduleReminder(ctx context.Context, e *types.Event) error {
	payload, err := EncodePayload(*e)
	if err != nil {
		return err
	}

	key := JobKey(e.ID)
	delay := s.Delay(e)
	if err := s.queue.Upsert(ctx, key, payload, delay, s.cfg.JobOptions); err != nil {
		return fmt.Errorf("schedule reminder for event %s: %w", e.ID, err)
	}

	s.metrics.RecordScheduled(ctx)
	s.logger.Info("reminder scheduled",
		"event_id", e.ID,
		"user_id", e.UserID,
		"fire_at", s.FireTime(e).UTC().Format(time.RFC3339),
		"delay_ms", delay.Milliseconds(),
	)
	return nil
}

// CancelReminder removes the pending reminder for eventID. It reports whether
// a job existed.
func (s *Scheduler) CancelReminder(ctx context.Context, eventID string) (bool, error) {
	removed, err := s.queue.Remove(ctx, JobKey(eventID))
	if err != nil {
		return false, fmt.Errorf("cancel reminder for event %s: %w", eventID, err)
	}
	if removed {
		s.metrics.RecordCancelled(ctx)
		s.logger.Info("reminder cancelled", "event_id", eventID)
	}
	return removed, nil
}
