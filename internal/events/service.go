// Package events implements the cooking-event lifecycle: create, list,
// update and delete, keeping each event's reminder job in step with the
// stored event.
package events

import (
	"context"
	"errors"
	"time"

	"cookalert/internal/types"
)

// ReminderScheduler is the part of reminders.Scheduler the lifecycle uses.
type ReminderScheduler interface {
	ScheduleReminder(ctx context.Context, e *types.Event) error
	CancelReminder(ctx context.Context, eventID string) (bool, error)
}

// CreateInput is a validated create request.
type CreateInput struct {
	UserID    string
	Title     string
	EventTime time.Time
}

// UpdateInput carries optional replacements; nil fields are unchanged.
type UpdateInput struct {
	Title     *string
	EventTime *time.Time
}

// Config tunes lifecycle behaviour.
type Config struct {
	// CancelOnDelete removes the pending reminder when an event is deleted.
	// When false the job is left to fire and the consumer sends a reminder
	// for an event that no longer exists.
	CancelOnDelete bool
}

// Service coordinates the event store, the device directory and the
// reminder scheduler.
type Service struct {
	events    types.EventRepository
	devices   types.DeviceRepository
	reminders ReminderScheduler
	cfg       Config
	clock     types.Clock
	logger    types.Logger
}

// NewService creates a Service. A nil logger or clock gets a default.
func NewService(
	events types.EventRepository,
	devices types.DeviceRepository,
	reminders ReminderScheduler,
	cfg Config,
	clock types.Clock,
	logger types.Logger,
) *Service {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Service{
		events:    events,
		devices:   devices,
		reminders: reminders,
		cfg:       cfg,
		clock:     clock,
		logger:    logger.With("component", "event_service"),
	}
}

// Create validates and stores a new event, then schedules its reminder if
// the owner has a registered device. A scheduling failure is returned after
// the event has been stored.
func (s *Service) Create(ctx context.Context, in CreateInput) (*types.Event, error) {
	title := types.NormalizeTitle(in.Title)
	if err := types.ValidateTitle(title); err != nil {
		return nil, err
	}
	if err := types.ValidateEventTime(in.EventTime, s.clock.Now()); err != nil {
		return nil, err
	}

	e := &types.Event{
		UserID:    types.ResolveUserID(in.UserID),
		Title:     title,
		EventTime: in.EventTime.UTC(),
	}
	if err := s.events.Create(ctx, e); err != nil {
		return nil, err
	}
	s.logger.Info("event created", "event_id", e.ID, "user_id", e.UserID)

	if err := s.scheduleForOwner(ctx, e); err != nil {
		return e, err
	}
	return e, nil
}

// List returns one page of the user's upcoming events in chronological
// order. A zero Page yields the first DefaultPageLimit events.
func (s *Service) List(ctx context.Context, userID string, page types.Page) ([]*types.Event, error) {
	return s.events.ListUpcomingByUser(ctx, types.ResolveUserID(userID), s.clock.Now(), page.Normalize())
}

// Update applies in and reschedules the reminder when the title or event
// time actually changed.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*types.Event, error) {
	upd := types.EventUpdate{EventTime: in.EventTime}
	if in.Title != nil {
		title := types.NormalizeTitle(*in.Title)
		if err := types.ValidateTitle(title); err != nil {
			return nil, err
		}
		upd.Title = &title
	}
	if in.EventTime != nil {
		if err := types.ValidateEventTime(*in.EventTime, s.clock.Now()); err != nil {
			return nil, err
		}
	}

	before, err := s.events.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.IsEmpty() {
		return before, nil
	}

	after, err := s.events.Update(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	if !types.ChangesReminder(*before, *after) {
		return after, nil
	}

	s.logger.Info("event updated", "event_id", id)
	if err := s.scheduleForOwner(ctx, after); err != nil {
		return after, err
	}
	return after, nil
}

// Delete removes the event. The pending reminder is cancelled only when
// Config.CancelOnDelete is set; a failed cancellation is logged, not
// returned, since the event itself is already gone.
func (s *Service) Delete(ctx context.Context, id string) error {
	deleted, err := s.events.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return types.NewAppError(types.ErrCodeNotFoundEvent, "event not found", types.ErrNotFound)
	}
	s.logger.Info("event deleted", "event_id", id)

	if !s.cfg.CancelOnDelete {
		return nil
	}
	if _, err := s.reminders.CancelReminder(ctx, id); err != nil {
		s.logger.Warn("failed to cancel reminder for deleted event", "event_id", id, "error", err)
	}
	return nil
}

func (s *Service) scheduleForOwner(ctx context.Context, e *types.Event) error {
	token, err := s.devices.GetDeviceToken(ctx, e.UserID)
	if err != nil {
		return err
	}
	if token == "" {
		s.logger.Info("no device registered; reminder not scheduled", "event_id", e.ID, "user_id", e.UserID)
		return nil
	}
	if err := s.reminders.ScheduleReminder(ctx, e); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to schedule reminder", err)
	}
	return nil
}
