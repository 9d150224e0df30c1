package types

import (
	"context"
	"time"
)

// EventRepository persists cooking events. Implementations exist for
// PostgreSQL, SQLite and DynamoDB and are selected by configuration.
type EventRepository interface {
	// Create assigns ID and CreatedAt when empty and stores the event.
	Create(ctx context.Context, e *Event) error

	// GetByID returns an AppError with ErrCodeNotFoundEvent when missing.
	GetByID(ctx context.Context, id string) (*Event, error)

	// ListUpcomingByUser returns one page of the user's events with
	// EventTime after now, ordered by EventTime ascending. page is already
	// normalized.
	ListUpcomingByUser(ctx context.Context, userID string, now time.Time, page Page) ([]*Event, error)

	// Update applies the non-nil fields and returns the stored result.
	// Returns an AppError with ErrCodeNotFoundEvent when missing.
	Update(ctx context.Context, id string, upd EventUpdate) (*Event, error)

	// Delete removes the event. Returns false when nothing was deleted.
	Delete(ctx context.Context, id string) (bool, error)
}

// DeviceRepository is the device directory: one push token per user.
type DeviceRepository interface {
	// SaveDeviceToken upserts the user's token (last write wins).
	SaveDeviceToken(ctx context.Context, userID, pushToken string) (*Device, error)

	// GetDeviceToken returns the user's token, or "" with a nil error when
	// the user has no registered device.
	GetDeviceToken(ctx context.Context, userID string) (string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// FixedClock is a Clock frozen at a single instant.
type FixedClock time.Time

// Now returns the frozen instant.
func (c FixedClock) Now() time.Time { return time.Time(c) }

// Logger defines the structured logging interface used throughout the platform.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// NopLogger discards everything. Useful as a default in constructors and tests.
type NopLogger struct{}

func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
func (NopLogger) Warn(string, ...any)  {}

// With returns the receiver.
func (l NopLogger) With(...any) Logger { return l }
