// Package sqlite implements the event and device repositories on a local
// SQLite file. It is the default store for development and single-node
// deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"cookalert/internal/types"
)

// Timestamps are stored as fixed-width UTC text so that string comparison
// matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	title      TEXT NOT NULL,
	event_time TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_user_time ON events(user_id, event_time);

CREATE TABLE IF NOT EXISTS devices (
	user_id    TEXT PRIMARY KEY,
	push_token TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return db, nil
}

// EventRepository stores events in SQLite.
type EventRepository struct {
	db    *sql.DB
	clock types.Clock
}

// NewEventRepository creates an EventRepository over db.
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db, clock: types.RealClock{}}
}

const eventColumns = `id, user_id, title, event_time, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*types.Event, error) {
	var (
		e                  types.Event
		eventTime, created string
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.Title, &eventTime, &created); err != nil {
		return nil, err
	}
	var err error
	if e.EventTime, err = parseTime(eventTime); err != nil {
		return nil, fmt.Errorf("event %s: bad event_time %q: %w", e.ID, eventTime, err)
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("event %s: bad created_at %q: %w", e.ID, created, err)
	}
	return &e, nil
}

func (r *EventRepository) Create(ctx context.Context, e *types.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.clock.Now().UTC()
	}
	// Round-trip precision is milliseconds.
	e.EventTime = e.EventTime.UTC().Truncate(time.Millisecond)
	e.CreatedAt = e.CreatedAt.UTC().Truncate(time.Millisecond)

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Title, formatTime(e.EventTime), formatTime(e.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create event", err)
	}
	return nil
}

func (r *EventRepository) GetByID(ctx context.Context, id string) (*types.Event, error) {
	e, err := scanEvent(r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundEvent, "event not found", types.ErrNotFound)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve event", err)
	}
	return e, nil
}

func (r *EventRepository) ListUpcomingByUser(ctx context.Context, userID string, now time.Time, page types.Page) ([]*types.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE user_id = ? AND event_time > ?
		 ORDER BY event_time ASC, id ASC
		 LIMIT ? OFFSET ?`,
		userID, formatTime(now), page.Limit, page.Offset,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list events", err)
	}
	defer rows.Close()

	events := []*types.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan event row", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating event rows", err)
	}
	return events, nil
}

// Update applies upd inside a transaction so the read-modify-write is atomic.
func (r *EventRepository) Update(ctx context.Context, id string, upd types.EventUpdate) (*types.Event, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	current, err := scanEvent(tx.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundEvent, "event not found", types.ErrNotFound)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve event", err)
	}

	updated := upd.Apply(*current)
	updated.EventTime = updated.EventTime.Truncate(time.Millisecond)
	if _, err := tx.ExecContext(ctx,
		`UPDATE events SET title = ?, event_time = ? WHERE id = ?`,
		updated.Title, formatTime(updated.EventTime), id,
	); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to update event", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to commit event update", err)
	}
	return &updated, nil
}

func (r *EventRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to delete event", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to delete event", err)
	}
	return n > 0, nil
}

// DeviceRepository stores push tokens in SQLite.
type DeviceRepository struct {
	db    *sql.DB
	clock types.Clock
}

// NewDeviceRepository creates a DeviceRepository over db.
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db, clock: types.RealClock{}}
}

func (r *DeviceRepository) SaveDeviceToken(ctx context.Context, userID, pushToken string) (*types.Device, error) {
	now := r.clock.Now().UTC().Truncate(time.Millisecond)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO devices (user_id, push_token, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET push_token = excluded.push_token, updated_at = excluded.updated_at`,
		userID, pushToken, formatTime(now),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to save device token", err)
	}
	return &types.Device{UserID: userID, PushToken: pushToken, UpdatedAt: now}, nil
}

func (r *DeviceRepository) GetDeviceToken(ctx context.Context, userID string) (string, error) {
	var token string
	err := r.db.QueryRowContext(ctx, `SELECT push_token FROM devices WHERE user_id = ?`, userID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve device token", err)
	}
	return token, nil
}

var (
	_ types.EventRepository  = (*EventRepository)(nil)
	_ types.DeviceRepository = (*DeviceRepository)(nil)
)
