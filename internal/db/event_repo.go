package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"cookalert/internal/types"
)

// EventRepository provides data access for the events table.
type EventRepository struct {
	db    DBTX
	clock types.Clock
}

// NewEventRepository creates an EventRepository backed by db.
func NewEventRepository(db DBTX) *EventRepository {
	return &EventRepository{db: db, clock: types.RealClock{}}
}

// eventColumns is the column list shared by every event query. scanEvent
// depends on its order.
const eventColumns = `id, user_id, title, event_time, created_at`

func scanEvent(row pgx.Row) (*types.Event, error) {
	var e types.Event
	if err := row.Scan(&e.ID, &e.UserID, &e.Title, &e.EventTime, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.EventTime = e.EventTime.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

func eventNotFound() error {
	return types.NewAppError(types.ErrCodeNotFoundEvent, "event not found", types.ErrNotFound)
}

// Create inserts e, assigning ID and CreatedAt when they are empty.
func (r *EventRepository) Create(ctx context.Context, e *types.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.clock.Now().UTC()
	}
	e.EventTime = e.EventTime.UTC()

	_, err := r.db.Exec(ctx,
		`INSERT INTO events (`+eventColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.UserID, e.Title, e.EventTime, e.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create event", err)
	}
	return nil
}

// GetByID returns the event with the given id.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*types.Event, error) {
	row := r.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)

	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eventNotFound()
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve event", err)
	}
	return e, nil
}

// ListUpcomingByUser returns a page of the user's events after now, soonest
// first.
func (r *EventRepository) ListUpcomingByUser(ctx context.Context, userID string, now time.Time, page types.Page) ([]*types.Event, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE user_id = $1 AND event_time > $2
		 ORDER BY event_time ASC, id ASC
		 LIMIT $3 OFFSET $4`,
		userID, now.UTC(), page.Limit, page.Offset,
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

// Update applies the non-nil fields of upd and returns the stored event.
func (r *EventRepository) Update(ctx context.Context, id string, upd types.EventUpdate) (*types.Event, error) {
	if upd.IsEmpty() {
		return r.GetByID(ctx, id)
	}

	var eventTime *time.Time
	if upd.EventTime != nil {
		t := upd.EventTime.UTC()
		eventTime = &t
	}

	row := r.db.QueryRow(ctx,
		`UPDATE events
		 SET title = COALESCE($2, title),
		     event_time = COALESCE($3, event_time)
		 WHERE id = $1
		 RETURNING `+eventColumns,
		id, upd.Title, eventTime,
	)

	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eventNotFound()
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to update event", err)
	}
	return e, nil
}

// Delete removes the event and reports whether a row was deleted.
func (r *EventRepository) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to delete event", err)
	}
	return tag.RowsAffected() > 0, nil
}

var _ types.EventRepository = (*EventRepository)(nil)
