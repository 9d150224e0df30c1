// Package types holds the domain entities, error taxonomy and cross-cutting
// interfaces shared by every cookalert component. It has no dependencies on
// other internal packages.
package types

import "time"

// DefaultUserID is the owner assigned to events created without an explicit
// user. The mobile client runs without accounts and relies on this value.
const DefaultUserID = "default-user"

// Event is a user-created cooking event. ID and CreatedAt are immutable once
// the event has been persisted.
type Event struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	EventTime time.Time `json:"eventTime"`
	CreatedAt time.Time `json:"createdAt"`
}

// EventUpdate carries the mutable subset of an Event. Nil fields are left
// untouched by repositories.
type EventUpdate struct {
	Title     *string
	EventTime *time.Time
}

// IsEmpty reports whether the update changes nothing.
func (u EventUpdate) IsEmpty() bool {
	return u.Title == nil && u.EventTime == nil
}

// Apply returns a copy of e with the update applied.
func (u EventUpdate) Apply(e Event) Event {
	if u.Title != nil {
		e.Title = *u.Title
	}
	if u.EventTime != nil {
		e.EventTime = u.EventTime.UTC()
	}
	return e
}

// ChangesReminder reports whether moving from before to after alters anything
// a scheduled reminder snapshot depends on (title or event time).
func ChangesReminder(before, after Event) bool {
	return before.Title != after.Title || !before.EventTime.Equal(after.EventTime)
}

// Device maps a user to the push token of their most recently registered
// app installation. Last write wins; no history is kept.
type Device struct {
	UserID    string    `json:"userId" dynamodbav:"userId"`
	PushToken string    `json:"pushToken" dynamodbav:"pushToken"`
	UpdatedAt time.Time `json:"updatedAt" dynamodbav:"updatedAt"`
}
