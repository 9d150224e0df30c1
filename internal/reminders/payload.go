// Package reminders turns cooking events into delayed reminder jobs and turns
// fired jobs into push notifications.
//
// The Scheduler runs in the API request path and upserts one job per event
// under the key reminder:<eventId>. The Consumer runs inside a queue.Worker,
// resolves the owner's current push token and hands a formatted message to
// the push gateway.
package reminders

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cookalert/internal/external"
	"cookalert/internal/types"
)

// KeyPrefix namespaces reminder jobs inside the queue.
const KeyPrefix = "reminder:"

// JobKey returns the queue key for an event's reminder.
func JobKey(eventID string) string {
	return KeyPrefix + eventID
}

// EventIDFromKey is the inverse of JobKey. ok is false for foreign keys.
func EventIDFromKey(key string) (id string, ok bool) {
	id, ok = strings.CutPrefix(key, KeyPrefix)
	return id, ok && id != ""
}

// Payload is the job body: a snapshot of the event taken at scheduling time.
type Payload struct {
	Event types.Event `json:"event"`
}

// EncodePayload serializes a snapshot of e.
func EncodePayload(e types.Event) ([]byte, error) {
	b, err := json.Marshal(Payload{Event: e})
	if err != nil {
		return nil, fmt.Errorf("encode reminder payload: %w", err)
	}
	return b, nil
}

var errIncompletePayload = errors.New("reminder payload missing event id or user id")

// DecodePayload parses a job body. Payloads without an event id or owner
// cannot be delivered and are rejected.
func DecodePayload(b []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("decode reminder payload: %w", err)
	}
	if p.Event.ID == "" || p.Event.UserID == "" {
		return nil, errIncompletePayload
	}
	return &p, nil
}

const bodyTimeLayout = "Mon Jan 2, 2006 at 3:04 PM MST"

// MessageFormat holds the presentation settings for reminder notifications.
type MessageFormat struct {
	Location     *time.Location
	DeepLinkBase string
}

// Title is the notification title for e.
func Title(e types.Event) string {
	return "Reminder: " + e.Title
}

// Body is the notification body for e, rendering the start time in loc.
func (f MessageFormat) Body(e types.Event) string {
	loc := f.Location
	if loc == nil {
		loc = time.UTC
	}
	return "Starts soon at " + e.EventTime.In(loc).Format(bodyTimeLayout)
}

// Message builds the push message delivered to token for e.
func (f MessageFormat) Message(token string, e types.Event) external.PushMessage {
	return external.PushMessage{
		To:    token,
		Title: Title(e),
		Body:  f.Body(e),
		Sound: "default",
		Data: map[string]any{
			"url":     f.DeepLinkBase + e.ID,
			"eventId": e.ID,
			"event":   e,
		},
	}
}
