package types

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Validation constraint constants.
const (
	MaxTitleLength     = 100
	MaxPushTokenLength = 512
	MaxUserIDLength    = 128
)

// NormalizeTitle trims surrounding whitespace from an event title.
func NormalizeTitle(title string) string {
	return strings.TrimSpace(title)
}

// ValidateTitle checks that a (normalized) title is non-empty and at most
// MaxTitleLength characters.
func ValidateTitle(title string) error {
	if title == "" {
		return NewAppError(ErrCodeValidationTitle, "title is required", nil)
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return NewAppErrorWithDetails(ErrCodeValidationTitle, "title is too long", nil,
			map[string]any{"max_length": MaxTitleLength})
	}
	return nil
}

// ValidateEventTime requires the event to lie strictly in the future
// relative to now.
func ValidateEventTime(eventTime, now time.Time) error {
	if eventTime.IsZero() {
		return NewAppError(ErrCodeValidationMissingField, "eventTime is required", nil)
	}
	if !eventTime.After(now) {
		return NewAppError(ErrCodeValidationEventTime, "eventTime must be in the future", nil)
	}
	return nil
}

// ResolveUserID returns DefaultUserID when userID is blank.
func ResolveUserID(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return DefaultUserID
	}
	return userID
}
