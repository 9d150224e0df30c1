package core

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cookalert/internal/types"
)

// testLogger returns a discard logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEventStruct struct {
	Title     string `json:"title" validate:"required,max=100"`
	EventTime string `json:"eventTime" validate:"required,rfc3339"`
}

type testDeviceStruct struct {
	UserID    string `json:"userId" validate:"required"`
	PushToken string `json:"pushToken" validate:"push_token"`
}

type testIDStruct struct {
	ID string `validate:"uuid"`
}

func TestValidationResult_IsValid(t *testing.T) {
	assert.True(t, ValidationResult{}.IsValid())
	assert.False(t, ValidationResult{Errors: []ValidationError{{Field: "title"}}}.IsValid())
}

func TestNewValidator(t *testing.T) {
	v := NewValidator(nil)
	require.NotNil(t, v)
	assert.NotNil(t, v.validate)
	assert.NotNil(t, v.logger)
}

func TestValidateStruct_Success(t *testing.T) {
	v := NewValidator(testLogger())

	err := v.ValidateStruct(testEventStruct{Title: "Bake Bread", EventTime: "2026-03-01T18:30:00+01:00"})
	assert.NoError(t, err)
}

func TestValidateStruct_Failure_ReturnsAppError(t *testing.T) {
	v := NewValidator(testLogger())

	err := v.ValidateStruct(testEventStruct{Title: "", EventTime: "tomorrow"})

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeValidationMissingField, appErr.Code)
	assert.Equal(t, "title is required", appErr.Message)

	errs, ok := appErr.Details["validation_errors"].([]ValidationError)
	require.True(t, ok)
	require.Len(t, errs, 2)
	assert.Equal(t, "eventTime", errs[1].Field)
	assert.Equal(t, string(types.ErrCodeValidationInvalidTime), errs[1].Code)
}

func TestValidateStruct_TitleTooLong(t *testing.T) {
	v := NewValidator(testLogger())

	err := v.ValidateStruct(testEventStruct{Title: strings.Repeat("a", 101), EventTime: "2026-03-01T18:30:00Z"})

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "title cannot exceed 100 characters", appErr.Message)
}

func TestValidateRFC3339(t *testing.T) {
	v := NewValidator(testLogger())
	cases := []struct {
		value string
		ok    bool
	}{
		{"2026-03-01T18:30:00Z", true},
		{"2026-03-01T18:30:00.123Z", true},
		{"2026-03-01T18:30:00-05:00", true},
		{"2026-03-01 18:30:00", false},
		{"2026-03-01", false},
	}
	for _, tc := range cases {
		t.Run(tc.value, func(t *testing.T) {
			r := v.ValidateStructWithResult(testEventStruct{Title: "x", EventTime: tc.value})
			assert.Equal(t, tc.ok, r.IsValid())
		})
	}
}

func TestValidatePushToken(t *testing.T) {
	v := NewValidator(testLogger())

	assert.True(t, v.ValidateStructWithResult(testDeviceStruct{UserID: "u1", PushToken: "ExpoPushToken[abc]"}).IsValid())

	r := v.ValidateStructWithResult(testDeviceStruct{UserID: "u1", PushToken: "   "})
	require.False(t, r.IsValid())
	assert.Equal(t, string(types.ErrCodeValidationPushToken), r.Errors[0].Code)

	r = v.ValidateStructWithResult(testDeviceStruct{UserID: "u1", PushToken: strings.Repeat("x", types.MaxPushTokenLength+1)})
	assert.False(t, r.IsValid())
}

func TestValidateStruct_UUID(t *testing.T) {
	v := NewValidator(testLogger())

	assert.NoError(t, v.ValidateStruct(testIDStruct{ID: "8f14e45f-ceea-4e5b-9a1a-0e1f2d3c4b5a"}))

	var appErr *types.AppError
	require.ErrorAs(t, v.ValidateStruct(testIDStruct{ID: "nope"}), &appErr)
	assert.Equal(t, types.ErrCodeValidationInvalidID, appErr.Code)
}

func TestTagToErrorCode(t *testing.T) {
	cases := []struct {
		tag      string
		expected types.ErrorCode
	}{
		{"required", types.ErrCodeValidationMissingField},
		{"rfc3339", types.ErrCodeValidationInvalidTime},
		{"uuid", types.ErrCodeValidationInvalidID},
		{"push_token", types.ErrCodeValidationPushToken},
		{"max", types.ErrCodeValidationInvalidFields},
	}
	for _, tc := range cases {
		t.Run(tc.tag, func(t *testing.T) {
			assert.Equal(t, string(tc.expected), tagToErrorCode(tc.tag))
		})
	}
}

func TestValidateStruct_NonStructIsInvalid(t *testing.T) {
	v := NewValidator(testLogger())

	var appErr *types.AppError
	require.ErrorAs(t, v.ValidateStruct("not a struct"), &appErr)
	assert.Equal(t, types.ErrCodeValidationInvalidFields, appErr.Code)
}
