package types

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTitle(t *testing.T) {
	assert.NoError(t, ValidateTitle("Bake Bread"))
	assert.NoError(t, ValidateTitle(strings.Repeat("a", MaxTitleLength)))

	for _, title := range []string{"", strings.Repeat("a", MaxTitleLength+1)} {
		err := ValidateTitle(title)
		require.Error(t, err)
		var appErr *AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, ErrCodeValidationTitle, appErr.Code)
	}
}

func TestValidateTitle_CountsRunesNotBytes(t *testing.T) {
	assert.NoError(t, ValidateTitle(strings.Repeat("é", MaxTitleLength)))
}

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, "Bake Bread", NormalizeTitle("  Bake Bread \n"))
	assert.Equal(t, "", NormalizeTitle("   "))
}

func TestValidateEventTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.NoError(t, ValidateEventTime(now.Add(time.Minute), now))

	var appErr *AppError
	err := ValidateEventTime(now, now)
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrCodeValidationEventTime, appErr.Code)

	err = ValidateEventTime(now.Add(-time.Hour), now)
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrCodeValidationEventTime, appErr.Code)

	err = ValidateEventTime(time.Time{}, now)
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrCodeValidationMissingField, appErr.Code)
}

func TestResolveUserID(t *testing.T) {
	assert.Equal(t, DefaultUserID, ResolveUserID(""))
	assert.Equal(t, DefaultUserID, ResolveUserID("  "))
	assert.Equal(t, "u1", ResolveUserID("u1"))
}
