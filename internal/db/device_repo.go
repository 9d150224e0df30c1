package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"cookalert/internal/types"
)

// DeviceRepository provides data access for the devices table: one push
// token per user, last write wins.
type DeviceRepository struct {
	db DBTX
}

// NewDeviceRepository creates a DeviceRepository backed by db.
func NewDeviceRepository(db DBTX) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// SaveDeviceToken upserts the user's token.
func (r *DeviceRepository) SaveDeviceToken(ctx context.Context, userID, pushToken string) (*types.Device, error) {
	var d types.Device
	err := r.db.QueryRow(ctx,
		`INSERT INTO devices (user_id, push_token, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (user_id) DO UPDATE
		 SET push_token = EXCLUDED.push_token, updated_at = EXCLUDED.updated_at
		 RETURNING user_id, push_token, updated_at`,
		userID, pushToken,
	).Scan(&d.UserID, &d.PushToken, &d.UpdatedAt)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to save device token", err)
	}
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}

// GetDeviceToken returns the user's token or "" when none is registered.
func (r *DeviceRepository) GetDeviceToken(ctx context.Context, userID string) (string, error) {
	var token string
	err := r.db.QueryRow(ctx, `SELECT push_token FROM devices WHERE user_id = $1`, userID).Scan(&token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve device token", err)
	}
	return token, nil
}

var _ types.DeviceRepository = (*DeviceRepository)(nil)
