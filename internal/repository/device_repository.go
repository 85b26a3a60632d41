package repository

import (
	"context"
	"database/sql"

	"github.com/fridaylabs/token-market/internal/model"
)

// DeviceRepo persists push destinations.  Each user has at most one
// device row (unique user_id); registering again updates whichever
// tokens the request carries and leaves the others untouched.
type DeviceRepo struct {
	DB *sql.DB
}

// NewDeviceRepo returns a new DeviceRepo bound to the given database.
func NewDeviceRepo(db *sql.DB) *DeviceRepo { return &DeviceRepo{DB: db} }

// Upsert registers or updates a user's device.  Nil token pointers
// leave the stored value unchanged so a VoIP-only update does not
// wipe the alert token.  Returns true when a new row was created.
func (r *DeviceRepo) Upsert(ctx context.Context, userID uint64, voipToken, apnsToken *string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO devices (user_id, voip_token, apns_token) VALUES (?,?,?)
		 ON DUPLICATE KEY UPDATE
		   voip_token = COALESCE(VALUES(voip_token), voip_token),
		   apns_token = COALESCE(VALUES(apns_token), apns_token)`,
		userID, voipToken, apnsToken)
	if err != nil {
		return false, err
	}
	// MySQL reports 1 affected row for an insert, 2 for an update.
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetByUser returns a user's device row, or sql.ErrNoRows when the
// user never registered one.
func (r *DeviceRepo) GetByUser(ctx context.Context, userID uint64) (*model.Device, error) {
	var d model.Device
	var voip, apns sql.NullString
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, user_id, voip_token, apns_token, created_at, updated_at FROM devices WHERE user_id = ? LIMIT 1",
		userID).Scan(&d.ID, &d.UserID, &voip, &apns, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if voip.Valid {
		v := voip.String
		d.VoIPToken = &v
	}
	if apns.Valid {
		a := apns.String
		d.APNsToken = &a
	}
	return &d, nil
}
