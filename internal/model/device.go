package model

import "time"

// Device stores a user's push destinations in the `devices` table.
// Each user has at most one device row; re-registering updates the
// tokens in place.  The VoIP token is what call start requires to
// reach a callee.
type Device struct {
	ID        uint64    // devices.id
	UserID    uint64    // devices.user_id (unique)
	VoIPToken *string   // devices.voip_token (nullable)
	APNsToken *string   // devices.apns_token (nullable)
	CreatedAt time.Time // devices.created_at
	UpdatedAt time.Time // devices.updated_at
}

// Reachable reports whether the device carries any push destination a
// call notification could be delivered to.
func (d *Device) Reachable() bool {
	return d != nil && ((d.VoIPToken != nil && *d.VoIPToken != "") ||
		(d.APNsToken != nil && *d.APNsToken != ""))
}
