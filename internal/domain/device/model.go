package device

import (
	"database/sql"
	"time"
)

type Device struct {
	DeviceID       string         `db:"device_id"`
	DisplayName    sql.NullString `db:"display_name"`
	CreatedAt      time.Time      `db:"created_at"`
	TrialStartedAt time.Time      `db:"trial_started_at"`
	TrialExpiresAt time.Time      `db:"trial_expires_at"`
	LastVerifiedAt time.Time      `db:"last_verified_at"`
	ActiveUntil    time.Time      `db:"active_until"`
}

// IsActiveAt reports whether the cached horizon still authorizes the device at t.
func (d *Device) IsActiveAt(t time.Time) bool {
	return d.ActiveUntil.After(t)
}

const MaxDeviceIDLength = 128
