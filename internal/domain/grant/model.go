package grant

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Grant records one successful redemption of a license key by a device.
type Grant struct {
	ID           uuid.UUID    `db:"id"`
	DeviceID     string       `db:"device_id"`
	LicenseKeyID uuid.UUID    `db:"license_key_id"`
	ActivatedAt  time.Time    `db:"activated_at"`
	ExpiresAt    time.Time    `db:"expires_at"`
	RevokedAt    sql.NullTime `db:"revoked_at"`
}

func (g *Grant) IsRevoked() bool {
	return g.RevokedAt.Valid
}
