package licensekey

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type LicenseKey struct {
	ID               uuid.UUID      `db:"id"`
	Code             string         `db:"code"`
	DurationDays     int            `db:"duration_days"`
	KeyExpiry        sql.NullTime   `db:"key_expiry"`
	RedeemedAt       sql.NullTime   `db:"redeemed_at"`
	RedeemedByDevice sql.NullString `db:"redeemed_by_device"`
	Note             sql.NullString `db:"note"`
	CreatedAt        time.Time      `db:"created_at"`
}

func (k *LicenseKey) IsRedeemed() bool {
	return k.RedeemedAt.Valid || k.RedeemedByDevice.Valid
}

// IsExpiredAt reports whether the code itself can no longer be redeemed at t.
func (k *LicenseKey) IsExpiredAt(t time.Time) bool {
	return k.KeyExpiry.Valid && k.KeyExpiry.Time.Before(t)
}

// CodeAlphabet leaves out characters that are easy to misread: 0/O and 1/I/L.
const CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

type Counts struct {
	Total    int64
	Redeemed int64
	Expired  int64
}
