package clientkey

import (
	"time"

	"github.com/google/uuid"
)

// ClientKey identifies an app build that is allowed to call the device endpoints.
type ClientKey struct {
	ID          uuid.UUID  `db:"id"`
	KeyHash     string     `db:"key_hash"`
	Prefix      string     `db:"prefix"`
	Description string     `db:"description"`
	IsEnabled   bool       `db:"is_enabled"`
	CreatedAt   time.Time  `db:"created_at"`
	LastUsedAt  *time.Time `db:"last_used_at"`
}

const (
	PrefixLength = 8
	SecretLength = 32
	KeyScheme    = "ek"
	KeyFormat    = KeyScheme + "_%s_%s"
)
