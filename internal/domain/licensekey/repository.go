package licensekey

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("license key not found")
	ErrCodeCollision   = errors.New("license key code already exists")
	ErrAlreadyRedeemed = errors.New("license key already redeemed")
)

type Repository interface {
	Create(ctx context.Context, key *LicenseKey) error
	// FindForRedemption locks the key row until the surrounding transaction ends.
	FindForRedemption(ctx context.Context, code string) (*LicenseKey, error)
	MarkRedeemed(ctx context.Context, id uuid.UUID, deviceID string, now time.Time) error
	List(ctx context.Context, filter string, limit int) ([]*LicenseKey, error)
	Count(ctx context.Context, now time.Time) (Counts, error)
}
