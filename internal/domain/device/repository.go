package device

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("device not found")

type Repository interface {
	GetDevice(ctx context.Context, deviceID string) (*Device, error)
	// UpsertOnRegister creates the device with a fresh trial window or, for a known
	// device, refreshes display name and heartbeat without touching the trial.
	UpsertOnRegister(ctx context.Context, deviceID, displayName string, trialDays int, now time.Time) (*Device, bool, error)
	RecomputeActiveUntil(ctx context.Context, deviceID string, now time.Time) (*Device, error)
	// SetTrialExpiry rewrites the trial window end and re-derives active_until.
	SetTrialExpiry(ctx context.Context, deviceID string, expiresAt time.Time) (*Device, error)
	// RefreshActiveUntil re-derives active_until without touching the heartbeat.
	RefreshActiveUntil(ctx context.Context, deviceID string) (*Device, error)
	List(ctx context.Context, limit int) ([]*Device, error)
	Count(ctx context.Context, activeAt time.Time) (total int64, active int64, err error)
}
