package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/makkenzo/entitlement-service-api/internal/domain/device"
	"github.com/makkenzo/entitlement-service-api/internal/domain/entitlement"
	"go.uber.org/zap"
)

const deviceColumns = `device_id, display_name, created_at, trial_started_at, trial_expires_at, last_verified_at, active_until`

// liveGrantHorizon is the latest expiry among the device's non-revoked grants, NULL if none.
const liveGrantHorizon = `(
	SELECT MAX(g.expires_at) FROM device_license_grants g
	WHERE g.device_id = d.device_id AND g.revoked_at IS NULL
)`

type DeviceRepository struct {
	db     DBTX
	logger *zap.Logger
}

func NewDeviceRepository(db DBTX, logger *zap.Logger) *DeviceRepository {
	return &DeviceRepository{
		db:     db,
		logger: logger.Named("DeviceRepository"),
	}
}

var _ device.Repository = (*DeviceRepository)(nil)

func (r *DeviceRepository) GetDevice(ctx context.Context, deviceID string) (*device.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE device_id = $1`
	return r.scanDevice(r.db.QueryRow(ctx, query, deviceID))
}

func (r *DeviceRepository) UpsertOnRegister(ctx context.Context, deviceID, displayName string, trialDays int, now time.Time) (*device.Device, bool, error) {
	query := `
		INSERT INTO devices (device_id, display_name, created_at, trial_started_at, trial_expires_at, last_verified_at, active_until)
		VALUES ($1, NULLIF($2, ''), $3, $3, $4, $3, $4)
		ON CONFLICT (device_id) DO UPDATE SET
			display_name = COALESCE(EXCLUDED.display_name, devices.display_name),
			last_verified_at = EXCLUDED.last_verified_at
		RETURNING ` + deviceColumns + `, (xmax = 0) AS inserted
	`
	trialExpiresAt := entitlement.AddDays(now, trialDays)

	var d device.Device
	var inserted bool
	err := r.db.QueryRow(ctx, query, deviceID, displayName, now, trialExpiresAt).Scan(
		&d.DeviceID,
		&d.DisplayName,
		&d.CreatedAt,
		&d.TrialStartedAt,
		&d.TrialExpiresAt,
		&d.LastVerifiedAt,
		&d.ActiveUntil,
		&inserted,
	)
	if err != nil {
		r.logger.Error("Failed to upsert device", zap.String("device_id", deviceID), zap.Error(err))
		return nil, false, fmt.Errorf("db error upserting device: %w", err)
	}

	if inserted {
		r.logger.Info("Device registered", zap.String("device_id", deviceID), zap.Time("trial_expires_at", d.TrialExpiresAt))
	}
	return &d, inserted, nil
}

func (r *DeviceRepository) RecomputeActiveUntil(ctx context.Context, deviceID string, now time.Time) (*device.Device, error) {
	query := `
		UPDATE devices d SET
			active_until = GREATEST(d.trial_expires_at, ` + liveGrantHorizon + `),
			last_verified_at = $2
		WHERE d.device_id = $1
		RETURNING ` + deviceColumns
	return r.scanDevice(r.db.QueryRow(ctx, query, deviceID, now))
}

func (r *DeviceRepository) SetTrialExpiry(ctx context.Context, deviceID string, expiresAt time.Time) (*device.Device, error) {
	query := `
		UPDATE devices d SET
			trial_expires_at = $2,
			active_until = GREATEST($2, ` + liveGrantHorizon + `)
		WHERE d.device_id = $1
		RETURNING ` + deviceColumns
	return r.scanDevice(r.db.QueryRow(ctx, query, deviceID, expiresAt))
}

func (r *DeviceRepository) RefreshActiveUntil(ctx context.Context, deviceID string) (*device.Device, error) {
	query := `
		UPDATE devices d SET
			active_until = GREATEST(d.trial_expires_at, ` + liveGrantHorizon + `)
		WHERE d.device_id = $1
		RETURNING ` + deviceColumns
	return r.scanDevice(r.db.QueryRow(ctx, query, deviceID))
}

func (r *DeviceRepository) List(ctx context.Context, limit int) ([]*device.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY created_at DESC LIMIT $1`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		r.logger.Error("Failed to query list of devices", zap.Error(err))
		return nil, fmt.Errorf("db error listing devices: %w", err)
	}
	defer rows.Close()

	devices := make([]*device.Device, 0)
	for rows.Next() {
		var d device.Device
		if err := rows.Scan(
			&d.DeviceID,
			&d.DisplayName,
			&d.CreatedAt,
			&d.TrialStartedAt,
			&d.TrialExpiresAt,
			&d.LastVerifiedAt,
			&d.ActiveUntil,
		); err != nil {
			r.logger.Error("Failed to scan device row during list", zap.Error(err))
			return nil, fmt.Errorf("db scan error listing devices: %w", err)
		}
		devices = append(devices, &d)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating device rows", zap.Error(err))
		return nil, fmt.Errorf("db iteration error listing devices: %w", err)
	}

	return devices, nil
}

func (r *DeviceRepository) Count(ctx context.Context, activeAt time.Time) (int64, int64, error) {
	query := `SELECT COUNT(*), COUNT(*) FILTER (WHERE active_until > $1) FROM devices`
	var total, active int64
	if err := r.db.QueryRow(ctx, query, activeAt).Scan(&total, &active); err != nil {
		r.logger.Error("Failed to count devices", zap.Error(err))
		return 0, 0, fmt.Errorf("db error counting devices: %w", err)
	}
	return total, active, nil
}

func (r *DeviceRepository) scanDevice(row pgx.Row) (*device.Device, error) {
	var d device.Device
	err := row.Scan(
		&d.DeviceID,
		&d.DisplayName,
		&d.CreatedAt,
		&d.TrialStartedAt,
		&d.TrialExpiresAt,
		&d.LastVerifiedAt,
		&d.ActiveUntil,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, device.ErrNotFound
		}
		r.logger.Error("Failed to scan device row", zap.Error(err))
		return nil, fmt.Errorf("db scan error: %w", err)
	}
	return &d, nil
}
