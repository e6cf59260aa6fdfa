package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/makkenzo/entitlement-service-api/internal/domain/grant"
	"go.uber.org/zap"
)

const grantColumns = `id, device_id, license_key_id, activated_at, expires_at, revoked_at`

type GrantRepository struct {
	db     DBTX
	logger *zap.Logger
}

func NewGrantRepository(db DBTX, logger *zap.Logger) *GrantRepository {
	return &GrantRepository{
		db:     db,
		logger: logger.Named("GrantRepository"),
	}
}

var _ grant.Repository = (*GrantRepository)(nil)

func (r *GrantRepository) Create(ctx context.Context, g *grant.Grant) error {
	query := `
		INSERT INTO device_license_grants (id, device_id, license_key_id, activated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}

	if _, err := r.db.Exec(ctx, query, g.ID, g.DeviceID, g.LicenseKeyID, g.ActivatedAt, g.ExpiresAt); err != nil {
		r.logger.Error("Failed to create grant",
			zap.String("device_id", g.DeviceID),
			zap.String("license_key_id", g.LicenseKeyID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("db error creating grant: %w", err)
	}
	return nil
}

func (r *GrantRepository) ListByDevice(ctx context.Context, deviceID string) ([]*grant.Grant, error) {
	query := `SELECT ` + grantColumns + ` FROM device_license_grants WHERE device_id = $1 ORDER BY activated_at DESC`
	rows, err := r.db.Query(ctx, query, deviceID)
	if err != nil {
		r.logger.Error("Failed to query grants", zap.String("device_id", deviceID), zap.Error(err))
		return nil, fmt.Errorf("db error listing grants: %w", err)
	}
	defer rows.Close()

	grants := make([]*grant.Grant, 0)
	for rows.Next() {
		g, err := r.scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db iteration error listing grants: %w", err)
	}
	return grants, nil
}

func (r *GrantRepository) Revoke(ctx context.Context, id uuid.UUID, now time.Time) (*grant.Grant, error) {
	query := `SELECT ` + grantColumns + ` FROM device_license_grants WHERE id = $1 FOR UPDATE`
	g, err := r.scanGrant(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if g.IsRevoked() {
		return nil, grant.ErrAlreadyRevoked
	}

	if _, err := r.db.Exec(ctx, `UPDATE device_license_grants SET revoked_at = $2 WHERE id = $1`, id, now); err != nil {
		r.logger.Error("Failed to revoke grant", zap.String("id", id.String()), zap.Error(err))
		return nil, fmt.Errorf("db error revoking grant: %w", err)
	}

	g.RevokedAt.Time, g.RevokedAt.Valid = now, true
	r.logger.Info("Grant revoked", zap.String("id", id.String()), zap.String("device_id", g.DeviceID))
	return g, nil
}

func (r *GrantRepository) scanGrant(row pgx.Row) (*grant.Grant, error) {
	var g grant.Grant
	err := row.Scan(&g.ID, &g.DeviceID, &g.LicenseKeyID, &g.ActivatedAt, &g.ExpiresAt, &g.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, grant.ErrNotFound
		}
		r.logger.Error("Failed to scan grant row", zap.Error(err))
		return nil, fmt.Errorf("db scan error: %w", err)
	}
	return &g, nil
}
