package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/makkenzo/entitlement-service-api/internal/domain/licensekey"
	"go.uber.org/zap"
)

const licenseKeyColumns = `id, code, duration_days, key_expiry, redeemed_at, redeemed_by_device, note, created_at`

type LicenseKeyRepository struct {
	db     DBTX
	logger *zap.Logger
}

func NewLicenseKeyRepository(db DBTX, logger *zap.Logger) *LicenseKeyRepository {
	return &LicenseKeyRepository{
		db:     db,
		logger: logger.Named("LicenseKeyRepository"),
	}
}

var _ licensekey.Repository = (*LicenseKeyRepository)(nil)

func (r *LicenseKeyRepository) Create(ctx context.Context, key *licensekey.LicenseKey) error {
	query := `
		INSERT INTO license_keys (id, code, duration_days, key_expiry, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}

	_, err := r.db.Exec(ctx, query,
		key.ID,
		key.Code,
		key.DurationDays,
		key.KeyExpiry,
		key.Note,
		key.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			r.logger.Debug("License key code collided, caller may retry",
				zap.String("constraint", pgErr.ConstraintName),
			)
			return licensekey.ErrCodeCollision
		}
		r.logger.Error("Failed to create license key in database", zap.Error(err))
		return fmt.Errorf("db error creating license key: %w", err)
	}

	return nil
}

func (r *LicenseKeyRepository) FindForRedemption(ctx context.Context, code string) (*licensekey.LicenseKey, error) {
	query := `SELECT ` + licenseKeyColumns + ` FROM license_keys WHERE code = $1 FOR UPDATE`
	return r.scanLicenseKey(r.db.QueryRow(ctx, query, code))
}

func (r *LicenseKeyRepository) MarkRedeemed(ctx context.Context, id uuid.UUID, deviceID string, now time.Time) error {
	query := `
		UPDATE license_keys SET redeemed_at = $2, redeemed_by_device = $3
		WHERE id = $1 AND redeemed_at IS NULL AND redeemed_by_device IS NULL
	`
	cmdTag, err := r.db.Exec(ctx, query, id, now, deviceID)
	if err != nil {
		r.logger.Error("Failed to mark license key redeemed", zap.String("id", id.String()), zap.Error(err))
		return fmt.Errorf("db error marking license key redeemed: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		r.logger.Warn("License key was not redeemable when marking it redeemed", zap.String("id", id.String()))
		return licensekey.ErrAlreadyRedeemed
	}
	return nil
}

func (r *LicenseKeyRepository) List(ctx context.Context, filter string, limit int) ([]*licensekey.LicenseKey, error) {
	query := `
		SELECT ` + licenseKeyColumns + `
		FROM license_keys
		WHERE $1 = ''
		   OR strpos(lower(code), lower($1)) > 0
		   OR strpos(lower(COALESCE(note, '')), lower($1)) > 0
		ORDER BY created_at DESC, code
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, filter, limit)
	if err != nil {
		r.logger.Error("Failed to query list of license keys", zap.Error(err))
		return nil, fmt.Errorf("db error listing license keys: %w", err)
	}
	defer rows.Close()

	keys := make([]*licensekey.LicenseKey, 0)
	for rows.Next() {
		key, err := r.scanLicenseKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating license key rows", zap.Error(err))
		return nil, fmt.Errorf("db iteration error listing license keys: %w", err)
	}

	return keys, nil
}

func (r *LicenseKeyRepository) Count(ctx context.Context, now time.Time) (licensekey.Counts, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE redeemed_at IS NOT NULL),
			COUNT(*) FILTER (WHERE redeemed_at IS NULL AND key_expiry < $1)
		FROM license_keys
	`
	var c licensekey.Counts
	if err := r.db.QueryRow(ctx, query, now).Scan(&c.Total, &c.Redeemed, &c.Expired); err != nil {
		r.logger.Error("Failed to count license keys", zap.Error(err))
		return licensekey.Counts{}, fmt.Errorf("db error counting license keys: %w", err)
	}
	return c, nil
}

func (r *LicenseKeyRepository) scanLicenseKey(row pgx.Row) (*licensekey.LicenseKey, error) {
	var key licensekey.LicenseKey
	err := row.Scan(
		&key.ID,
		&key.Code,
		&key.DurationDays,
		&key.KeyExpiry,
		&key.RedeemedAt,
		&key.RedeemedByDevice,
		&key.Note,
		&key.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, licensekey.ErrNotFound
		}
		r.logger.Error("Failed to scan license key row", zap.Error(err))
		return nil, fmt.Errorf("db scan error: %w", err)
	}
	return &key, nil
}
