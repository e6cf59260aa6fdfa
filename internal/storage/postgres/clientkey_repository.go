package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/makkenzo/entitlement-service-api/internal/domain/clientkey"
	"go.uber.org/zap"
)

type ClientKeyRepository struct {
	db     DBTX
	logger *zap.Logger
}

func NewClientKeyRepository(db DBTX, logger *zap.Logger) *ClientKeyRepository {
	return &ClientKeyRepository{
		db:     db,
		logger: logger.Named("ClientKeyRepository"),
	}
}

var _ clientkey.Repository = (*ClientKeyRepository)(nil)

func (r *ClientKeyRepository) FindByPrefix(ctx context.Context, prefix string) (*clientkey.ClientKey, error) {
	query := `
		SELECT id, key_hash, prefix, description, is_enabled, created_at, last_used_at
		FROM client_keys
		WHERE prefix = $1 AND is_enabled = TRUE
	`
	var key clientkey.ClientKey
	err := r.db.QueryRow(ctx, query, prefix).Scan(
		&key.ID,
		&key.KeyHash,
		&key.Prefix,
		&key.Description,
		&key.IsEnabled,
		&key.CreatedAt,
		&key.LastUsedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug("Client key not found or disabled by prefix", zap.String("prefix", prefix))
			return nil, clientkey.ErrNotFound
		}
		r.logger.Error("Failed to find client key by prefix", zap.String("prefix", prefix), zap.Error(err))
		return nil, fmt.Errorf("db error finding client key: %w", err)
	}

	return &key, nil
}

func (r *ClientKeyRepository) Create(ctx context.Context, key *clientkey.ClientKey) (uuid.UUID, error) {
	query := `
		INSERT INTO client_keys (key_hash, prefix, description, is_enabled)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	var insertedID uuid.UUID
	err := r.db.QueryRow(ctx, query,
		key.KeyHash,
		key.Prefix,
		key.Description,
		key.IsEnabled,
	).Scan(&insertedID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			r.logger.Warn("Failed to create client key due to unique constraint violation",
				zap.String("constraint", pgErr.ConstraintName),
				zap.String("prefix", key.Prefix),
			)
			return uuid.Nil, clientkey.ErrConflict
		}
		r.logger.Error("Failed to create client key in database", zap.Error(err))
		return uuid.Nil, fmt.Errorf("db error creating client key: %w", err)
	}

	r.logger.Info("Client key created", zap.String("id", insertedID.String()), zap.String("prefix", key.Prefix))
	return insertedID, nil
}

func (r *ClientKeyRepository) List(ctx context.Context) ([]*clientkey.ClientKey, error) {
	query := `
		SELECT id, key_hash, prefix, description, is_enabled, created_at, last_used_at
		FROM client_keys
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list client keys", zap.Error(err))
		return nil, fmt.Errorf("db error listing client keys: %w", err)
	}
	defer rows.Close()

	keys := make([]*clientkey.ClientKey, 0)
	for rows.Next() {
		var key clientkey.ClientKey
		if err := rows.Scan(
			&key.ID,
			&key.KeyHash,
			&key.Prefix,
			&key.Description,
			&key.IsEnabled,
			&key.CreatedAt,
			&key.LastUsedAt,
		); err != nil {
			return nil, fmt.Errorf("db scan error listing client keys: %w", err)
		}
		keys = append(keys, &key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db iteration error listing client keys: %w", err)
	}
	return keys, nil
}

func (r *ClientKeyRepository) Disable(ctx context.Context, id uuid.UUID) error {
	cmdTag, err := r.db.Exec(ctx, `UPDATE client_keys SET is_enabled = FALSE WHERE id = $1`, id)
	if err != nil {
		r.logger.Error("Failed to disable client key", zap.String("id", id.String()), zap.Error(err))
		return fmt.Errorf("db error disabling client key: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return clientkey.ErrNotFound
	}
	return nil
}

func (r *ClientKeyRepository) UpdateLastUsed(ctx context.Context, id uuid.UUID, lastUsed time.Time) error {
	cmdTag, err := r.db.Exec(ctx, `UPDATE client_keys SET last_used_at = $1 WHERE id = $2`, lastUsed, id)
	if err != nil {
		r.logger.Error("Failed to update client key last_used_at", zap.String("id", id.String()), zap.Error(err))
		return fmt.Errorf("db error updating last used time: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		r.logger.Warn("Client key not found when updating last_used_at", zap.String("id", id.String()))
	}
	return nil
}
