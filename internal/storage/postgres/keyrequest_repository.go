package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/makkenzo/entitlement-service-api/internal/domain/keyrequest"
	"go.uber.org/zap"
)

const keyRequestColumns = `id, device_id, status, note, created_at, handled_at`

type KeyRequestRepository struct {
	db     DBTX
	logger *zap.Logger
}

func NewKeyRequestRepository(db DBTX, logger *zap.Logger) *KeyRequestRepository {
	return &KeyRequestRepository{
		db:     db,
		logger: logger.Named("KeyRequestRepository"),
	}
}

var _ keyrequest.Repository = (*KeyRequestRepository)(nil)

func (r *KeyRequestRepository) Create(ctx context.Context, deviceID string, now time.Time) (*keyrequest.KeyRequest, error) {
	query := `
		INSERT INTO key_requests (id, device_id, status, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + keyRequestColumns
	return r.scanKeyRequest(r.db.QueryRow(ctx, query, uuid.New(), deviceID, keyrequest.StatusOpen, now))
}

func (r *KeyRequestRepository) List(ctx context.Context, statusFilter string, limit int) ([]*keyrequest.KeyRequest, error) {
	if statusFilter == keyrequest.StatusAll {
		statusFilter = ""
	}
	query := `
		SELECT ` + keyRequestColumns + `
		FROM key_requests
		WHERE $1 = '' OR status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, statusFilter, limit)
	if err != nil {
		r.logger.Error("Failed to query key requests", zap.String("status", statusFilter), zap.Error(err))
		return nil, fmt.Errorf("db error listing key requests: %w", err)
	}
	defer rows.Close()

	requests := make([]*keyrequest.KeyRequest, 0)
	for rows.Next() {
		req, err := r.scanKeyRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db iteration error listing key requests: %w", err)
	}
	return requests, nil
}

func (r *KeyRequestRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status keyrequest.Status, note string, now time.Time) (*keyrequest.KeyRequest, error) {
	current, err := r.scanKeyRequest(r.db.QueryRow(ctx,
		`SELECT `+keyRequestColumns+` FROM key_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if !keyrequest.CanTransition(current.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", keyrequest.ErrInvalidTransition, current.Status, status)
	}

	query := `
		UPDATE key_requests SET
			status = $2,
			note = COALESCE(NULLIF($3, ''), note),
			handled_at = COALESCE(handled_at, $4)
		WHERE id = $1
		RETURNING ` + keyRequestColumns
	updated, err := r.scanKeyRequest(r.db.QueryRow(ctx, query, id, status, note, now))
	if err != nil {
		return nil, err
	}

	r.logger.Info("Key request status updated",
		zap.String("id", id.String()),
		zap.String("from", string(current.Status)),
		zap.String("to", string(status)),
	)
	return updated, nil
}

func (r *KeyRequestRepository) CountByStatus(ctx context.Context) (map[keyrequest.Status]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM key_requests GROUP BY status`)
	if err != nil {
		r.logger.Error("Failed to count key requests", zap.Error(err))
		return nil, fmt.Errorf("db error counting key requests: %w", err)
	}
	defer rows.Close()

	counts := map[keyrequest.Status]int64{
		keyrequest.StatusOpen:    0,
		keyrequest.StatusHandled: 0,
		keyrequest.StatusClosed:  0,
	}
	for rows.Next() {
		var status keyrequest.Status
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("db scan error counting key requests: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db iteration error counting key requests: %w", err)
	}
	return counts, nil
}

func (r *KeyRequestRepository) scanKeyRequest(row pgx.Row) (*keyrequest.KeyRequest, error) {
	var req keyrequest.KeyRequest
	err := row.Scan(&req.ID, &req.DeviceID, &req.Status, &req.Note, &req.CreatedAt, &req.HandledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, keyrequest.ErrNotFound
		}
		r.logger.Error("Failed to scan key request row", zap.Error(err))
		return nil, fmt.Errorf("db scan error: %w", err)
	}
	return &req, nil
}
