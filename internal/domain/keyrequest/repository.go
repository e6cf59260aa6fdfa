package keyrequest

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("key request not found")
	ErrInvalidTransition = errors.New("key request status transition not allowed")
)

type Repository interface {
	Create(ctx context.Context, deviceID string, now time.Time) (*KeyRequest, error)
	// List returns newest requests first; an empty filter or StatusAll matches every status.
	List(ctx context.Context, statusFilter string, limit int) ([]*KeyRequest, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, note string, now time.Time) (*KeyRequest, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}
