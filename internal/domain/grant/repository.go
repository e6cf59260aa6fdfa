package grant

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("grant not found")
	ErrAlreadyRevoked = errors.New("grant already revoked")
)

type Repository interface {
	Create(ctx context.Context, g *Grant) error
	ListByDevice(ctx context.Context, deviceID string) ([]*Grant, error)
	// Revoke marks the grant revoked and returns it so callers can recompute its device.
	Revoke(ctx context.Context, id uuid.UUID, now time.Time) (*Grant, error)
}
