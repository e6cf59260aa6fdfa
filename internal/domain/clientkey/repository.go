package clientkey

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("client key not found or disabled")
	ErrConflict = errors.New("client key prefix already exists")
)

type Repository interface {
	FindByPrefix(ctx context.Context, prefix string) (*ClientKey, error)
	Create(ctx context.Context, key *ClientKey) (uuid.UUID, error)
	List(ctx context.Context) ([]*ClientKey, error)
	Disable(ctx context.Context, id uuid.UUID) error
	UpdateLastUsed(ctx context.Context, id uuid.UUID, lastUsed time.Time) error
}
