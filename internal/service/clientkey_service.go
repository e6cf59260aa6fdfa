package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/makkenzo/entitlement-service-api/internal/domain/clientkey"
	"github.com/makkenzo/entitlement-service-api/internal/ierr"
	"github.com/makkenzo/entitlement-service-api/internal/util"
	"go.uber.org/zap"
)

// IssuedClientKey carries the plaintext key, which is shown exactly once.
type IssuedClientKey struct {
	Key     *clientkey.ClientKey
	FullKey string
}

type ClientKeyService struct {
	repo   clientkey.Repository
	logger *zap.Logger
}

func NewClientKeyService(repo clientkey.Repository, logger *zap.Logger) *ClientKeyService {
	return &ClientKeyService{
		repo:   repo,
		logger: logger.Named("ClientKeyService"),
	}
}

func (s *ClientKeyService) CreateClientKey(ctx context.Context, description string) (*IssuedClientKey, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, validationError("description is required")
	}
	s.logger.Info("Generating new client key", zap.String("description", description))

	fullKey, prefix, keyHash, err := util.GenerateClientKey()
	if err != nil {
		s.logger.Error("Failed to generate client key components", zap.Error(err))
		return nil, fmt.Errorf("%w: failed generating key: %v", ierr.ErrInternalServer, err)
	}

	newKey := &clientkey.ClientKey{
		KeyHash:     keyHash,
		Prefix:      prefix,
		Description: description,
		IsEnabled:   true,
	}

	insertedID, err := s.repo.Create(ctx, newKey)
	if err != nil {
		s.logger.Error("Failed to save new client key", zap.Error(err))
		if errors.Is(err, clientkey.ErrConflict) {
			return nil, fmt.Errorf("%w: %w", ierr.ErrConflict, err)
		}
		return nil, internalError(err)
	}
	newKey.ID = insertedID

	s.logger.Info("Client key created successfully", zap.String("id", insertedID.String()), zap.String("prefix", prefix))
	return &IssuedClientKey{Key: newKey, FullKey: fullKey}, nil
}

func (s *ClientKeyService) ListClientKeys(ctx context.Context) ([]*clientkey.ClientKey, error) {
	keys, err := s.repo.List(ctx)
	if err != nil {
		s.logger.Error("Failed to list client keys from repository", zap.Error(err))
		return nil, internalError(err)
	}
	s.logger.Debug("Client keys listed", zap.Int("count", len(keys)))
	return keys, nil
}

func (s *ClientKeyService) RevokeClientKey(ctx context.Context, id uuid.UUID) error {
	s.logger.Info("Attempting to revoke client key", zap.String("id", id.String()))
	if err := s.repo.Disable(ctx, id); err != nil {
		if errors.Is(err, clientkey.ErrNotFound) {
			return ierr.ErrNotFound
		}
		s.logger.Error("Failed to revoke client key via repository", zap.String("id", id.String()), zap.Error(err))
		return internalError(err)
	}
	s.logger.Info("Client key revoked successfully", zap.String("id", id.String()))
	return nil
}
