package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/makkenzo/entitlement-service-api/internal/clock"
	"github.com/makkenzo/entitlement-service-api/internal/config"
	"github.com/makkenzo/entitlement-service-api/internal/domain/device"
	"github.com/makkenzo/entitlement-service-api/internal/domain/entitlement"
	"github.com/makkenzo/entitlement-service-api/internal/domain/grant"
	"github.com/makkenzo/entitlement-service-api/internal/domain/keyrequest"
	"github.com/makkenzo/entitlement-service-api/internal/domain/licensekey"
	"github.com/makkenzo/entitlement-service-api/internal/ierr"
	"github.com/makkenzo/entitlement-service-api/internal/metrics"
	"github.com/makkenzo/entitlement-service-api/internal/util"
	"go.uber.org/zap"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
	MaxTrialExtDays  = 3650
)

type GenerateKeysParams struct {
	Count        int
	DurationDays int
	KeyExpiry    *time.Time
	Note         string
}

// GenerateKeysResult distinguishes a partial batch (Failed > 0) from a full one.
type GenerateKeysResult struct {
	Requested int
	Keys      []*licensekey.LicenseKey
	Failed    int
}

type DeviceOverview struct {
	Device           *device.Device
	Allowed          bool
	Reason           entitlement.Reason
	DaysSinceCreated int
}

type DeviceDetail struct {
	DeviceOverview
	Grants []*grant.Grant
}

type Summary struct {
	DevicesTotal  int64
	DevicesActive int64
	Keys          licensekey.Counts
	KeyRequests   map[keyrequest.Status]int64
	GeneratedAt   time.Time
}

type AdminService struct {
	store     entitlement.Store
	clock     clock.Clock
	generator func(length int) (string, error)
	cfg       config.EntitlementConfig
	logger    *zap.Logger
}

func NewAdminService(store entitlement.Store, clk clock.Clock, cfg config.EntitlementConfig, logger *zap.Logger) *AdminService {
	return &AdminService{
		store:     store,
		clock:     clk,
		generator: util.GenerateLicenseCode,
		cfg:       cfg,
		logger:    logger.Named("AdminService"),
	}
}

// WithCodeGenerator replaces the random code source; used to exercise collisions.
func (s *AdminService) WithCodeGenerator(gen func(length int) (string, error)) *AdminService {
	s.generator = gen
	return s
}

func (s *AdminService) GenerateKeys(ctx context.Context, p GenerateKeysParams) (*GenerateKeysResult, error) {
	if p.Count < 1 || p.Count > s.cfg.MaxKeysPerBatch {
		return nil, validationError("count must be between 1 and %d", s.cfg.MaxKeysPerBatch)
	}
	if p.DurationDays <= 0 {
		return nil, validationError("duration_days must be a positive integer")
	}
	now := s.clock.Now()
	if p.KeyExpiry != nil && !p.KeyExpiry.After(now) {
		return nil, validationError("key_expiry must be in the future")
	}

	s.logger.Info("Generating license keys", zap.Int("count", p.Count), zap.Int("duration_days", p.DurationDays))

	result := &GenerateKeysResult{Requested: p.Count, Keys: make([]*licensekey.LicenseKey, 0, p.Count)}
	for i := 0; i < p.Count; i++ {
		key, err := s.createKey(ctx, p, now)
		if err == nil {
			result.Keys = append(result.Keys, key)
			continue
		}
		if errors.Is(err, licensekey.ErrCodeCollision) {
			result.Failed++
			continue
		}

		// A store failure is not specific to one key; give up on the rest.
		result.Failed += p.Count - i
		s.logger.Error("Aborting key generation batch", zap.Int("generated", len(result.Keys)), zap.Error(err))
		if len(result.Keys) == 0 {
			return nil, internalError(err)
		}
		break
	}

	metrics.KeysGenerated.Add(float64(len(result.Keys)))
	metrics.KeyGenerationFailures.Add(float64(result.Failed))

	if len(result.Keys) == 0 {
		s.logger.Error("No license keys generated", zap.Int("requested", p.Count))
		return nil, ierr.ErrKeyGenerationFailed
	}

	s.logger.Info("License keys generated", zap.Int("generated", len(result.Keys)), zap.Int("failed", result.Failed))
	return result, nil
}

// createKey retries fresh codes on collision until the retry budget is spent.
func (s *AdminService) createKey(ctx context.Context, p GenerateKeysParams, now time.Time) (*licensekey.LicenseKey, error) {
	for attempt := 1; attempt <= s.cfg.CodeRetryBudget; attempt++ {
		code, err := s.generator(s.cfg.CodeLength)
		if err != nil {
			return nil, err
		}

		key := &licensekey.LicenseKey{
			ID:           uuid.New(),
			Code:         code,
			DurationDays: p.DurationDays,
			CreatedAt:    now,
		}
		if p.KeyExpiry != nil {
			key.KeyExpiry = sql.NullTime{Time: p.KeyExpiry.UTC(), Valid: true}
		}
		if note := strings.TrimSpace(p.Note); note != "" {
			key.Note = sql.NullString{String: note, Valid: true}
		}

		err = s.store.LicenseKeys().Create(ctx, key)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, licensekey.ErrCodeCollision) {
			return nil, err
		}
		s.logger.Debug("License code collision, retrying", zap.Int("attempt", attempt))
	}
	s.logger.Warn("Code retry budget exhausted for one key", zap.Int("budget", s.cfg.CodeRetryBudget))
	return nil, licensekey.ErrCodeCollision
}

func (s *AdminService) ListKeys(ctx context.Context, filter string, limit int) ([]*licensekey.LicenseKey, error) {
	keys, err := s.store.LicenseKeys().List(ctx, strings.TrimSpace(filter), clampLimit(limit))
	if err != nil {
		s.logger.Error("Failed to list license keys", zap.Error(err))
		return nil, internalError(err)
	}
	return keys, nil
}

func (s *AdminService) ListDevices(ctx context.Context, limit int) ([]*DeviceOverview, error) {
	devices, err := s.store.Devices().List(ctx, clampLimit(limit))
	if err != nil {
		s.logger.Error("Failed to list devices", zap.Error(err))
		return nil, internalError(err)
	}

	now := s.clock.Now()
	out := make([]*DeviceOverview, len(devices))
	for i, d := range devices {
		out[i] = overview(d, now)
	}
	return out, nil
}

func (s *AdminService) GetDevice(ctx context.Context, deviceID string) (*DeviceDetail, error) {
	deviceID, err := normalizeDeviceID(deviceID)
	if err != nil {
		return nil, err
	}

	d, err := s.store.Devices().GetDevice(ctx, deviceID)
	if err != nil {
		return nil, s.mapDeviceErr(deviceID, err)
	}
	grants, err := s.store.Grants().ListByDevice(ctx, deviceID)
	if err != nil {
		s.logger.Error("Failed to list device grants", zap.String("device_id", deviceID), zap.Error(err))
		return nil, internalError(err)
	}

	return &DeviceDetail{DeviceOverview: *overview(d, s.clock.Now()), Grants: grants}, nil
}

// ExtendTrial pushes the trial end days past the later of its current value and now.
func (s *AdminService) ExtendTrial(ctx context.Context, deviceID string, days int) (*DeviceOverview, error) {
	deviceID, err := normalizeDeviceID(deviceID)
	if err != nil {
		return nil, err
	}
	if days <= 0 || days > MaxTrialExtDays {
		return nil, validationError("days must be between 1 and %d", MaxTrialExtDays)
	}
	now := s.clock.Now()

	var updated *device.Device
	err = s.store.InTx(ctx, func(tx entitlement.Store) error {
		d, err := tx.Devices().GetDevice(ctx, deviceID)
		if err != nil {
			return err
		}
		base := d.TrialExpiresAt
		if base.Before(now) {
			base = now
		}
		updated, err = tx.Devices().SetTrialExpiry(ctx, deviceID, entitlement.AddDays(base, days))
		return err
	})
	if err != nil {
		return nil, s.mapDeviceErr(deviceID, err)
	}

	s.logger.Info("Trial extended", zap.String("device_id", deviceID), zap.Int("days", days), zap.Time("trial_expires_at", updated.TrialExpiresAt))
	return overview(updated, now), nil
}

// CloseTrial ends a running trial now. Live grants keep the device authorized.
func (s *AdminService) CloseTrial(ctx context.Context, deviceID string) (*DeviceOverview, error) {
	deviceID, err := normalizeDeviceID(deviceID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	var updated *device.Device
	err = s.store.InTx(ctx, func(tx entitlement.Store) error {
		d, err := tx.Devices().GetDevice(ctx, deviceID)
		if err != nil {
			return err
		}
		if !d.TrialExpiresAt.After(now) {
			updated = d
			return nil
		}
		updated, err = tx.Devices().SetTrialExpiry(ctx, deviceID, now)
		return err
	})
	if err != nil {
		return nil, s.mapDeviceErr(deviceID, err)
	}

	s.logger.Info("Trial closed", zap.String("device_id", deviceID))
	return overview(updated, now), nil
}

func (s *AdminService) RevokeGrant(ctx context.Context, grantID uuid.UUID) (*DeviceOverview, error) {
	now := s.clock.Now()

	var updated *device.Device
	err := s.store.InTx(ctx, func(tx entitlement.Store) error {
		g, err := tx.Grants().Revoke(ctx, grantID, now)
		if err != nil {
			return err
		}
		updated, err = tx.Devices().RefreshActiveUntil(ctx, g.DeviceID)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, grant.ErrNotFound):
			return nil, ierr.ErrNotFound
		case errors.Is(err, grant.ErrAlreadyRevoked):
			return nil, fmt.Errorf("%w: %w", ierr.ErrConflict, err)
		}
		s.logger.Error("Failed to revoke grant", zap.String("grant_id", grantID.String()), zap.Error(err))
		return nil, internalError(err)
	}

	s.logger.Info("Grant revoked", zap.String("grant_id", grantID.String()), zap.String("device_id", updated.DeviceID))
	return overview(updated, now), nil
}

func (s *AdminService) ListKeyRequests(ctx context.Context, status string, limit int) ([]*keyrequest.KeyRequest, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != "" && status != keyrequest.StatusAll && !keyrequest.Status(status).Valid() {
		return nil, validationError("status must be one of all, open, handled, closed")
	}

	requests, err := s.store.KeyRequests().List(ctx, status, clampLimit(limit))
	if err != nil {
		s.logger.Error("Failed to list key requests", zap.Error(err))
		return nil, internalError(err)
	}
	return requests, nil
}

func (s *AdminService) UpdateKeyRequest(ctx context.Context, id uuid.UUID, status keyrequest.Status, note string) (*keyrequest.KeyRequest, error) {
	if status != keyrequest.StatusHandled && status != keyrequest.StatusClosed {
		return nil, validationError("status must be handled or closed")
	}
	now := s.clock.Now()

	var updated *keyrequest.KeyRequest
	err := s.store.InTx(ctx, func(tx entitlement.Store) error {
		var err error
		updated, err = tx.KeyRequests().UpdateStatus(ctx, id, status, strings.TrimSpace(note), now)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, keyrequest.ErrNotFound):
			return nil, ierr.ErrNotFound
		case errors.Is(err, keyrequest.ErrInvalidTransition):
			return nil, fmt.Errorf("%w: %w", ierr.ErrConflict, err)
		}
		s.logger.Error("Failed to update key request", zap.String("id", id.String()), zap.Error(err))
		return nil, internalError(err)
	}
	return updated, nil
}

func (s *AdminService) Summary(ctx context.Context) (*Summary, error) {
	now := s.clock.Now()

	total, active, err := s.store.Devices().Count(ctx, now)
	if err != nil {
		return nil, internalError(err)
	}
	keys, err := s.store.LicenseKeys().Count(ctx, now)
	if err != nil {
		return nil, internalError(err)
	}
	requests, err := s.store.KeyRequests().CountByStatus(ctx)
	if err != nil {
		return nil, internalError(err)
	}

	return &Summary{
		DevicesTotal:  total,
		DevicesActive: active,
		Keys:          keys,
		KeyRequests:   requests,
		GeneratedAt:   now,
	}, nil
}

func (s *AdminService) mapDeviceErr(deviceID string, err error) error {
	if errors.Is(err, device.ErrNotFound) {
		return ierr.ErrNotFound
	}
	s.logger.Error("Device operation failed", zap.String("device_id", deviceID), zap.Error(err))
	return internalError(err)
}

func overview(d *device.Device, now time.Time) *DeviceOverview {
	allowed, reason := entitlement.Evaluate(d, now)
	return &DeviceOverview{
		Device:           d,
		Allowed:          allowed,
		Reason:           reason,
		DaysSinceCreated: int(now.Sub(d.CreatedAt) / (24 * time.Hour)),
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
