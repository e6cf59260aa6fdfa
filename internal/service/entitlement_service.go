package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/makkenzo/entitlement-service-api/internal/clock"
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

// KeyRequestNotifier is told about every committed extension request.
type KeyRequestNotifier interface {
	NotifyKeyRequest(ctx context.Context, req *keyrequest.KeyRequest) error
}

type noopNotifier struct{}

func (noopNotifier) NotifyKeyRequest(context.Context, *keyrequest.KeyRequest) error { return nil }

// Activation is the result of a successful license redemption.
type Activation struct {
	Status         *entitlement.DeviceStatus
	GrantID        uuid.UUID
	GrantExpiresAt time.Time
}

type EntitlementService struct {
	store     entitlement.Store
	clock     clock.Clock
	notifier  KeyRequestNotifier
	trialDays int
	logger    *zap.Logger
}

func NewEntitlementService(store entitlement.Store, clk clock.Clock, notifier KeyRequestNotifier, trialDays int, logger *zap.Logger) *EntitlementService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &EntitlementService{
		store:     store,
		clock:     clk,
		notifier:  notifier,
		trialDays: trialDays,
		logger:    logger.Named("EntitlementService"),
	}
}

func (s *EntitlementService) Register(ctx context.Context, deviceID, displayName string) (*entitlement.DeviceStatus, error) {
	deviceID, err := normalizeDeviceID(deviceID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	var dev *device.Device
	var created bool
	err = s.store.InTx(ctx, func(tx entitlement.Store) error {
		var err error
		if _, created, err = tx.Devices().UpsertOnRegister(ctx, deviceID, strings.TrimSpace(displayName), s.trialDays, now); err != nil {
			return err
		}
		dev, err = tx.Devices().RecomputeActiveUntil(ctx, deviceID, now)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to register device", zap.String("device_id", deviceID), zap.Error(err))
		return nil, internalError(err)
	}

	result := "existing"
	if created {
		result = "created"
	}
	metrics.Registrations.WithLabelValues(result).Inc()
	s.logger.Debug("Device registration processed", zap.String("device_id", deviceID), zap.String("result", result))

	status := entitlement.NewDeviceStatus(deviceID, dev, now)
	status.Created = created
	return status, nil
}

func (s *EntitlementService) Status(ctx context.Context, deviceID string) (*entitlement.DeviceStatus, error) {
	deviceID, err := normalizeDeviceID(deviceID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	dev, err := s.store.Devices().RecomputeActiveUntil(ctx, deviceID, now)
	if err != nil && !errors.Is(err, device.ErrNotFound) {
		s.logger.Error("Failed to recompute device status", zap.String("device_id", deviceID), zap.Error(err))
		return nil, internalError(err)
	}

	status := entitlement.NewDeviceStatus(deviceID, dev, now)
	metrics.StatusChecks.WithLabelValues(string(status.Reason)).Inc()
	return status, nil
}

// RequestExtension records an extension ask, registering the device first if
// it has never been seen.
func (s *EntitlementService) RequestExtension(ctx context.Context, deviceID string) (*keyrequest.KeyRequest, error) {
	deviceID, err := normalizeDeviceID(deviceID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	var req *keyrequest.KeyRequest
	err = s.store.InTx(ctx, func(tx entitlement.Store) error {
		if err := s.ensureDevice(ctx, tx, deviceID, now); err != nil {
			return err
		}
		var err error
		req, err = tx.KeyRequests().Create(ctx, deviceID, now)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to record key request", zap.String("device_id", deviceID), zap.Error(err))
		return nil, internalError(err)
	}

	metrics.KeyRequests.Inc()
	s.logger.Info("Key request raised", zap.String("device_id", deviceID), zap.String("request_id", req.ID.String()))

	if err := s.notifier.NotifyKeyRequest(ctx, req); err != nil {
		s.logger.Warn("Failed to dispatch key request notification", zap.String("request_id", req.ID.String()), zap.Error(err))
	}
	return req, nil
}

// ActivateLicense redeems code for deviceID in one transaction. The key row is
// locked first, so of two concurrent redemptions of one code the second waits
// and then fails with ierr.ErrKeyAlreadyUsed.
func (s *EntitlementService) ActivateLicense(ctx context.Context, deviceID, code string) (*Activation, error) {
	deviceID, err := normalizeDeviceID(deviceID)
	if err != nil {
		return nil, err
	}
	code = util.NormalizeLicenseCode(code)
	if code == "" {
		return nil, validationError("code is required")
	}
	now := s.clock.Now()

	var (
		dev *device.Device
		g   *grant.Grant
	)
	err = s.store.InTx(ctx, func(tx entitlement.Store) error {
		key, err := tx.LicenseKeys().FindForRedemption(ctx, code)
		if err != nil {
			if errors.Is(err, licensekey.ErrNotFound) {
				return ierr.ErrInvalidKey
			}
			return err
		}
		if key.IsExpiredAt(now) {
			return ierr.ErrKeyExpired
		}
		if key.IsRedeemed() {
			return ierr.ErrKeyAlreadyUsed
		}
		if key.DurationDays <= 0 {
			return ierr.ErrInvalidKeyDuration
		}

		if err := s.ensureDevice(ctx, tx, deviceID, now); err != nil {
			return err
		}

		g = &grant.Grant{
			ID:           uuid.New(),
			DeviceID:     deviceID,
			LicenseKeyID: key.ID,
			ActivatedAt:  now,
			ExpiresAt:    entitlement.AddDays(now, key.DurationDays),
		}
		if err := tx.Grants().Create(ctx, g); err != nil {
			return err
		}
		if err := tx.LicenseKeys().MarkRedeemed(ctx, key.ID, deviceID, now); err != nil {
			if errors.Is(err, licensekey.ErrAlreadyRedeemed) {
				return ierr.ErrKeyAlreadyUsed
			}
			return err
		}

		dev, err = tx.Devices().RecomputeActiveUntil(ctx, deviceID, now)
		return err
	})
	if err != nil {
		if outcome, ok := ierr.RedemptionError(err); ok {
			metrics.Redemptions.WithLabelValues(outcome.Error()).Inc()
			s.logger.Info("License redemption rejected", zap.String("device_id", deviceID), zap.String("reason", outcome.Error()))
			return nil, outcome
		}
		metrics.Redemptions.WithLabelValues("internal_error").Inc()
		s.logger.Error("License redemption failed", zap.String("device_id", deviceID), zap.Error(err))
		return nil, internalError(err)
	}

	metrics.Redemptions.WithLabelValues("ok").Inc()
	s.logger.Info("License redeemed",
		zap.String("device_id", deviceID),
		zap.String("grant_id", g.ID.String()),
		zap.Time("active_until", dev.ActiveUntil),
	)

	return &Activation{
		Status:         entitlement.NewDeviceStatus(deviceID, dev, now),
		GrantID:        g.ID,
		GrantExpiresAt: g.ExpiresAt,
	}, nil
}

func (s *EntitlementService) ensureDevice(ctx context.Context, tx entitlement.Store, deviceID string, now time.Time) error {
	_, err := tx.Devices().GetDevice(ctx, deviceID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, device.ErrNotFound) {
		return err
	}
	if _, _, err := tx.Devices().UpsertOnRegister(ctx, deviceID, "", s.trialDays, now); err != nil {
		return fmt.Errorf("auto-register device: %w", err)
	}
	s.logger.Info("Device auto-registered", zap.String("device_id", deviceID))
	return nil
}
