package memstorage

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/makkenzo/entitlement-service-api/internal/domain/device"
	"github.com/makkenzo/entitlement-service-api/internal/domain/entitlement"
	"github.com/makkenzo/entitlement-service-api/internal/domain/grant"
)

type deviceRepo struct {
	s *Store
}

func (r *deviceRepo) GetDevice(ctx context.Context, deviceID string) (*device.Device, error) {
	var out *device.Device
	err := r.s.with("devices.get", func(d *data) error {
		dev, ok := d.devices[deviceID]
		if !ok {
			return device.ErrNotFound
		}
		cp := *dev
		out = &cp
		return nil
	})
	return out, err
}

func (r *deviceRepo) UpsertOnRegister(ctx context.Context, deviceID, displayName string, trialDays int, now time.Time) (*device.Device, bool, error) {
	var out *device.Device
	var created bool
	err := r.s.with("devices.upsert", func(d *data) error {
		dev, ok := d.devices[deviceID]
		if !ok {
			trialExpiresAt := entitlement.AddDays(now, trialDays)
			dev = &device.Device{
				DeviceID:       deviceID,
				CreatedAt:      now,
				TrialStartedAt: now,
				TrialExpiresAt: trialExpiresAt,
				LastVerifiedAt: now,
				ActiveUntil:    trialExpiresAt,
			}
			d.devices[deviceID] = dev
			created = true
		}
		if displayName != "" {
			dev.DisplayName = sql.NullString{String: displayName, Valid: true}
		}
		dev.LastVerifiedAt = now
		cp := *dev
		out = &cp
		return nil
	})
	return out, created, err
}

func (r *deviceRepo) RecomputeActiveUntil(ctx context.Context, deviceID string, now time.Time) (*device.Device, error) {
	return r.update("devices.recompute", deviceID, func(d *data, dev *device.Device) {
		dev.ActiveUntil = entitlement.ActiveUntil(dev.TrialExpiresAt, grantsOf(d, deviceID))
		dev.LastVerifiedAt = now
	})
}

func (r *deviceRepo) SetTrialExpiry(ctx context.Context, deviceID string, expiresAt time.Time) (*device.Device, error) {
	return r.update("devices.setTrialExpiry", deviceID, func(d *data, dev *device.Device) {
		dev.TrialExpiresAt = expiresAt
		dev.ActiveUntil = entitlement.ActiveUntil(expiresAt, grantsOf(d, deviceID))
	})
}

func (r *deviceRepo) RefreshActiveUntil(ctx context.Context, deviceID string) (*device.Device, error) {
	return r.update("devices.refresh", deviceID, func(d *data, dev *device.Device) {
		dev.ActiveUntil = entitlement.ActiveUntil(dev.TrialExpiresAt, grantsOf(d, deviceID))
	})
}

func (r *deviceRepo) List(ctx context.Context, limit int) ([]*device.Device, error) {
	out := make([]*device.Device, 0)
	err := r.s.with("devices.list", func(d *data) error {
		for _, dev := range d.devices {
			cp := *dev
			out = append(out, &cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *deviceRepo) Count(ctx context.Context, activeAt time.Time) (int64, int64, error) {
	var total, active int64
	err := r.s.with("devices.count", func(d *data) error {
		for _, dev := range d.devices {
			total++
			if dev.IsActiveAt(activeAt) {
				active++
			}
		}
		return nil
	})
	return total, active, err
}

func (r *deviceRepo) update(op, deviceID string, mutate func(d *data, dev *device.Device)) (*device.Device, error) {
	var out *device.Device
	err := r.s.with(op, func(d *data) error {
		dev, ok := d.devices[deviceID]
		if !ok {
			return device.ErrNotFound
		}
		mutate(d, dev)
		cp := *dev
		out = &cp
		return nil
	})
	return out, err
}

func grantsOf(d *data, deviceID string) []*grant.Grant {
	var grants []*grant.Grant
	for _, g := range d.grants {
		if g.DeviceID == deviceID {
			grants = append(grants, g)
		}
	}
	return grants
}
