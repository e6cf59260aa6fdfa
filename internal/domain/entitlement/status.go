package entitlement

import (
	"time"

	"github.com/makkenzo/entitlement-service-api/internal/domain/device"
	"github.com/makkenzo/entitlement-service-api/internal/domain/grant"
)

type Reason string

const (
	ReasonActive        Reason = "active"
	ReasonExpired       Reason = "expired"
	ReasonNotRegistered Reason = "not_registered"
)

// ActiveUntil is the later of the trial expiry and every non-revoked grant expiry.
func ActiveUntil(trialExpiresAt time.Time, grants []*grant.Grant) time.Time {
	horizon := trialExpiresAt
	for _, g := range grants {
		if g.IsRevoked() {
			continue
		}
		if g.ExpiresAt.After(horizon) {
			horizon = g.ExpiresAt
		}
	}
	return horizon
}

// Evaluate returns whether d is authorized at now and why.
func Evaluate(d *device.Device, now time.Time) (bool, Reason) {
	if d == nil {
		return false, ReasonNotRegistered
	}
	if d.IsActiveAt(now) {
		return true, ReasonActive
	}
	return false, ReasonExpired
}

// AddDays moves t forward by whole days.
func AddDays(t time.Time, days int) time.Time {
	return t.AddDate(0, 0, days)
}

// DeviceStatus is the authorization answer handed back to a device.
type DeviceStatus struct {
	DeviceID       string
	Allowed        bool
	Reason         Reason
	Created        bool
	ActiveUntil    *time.Time
	TrialExpiresAt *time.Time
}

func NewDeviceStatus(deviceID string, d *device.Device, now time.Time) *DeviceStatus {
	allowed, reason := Evaluate(d, now)
	st := &DeviceStatus{
		DeviceID: deviceID,
		Allowed:  allowed,
		Reason:   reason,
	}
	if d != nil {
		activeUntil, trialExpiresAt := d.ActiveUntil, d.TrialExpiresAt
		st.ActiveUntil = &activeUntil
		st.TrialExpiresAt = &trialExpiresAt
	}
	return st
}
