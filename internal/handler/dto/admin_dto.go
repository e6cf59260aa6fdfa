package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/makkenzo/entitlement-service-api/internal/domain/grant"
	"github.com/makkenzo/entitlement-service-api/internal/domain/keyrequest"
	"github.com/makkenzo/entitlement-service-api/internal/domain/licensekey"
	"github.com/makkenzo/entitlement-service-api/internal/service"
)

type GenerateKeysRequest struct {
	Count        int        `json:"count" binding:"required,gte=1"`
	DurationDays int        `json:"duration_days" binding:"required,gt=0"`
	KeyExpiry    *time.Time `json:"key_expiry"`
	Note         string     `json:"note" binding:"omitempty,max=500"`
}

type GenerateKeysResponse struct {
	Requested int                   `json:"requested"`
	Generated int                   `json:"generated"`
	Failed    int                   `json:"failed"`
	Keys      []*LicenseKeyResponse `json:"keys"`
}

type ListKeysRequest struct {
	Query string `form:"q" binding:"omitempty,max=64"`
	Limit int    `form:"limit" binding:"omitempty,gte=0"`
}

type LicenseKeyResponse struct {
	ID               uuid.UUID  `json:"id"`
	Code             string     `json:"code"`
	DurationDays     int        `json:"duration_days"`
	KeyExpiry        *time.Time `json:"key_expiry,omitempty"`
	RedeemedAt       *time.Time `json:"redeemed_at,omitempty"`
	RedeemedByDevice *string    `json:"redeemed_by_device,omitempty"`
	Note             *string    `json:"note,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func NewLicenseKeyResponse(k *licensekey.LicenseKey) *LicenseKeyResponse {
	resp := &LicenseKeyResponse{
		ID:           k.ID,
		Code:         k.Code,
		DurationDays: k.DurationDays,
		CreatedAt:    k.CreatedAt,
	}
	if k.KeyExpiry.Valid {
		resp.KeyExpiry = &k.KeyExpiry.Time
	}
	if k.RedeemedAt.Valid {
		resp.RedeemedAt = &k.RedeemedAt.Time
	}
	if k.RedeemedByDevice.Valid {
		resp.RedeemedByDevice = &k.RedeemedByDevice.String
	}
	if k.Note.Valid {
		resp.Note = &k.Note.String
	}
	return resp
}

func NewGenerateKeysResponse(res *service.GenerateKeysResult) *GenerateKeysResponse {
	keys := make([]*LicenseKeyResponse, len(res.Keys))
	for i, k := range res.Keys {
		keys[i] = NewLicenseKeyResponse(k)
	}
	return &GenerateKeysResponse{
		Requested: res.Requested,
		Generated: len(res.Keys),
		Failed:    res.Failed,
		Keys:      keys,
	}
}

type ListLimitRequest struct {
	Limit int `form:"limit" binding:"omitempty,gte=0"`
}

type DeviceResponse struct {
	DeviceID         string    `json:"device_id"`
	DisplayName      *string   `json:"display_name,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	TrialStartedAt   time.Time `json:"trial_started_at"`
	TrialExpiresAt   time.Time `json:"trial_expires_at"`
	LastVerifiedAt   time.Time `json:"last_verified_at"`
	ActiveUntil      time.Time `json:"active_until"`
	Allowed          bool      `json:"allowed"`
	Reason           string    `json:"reason"`
	DaysSinceCreated int       `json:"days_since_created"`
}

func NewDeviceResponse(o *service.DeviceOverview) *DeviceResponse {
	d := o.Device
	resp := &DeviceResponse{
		DeviceID:         d.DeviceID,
		CreatedAt:        d.CreatedAt,
		TrialStartedAt:   d.TrialStartedAt,
		TrialExpiresAt:   d.TrialExpiresAt,
		LastVerifiedAt:   d.LastVerifiedAt,
		ActiveUntil:      d.ActiveUntil,
		Allowed:          o.Allowed,
		Reason:           string(o.Reason),
		DaysSinceCreated: o.DaysSinceCreated,
	}
	if d.DisplayName.Valid {
		resp.DisplayName = &d.DisplayName.String
	}
	return resp
}

type GrantResponse struct {
	ID           uuid.UUID  `json:"id"`
	LicenseKeyID uuid.UUID  `json:"license_key_id"`
	ActivatedAt  time.Time  `json:"activated_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
}

type DeviceDetailResponse struct {
	*DeviceResponse
	Grants []*GrantResponse `json:"grants"`
}

func NewDeviceDetailResponse(d *service.DeviceDetail) *DeviceDetailResponse {
	grants := make([]*GrantResponse, len(d.Grants))
	for i, g := range d.Grants {
		grants[i] = newGrantResponse(g)
	}
	return &DeviceDetailResponse{
		DeviceResponse: NewDeviceResponse(&d.DeviceOverview),
		Grants:         grants,
	}
}

func newGrantResponse(g *grant.Grant) *GrantResponse {
	resp := &GrantResponse{
		ID:           g.ID,
		LicenseKeyID: g.LicenseKeyID,
		ActivatedAt:  g.ActivatedAt,
		ExpiresAt:    g.ExpiresAt,
	}
	if g.RevokedAt.Valid {
		resp.RevokedAt = &g.RevokedAt.Time
	}
	return resp
}

type ExtendTrialRequest struct {
	Days int `json:"days" binding:"required,gte=1,lte=3650"`
}

type ListKeyRequestsRequest struct {
	Status string `form:"status" binding:"omitempty,oneof=all open handled closed"`
	Limit  int    `form:"limit" binding:"omitempty,gte=0"`
}

type UpdateKeyRequestRequest struct {
	Status keyrequest.Status `json:"status" binding:"required,oneof=handled closed"`
	Note   string            `json:"note" binding:"omitempty,max=1000"`
}

type KeyRequestResponse struct {
	ID        uuid.UUID  `json:"id"`
	DeviceID  string     `json:"device_id"`
	Status    string     `json:"status"`
	Note      *string    `json:"note,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	HandledAt *time.Time `json:"handled_at,omitempty"`
}

func NewKeyRequestResponse(r *keyrequest.KeyRequest) *KeyRequestResponse {
	resp := &KeyRequestResponse{
		ID:        r.ID,
		DeviceID:  r.DeviceID,
		Status:    string(r.Status),
		CreatedAt: r.CreatedAt,
	}
	if r.Note.Valid {
		resp.Note = &r.Note.String
	}
	if r.HandledAt.Valid {
		resp.HandledAt = &r.HandledAt.Time
	}
	return resp
}

type SummaryResponse struct {
	Devices     DeviceCounts     `json:"devices"`
	Keys        KeyCounts        `json:"keys"`
	KeyRequests map[string]int64 `json:"key_requests"`
	GeneratedAt time.Time        `json:"generated_at"`
}

type DeviceCounts struct {
	Total  int64 `json:"total"`
	Active int64 `json:"active"`
}

type KeyCounts struct {
	Total    int64 `json:"total"`
	Redeemed int64 `json:"redeemed"`
	Expired  int64 `json:"expired"`
}

func NewSummaryResponse(s *service.Summary) *SummaryResponse {
	requests := map[string]int64{
		string(keyrequest.StatusOpen):    0,
		string(keyrequest.StatusHandled): 0,
		string(keyrequest.StatusClosed):  0,
	}
	for status, n := range s.KeyRequests {
		requests[string(status)] = n
	}
	return &SummaryResponse{
		Devices:     DeviceCounts{Total: s.DevicesTotal, Active: s.DevicesActive},
		Keys:        KeyCounts{Total: s.Keys.Total, Redeemed: s.Keys.Redeemed, Expired: s.Keys.Expired},
		KeyRequests: requests,
		GeneratedAt: s.GeneratedAt,
	}
}
