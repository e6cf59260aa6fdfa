package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/makkenzo/entitlement-service-api/internal/domain/entitlement"
)

type RegisterDeviceRequest struct {
	DeviceID    string `json:"device_id" binding:"required,max=128"`
	DisplayName string `json:"display_name" binding:"omitempty,max=200"`
}

type ExtensionRequest struct {
	DeviceID string `json:"device_id" binding:"required,max=128"`
}

type ActivateRequest struct {
	DeviceID string `json:"device_id" binding:"required,max=128"`
	Code     string `json:"code" binding:"required,max=64"`
}

type DeviceStatusResponse struct {
	DeviceID       string     `json:"device_id"`
	Allowed        bool       `json:"allowed"`
	Reason         string     `json:"reason"`
	ActiveUntil    *time.Time `json:"active_until"`
	TrialExpiresAt *time.Time `json:"trial_expires_at"`
}

type RegisterDeviceResponse struct {
	DeviceStatusResponse
	Registration string `json:"registration"`
}

type ExtensionResponse struct {
	Accepted  bool      `json:"accepted"`
	RequestID uuid.UUID `json:"request_id"`
}

type ActivateResponse struct {
	DeviceStatusResponse
	GrantID        uuid.UUID `json:"grant_id"`
	GrantExpiresAt time.Time `json:"grant_expires_at"`
}

func NewDeviceStatusResponse(st *entitlement.DeviceStatus) DeviceStatusResponse {
	return DeviceStatusResponse{
		DeviceID:       st.DeviceID,
		Allowed:        st.Allowed,
		Reason:         string(st.Reason),
		ActiveUntil:    st.ActiveUntil,
		TrialExpiresAt: st.TrialExpiresAt,
	}
}

func NewRegisterDeviceResponse(st *entitlement.DeviceStatus) *RegisterDeviceResponse {
	registration := "existing"
	if st.Created {
		registration = "created"
	}
	return &RegisterDeviceResponse{
		DeviceStatusResponse: NewDeviceStatusResponse(st),
		Registration:         registration,
	}
}
