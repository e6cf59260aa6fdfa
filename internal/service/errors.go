package service

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/makkenzo/entitlement-service-api/internal/domain/device"
	"github.com/makkenzo/entitlement-service-api/internal/ierr"
)

func internalError(err error) error {
	return fmt.Errorf("%w: %v", ierr.ErrInternalServer, err)
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ierr.ErrValidation, fmt.Sprintf(format, args...))
}

func normalizeDeviceID(deviceID string) (string, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return "", validationError("device_id is required")
	}
	if utf8.RuneCountInString(deviceID) > device.MaxDeviceIDLength {
		return "", validationError("device_id must be at most %d characters", device.MaxDeviceIDLength)
	}
	return deviceID, nil
}
