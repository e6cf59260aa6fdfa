// Package entitlement ties the device, key, grant and request stores together
// and holds the rule that derives a device's authorization horizon.
package entitlement

import (
	"context"

	"github.com/makkenzo/entitlement-service-api/internal/domain/device"
	"github.com/makkenzo/entitlement-service-api/internal/domain/grant"
	"github.com/makkenzo/entitlement-service-api/internal/domain/keyrequest"
	"github.com/makkenzo/entitlement-service-api/internal/domain/licensekey"
)

// Store exposes the entitlement repositories. Repositories obtained from the
// Store passed to InTx share one transaction; it commits when fn returns nil
// and rolls back otherwise.
type Store interface {
	Devices() device.Repository
	LicenseKeys() licensekey.Repository
	Grants() grant.Repository
	KeyRequests() keyrequest.Repository
	InTx(ctx context.Context, fn func(tx Store) error) error
}
