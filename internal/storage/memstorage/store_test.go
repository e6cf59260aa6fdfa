package memstorage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/makkenzo/entitlement-service-api/internal/domain/clientkey"
	"github.com/makkenzo/entitlement-service-api/internal/domain/device"
	"github.com/makkenzo/entitlement-service-api/internal/domain/entitlement"
	"github.com/makkenzo/entitlement-service-api/internal/domain/grant"
	"github.com/makkenzo/entitlement-service-api/internal/domain/keyrequest"
	"github.com/makkenzo/entitlement-service-api/internal/domain/licensekey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

func TestStore_InTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx entitlement.Store) error {
		_, _, err := tx.Devices().UpsertOnRegister(ctx, "dev-1", "", 7, t0)
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Devices().GetDevice(ctx, "dev-1")
	assert.ErrorIs(t, err, device.ErrNotFound)
}

func TestStore_InTxCommits(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	err := s.InTx(ctx, func(tx entitlement.Store) error {
		_, _, err := tx.Devices().UpsertOnRegister(ctx, "dev-1", "Front desk", 7, t0)
		return err
	})
	require.NoError(t, err)

	dev, err := s.Devices().GetDevice(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "Front desk", dev.DisplayName.String)
	assert.Equal(t, t0.AddDate(0, 0, 7), dev.TrialExpiresAt)
	assert.Equal(t, dev.TrialExpiresAt, dev.ActiveUntil)
}

func TestStore_NestedInTxJoinsOuter(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx entitlement.Store) error {
		inner := tx.InTx(ctx, func(tx entitlement.Store) error {
			_, _, err := tx.Devices().UpsertOnRegister(ctx, "dev-1", "", 7, t0)
			return err
		})
		require.NoError(t, inner)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Devices().GetDevice(ctx, "dev-1")
	assert.ErrorIs(t, err, device.ErrNotFound, "inner work must roll back with the outer transaction")
}

func TestStore_InTxHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewStore()

	called := false
	err := s.InTx(ctx, func(entitlement.Store) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestStore_InjectFault(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	boom := errors.New("disk on fire")

	s.InjectFault("devices.upsert", boom)
	_, _, err := s.Devices().UpsertOnRegister(ctx, "dev-1", "", 7, t0)
	require.ErrorIs(t, err, boom)

	s.InjectFault("devices.upsert", nil)
	_, created, err := s.Devices().UpsertOnRegister(ctx, "dev-1", "", 7, t0)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestDevices_UpsertKeepsTrialWindow(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, created, err := s.Devices().UpsertOnRegister(ctx, "dev-1", "", 7, t0)
	require.NoError(t, err)
	require.True(t, created)

	later := t0.Add(48 * time.Hour)
	dev, created, err := s.Devices().UpsertOnRegister(ctx, "dev-1", "Renamed", 30, later)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, t0, dev.TrialStartedAt)
	assert.Equal(t, t0.AddDate(0, 0, 7), dev.TrialExpiresAt)
	assert.Equal(t, later, dev.LastVerifiedAt)
	assert.Equal(t, "Renamed", dev.DisplayName.String)
}

func TestDevices_RecomputeIgnoresRevokedGrants(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, _, err := s.Devices().UpsertOnRegister(ctx, "dev-1", "", 7, t0)
	require.NoError(t, err)

	long := &grant.Grant{DeviceID: "dev-1", LicenseKeyID: uuid.New(), ActivatedAt: t0, ExpiresAt: t0.AddDate(0, 0, 90)}
	short := &grant.Grant{DeviceID: "dev-1", LicenseKeyID: uuid.New(), ActivatedAt: t0, ExpiresAt: t0.AddDate(0, 0, 30)}
	require.NoError(t, s.Grants().Create(ctx, long))
	require.NoError(t, s.Grants().Create(ctx, short))

	dev, err := s.Devices().RecomputeActiveUntil(ctx, "dev-1", t0)
	require.NoError(t, err)
	assert.Equal(t, long.ExpiresAt, dev.ActiveUntil)

	_, err = s.Grants().Revoke(ctx, long.ID, t0.Add(time.Hour))
	require.NoError(t, err)
	_, err = s.Grants().Revoke(ctx, long.ID, t0.Add(time.Hour))
	assert.ErrorIs(t, err, grant.ErrAlreadyRevoked)

	dev, err = s.Devices().RefreshActiveUntil(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, short.ExpiresAt, dev.ActiveUntil)
	assert.Equal(t, t0, dev.LastVerifiedAt)
}

func TestDevices_ListAndCount(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	for i, id := range []string{"dev-a", "dev-b", "dev-c"} {
		_, _, err := s.Devices().UpsertOnRegister(ctx, id, "", 7, t0.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}
	_, err := s.Devices().SetTrialExpiry(ctx, "dev-a", t0)
	require.NoError(t, err)

	list, err := s.Devices().List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "dev-c", list[0].DeviceID)
	assert.Equal(t, "dev-b", list[1].DeviceID)

	total, active, err := s.Devices().Count(ctx, t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.EqualValues(t, 2, active)
}

func TestLicenseKeys_CollisionAndRedemption(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	key := &licensekey.LicenseKey{Code: "ABCDEF2345", DurationDays: 30, CreatedAt: t0}
	require.NoError(t, s.LicenseKeys().Create(ctx, key))
	assert.ErrorIs(t, s.LicenseKeys().Create(ctx, &licensekey.LicenseKey{Code: "ABCDEF2345", DurationDays: 1}), licensekey.ErrCodeCollision)

	found, err := s.LicenseKeys().FindForRedemption(ctx, "ABCDEF2345")
	require.NoError(t, err)
	assert.Equal(t, key.ID, found.ID)

	_, err = s.LicenseKeys().FindForRedemption(ctx, "ZZZZZZ")
	assert.ErrorIs(t, err, licensekey.ErrNotFound)

	require.NoError(t, s.LicenseKeys().MarkRedeemed(ctx, key.ID, "dev-1", t0))
	assert.ErrorIs(t, s.LicenseKeys().MarkRedeemed(ctx, key.ID, "dev-2", t0), licensekey.ErrAlreadyRedeemed)

	found, err = s.LicenseKeys().FindForRedemption(ctx, "ABCDEF2345")
	require.NoError(t, err)
	assert.True(t, found.IsRedeemed())
	assert.Equal(t, "dev-1", found.RedeemedByDevice.String)
}

func TestKeyRequests_TransitionsAndCounts(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, err := s.KeyRequests().Create(ctx, "ghost", t0)
	require.ErrorIs(t, err, device.ErrNotFound)

	_, _, err = s.Devices().UpsertOnRegister(ctx, "dev-1", "", 7, t0)
	require.NoError(t, err)
	req, err := s.KeyRequests().Create(ctx, "dev-1", t0)
	require.NoError(t, err)
	assert.Equal(t, keyrequest.StatusOpen, req.Status)

	handled, err := s.KeyRequests().UpdateStatus(ctx, req.ID, keyrequest.StatusHandled, "sent key", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), handled.HandledAt.Time)

	closed, err := s.KeyRequests().UpdateStatus(ctx, req.ID, keyrequest.StatusClosed, "", t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), closed.HandledAt.Time)
	assert.Equal(t, "sent key", closed.Note.String)

	_, err = s.KeyRequests().UpdateStatus(ctx, req.ID, keyrequest.StatusHandled, "", t0)
	assert.ErrorIs(t, err, keyrequest.ErrInvalidTransition)

	open, err := s.KeyRequests().List(ctx, string(keyrequest.StatusOpen), 10)
	require.NoError(t, err)
	assert.Empty(t, open)

	counts, err := s.KeyRequests().CountByStatus(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[keyrequest.StatusClosed])
	assert.EqualValues(t, 0, counts[keyrequest.StatusOpen])
}

func TestClientKeyRepository(t *testing.T) {
	ctx := context.Background()
	r := NewClientKeyRepository()

	id, err := r.Create(ctx, &clientkey.ClientKey{Prefix: "abcd1234", KeyHash: "hash", IsEnabled: true})
	require.NoError(t, err)
	_, err = r.Create(ctx, &clientkey.ClientKey{Prefix: "abcd1234", KeyHash: "other", IsEnabled: true})
	assert.ErrorIs(t, err, clientkey.ErrConflict)

	found, err := r.FindByPrefix(ctx, "abcd1234")
	require.NoError(t, err)
	assert.Equal(t, id, found.ID)

	require.NoError(t, r.UpdateLastUsed(ctx, id, t0))
	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].LastUsedAt)
	assert.Equal(t, t0, *list[0].LastUsedAt)

	require.NoError(t, r.Disable(ctx, id))
	_, err = r.FindByPrefix(ctx, "abcd1234")
	assert.ErrorIs(t, err, clientkey.ErrNotFound)
	assert.ErrorIs(t, r.Disable(ctx, uuid.New()), clientkey.ErrNotFound)
}
