//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/makkenzo/entitlement-service-api/internal/clock"
	"github.com/makkenzo/entitlement-service-api/internal/config"
	"github.com/makkenzo/entitlement-service-api/internal/domain/clientkey"
	"github.com/makkenzo/entitlement-service-api/internal/domain/device"
	"github.com/makkenzo/entitlement-service-api/internal/domain/entitlement"
	"github.com/makkenzo/entitlement-service-api/internal/domain/grant"
	"github.com/makkenzo/entitlement-service-api/internal/domain/keyrequest"
	"github.com/makkenzo/entitlement-service-api/internal/domain/licensekey"
	"github.com/makkenzo/entitlement-service-api/internal/ierr"
	"github.com/makkenzo/entitlement-service-api/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

var t0 = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

// setupStore starts a disposable PostgreSQL container, applies the embedded
// migrations and returns a store bound to it.
func setupStore(t *testing.T) (*Store, DBTX) {
	t.Helper()

	ctx := context.Background()
	logger := zap.NewNop()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("entitlements"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(ctx))
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, RunMigrations(dsn, logger))
	require.NoError(t, RunMigrations(dsn, logger), "a second run must be a no-op")

	pool, err := NewPgxPool(ctx, &config.DatabaseConfig{URL: dsn, MaxOpenConns: 16, MaxIdleConns: 1, ConnMaxLifetime: time.Minute}, logger)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewStore(pool, logger), pool
}

func TestIntegration_DevicesAndGrants(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	dev, created, err := s.Devices().UpsertOnRegister(ctx, "dev-1", "Front desk", 7, t0)
	require.NoError(t, err)
	assert.True(t, created)
	assert.WithinDuration(t, t0.AddDate(0, 0, 7), dev.TrialExpiresAt, time.Millisecond)

	dev, created, err = s.Devices().UpsertOnRegister(ctx, "dev-1", "", 30, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, created)
	assert.WithinDuration(t, t0.AddDate(0, 0, 7), dev.TrialExpiresAt, time.Millisecond)
	assert.Equal(t, "Front desk", dev.DisplayName.String)

	key := &licensekey.LicenseKey{Code: "ABCDEF2345", DurationDays: 90, CreatedAt: t0}
	require.NoError(t, s.LicenseKeys().Create(ctx, key))

	g := &grant.Grant{ID: uuid.New(), DeviceID: "dev-1", LicenseKeyID: key.ID, ActivatedAt: t0, ExpiresAt: t0.AddDate(0, 0, 90)}
	require.NoError(t, s.Grants().Create(ctx, g))

	dev, err = s.Devices().RecomputeActiveUntil(ctx, "dev-1", t0)
	require.NoError(t, err)
	assert.WithinDuration(t, g.ExpiresAt, dev.ActiveUntil, time.Millisecond)

	_, err = s.Grants().Revoke(ctx, g.ID, t0.Add(time.Hour))
	require.NoError(t, err)
	_, err = s.Grants().Revoke(ctx, g.ID, t0.Add(time.Hour))
	assert.ErrorIs(t, err, grant.ErrAlreadyRevoked)

	dev, err = s.Devices().RefreshActiveUntil(ctx, "dev-1")
	require.NoError(t, err)
	assert.WithinDuration(t, t0.AddDate(0, 0, 7), dev.ActiveUntil, time.Millisecond)

	_, err = s.Devices().GetDevice(ctx, "ghost")
	assert.ErrorIs(t, err, device.ErrNotFound)

	total, active, err := s.Devices().Count(ctx, t0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.EqualValues(t, 1, active)
}

func TestIntegration_LicenseKeys(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	key := &licensekey.LicenseKey{Code: "ABCDEF2345", DurationDays: 30, CreatedAt: t0}
	require.NoError(t, s.LicenseKeys().Create(ctx, key))
	err := s.LicenseKeys().Create(ctx, &licensekey.LicenseKey{Code: "ABCDEF2345", DurationDays: 30, CreatedAt: t0})
	assert.ErrorIs(t, err, licensekey.ErrCodeCollision)

	_, _, err = s.Devices().UpsertOnRegister(ctx, "dev-1", "", 7, t0)
	require.NoError(t, err)

	err = s.InTx(ctx, func(tx entitlement.Store) error {
		found, err := tx.LicenseKeys().FindForRedemption(ctx, "ABCDEF2345")
		if err != nil {
			return err
		}
		return tx.LicenseKeys().MarkRedeemed(ctx, found.ID, "dev-1", t0)
	})
	require.NoError(t, err)

	err = s.LicenseKeys().MarkRedeemed(ctx, key.ID, "dev-1", t0)
	assert.ErrorIs(t, err, licensekey.ErrAlreadyRedeemed)

	_, err = s.LicenseKeys().FindForRedemption(ctx, "ZZZZZZ")
	assert.ErrorIs(t, err, licensekey.ErrNotFound)

	counts, err := s.LicenseKeys().Count(ctx, t0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts.Total)
	assert.EqualValues(t, 1, counts.Redeemed)
}

func TestIntegration_InTxRollsBack(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	boom := fmt.Errorf("boom")

	err := s.InTx(ctx, func(tx entitlement.Store) error {
		if _, _, err := tx.Devices().UpsertOnRegister(ctx, "dev-1", "", 7, t0); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Devices().GetDevice(ctx, "dev-1")
	assert.ErrorIs(t, err, device.ErrNotFound)
}

func TestIntegration_KeyRequests(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	_, _, err := s.Devices().UpsertOnRegister(ctx, "dev-1", "", 7, t0)
	require.NoError(t, err)

	req, err := s.KeyRequests().Create(ctx, "dev-1", t0)
	require.NoError(t, err)
	assert.Equal(t, keyrequest.StatusOpen, req.Status)

	handled, err := s.KeyRequests().UpdateStatus(ctx, req.ID, keyrequest.StatusHandled, "mailed", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, handled.HandledAt.Valid)

	_, err = s.KeyRequests().UpdateStatus(ctx, req.ID, keyrequest.StatusOpen, "", t0)
	assert.ErrorIs(t, err, keyrequest.ErrInvalidTransition)

	all, err := s.KeyRequests().List(ctx, keyrequest.StatusAll, 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	open, err := s.KeyRequests().List(ctx, string(keyrequest.StatusOpen), 10)
	require.NoError(t, err)
	assert.Empty(t, open)

	counts, err := s.KeyRequests().CountByStatus(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[keyrequest.StatusHandled])
}

func TestIntegration_ClientKeys(t *testing.T) {
	_, db := setupStore(t)
	ctx := context.Background()
	repo := NewClientKeyRepository(db, zap.NewNop())

	id, err := repo.Create(ctx, &clientkey.ClientKey{KeyHash: "hash", Prefix: "abcd1234", Description: "ios", IsEnabled: true})
	require.NoError(t, err)
	_, err = repo.Create(ctx, &clientkey.ClientKey{KeyHash: "hash2", Prefix: "abcd1234", IsEnabled: true})
	assert.ErrorIs(t, err, clientkey.ErrConflict)

	found, err := repo.FindByPrefix(ctx, "abcd1234")
	require.NoError(t, err)
	assert.Equal(t, id, found.ID)

	require.NoError(t, repo.UpdateLastUsed(ctx, id, t0))
	require.NoError(t, repo.Disable(ctx, id))
	_, err = repo.FindByPrefix(ctx, "abcd1234")
	assert.ErrorIs(t, err, clientkey.ErrNotFound)
}

func TestIntegration_ConcurrentRedemption(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	clk := clock.NewManual(t0)
	logger := zap.NewNop()

	key := &licensekey.LicenseKey{Code: "RACE234567", DurationDays: 30, CreatedAt: t0}
	require.NoError(t, s.LicenseKeys().Create(ctx, key))

	svc := service.NewEntitlementService(s, clk, nil, 7, logger)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		used      int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.ActivateLicense(ctx, fmt.Sprintf("dev-%d", i), key.Code)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case err == ierr.ErrKeyAlreadyUsed:
				used++
			default:
				t.Errorf("unexpected redemption error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, used)

	found, err := s.LicenseKeys().FindForRedemption(ctx, key.Code)
	require.NoError(t, err)
	require.True(t, found.IsRedeemed())

	grants, err := s.Grants().ListByDevice(ctx, found.RedeemedByDevice.String)
	require.NoError(t, err)
	assert.Len(t, grants, 1)
}
