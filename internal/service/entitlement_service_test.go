package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/makkenzo/entitlement-service-api/internal/domain/entitlement"
	"github.com/makkenzo/entitlement-service-api/internal/domain/keyrequest"
	"github.com/makkenzo/entitlement-service-api/internal/domain/licensekey"
	"github.com/makkenzo/entitlement-service-api/internal/ierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) seedKey(t *testing.T, code string, durationDays int, mutate ...func(k *licensekey.LicenseKey)) *licensekey.LicenseKey {
	t.Helper()
	key := &licensekey.LicenseKey{
		ID:           uuid.New(),
		Code:         code,
		DurationDays: durationDays,
		CreatedAt:    e.clock.Now(),
	}
	for _, m := range mutate {
		m(key)
	}
	require.NoError(t, e.store.LicenseKeys().Create(context.Background(), key))
	return key
}

func TestRegisterStartsTrial(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	st, err := env.entitlement.Register(ctx, "  D1  ", "Front desk")
	require.NoError(t, err)

	assert.Equal(t, "D1", st.DeviceID)
	assert.True(t, st.Created)
	assert.True(t, st.Allowed)
	assert.Equal(t, entitlement.ReasonActive, st.Reason)
	require.NotNil(t, st.TrialExpiresAt)
	assert.True(t, st.TrialExpiresAt.Equal(t0.Add(7*day)))
	assert.True(t, st.ActiveUntil.Equal(t0.Add(7*day)))

	d, err := env.store.Devices().GetDevice(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, "Front desk", d.DisplayName.String)
}

func TestRegisterTwiceKeepsTrial(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.entitlement.Register(ctx, "D1", "")
	require.NoError(t, err)

	env.clock.Advance(30 * day)
	st, err := env.entitlement.Register(ctx, "D1", "Renamed")
	require.NoError(t, err)

	assert.False(t, st.Created)
	assert.False(t, st.Allowed)
	assert.Equal(t, entitlement.ReasonExpired, st.Reason)

	d, err := env.store.Devices().GetDevice(ctx, "D1")
	require.NoError(t, err)
	assert.True(t, d.TrialStartedAt.Equal(t0))
	assert.True(t, d.TrialExpiresAt.Equal(t0.Add(7*day)))
	assert.True(t, d.LastVerifiedAt.Equal(t0.Add(30*day)))
	assert.Equal(t, "Renamed", d.DisplayName.String)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.entitlement.Register(context.Background(), "   ", "")
	assert.ErrorIs(t, err, ierr.ErrValidation)

	long := make([]byte, 129)
	for i := range long {
		long[i] = 'x'
	}
	_, err = env.entitlement.Register(context.Background(), string(long), "")
	assert.ErrorIs(t, err, ierr.ErrValidation)
}

func TestStatusUnknownDevice(t *testing.T) {
	env := newTestEnv(t)

	st, err := env.entitlement.Status(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.False(t, st.Allowed)
	assert.Equal(t, entitlement.ReasonNotRegistered, st.Reason)
	assert.Nil(t, st.ActiveUntil)
}

func TestTrialExpiryThenRedemption(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.entitlement.Register(ctx, "D1", "")
	require.NoError(t, err)

	env.clock.Advance(8 * day)
	st, err := env.entitlement.Status(ctx, "D1")
	require.NoError(t, err)
	assert.False(t, st.Allowed)
	assert.Equal(t, entitlement.ReasonExpired, st.Reason)

	env.seedKey(t, "ABC123", 30)
	act, err := env.entitlement.ActivateLicense(ctx, "D1", "abc123")
	require.NoError(t, err)

	want := t0.Add(8 * day).Add(30 * day)
	assert.True(t, act.Status.ActiveUntil.Equal(want), "got %s", act.Status.ActiveUntil)
	assert.True(t, act.GrantExpiresAt.Equal(want))

	st, err = env.entitlement.Status(ctx, "D1")
	require.NoError(t, err)
	assert.True(t, st.Allowed)
	assert.Equal(t, entitlement.ReasonActive, st.Reason)
}

func TestActivateUnknownCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.entitlement.Register(ctx, "D1", "")
	require.NoError(t, err)

	_, err = env.entitlement.ActivateLicense(ctx, "D1", "ZZZZZZ")
	assert.ErrorIs(t, err, ierr.ErrInvalidKey)

	grants, err := env.store.Grants().ListByDevice(ctx, "D1")
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func TestActivateExpiredKeyLeavesItUnused(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	key := env.seedKey(t, "OLDKEY", 30, func(k *licensekey.LicenseKey) {
		k.KeyExpiry = sql.NullTime{Time: t0.Add(-day), Valid: true}
	})

	_, err := env.entitlement.ActivateLicense(ctx, "D1", "OLDKEY")
	assert.ErrorIs(t, err, ierr.ErrKeyExpired)

	stored, err := env.store.LicenseKeys().FindForRedemption(ctx, key.Code)
	require.NoError(t, err)
	assert.False(t, stored.RedeemedAt.Valid)
	assert.False(t, stored.RedeemedByDevice.Valid)

	// the failed attempt must not have registered the device either
	st, err := env.entitlement.Status(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.ReasonNotRegistered, st.Reason)
}

func TestActivateZeroDurationKey(t *testing.T) {
	env := newTestEnv(t)

	env.seedKey(t, "NODAYS", 0)
	_, err := env.entitlement.ActivateLicense(context.Background(), "D1", "NODAYS")
	assert.ErrorIs(t, err, ierr.ErrInvalidKeyDuration)
}

func TestActivateTwice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedKey(t, "ONCEONLY", 30)

	_, err := env.entitlement.ActivateLicense(ctx, "D1", "ONCEONLY")
	require.NoError(t, err)

	_, err = env.entitlement.ActivateLicense(ctx, "D1", "ONCEONLY")
	assert.ErrorIs(t, err, ierr.ErrKeyAlreadyUsed)

	_, err = env.entitlement.ActivateLicense(ctx, "D2", "ONCEONLY")
	assert.ErrorIs(t, err, ierr.ErrKeyAlreadyUsed)
}

func TestActivateAutoRegistersDevice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedKey(t, "NEWDEVICE", 3)
	act, err := env.entitlement.ActivateLicense(ctx, "fresh", "NEWDEVICE")
	require.NoError(t, err)

	// a short key never shortens the trial
	assert.True(t, act.Status.ActiveUntil.Equal(t0.Add(7*day)))

	d, err := env.store.Devices().GetDevice(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, d.TrialExpiresAt.Equal(t0.Add(7*day)))
}

func TestConcurrentRedemptionHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedKey(t, "RACE", 30)

	const callers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		used int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.entitlement.ActivateLicense(ctx, "device-"+string(rune('A'+i)), "RACE")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ierr.ErrKeyAlreadyUsed):
				used++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, callers-1, used)

	grants := 0
	for i := 0; i < callers; i++ {
		gs, err := env.store.Grants().ListByDevice(ctx, "device-"+string(rune('A'+i)))
		require.NoError(t, err)
		grants += len(gs)
	}
	assert.Equal(t, 1, grants)
}

func TestActivateRollsBackOnStorageFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	key := env.seedKey(t, "FAILING", 30)
	env.store.InjectFault("licenseKeys.markRedeemed", errors.New("connection reset"))

	_, err := env.entitlement.ActivateLicense(ctx, "D9", "FAILING")
	require.ErrorIs(t, err, ierr.ErrInternalServer)
	assert.False(t, ierr.IsRedemptionError(err))

	env.store.InjectFault("licenseKeys.markRedeemed", nil)

	grants, err := env.store.Grants().ListByDevice(ctx, "D9")
	require.NoError(t, err)
	assert.Empty(t, grants)

	stored, err := env.store.LicenseKeys().FindForRedemption(ctx, key.Code)
	require.NoError(t, err)
	assert.False(t, stored.IsRedeemed())

	st, err := env.entitlement.Status(ctx, "D9")
	require.NoError(t, err)
	assert.Equal(t, entitlement.ReasonNotRegistered, st.Reason)

	// the key is still good once storage recovers
	_, err = env.entitlement.ActivateLicense(ctx, "D9", "FAILING")
	assert.NoError(t, err)
}

func TestRequestExtension(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req, err := env.entitlement.RequestExtension(ctx, "unregistered")
	require.NoError(t, err)
	assert.Equal(t, keyrequest.StatusOpen, req.Status)
	assert.Equal(t, "unregistered", req.DeviceID)

	st, err := env.entitlement.Status(ctx, "unregistered")
	require.NoError(t, err)
	assert.Equal(t, entitlement.ReasonActive, st.Reason, "requesting an extension registers the device")

	require.Len(t, env.notifier.requests, 1)
	assert.Equal(t, req.ID, env.notifier.requests[0].ID)
}

func TestRequestExtensionSurvivesNotifierFailure(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.err = errors.New("redis unavailable")

	req, err := env.entitlement.RequestExtension(context.Background(), "D1")
	require.NoError(t, err)

	listed, err := env.store.KeyRequests().List(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, req.ID, listed[0].ID)
}

func TestActiveUntilMatchesRuleAfterMixedOperations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.entitlement.Register(ctx, "D1", "")
	require.NoError(t, err)

	env.seedKey(t, "FIRST", 10)
	env.seedKey(t, "SECOND", 40)

	_, err = env.entitlement.ActivateLicense(ctx, "D1", "FIRST")
	require.NoError(t, err)
	env.clock.Advance(2 * day)
	_, err = env.entitlement.ActivateLicense(ctx, "D1", "SECOND")
	require.NoError(t, err)

	grants, err := env.store.Grants().ListByDevice(ctx, "D1")
	require.NoError(t, err)
	require.Len(t, grants, 2)

	_, err = env.admin.RevokeGrant(ctx, grants[0].ID)
	require.NoError(t, err)
	_, err = env.admin.ExtendTrial(ctx, "D1", 3)
	require.NoError(t, err)

	d, err := env.store.Devices().GetDevice(ctx, "D1")
	require.NoError(t, err)
	grants, err = env.store.Grants().ListByDevice(ctx, "D1")
	require.NoError(t, err)
	assert.True(t, d.ActiveUntil.Equal(entitlement.ActiveUntil(d.TrialExpiresAt, grants)))
}
