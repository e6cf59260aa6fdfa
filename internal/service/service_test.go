package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/makkenzo/entitlement-service-api/internal/clock"
	"github.com/makkenzo/entitlement-service-api/internal/config"
	"github.com/makkenzo/entitlement-service-api/internal/domain/keyrequest"
	"github.com/makkenzo/entitlement-service-api/internal/storage/memstorage"
	"go.uber.org/zap"
)

var t0 = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

const day = 24 * time.Hour

type recordingNotifier struct {
	mu       sync.Mutex
	requests []*keyrequest.KeyRequest
	err      error
}

func (n *recordingNotifier) NotifyKeyRequest(_ context.Context, req *keyrequest.KeyRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, req)
	return n.err
}

type testEnv struct {
	store       *memstorage.Store
	clock       *clock.Manual
	notifier    *recordingNotifier
	entitlement *EntitlementService
	admin       *AdminService
}

func testEntitlementConfig() config.EntitlementConfig {
	return config.EntitlementConfig{
		DefaultTrialDays: 7,
		CodeLength:       10,
		CodeRetryBudget:  5,
		MaxKeysPerBatch:  500,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := testEntitlementConfig()
	store := memstorage.NewStore()
	clk := clock.NewManual(t0)
	notifier := &recordingNotifier{}
	logger := zap.NewNop()

	return &testEnv{
		store:       store,
		clock:       clk,
		notifier:    notifier,
		entitlement: NewEntitlementService(store, clk, notifier, cfg.DefaultTrialDays, logger),
		admin:       NewAdminService(store, clk, cfg, logger),
	}
}
