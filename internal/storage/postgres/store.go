package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/makkenzo/entitlement-service-api/internal/domain/device"
	"github.com/makkenzo/entitlement-service-api/internal/domain/entitlement"
	"github.com/makkenzo/entitlement-service-api/internal/domain/grant"
	"github.com/makkenzo/entitlement-service-api/internal/domain/keyrequest"
	"github.com/makkenzo/entitlement-service-api/internal/domain/licensekey"
	"go.uber.org/zap"
)

type Store struct {
	pool   *pgxpool.Pool
	inTx   bool
	logger *zap.Logger

	devices     *DeviceRepository
	licenseKeys *LicenseKeyRepository
	grants      *GrantRepository
	keyRequests *KeyRequestRepository
}

var _ entitlement.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	return newStore(pool, pool, false, logger.Named("Store"))
}

func newStore(pool *pgxpool.Pool, db DBTX, inTx bool, logger *zap.Logger) *Store {
	return &Store{
		pool:        pool,
		inTx:        inTx,
		logger:      logger,
		devices:     NewDeviceRepository(db, logger),
		licenseKeys: NewLicenseKeyRepository(db, logger),
		grants:      NewGrantRepository(db, logger),
		keyRequests: NewKeyRequestRepository(db, logger),
	}
}

func (s *Store) Devices() device.Repository         { return s.devices }
func (s *Store) LicenseKeys() licensekey.Repository { return s.licenseKeys }
func (s *Store) Grants() grant.Repository           { return s.grants }
func (s *Store) KeyRequests() keyrequest.Repository { return s.keyRequests }

// InTx runs fn in a read-committed transaction. Row locks taken by fn are held
// until commit or rollback. A nested call joins the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx entitlement.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(newStore(s.pool, tx, true, s.logger))
	})
	if err != nil {
		return fmt.Errorf("transaction: %w", err)
	}
	return nil
}
