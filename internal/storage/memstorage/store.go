// Package memstorage is an in-process implementation of the entitlement and
// client-key stores. Transactions run one at a time against a private copy of
// the data that replaces the shared copy on commit.
package memstorage

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/makkenzo/entitlement-service-api/internal/domain/device"
	"github.com/makkenzo/entitlement-service-api/internal/domain/entitlement"
	"github.com/makkenzo/entitlement-service-api/internal/domain/grant"
	"github.com/makkenzo/entitlement-service-api/internal/domain/keyrequest"
	"github.com/makkenzo/entitlement-service-api/internal/domain/licensekey"
)

type data struct {
	devices  map[string]*device.Device
	keys     map[uuid.UUID]*licensekey.LicenseKey
	grants   map[uuid.UUID]*grant.Grant
	requests map[uuid.UUID]*keyrequest.KeyRequest
}

func newData() *data {
	return &data{
		devices:  make(map[string]*device.Device),
		keys:     make(map[uuid.UUID]*licensekey.LicenseKey),
		grants:   make(map[uuid.UUID]*grant.Grant),
		requests: make(map[uuid.UUID]*keyrequest.KeyRequest),
	}
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.devices {
		cp := *v
		c.devices[k] = &cp
	}
	for k, v := range d.keys {
		cp := *v
		c.keys[k] = &cp
	}
	for k, v := range d.grants {
		cp := *v
		c.grants[k] = &cp
	}
	for k, v := range d.requests {
		cp := *v
		c.requests[k] = &cp
	}
	return c
}

type root struct {
	mu     sync.Mutex
	data   *data
	faults map[string]error
}

type Store struct {
	root *root
	tx   *data
}

var _ entitlement.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{root: &root{data: newData(), faults: make(map[string]error)}}
}

// InjectFault makes the named operation (for example "grants.create") fail with
// err until cleared with a nil err.
func (s *Store) InjectFault(op string, err error) {
	s.root.mu.Lock()
	defer s.root.mu.Unlock()
	if err == nil {
		delete(s.root.faults, op)
		return
	}
	s.root.faults[op] = err
}

func (s *Store) Devices() device.Repository         { return &deviceRepo{s} }
func (s *Store) LicenseKeys() licensekey.Repository { return &licenseKeyRepo{s} }
func (s *Store) Grants() grant.Repository           { return &grantRepo{s} }
func (s *Store) KeyRequests() keyrequest.Repository { return &keyRequestRepo{s} }

func (s *Store) InTx(ctx context.Context, fn func(tx entitlement.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	s.root.mu.Lock()
	defer s.root.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.root.data.clone()
	if err := fn(&Store{root: s.root, tx: work}); err != nil {
		return err
	}
	s.root.data = work
	return nil
}

// with runs fn against the transaction copy or, outside a transaction, the
// shared copy under the store lock.
func (s *Store) with(op string, fn func(d *data) error) error {
	if s.tx != nil {
		if err := s.root.faults[op]; err != nil {
			return err
		}
		return fn(s.tx)
	}

	s.root.mu.Lock()
	defer s.root.mu.Unlock()
	if err := s.root.faults[op]; err != nil {
		return err
	}
	return fn(s.root.data)
}
