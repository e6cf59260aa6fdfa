package memstorage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/makkenzo/entitlement-service-api/internal/domain/clientkey"
)

type ClientKeyRepository struct {
	mu   sync.RWMutex
	keys map[uuid.UUID]*clientkey.ClientKey
}

var _ clientkey.Repository = (*ClientKeyRepository)(nil)

func NewClientKeyRepository() *ClientKeyRepository {
	return &ClientKeyRepository{keys: make(map[uuid.UUID]*clientkey.ClientKey)}
}

func (r *ClientKeyRepository) FindByPrefix(ctx context.Context, prefix string) (*clientkey.ClientKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, k := range r.keys {
		if k.Prefix == prefix && k.IsEnabled {
			cp := *k
			return &cp, nil
		}
	}
	return nil, clientkey.ErrNotFound
}

func (r *ClientKeyRepository) Create(ctx context.Context, key *clientkey.ClientKey) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, k := range r.keys {
		if k.Prefix == key.Prefix {
			return uuid.Nil, clientkey.ErrConflict
		}
	}
	cp := *key
	cp.ID = uuid.New()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	r.keys[cp.ID] = &cp
	return cp.ID, nil
}

func (r *ClientKeyRepository) List(ctx context.Context) ([]*clientkey.ClientKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*clientkey.ClientKey, 0, len(r.keys))
	for _, k := range r.keys {
		cp := *k
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *ClientKeyRepository) Disable(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.keys[id]
	if !ok {
		return clientkey.ErrNotFound
	}
	k.IsEnabled = false
	return nil
}

func (r *ClientKeyRepository) UpdateLastUsed(ctx context.Context, id uuid.UUID, lastUsed time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if k, ok := r.keys[id]; ok {
		t := lastUsed
		k.LastUsedAt = &t
	}
	return nil
}
