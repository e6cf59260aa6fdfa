package memstorage

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/makkenzo/entitlement-service-api/internal/domain/grant"
)

type grantRepo struct {
	s *Store
}

func (r *grantRepo) Create(ctx context.Context, g *grant.Grant) error {
	return r.s.with("grants.create", func(d *data) error {
		for _, existing := range d.grants {
			if existing.LicenseKeyID == g.LicenseKeyID {
				return errors.New("grant for license key already exists")
			}
		}
		if g.ID == uuid.Nil {
			g.ID = uuid.New()
		}
		cp := *g
		d.grants[g.ID] = &cp
		return nil
	})
}

func (r *grantRepo) ListByDevice(ctx context.Context, deviceID string) ([]*grant.Grant, error) {
	out := make([]*grant.Grant, 0)
	err := r.s.with("grants.listByDevice", func(d *data) error {
		for _, g := range grantsOf(d, deviceID) {
			cp := *g
			out = append(out, &cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ActivatedAt.After(out[j].ActivatedAt) })
	return out, nil
}

func (r *grantRepo) Revoke(ctx context.Context, id uuid.UUID, now time.Time) (*grant.Grant, error) {
	var out *grant.Grant
	err := r.s.with("grants.revoke", func(d *data) error {
		g, ok := d.grants[id]
		if !ok {
			return grant.ErrNotFound
		}
		if g.IsRevoked() {
			return grant.ErrAlreadyRevoked
		}
		g.RevokedAt = sql.NullTime{Time: now, Valid: true}
		cp := *g
		out = &cp
		return nil
	})
	return out, err
}
