package memstorage

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/makkenzo/entitlement-service-api/internal/domain/licensekey"
)

type licenseKeyRepo struct {
	s *Store
}

func (r *licenseKeyRepo) Create(ctx context.Context, key *licensekey.LicenseKey) error {
	return r.s.with("licenseKeys.create", func(d *data) error {
		for _, existing := range d.keys {
			if existing.Code == key.Code {
				return licensekey.ErrCodeCollision
			}
		}
		if key.ID == uuid.Nil {
			key.ID = uuid.New()
		}
		cp := *key
		d.keys[key.ID] = &cp
		return nil
	})
}

// FindForRedemption needs no explicit lock here: transactions are already serialized.
func (r *licenseKeyRepo) FindForRedemption(ctx context.Context, code string) (*licensekey.LicenseKey, error) {
	var out *licensekey.LicenseKey
	err := r.s.with("licenseKeys.findForRedemption", func(d *data) error {
		for _, key := range d.keys {
			if key.Code == code {
				cp := *key
				out = &cp
				return nil
			}
		}
		return licensekey.ErrNotFound
	})
	return out, err
}

func (r *licenseKeyRepo) MarkRedeemed(ctx context.Context, id uuid.UUID, deviceID string, now time.Time) error {
	return r.s.with("licenseKeys.markRedeemed", func(d *data) error {
		key, ok := d.keys[id]
		if !ok || key.IsRedeemed() {
			return licensekey.ErrAlreadyRedeemed
		}
		key.RedeemedAt = sql.NullTime{Time: now, Valid: true}
		key.RedeemedByDevice = sql.NullString{String: deviceID, Valid: true}
		return nil
	})
}

func (r *licenseKeyRepo) List(ctx context.Context, filter string, limit int) ([]*licensekey.LicenseKey, error) {
	needle := strings.ToLower(filter)
	out := make([]*licensekey.LicenseKey, 0)
	err := r.s.with("licenseKeys.list", func(d *data) error {
		for _, key := range d.keys {
			if needle != "" &&
				!strings.Contains(strings.ToLower(key.Code), needle) &&
				!strings.Contains(strings.ToLower(key.Note.String), needle) {
				continue
			}
			cp := *key
			out = append(out, &cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Code < out[j].Code
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *licenseKeyRepo) Count(ctx context.Context, now time.Time) (licensekey.Counts, error) {
	var c licensekey.Counts
	err := r.s.with("licenseKeys.count", func(d *data) error {
		for _, key := range d.keys {
			c.Total++
			switch {
			case key.IsRedeemed():
				c.Redeemed++
			case key.IsExpiredAt(now):
				c.Expired++
			}
		}
		return nil
	})
	return c, err
}
