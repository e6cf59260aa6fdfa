package memstorage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/makkenzo/entitlement-service-api/internal/domain/device"
	"github.com/makkenzo/entitlement-service-api/internal/domain/keyrequest"
)

type keyRequestRepo struct {
	s *Store
}

func (r *keyRequestRepo) Create(ctx context.Context, deviceID string, now time.Time) (*keyrequest.KeyRequest, error) {
	var out *keyrequest.KeyRequest
	err := r.s.with("keyRequests.create", func(d *data) error {
		if _, ok := d.devices[deviceID]; !ok {
			return fmt.Errorf("key request references unknown device: %w", device.ErrNotFound)
		}
		req := &keyrequest.KeyRequest{
			ID:        uuid.New(),
			DeviceID:  deviceID,
			Status:    keyrequest.StatusOpen,
			CreatedAt: now,
		}
		d.requests[req.ID] = req
		cp := *req
		out = &cp
		return nil
	})
	return out, err
}

func (r *keyRequestRepo) List(ctx context.Context, statusFilter string, limit int) ([]*keyrequest.KeyRequest, error) {
	if statusFilter == keyrequest.StatusAll {
		statusFilter = ""
	}
	out := make([]*keyrequest.KeyRequest, 0)
	err := r.s.with("keyRequests.list", func(d *data) error {
		for _, req := range d.requests {
			if statusFilter != "" && string(req.Status) != statusFilter {
				continue
			}
			cp := *req
			out = append(out, &cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *keyRequestRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status keyrequest.Status, note string, now time.Time) (*keyrequest.KeyRequest, error) {
	var out *keyrequest.KeyRequest
	err := r.s.with("keyRequests.updateStatus", func(d *data) error {
		req, ok := d.requests[id]
		if !ok {
			return keyrequest.ErrNotFound
		}
		if !keyrequest.CanTransition(req.Status, status) {
			return fmt.Errorf("%w: %s -> %s", keyrequest.ErrInvalidTransition, req.Status, status)
		}
		req.Status = status
		if note != "" {
			req.Note = sql.NullString{String: note, Valid: true}
		}
		if !req.HandledAt.Valid {
			req.HandledAt = sql.NullTime{Time: now, Valid: true}
		}
		cp := *req
		out = &cp
		return nil
	})
	return out, err
}

func (r *keyRequestRepo) CountByStatus(ctx context.Context) (map[keyrequest.Status]int64, error) {
	counts := map[keyrequest.Status]int64{
		keyrequest.StatusOpen:    0,
		keyrequest.StatusHandled: 0,
		keyrequest.StatusClosed:  0,
	}
	err := r.s.with("keyRequests.count", func(d *data) error {
		for _, req := range d.requests {
			counts[req.Status]++
		}
		return nil
	})
	return counts, err
}
