package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dxcp/dxcp/internal/clock"
	"github.com/dxcp/dxcp/internal/store"
)

const servicePartition = "service"

// ServiceRepo is admin CRUD over the Service allowlist.
type ServiceRepo struct {
	st    store.Store
	clock clock.Clock
}

// NewServiceRepo wraps st for Service persistence.
func NewServiceRepo(st store.Store, clk clock.Clock) *ServiceRepo {
	return &ServiceRepo{st: st, clock: clk}
}

// Get returns the Service named name, or ErrNotFound.
func (r *ServiceRepo) Get(ctx context.Context, name string) (*Service, error) {
	item, err := r.st.Get(ctx, servicePartition, name)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, &ErrNotFound{Kind: "service", ID: name}
		}
		return nil, err
	}
	var svc Service
	if err := json.Unmarshal(item.Value, &svc); err != nil {
		return nil, fmt.Errorf("domain: decode service %q: %w", name, err)
	}
	return &svc, nil
}

// Upsert creates or updates a Service, stamping timestamps.
func (r *ServiceRepo) Upsert(ctx context.Context, svc Service) (*Service, error) {
	now := r.clock.Now()
	existing, err := r.Get(ctx, svc.Name)
	if err != nil {
		var notFound *ErrNotFound
		if !errors.As(err, &notFound) {
			return nil, err
		}
		svc.CreatedAt = now
	} else {
		svc.CreatedAt = existing.CreatedAt
	}
	svc.UpdatedAt = now

	value, err := json.Marshal(svc)
	if err != nil {
		return nil, err
	}
	if _, err := r.st.Put(ctx, store.PutRequest{
		Partition: servicePartition,
		Sort:      svc.Name,
		Value:     value,
		Condition: store.None,
	}); err != nil {
		return nil, err
	}
	return &svc, nil
}

// List returns every allowlisted Service, paginated by the store cursor.
func (r *ServiceRepo) List(ctx context.Context, cursor string, limit int) ([]Service, string, error) {
	page, err := r.st.ScanPrefix(ctx, servicePartition, "", cursor, limit)
	if err != nil {
		return nil, "", err
	}
	services := make([]Service, 0, len(page.Items))
	for _, item := range page.Items {
		var svc Service
		if err := json.Unmarshal(item.Value, &svc); err != nil {
			return nil, "", fmt.Errorf("domain: decode service: %w", err)
		}
		services = append(services, svc)
	}
	return services, page.NextCursor, nil
}
