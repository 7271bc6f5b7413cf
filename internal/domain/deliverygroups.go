package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dxcp/dxcp/internal/clock"
	"github.com/dxcp/dxcp/internal/store"
)

const groupPartition = "group"

// DeliveryGroupRepo is admin CRUD over DeliveryGroup records, enforcing
// the "service belongs to ≤1 group" and "allowed_recipes reference
// existing recipes" invariants.
type DeliveryGroupRepo struct {
	st       store.Store
	clock    clock.Clock
	services *ServiceRepo
	recipes  *RecipeRepo
}

// NewDeliveryGroupRepo wraps st for DeliveryGroup persistence.
func NewDeliveryGroupRepo(st store.Store, clk clock.Clock, services *ServiceRepo, recipes *RecipeRepo) *DeliveryGroupRepo {
	return &DeliveryGroupRepo{st: st, clock: clk, services: services, recipes: recipes}
}

// Get returns the DeliveryGroup with id, or ErrNotFound.
func (r *DeliveryGroupRepo) Get(ctx context.Context, id string) (*DeliveryGroup, error) {
	item, err := r.st.Get(ctx, groupPartition, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, &ErrNotFound{Kind: "deliveryGroup", ID: id}
		}
		return nil, err
	}
	var group DeliveryGroup
	if err := json.Unmarshal(item.Value, &group); err != nil {
		return nil, fmt.Errorf("domain: decode delivery group %q: %w", id, err)
	}
	return &group, nil
}

// List returns every DeliveryGroup, paginated by the store cursor.
func (r *DeliveryGroupRepo) List(ctx context.Context, cursor string, limit int) ([]DeliveryGroup, string, error) {
	page, err := r.st.ScanPrefix(ctx, groupPartition, "", cursor, limit)
	if err != nil {
		return nil, "", err
	}
	groups := make([]DeliveryGroup, 0, len(page.Items))
	for _, item := range page.Items {
		var g DeliveryGroup
		if err := json.Unmarshal(item.Value, &g); err != nil {
			return nil, "", fmt.Errorf("domain: decode delivery group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, page.NextCursor, nil
}

// Upsert validates and persists a DeliveryGroup. additions is the set
// of service names newly claimed by this update (a subset of
// group.Services); it is what gets checked against other groups'
// membership, so callers only need to enumerate actual changes.
func (r *DeliveryGroupRepo) Upsert(ctx context.Context, group DeliveryGroup, additions []string) (*DeliveryGroup, error) {
	for _, recipeID := range group.AllowedRecipes {
		if _, err := r.recipes.Get(ctx, recipeID); err != nil {
			var notFound *ErrNotFound
			if errors.As(err, &notFound) {
				return nil, &ErrUnknownRecipeReference{RecipeID: recipeID}
			}
			return nil, err
		}
	}

	for _, svcName := range additions {
		svc, err := r.services.Get(ctx, svcName)
		if err != nil {
			return nil, err
		}
		if svc.DeliveryGroupID != "" && svc.DeliveryGroupID != group.ID {
			return nil, &ErrServiceAlreadyGrouped{Service: svcName, ExistingGroup: svc.DeliveryGroupID}
		}
	}

	now := r.clock.Now()
	existing, err := r.Get(ctx, group.ID)
	if err != nil {
		var notFound *ErrNotFound
		if !errors.As(err, &notFound) {
			return nil, err
		}
		group.CreatedAt = now
		group.ChangeVersion = 1
	} else {
		group.CreatedAt = existing.CreatedAt
		group.ChangeVersion = existing.ChangeVersion + 1
	}
	group.UpdatedAt = now

	value, err := json.Marshal(group)
	if err != nil {
		return nil, err
	}
	if _, err := r.st.Put(ctx, store.PutRequest{
		Partition: groupPartition,
		Sort:      group.ID,
		Value:     value,
		Condition: store.None,
	}); err != nil {
		return nil, err
	}

	for _, svcName := range additions {
		svc, err := r.services.Get(ctx, svcName)
		if err != nil {
			return nil, err
		}
		svc.DeliveryGroupID = group.ID
		if _, err := r.services.Upsert(ctx, *svc); err != nil {
			return nil, err
		}
	}

	return &group, nil
}
