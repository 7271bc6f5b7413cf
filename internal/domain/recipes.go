package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dxcp/dxcp/internal/clock"
	"github.com/dxcp/dxcp/internal/store"
)

const recipePartition = "recipe"

// RecipeRepo is admin CRUD over Recipe records.
type RecipeRepo struct {
	st    store.Store
	clock clock.Clock
}

// NewRecipeRepo wraps st for Recipe persistence.
func NewRecipeRepo(st store.Store, clk clock.Clock) *RecipeRepo {
	return &RecipeRepo{st: st, clock: clk}
}

// Get returns the Recipe with id, or ErrNotFound.
func (r *RecipeRepo) Get(ctx context.Context, id string) (*Recipe, error) {
	item, err := r.st.Get(ctx, recipePartition, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, &ErrNotFound{Kind: "recipe", ID: id}
		}
		return nil, err
	}
	var recipe Recipe
	if err := json.Unmarshal(item.Value, &recipe); err != nil {
		return nil, fmt.Errorf("domain: decode recipe %q: %w", id, err)
	}
	return &recipe, nil
}

// List returns every Recipe, paginated by the store cursor.
func (r *RecipeRepo) List(ctx context.Context, cursor string, limit int) ([]Recipe, string, error) {
	page, err := r.st.ScanPrefix(ctx, recipePartition, "", cursor, limit)
	if err != nil {
		return nil, "", err
	}
	recipes := make([]Recipe, 0, len(page.Items))
	for _, item := range page.Items {
		var rec Recipe
		if err := json.Unmarshal(item.Value, &rec); err != nil {
			return nil, "", fmt.Errorf("domain: decode recipe: %w", err)
		}
		recipes = append(recipes, rec)
	}
	return recipes, page.NextCursor, nil
}

// Upsert creates or updates a Recipe. The revision is bumped iff the
// submitted behaviorSummary differs from the stored value; a
// pure metadata edit (status, compatible kinds) does not bump revision.
func (r *RecipeRepo) Upsert(ctx context.Context, recipe Recipe) (*Recipe, error) {
	now := r.clock.Now()
	existing, err := r.Get(ctx, recipe.ID)
	if err != nil {
		var notFound *ErrNotFound
		if !errors.As(err, &notFound) {
			return nil, err
		}
		recipe.CreatedAt = now
		recipe.Revision = 1
	} else {
		recipe.CreatedAt = existing.CreatedAt
		recipe.Revision = existing.Revision
		if recipe.BehaviorSummary != existing.BehaviorSummary {
			recipe.Revision++
		}
	}
	recipe.UpdatedAt = now

	value, err := json.Marshal(recipe)
	if err != nil {
		return nil, err
	}
	if _, err := r.st.Put(ctx, store.PutRequest{
		Partition: recipePartition,
		Sort:      recipe.ID,
		Value:     value,
		Condition: store.None,
	}); err != nil {
		return nil, err
	}
	return &recipe, nil
}
