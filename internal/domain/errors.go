package domain

import "fmt"

// ErrNotFound is returned by repository lookups when an entity of the
// given kind/id does not exist.
type ErrNotFound struct {
	Kind string
	ID   string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("domain: %s %q not found", e.Kind, e.ID)
}

// ErrServiceAlreadyGrouped is returned when a delivery-group update would
// claim a service that already belongs to a different group.
type ErrServiceAlreadyGrouped struct {
	Service       string
	ExistingGroup string
}

func (e *ErrServiceAlreadyGrouped) Error() string {
	return fmt.Sprintf("domain: service %q already belongs to delivery group %q", e.Service, e.ExistingGroup)
}

// ErrUnknownRecipeReference is returned when a delivery group references a
// recipe id that does not exist.
type ErrUnknownRecipeReference struct {
	RecipeID string
}

func (e *ErrUnknownRecipeReference) Error() string {
	return fmt.Sprintf("domain: delivery group references unknown recipe %q", e.RecipeID)
}
