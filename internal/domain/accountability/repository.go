package accountability

import (
	"context"

	"github.com/alem-hub/focus-league/internal/domain/shared"
)

// Repository stores directional relationship rows, unique on (owner, partner).
type Repository interface {
	// Get returns the owner->partner row or shared.ErrRelationshipNotFound.
	Get(ctx context.Context, owner, partner shared.UserID) (*Relationship, error)

	// GetPair returns both directions; a missing direction is nil, not an error.
	GetPair(ctx context.Context, a, b shared.UserID) (ab, ba *Relationship, err error)

	// Save inserts or replaces the owner->partner row.
	Save(ctx context.Context, r *Relationship) error

	// ListByOwner returns all rows owned by user.
	ListByOwner(ctx context.Context, owner shared.UserID) ([]Relationship, error)
}
