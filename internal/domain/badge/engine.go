package badge

import (
	"context"
	"time"

	"github.com/alem-hub/focus-league/internal/domain/shared"
)

// Engine evaluates the rule catalog.
type Engine struct {
	rules []Rule
}

// NewEngine creates an engine; rule codes must be unique.
func NewEngine(rules []Rule) (*Engine, error) {
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if seen[r.Badge.Code] {
			return nil, shared.WrapError("badge", "NewEngine", shared.ErrInvalidInput,
				"duplicate badge code "+r.Badge.Code, shared.ErrInvalidCatalog)
		}
		seen[r.Badge.Code] = true
	}
	return &Engine{rules: rules}, nil
}

// Catalog returns the badges in rule order.
func (e *Engine) Catalog() []Badge {
	out := make([]Badge, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Badge
	}
	return out
}

// NeedsStreak reports whether any rule looks at the streak, so callers can
// skip loading sixteen weeks of sessions when nothing uses it.
func (e *Engine) NeedsStreak() bool {
	for _, r := range e.rules {
		if r.Kind == KindStreak {
			return true
		}
	}
	return false
}

// Evaluate returns a grant for every satisfied rule.
func (e *Engine) Evaluate(f Facts, at time.Time) []Grant {
	var out []Grant
	for _, r := range e.rules {
		reason, ok := r.Evaluate(f)
		if !ok {
			continue
		}
		out = append(out, Grant{
			UserID:    f.UserID,
			BadgeCode: r.Badge.Code,
			GrantedAt: at,
			Reason:    reason,
		})
	}
	return out
}

// Repository persists the catalog and grants.
type Repository interface {
	// UpsertCatalog inserts or updates catalog entries by code.
	UpsertCatalog(ctx context.Context, badges []Badge) error

	// Grant inserts a grant. A conflict on (user, badge) is not an error:
	// it returns false and leaves the first grant as is.
	Grant(ctx context.Context, g Grant) (bool, error)

	// ListByUser returns grants ordered by grant time.
	ListByUser(ctx context.Context, user shared.UserID) ([]UserBadge, error)
}
