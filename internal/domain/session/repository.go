package session

import (
	"context"
	"time"

	"github.com/alem-hub/focus-league/internal/domain/shared"
)

// Repository defines read access to the tracking data.
// This interface is implemented by the infrastructure layer.
type Repository interface {
	// ListSessions returns sessions of the given users whose start time
	// falls inside [from, to], both ends inclusive.
	ListSessions(ctx context.Context, users []shared.UserID, from, to time.Time) ([]FocusSession, error)

	// ListActiveUsers returns distinct users with at least one session in [from, to].
	ListActiveUsers(ctx context.Context, from, to time.Time) ([]shared.UserID, error)

	// ListGoals returns goal commitments of the given users.
	ListGoals(ctx context.Context, users []shared.UserID) ([]GoalCommitment, error)
}

// Writer is used by fixtures and the operator CLI to load tracking data.
// Production deployments receive sessions from the tracking app directly.
type Writer interface {
	SaveSession(ctx context.Context, s FocusSession) error
	SaveGoal(ctx context.Context, g GoalCommitment) error
}
