package metrics

import (
	"context"
	"time"

	"github.com/alem-hub/focus-league/internal/domain/session"
	"github.com/alem-hub/focus-league/internal/domain/shared"
)

// Aggregator loads sessions and goals and produces summaries.
type Aggregator struct {
	sessions      session.Repository
	defaultTarget int
}

// NewAggregator creates an Aggregator. defaultTargetMinutes applies to users
// without core goal targets.
func NewAggregator(sessions session.Repository, defaultTargetMinutes int) *Aggregator {
	return &Aggregator{sessions: sessions, defaultTarget: defaultTargetMinutes}
}

// Compute returns one Summary per requested user over [from, to].
// Users without sessions get zero summaries; only storage failures are errors.
func (a *Aggregator) Compute(ctx context.Context, users []shared.UserID, from, to time.Time) (map[shared.UserID]Summary, error) {
	if from.After(to) {
		return nil, shared.ValidationError("metrics", "Compute", "range start is after range end")
	}
	out := make(map[shared.UserID]Summary, len(users))
	if len(users) == 0 {
		return out, nil
	}

	sessions, err := a.sessions.ListSessions(ctx, users, from, to)
	if err != nil {
		return nil, shared.ComputeError("metrics", "Compute", err)
	}
	goals, err := a.sessions.ListGoals(ctx, users)
	if err != nil {
		return nil, shared.ComputeError("metrics", "Compute", err)
	}

	totals := Aggregate(users, sessions, from, to)
	targets := TargetsByUser(users, goals, a.defaultTarget)
	for _, u := range users {
		out[u] = Summarize(u, totals[u], targets[u])
	}
	return out, nil
}

// ComputeOne is Compute for a single user.
func (a *Aggregator) ComputeOne(ctx context.Context, user shared.UserID, from, to time.Time) (Summary, error) {
	all, err := a.Compute(ctx, []shared.UserID{user}, from, to)
	if err != nil {
		return Summary{}, err
	}
	return all[user], nil
}
