package streak

import (
	"context"

	"github.com/alem-hub/focus-league/internal/domain/metrics"
	"github.com/alem-hub/focus-league/internal/domain/session"
	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

// Evaluator loads a user's sessions and goals and computes the streak.
type Evaluator struct {
	sessions session.Repository
	resolver *timeutil.WeekResolver
	lookback int
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(sessions session.Repository, resolver *timeutil.WeekResolver, lookbackWeeks int) *Evaluator {
	if lookbackWeeks <= 0 {
		lookbackWeeks = DefaultLookbackWeeks
	}
	return &Evaluator{sessions: sessions, resolver: resolver, lookback: lookbackWeeks}
}

// Evaluate returns the streak of user ending at the week latest.
func (e *Evaluator) Evaluate(ctx context.Context, user shared.UserID, latest timeutil.Date) (Result, error) {
	goals, err := e.sessions.ListGoals(ctx, []shared.UserID{user})
	if err != nil {
		return Result{}, shared.ComputeError("streak", "Evaluate", err)
	}

	from, _ := e.resolver.WeekRange(latest.AddDays(-timeutil.DaysPerWeek * (e.lookback - 1)))
	_, to := e.resolver.WeekRange(latest)
	sessions, err := e.sessions.ListSessions(ctx, []shared.UserID{user}, from, to)
	if err != nil {
		return Result{}, shared.ComputeError("streak", "Evaluate", err)
	}

	return Evaluate(latest, e.lookback, goals, metrics.HonestByGoalWeek(sessions, e.resolver)), nil
}
