package streak

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/focus-league/internal/domain/metrics"
	"github.com/alem-hub/focus-league/internal/domain/session"
	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

var latest = timeutil.MustParseDate("2024-03-11")

var twoCoreGoals = []session.GoalCommitment{
	{UserID: "u", GoalID: "read", WeeklyHoursTarget: 2, IsCore: true},
	{UserID: "u", GoalID: "code", WeeklyHoursTarget: 5, IsCore: true},
	{UserID: "u", GoalID: "gym", WeeklyHoursTarget: 3, IsCore: false},
}

func weeksAgo(n int) timeutil.Date {
	return latest.AddDays(-7 * n)
}

func TestEvaluate_RequiresEveryCoreGoal(t *testing.T) {
	honest := map[metrics.GoalWeekKey]int{
		{GoalID: "read", Week: latest}: 120,
		{GoalID: "code", Week: latest}: 299, // one minute short
	}

	res := Evaluate(latest, 16, twoCoreGoals, honest)

	assert.False(t, res.AchievedThisWeek)
	assert.Zero(t, res.Streak)
	require.Len(t, res.Weeks, 16)
	assert.Equal(t, latest, res.Weeks[15].WeekStart)

	honest[metrics.GoalWeekKey{GoalID: "code", Week: latest}] = 300
	res = Evaluate(latest, 16, twoCoreGoals, honest)
	assert.True(t, res.AchievedThisWeek)
	assert.Equal(t, 1, res.Streak)
}

func TestEvaluate_CountsConsecutiveWeeksBack(t *testing.T) {
	honest := map[metrics.GoalWeekKey]int{}
	met := func(w timeutil.Date) {
		honest[metrics.GoalWeekKey{GoalID: "read", Week: w}] = 200
		honest[metrics.GoalWeekKey{GoalID: "code", Week: w}] = 400
	}
	met(latest)
	met(weeksAgo(1))
	met(weeksAgo(2))
	// weeksAgo(3) missed
	met(weeksAgo(4))

	res := Evaluate(latest, 16, twoCoreGoals, honest)

	assert.Equal(t, 3, res.Streak)
	assert.True(t, res.AchievedThisWeek)
}

func TestEvaluate_BoundedByLookback(t *testing.T) {
	honest := map[metrics.GoalWeekKey]int{}
	for i := 0; i < 30; i++ {
		honest[metrics.GoalWeekKey{GoalID: "read", Week: weeksAgo(i)}] = 500
		honest[metrics.GoalWeekKey{GoalID: "code", Week: weeksAgo(i)}] = 500
	}

	assert.Equal(t, 16, Evaluate(latest, 16, twoCoreGoals, honest).Streak)
	assert.Equal(t, 4, Evaluate(latest, 4, twoCoreGoals, honest).Streak)
}

func TestEvaluate_CurrentWeekMissedBreaksStreak(t *testing.T) {
	honest := map[metrics.GoalWeekKey]int{
		{GoalID: "read", Week: weeksAgo(1)}: 500,
		{GoalID: "code", Week: weeksAgo(1)}: 500,
	}

	res := Evaluate(latest, 16, twoCoreGoals, honest)

	assert.False(t, res.AchievedThisWeek)
	assert.Zero(t, res.Streak)
}

func TestEvaluate_NoCoreTargets(t *testing.T) {
	goals := []session.GoalCommitment{
		{GoalID: "a", WeeklyHoursTarget: 0, IsCore: true},
		{GoalID: "b", WeeklyHoursTarget: 4, IsCore: false},
	}

	res := Evaluate(latest, 16, goals, map[metrics.GoalWeekKey]int{})

	assert.Zero(t, res.Streak)
	assert.False(t, res.AchievedThisWeek)
	assert.Empty(t, res.Weeks)
}

type fakeRepo struct {
	sessions []session.FocusSession
	goals    []session.GoalCommitment
}

func (f *fakeRepo) ListSessions(_ context.Context, _ []shared.UserID, from, to time.Time) ([]session.FocusSession, error) {
	var out []session.FocusSession
	for _, s := range f.sessions {
		if !s.StartTime.Before(from) && !s.StartTime.After(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListActiveUsers(context.Context, time.Time, time.Time) ([]shared.UserID, error) {
	return nil, nil
}

func (f *fakeRepo) ListGoals(context.Context, []shared.UserID) ([]session.GoalCommitment, error) {
	return f.goals, nil
}

func TestEvaluator_LoadsSessions(t *testing.T) {
	start := func(w timeutil.Date) time.Time { return w.StartIn(timeutil.LeagueTZ).Add(10 * time.Hour) }
	repo := &fakeRepo{
		goals: []session.GoalCommitment{{UserID: "u", GoalID: "code", WeeklyHoursTarget: 1, IsCore: true}},
		sessions: []session.FocusSession{
			{UserID: "u", GoalID: "code", StartTime: start(latest), DurationMinutes: 60, Honest: true},
			{UserID: "u", GoalID: "code", StartTime: start(weeksAgo(1)), DurationMinutes: 60, Honest: true},
			{UserID: "u", GoalID: "code", StartTime: start(weeksAgo(2)), DurationMinutes: 60, Honest: false},
		},
	}

	res, err := NewEvaluator(repo, timeutil.DefaultResolver, 16).Evaluate(context.Background(), "u", latest)

	require.NoError(t, err)
	assert.Equal(t, 2, res.Streak)
	assert.True(t, res.AchievedThisWeek)
}
