package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/focus-league/internal/domain/session"
	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

type fakeSessions struct {
	sessions []session.FocusSession
	goals    []session.GoalCommitment
	err      error
}

func (f *fakeSessions) ListSessions(_ context.Context, users []shared.UserID, from, to time.Time) ([]session.FocusSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	want := make(map[shared.UserID]bool, len(users))
	for _, u := range users {
		want[u] = true
	}
	var out []session.FocusSession
	for _, s := range f.sessions {
		if want[s.UserID] && !s.StartTime.Before(from) && !s.StartTime.After(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSessions) ListActiveUsers(context.Context, time.Time, time.Time) ([]shared.UserID, error) {
	return nil, nil
}

func (f *fakeSessions) ListGoals(_ context.Context, users []shared.UserID) ([]session.GoalCommitment, error) {
	return f.goals, f.err
}

var week = timeutil.MustParseDate("2024-03-11")

func at(day, hour int) time.Time {
	return week.AddDays(day).StartIn(timeutil.LeagueTZ).Add(time.Duration(hour) * time.Hour)
}

func TestAggregate_HonestOnlyFromFlaggedSessions(t *testing.T) {
	from, to := timeutil.WeekRange(week)
	sessions := []session.FocusSession{
		{UserID: "alice", StartTime: at(0, 9), DurationMinutes: 50, Honest: true, InterruptionCount: 1},
		{UserID: "alice", StartTime: at(2, 9), DurationMinutes: 30, Honest: false, InterruptionCount: 2},
		{UserID: "alice", StartTime: at(7, 9), DurationMinutes: 90, Honest: true}, // next week
		{UserID: "bob", StartTime: at(6, 23), DurationMinutes: 25, Honest: true},
	}

	got := Aggregate([]shared.UserID{"alice", "bob", "carol"}, sessions, from, to)

	assert.Equal(t, Totals{HonestMinutes: 50, TotalMinutes: 80, Interruptions: 3}, got["alice"])
	assert.Equal(t, Totals{HonestMinutes: 25, TotalMinutes: 25}, got["bob"])
	assert.Equal(t, Totals{}, got["carol"])
}

func TestAggregate_Conservation(t *testing.T) {
	from, to := timeutil.WeekRange(week)
	var sessions []session.FocusSession
	expected := 0
	for i := 0; i < 40; i++ {
		honest := i%3 != 0
		user := shared.UserID([]string{"u1", "u2", "u3", "u4"}[i%4])
		sessions = append(sessions, session.FocusSession{
			UserID: user, StartTime: at(i%7, i%24), DurationMinutes: 10 + i, Honest: honest,
		})
		if honest {
			expected += 10 + i
		}
	}

	got := Aggregate([]shared.UserID{"u1", "u2", "u3", "u4"}, sessions, from, to)

	sum := 0
	for _, tot := range got {
		sum += tot.HonestMinutes
		assert.LessOrEqual(t, tot.HonestMinutes, tot.TotalMinutes)
	}
	assert.Equal(t, expected, sum)
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name   string
		totals Totals
		target int
		want   Summary
	}{
		{
			name:   "no activity",
			totals: Totals{},
			target: 600,
			want:   Summary{UserID: "u", TargetMinutes: 600},
		},
		{
			name:   "ratios rounded",
			totals: Totals{HonestMinutes: 200, TotalMinutes: 300, Interruptions: 7},
			target: 600,
			want: Summary{
				UserID: "u", HonestMinutes: 200, TotalMinutes: 300, Interruptions: 7, TargetMinutes: 600,
				HonestyRatio: 0.67, CommitmentRate: 200.0 / 600.0, InterruptionFrequency: 1.4,
			},
		},
		{
			name:   "commitment capped at one",
			totals: Totals{HonestMinutes: 900, TotalMinutes: 900},
			target: 600,
			want: Summary{
				UserID: "u", HonestMinutes: 900, TotalMinutes: 900, TargetMinutes: 600,
				HonestyRatio: 1, CommitmentRate: 1,
			},
		},
		{
			name:   "zero target",
			totals: Totals{HonestMinutes: 60, TotalMinutes: 60},
			target: 0,
			want:   Summary{UserID: "u", HonestMinutes: 60, TotalMinutes: 60, HonestyRatio: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Summarize("u", tt.totals, tt.target))
		})
	}
}

func TestTargetsByUser(t *testing.T) {
	goals := []session.GoalCommitment{
		{UserID: "a", GoalID: "g1", WeeklyHoursTarget: 5, IsCore: true},
		{UserID: "a", GoalID: "g2", WeeklyHoursTarget: 2.5, IsCore: true},
		{UserID: "a", GoalID: "g3", WeeklyHoursTarget: 10, IsCore: false},
	}

	got := TargetsByUser([]shared.UserID{"a", "b"}, goals, 120)

	assert.Equal(t, 450, got["a"])
	assert.Equal(t, 120, got["b"])
}

func TestHonestByGoalWeek(t *testing.T) {
	sessions := []session.FocusSession{
		{UserID: "a", GoalID: "g1", StartTime: at(0, 1), DurationMinutes: 30, Honest: true},
		{UserID: "a", GoalID: "g1", StartTime: at(8, 1), DurationMinutes: 40, Honest: true},
		{UserID: "a", GoalID: "g1", StartTime: at(8, 2), DurationMinutes: 99, Honest: false},
	}

	got := HonestByGoalWeek(sessions, timeutil.DefaultResolver)

	assert.Equal(t, 30, got[GoalWeekKey{GoalID: "g1", Week: week}])
	assert.Equal(t, 40, got[GoalWeekKey{GoalID: "g1", Week: week.AddDays(7)}])
}

func TestAggregator_Compute(t *testing.T) {
	repo := &fakeSessions{
		sessions: []session.FocusSession{
			{UserID: "a", StartTime: at(1, 10), DurationMinutes: 120, Honest: true, InterruptionCount: 2},
		},
		goals: []session.GoalCommitment{{UserID: "a", GoalID: "g", WeeklyHoursTarget: 4, IsCore: true}},
	}
	agg := NewAggregator(repo, 0)
	from, to := timeutil.WeekRange(week)

	got, err := agg.Compute(context.Background(), []shared.UserID{"a", "ghost"}, from, to)
	require.NoError(t, err)

	assert.Equal(t, 120, got["a"].HonestMinutes)
	assert.InDelta(t, 0.5, got["a"].CommitmentRate, 1e-9)
	assert.Equal(t, 1.0, got["a"].InterruptionFrequency)
	assert.Equal(t, Summary{UserID: "ghost"}, got["ghost"])
}

func TestAggregator_ComputeErrors(t *testing.T) {
	from, to := timeutil.WeekRange(week)

	_, err := NewAggregator(&fakeSessions{}, 0).Compute(context.Background(), []shared.UserID{"a"}, to, from)
	assert.True(t, shared.IsValidation(err))

	_, err = NewAggregator(&fakeSessions{err: errors.New("db down")}, 0).Compute(context.Background(), []shared.UserID{"a"}, from, to)
	assert.True(t, shared.IsCompute(err))
}
