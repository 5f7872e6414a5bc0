// Package metrics turns raw focus sessions into per-user totals and ratios.
// Metrics are derived on every call and never stored.
package metrics

import (
	"time"

	"github.com/alem-hub/focus-league/internal/domain/session"
	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

// Totals are the raw sums for one user over one range.
type Totals struct {
	HonestMinutes int
	TotalMinutes  int
	Interruptions int
}

// Summary is Totals plus the derived ratios.
type Summary struct {
	UserID                shared.UserID `json:"user_id"`
	HonestMinutes         int           `json:"honest_minutes"`
	TotalMinutes          int           `json:"total_minutes"`
	Interruptions         int           `json:"interruptions"`
	TargetMinutes         int           `json:"target_minutes"`
	HonestyRatio          float64       `json:"honesty_ratio"`
	CommitmentRate        float64       `json:"commitment_rate"`
	InterruptionFrequency float64       `json:"interruption_frequency"`
}

// Aggregate sums sessions per user. Sessions outside [from, to] are ignored,
// and every requested user gets an entry even without sessions.
func Aggregate(users []shared.UserID, sessions []session.FocusSession, from, to time.Time) map[shared.UserID]Totals {
	out := make(map[shared.UserID]Totals, len(users))
	for _, u := range users {
		out[u] = Totals{}
	}
	for _, s := range sessions {
		if s.StartTime.Before(from) || s.StartTime.After(to) {
			continue
		}
		t, ok := out[s.UserID]
		if !ok {
			continue
		}
		t.TotalMinutes += s.DurationMinutes
		t.HonestMinutes += s.HonestMinutes()
		t.Interruptions += s.InterruptionCount
		out[s.UserID] = t
	}
	return out
}

// Summarize derives the ratios for one user.
//
//	honestyRatio          = honest / total, 2 decimals
//	commitmentRate        = min(1, honest / target), 0 without a target
//	interruptionFrequency = interruptions per focused hour, 2 decimals
func Summarize(user shared.UserID, t Totals, targetMinutes int) Summary {
	s := Summary{
		UserID:        user,
		HonestMinutes: t.HonestMinutes,
		TotalMinutes:  t.TotalMinutes,
		Interruptions: t.Interruptions,
		TargetMinutes: targetMinutes,
	}
	s.HonestyRatio = shared.Round2(shared.SafeRatio(float64(t.HonestMinutes), float64(t.TotalMinutes)))
	if targetMinutes > 0 {
		s.CommitmentRate = min(1, float64(t.HonestMinutes)/float64(targetMinutes))
	}
	s.InterruptionFrequency = shared.Round2(shared.SafeRatio(float64(t.Interruptions), float64(t.TotalMinutes)/60))
	return s
}

// TargetsByUser resolves the weekly commitment target of each user: the sum of
// core goal targets, or fallback when a user has none.
func TargetsByUser(users []shared.UserID, goals []session.GoalCommitment, fallback int) map[shared.UserID]int {
	byUser := make(map[shared.UserID][]session.GoalCommitment, len(users))
	for _, g := range goals {
		byUser[g.UserID] = append(byUser[g.UserID], g)
	}
	out := make(map[shared.UserID]int, len(users))
	for _, u := range users {
		target := session.CoreTargetMinutes(byUser[u])
		if target == 0 {
			target = fallback
		}
		out[u] = target
	}
	return out
}

// GoalWeekKey addresses one goal in one league week.
type GoalWeekKey struct {
	GoalID shared.GoalID
	Week   timeutil.Date
}

// HonestByGoalWeek buckets honest minutes by (goal, league week).
func HonestByGoalWeek(sessions []session.FocusSession, resolver *timeutil.WeekResolver) map[GoalWeekKey]int {
	out := make(map[GoalWeekKey]int)
	for _, s := range sessions {
		if !s.Honest {
			continue
		}
		key := GoalWeekKey{GoalID: s.GoalID, Week: resolver.WeekOf(s.StartTime)}
		out[key] += s.DurationMinutes
	}
	return out
}
