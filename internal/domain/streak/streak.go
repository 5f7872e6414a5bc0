// Package streak evaluates consecutive weeks in which every core goal met its target.
package streak

import (
	"sort"

	"github.com/alem-hub/focus-league/internal/domain/metrics"
	"github.com/alem-hub/focus-league/internal/domain/session"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

// DefaultLookbackWeeks bounds how far back a streak is counted.
const DefaultLookbackWeeks = 16

// GoalProgress is one core goal in one week.
type GoalProgress struct {
	GoalID        string `json:"goal_id"`
	HonestMinutes int    `json:"honest_minutes"`
	TargetMinutes int    `json:"target_minutes"`
	Met           bool   `json:"met"`
}

// WeekStatus is the conjunction result of one week.
type WeekStatus struct {
	WeekStart timeutil.Date  `json:"week_start"`
	Met       bool           `json:"met"`
	Goals     []GoalProgress `json:"goals"`
}

// Result is the streak as of LatestWeek.
type Result struct {
	Streak           int           `json:"streak"`
	AchievedThisWeek bool          `json:"achieved_this_week"`
	LatestWeek       timeutil.Date `json:"latest_week"`
	Weeks            []WeekStatus  `json:"weeks"` // oldest first
}

// Evaluate computes the streak ending at latest. honest holds honest minutes per
// (goal, week). Only core goals with a positive target take part; a week counts
// only when all of them are met. Without such goals the streak is zero.
func Evaluate(latest timeutil.Date, lookback int, goals []session.GoalCommitment, honest map[metrics.GoalWeekKey]int) Result {
	if lookback <= 0 {
		lookback = DefaultLookbackWeeks
	}
	res := Result{LatestWeek: latest}

	core := make([]session.GoalCommitment, 0, len(goals))
	for _, g := range goals {
		if g.IsCore && g.TargetMinutes() > 0 {
			core = append(core, g)
		}
	}
	if len(core) == 0 {
		return res
	}
	sort.Slice(core, func(i, j int) bool { return core[i].GoalID < core[j].GoalID })

	res.Weeks = make([]WeekStatus, lookback)
	for i := 0; i < lookback; i++ {
		wk := latest.AddDays(-timeutil.DaysPerWeek * (lookback - 1 - i))
		status := WeekStatus{WeekStart: wk, Met: true, Goals: make([]GoalProgress, 0, len(core))}
		for _, g := range core {
			got := honest[metrics.GoalWeekKey{GoalID: g.GoalID, Week: wk}]
			gp := GoalProgress{
				GoalID:        g.GoalID.String(),
				HonestMinutes: got,
				TargetMinutes: g.TargetMinutes(),
				Met:           got >= g.TargetMinutes(),
			}
			status.Met = status.Met && gp.Met
			status.Goals = append(status.Goals, gp)
		}
		res.Weeks[i] = status
	}

	res.AchievedThisWeek = res.Weeks[lookback-1].Met
	for i := lookback - 1; i >= 0 && res.Weeks[i].Met; i-- {
		res.Streak++
	}
	return res
}
