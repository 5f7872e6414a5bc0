// Package session contains the read model of focus sessions and goal commitments.
// Sessions and goals are owned by the tracking app; the league only reads them.
package session

import (
	"math"
	"time"

	"github.com/alem-hub/focus-league/internal/domain/shared"
)

// FocusSession is one completed focus block logged by a user.
type FocusSession struct {
	ID                string
	UserID            shared.UserID
	GoalID            shared.GoalID
	StartTime         time.Time
	DurationMinutes   int
	Honest            bool // user confirmed the block was actual focused work
	InterruptionCount int
}

// Validate checks the invariants a stored session must satisfy.
func (s FocusSession) Validate() error {
	if s.UserID.IsEmpty() {
		return shared.NewDomainError("session", "Validate", shared.ErrEmptyValue, "session user is required")
	}
	if s.StartTime.IsZero() {
		return shared.NewDomainError("session", "Validate", shared.ErrEmptyValue, "session start time is required")
	}
	if s.DurationMinutes < 0 || s.InterruptionCount < 0 {
		return shared.NewDomainError("session", "Validate", shared.ErrNegativeValue, "duration and interruptions must be non-negative")
	}
	return nil
}

// HonestMinutes returns the minutes that count toward league scoring.
func (s FocusSession) HonestMinutes() int {
	if !s.Honest {
		return 0
	}
	return s.DurationMinutes
}

// GoalCommitment is a weekly time target a user set for one goal.
type GoalCommitment struct {
	UserID            shared.UserID
	GoalID            shared.GoalID
	WeeklyHoursTarget float64
	IsCore            bool
}

// TargetMinutes converts the weekly hour target to whole minutes.
func (g GoalCommitment) TargetMinutes() int {
	if g.WeeklyHoursTarget <= 0 {
		return 0
	}
	return int(math.Round(g.WeeklyHoursTarget * 60))
}

// CoreTargetMinutes sums the targets of a user's core goals.
func CoreTargetMinutes(goals []GoalCommitment) int {
	total := 0
	for _, g := range goals {
		if g.IsCore {
			total += g.TargetMinutes()
		}
	}
	return total
}
