// Package badge contains declarative badge rules and the engine that evaluates
// them against one member's weekly facts.
package badge

import (
	"fmt"
	"time"

	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

// Badge is a catalog entry.
type Badge struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RuleKind selects the predicate of a rule.
type RuleKind string

const (
	KindTierReached   RuleKind = "tier_reached"   // new tier >= threshold
	KindMovement      RuleKind = "movement"       // movement equals Movement
	KindRankAtMost    RuleKind = "rank_at_most"   // 1 <= rank <= threshold
	KindHonestMinutes RuleKind = "honest_minutes" // weekly honest minutes >= threshold
	KindHonestyRatio  RuleKind = "honesty_ratio"  // ratio >= threshold with MinTotalMinutes logged
	KindStreak        RuleKind = "streak"         // streak weeks >= threshold
)

// Rule pairs a badge with a predicate over Facts.
type Rule struct {
	Badge           Badge
	Kind            RuleKind
	Threshold       float64
	Movement        string
	MinTotalMinutes int
}

// NewRule validates a rule definition.
func NewRule(b Badge, kind RuleKind, threshold float64, movement string, minTotal int) (Rule, error) {
	if b.Code == "" {
		return Rule{}, shared.WrapError("badge", "NewRule", shared.ErrInvalidInput, "badge code is required", shared.ErrInvalidCatalog)
	}
	r := Rule{Badge: b, Kind: kind, Threshold: threshold, Movement: movement, MinTotalMinutes: minTotal}
	switch kind {
	case KindTierReached, KindRankAtMost, KindHonestMinutes, KindStreak:
		if threshold <= 0 {
			return Rule{}, shared.NewDomainError("badge", "NewRule", shared.ErrInvalidInput,
				fmt.Sprintf("badge %s: threshold must be positive", b.Code))
		}
	case KindHonestyRatio:
		if threshold <= 0 || threshold > 1 {
			return Rule{}, shared.NewDomainError("badge", "NewRule", shared.ErrInvalidInput,
				fmt.Sprintf("badge %s: ratio threshold must be in (0, 1]", b.Code))
		}
	case KindMovement:
		if movement != "up" && movement != "down" && movement != "stay" {
			return Rule{}, shared.NewDomainError("badge", "NewRule", shared.ErrInvalidInput,
				fmt.Sprintf("badge %s: movement must be up, down or stay", b.Code))
		}
	default:
		return Rule{}, shared.WrapError("badge", "NewRule", shared.ErrInvalidInput,
			fmt.Sprintf("badge %s: kind %q", b.Code, kind), shared.ErrUnknownRuleKind)
	}
	return r, nil
}

// Facts is everything a rule may look at for one member and one closed week.
type Facts struct {
	UserID        shared.UserID
	WeekStart     timeutil.Date
	PrevTier      int
	Tier          int
	Rank          int
	Movement      string
	HonestMinutes int
	TotalMinutes  int
	HonestyRatio  float64
	Streak        int
}

// Reason is stored with every grant.
type Reason struct {
	Rule      string   `json:"rule"`
	Kind      RuleKind `json:"kind"`
	WeekStart string   `json:"week_start"`
	Observed  float64  `json:"observed"`
	Threshold float64  `json:"threshold,omitempty"`
	Movement  string   `json:"movement,omitempty"`
}

// Evaluate returns the reason and true when f satisfies the rule.
func (r Rule) Evaluate(f Facts) (Reason, bool) {
	reason := Reason{
		Rule:      r.Badge.Code,
		Kind:      r.Kind,
		WeekStart: f.WeekStart.String(),
		Threshold: r.Threshold,
	}
	var ok bool
	switch r.Kind {
	case KindTierReached:
		reason.Observed = float64(f.Tier)
		ok = reason.Observed >= r.Threshold
	case KindMovement:
		reason.Movement = r.Movement
		reason.Observed = float64(f.Rank)
		ok = f.Movement == r.Movement
	case KindRankAtMost:
		reason.Observed = float64(f.Rank)
		ok = f.Rank >= 1 && reason.Observed <= r.Threshold
	case KindHonestMinutes:
		reason.Observed = float64(f.HonestMinutes)
		ok = reason.Observed >= r.Threshold
	case KindHonestyRatio:
		reason.Observed = f.HonestyRatio
		ok = f.TotalMinutes >= r.MinTotalMinutes && f.TotalMinutes > 0 && f.HonestyRatio >= r.Threshold
	case KindStreak:
		reason.Observed = float64(f.Streak)
		ok = reason.Observed >= r.Threshold
	}
	return reason, ok
}

// Grant is one awarded badge.
type Grant struct {
	UserID    shared.UserID
	BadgeCode string
	GrantedAt time.Time
	Reason    Reason
}

// UserBadge is a grant joined with its catalog entry.
type UserBadge struct {
	Badge     Badge
	GrantedAt time.Time
	Reason    Reason
}
