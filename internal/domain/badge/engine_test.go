package badge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

func mustRule(t *testing.T, code string, kind RuleKind, threshold float64, movement string) Rule {
	t.Helper()
	r, err := NewRule(Badge{Code: code, Name: code}, kind, threshold, movement, 0)
	require.NoError(t, err)
	return r
}

func TestNewRule_Validation(t *testing.T) {
	_, err := NewRule(Badge{Code: "x"}, "bogus", 1, "", 0)
	assert.ErrorIs(t, err, shared.ErrUnknownRuleKind)

	_, err = NewRule(Badge{Code: "x"}, KindHonestyRatio, 1.5, "", 0)
	assert.True(t, shared.IsValidation(err))

	_, err = NewRule(Badge{Code: "x"}, KindMovement, 0, "sideways", 0)
	assert.True(t, shared.IsValidation(err))

	_, err = NewRule(Badge{}, KindStreak, 4, "", 0)
	assert.True(t, shared.IsValidation(err))
}

func TestEngine_Evaluate(t *testing.T) {
	engine, err := NewEngine([]Rule{
		mustRule(t, "honor", KindTierReached, 10, ""),
		mustRule(t, "climber", KindMovement, 0, "up"),
		mustRule(t, "podium", KindRankAtMost, 3, ""),
		mustRule(t, "marathon", KindHonestMinutes, 1200, ""),
		mustRule(t, "straight", KindHonestyRatio, 0.95, ""),
		mustRule(t, "four-weeks", KindStreak, 4, ""),
	})
	require.NoError(t, err)
	assert.True(t, engine.NeedsStreak())

	facts := Facts{
		UserID:        "u",
		WeekStart:     timeutil.MustParseDate("2024-03-11"),
		PrevTier:      9,
		Tier:          10,
		Rank:          2,
		Movement:      "up",
		HonestMinutes: 700,
		TotalMinutes:  720,
		HonestyRatio:  0.97,
		Streak:        3,
	}
	now := time.Date(2024, 3, 18, 0, 5, 0, 0, time.UTC)

	grants := engine.Evaluate(facts, now)

	codes := make([]string, 0, len(grants))
	for _, g := range grants {
		codes = append(codes, g.BadgeCode)
		assert.Equal(t, now, g.GrantedAt)
		assert.Equal(t, "2024-03-11", g.Reason.WeekStart)
	}
	assert.Equal(t, []string{"honor", "climber", "podium", "straight"}, codes)
	assert.Equal(t, 10.0, grants[0].Reason.Observed)
	assert.Equal(t, "up", grants[1].Reason.Movement)
}

func TestRule_RankZeroNeverMatches(t *testing.T) {
	r := mustRule(t, "podium", KindRankAtMost, 3, "")
	_, ok := r.Evaluate(Facts{Rank: 0})
	assert.False(t, ok)
}

func TestRule_HonestyRatioNeedsMinimumMinutes(t *testing.T) {
	r, err := NewRule(Badge{Code: "straight"}, KindHonestyRatio, 0.9, "", 300)
	require.NoError(t, err)

	_, ok := r.Evaluate(Facts{HonestyRatio: 1, TotalMinutes: 25})
	assert.False(t, ok)
	_, ok = r.Evaluate(Facts{HonestyRatio: 1, TotalMinutes: 300})
	assert.True(t, ok)
}

func TestNewEngine_DuplicateCodes(t *testing.T) {
	_, err := NewEngine([]Rule{
		mustRule(t, "a", KindStreak, 2, ""),
		mustRule(t, "a", KindStreak, 4, ""),
	})
	assert.ErrorIs(t, err, shared.ErrInvalidCatalog)
}
