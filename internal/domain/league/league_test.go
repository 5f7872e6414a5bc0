package league

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

var week = timeutil.MustParseDate("2024-03-11")

func users(n int) []shared.UserID {
	out := make([]shared.UserID, n)
	for i := range out {
		out[i] = shared.UserID(fmt.Sprintf("user-%03d", i))
	}
	return out
}

// scoresDescending gives user-000 the highest score, user-(n-1) the lowest.
func scoresDescending(n int) []Score {
	out := make([]Score, n)
	for i, u := range users(n) {
		out[i] = Score{UserID: u, HonestMinutes: 1000 - i*10}
	}
	return out
}

func TestTierApply(t *testing.T) {
	assert.Equal(t, Tier(4), Tier(3).Apply(MovementUp))
	assert.Equal(t, Tier(2), Tier(3).Apply(MovementDown))
	assert.Equal(t, Tier(3), Tier(3).Apply(MovementStay))
	assert.Equal(t, MinTier, MinTier.Apply(MovementDown))
	assert.Equal(t, MaxTier, Tier(9).Apply(MovementUp))
	assert.Equal(t, MaxTier, MaxTier.Apply(MovementDown))
	assert.Equal(t, MaxTier, MaxTier.Apply(MovementUp))

	_, err := NewTier(11)
	assert.True(t, shared.IsValidation(err))
	assert.Equal(t, "Honor", MaxTier.Name())
	assert.Len(t, AllTiers(), 10)
}

func TestComputeZones(t *testing.T) {
	tests := []struct {
		n       int
		upMax   int
		downMin int
	}{
		{1, 1, 2},
		{2, 1, 2},
		{3, 2, 3},
		{5, 3, 4},
		{6, 3, 4},
		{7, 4, 5},
		{8, 4, 5},
		{10, 4, 7},
		{20, 4, 17},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d", tt.n), func(t *testing.T) {
			z := ComputeZones(tt.n)
			assert.Equal(t, tt.upMax, z.UpMax)
			assert.Equal(t, tt.downMin, z.DownMin)
		})
	}
}

func TestRankCohort_DenseAndTieBrokenByUserID(t *testing.T) {
	scores := []Score{
		{UserID: "carol", HonestMinutes: 300},
		{UserID: "bob", HonestMinutes: 500},
		{UserID: "alice", HonestMinutes: 300},
		{UserID: "dave", HonestMinutes: 0},
	}

	got := RankCohort(scores)

	require.Len(t, got, 4)
	assert.Equal(t, shared.UserID("bob"), got[0].UserID)
	assert.Equal(t, shared.UserID("alice"), got[1].UserID)
	assert.Equal(t, shared.UserID("carol"), got[2].UserID)
	assert.Equal(t, shared.UserID("dave"), got[3].UserID)
	for i, st := range got {
		assert.Equal(t, shared.Rank(i+1), st.Rank)
	}
	// input untouched
	assert.Equal(t, shared.UserID("carol"), scores[0].UserID)
}

func TestResolveCohort_CohortOfTen(t *testing.T) {
	tiers := map[shared.UserID]Tier{}
	for _, u := range users(10) {
		tiers[u] = 5
	}

	got := DefaultPolicy().ResolveCohort("g", tiers, scoresDescending(10))

	require.Len(t, got, 10)
	for _, o := range got {
		switch r := o.Rank.Int(); {
		case r <= 4:
			assert.Equal(t, MovementUp, o.Movement, "rank %d", r)
			assert.Equal(t, Tier(6), o.NewTier)
		case r <= 6:
			assert.Equal(t, MovementStay, o.Movement, "rank %d", r)
			assert.Equal(t, Tier(5), o.NewTier)
		default:
			assert.Equal(t, MovementDown, o.Movement, "rank %d", r)
			assert.Equal(t, Tier(4), o.NewTier)
		}
		assert.Nil(t, o.HQC)
	}
}

func TestResolveCohort_CohortOfSix(t *testing.T) {
	tiers := map[shared.UserID]Tier{}
	for _, u := range users(6) {
		tiers[u] = 3
	}

	got := DefaultPolicy().ResolveCohort("g", tiers, scoresDescending(6))

	counts := map[Movement]int{}
	for _, o := range got {
		counts[o.Movement]++
		if o.Rank <= 3 {
			assert.Equal(t, MovementUp, o.Movement)
		} else {
			assert.Equal(t, MovementDown, o.Movement)
		}
	}
	assert.Equal(t, 3, counts[MovementUp])
	assert.Equal(t, 3, counts[MovementDown])
	assert.Zero(t, counts[MovementStay])
}

func TestResolveCohort_TierTenBottomZoneKeepsTier(t *testing.T) {
	tiers := map[shared.UserID]Tier{}
	for _, u := range users(10) {
		tiers[u] = MaxTier
	}
	scores := scoresDescending(10)
	// the last-ranked member still clears the HQC threshold
	scores[9].HonestMinutes = 650
	for i := 0; i < 9; i++ {
		scores[i].HonestMinutes = 2000 - i
	}
	policy := Policy{HQCThresholdMinutes: 600}

	got := policy.ResolveCohort("g", tiers, scores)
	last := got[9]

	assert.Equal(t, shared.Rank(10), last.Rank)
	assert.Equal(t, MovementDown, last.Movement)
	assert.Equal(t, MaxTier, last.NewTier)
	assert.False(t, last.TierChanged())
	require.NotNil(t, last.HQC)
	assert.True(t, *last.HQC)

	scores[9].HonestMinutes = 10
	got = policy.ResolveCohort("g", tiers, scores)
	require.NotNil(t, got[9].HQC)
	assert.False(t, *got[9].HQC)
	assert.Equal(t, MaxTier, got[9].NewTier)
}

func TestResolveCohort_PromotionIntoTierTenHasNoHQCYet(t *testing.T) {
	tiers := map[shared.UserID]Tier{"a": 9, "b": 9}
	got := DefaultPolicy().ResolveCohort("g", tiers, []Score{
		{UserID: "a", HonestMinutes: 900},
		{UserID: "b", HonestMinutes: 100},
	})

	assert.Equal(t, MaxTier, got[0].NewTier)
	assert.Nil(t, got[0].HQC)
	assert.Equal(t, Tier(8), got[1].NewTier)
}

func TestAssignCohorts_BalancedAndBounded(t *testing.T) {
	for _, n := range []int{1, 19, 20, 21, 41, 100} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			cohorts := AssignCohorts(week, 2, users(n), 20, "")

			total, minSize, maxSize := 0, n, 0
			seen := map[shared.UserID]bool{}
			for i, c := range cohorts {
				assert.Equal(t, FormatGroupID(week, 2, GroupPrefixRegular, i), c.GroupID)
				assert.LessOrEqual(t, c.Size(), 20)
				total += c.Size()
				minSize = min(minSize, c.Size())
				maxSize = max(maxSize, c.Size())
				for _, u := range c.Members {
					assert.False(t, seen[u], "user %s seated twice", u)
					seen[u] = true
				}
			}
			assert.Equal(t, n, total)
			assert.LessOrEqual(t, maxSize-minSize, 1)
			assert.Len(t, cohorts, (n+19)/20)
		})
	}
}

func TestAssignCohorts_Deterministic(t *testing.T) {
	in := users(45)
	reversed := make([]shared.UserID, len(in))
	for i, u := range in {
		reversed[len(in)-1-i] = u
	}

	a := AssignCohorts(week, 1, in, 20, "")
	b := AssignCohorts(week, 1, reversed, 20, "")
	assert.Equal(t, a, b)

	c := AssignCohorts(week.AddDays(7), 1, in, 20, "")
	assert.NotEqual(t, a[0].Members, c[0].Members)
}

func TestAssignCohorts_DeduplicatesAndLatePrefix(t *testing.T) {
	got := AssignCohorts(week, 7, []shared.UserID{"a", "b", "a"}, 20, GroupPrefixLate)

	require.Len(t, got, 1)
	assert.Equal(t, "2024-03-11/t07/x00", got[0].GroupID)
	assert.ElementsMatch(t, []shared.UserID{"a", "b"}, got[0].Members)
	assert.Nil(t, AssignCohorts(week, 1, nil, 20, ""))
}

func TestBuildBoard_MatchesCloseRanking(t *testing.T) {
	scores := scoresDescending(6)
	members := map[shared.UserID]Member{"user-000": {UserID: "user-000", DisplayName: "Ann", PublicName: true}}

	b := BuildBoard(week, "2024-03-11/t01/g00", MinTier, scores, members, time.Unix(0, 0))

	require.Len(t, b.Entries, 6)
	assert.Equal(t, shared.Rank(1), b.Entries[0].Rank)
	assert.Equal(t, "Ann", b.Entries[0].DisplayName)
	assert.Equal(t, MovementUp, b.Entries[2].Zone)
	assert.Equal(t, MovementDown, b.Entries[3].Zone)

	e, ok := b.Find("user-005")
	require.True(t, ok)
	assert.Equal(t, shared.Rank(6), e.Rank)
	_, ok = b.Find("nobody")
	assert.False(t, ok)
}
