package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/focus-league/internal/domain/accountability"
	"github.com/alem-hub/focus-league/internal/domain/badge"
	"github.com/alem-hub/focus-league/internal/domain/league"
	"github.com/alem-hub/focus-league/internal/domain/session"
	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

var (
	week = timeutil.MustParseDate("2024-03-11")
	next = timeutil.MustParseDate("2024-03-18")
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(Memory)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_MigratesSchema(t *testing.T) {
	db := openTestDB(t)

	v, err := Version(db)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)
}

func TestSessionStore_RangeIsInclusive(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore(openTestDB(t))
	from, to := timeutil.DefaultResolver.WeekRange(week)

	for i, st := range []time.Time{from.Add(-time.Millisecond), from, to, to.Add(time.Millisecond)} {
		require.NoError(t, s.SaveSession(ctx, session.FocusSession{
			ID: string(rune('a' + i)), UserID: "u1", GoalID: "g1", StartTime: st, DurationMinutes: 30, Honest: true,
		}))
	}

	got, err := s.ListSessions(ctx, []shared.UserID{"u1", "u2"}, from, to)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].StartTime.Equal(from))
	assert.True(t, got[1].StartTime.Equal(to))
	assert.True(t, got[0].Honest)

	users, err := s.ListActiveUsers(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, []shared.UserID{"u1"}, users)
}

func TestSessionStore_Goals(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore(openTestDB(t))

	require.NoError(t, s.SaveGoal(ctx, session.GoalCommitment{UserID: "u1", GoalID: "g1", WeeklyHoursTarget: 5, IsCore: true}))
	require.NoError(t, s.SaveGoal(ctx, session.GoalCommitment{UserID: "u1", GoalID: "g1", WeeklyHoursTarget: 8, IsCore: true}))

	goals, err := s.ListGoals(ctx, []shared.UserID{"u1"})
	require.NoError(t, err)
	require.Len(t, goals, 1)
	assert.Equal(t, 8.0, goals[0].WeeklyHoursTarget)
}

func seedCohort(t *testing.T, s *LeagueStore, users ...shared.UserID) {
	t.Helper()
	ctx := context.Background()
	_, err := s.EnrollMembers(ctx, users, league.MinTier)
	require.NoError(t, err)

	rows := make([]league.Membership, 0, len(users))
	for _, u := range users {
		rows = append(rows, league.Membership{UserID: u, WeekStart: week, Tier: league.MinTier, GroupID: "grp"})
	}
	n, err := s.SeatMemberships(ctx, rows)
	require.NoError(t, err)
	require.Equal(t, len(users), n)
}

func TestLeagueStore_SeatingIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	s := NewLeagueStore(openTestDB(t))
	seedCohort(t, s, "a", "b")

	n, err := s.SeatMemberships(ctx, []league.Membership{{UserID: "a", WeekStart: week, Tier: 3, GroupID: "other"}})
	require.NoError(t, err)
	assert.Zero(t, n)

	m, err := s.GetMembership(ctx, "a", week)
	require.NoError(t, err)
	assert.Equal(t, "grp", m.GroupID)
	assert.True(t, m.Rank.IsUnranked())

	_, err = s.GetMembership(ctx, "a", next)
	assert.ErrorIs(t, err, shared.ErrNotSeated)
}

func TestLeagueStore_ApplyCohortIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewLeagueStore(openTestDB(t))
	seedCohort(t, s, "a", "b")

	hqc := true
	commit := league.CohortCommit{
		WeekStart: week, NextWeekStart: next, GroupID: "grp", RecordedAt: time.Now(),
		Outcomes: []league.Outcome{
			{UserID: "a", GroupID: "grp", Rank: 1, HonestMinutes: 300, PrevTier: 1, NewTier: 2, Movement: league.MovementUp},
			{UserID: "b", GroupID: "grp", Rank: 2, HonestMinutes: 10, PrevTier: 1, NewTier: 1, Movement: league.MovementStay, HQC: &hqc},
		},
	}

	res, err := s.ApplyCohort(ctx, commit)
	require.NoError(t, err)
	assert.Len(t, res.Applied, 2)
	assert.Empty(t, res.Skipped)

	a, err := s.GetMember(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, league.Tier(2), a.Tier)
	assert.Equal(t, next, a.LastPromotionDate)

	b, err := s.GetMember(ctx, "b")
	require.NoError(t, err)
	assert.True(t, b.LastPromotionDate.IsZero())
	assert.True(t, b.HQCStatus)

	// a second run with different numbers changes nothing
	commit.Outcomes[0].NewTier = 3
	commit.Outcomes[0].Rank = 2
	res, err = s.ApplyCohort(ctx, commit)
	require.NoError(t, err)
	assert.Empty(t, res.Applied)
	assert.ElementsMatch(t, []shared.UserID{"a", "b"}, res.Skipped)

	a, err = s.GetMember(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, league.Tier(2), a.Tier)

	m, err := s.GetMembership(ctx, "a", week)
	require.NoError(t, err)
	assert.Equal(t, shared.Rank(1), m.Rank)

	h, err := s.GetHistoryEntry(ctx, "b", week)
	require.NoError(t, err)
	require.NotNil(t, h.HQCStatus)
	assert.True(t, *h.HQCStatus)

	closed, err := s.ListClosedUsers(ctx, week)
	require.NoError(t, err)
	assert.Equal(t, []shared.UserID{"a", "b"}, closed)
}

func TestLeagueStore_EarlierWeekLeavesRoster(t *testing.T) {
	ctx := context.Background()
	s := NewLeagueStore(openTestDB(t))
	_, err := s.EnrollMembers(ctx, []shared.UserID{"a"}, 9)
	require.NoError(t, err)

	_, err = s.ApplyCohort(ctx, league.CohortCommit{
		WeekStart: week, NextWeekStart: next, GroupID: "grp", RecordedAt: time.Now(),
		Outcomes: []league.Outcome{{UserID: "a", GroupID: "grp", Rank: 1, PrevTier: 9, NewTier: 10, Movement: league.MovementUp}},
	})
	require.NoError(t, err)

	prev := week.AddDays(-7)
	res, err := s.ApplyCohort(ctx, league.CohortCommit{
		WeekStart: prev, NextWeekStart: week, GroupID: "grp", RecordedAt: time.Now(),
		Outcomes: []league.Outcome{{UserID: "a", GroupID: "grp", Rank: 2, PrevTier: 9, NewTier: 8, Movement: league.MovementDown}},
	})
	require.NoError(t, err)
	assert.Len(t, res.Applied, 1)
	assert.True(t, res.IsStale("a"))

	a, err := s.GetMember(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, league.MaxTier, a.Tier)
	assert.Equal(t, next, a.LastPromotionDate)

	h, err := s.GetHistoryEntry(ctx, "a", prev)
	require.NoError(t, err)
	assert.Equal(t, league.Tier(8), h.NewTier)
}

func TestLeagueStore_TopTierIsNeverLowered(t *testing.T) {
	ctx := context.Background()
	s := NewLeagueStore(openTestDB(t))
	_, err := s.EnrollMembers(ctx, []shared.UserID{"a"}, league.MaxTier)
	require.NoError(t, err)

	res, err := s.ApplyCohort(ctx, league.CohortCommit{
		WeekStart: week, NextWeekStart: next, GroupID: "grp", RecordedAt: time.Now(),
		Outcomes: []league.Outcome{{UserID: "a", GroupID: "grp", Rank: 5, PrevTier: 10, NewTier: 9, Movement: league.MovementDown}},
	})
	require.NoError(t, err)
	assert.False(t, res.IsStale("a"))

	a, err := s.GetMember(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, league.MaxTier, a.Tier)
}

func TestLeagueStore_ActivationAndUnseat(t *testing.T) {
	ctx := context.Background()
	s := NewLeagueStore(openTestDB(t))
	seedCohort(t, s, "a", "b")

	n, err := s.SetMembersActive(ctx, []shared.UserID{"a"}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.SetMembersActive(ctx, []shared.UserID{"a"}, false)
	require.NoError(t, err)
	assert.Zero(t, n)

	roster, err := s.ListActiveMembers(ctx)
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, shared.UserID("b"), roster[0].UserID)

	_, err = s.ApplyCohort(ctx, league.CohortCommit{
		WeekStart: week, NextWeekStart: next, GroupID: "grp", RecordedAt: time.Now(),
		Outcomes: []league.Outcome{{UserID: "b", GroupID: "grp", Rank: 1, PrevTier: 1, NewTier: 2, Movement: league.MovementUp}},
	})
	require.NoError(t, err)

	// closed seats stay
	n, err = s.UnseatMemberships(ctx, week, []shared.UserID{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetMembership(ctx, "a", week)
	assert.ErrorIs(t, err, shared.ErrNotSeated)
	_, err = s.GetMembership(ctx, "b", week)
	assert.NoError(t, err)
}

func TestLeagueStore_HistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewLeagueStore(openTestDB(t))
	seedCohort(t, s, "a")

	for _, w := range []timeutil.Date{week, next} {
		_, err := s.ApplyCohort(ctx, league.CohortCommit{
			WeekStart: w, NextWeekStart: w.AddDays(7), GroupID: "grp", RecordedAt: time.Now(),
			Outcomes: []league.Outcome{{UserID: "a", GroupID: "grp", Rank: 1, PrevTier: 1, NewTier: 1, Movement: league.MovementStay}},
		})
		require.NoError(t, err)
	}

	hist, err := s.ListHistory(ctx, "a", shared.NewPagination(1, 10))
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, next, hist[0].WeekStart)
	assert.Nil(t, hist[0].HQCStatus)

	_, err = s.GetHistoryEntry(ctx, "a", next.AddDays(7))
	assert.True(t, shared.IsNotFound(err))
}

func TestLeagueStore_ProfileAndRoster(t *testing.T) {
	ctx := context.Background()
	s := NewLeagueStore(openTestDB(t))

	n, err := s.EnrollMembers(ctx, []shared.UserID{"a", "b", "a"}, league.MinTier)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.UpdateProfile(ctx, "a", "Alice", true))
	assert.ErrorIs(t, s.UpdateProfile(ctx, "zz", "Z", false), shared.ErrMemberNotFound)

	ms, err := s.GetMembers(ctx, []shared.UserID{"a", "missing"})
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, "Alice", ms["a"].Name())
	assert.True(t, ms["a"].PublicName)

	active, err := s.ListActiveMembers(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestBadgeStore_GrantOnce(t *testing.T) {
	ctx := context.Background()
	s := NewBadgeStore(openTestDB(t))
	require.NoError(t, s.UpsertCatalog(ctx, []badge.Badge{{Code: "gold-league", Name: "Gold"}}))

	g := badge.Grant{UserID: "a", BadgeCode: "gold-league", GrantedAt: time.Now(),
		Reason: badge.Reason{Rule: "gold-league", Kind: badge.KindTierReached, Observed: 3, Threshold: 3}}
	ok, err := s.Grant(ctx, g)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Grant(ctx, g)
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := s.ListByUser(ctx, "a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Gold", list[0].Badge.Name)
	assert.Equal(t, 3.0, list[0].Reason.Observed)
}

func TestRelationshipStore_Pair(t *testing.T) {
	ctx := context.Background()
	s := NewRelationshipStore(openTestDB(t))
	now := time.Now()

	ab := &accountability.Relationship{OwnerID: "a", PartnerID: "b", Status: accountability.StatusActive,
		Visibility: accountability.DefaultVisibility(), CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.Save(ctx, ab))

	gotAB, gotBA, err := s.GetPair(ctx, "a", "b")
	require.NoError(t, err)
	require.NotNil(t, gotAB)
	assert.Nil(t, gotBA)
	assert.True(t, gotAB.Visibility.NetMinutes)

	ab.Status = accountability.StatusRevoked
	require.NoError(t, s.Save(ctx, ab))
	r, err := s.Get(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, accountability.StatusRevoked, r.Status)

	_, err = s.Get(ctx, "b", "a")
	assert.ErrorIs(t, err, shared.ErrRelationshipNotFound)
	assert.ErrorIs(t, s.Save(ctx, &accountability.Relationship{OwnerID: "a", PartnerID: "a"}), shared.ErrSelfPartnership)
}
