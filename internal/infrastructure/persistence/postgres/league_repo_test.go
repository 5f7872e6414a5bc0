package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/focus-league/internal/domain/badge"
	"github.com/alem-hub/focus-league/internal/domain/league"
	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

// testConn connects to TEST_DATABASE_URL (or DATABASE_URL) and applies the
// migrations. Tests are skipped when neither is set.
func testConn(t *testing.T) *Connection {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := NewConnection(ctx, url, DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	_, err = NewMigrator(conn).Migrate(ctx)
	require.NoError(t, err)
	return conn
}

// testUsers returns ids unique to this run and removes their rows afterwards.
func testUsers(t *testing.T, conn *Connection, n int) []shared.UserID {
	t.Helper()
	users := make([]shared.UserID, n)
	for i := range users {
		users[i] = shared.UserID("pgtest-" + uuid.NewString()[:8])
	}
	t.Cleanup(func() {
		ctx := context.Background()
		ids := userStrings(users)
		for _, table := range []string{"user_badges", "league_history", "league_memberships", "league_members"} {
			_, _ = conn.Exec(ctx, "DELETE FROM "+table+" WHERE user_id = ANY($1::text[])", ids)
		}
	})
	return users
}

func commitOf(week timeutil.Date, outcomes ...league.Outcome) league.CohortCommit {
	return league.CohortCommit{
		WeekStart:     week,
		NextWeekStart: week.AddDays(7),
		GroupID:       "pg-test",
		Outcomes:      outcomes,
		RecordedAt:    time.Now().UTC(),
	}
}

func TestLeagueRepository_ApplyCohortIsIdempotent(t *testing.T) {
	conn := testConn(t)
	repo := NewLeagueRepository(conn)
	ctx := context.Background()
	users := testUsers(t, conn, 2)
	week := timeutil.MustParseDate("2024-03-04")

	_, err := repo.EnrollMembers(ctx, users, 3)
	require.NoError(t, err)
	_, err = repo.SeatMemberships(ctx, []league.Membership{
		{UserID: users[0], WeekStart: week, Tier: 3, GroupID: "pg-test"},
		{UserID: users[1], WeekStart: week, Tier: 3, GroupID: "pg-test"},
	})
	require.NoError(t, err)

	c := commitOf(week,
		league.Outcome{UserID: users[0], GroupID: "pg-test", Rank: 1, HonestMinutes: 120, PrevTier: 3, NewTier: 4, Movement: league.MovementUp},
		league.Outcome{UserID: users[1], GroupID: "pg-test", Rank: 2, HonestMinutes: 0, PrevTier: 3, NewTier: 2, Movement: league.MovementDown},
	)

	first, err := repo.ApplyCohort(ctx, c)
	require.NoError(t, err)
	assert.Len(t, first.Applied, 2)
	assert.Empty(t, first.Skipped)
	assert.Empty(t, first.Stale)

	// Second run with different tiers must not touch the roster.
	c.Outcomes[0].NewTier = 9
	second, err := repo.ApplyCohort(ctx, c)
	require.NoError(t, err)
	assert.Empty(t, second.Applied)
	assert.ElementsMatch(t, users, second.Skipped)

	m, err := repo.GetMember(ctx, users[0])
	require.NoError(t, err)
	assert.Equal(t, league.Tier(4), m.Tier)

	seat, err := repo.GetMembership(ctx, users[1], week)
	require.NoError(t, err)
	assert.Equal(t, shared.Rank(2), seat.Rank)

	h, err := repo.GetHistoryEntry(ctx, users[0], week)
	require.NoError(t, err)
	assert.Equal(t, league.Tier(4), h.NewTier)
}

func TestLeagueRepository_ApplyCohortOutOfOrderWeekIsStale(t *testing.T) {
	conn := testConn(t)
	repo := NewLeagueRepository(conn)
	ctx := context.Background()
	users := testUsers(t, conn, 1)
	u := users[0]
	early, late := timeutil.MustParseDate("2024-03-04"), timeutil.MustParseDate("2024-03-11")

	_, err := repo.EnrollMembers(ctx, users, 9)
	require.NoError(t, err)

	res, err := repo.ApplyCohort(ctx, commitOf(late,
		league.Outcome{UserID: u, GroupID: "pg-test", Rank: 1, PrevTier: 9, NewTier: 10, Movement: league.MovementUp}))
	require.NoError(t, err)
	assert.Empty(t, res.Stale)

	res, err = repo.ApplyCohort(ctx, commitOf(early,
		league.Outcome{UserID: u, GroupID: "pg-test", Rank: 2, PrevTier: 9, NewTier: 8, Movement: league.MovementDown}))
	require.NoError(t, err)
	assert.Len(t, res.Applied, 1)
	assert.True(t, res.IsStale(u))

	m, err := repo.GetMember(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, league.MaxTier, m.Tier)

	h, err := repo.GetHistoryEntry(ctx, u, early)
	require.NoError(t, err)
	assert.Equal(t, league.Tier(8), h.NewTier)
}

func TestLeagueRepository_MaxTierIsNeverLowered(t *testing.T) {
	conn := testConn(t)
	repo := NewLeagueRepository(conn)
	ctx := context.Background()
	users := testUsers(t, conn, 1)
	u := users[0]
	hqc := false

	_, err := repo.EnrollMembers(ctx, users, league.MaxTier)
	require.NoError(t, err)

	res, err := repo.ApplyCohort(ctx, commitOf(timeutil.MustParseDate("2024-03-04"),
		league.Outcome{UserID: u, GroupID: "pg-test", Rank: 5, PrevTier: 10, NewTier: 9, Movement: league.MovementDown, HQC: &hqc}))
	require.NoError(t, err)
	assert.False(t, res.IsStale(u))

	m, err := repo.GetMember(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, league.MaxTier, m.Tier)
	assert.False(t, m.HQCStatus)
}

func TestLeagueRepository_ActivationAndUnseat(t *testing.T) {
	conn := testConn(t)
	repo := NewLeagueRepository(conn)
	ctx := context.Background()
	users := testUsers(t, conn, 2)
	week := timeutil.MustParseDate("2024-03-11")

	_, err := repo.EnrollMembers(ctx, users, 1)
	require.NoError(t, err)

	n, err := repo.SetMembersActive(ctx, users[:1], false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = repo.SetMembersActive(ctx, users[:1], false)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = repo.SeatMemberships(ctx, []league.Membership{
		{UserID: users[0], WeekStart: week, Tier: 1, GroupID: "pg-test"},
		{UserID: users[1], WeekStart: week, Tier: 1, GroupID: "pg-test"},
	})
	require.NoError(t, err)

	_, err = repo.ApplyCohort(ctx, commitOf(week,
		league.Outcome{UserID: users[1], GroupID: "pg-test", Rank: 1, PrevTier: 1, NewTier: 2, Movement: league.MovementUp}))
	require.NoError(t, err)

	// Closed seats stay put.
	n, err = repo.UnseatMemberships(ctx, week, users)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = repo.GetMembership(ctx, users[0], week)
	assert.ErrorIs(t, err, shared.ErrNotSeated)
	_, err = repo.GetMembership(ctx, users[1], week)
	assert.NoError(t, err)
}

func TestBadgeRepository_GrantConflictIsNotAnError(t *testing.T) {
	conn := testConn(t)
	leagues := NewLeagueRepository(conn)
	badges := NewBadgeRepository(conn)
	ctx := context.Background()
	users := testUsers(t, conn, 1)

	_, err := leagues.EnrollMembers(ctx, users, 1)
	require.NoError(t, err)
	require.NoError(t, badges.UpsertCatalog(ctx, []badge.Badge{{Code: "pg-test-gold", Name: "Gold"}}))
	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = conn.Exec(ctx, "DELETE FROM user_badges WHERE badge_code = $1", "pg-test-gold")
		_, _ = conn.Exec(ctx, "DELETE FROM badges WHERE code = $1", "pg-test-gold")
	})

	g := badge.Grant{UserID: users[0], BadgeCode: "pg-test-gold", GrantedAt: time.Now().UTC(),
		Reason: badge.Reason{Rule: "pg-test-gold", Kind: badge.KindTierReached, Observed: 3, Threshold: 3}}

	ok, err := badges.Grant(ctx, g)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = badges.Grant(ctx, g)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := badges.ListByUser(ctx, users[0])
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pg-test-gold", got[0].Badge.Code)
}
