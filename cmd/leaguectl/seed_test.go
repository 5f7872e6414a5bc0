package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/focus-league/internal/domain/league"
	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/internal/infrastructure/persistence/sqlite"
)

const fixtureYAML = `
members:
  - id: alice
    name: Alice
    public: true
    tier: 3
  - id: bob
goals:
  - user: alice
    goal: thesis
    weekly_hours: 5
    core: true
sessions:
  - id: s1
    user: alice
    goal: thesis
    start: 2024-03-13T12:00:00+05:00
    minutes: 45
    honest: true
  - user: bob
    start: 2024-03-13T15:00:00+05:00
    minutes: 30
    interruptions: 2
`

func TestParseFixture(t *testing.T) {
	f, err := parseFixture([]byte(fixtureYAML))
	require.NoError(t, err)

	require.Len(t, f.Members, 2)
	assert.Equal(t, 3, f.Members[0].Tier)
	require.Len(t, f.Sessions, 2)
	assert.Equal(t, 45, f.Sessions[0].Minutes)
	assert.Equal(t, time.Date(2024, 3, 13, 7, 0, 0, 0, time.UTC), f.Sessions[0].Start.UTC())
}

func TestParseFixture_Errors(t *testing.T) {
	cases := map[string]string{
		"bad yaml":       "members: [",
		"bad member id":  "members:\n  - id: \"\"\n",
		"tier too high":  "members:\n  - id: alice\n    tier: 11\n",
		"goal without":   "goals:\n  - user: alice\n",
		"session no usr": "sessions:\n  - start: 2024-03-13T12:00:00Z\n    minutes: 5\n",
		"negative mins":  "sessions:\n  - user: alice\n    start: 2024-03-13T12:00:00Z\n    minutes: -5\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseFixture([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestFixtureApply(t *testing.T) {
	db, err := sqlite.Open(sqlite.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	leagues := sqlite.NewLeagueStore(db)
	sessions := sqlite.NewSessionStore(db)
	ctx := context.Background()

	f, err := parseFixture([]byte(fixtureYAML))
	require.NoError(t, err)

	stats, err := f.Apply(ctx, leagues, sessions)
	require.NoError(t, err)
	assert.Equal(t, SeedStats{Members: 2, Enrolled: 2, Goals: 1, Sessions: 2}, stats)

	alice, err := leagues.GetMember(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, league.Tier(3), alice.Tier)
	assert.Equal(t, "Alice", alice.DisplayName)
	assert.True(t, alice.PublicName)

	bob, err := leagues.GetMember(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, league.MinTier, bob.Tier)

	from := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	to := from.Add(7 * 24 * time.Hour)
	got, err := sessions.ListSessions(ctx, []shared.UserID{"alice", "bob"}, from, to)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// second run keeps tiers and does not enroll again
	stats, err = f.Apply(ctx, leagues, sessions)
	require.NoError(t, err)
	assert.Zero(t, stats.Enrolled)
}
