package anonymizer

import (
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/pkg/timeutil"
)

var (
	week1 = timeutil.MustParseDate("2024-03-11")
	week2 = timeutil.MustParseDate("2024-03-18")
)

func newAnon(t *testing.T, secret string) *Anonymizer {
	t.Helper()
	a, err := New([]byte(secret), "")
	require.NoError(t, err)
	return a
}

func TestMaskedID_StableWithinWeek(t *testing.T) {
	a := newAnon(t, "s3cret")

	first := a.MaskedID("alice", week1)
	assert.Equal(t, first, a.MaskedID("alice", week1))
	assert.Equal(t, first, newAnon(t, "s3cret").MaskedID("alice", week1))
	assert.Equal(t, first, a.MyMaskedID("alice", week1))
}

func TestMaskedID_UnlinkableAcrossWeeksAndSecrets(t *testing.T) {
	a := newAnon(t, "s3cret")

	assert.NotEqual(t, a.MaskedID("alice", week1), a.MaskedID("alice", week2))
	assert.NotEqual(t, a.MaskedID("alice", week1), newAnon(t, "other").MaskedID("alice", week1))
}

func TestMaskedID_FormatAndNoLeak(t *testing.T) {
	a := newAnon(t, "s3cret")
	id := a.MaskedID("alice", week1)

	assert.Regexp(t, regexp.MustCompile(`^p-[a-z2-7]{13}$`), id)
	assert.NotContains(t, id, "alice")
}

func TestMaskedID_DistinctUsersDistinctIDs(t *testing.T) {
	a := newAnon(t, "s3cret")
	seen := map[string]shared.UserID{}
	for i := 0; i < 2000; i++ {
		u := shared.UserID(fmt.Sprintf("user-%d", i))
		id := a.MaskedID(u, week1)
		prev, dup := seen[id]
		require.False(t, dup, "collision between %s and %s", prev, u)
		seen[id] = u
	}
}

func TestMaskedID_KeyCacheEviction(t *testing.T) {
	a := newAnon(t, "s3cret")
	want := a.MaskedID("bob", week1)
	for i := 1; i <= 20; i++ {
		_ = a.MaskedID("bob", week1.AddDays(7*i))
	}
	assert.Equal(t, want, a.MaskedID("bob", week1))
}

func TestNew_RequiresSecret(t *testing.T) {
	_, err := New(nil, "")
	assert.ErrorIs(t, err, ErrEmptySecret)

	a, err := New([]byte("x"), "anon_")
	require.NoError(t, err)
	assert.Regexp(t, `^anon_`, a.MaskedID("u", week1))
}
