package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/alem-hub/focus-league/internal/domain/accountability"
	"github.com/alem-hub/focus-league/internal/domain/shared"
	"github.com/alem-hub/focus-league/internal/infrastructure/persistence/sqlite"
)

func newRelationshipEnv(t *testing.T) (*RelationshipHandler, *sqlite.RelationshipStore, *eventRecorder) {
	t.Helper()
	db, err := sqlite.Open(sqlite.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := sqlite.NewRelationshipStore(db)
	events := &eventRecorder{}
	h := NewRelationshipHandler(store, events, nil)
	h.bcryptCost = bcrypt.MinCost
	return h, store, events
}

func TestRelationship_InviteAndAccept(t *testing.T) {
	h, store, events := newRelationshipEnv(t)
	ctx := context.Background()

	inv, err := h.Invite(ctx, InviteCommand{OwnerID: "alice", PartnerID: "bob"})
	require.NoError(t, err)
	assert.NotEmpty(t, inv.Token)
	assert.Equal(t, "pending", inv.Status)

	ab, err := store.Get(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, accountability.StatusPending, ab.Status)
	assert.NotEqual(t, inv.Token, ab.InviteTokenHash, "only the hash is stored")

	_, ba, err := store.GetPair(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Nil(t, ba)

	share := accountability.Visibility{NetMinutes: true, HonestyRatio: true}
	require.NoError(t, h.Accept(ctx, AcceptCommand{OwnerID: "alice", PartnerID: "bob", Token: inv.Token, Visibility: &share}))

	ab, ba, err = store.GetPair(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, accountability.IsMutual(ab, ba))
	assert.Empty(t, ab.InviteTokenHash)
	assert.Equal(t, share, ba.Visibility)
	assert.Equal(t, accountability.DefaultVisibility(), ab.Visibility)

	// accepting twice is harmless
	require.NoError(t, h.Accept(ctx, AcceptCommand{OwnerID: "alice", PartnerID: "bob", Token: "whatever"}))
	assert.Equal(t, 3, events.count(shared.EventRelationshipChanged))
}

func TestRelationship_InviteValidation(t *testing.T) {
	h, _, _ := newRelationshipEnv(t)
	ctx := context.Background()

	_, err := h.Invite(ctx, InviteCommand{OwnerID: "alice", PartnerID: "alice"})
	assert.ErrorIs(t, err, shared.ErrSelfPartnership)

	_, err = h.Invite(ctx, InviteCommand{OwnerID: "", PartnerID: "bob"})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Invite(ctx, InviteCommand{OwnerID: "alice", PartnerID: "bad id!"})
	assert.True(t, shared.IsValidation(err))
}

func TestRelationship_InviteActiveConflicts(t *testing.T) {
	h, _, _ := newRelationshipEnv(t)
	ctx := context.Background()

	inv, err := h.Invite(ctx, InviteCommand{OwnerID: "alice", PartnerID: "bob"})
	require.NoError(t, err)
	require.NoError(t, h.Accept(ctx, AcceptCommand{OwnerID: "alice", PartnerID: "bob", Token: inv.Token}))

	_, err = h.Invite(ctx, InviteCommand{OwnerID: "alice", PartnerID: "bob"})
	assert.True(t, shared.IsAlreadyExists(err))
}

func TestRelationship_ReinviteReplacesToken(t *testing.T) {
	h, _, _ := newRelationshipEnv(t)
	ctx := context.Background()

	first, err := h.Invite(ctx, InviteCommand{OwnerID: "alice", PartnerID: "bob"})
	require.NoError(t, err)
	second, err := h.Invite(ctx, InviteCommand{OwnerID: "alice", PartnerID: "bob"})
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)

	err = h.Accept(ctx, AcceptCommand{OwnerID: "alice", PartnerID: "bob", Token: first.Token})
	assert.ErrorIs(t, err, shared.ErrInvalidInviteToken)
	require.NoError(t, h.Accept(ctx, AcceptCommand{OwnerID: "alice", PartnerID: "bob", Token: second.Token}))
}

func TestRelationship_AcceptErrors(t *testing.T) {
	h, store, _ := newRelationshipEnv(t)
	ctx := context.Background()

	err := h.Accept(ctx, AcceptCommand{OwnerID: "alice", PartnerID: "bob", Token: "t"})
	assert.ErrorIs(t, err, shared.ErrRelationshipNotFound)

	_, err = h.Invite(ctx, InviteCommand{OwnerID: "alice", PartnerID: "bob"})
	require.NoError(t, err)

	err = h.Accept(ctx, AcceptCommand{OwnerID: "alice", PartnerID: "bob", Token: "wrong"})
	assert.ErrorIs(t, err, shared.ErrInvalidInviteToken)
	assert.True(t, shared.IsAuthorization(err))

	_, ba, err := store.GetPair(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Nil(t, ba, "a bad token writes nothing")

	require.NoError(t, h.Revoke(ctx, RevokeCommand{OwnerID: "alice", PartnerID: "bob"}))
	err = h.Accept(ctx, AcceptCommand{OwnerID: "alice", PartnerID: "bob", Token: "wrong"})
	assert.ErrorIs(t, err, shared.ErrRelationshipRevoked)
}

func TestRelationship_RevokeIsOneSided(t *testing.T) {
	h, store, _ := newRelationshipEnv(t)
	ctx := context.Background()

	inv, err := h.Invite(ctx, InviteCommand{OwnerID: "alice", PartnerID: "bob"})
	require.NoError(t, err)
	require.NoError(t, h.Accept(ctx, AcceptCommand{OwnerID: "alice", PartnerID: "bob", Token: inv.Token}))

	require.NoError(t, h.Revoke(ctx, RevokeCommand{OwnerID: "bob", PartnerID: "alice"}))
	require.NoError(t, h.Revoke(ctx, RevokeCommand{OwnerID: "bob", PartnerID: "alice"}))

	ab, ba, err := store.GetPair(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, accountability.StatusActive, ab.Status)
	assert.Equal(t, accountability.StatusRevoked, ba.Status)
	assert.False(t, accountability.IsMutual(ab, ba))

	err = h.Revoke(ctx, RevokeCommand{OwnerID: "carol", PartnerID: "alice"})
	assert.ErrorIs(t, err, shared.ErrRelationshipNotFound)
}

func TestRelationship_UpdateVisibility(t *testing.T) {
	h, store, _ := newRelationshipEnv(t)
	ctx := context.Background()

	err := h.UpdateVisibility(ctx, UpdateVisibilityCommand{OwnerID: "alice", PartnerID: "bob"})
	assert.ErrorIs(t, err, shared.ErrRelationshipNotFound)

	_, err = h.Invite(ctx, InviteCommand{OwnerID: "alice", PartnerID: "bob"})
	require.NoError(t, err)

	all := accountability.Visibility{NetMinutes: true, TotalMinutes: true, HonestyRatio: true, InterruptionFrequency: true, CommitmentRate: true}
	require.NoError(t, h.UpdateVisibility(ctx, UpdateVisibilityCommand{OwnerID: "alice", PartnerID: "bob", Visibility: all}))

	ab, err := store.Get(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, all, ab.Visibility)
	assert.Equal(t, accountability.StatusPending, ab.Status)
}
