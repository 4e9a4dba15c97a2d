package queue

import (
	"context"
	"testing"

	"github.com/chorus-party/matchmaking/internal/v1/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_JoinQueueThenRemoveByUidIsIdempotent(t *testing.T) {
	ctx := context.Background()
	q := New(store.NewMemoryStore())

	u := &User{UID: "alice", Gender: store.Female, JoinedAt: 100, Mode: ModeRandom}
	require.NoError(t, q.JoinQueue(ctx, u))

	members, err := q.Range(ctx, store.Female, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)

	require.NoError(t, q.RemoveByUID(ctx, "alice"))

	members, err = q.Range(ctx, store.Female, 0)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestStore_JoinQueueReplacesExistingEntry(t *testing.T) {
	ctx := context.Background()
	q := New(store.NewMemoryStore())

	first := &User{UID: "alice", Gender: store.Female, JoinedAt: 100, Mode: ModeRandom}
	require.NoError(t, q.JoinQueue(ctx, first))

	second := &User{UID: "alice", Gender: store.Male, JoinedAt: 200, Mode: ModeVideo}
	require.NoError(t, q.JoinQueue(ctx, second))

	femaleMembers, err := q.Range(ctx, store.Female, 0)
	require.NoError(t, err)
	assert.Empty(t, femaleMembers, "re-join must remove the prior partition entry")

	maleMembers, err := q.Range(ctx, store.Male, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, maleMembers)

	hydrated, ok, err := q.GetUser(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ModeVideo, hydrated.Mode)
}

func TestStore_RangeIsOldestFirst(t *testing.T) {
	ctx := context.Background()
	q := New(store.NewMemoryStore())

	require.NoError(t, q.JoinQueue(ctx, &User{UID: "b", Gender: store.Male, JoinedAt: 200}))
	require.NoError(t, q.JoinQueue(ctx, &User{UID: "a", Gender: store.Male, JoinedAt: 100}))
	require.NoError(t, q.JoinQueue(ctx, &User{UID: "c", Gender: store.Male, JoinedAt: 300}))

	members, err := q.Range(ctx, store.Male, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, members)
}

func TestStore_PartitionsAreDisjoint(t *testing.T) {
	ctx := context.Background()
	q := New(store.NewMemoryStore())

	require.NoError(t, q.JoinQueue(ctx, &User{UID: "alice", Gender: store.Female, JoinedAt: 1}))

	maleMembers, err := q.Range(ctx, store.Male, 0)
	require.NoError(t, err)
	assert.Empty(t, maleMembers)
}

func TestStore_RemoveBySocketHydratesToFindMatch(t *testing.T) {
	ctx := context.Background()
	q := New(store.NewMemoryStore())

	require.NoError(t, q.JoinQueue(ctx, &User{UID: "alice", SocketID: "sock-1", Gender: store.Female, JoinedAt: 1}))
	require.NoError(t, q.RemoveBySocket(ctx, "sock-1"))

	_, ok, err := q.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUser_ApplyTierFilter(t *testing.T) {
	cases := []struct {
		tier     Tier
		in       Preferences
		wantOut  Preferences
	}{
		{TierFree, Preferences{Gender: "male", Location: "US"}, Preferences{}},
		{TierGold, Preferences{Gender: "male", Location: "US"}, Preferences{Gender: "male"}},
		{TierDiamond, Preferences{Gender: "male", Location: "US"}, Preferences{Gender: "male", Location: "US"}},
	}
	for _, c := range cases {
		u := &User{Tier: c.tier, Preferences: c.in}
		u.ApplyTierFilter()
		assert.Equal(t, c.wantOut, u.Preferences, "tier %s", c.tier)
	}
}
