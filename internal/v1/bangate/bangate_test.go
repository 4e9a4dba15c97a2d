package bangate

import (
	"context"
	"testing"
	"time"

	"github.com/chorus-party/matchmaking/internal/v1/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_PermanentBanRoundTrip(t *testing.T) {
	ctx := context.Background()
	g := New(store.NewMemoryStore())
	now := time.Unix(0, 0)

	require.NoError(t, g.BanUser(ctx, "alice", "cheating", 0, now))

	entry, err := g.IsBanned(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(0), entry.ExpiresAt)

	remaining, err := g.GetRemainingBanTime(ctx, "alice", now)
	require.NoError(t, err)
	assert.EqualValues(t, -1, remaining)

	require.NoError(t, g.UnbanUser(ctx, "alice"))

	entry, err = g.IsBanned(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestGate_TemporaryBanRemainingTimeShrinks(t *testing.T) {
	ctx := context.Background()
	g := New(store.NewMemoryStore())
	now := time.Now()

	require.NoError(t, g.BanUser(ctx, "bob", "spam", 1, now))

	remaining, err := g.GetRemainingBanTime(ctx, "bob", now)
	require.NoError(t, err)
	assert.Greater(t, remaining, int64(0))

	entry, err := g.IsBanned(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, entry)

	time.Sleep(20 * time.Millisecond)
	// Still within the 1-minute TTL at the store layer; remaining shrinks.
	remaining2, err := g.GetRemainingBanTime(ctx, "bob", now.Add(20*time.Millisecond))
	require.NoError(t, err)
	assert.Less(t, remaining2, remaining)
}

func TestGate_NotBannedReturnsZero(t *testing.T) {
	ctx := context.Background()
	g := New(store.NewMemoryStore())

	remaining, err := g.GetRemainingBanTime(ctx, "nobody", time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 0, remaining)
}

func TestGate_GuestsBypassBans(t *testing.T) {
	ctx := context.Background()
	g := New(store.NewMemoryStore())
	now := time.Now()

	// Ban the raw key directly (simulating a stray entry); guest prefix
	// must still bypass on read since guests are never banned by uid.
	require.NoError(t, g.BanUser(ctx, "guest_42", "test", 0, now))

	entry, err := g.IsBanned(ctx, "guest_42")
	require.NoError(t, err)
	assert.Nil(t, entry, "guest uids bypass uid-keyed bans")
}
