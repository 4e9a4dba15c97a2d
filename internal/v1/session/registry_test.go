package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chorus-party/matchmaking/internal/v1/ice"
	"github.com/chorus-party/matchmaking/internal/v1/protocol"
	"github.com/chorus-party/matchmaking/internal/v1/queue"
	"github.com/chorus-party/matchmaking/internal/v1/socketreg"
	"github.com/chorus-party/matchmaking/internal/v1/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmitter records every emitted frame for assertions instead of
// touching a real transport, mirroring the "push the transport-level emit
// to a side-effect boundary so it is unit-testable" design note (spec §9).
type fakeEmitter struct {
	mu     sync.Mutex
	frames []frame
}

type frame struct {
	socketID string
	event    string
	payload  any
}

func (f *fakeEmitter) Emit(_ context.Context, socketID, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame{socketID: socketID, event: event, payload: payload})
	return nil
}

func (f *fakeEmitter) eventsTo(socketID string) []frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []frame
	for _, fr := range f.frames {
		if fr.socketID == socketID {
			out = append(out, fr)
		}
	}
	return out
}

func newTestRegistry(t *testing.T) (*Registry, *socketreg.Registry, *fakeEmitter) {
	t.Helper()
	s := store.NewMemoryStore()
	sockets := socketreg.New(s)
	emitter := &fakeEmitter{}
	minter := ice.New(ice.Config{StunURLs: []string{"stun:stun.example.com"}})
	reg := New(s, sockets, minter, emitter, nil)
	return reg, sockets, emitter
}

func TestExecuteMatch_EmitsMatchFoundToBothSidesWithReciprocalRoles(t *testing.T) {
	ctx := context.Background()
	reg, sockets, emitter := newTestRegistry(t)

	require.NoError(t, sockets.Register(ctx, "sock-alice", "alice"))
	require.NoError(t, sockets.Register(ctx, "sock-bob", "bob"))

	alice := &queue.User{UID: "alice", SocketID: "sock-alice", Mode: queue.ModeRandom}
	bob := &queue.User{UID: "bob", SocketID: "sock-bob", Mode: queue.ModeRandom}

	require.NoError(t, reg.ExecuteMatch(ctx, alice, bob))

	aliceFrames := emitter.eventsTo("sock-alice")
	require.Len(t, aliceFrames, 1)
	aliceMatch := aliceFrames[0].payload.(protocol.MatchFound)
	assert.Equal(t, protocol.RoleA, aliceMatch.Role)
	assert.True(t, aliceMatch.IsInitiator)
	assert.Equal(t, "bob", aliceMatch.OpponentUID)
	assert.Equal(t, "sock-bob", aliceMatch.OpponentID)

	bobFrames := emitter.eventsTo("sock-bob")
	require.Len(t, bobFrames, 1)
	bobMatch := bobFrames[0].payload.(protocol.MatchFound)
	assert.Equal(t, protocol.RoleB, bobMatch.Role)
	assert.False(t, bobMatch.IsInitiator)
	assert.Equal(t, "alice", bobMatch.OpponentUID)
}

func TestExecuteMatch_AbortsSilentlyWhenPeerOffline(t *testing.T) {
	ctx := context.Background()
	reg, sockets, emitter := newTestRegistry(t)

	require.NoError(t, sockets.Register(ctx, "sock-eve", "eve"))
	// frank never registered a socket (already disconnected).

	eve := &queue.User{UID: "eve", Mode: queue.ModeRandom}
	frank := &queue.User{UID: "frank", Mode: queue.ModeRandom}

	require.NoError(t, reg.ExecuteMatch(ctx, eve, frank))
	assert.Empty(t, emitter.frames, "no match_found should be emitted when a side is offline")
}

func TestHandleConnectionStable_FinalizesOnlyWhenAllServicesReady(t *testing.T) {
	ctx := context.Background()
	reg, sockets, emitter := newTestRegistry(t)

	require.NoError(t, sockets.Register(ctx, "sock-hank", "hank"))
	require.NoError(t, sockets.Register(ctx, "sock-ivy", "ivy"))

	hank := &queue.User{UID: "hank", Mode: queue.ModeVideo}
	ivy := &queue.User{UID: "ivy", Mode: queue.ModeVideo}
	require.NoError(t, reg.ExecuteMatch(ctx, hank, ivy))

	aliceFrames := emitter.eventsTo("sock-hank")
	require.Len(t, aliceFrames, 1)
	roomID := aliceFrames[0].payload.(protocol.MatchFound).RoomID

	// mode=video -> expectedServices={video} only, per REDESIGN FLAGS.
	require.NoError(t, reg.HandleConnectionStable(ctx, "sock-hank", roomID, protocol.ServiceVideo))

	established := emitter.eventsTo("sock-hank")
	require.Len(t, established, 2, "video ready alone must finalize a video-mode room")
	assert.Equal(t, protocol.OutSessionEstablished, established[1].event)

	establishedIvy := emitter.eventsTo("sock-ivy")
	require.Len(t, establishedIvy, 2)
	assert.Equal(t, protocol.OutSessionEstablished, establishedIvy[1].event)

	entry, ok, err := reg.GetSession(ctx, "hank")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ivy", entry.OpponentUID)
}

func TestHandleReconnection_ActiveSessionEmitsToRejoinerAndOpponent(t *testing.T) {
	ctx := context.Background()
	reg, sockets, emitter := newTestRegistry(t)

	require.NoError(t, sockets.Register(ctx, "sock-jack-old", "jack"))
	require.NoError(t, sockets.Register(ctx, "sock-kate", "kate"))

	jack := &queue.User{UID: "jack", Mode: queue.ModeRandom}
	kate := &queue.User{UID: "kate", Mode: queue.ModeRandom}
	require.NoError(t, reg.ExecuteMatch(ctx, jack, kate))

	roomID := emitter.eventsTo("sock-jack-old")[0].payload.(protocol.MatchFound).RoomID
	require.NoError(t, reg.HandleConnectionStable(ctx, "sock-jack-old", roomID, protocol.ServiceGame))
	require.NoError(t, reg.HandleConnectionStable(ctx, "sock-kate", roomID, protocol.ServiceGame))

	// jack's old tab drops, a new tab reconnects under the same uid.
	require.NoError(t, sockets.Unregister(ctx, "sock-jack-old"))
	require.NoError(t, sockets.Register(ctx, "sock-jack-new", "jack"))

	require.NoError(t, reg.HandleReconnection(ctx, "sock-jack-new", "jack"))

	jackFrames := emitter.eventsTo("sock-jack-new")
	require.Len(t, jackFrames, 1)
	jackMatch := jackFrames[0].payload.(protocol.MatchFound)
	assert.True(t, jackMatch.IsReconnection)
	assert.Equal(t, "kate", jackMatch.OpponentUID)
	assert.Equal(t, "sock-kate", jackMatch.OpponentID)

	kateFrames := emitter.eventsTo("sock-kate")
	last := kateFrames[len(kateFrames)-1]
	assert.Equal(t, protocol.OutOpponentReconnected, last.event)
	assert.Equal(t, "sock-jack-new", last.payload.(protocol.OpponentReconnected).OpponentSocketID)
}

func TestHandleSkipMatch_TearsDownBothSessionsAndNotifiesBoth(t *testing.T) {
	ctx := context.Background()
	reg, sockets, emitter := newTestRegistry(t)

	require.NoError(t, sockets.Register(ctx, "sock-a", "a"))
	require.NoError(t, sockets.Register(ctx, "sock-b", "b"))
	a := &queue.User{UID: "a", Mode: queue.ModeRandom}
	b := &queue.User{UID: "b", Mode: queue.ModeRandom}
	require.NoError(t, reg.ExecuteMatch(ctx, a, b))
	roomID := emitter.eventsTo("sock-a")[0].payload.(protocol.MatchFound).RoomID
	require.NoError(t, reg.HandleConnectionStable(ctx, "sock-a", roomID, protocol.ServiceGame))
	require.NoError(t, reg.HandleConnectionStable(ctx, "sock-b", roomID, protocol.ServiceGame))

	require.NoError(t, reg.HandleSkipMatch(ctx, "sock-a"))

	_, ok, err := reg.GetSession(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = reg.GetSession(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok)

	lastA := emitter.eventsTo("sock-a")
	assert.Equal(t, protocol.OutMatchSkipped, lastA[len(lastA)-1].event)
	lastB := emitter.eventsTo("sock-b")
	assert.Equal(t, protocol.OutMatchSkipped, lastB[len(lastB)-1].event)
}

func TestReapExpiredRooms_EmitsMatchErrorAfterTimeout(t *testing.T) {
	ctx := context.Background()
	reg, sockets, emitter := newTestRegistry(t)

	fixedNow := time.Now()
	reg.now = func() time.Time { return fixedNow }

	require.NoError(t, sockets.Register(ctx, "sock-a", "a"))
	require.NoError(t, sockets.Register(ctx, "sock-b", "b"))
	a := &queue.User{UID: "a", Mode: queue.ModeRandom}
	b := &queue.User{UID: "b", Mode: queue.ModeRandom}
	require.NoError(t, reg.ExecuteMatch(ctx, a, b))

	// Not yet expired.
	reg.now = func() time.Time { return fixedNow.Add(29 * time.Second) }
	require.NoError(t, reg.ReapExpiredRooms(ctx))
	assert.Len(t, emitter.eventsTo("sock-a"), 1, "no reap before 30s")

	reg.now = func() time.Time { return fixedNow.Add(31 * time.Second) }
	require.NoError(t, reg.ReapExpiredRooms(ctx))

	framesA := emitter.eventsTo("sock-a")
	assert.Equal(t, protocol.OutMatchError, framesA[len(framesA)-1].event)
}
