package signal

import (
	"context"
	"testing"

	"github.com/chorus-party/matchmaking/internal/v1/protocol"
	"github.com/chorus-party/matchmaking/internal/v1/session"
	"github.com/chorus-party/matchmaking/internal/v1/socketreg"
	"github.com/chorus-party/matchmaking/internal/v1/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	entries map[string]*session.ActiveSession
}

func (f *fakeSessions) GetSession(_ context.Context, uid string) (*session.ActiveSession, bool, error) {
	e, ok := f.entries[uid]
	return e, ok, nil
}

type capturedFrame struct {
	socketID string
	event    string
	data     map[string]any
}

type fakeEmitter struct {
	frames []capturedFrame
}

func (f *fakeEmitter) Emit(_ context.Context, socketID, event string, payload any) error {
	f.frames = append(f.frames, capturedFrame{socketID: socketID, event: event, data: payload.(map[string]any)})
	return nil
}

func setup(t *testing.T) (*Router, *socketreg.Registry, *fakeSessions, *fakeEmitter) {
	t.Helper()
	s := store.NewMemoryStore()
	sockets := socketreg.New(s)
	sessions := &fakeSessions{entries: make(map[string]*session.ActiveSession)}
	emitter := &fakeEmitter{}
	return New(sockets, sessions, emitter), sockets, sessions, emitter
}

func TestRoute_PrefersExplicitTargetSocket(t *testing.T) {
	ctx := context.Background()
	r, sockets, sessions, emitter := setup(t)
	require.NoError(t, sockets.Register(ctx, "sock-bob", "bob"))
	sessions.entries["alice"] = &session.ActiveSession{OpponentUID: "carol"}
	require.NoError(t, sockets.Register(ctx, "sock-carol", "carol"))

	err := r.Route(ctx, "sock-alice", "alice", protocol.InOffer, protocol.SignalFrame{To: "sock-bob"}, map[string]any{"sdp": "..."})
	require.NoError(t, err)

	require.Len(t, emitter.frames, 1)
	assert.Equal(t, "sock-bob", emitter.frames[0].socketID)
	assert.Equal(t, "sock-alice", emitter.frames[0].data["from"])
	assert.Equal(t, "alice", emitter.frames[0].data["fromUid"])
}

func TestRoute_FallsBackToTargetUID(t *testing.T) {
	ctx := context.Background()
	r, sockets, _, emitter := setup(t)
	require.NoError(t, sockets.Register(ctx, "sock-bob", "bob"))

	err := r.Route(ctx, "sock-alice", "alice", protocol.InAnswer, protocol.SignalFrame{TargetUID: "bob"}, map[string]any{"sdp": "..."})
	require.NoError(t, err)

	require.Len(t, emitter.frames, 1)
	assert.Equal(t, "sock-bob", emitter.frames[0].socketID)
}

func TestRoute_FallsBackToSessionOpponent(t *testing.T) {
	ctx := context.Background()
	r, sockets, sessions, emitter := setup(t)
	require.NoError(t, sockets.Register(ctx, "sock-bob", "bob"))
	sessions.entries["alice"] = &session.ActiveSession{OpponentUID: "bob"}

	err := r.Route(ctx, "sock-alice", "alice", protocol.InIceCandidate, protocol.SignalFrame{}, map[string]any{"candidate": "..."})
	require.NoError(t, err)

	require.Len(t, emitter.frames, 1)
	assert.Equal(t, "sock-bob", emitter.frames[0].socketID)
}

func TestRoute_DropsLoopback(t *testing.T) {
	ctx := context.Background()
	r, sockets, _, emitter := setup(t)
	require.NoError(t, sockets.Register(ctx, "sock-alice", "alice"))

	err := r.Route(ctx, "sock-alice", "alice", protocol.InAnswer, protocol.SignalFrame{TargetUID: "alice"}, map[string]any{})
	require.NoError(t, err)
	assert.Empty(t, emitter.frames)
}

func TestRoute_DropsSilentlyWhenTargetOffline(t *testing.T) {
	ctx := context.Background()
	r, _, _, emitter := setup(t)

	err := r.Route(ctx, "sock-alice", "alice", protocol.InAnswer, protocol.SignalFrame{TargetUID: "ghost"}, map[string]any{})
	require.NoError(t, err)
	assert.Empty(t, emitter.frames)
}
