package ws

import (
	"context"
	"testing"

	"github.com/chorus-party/matchmaking/internal/v1/protocol"
	"github.com/chorus-party/matchmaking/internal/v1/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHubWithFixture(f *dispatchFixture) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		sockets:    f.sockets,
		queueStore: f.queue,
		sessions:   f.sessions,
		dispatcher: f.dispatcher,
	}
}

func TestHub_Emit_DeliversLocallyWhenSocketIsOnThisReplica(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	hub := newTestHubWithFixture(f)
	conn := &fakeConn{}
	c := newClient(hub, conn, "sock-alice", "alice", false)
	hub.clients["sock-alice"] = c

	require.NoError(t, hub.Emit(ctx, "sock-alice", protocol.OutMatchFound, protocol.MatchFound{RoomID: "r1"}))
	assert.Len(t, c.prioritySend, 1)
}

func TestHub_Emit_FallsBackToBusWhenSocketNotLocal(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	hub := newTestHubWithFixture(f)

	// bus is nil (single-node mode); EmitToSocket on a nil *bus.Service is a
	// documented no-op rather than a nil-pointer panic.
	err := hub.Emit(ctx, "sock-not-local", protocol.OutMatchFound, protocol.MatchFound{RoomID: "r1"})
	assert.NoError(t, err)
}

func TestHub_HandleDisconnect_TearsDownQueueAndSocketRegistration(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	hub := newTestHubWithFixture(f)
	require.NoError(t, f.sockets.Register(ctx, "sock-alice", "alice"))
	require.NoError(t, f.queue.JoinQueue(ctx, &queue.User{UID: "alice", SocketID: "sock-alice", Mode: queue.ModeRandom}))

	conn := &fakeConn{}
	c := newClient(hub, conn, "sock-alice", "alice", false)
	hub.clients["sock-alice"] = c

	hub.handleDisconnect(c)

	_, present := hub.clients["sock-alice"]
	assert.False(t, present)

	_, queued, err := f.queue.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, queued)

	_, registered, err := f.sockets.LookupUID(ctx, "sock-alice")
	require.NoError(t, err)
	assert.False(t, registered)
}

func TestHub_HandleDisconnect_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	hub := newTestHubWithFixture(f)
	require.NoError(t, f.sockets.Register(ctx, "sock-alice", "alice"))

	conn := &fakeConn{}
	c := newClient(hub, conn, "sock-alice", "alice", false)
	hub.clients["sock-alice"] = c

	hub.handleDisconnect(c)
	assert.NotPanics(t, func() { hub.handleDisconnect(c) })
}

func TestHub_Shutdown_ClosesEveryLocalConnection(t *testing.T) {
	f := newDispatchFixture(t)
	hub := newTestHubWithFixture(f)
	connA := &fakeConn{}
	connB := &fakeConn{}
	hub.clients["sock-a"] = newClient(hub, connA, "sock-a", "alice", false)
	hub.clients["sock-b"] = newClient(hub, connB, "sock-b", "bob", false)

	require.NoError(t, hub.Shutdown(context.Background()))
	assert.True(t, connA.closed)
	assert.True(t, connB.closed)
}
