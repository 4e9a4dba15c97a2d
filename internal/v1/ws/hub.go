package ws

import (
	"context"
	"net/http"
	"sync"

	"github.com/chorus-party/matchmaking/internal/v1/auth"
	"github.com/chorus-party/matchmaking/internal/v1/bus"
	"github.com/chorus-party/matchmaking/internal/v1/logging"
	"github.com/chorus-party/matchmaking/internal/v1/metrics"
	"github.com/chorus-party/matchmaking/internal/v1/queue"
	"github.com/chorus-party/matchmaking/internal/v1/session"
	"github.com/chorus-party/matchmaking/internal/v1/socketreg"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub is the transport-level coordinator: it owns every socket connected to
// this replica and implements protocol.Emitter by delivering locally when
// possible, falling back to the Redis fan-out for sockets parked on a
// different replica.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	sockets    *socketreg.Registry
	queueStore *queue.Store
	sessions   *session.Registry
	bus        *bus.Service
	dispatcher *Dispatcher

	validator      auth.TokenValidator
	serverKey      string
	allowedOrigins []string
}

// NewHub creates a Hub. The domain components a Dispatcher routes to (the
// session registry, match engine, signal router) all take this Hub as
// their protocol.Emitter, so the Dispatcher itself can only be built once
// the Hub exists. Wire it with SetDispatcher before calling ServeWs.
func NewHub(sockets *socketreg.Registry, queueStore *queue.Store, sessions *session.Registry, busSvc *bus.Service, validator auth.TokenValidator, serverKey string, allowedOrigins []string) *Hub {
	return &Hub{
		clients:        make(map[string]*Client),
		sockets:        sockets,
		queueStore:     queueStore,
		sessions:       sessions,
		bus:            busSvc,
		validator:      validator,
		serverKey:      serverKey,
		allowedOrigins: allowedOrigins,
	}
}

// SetDispatcher wires the Dispatcher built from this Hub's emitter identity.
// It must be called once, before ServeWs starts accepting connections.
func (h *Hub) SetDispatcher(d *Dispatcher) {
	h.dispatcher = d
}

// SetSessions wires the session registry once it exists. Like
// SetDispatcher, this breaks the construction cycle: the registry takes
// this Hub as its emitter, so it can only be built after the Hub.
func (h *Hub) SetSessions(sessions *session.Registry) {
	h.sessions = sessions
}

var upgrader = websocket.Upgrader{
	WriteBufferPool: &sync.Pool{
		New: func() any { return make([]byte, 4096) },
	},
}

// ServeWs authenticates the handshake, upgrades the connection, registers
// the socket, and starts the client's read/write pumps.
func (h *Hub) ServeWs(c *gin.Context) {
	if err := validateOrigin(c.Request, h.allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	id, err := h.authenticate(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	upgrader.CheckOrigin = func(r *http.Request) bool {
		return validateOrigin(r, h.allowedOrigins) == nil
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "failed to upgrade connection", zap.Error(err))
		return
	}

	socketID := newSocketID()
	ctx := context.Background()
	if err := h.sockets.Register(ctx, socketID, id.uid); err != nil {
		logging.Error(ctx, "failed to register socket", zap.String("uid", id.uid), zap.Error(err))
		conn.Close()
		return
	}

	client := newClient(h, conn, socketID, id.uid, id.isAdmin)

	h.mu.Lock()
	h.clients[socketID] = client
	h.mu.Unlock()

	subCtx, cancel := context.WithCancel(context.Background())
	client.cancel = cancel
	h.bus.SubscribeSocket(subCtx, socketID, func(msg bus.PubSubPayload) {
		client.sendFrame(msg.Event, msg.Payload)
	})

	metrics.IncConnection()
	logging.Info(ctx, "client connected", zap.String("socket_id", socketID), zap.String("uid", id.uid), zap.Bool("is_admin", id.isAdmin))

	go client.writePump()
	go client.readPump()
}

// handleDisconnect tears down every trace of one connection: its socket
// registration, queue membership, and any active session, then unblocks its
// writePump. It is safe to call more than once for the same client.
func (h *Hub) handleDisconnect(c *Client) {
	ctx := context.Background()

	h.mu.Lock()
	_, present := h.clients[c.socketID]
	delete(h.clients, c.socketID)
	h.mu.Unlock()
	if !present {
		return
	}
	metrics.DecConnection()

	if c.cancel != nil {
		c.cancel()
	}

	if err := h.sockets.Unregister(ctx, c.socketID); err != nil {
		logging.Warn(ctx, "failed to unregister socket", zap.String("socket_id", c.socketID), zap.Error(err))
	}
	if err := h.queueStore.RemoveByUID(ctx, c.uid); err != nil {
		logging.Warn(ctx, "failed to remove disconnecting user from queue", zap.String("uid", c.uid), zap.Error(err))
	}
	if err := h.sessions.HandleDisconnect(ctx, c.uid); err != nil {
		logging.Warn(ctx, "failed to tear down session on disconnect", zap.String("uid", c.uid), zap.Error(err))
	}

	c.closeChannels()
	logging.Info(ctx, "client disconnected", zap.String("socket_id", c.socketID), zap.String("uid", c.uid))
}

// Emit implements protocol.Emitter: deliver locally if the socket is on
// this replica, otherwise fan out via Redis so whichever replica holds it
// can deliver. A socket that is neither local nor reachable via Redis (e.g.
// single-node mode and the uid is offline) is a silent no-op, matching the
// teacher's "best effort, never block on a missing peer" signaling stance.
func (h *Hub) Emit(ctx context.Context, socketID, event string, payload any) error {
	h.mu.RLock()
	client, ok := h.clients[socketID]
	h.mu.RUnlock()

	if ok {
		return client.sendFrame(event, payload)
	}

	return h.bus.EmitToSocket(ctx, socketID, event, payload, "")
}

// Shutdown closes every locally held connection so clients reconnect
// against a healthy replica rather than timing out.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
	logging.Info(ctx, "hub shutdown complete", zap.Int("closed_connections", len(clients)))
	return nil
}

// newSocketID mints a per-connection identifier independent of the
// authenticated uid, so one uid can hold at most one registry entry while
// still letting every connection attempt get a fresh socket row.
func newSocketID() string {
	return "sock-" + uuid.NewString()
}
