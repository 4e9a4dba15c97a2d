package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chorus-party/matchmaking/internal/v1/bangate"
	"github.com/chorus-party/matchmaking/internal/v1/ice"
	"github.com/chorus-party/matchmaking/internal/v1/logging"
	"github.com/chorus-party/matchmaking/internal/v1/protocol"
	"github.com/chorus-party/matchmaking/internal/v1/queue"
	"github.com/chorus-party/matchmaking/internal/v1/ratelimit"
	"github.com/chorus-party/matchmaking/internal/v1/session"
	"github.com/chorus-party/matchmaking/internal/v1/signal"
	"github.com/chorus-party/matchmaking/internal/v1/socketreg"
	"github.com/chorus-party/matchmaking/internal/v1/store"
	"go.uber.org/zap"
)

// Dispatcher decodes one inbound frame's opaque payload and routes it to
// the owning domain component. Payloads carry the waiter's gender,
// location, and tier directly (rather than through a separate
// profile-lookup step) since the user-profile/auth provider that would
// otherwise supply them is explicitly out of scope (spec §1).
type Dispatcher struct {
	sockets      *socketreg.Registry
	bans         *bangate.Gate
	queue        *queue.Store
	sessions     *session.Registry
	signalRouter *signal.Router
	minter       *ice.Minter
	emitter      protocol.Emitter
	rateLimiter  *ratelimit.RateLimiter
	now          func() time.Time
}

// NewDispatcher creates a Dispatcher. rateLimiter may be nil to skip
// per-uid join-queue throttling (e.g. in tests).
func NewDispatcher(sockets *socketreg.Registry, bans *bangate.Gate, q *queue.Store, sessions *session.Registry, signalRouter *signal.Router, minter *ice.Minter, emitter protocol.Emitter, rateLimiter *ratelimit.RateLimiter) *Dispatcher {
	return &Dispatcher{
		sockets: sockets, bans: bans, queue: q, sessions: sessions,
		signalRouter: signalRouter, minter: minter, emitter: emitter,
		rateLimiter: rateLimiter, now: time.Now,
	}
}

var signalEvents = map[string]bool{
	protocol.InOffer: true, protocol.InAnswer: true, protocol.InIceCandidate: true,
	protocol.InVideoOffer: true, protocol.InVideoAnswer: true, protocol.InVideoIce: true,
}

// Dispatch routes one decoded inbound frame to its handler.
func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, event string, data json.RawMessage) error {
	switch {
	case event == protocol.InJoinQueue:
		return d.handleJoinQueue(ctx, c, data)
	case event == protocol.InLeaveQueue:
		return d.queue.RemoveByUID(ctx, c.uid)
	case event == protocol.InSkipMatch:
		return d.sessions.HandleSkipMatch(ctx, c.socketID)
	case event == protocol.InConnectionStable:
		return d.handleConnectionStable(ctx, c, data)
	case event == protocol.InReconnect:
		return d.sessions.HandleReconnection(ctx, c.socketID, c.uid)
	case event == protocol.InGetIceServers:
		return d.handleGetIceServers(ctx, c)
	case signalEvents[event]:
		return d.handleSignal(ctx, c, event, data)
	case event == protocol.InSendInvite:
		return d.handleSendInvite(ctx, c, data)
	case event == protocol.InAcceptInvite:
		return d.handleAcceptInvite(ctx, c, data)
	case event == protocol.InRejectInvite:
		return d.handleRejectInvite(ctx, c, data)
	case event == protocol.InAdminKickUser, event == protocol.InAdminBanUser,
		event == protocol.InAdminUnbanUser, event == protocol.InAdminForceDisconnect:
		if !c.isAdmin {
			return d.emitter.Emit(ctx, c.socketID, protocol.OutError, protocol.ErrorPayload{Message: "admin only"})
		}
		return d.dispatchAdmin(ctx, c, event, data)
	default:
		logging.Warn(ctx, "unknown inbound event", zap.String("event", event))
		return d.emitter.Emit(ctx, c.socketID, protocol.OutError, protocol.ErrorPayload{Message: "unknown event: " + event})
	}
}

type joinQueueRequest struct {
	Mode        queue.Mode        `json:"mode"`
	Gender      store.Gender      `json:"gender"`
	Location    string            `json:"location,omitempty"`
	Tier        queue.Tier        `json:"tier,omitempty"`
	Preferences queue.Preferences `json:"preferences"`
}

func (d *Dispatcher) handleJoinQueue(ctx context.Context, c *Client, data json.RawMessage) error {
	entry, err := d.bans.IsBanned(ctx, c.uid)
	if err != nil {
		return err
	}
	if entry != nil {
		remainingMs, err := d.bans.GetRemainingBanTime(ctx, c.uid, d.now())
		if err != nil {
			return err
		}
		return d.emitter.Emit(ctx, c.socketID, protocol.OutBanned, protocol.Banned{
			Reason:           entry.Reason,
			RemainingMinutes: msToMinutes(remainingMs),
			Message:          "you are currently banned from matchmaking",
		})
	}

	if d.rateLimiter != nil {
		if err := d.rateLimiter.CheckJoinQueue(ctx, c.uid); err != nil {
			return d.emitter.Emit(ctx, c.socketID, protocol.OutError, protocol.ErrorPayload{Message: "too many join attempts, slow down"})
		}
	}

	var req joinQueueRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return d.emitter.Emit(ctx, c.socketID, protocol.OutError, protocol.ErrorPayload{Message: "malformed join_queue payload"})
	}

	u := &queue.User{
		UID:         c.uid,
		SocketID:    c.socketID,
		Gender:      req.Gender,
		Location:    req.Location,
		Tier:        req.Tier,
		Mode:        req.Mode,
		Preferences: req.Preferences,
		JoinedAt:    d.now().UnixMilli(),
	}
	u.ApplyTierFilter()

	return d.queue.JoinQueue(ctx, u)
}

// msToMinutes converts remaining ban time to whole minutes, rounding up so
// a ban that still has any time left never reports zero. -1 (permanent)
// passes through unchanged.
func msToMinutes(remainingMs int64) int64 {
	if remainingMs <= 0 {
		return remainingMs
	}
	return (remainingMs + 59999) / 60000
}

type connectionStableRequest struct {
	RoomID  string          `json:"roomId"`
	Service protocol.Service `json:"service"`
}

func (d *Dispatcher) handleConnectionStable(ctx context.Context, c *Client, data json.RawMessage) error {
	var req connectionStableRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return d.emitter.Emit(ctx, c.socketID, protocol.OutError, protocol.ErrorPayload{Message: "malformed connection_stable payload"})
	}
	return d.sessions.HandleConnectionStable(ctx, c.socketID, req.RoomID, req.Service)
}

func (d *Dispatcher) handleGetIceServers(ctx context.Context, c *Client) error {
	game, video := d.minter.Servers(c.uid, d.now())
	return d.emitter.Emit(ctx, c.socketID, protocol.OutIceServersConfig, protocol.IceServersConfig{
		IceServers: protocol.IceServers{Game: ice.ToProtocol(game), Video: ice.ToProtocol(video)},
	})
}

func (d *Dispatcher) handleSignal(ctx context.Context, c *Client, event string, data json.RawMessage) error {
	var frame protocol.SignalFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return d.emitter.Emit(ctx, c.socketID, protocol.OutError, protocol.ErrorPayload{Message: "malformed signal payload"})
	}

	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		body = map[string]any{}
	}

	return d.signalRouter.Route(ctx, c.socketID, c.uid, event, frame, body)
}
