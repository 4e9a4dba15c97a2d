package session

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/chorus-party/matchmaking/internal/v1/ice"
	"github.com/chorus-party/matchmaking/internal/v1/logging"
	"github.com/chorus-party/matchmaking/internal/v1/metrics"
	"github.com/chorus-party/matchmaking/internal/v1/protocol"
	"github.com/chorus-party/matchmaking/internal/v1/queue"
	"github.com/chorus-party/matchmaking/internal/v1/socketreg"
	"github.com/chorus-party/matchmaking/internal/v1/store"
	"go.uber.org/zap"
)

// roomTTL is the crash-safety TTL on a persisted PendingRoom (spec §3).
const roomTTL = 5 * time.Minute

// HandshakeTimeout is how long a PendingRoom may sit unfinalized before the
// reaper tears it down with match_error (spec §3/§5).
const HandshakeTimeout = 30 * time.Second

// AnalyticsSink is the one-way sink for match lifecycle events (spec §1
// "Analytics logging is a one-way sink").
type AnalyticsSink interface {
	RecordMatchStart(ctx context.Context, roomID, uidA, uidB string, mode queue.Mode)
	RecordMatchEnd(ctx context.Context, roomID, uid, opponentUID, reason string)
}

// NoopAnalytics discards every event; used when no sink is configured.
type NoopAnalytics struct{}

func (NoopAnalytics) RecordMatchStart(context.Context, string, string, string, queue.Mode) {}
func (NoopAnalytics) RecordMatchEnd(context.Context, string, string, string, string)        {}

// Registry is the Session Registry.
type Registry struct {
	store     store.Store
	sockets   *socketreg.Registry
	minter    *ice.Minter
	emitter   protocol.Emitter
	analytics AnalyticsSink
	now       func() time.Time
}

// New creates a Session Registry.
func New(s store.Store, sockets *socketreg.Registry, minter *ice.Minter, emitter protocol.Emitter, analytics AnalyticsSink) *Registry {
	if analytics == nil {
		analytics = NoopAnalytics{}
	}
	return &Registry{
		store:     s,
		sockets:   sockets,
		minter:    minter,
		emitter:   emitter,
		analytics: analytics,
		now:       time.Now,
	}
}

func newRoomID(now time.Time) string {
	return fmt.Sprintf("%d-%06d", now.UnixMilli(), rand.Intn(1_000_000))
}

// ExecuteMatch is spec §4.6 executeMatch: re-resolves both sides' current
// socket ids, aborts silently if either went offline between selection and
// here, otherwise creates a PendingRoom and emits match_found to both.
func (r *Registry) ExecuteMatch(ctx context.Context, a, b *queue.User) error {
	socketA, okA, err := r.sockets.Lookup(ctx, a.UID)
	if err != nil {
		return err
	}
	socketB, okB, err := r.sockets.Lookup(ctx, b.UID)
	if err != nil {
		return err
	}
	if !okA || !okB {
		logging.Warn(ctx, "executeMatch aborted: a party went offline", zap.String("uidA", a.UID), zap.String("uidB", b.UID), zap.Bool("a_online", okA), zap.Bool("b_online", okB))
		return nil
	}

	room := &PendingRoom{
		RoomID:           newRoomID(r.now()),
		PlayerA:          Party{UID: a.UID, SocketID: socketA},
		PlayerB:          Party{UID: b.UID, SocketID: socketB},
		Mode:             a.Mode,
		ExpectedServices: ExpectedServicesForMode(a.Mode),
		Ready:            make(map[protocol.Service]bool),
		CreatedAt:        r.now().UnixMilli(),
	}

	if err := r.saveRoom(ctx, room); err != nil {
		return err
	}

	now := r.now()
	if err := r.emitMatchFound(ctx, room, protocol.RoleA, room.PlayerA, room.PlayerB, false, now); err != nil {
		return err
	}
	if err := r.emitMatchFound(ctx, room, protocol.RoleB, room.PlayerB, room.PlayerA, false, now); err != nil {
		return err
	}

	logging.Info(ctx, "match executed", zap.String("room_id", room.RoomID), zap.String("uid_a", a.UID), zap.String("uid_b", b.UID), zap.String("mode", string(a.Mode)))
	return nil
}

func (r *Registry) emitMatchFound(ctx context.Context, room *PendingRoom, role protocol.Role, self, opponent Party, isReconnection bool, now time.Time) error {
	game, video := r.minter.Servers(self.UID, now)
	payload := protocol.MatchFound{
		RoomID:         room.RoomID,
		Role:           role,
		OpponentID:     opponent.SocketID,
		OpponentUID:    opponent.UID,
		IsInitiator:    role == protocol.RoleA,
		IceServers:     protocol.IceServers{Game: ice.ToProtocol(game), Video: ice.ToProtocol(video)},
		IsReconnection: isReconnection,
	}
	return r.emitter.Emit(ctx, self.SocketID, protocol.OutMatchFound, payload)
}

// HandleConnectionStable is spec §4.6 handleConnectionStable: sets a
// readiness flag and finalizes the room into two ActiveSessions once every
// expected service is ready.
func (r *Registry) HandleConnectionStable(ctx context.Context, socketID, roomID string, service protocol.Service) error {
	uid, ok, err := r.sockets.LookupUID(ctx, socketID)
	if err != nil || !ok {
		return err
	}

	room, ok, err := r.getRoom(ctx, roomID)
	if err != nil || !ok {
		return err
	}
	if _, isParty := room.HasParty(uid); !isParty {
		return nil
	}

	room.Ready[service] = true
	if !room.AllReady() {
		return r.saveRoom(ctx, room)
	}

	return r.finalize(ctx, room)
}

func (r *Registry) finalize(ctx context.Context, room *PendingRoom) error {
	now := r.now()

	entryA := ActiveSession{RoomID: room.RoomID, OpponentUID: room.PlayerB.UID, Role: protocol.RoleA, StartTime: now.UnixMilli()}
	entryB := ActiveSession{RoomID: room.RoomID, OpponentUID: room.PlayerA.UID, Role: protocol.RoleB, StartTime: now.UnixMilli()}

	if err := r.saveSession(ctx, room.PlayerA.UID, entryA); err != nil {
		return err
	}
	if err := r.saveSession(ctx, room.PlayerB.UID, entryB); err != nil {
		return err
	}
	if err := r.store.Del(ctx, store.RoomKey(room.RoomID)); err != nil {
		return err
	}

	payload := protocol.SessionEstablished{RoomID: room.RoomID}
	if err := r.emitter.Emit(ctx, room.PlayerA.SocketID, protocol.OutSessionEstablished, payload); err != nil {
		return err
	}
	if err := r.emitter.Emit(ctx, room.PlayerB.SocketID, protocol.OutSessionEstablished, payload); err != nil {
		return err
	}

	metrics.ActiveSessions.WithLabelValues("active").Add(2)
	r.analytics.RecordMatchStart(ctx, room.RoomID, room.PlayerA.UID, room.PlayerB.UID, room.Mode)
	logging.Info(ctx, "session established", zap.String("room_id", room.RoomID), zap.String("uid_a", room.PlayerA.UID), zap.String("uid_b", room.PlayerB.UID))
	return nil
}

// HandleReconnection is spec §4.6 handleReconnection. socketID is the
// rejoiner's newly registered socket; uid is resolved identity from auth.
func (r *Registry) HandleReconnection(ctx context.Context, socketID, uid string) error {
	entry, ok, err := r.getSession(ctx, uid)
	if err != nil {
		return err
	}
	if ok {
		opponentSocket, opponentOnline, err := r.sockets.Lookup(ctx, entry.OpponentUID)
		if err != nil {
			return err
		}

		now := r.now()
		game, video := r.minter.Servers(uid, now)
		if err := r.emitter.Emit(ctx, socketID, protocol.OutMatchFound, protocol.MatchFound{
			RoomID:         entry.RoomID,
			Role:           entry.Role,
			OpponentID:     opponentSocket,
			OpponentUID:    entry.OpponentUID,
			IsInitiator:    entry.Role == protocol.RoleA,
			IceServers:     protocol.IceServers{Game: ice.ToProtocol(game), Video: ice.ToProtocol(video)},
			IsReconnection: true,
		}); err != nil {
			return err
		}

		if opponentOnline {
			if err := r.emitter.Emit(ctx, opponentSocket, protocol.OutOpponentReconnected, protocol.OpponentReconnected{
				OpponentSocketID: socketID,
			}); err != nil {
				return err
			}
		}
		return nil
	}

	roomKeys, err := r.store.Keys(ctx, "room:*")
	if err != nil {
		return err
	}
	for _, key := range roomKeys {
		raw, ok, err := r.store.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		var room PendingRoom
		if err := json.Unmarshal([]byte(raw), &room); err != nil {
			continue
		}
		role, isParty := room.HasParty(uid)
		if !isParty {
			continue
		}

		if role == protocol.RoleA {
			room.PlayerA.SocketID = socketID
		} else {
			room.PlayerB.SocketID = socketID
		}
		if err := r.saveRoom(ctx, &room); err != nil {
			return err
		}

		self, _ := room.HasParty(uid)
		opponent, _ := room.Opponent(uid)
		var selfParty Party
		if self == protocol.RoleA {
			selfParty = room.PlayerA
		} else {
			selfParty = room.PlayerB
		}
		return r.emitMatchFound(ctx, &room, role, selfParty, opponent, true, r.now())
	}

	return nil
}

// HandleSkipMatch is spec §4.6 handleSkipMatch: tears down any ActiveSession
// the socket's uid is in, emitting match_skipped to every socket of both
// parties.
func (r *Registry) HandleSkipMatch(ctx context.Context, socketID string) error {
	uid, ok, err := r.sockets.LookupUID(ctx, socketID)
	if err != nil || !ok {
		return err
	}
	return r.teardownSession(ctx, uid, "skip")
}

// HandleDisconnect is spec §4.6 handleDisconnect: identical teardown, plus
// an analytics event with reason=disconnect. The Socket Registry binding
// itself is updated by the ws layer's Unregister call, not here.
func (r *Registry) HandleDisconnect(ctx context.Context, uid string) error {
	return r.teardownSession(ctx, uid, "disconnect")
}

func (r *Registry) teardownSession(ctx context.Context, uid, reason string) error {
	entry, ok, err := r.getSession(ctx, uid)
	if err != nil {
		return err
	}
	if !ok {
		// No ActiveSession; the uid might still be in a PendingRoom, whose
		// own 30s reaper will clean it up. skip_match/disconnect on a
		// PENDING pairing is intentionally left to the handshake timeout.
		return nil
	}

	opponentUID := entry.OpponentUID

	if err := r.store.Del(ctx, store.SessionKey(uid)); err != nil {
		return err
	}
	if err := r.store.Del(ctx, store.SessionKey(opponentUID)); err != nil {
		return err
	}
	metrics.ActiveSessions.WithLabelValues("active").Sub(2)

	if err := r.emitMatchSkipped(ctx, uid); err != nil {
		return err
	}
	if err := r.emitMatchSkipped(ctx, opponentUID); err != nil {
		return err
	}

	r.analytics.RecordMatchEnd(ctx, entry.RoomID, uid, opponentUID, reason)
	logging.Info(ctx, "session torn down", zap.String("uid", uid), zap.String("opponent_uid", opponentUID), zap.String("reason", reason))
	return nil
}

func (r *Registry) emitMatchSkipped(ctx context.Context, uid string) error {
	socketID, ok, err := r.sockets.Lookup(ctx, uid)
	if err != nil || !ok {
		return err
	}
	return r.emitter.Emit(ctx, socketID, protocol.OutMatchSkipped, struct{}{})
}

// ReapExpiredRooms tears down any PendingRoom older than HandshakeTimeout,
// emitting match_error to both sides. Run periodically alongside the tick.
func (r *Registry) ReapExpiredRooms(ctx context.Context) error {
	keys, err := r.store.Keys(ctx, "room:*")
	if err != nil {
		return err
	}

	now := r.now()
	for _, key := range keys {
		raw, ok, err := r.store.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		var room PendingRoom
		if err := json.Unmarshal([]byte(raw), &room); err != nil {
			continue
		}

		age := now.Sub(time.UnixMilli(room.CreatedAt))
		if age < HandshakeTimeout {
			continue
		}

		if err := r.store.Del(ctx, store.RoomKey(room.RoomID)); err != nil {
			return err
		}
		payload := protocol.MatchError{Message: "handshake timed out"}
		if err := r.emitter.Emit(ctx, room.PlayerA.SocketID, protocol.OutMatchError, payload); err != nil {
			return err
		}
		if err := r.emitter.Emit(ctx, room.PlayerB.SocketID, protocol.OutMatchError, payload); err != nil {
			return err
		}
		metrics.SessionTimeouts.Inc()
		logging.Info(ctx, "pending room reaped for handshake timeout", zap.String("room_id", room.RoomID))
	}
	return nil
}

func (r *Registry) saveRoom(ctx context.Context, room *PendingRoom) error {
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, store.RoomKey(room.RoomID), string(data), roomTTL)
}

func (r *Registry) getRoom(ctx context.Context, roomID string) (*PendingRoom, bool, error) {
	raw, ok, err := r.store.Get(ctx, store.RoomKey(roomID))
	if err != nil || !ok {
		return nil, false, err
	}
	var room PendingRoom
	if err := json.Unmarshal([]byte(raw), &room); err != nil {
		return nil, false, nil
	}
	return &room, true, nil
}

func (r *Registry) saveSession(ctx context.Context, uid string, entry ActiveSession) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, store.SessionKey(uid), string(data), 0)
}

// GetSession exposes the current ActiveSession for uid, used by the Signal
// Router to resolve a sender's opponent.
func (r *Registry) GetSession(ctx context.Context, uid string) (*ActiveSession, bool, error) {
	return r.getSession(ctx, uid)
}

func (r *Registry) getSession(ctx context.Context, uid string) (*ActiveSession, bool, error) {
	raw, ok, err := r.store.Get(ctx, store.SessionKey(uid))
	if err != nil || !ok {
		return nil, false, err
	}
	var entry ActiveSession
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, false, nil
	}
	return &entry, true, nil
}
