// Package signal implements the Signal Router: best-effort relay of
// offer/answer/ICE frames between the two peers of a pending or active
// pairing, per spec §4.7. It never inspects frame payloads beyond the
// envelope fields, and resolves a target through the precedence in Route.
package signal

import (
	"context"

	"github.com/chorus-party/matchmaking/internal/v1/logging"
	"github.com/chorus-party/matchmaking/internal/v1/protocol"
	"github.com/chorus-party/matchmaking/internal/v1/session"
	"github.com/chorus-party/matchmaking/internal/v1/socketreg"
	"go.uber.org/zap"
)

// SessionLookup is the subset of *session.Registry the router needs: the
// sender's opponent uid when neither an explicit target socket nor uid was
// supplied on the frame.
type SessionLookup interface {
	GetSession(ctx context.Context, uid string) (*session.ActiveSession, bool, error)
}

// Router is the Signal Router.
type Router struct {
	sockets  *socketreg.Registry
	sessions SessionLookup
	emitter  protocol.Emitter
}

// New creates a Signal Router.
func New(sockets *socketreg.Registry, sessions SessionLookup, emitter protocol.Emitter) *Router {
	return &Router{sockets: sockets, sessions: sessions, emitter: emitter}
}

// Route forwards one signal frame from senderSocketID/senderUID, stamping
// from/fromUid and applying the precedence of spec §4.7:
//  1. an explicit target socket id on the frame
//  2. else an explicit target uid, resolved via the Socket Registry
//  3. else the sender's current opponent uid via the Session Registry
//  4. drop silently if resolved target uid equals the sender (loopback)
//
// event is stamped into the payload's envelope for the client; data is the
// opaque SDP/ICE body, forwarded unmodified.
func (r *Router) Route(ctx context.Context, senderSocketID, senderUID, event string, frame protocol.SignalFrame, data map[string]any) error {
	targetSocketID, targetUID, ok, err := r.resolveTarget(ctx, senderUID, frame)
	if err != nil {
		return err
	}
	if !ok {
		logging.Debug(ctx, "signal frame dropped: no resolvable target", zap.String("event", event), zap.String("sender_uid", senderUID))
		return nil
	}
	if targetUID != "" && targetUID == senderUID {
		logging.Debug(ctx, "signal frame dropped: loopback", zap.String("event", event), zap.String("sender_uid", senderUID))
		return nil
	}

	out := make(map[string]any, len(data)+2)
	for k, v := range data {
		out[k] = v
	}
	out["from"] = senderSocketID
	if event == protocol.InOffer || event == protocol.InVideoOffer {
		out["fromUid"] = senderUID
	}

	return r.emitter.Emit(ctx, targetSocketID, event, out)
}

// resolveTarget returns the socket id to deliver to, and (when known) the
// uid that socket belongs to, so loopback can be checked even when routing
// by raw socket id.
func (r *Router) resolveTarget(ctx context.Context, senderUID string, frame protocol.SignalFrame) (socketID, uid string, ok bool, err error) {
	if frame.To != "" {
		resolvedUID, _, lookupErr := r.sockets.LookupUID(ctx, frame.To)
		if lookupErr != nil {
			return "", "", false, lookupErr
		}
		return frame.To, resolvedUID, true, nil
	}

	if frame.TargetUID != "" {
		socket, found, lookupErr := r.sockets.Lookup(ctx, frame.TargetUID)
		if lookupErr != nil {
			return "", "", false, lookupErr
		}
		if !found {
			return "", "", false, nil
		}
		return socket, frame.TargetUID, true, nil
	}

	entry, found, lookupErr := r.sessions.GetSession(ctx, senderUID)
	if lookupErr != nil {
		return "", "", false, lookupErr
	}
	if !found {
		return "", "", false, nil
	}
	socket, online, lookupErr := r.sockets.Lookup(ctx, entry.OpponentUID)
	if lookupErr != nil {
		return "", "", false, lookupErr
	}
	if !online {
		return "", "", false, nil
	}
	return socket, entry.OpponentUID, true, nil
}
