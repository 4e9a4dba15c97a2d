package ws

import (
	"context"
	"encoding/json"

	"github.com/chorus-party/matchmaking/internal/v1/logging"
	"github.com/chorus-party/matchmaking/internal/v1/protocol"
	"go.uber.org/zap"
)

// The admin surface is a thin dispatch-layer wrapper over the Ban Gate,
// Socket Registry, and Session Registry, gated on the handshake's admin
// flag (spec §6's server-admin escape hatch).

type adminTargetRequest struct {
	TargetUID       string `json:"targetUid"`
	Reason          string `json:"reason,omitempty"`
	DurationMinutes int    `json:"durationMinutes,omitempty"`
}

func (d *Dispatcher) dispatchAdmin(ctx context.Context, c *Client, event string, data json.RawMessage) error {
	var req adminTargetRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return d.emitter.Emit(ctx, c.socketID, protocol.OutError, protocol.ErrorPayload{Message: "malformed admin payload"})
	}

	switch event {
	case protocol.InAdminKickUser:
		return d.adminKick(ctx, req.TargetUID, req.Reason)
	case protocol.InAdminBanUser:
		return d.adminBan(ctx, req.TargetUID, req.Reason, req.DurationMinutes)
	case protocol.InAdminUnbanUser:
		return d.bans.UnbanUser(ctx, req.TargetUID)
	case protocol.InAdminForceDisconnect:
		return d.adminForceDisconnect(ctx, req.TargetUID, req.Reason)
	}
	return nil
}

func (d *Dispatcher) adminKick(ctx context.Context, targetUID, reason string) error {
	socketID, online, err := d.sockets.Lookup(ctx, targetUID)
	if err != nil {
		return err
	}

	if err := d.sessions.HandleDisconnect(ctx, targetUID); err != nil {
		logging.Warn(ctx, "admin kick: failed to tear down session", zap.String("uid", targetUID), zap.Error(err))
	}
	if err := d.queue.RemoveByUID(ctx, targetUID); err != nil {
		logging.Warn(ctx, "admin kick: failed to remove from queue", zap.String("uid", targetUID), zap.Error(err))
	}

	if !online {
		return nil
	}
	return d.emitter.Emit(ctx, socketID, protocol.OutKicked, protocol.Kicked{Reason: reason})
}

func (d *Dispatcher) adminBan(ctx context.Context, targetUID, reason string, durationMinutes int) error {
	now := d.now()
	if err := d.bans.BanUser(ctx, targetUID, reason, durationMinutes, now); err != nil {
		return err
	}

	socketID, online, err := d.sockets.Lookup(ctx, targetUID)
	if err != nil {
		return err
	}

	if err := d.sessions.HandleDisconnect(ctx, targetUID); err != nil {
		logging.Warn(ctx, "admin ban: failed to tear down session", zap.String("uid", targetUID), zap.Error(err))
	}
	if err := d.queue.RemoveByUID(ctx, targetUID); err != nil {
		logging.Warn(ctx, "admin ban: failed to remove from queue", zap.String("uid", targetUID), zap.Error(err))
	}

	if !online {
		return nil
	}

	remainingMs := int64(-1)
	if durationMinutes > 0 {
		remainingMs = int64(durationMinutes) * 60000
	}
	return d.emitter.Emit(ctx, socketID, protocol.OutBanned, protocol.Banned{
		Reason:           reason,
		RemainingMinutes: msToMinutes(remainingMs),
		Message:          "you have been banned from matchmaking",
	})
}

// adminForceDisconnect is the only path that emits the legacy
// no_match_found event: a disconnect with no replacement match, as opposed
// to a kick (which reports "kicked") or a ban (which reports "banned").
func (d *Dispatcher) adminForceDisconnect(ctx context.Context, targetUID, reason string) error {
	u, wasQueued, err := d.queue.GetUser(ctx, targetUID)
	if err != nil {
		return err
	}

	socketID, online, err := d.sockets.Lookup(ctx, targetUID)
	if err != nil {
		return err
	}

	if err := d.sessions.HandleDisconnect(ctx, targetUID); err != nil {
		logging.Warn(ctx, "admin force_disconnect: failed to tear down session", zap.String("uid", targetUID), zap.Error(err))
	}
	if err := d.queue.RemoveByUID(ctx, targetUID); err != nil {
		return err
	}

	if !online {
		return nil
	}

	waitedMs := int64(0)
	if wasQueued {
		waitedMs = d.now().UnixMilli() - u.JoinedAt
	}
	if reason == "" {
		reason = "force_disconnected"
	}
	return d.emitter.Emit(ctx, socketID, protocol.OutNoMatchFound, protocol.NoMatchFound{Reason: reason, WaitedMs: waitedMs})
}
