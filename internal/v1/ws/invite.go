package ws

import (
	"context"
	"encoding/json"

	"github.com/chorus-party/matchmaking/internal/v1/protocol"
	"github.com/chorus-party/matchmaking/internal/v1/queue"
)

// The invite surface bypasses the Queue Store and Match Engine entirely: a
// direct invite resolves its target's socket through the Socket Registry,
// and an accepted invite runs the same executeMatch the Match Engine uses,
// so invited pairs get identical PendingRoom/ActiveSession treatment.

type sendInviteRequest struct {
	TargetUID string `json:"targetUid"`
	Mode      string `json:"mode,omitempty"`
}

func (d *Dispatcher) handleSendInvite(ctx context.Context, c *Client, data json.RawMessage) error {
	var req sendInviteRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return d.emitter.Emit(ctx, c.socketID, protocol.OutInviteError, protocol.InviteError{Message: "malformed send_invite payload"})
	}
	if req.TargetUID == "" || req.TargetUID == c.uid {
		return d.emitter.Emit(ctx, c.socketID, protocol.OutInviteError, protocol.InviteError{Message: "invalid invite target"})
	}

	targetSocket, online, err := d.sockets.Lookup(ctx, req.TargetUID)
	if err != nil {
		return err
	}
	if !online {
		return d.emitter.Emit(ctx, c.socketID, protocol.OutInviteError, protocol.InviteError{Message: "target is offline"})
	}

	return d.emitter.Emit(ctx, targetSocket, protocol.OutReceiveInvite, protocol.ReceiveInvite{InviterUID: c.uid, Mode: req.Mode})
}

type inviteResponseRequest struct {
	InviterUID string `json:"inviterUid"`
}

func (d *Dispatcher) handleAcceptInvite(ctx context.Context, c *Client, data json.RawMessage) error {
	var req inviteResponseRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return d.emitter.Emit(ctx, c.socketID, protocol.OutInviteError, protocol.InviteError{Message: "malformed accept_invite payload"})
	}

	inviterSocket, online, err := d.sockets.Lookup(ctx, req.InviterUID)
	if err != nil {
		return err
	}
	if !online {
		return d.emitter.Emit(ctx, c.socketID, protocol.OutInviteError, protocol.InviteError{Message: "inviter is no longer online"})
	}

	a := &queue.User{UID: req.InviterUID, SocketID: inviterSocket, Mode: queue.ModeRandom}
	b := &queue.User{UID: c.uid, SocketID: c.socketID, Mode: queue.ModeRandom}
	return d.sessions.ExecuteMatch(ctx, a, b)
}

func (d *Dispatcher) handleRejectInvite(ctx context.Context, c *Client, data json.RawMessage) error {
	var req inviteResponseRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return d.emitter.Emit(ctx, c.socketID, protocol.OutInviteError, protocol.InviteError{Message: "malformed reject_invite payload"})
	}

	inviterSocket, online, err := d.sockets.Lookup(ctx, req.InviterUID)
	if err != nil {
		return err
	}
	if !online {
		return nil
	}
	return d.emitter.Emit(ctx, inviterSocket, protocol.OutInviteRejected, protocol.InviteRejected{TargetUID: c.uid})
}
