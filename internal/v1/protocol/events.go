// Package protocol names the wire events and envelope shapes of spec §6,
// shared by the ws dispatcher and every domain component that emits to a
// socket, so event names live in exactly one place.
package protocol

// Inbound (client -> server) event names.
const (
	InJoinQueue        = "join_queue"
	InLeaveQueue       = "leave_queue"
	InSkipMatch        = "skip_match"
	InConnectionStable = "connection_stable"
	InReconnect        = "reconnect"
	InGetIceServers    = "get_ice_servers"

	InOffer         = "offer"
	InAnswer        = "answer"
	InIceCandidate  = "ice-candidate"
	InVideoOffer    = "video-offer"
	InVideoAnswer   = "video-answer"
	InVideoIce      = "video-ice-candidate"

	InSendInvite   = "send_invite"
	InAcceptInvite = "accept_invite"
	InRejectInvite = "reject_invite"

	InAdminKickUser         = "admin_kick_user"
	InAdminBanUser          = "admin_ban_user"
	InAdminUnbanUser        = "admin_unban_user"
	InAdminForceDisconnect  = "admin_force_disconnect"
)

// Outbound (server -> client) event names.
const (
	OutMatchFound         = "match_found"
	OutSessionEstablished = "session_established"
	OutMatchSkipped       = "match_skipped"
	OutMatchError         = "match_error"
	OutOpponentReconnected = "opponent_reconnected"
	OutStartBotMode       = "start_bot_mode"
	OutNoMatchFound       = "no_match_found"
	OutBanned             = "banned"
	OutKicked             = "kicked"
	OutIceServersConfig   = "ice_servers_config"

	OutReceiveInvite = "receive_invite"
	OutInviteRejected = "invite_rejected"
	OutInviteError    = "invite_error"

	OutError = "error"
)

// Role is a PendingRoom/ActiveSession party's role.
type Role string

const (
	RoleA Role = "A"
	RoleB Role = "B"
)

// Service is one channel a PendingRoom waits on readiness for.
type Service string

const (
	ServiceGame  Service = "game"
	ServiceVideo Service = "video"
)

// IceServer mirrors RTCConfiguration.iceServers entries on the wire.
type IceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// IceServers is the per-user, per-channel server lists minted for a match.
type IceServers struct {
	Game  []IceServer `json:"game"`
	Video []IceServer `json:"video"`
}

// MatchFound is the match_found outbound payload.
type MatchFound struct {
	RoomID          string     `json:"roomId"`
	Role            Role       `json:"role"`
	OpponentID      string     `json:"opponentId"`
	OpponentUID     string     `json:"opponentUid"`
	IsInitiator     bool       `json:"isInitiator"`
	IceServers      IceServers `json:"iceServers"`
	IsReconnection  bool       `json:"isReconnection,omitempty"`
}

// SessionEstablished is the session_established outbound payload.
type SessionEstablished struct {
	RoomID string `json:"roomId"`
}

// MatchError is the match_error outbound payload.
type MatchError struct {
	Message string `json:"message"`
}

// OpponentReconnected is the opponent_reconnected outbound payload.
type OpponentReconnected struct {
	OpponentSocketID string `json:"opponentSocketId"`
}

// StartBotMode is the start_bot_mode outbound payload.
type StartBotMode struct {
	Reason string `json:"reason"`
}

// NoMatchFound is the legacy no_match_found outbound payload.
type NoMatchFound struct {
	Reason    string `json:"reason"`
	WaitedMs  int64  `json:"waitedMs"`
}

// Banned is the banned outbound payload.
type Banned struct {
	Reason           string `json:"reason"`
	RemainingMinutes int64  `json:"remainingMinutes"`
	Message          string `json:"message"`
}

// Kicked is the kicked outbound payload.
type Kicked struct {
	Reason string `json:"reason"`
}

// IceServersConfig is the get_ice_servers response payload.
type IceServersConfig struct {
	IceServers IceServers `json:"iceServers"`
}

// ErrorPayload is the generic {message} error envelope.
type ErrorPayload struct {
	Message string `json:"message"`
}

// SignalFrame is the envelope every SDP/ICE frame carries, both inbound and
// outbound. The router only ever looks at the envelope fields; Data is
// forwarded verbatim.
type SignalFrame struct {
	To        string          `json:"to,omitempty"`
	TargetUID string          `json:"targetUid,omitempty"`
	From      string          `json:"from,omitempty"`
	FromUID   string          `json:"fromUid,omitempty"`
	Data      map[string]any  `json:"-"`
}

// ReceiveInvite is the receive_invite outbound payload.
type ReceiveInvite struct {
	InviterUID string `json:"inviterUid"`
	Mode       string `json:"mode,omitempty"`
}

// InviteRejected is the invite_rejected outbound payload.
type InviteRejected struct {
	TargetUID string `json:"targetUid"`
}

// InviteError is the invite_error outbound payload.
type InviteError struct {
	Message string `json:"message"`
}
