// Package session implements the Session Registry: the PendingRoom
// handshake coordinator and the ActiveSession table, plus the pairing
// state machine (PENDING -> ACTIVE -> TORN_DOWN) of spec §4.6.
package session

import (
	"encoding/json"

	"github.com/chorus-party/matchmaking/internal/v1/protocol"
	"github.com/chorus-party/matchmaking/internal/v1/queue"
	"k8s.io/utils/set"
)

// Party is one side of a pairing.
type Party struct {
	UID      string `json:"uid"`
	SocketID string `json:"socketId"`
}

// PendingRoom is the handshake coordinator of spec §3. A uid appears in at
// most one PendingRoom at a time.
type PendingRoom struct {
	RoomID           string
	PlayerA          Party
	PlayerB          Party
	Mode             queue.Mode
	ExpectedServices set.Set[protocol.Service]
	Ready            map[protocol.Service]bool
	CreatedAt        int64 // wall-clock ms
}

// pendingRoomDTO is the JSON-on-the-wire shape; set.Set has no native
// (un)marshaler, so it round-trips through a plain slice.
type pendingRoomDTO struct {
	RoomID           string                    `json:"roomId"`
	PlayerA          Party                     `json:"playerA"`
	PlayerB          Party                     `json:"playerB"`
	Mode             queue.Mode                `json:"mode"`
	ExpectedServices []protocol.Service        `json:"expectedServices"`
	Ready            map[protocol.Service]bool `json:"ready"`
	CreatedAt        int64                     `json:"createdAt"`
}

func (r PendingRoom) MarshalJSON() ([]byte, error) {
	return json.Marshal(pendingRoomDTO{
		RoomID:           r.RoomID,
		PlayerA:          r.PlayerA,
		PlayerB:          r.PlayerB,
		Mode:             r.Mode,
		ExpectedServices: r.ExpectedServices.UnsortedList(),
		Ready:            r.Ready,
		CreatedAt:        r.CreatedAt,
	})
}

func (r *PendingRoom) UnmarshalJSON(data []byte) error {
	var dto pendingRoomDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return err
	}
	r.RoomID = dto.RoomID
	r.PlayerA = dto.PlayerA
	r.PlayerB = dto.PlayerB
	r.Mode = dto.Mode
	r.ExpectedServices = set.New(dto.ExpectedServices...)
	r.Ready = dto.Ready
	if r.Ready == nil {
		r.Ready = make(map[protocol.Service]bool)
	}
	r.CreatedAt = dto.CreatedAt
	return nil
}

// AllReady reports whether every expected service has reported ready.
func (r *PendingRoom) AllReady() bool {
	for svc := range r.ExpectedServices {
		if !r.Ready[svc] {
			return false
		}
	}
	return true
}

// HasParty reports whether uid is one of the two parties, and which role.
func (r *PendingRoom) HasParty(uid string) (protocol.Role, bool) {
	if r.PlayerA.UID == uid {
		return protocol.RoleA, true
	}
	if r.PlayerB.UID == uid {
		return protocol.RoleB, true
	}
	return "", false
}

// Opponent returns the other party given one party's uid.
func (r *PendingRoom) Opponent(uid string) (Party, bool) {
	if r.PlayerA.UID == uid {
		return r.PlayerB, true
	}
	if r.PlayerB.UID == uid {
		return r.PlayerA, true
	}
	return Party{}, false
}

// ExpectedServicesForMode implements the REDESIGN FLAGS decision: a single
// channel per mode, never both. mode=random -> {game}, mode=video -> {video}.
func ExpectedServicesForMode(mode queue.Mode) set.Set[protocol.Service] {
	if mode == queue.ModeVideo {
		return set.New(protocol.ServiceVideo)
	}
	return set.New(protocol.ServiceGame)
}

// ActiveSession is one side's SessionEntry; two always coexist,
// referencing each other by opponent uid (never by pointer).
type ActiveSession struct {
	RoomID      string        `json:"roomId"`
	OpponentUID string        `json:"opponentUid"`
	Role        protocol.Role `json:"role"`
	StartTime   int64         `json:"startTime"`
}
