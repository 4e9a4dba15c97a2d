// Package ice implements the Ice Credential Minter: short-lived TURN
// credentials plus static STUN entries per channel, per spec §4.8.
package ice

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/chorus-party/matchmaking/internal/v1/protocol"
)

// credentialTTL is the validity window documented in spec §4.8.
const credentialTTL = 24 * time.Hour

// Channel is which signaling channel a server set belongs to.
type Channel string

const (
	ChannelGame  Channel = "game"
	ChannelVideo Channel = "video"
)

// Server is one ICE server entry in the shape clients expect from
// RTCConfiguration.iceServers.
type Server struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Config carries the static STUN set plus an optional TURN endpoint per
// channel. An empty URL/Secret pair means that channel is STUN-only.
type Config struct {
	StunURLs  []string
	GameTURN  TURNEndpoint
	VideoTURN TURNEndpoint
}

// TURNEndpoint is one configured TURN server and its HMAC secret.
type TURNEndpoint struct {
	URL    string
	Secret string
}

func (e TURNEndpoint) configured() bool {
	return e.URL != "" && e.Secret != ""
}

// Minter mints ICE server lists for a given uid and timestamp.
type Minter struct {
	cfg Config
}

// New creates a Minter from static config.
func New(cfg Config) *Minter {
	return &Minter{cfg: cfg}
}

// Servers returns both the game and video ICE server lists for uid minted
// at now.
func (m *Minter) Servers(uid string, now time.Time) (game []Server, video []Server) {
	return m.mintChannel(m.cfg.GameTURN, uid, now), m.mintChannel(m.cfg.VideoTURN, uid, now)
}

func (m *Minter) mintChannel(endpoint TURNEndpoint, uid string, now time.Time) []Server {
	servers := make([]Server, 0, 2)
	if len(m.cfg.StunURLs) > 0 {
		servers = append(servers, Server{URLs: m.cfg.StunURLs})
	}

	if !endpoint.configured() {
		return servers
	}

	username, credential := mintCredential(endpoint.Secret, uid, now)
	servers = append(servers, Server{
		URLs:       []string{endpoint.URL},
		Username:   username,
		Credential: credential,
	})
	return servers
}

// mintCredential reproduces the exact scheme in spec §4.8:
// username = "{unixTs + 86400}:{uid}", credential = base64(HMAC-SHA1(secret, username)).
func mintCredential(secret, uid string, now time.Time) (username, credential string) {
	expiry := now.Unix() + 86400
	username = fmt.Sprintf("%d:%s", expiry, uid)

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(username))
	credential = base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return username, credential
}

// TTL exposes the credential validity window for callers that need to
// report it (e.g. documenting ice_servers_config freshness).
func TTL() time.Duration {
	return credentialTTL
}

// ToProtocol converts a minted server list to its wire shape. Server and
// protocol.IceServer are structurally identical but distinct named types,
// so this is a field-by-field copy rather than a slice conversion.
func ToProtocol(in []Server) []protocol.IceServer {
	out := make([]protocol.IceServer, len(in))
	for i, s := range in {
		out[i] = protocol.IceServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential}
	}
	return out
}
