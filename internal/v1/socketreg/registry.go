// Package socketreg implements the Socket Registry: the bidirectional
// {socket-id <-> uid} binding with the "one uid = one active socket-id,
// newer wins" rule from spec §4.1, plus the online-users set.
package socketreg

import (
	"context"
	"strings"
	"time"

	"github.com/chorus-party/matchmaking/internal/v1/logging"
	"github.com/chorus-party/matchmaking/internal/v1/store"
	"go.uber.org/zap"
)

// bindingTTL matches the §6 keyspace table: bindings expire after 24h so a
// crashed replica's stale sockets don't linger forever.
const bindingTTL = 86400 * time.Second

// Registry is the Socket Registry.
type Registry struct {
	store store.Store
}

// New creates a Socket Registry backed by store.
func New(s store.Store) *Registry {
	return &Registry{store: s}
}

// isGuestOrBot mirrors the uid-prefix convention used across the broker:
// guest uids never touch stats/bans, and neither guests nor bots are
// counted in the online-users gauge.
func isGuestOrBot(uid string) bool {
	return strings.HasPrefix(uid, "guest_") || strings.HasPrefix(uid, "bot_")
}

// Register writes both directions of the binding. If a different socketId
// was previously the reverse binding for uid, it is overwritten: the older
// connection is logically abandoned (its forward binding is left alone and
// will self-resolve via Unregister, or sit until its TTL expires).
func (r *Registry) Register(ctx context.Context, socketID, uid string) error {
	if err := r.store.Set(ctx, store.SocketToUserKey(socketID), uid, bindingTTL); err != nil {
		return err
	}
	if err := r.store.Set(ctx, store.UserToSocketKey(uid), socketID, bindingTTL); err != nil {
		return err
	}

	if !isGuestOrBot(uid) {
		if err := r.store.SAdd(ctx, store.OnlineUsersKey, uid); err != nil {
			return err
		}
	}

	logging.Info(ctx, "socket registered", zap.String("uid", uid), zap.String("socket_id", socketID))
	return nil
}

// Lookup returns the current socket id bound to uid, if any.
func (r *Registry) Lookup(ctx context.Context, uid string) (string, bool, error) {
	return r.store.Get(ctx, store.UserToSocketKey(uid))
}

// LookupUID returns the uid currently bound to socketID, if any. Used by
// the signal router and the ws dispatcher to resolve identity from a raw
// connection.
func (r *Registry) LookupUID(ctx context.Context, socketID string) (string, bool, error) {
	return r.store.Get(ctx, store.SocketToUserKey(socketID))
}

// Unregister deletes the forward binding unconditionally. The reverse
// binding is deleted only if it still points at socketID: if a newer tab
// already rebound uid to a different socket, that newer binding must
// survive an older tab's disconnect.
func (r *Registry) Unregister(ctx context.Context, socketID string) error {
	uid, ok, err := r.store.Get(ctx, store.SocketToUserKey(socketID))
	if err != nil {
		return err
	}
	if err := r.store.Del(ctx, store.SocketToUserKey(socketID)); err != nil {
		return err
	}
	if !ok {
		return nil
	}

	currentSocket, bound, err := r.store.Get(ctx, store.UserToSocketKey(uid))
	if err != nil {
		return err
	}
	if bound && currentSocket == socketID {
		if err := r.store.Del(ctx, store.UserToSocketKey(uid)); err != nil {
			return err
		}
		if !isGuestOrBot(uid) {
			if err := r.store.SRem(ctx, store.OnlineUsersKey, uid); err != nil {
				return err
			}
		}
	}

	logging.Info(ctx, "socket unregistered", zap.String("uid", uid), zap.String("socket_id", socketID))
	return nil
}

// OnlineUsers returns the current online-users set.
func (r *Registry) OnlineUsers(ctx context.Context) ([]string, error) {
	return r.store.SMembers(ctx, store.OnlineUsersKey)
}
