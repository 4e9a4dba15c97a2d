// Package store is the typed accessor layer over the external key/value
// store. Every component that needs cross-replica state goes through here
// instead of concatenating key strings itself, so the keyspace in spec §6
// has exactly one place it is defined.
package store

import "fmt"

// Gender partitions the queue into two ordered sets.
type Gender string

const (
	Male   Gender = "male"
	Female Gender = "female"
)

// QueueKey returns the sorted-set key for one gender partition.
func QueueKey(g Gender) string {
	return fmt.Sprintf("queue:%s", g)
}

// QueueUserKey returns the JSON payload key for a queued user.
func QueueUserKey(uid string) string {
	return fmt.Sprintf("queue:user:%s", uid)
}

// RoomKey returns the PendingRoom JSON key.
func RoomKey(roomID string) string {
	return fmt.Sprintf("room:%s", roomID)
}

// SessionKey returns the ActiveSession JSON key for one uid.
func SessionKey(uid string) string {
	return fmt.Sprintf("session:%s", uid)
}

// SocketToUserKey is the forward socket-id -> uid binding.
func SocketToUserKey(socketID string) string {
	return fmt.Sprintf("socket:uid:%s", socketID)
}

// UserToSocketKey is the reverse uid -> socket-id binding.
func UserToSocketKey(uid string) string {
	return fmt.Sprintf("user:socket:%s", uid)
}

// OnlineUsersKey is the set of currently-online (non-guest, non-bot) uids.
const OnlineUsersKey = "users:online"

// BanKey returns the ban entry key for a uid.
func BanKey(uid string) string {
	return fmt.Sprintf("ban:%s", uid)
}

// LockKey is the tick-leader lease key.
const LockKey = "lock:matchmaking"
