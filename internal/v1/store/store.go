package store

import (
	"context"
	"time"
)

// Store is the minimal set of primitives every matchmaking component needs
// from the external key/value backend: ordered sets for the queue
// partitions, string KV with per-entry TTL for payloads/rooms/sessions/bans,
// a set for the online-users gauge, and a compare-and-swap pair for the
// tick lease. RedisStore backs this with go-redis behind a circuit breaker;
// MemoryStore backs it with local maps for single-node mode (REDIS_URL
// unset) and is also what storage-layer tests exercise directly alongside
// the miniredis-backed RedisStore.
type Store interface {
	// ZAdd inserts/updates member in the sorted set with the given score.
	ZAdd(ctx context.Context, key string, score float64, member string) error
	// ZRem removes member from the sorted set. No error if absent.
	ZRem(ctx context.Context, key string, member string) error
	// ZRange returns up to limit members ordered by ascending score
	// (oldest-first when score is a joinedAt timestamp). limit<=0 means all.
	ZRange(ctx context.Context, key string, limit int64) ([]string, error)
	// ZCard returns the number of members in the sorted set.
	ZCard(ctx context.Context, key string) (int64, error)

	// Get returns the value and whether it was present (and unexpired).
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes value with TTL. ttl<=0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Del removes a key. No error if absent.
	Del(ctx context.Context, key string) error
	// TTL returns remaining time-to-live; -1 means no TTL, 0 means absent/expired.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// SetNX sets value with TTL only if the key is absent, returning true
	// if this call won the race.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareDelete deletes key only if its current value equals expected,
	// returning true if it deleted. Used for lease release so a stalled
	// holder can never delete a successor's lease.
	CompareDelete(ctx context.Context, key, expected string) (bool, error)

	// SAdd/SRem/SMembers back the online-users set.
	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// Keys returns all keys matching a glob pattern. Used sparingly, by the
	// PendingRoom reaper and reconnection scan, never on a hot path.
	Keys(ctx context.Context, pattern string) ([]string, error)

	Close() error
}
