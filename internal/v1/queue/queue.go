// Package queue implements the Queue Store: two time-ordered partitions
// keyed by gender plus an auxiliary uid -> payload store, per spec §4.3.
package queue

import (
	"context"
	"encoding/json"

	"github.com/chorus-party/matchmaking/internal/v1/logging"
	"github.com/chorus-party/matchmaking/internal/v1/metrics"
	"github.com/chorus-party/matchmaking/internal/v1/store"
	"go.uber.org/zap"
)

// Tier gates which preferences a waiter gets to keep, per spec §3.
type Tier string

const (
	TierFree    Tier = "FREE"
	TierGold    Tier = "GOLD"
	TierDiamond Tier = "DIAMOND"
)

// Mode is the signaling channel a waiter wants, per spec §3.
type Mode string

const (
	ModeRandom Mode = "random"
	ModeVideo  Mode = "video"
)

// Preferences is the seeker's optional filter, tier-trimmed before storage.
type Preferences struct {
	Gender   string `json:"gender,omitempty"`
	Location string `json:"location,omitempty"`
}

// User is a QueueUser record.
type User struct {
	UID           string       `json:"uid"`
	SocketID      string       `json:"socketId"`
	Gender        store.Gender `json:"gender"`
	Location      string       `json:"location,omitempty"`
	Tier          Tier         `json:"tier"`
	Mode          Mode         `json:"mode"`
	Preferences   Preferences  `json:"preferences"`
	JoinedAt      int64        `json:"joinedAt"` // wall-clock ms
	WidenStage    int          `json:"widenStage"`
	BotModeActive bool         `json:"botModeActive"`
}

// ApplyTierFilter trims preferences per spec §3: FREE strips both, GOLD
// strips location, DIAMOND keeps both.
func (u *User) ApplyTierFilter() {
	switch u.Tier {
	case TierFree:
		u.Preferences = Preferences{}
	case TierGold:
		u.Preferences.Location = ""
	case TierDiamond:
		// keep both
	default:
		u.Preferences = Preferences{}
	}
}

// Store is the Queue Store.
type Store struct {
	store store.Store
}

// New creates a Queue Store backed by store.
func New(s store.Store) *Store {
	return &Store{store: s}
}

// JoinQueue first removes any existing entry for u.UID (idempotence and
// self-match prevention), then inserts into the partition matching
// u.Gender.
func (q *Store) JoinQueue(ctx context.Context, u *User) error {
	if err := q.RemoveByUID(ctx, u.UID); err != nil {
		return err
	}

	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	if err := q.store.Set(ctx, store.QueueUserKey(u.UID), string(data), 0); err != nil {
		return err
	}
	if err := q.store.ZAdd(ctx, store.QueueKey(u.Gender), float64(u.JoinedAt), u.UID); err != nil {
		return err
	}

	metrics.QueueDepth.WithLabelValues(string(u.Gender)).Inc()
	logging.Info(ctx, "user joined queue", zap.String("uid", u.UID), zap.String("gender", string(u.Gender)), zap.String("mode", string(u.Mode)))
	return nil
}

// RemoveBySocket removes whichever queued user currently holds socketID, if
// any. Hydrates payloads to find the match since sorted sets are keyed by
// uid, not socket id; callers on a disconnect path already know the uid in
// the common case and should prefer RemoveByUID.
func (q *Store) RemoveBySocket(ctx context.Context, socketID string) error {
	for _, gender := range []store.Gender{store.Male, store.Female} {
		uids, err := q.store.ZRange(ctx, store.QueueKey(gender), 0)
		if err != nil {
			return err
		}
		for _, uid := range uids {
			u, ok, err := q.GetUser(ctx, uid)
			if err != nil {
				return err
			}
			if ok && u.SocketID == socketID {
				return q.RemoveByUID(ctx, uid)
			}
		}
	}
	return nil
}

// RemoveByUID deletes uid from both partitions and the payload store. It is
// a no-op if uid was not queued; the two partitions are disjoint by uid so
// at most one ZRem does anything.
func (q *Store) RemoveByUID(ctx context.Context, uid string) error {
	existing, ok, err := q.GetUser(ctx, uid)
	if err != nil {
		return err
	}
	if err := q.store.ZRem(ctx, store.QueueKey(store.Male), uid); err != nil {
		return err
	}
	if err := q.store.ZRem(ctx, store.QueueKey(store.Female), uid); err != nil {
		return err
	}
	if err := q.store.Del(ctx, store.QueueUserKey(uid)); err != nil {
		return err
	}
	if ok {
		metrics.QueueDepth.WithLabelValues(string(existing.Gender)).Dec()
	}
	return nil
}

// Range returns up to limit oldest-first uids from a partition.
func (q *Store) Range(ctx context.Context, gender store.Gender, limit int64) ([]string, error) {
	return q.store.ZRange(ctx, store.QueueKey(gender), limit)
}

// GetUser hydrates a uid's QueueUser payload. A missing or malformed
// payload is reported as !ok rather than an error, matching spec §4.5 step
// 2 ("missing/malformed payloads are skipped").
func (q *Store) GetUser(ctx context.Context, uid string) (*User, bool, error) {
	raw, ok, err := q.store.Get(ctx, store.QueueUserKey(uid))
	if err != nil || !ok {
		return nil, false, err
	}

	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		logging.Warn(ctx, "malformed queue user payload, skipping", zap.String("uid", uid), zap.Error(err))
		return nil, false, nil
	}
	return &u, true, nil
}

// SaveUser overwrites a queued user's payload in place, without touching
// its position in the sorted set (used to persist widenStage/botModeActive
// flags during a matching cycle).
func (q *Store) SaveUser(ctx context.Context, u *User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return q.store.Set(ctx, store.QueueUserKey(u.UID), string(data), 0)
}
