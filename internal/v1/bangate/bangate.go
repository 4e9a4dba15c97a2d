// Package bangate implements the Ban Gate: a time-bounded deny list keyed
// by uid, auto-expiring, per spec §4.2.
package bangate

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/chorus-party/matchmaking/internal/v1/logging"
	"github.com/chorus-party/matchmaking/internal/v1/store"
	"go.uber.org/zap"
)

// Entry is a single ban record.
type Entry struct {
	UID       string `json:"uid"`
	Reason    string `json:"reason"`
	BannedAt  int64  `json:"bannedAt"`
	ExpiresAt int64  `json:"expiresAt"` // 0 means indefinite
}

// Gate is the Ban Gate.
type Gate struct {
	store store.Store
}

// New creates a Ban Gate backed by store.
func New(s store.Store) *Gate {
	return &Gate{store: s}
}

// BanUser stores a ban entry. durationMinutes<=0 means indefinite (no TTL,
// ExpiresAt=0); otherwise the store entry's TTL matches the duration so it
// self-expires without a reaper.
func (g *Gate) BanUser(ctx context.Context, uid, reason string, durationMinutes int, now time.Time) error {
	entry := Entry{
		UID:      uid,
		Reason:   reason,
		BannedAt: now.UnixMilli(),
	}

	var ttl time.Duration
	if durationMinutes > 0 {
		ttl = time.Duration(durationMinutes) * time.Minute
		entry.ExpiresAt = now.Add(ttl).UnixMilli()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := g.store.Set(ctx, store.BanKey(uid), string(data), ttl); err != nil {
		return err
	}

	logging.Info(ctx, "user banned", zap.String("uid", uid), zap.String("reason", reason), zap.Int("duration_minutes", durationMinutes))
	return nil
}

// UnbanUser removes an entry, if present.
func (g *Gate) UnbanUser(ctx context.Context, uid string) error {
	if err := g.store.Del(ctx, store.BanKey(uid)); err != nil {
		return err
	}
	logging.Info(ctx, "user unbanned", zap.String("uid", uid))
	return nil
}

// IsBanned returns the ban entry if present and unexpired, else nil.
// Guests bypass uid-keyed bans (IP-based moderation is out of scope per §4.2).
func (g *Gate) IsBanned(ctx context.Context, uid string) (*Entry, error) {
	if strings.HasPrefix(uid, "guest_") {
		return nil, nil
	}

	raw, ok, err := g.store.Get(ctx, store.BanKey(uid))
	if err != nil || !ok {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		logging.Warn(ctx, "malformed ban entry, treating as not banned", zap.String("uid", uid), zap.Error(err))
		return nil, nil
	}
	return &entry, nil
}

// GetRemainingBanTime returns >0 ms remaining, -1 for permanent, 0 for not
// banned.
func (g *Gate) GetRemainingBanTime(ctx context.Context, uid string, now time.Time) (int64, error) {
	entry, err := g.IsBanned(ctx, uid)
	if err != nil || entry == nil {
		return 0, err
	}
	if entry.ExpiresAt == 0 {
		return -1, nil
	}
	remaining := entry.ExpiresAt - now.UnixMilli()
	if remaining <= 0 {
		return 0, nil
	}
	return remaining, nil
}
