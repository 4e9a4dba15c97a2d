// Package lease implements the Tick Leader's short-TTL, set-if-absent lock
// that serializes the matching cycle across replicas, per spec §4.4/§5.
package lease

import (
	"context"
	"time"

	"github.com/chorus-party/matchmaking/internal/v1/logging"
	"github.com/chorus-party/matchmaking/internal/v1/metrics"
	"github.com/chorus-party/matchmaking/internal/v1/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TTL is the nominal lease lifetime; if the holder crashes mid-cycle the
// lease expires naturally and a later replica can claim it.
const TTL = 3 * time.Second

// Leader attempts to claim the named tick lease each period and releases it
// with a delete-if-value-equals compare so a stalled holder (GC pause,
// scheduler stall) can never evict a successor's lease, per the §9
// recommendation over the baseline unconditional delete.
type Leader struct {
	store store.Store
}

// New creates a Tick Leader backed by store.
func New(s store.Store) *Leader {
	return &Leader{store: s}
}

// Held represents one successfully claimed lease, carrying the token that
// must be presented on Release.
type Held struct {
	token string
}

// TryAcquire attempts to claim the lease. ok is false if another replica
// currently holds it; this is LeaseContention, not an error (spec §7).
func (l *Leader) TryAcquire(ctx context.Context) (*Held, bool, error) {
	token := uuid.NewString()
	won, err := l.store.SetNX(ctx, store.LockKey, token, TTL)
	if err != nil {
		return nil, false, err
	}
	if !won {
		metrics.TickLeaseContention.Inc()
		return nil, false, nil
	}

	metrics.TickLeaderHeld.Set(1)
	logging.Debug(ctx, "tick lease acquired", zap.String("token", token))
	return &Held{token: token}, true, nil
}

// Release deletes the lease iff it still holds this replica's token.
func (l *Leader) Release(ctx context.Context, h *Held) error {
	if h == nil {
		return nil
	}
	deleted, err := l.store.CompareDelete(ctx, store.LockKey, h.token)
	if err != nil {
		return err
	}
	metrics.TickLeaderHeld.Set(0)
	if !deleted {
		logging.Warn(ctx, "tick lease release no-op: token already superseded", zap.String("token", h.token))
	}
	return nil
}
