package match

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/chorus-party/matchmaking/internal/v1/logging"
	"github.com/chorus-party/matchmaking/internal/v1/metrics"
	"github.com/chorus-party/matchmaking/internal/v1/protocol"
	"github.com/chorus-party/matchmaking/internal/v1/queue"
	"github.com/chorus-party/matchmaking/internal/v1/session"
	"github.com/chorus-party/matchmaking/internal/v1/store"
	"go.uber.org/zap"
)

// DefaultBatch is the nominal per-partition page size read each cycle, per
// spec §4.5 step 1.
const DefaultBatch = 100

// Matcher is the subset of *session.Registry the engine needs to hand off a
// pair once formed.
type Matcher interface {
	ExecuteMatch(ctx context.Context, a, b *queue.User) error
}

// Engine is the Match Engine: one call to RunCycle is one matching cycle.
// It holds no state of its own between cycles beyond what is persisted to
// the Queue Store, so any replica holding the tick lease can run it.
type Engine struct {
	queue   *queue.Store
	matcher Matcher
	emitter protocol.Emitter
	batch   int64
	now     func() time.Time
}

// New creates a Match Engine.
func New(q *queue.Store, sessions Matcher, emitter protocol.Emitter) *Engine {
	return &Engine{queue: q, matcher: sessions, emitter: emitter, batch: DefaultBatch, now: time.Now}
}

// RunCycle executes one matching cycle per spec §4.5:
//  1. read oldest batch uids from each gender partition
//  2. hydrate payloads, skipping missing/malformed entries
//  3. derive each waiter's widen stage from elapsed wait time
//  4. fire start_bot_mode once a waiter crosses the bot-mode threshold
//  5. scan oldest-first for the first reciprocally eligible pair
//  6. hand off each formed pair to the Session Registry
func (e *Engine) RunCycle(ctx context.Context) error {
	start := e.now()
	defer func() {
		metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()

	waiters, err := e.hydrate(ctx, start)
	if err != nil {
		return err
	}

	sort.SliceStable(waiters, func(i, j int) bool {
		return waiters[i].JoinedAt < waiters[j].JoinedAt
	})

	matched := make(map[string]bool, len(waiters))
	for i, u := range waiters {
		if matched[u.UID] {
			continue
		}
		for j := i + 1; j < len(waiters); j++ {
			c := waiters[j]
			if matched[c.UID] {
				continue
			}
			if !Eligible(u, c) {
				continue
			}
			if err := e.formMatch(ctx, start, u, c); err != nil {
				return err
			}
			matched[u.UID] = true
			matched[c.UID] = true
			break
		}
	}
	return nil
}

// hydrate reads and decorates the oldest batch of waiters from each
// partition, persisting any widen-stage or bot-mode transition before
// returning them for the pairing scan.
func (e *Engine) hydrate(ctx context.Context, now time.Time) ([]*queue.User, error) {
	var waiters []*queue.User
	for _, gender := range []store.Gender{store.Male, store.Female} {
		uids, err := e.queue.Range(ctx, gender, e.batch)
		if err != nil {
			return nil, err
		}
		for _, uid := range uids {
			u, ok, err := e.queue.GetUser(ctx, uid)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}

			waitMs := now.UnixMilli() - u.JoinedAt
			prevStage := u.WidenStage
			u.WidenStage = DeriveWidenStage(waitMs, u.Tier)
			dirty := u.WidenStage != prevStage

			if ShouldStartBotMode(waitMs, u.BotModeActive) {
				u.BotModeActive = true
				dirty = true
				if err := e.emitter.Emit(ctx, u.SocketID, protocol.OutStartBotMode, protocol.StartBotMode{Reason: "timeout_waiting"}); err != nil {
					logging.Warn(ctx, "failed to emit start_bot_mode", zap.String("uid", uid), zap.Error(err))
				}
			}

			if dirty {
				if err := e.queue.SaveUser(ctx, u); err != nil {
					return nil, err
				}
			}
			waiters = append(waiters, u)
		}
	}
	return waiters, nil
}

// formMatch removes both waiters from queue, records the match metrics, and
// hands the pair to the Session Registry.
func (e *Engine) formMatch(ctx context.Context, now time.Time, u, c *queue.User) error {
	if err := e.queue.RemoveByUID(ctx, u.UID); err != nil {
		return err
	}
	if err := e.queue.RemoveByUID(ctx, c.UID); err != nil {
		return err
	}

	stage := max(u.WidenStage, c.WidenStage)
	metrics.MatchesTotal.WithLabelValues(strconv.Itoa(stage)).Inc()
	metrics.QueueWaitSeconds.WithLabelValues(string(u.Mode)).Observe(float64(now.UnixMilli()-u.JoinedAt) / 1000)
	metrics.QueueWaitSeconds.WithLabelValues(string(c.Mode)).Observe(float64(now.UnixMilli()-c.JoinedAt) / 1000)

	logging.Info(ctx, "match formed", zap.String("uid_a", u.UID), zap.String("uid_b", c.UID), zap.Int("widen_stage", stage))
	return e.matcher.ExecuteMatch(ctx, u, c)
}

var _ Matcher = (*session.Registry)(nil)
