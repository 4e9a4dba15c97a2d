package store

import (
	"context"
	"errors"
	"time"

	"github.com/chorus-party/matchmaking/internal/v1/logging"
	"github.com/chorus-party/matchmaking/internal/v1/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// compareDeleteScript deletes KEYS[1] only if its value equals ARGV[1],
// so a stalled lease holder can never evict a successor's lease.
const compareDeleteScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`

// RedisStore implements Store over go-redis, tracking every call with the
// redis_operations_total / redis_operation_duration_seconds metrics and
// degrading gracefully (fail-open reads, swallowed writes) when the
// circuit breaker is open, per spec §7 "Transient backend failure".
type RedisStore struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// NewRedisStore wraps an existing *redis.Client (typically shared with the
// bus.Service pub/sub connection) in a dedicated circuit breaker for data
// operations, separate from the pub/sub breaker.
func NewRedisStore(client *redis.Client) *RedisStore {
	st := gobreaker.Settings{
		Name:        "redis-store",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var v float64
			switch to {
			case gobreaker.StateClosed:
				v = 0
			case gobreaker.StateOpen:
				v = 1
			case gobreaker.StateHalfOpen:
				v = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis-store").Set(v)
		},
	}
	return &RedisStore{client: client, cb: gobreaker.NewCircuitBreaker(st)}
}

func (s *RedisStore) execute(ctx context.Context, op string, fn func() (interface{}, error)) (interface{}, error) {
	start := time.Now()
	res, err := s.cb.Execute(fn)
	metrics.RedisOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			metrics.CircuitBreakerFailures.WithLabelValues("redis-store").Inc()
			metrics.RedisOperationsTotal.WithLabelValues(op, "breaker_open").Inc()
			return nil, errOpen
		}
		if errors.Is(err, redis.Nil) {
			metrics.RedisOperationsTotal.WithLabelValues(op, "miss").Inc()
			return nil, redis.Nil
		}
		metrics.RedisOperationsTotal.WithLabelValues(op, "error").Inc()
		logging.Error(ctx, "redis store operation failed", zap.String("op", op), zap.Error(err))
		return nil, err
	}
	metrics.RedisOperationsTotal.WithLabelValues(op, "ok").Inc()
	return res, nil
}

// errOpen marks a degraded-by-circuit-breaker result distinctly from a hard
// error so callers can fail open on reads without logging noise.
var errOpen = errors.New("redis store: circuit breaker open")

func (s *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	_, err := s.execute(ctx, "zadd", func() (interface{}, error) {
		return nil, s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
	})
	if errors.Is(err, errOpen) {
		return nil
	}
	return err
}

func (s *RedisStore) ZRem(ctx context.Context, key string, member string) error {
	_, err := s.execute(ctx, "zrem", func() (interface{}, error) {
		return nil, s.client.ZRem(ctx, key, member).Err()
	})
	if errors.Is(err, errOpen) {
		return nil
	}
	return err
}

func (s *RedisStore) ZRange(ctx context.Context, key string, limit int64) ([]string, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = limit - 1
	}
	res, err := s.execute(ctx, "zrange", func() (interface{}, error) {
		return s.client.ZRange(ctx, key, 0, stop).Result()
	})
	if errors.Is(err, errOpen) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res.([]string), nil
}

func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	res, err := s.execute(ctx, "zcard", func() (interface{}, error) {
		return s.client.ZCard(ctx, key).Result()
	})
	if errors.Is(err, errOpen) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	res, err := s.execute(ctx, "get", func() (interface{}, error) {
		return s.client.Get(ctx, key).Result()
	})
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if errors.Is(err, errOpen) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return res.(string), true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	_, err := s.execute(ctx, "set", func() (interface{}, error) {
		return nil, s.client.Set(ctx, key, value, ttl).Err()
	})
	if errors.Is(err, errOpen) {
		return nil
	}
	return err
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	_, err := s.execute(ctx, "del", func() (interface{}, error) {
		return nil, s.client.Del(ctx, key).Err()
	})
	if errors.Is(err, errOpen) {
		return nil
	}
	return err
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	res, err := s.execute(ctx, "ttl", func() (interface{}, error) {
		return s.client.TTL(ctx, key).Result()
	})
	if errors.Is(err, errOpen) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	d := res.(time.Duration)
	switch d {
	case -1:
		// go-redis sentinel: key exists with no expiry (permanent ban entry).
		return -1, nil
	case -2:
		// go-redis sentinel: key does not exist.
		return 0, nil
	default:
		return d, nil
	}
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	res, err := s.execute(ctx, "setnx", func() (interface{}, error) {
		return s.client.SetNX(ctx, key, value, ttl).Result()
	})
	if errors.Is(err, errOpen) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (s *RedisStore) CompareDelete(ctx context.Context, key, expected string) (bool, error) {
	res, err := s.execute(ctx, "compare_delete", func() (interface{}, error) {
		return s.client.Eval(ctx, compareDeleteScript, []string{key}, expected).Result()
	})
	if errors.Is(err, errOpen) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	n, _ := res.(int64)
	return n == 1, nil
}

func (s *RedisStore) SAdd(ctx context.Context, key, member string) error {
	_, err := s.execute(ctx, "sadd", func() (interface{}, error) {
		return nil, s.client.SAdd(ctx, key, member).Err()
	})
	if errors.Is(err, errOpen) {
		return nil
	}
	return err
}

func (s *RedisStore) SRem(ctx context.Context, key, member string) error {
	_, err := s.execute(ctx, "srem", func() (interface{}, error) {
		return nil, s.client.SRem(ctx, key, member).Err()
	})
	if errors.Is(err, errOpen) {
		return nil
	}
	return err
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	res, err := s.execute(ctx, "smembers", func() (interface{}, error) {
		return s.client.SMembers(ctx, key).Result()
	})
	if errors.Is(err, errOpen) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res.([]string), nil
}

func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	res, err := s.execute(ctx, "keys", func() (interface{}, error) {
		return s.client.Keys(ctx, pattern).Result()
	})
	if errors.Is(err, errOpen) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res.([]string), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
