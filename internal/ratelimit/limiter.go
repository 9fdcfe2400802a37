// Package ratelimit implements per-user-per-endpoint admission control
// over a sliding window, backed by Redis with an automatic in-process
// fallback.
package ratelimit

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/opitios-ai/alpaca-gateway/internal/config"
	"github.com/opitios-ai/alpaca-gateway/internal/ratelimit/store"
)

// Decision is the outcome of one admission check.
type Decision = store.Decision

// BackendRedis and BackendMemory name the configured backends.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Limiter decides request admission. With the Redis backend configured
// it re-checks Redis availability on every call through a circuit
// breaker and silently degrades to the in-process store while Redis is
// down; when the breaker recovers, decisions move back to Redis.
//
// Backend failures never block a request path: Allow always yields a
// decision.
type Limiter struct {
	redis   *store.RedisStore
	memory  *store.MemoryStore
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewLimiter builds a limiter from configuration. The memory store is
// always constructed; it is the primary backend for "memory" and the
// fallback for "redis".
func NewLimiter(cfg config.RateLimitConfig, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Limiter{
		memory: store.NewMemoryStore(cfg.SweepInterval.Duration(), logger),
		logger: logger,
	}

	if cfg.Backend == BackendRedis {
		l.redis = store.NewRedisStore(cfg.Redis, logger)
		l.breaker = newBreaker(logger)
	}
	return l
}

// NewLimiterWithStores wires explicit stores. Used by tests.
func NewLimiterWithStores(redisStore *store.RedisStore, memoryStore *store.MemoryStore, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Limiter{
		redis:  redisStore,
		memory: memoryStore,
		logger: logger,
	}
	if redisStore != nil {
		l.breaker = newBreaker(logger)
	}
	return l
}

func newBreaker(logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ratelimit-redis",
		MaxRequests: 1,
		Timeout:     5 * time.Second,
		// Trip on the first failure so subsequent requests skip the
		// Redis round-trip immediately; half-open retries self-heal.
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateClosed {
				backendHealthy.Set(1)
			} else {
				backendHealthy.Set(0)
			}
			logger.Warn("rate limit backend state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// Allow decides whether identifier may make another request under the
// given rule. The error return exists for interface symmetry with
// Reset; admission never fails, it degrades.
func (l *Limiter) Allow(
	ctx context.Context,
	identifier string,
	limit int,
	window time.Duration,
) (*Decision, error) {
	if l.redis != nil {
		res, err := l.breaker.Execute(func() (interface{}, error) {
			return l.redis.Allow(ctx, identifier, limit, window)
		})
		if err == nil {
			d := res.(*Decision)
			observeDecision(BackendRedis, d.Allowed)
			return d, nil
		}

		fallbackTotal.Inc()
		l.logger.Debug("redis unavailable, using memory rate limit backend",
			zap.String("identifier", identifier),
			zap.Error(err),
		)
	}

	d, _ := l.memory.Allow(ctx, identifier, limit, window)
	observeDecision(BackendMemory, d.Allowed)
	return d, nil
}

// Reset clears the identifier's state in every configured backend.
func (l *Limiter) Reset(ctx context.Context, identifier string, window time.Duration) error {
	var redisErr error
	if l.redis != nil {
		_, redisErr = l.breaker.Execute(func() (interface{}, error) {
			return nil, l.redis.Reset(ctx, identifier, window)
		})
	}
	if err := l.memory.Reset(ctx, identifier, window); err != nil {
		return err
	}
	return redisErr
}

// Healthy reports whether the primary backend currently serves
// decisions. A memory-only limiter is always healthy.
func (l *Limiter) Healthy() bool {
	if l.redis == nil {
		return true
	}
	return l.breaker.State() == gobreaker.StateClosed
}

// Close releases both backends.
func (l *Limiter) Close() error {
	var err error
	if l.redis != nil {
		err = l.redis.Close()
	}
	if memErr := l.memory.Close(); err == nil {
		err = memErr
	}
	return err
}
