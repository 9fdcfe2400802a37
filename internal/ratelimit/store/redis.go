package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/opitios-ai/alpaca-gateway/internal/config"
)

var (
	redisStoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_redis_operations_total",
			Help: "Total number of Redis rate limit store operations",
		},
		[]string{"operation", "status"},
	)

	redisStoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ratelimit_redis_operation_duration_seconds",
			Help:    "Duration of Redis rate limit store operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)
)

const defaultPrefix = "ratelimit:"

// RedisStore keeps one sorted set per (identifier, window), scored by
// event time in nanoseconds. Admission is decided from the pre-insert
// cardinality; the event is recorded either way so sustained pressure
// keeps a saturated window closed.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger

	mu     sync.Mutex
	seq    uint64
	closed bool
}

// NewRedisStore creates a Redis-backed store. The connection is not
// verified here; callers probe liveness per admission call and fall
// back when Redis is unreachable.
func NewRedisStore(cfg config.RedisConfig, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout.Duration(),
		ReadTimeout:  cfg.ReadTimeout.Duration(),
		WriteTimeout: cfg.WriteTimeout.Duration(),
	})

	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// NewRedisStoreWithClient wraps an existing client. Used by tests.
func NewRedisStoreWithClient(client *redis.Client, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client: client,
		prefix: defaultPrefix,
		logger: logger,
	}
}

// Ping reports whether Redis currently answers.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Allow implements Store.
func (s *RedisStore) Allow(
	ctx context.Context,
	identifier string,
	limit int,
	window time.Duration,
) (*Decision, error) {
	start := time.Now()
	key := s.prefix + windowKey(identifier, window)
	windowStart := start.Add(-window).UnixNano()

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart, 10))
	card := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(start.UnixNano()),
		Member: s.member(start),
	})
	pipe.Expire(ctx, key, window+time.Second)

	_, err := pipe.Exec(ctx)
	redisStoreOperationDuration.WithLabelValues("allow").Observe(time.Since(start).Seconds())
	if err != nil {
		redisStoreOperationsTotal.WithLabelValues("allow", "error").Inc()
		return nil, fmt.Errorf("redis sliding window: %w", err)
	}
	redisStoreOperationsTotal.WithLabelValues("allow", "success").Inc()

	count := int(card.Val())
	allowed := count < limit
	remaining := limit - count - 1
	if remaining < 0 {
		remaining = 0
	}

	return &Decision{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   start.Add(window),
		Current:   count + 1,
	}, nil
}

// member builds a sorted-set member unique within the process.
func (s *RedisStore) member(now time.Time) string {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()
	return strconv.FormatInt(now.UnixNano(), 10) + ":" + strconv.FormatUint(seq, 10)
}

// Reset implements Store.
func (s *RedisStore) Reset(ctx context.Context, identifier string, window time.Duration) error {
	key := s.prefix + windowKey(identifier, window)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		redisStoreOperationsTotal.WithLabelValues("reset", "error").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	redisStoreOperationsTotal.WithLabelValues("reset", "success").Inc()
	return nil
}

// Close implements Store. Close is idempotent.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
