// Package pool manages the per-account upstream connection pools, the
// load-balancing router over accounts, and the background health and
// idle-eviction supervisors.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opitios-ai/alpaca-gateway/internal/upstream"
)

// ConnectionStats is the health and usage telemetry owned by one
// Connection. Reads and writes go through the connection's stats lock.
type ConnectionStats struct {
	CreatedAt       time.Time
	LastUsed        time.Time
	UsageCount      int64
	ErrorCount      int64
	AvgResponseTime time.Duration
	Healthy         bool
}

// Connection is one reusable handle to an account's upstream API.
// The exclusivity lock is held from Acquire to Release and spans the
// caller's use of the upstream client; it is the only lock in the pool
// held across I/O.
type Connection struct {
	id        string
	accountID string
	client    upstream.Client
	logger    *zap.Logger

	// mu is the exclusivity lock.
	mu sync.Mutex

	// statsMu guards inUse, reserved and stats.
	statsMu  sync.Mutex
	inUse    bool
	reserved int
	stats    ConnectionStats
}

func newConnection(accountID string, client upstream.Client, logger *zap.Logger) *Connection {
	now := time.Now()
	return &Connection{
		id:        uuid.NewString(),
		accountID: accountID,
		client:    client,
		logger:    logger,
		stats: ConnectionStats{
			CreatedAt: now,
			LastUsed:  now,
			Healthy:   true,
		},
	}
}

// ID returns the connection's unique id.
func (c *Connection) ID() string {
	return c.id
}

// AccountID returns the owning account id.
func (c *Connection) AccountID() string {
	return c.accountID
}

// Client returns the upstream handle. Callers must hold the connection
// via Acquire while using it.
func (c *Connection) Client() upstream.Client {
	return c.client
}

// Acquire blocks until the exclusivity lock is obtained, then marks the
// connection in use and refreshes its last-used timestamp.
func (c *Connection) Acquire() {
	c.mu.Lock()

	c.statsMu.Lock()
	if c.reserved > 0 {
		c.reserved--
	}
	c.inUse = true
	c.stats.LastUsed = time.Now()
	c.statsMu.Unlock()
}

// Release marks the connection idle and releases the exclusivity lock.
// Releasing an already-released connection is a no-op.
func (c *Connection) Release() {
	c.statsMu.Lock()
	if !c.inUse {
		c.statsMu.Unlock()
		return
	}
	c.inUse = false
	c.statsMu.Unlock()

	c.mu.Unlock()
}

// reserve claims the connection for a caller that selected it under
// the registry lock but has not yet completed Acquire. The claim keeps
// the supervisor loops away from it during the handoff.
func (c *Connection) reserve() {
	c.statsMu.Lock()
	c.reserved++
	c.statsMu.Unlock()
}

// collectible reports whether the supervisor may probe or remove the
// connection: neither held nor claimed by an in-flight acquisition.
func (c *Connection) collectible() bool {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return !c.inUse && c.reserved == 0
}

// InUse reports whether the connection is currently held.
func (c *Connection) InUse() bool {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.inUse
}

// Available reports whether the connection is idle and healthy.
func (c *Connection) Available() bool {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return !c.inUse && c.stats.Healthy
}

// Stats returns a snapshot of the connection's telemetry.
func (c *Connection) Stats() ConnectionStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// Age returns how long the connection has existed.
func (c *Connection) Age() time.Duration {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return time.Since(c.stats.CreatedAt)
}

// IdleFor returns how long since the connection was last used.
func (c *Connection) IdleFor() time.Duration {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return time.Since(c.stats.LastUsed)
}

// Probe issues the upstream liveness call under the exclusivity lock
// and records the outcome. It reports health as a boolean and never
// lets a probe failure (or panic) escape to the caller.
func (c *Connection) Probe(ctx context.Context) (healthy bool) {
	defer func() {
		if r := recover(); r != nil {
			c.recordProbeFailure(nil)
			c.logger.Warn("connection probe panicked",
				zap.String("account_id", c.accountID),
				zap.String("connection_id", c.id),
				zap.Any("panic", r),
			)
			healthy = false
		}
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	err := c.client.Verify(ctx)
	elapsed := time.Since(start)

	if err != nil {
		c.recordProbeFailure(err)
		return false
	}

	c.recordSuccess(elapsed)
	return true
}

// RecordUse records a successful domain call made while the connection
// was held, updating the running mean response time.
func (c *Connection) RecordUse(elapsed time.Duration) {
	c.recordSuccess(elapsed)
}

// RecordError records a failed domain call.
func (c *Connection) RecordError() {
	c.statsMu.Lock()
	c.stats.ErrorCount++
	c.statsMu.Unlock()
}

func (c *Connection) recordSuccess(elapsed time.Duration) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	c.stats.LastUsed = time.Now()
	c.stats.UsageCount++
	// Incremental running mean.
	c.stats.AvgResponseTime += (elapsed - c.stats.AvgResponseTime) /
		time.Duration(c.stats.UsageCount)
	c.stats.Healthy = true
}

func (c *Connection) recordProbeFailure(err error) {
	c.statsMu.Lock()
	c.stats.ErrorCount++
	c.stats.Healthy = false
	c.statsMu.Unlock()

	if err != nil {
		c.logger.Warn("connection probe failed",
			zap.String("account_id", c.accountID),
			zap.String("connection_id", c.id),
			zap.Error(err),
		)
	}
}
