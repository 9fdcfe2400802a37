package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opitios-ai/alpaca-gateway/internal/config"
	"github.com/opitios-ai/alpaca-gateway/internal/secrets"
	"github.com/opitios-ai/alpaca-gateway/internal/upstream"
)

// Registry owns one connection pool per configured account. It is
// constructed once at process start and torn down once at shutdown;
// request handlers receive it by injection.
//
// The registry lock guards structural state only (the pools map and
// each pool's connection list) and is never held across upstream I/O.
type Registry struct {
	poolCfg   config.PoolConfig
	factory   upstream.Factory
	creds     secrets.Provider
	logger    *zap.Logger
	busyReuse bool

	mu         sync.Mutex
	cond       *sync.Cond
	accounts   map[string]config.AccountConfig
	pools      map[string]*accountPool
	enabledIDs []string

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	closed  bool
}

// NewRegistry creates a registry from the account configuration.
// Disabled accounts stay inspectable in the config map but never enter
// the enabled-account list.
func NewRegistry(
	accounts []config.AccountConfig,
	poolCfg config.PoolConfig,
	factory upstream.Factory,
	creds secrets.Provider,
	logger *zap.Logger,
) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}

	accountMap := make(map[string]config.AccountConfig, len(accounts))
	enabledIDs := make([]string, 0, len(accounts))
	for _, a := range accounts {
		accountMap[a.ID] = a
		if a.Enabled {
			enabledIDs = append(enabledIDs, a.ID)
		}
	}
	sort.Strings(enabledIDs)

	r := &Registry{
		poolCfg:    poolCfg,
		factory:    factory,
		creds:      creds,
		logger:     logger,
		busyReuse:  poolCfg.BusyReuseEnabled(),
		accounts:   accountMap,
		pools:      make(map[string]*accountPool),
		enabledIDs: enabledIDs,
		stopCh:     make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// EnabledAccountIDs returns the sorted ids of enabled accounts.
func (r *Registry) EnabledAccountIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, len(r.enabledIDs))
	copy(ids, r.enabledIDs)
	return ids
}

// AccountUsage returns the aggregate usage count across an account's
// connections. Used by the least-loaded routing strategy.
func (r *Registry) AccountUsage(accountID string) int64 {
	r.mu.Lock()
	p, ok := r.pools[accountID]
	if !ok {
		r.mu.Unlock()
		return 0
	}
	conns := make([]*Connection, len(p.conns))
	copy(conns, p.conns)
	r.mu.Unlock()

	var total int64
	for _, c := range conns {
		total += c.Stats().UsageCount
	}
	return total
}

// Acquire hands out a connection for the account: an idle one if
// available, a newly created one while under capacity, or under
// saturation the least-used busy connection when busy reuse is enabled.
//
// The returned connection is held exclusively; callers must Release it.
func (r *Registry) Acquire(ctx context.Context, accountID string) (*Connection, error) {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}

	acct, ok := r.accounts[accountID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("account %q: %w", accountID, ErrUnknownAccount)
	}
	if !acct.Enabled {
		r.mu.Unlock()
		return nil, fmt.Errorf("account %q: %w", accountID, ErrAccountDisabled)
	}

	for {
		if r.closed {
			r.mu.Unlock()
			return nil, ErrRegistryClosed
		}

		// Re-fetched each pass: eviction may drop an emptied pool
		// while this caller waits.
		p, ok := r.pools[accountID]
		if !ok {
			p = newAccountPool()
			r.pools[accountID] = p
		}

		// Reuse an idle healthy connection.
		if conn := p.firstAvailable(); conn != nil {
			conn.reserve()
			p.moveToBack(conn)
			r.mu.Unlock()
			conn.Acquire()
			return conn, nil
		}

		// Create a new connection while under capacity. The pending
		// slot is taken under the lock; construction and the probe
		// happen outside it.
		if p.size()+p.pending < acct.MaxConnections {
			return r.acquireNew(ctx, p, acct)
		}

		// Saturated: no idle connection and the pool is at capacity.
		if !r.busyReuse {
			r.mu.Unlock()
			return nil, fmt.Errorf("account %q: %w", accountID, ErrPoolSaturated)
		}

		if conn := p.leastUsed(); conn != nil {
			conn.reserve()
			p.moveToBack(conn)
			r.mu.Unlock()

			r.logger.Warn("pool saturated, sharing busy connection",
				zap.String("account_id", accountID),
				zap.String("connection_id", conn.ID()),
			)
			poolBusyReuseTotal.WithLabelValues(accountID).Inc()

			conn.Acquire()
			return conn, nil
		}

		// Empty pool with creations in flight: wait for one to land
		// and retry instead of failing the caller.
		r.cond.Wait()
	}
}

// acquireNew constructs a connection for a pending slot. Called with
// the registry lock held; returns with it released.
func (r *Registry) acquireNew(ctx context.Context, p *accountPool, acct config.AccountConfig) (*Connection, error) {
	p.pending++
	r.mu.Unlock()

	conn, err := r.createConnection(ctx, acct)

	r.mu.Lock()
	p.pending--
	if err != nil {
		// Waiters retry; with the slot freed one of them creates next.
		r.cond.Broadcast()
		r.mu.Unlock()
		return nil, err
	}
	if r.closed {
		r.cond.Broadcast()
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	conn.reserve()
	p.add(conn)
	p.moveToBack(conn)
	poolConnections.WithLabelValues(acct.ID).Set(float64(p.size()))
	r.cond.Broadcast()
	r.mu.Unlock()

	poolConnectionsCreatedTotal.WithLabelValues(acct.ID).Inc()
	conn.Acquire()
	return conn, nil
}

// createConnection resolves credentials, builds the upstream client and
// verifies it with a probe. A failed probe surfaces as an error; retry
// belongs to the next caller or health cycle.
func (r *Registry) createConnection(ctx context.Context, acct config.AccountConfig) (*Connection, error) {
	creds, err := r.creds.GetCredentials(ctx, acct.CredentialsRef)
	if err != nil {
		return nil, fmt.Errorf("account %q: resolving credentials: %w", acct.ID, err)
	}

	conn := newConnection(acct.ID, r.factory(creds), r.logger)
	if !conn.Probe(ctx) {
		return nil, fmt.Errorf("account %q: %w", acct.ID, ErrConnectionFailed)
	}

	r.logger.Info("connection established",
		zap.String("account_id", acct.ID),
		zap.String("connection_id", conn.ID()),
	)
	return conn, nil
}

// Release returns a connection to its pool and emits usage telemetry.
// It never fails; releasing twice is harmless.
func (r *Registry) Release(conn *Connection) {
	if conn == nil {
		return
	}
	conn.Release()

	stats := conn.Stats()
	poolReleasesTotal.WithLabelValues(conn.AccountID()).Inc()
	poolConnectionResponseTime.WithLabelValues(conn.AccountID()).
		Observe(stats.AvgResponseTime.Seconds())

	r.logger.Debug("connection released",
		zap.String("account_id", conn.AccountID()),
		zap.String("connection_id", conn.ID()),
		zap.Int64("usage_count", stats.UsageCount),
		zap.Int64("error_count", stats.ErrorCount),
		zap.Duration("avg_response_time", stats.AvgResponseTime),
	)
}

// AccountStats is the per-account view returned by Stats.
type AccountStats struct {
	ConnectionCount      int           `json:"connection_count"`
	AvailableConnections int           `json:"available_connections"`
	HealthyConnections   int           `json:"healthy_connections"`
	TotalUsage           int64         `json:"total_usage"`
	TotalErrors          int64         `json:"total_errors"`
	AvgResponseTime      time.Duration `json:"avg_response_time"`
}

// RegistryStats is the read-only snapshot returned by Stats.
type RegistryStats struct {
	TotalAccounts    int                     `json:"total_accounts"`
	ActiveAccounts   int                     `json:"active_accounts"`
	TotalConnections int                     `json:"total_connections"`
	Accounts         map[string]AccountStats `json:"accounts"`
}

// Stats returns a snapshot of the registry without mutating state.
func (r *Registry) Stats() RegistryStats {
	r.mu.Lock()
	snapshot := make(map[string][]*Connection, len(r.pools))
	for id, p := range r.pools {
		conns := make([]*Connection, len(p.conns))
		copy(conns, p.conns)
		snapshot[id] = conns
	}
	stats := RegistryStats{
		TotalAccounts:  len(r.accounts),
		ActiveAccounts: len(r.enabledIDs),
		Accounts:       make(map[string]AccountStats, len(snapshot)),
	}
	r.mu.Unlock()

	for id, conns := range snapshot {
		acct := AccountStats{ConnectionCount: len(conns)}
		var avgSum time.Duration
		for _, c := range conns {
			cs := c.Stats()
			if c.Available() {
				acct.AvailableConnections++
			}
			if cs.Healthy {
				acct.HealthyConnections++
			}
			acct.TotalUsage += cs.UsageCount
			acct.TotalErrors += cs.ErrorCount
			avgSum += cs.AvgResponseTime
		}
		if len(conns) > 0 {
			acct.AvgResponseTime = avgSum / time.Duration(len(conns))
		}
		stats.TotalConnections += len(conns)
		stats.Accounts[id] = acct
	}
	return stats
}

// Start launches the health-check and idle-eviction loops. It is called
// once by the process entry point.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started || r.closed {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	r.wg.Add(2)
	go r.runHealthLoop(ctx)
	go r.runEvictionLoop(ctx)

	r.logger.Info("pool supervisor started",
		zap.Duration("health_check_interval", r.poolCfg.HealthCheckInterval.Duration()),
		zap.Duration("eviction_interval", r.poolCfg.EvictionInterval.Duration()),
		zap.Duration("idle_timeout", r.poolCfg.IdleTimeout.Duration()),
	)
}

// Stop cancels the background loops, waits for them to exit (bounded by
// ctx), best-effort releases connections still in use and clears all
// pool state. Stop always completes; errors along the way are logged
// and suppressed.
func (r *Registry) Stop(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	started := r.started
	r.cond.Broadcast()
	r.mu.Unlock()

	if started {
		close(r.stopCh)

		done := make(chan struct{})
		go func() {
			r.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			r.logger.Warn("pool supervisor stop timed out", zap.Error(ctx.Err()))
		}
	}

	r.mu.Lock()
	pools := r.pools
	r.pools = make(map[string]*accountPool)
	r.mu.Unlock()

	for id, p := range pools {
		for _, conn := range p.conns {
			if conn.InUse() {
				r.logger.Warn("releasing in-use connection at shutdown",
					zap.String("account_id", id),
					zap.String("connection_id", conn.ID()),
				)
				conn.Release()
			}
			poolConnectionsRemovedTotal.WithLabelValues(id, removeReasonShutdown).Inc()
		}
		poolConnections.WithLabelValues(id).Set(0)
	}

	r.logger.Info("pool registry stopped")
}
