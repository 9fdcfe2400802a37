package pool

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// runHealthLoop probes idle connections at the configured interval and
// removes the ones that fail.
func (r *Registry) runHealthLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.poolCfg.HealthCheckInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.healthCheckCycle(ctx)
		}
	}
}

// healthCheckCycle snapshots idle connections under the lock, probes
// them outside it, then removes the failures. A connection that became
// busy between the snapshot and the removal is left alone; in-use and
// handed-off connections are never destroyed.
func (r *Registry) healthCheckCycle(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	snapshot := make(map[string][]*Connection, len(r.pools))
	for id, p := range r.pools {
		for _, conn := range p.conns {
			if conn.collectible() {
				snapshot[id] = append(snapshot[id], conn)
			}
		}
	}
	r.mu.Unlock()

	unhealthy := make(map[string][]*Connection)
	for id, conns := range snapshot {
		for _, conn := range conns {
			if !conn.collectible() {
				continue
			}
			if !conn.Probe(ctx) {
				unhealthy[id] = append(unhealthy[id], conn)
			}
		}
	}
	if len(unhealthy) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, conns := range unhealthy {
		p, ok := r.pools[id]
		if !ok {
			continue
		}
		for _, conn := range conns {
			if !conn.collectible() {
				continue
			}
			p.remove(conn)
			poolConnectionsRemovedTotal.WithLabelValues(id, removeReasonUnhealthy).Inc()
			r.logger.Info("removed unhealthy connection",
				zap.String("account_id", id),
				zap.String("connection_id", conn.ID()),
			)
		}
		poolConnections.WithLabelValues(id).Set(float64(p.size()))
	}
}

// runEvictionLoop drops connections idle longer than the configured
// timeout. Eviction needs no I/O, so the whole cycle runs under the lock.
func (r *Registry) runEvictionLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.poolCfg.EvictionInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evictionCycle()
		}
	}
}

func (r *Registry) evictionCycle() {
	idleTimeout := r.poolCfg.IdleTimeout.Duration()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	for id, p := range r.pools {
		var expired []*Connection
		for _, conn := range p.conns {
			if conn.collectible() && conn.IdleFor() > idleTimeout {
				expired = append(expired, conn)
			}
		}
		for _, conn := range expired {
			p.remove(conn)
			poolConnectionsRemovedTotal.WithLabelValues(id, removeReasonIdle).Inc()
			r.logger.Debug("evicted idle connection",
				zap.String("account_id", id),
				zap.String("connection_id", conn.ID()),
				zap.Duration("idle_for", conn.IdleFor()),
			)
		}
		poolConnections.WithLabelValues(id).Set(float64(p.size()))
		if p.size() == 0 && p.pending == 0 {
			delete(r.pools, id)
		}
	}
}
