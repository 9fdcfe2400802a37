package pool

import (
	"hash/fnv"
	"math/rand"
	"sync"
	"sync/atomic"
)

// Strategy selects which enabled account serves a request.
type Strategy string

const (
	StrategyRoundRobin  Strategy = "round_robin"
	StrategyHash        Strategy = "hash"
	StrategyLeastLoaded Strategy = "least_loaded"
	StrategyRandom      Strategy = "random"
)

// ParseStrategy maps a strategy name from configuration. Unknown or
// empty names fall back to round robin.
func ParseStrategy(s string) Strategy {
	switch Strategy(s) {
	case StrategyRoundRobin, StrategyHash, StrategyLeastLoaded, StrategyRandom:
		return Strategy(s)
	}
	return StrategyRoundRobin
}

// Router picks accounts from a registry's enabled set.
type Router struct {
	registry *Registry
	counter  atomic.Uint64

	randMu sync.Mutex
	rand   *rand.Rand
}

// NewRouter creates a router over the registry's enabled accounts.
func NewRouter(registry *Registry, seed int64) *Router {
	return &Router{
		registry: registry,
		rand:     rand.New(rand.NewSource(seed)),
	}
}

// Pick returns the account id the strategy selects. The routing key is
// only consulted by the hash strategy; the same key always maps to the
// same account while the enabled set is unchanged.
func (rt *Router) Pick(strategy Strategy, routingKey string) (string, error) {
	ids := rt.registry.EnabledAccountIDs()
	if len(ids) == 0 {
		return "", ErrNoEnabledAccounts
	}

	switch strategy {
	case StrategyRoundRobin:
		n := rt.counter.Add(1) - 1
		return ids[n%uint64(len(ids))], nil

	case StrategyHash:
		h := fnv.New32a()
		h.Write([]byte(routingKey))
		return ids[h.Sum32()%uint32(len(ids))], nil

	case StrategyLeastLoaded:
		// Lowest aggregate usage wins; health is not consulted, the
		// pool sorts that out on acquire.
		best := ids[0]
		bestUsage := rt.registry.AccountUsage(best)
		for _, id := range ids[1:] {
			if usage := rt.registry.AccountUsage(id); usage < bestUsage {
				best, bestUsage = id, usage
			}
		}
		return best, nil

	case StrategyRandom:
		rt.randMu.Lock()
		i := rt.rand.Intn(len(ids))
		rt.randMu.Unlock()
		return ids[i], nil
	}

	// Unknown strategies behave like round robin.
	n := rt.counter.Add(1) - 1
	return ids[n%uint64(len(ids))], nil
}
