package pool

// accountPool is the set of connections for one account plus a
// usage-order queue. The queue is a least-recently-used hint for
// tie-breaking only; correctness never depends on it.
//
// All accountPool state is guarded by the registry lock.
type accountPool struct {
	conns []*Connection

	// order holds the same connections in usage order, most recently
	// selected at the back.
	order []*Connection

	// pending counts connections being constructed outside the registry
	// lock. Pending slots count toward the account's capacity so the
	// pool bound holds at every observable instant.
	pending int
}

func newAccountPool() *accountPool {
	return &accountPool{}
}

func (p *accountPool) size() int {
	return len(p.conns)
}

func (p *accountPool) add(conn *Connection) {
	p.conns = append(p.conns, conn)
	p.order = append(p.order, conn)
}

func (p *accountPool) remove(conn *Connection) {
	for i, c := range p.conns {
		if c == conn {
			p.conns = append(p.conns[:i], p.conns[i+1:]...)
			break
		}
	}
	for i, c := range p.order {
		if c == conn {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// moveToBack marks a connection as most recently selected.
func (p *accountPool) moveToBack(conn *Connection) {
	for i, c := range p.order {
		if c == conn {
			p.order = append(p.order[:i], p.order[i+1:]...)
			p.order = append(p.order, conn)
			return
		}
	}
}

// firstAvailable returns the first idle healthy connection, or nil.
func (p *accountPool) firstAvailable() *Connection {
	for _, c := range p.conns {
		if c.Available() {
			return c
		}
	}
	return nil
}

// leastUsed returns the connection with the lowest usage count,
// preferring the least recently selected on ties. Returns nil for an
// empty pool.
func (p *accountPool) leastUsed() *Connection {
	var selected *Connection
	var minUsage int64 = -1

	// Iterate the usage-order queue front to back so ties resolve to
	// the least recently selected connection.
	for _, c := range p.order {
		usage := c.Stats().UsageCount
		if minUsage == -1 || usage < minUsage {
			minUsage = usage
			selected = c
		}
	}
	return selected
}
