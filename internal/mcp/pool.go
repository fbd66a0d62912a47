package mcp

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/config"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/logging"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/tools"
)

// pooledConn is one connection slot owned by a Pool.
type pooledConn struct {
	id        string
	state     ConnState
	conn      RemoteConn
	createdAt time.Time
	lastUsed  time.Time
	useCount  int64
}

// Pool hands out connections to a single tool server. Idle connections are
// reused, new ones are dialed up to a per-server maximum, and callers past
// the maximum wait a bounded time for a release. Failed connections are
// excluded from checkout until CheckHealth reconnects them.
type Pool struct {
	server         config.ServerConfig
	dialer         Dialer
	max            int
	acquireTimeout time.Duration

	mu      sync.Mutex
	cond    *sync.Cond
	conns   map[string]*pooledConn
	order   []string
	dialing int
	closed  bool
}

// NewPool builds a pool for one server. Nothing is dialed until the first
// Acquire.
func NewPool(server config.ServerConfig, dialer Dialer, max int, acquireTimeout time.Duration) *Pool {
	if max < 1 {
		max = 1
	}
	p := &Pool{
		server:         server,
		dialer:         dialer,
		max:            max,
		acquireTimeout: acquireTimeout,
		conns:          make(map[string]*pooledConn),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Acquire checks out a connection: an idle one if available, a freshly
// dialed one while under the per-server maximum, otherwise it waits for a
// release until the acquire timeout elapses.
func (p *Pool) Acquire(ctx context.Context) (Lease, error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	// Wake waiters when the deadline passes so they can observe it.
	stop := context.AfterFunc(waitCtx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	for {
		if p.closed {
			p.mu.Unlock()
			return Lease{}, tools.E(tools.CodeServerUnavailable, "pool.acquire", "pool for %s is closed", p.server.Name)
		}

		if lease, ok := p.takeIdleLocked(); ok {
			p.mu.Unlock()
			return lease, nil
		}

		if p.activeLocked()+p.dialing < p.max {
			return p.dialLocked(waitCtx)
		}

		if err := waitCtx.Err(); err != nil {
			p.mu.Unlock()
			if errors.Is(err, context.DeadlineExceeded) {
				return Lease{}, tools.E(tools.CodePoolExhausted, "pool.acquire",
					"no connection for %s within %s (%d in use)", p.server.Name, p.acquireTimeout, p.max)
			}
			return Lease{}, tools.Wrap(tools.CodePoolExhausted, "pool.acquire", err)
		}
		p.cond.Wait()
	}
}

// takeIdleLocked checks out the first idle connection in creation order.
func (p *Pool) takeIdleLocked() (Lease, bool) {
	for _, id := range p.order {
		c := p.conns[id]
		if c.state != ConnIdle {
			continue
		}
		c.state = ConnBusy
		c.useCount++
		c.lastUsed = time.Now()
		return Lease{ID: c.id, Conn: c.conn}, true
	}
	return Lease{}, false
}

// activeLocked counts connections that occupy a capacity slot. Failed
// connections give their slot up so a replacement can be dialed.
func (p *Pool) activeLocked() int {
	n := 0
	for _, c := range p.conns {
		if c.state == ConnIdle || c.state == ConnBusy {
			n++
		}
	}
	return n
}

// dialLocked reserves a capacity slot, dials outside the lock, and registers
// the new connection as busy. Called with p.mu held; returns with it released.
func (p *Pool) dialLocked(ctx context.Context) (Lease, error) {
	p.dialing++
	p.mu.Unlock()

	conn, err := p.dialer.Dial(ctx, p.server)

	p.mu.Lock()
	p.dialing--
	if err != nil {
		p.cond.Signal()
		p.mu.Unlock()
		return Lease{}, tools.Wrap(tools.CodeServerUnavailable, "pool.dial", err)
	}
	if p.closed {
		p.mu.Unlock()
		conn.Close()
		return Lease{}, tools.E(tools.CodeServerUnavailable, "pool.dial", "pool for %s closed during dial", p.server.Name)
	}

	now := time.Now()
	c := &pooledConn{
		id:        uuid.New().String(),
		state:     ConnBusy,
		conn:      conn,
		createdAt: now,
		lastUsed:  now,
		useCount:  1,
	}
	p.conns[c.id] = c
	p.order = append(p.order, c.id)
	p.mu.Unlock()
	return Lease{ID: c.id, Conn: c.conn}, nil
}

// Release returns a busy connection to the idle set and wakes one waiter.
// Releasing an unknown or non-busy connection is a no-op.
func (p *Pool) Release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.conns[id]
	if !ok || c.state != ConnBusy {
		return
	}
	c.state = ConnIdle
	c.lastUsed = time.Now()
	p.cond.Signal()
}

// MarkFailed moves a connection to the failed set and closes its transport.
// The slot frees a unit of capacity, so a waiter may dial a replacement.
func (p *Pool) MarkFailed(id string) {
	p.mu.Lock()
	c, ok := p.conns[id]
	if !ok || c.state == ConnClosed || c.state == ConnFailed {
		p.mu.Unlock()
		return
	}
	c.state = ConnFailed
	conn := c.conn
	c.conn = nil
	p.cond.Signal()
	p.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			logging.Debugf("close failed connection %s: %v", id, err)
		}
	}
}

// CheckHealth pings idle connections, failing the ones that no longer
// answer, and reconnects failed connections when a capacity slot is free.
func (p *Pool) CheckHealth(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	type probe struct {
		id     string
		conn   RemoteConn
		failed bool
	}
	var probes []probe
	for _, id := range p.order {
		c := p.conns[id]
		switch c.state {
		case ConnIdle:
			probes = append(probes, probe{id: id, conn: c.conn})
		case ConnFailed:
			probes = append(probes, probe{id: id, failed: true})
		}
	}
	p.mu.Unlock()

	for _, pr := range probes {
		if pr.failed {
			p.reconnect(ctx, pr.id)
			continue
		}
		if err := pr.conn.Ping(ctx); err != nil {
			logging.Warnf("connection %s to %s failed ping: %v", pr.id, p.server.Name, err)
			p.MarkFailed(pr.id)
		}
	}
}

// reconnect dials a fresh transport for a failed slot. If every capacity
// slot is taken by a live connection, the failed slot is dropped instead.
func (p *Pool) reconnect(ctx context.Context, id string) {
	p.mu.Lock()
	c, ok := p.conns[id]
	if !ok || c.state != ConnFailed || p.closed {
		p.mu.Unlock()
		return
	}
	if p.activeLocked()+p.dialing >= p.max {
		p.removeLocked(id)
		p.mu.Unlock()
		return
	}
	p.dialing++
	p.mu.Unlock()

	conn, err := p.dialer.Dial(ctx, p.server)

	p.mu.Lock()
	p.dialing--
	if err != nil {
		p.cond.Signal()
		p.mu.Unlock()
		logging.Debugf("reconnect %s to %s: %v", id, p.server.Name, err)
		return
	}
	c, ok = p.conns[id]
	if !ok || c.state != ConnFailed || p.closed {
		p.cond.Signal()
		p.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = ConnIdle
	c.lastUsed = time.Now()
	p.cond.Signal()
	p.mu.Unlock()
	logging.Infof("connection %s to %s restored", id, p.server.Name)
}

// removeLocked drops a connection record entirely. Caller holds p.mu.
func (p *Pool) removeLocked(id string) {
	delete(p.conns, id)
	for i, other := range p.order {
		if other == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// CloseAll transitions every connection to CLOSED and rejects all future
// acquires. Waiters are woken and fail with a server-unavailable error.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	var toClose []RemoteConn
	for _, c := range p.conns {
		if c.state == ConnClosed {
			continue
		}
		c.state = ConnClosed
		if c.conn != nil {
			toClose = append(toClose, c.conn)
			c.conn = nil
		}
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, conn := range toClose {
		if err := conn.Close(); err != nil {
			logging.Debugf("close connection to %s: %v", p.server.Name, err)
		}
	}
}

// Infos returns a snapshot of every connection slot in creation order.
func (p *Pool) Infos() []ConnInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	infos := make([]ConnInfo, 0, len(p.order))
	for _, id := range p.order {
		c := p.conns[id]
		infos = append(infos, ConnInfo{
			ID:        c.id,
			State:     c.state,
			CreatedAt: c.createdAt,
			LastUsed:  c.lastUsed,
			UseCount:  c.useCount,
		})
	}
	return infos
}
