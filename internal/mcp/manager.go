package mcp

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/config"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/events"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/logging"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/tools"
)

// serverRecord tracks one configured tool server: its pool, the manifest it
// last advertised, and its consecutive failure count.
type serverRecord struct {
	cfg  config.ServerConfig
	pool *Pool

	mu         sync.Mutex
	advertised []tools.Descriptor
	failures   int
	lastCheck  time.Time
}

// ServerStatus is a point-in-time view of one server for status reporting.
type ServerStatus struct {
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	Available       bool       `json:"available"`
	Tools           int        `json:"tools"`
	Failures        int        `json:"consecutive_failures"`
	LastHealthCheck time.Time  `json:"last_health_check"`
	Connections     []ConnInfo `json:"connections"`
}

// Manager owns the pools for every configured tool server, aggregates their
// advertised tools into an atomically swapped snapshot, and routes tool
// calls with timeout and retry handling.
type Manager struct {
	bus     *events.Bus
	poolCfg config.PoolConfig

	servers map[string]*serverRecord
	names   []string

	remote   atomic.Pointer[[]tools.Descriptor]
	inflight sync.WaitGroup
	closed   atomic.Bool
}

// NewManager builds a manager for the given servers. No connections are
// opened until Initialize or the first call.
func NewManager(servers []config.ServerConfig, poolCfg config.PoolConfig, dialer Dialer, bus *events.Bus) *Manager {
	m := &Manager{
		bus:     bus,
		poolCfg: poolCfg,
		servers: make(map[string]*serverRecord, len(servers)),
	}
	for _, s := range servers {
		m.servers[s.Name] = &serverRecord{
			cfg:  s,
			pool: NewPool(s, dialer, poolCfg.MaxPerServer, poolCfg.AcquireTimeout()),
		}
		m.names = append(m.names, s.Name)
	}
	empty := make([]tools.Descriptor, 0)
	m.remote.Store(&empty)
	return m
}

// Initialize connects to every configured server and fetches its manifest.
// A server that fails stays registered with its failure count incremented;
// the others proceed.
func (m *Manager) Initialize(ctx context.Context) error {
	return m.Refresh(ctx)
}

// Refresh re-fetches every server's manifest and atomically swaps the
// aggregated snapshot. Servers over the failure threshold contribute no
// tools; servers that fail while under it keep their last known manifest.
func (m *Manager) Refresh(ctx context.Context) error {
	for _, name := range m.names {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := m.servers[name]
		if err := m.refreshServer(ctx, rec); err != nil {
			logging.Errorf("refresh %s: %v", name, err)
		}
	}
	m.swapSnapshot()
	return nil
}

// refreshServer fetches one server's manifest over a pooled connection.
func (m *Manager) refreshServer(ctx context.Context, rec *serverRecord) error {
	listCtx, cancel := context.WithTimeout(ctx, m.poolCfg.CallTimeout())
	defer cancel()

	lease, err := rec.pool.Acquire(listCtx)
	if err != nil {
		m.recordFailure(rec, err)
		return err
	}

	descs, err := lease.Conn.ListTools(listCtx)
	if err != nil {
		// A connection that cannot list tools is not trusted with calls.
		rec.pool.MarkFailed(lease.ID)
		m.recordFailure(rec, err)
		return err
	}
	rec.pool.Release(lease.ID)

	for i := range descs {
		descs[i].Source = rec.cfg.Name
		descs[i].Origin = tools.OriginRemote
	}

	rec.mu.Lock()
	recovered := rec.failures > 0 || rec.lastCheck.IsZero()
	rec.advertised = descs
	rec.failures = 0
	rec.lastCheck = time.Now()
	rec.mu.Unlock()

	if recovered {
		m.publish(events.TopicServerConnected, events.ServerConnected{
			Name:  rec.cfg.Name,
			Tools: len(descs),
		})
	}
	return nil
}

// recordFailure bumps a server's consecutive failure count.
func (m *Manager) recordFailure(rec *serverRecord, cause error) {
	rec.mu.Lock()
	rec.failures++
	rec.lastCheck = time.Now()
	failures := rec.failures
	rec.mu.Unlock()

	m.publish(events.TopicServerFailed, events.ServerFailed{
		Name:     rec.cfg.Name,
		Failures: failures,
		Err:      cause.Error(),
	})
}

// swapSnapshot rebuilds the aggregated remote catalog and swaps it in one
// atomic store. Readers holding the previous snapshot are never mutated.
func (m *Manager) swapSnapshot() {
	agg := make([]tools.Descriptor, 0)
	for _, name := range m.names {
		rec := m.servers[name]
		rec.mu.Lock()
		if rec.failures < m.poolCfg.FailureThreshold {
			agg = append(agg, rec.advertised...)
		}
		rec.mu.Unlock()
	}
	m.remote.Store(&agg)

	m.publish(events.TopicCatalogRefreshed, events.CatalogRefreshed{
		RemoteTools: len(agg),
		Servers:     len(m.names),
	})
}

// RemoteTools returns the current aggregated snapshot. The returned slice is
// shared and must not be modified.
func (m *Manager) RemoteTools() []tools.Descriptor {
	return *m.remote.Load()
}

// CallTool executes a tool on the named server. The connection is released
// on every path: back to idle on success and on tool-level failure, marked
// failed on timeout. Timed-out calls are retried a bounded number of times
// with exponential backoff, each retry on a fresh connection.
func (m *Manager) CallTool(ctx context.Context, server, tool string, args map[string]any) (*tools.Result, error) {
	if m.closed.Load() {
		return nil, tools.E(tools.CodeServerUnavailable, "mcp.call", "manager is shut down")
	}
	rec, ok := m.servers[server]
	if !ok {
		return nil, tools.E(tools.CodeServerUnavailable, "mcp.call", "no server named %q", server)
	}
	rec.mu.Lock()
	overThreshold := rec.failures >= m.poolCfg.FailureThreshold
	rec.mu.Unlock()
	if overThreshold {
		return nil, tools.E(tools.CodeServerUnavailable, "mcp.call", "server %s is over its failure threshold", server)
	}

	m.inflight.Add(1)
	defer m.inflight.Done()

	var lastErr error
	for attempt := 0; attempt <= m.poolCfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(m.backoff(attempt)):
			case <-ctx.Done():
				return nil, tools.Wrap(tools.CodeTimeout, "mcp.call", ctx.Err())
			}
			logging.Infof("retrying %s on %s, attempt %d", tool, server, attempt+1)
		}

		result, err := m.callOnce(ctx, rec, tool, args)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !tools.IsCode(err, tools.CodeTimeout) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// callOnce performs a single acquire/call/release cycle.
func (m *Manager) callOnce(ctx context.Context, rec *serverRecord, tool string, args map[string]any) (*tools.Result, error) {
	lease, err := rec.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, m.poolCfg.CallTimeout())
	defer cancel()

	result, err := lease.Conn.CallTool(callCtx, tool, args)
	switch {
	case err == nil:
		rec.pool.Release(lease.ID)
		rec.mu.Lock()
		rec.failures = 0
		rec.mu.Unlock()
		return result, nil

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		// The server may still be chewing on the request; the connection
		// cannot be reused until a health check replaces it.
		rec.pool.MarkFailed(lease.ID)
		m.recordFailure(rec, err)
		return nil, tools.E(tools.CodeTimeout, "mcp.call",
			"%s on %s exceeded %s", tool, rec.cfg.Name, m.poolCfg.CallTimeout())

	default:
		rec.pool.Release(lease.ID)
		return nil, tools.Wrap(tools.CodeHandlerError, "mcp.call", err)
	}
}

// backoff returns the delay before the given retry attempt, exponential with
// ±25% jitter.
func (m *Manager) backoff(attempt int) time.Duration {
	base := m.poolCfg.RetryBackoff()
	delay := base * time.Duration(1<<uint(attempt-1))
	if limit := base * 16; delay > limit {
		delay = limit
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2+1)) - delay/4
	return delay + jitter
}

// CheckHealth runs connection-level health checks on every pool: idle
// connections are pinged, failed ones reconnected.
func (m *Manager) CheckHealth(ctx context.Context) {
	for _, name := range m.names {
		if ctx.Err() != nil {
			return
		}
		m.servers[name].pool.CheckHealth(ctx)
	}
}

// Shutdown drains in-flight calls, bounded by ctx, then closes every pool.
// Further calls are rejected as soon as it starts.
func (m *Manager) Shutdown(ctx context.Context) {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}

	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logging.Warnf("shutting down with tool calls still in flight")
	}

	for _, name := range m.names {
		m.servers[name].pool.CloseAll()
	}
}

// Snapshot reports every server's health and connections in config order.
func (m *Manager) Snapshot() []ServerStatus {
	statuses := make([]ServerStatus, 0, len(m.names))
	for _, name := range m.names {
		rec := m.servers[name]
		rec.mu.Lock()
		st := ServerStatus{
			Name:            rec.cfg.Name,
			URL:             rec.cfg.URL,
			Available:       rec.failures < m.poolCfg.FailureThreshold,
			Tools:           len(rec.advertised),
			Failures:        rec.failures,
			LastHealthCheck: rec.lastCheck,
		}
		rec.mu.Unlock()
		st.Connections = rec.pool.Infos()
		statuses = append(statuses, st)
	}
	return statuses
}

func (m *Manager) publish(topic string, payload any) {
	if m.bus == nil {
		return
	}
	if err := events.Publish(m.bus, topic, payload); err != nil {
		logging.Debugf("publish %s: %v", topic, err)
	}
}
