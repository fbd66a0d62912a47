// Package mcp manages connections to remote MCP tool servers: a per-server
// connection pool, a dialer backed by the official MCP SDK, and a manager
// that aggregates remote tool catalogs and routes tool calls.
package mcp

import (
	"context"
	"time"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/config"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/tools"
)

// ConnState is the lifecycle state of one pooled connection.
type ConnState string

const (
	// ConnIdle means the connection is healthy and available for checkout.
	ConnIdle ConnState = "IDLE"
	// ConnBusy means the connection is checked out by exactly one caller.
	ConnBusy ConnState = "BUSY"
	// ConnFailed means the connection is excluded from checkout until a
	// health check restores it.
	ConnFailed ConnState = "FAILED"
	// ConnClosed is terminal.
	ConnClosed ConnState = "CLOSED"
)

// RemoteConn is one live session with a remote tool server.
type RemoteConn interface {
	// ListTools fetches the server's advertised tool manifest.
	ListTools(ctx context.Context) ([]tools.Descriptor, error)
	// CallTool executes a named tool with the given arguments.
	CallTool(ctx context.Context, name string, args map[string]any) (*tools.Result, error)
	// Ping verifies the session is still alive.
	Ping(ctx context.Context) error
	// Close tears the session down.
	Close() error
}

// Dialer opens a new connection to the given server.
type Dialer interface {
	Dial(ctx context.Context, server config.ServerConfig) (RemoteConn, error)
}

// DialerFunc adapts a plain function to the Dialer interface.
type DialerFunc func(ctx context.Context, server config.ServerConfig) (RemoteConn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, server config.ServerConfig) (RemoteConn, error) {
	return f(ctx, server)
}

// Lease is a checked-out connection. The holder must hand it back through
// exactly one of Pool.Release or Pool.MarkFailed.
type Lease struct {
	ID   string
	Conn RemoteConn
}

// ConnInfo is a point-in-time view of one pooled connection, for status
// reporting.
type ConnInfo struct {
	ID        string    `json:"id"`
	State     ConnState `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
	UseCount  int64     `json:"use_count"`
}
