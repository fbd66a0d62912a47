package events

// Topics published by the orchestration core. Every lifecycle transition in
// the plugin manager, tool-server manager, and session manager lands here.
const (
	TopicPluginLoaded     = "plugin.loaded"
	TopicPluginError      = "plugin.error"
	TopicServerConnected  = "server.connected"
	TopicServerFailed     = "server.failed"
	TopicSessionCreated   = "session.created"
	TopicSessionClosed    = "session.closed"
	TopicCatalogRefreshed = "catalog.refreshed"
)

// AllTopics returns every topic the core publishes, in a stable order.
// The websocket event stream subscribes to each of them.
func AllTopics() []string {
	return []string{
		TopicPluginLoaded,
		TopicPluginError,
		TopicServerConnected,
		TopicServerFailed,
		TopicSessionCreated,
		TopicSessionClosed,
		TopicCatalogRefreshed,
	}
}

// PluginLoaded is published when a plugin reaches ACTIVE.
type PluginLoaded struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Commands int    `json:"commands"`
}

// PluginError is published when a plugin fails setup or reload.
type PluginError struct {
	Name string `json:"name"`
	Err  string `json:"error"`
}

// ServerConnected is published when a tool server's manifest is fetched.
type ServerConnected struct {
	Name  string `json:"name"`
	Tools int    `json:"tools"`
}

// ServerFailed is published when connecting to or listing a server fails.
type ServerFailed struct {
	Name     string `json:"name"`
	Failures int    `json:"consecutive_failures"`
	Err      string `json:"error"`
}

// SessionCreated is published on first attach of a new session ID.
type SessionCreated struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
}

// SessionClosed is published exactly once when a session is evicted or the
// manager shuts down.
type SessionClosed struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// CatalogRefreshed is published after an atomic remote-catalog swap.
type CatalogRefreshed struct {
	RemoteTools int `json:"remote_tools"`
	Servers     int `json:"servers"`
}
