// Package plugin owns the in-process capability providers: their lifecycle
// states, the registry of commands they advertise, and the typed invoke
// path. A plugin is anything implementing the Plugin contract; discovery is
// an explicit list of factories, never reflection.
package plugin

import (
	"context"
	"encoding/json"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/tools"
)

// State is the lifecycle state of one plugin.
type State string

const (
	StateUnloaded State = "UNLOADED"
	StateLoading  State = "LOADING"
	StateActive   State = "ACTIVE"
	StateError    State = "ERROR"
	StateStopped  State = "STOPPED"
)

// Command is one invokable command a plugin advertises. Commands are known
// as soon as the instance exists; they only enter the tool catalog once the
// plugin is ACTIVE.
type Command struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// Plugin is the capability contract every provider implements. The manager
// never inspects a plugin beyond it. Setup and Invoke receive the plugin's
// configuration and arguments; failures cross the boundary as returned
// errors and tools.Result values, never as panics (panics are recovered and
// converted by the manager).
type Plugin interface {
	Name() string
	Version() string
	Setup(ctx context.Context, cfg map[string]string) error
	Teardown(ctx context.Context) error
	Commands() []Command
	Invoke(ctx context.Context, command string, args map[string]any) (*tools.Result, error)
}

// Factory constructs a fresh plugin instance. A plugin instance's lifetime
// spans one load cycle: reload tears the old instance down and builds a new
// one from its factory.
type Factory struct {
	Name string
	New  func() Plugin
}

// Record is a point-in-time view of one plugin for the status surface.
type Record struct {
	Name     string    `json:"name"`
	Version  string    `json:"version"`
	State    State     `json:"state"`
	Commands []Command `json:"commands,omitempty"`
	LastErr  string    `json:"last_error,omitempty"`
}
