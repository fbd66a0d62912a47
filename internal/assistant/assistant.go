// Package assistant wires the core together: the event bus, the plugin
// manager with its builtins, the tool-server manager, sessions, and the
// deterministic tool selector. It owns startup and the ordered shutdown.
package assistant

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/config"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/events"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/logging"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/mcp"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/plugin"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/plugin/builtin"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/selector"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/session"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/store"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/tools"
)

// Assistant is the orchestration core. Everything hangs off the instance;
// there is no package-level state.
type Assistant struct {
	cfg *config.Config

	bus      *events.Bus
	store    *store.Store
	plugins  *plugin.Manager
	settings *plugin.SettingsStore
	remote   *mcp.Manager
	sessions *session.Manager

	cron        *cronlib.Cron
	watchCancel context.CancelFunc

	selectorMu  sync.RWMutex
	selectorCfg config.SelectorConfig

	started atomic.Bool
	stopped atomic.Bool
}

type options struct {
	dialer    mcp.Dialer
	factories []plugin.Factory
}

// Option customizes construction; mainly used by tests to inject fakes.
type Option func(*options)

// WithDialer swaps the MCP dialer.
func WithDialer(d mcp.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithFactories replaces the builtin plugin set.
func WithFactories(factories ...plugin.Factory) Option {
	return func(o *options) { o.factories = factories }
}

// New builds an assistant from configuration. The store is opened and
// plugins are discovered here; nothing connects until Start.
func New(cfg *config.Config, opts ...Option) (*Assistant, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.dialer == nil {
		o.dialer = mcp.NewSDKDialer()
	}

	st, err := store.NewSQLite(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	if o.factories == nil {
		o.factories = builtin.All(st)
	}

	bus := events.New()
	plugins := plugin.NewManager(bus)
	plugins.Discover(o.factories)

	settings := plugin.NewSettingsStore(st)
	a := &Assistant{
		cfg:         cfg,
		bus:         bus,
		store:       st,
		plugins:     plugins,
		settings:    settings,
		remote:      mcp.NewManager(cfg.EnabledServers(), cfg.Pool, o.dialer, bus),
		sessions:    session.NewManager(bus, cfg.Sessions.IdleWindow(), cfg.Sessions.ReapInterval()),
		selectorCfg: cfg.Selector,
	}

	// Stored overrides always reach the manager so the next setup runs with
	// the merged view.
	settings.OnChange(func(name string, stored map[string]string) {
		plugins.SetConfig(name, plugin.MergeConfig(cfg.Plugins[name], stored))
	})
	return a, nil
}

// Start brings everything up: bus first so lifecycle events have somewhere
// to go, then plugins, then remote servers, then sessions and maintenance.
func (a *Assistant) Start(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return nil
	}

	a.bus.Start()
	a.plugins.Initialize(ctx, a.mergedPluginConfigs(ctx))
	if err := a.remote.Initialize(ctx); err != nil {
		return err
	}
	a.sessions.Start()
	a.startMaintenance()

	if a.cfg.Maintenance.WatchConfig {
		watchCtx, cancel := context.WithCancel(context.Background())
		a.watchCancel = cancel
		go func() {
			if err := a.watchConfig(watchCtx); err != nil {
				logging.Warnf("config watcher stopped: %v", err)
			}
		}()
	}

	logging.Infof("assistant started: %d plugins, %d servers",
		len(a.plugins.Snapshot()), len(a.cfg.EnabledServers()))
	return nil
}

// Shutdown stops the assistant in dependency order: stop taking new work,
// close sessions, drain tool calls and close pools, tear plugins down, and
// stop the bus last so shutdown events still reach subscribers.
func (a *Assistant) Shutdown(ctx context.Context) {
	if !a.stopped.CompareAndSwap(false, true) {
		return
	}
	logging.Infof("assistant shutting down")

	if a.watchCancel != nil {
		a.watchCancel()
	}
	if a.cron != nil {
		stopCtx := a.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
			logging.Warnf("maintenance jobs still running at shutdown")
		}
	}

	a.sessions.Stop()
	a.remote.Shutdown(ctx)
	a.plugins.TeardownAll(ctx)

	if err := a.store.Close(); err != nil {
		logging.Warnf("close store: %v", err)
	}
	a.bus.Stop()
	logging.Infof("assistant stopped")
}

// Catalog returns the unified tool catalog: plugin commands and remote
// tools, deduplicated by name with plugin commands winning collisions.
func (a *Assistant) Catalog() []tools.Descriptor {
	return tools.Merge(a.plugins.Commands(), a.remote.RemoteTools())
}

// SelectTools picks the subset of the catalog worth offering for a message.
// A non-positive budget falls back to the configured default.
func (a *Assistant) SelectTools(message string, budget int) []tools.Descriptor {
	a.selectorMu.RLock()
	sel := a.selectorCfg
	a.selectorMu.RUnlock()

	if budget <= 0 {
		budget = sel.Budget
	}
	return selector.Select(a.Catalog(), message, budget, sel)
}

// Invoke routes a tool invocation: plugin commands first, then the remote
// snapshot. sessionID may be empty for interface-less callers.
func (a *Assistant) Invoke(ctx context.Context, sessionID, command string, args map[string]any) (*tools.Result, error) {
	if a.stopped.Load() {
		return nil, tools.E(tools.CodeServerUnavailable, "assistant.invoke", "assistant is shut down")
	}
	if sessionID != "" {
		a.sessions.Touch(sessionID)
	}

	result, err := a.plugins.Invoke(ctx, command, args)
	if err == nil || !tools.IsCode(err, tools.CodeUnknownCommand) {
		return result, err
	}

	for _, d := range a.remote.RemoteTools() {
		if d.Name == command {
			return a.remote.CallTool(ctx, d.Source, command, args)
		}
	}
	return nil, tools.E(tools.CodeUnknownCommand, "assistant.invoke", "no tool named %q", command)
}

// Refresh re-fetches every server's manifest now.
func (a *Assistant) Refresh(ctx context.Context) error {
	return a.remote.Refresh(ctx)
}

// ReloadPlugin tears a plugin down (if active) and runs its setup again.
func (a *Assistant) ReloadPlugin(ctx context.Context, name string) error {
	return a.plugins.Reload(ctx, name)
}

// PluginSettings returns the stored overrides for one plugin.
func (a *Assistant) PluginSettings(ctx context.Context, name string) (map[string]string, error) {
	if _, ok := a.plugins.State(name); !ok {
		return nil, tools.E(tools.CodeUnknownCommand, "assistant.settings", "no plugin named %q", name)
	}
	return a.settings.Get(ctx, name)
}

// PluginManifest returns the settings schema a plugin declares, nil when the
// plugin declares none.
func (a *Assistant) PluginManifest(name string) ([]plugin.SettingsField, error) {
	manifest, ok := a.plugins.Manifest(name)
	if !ok {
		return nil, tools.E(tools.CodeUnknownCommand, "assistant.settings", "no plugin named %q", name)
	}
	return manifest, nil
}

// UpdatePluginSettings persists settings overrides and reloads the plugin so
// they take effect immediately. Stored values win over the configuration
// file and survive restarts.
func (a *Assistant) UpdatePluginSettings(ctx context.Context, name string, values map[string]string) error {
	if _, ok := a.plugins.State(name); !ok {
		return tools.E(tools.CodeUnknownCommand, "assistant.settings", "no plugin named %q", name)
	}
	if err := a.settings.Update(ctx, name, values); err != nil {
		return tools.Wrap(tools.CodeConfiguration, "assistant.settings", err)
	}
	return a.plugins.Reload(ctx, name)
}

// mergedPluginConfigs layers stored overrides over the configuration file's
// plugin sections.
func (a *Assistant) mergedPluginConfigs(ctx context.Context) map[string]map[string]string {
	merged := make(map[string]map[string]string, len(a.cfg.Plugins))
	for name, cfg := range a.cfg.Plugins {
		merged[name] = cfg
	}
	stored, err := a.settings.All(ctx)
	if err != nil {
		logging.Warnf("load stored plugin settings: %v", err)
		return merged
	}
	for name, overrides := range stored {
		merged[name] = plugin.MergeConfig(merged[name], overrides)
	}
	return merged
}

// Bus exposes the event bus for interfaces that stream events.
func (a *Assistant) Bus() *events.Bus { return a.bus }

// Sessions exposes the session manager for attaching interfaces.
func (a *Assistant) Sessions() *session.Manager { return a.sessions }

// Status is a point-in-time view of the whole core.
type Status struct {
	Plugins  []plugin.Record    `json:"plugins"`
	Servers  []mcp.ServerStatus `json:"servers"`
	Sessions []session.Info     `json:"sessions"`
	Tools    int                `json:"tools"`
	Events   int64              `json:"events_delivered"`
}

// Status reports plugin states, server health, live sessions, and catalog
// size.
func (a *Assistant) Status() Status {
	return Status{
		Plugins:  a.plugins.Snapshot(),
		Servers:  a.remote.Snapshot(),
		Sessions: a.sessions.Snapshot(),
		Tools:    len(a.Catalog()),
		Events:   a.bus.Delivered(),
	}
}

// startMaintenance schedules the periodic manifest refresh and connection
// health sweep.
func (a *Assistant) startMaintenance() {
	mc := a.cfg.Maintenance
	if mc.RefreshSchedule == "" && mc.HealthSchedule == "" {
		return
	}
	a.cron = cronlib.New()

	if mc.RefreshSchedule != "" {
		_, err := a.cron.AddFunc(mc.RefreshSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := a.remote.Refresh(ctx); err != nil {
				logging.Warnf("scheduled refresh: %v", err)
			}
		})
		if err != nil {
			logging.Errorf("invalid refresh schedule %q: %v", mc.RefreshSchedule, err)
		}
	}
	if mc.HealthSchedule != "" {
		_, err := a.cron.AddFunc(mc.HealthSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			a.remote.CheckHealth(ctx)
		})
		if err != nil {
			logging.Errorf("invalid health schedule %q: %v", mc.HealthSchedule, err)
		}
	}
	a.cron.Start()
}
