package plugin

import (
	"context"
	"sync"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/events"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/logging"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/tools"
)

type record struct {
	factory  Factory
	instance Plugin
	state    State
	version  string
	commands []Command
	lastErr  error
}

// Manager owns the set of in-process plugins. One instance per process,
// constructed explicitly and injected where needed.
type Manager struct {
	bus *events.Bus

	mu          sync.RWMutex
	records     map[string]*record
	order       []string          // registration order
	owners      map[string]string // command name -> plugin name
	configs     map[string]map[string]string
	initialized bool
}

// NewManager creates a Manager publishing lifecycle events on bus.
// A nil bus is allowed (events are skipped), which tests use.
func NewManager(bus *events.Bus) *Manager {
	return &Manager{
		bus:     bus,
		records: make(map[string]*record),
		owners:  make(map[string]string),
	}
}

// Discover constructs one instance per factory and registers its advertised
// commands, leaving each plugin in LOADING. Duplicate plugin names and
// duplicate command names are skipped with a warning; the first registration
// wins.
func (m *Manager) Discover(factories []Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range factories {
		if _, exists := m.records[f.Name]; exists {
			logging.Warnf("plugin %q already discovered, skipping duplicate", f.Name)
			continue
		}
		instance := f.New()
		rec := &record{
			factory:  f,
			instance: instance,
			state:    StateLoading,
			version:  instance.Version(),
			commands: instance.Commands(),
		}
		m.records[f.Name] = rec
		m.order = append(m.order, f.Name)

		for _, cmd := range rec.commands {
			if owner, taken := m.owners[cmd.Name]; taken {
				logging.Warnf("command %q from plugin %q already provided by %q, keeping first", cmd.Name, f.Name, owner)
				continue
			}
			m.owners[cmd.Name] = f.Name
		}
	}
}

// Initialize runs Setup on every discovered plugin with its configuration.
// A failing plugin lands in ERROR and never aborts the others. Idempotent:
// once the manager has initialized, further calls are no-ops and Setup is
// not re-run.
func (m *Manager) Initialize(ctx context.Context, configs map[string]map[string]string) {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return
	}
	m.initialized = true
	m.configs = configs
	names := make([]string, len(m.order))
	copy(names, m.order)
	m.mu.Unlock()

	for _, name := range names {
		m.setupOne(ctx, name)
	}
}

// setupOne transitions one plugin LOADING -> ACTIVE|ERROR. Setup runs
// outside the manager lock; plugin code never blocks registry reads.
func (m *Manager) setupOne(ctx context.Context, name string) {
	m.mu.Lock()
	rec, ok := m.records[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	if rec.state == StateError || rec.state == StateStopped {
		// Re-entry into LOADING happens on explicit reload or re-init.
		rec.instance = rec.factory.New()
		rec.version = rec.instance.Version()
		rec.commands = rec.instance.Commands()
	}
	rec.state = StateLoading
	instance := rec.instance
	cfg := m.configs[name]
	m.mu.Unlock()

	err := safeSetup(ctx, instance, cfg)

	m.mu.Lock()
	if err != nil {
		rec.state = StateError
		rec.lastErr = err
		m.mu.Unlock()
		logging.Errorf("plugin %s setup failed: %v", name, err)
		m.publish(events.TopicPluginError, events.PluginError{Name: name, Err: err.Error()})
		return
	}
	rec.state = StateActive
	rec.lastErr = nil
	commands := len(rec.commands)
	version := rec.version
	m.mu.Unlock()

	logging.Infof("plugin %s v%s active (%d commands)", name, version, commands)
	m.publish(events.TopicPluginLoaded, events.PluginLoaded{Name: name, Version: version, Commands: commands})
}

// SetConfig replaces the retained configuration for one plugin. The next
// setup (reload or re-initialize) runs with it; the current instance is not
// touched.
func (m *Manager) SetConfig(name string, cfg map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.configs == nil {
		m.configs = make(map[string]map[string]string)
	}
	m.configs[name] = cfg
}

// TeardownAll tears down every ACTIVE plugin in reverse registration order.
// Failures are recorded and logged but never stop the sweep. The manager may
// be initialized again afterwards.
func (m *Manager) TeardownAll(ctx context.Context) {
	m.mu.Lock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	m.initialized = false
	m.mu.Unlock()

	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]

		m.mu.Lock()
		rec, ok := m.records[name]
		if !ok || rec.state != StateActive {
			m.mu.Unlock()
			continue
		}
		instance := rec.instance
		m.mu.Unlock()

		if err := safeTeardown(ctx, instance); err != nil {
			logging.Errorf("plugin %s teardown failed: %v", name, err)
			m.mu.Lock()
			rec.lastErr = err
			m.mu.Unlock()
		}

		m.mu.Lock()
		rec.state = StateStopped
		m.mu.Unlock()
	}
}

// Invoke routes a command to its owning plugin.
func (m *Manager) Invoke(ctx context.Context, command string, args map[string]any) (*tools.Result, error) {
	m.mu.RLock()
	owner, ok := m.owners[command]
	if !ok {
		m.mu.RUnlock()
		return nil, tools.E(tools.CodeUnknownCommand, "plugin.invoke", "no plugin provides command %q", command)
	}
	rec := m.records[owner]
	if rec.state != StateActive {
		state := rec.state
		m.mu.RUnlock()
		return nil, tools.E(tools.CodePluginNotActive, "plugin.invoke", "plugin %q owns %q but is %s", owner, command, state)
	}
	instance := rec.instance
	m.mu.RUnlock()

	return safeInvoke(ctx, instance, command, args)
}

// Reload destroys the plugin's current instance and runs a fresh one through
// the LOADING -> ACTIVE|ERROR path with its retained configuration.
func (m *Manager) Reload(ctx context.Context, name string) error {
	m.mu.Lock()
	rec, ok := m.records[name]
	if !ok {
		m.mu.Unlock()
		return tools.E(tools.CodeUnknownCommand, "plugin.reload", "no plugin named %q", name)
	}
	instance := rec.instance
	active := rec.state == StateActive
	rec.state = StateLoading
	m.mu.Unlock()

	if active {
		if err := safeTeardown(ctx, instance); err != nil {
			logging.Warnf("plugin %s teardown before reload failed: %v", name, err)
		}
	}

	m.mu.Lock()
	rec.instance = rec.factory.New()
	rec.version = rec.instance.Version()
	rec.commands = rec.instance.Commands()
	m.mu.Unlock()

	m.setupOne(ctx, name)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec.state != StateActive {
		return tools.Wrap(tools.CodeHandlerError, "plugin.reload", rec.lastErr)
	}
	return nil
}

// Commands returns the catalog contribution of ACTIVE plugins, in
// registration order. Commands of non-ACTIVE plugins are excluded, though
// their ownership is still known to Invoke.
func (m *Manager) Commands() []tools.Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []tools.Descriptor
	for _, name := range m.order {
		rec := m.records[name]
		if rec.state != StateActive {
			continue
		}
		for _, cmd := range rec.commands {
			if m.owners[cmd.Name] != name {
				continue // lost a collision at discovery
			}
			out = append(out, tools.Descriptor{
				Name:        cmd.Name,
				Description: cmd.Description,
				Schema:      cmd.Schema,
				Source:      name,
				Origin:      tools.OriginPlugin,
			})
		}
	}
	return out
}

// State reports one plugin's current state.
func (m *Manager) State(name string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[name]
	if !ok {
		return StateUnloaded, false
	}
	return rec.state, true
}

// Snapshot returns every plugin record in registration order.
func (m *Manager) Snapshot() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, 0, len(m.order))
	for _, name := range m.order {
		rec := m.records[name]
		r := Record{
			Name:     name,
			Version:  rec.version,
			State:    rec.state,
			Commands: rec.commands,
		}
		if rec.lastErr != nil {
			r.LastErr = rec.lastErr.Error()
		}
		out = append(out, r)
	}
	return out
}

func (m *Manager) publish(topic string, payload any) {
	if m.bus == nil {
		return
	}
	if err := events.Publish(m.bus, topic, payload); err != nil {
		logging.Debugf("publish %s: %v", topic, err)
	}
}

func safeSetup(ctx context.Context, p Plugin, cfg map[string]string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = tools.E(tools.CodeHandlerError, "plugin.setup", "plugin %s panicked during setup: %v", p.Name(), r)
		}
	}()
	return p.Setup(ctx, cfg)
}

func safeTeardown(ctx context.Context, p Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = tools.E(tools.CodeHandlerError, "plugin.teardown", "plugin %s panicked during teardown: %v", p.Name(), r)
		}
	}()
	return p.Teardown(ctx)
}

func safeInvoke(ctx context.Context, p Plugin, command string, args map[string]any) (res *tools.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = tools.E(tools.CodeHandlerError, "plugin.invoke", "plugin %s panicked on %s: %v", p.Name(), command, r)
		}
	}()
	res, err = p.Invoke(ctx, command, args)
	if err != nil {
		return nil, tools.Wrap(tools.CodeHandlerError, "plugin.invoke", err)
	}
	return res, nil
}
