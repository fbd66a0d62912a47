// Package config holds the assistant configuration, loaded from the data
// directory's config.yaml with environment expansion on secret-bearing
// fields. Missing file means defaults.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/tools"

	"gopkg.in/yaml.v3"
)

// Config holds the orchestration core configuration
type Config struct {
	// Platform data directory (sqlite store, config.yaml)
	DataDir string `yaml:"data_dir"`
	// Debug enables debug-level logging
	Debug bool `yaml:"debug"`

	// Admin HTTP surface
	HTTP HTTPConfig `yaml:"http"`

	// Remote tool servers (MCP)
	Servers []ServerConfig `yaml:"servers"`

	// Per-plugin setup configuration, keyed by plugin name
	Plugins map[string]map[string]string `yaml:"plugins"`

	// Connection pool and remote call settings
	Pool PoolConfig `yaml:"pool"`

	// Tool selection settings
	Selector SelectorConfig `yaml:"selector"`

	// Session lifecycle settings
	Sessions SessionConfig `yaml:"sessions"`

	// Scheduled refresh / health sweeps / config watching
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// HTTPConfig configures the admin/status HTTP surface.
type HTTPConfig struct {
	Addr       string `yaml:"addr"`                  // empty disables the surface
	AuthSecret string `yaml:"auth_secret,omitempty"` // empty disables bearer auth
}

// ServerConfig describes one remote tool server.
type ServerConfig struct {
	Name     string            `yaml:"name"`
	URL      string            `yaml:"url"`
	Headers  map[string]string `yaml:"headers,omitempty"`
	Disabled bool              `yaml:"disabled,omitempty"`
}

// PoolConfig bounds connections and remote calls. Durations are plain
// integers in the file (seconds / milliseconds) with typed accessors.
type PoolConfig struct {
	MaxPerServer          int `yaml:"max_per_server"`
	AcquireTimeoutSeconds int `yaml:"acquire_timeout_seconds"`
	CallTimeoutSeconds    int `yaml:"call_timeout_seconds"`
	MaxRetries            int `yaml:"max_retries"`
	RetryBackoffMS        int `yaml:"retry_backoff_ms"`
	FailureThreshold      int `yaml:"failure_threshold"`
}

func (p PoolConfig) AcquireTimeout() time.Duration {
	return time.Duration(p.AcquireTimeoutSeconds) * time.Second
}

func (p PoolConfig) CallTimeout() time.Duration {
	return time.Duration(p.CallTimeoutSeconds) * time.Second
}

func (p PoolConfig) RetryBackoff() time.Duration {
	return time.Duration(p.RetryBackoffMS) * time.Millisecond
}

// SelectorConfig is the keyword-to-category map and weights used by tool
// selection. Treated as data: deployments tune it without code changes.
type SelectorConfig struct {
	Budget        int                 `yaml:"budget"`
	Essential     []string            `yaml:"essential,omitempty"`
	Keywords      map[string][]string `yaml:"keywords,omitempty"`
	CategoryBonus int                 `yaml:"category_bonus"`
}

// SessionConfig controls idle reaping of empty sessions.
type SessionConfig struct {
	IdleMinutes int `yaml:"idle_minutes"`
	ReapSeconds int `yaml:"reap_seconds"`
}

func (s SessionConfig) IdleWindow() time.Duration {
	return time.Duration(s.IdleMinutes) * time.Minute
}

func (s SessionConfig) ReapInterval() time.Duration {
	return time.Duration(s.ReapSeconds) * time.Second
}

// MaintenanceConfig schedules background upkeep. Schedules are cron
// expressions (robfig/cron, "@every 5m" descriptors allowed).
type MaintenanceConfig struct {
	RefreshSchedule string `yaml:"refresh_schedule"`
	HealthSchedule  string `yaml:"health_schedule"`
	WatchConfig     bool   `yaml:"watch_config"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:8787",
		},
		Plugins: map[string]map[string]string{},
		Pool: PoolConfig{
			MaxPerServer:          2,
			AcquireTimeoutSeconds: 5,
			CallTimeoutSeconds:    30,
			MaxRetries:            2,
			RetryBackoffMS:        500,
			FailureThreshold:      3,
		},
		Selector: SelectorConfig{
			Budget:        12,
			CategoryBonus: 2,
			Keywords: map[string][]string{
				"memory":  {"remember", "recall", "memory", "name", "my", "preference", "forget"},
				"notes":   {"note", "notes", "write", "task", "todo", "list"},
				"weather": {"weather", "temperature", "forecast", "rain", "sunny"},
				"time":    {"time", "date", "clock", "today", "now"},
			},
		},
		Sessions: SessionConfig{
			IdleMinutes: 30,
			ReapSeconds: 60,
		},
		Maintenance: MaintenanceConfig{
			RefreshSchedule: "@every 5m",
			HealthSchedule:  "@every 1m",
		},
	}
}

// DefaultDataDir returns the platform data directory for nagatha.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nagatha"
	}
	return filepath.Join(home, ".nagatha")
}

// Load loads config from the data directory's config.yaml.
// A missing file is not an error; defaults apply.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := filepath.Join(cfg.DataDir, "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, tools.Wrap(tools.CodeConfiguration, "config.load", err)
	}
	cfg.expand()
	return cfg, cfg.Validate()
}

// LoadFrom loads config from a specific path
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, tools.Wrap(tools.CodeConfiguration, "config.load", err)
	}
	cfg.expand()
	return cfg, cfg.Validate()
}

// expand resolves ~ in the data dir and environment references in
// secret-bearing fields.
func (c *Config) expand() {
	if strings.HasPrefix(c.DataDir, "~/") {
		home, _ := os.UserHomeDir()
		c.DataDir = filepath.Join(home, c.DataDir[2:])
	}
	c.HTTP.AuthSecret = os.ExpandEnv(c.HTTP.AuthSecret)
	for i := range c.Servers {
		c.Servers[i].URL = os.ExpandEnv(c.Servers[i].URL)
		for k, v := range c.Servers[i].Headers {
			c.Servers[i].Headers[k] = os.ExpandEnv(v)
		}
	}
	for _, plugin := range c.Plugins {
		for k, v := range plugin {
			plugin[k] = os.ExpandEnv(v)
		}
	}
}

// Validate rejects configurations the core cannot start with.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Servers))
	for _, s := range c.Servers {
		if s.Name == "" {
			return tools.E(tools.CodeConfiguration, "config.validate", "server with empty name")
		}
		if s.URL == "" {
			return tools.E(tools.CodeConfiguration, "config.validate", "server %q has no url", s.Name)
		}
		if seen[s.Name] {
			return tools.E(tools.CodeConfiguration, "config.validate", "duplicate server name %q", s.Name)
		}
		seen[s.Name] = true
	}
	if c.Pool.MaxPerServer < 1 {
		return tools.E(tools.CodeConfiguration, "config.validate", "pool.max_per_server must be >= 1, got %d", c.Pool.MaxPerServer)
	}
	if c.Selector.Budget < 0 {
		return tools.E(tools.CodeConfiguration, "config.validate", "selector.budget must be >= 0, got %d", c.Selector.Budget)
	}
	return nil
}

// Save writes the config to the data directory's config.yaml
func (c *Config) Save() error {
	if err := os.MkdirAll(c.DataDir, 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	configPath := filepath.Join(c.DataDir, "config.yaml")
	return os.WriteFile(configPath, data, 0600)
}

// Path returns the location Load reads from for this config's data dir.
func (c *Config) Path() string {
	return filepath.Join(c.DataDir, "config.yaml")
}

// DBPath returns the path to the SQLite database backing the builtin
// plugins, under <data_dir>/data/ like the rest of the assistant's state.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "data", "nagatha.db")
}

// EnsureDataDir creates the data directory if it doesn't exist
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0700)
}

// EnabledServers filters out disabled entries.
func (c *Config) EnabledServers() []ServerConfig {
	enabled := make([]ServerConfig, 0, len(c.Servers))
	for _, s := range c.Servers {
		if !s.Disabled {
			enabled = append(enabled, s)
		}
	}
	return enabled
}
