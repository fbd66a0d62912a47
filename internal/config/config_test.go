package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/tools"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromKeepsDefaultsForUnsetFields(t *testing.T) {
	path := writeConfig(t, "debug: true\n")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if !cfg.Debug {
		t.Fatal("debug not loaded")
	}
	if cfg.Pool.MaxPerServer != 2 {
		t.Fatalf("got max_per_server %d, want default 2", cfg.Pool.MaxPerServer)
	}
	if cfg.Pool.FailureThreshold != 3 {
		t.Fatalf("got failure_threshold %d, want default 3", cfg.Pool.FailureThreshold)
	}
	if len(cfg.Selector.Keywords) == 0 {
		t.Fatal("default keyword map missing")
	}
}

func TestLoadFromExpandsEnv(t *testing.T) {
	t.Setenv("NAGATHA_TEST_SECRET", "s3cret")
	t.Setenv("NAGATHA_TEST_TOKEN", "tok")
	path := writeConfig(t, `
http:
  addr: "127.0.0.1:0"
  auth_secret: "$NAGATHA_TEST_SECRET"
servers:
  - name: toolsrv
    url: http://localhost:9000/mcp
    headers:
      Authorization: "Bearer $NAGATHA_TEST_TOKEN"
`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.HTTP.AuthSecret != "s3cret" {
		t.Fatalf("got auth_secret %q, want expanded value", cfg.HTTP.AuthSecret)
	}
	if got := cfg.Servers[0].Headers["Authorization"]; got != "Bearer tok" {
		t.Fatalf("got header %q, want expanded value", got)
	}
}

func TestValidateRejectsDuplicateServers(t *testing.T) {
	path := writeConfig(t, `
servers:
  - name: toolsrv
    url: http://a
  - name: toolsrv
    url: http://b
`)

	_, err := LoadFrom(path)
	if !tools.IsCode(err, tools.CodeConfiguration) {
		t.Fatalf("got %v, want configuration_error", err)
	}
}

func TestValidateRejectsServerWithoutURL(t *testing.T) {
	path := writeConfig(t, "servers:\n  - name: toolsrv\n")

	_, err := LoadFrom(path)
	if !tools.IsCode(err, tools.CodeConfiguration) {
		t.Fatalf("got %v, want configuration_error", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Selector.Budget = 7
	cfg.Servers = []ServerConfig{{Name: "toolsrv", URL: "http://localhost:9000/mcp"}}

	if err := cfg.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadFrom(cfg.Path())
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if loaded.Selector.Budget != 7 {
		t.Fatalf("got budget %d, want 7", loaded.Selector.Budget)
	}
	if len(loaded.Servers) != 1 || loaded.Servers[0].Name != "toolsrv" {
		t.Fatalf("servers did not round-trip: %+v", loaded.Servers)
	}
}

func TestDurationAccessors(t *testing.T) {
	p := PoolConfig{AcquireTimeoutSeconds: 5, CallTimeoutSeconds: 30, RetryBackoffMS: 500}
	if p.AcquireTimeout() != 5*time.Second {
		t.Fatalf("got %v, want 5s", p.AcquireTimeout())
	}
	if p.CallTimeout() != 30*time.Second {
		t.Fatalf("got %v, want 30s", p.CallTimeout())
	}
	if p.RetryBackoff() != 500*time.Millisecond {
		t.Fatalf("got %v, want 500ms", p.RetryBackoff())
	}
}

func TestEnabledServersFiltersDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Servers = []ServerConfig{
		{Name: "a", URL: "http://a"},
		{Name: "b", URL: "http://b", Disabled: true},
	}
	enabled := cfg.EnabledServers()
	if len(enabled) != 1 || enabled[0].Name != "a" {
		t.Fatalf("got %+v, want only server a", enabled)
	}
}
