package builtin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/plugin"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/store"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/tools"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAllFactoryOrder(t *testing.T) {
	factories := All(nil)
	want := []string{"echo", "time", "memory", "notes", "weather"}
	if len(factories) != len(want) {
		t.Fatalf("got %d factories, want %d", len(factories), len(want))
	}
	for i, f := range factories {
		if f.Name != want[i] {
			t.Errorf("factory %d = %s, want %s", i, f.Name, want[i])
		}
		if f.New == nil {
			t.Errorf("factory %s has no constructor", f.Name)
		}
	}
}

func TestEchoRoundTrip(t *testing.T) {
	e := &Echo{}
	if err := e.Setup(context.Background(), nil); err != nil {
		t.Fatalf("setup: %v", err)
	}
	res, err := e.Invoke(context.Background(), "echo", map[string]any{"message": "hello there"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Content != "hello there" {
		t.Errorf("got %q", res.Content)
	}

	if _, err := e.Invoke(context.Background(), "echo", nil); err == nil {
		t.Error("expected an error without a message argument")
	}
}

func TestClockCommands(t *testing.T) {
	c := &Clock{}
	res, err := c.Invoke(context.Background(), "time_now", map[string]any{"timezone": "UTC"})
	if err != nil {
		t.Fatalf("time_now: %v", err)
	}
	if !strings.Contains(res.Content, "UTC") {
		t.Errorf("got %q, want a UTC timestamp", res.Content)
	}

	if _, err := c.Invoke(context.Background(), "time_now", map[string]any{"timezone": "Neverland/Nowhere"}); err == nil {
		t.Error("expected an error for a bogus timezone")
	}

	if _, err := c.Invoke(context.Background(), "time_today", nil); err != nil {
		t.Errorf("time_today: %v", err)
	}
}

func TestMemoryLifecycle(t *testing.T) {
	m := &Memory{store: newTestStore(t)}
	ctx := context.Background()
	if err := m.Setup(ctx, nil); err != nil {
		t.Fatalf("setup: %v", err)
	}

	res, err := m.Invoke(ctx, "memory_get", map[string]any{"key": "name"})
	if err != nil {
		t.Fatalf("get unset: %v", err)
	}
	if !strings.Contains(res.Content, "nothing stored") {
		t.Errorf("got %q for an unset key", res.Content)
	}

	if _, err := m.Invoke(ctx, "memory_set", map[string]any{"key": "name", "value": "Ada"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	res, err = m.Invoke(ctx, "memory_get", map[string]any{"key": "name"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if res.Content != "Ada" {
		t.Errorf("got %q, want Ada", res.Content)
	}

	if _, err := m.Invoke(ctx, "memory_forget", map[string]any{"key": "name"}); err != nil {
		t.Fatalf("forget: %v", err)
	}
	res, _ = m.Invoke(ctx, "memory_get", map[string]any{"key": "name"})
	if !strings.Contains(res.Content, "nothing stored") {
		t.Errorf("got %q after forgetting", res.Content)
	}
}

func TestNotesLifecycle(t *testing.T) {
	n := &Notes{store: newTestStore(t)}
	ctx := context.Background()

	res, err := n.Invoke(ctx, "notes_create", map[string]any{"title": "plan", "body": "**bold** move"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.Contains(res.Content, "plan") {
		t.Errorf("got %q", res.Content)
	}

	res, err = n.Invoke(ctx, "notes_list", nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(res.Content, "plan") {
		t.Errorf("list missing the note: %q", res.Content)
	}

	res, err = n.Invoke(ctx, "notes_render", map[string]any{"id": float64(1)})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(res.Content, "<strong>bold</strong>") {
		t.Errorf("render output %q", res.Content)
	}
}

func TestWeatherSetupFailsWithoutKey(t *testing.T) {
	t.Setenv("NAGATHA_KEYRING_DISABLED", "1")

	w := &Weather{}
	err := w.Setup(context.Background(), nil)
	if !tools.IsCode(err, tools.CodeConfiguration) {
		t.Fatalf("got %v, want configuration_error", err)
	}
}

func TestWeatherManifestMarksKeySecret(t *testing.T) {
	w := &Weather{}
	manifest := w.SettingsManifest()
	if len(manifest) != 2 {
		t.Fatalf("got %d fields", len(manifest))
	}
	if manifest[0].Key != "api_key" || !manifest[0].Secret || !manifest[0].Required {
		t.Errorf("api_key field = %+v", manifest[0])
	}
	if manifest[1].Key != "endpoint" || manifest[1].Default == "" {
		t.Errorf("endpoint field = %+v", manifest[1])
	}
}

func TestWeatherGet(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"Utrecht","weather":[{"description":"light rain"}],"main":{"temp":14.2,"humidity":87}}`))
	}))
	defer server.Close()

	w := &Weather{}
	cfg := map[string]string{"api_key": "test-key", "endpoint": server.URL}
	if err := w.Setup(context.Background(), cfg); err != nil {
		t.Fatalf("setup: %v", err)
	}

	res, err := w.Invoke(context.Background(), "weather_get", map[string]any{"location": "Utrecht"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !strings.Contains(res.Content, "light rain") || !strings.Contains(res.Content, "14.2") {
		t.Errorf("got %q", res.Content)
	}
	if !strings.Contains(gotQuery, "appid=test-key") || !strings.Contains(gotQuery, "q=Utrecht") {
		t.Errorf("request query = %q", gotQuery)
	}
}

func TestWeatherGetUnknownLocation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	w := &Weather{}
	if err := w.Setup(context.Background(), map[string]string{"api_key": "k", "endpoint": server.URL}); err != nil {
		t.Fatalf("setup: %v", err)
	}

	res, err := w.Invoke(context.Background(), "weather_get", map[string]any{"location": "Atlantis"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !res.IsError {
		t.Errorf("got %+v, want an in-band failure", res)
	}
}

// The failing weather plugin must not take the healthy builtins down.
func TestBuiltinsWithManagerIsolateWeatherFailure(t *testing.T) {
	t.Setenv("NAGATHA_KEYRING_DISABLED", "1")

	mgr := plugin.NewManager(nil)
	mgr.Discover(All(newTestStore(t)))
	mgr.Initialize(context.Background(), nil)

	if got, _ := mgr.State("weather"); got != plugin.StateError {
		t.Fatalf("weather state = %s, want ERROR", got)
	}
	for _, name := range []string{"echo", "time", "memory", "notes"} {
		if got, _ := mgr.State(name); got != plugin.StateActive {
			t.Errorf("%s state = %s, want ACTIVE", name, got)
		}
	}

	for _, d := range mgr.Commands() {
		if d.Name == "weather_get" {
			t.Error("catalog still advertises weather_get")
		}
	}

	_, err := mgr.Invoke(context.Background(), "weather_get", map[string]any{"location": "Utrecht"})
	if !tools.IsCode(err, tools.CodePluginNotActive) {
		t.Errorf("got %v, want plugin_not_active", err)
	}
}
