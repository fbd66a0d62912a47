package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/config"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/tools"
)

func testPoolConfig() config.PoolConfig {
	return config.PoolConfig{
		MaxPerServer:          2,
		AcquireTimeoutSeconds: 1,
		CallTimeoutSeconds:    1,
		MaxRetries:            2,
		RetryBackoffMS:        5,
		FailureThreshold:      3,
	}
}

func manifest(names ...string) func(ctx context.Context) ([]tools.Descriptor, error) {
	return func(ctx context.Context) ([]tools.Descriptor, error) {
		descs := make([]tools.Descriptor, 0, len(names))
		for _, n := range names {
			descs = append(descs, tools.Descriptor{Name: n, Description: n})
		}
		return descs, nil
	}
}

// routingDialer picks a per-server fake dialer.
type routingDialer struct {
	byName map[string]*fakeDialer
}

func (d *routingDialer) Dial(ctx context.Context, server config.ServerConfig) (RemoteConn, error) {
	return d.byName[server.Name].Dial(ctx, server)
}

func TestInitializeIsolatesServerFailure(t *testing.T) {
	good := &fakeDialer{listFn: manifest("weather_get", "weather_forecast")}
	bad := &fakeDialer{}
	bad.failing.Store(true)

	dialer := &routingDialer{byName: map[string]*fakeDialer{"good": good, "bad": bad}}
	m := NewManager([]config.ServerConfig{testServer("good"), testServer("bad")}, testPoolConfig(), dialer, nil)

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	remote := m.RemoteTools()
	if len(remote) != 2 {
		t.Fatalf("got %d remote tools, want 2 from the healthy server", len(remote))
	}
	for _, d := range remote {
		if d.Source != "good" {
			t.Errorf("tool %s attributed to %s, want good", d.Name, d.Source)
		}
		if d.Origin != tools.OriginRemote {
			t.Errorf("tool %s origin = %s, want remote", d.Name, d.Origin)
		}
	}

	for _, st := range m.Snapshot() {
		switch st.Name {
		case "good":
			if st.Failures != 0 || st.Tools != 2 {
				t.Errorf("good server: failures=%d tools=%d, want 0 and 2", st.Failures, st.Tools)
			}
		case "bad":
			if st.Failures != 1 {
				t.Errorf("bad server: failures=%d, want 1", st.Failures)
			}
		}
	}
}

func TestRefreshSwapsSnapshotAtomically(t *testing.T) {
	dialer := &fakeDialer{listFn: manifest("one")}
	m := NewManager([]config.ServerConfig{testServer("alpha")}, testPoolConfig(), dialer, nil)

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	before := m.RemoteTools()

	dialer.mu.Lock()
	dialer.listFn = manifest("one", "two")
	for _, c := range dialer.conns {
		c.listFn = dialer.listFn
	}
	dialer.mu.Unlock()

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("second refresh: %v", err)
	}

	if len(before) != 1 || before[0].Name != "one" {
		t.Errorf("earlier snapshot mutated: %+v", before)
	}
	after := m.RemoteTools()
	if len(after) != 2 {
		t.Errorf("got %d tools after refresh, want 2", len(after))
	}
}

func TestRefreshKeepsLastKnownUnderThreshold(t *testing.T) {
	dialer := &fakeDialer{listFn: manifest("echo_remote")}
	m := NewManager([]config.ServerConfig{testServer("alpha")}, testPoolConfig(), dialer, nil)

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(m.RemoteTools()) != 1 {
		t.Fatalf("got %d tools, want 1", len(m.RemoteTools()))
	}

	dialer.failing.Store(true)

	// Two failures stay under the threshold of three: last known manifest
	// is still served.
	for i := 0; i < 2; i++ {
		if err := m.Refresh(context.Background()); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}
	if len(m.RemoteTools()) != 1 {
		t.Errorf("under threshold: got %d tools, want last known 1", len(m.RemoteTools()))
	}

	// The third consecutive failure crosses it: tools are dropped.
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(m.RemoteTools()) != 0 {
		t.Errorf("over threshold: got %d tools, want 0", len(m.RemoteTools()))
	}
}

func TestRefreshRestoresRecoveredServer(t *testing.T) {
	dialer := &fakeDialer{listFn: manifest("echo_remote")}
	m := NewManager([]config.ServerConfig{testServer("alpha")}, testPoolConfig(), dialer, nil)

	dialer.failing.Store(true)
	for i := 0; i < 3; i++ {
		_ = m.Refresh(context.Background())
	}
	if len(m.RemoteTools()) != 0 {
		t.Fatalf("got %d tools while failing, want 0", len(m.RemoteTools()))
	}

	dialer.failing.Store(false)
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh after recovery: %v", err)
	}
	if len(m.RemoteTools()) != 1 {
		t.Errorf("got %d tools after recovery, want 1", len(m.RemoteTools()))
	}
}

func TestCallToolReleasesConnectionOnSuccess(t *testing.T) {
	dialer := &fakeDialer{
		callFn: func(ctx context.Context, name string, args map[string]any) (*tools.Result, error) {
			return &tools.Result{Content: "42"}, nil
		},
	}
	m := NewManager([]config.ServerConfig{testServer("alpha")}, testPoolConfig(), dialer, nil)

	for i := 0; i < 3; i++ {
		res, err := m.CallTool(context.Background(), "alpha", "answer", nil)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if res.Content != "42" {
			t.Fatalf("call %d content = %q, want 42", i, res.Content)
		}
	}
	if got := dialer.dials.Load(); got != 1 {
		t.Errorf("dialed %d times, want 1 (connection reused)", got)
	}

	for _, st := range m.Snapshot() {
		for _, c := range st.Connections {
			if c.State != ConnIdle {
				t.Errorf("connection %s state = %s, want IDLE after release", c.ID, c.State)
			}
			if c.UseCount != 3 {
				t.Errorf("use count = %d, want 3", c.UseCount)
			}
		}
	}
}

func TestCallToolTimeoutMarksConnFailedAndRetries(t *testing.T) {
	cfg := testPoolConfig()
	cfg.CallTimeoutSeconds = 1
	cfg.MaxRetries = 1
	cfg.RetryBackoffMS = 1
	dialer := &fakeDialer{
		callFn: func(ctx context.Context, name string, args map[string]any) (*tools.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	m := NewManager([]config.ServerConfig{testServer("alpha")}, cfg, dialer, nil)

	start := time.Now()
	_, err := m.CallTool(context.Background(), "alpha", "slow", nil)
	if !tools.IsCode(err, tools.CodeTimeout) {
		t.Fatalf("got %v, want timeout", err)
	}
	if elapsed := time.Since(start); elapsed < 2*time.Second {
		t.Fatalf("returned after %s, want one retry after the first timeout", elapsed)
	}

	// Both attempts used fresh connections and both were failed.
	if got := dialer.dials.Load(); got != 2 {
		t.Errorf("dialed %d times, want 2 (one per attempt)", got)
	}
	for _, st := range m.Snapshot() {
		for _, c := range st.Connections {
			if c.State == ConnIdle || c.State == ConnBusy {
				t.Errorf("connection %s state = %s after timeouts, want FAILED", c.ID, c.State)
			}
		}
	}
}

func TestCallToolToolErrorReleasesConnection(t *testing.T) {
	dialer := &fakeDialer{
		callFn: func(ctx context.Context, name string, args map[string]any) (*tools.Result, error) {
			return nil, errors.New("tool exploded")
		},
	}
	m := NewManager([]config.ServerConfig{testServer("alpha")}, testPoolConfig(), dialer, nil)

	_, err := m.CallTool(context.Background(), "alpha", "boom", nil)
	if !tools.IsCode(err, tools.CodeHandlerError) {
		t.Fatalf("got %v, want handler_error", err)
	}
	if got := dialer.dials.Load(); got != 1 {
		t.Errorf("dialed %d times, want 1 (no retry for tool errors)", got)
	}
	for _, st := range m.Snapshot() {
		for _, c := range st.Connections {
			if c.State != ConnIdle {
				t.Errorf("connection state = %s, want IDLE (released, not failed)", c.State)
			}
		}
	}
}

func TestCallToolUnknownServer(t *testing.T) {
	m := NewManager(nil, testPoolConfig(), &fakeDialer{}, nil)
	_, err := m.CallTool(context.Background(), "ghost", "echo", nil)
	if !tools.IsCode(err, tools.CodeServerUnavailable) {
		t.Fatalf("got %v, want server_unavailable", err)
	}
}

func TestCallToolRejectsOverThresholdServer(t *testing.T) {
	dialer := &fakeDialer{listFn: manifest("echo_remote")}
	m := NewManager([]config.ServerConfig{testServer("alpha")}, testPoolConfig(), dialer, nil)

	dialer.failing.Store(true)
	for i := 0; i < 3; i++ {
		_ = m.Refresh(context.Background())
	}
	dials := dialer.dials.Load()

	_, err := m.CallTool(context.Background(), "alpha", "echo_remote", nil)
	if !tools.IsCode(err, tools.CodeServerUnavailable) {
		t.Fatalf("got %v, want server_unavailable", err)
	}
	if dialer.dials.Load() != dials {
		t.Error("call to an unavailable server still tried to connect")
	}
}

func TestShutdownDrainsInflightCalls(t *testing.T) {
	release := make(chan struct{})
	dialer := &fakeDialer{
		callFn: func(ctx context.Context, name string, args map[string]any) (*tools.Result, error) {
			<-release
			return &tools.Result{Content: "done"}, nil
		},
	}
	m := NewManager([]config.ServerConfig{testServer("alpha")}, testPoolConfig(), dialer, nil)

	callDone := make(chan error, 1)
	go func() {
		_, err := m.CallTool(context.Background(), "alpha", "slow", nil)
		callDone <- err
	}()
	time.Sleep(20 * time.Millisecond)

	shutdownDone := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Shutdown(ctx)
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		t.Fatal("shutdown finished while a call was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case err := <-callDone:
		if err != nil {
			t.Fatalf("in-flight call failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight call never finished")
	}
	select {
	case <-shutdownDone:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown never finished after drain")
	}

	_, err := m.CallTool(context.Background(), "alpha", "slow", nil)
	if !tools.IsCode(err, tools.CodeServerUnavailable) {
		t.Errorf("call after shutdown: got %v, want server_unavailable", err)
	}
}
