package coordinator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"beamcode/internal/backend"
	"beamcode/internal/config"
	"beamcode/internal/message"
)

// fakeSession is a no-op backend.Session used so CreateSession's tests
// never spawn a real CLI process.
type fakeSession struct {
	id       string
	messages chan message.Unified
	closed   bool
}

func (s *fakeSession) SessionID() string                                  { return s.id }
func (s *fakeSession) Send(ctx context.Context, msg message.Unified) error { return nil }
func (s *fakeSession) SendRaw(ctx context.Context, payload []byte) error  { return nil }
func (s *fakeSession) Messages() <-chan message.Unified                   { return s.messages }
func (s *fakeSession) Close() error {
	if !s.closed {
		s.closed = true
		close(s.messages)
	}
	return nil
}

type fakeAdapter struct{}

func (fakeAdapter) Name() string                   { return "fake-test" }
func (fakeAdapter) Capabilities() backend.Capabilities { return backend.Capabilities{} }
func (fakeAdapter) Connect(ctx context.Context, opts backend.ConnectOptions) (backend.Session, error) {
	return &fakeSession{id: opts.SessionID, messages: make(chan message.Unified)}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	backend.Register("fake-test", func() backend.Adapter { return fakeAdapter{} }, false)
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.DefaultAdapter = "fake-test"
	cfg.Auth = config.AuthConfig{AllowAnonymous: true}
	cfg.Timeouts.InitializeHandshake = 2 * time.Second
	cfg.Timeouts.ReconnectGrace = 2 * time.Second
	cfg.Timeouts.IdleReap = time.Hour
	cfg.Timeouts.SDKDialIn = 2 * time.Second
	return cfg
}

func TestCoordinatorCreateAndLookupSession(t *testing.T) {
	cfg := testConfig(t)
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Stop()

	rtm, err := c.CreateSession(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if rtm.AdapterName() != "fake-test" {
		t.Errorf("got adapter %q, want fake-test", rtm.AdapterName())
	}

	got, ok := c.Lookup(rtm.ID())
	if !ok || got != rtm {
		t.Fatalf("Lookup did not return the created runtime")
	}
}

func TestCoordinatorDeleteSessionRemovesRuntime(t *testing.T) {
	cfg := testConfig(t)
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Stop()

	rtm, err := c.CreateSession(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := c.DeleteSession(rtm.ID()); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, ok := c.Lookup(rtm.ID()); ok {
		t.Error("expected the runtime to be gone after DeleteSession")
	}
	if err := c.DeleteSession(rtm.ID()); err == nil {
		t.Error("expected deleting an unknown session to fail")
	}
}

func TestCoordinatorHTTPCreateAndListSessions(t *testing.T) {
	cfg := testConfig(t)
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Stop()

	srv := httptest.NewServer(c.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/sessions/", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("got status %d, want 201", resp.StatusCode)
	}

	resp2, err := http.Get(srv.URL + "/sessions/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp2.StatusCode)
	}
}

func TestApplyAdapterOverridesReregistersFactory(t *testing.T) {
	applyAdapterOverrides(map[string]config.AdapterConfig{
		"claude": {Binary: "/usr/local/bin/my-claude"},
	})
	resolver := backend.NewResolver("claude")
	adapter, err := resolver.Resolve("claude")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if adapter.Name() != "claude" {
		t.Errorf("got adapter name %q, want claude", adapter.Name())
	}
}
