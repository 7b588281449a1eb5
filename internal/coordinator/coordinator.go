package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"beamcode/internal/auth"
	"beamcode/internal/backend"
	"beamcode/internal/backend/acpadapter"
	"beamcode/internal/backend/claudeadapter"
	"beamcode/internal/backend/codexadapter"
	"beamcode/internal/backend/geminiadapter"
	"beamcode/internal/backend/opencodeadapter"
	"beamcode/internal/backend/procbackend"
	_ "beamcode/internal/backend/sdkadapter"
	"beamcode/internal/berr"
	"beamcode/internal/config"
	"beamcode/internal/gateway"
	"beamcode/internal/message"
	"beamcode/internal/policy"
	"beamcode/internal/session"
	"beamcode/internal/slashcmd"
	"beamcode/internal/storage"
)

// shutdownGrace bounds how long Stop waits for the HTTP server to drain
// in-flight requests, matching the launcher's child-process grace
// period in spirit though not in value (a WebSocket server has no
// equivalent SIGTERM to send).
const shutdownGrace = 10 * time.Second

// Coordinator is the Session Coordinator (spec §4.15): the composition
// root owning every running session's Runtime, wiring the Resolver,
// Connector, Router, Broadcaster, and the Consumer/CLI Gateways
// together, and exposing the HTTP server the rest of the broker
// listens on.
//
// Grounded on the teacher's Session/client.Client wiring in
// NewClient (fixed set of callbacks threaded onto one aggregate) and
// ashureev-shsh-labs's cmd/server/main.go chi.Router assembly,
// generalized from "one tmux-backed terminal" to "N concurrently
// running adapter sessions."
type Coordinator struct {
	cfg *config.Config

	resolver    *backend.Resolver
	storage     storage.Backend
	authChain   *auth.Chain
	broadcaster *gateway.Broadcaster
	consumerGW  *gateway.ConsumerGateway
	cliGW       *gateway.CLIGateway
	router      *Router
	connector   *Connector
	slashChain  *slashcmd.Chain
	idlePolicy  *policy.IdlePolicy
	reconnect   *policy.ReconnectPolicy
	events      EventSink

	mu       sync.RWMutex
	runtimes map[string]*session.Runtime

	httpServer *http.Server
}

// New builds a Coordinator from cfg. It restores any persisted sessions
// from the configured storage backend before returning, so a restart
// doesn't lose in-flight work (spec §4.11).
func New(cfg *config.Config, events EventSink) (*Coordinator, error) {
	store, err := openStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("coordinator: open storage: %w", err)
	}

	applyAdapterOverrides(cfg.Adapters)

	resolver := backend.NewResolver(cfg.DefaultAdapter)
	authChain := buildAuthChain(cfg.Auth)
	broadcaster := gateway.NewBroadcaster(cfg.Backpressure.HighWaterMark, cfg.Backpressure.MaxQueueSize, nil)

	c := &Coordinator{
		cfg:         cfg,
		resolver:    resolver,
		storage:     store,
		authChain:   authChain,
		broadcaster: broadcaster,
		events:      events,
		runtimes:    make(map[string]*session.Runtime),
	}
	c.reconnect = policy.NewReconnectPolicy(cfg.Timeouts.ReconnectGrace, c.onReconnectGiveUp)

	// reconnectEvents watches the Connector's connect/disconnect events
	// to drive the Reconnect Policy's grace-period watchdog (spec §4.13),
	// then forwards every event on to the caller's EventSink.
	wrappedEvents := &reconnectEvents{reconnect: c.reconnect, next: events}

	c.router = NewRouter(broadcaster, store, wrappedEvents, 0)
	c.connector = NewConnector(resolver, c.router, wrappedEvents)
	c.slashChain = slashcmd.NewChain(slashcmd.BuiltinHelp)
	c.consumerGW = gateway.NewConsumerGateway(authChain, broadcaster, c, cfg.Origins, cfg.RateLimit.Burst, cfg.RateLimit.MessagesPerSecond)
	c.cliGW = gateway.NewCLIGateway(resolver, cfg.Origins)

	idlePolicy, err := policy.NewIdlePolicy(cfg.Timeouts.IdleReap, c.onIdleReap)
	if err != nil {
		return nil, fmt.Errorf("coordinator: idle policy: %w", err)
	}
	c.idlePolicy = idlePolicy

	if err := c.restore(); err != nil {
		return nil, fmt.Errorf("coordinator: restore sessions: %w", err)
	}

	return c, nil
}

func openStorage(cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		path := cfg.Storage.SQLitePath
		if path == "" {
			path = filepath.Join(cfg.DataDir, "sessions.db")
		}
		return storage.NewSQLiteRepository(path)
	default:
		return storage.NewRepository(filepath.Join(cfg.DataDir, "sessions"))
	}
}

func buildAuthChain(cfg config.AuthConfig) *auth.Chain {
	var authenticators []auth.Authenticator
	if cfg.BearerToken != "" {
		authenticators = append(authenticators, auth.NewBearerAuthenticator(cfg.BearerToken))
	}
	if cfg.JWTSecret != "" {
		authenticators = append(authenticators, auth.NewJWTAuthenticator(cfg.JWTSecret))
	}
	return auth.NewChain(cfg.AllowAnonymous, authenticators...)
}

// applyAdapterOverrides re-registers a structured adapter's factory
// with an operator-configured binary when cfg.Adapters names it,
// overriding the package-default binary name each adapter's own init()
// registered.
func applyAdapterOverrides(adapters map[string]config.AdapterConfig) {
	for name, ac := range adapters {
		name, ac := name, ac
		switch name {
		case "claude":
			backend.Register(name, func() backend.Adapter { return claudeadapter.New(ac.Binary) }, false)
		case "codex":
			backend.Register(name, func() backend.Adapter { return codexadapter.New(ac.Binary) }, false)
		case "gemini":
			backend.Register(name, func() backend.Adapter { return geminiadapter.New(ac.Binary) }, false)
		case "opencode":
			backend.Register(name, func() backend.Adapter { return opencodeadapter.New(ac.Binary) }, false)
		case "acp":
			backend.Register(name, func() backend.Adapter { return acpadapter.New(ac.Binary) }, false)
		case "generic":
			backend.Register(name, func() backend.Adapter { return procbackend.New(ac.Binary, ac.Args) }, false)
		}
	}
}

// restore repopulates in-memory Runtimes from the Session Repository
// (spec §4.11: "on startup, every persisted session is reloaded with
// its backend detached, ready to reconnect on the next consumer
// message").
func (c *Coordinator) restore() error {
	records, err := c.storage.RestoreAll()
	if err != nil {
		return err
	}
	for _, rec := range records {
		rtm := session.NewRuntime(rec.SessionID, rec.AdapterName, c.cfg.Timeouts.InitializeHandshake)
		rtm.SetState(rec.State)
		c.mu.Lock()
		c.runtimes[rec.SessionID] = rtm
		c.mu.Unlock()
		c.idlePolicy.Track(&idleRuntime{rtm: rtm, coordinator: c})
	}
	return nil
}

// CreateSession allocates a new Runtime, persists its initial state,
// and connects it to the named adapter (or the Resolver's default if
// adapterName is empty).
func (c *Coordinator) CreateSession(ctx context.Context, adapterName string, adapterOptions map[string]any) (*session.Runtime, error) {
	if adapterName == "" {
		adapterName = c.resolver.DefaultName()
	}
	id := uuid.New().String()
	rtm := session.NewRuntime(id, adapterName, c.cfg.Timeouts.InitializeHandshake)

	c.mu.Lock()
	c.runtimes[id] = rtm
	c.mu.Unlock()

	if err := c.storage.SaveWithAdapter(id, adapterName, rtm.State()); err != nil {
		return nil, berr.New(berr.KindPersistenceIOError, "coordinator.create", err)
	}
	c.idlePolicy.Track(&idleRuntime{rtm: rtm, coordinator: c})

	if adapterName == "sdk-url" {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeouts.SDKDialIn)
		defer cancel()
	}

	if err := c.connector.Connect(ctx, rtm, false, adapterOptions); err != nil {
		return rtm, err
	}
	return rtm, nil
}

// Lookup returns a running or restored session by id.
func (c *Coordinator) Lookup(sessionID string) (*session.Runtime, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rtm, ok := c.runtimes[sessionID]
	return rtm, ok
}

// DeleteSession disconnects and forgets a session, cancelling any
// pending sdk-url dial-in so an embedding SDK that connects later gets
// a clean rejection instead of a stale rendezvous.
func (c *Coordinator) DeleteSession(sessionID string) error {
	c.mu.Lock()
	rtm, ok := c.runtimes[sessionID]
	delete(c.runtimes, sessionID)
	c.mu.Unlock()
	if !ok {
		return berr.New(berr.KindUnknownSession, "coordinator.delete", nil)
	}
	c.connector.CancelInverted(rtm.AdapterName(), sessionID)
	_ = c.connector.Disconnect(rtm)
	rtm.MarkClosed()
	return c.storage.Delete(sessionID)
}

// Send implements gateway.Hub: a consumer-originated UnifiedMessage is
// handed to the Backend Connector.
func (c *Coordinator) Send(ctx context.Context, rtm *session.Runtime, msg message.Unified) error {
	return c.connector.Send(ctx, rtm, msg)
}

// ExecuteSlash implements gateway.Hub: it resolves rtm's adapter and
// runs the slash command chain against it.
func (c *Coordinator) ExecuteSlash(ctx context.Context, rtm *session.Runtime, command, args string) (slashcmd.Result, error) {
	adapter, err := c.resolver.Resolve(rtm.AdapterName())
	if err != nil {
		return slashcmd.Result{}, berr.New(berr.KindConnectFailed, "coordinator.slash", err)
	}
	return c.slashChain.Execute(ctx, rtm, adapter, command, args)
}

func (c *Coordinator) onIdleReap(sessionID string) {
	c.mu.Lock()
	rtm, ok := c.runtimes[sessionID]
	c.mu.Unlock()
	if !ok {
		return
	}
	_ = c.connector.Disconnect(rtm)
	if c.events != nil {
		c.events.Emit(sessionID, "session:idle_reaped", nil)
	}
}

func (c *Coordinator) onReconnectGiveUp(sessionID string) {
	if c.events != nil {
		c.events.Emit(sessionID, "session:reconnect_gave_up", nil)
	}
}

// idleRuntime adapts a Runtime+Coordinator pair to policy.IdleTarget:
// closing an idle target disconnects its backend without deleting the
// session, mirroring spec §4.14's "idle reap disconnects, it does not
// delete."
type idleRuntime struct {
	rtm         *session.Runtime
	coordinator *Coordinator
}

func (i *idleRuntime) ID() string              { return i.rtm.ID() }
func (i *idleRuntime) LastActivity() time.Time { return i.rtm.LastActivity() }
func (i *idleRuntime) Close() error            { return i.coordinator.connector.Disconnect(i.rtm) }

// reconnectEvents intercepts the Connector's backend:connected /
// backend:disconnected events to drive policy.ReconnectPolicy's
// watchdog, then forwards every event unchanged to next (nil-safe).
type reconnectEvents struct {
	reconnect *policy.ReconnectPolicy
	next      EventSink
}

func (e *reconnectEvents) Emit(sessionID, event string, fields map[string]any) {
	switch event {
	case "backend:disconnected":
		e.reconnect.NotifyDisconnected(sessionID)
	case "backend:connected":
		e.reconnect.NotifyReconnected(sessionID)
	}
	if e.next != nil {
		e.next.Emit(sessionID, event, fields)
	}
}

// Routes mounts the Consumer Gateway and CLI Gateway onto a chi router,
// matching the pack's chi.NewRouter()+middleware assembly
// (ashureev-shsh-labs cmd/server/main.go), generalized from one
// WebSocket route to the broker's session-scoped ones.
func (c *Coordinator) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", c.handleCreateSession)
		r.Get("/", c.handleListSessions)
		r.Delete("/{sessionID}", c.handleDeleteSession)
	})
	r.Get("/ws/consumer/{sessionID}", c.handleConsumerWS)
	r.Get("/ws/cli/{sessionID}", c.handleCLIDialIn)
	r.Get("/metrics", c.handleMetrics)

	return r
}

// Start runs the HTTP server until ctx is cancelled.
func (c *Coordinator) Start(ctx context.Context) error {
	go c.idlePolicy.Run(ctx)
	c.httpServer = &http.Server{Addr: c.cfg.Listen.Addr(), Handler: c.Routes()}
	errCh := make(chan error, 1)
	go func() { errCh <- c.httpServer.ListenAndServe() }()
	select {
	case <-ctx.Done():
		return c.Stop()
	case err := <-errCh:
		return err
	}
}

// Stop gracefully shuts the HTTP server down within shutdownGrace and
// disconnects every backend.
func (c *Coordinator) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if c.httpServer != nil {
		if err := c.httpServer.Shutdown(ctx); err != nil {
			return err
		}
	}
	c.mu.RLock()
	for _, rtm := range c.runtimes {
		_ = c.connector.Disconnect(rtm)
	}
	c.mu.RUnlock()
	return c.storage.Close()
}
