// Package backend defines the Backend Adapter contract (spec §4.1): the
// abstraction normalizing one agent wire protocol to the canonical
// UnifiedMessage stream in both directions. Concrete adapters (claude,
// codex, gemini, acp, opencode, sdk) live in sibling packages and
// register themselves with the Resolver via init().
//
// Grounded on the teacher's internal/session/agent/harness.Harness
// interface, generalized from "CLI harness with PTY lifecycle baked in"
// to "wire-protocol translator with an adapter-owned connection,"
// per spec §9's translation-discipline design note.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"beamcode/internal/message"
)

// Availability describes where an adapter's backend can run.
type Availability string

const (
	AvailabilityLocal  Availability = "local"
	AvailabilityRemote Availability = "remote"
	AvailabilityBoth   Availability = "both"
)

// Capabilities describes what an adapter supports, advertised once at
// Resolve time (not to be confused with the runtime capabilities
// handshake in package session, which is about what the *backend
// process* can do, not the adapter).
type Capabilities struct {
	Streaming     bool
	Permissions   bool
	SlashCommands bool
	Availability  Availability
	Teams         bool
}

// ConnectOptions parametrizes Adapter.Connect.
type ConnectOptions struct {
	SessionID      string
	Resume         bool
	AdapterOptions map[string]any
}

// ErrHandshakeTimeout is returned by Connect when the backend doesn't
// become ready within the adapter's handshake deadline.
var ErrHandshakeTimeout = errors.New("backend: handshake timeout")

// ErrExitBeforeReady is returned by Connect when the backend process
// exits before completing its handshake.
var ErrExitBeforeReady = errors.New("backend: exited before ready")

// ErrUnsupported is returned by optional-capability methods an adapter
// does not implement (e.g. SendRaw on an adapter with no raw transport).
var ErrUnsupported = errors.New("backend: unsupported")

// ErrSessionClosed is returned by Session.Send after Close.
var ErrSessionClosed = errors.New("backend: session closed")

// Adapter is the contract every backend integration implements.
type Adapter interface {
	Name() string
	Capabilities() Capabilities

	// Connect opens a backend session. It may block on handshake; it must
	// return a typed failure (ErrHandshakeTimeout, ErrExitBeforeReady, or
	// a wrapped connection error) rather than a generic error where
	// possible, so the Connector can classify the failure (spec §4.1).
	Connect(ctx context.Context, opts ConnectOptions) (Session, error)
}

// SlashExecutorFactory is implemented by adapters that can execute some
// slash commands natively (spec §4.7 Adapter-Native handler).
type SlashExecutorFactory interface {
	CreateSlashExecutor(sess Session) (SlashExecutor, error)
}

// SlashResult is returned by a successful adapter-native slash execution.
type SlashResult struct {
	Content    string
	Source     string // always "emulated" per spec §4.1
	DurationMS int64
}

// SlashExecutor is the narrow interface an adapter exposes for commands it
// can run itself without round-tripping through the backend as a normal
// user message.
type SlashExecutor interface {
	Handles(command string) bool
	Execute(ctx context.Context, command string) (*SlashResult, error)
	SupportedCommands() []string
}

// InvertedAdapter is implemented by adapters whose backend dials the
// broker rather than being dialed (spec §4.1, §4.12).
type InvertedAdapter interface {
	Adapter
	DeliverSocket(sessionID string, socket any) bool
	CancelPending(sessionID string)
}

// Session is the BackendSession contract from spec §4.1.
type Session interface {
	SessionID() string

	// Send delivers a UnifiedMessage asynchronously. Fails with
	// ErrSessionClosed after Close.
	Send(ctx context.Context, msg message.Unified) error

	// SendRaw delivers raw bytes for adapters with a byte-stream
	// transport (e.g. NDJSON). Fails with ErrUnsupported otherwise.
	SendRaw(ctx context.Context, payload []byte) error

	// Messages returns the channel of inbound UnifiedMessages. It is a
	// lazy, finite stream: closed when the underlying transport ends.
	// Not restartable.
	Messages() <-chan message.Unified

	// Close is idempotent; releases all resources and closes Messages().
	Close() error
}

// HookPayload is a hook event delivered out-of-band by adapters that use a
// filesystem or Unix-socket hook mechanism (grounded on the teacher's
// Harness.HandleHookEvent).
type HookPayload struct {
	EventName string
	Payload   json.RawMessage
}

// DisconnectResult describes the synthetic terminal message the Connector
// observes when a Messages() channel closes unexpectedly (spec §4.1
// "Failure behavior").
func DisconnectResult(reason string) message.Unified {
	return message.Unified{
		Type: message.TypeResult,
		Role: message.RoleSystem,
		Metadata: map[string]any{
			"status":    "failed",
			"is_error":  true,
			"error":     reason,
			"synthetic": true,
		},
	}
}

// killGracePeriod is the default grace period launcher.Shutdown waits
// after SIGTERM before escalating to SIGKILL.
const killGracePeriod = 5 * time.Second

// KillGracePeriod returns the default grace period used by the launcher.
func KillGracePeriod() time.Duration { return killGracePeriod }
