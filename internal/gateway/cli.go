package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"beamcode/internal/backend"
)

// invertedAdapterName is the one adapter the CLI Gateway delivers
// sockets to. "claude" stays the canonical default for the dialed-out
// CLI integration; "sdk-url" is reserved for the embedding-SDK dial-in
// case this file implements.
const invertedAdapterName = "sdk-url"

// CLIGateway accepts the inbound WebSocket connection an embedding SDK
// process opens to rendezvous with a session already waiting on
// sdkadapter.Adapter.Connect (spec §4.12). It performs no message
// translation itself: once delivered, the wire format is whatever the
// sdk-url Session already expects (newline-delimited UnifiedMessage
// JSON), same as every other structured adapter.
//
// Grounded on the teacher's internal/daemon rendezvous accept loop
// (accept a Unix-socket connection, look up the waiting session by
// name, hand off the raw conn), generalized to a WebSocket listener and
// sdkadapter.Adapter.DeliverSocket's in-process channel handoff.
type CLIGateway struct {
	resolver     *backend.Resolver
	allowOrigins []string
}

// NewCLIGateway constructs a CLIGateway.
func NewCLIGateway(resolver *backend.Resolver, allowOrigins []string) *CLIGateway {
	return &CLIGateway{resolver: resolver, allowOrigins: allowOrigins}
}

// ServeDialIn upgrades r to a WebSocket and hands it to the session
// identified by sessionID. If no session is currently waiting for a
// dial-in (wrong id, already delivered, or cancelled), the socket is
// closed with a policy-violation status and a diagnostic reason.
func (g *CLIGateway) ServeDialIn(w http.ResponseWriter, r *http.Request, sessionID string) {
	adapter, err := g.resolver.Resolve(invertedAdapterName)
	if err != nil {
		http.Error(w, "sdk-url adapter not registered", http.StatusNotImplemented)
		return
	}
	inv, ok := adapter.(backend.InvertedAdapter)
	if !ok {
		http.Error(w, "sdk-url adapter does not accept dial-in", http.StatusNotImplemented)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.allowOrigins,
	})
	if err != nil {
		return
	}

	conn := websocket.NetConn(context.Background(), ws, websocket.MessageText)
	if !inv.DeliverSocket(sessionID, conn) {
		_ = ws.Close(websocket.StatusPolicyViolation, "no session waiting for sessionID "+sessionID)
		return
	}
	// Ownership of conn now belongs to the sdk-url Session's read loop
	// and outbound Send/SendRaw calls; this handler's job ends here.
}

// RejectInvalidSessionID accepts and immediately closes a WebSocket with
// policy-violation, for a path whose session id failed
// session.ValidID (spec §6: "/ws/cli/<uuid>" and "/ws/consumer/<uuid>",
// non-UUID -> close 1008). The socket must be accepted before it can be
// closed with a status code, hence accept-then-close rather than
// rejecting the HTTP upgrade outright.
func RejectInvalidSessionID(w http.ResponseWriter, r *http.Request, allowOrigins []string, sessionID string) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: allowOrigins,
	})
	if err != nil {
		return
	}
	_ = ws.Close(websocket.StatusPolicyViolation, "invalid session id "+sessionID)
}

// SessionIDFromPath extracts the trailing path segment as a session id,
// matching the CLI Gateway's route shape (e.g. "/ws/cli/{sessionID}").
func SessionIDFromPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}
