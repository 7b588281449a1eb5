package coordinator

import (
	"context"
	"time"

	"beamcode/internal/backend"
	"beamcode/internal/berr"
	"beamcode/internal/message"
	"beamcode/internal/session"
)

// Connector is the Backend Connector (spec §4.3): it resolves an
// adapter, opens a backend.Session, pumps its Messages() channel through
// the Router, and manages the connect/disconnect/reconnect lifecycle.
//
// Grounded on the teacher's Session.StartAgent/Session.handleAgentEvent
// pairing (session.go), generalized from "spawn the one configured
// harness" to "resolve any registered adapter by name."
type Connector struct {
	resolver *backend.Resolver
	router   *Router
	events   EventSink
}

// NewConnector constructs a Connector.
func NewConnector(resolver *backend.Resolver, router *Router, events EventSink) *Connector {
	return &Connector{resolver: resolver, router: router, events: events}
}

// Connect resolves rtm's adapter, opens a backend session, registers it
// on the Runtime, drains any buffered pending messages accumulated while
// disconnected, and starts the pump goroutine. It returns once the
// adapter's Connect call returns (which may block on a handshake or, for
// the inverted sdk-url adapter, on a CLI dial-in).
func (c *Connector) Connect(ctx context.Context, rtm *session.Runtime, resume bool, adapterOptions map[string]any) error {
	name := rtm.AdapterName()
	adapter, err := c.resolver.Resolve(name)
	if err != nil {
		return berr.New(berr.KindConnectFailed, "connector.connect", err)
	}

	sess, err := adapter.Connect(ctx, backend.ConnectOptions{
		SessionID:      rtm.ID(),
		Resume:         resume,
		AdapterOptions: adapterOptions,
	})
	if err != nil {
		if ctx.Err() != nil {
			return berr.New(berr.KindHandshakeTimeout, "connector.connect", err)
		}
		return berr.New(berr.KindConnectFailed, "connector.connect", err)
	}

	rtm.SetBackend(sess)
	c.emit(rtm.ID(), "backend:connected", map[string]any{"adapter": name})

	for _, text := range rtm.DrainPendingMessages() {
		_ = sess.Send(ctx, message.Unified{
			Type:    message.TypeUserMessage,
			Role:    message.RoleUser,
			Content: []message.Block{{Type: message.BlockText, Text: text}},
		})
	}

	go c.pump(rtm, sess)
	return nil
}

// pump drains sess.Messages() into the Router until the channel closes,
// then marks the backend detached so a later reconnect can re-resolve.
func (c *Connector) pump(rtm *session.Runtime, sess session.BackendSession) {
	ds, ok := sess.(interface {
		Messages() <-chan message.Unified
	})
	if !ok {
		return
	}
	for msg := range ds.Messages() {
		c.router.Route(rtm, msg, time.Now())
	}

	rtm.SetBackend(nil)
	c.emit(rtm.ID(), "backend:disconnected", nil)
}

// Send delivers a consumer-originated message to rtm's backend if
// connected, buffering it for replay on reconnect otherwise (spec §4.3
// "Failure behavior": messages sent while disconnected queue rather than
// error, up to the pending-message cap).
func (c *Connector) Send(ctx context.Context, rtm *session.Runtime, msg message.Unified) error {
	sess := rtm.Backend()
	if sess == nil {
		if msg.Type == message.TypeUserMessage {
			rtm.BufferPendingMessage(contentText(msg))
			return nil
		}
		return berr.New(berr.KindBackendDisconnected, "connector.send", nil)
	}
	if err := sess.Send(ctx, msg); err != nil {
		return berr.New(berr.KindBackendDisconnected, "connector.send", err)
	}
	return nil
}

// Disconnect closes rtm's backend session, if any, without removing the
// runtime from the coordinator (used for a clean interrupt+resume, as
// opposed to Delete which also cancels an sdk-url adapter's pending
// dial-in).
func (c *Connector) Disconnect(rtm *session.Runtime) error {
	sess := rtm.Backend()
	if sess == nil {
		return nil
	}
	rtm.SetBackend(nil)
	return sess.Close()
}

// CancelInverted cancels a pending inverted-adapter dial-in wait, for
// session deletion before an embedding SDK ever connects.
func (c *Connector) CancelInverted(adapterName, sessionID string) {
	adapter, err := c.resolver.Resolve(adapterName)
	if err != nil {
		return
	}
	if inv, ok := adapter.(backend.InvertedAdapter); ok {
		inv.CancelPending(sessionID)
	}
}

func (c *Connector) emit(sessionID, event string, fields map[string]any) {
	if c.events != nil {
		c.events.Emit(sessionID, event, fields)
	}
}

func contentText(msg message.Unified) string {
	var out string
	for _, b := range msg.Content {
		if b.Type == message.BlockText {
			out += b.Text
		}
	}
	return out
}
