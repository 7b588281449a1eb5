package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/coder/websocket"

	"beamcode/internal/auth"
	"beamcode/internal/message"
	"beamcode/internal/ratelimit"
	"beamcode/internal/session"
	"beamcode/internal/slashcmd"
)

// maxFrameBytes bounds one inbound WebSocket frame (spec §4.8): it is
// the socket's read limit, so an oversized frame is not read in full and
// the socket is closed with StatusMessageTooBig.
const maxFrameBytes = 1 << 20

// Hub is the narrow view the Consumer Gateway needs of the Session
// Coordinator: delivering a consumer-originated message to a session's
// backend, and running the slash command chain. Kept separate from the
// coordinator package so the dependency runs gateway -> session/slashcmd
// only; the coordinator composition root is what implements Hub by
// gluing its Connector and slashcmd.Chain together, avoiding an import
// cycle (coordinator.go needs to construct a gateway.ConsumerGateway).
type Hub interface {
	Send(ctx context.Context, rtm *session.Runtime, msg message.Unified) error
	ExecuteSlash(ctx context.Context, rtm *session.Runtime, command, args string) (slashcmd.Result, error)
}

// inboundFrame is the wire shape of one consumer->broker WebSocket
// message: either a UnifiedMessage-shaped payload, a slash command
// (command set, content/metadata empty), or one of the consumer-local
// operations spec §4.8 closes over (presence_query, set_adapter,
// queue_message family).
type inboundFrame struct {
	Type     string          `json:"type"`
	Content  []message.Block `json:"content,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
	Command  string          `json:"command,omitempty"`
	Args     string          `json:"args,omitempty"`
	Adapter  string          `json:"adapter,omitempty"`
	Images   []string        `json:"images,omitempty"`
}

// localTypes are inbound frame types the Consumer Gateway handles
// itself rather than forwarding to the backend as a UnifiedMessage
// (spec §4.8).
var localTypes = map[message.Type]bool{
	message.TypePresenceQuery:       true,
	message.TypeSetAdapter:          true,
	message.TypeQueueMessage:        true,
	message.TypeUpdateQueuedMessage: true,
	message.TypeCancelQueuedMessage: true,
}

// ConsumerGateway accepts WebSocket connections from consumer clients,
// authenticates them, attaches them to a session's Broadcaster, and
// pumps frames in both directions.
//
// Grounded on the pack's ashureev-shsh-labs WebSocketHandler (Accept,
// origin check, paired input/output goroutines joined until either
// exits), generalized from one exec stream per socket to N sockets per
// session fanned out by a shared Broadcaster.
type ConsumerGateway struct {
	auth        *auth.Chain
	broadcaster *Broadcaster
	hub         Hub
	allowOrigins []string

	rateBurst  int
	rateRefill float64

	nextHandle atomic.Uint64
}

// NewConsumerGateway constructs a ConsumerGateway.
func NewConsumerGateway(authChain *auth.Chain, broadcaster *Broadcaster, hub Hub, allowOrigins []string, rateBurst int, rateRefillPerSec float64) *ConsumerGateway {
	return &ConsumerGateway{
		auth:         authChain,
		broadcaster:  broadcaster,
		hub:          hub,
		allowOrigins: allowOrigins,
		rateBurst:    rateBurst,
		rateRefill:   rateRefillPerSec,
	}
}

// ServeSession upgrades r to a WebSocket and runs the spec §4.8-step-4 /
// §5 handshake before live frames start flowing: identity, then
// session_init reflecting current state, then history replay, then
// cli_connected if the backend is already attached. It then broadcasts
// a presence_update to every consumer (including the one that just
// joined), and again on close.
func (g *ConsumerGateway) ServeSession(w http.ResponseWriter, r *http.Request, rtm *session.Runtime, lastSeen uint64) {
	identity, err := g.auth.Authenticate(r.Header.Get("Authorization"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.allowOrigins,
	})
	if err != nil {
		return
	}
	ws.SetReadLimit(maxFrameBytes)
	defer func() {
		_ = ws.Close(websocket.StatusNormalClosure, "session ended")
	}()

	handle := session.ConsumerHandle(g.nextHandle.Add(1))
	limiter := ratelimit.New(g.rateBurst, g.rateRefill)
	rtm.RegisterConsumer(handle, identity, limiter)
	defer func() {
		rtm.RemoveConsumer(handle)
		g.broadcastPresence(rtm)
	}()

	outbox := g.broadcaster.Attach(handle)
	defer g.broadcaster.Detach(handle)

	g.sendDirect(outbox, rtm, message.TypeIdentity, message.Unified{
		Type: message.TypeIdentity,
		Role: message.RoleSystem,
		Metadata: map[string]any{
			"user_id":      identity.UserID,
			"display_name": identity.DisplayName,
			"role":         string(identity.Role),
		},
	})
	g.sendDirect(outbox, rtm, message.TypeSessionInit, message.Unified{
		Type:     message.TypeSessionInit,
		Role:     message.RoleSystem,
		Metadata: map[string]any{"state": rtm.State(), "adapter": rtm.AdapterName()},
	})

	if err := g.broadcaster.Replay(rtm.ID(), rtm, handle, lastSeen); err != nil {
		_ = ws.Close(websocket.StatusPolicyViolation, "replay overflow")
		return
	}

	if rtm.Backend() != nil {
		g.sendDirect(outbox, rtm, message.TypeCLIConnected, message.Unified{
			Type: message.TypeCLIConnected,
			Role: message.RoleSystem,
		})
	}

	g.broadcastPresence(rtm)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	done := make(chan struct{}, 2)
	go func() {
		defer cancel()
		g.writePump(ctx, ws, outbox)
		done <- struct{}{}
	}()
	go func() {
		defer cancel()
		g.readPump(ctx, ws, rtm, limiter)
		done <- struct{}{}
	}()
	<-done
	<-done
}

// sendDirect wraps payload in a SequencedMessage using the session's
// sequencer and pushes it straight to one consumer's Outbox, bypassing
// Publish's fan-out since identity/session_init/cli_connected are
// addressed to the newly joined consumer alone (spec §5's per-connection
// ordering guarantee), not broadcast to the whole session.
func (g *ConsumerGateway) sendDirect(o *Outbox, rtm *session.Runtime, typ message.Type, payload message.Unified) {
	env := message.Wrap(rtm.Sequencer(), string(typ), payload)
	select {
	case o.ch <- env:
	default:
	}
}

// broadcastPresence fans a presence_update snapshot out to every
// consumer attached to rtm (spec §4.8: "on open and on close").
func (g *ConsumerGateway) broadcastPresence(rtm *session.Runtime) {
	consumers := rtm.Consumers()
	snapshot := make([]map[string]any, 0, len(consumers))
	for _, id := range consumers {
		snapshot = append(snapshot, map[string]any{
			"user_id":      id.UserID,
			"display_name": id.DisplayName,
			"role":         string(id.Role),
		})
	}
	env := message.Wrap(rtm.Sequencer(), string(message.TypePresenceUpdate), message.Unified{
		Type:     message.TypePresenceUpdate,
		Role:     message.RoleSystem,
		Metadata: map[string]any{"consumers": snapshot},
	})
	g.broadcaster.Publish(rtm.ID(), env)
}

func (g *ConsumerGateway) writePump(ctx context.Context, ws *websocket.Conn, outbox *Outbox) {
	for {
		select {
		case env, ok := <-outbox.Chan():
			if !ok {
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (g *ConsumerGateway) readPump(ctx context.Context, ws *websocket.Conn, rtm *session.Runtime, limiter *ratelimit.Limiter) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		if len(data) > maxFrameBytes {
			_ = ws.Close(websocket.StatusMessageTooBig, "frame too large")
			return
		}
		if !limiter.Allow() {
			continue
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		rtm.Touch()
		g.dispatch(ctx, rtm, frame)
	}
}

// dispatch turns one decoded inbound frame into a Hub call: a slash
// command runs the chain, a gateway-local type (spec §4.8) is handled
// without ever reaching the backend, and everything else becomes a
// UnifiedMessage sent to the session's backend (or buffered, per
// Connector.Send's disconnected-session behavior).
func (g *ConsumerGateway) dispatch(ctx context.Context, rtm *session.Runtime, frame inboundFrame) {
	if frame.Command != "" {
		_, _ = g.hub.ExecuteSlash(ctx, rtm, frame.Command, frame.Args)
		return
	}

	typ := message.Type(frame.Type)
	if localTypes[typ] {
		g.dispatchLocal(rtm, typ, frame)
		return
	}

	msg := message.Unified{
		Type:     typ,
		Role:     message.RoleUser,
		Content:  frame.Content,
		Metadata: frame.Metadata,
	}
	_ = g.hub.Send(ctx, rtm, msg)
}

// dispatchLocal handles the consumer-local operations spec §4.8 closes
// over: presence_query replies with a presence snapshot, set_adapter
// updates the session's adapter name before the backend connects, and
// the queue_message family mutates the single-slot queuedMessage.
func (g *ConsumerGateway) dispatchLocal(rtm *session.Runtime, typ message.Type, frame inboundFrame) {
	switch typ {
	case message.TypePresenceQuery:
		g.broadcastPresence(rtm)

	case message.TypeSetAdapter:
		if rtm.Backend() == nil && frame.Adapter != "" {
			rtm.SetAdapterName(frame.Adapter)
		}

	case message.TypeQueueMessage:
		rtm.SetQueuedMessage(&session.QueuedMessage{Content: textContent(frame), Images: frame.Images})

	case message.TypeUpdateQueuedMessage:
		if rtm.QueuedMessage() != nil {
			rtm.SetQueuedMessage(&session.QueuedMessage{Content: textContent(frame), Images: frame.Images})
		}

	case message.TypeCancelQueuedMessage:
		rtm.SetQueuedMessage(nil)
	}
}

// textContent extracts the plain text a queue_message/update_queued_message
// frame carries, either as a bare text block or (matching inboundFrame's
// general shape) the frame's first text-typed content block.
func textContent(frame inboundFrame) string {
	for _, b := range frame.Content {
		if b.Type == message.BlockText {
			return b.Text
		}
	}
	return ""
}
