// Package gateway implements the consumer-facing half of the broker: the
// Consumer Broadcaster fans a session's sequenced messages out to every
// attached consumer socket, the Consumer Gateway accepts and authenticates
// those sockets, and the CLI Gateway handles the sdk-url adapter's
// inverted dial-in.
//
// Grounded on the teacher's client.Client fan-out (one buffered channel
// per attached terminal, slow readers dropped rather than blocking the
// session), generalized from "one tmux-style client" to "N WebSocket
// consumers with per-consumer backpressure and replay" per spec §4.9.
package gateway

import (
	"sync"

	"beamcode/internal/berr"
	"beamcode/internal/message"
	"beamcode/internal/session"
)

// criticalTypes are exempt from high-water-mark dropping — spec §4.9:
// permission requests and results must not be silently lost the way a
// stream_event chunk can be. Once a consumer's queue reaches
// maxQueueSize, a critical message is not enqueued either; onOverflow
// is called instead.
var criticalTypes = map[message.Type]bool{
	message.TypePermissionRequest:   true,
	message.TypePermissionCancelled: true,
	message.TypeResult:              true,
	message.TypeSessionInit:         true,
	message.TypeError:               true,
	message.TypeCLIDisconnected:     true,
	message.TypeCLIConnected:        true,
}

// Outbox is one consumer's inbound queue of sequenced envelopes, owned
// by the Consumer Gateway connection loop that drains it onto the wire.
type Outbox struct {
	ch     chan message.Sequenced[message.Unified]
	handle session.ConsumerHandle
}

// Chan returns the channel the gateway's write pump reads from.
func (o *Outbox) Chan() <-chan message.Sequenced[message.Unified] {
	return o.ch
}

// Broadcaster fans out sequenced messages to every consumer attached to
// a session, applying spec §4.9's high-water-mark backpressure: once a
// consumer's queue passes highWaterMark, newly published non-critical
// messages are dropped for that consumer rather than blocking the
// session or the other consumers; once it reaches maxQueueSize the
// consumer is disconnected outright (KindQueueOverflow).
type Broadcaster struct {
	highWaterMark int
	maxQueueSize  int

	mu      sync.RWMutex
	outboxes map[session.ConsumerHandle]*Outbox

	onOverflow func(sessionID string, handle session.ConsumerHandle)
}

// NewBroadcaster returns a Broadcaster with the given backpressure
// thresholds. onOverflow, if non-nil, is called when a consumer's queue
// hits maxQueueSize so the gateway can close that socket.
func NewBroadcaster(highWaterMark, maxQueueSize int, onOverflow func(sessionID string, handle session.ConsumerHandle)) *Broadcaster {
	return &Broadcaster{
		highWaterMark: highWaterMark,
		maxQueueSize:  maxQueueSize,
		outboxes:      make(map[session.ConsumerHandle]*Outbox),
		onOverflow:    onOverflow,
	}
}

// Attach registers a new consumer's Outbox, sized to maxQueueSize so a
// full channel send never blocks the publisher.
func (b *Broadcaster) Attach(handle session.ConsumerHandle) *Outbox {
	o := &Outbox{ch: make(chan message.Sequenced[message.Unified], b.maxQueueSize), handle: handle}
	b.mu.Lock()
	b.outboxes[handle] = o
	b.mu.Unlock()
	return o
}

// Detach removes and closes a consumer's Outbox.
func (b *Broadcaster) Detach(handle session.ConsumerHandle) {
	b.mu.Lock()
	o, ok := b.outboxes[handle]
	if ok {
		delete(b.outboxes, handle)
	}
	b.mu.Unlock()
	if ok {
		close(o.ch)
	}
}

// Publish fans env out to every consumer currently attached to
// sessionID; the order across consumers is not defined. It satisfies
// coordinator.Broadcaster.
func (b *Broadcaster) Publish(sessionID string, env message.Sequenced[message.Unified]) {
	b.mu.RLock()
	targets := make([]*Outbox, 0, len(b.outboxes))
	for _, o := range b.outboxes {
		targets = append(targets, o)
	}
	b.mu.RUnlock()

	critical := criticalTypes[env.Payload.Type]
	for _, o := range targets {
		b.deliver(sessionID, o, env, critical)
	}
}

func (b *Broadcaster) deliver(sessionID string, o *Outbox, env message.Sequenced[message.Unified], critical bool) {
	queued := len(o.ch)
	if queued >= b.maxQueueSize {
		if b.onOverflow != nil {
			b.onOverflow(sessionID, o.handle)
		}
		return
	}
	if !critical && queued >= b.highWaterMark {
		return
	}
	select {
	case o.ch <- env:
	default:
		if critical && b.onOverflow != nil {
			b.onOverflow(sessionID, o.handle)
		}
	}
}

// AttachedConsumers returns the number of consumer Outboxes currently
// registered, across every session, for the doctor/metrics surface.
func (b *Broadcaster) AttachedConsumers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.outboxes)
}

// Replay delivers every history entry with Seq > lastSeen directly to
// one consumer's Outbox, for reconnect catch-up (spec §4.9). It bypasses
// backpressure dropping since a reconnecting consumer is expected to
// drain its backlog promptly; persistent overflow still disconnects via
// onOverflow.
func (b *Broadcaster) Replay(sessionID string, rtm *session.Runtime, handle session.ConsumerHandle, lastSeen uint64) error {
	b.mu.RLock()
	o, ok := b.outboxes[handle]
	b.mu.RUnlock()
	if !ok {
		return berr.New(berr.KindUnknownSession, "gateway.Replay", nil)
	}
	for _, entry := range rtm.HistorySince(lastSeen) {
		env := message.Sequenced[message.Unified]{
			Seq:       entry.Seq,
			MessageID: message.NewMessageID(),
			Payload:   entry.Message,
			Type:      string(entry.Message.Type),
		}
		select {
		case o.ch <- env:
		default:
			if b.onOverflow != nil {
				b.onOverflow(sessionID, handle)
			}
			return berr.New(berr.KindQueueOverflow, "gateway.Replay", nil)
		}
	}
	return nil
}
