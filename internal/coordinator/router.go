// Package coordinator implements the Unified Message Router, Backend
// Connector, and Session Coordinator composition root (spec §4.3, §4.4,
// §4.15): the layer that turns a resolved backend.Adapter and a
// session.Runtime into a running session.
//
// Grounded on the teacher's AgentMonitor (internal/session/agent/monitor/monitor.go)
// for the event-driven state/metrics update loop this Router generalizes,
// and Session.handleAgentEvent for the per-message-type dispatch shape.
package coordinator

import (
	"time"

	"beamcode/internal/message"
	"beamcode/internal/session"
)

// Broadcaster is the narrow interface the Router needs to fan a
// sequenced message out to consumers (implemented by
// internal/gateway.Broadcaster).
type Broadcaster interface {
	Publish(sessionID string, env message.Sequenced[message.Unified])
}

// Persister is the narrow interface the Router needs to save a
// session's state (implemented by internal/storage.Repository).
type Persister interface {
	Save(sessionID string, state session.State) error
}

// EventSink receives domain events the Router emits alongside message
// routing (e.g. for activity logging or metrics).
type EventSink interface {
	Emit(sessionID, event string, fields map[string]any)
}

// Router is the Unified Message Router (spec §4.4): the single place an
// inbound UnifiedMessage from a backend is reduced into session state,
// sequenced, persisted, and broadcast.
type Router struct {
	broadcaster Broadcaster
	persister   Persister
	events      EventSink

	// persistDebounce delays each state change's save by this long. Every
	// change schedules its own delayed save; saves are not coalesced.
	persistDebounce time.Duration
}

// NewRouter constructs a Router. persistDebounce of 0 makes every state
// change persist immediately; a positive value delays each change's save
// without merging saves.
func NewRouter(b Broadcaster, p Persister, events EventSink, persistDebounce time.Duration) *Router {
	return &Router{broadcaster: b, persister: p, events: events, persistDebounce: persistDebounce}
}

// Route applies one inbound UnifiedMessage to rt: it runs the pure
// reducer, updates narrow Runtime state (pending permissions,
// capabilities matching, last status, command registry), sequences and
// broadcasts the message, and persists state when it changed.
//
// now is passed in rather than read from time.Now() at the call site so
// tests can drive the correlation-buffer TTL deterministically.
func (rt *Router) Route(rtm *session.Runtime, msg message.Unified, now time.Time) {
	msg.SessionID = rtm.ID()
	rtm.Touch()

	before := rtm.State()
	after := session.Reduce(before, msg, rtm.CorrelationBuffer(), now)
	stateChanged := !sameState(before, after)
	rtm.SetState(after)

	rt.applySideEffects(rtm, msg, now)

	env := message.Wrap(rtm.Sequencer(), string(msg.Type), msg)
	rtm.AppendHistory(env.Seq, msg)
	if rt.broadcaster != nil {
		rt.broadcaster.Publish(rtm.ID(), env)
	}

	if stateChanged && rt.persister != nil {
		if rt.persistDebounce <= 0 {
			_ = rt.persister.Save(rtm.ID(), after)
		} else {
			go rt.debouncedSave(rtm)
		}
	}

	if rt.events != nil {
		rt.events.Emit(rtm.ID(), string(msg.Type), nil)
	}
}

// debouncedSave waits persistDebounce then saves the runtime's current
// state. Route starts one debouncedSave per detected state change, so N
// changes produce N disk writes.
func (rt *Router) debouncedSave(rtm *session.Runtime) {
	time.Sleep(rt.persistDebounce)
	_ = rt.persister.Save(rtm.ID(), rtm.State())
}

// applySideEffects updates Runtime-owned bookkeeping that isn't part of
// the persisted State: pending permission requests, the capabilities
// handshake, the command registry, and lastStatus (spec §3, §4.6,
// §4.11).
func (rt *Router) applySideEffects(rtm *session.Runtime, msg message.Unified, now time.Time) {
	switch msg.Type {
	case message.TypePermissionRequest:
		rtm.PutPendingPermission(session.PermissionRequest{
			RequestID:  stringField(msg.Metadata, "request_id"),
			ToolName:   stringField(msg.Metadata, "tool_name"),
			ToolCallID: stringField(msg.Metadata, "tool_call_id"),
			Input:      mapField(msg.Metadata, "input"),
			Timestamp:  now,
			Hints:      mapField(msg.Metadata, "hints"),
		})

	case message.TypePermissionResponse:
		rtm.ResolvePendingPermission(stringField(msg.Metadata, "request_id"))

	case message.TypeControlResponse:
		requestID := stringField(msg.Metadata, "request_id")
		if requestID != "" {
			rtm.Capabilities().MatchControlResponse(requestID)
		}

	case message.TypeSessionInit:
		if cmds, ok := msg.Metadata["slash_commands"].([]any); ok {
			rtm.Registry().RegisterReported(toStrings(cmds))
		}

	case message.TypeStatusChange:
		if v, ok := msg.Metadata["status"].(string); ok && v != "" {
			rtm.SetLastStatus(session.Status(v))
		}

	case message.TypeResult:
		rtm.SetLastStatus(session.StatusIdle)
	}
}

func sameState(a, b session.State) bool {
	// State.Clone always allocates fresh maps/slices even when contents
	// are unchanged, so the reducer's copy-on-write contract is "same
	// values, new identity" rather than pointer equality; compare the
	// scalar fields that change on every real update plus map lengths as
	// a cheap proxy for deep equality. Route stores the reduced state
	// either way; a change this proxy misses (e.g. a team member's status
	// flip) only skips that change's persist, never a broadcast.
	return a.SessionID == b.SessionID &&
		a.Model == b.Model &&
		a.CWD == b.CWD &&
		a.PermissionMode == b.PermissionMode &&
		a.TotalCostUSD == b.TotalCostUSD &&
		a.NumTurns == b.NumTurns &&
		a.LinesAdded == b.LinesAdded &&
		a.LinesRemoved == b.LinesRemoved &&
		a.DurationMS == b.DurationMS &&
		a.IsCompacting == b.IsCompacting &&
		len(a.ModelUsage) == len(b.ModelUsage) &&
		len(a.Team.Members) == len(b.Team.Members) &&
		len(a.Team.Tasks) == len(b.Team.Tasks) &&
		len(a.Tools) == len(b.Tools) &&
		len(a.Tags) == len(b.Tags)
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func mapField(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

func toStrings(in []any) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
