package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// PendingInitialize is the {requestId, timer} pair for an in-flight
// initialize handshake (spec §3 pendingInitialize, §4.6).
type PendingInitialize struct {
	RequestID string
	Timer     *time.Timer
}

// CapabilitiesPolicy implements the Idle -> AwaitingInitialize -> Idle
// state machine from spec §4.6. It is grounded on the teacher's
// AgentMonitor single-outstanding-timer idiom (monitor.go's
// stateChangedAt/stateCh bookkeeping), generalized from "agent activity
// state" to "one in-flight control request."
type CapabilitiesPolicy struct {
	mu      sync.Mutex
	pending *PendingInitialize

	// SendRaw transmits a raw control_request to the backend. Returns
	// berr-kind Unsupported if the adapter's translator doesn't support it.
	SendRaw func(payload map[string]any) error

	// Timeout is how long to wait for a control_response before declaring
	// capabilities:timeout (spec's initializeTimeoutMs).
	Timeout time.Duration

	// OnTimeout fires when the initialize request times out.
	OnTimeout func(requestID string)
}

// NewCapabilitiesPolicy returns a policy with the given timeout.
func NewCapabilitiesPolicy(timeout time.Duration) *CapabilitiesPolicy {
	return &CapabilitiesPolicy{Timeout: timeout}
}

// HasPending reports whether an initialize request is currently in flight,
// enforcing spec §8 invariant 4 (no more than one pendingInitialize at a
// time) for callers that want to check before calling SendInitializeRequest.
func (p *CapabilitiesPolicy) HasPending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending != nil
}

// SendInitializeRequest starts the handshake if none is outstanding. It is
// a no-op (spec S4: "Second initialize before response is a no-op") if one
// is already pending.
func (p *CapabilitiesPolicy) SendInitializeRequest() (requestID string, started bool) {
	p.mu.Lock()
	if p.pending != nil {
		id := p.pending.RequestID
		p.mu.Unlock()
		return id, false
	}
	requestID = uuid.New().String()
	timer := time.AfterFunc(p.Timeout, func() { p.fireTimeout(requestID) })
	p.pending = &PendingInitialize{RequestID: requestID, Timer: timer}
	p.mu.Unlock()

	if p.SendRaw == nil {
		return requestID, true
	}
	err := p.SendRaw(map[string]any{"subtype": "initialize", "request_id": requestID})
	if err != nil {
		// Adapter doesn't support raw control requests; capabilities will
		// arrive via session_init instead. Cancel the timer silently.
		p.CancelPendingInitialize()
	}
	return requestID, true
}

func (p *CapabilitiesPolicy) fireTimeout(requestID string) {
	p.mu.Lock()
	if p.pending == nil || p.pending.RequestID != requestID {
		p.mu.Unlock()
		return
	}
	p.pending = nil
	p.mu.Unlock()
	if p.OnTimeout != nil {
		p.OnTimeout(requestID)
	}
}

// MatchControlResponse returns true and clears the pending slot if
// requestID matches the outstanding request.
func (p *CapabilitiesPolicy) MatchControlResponse(requestID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil || p.pending.RequestID != requestID {
		return false
	}
	p.pending.Timer.Stop()
	p.pending = nil
	return true
}

// CancelPendingInitialize clears the timer and pending state. Safe to call
// multiple times.
func (p *CapabilitiesPolicy) CancelPendingInitialize() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return
	}
	p.pending.Timer.Stop()
	p.pending = nil
}
