package policy

import (
	"context"
	"sync"
	"time"
)

// Reconnector is the narrow view the Reconnect Policy needs of a
// session: reconnecting re-resolves and re-connects its backend
// adapter.
type Reconnector interface {
	ID() string
	Reconnect(ctx context.Context) error
}

// pendingReconnect tracks one in-flight grace-period wait.
type pendingReconnect struct {
	cancel context.CancelFunc
}

// ReconnectPolicy watches for backend disconnects and, if the backend
// doesn't come back within Grace, gives up and calls the configured
// callback (spec §4.13: "a disconnect starts a grace-period watchdog;
// reconnecting within it cancels the watchdog with no visible
// interruption").
//
// Grounded on the teacher's AgentMonitor single-outstanding-timer
// idiom (also the basis for CapabilitiesPolicy), generalized from "one
// state-change timer" to "one reconnect watchdog per session."
type ReconnectPolicy struct {
	Grace time.Duration

	mu      sync.Mutex
	pending map[string]*pendingReconnect

	onGiveUp func(sessionID string)
}

// NewReconnectPolicy returns a ReconnectPolicy with the given grace
// period.
func NewReconnectPolicy(grace time.Duration, onGiveUp func(sessionID string)) *ReconnectPolicy {
	return &ReconnectPolicy{
		Grace:   grace,
		pending: make(map[string]*pendingReconnect),
		onGiveUp: onGiveUp,
	}
}

// NotifyDisconnected starts (or restarts) the grace-period watchdog for
// sessionID. If the watchdog expires without a matching
// NotifyReconnected, onGiveUp fires once.
func (p *ReconnectPolicy) NotifyDisconnected(sessionID string) {
	p.mu.Lock()
	if existing, ok := p.pending[sessionID]; ok {
		existing.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.pending[sessionID] = &pendingReconnect{cancel: cancel}
	p.mu.Unlock()

	go func() {
		select {
		case <-time.After(p.Grace):
			p.mu.Lock()
			_, stillPending := p.pending[sessionID]
			delete(p.pending, sessionID)
			p.mu.Unlock()
			if stillPending && p.onGiveUp != nil {
				p.onGiveUp(sessionID)
			}
		case <-ctx.Done():
			return
		}
	}()
}

// NotifyReconnected cancels sessionID's watchdog, if one is running.
func (p *ReconnectPolicy) NotifyReconnected(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.pending[sessionID]; ok {
		existing.cancel()
		delete(p.pending, sessionID)
	}
}

// HasPending reports whether sessionID currently has a running
// watchdog, for tests and status endpoints.
func (p *ReconnectPolicy) HasPending(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[sessionID]
	return ok
}
