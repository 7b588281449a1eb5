// Package policy implements the Reconnect and Idle Policies (spec
// §4.13, §4.14): the two watchdog-style timers that decide when a
// disconnected backend should be given up on, and when an inactive
// session should be reaped.
//
// Grounded on the teacher's heartbeat-config idea (internal/config
// role.go's HeartbeatConfig, since removed in favor of BeamCode's
// simpler idle-reap model) for the "idle timeout nudges a check" shape,
// generalized from a one-shot per-agent idle timer to a periodically
// sweeping reaper driven by a recurrence rule.
package policy

import (
	"context"
	"sync"
	"time"

	"github.com/teambition/rrule-go"
)

// IdleTarget is the narrow view the Idle Policy needs of a session
// Runtime: when it last saw activity and how to close it.
type IdleTarget interface {
	ID() string
	LastActivity() time.Time
	Close() error
}

// IdlePolicy reaps sessions that have had no consumer or backend
// activity for longer than Timeout, checked on the schedule described
// by Rule (default: every minute).
type IdlePolicy struct {
	Timeout time.Duration
	Rule    *rrule.RRule

	mu       sync.Mutex
	sessions map[string]IdleTarget

	onReap func(sessionID string)
}

// NewIdlePolicy returns an IdlePolicy that reaps sessions idle longer
// than timeout, checking every minute.
func NewIdlePolicy(timeout time.Duration, onReap func(sessionID string)) (*IdlePolicy, error) {
	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:     rrule.MINUTELY,
		Interval: 1,
		Dtstart:  time.Now(),
	})
	if err != nil {
		return nil, err
	}
	return &IdlePolicy{
		Timeout:  timeout,
		Rule:     rule,
		sessions: make(map[string]IdleTarget),
		onReap:   onReap,
	}, nil
}

// Track registers a session for idle monitoring.
func (p *IdlePolicy) Track(t IdleTarget) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[t.ID()] = t
}

// Untrack removes a session from idle monitoring, e.g. on deletion.
func (p *IdlePolicy) Untrack(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, sessionID)
}

// Run blocks, sweeping for idle sessions on the configured recurrence
// until ctx is cancelled. Each sweep's wait interval is derived from
// the rule's next two occurrences rather than hardcoding a ticker, so
// operators can reconfigure Rule to check more or less often without a
// second mechanism.
func (p *IdlePolicy) Run(ctx context.Context) {
	for {
		wait := p.nextInterval()
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			p.sweep(time.Now())
		}
	}
}

func (p *IdlePolicy) nextInterval() time.Duration {
	occurrences := p.Rule.Between(time.Now(), time.Now().Add(24*time.Hour), true)
	if len(occurrences) < 2 {
		return time.Minute
	}
	d := occurrences[1].Sub(occurrences[0])
	if d <= 0 {
		return time.Minute
	}
	return d
}

func (p *IdlePolicy) sweep(now time.Time) {
	p.mu.Lock()
	candidates := make([]IdleTarget, 0, len(p.sessions))
	for _, t := range p.sessions {
		if now.Sub(t.LastActivity()) >= p.Timeout {
			candidates = append(candidates, t)
		}
	}
	p.mu.Unlock()

	for _, t := range candidates {
		_ = t.Close()
		p.Untrack(t.ID())
		if p.onReap != nil {
			p.onReap(t.ID())
		}
	}
}
