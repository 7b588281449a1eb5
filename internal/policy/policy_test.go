package policy

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestReconnectPolicyGivesUpAfterGrace(t *testing.T) {
	var gaveUp atomic.Bool
	p := NewReconnectPolicy(20*time.Millisecond, func(sessionID string) {
		gaveUp.Store(true)
	})
	p.NotifyDisconnected("s1")
	time.Sleep(60 * time.Millisecond)
	if !gaveUp.Load() {
		t.Error("expected give-up callback after grace period elapsed")
	}
	if p.HasPending("s1") {
		t.Error("watchdog should be cleared after firing")
	}
}

func TestReconnectPolicyCancelledByReconnect(t *testing.T) {
	var gaveUp atomic.Bool
	p := NewReconnectPolicy(30*time.Millisecond, func(sessionID string) {
		gaveUp.Store(true)
	})
	p.NotifyDisconnected("s1")
	p.NotifyReconnected("s1")
	time.Sleep(60 * time.Millisecond)
	if gaveUp.Load() {
		t.Error("give-up callback should not fire after reconnect cancels the watchdog")
	}
}

type fakeIdleTarget struct {
	id     string
	last   time.Time
	closed atomic.Bool
}

func (f *fakeIdleTarget) ID() string                { return f.id }
func (f *fakeIdleTarget) LastActivity() time.Time   { return f.last }
func (f *fakeIdleTarget) Close() error              { f.closed.Store(true); return nil }

func TestIdlePolicySweepReapsExpiredSessions(t *testing.T) {
	var reaped atomic.Bool
	p, err := NewIdlePolicy(10*time.Millisecond, func(sessionID string) {
		reaped.Store(true)
	})
	if err != nil {
		t.Fatalf("NewIdlePolicy: %v", err)
	}
	target := &fakeIdleTarget{id: "s1", last: time.Now().Add(-time.Hour)}
	p.Track(target)

	p.sweep(time.Now())

	if !target.closed.Load() {
		t.Error("expected idle target to be closed")
	}
	if !reaped.Load() {
		t.Error("expected onReap callback")
	}
	if p.sessions["s1"] != nil {
		t.Error("expected session to be untracked after reap")
	}
}

func TestIdlePolicySweepSparesActiveSessions(t *testing.T) {
	p, err := NewIdlePolicy(time.Hour, nil)
	if err != nil {
		t.Fatalf("NewIdlePolicy: %v", err)
	}
	target := &fakeIdleTarget{id: "s1", last: time.Now()}
	p.Track(target)

	p.sweep(time.Now())

	if target.closed.Load() {
		t.Error("active session should not be reaped")
	}
}
