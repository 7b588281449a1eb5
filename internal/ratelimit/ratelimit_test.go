package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterEnforcesBurstCap(t *testing.T) {
	l := New(3, 1)
	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("token %d: expected Allow to succeed within burst", i)
		}
	}
	if l.Allow() {
		t.Fatal("expected Allow to fail once burst is exhausted")
	}
}

func TestLimiterRefillsLinearly(t *testing.T) {
	l := New(1, 100) // 100 tok/s refills one token every 10ms
	if !l.Allow() {
		t.Fatal("expected first token to be available")
	}
	if l.Allow() {
		t.Fatal("expected bucket to be empty immediately after")
	}
	time.Sleep(15 * time.Millisecond)
	if !l.Allow() {
		t.Fatal("expected a token to have refilled after 15ms at 100 tok/s")
	}
}

func TestTryConsumeAllOrNothing(t *testing.T) {
	l := New(5, 1)
	if !l.TryConsume(5) {
		t.Fatal("expected to consume the full burst at once")
	}
	if l.TryConsume(1) {
		t.Fatal("expected TryConsume to fail with an empty bucket rather than partially consume")
	}
}

func TestNewFromWindowMatchesSpecScenario(t *testing.T) {
	l := NewFromWindow(10, 10, 100*time.Millisecond)
	if l.Burst() != 10 {
		t.Fatalf("got burst %d, want 10", l.Burst())
	}
	for i := 0; i < 10; i++ {
		if !l.Allow() {
			t.Fatalf("token %d: expected capacity 10 to be available up front", i)
		}
	}
	if l.Allow() {
		t.Fatal("expected the 11th immediate token to be refused")
	}
}
