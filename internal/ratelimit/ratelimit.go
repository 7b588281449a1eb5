// Package ratelimit provides the per-consumer token bucket used by the
// Consumer Gateway to throttle inbound frames (spec §4.8, §8 property 7).
// It wraps golang.org/x/time/rate rather than hand-rolling a bucket,
// matching the "use the ecosystem library" rule — the package's
// token-bucket semantics (linear refill, hard burst cap) are exactly
// spec's testable property 7.
package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket with a fixed burst capacity and a linear
// refill rate. It satisfies session.RateLimiter.
type Limiter struct {
	l *rate.Limiter
}

// New returns a Limiter with burstSize capacity that refills at
// refillPerSecond tokens/second.
func New(burstSize int, refillPerSecond float64) *Limiter {
	return &Limiter{l: rate.NewLimiter(rate.Limit(refillPerSecond), burstSize)}
}

// NewFromWindow returns a Limiter that refills refillTokens every window
// (e.g. NewFromWindow(10, 10, 100*time.Millisecond) in spec's S2 scenario language:
// "capacity 10, refill 10 tok/100ms").
func NewFromWindow(burstSize, refillTokens int, window time.Duration) *Limiter {
	perSecond := float64(refillTokens) / window.Seconds()
	return New(burstSize, perSecond)
}

// Allow consumes one token if available.
func (l *Limiter) Allow() bool {
	return l.l.Allow()
}

// TryConsume consumes n tokens atomically: succeeds only if all n are
// available right now, otherwise no tokens are spent (spec §8 property 7).
func (l *Limiter) TryConsume(n int) bool {
	r := l.l.ReserveN(time.Now(), n)
	if !r.OK() {
		return false
	}
	if r.Delay() > 0 {
		r.Cancel()
		return false
	}
	return true
}

// Burst returns the bucket's maximum capacity.
func (l *Limiter) Burst() int {
	return l.l.Burst()
}
