// Package ratelimit implements the global token-bucket admission gate.
// It wraps golang.org/x/time/rate and adds the introspectable snapshot
// and Retry-After computation an admission gate needs.
package ratelimit

import (
	"math"
	"time"

	"golang.org/x/time/rate"
)

// Limiter admits or denies requests against a single global token bucket.
// capacity and refillPerSecond are fixed at construction; the only mutable
// state lives inside the wrapped rate.Limiter, which already guards it with
// a short internal critical section (a "negligible contention"
// requirement).
type Limiter struct {
	inner           *rate.Limiter
	capacity        float64
	refillPerSecond float64
}

// New builds a Limiter with the given bucket capacity (burst size) and
// refill rate (tokens added per second).
func New(capacity, refillPerSecond float64) *Limiter {
	return &Limiter{
		inner:           rate.NewLimiter(rate.Limit(refillPerSecond), int(capacity)),
		capacity:        capacity,
		refillPerSecond: refillPerSecond,
	}
}

// TryAdmit attempts to admit one request. On success it returns (true, 0).
// On denial it returns (false, retryAfter) where retryAfter is the
// duration the caller should wait before the bucket would have a token
// available again — used to populate the Retry-After response header.
//
// rate.Limiter.Reserve() always "succeeds" by scheduling a future token
// and telling us how long the wait is; we only want to actually admit the
// request if that wait is zero (a token was available right now), so a
// denied reservation is cancelled immediately to return its token to the
// bucket rather than let it sit reserved for a caller who's about to get
// rejected anyway.
func (l *Limiter) TryAdmit() (bool, time.Duration) {
	reservation := l.inner.ReserveN(time.Now(), 1)
	if !reservation.OK() {
		// With no refill the bucket never gains a token again, so the wait
		// is reported as the longest representable duration.
		return false, time.Duration(math.MaxInt64)
	}
	delay := reservation.Delay()
	if delay <= 0 {
		return true, 0
	}
	reservation.Cancel()
	return false, delay
}

// Snapshot returns the bucket's capacity and refill rate, for /health and
// /metrics introspection. The instantaneous token count isn't exposed by
// x/time/rate, so callers needing the exact token count should use
// TryAdmit's admit/deny outcome instead of polling a count.
func (l *Limiter) Snapshot() (capacity, refillPerSecond float64) {
	return l.capacity, l.refillPerSecond
}
