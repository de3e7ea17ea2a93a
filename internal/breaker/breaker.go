// Package breaker implements the per-provider circuit breaker state
// machine. It requires an exact three-state machine with specific
// threshold semantics, so this is a small hand-rolled implementation
// rather than an adaptation of a library — the kind of component used as
// a process-wide service keyed by provider identity, held by handle
// rather than back-reference.
package breaker

import (
	"sync"
	"time"

	"github.com/llmgateway/llmgateway/internal/apperrors"
)

// State is one of the three circuit states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config holds the thresholds governing a breaker's transitions.
type Config struct {
	FailureThreshold int
	Timeout          time.Duration
	SuccessThreshold int
}

// Breaker is one provider's circuit breaker. All fields are guarded by mu;
// every method does its read-compute-write inside a single short critical
// section, keeping the lock held only for the state transition itself.
type Breaker struct {
	cfg Config

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	consecutiveSuccess  int
	openedAt            time.Time
	probeInFlight       bool
}

// New builds a Breaker starting in the Closed state.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, state: StateClosed}
}

// Allow reports whether a request may proceed to the upstream right now,
// and — when this call authorizes a HalfOpen probe — returns a release
// function the caller must invoke exactly once when the call completes, so
// the "at most one concurrent probe" invariant holds even though Allow
// itself doesn't block.
func (b *Breaker) Allow() (allowed bool, release func(), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true, func() {}, nil

	case StateOpen:
		if time.Since(b.openedAt) >= b.cfg.Timeout {
			b.state = StateHalfOpen
			b.consecutiveSuccess = 0
			b.probeInFlight = true
			return true, b.releaseProbe, nil
		}
		return false, nil, apperrors.Unavailable("circuit open")

	case StateHalfOpen:
		if b.probeInFlight {
			return false, nil, apperrors.Unavailable("circuit open")
		}
		b.probeInFlight = true
		return true, b.releaseProbe, nil

	default:
		return false, nil, apperrors.Unavailable("circuit open")
	}
}

// releaseProbe clears the in-flight probe flag. Called once the HalfOpen
// probe request completes, regardless of outcome — RecordSuccess/
// RecordFailure handle the state transition itself.
func (b *Breaker) releaseProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeInFlight = false
}

// RecordSuccess registers a successful call against the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures = 0
	case StateHalfOpen:
		b.consecutiveSuccess++
		if b.consecutiveSuccess >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.consecutiveFailures = 0
			b.consecutiveSuccess = 0
		}
	}
}

// RecordFailure registers a failed call against the breaker. Callers must
// not invoke this for InvalidRequest or RateLimited errors — use
// apperrors.IsBreakerFailure to decide.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.openedAt = time.Now()
			b.consecutiveFailures = 0
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = time.Now()
		b.consecutiveSuccess = 0
	}
}

// Snapshot returns the breaker's current state for /health reporting.
func (b *Breaker) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Registry holds one Breaker per provider, created lazily on first use so
// callers never need a separate initialization pass over the provider set.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry builds a Registry that creates new breakers with cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// For returns the Breaker for the given provider key, creating it on first
// access. Providers hold a handle (the key), never a pointer to each
// other.
func (r *Registry) For(provider string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[provider]
	if !ok {
		b = New(r.cfg)
		r.breakers[provider] = b
	}
	return b
}

// Snapshot returns the current state of every breaker created so far, for
// /health reporting.
func (r *Registry) Snapshot() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Snapshot()
	}
	return out
}
