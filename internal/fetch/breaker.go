package fetch

import (
	"sync"
	"time"
)

// BreakerState is the state of a per-host circuit breaker.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	}
	return "closed"
}

// breaker trips after threshold consecutive failed fetches and stays open for
// cooldown. After the cooldown exactly one probe is admitted; its outcome
// closes or re-opens the circuit.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration

	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{threshold: threshold, cooldown: cooldown}
}

// allow reports whether a fetch may proceed at now. The returned state is the
// state after the decision (an expired open circuit becomes half-open).
func (b *breaker) allow(now time.Time) (bool, BreakerState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if now.Sub(b.openedAt) < b.cooldown {
			return false, b.state
		}
		b.state = StateHalfOpen
		b.probing = true
		return true, b.state
	case StateHalfOpen:
		if b.probing {
			return false, b.state
		}
		b.probing = true
		return true, b.state
	}
	return true, b.state
}

// record applies the outcome of a fetch and returns the resulting state.
func (b *breaker) record(ok bool, now time.Time) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if ok {
		b.state = StateClosed
		b.failures = 0
		return b.state
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.state = StateOpen
		b.openedAt = now
	}
	return b.state
}

// release gives back a probe slot without judging the host, used when a
// fetch is abandoned before reaching the network.
func (b *breaker) release() {
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
}

func (b *breaker) current() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}
