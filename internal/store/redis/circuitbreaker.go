package redis

import (
	"log"
	"sync"
	"time"

	"quotesync/internal/metrics"
)

// State of the publish breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// publishKind names what a guarded call publishes; it labels metrics and logs.
type publishKind string

const (
	kindLatest     publishKind = "latest"
	kindCandidates publishKind = "candidates"
)

// Breaker suspends Redis publishing after MaxFailures consecutive failed
// publishes of any kind. Once Cooldown has passed a single trial publish is let
// through: success closes the breaker, failure reopens it for another
// Cooldown. While open or on trial, every other publish is refused.
type Breaker struct {
	maxFailures int
	cooldown    time.Duration
	prom        *metrics.Metrics // optional
	now         func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool

	onClose func() // set by BufferedWriter to replay held publishes
}

// NewBreaker creates a closed breaker. prom may be nil.
func NewBreaker(maxFailures int, cooldown time.Duration, prom *metrics.Metrics) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	b := &Breaker{maxFailures: maxFailures, cooldown: cooldown, prom: prom, now: time.Now}
	if prom != nil {
		prom.RedisCircuitBreakerState.Set(float64(StateClosed))
	}
	return b
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// allow reports whether a publish may go out now. A true result must be
// followed by exactly one record call.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.setState(StateHalfOpen)
		b.trial = true
		return true
	case StateHalfOpen:
		if b.trial {
			return false
		}
		b.trial = true
		return true
	}
	return true
}

// record feeds back the outcome of a publish that allow admitted.
func (b *Breaker) record(kind publishKind, err error) {
	b.mu.Lock()
	var closed bool
	if err == nil {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.trial = false
			b.setState(StateClosed)
			closed = true
		}
	} else {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.maxFailures {
			b.trip(kind, err)
		}
	}
	onClose := b.onClose
	b.mu.Unlock()

	if closed {
		log.Printf("[redis] publishing resumed after %s trial publish", kind)
		if onClose != nil {
			go onClose()
		}
	}
}

func (b *Breaker) trip(kind publishKind, err error) {
	wasHalfOpen := b.state == StateHalfOpen
	b.trial = false
	b.openedAt = b.now()
	b.setState(StateOpen)
	if b.prom != nil {
		b.prom.RedisCircuitBreakerTrips.WithLabelValues(string(kind)).Inc()
	}
	if wasHalfOpen {
		log.Printf("[redis] %s trial publish failed, suspending publishing for %s: %v", kind, b.cooldown, err)
		return
	}
	log.Printf("[redis] %d consecutive failures (last: %s), suspending publishing for %s: %v",
		b.failures, kind, b.cooldown, err)
}

func (b *Breaker) setState(to State) {
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	if b.prom != nil {
		b.prom.RedisCircuitBreakerState.Set(float64(to))
	}
}
