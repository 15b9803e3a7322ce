// Package resilience shields a live encounter from a misbehaving model
// backend. A [Breaker] stops hammering a backend that keeps failing, and a
// [Backend] composes a primary provider with ordered fallbacks so the
// pipeline keeps producing increments while one vendor is down.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls and
// the cool-down has not yet elapsed.
var ErrOpen = errors.New("resilience: breaker open")

// State is the operating mode of a [Breaker].
type State int

const (
	// Closed forwards every call.
	Closed State = iota

	// Open rejects calls with [ErrOpen] until the cool-down elapses.
	Open

	// HalfOpen lets a bounded number of probe calls through to decide
	// whether the backend has recovered.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels the breaker in log output.
	Name string

	// TripAfter is the number of consecutive failures that opens the
	// breaker. Default 5.
	TripAfter int

	// CoolDown is how long the breaker stays open before probing again.
	// Default 30s.
	CoolDown time.Duration

	// ProbeBudget is how many calls the half-open state lets through
	// before deciding. Default 3.
	ProbeBudget int
}

// Breaker is a three-state circuit breaker around backend calls.
type Breaker struct {
	name        string
	tripAfter   int
	coolDown    time.Duration
	probeBudget int

	mu         sync.Mutex
	state      State
	failures   int
	lastFail   time.Time
	probes     int
	probeFails int
}

// NewBreaker creates a [Breaker] from cfg, filling defaults for zero
// fields.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.TripAfter <= 0 {
		cfg.TripAfter = 5
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = 3
	}
	return &Breaker{
		name:        cfg.Name,
		tripAfter:   cfg.TripAfter,
		coolDown:    cfg.CoolDown,
		probeBudget: cfg.ProbeBudget,
	}
}

// State reports the breaker's current mode.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Do runs fn unless the breaker is open. While open it returns [ErrOpen]
// without calling fn; after the cool-down it moves to half-open and admits
// a bounded number of probes.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if time.Since(b.lastFail) < b.coolDown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = HalfOpen
		b.probes = 0
		b.probeFails = 0
		slog.Info("resilience: breaker probing backend", "name", b.name)

	case HalfOpen:
		if b.probes >= b.probeBudget {
			b.mu.Unlock()
			return ErrOpen
		}
	}

	probing := b.state == HalfOpen
	if probing {
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(probing bool) {
	b.lastFail = time.Now()

	if probing {
		// A single failed probe re-opens the breaker.
		b.probeFails++
		b.state = Open
		b.failures = b.tripAfter
		slog.Warn("resilience: breaker re-opened", "name", b.name)
		return
	}

	b.failures++
	if b.failures >= b.tripAfter {
		b.state = Open
		slog.Warn("resilience: breaker opened",
			"name", b.name, "consecutive_failures", b.failures)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(probing bool) {
	if probing {
		if b.probes-b.probeFails >= b.probeBudget {
			b.state = Closed
			b.failures = 0
			b.probes = 0
			b.probeFails = 0
			slog.Info("resilience: breaker closed", "name", b.name)
		}
		return
	}
	b.failures = 0
}
