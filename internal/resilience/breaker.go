// Package resilience shields advisory sessions from a flapping model backend.
//
// Breaker is a three-state circuit breaker (closed, open, half-open). WrapLLM
// puts one in front of an llm.Provider so that once the backend has failed
// repeatedly, agent rounds fail fast instead of stalling every dispatch on a
// timing-out call. All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: breaker open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrOpen] until the cooldown elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; one failure reopens it.
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
	default:
		return "unknown"
	}
}

const (
	defaultTripAfter = 5
	defaultCooldown  = 30 * time.Second
	defaultProbes    = 2
)

// Option configures a [Breaker].
type Option func(*Breaker)

// WithTripAfter sets how many consecutive failures open the breaker.
func WithTripAfter(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.tripAfter = n
		}
	}
}

// WithCooldown sets how long the breaker stays open before probing.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithProbes sets how many consecutive half-open successes close the breaker.
func WithProbes(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.probes = n
		}
	}
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	name      string
	tripAfter int
	cooldown  time.Duration
	probes    int
	log       *slog.Logger

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
}

// NewBreaker creates a closed breaker. name appears in log lines.
func NewBreaker(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:      name,
		tripAfter: defaultTripAfter,
		cooldown:  defaultCooldown,
		probes:    defaultProbes,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Do runs fn unless the breaker rejects the call, and feeds the outcome back
// into the breaker state. While open it returns [ErrOpen] without calling fn.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.settle(err)
	return err
}

// admit decides whether a call may proceed, moving open to half-open once the
// cooldown has elapsed.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if time.Since(b.openedAt) < b.cooldown {
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.successes = 0
		b.log.Info("breaker probing backend", slog.String("name", b.name))
	}
	return nil
}

func (b *Breaker) settle(err error) {
	// A call cut short by its own context says nothing about backend
	// health; it counts as neither failure nor success.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.successes = 0
		if b.state == StateHalfOpen || b.failures >= b.tripAfter {
			if b.state != StateOpen {
				b.log.Warn("breaker opened",
					slog.String("name", b.name),
					slog.Int("failures", b.failures),
				)
			}
			b.state = StateOpen
			b.openedAt = time.Now()
		}
		return
	}

	b.failures = 0
	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.probes {
			b.state = StateClosed
			b.log.Info("breaker closed", slog.String("name", b.name))
		}
		return
	}
	b.state = StateClosed
}

// State returns the breaker's current mode. An open breaker whose cooldown has
// elapsed reports half-open; the transition itself happens on the next Do.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
}
