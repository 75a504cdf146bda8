// Package resilience protects the live backend from being hammered by
// repeated session starts while it is failing.
//
// [Breaker] is a three-state circuit breaker (closed → open → half-open).
// [GuardDialer] wraps a [live.Dialer] with one so that, after a run of failed
// handshakes, further Dial calls fail fast with [ErrCircuitOpen] until a
// cooldown has passed. Nothing here retries; a failed dial is still reported
// to the caller as-is.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker is open.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the cooldown ends.
	StateOpen

	// StateHalfOpen lets a single probe call through. Its outcome closes or
	// re-opens the breaker.
	StateHalfOpen
)

// String returns the lower-case name of the state.
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

// Defaults applied by [NewBreaker] to zero [BreakerConfig] fields.
const (
	DefaultMaxFailures = 3
	DefaultCooldown    = 30 * time.Second
)

// BreakerConfig tunes a [Breaker].
type BreakerConfig struct {
	// Name labels the breaker in log messages.
	Name string

	// MaxFailures is the number of consecutive failures that open the
	// breaker.
	MaxFailures int

	// Cooldown is how long the breaker stays open before admitting a probe.
	Cooldown time.Duration

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker returns a closed Breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		now:         cfg.Now,
	}
}

// Do runs fn if the breaker admits the call, otherwise returns
// [ErrCircuitOpen] without calling fn. fn's error counts as a failure unless
// neutral reports true for it; neutral may be nil.
func (b *Breaker) Do(fn func() error, neutral func(error) bool) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	switch {
	case err == nil:
		b.succeed()
	case neutral != nil && neutral(err):
		b.release(probe)
	default:
		b.fail(probe)
	}
	return err
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		slog.Info("circuit half-open, admitting probe", "name", b.name)
		fallthrough
	case StateHalfOpen:
		if b.probing {
			return false, ErrCircuitOpen
		}
		b.probing = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) succeed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateClosed {
		slog.Info("circuit closed", "name", b.name)
	}
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}

func (b *Breaker) fail(probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
		b.state = StateOpen
		b.openedAt = b.now()
		slog.Warn("circuit re-opened after failed probe", "name", b.name)
		return
	}
	b.failures++
	if b.state == StateClosed && b.failures >= b.maxFailures {
		b.state = StateOpen
		b.openedAt = b.now()
		slog.Warn("circuit opened", "name", b.name, "consecutive_failures", b.failures)
	}
}

// release gives back a probe slot without judging the outcome.
func (b *Breaker) release(probe bool) {
	if !probe {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

// State returns the current state. An open breaker whose cooldown has
// elapsed still reports [StateOpen] until the next call is admitted.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the breaker and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}
