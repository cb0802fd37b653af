// Package circuit implements a circuit breaker guarding backend calls. A
// tier whose backend keeps failing trips its breaker open; calls then fail
// fast with a retryable error instead of stacking up on a dead endpoint.
// After the cooldown a single probe decides whether the breaker closes.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/tierstore/tierstore/pkg/errors"
)

// State is the breaker state.
type State int

const (
	// StateClosed passes requests through.
	StateClosed State = iota
	// StateOpen rejects requests until the cooldown expires.
	StateOpen
	// StateHalfOpen admits limited probes to test recovery.
	StateHalfOpen
)

// String returns the state name.
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

// Config tunes a breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker.
	FailureThreshold int `yaml:"failure_threshold"`

	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration `yaml:"cooldown"`

	// MaxProbes is how many requests the half-open state admits.
	MaxProbes int `yaml:"max_probes"`

	// OnStateChange is called on every transition.
	OnStateChange func(name string, from, to State) `yaml:"-"`
}

// DefaultConfig returns the breaker defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		MaxProbes:        1,
	}
}

// Breaker is a single circuit breaker.
type Breaker struct {
	name   string
	config Config

	mu           sync.Mutex
	state        State
	failures     int
	probes       int
	openedAt     time.Time
	now          func() time.Time
}

// New creates a breaker, applying defaults for zero config values.
func New(name string, config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.MaxProbes <= 0 {
		config.MaxProbes = 1
	}
	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
}

// Do runs fn under the breaker. When open, it fails fast with a retryable
// error carrying the breaker name. Only failures the caller would retry
// (per the structured error kinds) count toward tripping; invalid input and
// missing objects say nothing about backend health.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.Cooldown {
			return errors.Newf(errors.KindBackendUnavailable, "circuit %q open", b.name).
				WithComponent("circuit")
		}
		b.transition(StateHalfOpen)
		b.probes = 0
		fallthrough
	case StateHalfOpen:
		if b.probes >= b.config.MaxProbes {
			return errors.Newf(errors.KindBackendUnavailable, "circuit %q probing", b.name).
				WithComponent("circuit")
		}
		b.probes++
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !countsAsFailure(err) {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.transition(StateClosed)
		}
		return
	}

	b.failures++
	switch b.state {
	case StateClosed:
		if b.failures >= b.config.FailureThreshold {
			b.trip()
		}
	case StateHalfOpen:
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.transition(StateOpen)
	b.openedAt = b.now()
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, from, to)
	}
}

// countsAsFailure reports whether an error reflects backend health.
func countsAsFailure(err error) bool {
	switch errors.KindOf(err) {
	case errors.KindBackendUnavailable, errors.KindTimeout, errors.KindInternal:
		return true
	default:
		return false
	}
}

// CurrentState returns the state, accounting for cooldown expiry.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }
