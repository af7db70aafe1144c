// Package circuit implements the three-state circuit breaker guarding
// backing-store calls.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/animeta/animeta/pkg/errors"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed - requests pass through.
	StateClosed State = iota
	// StateOpen - requests are rejected without invoking the operation.
	StateOpen
	// StateHalfOpen - a single trial request probes recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpenState is returned when the breaker rejects a call while open.
// It is synthetic: it carries no information about the store's actual
// condition.
var ErrOpenState = errors.New(errors.CodeCircuitOpen, "circuit breaker is open")

// errPanicked stands in for the outcome of an operation that panicked,
// so the panic still counts as a tripping failure.
var errPanicked = errors.New(errors.CodeStorageInternal, "operation panicked")

// Config contains circuit breaker configuration.
type Config struct {
	// FailMax is the number of consecutive tripping failures that opens
	// the breaker.
	FailMax int `yaml:"fail_max"`

	// ResetTimeout is how long the breaker stays open before allowing a
	// half-open trial call.
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// IsTripping classifies whether an error counts toward FailMax.
	// Defaults to errors.IsBreakerTripping, which excludes constraint
	// violations and other caller bugs.
	IsTripping func(err error) bool `yaml:"-"`

	// OnStateChange is invoked on every transition. It must be cheap;
	// panics are recovered so observability never fails the call.
	OnStateChange func(name string, from, to State) `yaml:"-"`
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailMax:      5,
		ResetTimeout: 60 * time.Second,
	}
}

// Counts holds call outcome counters since the last state change.
type Counts struct {
	Requests            uint32 `json:"requests"`
	TotalSuccesses      uint32 `json:"total_successes"`
	TotalFailures       uint32 `json:"total_failures"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
	Rejections          uint32 `json:"rejections"`
}

// Breaker implements the circuit breaker pattern for one logical
// resource. Independent instances never share state.
type Breaker struct {
	name   string
	config Config

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	trialing bool
}

// NewBreaker creates a breaker, applying defaults for zero config values.
func NewBreaker(name string, config Config) *Breaker {
	if config.FailMax <= 0 {
		config.FailMax = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 60 * time.Second
	}
	if config.IsTripping == nil {
		config.IsTripping = errors.IsBreakerTripping
	}
	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
	}
}

// Execute runs fn if the breaker allows it. While open it returns
// ErrOpenState without invoking fn; otherwise fn's error is returned
// unchanged so callers can distinguish "store said no" from "breaker
// said no".
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	err, _ := b.ExecuteWithFallback(ctx, fn, nil)
	return err
}

// ExecuteWithFallback runs fn if the breaker allows it, otherwise runs
// fallback (when non-nil) and reports that the fallback was used.
func (b *Breaker) ExecuteWithFallback(ctx context.Context, fn func(context.Context) error, fallback func(context.Context) error) (error, bool) {
	if err := b.beforeRequest(); err != nil {
		if fallback != nil {
			return fallback(ctx), true
		}
		return err, false
	}

	// A panic in fn must still release a claimed half-open trial slot,
	// otherwise the breaker rejects every later call.
	defer func() {
		if r := recover(); r != nil {
			b.afterRequest(errPanicked)
			panic(r)
		}
	}()

	err := fn(ctx)
	b.afterRequest(err)
	return err, false
}

// beforeRequest gates the call and claims the half-open trial slot.
func (b *Breaker) beforeRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.state {
	case StateOpen:
		if now.Sub(b.openedAt) < b.config.ResetTimeout {
			b.counts.Rejections++
			return ErrOpenState
		}
		// Timeout elapsed: the next call becomes the half-open trial.
		b.setState(StateHalfOpen, now)
		b.trialing = true
	case StateHalfOpen:
		if b.trialing {
			// A trial is already in flight; reject everything else.
			b.counts.Rejections++
			return ErrOpenState
		}
		b.trialing = true
	}

	b.counts.Requests++
	return nil
}

// afterRequest records the call outcome and drives state transitions.
func (b *Breaker) afterRequest(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if err != nil && b.config.IsTripping(err) {
		b.onFailure(now)
		return
	}
	// Success, or an excluded error category: the store responded, so
	// the circuit is healthy even if the caller's request was bad.
	b.onSuccess(now)
}

func (b *Breaker) onSuccess(now time.Time) {
	b.counts.TotalSuccesses++
	b.counts.ConsecutiveFailures = 0

	if b.state == StateHalfOpen {
		b.trialing = false
		b.setState(StateClosed, now)
	}
}

func (b *Breaker) onFailure(now time.Time) {
	b.counts.TotalFailures++
	b.counts.ConsecutiveFailures++

	switch b.state {
	case StateClosed:
		if b.counts.ConsecutiveFailures >= uint32(b.config.FailMax) {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.trialing = false
		b.setState(StateOpen, now)
	}
}

// setState transitions the breaker. Caller must hold the lock.
func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state

	switch state {
	case StateOpen:
		b.openedAt = now
		b.counts.ConsecutiveFailures = 0
	case StateClosed:
		b.counts = Counts{}
	}

	if hook := b.config.OnStateChange; hook != nil {
		func() {
			defer func() { _ = recover() }()
			hook(b.name, prev, state)
		}()
	}
}

// State returns the current state, accounting for an elapsed open
// timeout (an open breaker past its reset timeout reports HALF_OPEN
// eligibility only once a trial call arrives, so the raw state is
// returned here).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counts returns a copy of the current counters.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Name returns the breaker's name.
func (b *Breaker) Name() string {
	return b.name
}

// Reset returns the breaker to its initial closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialing = false
	b.counts = Counts{}
	b.setState(StateClosed, time.Now())
}

// Snapshot captures a breaker's externally visible state for status
// aggregation.
type Snapshot struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Counts Counts `json:"counts"`
}

// Snapshot returns the breaker's current snapshot.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:   b.name,
		State:  b.state.String(),
		Counts: b.counts,
	}
}
