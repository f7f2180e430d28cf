// Package resilience provides a circuit breaker for outbound calls.
//
// The registry client wraps its HTTP requests in a breaker so that a
// registry outage fails installs fast instead of stacking up retries
// behind a dead endpoint.
package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrOpen is returned without invoking the call while the breaker
	// is open.
	ErrOpen = errors.New("circuit breaker open")
	// ErrProbeLimit is returned when the half-open probe budget is
	// exhausted.
	ErrProbeLimit = errors.New("circuit breaker probe limit reached")
)

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Counts tracks request outcomes within the current generation.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Options configures a Breaker. Zero values get sensible defaults.
type Options struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker from closed.
	FailureThreshold uint32
	// Cooldown is how long the breaker stays open before allowing
	// half-open probes.
	Cooldown time.Duration
	// ProbeBudget is the number of concurrent requests admitted while
	// half-open. That many consecutive successes close the breaker.
	ProbeBudget uint32
	// Window is the closed-state interval after which counts reset.
	Window time.Duration
	// OnStateChange, if set, observes every transition.
	OnStateChange func(name string, from, to State)
}

// Breaker is a three-state circuit breaker. All methods are safe for
// concurrent use.
type Breaker struct {
	name string
	opts Options

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// New creates a breaker with the given options.
func New(name string, opts Options) *Breaker {
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.Cooldown == 0 {
		opts.Cooldown = 30 * time.Second
	}
	if opts.ProbeBudget == 0 {
		opts.ProbeBudget = 1
	}
	if opts.Window == 0 {
		opts.Window = time.Minute
	}
	return &Breaker{
		name:   name,
		opts:   opts,
		state:  StateClosed,
		expiry: time.Now().Add(opts.Window),
	}
}

// Name returns the breaker's name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, applying any due transition first.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.current(time.Now())
	return state
}

// Counts returns a copy of the current generation's counts.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Do runs fn if the breaker admits the call. A nil return from fn
// counts as success; any error counts as failure. While open, Do
// returns ErrOpen without running fn.
func (b *Breaker) Do(fn func() error) error {
	generation, err := b.admit()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			b.settle(generation, false)
			panic(r)
		}
	}()

	err = fn()
	b.settle(generation, err == nil)
	return err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.current(now)

	if state == StateOpen {
		return generation, ErrOpen
	}
	if state == StateHalfOpen && b.counts.Requests >= b.opts.ProbeBudget {
		return generation, ErrProbeLimit
	}

	b.counts.Requests++
	return generation, nil
}

// settle records an outcome, ignoring it if the generation rolled over
// while the call was in flight.
func (b *Breaker) settle(before uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.current(now)
	if generation != before {
		return
	}

	if success {
		b.counts.TotalSuccesses++
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.opts.ProbeBudget {
			b.transition(StateClosed, now)
		}
		return
	}

	b.counts.TotalFailures++
	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0
	switch state {
	case StateClosed:
		if b.counts.ConsecutiveFailures >= b.opts.FailureThreshold {
			b.transition(StateOpen, now)
		}
	case StateHalfOpen:
		b.transition(StateOpen, now)
	}
}

// current applies time-based transitions and returns the state plus a
// generation token tied to the current expiry.
func (b *Breaker) current(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.counts = Counts{}
			b.expiry = now.Add(b.opts.Window)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.transition(StateHalfOpen, now)
		}
	}
	return b.state, uint64(b.expiry.UnixNano())
}

func (b *Breaker) transition(state State, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	b.counts = Counts{}

	switch state {
	case StateClosed:
		b.expiry = now.Add(b.opts.Window)
	case StateOpen:
		b.expiry = now.Add(b.opts.Cooldown)
	case StateHalfOpen:
		b.expiry = time.Time{}
	}

	if b.opts.OnStateChange != nil {
		b.opts.OnStateChange(b.name, prev, state)
	}
}
