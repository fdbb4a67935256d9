// Package resilience guards the storage provider with a circuit breaker so a
// failing store is shed quickly instead of holding every request for the full
// round-trip timeout.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the current phase of a breaker.
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
	default:
		return "unknown"
	}
}

// Config controls failure thresholds and recovery timing.
type Config struct {
	FailureThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxRequests int

	// OnStateChange, when set, is called with the new state after every transition.
	// It runs with the breaker lock held and must not call back into the breaker.
	OnStateChange func(name string, to State)

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 10 * time.Second
	}
	if c.HalfOpenMaxRequests <= 0 {
		c.HalfOpenMaxRequests = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Breaker counts consecutive failures and trips open at the threshold. After
// ResetTimeout it turns half-open and lets a limited number of probes through.
type Breaker struct {
	name   string
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	halfOpenRequests    int
}

// NewBreaker creates a closed Breaker.
func NewBreaker(name string, cfg Config) *Breaker {
	cfg = cfg.withDefaults()
	return &Breaker{
		name:   name,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "circuit-breaker", "name", name),
		now:    time.Now,
		state:  StateClosed,
	}
}

// Execute runs fn if the breaker allows it and records the outcome.
// Failures for which counts returns false do not move the breaker.
func (b *Breaker) Execute(fn func() error, counts func(error) bool) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err != nil && (counts == nil || counts(err)))
	return err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.halfOpenRequests = 0
	b.transition(StateClosed)
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.cfg.ResetTimeout {
			return fmt.Errorf("%w: %s (retry after %v)", ErrOpen, b.name, b.cfg.ResetTimeout-elapsed)
		}
		b.halfOpenRequests = 1
		b.transition(StateHalfOpen)
	case StateHalfOpen:
		if b.halfOpenRequests >= b.cfg.HalfOpenMaxRequests {
			return fmt.Errorf("%w: %s (half-open probe limit reached)", ErrOpen, b.name)
		}
		b.halfOpenRequests++
	}
	return nil
}

func (b *Breaker) after(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !failed {
		b.consecutiveFailures = 0
		if b.state == StateHalfOpen {
			b.halfOpenRequests = 0
			b.transition(StateClosed)
		}
		return
	}

	b.consecutiveFailures++
	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.openedAt = b.now()
		b.transition(StateOpen)
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if to == StateOpen {
		b.logger.Warn("circuit opened", "from", from.String(), "consecutive_failures", b.consecutiveFailures)
	} else {
		b.logger.Info("circuit state changed", "from", from.String(), "to", to.String())
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, to)
	}
}
