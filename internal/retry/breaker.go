package retry

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects calls. It classifies as transient.
var ErrCircuitOpen = errors.New("circuit breaker open")

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

var DefaultBreakerConfig = BreakerConfig{
	FailureThreshold: 5,
	RecoveryTimeout:  60 * time.Second,
}

// CircuitBreaker fails fast after repeated failures and probes again after a cool-down.
type CircuitBreaker struct {
	mu       sync.Mutex
	name     string
	cfg      BreakerConfig
	state    BreakerState
	failures int
	openedAt time.Time
	now      func() time.Time
	onChange func(name string, from, to BreakerState)
}

func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultBreakerConfig.RecoveryTimeout
	}
	return &CircuitBreaker{
		name: name,
		cfg:  cfg,
		now:  time.Now,
	}
}

// OnStateChange registers a callback for state changes. Called without the lock held.
func (b *CircuitBreaker) OnStateChange(fn func(name string, from, to BreakerState)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Allow returns ErrCircuitOpen if the call must be rejected.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	if b.state == BreakerOpen {
		if b.now().Sub(b.openedAt) < b.cfg.RecoveryTimeout {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		from := b.setStateLocked(BreakerHalfOpen)
		b.mu.Unlock()
		b.notify(from, BreakerHalfOpen)
		return nil
	}
	b.mu.Unlock()
	return nil
}

// Record feeds the outcome of an admitted call. Only transient failures count against the breaker.
func (b *CircuitBreaker) Record(err error) {
	b.mu.Lock()
	if err == nil || !IsTransient(err) {
		b.failures = 0
		if b.state != BreakerClosed {
			from := b.setStateLocked(BreakerClosed)
			b.mu.Unlock()
			b.notify(from, BreakerClosed)
			return
		}
		b.mu.Unlock()
		return
	}

	b.failures++
	if b.state == BreakerHalfOpen || (b.state == BreakerClosed && b.failures >= b.cfg.FailureThreshold) {
		b.openedAt = b.now()
		from := b.setStateLocked(BreakerOpen)
		b.mu.Unlock()
		b.notify(from, BreakerOpen)
		return
	}
	b.mu.Unlock()
}

// State returns the current state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *CircuitBreaker) setStateLocked(to BreakerState) BreakerState {
	from := b.state
	b.state = to
	return from
}

func (b *CircuitBreaker) notify(from, to BreakerState) {
	if from == to {
		return
	}
	slog.Info("Circuit breaker state changed", "breaker", b.name, "from", from.String(), "to", to.String())
	b.mu.Lock()
	fn := b.onChange
	b.mu.Unlock()
	if fn != nil {
		fn(b.name, from, to)
	}
}
