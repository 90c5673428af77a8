// Package retry provides backoff policies and a retry executor with per-error-class predicates.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Strategy selects how the delay grows between attempts.
type Strategy int

const (
	Fixed Strategy = iota
	Exponential
	ExponentialJitter
)

func (s Strategy) String() string {
	switch s {
	case Fixed:
		return "fixed"
	case Exponential:
		return "exponential"
	case ExponentialJitter:
		return "exponential_jitter"
	default:
		return "unknown"
	}
}

// Predicate decides whether an error is worth another attempt.
type Predicate func(err error) bool

// Spec defines retry behavior for one operation class. Treat it as a value; never mutate a shared Spec.
type Spec struct {
	Strategy    Strategy
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	Retryable   Predicate
}

// WithMaxAttempts returns a copy of s with a different attempt budget.
func (s Spec) WithMaxAttempts(n int) Spec {
	s.MaxAttempts = n
	return s
}

// Delay returns the wait before retry number attempt (1-based).
func Delay(attempt int, spec Spec) time.Duration {
	return delay(attempt, spec, rand.Float64)
}

// DelayRand is Delay with an explicit random source, for reproducible jitter.
func DelayRand(attempt int, spec Spec, r *rand.Rand) time.Duration {
	if r == nil {
		return Delay(attempt, spec)
	}
	return delay(attempt, spec, r.Float64)
}

func delay(attempt int, spec Spec, random func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := spec.BaseDelay
	if base <= 0 {
		return 0
	}

	var d float64
	switch spec.Strategy {
	case Fixed:
		return capDelay(base, spec.MaxDelay)
	case Exponential:
		d = exponential(base, attempt)
	case ExponentialJitter:
		// factor in [0.5, 1.5)
		d = exponential(base, attempt) * (0.5 + random())
	default:
		return capDelay(base, spec.MaxDelay)
	}

	if spec.MaxDelay > 0 && d > float64(spec.MaxDelay) {
		d = float64(spec.MaxDelay)
	}
	if d > math.MaxInt64 {
		d = math.MaxInt64
	}
	out := time.Duration(d)
	if out <= 0 {
		out = 1
	}
	return out
}

func exponential(base time.Duration, attempt int) float64 {
	// base * 2^(attempt-1), float math keeps large attempts from overflowing
	return float64(base) * math.Pow(2, float64(attempt-1))
}

func capDelay(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	return d
}
