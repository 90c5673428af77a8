package retry

import (
	"time"

	"github.com/vietddude/resilink/internal/core/domain"
)

// ReadSpec is for idempotent reads.
var ReadSpec = Spec{
	Strategy:    Exponential,
	BaseDelay:   300 * time.Millisecond,
	MaxDelay:    10 * time.Second,
	MaxAttempts: 5,
	Retryable:   Retry429And5xx,
}

// WriteSpec is for mutating requests. 4xx other than 429 is never retried.
var WriteSpec = Spec{
	Strategy:    Exponential,
	BaseDelay:   1 * time.Second,
	MaxDelay:    30 * time.Second,
	MaxAttempts: 3,
	Retryable:   Retry429And5xx,
}

// UploadSpec tolerates long stalls.
var UploadSpec = Spec{
	Strategy:    Exponential,
	BaseDelay:   2 * time.Second,
	MaxDelay:    2 * time.Minute,
	MaxAttempts: 6,
	Retryable:   RetryUpload,
}

// ReconnectSpec drives channel reconnection. Jitter spreads clients after a server restart.
var ReconnectSpec = Spec{
	Strategy:    ExponentialJitter,
	BaseDelay:   1 * time.Second,
	MaxDelay:    30 * time.Second,
	MaxAttempts: 10,
	Retryable:   IsTransient,
}

// SpecFor maps an operation class to its spec. Unknown classes get WriteSpec.
func SpecFor(class domain.OperationClass) Spec {
	switch class {
	case domain.ClassRead:
		return ReadSpec
	case domain.ClassUpload:
		return UploadSpec
	default:
		return WriteSpec
	}
}

// Specs holds per-class overrides on top of the canonical specs.
type Specs map[domain.OperationClass]Spec

// For returns the override for class, falling back to SpecFor.
func (s Specs) For(class domain.OperationClass) Spec {
	if spec, ok := s[class]; ok {
		return spec
	}
	return SpecFor(class)
}
