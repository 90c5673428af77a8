package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/resilink/internal/core/domain"
)

// Observer is told about every failed attempt that will be retried.
type Observer func(attempt int, err error, nextDelay time.Duration)

// RetriesExhaustedError is returned once every attempt allowed by a Spec has failed.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap exposes both the sentinel and the original cause to errors.Is / errors.As.
func (e *RetriesExhaustedError) Unwrap() []error {
	return []error{domain.ErrRetriesExhausted, e.Last}
}

type options struct {
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger
	name     string
}

// Option customizes a single Execute call.
type Option func(*options)

// WithObserver registers a callback invoked before each inter-attempt wait.
func WithObserver(fn Observer) Option {
	return func(o *options) { o.observer = fn }
}

// WithLogger logs retries under the given operation name.
func WithLogger(logger *slog.Logger, name string) Option {
	return func(o *options) {
		o.logger = logger
		o.name = name
	}
}

// withSleep replaces the inter-attempt wait. Tests only.
func withSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.sleep = fn }
}

// Execute runs op until it succeeds, returns a non-retryable error, or the attempt budget runs out.
func Execute[T any](ctx context.Context, spec Spec, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	o := options{sleep: sleepContext}
	for _, opt := range opts {
		opt(&o)
	}

	maxAttempts := spec.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	retryable := spec.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			if attempt > 1 && o.logger != nil {
				o.logger.Info("Operation succeeded after retry", "op", o.name, "attempts", attempt)
			}
			return result, nil
		}
		lastErr = err

		if !retryable(err) {
			if o.logger != nil {
				o.logger.Warn("Non-retryable error", "op", o.name, "attempt", attempt, "error", err)
			}
			return zero, err
		}
		if attempt == maxAttempts {
			break
		}

		wait := retryAfter(err, Delay(attempt, spec), spec.MaxDelay)
		notify(o.observer, attempt, err, wait)
		if o.logger != nil {
			o.logger.Warn("Attempt failed, retrying",
				"op", o.name,
				"attempt", attempt,
				"max_attempts", maxAttempts,
				"delay", wait,
				"error", err,
			)
		}

		if err := o.sleep(ctx, wait); err != nil {
			return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
		}
	}

	if o.logger != nil {
		o.logger.Error("All retry attempts exhausted", "op", o.name, "attempts", maxAttempts, "error", lastErr)
	}
	return zero, &RetriesExhaustedError{Attempts: maxAttempts, Last: lastErr}
}

// Do is Execute for operations without a result.
func Do(ctx context.Context, spec Spec, op func(ctx context.Context) error, opts ...Option) error {
	_, err := Execute(ctx, spec, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return err
}

// retryAfter stretches wait to a server-sent Retry-After, bounded by maxDelay when set.
func retryAfter(err error, wait, maxDelay time.Duration) time.Duration {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.RetryAfter <= wait {
		return wait
	}
	if maxDelay > 0 && statusErr.RetryAfter > maxDelay {
		return maxDelay
	}
	return statusErr.RetryAfter
}

// IsExhausted reports whether err came from running out of attempts.
func IsExhausted(err error) bool {
	return errors.Is(err, domain.ErrRetriesExhausted)
}

// notify runs the observer off the retry goroutine so it can neither block nor abort the loop.
func notify(fn Observer, attempt int, err error, next time.Duration) {
	if fn == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Warn("Retry observer panicked", "panic", r)
			}
		}()
		fn(attempt, err, next)
	}()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
