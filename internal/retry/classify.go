package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/vietddude/resilink/internal/core/domain"
)

// StatusError is an HTTP response that was not 2xx.
type StatusError struct {
	Code       int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.Code)
	}
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

// Is lets errors.Is match the class sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case domain.ErrTransient:
		return statusTransient(e.Code)
	case domain.ErrPermanent:
		return !statusTransient(e.Code)
	}
	return false
}

func statusTransient(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

// Classify returns the retry class of err.
func Classify(err error) domain.ErrorClass {
	if IsTransient(err) {
		return domain.ClassTransient
	}
	return domain.ClassPermanent
}

// IsTransient reports whether err is a network-level or server-side failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// Explicit markers win over structural checks.
	if marked, transient := markedClass(err); marked {
		return transient
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusTransient(statusErr.Code)
	}

	if errors.Is(err, domain.ErrTransient) ||
		errors.Is(err, domain.ErrNotConnected) ||
		errors.Is(err, ErrCircuitOpen) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// Retry429And5xx retries network errors, 5xx and 429.
func Retry429And5xx(err error) bool {
	if marked, transient := markedClass(err); marked {
		return transient
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500 || statusErr.Code == http.StatusTooManyRequests
	}
	return IsTransient(err)
}

// RetryUpload additionally retries 408, which large bodies hit on slow links.
func RetryUpload(err error) bool {
	if marked, transient := markedClass(err); marked {
		return transient
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500 ||
			statusErr.Code == http.StatusTooManyRequests ||
			statusErr.Code == http.StatusRequestTimeout
	}
	return IsTransient(err)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string        { return e.err.Error() }
func (e *permanentError) Unwrap() error        { return e.err }
func (e *permanentError) Is(target error) bool { return target == domain.ErrPermanent }

type transientError struct{ err error }

func (e *transientError) Error() string        { return e.err.Error() }
func (e *transientError) Unwrap() error        { return e.err }
func (e *transientError) Is(target error) bool { return target == domain.ErrTransient }

func markedClass(err error) (marked, transient bool) {
	var perm *permanentError
	if errors.As(err, &perm) {
		return true, false
	}
	var trans *transientError
	if errors.As(err, &trans) {
		return true, true
	}
	return false, false
}

// Permanent marks err so that no predicate retries it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}
