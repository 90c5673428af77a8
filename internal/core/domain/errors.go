package domain

import "errors"

var (
	// ErrTransient marks failures worth retrying (network blip, 5xx, 429, timeout).
	ErrTransient = errors.New("transient failure")
	// ErrPermanent marks failures that must never be retried (4xx other than 429, bad request).
	ErrPermanent = errors.New("permanent failure")
	// ErrQueueFull is returned when the request queue cannot make room for a new entry.
	ErrQueueFull = errors.New("request queue full")
	// ErrRetriesExhausted is matched by errors returned after the last retry attempt.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrConnectionAbandoned is reported once the channel gives up reconnecting.
	ErrConnectionAbandoned = errors.New("connection abandoned")
	// ErrClosed is returned by operations on a closed channel.
	ErrClosed = errors.New("channel closed")
	// ErrNotConnected is returned when a frame cannot be sent because the channel is down.
	ErrNotConnected = errors.New("channel not connected")
	// ErrQueued reports that a request was stored for later replay instead of being sent.
	ErrQueued = errors.New("request queued for replay")
)

// ErrorClass is the retry classification of an error.
type ErrorClass int

const (
	ClassTransient ErrorClass = iota
	ClassPermanent
)

func (c ErrorClass) String() string {
	if c == ClassPermanent {
		return "permanent"
	}
	return "transient"
}
