package domain

import (
	"net/http"
	"time"
)

// QueuedRequest represents one durable mutating call waiting for replay.
type QueuedRequest struct {
	ID           string            `json:"id"`
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	Body         []byte            `json:"body,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	EnqueuedAt   time.Time         `json:"enqueued_at"`
	AttemptCount int               `json:"attempt_count"`
	MaxAttempts  int               `json:"max_attempts"`
	Priority     Priority          `json:"priority"`
	Class        OperationClass    `json:"class"`
	Channel      bool              `json:"channel,omitempty"` // replay over the live channel instead of HTTP
}

// Clone returns a deep copy so callers never share maps or buffers with the queue.
func (r *QueuedRequest) Clone() *QueuedRequest {
	if r == nil {
		return nil
	}
	c := *r
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	if r.Headers != nil {
		c.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			c.Headers[k] = v
		}
	}
	return &c
}

// IsMutating reports whether the request changes server state.
func (r *QueuedRequest) IsMutating() bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

type Priority int

const (
	PriorityLow    Priority = 0
	PriorityMedium Priority = 1
	PriorityHigh   Priority = 2
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// OperationClass selects the retry policy for a request.
type OperationClass string

const (
	ClassRead   OperationClass = "read"
	ClassWrite  OperationClass = "write"
	ClassUpload OperationClass = "upload"
)

// DropReason explains why a queued request left the queue without succeeding.
type DropReason string

const (
	DropExhausted DropReason = "exhausted"
	DropPermanent DropReason = "permanent"
	DropEvicted   DropReason = "evicted"
	DropExpired   DropReason = "expired"
)
