// Package queue keeps mutating requests made while offline and replays them once the
// network (or the realtime channel) is back.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/resilink/internal/core/domain"
	"github.com/vietddude/resilink/internal/infra/storage"
	"github.com/vietddude/resilink/internal/metrics"
	"github.com/vietddude/resilink/internal/retry"
)

// errGated stops a replay whose gate closed; the entry stays queued untouched.
var errGated = errors.New("replay gate closed")

// Replayer sends one queued request. The error is classified with the request's retry spec.
type Replayer interface {
	Replay(ctx context.Context, req *domain.QueuedRequest) error
}

// ReplayFunc adapts a function to Replayer.
type ReplayFunc func(ctx context.Context, req *domain.QueuedRequest) error

func (f ReplayFunc) Replay(ctx context.Context, req *domain.QueuedRequest) error {
	return f(ctx, req)
}

// Gate reports whether req may be replayed right now.
type Gate func(req *domain.QueuedRequest) bool

// DropFunc is told about every request that leaves the queue without succeeding.
type DropFunc func(req *domain.QueuedRequest, reason domain.DropReason, cause error)

// Config holds queue limits.
type Config struct {
	Capacity    int           `yaml:"capacity"`
	Retention   time.Duration `yaml:"retention"`
	MaxAttempts int           `yaml:"max_attempts"`
}

var DefaultConfig = Config{
	Capacity:    500,
	Retention:   24 * time.Hour,
	MaxAttempts: 5,
}

// DrainStats summarizes one drain pass.
type DrainStats struct {
	Replayed int
	Failed   int
	Dropped  int
	Gated    int
	// Skipped is set when another drain was already running.
	Skipped bool
}

// Queue is a durable, priority ordered replay queue.
type Queue struct {
	cfg      Config
	store    storage.Store
	replayer Replayer
	log      *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*domain.QueuedRequest
	epoch   uint64
	gate    Gate
	onDrop  DropFunc
	specs   retry.Specs

	draining atomic.Bool
}

// New creates a queue on top of store. Call Load before the first Drain to recover persisted entries.
func New(cfg Config, store storage.Store, replayer Replayer) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig.Capacity
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig.Retention
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig.MaxAttempts
	}
	return &Queue{
		cfg:      cfg,
		store:    store,
		replayer: replayer,
		log:      slog.Default().With("component", "queue"),
		now:      time.Now,
		entries:  make(map[string]*domain.QueuedRequest),
	}
}

// SetGate installs the check consulted right before each replay.
func (q *Queue) SetGate(g Gate) {
	q.mu.Lock()
	q.gate = g
	q.mu.Unlock()
}

// OnDrop registers the terminal-failure callback.
func (q *Queue) OnDrop(fn DropFunc) {
	q.mu.Lock()
	q.onDrop = fn
	q.mu.Unlock()
}

// SetSpecs overrides retry specs per operation class.
func (q *Queue) SetSpecs(specs retry.Specs) {
	q.mu.Lock()
	q.specs = specs
	q.mu.Unlock()
}

// Enqueue persists req and returns its id. When the queue is full the oldest entry of the
// lowest priority is evicted, provided it does not outrank req.
func (q *Queue) Enqueue(ctx context.Context, req *domain.QueuedRequest) (string, error) {
	if req == nil {
		return "", errors.New("nil request")
	}
	r := req.Clone()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.EnqueuedAt.IsZero() {
		r.EnqueuedAt = q.now()
	}
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = q.cfg.MaxAttempts
	}
	if r.Class == "" {
		r.Class = domain.ClassWrite
	}
	r.AttemptCount = 0

	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	q.mu.Lock()
	var victim *domain.QueuedRequest
	if _, exists := q.entries[r.ID]; !exists && len(q.entries) >= q.cfg.Capacity {
		victim = q.evictionCandidateLocked()
		if victim == nil || victim.Priority > r.Priority {
			q.mu.Unlock()
			q.log.Warn("Queue full, rejecting request", "id", r.ID, "priority", r.Priority.String(), "capacity", q.cfg.Capacity)
			return "", domain.ErrQueueFull
		}
	}

	if err := q.store.Put(ctx, r.ID, data); err != nil {
		q.mu.Unlock()
		return "", fmt.Errorf("failed to persist request: %w", err)
	}
	q.entries[r.ID] = r

	if victim != nil {
		delete(q.entries, victim.ID)
		if err := q.store.Delete(ctx, victim.ID); err != nil {
			q.log.Error("Failed to delete evicted request", "id", victim.ID, "error", err)
		}
	}
	depth := len(q.entries)
	onDrop := q.onDrop
	q.mu.Unlock()

	metrics.QueueEnqueuedTotal.Inc()
	metrics.QueueDepth.Set(float64(depth))

	if victim != nil {
		q.log.Warn("Queue full, evicted request",
			"evicted", victim.ID,
			"evicted_priority", victim.Priority.String(),
			"for", r.ID,
		)
		q.dropped(onDrop, victim, domain.DropEvicted, domain.ErrQueueFull)
	}

	q.log.Debug("Request enqueued", "id", r.ID, "method", r.Method, "url", r.URL, "priority", r.Priority.String())
	return r.ID, nil
}

// evictionCandidateLocked returns the oldest entry of the lowest priority.
func (q *Queue) evictionCandidateLocked() *domain.QueuedRequest {
	var victim *domain.QueuedRequest
	for _, e := range q.entries {
		if victim == nil ||
			e.Priority < victim.Priority ||
			(e.Priority == victim.Priority && e.EnqueuedAt.Before(victim.EnqueuedAt)) {
			victim = e
		}
	}
	return victim
}

// Drain replays a snapshot of the queue. A call made while another drain runs returns at once.
func (q *Queue) Drain(ctx context.Context) DrainStats {
	if !q.draining.CompareAndSwap(false, true) {
		q.log.Debug("Drain already in progress, skipping")
		return DrainStats{Skipped: true}
	}
	defer q.draining.Store(false)

	q.mu.Lock()
	epoch := q.epoch
	snapshot := q.sortedLocked()
	q.mu.Unlock()

	var stats DrainStats
	if len(snapshot) == 0 {
		return stats
	}
	q.log.Info("Draining queue", "entries", len(snapshot))

	for _, req := range snapshot {
		if ctx.Err() != nil {
			break
		}

		q.mu.Lock()
		var current *domain.QueuedRequest
		entry, ok := q.entries[req.ID]
		if ok {
			current = entry.Clone()
		}
		stale := q.epoch != epoch
		gate := q.gate
		spec := q.specs.For(req.Class)
		q.mu.Unlock()
		if stale {
			break
		}
		if !ok {
			continue
		}
		// the gate is consulted before every attempt, retries included
		err := retry.Do(ctx, spec, func(ctx context.Context) error {
			if gate != nil && !gate(current) {
				return retry.Permanent(errGated)
			}
			return q.replayer.Replay(ctx, current)
		},
			retry.WithLogger(q.log, "replay "+current.ID),
			retry.WithObserver(func(int, error, time.Duration) {
				metrics.RetryAttemptsTotal.WithLabelValues("replay").Inc()
			}),
		)

		if err == nil {
			stats.Replayed++
			metrics.QueueReplayedTotal.WithLabelValues("success").Inc()
			q.complete(ctx, current.ID, epoch)
			continue
		}
		if errors.Is(err, errGated) {
			stats.Gated++
			continue
		}
		if ctx.Err() != nil {
			break
		}

		stats.Failed++
		metrics.QueueReplayedTotal.WithLabelValues("failure").Inc()
		if q.fail(ctx, current.ID, epoch, spec, err) {
			stats.Dropped++
		}
	}

	q.log.Info("Drain finished",
		"replayed", stats.Replayed,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
		"gated", stats.Gated,
	)
	return stats
}

// complete removes a replayed entry unless the queue was cleared meanwhile.
func (q *Queue) complete(ctx context.Context, id string, epoch uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.epoch != epoch {
		return
	}
	delete(q.entries, id)
	if err := q.store.Delete(ctx, id); err != nil {
		q.log.Error("Failed to delete replayed request", "id", id, "error", err)
	}
	metrics.QueueDepth.Set(float64(len(q.entries)))
}

// fail records a failed replay and reports whether the entry was dropped.
func (q *Queue) fail(ctx context.Context, id string, epoch uint64, spec retry.Spec, cause error) bool {
	q.mu.Lock()
	if q.epoch != epoch {
		q.mu.Unlock()
		return false
	}
	entry, ok := q.entries[id]
	if !ok {
		q.mu.Unlock()
		return false
	}

	retryable := spec.Retryable
	if retryable == nil {
		retryable = retry.IsTransient
	}

	entry.AttemptCount++
	var reason domain.DropReason
	switch {
	case !retryable(cause):
		reason = domain.DropPermanent
	case entry.AttemptCount >= entry.MaxAttempts:
		reason = domain.DropExhausted
	}

	if reason != "" {
		delete(q.entries, id)
		if err := q.store.Delete(ctx, id); err != nil {
			q.log.Error("Failed to delete dropped request", "id", id, "error", err)
		}
		metrics.QueueDepth.Set(float64(len(q.entries)))
		onDrop := q.onDrop
		dropped := entry.Clone()
		q.mu.Unlock()

		q.log.Warn("Dropping request",
			"id", id,
			"reason", reason,
			"attempts", dropped.AttemptCount,
			"max_attempts", dropped.MaxAttempts,
			"error", cause,
		)
		q.dropped(onDrop, dropped, reason, cause)
		return true
	}

	if data, err := json.Marshal(entry); err != nil {
		q.log.Error("Failed to encode request", "id", id, "error", err)
	} else if err := q.store.Put(ctx, id, data); err != nil {
		q.log.Error("Failed to persist attempt count", "id", id, "error", err)
	}
	attempts := entry.AttemptCount
	q.mu.Unlock()

	q.log.Warn("Replay failed, keeping request for next drain", "id", id, "attempts", attempts, "error", cause)
	return false
}

// Clear empties the queue. A replay already in flight finishes but its result is discarded.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.epoch++
	q.entries = make(map[string]*domain.QueuedRequest)
	metrics.QueueDepth.Set(0)
	if err := storage.Clear(ctx, q.store); err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}
	q.log.Info("Queue cleared")
	return nil
}

// Load recovers persisted entries. Entries older than the retention window are deleted and
// reported as expired. Returns the number of entries kept.
func (q *Queue) Load(ctx context.Context) (int, error) {
	stored, err := q.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list stored requests: %w", err)
	}

	cutoff := q.now().Add(-q.cfg.Retention)
	var expired []*domain.QueuedRequest

	q.mu.Lock()
	for key, data := range stored {
		var req domain.QueuedRequest
		if err := json.Unmarshal(data, &req); err != nil {
			q.log.Error("Discarding unreadable stored request", "key", key, "error", err)
			_ = q.store.Delete(ctx, key)
			continue
		}
		if req.ID == "" {
			req.ID = key
		}
		if req.EnqueuedAt.Before(cutoff) {
			if err := q.store.Delete(ctx, key); err != nil {
				q.log.Error("Failed to delete expired request", "id", key, "error", err)
			}
			expired = append(expired, &req)
			continue
		}
		q.entries[req.ID] = &req
	}

	// a store written under a larger capacity is trimmed with the enqueue eviction order
	var evicted []*domain.QueuedRequest
	for len(q.entries) > q.cfg.Capacity {
		victim := q.evictionCandidateLocked()
		if victim == nil {
			break
		}
		delete(q.entries, victim.ID)
		if err := q.store.Delete(ctx, victim.ID); err != nil {
			q.log.Error("Failed to delete evicted request", "id", victim.ID, "error", err)
		}
		evicted = append(evicted, victim)
	}
	count := len(q.entries)
	onDrop := q.onDrop
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(count))
	for _, req := range expired {
		q.dropped(onDrop, req, domain.DropExpired, nil)
	}
	if len(evicted) > 0 {
		q.log.Warn("Stored requests exceed capacity, evicted on recovery", "evicted", len(evicted), "capacity", q.cfg.Capacity)
	}
	for _, req := range evicted {
		q.dropped(onDrop, req, domain.DropEvicted, domain.ErrQueueFull)
	}
	q.log.Info("Recovered queued requests", "count", count, "expired", len(expired), "evicted", len(evicted))
	return count, nil
}

// Inspect reads the requests persisted in store, in replay order, without modifying it.
// Unreadable records are skipped.
func Inspect(ctx context.Context, store storage.Store) ([]*domain.QueuedRequest, error) {
	stored, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stored requests: %w", err)
	}
	out := make([]*domain.QueuedRequest, 0, len(stored))
	for key, data := range stored {
		var req domain.QueuedRequest
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		if req.ID == "" {
			req.ID = key
		}
		out = append(out, &req)
	}
	sortRequests(out)
	return out, nil
}

// Prune deletes entries older than the retention window and reports them as expired.
func (q *Queue) Prune(ctx context.Context) int {
	cutoff := q.now().Add(-q.cfg.Retention)

	q.mu.Lock()
	var expired []*domain.QueuedRequest
	for id, e := range q.entries {
		if !e.EnqueuedAt.Before(cutoff) {
			continue
		}
		delete(q.entries, id)
		if err := q.store.Delete(ctx, id); err != nil {
			q.log.Error("Failed to delete expired request", "id", id, "error", err)
		}
		expired = append(expired, e)
	}
	depth := len(q.entries)
	onDrop := q.onDrop
	q.mu.Unlock()

	if len(expired) == 0 {
		return 0
	}
	metrics.QueueDepth.Set(float64(depth))
	for _, req := range expired {
		q.dropped(onDrop, req, domain.DropExpired, nil)
	}
	q.log.Info("Pruned expired requests", "count", len(expired), "remaining", depth)
	return len(expired)
}

// Retention returns the configured retention window.
func (q *Queue) Retention() time.Duration {
	return q.cfg.Retention
}

// Snapshot returns copies of all entries in replay order.
func (q *Queue) Snapshot() []*domain.QueuedRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sortedLocked()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Draining reports whether a drain pass is running.
func (q *Queue) Draining() bool {
	return q.draining.Load()
}

func (q *Queue) sortedLocked() []*domain.QueuedRequest {
	out := make([]*domain.QueuedRequest, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, e.Clone())
	}
	sortRequests(out)
	return out
}

// sortRequests orders by priority (high first), then age, then id.
func sortRequests(out []*domain.QueuedRequest) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
		}
		return out[i].ID < out[j].ID
	})
}

func (q *Queue) dropped(fn DropFunc, req *domain.QueuedRequest, reason domain.DropReason, cause error) {
	metrics.QueueDroppedTotal.WithLabelValues(string(reason)).Inc()
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("Drop callback panicked", "id", req.ID, "panic", r)
		}
	}()
	fn(req, reason, cause)
}
