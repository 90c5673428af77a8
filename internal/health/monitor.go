package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/resilink/internal/core/domain"
	"github.com/vietddude/resilink/internal/retry"
)

// ChannelSource reports the realtime channel.
type ChannelSource interface {
	State() domain.ConnectionState
	LastSeen() time.Time
	Subscriptions() []string
}

// NetworkSource reports connectivity.
type NetworkSource interface {
	Status() domain.NetworkStatus
}

// QueueSource reports the replay queue.
type QueueSource interface {
	Len() int
	Draining() bool
}

// BreakerSource reports a circuit breaker.
type BreakerSource interface {
	State() retry.BreakerState
}

// Sources groups what the monitor inspects. Nil sources are skipped.
type Sources struct {
	Channel       ChannelSource
	Network       NetworkSource
	Queue         QueueSource
	QueueCapacity int
	Breaker       BreakerSource
}

// Monitor aggregates health status from the client components.
type Monitor struct {
	src        Sources
	cacheTTL   time.Duration
	lastCheck  time.Time
	lastReport HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. Reports are cached for cacheTTL.
func NewMonitor(src Sources, cacheTTL time.Duration) *Monitor {
	return &Monitor{
		src:      src,
		cacheTTL: cacheTTL,
	}
}

// CheckHealth builds a report for every component.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cacheTTL > 0 && !m.lastCheck.IsZero() && time.Since(m.lastCheck) < m.cacheTTL {
		return m.lastReport
	}

	report := HealthReport{
		SystemStatus: StatusHealthy,
		CheckedAt:    time.Now(),
	}

	// 1. Channel
	if ch := m.src.Channel; ch != nil {
		state := ch.State()
		report.Connection = ConnectionHealth{
			State:         string(state),
			Status:        connectionStatus(state),
			Subscriptions: ch.Subscriptions(),
		}
		if seen := ch.LastSeen(); !seen.IsZero() {
			report.Connection.LastSeen = &seen
		}
		report.SystemStatus = worst(report.SystemStatus, report.Connection.Status)
	}

	// 2. Network
	if nw := m.src.Network; nw != nil {
		st := nw.Status()
		report.Network = NetworkHealth{
			Online:        st.Online,
			EffectiveType: st.EffectiveType,
			DownlinkMbps:  st.Downlink,
			RTTMillis:     st.RTT.Milliseconds(),
		}
		if !st.Online {
			report.SystemStatus = worst(report.SystemStatus, StatusDegraded)
		}
	}

	// 3. Queue
	if q := m.src.Queue; q != nil {
		report.Queue = QueueHealth{
			Depth:    q.Len(),
			Capacity: m.src.QueueCapacity,
			Draining: q.Draining(),
		}
		report.Queue.Status = queueStatus(report.Queue.Depth, report.Queue.Capacity)
		report.SystemStatus = worst(report.SystemStatus, report.Queue.Status)
	}

	// 4. Breaker
	if b := m.src.Breaker; b != nil {
		state := b.State()
		report.Breaker = state.String()
		if state == retry.BreakerOpen {
			report.SystemStatus = worst(report.SystemStatus, StatusDegraded)
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

func connectionStatus(state domain.ConnectionState) SystemStatus {
	switch state {
	case domain.ConnectionConnected:
		return StatusHealthy
	case domain.ConnectionConnecting, domain.ConnectionReconnecting:
		return StatusDegraded
	default:
		return StatusCritical
	}
}

func queueStatus(depth, capacity int) SystemStatus {
	if capacity > 0 && depth*10 >= capacity*9 {
		return StatusCritical
	}
	if depth > 0 {
		return StatusDegraded
	}
	return StatusHealthy
}

var severity = map[SystemStatus]int{
	StatusHealthy:  0,
	StatusDegraded: 1,
	StatusCritical: 2,
}

func worst(a, b SystemStatus) SystemStatus {
	if severity[b] > severity[a] {
		return b
	}
	return a
}
