// Package health provides connection health monitoring and status reporting.
package health

import "time"

// SystemStatus represents the overall health state of the client or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ConnectionHealth describes the realtime channel.
type ConnectionHealth struct {
	State         string       `json:"state"`
	Status        SystemStatus `json:"status"`
	LastSeen      *time.Time   `json:"last_seen,omitempty"`
	Subscriptions []string     `json:"subscriptions"`
}

// NetworkHealth describes reachability of the backend.
type NetworkHealth struct {
	Online        bool    `json:"online"`
	EffectiveType string  `json:"effective_type,omitempty"`
	DownlinkMbps  float64 `json:"downlink_mbps,omitempty"`
	RTTMillis     int64   `json:"rtt_ms"`
}

// QueueHealth describes the offline replay queue.
type QueueHealth struct {
	Depth    int          `json:"depth"`
	Capacity int          `json:"capacity"`
	Draining bool         `json:"draining"`
	Status   SystemStatus `json:"status"`
}

// HealthReport contains the full client health report.
type HealthReport struct {
	SystemStatus SystemStatus     `json:"system_status"`
	Connection   ConnectionHealth `json:"connection"`
	Network      NetworkHealth    `json:"network"`
	Queue        QueueHealth      `json:"queue"`
	Breaker      string           `json:"breaker,omitempty"`
	CheckedAt    time.Time        `json:"checked_at"`
}
