package domain

import "time"

// ConnectionState is the lifecycle state of the realtime channel.
type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionReconnecting ConnectionState = "reconnecting"
	ConnectionClosed       ConnectionState = "closed"
)

// NetworkStatus is a snapshot of the host's connectivity.
type NetworkStatus struct {
	Online        bool          `json:"online"`
	EffectiveType string        `json:"effective_type,omitempty"` // 4g, 3g, 2g, slow-2g
	Downlink      float64       `json:"downlink,omitempty"`       // Mbit/s estimate
	RTT           time.Duration `json:"rtt,omitempty"`
}

// Equal reports whether two snapshots describe the same status.
func (s NetworkStatus) Equal(other NetworkStatus) bool {
	return s.Online == other.Online &&
		s.EffectiveType == other.EffectiveType &&
		s.Downlink == other.Downlink &&
		s.RTT == other.RTT
}
