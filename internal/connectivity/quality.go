package connectivity

import (
	"sync"
	"time"
)

// Effective connection types, ordered from worst to best.
const (
	TypeSlow2G = "slow-2g"
	Type2G     = "2g"
	Type3G     = "3g"
	Type4G     = "4g"
)

// typical downlink per type in Mbit/s, used until a transfer has been measured
var typicalDownlink = map[string]float64{
	TypeSlow2G: 0.05,
	Type2G:     0.25,
	Type3G:     0.7,
	Type4G:     10,
}

// QualityEstimator keeps a rolling window of round trips and transfer rates.
type QualityEstimator struct {
	mu sync.RWMutex

	recentLatencies  []time.Duration
	maxLatencyWindow int

	recentDownlinks []float64
	maxRateWindow   int
}

func NewQualityEstimator() *QualityEstimator {
	return &QualityEstimator{
		recentLatencies:  make([]time.Duration, 0, 20),
		maxLatencyWindow: 20,
		recentDownlinks:  make([]float64, 0, 10),
		maxRateWindow:    10,
	}
}

// RecordLatency records one observed round trip.
func (q *QualityEstimator) RecordLatency(latency time.Duration) {
	if latency <= 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.recentLatencies = append(q.recentLatencies, latency)
	if len(q.recentLatencies) > q.maxLatencyWindow {
		q.recentLatencies = q.recentLatencies[1:]
	}
}

// RecordTransfer records a body of n bytes received in d.
func (q *QualityEstimator) RecordTransfer(n int64, d time.Duration) {
	// tiny bodies are dominated by latency, not bandwidth
	if n < 16*1024 || d <= 0 {
		return
	}
	mbps := float64(n*8) / d.Seconds() / 1e6

	q.mu.Lock()
	defer q.mu.Unlock()
	q.recentDownlinks = append(q.recentDownlinks, mbps)
	if len(q.recentDownlinks) > q.maxRateWindow {
		q.recentDownlinks = q.recentDownlinks[1:]
	}
}

// AverageLatency returns the mean of the window, or 0 when nothing was recorded.
func (q *QualityEstimator) AverageLatency() time.Duration {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if len(q.recentLatencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, lat := range q.recentLatencies {
		total += lat
	}
	return total / time.Duration(len(q.recentLatencies))
}

// EffectiveType classifies the average round trip.
func (q *QualityEstimator) EffectiveType() string {
	avg := q.AverageLatency()
	if avg == 0 {
		return ""
	}
	return EffectiveTypeFor(avg)
}

// Downlink returns the measured downlink, falling back to the typical value for the effective type.
func (q *QualityEstimator) Downlink() float64 {
	q.mu.RLock()
	if n := len(q.recentDownlinks); n > 0 {
		var total float64
		for _, v := range q.recentDownlinks {
			total += v
		}
		q.mu.RUnlock()
		return total / float64(n)
	}
	q.mu.RUnlock()
	return typicalDownlink[q.EffectiveType()]
}

// EffectiveTypeFor maps a round trip time to a connection type.
func EffectiveTypeFor(rtt time.Duration) string {
	switch {
	case rtt >= 2000*time.Millisecond:
		return TypeSlow2G
	case rtt >= 1400*time.Millisecond:
		return Type2G
	case rtt >= 270*time.Millisecond:
		return Type3G
	default:
		return Type4G
	}
}
