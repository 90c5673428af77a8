// Package connectivity tracks whether the backend is reachable and triggers queue drains
// when it comes back.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vietddude/resilink/internal/core/domain"
	"github.com/vietddude/resilink/internal/metrics"
)

// Config holds probe and drain settings.
type Config struct {
	ProbeURL         string        `yaml:"probe_url"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	MinDrainInterval time.Duration `yaml:"min_drain_interval"`
}

var DefaultConfig = Config{
	PollInterval:     10 * time.Second,
	ProbeTimeout:     5 * time.Second,
	MinDrainInterval: 5 * time.Second,
}

// Listener receives the new status after every change.
type Listener func(status domain.NetworkStatus)

// Monitor holds the current NetworkStatus and notifies listeners on change.
// On every offline to online edge it starts the registered drain, spaced by MinDrainInterval.
type Monitor struct {
	cfg     Config
	probe   Probe
	quality *QualityEstimator
	log     *slog.Logger

	mu        sync.Mutex
	status    domain.NetworkStatus
	listeners map[uint64]Listener
	nextID    uint64

	drainMu      sync.Mutex
	drain        func(ctx context.Context)
	limiter      *rate.Limiter
	pendingDrain *time.Timer
	baseCtx      context.Context
	stopped      bool
}

// NewMonitor creates a monitor that starts online. probe may be nil, in which case only
// Update and SetOnline change the status.
func NewMonitor(cfg Config, probe Probe) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig.PollInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultConfig.ProbeTimeout
	}
	if cfg.MinDrainInterval < 0 {
		cfg.MinDrainInterval = 0
	}

	limit := rate.Inf
	if cfg.MinDrainInterval > 0 {
		limit = rate.Every(cfg.MinDrainInterval)
	}

	m := &Monitor{
		cfg:       cfg,
		probe:     probe,
		quality:   NewQualityEstimator(),
		log:       slog.Default().With("component", "connectivity"),
		status:    domain.NetworkStatus{Online: true},
		listeners: make(map[uint64]Listener),
		limiter:   rate.NewLimiter(limit, 1),
		baseCtx:   context.Background(),
	}
	metrics.NetworkOnline.Set(1)
	return m
}

// Status returns the current snapshot.
func (m *Monitor) Status() domain.NetworkStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Monitor) IsOnline() bool {
	return m.Status().Online
}

// Subscribe registers fn for status changes and returns a function that removes it.
func (m *Monitor) Subscribe(fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// SetDrainer registers the function run on the offline to online edge.
func (m *Monitor) SetDrainer(fn func(ctx context.Context)) {
	m.drainMu.Lock()
	m.drain = fn
	m.drainMu.Unlock()
}

// SetOnline is the platform's online/offline signal.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	status := m.status
	m.mu.Unlock()

	status.Online = online
	if !online {
		status.RTT = 0
		status.EffectiveType = ""
		status.Downlink = 0
	}
	m.Update(status)
}

// Update replaces the status. Listeners are only called when it actually changed.
func (m *Monitor) Update(status domain.NetworkStatus) {
	m.mu.Lock()
	prev := m.status
	if prev.Equal(status) {
		m.mu.Unlock()
		return
	}
	m.status = status
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	metrics.NetworkOnline.Set(metrics.BoolGauge(status.Online))
	metrics.NetworkRTT.Set(status.RTT.Seconds())

	if prev.Online != status.Online {
		m.log.Info("Network status changed",
			"online", status.Online,
			"effective_type", status.EffectiveType,
			"rtt", status.RTT,
		)
	}

	for _, l := range listeners {
		m.notify(l, status)
	}

	if !prev.Online && status.Online {
		m.triggerDrain()
	}
}

// RecordLatency feeds an observed round trip into the quality estimate.
func (m *Monitor) RecordLatency(d time.Duration) {
	m.quality.RecordLatency(d)
}

// RecordTransfer feeds an observed transfer into the downlink estimate.
func (m *Monitor) RecordTransfer(n int64, d time.Duration) {
	m.quality.RecordTransfer(n, d)
}

// Run polls the probe until ctx is done. Without a probe it only waits.
func (m *Monitor) Run(ctx context.Context) error {
	m.drainMu.Lock()
	m.baseCtx = ctx
	m.drainMu.Unlock()

	defer m.stop()

	if m.probe == nil {
		<-ctx.Done()
		return nil
	}

	m.log.Info("Starting connectivity monitor", "poll_interval", m.cfg.PollInterval)
	m.poll(ctx)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	rtt, err := m.probe.Probe(probeCtx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		m.log.Debug("Connectivity probe failed", "error", err)
		m.SetOnline(false)
		return
	}

	m.quality.RecordLatency(rtt)
	avg := m.quality.AverageLatency()
	m.Update(domain.NetworkStatus{
		Online:        true,
		EffectiveType: m.quality.EffectiveType(),
		Downlink:      m.quality.Downlink(),
		RTT:           avg.Round(10 * time.Millisecond),
	})
}

// triggerDrain runs the drain now, or once the minimum interval has passed.
// At most one deferred drain is pending at a time.
func (m *Monitor) triggerDrain() {
	m.drainMu.Lock()
	defer m.drainMu.Unlock()

	if m.drain == nil || m.stopped {
		return
	}
	if m.pendingDrain != nil {
		return
	}

	r := m.limiter.Reserve()
	if !r.OK() {
		return
	}
	delay := r.Delay()
	drain := m.drain
	ctx := m.baseCtx

	if delay <= 0 {
		go m.runDrain(ctx, drain)
		return
	}

	m.log.Debug("Deferring drain", "delay", delay)
	m.pendingDrain = time.AfterFunc(delay, func() {
		m.drainMu.Lock()
		m.pendingDrain = nil
		stopped := m.stopped
		m.drainMu.Unlock()

		// the link may have dropped again while waiting
		if stopped || !m.IsOnline() {
			return
		}
		m.runDrain(ctx, drain)
	})
}

func (m *Monitor) runDrain(ctx context.Context, drain func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("Drain panicked", "panic", r)
		}
	}()
	metrics.QueueDrainsTotal.WithLabelValues("online").Inc()
	drain(ctx)
}

func (m *Monitor) stop() {
	m.drainMu.Lock()
	defer m.drainMu.Unlock()
	m.stopped = true
	if m.pendingDrain != nil {
		m.pendingDrain.Stop()
		m.pendingDrain = nil
	}
}

func (m *Monitor) notify(l Listener, status domain.NetworkStatus) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("Connectivity listener panicked", "panic", r)
		}
	}()
	l(status)
}
