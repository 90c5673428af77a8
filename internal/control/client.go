// Package control wires the network layer together and owns its lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/resilink/internal/channel"
	"github.com/vietddude/resilink/internal/connectivity"
	"github.com/vietddude/resilink/internal/core/config"
	"github.com/vietddude/resilink/internal/core/domain"
	"github.com/vietddude/resilink/internal/core/worker"
	"github.com/vietddude/resilink/internal/events"
	"github.com/vietddude/resilink/internal/health"
	"github.com/vietddude/resilink/internal/infra/rest"
	"github.com/vietddude/resilink/internal/infra/wsconn"
	"github.com/vietddude/resilink/internal/metrics"
	"github.com/vietddude/resilink/internal/queue"
	"github.com/vietddude/resilink/internal/retry"
)

// ErrOffline is returned for non-mutating requests submitted while the network is down.
var ErrOffline = errors.New("network offline")

// QueuedError reports a request stored for replay. It matches domain.ErrQueued.
type QueuedError struct {
	ID    string
	Cause error
}

func (e *QueuedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("request %s queued for replay", e.ID)
	}
	return fmt.Sprintf("request %s queued for replay: %v", e.ID, e.Cause)
}

func (e *QueuedError) Is(target error) bool { return target == domain.ErrQueued }
func (e *QueuedError) Unwrap() error        { return e.Cause }

// Config holds the client configuration.
type Config struct {
	Channel      channel.Config
	WebSocket    wsconn.Config
	API          rest.Config
	Specs        retry.Specs
	Queue        queue.Config
	Connectivity connectivity.Config
	Storage      config.StorageConfig
	HealthPort   int // 0 disables the HTTP health server
	GRPCPort     int // 0 disables gRPC health

	// Tokens supplies the bearer token for the channel and the API. Nil sends none.
	Tokens channel.TokenProvider
	// Transport replaces the websocket transport.
	Transport channel.Transport
	// Probe replaces the HTTP probe built from Connectivity.ProbeURL.
	Probe connectivity.Probe
}

// Client is the resilient network layer: realtime channel, REST API and replay queue.
type Client struct {
	cfg Config
	log *slog.Logger

	router     *events.Router
	supervisor *channel.Supervisor
	monitor    *connectivity.Monitor
	api        *rest.Client
	queue      *queue.Queue
	store      *openedStore

	healthMon    *health.Monitor
	healthServer *health.Server
	grpcHealth   *health.GRPCServer

	started    atomic.Bool
	closing    atomic.Bool
	lastOnline atomic.Bool

	drainMu      sync.Mutex
	drainPending atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a client with all dependencies initialized. Nothing connects until Start.
func NewClient(cfg Config) (*Client, error) {
	log := slog.Default().With("component", "client")

	// 1. Initialize Storage
	store, err := openStore(context.Background(), cfg.Storage)
	if err != nil {
		return nil, err
	}

	// 2. Initialize API client and channel
	api, err := rest.NewClient(cfg.API)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	if cfg.Tokens != nil {
		api.SetTokenSource(cfg.Tokens)
	}

	router := events.NewRouter()
	transport := cfg.Transport
	if transport == nil {
		transport = wsconn.NewTransport(cfg.WebSocket)
	}
	supervisor := channel.NewSupervisor(cfg.Channel, transport, cfg.Tokens, router)

	// 3. Connectivity
	probe := cfg.Probe
	if probe == nil && cfg.Connectivity.ProbeURL != "" {
		probe = connectivity.NewHTTPProbe(cfg.Connectivity.ProbeURL, cfg.Connectivity.ProbeTimeout)
	}
	monitor := connectivity.NewMonitor(cfg.Connectivity, probe)
	api.SetRecorder(monitor)

	c := &Client{
		cfg:        cfg,
		log:        log,
		router:     router,
		supervisor: supervisor,
		monitor:    monitor,
		api:        api,
		store:      store,
	}
	c.lastOnline.Store(monitor.IsOnline())

	// 4. Replay queue
	c.queue = queue.New(cfg.Queue, store.store, queue.ReplayFunc(c.replay))
	if cfg.Specs != nil {
		c.queue.SetSpecs(cfg.Specs)
	}
	c.queue.SetGate(c.gate)
	c.queue.OnDrop(func(req *domain.QueuedRequest, reason domain.DropReason, cause error) {
		router.Publish(events.RequestDropped{Request: req, Reason: reason, Err: cause})
	})

	// 5. Drain triggers: online edge (monitor) and every entry into Connected
	monitor.SetDrainer(func(ctx context.Context) { c.drain(ctx, "") })
	supervisor.OnConnected(func(ctx context.Context) { c.drain(ctx, "connected") })
	monitor.Subscribe(c.onNetworkChange)

	supervisor.OnAbandoned(func(err error) {
		log.Error("Realtime channel abandoned, waiting for the network to come back", "error", err)
	})

	// 6. Health
	c.healthMon = health.NewMonitor(health.Sources{
		Channel:       supervisor,
		Network:       monitor,
		Queue:         c.queue,
		QueueCapacity: cfg.Queue.Capacity,
		Breaker:       api.Breaker(),
	}, 2*time.Second)
	if cfg.HealthPort > 0 {
		c.healthServer = health.NewServer(c.healthMon, cfg.HealthPort)
	}
	if cfg.GRPCPort > 0 {
		c.grpcHealth = health.NewGRPCServer(cfg.GRPCPort)
		supervisor.OnStateChange(func(t channel.Transition) {
			c.grpcHealth.SetChannelServing(t.To == channel.StateConnected)
		})
	}

	return c, nil
}

// Start recovers persisted requests, starts background loops and connects the channel.
func (c *Client) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("client already started")
	}

	n, err := c.queue.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load queue: %w", err)
	}
	if n > 0 {
		c.log.Info("Recovered queued requests", "count", n)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		c.router.Run(runCtx)
	}()
	go func() {
		defer c.wg.Done()
		worker.NewPruner(c.queue).Start(runCtx)
	}()
	go func() {
		defer c.wg.Done()
		if err := c.monitor.Run(runCtx); err != nil {
			c.log.Error("Connectivity monitor failed", "error", err)
		}
	}()

	if c.store.db != nil {
		c.store.db.StartMetricsCollector(runCtx)
	}

	if c.healthServer != nil {
		go func() {
			if err := c.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.log.Error("Health server failed", "error", err)
			}
		}()
	}
	if c.grpcHealth != nil {
		go func() {
			if err := c.grpcHealth.Start(); err != nil {
				c.log.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	if err := c.supervisor.Connect(); err != nil {
		return fmt.Errorf("failed to connect channel: %w", err)
	}

	// HTTP-bound requests left from a previous run do not wait for the channel
	go c.drain(runCtx, "startup")

	return nil
}

// Stop disconnects the channel and releases every resource.
func (c *Client) Stop(ctx context.Context) error {
	c.log.Info("Stopping client...")
	c.closing.Store(true)

	c.supervisor.Disconnect()
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.log.Warn("Timed out waiting for background loops", "error", ctx.Err())
	}

	var errs []error
	if c.healthServer != nil {
		errs = append(errs, c.healthServer.Stop(ctx))
	}
	if c.grpcHealth != nil {
		c.grpcHealth.Stop()
	}
	errs = append(errs, c.api.Close())
	errs = append(errs, closeStore(c.store))
	return errors.Join(errs...)
}

// =============================================================================
// Requests
// =============================================================================

// Submit sends req now when possible. Mutating requests that cannot be delivered (offline,
// channel down, transient failures exhausted) are queued and reported with a *QueuedError.
// Permanent failures are returned as is.
func (c *Client) Submit(ctx context.Context, req *domain.QueuedRequest) (*rest.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}

	if req.Channel {
		if c.supervisor.State() == channel.StateConnected {
			err := c.supervisor.Send(ctx, req.Body)
			if err == nil {
				return nil, nil
			}
			if !errors.Is(err, domain.ErrNotConnected) {
				return nil, err
			}
		}
		return nil, c.enqueue(ctx, req, domain.ErrNotConnected)
	}

	if !c.monitor.IsOnline() {
		if !req.IsMutating() {
			return nil, ErrOffline
		}
		return nil, c.enqueue(ctx, req, ErrOffline)
	}

	spec := c.specFor(req.Class)
	resp, err := retry.Execute(ctx, spec, func(ctx context.Context) (*rest.Response, error) {
		return c.api.Do(ctx, req.Method, req.URL, req.Body, req.Headers)
	}, retry.WithLogger(c.log, "submit "+req.Method+" "+req.URL), retry.WithObserver(func(int, error, time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues("submit").Inc()
	}))
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil || !req.IsMutating() {
		return nil, err
	}
	if retry.IsExhausted(err) || retry.IsTransient(err) {
		return nil, c.enqueue(ctx, req, err)
	}
	return nil, err
}

func (c *Client) enqueue(ctx context.Context, req *domain.QueuedRequest, cause error) error {
	id, err := c.queue.Enqueue(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to queue request: %w", err)
	}
	c.log.Info("Request queued for replay", "id", id, "method", req.Method, "url", req.URL, "cause", cause)
	return &QueuedError{ID: id, Cause: cause}
}

// Enqueue stores req for replay without trying to send it first.
func (c *Client) Enqueue(ctx context.Context, req *domain.QueuedRequest) (string, error) {
	return c.queue.Enqueue(ctx, req)
}

// Drain replays queued requests now.
func (c *Client) Drain(ctx context.Context) {
	c.drain(ctx, "manual")
}

// drain coalesces triggers: one pass runs at a time and a trigger that arrives
// during a pass causes exactly one more.
func (c *Client) drain(ctx context.Context, trigger string) {
	if trigger != "" {
		metrics.QueueDrainsTotal.WithLabelValues(trigger).Inc()
	}
	c.drainPending.Store(true)
	for {
		if !c.drainMu.TryLock() {
			return
		}
		for c.drainPending.Swap(false) {
			if c.queue.Len() == 0 {
				continue
			}
			stats := c.queue.Drain(ctx)
			c.log.Info("Queue drained",
				"replayed", stats.Replayed,
				"failed", stats.Failed,
				"dropped", stats.Dropped,
				"gated", stats.Gated,
				"remaining", c.queue.Len(),
			)
		}
		c.drainMu.Unlock()
		if !c.drainPending.Load() {
			return
		}
	}
}

func (c *Client) replay(ctx context.Context, req *domain.QueuedRequest) error {
	if req.Channel {
		return c.supervisor.Send(ctx, req.Body)
	}
	return c.api.Replay(ctx, req)
}

// gate: channel frames need a live channel, HTTP requests need the network.
func (c *Client) gate(req *domain.QueuedRequest) bool {
	if req.Channel {
		return c.supervisor.State() == channel.StateConnected
	}
	return c.monitor.IsOnline()
}

func (c *Client) specFor(class domain.OperationClass) retry.Spec {
	if c.cfg.Specs != nil {
		return c.cfg.Specs.For(class)
	}
	return retry.SpecFor(class)
}

// onNetworkChange reconnects a channel that gave up or is waiting out a backoff once the
// network returns.
func (c *Client) onNetworkChange(status domain.NetworkStatus) {
	wasOnline := c.lastOnline.Swap(status.Online)
	if !status.Online || wasOnline || c.closing.Load() {
		return
	}
	switch c.supervisor.State() {
	case channel.StateDisconnected, channel.StateReconnecting:
		c.log.Info("Network is back, reconnecting channel")
		if err := c.supervisor.Connect(); err != nil && !errors.Is(err, domain.ErrClosed) {
			c.log.Warn("Reconnect failed", "error", err)
		}
	}
}

// =============================================================================
// Channel
// =============================================================================

// Subscribe follows a topic ("job:<id>") across reconnects.
func (c *Client) Subscribe(topic string) error {
	return c.supervisor.Subscribe(topic)
}

func (c *Client) Unsubscribe(topic string) error {
	return c.supervisor.Unsubscribe(topic)
}

// ConnectionInfo asks the server for a connection_info event.
func (c *Client) ConnectionInfo(ctx context.Context) error {
	return c.supervisor.Send(ctx, channel.ConnectionInfoRequest())
}

// On registers fn for events of type t (events.Wildcard for all).
func (c *Client) On(t events.Type, fn events.Listener) events.Registration {
	return c.router.AddListener(t, fn)
}

// Off removes a listener registered with On.
func (c *Client) Off(reg events.Registration) bool {
	return c.router.RemoveListener(reg)
}

// SetOnline forwards the platform's online/offline signal.
func (c *Client) SetOnline(online bool) {
	c.monitor.SetOnline(online)
}

// =============================================================================
// Accessors
// =============================================================================

func (c *Client) State() channel.State                { return c.supervisor.State() }
func (c *Client) NetworkStatus() domain.NetworkStatus { return c.monitor.Status() }
func (c *Client) Queue() *queue.Queue                 { return c.queue }
func (c *Client) Health() *health.Monitor             { return c.healthMon }

func closeStore(s *openedStore) error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
