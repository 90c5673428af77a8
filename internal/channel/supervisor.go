// Package channel keeps the realtime channel to the backend alive.
//
// The Supervisor owns the connection state machine:
//
//	Disconnected → Connecting → Connected
//	Connecting → Reconnecting → Connecting (backoff timer)
//	Connected → Reconnecting (unclean close, heartbeat timeout, failed send)
//	Connected → Disconnected (clean close by the server)
//	Reconnecting → Disconnected (attempts exhausted, connection abandoned)
//	any → Closed (Disconnect)
//
// All state lives on a single event-loop goroutine. Transport callbacks and timers post
// messages tagged with the connection generation they belong to; messages from an older
// generation are ignored, so a late callback can never resurrect a dead connection.
// On every entry into Connected the heartbeat starts and every subscription is re-sent.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/resilink/internal/core/domain"
	"github.com/vietddude/resilink/internal/events"
	"github.com/vietddude/resilink/internal/metrics"
	"github.com/vietddude/resilink/internal/retry"
)

// Config holds channel settings.
type Config struct {
	URL               string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	DialTimeout       time.Duration
	Reconnect         retry.Spec
}

var DefaultConfig = Config{
	HeartbeatInterval: 25 * time.Second,
	HeartbeatTimeout:  60 * time.Second,
	DialTimeout:       10 * time.Second,
	Reconnect:         retry.ReconnectSpec,
}

// Supervisor manages one logical connection.
type Supervisor struct {
	cfg       Config
	transport Transport
	tokens    TokenProvider
	router    *events.Router
	log       *slog.Logger
	subs      *subscriptions

	cmds chan func()
	done chan struct{}
	ctx  context.Context
	stop context.CancelFunc

	// owned by the event loop
	state          State
	conn           Conn
	gen            uint64
	attempts       int
	lastErr        error
	dialCancel     context.CancelFunc
	reconnectTimer *time.Timer
	heartbeatTimer *time.Timer

	current  atomic.Value // State
	lastSeen atomic.Int64 // unix nanos of the last inbound frame or pong

	hooksMu     sync.RWMutex
	onState     []func(Transition)
	onConnected []func(ctx context.Context)
	onAbandoned []func(err error)
}

// NewSupervisor creates a supervisor in the Disconnected state and starts its event loop.
func NewSupervisor(cfg Config, transport Transport, tokens TokenProvider, router *events.Router) *Supervisor {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultConfig.HeartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultConfig.HeartbeatTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultConfig.DialTimeout
	}
	if cfg.Reconnect.BaseDelay <= 0 {
		cfg.Reconnect = DefaultConfig.Reconnect
	}
	if tokens == nil {
		tokens = StaticToken("")
	}
	if router == nil {
		router = events.NewRouter()
	}

	ctx, stop := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:       cfg,
		transport: transport,
		tokens:    tokens,
		router:    router,
		log:       slog.Default().With("component", "channel"),
		subs:      newSubscriptions(),
		cmds:      make(chan func(), 128),
		done:      make(chan struct{}),
		ctx:       ctx,
		stop:      stop,
		state:     StateDisconnected,
	}
	s.current.Store(StateDisconnected)
	metrics.SetConnectionState(string(StateDisconnected), stateNames())
	go s.loop()
	return s
}

// =============================================================================
// Public API
// =============================================================================

// Connect starts connecting. It is a no-op while connecting or connected, dials at once
// while a reconnect is pending, and fails with domain.ErrClosed after Disconnect.
func (s *Supervisor) Connect() error {
	return s.call(context.Background(), func() error {
		switch s.state {
		case StateClosed:
			return domain.ErrClosed
		case StateConnecting, StateConnected:
			return nil
		case StateReconnecting:
			s.stopReconnectTimer()
		case StateDisconnected:
			s.attempts = 0
		}
		s.dial("connect requested")
		return nil
	})
}

// Disconnect closes the channel for good. Pending timers are cancelled and the
// connection is closed before Disconnect returns.
func (s *Supervisor) Disconnect() {
	_ = s.call(context.Background(), func() error {
		s.shutdown("disconnect requested")
		return nil
	})
	<-s.done
}

// Subscribe adds topic ("job:<id>") to the subscription set. The subscribe frame is sent
// only when the topic is new and the channel is connected; otherwise it goes out on the
// next connect.
func (s *Supervisor) Subscribe(topic string) error {
	jobID, err := ParseTopic(topic)
	if err != nil {
		return err
	}
	return s.call(context.Background(), func() error {
		if !s.subs.Add(topic) {
			return nil
		}
		s.log.Debug("Subscribed", "topic", topic)
		if s.state == StateConnected {
			s.sendLocked(subscribeFrame(jobID))
		}
		return nil
	})
}

// Unsubscribe removes topic. Removing an unknown topic is a no-op.
func (s *Supervisor) Unsubscribe(topic string) error {
	jobID, err := ParseTopic(topic)
	if err != nil {
		return err
	}
	return s.call(context.Background(), func() error {
		if !s.subs.Remove(topic) {
			return nil
		}
		s.log.Debug("Unsubscribed", "topic", topic)
		if s.state == StateConnected {
			s.sendLocked(unsubscribeFrame(jobID))
		}
		return nil
	})
}

// Send writes an application frame. It fails with domain.ErrNotConnected unless connected.
func (s *Supervisor) Send(ctx context.Context, frame []byte) error {
	return s.call(ctx, func() error {
		if s.state != StateConnected {
			return domain.ErrNotConnected
		}
		return s.sendLocked(frame)
	})
}

// State returns the current state. Safe from any goroutine.
func (s *Supervisor) State() State {
	return s.current.Load().(State)
}

// Subscriptions returns the subscription set in insertion order.
func (s *Supervisor) Subscriptions() []string {
	return s.subs.List()
}

// LastSeen returns when the last inbound frame or pong arrived.
func (s *Supervisor) LastSeen() time.Time {
	n := s.lastSeen.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Router returns the router inbound events are published to.
func (s *Supervisor) Router() *events.Router {
	return s.router
}

// OnStateChange registers fn for every transition. fn runs on the event loop and must not block.
func (s *Supervisor) OnStateChange(fn func(Transition)) {
	s.hooksMu.Lock()
	s.onState = append(s.onState, fn)
	s.hooksMu.Unlock()
}

// OnConnected registers fn to run in its own goroutine after every entry into Connected.
func (s *Supervisor) OnConnected(fn func(ctx context.Context)) {
	s.hooksMu.Lock()
	s.onConnected = append(s.onConnected, fn)
	s.hooksMu.Unlock()
}

// OnAbandoned registers fn for the terminal reconnect failure. err matches domain.ErrConnectionAbandoned.
func (s *Supervisor) OnAbandoned(fn func(err error)) {
	s.hooksMu.Lock()
	s.onAbandoned = append(s.onAbandoned, fn)
	s.hooksMu.Unlock()
}

// =============================================================================
// Event loop
// =============================================================================

func (s *Supervisor) loop() {
	defer close(s.done)
	for fn := range s.cmds {
		fn()
		if s.state == StateClosed {
			return
		}
	}
}

// post queues fn on the event loop. Returns false once the loop has exited.
func (s *Supervisor) post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.cmds <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the event loop and waits for its result.
func (s *Supervisor) call(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	if !s.post(func() { reply <- fn() }) {
		return domain.ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		select {
		case err := <-reply:
			return err
		default:
			return domain.ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// transition moves to a new state. Staying in the same state is not a transition.
func (s *Supervisor) transition(to State, reason string) error {
	from := s.state
	if from == to {
		return fmt.Errorf("%w: already %s", ErrInvalidTransition, to)
	}
	t := NewTransition(from, to, reason)
	if !t.IsValid() {
		s.log.Error("Invalid state transition", "from", from, "to", to, "reason", reason)
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	s.state = to
	s.current.Store(to)
	metrics.SetConnectionState(string(to), stateNames())

	s.log.Info("Connection state changed", "from", from, "to", to, "reason", reason)

	s.hooksMu.RLock()
	observers := append(([]func(Transition))(nil), s.onState...)
	s.hooksMu.RUnlock()
	for _, fn := range observers {
		safeCall(s.log, "state observer", func() { fn(t) })
	}
	s.router.Publish(events.StateChanged{From: from, To: to, Reason: reason, At: t.Timestamp})
	return nil
}

// dial moves to Connecting and opens a connection in the background.
func (s *Supervisor) dial(reason string) {
	if s.transition(StateConnecting, reason) != nil {
		return
	}
	s.gen++
	gen := s.gen

	dialCtx, cancel := context.WithTimeout(s.ctx, s.cfg.DialTimeout)
	s.dialCancel = cancel

	s.log.Info("Connecting to channel", "url", s.cfg.URL, "attempt", s.attempts)
	handler := s.handler(gen)
	go func() {
		token, err := s.tokens.Token(dialCtx)
		if err != nil {
			s.post(func() { s.onDialResult(gen, nil, fmt.Errorf("failed to get token: %w", err)) })
			return
		}
		conn, err := s.transport.Open(dialCtx, s.cfg.URL, token, handler)
		if !s.post(func() { s.onDialResult(gen, conn, err) }) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (s *Supervisor) handler(gen uint64) Handler {
	return Handler{
		OnMessage: func(data []byte) {
			s.lastSeen.Store(time.Now().UnixNano())
			s.post(func() { s.onMessage(gen, data) })
		},
		OnPong: func() {
			s.lastSeen.Store(time.Now().UnixNano())
		},
		OnClose: func(ev CloseEvent) {
			s.post(func() { s.onClose(gen, ev) })
		},
	}
}

func (s *Supervisor) onDialResult(gen uint64, conn Conn, err error) {
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	if gen != s.gen || s.state != StateConnecting {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		s.log.Warn("Connection failed", "error", err, "attempt", s.attempts)
		s.lastErr = err
		s.enterReconnecting("dial failed")
		return
	}

	s.conn = conn
	s.lastSeen.Store(time.Now().UnixNano())
	s.attempts = 0
	s.lastErr = nil
	if s.transition(StateConnected, "connection established") != nil {
		return
	}

	s.startHeartbeat(gen)
	s.replaySubscriptions()
	if s.state != StateConnected {
		// a replay send failed and forced a reconnect
		return
	}

	s.hooksMu.RLock()
	hooks := append(([]func(ctx context.Context))(nil), s.onConnected...)
	s.hooksMu.RUnlock()
	for _, fn := range hooks {
		go safeCall(s.log, "connected hook", func() { fn(s.ctx) })
	}
}

func (s *Supervisor) replaySubscriptions() {
	topics := s.subs.List()
	if len(topics) == 0 {
		return
	}
	s.log.Info("Replaying subscriptions", "count", len(topics))
	for _, topic := range topics {
		jobID, err := ParseTopic(topic)
		if err != nil {
			continue
		}
		if err := s.sendLocked(subscribeFrame(jobID)); err != nil {
			return
		}
	}
}

func (s *Supervisor) onMessage(gen uint64, data []byte) {
	if gen != s.gen {
		return
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		metrics.FramesReceivedTotal.WithLabelValues("invalid").Inc()
		s.log.Warn("Dropping malformed frame", "error", err, "size", len(data))
		return
	}
	metrics.FramesReceivedTotal.WithLabelValues(env.Type).Inc()

	switch env.Type {
	case FramePing:
		if s.state == StateConnected {
			s.sendLocked(pong(time.Now()))
		}
		return
	case FramePong:
		return
	}

	ev, err := events.Decode(env.Type, data)
	if err != nil {
		s.log.Warn("Routing undecodable frame as unknown", "type", env.Type, "error", err)
	}
	s.router.Publish(ev)
}

func (s *Supervisor) onClose(gen uint64, ev CloseEvent) {
	if gen != s.gen {
		return
	}
	switch s.state {
	case StateConnected:
		s.conn = nil
		s.stopHeartbeat()
		if ev.Clean {
			s.log.Info("Channel closed by server", "code", ev.Code)
			_ = s.transition(StateDisconnected, "closed by server")
			return
		}
		s.log.Warn("Connection lost", "code", ev.Code, "error", ev.Err)
		s.lastErr = closeError(ev)
		s.enterReconnecting("connection lost")
	case StateConnecting:
		// closed before the dial result arrived
		s.lastErr = closeError(ev)
		s.enterReconnecting("connection lost during handshake")
	}
}

// forceReconnect drops a live connection the supervisor no longer trusts.
func (s *Supervisor) forceReconnect(reason string, cause error) {
	if s.state != StateConnected {
		return
	}
	s.stopHeartbeat()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.lastErr = cause
	s.enterReconnecting(reason)
}

func (s *Supervisor) enterReconnecting(reason string) {
	// invalidates callbacks and dial results of the previous connection
	s.gen++
	if s.transition(StateReconnecting, reason) != nil {
		return
	}
	s.attempts++
	metrics.ReconnectAttemptsTotal.Inc()

	maxAttempts := s.cfg.Reconnect.MaxAttempts
	if maxAttempts > 0 && s.attempts > maxAttempts {
		s.abandon()
		return
	}

	delay := retry.Delay(s.attempts, s.cfg.Reconnect)
	gen := s.gen
	s.log.Info("Scheduling reconnect", "attempt", s.attempts, "max_attempts", maxAttempts, "delay", delay)
	s.reconnectTimer = time.AfterFunc(delay, func() {
		s.post(func() { s.onReconnectTimer(gen) })
	})
}

func (s *Supervisor) onReconnectTimer(gen uint64) {
	if gen != s.gen || s.state != StateReconnecting {
		return
	}
	s.reconnectTimer = nil
	s.dial("reconnect timer fired")
}

func (s *Supervisor) abandon() {
	attempts := s.attempts - 1
	err := fmt.Errorf("%w after %d attempts: %v", domain.ErrConnectionAbandoned, attempts, s.lastErr)
	s.log.Error("Giving up reconnecting", "attempts", attempts, "error", s.lastErr)
	metrics.ConnectionsAbandonedTotal.Inc()

	_ = s.transition(StateDisconnected, "connection abandoned")

	s.hooksMu.RLock()
	hooks := append(([]func(error))(nil), s.onAbandoned...)
	s.hooksMu.RUnlock()
	for _, fn := range hooks {
		safeCall(s.log, "abandoned hook", func() { fn(err) })
	}
	s.router.Publish(events.ConnectionAbandoned{Attempts: attempts, Err: err})
}

func (s *Supervisor) shutdown(reason string) {
	if s.state == StateClosed {
		return
	}
	s.gen++
	s.stopReconnectTimer()
	s.stopHeartbeat()
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.stop()
	_ = s.transition(StateClosed, reason)
}

// =============================================================================
// Heartbeat
// =============================================================================

func (s *Supervisor) startHeartbeat(gen uint64) {
	s.stopHeartbeat()
	s.heartbeatTimer = time.AfterFunc(s.cfg.HeartbeatInterval, func() {
		s.post(func() { s.onHeartbeat(gen) })
	})
}

func (s *Supervisor) onHeartbeat(gen uint64) {
	if gen != s.gen || s.state != StateConnected {
		return
	}

	silence := time.Since(s.LastSeen())
	if silence > s.cfg.HeartbeatTimeout {
		s.log.Warn("Heartbeat timeout detected", "time_since_last_frame", silence)
		metrics.HeartbeatTimeoutsTotal.Inc()
		s.forceReconnect("heartbeat timeout", fmt.Errorf("no frame for %s", silence.Round(time.Millisecond)))
		return
	}

	if err := s.conn.Ping(); err != nil {
		s.log.Warn("Failed to send ping", "error", err)
		s.forceReconnect("ping failed", err)
		return
	}
	s.startHeartbeat(gen)
}

func (s *Supervisor) stopHeartbeat() {
	if s.heartbeatTimer != nil {
		s.heartbeatTimer.Stop()
		s.heartbeatTimer = nil
	}
}

func (s *Supervisor) stopReconnectTimer() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

// sendLocked writes a frame on the live connection. A failed write forces a reconnect.
func (s *Supervisor) sendLocked(frame []byte) error {
	if s.conn == nil {
		return domain.ErrNotConnected
	}
	if err := s.conn.Send(frame); err != nil {
		s.log.Warn("Failed to send frame", "error", err)
		s.forceReconnect("send failed", err)
		return fmt.Errorf("%w: %v", domain.ErrNotConnected, err)
	}
	metrics.FramesSentTotal.WithLabelValues(frameType(frame)).Inc()
	return nil
}

func closeError(ev CloseEvent) error {
	if ev.Err != nil {
		return ev.Err
	}
	return fmt.Errorf("connection closed with code %d", ev.Code)
}

func stateNames() []string {
	names := make([]string, len(AllStates))
	for i, st := range AllStates {
		names[i] = string(st)
	}
	return names
}

func safeCall(log *slog.Logger, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Callback panicked", "callback", what, "panic", r)
		}
	}()
	fn()
}
