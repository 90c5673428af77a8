package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/resilink/internal/core/domain"
	"github.com/vietddude/resilink/internal/events"
	"github.com/vietddude/resilink/internal/retry"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func testConfig() Config {
	return Config{
		URL:               "ws://backend.test/ws",
		HeartbeatInterval: time.Hour,
		HeartbeatTimeout:  time.Hour,
		DialTimeout:       time.Second,
		Reconnect: retry.Spec{
			Strategy:    retry.Fixed,
			BaseDelay:   10 * time.Millisecond,
			MaxAttempts: 5,
			Retryable:   retry.IsTransient,
		},
	}
}

// startRouter runs a router for the lifetime of the test.
func startRouter(t *testing.T) *events.Router {
	t.Helper()
	r := events.NewRouter()
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	t.Cleanup(cancel)
	return r
}

func newTestSupervisor(t *testing.T, cfg Config, tr *fakeTransport) *Supervisor {
	t.Helper()
	s := NewSupervisor(cfg, tr, StaticToken("secret"), startRouter(t))
	t.Cleanup(s.Disconnect)
	return s
}

func waitState(t *testing.T, s *Supervisor, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want }, waitFor, tick,
		"state is %s, want %s", s.State(), want)
}

func nextConn(t *testing.T, tr *fakeTransport) *fakeConn {
	t.Helper()
	select {
	case c := <-tr.opened:
		return c
	case <-time.After(waitFor):
		t.Fatal("no connection opened")
		return nil
	}
}

// =============================================================================
// Connect / Disconnect
// =============================================================================

func TestSupervisor_Connect(t *testing.T) {
	tr := newFakeTransport()
	s := newTestSupervisor(t, testConfig(), tr)
	assert.Equal(t, StateDisconnected, s.State())

	connected := make(chan struct{}, 1)
	s.OnConnected(func(ctx context.Context) { connected <- struct{}{} })

	var mu sync.Mutex
	var seen []State
	s.OnStateChange(func(change Transition) {
		mu.Lock()
		seen = append(seen, change.To)
		mu.Unlock()
	})

	require.NoError(t, s.Connect())
	nextConn(t, tr)
	waitState(t, s, StateConnected)

	select {
	case <-connected:
	case <-time.After(waitFor):
		t.Fatal("connected hook not called")
	}

	mu.Lock()
	assert.Equal(t, []State{StateConnecting, StateConnected}, seen)
	mu.Unlock()
	assert.Equal(t, []string{"secret"}, tr.tokenList())
	assert.False(t, s.LastSeen().IsZero())

	// idempotent while connected
	require.NoError(t, s.Connect())
	assert.Equal(t, 1, tr.openCount())
}

func TestSupervisor_DisconnectIsTerminal(t *testing.T) {
	tr := newFakeTransport()
	s := newTestSupervisor(t, testConfig(), tr)

	require.NoError(t, s.Connect())
	conn := nextConn(t, tr)
	waitState(t, s, StateConnected)

	s.Disconnect()
	assert.Equal(t, StateClosed, s.State())
	assert.True(t, conn.isClosed())

	assert.ErrorIs(t, s.Connect(), domain.ErrClosed)
	assert.ErrorIs(t, s.Subscribe("job:1"), domain.ErrClosed)
	assert.ErrorIs(t, s.Send(context.Background(), []byte(`{}`)), domain.ErrClosed)

	// a second Disconnect is harmless
	s.Disconnect()
}

func TestSupervisor_DisconnectCancelsPendingReconnect(t *testing.T) {
	cfg := testConfig()
	cfg.Reconnect.BaseDelay = 200 * time.Millisecond
	tr := newFakeTransport(errors.New("dial refused"))
	s := newTestSupervisor(t, cfg, tr)

	require.NoError(t, s.Connect())
	waitState(t, s, StateReconnecting)

	s.Disconnect()
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 1, tr.openCount())
}

func TestSupervisor_ConnectWhileReconnectingDialsImmediately(t *testing.T) {
	cfg := testConfig()
	cfg.Reconnect.BaseDelay = time.Hour
	tr := newFakeTransport(errors.New("dial refused"))
	s := newTestSupervisor(t, cfg, tr)

	require.NoError(t, s.Connect())
	waitState(t, s, StateReconnecting)

	require.NoError(t, s.Connect())
	nextConn(t, tr)
	waitState(t, s, StateConnected)
	assert.Equal(t, 2, tr.openCount())
}

// =============================================================================
// Subscriptions
// =============================================================================

func TestSupervisor_SubscribeSendsOnlyOnMembershipChange(t *testing.T) {
	tr := newFakeTransport()
	s := newTestSupervisor(t, testConfig(), tr)

	require.NoError(t, s.Connect())
	conn := nextConn(t, tr)
	waitState(t, s, StateConnected)

	require.NoError(t, s.Subscribe("job:1"))
	require.NoError(t, s.Subscribe("job:1"))
	require.NoError(t, s.Unsubscribe("job:2"))
	require.NoError(t, s.Unsubscribe("job:1"))

	subs := conn.framesOfType(FrameSubscribeToJob)
	unsubs := conn.framesOfType(FrameUnsubscribeFromJob)
	require.Len(t, subs, 1)
	require.Len(t, unsubs, 1)
	assert.Equal(t, "1", subs[0]["job_id"])
	assert.Empty(t, s.Subscriptions())
}

func TestSupervisor_SubscribeRejectsBadTopic(t *testing.T) {
	s := newTestSupervisor(t, testConfig(), newFakeTransport())
	assert.Error(t, s.Subscribe("meeting:1"))
	assert.Error(t, s.Unsubscribe(""))
}

func TestSupervisor_ReplaysSubscriptionsOnEveryConnect(t *testing.T) {
	tr := newFakeTransport()
	s := newTestSupervisor(t, testConfig(), tr)

	// subscribed while offline: stored, sent on connect
	require.NoError(t, s.Subscribe("job:b"))
	require.NoError(t, s.Subscribe("job:a"))

	require.NoError(t, s.Connect())
	first := nextConn(t, tr)
	waitState(t, s, StateConnected)
	require.NoError(t, s.Subscribe("job:c"))

	jobIDs := func(c *fakeConn) []any {
		var ids []any
		for _, f := range c.framesOfType(FrameSubscribeToJob) {
			ids = append(ids, f["job_id"])
		}
		return ids
	}
	assert.Equal(t, []any{"b", "a", "c"}, jobIDs(first))

	first.serverCloses(CloseEvent{Code: 1006})
	second := nextConn(t, tr)
	waitState(t, s, StateConnected)

	require.Eventually(t, func() bool { return len(jobIDs(second)) == 3 }, waitFor, tick)
	assert.Equal(t, []any{"b", "a", "c"}, jobIDs(second))
}

// =============================================================================
// Reconnect
// =============================================================================

func TestSupervisor_CleanCloseDoesNotReconnect(t *testing.T) {
	tr := newFakeTransport()
	s := newTestSupervisor(t, testConfig(), tr)

	require.NoError(t, s.Connect())
	conn := nextConn(t, tr)
	waitState(t, s, StateConnected)

	conn.serverCloses(CloseEvent{Clean: true, Code: 1000})
	waitState(t, s, StateDisconnected)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, 1, tr.openCount())
}

func TestSupervisor_UncleanCloseReconnects(t *testing.T) {
	tr := newFakeTransport()
	s := newTestSupervisor(t, testConfig(), tr)

	require.NoError(t, s.Connect())
	conn := nextConn(t, tr)
	waitState(t, s, StateConnected)

	conn.serverCloses(CloseEvent{Code: 4001, Err: errors.New("token expired")})
	nextConn(t, tr)
	waitState(t, s, StateConnected)
	assert.Equal(t, 2, tr.openCount())
}

func TestSupervisor_AbandonsAfterMaxAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.Reconnect.MaxAttempts = 2
	refused := errors.New("dial refused")
	tr := newFakeTransport(refused, refused, refused)
	router := startRouter(t)
	s := NewSupervisor(cfg, tr, nil, router)
	t.Cleanup(s.Disconnect)

	abandoned := make(chan error, 1)
	s.OnAbandoned(func(err error) { abandoned <- err })

	var event atomic.Value
	router.AddListener(events.TypeConnectionAbandoned, func(ev events.Event) { event.Store(ev) })

	require.NoError(t, s.Connect())

	var err error
	select {
	case err = <-abandoned:
	case <-time.After(waitFor):
		t.Fatal("connection was not abandoned")
	}
	assert.ErrorIs(t, err, domain.ErrConnectionAbandoned)
	assert.Contains(t, err.Error(), "dial refused")
	assert.Equal(t, StateDisconnected, s.State())
	// one initial dial plus two reconnects
	assert.Equal(t, 3, tr.openCount())

	require.Eventually(t, func() bool { return event.Load() != nil }, waitFor, tick)
	assert.Equal(t, 2, event.Load().(events.ConnectionAbandoned).Attempts)

	// Connect after abandonment starts over with a fresh budget
	require.NoError(t, s.Connect())
	nextConn(t, tr)
	waitState(t, s, StateConnected)
}

func TestSupervisor_IgnoresStaleCallbacks(t *testing.T) {
	tr := newFakeTransport()
	s := newTestSupervisor(t, testConfig(), tr)

	received := make(chan events.Event, 8)
	s.Router().AddListener(events.Wildcard, func(ev events.Event) {
		if _, ok := ev.(events.StateChanged); !ok {
			received <- ev
		}
	})

	require.NoError(t, s.Connect())
	old := nextConn(t, tr)
	waitState(t, s, StateConnected)

	old.serverCloses(CloseEvent{Code: 1006})
	nextConn(t, tr)
	waitState(t, s, StateConnected)

	// late callbacks from the dead connection
	old.h.OnMessage([]byte(`{"type":"summary_ready","meeting_id":"m1"}`))
	old.h.OnClose(CloseEvent{Code: 1006})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, 2, tr.openCount())
	assert.Empty(t, received)
}

// =============================================================================
// Heartbeat
// =============================================================================

func TestSupervisor_HeartbeatTimeoutForcesReconnect(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.HeartbeatTimeout = 40 * time.Millisecond
	tr := newFakeTransport()
	s := newTestSupervisor(t, cfg, tr)

	require.NoError(t, s.Connect())
	silent := nextConn(t, tr)

	// the server never answers, so the connection is declared dead
	second := nextConn(t, tr)
	assert.True(t, silent.isClosed())
	assert.NotSame(t, silent, second)
}

func TestSupervisor_HeartbeatKeepsLiveConnection(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.HeartbeatTimeout = 100 * time.Millisecond
	tr := newFakeTransport()
	s := newTestSupervisor(t, cfg, tr)

	require.NoError(t, s.Connect())
	conn := nextConn(t, tr)
	waitState(t, s, StateConnected)

	stop := time.After(250 * time.Millisecond)
loop:
	for {
		select {
		case <-stop:
			break loop
		case <-time.After(20 * time.Millisecond):
			conn.h.OnPong()
		}
	}

	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, 1, tr.openCount())
	conn.mu.Lock()
	assert.Greater(t, conn.pings, 0)
	conn.mu.Unlock()
}

// =============================================================================
// Frames
// =============================================================================

func TestSupervisor_AnswersServerPing(t *testing.T) {
	tr := newFakeTransport()
	s := newTestSupervisor(t, testConfig(), tr)

	require.NoError(t, s.Connect())
	conn := nextConn(t, tr)
	waitState(t, s, StateConnected)

	conn.serverSends(`{"type":"ping","timestamp":"2024-05-01T12:00:00"}`)
	require.Eventually(t, func() bool { return len(conn.framesOfType(FramePong)) == 1 }, waitFor, tick)
}

func TestSupervisor_RoutesServerEvents(t *testing.T) {
	tr := newFakeTransport()
	s := newTestSupervisor(t, testConfig(), tr)

	got := make(chan events.ProcessingStatusUpdate, 1)
	s.Router().AddListener(events.TypeProcessingStatusUpdate, func(ev events.Event) {
		got <- ev.(events.ProcessingStatusUpdate)
	})

	require.NoError(t, s.Connect())
	conn := nextConn(t, tr)
	waitState(t, s, StateConnected)

	conn.serverSends(`not json`)
	conn.serverSends(`{"type":"processing_status_update","job_id":"j1","status":"running","progress":40}`)

	select {
	case ev := <-got:
		assert.Equal(t, "j1", ev.JobID)
		require.NotNil(t, ev.Progress)
		assert.Equal(t, 40, *ev.Progress)
	case <-time.After(waitFor):
		t.Fatal("event not routed")
	}
	assert.Equal(t, StateConnected, s.State())
}

func TestSupervisor_RoutesUndecodableFrameAsUnknown(t *testing.T) {
	tr := newFakeTransport()
	s := newTestSupervisor(t, testConfig(), tr)

	got := make(chan events.Unknown, 1)
	s.Router().AddListener(events.TypeUnknown, func(ev events.Event) {
		got <- ev.(events.Unknown)
	})

	require.NoError(t, s.Connect())
	conn := nextConn(t, tr)
	waitState(t, s, StateConnected)

	frame := `{"type":"processing_status_update","job_id":"j1","progress":"forty"}`
	conn.serverSends(frame)

	select {
	case ev := <-got:
		assert.Equal(t, "processing_status_update", ev.RawType)
		assert.JSONEq(t, frame, string(ev.Raw))
	case <-time.After(waitFor):
		t.Fatal("frame not routed")
	}
}

func TestSupervisor_SendRequiresConnection(t *testing.T) {
	tr := newFakeTransport()
	s := newTestSupervisor(t, testConfig(), tr)

	assert.ErrorIs(t, s.Send(context.Background(), ConnectionInfoRequest()), domain.ErrNotConnected)

	require.NoError(t, s.Connect())
	conn := nextConn(t, tr)
	waitState(t, s, StateConnected)

	require.NoError(t, s.Send(context.Background(), ConnectionInfoRequest()))
	assert.Len(t, conn.framesOfType(FrameGetConnectionInfo), 1)
}

func TestSupervisor_FailedSendForcesReconnect(t *testing.T) {
	tr := newFakeTransport()
	s := newTestSupervisor(t, testConfig(), tr)

	require.NoError(t, s.Connect())
	conn := nextConn(t, tr)
	waitState(t, s, StateConnected)

	conn.mu.Lock()
	conn.sendErr = errors.New("write buffer full")
	conn.mu.Unlock()

	err := s.Send(context.Background(), ConnectionInfoRequest())
	assert.ErrorIs(t, err, domain.ErrNotConnected)

	nextConn(t, tr)
	waitState(t, s, StateConnected)
}

func TestSupervisor_RejectsInvalidTransition(t *testing.T) {
	tr := newFakeTransport()
	s := newTestSupervisor(t, testConfig(), tr)

	var observed []Transition
	s.OnStateChange(func(change Transition) { observed = append(observed, change) })

	tests := []struct {
		name string
		to   State
	}{
		{"skip connecting", StateConnected},
		{"same state", StateDisconnected},
		{"reconnect while idle", StateReconnecting},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.call(context.Background(), func() error {
				return s.transition(tt.to, "test")
			})
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, StateDisconnected, s.State())
		})
	}
	assert.Empty(t, observed)
}
