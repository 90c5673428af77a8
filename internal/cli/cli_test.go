package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/resilink/internal/core/config"
	"github.com/vietddude/resilink/internal/core/domain"
	"github.com/vietddude/resilink/internal/health"
	"github.com/vietddude/resilink/internal/retry"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestControlConfig(t *testing.T) {
	cfg, err := config.Parse([]byte(`
server:
  port: 9000
  grpc_port: 9001
channel:
  url: "wss://api.example.com/ws"
  token: secret
  reconnect:
    max_attempts: 3
api:
  base_url: "https://api.example.com/v1"
  breaker:
    failure_threshold: 7
retry:
  write:
    max_attempts: 9
storage:
  driver: sqlite
`))
	require.NoError(t, err)

	cc := controlConfig(cfg)
	assert.Equal(t, "wss://api.example.com/ws", cc.Channel.URL)
	assert.Equal(t, 3, cc.Channel.Reconnect.MaxAttempts)
	assert.Equal(t, retry.ReconnectSpec.BaseDelay, cc.Channel.Reconnect.BaseDelay)
	assert.Equal(t, 7, cc.API.Breaker.FailureThreshold)
	assert.Equal(t, 9, cc.Specs.For(domain.ClassWrite).MaxAttempts)
	assert.Equal(t, retry.ReadSpec.MaxAttempts, cc.Specs.For(domain.ClassRead).MaxAttempts)
	assert.Equal(t, 9000, cc.HealthPort)
	assert.Equal(t, 9001, cc.GRPCPort)
	assert.Equal(t, config.DriverSQLite, cc.Storage.Driver)

	token, err := cc.Tokens.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secret", token)
}

func TestFetchReport(t *testing.T) {
	want := health.HealthReport{
		SystemStatus: health.StatusCritical,
		Connection:   health.ConnectionHealth{State: "reconnecting", Status: health.StatusDegraded},
		Queue:        health.QueueHealth{Depth: 3, Capacity: 500, Status: health.StatusDegraded},
		CheckedAt:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health/detailed", r.URL.Path)
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	got, err := fetchReport(context.Background(), srv.Client(), srv.URL+"/health/detailed")
	require.NoError(t, err)
	assert.Equal(t, want.SystemStatus, got.SystemStatus)
	assert.Equal(t, 3, got.Queue.Depth)

	var buf bytes.Buffer
	printReport(&buf, got)
	assert.Contains(t, buf.String(), "Reconnecting - waiting for the backoff timer")
	assert.Contains(t, buf.String(), "3/500")
	assert.Contains(t, buf.String(), "offline")
}

func TestFetchReport_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := fetchReport(context.Background(), srv.Client(), srv.URL+"/health/detailed")
	assert.ErrorContains(t, err, "unexpected status 404")
}

func TestPrintQueue(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	reqs := []*domain.QueuedRequest{
		{ID: "a", Method: http.MethodPost, URL: "/meetings", Priority: domain.PriorityHigh, MaxAttempts: 5, EnqueuedAt: now.Add(-90 * time.Second)},
		{ID: "b", Method: http.MethodPost, Channel: true, Body: []byte(`{"type":"get_connection_info"}`), AttemptCount: 1, MaxAttempts: 5, EnqueuedAt: now},
	}

	var buf bytes.Buffer
	printQueue(&buf, reqs, now)
	out := buf.String()
	assert.Contains(t, out, "/meetings")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "channel:{\"type\":\"get_connection_info\"}")
	assert.Contains(t, out, "1/5")
}
