// Package rest is the HTTP side of the network layer: a JSON API client guarded by a
// circuit breaker that reports latency to the connectivity monitor and replays queued requests.
package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/resilink/internal/core/domain"
	"github.com/vietddude/resilink/internal/metrics"
	"github.com/vietddude/resilink/internal/retry"
)

const maxErrorBody = 4 << 10

// Config holds API client settings.
type Config struct {
	BaseURL string            `yaml:"base_url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
	Breaker retry.BreakerConfig
}

// Recorder receives transfer measurements. *connectivity.Monitor implements it.
type Recorder interface {
	RecordLatency(d time.Duration)
	RecordTransfer(n int64, d time.Duration)
}

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Response is a successful (2xx) response with its body read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client sends HTTP requests to the backend API.
type Client struct {
	baseURL    *url.URL
	headers    map[string]string
	httpClient *http.Client
	breaker    *retry.CircuitBreaker
	log        *slog.Logger

	mu       sync.RWMutex
	recorder Recorder
	tokens   TokenSource
}

// NewClient creates a client for cfg.BaseURL. Relative request paths resolve against it.
func NewClient(cfg Config) (*Client, error) {
	var base *url.URL
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid api base url: %w", err)
		}
		base = u
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	breaker := retry.NewCircuitBreaker("api", cfg.Breaker)
	log := slog.Default().With("component", "rest")
	breaker.OnStateChange(func(name string, from, to retry.BreakerState) {
		log.Warn("Circuit breaker state changed", "breaker", name, "from", from, "to", to)
		metrics.BreakerState.WithLabelValues(name).Set(float64(to))
	})

	return &Client{
		baseURL: base,
		headers: cfg.Headers,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breaker: breaker,
		log:     log,
	}, nil
}

// SetRecorder routes latency and throughput samples to r.
func (c *Client) SetRecorder(r Recorder) {
	c.mu.Lock()
	c.recorder = r
	c.mu.Unlock()
}

// SetTokenSource adds an Authorization bearer header to every request.
func (c *Client) SetTokenSource(ts TokenSource) {
	c.mu.Lock()
	c.tokens = ts
	c.mu.Unlock()
}

// Breaker exposes the client's circuit breaker.
func (c *Client) Breaker() *retry.CircuitBreaker {
	return c.breaker
}

// Do sends one request. Non-2xx responses return *retry.StatusError; transport failures are
// returned wrapped so retry.IsTransient can classify them.
func (c *Client) Do(ctx context.Context, method, target string, body []byte, headers map[string]string) (*Response, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, method, target, body, headers)
	c.breaker.Record(err)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, target string, body []byte, headers map[string]string) (*Response, error) {
	u, err := c.resolve(target)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	if method == "" {
		method = http.MethodGet
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	c.mu.RLock()
	tokens, recorder := c.tokens, c.recorder
	c.mu.RUnlock()
	if tokens != nil && req.Header.Get("Authorization") == "" {
		token, err := tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.HTTPRequestsTotal.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	latency := time.Since(start)
	data, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	if err != nil {
		metrics.HTTPRequestsTotal.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("read response: %w", err)
	}

	metrics.HTTPRequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	metrics.HTTPLatency.WithLabelValues(method).Observe(latency.Seconds())
	if recorder != nil {
		recorder.RecordLatency(latency)
		recorder.RecordTransfer(int64(len(data)), elapsed)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &retry.StatusError{
			Code:       resp.StatusCode,
			Body:       truncate(string(data), maxErrorBody),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
		c.log.Debug("Request failed", "method", method, "url", u, "status", resp.StatusCode)
		return nil, statusErr
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// Replay implements queue.Replayer for HTTP-bound requests.
func (c *Client) Replay(ctx context.Context, req *domain.QueuedRequest) error {
	_, err := c.Do(ctx, req.Method, req.URL, req.Body, req.Headers)
	return err
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) resolve(target string) (string, error) {
	ref, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid request url %q: %w", target, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if c.baseURL == nil {
		return "", fmt.Errorf("relative url %q without api base url", target)
	}
	base := *c.baseURL
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base.ResolveReference(&url.URL{Path: strings.TrimPrefix(ref.Path, "/"), RawQuery: ref.RawQuery}).String(), nil
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
