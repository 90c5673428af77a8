package connectivity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Probe checks reachability and returns the observed round trip.
type Probe interface {
	Probe(ctx context.Context) (time.Duration, error)
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) (time.Duration, error)

func (f ProbeFunc) Probe(ctx context.Context) (time.Duration, error) {
	return f(ctx)
}

// HTTPProbe issues a HEAD request. Any HTTP response counts as reachable.
type HTTPProbe struct {
	URL    string
	Client *http.Client
}

func NewHTTPProbe(url string, timeout time.Duration) *HTTPProbe {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProbe{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProbe) Probe(ctx context.Context) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create probe request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := p.Client.Do(req)
	if err != nil {
		return 0, err
	}
	rtt := time.Since(start)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return rtt, nil
}
