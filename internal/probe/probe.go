// File: internal/probe/probe.go
// Brief: Single bounded-timeout health check against one endpoint.

// Package probe implements the health prober: one bounded HTTP check per
// call, stateless and safe for concurrent use across endpoints.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// EndpointKind labels which surface a probe targets.
type EndpointKind string

const (
	API      EndpointKind = "api"
	Frontend EndpointKind = "frontend"
)

// Failure detail kinds. Scoring only looks at Success; the detail is kept
// for reporting.
const (
	DetailTimeout    = "timeout"
	DetailConnection = "connection"
	DetailStatus     = "status"
)

// Result is one immutable probe outcome.
type Result struct {
	Endpoint   EndpointKind
	URL        string
	Timestamp  time.Time
	Success    bool
	StatusCode int
	Latency    time.Duration
	Detail     string
}

// Prober issues a single bounded health check.
type Prober interface {
	Probe(ctx context.Context, kind EndpointKind, url string, timeout time.Duration) Result
}

// HTTPProber probes endpoints with plain GET requests.
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber returns a prober backed by a shared HTTP client. Per-call
// deadlines come from the context, not the client.
func NewHTTPProber() *HTTPProber {
	return &HTTPProber{client: &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:    4,
			IdleConnTimeout: 30 * time.Second,
		},
	}}
}

// Probe issues one GET with the given timeout. A transport error and a
// non-2xx status both yield Success=false; the cause is preserved in Detail.
func (p *HTTPProber) Probe(ctx context.Context, kind EndpointKind, url string, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	res := Result{Endpoint: kind, URL: url, Timestamp: time.Now()}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		res.Detail = fmt.Sprintf("%s: %v", DetailConnection, err)
		return res
	}
	resp, err := p.client.Do(req)
	res.Latency = time.Since(start)
	if err != nil {
		res.Detail = classifyProbeError(err)
		return res
	}
	defer resp.Body.Close()
	res.StatusCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		res.Success = true
		return res
	}
	res.Detail = fmt.Sprintf("%s: HTTP %d", DetailStatus, resp.StatusCode)
	return res
}

func classifyProbeError(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%s: %v", DetailTimeout, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Sprintf("%s: %v", DetailTimeout, err)
	default:
		return fmt.Sprintf("%s: %v", DetailConnection, err)
	}
}
