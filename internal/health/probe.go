// Package health decides whether the inventory API is alive and how well it
// is doing. Probe performs one bounded-time HTTP check; Classify turns the
// collected signals into a Status.
package health

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"

	"stockpulse/internal/events"
	"stockpulse/internal/models"
)

// DefaultTimeout bounds a probe when the caller passes no timeout.
const DefaultTimeout = 5 * time.Second

var errProbeTimeout = errors.New("probe timed out")

// maxDrain caps how much of a response body is read before closing it.
const maxDrain = 64 << 10

// Prober is the capability the monitor depends on.
type Prober interface {
	Check(ctx context.Context, endpoint string, timeout time.Duration) models.ProbeOutcome
}

// Probe issues liveness checks against an HTTP endpoint.
type Probe struct {
	client *http.Client
	clock  clock.Clock
	sink   events.Sink
}

var _ Prober = (*Probe)(nil)

// ProbeOption customises a Probe.
type ProbeOption func(*Probe)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) ProbeOption {
	return func(p *Probe) {
		if c != nil {
			p.client = c
		}
	}
}

// WithClock injects the clock used for deadlines and latency.
func WithClock(c clock.Clock) ProbeOption {
	return func(p *Probe) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithSink sets where probe outcomes are recorded.
func WithSink(s events.Sink) ProbeOption {
	return func(p *Probe) {
		if s != nil {
			p.sink = s
		}
	}
}

// NewProbe builds a probe with a dedicated transport.
func NewProbe(opts ...ProbeOption) *Probe {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   DefaultTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   DefaultTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	p := &Probe{
		client: &http.Client{
			Transport: transport,
			// A redirect already proves the process is up.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		clock: clock.New(),
		sink:  events.Nop,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Check performs one GET against endpoint bounded by timeout. Failures are
// folded into the returned outcome; it never panics or returns an error.
func (p *Probe) Check(ctx context.Context, endpoint string, timeout time.Duration) models.ProbeOutcome {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	// The transport compares deadlines against wall time, so the probe's
	// own deadline is a cancellation armed on the injected clock instead.
	started := p.clock.Now()
	checkCtx, cancel := context.WithCancelCause(ctx)
	timer := p.clock.AfterFunc(timeout, func() { cancel(errProbeTimeout) })
	defer func() {
		timer.Stop()
		cancel(context.Canceled)
	}()

	outcome := p.do(checkCtx, endpoint, started, timeout)
	p.sink.Record(events.Event{
		Kind:     events.ProbeCompleted,
		At:       p.clock.Now(),
		Endpoint: endpoint,
		Probe:    &outcome,
	})
	return outcome
}

func (p *Probe) do(ctx context.Context, endpoint string, started time.Time, timeout time.Duration) models.ProbeOutcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.ProbeOutcome{LatencyMs: p.elapsedMs(started, timeout), Failure: models.FailureNetwork}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(context.Cause(ctx), errProbeTimeout) {
			return models.ProbeOutcome{LatencyMs: durationMs(timeout), Failure: models.FailureTimeout}
		}
		return models.ProbeOutcome{LatencyMs: p.elapsedMs(started, timeout), Failure: models.FailureNetwork}
	}
	latency := p.elapsedMs(started, timeout)
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
	_ = resp.Body.Close()

	status := resp.StatusCode
	return models.ProbeOutcome{
		Reachable:  status < http.StatusInternalServerError,
		HTTPStatus: &status,
		LatencyMs:  latency,
		Failure:    models.FailureNone,
	}
}

func (p *Probe) elapsedMs(started time.Time, limit time.Duration) float64 {
	elapsed := p.clock.Since(started)
	if elapsed > limit {
		elapsed = limit
	}
	if elapsed < 0 {
		elapsed = 0
	}
	return durationMs(elapsed)
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
