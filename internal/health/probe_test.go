package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpulse/internal/events"
	"stockpulse/internal/models"
)

// hangingServer never answers until the client goes away or the test ends.
func hangingServer(t *testing.T) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	return srv
}

func TestProbe_UnauthorizedIsReachable(t *testing.T) {
	accept := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept <- r.Header.Get("Accept")
		assert.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"not authenticated"}`))
	}))
	defer srv.Close()

	recent := events.NewRecent(8)
	p := NewProbe(WithSink(recent))

	out := p.Check(context.Background(), srv.URL, time.Second)

	assert.True(t, out.Reachable)
	require.NotNil(t, out.HTTPStatus)
	assert.Equal(t, http.StatusUnauthorized, *out.HTTPStatus)
	assert.Equal(t, models.FailureNone, out.Failure)
	assert.Less(t, out.LatencyMs, 1000.0)
	assert.Equal(t, "application/json", <-accept)

	recorded := recent.Filter(events.ProbeCompleted)
	require.Len(t, recorded, 1)
	assert.Equal(t, srv.URL, recorded[0].Endpoint)
	assert.True(t, recorded[0].Probe.Reachable)
}

func TestProbe_StatusThreshold(t *testing.T) {
	for _, code := range []int{http.StatusOK, http.StatusForbidden, http.StatusNotFound, http.StatusFound, 499} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Location", "/elsewhere")
			w.WriteHeader(code)
		}))
		out := NewProbe().Check(context.Background(), srv.URL, time.Second)
		srv.Close()

		assert.True(t, out.Reachable, "status %d", code)
		require.NotNil(t, out.HTTPStatus)
		assert.Equal(t, code, *out.HTTPStatus)
	}

	for _, code := range []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(code)
		}))
		out := NewProbe().Check(context.Background(), srv.URL, time.Second)
		srv.Close()

		assert.False(t, out.Reachable, "status %d", code)
		require.NotNil(t, out.HTTPStatus)
		assert.Equal(t, code, *out.HTTPStatus)
		assert.Equal(t, models.FailureNone, out.Failure)
	}
}

func TestProbe_Timeout(t *testing.T) {
	srv := hangingServer(t)
	p := NewProbe()

	started := time.Now()
	out := p.Check(context.Background(), srv.URL, 200*time.Millisecond)
	elapsed := time.Since(started)

	assert.False(t, out.Reachable)
	assert.Nil(t, out.HTTPStatus)
	assert.Equal(t, models.FailureTimeout, out.Failure)
	assert.Equal(t, 200.0, out.LatencyMs)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 600*time.Millisecond)
}

func TestProbe_TimeoutOnMockClock(t *testing.T) {
	srv := hangingServer(t)
	mock := clock.NewMock()
	p := NewProbe(WithClock(mock))

	done := make(chan models.ProbeOutcome, 1)
	go func() {
		done <- p.Check(context.Background(), srv.URL, 200*time.Millisecond)
	}()

	// Wall time alone must not end the check.
	select {
	case out := <-done:
		t.Fatalf("check returned before the mock clock advanced: %+v", out)
	case <-time.After(300 * time.Millisecond):
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case out := <-done:
			assert.Equal(t, models.FailureTimeout, out.Failure)
			assert.Equal(t, 200.0, out.LatencyMs)
			assert.False(t, out.Reachable)
			return
		case <-deadline:
			t.Fatal("probe did not time out on the mock clock")
		case <-time.After(10 * time.Millisecond):
			mock.Add(50 * time.Millisecond)
		}
	}
}

func TestProbe_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	out := NewProbe().Check(context.Background(), "http://"+addr+"/api/", time.Second)

	assert.False(t, out.Reachable)
	assert.Nil(t, out.HTTPStatus)
	assert.Equal(t, models.FailureNetwork, out.Failure)
	assert.LessOrEqual(t, out.LatencyMs, 1000.0)
}

func TestProbe_InvalidEndpoint(t *testing.T) {
	out := NewProbe().Check(context.Background(), "://missing-scheme", time.Second)
	assert.Equal(t, models.FailureNetwork, out.Failure)
	assert.False(t, out.Reachable)
}

func TestProbe_ParentCancelled(t *testing.T) {
	srv := hangingServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	out := NewProbe().Check(ctx, srv.URL, 5*time.Second)

	assert.Equal(t, models.FailureNetwork, out.Failure)
	assert.False(t, out.Reachable)
	assert.Less(t, out.LatencyMs, 5000.0)
}
