package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpulse/internal/events"
	"stockpulse/internal/loading"
	"stockpulse/internal/logging"
	"stockpulse/internal/metrics"
	"stockpulse/internal/models"
	"stockpulse/internal/monitor"
	"stockpulse/internal/netstate"
)

type stubProber struct {
	sink events.Sink
}

func (p stubProber) Check(_ context.Context, endpoint string, _ time.Duration) models.ProbeOutcome {
	status := http.StatusOK
	outcome := models.ProbeOutcome{Reachable: true, HTTPStatus: &status, LatencyMs: 42}
	p.sink.Record(events.Event{Kind: events.ProbeCompleted, At: time.Now(), Endpoint: endpoint, Probe: &outcome})
	return outcome
}

type fixture struct {
	server  *Server
	http    *httptest.Server
	monitor *monitor.ConnectivityMonitor
	manual  *netstate.Manual
	recent  *events.Recent
}

func newFixture(t *testing.T, withManual bool) *fixture {
	t.Helper()

	recent := events.NewRecent(64)
	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(reg)
	require.NoError(t, err)
	sink := events.Multi(recent, collector)

	manual := netstate.NewManual(true)
	mon := monitor.NewConnectivityMonitor(monitor.Options{
		Endpoint: "http://inventory.test/api/",
		Interval: time.Hour,
		Prober:   stubProber{sink: sink},
		Source:   manual,
		Sink:     sink,
		Logger:   logging.Discard(),
	})
	reg2 := loading.NewRegistry(loading.Options{
		Online: manual.Online,
		Watch:  manual.Subscribe,
		Sink:   sink,
		Logger: logging.Discard(),
	}, 2)

	deps := Deps{
		Monitor:  mon,
		Loading:  reg2,
		Recent:   recent,
		Gatherer: reg,
		Logger:   logging.Discard(),
	}
	if withManual {
		deps.Manual = manual
	}
	s := New("127.0.0.1:0", deps)
	ts := httptest.NewServer(s.Handler())

	mon.Start()
	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
		ts.Close()
		mon.Stop()
		reg2.Close()
	})

	f := &fixture{server: s, http: ts, monitor: mon, manual: manual, recent: recent}
	require.Eventually(t, func() bool {
		return f.monitor.Snapshot().ServerReachable == models.Reachable
	}, time.Second, 5*time.Millisecond)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp.StatusCode, payload
}

func TestConnectionEndpoint(t *testing.T) {
	f := newFixture(t, true)

	code, payload := f.do(t, http.MethodGet, "/api/connection", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", payload["status"])
	assert.Equal(t, "http://inventory.test/api/", payload["endpoint"])

	state, ok := payload["state"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, state["is_online"])
	assert.Equal(t, true, state["server_reachable"])
	assert.EqualValues(t, 42, state["latency_ms"])
	assert.NotNil(t, state["last_checked_at"])
}

func TestNetworkEndpoint(t *testing.T) {
	f := newFixture(t, true)

	code, payload := f.do(t, http.MethodPost, "/api/network", `{"online": false}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, payload["changed"])

	_, payload = f.do(t, http.MethodGet, "/api/connection", "")
	assert.Equal(t, "offline", payload["status"])

	code, _ = f.do(t, http.MethodPost, "/api/network", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/api/connection/check", "")
	assert.Equal(t, http.StatusAccepted, code)
}

func TestNetworkEndpoint_WithoutManualSource(t *testing.T) {
	f := newFixture(t, false)

	code, payload := f.do(t, http.MethodPost, "/api/network", `{"online": false}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, payload["error"], "manual")
}

func TestLoadingEndpoints(t *testing.T) {
	f := newFixture(t, true)

	code, _ := f.do(t, http.MethodPost, "/api/loading/restock/start", `{"label": "  "}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, payload := f.do(t, http.MethodPost, "/api/loading/restock/start", `{"label": "Loading products"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, payload["active"])
	assert.Equal(t, "plain", payload["indicator"])
	assert.Equal(t, "Loading products", payload["message"])

	code, payload = f.do(t, http.MethodGet, "/api/loading/restock", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Loading products", payload["label"])

	_, payload = f.do(t, http.MethodGet, "/api/loading", "")
	assert.Contains(t, payload, "restock")

	code, payload = f.do(t, http.MethodPost, "/api/loading/restock/stop", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, payload["active"])
	assert.Equal(t, "none", payload["indicator"])
	assert.Nil(t, payload["started_at"])

	_, payload = f.do(t, http.MethodGet, "/api/loading/unknown", "")
	assert.Equal(t, false, payload["active"])
}

func TestLoadingEndpoints_BoundedNames(t *testing.T) {
	f := newFixture(t, true)

	for _, name := range []string{"restock", "transfer"} {
		code, _ := f.do(t, http.MethodPost, "/api/loading/"+name+"/start", `{"label": "Loading"}`)
		require.Equal(t, http.StatusOK, code, name)
	}

	code, payload := f.do(t, http.MethodPost, "/api/loading/audit/start", `{"label": "Loading"}`)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Contains(t, payload["error"], "too many")

	code, _ = f.do(t, http.MethodPost, "/api/loading/restock/stop", "")
	require.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodPost, "/api/loading/audit/start", `{"label": "Loading"}`)
	assert.Equal(t, http.StatusOK, code)
}

func TestEventsAndSummary(t *testing.T) {
	f := newFixture(t, true)

	resp, err := http.Get(f.http.URL + "/api/events?limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	var history []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	assert.Len(t, history, 1)

	resp2, err := http.Get(f.http.URL + "/api/connection/summary")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var summary []map[string]any
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&summary))
	require.Len(t, summary, 1)
	assert.EqualValues(t, 100, summary[0]["uptime_percent"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, true)

	resp, err := http.Get(f.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	buf := new(strings.Builder)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "stockpulse_probes_total")
}

func TestConnectionStream(t *testing.T) {
	f := newFixture(t, true)

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/api/connection/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() map[string]any {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var payload map[string]any
		require.NoError(t, conn.ReadJSON(&payload))
		return payload
	}

	first := read()
	assert.Equal(t, "healthy", first["status"])
	assert.Equal(t, "http://inventory.test/api/", first["endpoint"])

	f.manual.Set(false)
	assert.Equal(t, "offline", read()["status"])
}

func TestShutdownClosesStreams(t *testing.T) {
	f := newFixture(t, true)

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/api/connection/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first map[string]any
	require.NoError(t, conn.ReadJSON(&first))

	require.NoError(t, f.server.Shutdown(context.Background()))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
