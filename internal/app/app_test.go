package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"stockpulse/internal/config"
	"stockpulse/internal/events"
	"stockpulse/internal/loading"
	"stockpulse/internal/models"
	"stockpulse/internal/monitor"
	"stockpulse/internal/netstate"
	"stockpulse/internal/server"
)

func testConfig(t *testing.T, endpoint string) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Endpoint = endpoint
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Network.Source = config.SourceManual
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestModule_ProbesConfiguredEndpoint(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer upstream.Close()

	var (
		mon    *monitor.ConnectivityMonitor
		manual *netstate.Manual
		recent *events.Recent
	)
	app := fxtest.New(t,
		Module(testConfig(t, upstream.URL+"/api/")),
		fx.WithLogger(eventLogger),
		fx.Populate(&mon, &manual, &recent),
	)
	app.RequireStart()
	defer app.RequireStop()

	require.NotNil(t, manual)
	require.Eventually(t, func() bool {
		return mon.Snapshot().ServerReachable == models.Reachable
	}, 2*time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, recent.Filter(events.ProbeCompleted))

	manual.Set(false)
	state := mon.Snapshot()
	assert.False(t, state.IsOnline)
	assert.Equal(t, models.Unreachable, state.ServerReachable)
	assert.NotEmpty(t, recent.Filter(events.NetworkOffline))
}

func TestModule_ServesAPI(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	var (
		srv *server.Server
		reg *loading.Registry
	)
	app := fxtest.New(t,
		Module(testConfig(t, upstream.URL+"/api/")),
		fx.WithLogger(eventLogger),
		fx.Populate(&srv, &reg),
	)
	app.RequireStart()

	tracker, err := reg.Get("sync")
	require.NoError(t, err)
	tracker.Start("Syncing stock")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/loading", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var active map[string]map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&active))
	require.Contains(t, active, "sync")
	assert.Equal(t, "Syncing stock", active["sync"]["label"])

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stockpulse_loading_sessions_total")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Stop(ctx))
	assert.False(t, tracker.Snapshot().Active)
}

func TestModule_PollingSource(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/api/")
	cfg.Network.Source = config.SourcePoll

	var (
		source  netstate.Source
		polling *netstate.Polling
		manual  *netstate.Manual
	)
	app := fxtest.New(t,
		Module(cfg),
		fx.WithLogger(eventLogger),
		fx.Populate(&source, &polling, &manual),
	)
	app.RequireStart().RequireStop()

	assert.NotNil(t, polling)
	assert.Nil(t, manual)
	assert.Same(t, polling, source.(*netstate.Polling))
}
