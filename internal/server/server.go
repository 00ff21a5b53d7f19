package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"stockpulse/internal/events"
	"stockpulse/internal/health"
	"stockpulse/internal/loading"
	"stockpulse/internal/logging"
	"stockpulse/internal/metrics"
	"stockpulse/internal/models"
	"stockpulse/internal/monitor"
	"stockpulse/internal/netstate"
)

const defaultHistoryLimit = 200

// Deps are the collaborators the API exposes. Manual and Gatherer are optional.
type Deps struct {
	Monitor  *monitor.ConnectivityMonitor
	Loading  *loading.Registry
	Recent   *events.Recent
	Manual   *netstate.Manual
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server wraps HTTP serving of the local UI API.
type Server struct {
	httpServer   *http.Server
	monitor      *monitor.ConnectivityMonitor
	loading      *loading.Registry
	recent       *events.Recent
	manual       *netstate.Manual
	logger       *slog.Logger
	historyLimit int

	mu      sync.Mutex
	conns   map[*websocket.Conn]struct{}
	closing chan struct{}
	closed  bool
}

// ConnectionPayload is what UI consumers receive for connectivity.
type ConnectionPayload struct {
	Endpoint string                 `json:"endpoint"`
	State    models.ConnectionState `json:"state"`
	Status   health.Status          `json:"status"`
}

func (s *Server) connectionPayload(state models.ConnectionState) ConnectionPayload {
	return ConnectionPayload{
		Endpoint: s.monitor.Endpoint(),
		State:    state,
		Status:   health.ClassifyState(state),
	}
}

// New creates a configured HTTP server.
func New(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.Logger("server")
	}
	mux := http.NewServeMux()
	s := &Server{
		httpServer:   &http.Server{Addr: addr, Handler: mux},
		monitor:      deps.Monitor,
		loading:      deps.Loading,
		recent:       deps.Recent,
		manual:       deps.Manual,
		logger:       deps.Logger,
		historyLimit: defaultHistoryLimit,
		conns:        make(map[*websocket.Conn]struct{}),
		closing:      make(chan struct{}),
	}
	s.registerRoutes(mux, deps.Gatherer)
	return s
}

// Handler exposes the routing table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Serve blocks and serves HTTP traffic on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Shutdown gracefully shuts the server down and closes open websockets.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.closing)
	}
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	err := s.httpServer.Shutdown(ctx)
	for _, c := range conns {
		if cerr := c.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	return err
}

func (s *Server) registerRoutes(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	mux.HandleFunc("GET /api/connection", s.handleConnection)
	mux.HandleFunc("GET /api/connection/ws", s.handleConnectionWS)
	mux.HandleFunc("POST /api/connection/check", s.handleCheck)
	mux.HandleFunc("GET /api/connection/summary", s.handleSummary)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("POST /api/network", s.handleNetwork)
	mux.HandleFunc("GET /api/loading", s.handleLoadingList)
	mux.HandleFunc("GET /api/loading/{name}", s.handleLoadingGet)
	mux.HandleFunc("POST /api/loading/{name}/start", s.handleLoadingStart)
	mux.HandleFunc("POST /api/loading/{name}/stop", s.handleLoadingStop)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) handleConnection(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.connectionPayload(s.monitor.Snapshot()))
}

func (s *Server) handleCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]any{
		"issued": s.monitor.CheckNow(),
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	summary := metrics.ComputeProbeSummary(s.recent.History())
	if summary == nil {
		summary = []metrics.ProbeSummary{}
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, s.historyLimit)
	history := s.recent.HistoryN(limit)
	if history == nil {
		history = []events.Event{}
	}
	writeJSON(w, http.StatusOK, history)
}

type networkRequest struct {
	Online *bool `json:"online"`
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	if s.manual == nil {
		writeError(w, http.StatusConflict, "network state is watched locally; set network.source to manual to push transitions")
		return
	}
	var req networkRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Online == nil {
		writeError(w, http.StatusBadRequest, `body must be {"online": true|false}`)
		return
	}
	changed := s.manual.Set(*req.Online)
	writeJSON(w, http.StatusOK, map[string]any{
		"online":  *req.Online,
		"changed": changed,
	})
}

type loadingStartRequest struct {
	Label string `json:"label"`
}

func (s *Server) handleLoadingList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.loading.Active())
}

func (s *Server) handleLoadingGet(w http.ResponseWriter, r *http.Request) {
	tracker, ok := s.loading.Lookup(r.PathValue("name"))
	if !ok {
		writeJSON(w, http.StatusOK, models.LoadingSnapshot{})
		return
	}
	writeJSON(w, http.StatusOK, tracker.Snapshot())
}

func (s *Server) handleLoadingStart(w http.ResponseWriter, r *http.Request) {
	var req loadingStartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	label := strings.TrimSpace(req.Label)
	if label == "" {
		writeError(w, http.StatusBadRequest, "label is required")
		return
	}
	tracker, err := s.loading.Get(r.PathValue("name"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, loading.ErrRegistryFull) {
			status = http.StatusTooManyRequests
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tracker.Start(label))
}

func (s *Server) handleLoadingStop(w http.ResponseWriter, r *http.Request) {
	tracker, ok := s.loading.Lookup(r.PathValue("name"))
	if !ok {
		writeJSON(w, http.StatusOK, models.LoadingSnapshot{})
		return
	}
	writeJSON(w, http.StatusOK, tracker.Stop())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	return dec.Decode(dest)
}

func parseLimit(r *http.Request, fallback int) int {
	if fallback <= 0 {
		return fallback
	}
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > fallback {
		return fallback
	}
	return value
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
