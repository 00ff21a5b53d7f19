// Package app assembles the connectivity service from its components and
// ties their start/stop order to an fx lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"stockpulse/internal/config"
	"stockpulse/internal/events"
	"stockpulse/internal/health"
	"stockpulse/internal/loading"
	"stockpulse/internal/logging"
	"stockpulse/internal/metrics"
	"stockpulse/internal/monitor"
	"stockpulse/internal/netstate"
	"stockpulse/internal/server"
)

// New builds the application. Callers run it with Run or Start/Stop.
func New(cfg config.Config, extra ...fx.Option) *fx.App {
	opts := []fx.Option{
		Module(cfg),
		fx.WithLogger(eventLogger),
	}
	opts = append(opts, extra...)
	return fx.New(opts...)
}

// Module provides every component and registers their lifecycle hooks.
func Module(cfg config.Config) fx.Option {
	return fx.Module("stockpulse",
		fx.Supply(cfg),
		fx.Provide(
			provideClock,
			provideRegistry,
			provideSinks,
			provideNetwork,
			provideProbe,
			provideMonitor,
			provideLoading,
			provideServer,
		),
		fx.Invoke(registerNetworkLifecycle),
		fx.Invoke(registerMonitorLifecycle),
		fx.Invoke(registerServerLifecycle),
	)
}

func provideClock() clock.Clock {
	return clock.New()
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

type sinksOut struct {
	fx.Out

	Sink      events.Sink
	Recent    *events.Recent
	Collector *metrics.Collector
}

func provideSinks(cfg config.Config, reg *prometheus.Registry) (sinksOut, error) {
	collector, err := metrics.NewCollector(reg)
	if err != nil {
		return sinksOut{}, fmt.Errorf("register metrics: %w", err)
	}
	recent := events.NewRecent(cfg.Events.Buffer)
	logSink := events.NewLogSink(logging.Logger("events"))
	return sinksOut{
		Sink:      events.Multi(recent, collector, logSink),
		Recent:    recent,
		Collector: collector,
	}, nil
}

type networkOut struct {
	fx.Out

	Source  netstate.Source
	Manual  *netstate.Manual
	Polling *netstate.Polling
}

// provideNetwork picks the OS signal source. Exactly one of Manual and
// Polling is non-nil.
func provideNetwork(cfg config.Config, clk clock.Clock) networkOut {
	var out networkOut
	switch cfg.Network.Source {
	case config.SourceManual:
		out.Manual = netstate.NewManual(true)
		out.Source = out.Manual
	default:
		out.Polling = netstate.NewPolling(netstate.PollingOptions{
			Interval: cfg.PollInterval(),
			Clock:    clk,
		})
		out.Source = out.Polling
	}
	return out
}

func provideProbe(clk clock.Clock, sink events.Sink) health.Prober {
	return health.NewProbe(health.WithClock(clk), health.WithSink(sink))
}

func provideMonitor(cfg config.Config, prober health.Prober, source netstate.Source, clk clock.Clock, sink events.Sink) *monitor.ConnectivityMonitor {
	return monitor.NewConnectivityMonitor(monitor.Options{
		Endpoint: cfg.Endpoint,
		Timeout:  cfg.Timeout(),
		Interval: cfg.Interval(),
		Prober:   prober,
		Source:   source,
		Clock:    clk,
		Sink:     sink,
	})
}

func provideLoading(lc fx.Lifecycle, cfg config.Config, source netstate.Source, clk clock.Clock, sink events.Sink) *loading.Registry {
	reg := loading.NewRegistry(loading.Options{
		Clock:  clk,
		Online: source.Online,
		Watch:  source.Subscribe,
		Sink:   sink,
	}, cfg.Loading.MaxSessions)
	lc.Append(fx.StopHook(reg.Close))
	return reg
}

func provideServer(cfg config.Config, mon *monitor.ConnectivityMonitor, reg *loading.Registry, recent *events.Recent, manual *netstate.Manual, gatherer *prometheus.Registry) *server.Server {
	return server.New(cfg.ListenAddr, server.Deps{
		Monitor:  mon,
		Loading:  reg,
		Recent:   recent,
		Manual:   manual,
		Gatherer: gatherer,
	})
}

func registerNetworkLifecycle(lc fx.Lifecycle, polling *netstate.Polling) {
	if polling == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// The hook ctx ends with startup; polling must outlive it.
			return polling.Start(context.WithoutCancel(ctx))
		},
		OnStop: func(_ context.Context) error {
			return polling.Stop()
		},
	})
}

func registerMonitorLifecycle(lc fx.Lifecycle, mon *monitor.ConnectivityMonitor) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			mon.Start()
			return nil
		},
		OnStop: func(_ context.Context) error {
			mon.Stop()
			return nil
		},
	})
}

func registerServerLifecycle(lc fx.Lifecycle, srv *server.Server, shutdowner fx.Shutdowner) {
	log := logging.Logger("app")
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var lcfg net.ListenConfig
			ln, err := lcfg.Listen(ctx, "tcp", srv.Addr())
			if err != nil {
				return fmt.Errorf("listen on %s: %w", srv.Addr(), err)
			}
			log.Info("api listening", "addr", ln.Addr().String())
			go serve(srv, ln, shutdowner, log)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func serve(srv *server.Server, ln net.Listener, shutdowner fx.Shutdowner, log *slog.Logger) {
	err := srv.Serve(ln)
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return
	}
	log.Error("api server stopped", "error", err)
	if serr := shutdowner.Shutdown(fx.ExitCode(1)); serr != nil {
		log.Error("request shutdown", "error", multierr.Append(err, serr))
	}
}

// eventLogger routes fx's own events to zap. They are only interesting when
// debugging the wiring.
func eventLogger() fxevent.Logger {
	if logging.Level() > slog.LevelDebug {
		return &fxevent.ZapLogger{Logger: zap.NewNop()}
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return &fxevent.ZapLogger{Logger: zap.NewNop()}
	}
	return &fxevent.ZapLogger{Logger: l.Named("fx")}
}
