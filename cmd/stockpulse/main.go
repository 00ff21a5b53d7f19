package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockpulse/internal/app"
	"stockpulse/internal/config"
	"stockpulse/internal/logging"
)

func main() {
	var (
		configPath = flag.String("config", "stockpulse.yaml", "path to configuration file (YAML)")
		addr       = flag.String("addr", "", "address for the local API (overrides listen_addr)")
		endpoint   = flag.String("endpoint", "", "inventory API base URL (overrides endpoint)")
	)
	flag.Parse()

	if err := run(*configPath, *addr, *endpoint); err != nil {
		fmt.Fprintf(os.Stderr, "stockpulse: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addr, endpoint string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if addr != "" {
		cfg.ListenAddr = addr
	}
	if endpoint != "" {
		cfg.Endpoint = endpoint
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("endpoint flag: %w", err)
		}
	}
	if err := logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	log := logging.Logger("main")

	application := app.New(cfg)
	if err := application.Err(); err != nil {
		return fmt.Errorf("assemble app: %w", err)
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStart()
	if err := application.Start(startCtx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	log.Info("stockpulse running",
		"endpoint", cfg.Endpoint,
		"network_source", cfg.Network.Source,
		"interval", cfg.Interval())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exitCode := 0
	select {
	case <-ctx.Done():
	case sig := <-application.Wait():
		exitCode = sig.ExitCode
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelStop()
	if err := application.Stop(stopCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("exited with code %d", exitCode)
	}
	return nil
}
