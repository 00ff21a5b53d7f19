package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Network source kinds.
const (
	SourcePoll   = "poll"
	SourceManual = "manual"
)

// Config represents configuration data for the connectivity service.
type Config struct {
	Endpoint   string  `yaml:"endpoint"`
	TimeoutMs  int     `yaml:"timeout_ms"`
	IntervalMs int     `yaml:"interval_ms"`
	ListenAddr string  `yaml:"listen_addr"`
	Network    Network `yaml:"network"`
	Events     Events  `yaml:"events"`
	Loading    Loading `yaml:"loading"`
	Log        Log     `yaml:"log"`
}

// Network selects where OS online/offline transitions come from.
type Network struct {
	Source         string `yaml:"source"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
}

// Events sizes the in-memory debug buffer.
type Events struct {
	Buffer int `yaml:"buffer"`
}

// Loading bounds the named loading sessions the API keeps.
type Loading struct {
	MaxSessions int `yaml:"max_sessions"`
}

// Log controls the structured logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns sensible defaults in case no configuration file is provided.
func DefaultConfig() Config {
	return Config{
		Endpoint:   "http://localhost:8000/api/",
		TimeoutMs:  5000,
		IntervalMs: 30000,
		ListenAddr: "127.0.0.1:7311",
		Network: Network{
			Source:         SourcePoll,
			PollIntervalMs: 2000,
		},
		Events:  Events{Buffer: 256},
		Loading: Loading{MaxSessions: 64},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from yaml file. Missing files fall back to defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(content)
}

// Parse decodes YAML content on top of the defaults and validates it.
func Parse(content []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	defaults := DefaultConfig()
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaults.Endpoint
	}
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = defaults.TimeoutMs
	}
	if cfg.IntervalMs <= 0 {
		cfg.IntervalMs = defaults.IntervalMs
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaults.ListenAddr
	}
	cfg.Network.Source = strings.ToLower(strings.TrimSpace(cfg.Network.Source))
	if cfg.Network.Source == "" {
		cfg.Network.Source = defaults.Network.Source
	}
	if cfg.Network.PollIntervalMs <= 0 {
		cfg.Network.PollIntervalMs = defaults.Network.PollIntervalMs
	}
	if cfg.Events.Buffer <= 0 {
		cfg.Events.Buffer = defaults.Events.Buffer
	}
	if cfg.Loading.MaxSessions <= 0 {
		cfg.Loading.MaxSessions = defaults.Loading.MaxSessions
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that have no sensible default.
func (c Config) Validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint %q must use http or https", c.Endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint %q is missing a host", c.Endpoint)
	}
	switch c.Network.Source {
	case SourcePoll, SourceManual:
	default:
		return fmt.Errorf("network.source %q must be %q or %q", c.Network.Source, SourcePoll, SourceManual)
	}
	if c.TimeoutMs > c.IntervalMs {
		return fmt.Errorf("timeout_ms (%d) must not exceed interval_ms (%d)", c.TimeoutMs, c.IntervalMs)
	}
	return nil
}

// Timeout is the probe deadline.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Interval is the pause between scheduled probes.
func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// PollInterval is how often the polling source re-reads interfaces.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Network.PollIntervalMs) * time.Millisecond
}
