package netstate

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"stockpulse/internal/logging"
)

// DefaultPollInterval is how often interfaces are re-read.
const DefaultPollInterval = 2 * time.Second

// PresenceFunc reports whether the host currently has a usable network.
type PresenceFunc func() (bool, error)

// PollingOptions configures a Polling source.
type PollingOptions struct {
	Interval time.Duration
	Clock    clock.Clock
	Presence PresenceFunc
	Logger   *slog.Logger
}

// Polling derives online/offline transitions by periodically inspecting the
// host's network interfaces.
type Polling struct {
	*hub

	interval time.Duration
	clock    clock.Clock
	presence PresenceFunc
	logger   *slog.Logger

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ Source = (*Polling)(nil)

// NewPolling creates a polling source. It reads presence once so Online is
// meaningful before Start.
func NewPolling(opts PollingOptions) *Polling {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Presence == nil {
		opts.Presence = InterfacePresence
	}
	if opts.Logger == nil {
		opts.Logger = logging.Logger("netstate")
	}

	p := &Polling{
		interval: opts.Interval,
		clock:    opts.Clock,
		presence: opts.Presence,
		logger:   opts.Logger,
	}
	online, err := p.presence()
	if err != nil {
		p.logger.Warn("read network presence", "error", err)
	}
	p.hub = newHub(online)
	return p
}

// Start begins polling. Calling it twice is a no-op.
func (p *Polling) Start(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	ticker := p.clock.Ticker(p.interval)
	p.wg.Add(1)
	go p.loop(ctx, ticker)

	p.logger.Info("network watcher started", "interval", p.interval, "online", p.Online())
	return nil
}

// Stop halts polling and waits for the loop to exit.
func (p *Polling) Stop() error {
	if !p.running.CompareAndSwap(true, false) {
		return nil
	}
	p.cancel()
	p.wg.Wait()
	p.logger.Info("network watcher stopped")
	return nil
}

// Poll re-reads presence immediately and dispatches a transition if needed.
func (p *Polling) Poll() {
	online, err := p.presence()
	if err != nil {
		// An unreadable interface table says nothing about connectivity.
		p.logger.Debug("read network presence", "error", err)
		return
	}
	if p.set(online) {
		p.logger.Info("network presence changed", "online", online)
	}
}

func (p *Polling) loop(ctx context.Context, ticker *clock.Ticker) {
	defer p.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll()
		}
	}
}

// InterfacePresence reports true when at least one non-loopback interface is
// up and carries a routable unicast address.
func InterfacePresence() (bool, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP
			if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
				continue
			}
			if ip.IsGlobalUnicast() {
				return true, nil
			}
		}
	}
	return false, nil
}
