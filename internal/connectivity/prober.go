package connectivity

import (
	"context"
	"log/slog"
	"time"

	"github.com/cwrk-planet/room-client/pkg/logger"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Prober struct {
	mon      *Monitor
	ping     Pinger
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger
}

func NewProber(mon *Monitor, ping Pinger, interval, timeout time.Duration) *Prober {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	return &Prober{
		mon:      mon,
		ping:     ping,
		interval: interval,
		timeout:  timeout,
		log:      logger.With("connectivity"),
	}
}

// Probe runs one check and updates the monitor.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.ping.Ping(ctx)
	online := err == nil
	if p.mon.Set(online) {
		if online {
			p.log.Info("connectivity_restored")
		} else {
			p.log.Warn("connectivity_lost", "err", err)
		}
	}
	return online
}

// Run probes on every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	p.Probe(ctx)

	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.Probe(ctx)
		}
	}
}
