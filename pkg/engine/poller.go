package engine

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPollInterval is how often the poller probes the module.
const DefaultPollInterval = 100 * time.Millisecond

// Poller waits for a module to expose its widget entry point. It only
// observes; it never touches the widget.
type Poller struct {
	interval time.Duration
	logger   *slog.Logger
}

// NewPoller creates a poller. A zero interval uses DefaultPollInterval.
func NewPoller(interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{interval: interval, logger: logger.With("component", "engine.poller")}
}

// Interval returns the probe interval.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// WaitReady returns true as soon as h is ready, false once timeout elapses
// or ctx is done.
func (p *Poller) WaitReady(ctx context.Context, h *Handle, timeout time.Duration) bool {
	if h == nil {
		return false
	}
	if h.Ready() {
		return true
	}

	start := time.Now()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	probes := 1
	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			// One last look so a module that became ready on the boundary
			// is not reported as timed out.
			if h.Ready() {
				return true
			}
			p.logger.Warn("engine readiness timeout",
				"timeout_ms", timeout.Milliseconds(),
				"probes", probes+1,
			)
			return false
		case <-ticker.C:
			probes++
			if h.Ready() {
				p.logger.Debug("engine ready",
					"probes", probes,
					"waited_ms", time.Since(start).Milliseconds(),
				)
				return true
			}
		}
	}
}
