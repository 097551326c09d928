// Package reaper disconnects channels whose heartbeat has gone stale.
//
// A client that vanishes without a clean transport close (network partition,
// crash, unresponsive tab) would otherwise pin its room membership and
// terminal subprocesses forever. The reaper sweeps on a fixed interval and
// routes every stale channel through the registry's single teardown path.
package reaper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/codehive/backend/internal/infrastructure/logging"
)

// Sweeper disconnects every channel idle since before the cutoff and returns
// the reaped channel IDs. The presence registry implements this.
type Sweeper interface {
	Sweep(cutoff time.Time) []string
}

// Reaper runs the periodic idle sweep.
type Reaper struct {
	sweeper  Sweeper
	interval time.Duration
	timeout  time.Duration
	log      *logging.Logger
}

// New creates a reaper sweeping every interval for channels idle longer than
// timeout.
func New(sweeper Sweeper, interval, timeout time.Duration, log *logging.Logger) *Reaper {
	return &Reaper{
		sweeper:  sweeper,
		interval: interval,
		timeout:  timeout,
		log:      log,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("idle reaper started",
		zap.Duration("interval", r.interval),
		zap.Duration("timeout", r.timeout),
	)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("idle reaper stopped")
			return
		case now := <-ticker.C:
			reaped := r.sweeper.Sweep(now.Add(-r.timeout))
			if len(reaped) > 0 {
				r.log.Info("reaped idle channels",
					zap.Int("count", len(reaped)),
					zap.Strings("channels", reaped),
				)
			}
		}
	}
}
