package core

import (
	"context"
	"time"

	"github.com/autodev/remote-drive/internal/config"
)

// startLivenessTicker launches the goroutine that drives the Liveness
// Monitor (spec.md §4.5): every cfg.Heartbeat.Interval it posts a tickEvent
// for the Dispatcher worker to act on. It stops when ctx is cancelled.
//
// util.Stats already covers the ambient traffic-reporting concern with its
// own periodic reporter and atomic counters, so this loop's only job is to
// wake the Dispatcher on a fixed cadence.
func startLivenessTicker(ctx context.Context, cfg config.Heartbeat, post func(dispatchEvent)) {
	if cfg.Interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				post(tickEvent{})
			case <-ctx.Done():
				return
			}
		}
	}()
}

// heartbeatDeadlineTicks is the number of missed ticks after which a peer
// is declared lost (spec.md §4.5: loss_multiplier consecutive intervals
// with no observed traffic).
func heartbeatDeadlineTicks(cfg config.Heartbeat) uint64 {
	if cfg.LossMultiplier == 0 {
		return 1
	}
	return uint64(cfg.LossMultiplier)
}
