package engine

import (
	"context"
	"time"
)

// Run drives Tick on cfg.TickInterval until ctx is canceled. Candle
// closes arrive asynchronously via OnCandleClose (the FeedManager's
// WebSocket goroutine calls it directly); Run only owns the
// open-trade-advancement and daily-reset cadence of spec.md §4.9 steps
// 3-4.
func (e *Engine) Run(ctx context.Context) {
	interval := e.cfg.TickInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("engine run loop stopping")
			return
		case <-ticker.C:
			e.Tick()
		}
	}
}
