package engine

import (
	"context"
	"time"
)

// DefaultCleanupInterval is how often expired safety rows are swept.
const DefaultCleanupInterval = 5 * time.Minute

// RunCleanup periodically prunes expired rate-limit events, ban records,
// immunity grants, and cooldowns. Fully independent of the request path;
// a missed tick is harmless. Blocks until ctx is cancelled.
func (eng *Engine) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	eng.Logger.Info("starting cleanup sweeper", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			eng.Logger.Info("cleanup sweeper stopping")
			return
		case <-ticker.C:
			eng.CleanupOnce(ctx)
		}
	}
}

// CleanupOnce runs a single sweep.
func (eng *Engine) CleanupOnce(ctx context.Context) {
	if n, err := eng.RateLimiter.Cleanup(ctx); err != nil {
		eng.Logger.Error("rate limiter cleanup failed", "err", err)
	} else if n > 0 {
		rowsPruned.WithLabelValues("ratelimit").Add(float64(n))
		eng.Logger.Debug("pruned rate limiter rows", "count", n)
	}
	if n, err := eng.Escalator.Cleanup(ctx); err != nil {
		eng.Logger.Error("escalator cleanup failed", "err", err)
	} else if n > 0 {
		rowsPruned.WithLabelValues("escalator").Add(float64(n))
		eng.Logger.Debug("pruned escalator rows", "count", n)
	}
}
