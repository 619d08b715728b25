package engine

import (
	"context"
	"log"
	"time"
)

// Run fires a tick every TickInterval while the trading window is open and
// blocks until ctx is cancelled. Each tick runs on its own goroutine so a
// slow tick makes the next one skip instead of queueing.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	log.Printf("[engine] scheduler started, interval %s", e.cfg.TickInterval)
	wasOpen := false
	fire := func() {
		now := e.now()
		open := e.deps.Schedule.InWindow(now)
		e.deps.Metrics.SetMarketOpen(open)
		if e.deps.Health != nil {
			e.deps.Health.SetMarketOpen(open)
		}
		if open != wasOpen {
			log.Printf("[engine] trading window open=%v at %s", open, now.Format(time.DateTime))
			wasOpen = open
		}
		if !open {
			return
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.Tick(ctx, now)
		}()
	}

	fire()
	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			log.Println("[engine] scheduler stopped")
			return nil
		case <-ticker.C:
			fire()
		}
	}
}
