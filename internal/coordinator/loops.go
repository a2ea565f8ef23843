package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// RunBackgroundLoops starts the stale-lease sweeper and rate snapshotter,
// per spec §4.4, plus an optional periodic re-scan (spec §9's invited
// extension, grounded on services/orchestrator/scheduler.go's cron.New
// usage) when RescanInterval is nonzero. Both mandatory loops must survive
// individual iteration failures without exiting, so every error is logged
// and swallowed rather than propagated.
func (c *Coordinator) RunBackgroundLoops(ctx context.Context) {
	go c.staleSweepLoop(ctx)
	go c.rateSnapshotLoop(ctx)
	if c.cfg.RescanInterval > 0 {
		go c.rescanLoop(ctx)
	}
}

func (c *Coordinator) staleSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recovered, err := c.store.RecoverStale(ctx, c.cfg.StaleMinutes)
			if err != nil {
				slog.Error("stale sweep failed", "error", err)
				continue
			}
			if recovered > 0 {
				slog.Info("stale sweep recovered tasks", "count", recovered)
			}
		}
	}
}

func (c *Coordinator) rateSnapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := c.store.GetStats(ctx)
			if err != nil {
				slog.Error("rate snapshot: get stats failed", "error", err)
				continue
			}
			if err := c.store.LogRate(ctx, int64(stats.Done)); err != nil {
				slog.Error("rate snapshot: log rate failed", "error", err)
			}
		}
	}
}

// rescanLoop periodically re-runs ScanAndSeed on a cron.New(cron.WithSeconds())
// schedule built from RescanInterval, the same scheduling primitive
// services/orchestrator/scheduler.go uses for its workflow schedules.
func (c *Coordinator) rescanLoop(ctx context.Context) {
	sched := cron.New(cron.WithSeconds())
	spec := "@every " + c.cfg.RescanInterval.String()
	_, err := sched.AddFunc(spec, func() {
		if _, err := c.ScanAndSeed(ctx); err != nil {
			slog.Error("periodic rescan failed", "error", err)
		}
	})
	if err != nil {
		slog.Error("periodic rescan: invalid schedule", "interval", c.cfg.RescanInterval, "error", err)
		return
	}
	sched.Start()
	defer sched.Stop()
	<-ctx.Done()
}
