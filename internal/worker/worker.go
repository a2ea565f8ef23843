// Package worker implements the register/lease/extract/report loop from
// spec §4.5, fanning extraction out across up to cfg.CPUs parallel units
// the way services/orchestrator/dag_engine.go fans task execution out
// across a worker pool.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/swarmguard/hive/internal/extract"
	"github.com/swarmguard/hive/internal/resilience"
)

// Worker runs the steady-state pull/extract/report loop against one
// coordinator.
type Worker struct {
	cfg       Config
	client    *coordinatorClient
	extractor extract.Extractor
	telemetry func() TelemetrySnapshot
}

// New builds a Worker. telemetry supplies the optional system-stats bag
// pushed to /workers/stats; the probe itself (CPU/RAM/GPU collection) is
// out of scope per spec §1, so callers at the cmd/worker layer decide what
// it returns (or pass a func returning a zero-value snapshot).
func New(cfg Config, extractor extract.Extractor, telemetry func() TelemetrySnapshot) *Worker {
	if cfg.CPUs <= 0 {
		cfg.CPUs = 1
	}
	if telemetry == nil {
		telemetry = func() TelemetrySnapshot { return TelemetrySnapshot{} }
	}
	return &Worker{
		cfg:       cfg,
		client:    newCoordinatorClient(cfg.Coordinator),
		extractor: extractor,
		telemetry: telemetry,
	}
}

// Run blocks until ctx is cancelled (SIGINT/SIGTERM per spec §4.5 step 1).
// The in-flight batch is always allowed to finish — shutdown is only
// observed between batches and between per-batch result collections.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.registerWithRetry(ctx); err != nil {
		return err
	}

	emptyStreak := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		tasks, err := w.client.pull(ctx, w.cfg.Name, w.cfg.BatchSize)
		if err != nil {
			slog.Warn("pull failed, will retry", "error", err)
			if !sleepOrDone(ctx, connectionErrorSleep) {
				return nil
			}
			continue
		}

		if len(tasks) == 0 {
			emptyStreak++
			if emptyStreak == 1 {
				slog.Info("no pending tasks")
			}
			if !sleepOrDone(ctx, idlePollSleep) {
				return nil
			}
			continue
		}
		emptyStreak = 0

		batchCtx := context.WithoutCancel(ctx)
		results := w.processBatch(batchCtx, tasks)

		reported := make([]reportedResult, len(results))
		for i, r := range results {
			r.Worker = w.cfg.Name
			reported[i] = r
		}
		if err := w.client.report(batchCtx, reported); err != nil {
			slog.Warn("report failed; coordinator stale sweep will reclaim", "error", err)
		}
		if err := w.client.pushStats(batchCtx, w.cfg.Name, w.telemetry()); err != nil {
			slog.Warn("push stats failed", "error", err)
		}
	}
}

// registerWithRetry retries registration with a fixed 5s backoff until
// success or context cancellation, per spec §4.5 step 2.
func (w *Worker) registerWithRetry(ctx context.Context) error {
	_, err := resilience.RetryFixed(ctx, 0, registerRetryInterval, func() (struct{}, error) {
		err := w.client.register(ctx, w.cfg.Name, w.cfg.CPUs)
		if err != nil {
			slog.Warn("register failed, retrying", "error", err)
		}
		return struct{}{}, err
	})
	return err
}

// processBatch fans out across up to cfg.CPUs parallel units, each bound
// by the 90s per-task wall clock from spec §4.5 step 3.
func (w *Worker) processBatch(ctx context.Context, tasks []pulledTask) []reportedResult {
	results := make([]reportedResult, len(tasks))
	sem := make(chan struct{}, w.cfg.CPUs)
	var wg sync.WaitGroup

	for i, task := range tasks {
		i, task := i, task
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = w.processWithDeadline(ctx, task)
		}()
	}
	wg.Wait()
	return results
}

func (w *Worker) processWithDeadline(ctx context.Context, task pulledTask) reportedResult {
	unitCtx, cancel := context.WithTimeout(ctx, extractionUnitTimeout)
	defer cancel()

	done := make(chan reportedResult, 1)
	go func() {
		done <- w.processTask(unitCtx, task)
	}()

	select {
	case result := <-done:
		return result
	case <-unitCtx.Done():
		return failureResult(task.TaskID, w.cfg.Name, "extraction unit exceeded 90s deadline")
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
