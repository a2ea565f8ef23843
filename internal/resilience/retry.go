package resilience

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
)

// RetryFixed executes fn with a fixed interval between attempts (not
// exponential backoff) — the coordinator-dial and steady-state retry loops
// in spec.md §4.5 name exact sleep durations (5s, 10s), so the worker's
// retry shape must stay fixed-interval rather than growing as an
// exponential-backoff retry would.
func RetryFixed[T any](ctx context.Context, attempts int, interval time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	meter := otel.Meter("hive")
	attemptCounter, _ := meter.Int64Counter("hive_resilience_retry_attempts_total")
	failCounter, _ := meter.Int64Counter("hive_resilience_retry_fail_total")
	var lastErr error
	for i := 0; attempts <= 0 || i < attempts; i++ {
		v, err := fn()
		attemptCounter.Add(ctx, 1)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempts > 0 && i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			failCounter.Add(ctx, 1)
			return zero, ctx.Err()
		case <-time.After(interval):
		}
	}
	failCounter.Add(ctx, 1)
	return zero, lastErr
}
