// Package coordinator implements the HTTP surface, scan/seed, and
// background loops described in spec §4.2-§4.4: task-dispatch state lives
// entirely in queuestore.Store, this package is the stateless front door
// onto it. The server-loop and graceful-shutdown shape follows
// services/orchestrator/main.go; handlers follow the same
// http.ServeMux-plus-slog pattern.
package coordinator

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/swarmguard/hive/internal/queuestore"
	"github.com/swarmguard/hive/internal/resilience"
	"github.com/swarmguard/hive/internal/storage"
	"go.opentelemetry.io/otel/metric"
)

// Config holds the coordinator's startup flags (spec §6's `coordinator`
// subcommand).
type Config struct {
	Port           int
	PDFSource      string
	TextDest       string
	StaleMinutes   int
	RescanInterval time.Duration // 0 disables periodic re-scan (spec §9's invited, not-specified, extension)
}

// Coordinator wires the queue store, source/dest storage, and rate limiter
// behind an http.Handler.
type Coordinator struct {
	cfg       Config
	store     *queuestore.Store
	source    storage.Storage
	sourceLoc storage.Location
	dest      storage.Storage
	destLoc   storage.Location
	limiter   *resilience.PerKeyRateLimiter
	startedAt time.Time

	httpRequests metric.Int64Counter
	rateLimited  metric.Int64Counter
}

// New builds a Coordinator. Callers must call ScanAndSeed before serving,
// per spec §4.3 ("This runs synchronously; the HTTP surface does not open
// until seeding completes").
func New(cfg Config, store *queuestore.Store, meter metric.Meter) (*Coordinator, error) {
	sourceLoc, err := storage.ParseLocation(cfg.PDFSource)
	if err != nil {
		return nil, err
	}
	destLoc, err := storage.ParseLocation(cfg.TextDest)
	if err != nil {
		return nil, err
	}

	httpRequests, _ := meter.Int64Counter("hive_http_requests_total")
	rateLimited, _ := meter.Int64Counter("hive_http_rate_limited_total")

	return &Coordinator{
		cfg:       cfg,
		store:     store,
		source:    storage.Open(sourceLoc),
		sourceLoc: sourceLoc,
		dest:      storage.Open(destLoc),
		destLoc:   destLoc,
		limiter: resilience.NewPerKeyRateLimiter(resilience.RateLimitConfig{
			Capacity:     50,
			Refill:       10,
			Interval:     time.Second,
			WindowSize:   10 * time.Second,
			RequestLimit: 200,
		}),
		startedAt:    time.Now(),
		httpRequests: httpRequests,
		rateLimited:  rateLimited,
	}, nil
}

// Handler builds the routed http.Handler for every endpoint in spec §4.2.
func (c *Coordinator) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", c.handleHealth)
	mux.HandleFunc("/workers/register", c.rateLimited_(c.handleRegisterWorker))
	mux.HandleFunc("/workers", c.handleListWorkers)
	mux.HandleFunc("/workers/stats", c.rateLimited_(c.handleWorkerStats))
	mux.HandleFunc("/tasks/pull", c.rateLimited_(c.handlePull))
	mux.HandleFunc("/tasks/report", c.rateLimited_(c.handleReport))
	mux.HandleFunc("/tasks/stats", c.handleTaskStats)
	mux.HandleFunc("/api/stats", c.handleTaskStats)
	mux.HandleFunc("/files/", c.rateLimited_(c.handleFiles))
	return c.withObservability(mux)
}

// withObservability stamps every request with a correlation ID (echoed back
// as X-Request-Id, and attached to the request's logger so a handler's slog
// calls carry it automatically), and records the request-count metric.
func (c *Coordinator) withObservability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-Id", reqID)
		logger := slog.With("request_id", reqID, "path", r.URL.Path)
		r = r.WithContext(context.WithValue(r.Context(), requestLoggerKey{}, logger))

		start := time.Now()
		next.ServeHTTP(w, r)
		c.httpRequests.Add(r.Context(), 1)
		logger.Debug("request handled", "method", r.Method, "duration_ms", time.Since(start).Milliseconds())
	})
}

type requestLoggerKey struct{}

// requestLogger returns the per-request slog.Logger stamped by
// withObservability, falling back to the default logger outside request
// scope (e.g. in tests that call handlers directly).
func requestLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(requestLoggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// rateLimited_ wraps a handler with the hybrid per-source rate limiter
// keyed on the request's remote address (host and port), per SPEC_FULL §4.2.
func (c *Coordinator) rateLimited_(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := sourceKey(r)
		if !c.limiter.Allow(key) {
			c.rateLimited.Add(r.Context(), 1)
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func sourceKey(r *http.Request) string {
	return r.RemoteAddr
}

// Run starts the HTTP server and blocks until ctx is cancelled, then shuts
// down gracefully, following the same signal.NotifyContext-driven pattern
// as services/orchestrator/main.go.
func (c *Coordinator) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    listenAddr(c.cfg.Port),
		Handler: c.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("coordinator listening", "port", c.cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	slog.Info("coordinator shutting down")
	return srv.Shutdown(shutdownCtx)
}

func listenAddr(port int) string {
	return ":" + strconv.Itoa(port)
}
