package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/swarmguard/hive/internal/extract"
	"github.com/swarmguard/hive/internal/telemetry"
	"github.com/swarmguard/hive/internal/worker"
)

func main() {
	coordinatorAddr := flag.String("coordinator", "", "coordinator host:port")
	cpus := flag.Int("cpus", runtime.NumCPU(), "parallel extraction units")
	batchSize := flag.Int("batch-size", 50, "tasks requested per /tasks/pull")
	localPDFDir := flag.String("local-pdf-dir", "", "local mirror of the source tree, skips the file proxy download")
	localTextDir := flag.String("local-text-dir", "", "local mirror of the destination tree, skips the file proxy upload")
	name := flag.String("name", "", "worker name, defaults to hostname-pid")
	flag.Parse()

	service := "hive-worker"
	telemetry.InitLogging(service)

	if *coordinatorAddr == "" {
		slog.Error("--coordinator is required")
		os.Exit(1)
	}
	workerName := *name
	if workerName == "" {
		workerName = defaultWorkerName()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := telemetry.InitTracer(ctx, service)
	shutdownMetrics := telemetry.InitMetrics(ctx, service)

	cfg := worker.Config{
		Coordinator:  normalizeCoordinatorURL(*coordinatorAddr),
		CPUs:         *cpus,
		BatchSize:    *batchSize,
		LocalPDFDir:  *localPDFDir,
		LocalTextDir: *localTextDir,
		Name:         workerName,
	}

	w := worker.New(cfg, extract.NewDefaultExtractor(), nil)
	slog.Info("worker starting", "name", workerName, "coordinator", cfg.Coordinator, "cpus", cfg.CPUs)

	if err := w.Run(ctx); err != nil {
		slog.Error("worker exited with error", "error", err)
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer flushCancel()
	telemetry.Flush(flushCtx, shutdownTrace)
	telemetry.Flush(flushCtx, shutdownMetrics)
	slog.Info("shutdown complete")
}

func defaultWorkerName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func normalizeCoordinatorURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}
