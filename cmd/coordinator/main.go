package main

import (
	"context"
	"flag"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/swarmguard/hive/internal/coordinator"
	"github.com/swarmguard/hive/internal/queuestore"
	"github.com/swarmguard/hive/internal/telemetry"
)

func main() {
	port := flag.Int("port", 9000, "HTTP port to listen on")
	pdfSource := flag.String("pdf-source", "", "input location: /abs/path or remote://user@host:/abs/path")
	textDest := flag.String("text-dest", "", "output location: /abs/path or remote://user@host:/abs/path")
	staleMinutes := flag.Int("stale-minutes", 10, "minutes after which an assigned task is considered stale")
	rescanInterval := flag.Duration("rescan-interval", 0, "periodic re-scan interval, 0 disables (spec §9 extension)")
	dbDir := flag.String("db-dir", ".", "directory for the coordinator's embedded database file")
	flag.Parse()

	service := "hive-coordinator"
	telemetry.InitLogging(service)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := telemetry.InitTracer(ctx, service)
	shutdownMetrics := telemetry.InitMetrics(ctx, service)
	meter := otel.GetMeterProvider().Meter("hive")

	store, err := queuestore.Open(filepath.Join(*dbDir, "hive.db"), meter)
	if err != nil {
		slog.Error("open queue store failed", "error", err)
		return
	}
	defer store.Close()

	cfg := coordinator.Config{
		Port:           *port,
		PDFSource:      *pdfSource,
		TextDest:       *textDest,
		StaleMinutes:   *staleMinutes,
		RescanInterval: *rescanInterval,
	}
	coord, err := coordinator.New(cfg, store, meter)
	if err != nil {
		slog.Error("build coordinator failed", "error", err)
		return
	}

	slog.Info("scanning source tree", "source", *pdfSource, "dest", *textDest)
	inserted, err := coord.ScanAndSeed(ctx)
	if err != nil {
		slog.Error("scan/seed failed", "error", err)
		return
	}
	slog.Info("scan/seed complete", "inserted", inserted)

	coord.RunBackgroundLoops(ctx)

	if err := coord.Run(ctx); err != nil {
		slog.Error("coordinator exited with error", "error", err)
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer flushCancel()
	telemetry.Flush(flushCtx, shutdownTrace)
	telemetry.Flush(flushCtx, shutdownMetrics)
	slog.Info("shutdown complete")
}
