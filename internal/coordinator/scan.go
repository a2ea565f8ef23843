package coordinator

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/swarmguard/hive/internal/queuestore"
)

// ScanAndSeed enumerates every .pdf beneath the source root, pairs each
// with its mirrored .txt destination path, drops pairs whose output
// already exists, and bulk-inserts the survivors. Runs synchronously at
// startup per spec §4.3 — the HTTP surface must not open until this
// returns.
func (c *Coordinator) ScanAndSeed(ctx context.Context) (int, error) {
	inputs, err := c.source.List(ctx, c.sourceLoc.Path, ".pdf")
	if err != nil {
		return 0, err
	}

	existingOutputs, err := c.dest.List(ctx, c.destLoc.Path, ".txt")
	if err != nil {
		return 0, err
	}
	existing := make(map[string]bool, len(existingOutputs))
	for _, p := range existingOutputs {
		existing[p] = true
	}

	pairs := make([]queuestore.Pair, 0, len(inputs))
	for _, inputPath := range inputs {
		outputPath, err := c.mirrorOutputPath(inputPath)
		if err != nil {
			slog.Warn("skipping input with unmappable path", "input", inputPath, "error", err)
			continue
		}
		if existing[outputPath] {
			continue
		}
		pairs = append(pairs, queuestore.Pair{InputPath: inputPath, OutputPath: outputPath})
	}

	inserted, err := c.store.AddTasks(ctx, pairs)
	if err != nil {
		return 0, err
	}
	slog.Info("scan complete", "found", len(inputs), "skipped_existing", len(inputs)-len(pairs), "inserted", inserted)
	return inserted, nil
}

// mirrorOutputPath computes an input's relative path from the source root
// and joins it onto the destination root with the extension swapped to
// .txt, per spec §4.3 step 3.
func (c *Coordinator) mirrorOutputPath(inputPath string) (string, error) {
	rel, err := filepath.Rel(c.sourceLoc.Path, inputPath)
	if err != nil {
		return "", err
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel)) + ".txt"
	return filepath.Join(c.destLoc.Path, rel), nil
}
