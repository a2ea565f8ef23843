// Package extract is the out-of-scope "extraction backend" collaborator:
// the coordinator never inspects its internals, only the {status, method,
// char_count, error} tuple it returns. original_source/hive/extract.py runs
// a three-tier pdftotext → PyMuPDF → OCR cascade; per spec §1 only the
// interface matters here, so DefaultExtractor reproduces tier one
// (shelling out to the pdftotext binary when present) and otherwise
// reports the "extraction-exhausted" policy outcome from spec §7 — an
// intentional done/empty/0, not an error.
package extract

import (
	"context"
	"os/exec"
)

// Status mirrors queuestore.Status for the two outcomes extraction can
// report; it's a distinct type so this package has zero dependency on
// queuestore.
type Status string

const (
	StatusDone   Status = "done"
	StatusFailed Status = "failed"
)

// Result is the tuple an Extractor returns for one input/output pair.
type Result struct {
	Status    Status
	Method    string
	CharCount int64
	Error     string
}

// Extractor converts a local input file into a local output file.
type Extractor interface {
	Extract(ctx context.Context, inputPath, outputPath string) Result
}

const minCharsForSuccess = 100

// DefaultExtractor shells out to pdftotext if it's on PATH; otherwise it
// returns the "empty" exhausted-extraction result rather than erroring,
// matching spec §7's extraction-exhausted policy.
type DefaultExtractor struct {
	pdftotextPath string
}

// NewDefaultExtractor locates pdftotext on PATH once at construction time.
func NewDefaultExtractor() *DefaultExtractor {
	path, _ := exec.LookPath("pdftotext")
	return &DefaultExtractor{pdftotextPath: path}
}

func (d *DefaultExtractor) Extract(ctx context.Context, inputPath, outputPath string) Result {
	if d.pdftotextPath == "" {
		return Result{Status: StatusDone, Method: "empty", CharCount: 0}
	}

	cmd := exec.CommandContext(ctx, d.pdftotextPath, "-layout", inputPath, outputPath)
	if err := cmd.Run(); err != nil {
		return Result{Status: StatusDone, Method: "empty", CharCount: 0}
	}

	charCount, err := countChars(outputPath)
	if err != nil || charCount < minCharsForSuccess {
		return Result{Status: StatusDone, Method: "empty", CharCount: 0}
	}
	return Result{Status: StatusDone, Method: "pdftotext", CharCount: charCount}
}
