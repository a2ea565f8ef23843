package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/swarmguard/hive/internal/extract"
)

// processTask implements spec §4.5.a's single-task processing for one
// pulled task. The output-path derivation in step 2 keeps the literal
// "pdfs"-segment rule spec §9 flags as a known wart — it is not fixed here,
// per the spec's explicit instruction to carry it forward unmodified.
func (w *Worker) processTask(ctx context.Context, task pulledTask) reportedResult {
	result := reportedResult{TaskID: task.TaskID, Worker: w.cfg.Name}

	inputPath, cleanupInput, err := w.acquireInput(ctx, task)
	if err != nil {
		return failureResult(task.TaskID, w.cfg.Name, err.Error())
	}
	if cleanupInput != nil {
		defer cleanupInput()
	}

	outputPath, usingProxy := w.resolveOutputPath(task)
	if usingProxy {
		defer os.Remove(outputPath)
	}

	extracted := w.extractor.Extract(ctx, inputPath, outputPath)
	result.Method = extracted.Method
	result.CharCount = extracted.CharCount
	result.Error = extracted.Error

	if extracted.Status == extract.StatusFailed {
		result.Status = "failed"
		return result
	}
	result.Status = "done"

	if usingProxy {
		data, err := os.ReadFile(outputPath)
		if err != nil {
			return failureResult(task.TaskID, w.cfg.Name, "read extracted output: "+err.Error())
		}
		if err := w.client.uploadFile(ctx, task.TaskID, data); err != nil {
			return failureResult(task.TaskID, w.cfg.Name, "upload output: "+err.Error())
		}
	}
	return result
}

// acquireInput returns a local path to the input bytes and an optional
// cleanup func for any temp file it created.
func (w *Worker) acquireInput(ctx context.Context, task pulledTask) (string, func(), error) {
	if w.cfg.LocalPDFDir != "" {
		return task.InputPath, nil, nil
	}

	data, status, err := w.client.downloadFile(ctx, task.TaskID)
	if err != nil {
		return "", nil, err
	}
	if status != 200 {
		return "", nil, statusError(status)
	}

	f, err := os.CreateTemp("", "hive-input-*.pdf")
	if err != nil {
		return "", nil, err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, err
	}
	f.Close()
	return f.Name(), func() { os.Remove(f.Name()) }, nil
}

// resolveOutputPath returns the local path extraction should write to, and
// whether that path is a temp file the caller must proxy-upload and clean
// up afterward.
func (w *Worker) resolveOutputPath(task pulledTask) (string, bool) {
	if w.cfg.LocalTextDir == "" {
		f, err := os.CreateTemp("", "hive-output-*.txt")
		if err == nil {
			f.Close()
			return f.Name(), true
		}
		return filepath.Join(os.TempDir(), "hive-output-fallback.txt"), true
	}

	suffix := relativeSuffix(task.InputPath)
	suffix = strings.TrimSuffix(suffix, filepath.Ext(suffix)) + ".txt"
	return filepath.Join(w.cfg.LocalTextDir, suffix), false
}

// relativeSuffix finds the literal segment "pdfs" in the input path and
// returns everything after it; absent that segment, falls back to the
// basename. Brittle by design — see spec §9's open question; a future
// revision should replace this with a coordinator-supplied relative
// suffix instead of path sniffing.
func relativeSuffix(inputPath string) string {
	const marker = "pdfs"
	parts := strings.Split(inputPath, string(filepath.Separator))
	for i, part := range parts {
		if part == marker {
			return filepath.Join(parts[i+1:]...)
		}
	}
	return filepath.Base(inputPath)
}

func failureResult(taskID uint64, worker, errMsg string) reportedResult {
	if len(errMsg) > errorMessageTruncation {
		errMsg = errMsg[:errorMessageTruncation]
	}
	return reportedResult{TaskID: taskID, Status: "failed", Error: errMsg, Worker: worker}
}

type httpStatusError int

func (e httpStatusError) Error() string {
	return "download failed: http status " + itoa(int(e))
}

func statusError(status int) error { return httpStatusError(status) }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
