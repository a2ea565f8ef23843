package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/swarmguard/hive/internal/extract"
)

// fakeCoordinator is a minimal in-memory stand-in for the coordinator HTTP
// surface, enough to drive a Worker end to end per spec §8's scenario 1.
func fakeCoordinator(t *testing.T, taskID uint64, inputPath string) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	var reported []map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("/workers/register", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "registered"})
	})
	mux.HandleFunc("/tasks/pull", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if len(reported) > 0 {
			json.NewEncoder(w).Encode([]any{})
			return
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{"task_id": taskID, "input_path": inputPath, "output_path": "/out/a.txt"},
		})
	})
	mux.HandleFunc("/tasks/report", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		reported = append(reported, body)
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"status": "ok", "count": 1})
	})
	mux.HandleFunc("/workers/stats", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		data, _ := os.ReadFile(inputPath)
		w.Write(data)
	})
	return httptest.NewServer(mux)
}

func TestWorkerHappyPathLocalDirs(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	inputPath := filepath.Join(srcDir, "a.pdf")
	os.WriteFile(inputPath, []byte("fake pdf bytes"), 0o644)

	srv := fakeCoordinator(t, 1, inputPath)
	defer srv.Close()

	cfg := Config{
		Coordinator:  srv.URL,
		CPUs:         2,
		BatchSize:    10,
		LocalPDFDir:  srcDir,
		LocalTextDir: dstDir,
		Name:         "w1",
	}
	extractor := extract.Stub{Result: extract.Result{Status: extract.StatusDone, Method: "pdftotext", CharCount: 500}}
	w := New(cfg, extractor, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(300 * time.Millisecond)
	cancel()
	<-done
}

func TestRelativeSuffixFindsPDFsSegment(t *testing.T) {
	got := relativeSuffix("/data/pdfs/2024/report.pdf")
	want := filepath.Join("2024", "report.pdf")
	if got != want {
		t.Fatalf("relativeSuffix() = %q, want %q", got, want)
	}
}

func TestRelativeSuffixFallsBackToBasenameWithoutMarker(t *testing.T) {
	got := relativeSuffix("/data/other/report.pdf")
	if got != "report.pdf" {
		t.Fatalf("relativeSuffix() = %q, want basename fallback", got)
	}
}
