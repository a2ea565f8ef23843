package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/swarmguard/hive/internal/queuestore"
	"go.opentelemetry.io/otel"
)

func newTestCoordinator(t *testing.T) (*Coordinator, string, string) {
	t.Helper()
	srcDir := t.TempDir()
	dstDir := t.TempDir()

	store, err := queuestore.Open(filepath.Join(t.TempDir(), "hive.db"), otel.Meter("hive-test"))
	if err != nil {
		t.Fatalf("queuestore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := Config{Port: 0, PDFSource: srcDir, TextDest: dstDir, StaleMinutes: 10}
	c, err := New(cfg, store, otel.Meter("hive-test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, srcDir, dstDir
}

func TestScanAndSeedSkipsExisting(t *testing.T) {
	c, srcDir, dstDir := newTestCoordinator(t)
	ctx := context.Background()

	os.MkdirAll(srcDir, 0o755)
	os.WriteFile(filepath.Join(srcDir, "a.pdf"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(srcDir, "b.pdf"), []byte("x"), 0o644)
	os.MkdirAll(dstDir, 0o755)
	os.WriteFile(filepath.Join(dstDir, "a.txt"), []byte("already done"), 0o644)

	inserted, err := c.ScanAndSeed(ctx)
	if err != nil {
		t.Fatalf("ScanAndSeed: %v", err)
	}
	if inserted != 1 {
		t.Fatalf("ScanAndSeed() inserted = %d, want 1 (only b.pdf)", inserted)
	}
}

func TestHTTPRegisterPullReport(t *testing.T) {
	c, srcDir, _ := newTestCoordinator(t)
	ctx := context.Background()

	os.WriteFile(filepath.Join(srcDir, "a.pdf"), []byte("x"), 0o644)
	if _, err := c.ScanAndSeed(ctx); err != nil {
		t.Fatalf("ScanAndSeed: %v", err)
	}

	handler := c.Handler()

	registerBody, _ := json.Marshal(registerRequest{Name: "w1", Cores: 4})
	req := httptest.NewRequest(http.MethodPost, "/workers/register", bytes.NewReader(registerBody))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("register status = %d, want 200", rec.Code)
	}

	pullBody, _ := json.Marshal(pullRequest{Worker: "w1", BatchSize: 10})
	req = httptest.NewRequest(http.MethodPost, "/tasks/pull", bytes.NewReader(pullBody))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("pull status = %d, want 200", rec.Code)
	}
	var pulled []pullResponseItem
	if err := json.Unmarshal(rec.Body.Bytes(), &pulled); err != nil {
		t.Fatalf("decode pull response: %v", err)
	}
	if len(pulled) != 1 {
		t.Fatalf("pulled %d tasks, want 1", len(pulled))
	}

	reportBody, _ := json.Marshal(reportRequest{Results: []reportRequestItem{
		{TaskID: pulled[0].TaskID, Status: "done", Method: "pdftotext", CharCount: 42, Worker: "w1"},
	}})
	req = httptest.NewRequest(http.MethodPost, "/tasks/report", bytes.NewReader(reportBody))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("report status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/tasks/stats", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	var stats map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats response: %v", err)
	}
	if int(stats["done"].(float64)) != 1 {
		t.Fatalf("stats[done] = %v, want 1", stats["done"])
	}
}

func TestHandleFilesUnknownTaskIs404(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	handler := c.Handler()

	req := httptest.NewRequest(http.MethodGet, "/files/999", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET /files/999 status = %d, want 404", rec.Code)
	}
}
