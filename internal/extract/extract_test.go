package extract

import (
	"context"
	"path/filepath"
	"testing"
)

func TestDefaultExtractorWithoutBackendIsExhaustedNotError(t *testing.T) {
	e := &DefaultExtractor{} // no pdftotext on PATH
	result := e.Extract(context.Background(), filepath.Join(t.TempDir(), "in.pdf"), filepath.Join(t.TempDir(), "out.txt"))
	if result.Status != StatusDone {
		t.Fatalf("Status = %v, want done (extraction-exhausted is success, not failure)", result.Status)
	}
	if result.Method != "empty" || result.CharCount != 0 {
		t.Fatalf("Result = %+v, want method=empty char_count=0", result)
	}
}

func TestStubReturnsConfiguredResult(t *testing.T) {
	s := Stub{Result: Result{Status: StatusDone, Method: "pdftotext", CharCount: 500}}
	result := s.Extract(context.Background(), "in.pdf", "out.txt")
	if result.CharCount != 500 || result.Method != "pdftotext" {
		t.Fatalf("Stub.Extract() = %+v, want the configured result", result)
	}
}
