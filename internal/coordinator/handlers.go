package coordinator

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/swarmguard/hive/internal/queuestore"
	"github.com/swarmguard/hive/internal/storage"
)

func (c *Coordinator) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (c *Coordinator) handleHealth(w http.ResponseWriter, r *http.Request) {
	c.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(c.startedAt).Seconds(),
	})
}

type registerRequest struct {
	Name  string `json:"name"`
	Cores int    `json:"cores"`
}

func (c *Coordinator) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}
	ip := clientIP(r)
	if err := c.store.RegisterWorker(r.Context(), req.Name, ip, req.Cores); err != nil {
		requestLogger(r.Context()).Error("register worker failed", "name", req.Name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

func (c *Coordinator) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	workers, err := c.store.ListWorkers(r.Context())
	if err != nil {
		requestLogger(r.Context()).Error("list workers failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	c.writeJSON(w, http.StatusOK, workers)
}

type statsRequest struct {
	Name  string                 `json:"name"`
	Stats queuestore.WorkerStats `json:"stats"`
}

func (c *Coordinator) handleWorkerStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req statsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}
	if err := c.store.UpdateStats(r.Context(), req.Name, req.Stats); err != nil {
		requestLogger(r.Context()).Error("update worker stats failed", "name", req.Name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type pullRequest struct {
	Worker    string `json:"worker"`
	BatchSize int    `json:"batch_size"`
}

type pullResponseItem struct {
	TaskID     uint64 `json:"task_id"`
	InputPath  string `json:"input_path"`
	OutputPath string `json:"output_path"`
}

func (c *Coordinator) handlePull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req pullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Worker == "" || req.BatchSize <= 0 {
		http.Error(w, "worker and batch_size required", http.StatusBadRequest)
		return
	}
	tasks, err := c.store.Pull(r.Context(), req.Worker, req.BatchSize)
	if err != nil {
		requestLogger(r.Context()).Error("pull failed", "worker", req.Worker, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]pullResponseItem, len(tasks))
	for i, t := range tasks {
		out[i] = pullResponseItem{TaskID: t.ID, InputPath: t.InputPath, OutputPath: t.OutputPath}
	}
	c.writeJSON(w, http.StatusOK, out)
}

type reportRequestItem struct {
	TaskID    uint64 `json:"task_id"`
	Status    string `json:"status"`
	Method    string `json:"method"`
	CharCount int64  `json:"char_count"`
	Error     string `json:"error"`
	Worker    string `json:"worker"`
}

type reportRequest struct {
	Results []reportRequestItem `json:"results"`
}

func (c *Coordinator) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	results := make([]queuestore.Result, len(req.Results))
	for i, item := range req.Results {
		status := queuestore.StatusFailed
		if item.Status == string(queuestore.StatusDone) {
			status = queuestore.StatusDone
		}
		results[i] = queuestore.Result{
			TaskID:    item.TaskID,
			Status:    status,
			Method:    item.Method,
			CharCount: item.CharCount,
			Error:     item.Error,
			Worker:    item.Worker,
		}
	}
	count, err := c.store.Report(r.Context(), results)
	if err != nil {
		requestLogger(r.Context()).Error("report failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "count": count})
}

func (c *Coordinator) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	stats, err := c.store.GetStats(r.Context())
	if err != nil {
		requestLogger(r.Context()).Error("get stats failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	rate, err := c.store.GetRateInfo(r.Context(), stats.Pending+stats.Assigned)
	if err != nil {
		requestLogger(r.Context()).Error("get rate info failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	workers, err := c.store.ListWorkers(r.Context())
	if err != nil {
		requestLogger(r.Context()).Error("list workers failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]any{
		"total":        stats.Total,
		"pending":      stats.Pending,
		"assigned":     stats.Assigned,
		"done":         stats.Done,
		"failed":       stats.Failed,
		"methods":      stats.Methods,
		"rate_per_sec": rate.RatePerSec,
		"eta_seconds":  rate.ETASeconds,
		"history":      rate.History,
		"workers":      workers,
	})
}

// handleFiles serves both GET /files/<id> (stream input bytes) and
// POST /files/upload/<id> (write output bytes), per spec §4.2's file proxy.
func (c *Coordinator) handleFiles(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/files/")
	if strings.HasPrefix(path, "upload/") {
		c.handleFileUpload(w, r, strings.TrimPrefix(path, "upload/"))
		return
	}
	c.handleFileDownload(w, r, path)
}

func (c *Coordinator) handleFileDownload(w http.ResponseWriter, r *http.Request, idStr string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	inputPath, err := c.store.GetTaskInput(r.Context(), id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if !c.source.Exists(r.Context(), inputPath) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")

	// Stream directly off disk for the common local-source case rather than
	// buffering the whole file, per spec §9's streaming note; remote-shell
	// storage has no streaming transport (ssh cat buffers server-side
	// regardless), so it falls back to the Storage.Read round trip.
	if _, ok := c.source.(*storage.Local); ok {
		f, err := os.Open(inputPath)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer f.Close()
		_, _ = io.Copy(w, f)
		return
	}

	data, err := c.source.Read(r.Context(), inputPath)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(data)
}

func (c *Coordinator) handleFileUpload(w http.ResponseWriter, r *http.Request, idStr string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	outputPath, err := c.store.GetTaskOutput(r.Context(), id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if err := c.dest.Write(r.Context(), outputPath, data); err != nil {
		requestLogger(r.Context()).Error("file upload failed", "task_id", id, "error", err)
		http.Error(w, "write failed", http.StatusInternalServerError)
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
