package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/swarmguard/hive/internal/resilience"
)

// coordinatorClient is the worker's single HTTP entrypoint onto the
// coordinator's surface. The connection-pooled client with a small idle
// pool mirrors services/orchestrator/task_executor.go's HTTPTaskExecutor;
// the CircuitBreaker wraps only report/stats POSTs (§4.5 step 4) so a
// coordinator that is clearly down stops being dialed on every batch
// instead of burning a full timeout per call.
type coordinatorClient struct {
	baseURL string
	http    *http.Client
	breaker *resilience.CircuitBreaker
}

func newCoordinatorClient(baseURL string) *coordinatorClient {
	return &coordinatorClient{
		baseURL: baseURL,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breaker: resilience.NewCircuitBreaker(30*time.Second, 6, 5, 0.8, 15*time.Second, 2),
	}
}

func (c *coordinatorClient) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("post %s: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *coordinatorClient) register(ctx context.Context, name string, cores int) error {
	return c.postJSON(ctx, "/workers/register", map[string]any{"name": name, "cores": cores}, nil)
}

func (c *coordinatorClient) pull(ctx context.Context, worker string, batchSize int) ([]pulledTask, error) {
	var out []pulledTask
	err := c.postJSON(ctx, "/tasks/pull", map[string]any{"worker": worker, "batch_size": batchSize}, &out)
	return out, err
}

// report and pushStats go through the circuit breaker: the worker's
// tolerance for a down coordinator is "log it and keep extracting," per
// spec §4.5 step 4, not "retry forever inline."
func (c *coordinatorClient) report(ctx context.Context, results []reportedResult) error {
	if !c.breaker.Allow() {
		return fmt.Errorf("report: circuit open, coordinator presumed down")
	}
	err := c.postJSON(ctx, "/tasks/report", map[string]any{"results": results}, nil)
	c.breaker.RecordResult(err == nil)
	return err
}

func (c *coordinatorClient) pushStats(ctx context.Context, name string, stats TelemetrySnapshot) error {
	if !c.breaker.Allow() {
		return fmt.Errorf("stats: circuit open, coordinator presumed down")
	}
	err := c.postJSON(ctx, "/workers/stats", map[string]any{"name": name, "stats": stats}, nil)
	c.breaker.RecordResult(err == nil)
	return err
}

func (c *coordinatorClient) downloadFile(ctx context.Context, taskID uint64) ([]byte, int, error) {
	dlCtx, cancel := context.WithTimeout(ctx, fileProxyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, fmt.Sprintf("%s/files/%d", c.baseURL, taskID), nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}
	data, err := io.ReadAll(resp.Body)
	return data, resp.StatusCode, err
}

func (c *coordinatorClient) uploadFile(ctx context.Context, taskID uint64, data []byte) error {
	upCtx, cancel := context.WithTimeout(ctx, fileProxyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(upCtx, http.MethodPost, fmt.Sprintf("%s/files/upload/%d", c.baseURL, taskID), bytes.NewReader(data))
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload task %d: status %d", taskID, resp.StatusCode)
	}
	return nil
}

type pulledTask struct {
	TaskID     uint64 `json:"task_id"`
	InputPath  string `json:"input_path"`
	OutputPath string `json:"output_path"`
}

type reportedResult struct {
	TaskID    uint64 `json:"task_id"`
	Status    string `json:"status"`
	Method    string `json:"method"`
	CharCount int64  `json:"char_count"`
	Error     string `json:"error"`
	Worker    string `json:"worker"`
}

// TelemetrySnapshot is the worker-side system-telemetry collaborator's
// output shape — collection itself (CPU/RAM/GPU probes) is out of scope
// per spec §1, so this struct is populated with nil/zero fields by
// whatever collector is wired in at the cmd/worker layer.
type TelemetrySnapshot struct {
	CPUPct     *float64 `json:"cpu_pct,omitempty"`
	RAMUsedGB  *float64 `json:"ram_used_gb,omitempty"`
	RAMTotalGB *float64 `json:"ram_total_gb,omitempty"`
	GPUPct     *float64 `json:"gpu_pct,omitempty"`
	GPUTemp    *float64 `json:"gpu_temp,omitempty"`
	CPUTemp    *float64 `json:"cpu_temp,omitempty"`
}
