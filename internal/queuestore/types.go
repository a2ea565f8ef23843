// Package queuestore is hive's durable task/worker/rate-sample store. It is
// the single source of truth for task ownership; every other component is
// stateless with respect to it. Backed by go.etcd.io/bbolt the way
// services/orchestrator/persistence.go backs WorkflowStore — one embedded
// file, bucket-per-table, every mutation inside a single read-write
// transaction so atomicity falls out of bbolt's transaction model instead of
// an application-level mutex.
package queuestore

// Status is a task's position in the state machine described in spec §4.1:
//
//	pending --lease--> assigned --success--> done
//	                      |  |
//	                      |  +--failure--> failed
//	                      |
//	                      +--stale sweep--> pending
type Status string

const (
	StatusPending  Status = "pending"
	StatusAssigned Status = "assigned"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
)

// Task is the primary durable entity. Optional fields that only apply in
// some states (Worker, AssignedAt, CompletedAt, Method, Error) are modeled as
// pointers rather than sentinel values, per the redesign note in spec §9.
type Task struct {
	ID          uint64  `json:"id"`
	InputPath   string  `json:"input_path"`
	OutputPath  string  `json:"output_path"`
	Status      Status  `json:"status"`
	Worker      *string `json:"worker,omitempty"`
	AssignedAt  *int64  `json:"assigned_at,omitempty"`
	CompletedAt *int64  `json:"completed_at,omitempty"`
	Method      *string `json:"method,omitempty"`
	CharCount   int64   `json:"char_count"`
	Error       *string `json:"error,omitempty"`
}

// Worker is a liveness + aggregate-counter row, created on first
// registration and never deleted.
type Worker struct {
	Name           string   `json:"name"`
	IP             string   `json:"ip"`
	Cores          int      `json:"cores"`
	LastSeen       int64    `json:"last_seen"`
	TasksCompleted int64    `json:"tasks_completed"`
	TasksFailed    int64    `json:"tasks_failed"`
	CPUPct         *float64 `json:"cpu_pct,omitempty"`
	RAMUsedGB      *float64 `json:"ram_used_gb,omitempty"`
	RAMTotalGB     *float64 `json:"ram_total_gb,omitempty"`
	GPUPct         *float64 `json:"gpu_pct,omitempty"`
	GPUTemp        *float64 `json:"gpu_temp,omitempty"`
	CPUTemp        *float64 `json:"cpu_temp,omitempty"`
}

// WorkerStats is the optional telemetry bag a worker pushes via
// /workers/stats. Nil fields are left untouched on the stored Worker row.
type WorkerStats struct {
	CPUPct     *float64 `json:"cpu_pct,omitempty"`
	RAMUsedGB  *float64 `json:"ram_used_gb,omitempty"`
	RAMTotalGB *float64 `json:"ram_total_gb,omitempty"`
	GPUPct     *float64 `json:"gpu_pct,omitempty"`
	GPUTemp    *float64 `json:"gpu_temp,omitempty"`
	CPUTemp    *float64 `json:"cpu_temp,omitempty"`
}

// RateSample is a (timestamp, cumulative done count) pair; consecutive
// samples form the rate history the sweeper snapshots every ~10s.
type RateSample struct {
	Timestamp      int64 `json:"timestamp"`
	CompletedCount int64 `json:"completed_count"`
}

// Pair is one (input_path, output_path) tuple from the scan/seed phase.
type Pair struct {
	InputPath  string
	OutputPath string
}

// Result is what a worker reports back for a single task.
type Result struct {
	TaskID    uint64
	Status    Status // StatusDone or StatusFailed
	Method    string
	CharCount int64
	Error     string
	Worker    string
}

// Stats is the aggregate view returned by GetStats.
type Stats struct {
	Total    int            `json:"total"`
	Pending  int            `json:"pending"`
	Assigned int            `json:"assigned"`
	Done     int            `json:"done"`
	Failed   int            `json:"failed"`
	Methods  map[string]int `json:"methods"`
}

// RateInfo is the aggregate view returned by GetRateInfo.
type RateInfo struct {
	RatePerSec  float64   `json:"rate_per_sec"`
	ETASeconds  float64   `json:"eta_seconds"`
	History     []float64 `json:"history"`
	SampleCount int       `json:"sample_count"`
}
