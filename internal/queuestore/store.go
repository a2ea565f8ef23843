package queuestore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	bucketTasks       = []byte("tasks")
	bucketTaskByInput = []byte("task_by_input")
	bucketStatusIndex = []byte("status_index")
	bucketWorkers     = []byte("workers")
	bucketRateSamples = []byte("rate_samples")
	allBuckets        = [][]byte{bucketTasks, bucketTaskByInput, bucketStatusIndex, bucketWorkers, bucketRateSamples}
)

const (
	rateSampleMaxAgeS = int64(1800)
	addTasksBatchSize = 500
)

// Store is the embedded, transactional home for every task/worker/rate row.
// Modeled on services/orchestrator/persistence.go's WorkflowStore, minus its
// in-memory cache layer — hive's queue churns too fast (pull/report every
// few seconds) for a cache to pay for itself, and every operation here is
// already a single short bbolt transaction.
type Store struct {
	db  *bbolt.DB
	Now func() time.Time

	pullDuration   metric.Float64Histogram
	reportDuration metric.Float64Histogram
	tasksPulled    metric.Int64Counter
	tasksDone      metric.Int64Counter
	tasksFailed    metric.Int64Counter
	staleRecovered metric.Int64Counter
}

// Open creates/opens the bbolt file at path and idempotently creates every
// bucket this package uses.
func Open(path string, meter metric.Meter) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout:      1 * time.Second,
		FreelistType: bbolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	pullDuration, _ := meter.Float64Histogram("hive_queue_pull_duration_ms")
	reportDuration, _ := meter.Float64Histogram("hive_queue_report_duration_ms")
	tasksPulled, _ := meter.Int64Counter("hive_tasks_pulled_total")
	tasksDone, _ := meter.Int64Counter("hive_tasks_done_total")
	tasksFailed, _ := meter.Int64Counter("hive_tasks_failed_total")
	staleRecovered, _ := meter.Int64Counter("hive_stale_recovered_total")

	return &Store{
		db:             db,
		Now:            time.Now,
		pullDuration:   pullDuration,
		reportDuration: reportDuration,
		tasksPulled:    tasksPulled,
		tasksDone:      tasksDone,
		tasksFailed:    tasksFailed,
		staleRecovered: staleRecovered,
	}, nil
}

// Close releases the underlying bbolt file.
func (s *Store) Close() error {
	return s.db.Close()
}

func idKey(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

func idFromKey(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func statusIndexKey(status Status, id uint64) []byte {
	key := make([]byte, 0, len(status)+1+8)
	key = append(key, status...)
	key = append(key, 0)
	key = append(key, idKey(id)...)
	return key
}

func statusIndexPrefix(status Status) []byte {
	p := make([]byte, 0, len(status)+1)
	p = append(p, status...)
	p = append(p, 0)
	return p
}

func putTask(tx *bbolt.Tx, t *Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	return tx.Bucket(bucketTasks).Put(idKey(t.ID), data)
}

func getTask(tx *bbolt.Tx, id uint64) (*Task, error) {
	data := tx.Bucket(bucketTasks).Get(idKey(id))
	if data == nil {
		return nil, ErrTaskNotFound
	}
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal task %d: %w", id, err)
	}
	return &t, nil
}

// moveStatusIndex deletes the index entry for a task's previous status (if
// any) and writes one for its current status. Called with the task's status
// already set to the new value.
func moveStatusIndex(tx *bbolt.Tx, t *Task, prev Status) error {
	idx := tx.Bucket(bucketStatusIndex)
	if prev != "" {
		if err := idx.Delete(statusIndexKey(prev, t.ID)); err != nil {
			return err
		}
	}
	return idx.Put(statusIndexKey(t.Status, t.ID), []byte{1})
}

// AddTasks bulk-inserts (input_path, output_path) pairs, skipping any whose
// input_path already exists. Returns the count of newly inserted rows.
// Committed in chunks of ≤500 pairs per transaction, per spec §4.1.
func (s *Store) AddTasks(ctx context.Context, pairs []Pair) (int, error) {
	inserted := 0
	for start := 0; start < len(pairs); start += addTasksBatchSize {
		end := start + addTasksBatchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		n, err := s.addTasksChunk(pairs[start:end])
		if err != nil {
			return inserted, err
		}
		inserted += n
	}
	return inserted, nil
}

func (s *Store) addTasksChunk(pairs []Pair) (int, error) {
	inserted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		tasks := tx.Bucket(bucketTasks)
		byInput := tx.Bucket(bucketTaskByInput)
		idx := tx.Bucket(bucketStatusIndex)

		for _, p := range pairs {
			if byInput.Get([]byte(p.InputPath)) != nil {
				continue
			}
			seq, err := tasks.NextSequence()
			if err != nil {
				return fmt.Errorf("next sequence: %w", err)
			}
			t := &Task{
				ID:         seq,
				InputPath:  p.InputPath,
				OutputPath: p.OutputPath,
				Status:     StatusPending,
			}
			data, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("marshal task: %w", err)
			}
			if err := tasks.Put(idKey(seq), data); err != nil {
				return err
			}
			if err := byInput.Put([]byte(p.InputPath), idKey(seq)); err != nil {
				return err
			}
			if err := idx.Put(statusIndexKey(StatusPending, seq), []byte{1}); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	return inserted, err
}

// Pull atomically selects up to batchSize pending tasks in ascending id
// order, marks them assigned to worker, and returns them. Never blocks; an
// empty queue returns an empty slice. Also bumps the worker's last_seen.
func (s *Store) Pull(ctx context.Context, worker string, batchSize int) ([]*Task, error) {
	start := s.Now()
	var out []*Task
	err := s.db.Update(func(tx *bbolt.Tx) error {
		tasks := tx.Bucket(bucketTasks)
		idx := tx.Bucket(bucketStatusIndex)
		workers := tx.Bucket(bucketWorkers)

		c := idx.Cursor()
		prefix := statusIndexPrefix(StatusPending)
		now := s.Now().Unix()

		ids := make([]uint64, 0, batchSize)
		for k, _ := c.Seek(prefix); k != nil && len(ids) < batchSize; k, _ = c.Next() {
			if !hasPrefix(k, prefix) {
				break
			}
			ids = append(ids, idFromKey(k[len(prefix):]))
		}

		for _, id := range ids {
			t, err := getTask(tx, id)
			if err != nil {
				continue
			}
			prev := t.Status
			workerCopy := worker
			assignedAt := now
			t.Status = StatusAssigned
			t.Worker = &workerCopy
			t.AssignedAt = &assignedAt
			if err := putTask(tx, t); err != nil {
				return err
			}
			if err := moveStatusIndex(tx, t, prev); err != nil {
				return err
			}
			out = append(out, t)
		}

		return bumpWorkerLastSeen(workers, worker, now)
	})
	if err != nil {
		return nil, err
	}
	s.pullDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	s.tasksPulled.Add(ctx, int64(len(out)), metric.WithAttributes(attribute.String("worker", worker)))
	return out, nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// bumpWorkerLastSeen updates last_seen for an already-registered worker.
// Pull/report may race a registration that hasn't landed yet (a worker
// should always register before it pulls); in that case this is a no-op,
// mirroring the upsert-only-on-register contract in spec §4.1.
func bumpWorkerLastSeen(workers *bbolt.Bucket, name string, now int64) error {
	data := workers.Get([]byte(name))
	if data == nil {
		return nil
	}
	var w Worker
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("unmarshal worker %s: %w", name, err)
	}
	w.LastSeen = now
	out, err := json.Marshal(&w)
	if err != nil {
		return err
	}
	return workers.Put([]byte(name), out)
}

// Report applies a batch of worker results in one transaction: each task
// moves to done or failed, and the reporting worker's counters and
// last_seen update once for the whole batch. A task_id with no matching row
// is silently skipped.
func (s *Store) Report(ctx context.Context, results []Result) (int, error) {
	start := s.Now()
	applied := 0
	var doneCount, failedCount int64
	var reportingWorker string

	err := s.db.Update(func(tx *bbolt.Tx) error {
		now := s.Now().Unix()
		for _, r := range results {
			t, err := getTask(tx, r.TaskID)
			if err != nil {
				continue
			}
			prev := t.Status
			completedAt := now
			t.CompletedAt = &completedAt

			if r.Status == StatusDone {
				t.Status = StatusDone
				method := r.Method
				t.Method = &method
				t.CharCount = r.CharCount
				t.Error = nil
				doneCount++
			} else {
				t.Status = StatusFailed
				errMsg := r.Error
				t.Error = &errMsg
				method := r.Method
				t.Method = &method
				failedCount++
			}

			if err := putTask(tx, t); err != nil {
				return err
			}
			if err := moveStatusIndex(tx, t, prev); err != nil {
				return err
			}
			applied++
			if r.Worker != "" {
				reportingWorker = r.Worker
			}
		}

		if reportingWorker != "" {
			workers := tx.Bucket(bucketWorkers)
			data := workers.Get([]byte(reportingWorker))
			if data != nil {
				var w Worker
				if err := json.Unmarshal(data, &w); err != nil {
					return fmt.Errorf("unmarshal worker %s: %w", reportingWorker, err)
				}
				w.TasksCompleted += doneCount
				w.TasksFailed += failedCount
				w.LastSeen = now
				out, err := json.Marshal(&w)
				if err != nil {
					return err
				}
				if err := workers.Put([]byte(reportingWorker), out); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.reportDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	s.tasksDone.Add(ctx, doneCount)
	s.tasksFailed.Add(ctx, failedCount)
	return applied, nil
}

// RecoverStale resets every assigned task whose assigned_at is older than
// minutes back to pending, clearing worker and assigned_at. Returns the
// count of recovered rows.
func (s *Store) RecoverStale(ctx context.Context, minutes int) (int, error) {
	recovered := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		idx := tx.Bucket(bucketStatusIndex)
		cutoff := s.Now().Unix() - int64(minutes)*60

		prefix := statusIndexPrefix(StatusAssigned)
		c := idx.Cursor()
		var staleIDs []uint64
		for k, _ := c.Seek(prefix); k != nil; k, _ = c.Next() {
			if !hasPrefix(k, prefix) {
				break
			}
			staleIDs = append(staleIDs, idFromKey(k[len(prefix):]))
		}

		for _, id := range staleIDs {
			t, err := getTask(tx, id)
			if err != nil {
				continue
			}
			if t.AssignedAt == nil || *t.AssignedAt >= cutoff {
				continue
			}
			prev := t.Status
			t.Status = StatusPending
			t.Worker = nil
			t.AssignedAt = nil
			if err := putTask(tx, t); err != nil {
				return err
			}
			if err := moveStatusIndex(tx, t, prev); err != nil {
				return err
			}
			recovered++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.staleRecovered.Add(ctx, int64(recovered))
	return recovered, nil
}

// RegisterWorker upserts a worker row by name and bumps last_seen.
func (s *Store) RegisterWorker(ctx context.Context, name, ip string, cores int) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		workers := tx.Bucket(bucketWorkers)
		now := s.Now().Unix()
		w := Worker{Name: name, IP: ip, Cores: cores, LastSeen: now}
		if existing := workers.Get([]byte(name)); existing != nil {
			var prev Worker
			if err := json.Unmarshal(existing, &prev); err == nil {
				w.TasksCompleted = prev.TasksCompleted
				w.TasksFailed = prev.TasksFailed
			}
		}
		data, err := json.Marshal(&w)
		if err != nil {
			return err
		}
		return workers.Put([]byte(name), data)
	})
}

// Heartbeat bumps last_seen for an existing worker. Unknown names are a
// no-op — a heartbeat can only follow a registration.
func (s *Store) Heartbeat(ctx context.Context, name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return bumpWorkerLastSeen(tx.Bucket(bucketWorkers), name, s.Now().Unix())
	})
}

// UpdateStats merges optional telemetry fields into an existing worker row
// and bumps last_seen. Unknown names are a no-op.
func (s *Store) UpdateStats(ctx context.Context, name string, stats WorkerStats) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		workers := tx.Bucket(bucketWorkers)
		data := workers.Get([]byte(name))
		if data == nil {
			return nil
		}
		var w Worker
		if err := json.Unmarshal(data, &w); err != nil {
			return fmt.Errorf("unmarshal worker %s: %w", name, err)
		}
		if stats.CPUPct != nil {
			w.CPUPct = stats.CPUPct
		}
		if stats.RAMUsedGB != nil {
			w.RAMUsedGB = stats.RAMUsedGB
		}
		if stats.RAMTotalGB != nil {
			w.RAMTotalGB = stats.RAMTotalGB
		}
		if stats.GPUPct != nil {
			w.GPUPct = stats.GPUPct
		}
		if stats.GPUTemp != nil {
			w.GPUTemp = stats.GPUTemp
		}
		if stats.CPUTemp != nil {
			w.CPUTemp = stats.CPUTemp
		}
		w.LastSeen = s.Now().Unix()
		out, err := json.Marshal(&w)
		if err != nil {
			return err
		}
		return workers.Put([]byte(name), out)
	})
}

// ListWorkers returns every worker row, sorted by name for stable output.
func (s *Store) ListWorkers(ctx context.Context) ([]*Worker, error) {
	var out []*Worker
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketWorkers).ForEach(func(k, v []byte) error {
			var w Worker
			if err := json.Unmarshal(v, &w); err != nil {
				return fmt.Errorf("unmarshal worker %s: %w", k, err)
			}
			out = append(out, &w)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetStats aggregates task counts by status and a method histogram
// restricted to done rows.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Methods: make(map[string]int)}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var t Task
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("unmarshal task %s: %w", k, err)
			}
			stats.Total++
			switch t.Status {
			case StatusPending:
				stats.Pending++
			case StatusAssigned:
				stats.Assigned++
			case StatusDone:
				stats.Done++
				if t.Method != nil {
					stats.Methods[*t.Method]++
				}
			case StatusFailed:
				stats.Failed++
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// GetTaskInput returns a task's input_path.
func (s *Store) GetTaskInput(ctx context.Context, id uint64) (string, error) {
	var path string
	err := s.db.View(func(tx *bbolt.Tx) error {
		t, err := getTask(tx, id)
		if err != nil {
			return err
		}
		path = t.InputPath
		return nil
	})
	return path, err
}

// GetTaskOutput returns a task's output_path.
func (s *Store) GetTaskOutput(ctx context.Context, id uint64) (string, error) {
	var path string
	err := s.db.View(func(tx *bbolt.Tx) error {
		t, err := getTask(tx, id)
		if err != nil {
			return err
		}
		path = t.OutputPath
		return nil
	})
	return path, err
}

// GetTask returns a full task row, for handlers needing more than a path.
func (s *Store) GetTask(ctx context.Context, id uint64) (*Task, error) {
	var t *Task
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		t, err = getTask(tx, id)
		return err
	})
	return t, err
}
