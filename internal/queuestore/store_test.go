package queuestore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hive.db")
	store, err := Open(path, otel.Meter("hive-test"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// scenario 1: happy path.
func TestHappyPath(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n, err := s.AddTasks(ctx, []Pair{
		{InputPath: "/src/a.pdf", OutputPath: "/out/a.txt"},
		{InputPath: "/src/b.pdf", OutputPath: "/out/b.txt"},
	})
	if err != nil || n != 2 {
		t.Fatalf("AddTasks() = %d, %v, want 2, nil", n, err)
	}

	if err := s.RegisterWorker(ctx, "w1", "10.0.0.1", 4); err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}

	tasks, err := s.Pull(ctx, "w1", 10)
	if err != nil || len(tasks) != 2 {
		t.Fatalf("Pull() = %d tasks, %v, want 2, nil", len(tasks), err)
	}

	results := make([]Result, len(tasks))
	for i, task := range tasks {
		results[i] = Result{TaskID: task.ID, Status: StatusDone, Method: "pdftotext", CharCount: 500, Worker: "w1"}
	}
	applied, err := s.Report(ctx, results)
	if err != nil || applied != 2 {
		t.Fatalf("Report() = %d, %v, want 2, nil", applied, err)
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Total != 2 || stats.Done != 2 || stats.Pending != 0 || stats.Assigned != 0 || stats.Failed != 0 {
		t.Fatalf("GetStats() = %+v, want total=2 done=2", stats)
	}

	workers, err := s.ListWorkers(ctx)
	if err != nil || len(workers) != 1 || workers[0].TasksCompleted != 2 {
		t.Fatalf("ListWorkers() = %+v, %v, want one worker with TasksCompleted=2", workers, err)
	}
}

// scenario 2: atomic lease — concurrent pulls never overlap (P2).
func TestAtomicLeaseNoOverlap(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	pairs := make([]Pair, 100)
	for i := range pairs {
		pairs[i] = Pair{InputPath: filepath.Join("/src", itoa(i)+".pdf"), OutputPath: filepath.Join("/out", itoa(i)+".txt")}
	}
	if _, err := s.AddTasks(ctx, pairs); err != nil {
		t.Fatalf("AddTasks: %v", err)
	}

	const workerCount = 5
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[uint64]bool)

	for i := 0; i < workerCount; i++ {
		name := "w" + itoa(i)
		if err := s.RegisterWorker(ctx, name, "10.0.0.1", 4); err != nil {
			t.Fatalf("RegisterWorker: %v", err)
		}
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			tasks, err := s.Pull(ctx, worker, 30)
			if err != nil {
				t.Errorf("Pull(%s): %v", worker, err)
				return
			}
			if len(tasks) > 30 {
				t.Errorf("Pull(%s) returned %d tasks, want <=30", worker, len(tasks))
			}
			mu.Lock()
			defer mu.Unlock()
			for _, task := range tasks {
				if seen[task.ID] {
					t.Errorf("task %d leased twice", task.ID)
				}
				seen[task.ID] = true
			}
		}(name)
	}
	wg.Wait()

	if len(seen) != 100 {
		t.Fatalf("leased %d distinct tasks, want 100", len(seen))
	}
}

// scenario 3: stale recovery.
func TestStaleRecovery(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()
	s.Now = func() time.Time { return now }

	if _, err := s.AddTasks(ctx, []Pair{{InputPath: "/src/a.pdf", OutputPath: "/out/a.txt"}}); err != nil {
		t.Fatalf("AddTasks: %v", err)
	}
	if err := s.RegisterWorker(ctx, "w1", "10.0.0.1", 4); err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}
	if _, err := s.Pull(ctx, "w1", 10); err != nil {
		t.Fatalf("Pull: %v", err)
	}

	// Worker crashes without reporting; clock advances past the lease window.
	s.Now = func() time.Time { return now.Add(1 * time.Minute) }

	recovered, err := s.RecoverStale(ctx, 0)
	if err != nil || recovered != 1 {
		t.Fatalf("RecoverStale() = %d, %v, want 1, nil", recovered, err)
	}

	task, err := s.GetTask(ctx, 1)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != StatusPending || task.Worker != nil || task.AssignedAt != nil {
		t.Fatalf("task after sweep = %+v, want pending/nil/nil", task)
	}
}

// scenario 4: skip-existing.
func TestAddTasksSkipsExisting(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n, err := s.AddTasks(ctx, []Pair{{InputPath: "/src/a.pdf", OutputPath: "/out/a.txt"}})
	if err != nil || n != 1 {
		t.Fatalf("first AddTasks() = %d, %v, want 1, nil", n, err)
	}

	// P5: a pair whose input_path is already stored is skipped; only the new
	// b.pdf pair is inserted.
	n, err = s.AddTasks(ctx, []Pair{
		{InputPath: "/src/a.pdf", OutputPath: "/out/a.txt"},
		{InputPath: "/src/b.pdf", OutputPath: "/out/b.txt"},
	})
	if err != nil || n != 1 {
		t.Fatalf("second AddTasks() = %d, %v, want 1 (only b.pdf new)", n, err)
	}
}

// scenario 5: empty extraction is success.
func TestEmptyExtractionIsSuccess(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.AddTasks(ctx, []Pair{{InputPath: "/src/a.pdf", OutputPath: "/out/a.txt"}}); err != nil {
		t.Fatalf("AddTasks: %v", err)
	}
	if err := s.RegisterWorker(ctx, "w1", "10.0.0.1", 4); err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}
	tasks, err := s.Pull(ctx, "w1", 10)
	if err != nil || len(tasks) != 1 {
		t.Fatalf("Pull() = %d, %v, want 1 task", len(tasks), err)
	}

	if _, err := s.Report(ctx, []Result{{TaskID: tasks[0].ID, Status: StatusDone, Method: "empty", CharCount: 0, Worker: "w1"}}); err != nil {
		t.Fatalf("Report: %v", err)
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Failed != 0 || stats.Methods["empty"] != 1 {
		t.Fatalf("GetStats() = %+v, want failed=0 methods[empty]=1", stats)
	}
}

// scenario 6: rate and ETA.
func TestRateAndETA(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Unix(1_700_000_000, 0)

	s.Now = func() time.Time { return base }
	if err := s.LogRate(ctx, 0); err != nil {
		t.Fatalf("LogRate: %v", err)
	}
	s.Now = func() time.Time { return base.Add(10 * time.Second) }
	if err := s.LogRate(ctx, 5); err != nil {
		t.Fatalf("LogRate: %v", err)
	}
	s.Now = func() time.Time { return base.Add(20 * time.Second) }
	if err := s.LogRate(ctx, 15); err != nil {
		t.Fatalf("LogRate: %v", err)
	}

	info, err := s.GetRateInfo(ctx, 30)
	if err != nil {
		t.Fatalf("GetRateInfo: %v", err)
	}
	if diff := info.RatePerSec - 0.75; diff < -0.001 || diff > 0.001 {
		t.Fatalf("RatePerSec = %f, want ~0.75", info.RatePerSec)
	}
	if diff := info.ETASeconds - 40; diff < -0.001 || diff > 0.001 {
		t.Fatalf("ETASeconds = %f, want 40", info.ETASeconds)
	}
	if len(info.History) != 2 || info.History[0] != 0.5 || info.History[1] != 1.0 {
		t.Fatalf("History = %v, want [0.5 1.0]", info.History)
	}
}

// P3: report is idempotent at the terminal state.
func TestReportIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.AddTasks(ctx, []Pair{{InputPath: "/src/a.pdf", OutputPath: "/out/a.txt"}}); err != nil {
		t.Fatalf("AddTasks: %v", err)
	}
	if err := s.RegisterWorker(ctx, "w1", "10.0.0.1", 4); err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}
	tasks, err := s.Pull(ctx, "w1", 10)
	if err != nil || len(tasks) != 1 {
		t.Fatalf("Pull: %d, %v", len(tasks), err)
	}

	result := Result{TaskID: tasks[0].ID, Status: StatusDone, Method: "pdftotext", CharCount: 123, Worker: "w1"}
	if _, err := s.Report(ctx, []Result{result}); err != nil {
		t.Fatalf("first Report: %v", err)
	}
	first, err := s.GetTask(ctx, tasks[0].ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}

	if _, err := s.Report(ctx, []Result{result}); err != nil {
		t.Fatalf("second Report: %v", err)
	}
	second, err := s.GetTask(ctx, tasks[0].ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}

	if first.Status != second.Status || *first.Method != *second.Method || first.CharCount != second.CharCount {
		t.Fatalf("report not idempotent: first=%+v second=%+v", first, second)
	}
}

// P6: get_stats().total == pending+assigned+done+failed at all times.
func TestStatsTotalInvariant(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	pairs := []Pair{
		{InputPath: "/src/a.pdf", OutputPath: "/out/a.txt"},
		{InputPath: "/src/b.pdf", OutputPath: "/out/b.txt"},
		{InputPath: "/src/c.pdf", OutputPath: "/out/c.txt"},
	}
	if _, err := s.AddTasks(ctx, pairs); err != nil {
		t.Fatalf("AddTasks: %v", err)
	}
	if err := s.RegisterWorker(ctx, "w1", "10.0.0.1", 4); err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}

	tasks, err := s.Pull(ctx, "w1", 2)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if _, err := s.Report(ctx, []Result{{TaskID: tasks[0].ID, Status: StatusDone, Method: "pdftotext", Worker: "w1"}}); err != nil {
		t.Fatalf("Report: %v", err)
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Total != stats.Pending+stats.Assigned+stats.Done+stats.Failed {
		t.Fatalf("stats invariant violated: %+v", stats)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
