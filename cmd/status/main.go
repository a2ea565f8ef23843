// cmd/status is a terminal status printer, grounded on
// original_source/hive/status.py's print_status: a progress bar, rate/ETA
// line, and a worker table, polled once or repeatedly with --watch.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"
)

type statsResponse struct {
	Total      int                `json:"total"`
	Pending    int                `json:"pending"`
	Assigned   int                `json:"assigned"`
	Done       int                `json:"done"`
	Failed     int                `json:"failed"`
	Methods    map[string]int     `json:"methods"`
	RatePerSec float64            `json:"rate_per_sec"`
	ETASeconds float64            `json:"eta_seconds"`
	Workers    []workerStatusView `json:"workers"`
}

type workerStatusView struct {
	Name           string `json:"name"`
	Cores          int    `json:"cores"`
	LastSeen       int64  `json:"last_seen"`
	TasksCompleted int64  `json:"tasks_completed"`
	TasksFailed    int64  `json:"tasks_failed"`
}

func main() {
	coordinatorAddr := flag.String("coordinator", "", "coordinator host:port")
	watch := flag.Bool("watch", false, "poll every 5s and clear the screen between refreshes")
	flag.Parse()

	if *coordinatorAddr == "" {
		fmt.Fprintln(os.Stderr, "--coordinator is required")
		os.Exit(1)
	}
	url := normalizeURL(*coordinatorAddr)
	os.Exit(run(url, *watch))
}

func run(url string, watch bool) int {
	client := &http.Client{Timeout: 10 * time.Second}
	for {
		stats, err := fetchStats(client, url)
		if err != nil {
			fmt.Printf("Error connecting to coordinator: %v\n", err)
			if !watch {
				return 1
			}
			time.Sleep(5 * time.Second)
			continue
		}

		if watch {
			fmt.Print("\033[2J\033[H")
		}
		printStatus(stats)

		if !watch {
			return 0
		}
		time.Sleep(5 * time.Second)
	}
}

func fetchStats(client *http.Client, url string) (*statsResponse, error) {
	resp, err := client.Get(url + "/tasks/stats")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var stats statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func printStatus(s *statsResponse) {
	pct := 0.0
	if s.Total > 0 {
		pct = float64(s.Done) / float64(s.Total) * 100
	}
	const barWidth = 40
	filled := int(barWidth * pct / 100)
	bar := strings.Repeat("#", filled) + strings.Repeat("-", barWidth-filled)

	fmt.Println("HIVE - Cluster Status")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("  Total: %10d    Done: %10d\n", s.Total, s.Done)
	fmt.Printf("  Speed: %9.1f/s    ETA:  %10s\n", s.RatePerSec, fmtETA(s.ETASeconds))
	fmt.Printf("\n  [%s] %.1f%%\n", bar, pct)
	fmt.Printf("\n  pending: %d  assigned: %d  failed: %d\n", s.Pending, s.Assigned, s.Failed)

	if len(s.Methods) > 0 {
		keys := make([]string, 0, len(s.Methods))
		for k := range s.Methods {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s: %d", k, s.Methods[k])
		}
		fmt.Printf("  methods: %s\n", strings.Join(parts, ", "))
	}

	if len(s.Workers) > 0 {
		fmt.Printf("\n  Workers (%d):\n", len(s.Workers))
		fmt.Printf("  %-15s %5s %10s %8s %-10s\n", "Name", "Cores", "Done", "Failed", "Status")
		now := time.Now().Unix()
		for _, w := range s.Workers {
			age := int64(999)
			if w.LastSeen > 0 {
				age = now - w.LastSeen
			}
			status := "stale"
			if age < 60 {
				status = "working"
			}
			fmt.Printf("  %-15s %5d %10d %8d %-10s\n", w.Name, w.Cores, w.TasksCompleted, w.TasksFailed, status)
		}
	}
	fmt.Println()
}

func fmtETA(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	total := int64(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

func normalizeURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}
