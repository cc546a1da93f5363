// Replay tool for running recorded login and access events through Kestrel.
//
// Usage:
//
//	go run ./cmd/replay -csv events.csv -url http://localhost:8080
//
// This tool:
//  1. Reads login and access events from a CSV file, oldest first
//  2. Sends each event to the scoring API, keeping each subject's events in order
//  3. Prints the action distribution, latency percentiles and, when the file
//     carries a label column, how many known bad events were flagged
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Results tracks replay outcomes.
type Results struct {
	mu        sync.Mutex
	Actions   map[domain.Action]int
	Latencies []time.Duration
	Errors    int

	// Confusion counts for labelled rows. Any action above allow counts as
	// a detection.
	TruePositives  int
	FalsePositives int
	TrueNegatives  int
	FalseNegatives int
}

func newResults() *Results {
	return &Results{Actions: make(map[domain.Action]int)}
}

func (r *Results) record(rec Record, resp *api.ScoreResponse, elapsed time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Latencies = append(r.Latencies, elapsed)
	if err != nil {
		r.Errors++
		return
	}
	r.Actions[resp.Action]++

	if !rec.Labelled {
		return
	}
	detected := resp.Action != domain.ActionAllow
	switch {
	case detected && rec.Suspicious:
		r.TruePositives++
	case detected && !rec.Suspicious:
		r.FalsePositives++
	case !detected && !rec.Suspicious:
		r.TrueNegatives++
	default:
		r.FalseNegatives++
	}
}

func main() {
	csvPath := flag.String("csv", "", "Path to the events CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	limit := flag.Int("limit", 0, "Maximum events to replay (0 = all)")
	workers := flag.Int("workers", 8, "Number of concurrent subject lanes")
	verbose := flag.Bool("verbose", false, "Print each event result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: replay -csv events.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: 10 * time.Second}
	if err := checkHealth(ctx, client, *baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}

	file, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	records, skipped, err := ReadRecords(file, *limit)
	file.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d events from %s (%d rows skipped)\n", len(records), *csvPath, skipped)

	start := time.Now()
	results, err := replay(ctx, client, *baseURL, records, *workers, *verbose)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
	}
	printResults(results, time.Since(start))
}

func checkHealth(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// replay fans records out to lanes by subject. Each lane sends its events
// one at a time, so a subject's profile sees them in the order they happened.
func replay(ctx context.Context, client *http.Client, baseURL string, records []Record, lanes int, verbose bool) (*Results, error) {
	if lanes <= 0 {
		lanes = 1
	}
	results := newResults()

	queues := make([]chan Record, lanes)
	for i := range queues {
		queues[i] = make(chan Record, 64)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range queues {
		q := q
		g.Go(func() error {
			for rec := range q {
				if gctx.Err() != nil {
					continue
				}
				t0 := time.Now()
				resp, err := score(gctx, client, baseURL, rec.Event)
				elapsed := time.Since(t0)
				results.record(rec, resp, elapsed, err)

				if verbose {
					if err != nil {
						fmt.Printf("line %d %-12s ERROR %v\n", rec.Line, rec.Event.SubjectID, err)
					} else {
						fmt.Printf("line %d %-12s %-11s %-14s score=%.2f indicators=%d\n",
							rec.Line, rec.Event.SubjectID, rec.Event.Category, resp.Action, resp.RiskScore, len(resp.Indicators))
					}
				}
			}
			return nil
		})
	}

	for _, rec := range records {
		queues[worker.ShardFor(rec.Event.SubjectID, lanes)] <- rec
	}
	for _, q := range queues {
		close(q)
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

func score(ctx context.Context, client *http.Client, baseURL string, ev domain.Event) (*api.ScoreResponse, error) {
	var (
		path string
		body any
	)
	switch ev.Category {
	case domain.CategoryLogin:
		path = "/v1/score/login"
		body = api.LoginRequest{UserID: ev.SubjectID, LoginContext: *ev.Login, OccurredAt: &ev.OccurredAt}
	case domain.CategoryAccessScan:
		path = "/v1/score/access"
		body = api.AccessRequest{AccessContext: *ev.Access, OccurredAt: &ev.OccurredAt}
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownEventCategory, ev.Category)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result api.ScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(r *Results, duration time.Duration) {
	total := len(r.Latencies)

	fmt.Println()
	fmt.Println("REPLAY RESULTS")
	fmt.Println()
	fmt.Printf("  Events:        %d\n", total)
	fmt.Printf("  Errors:        %d\n", r.Errors)

	fmt.Println("\n  ACTIONS")
	for _, a := range []domain.Action{domain.ActionAllow, domain.ActionFlag, domain.ActionManualReview, domain.ActionBlock} {
		n := r.Actions[a]
		pct := 0.0
		if total > 0 {
			pct = 100 * float64(n) / float64(total)
		}
		fmt.Printf("  %-14s %8d  (%.2f%%)\n", a, n, pct)
	}

	labelled := r.TruePositives + r.FalsePositives + r.TrueNegatives + r.FalseNegatives
	if labelled > 0 {
		precision, recall := 0.0, 0.0
		if r.TruePositives+r.FalsePositives > 0 {
			precision = float64(r.TruePositives) / float64(r.TruePositives+r.FalsePositives)
		}
		if r.TruePositives+r.FalseNegatives > 0 {
			recall = float64(r.TruePositives) / float64(r.TruePositives+r.FalseNegatives)
		}
		fmt.Println("\n  LABELLED EVENTS")
		fmt.Printf("  Detected:      %d / %d known bad\n", r.TruePositives, r.TruePositives+r.FalseNegatives)
		fmt.Printf("  False alarms:  %d / %d known good\n", r.FalsePositives, r.FalsePositives+r.TrueNegatives)
		fmt.Printf("  Precision:     %.4f\n", precision)
		fmt.Printf("  Recall:        %.4f\n", recall)
	}

	sorted := slices.Clone(r.Latencies)
	slices.Sort(sorted)
	fmt.Println("\n  PERFORMANCE")
	fmt.Printf("  Duration:      %v\n", duration.Round(time.Millisecond))
	if total > 0 {
		fmt.Printf("  p50:           %v\n", Percentile(sorted, 50).Round(time.Microsecond))
		fmt.Printf("  p95:           %v\n", Percentile(sorted, 95).Round(time.Microsecond))
		fmt.Printf("  p99:           %v\n", Percentile(sorted, 99).Round(time.Microsecond))
		fmt.Printf("  Throughput:    %.2f events/sec\n", float64(total)/duration.Seconds())
	}
	fmt.Println()
}
