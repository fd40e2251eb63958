// Package loadtest drives a storage service with concurrent writers and
// readers and reports per-operation latency.
//
// It checks the two promises the service makes under contention: writes are
// visible to the writer as soon as SaveLog returns, and reads never block on
// persistence.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/mindlog/mindlog/internal/logstore/schema"
)

// Target is the part of the storage service under load.
// *service.Service satisfies it.
type Target interface {
	SaveLog(p schema.Partition, payload map[string]any) *schema.LogEntry
	GetLogs(p schema.Partition) []*schema.LogEntry
	GetAllLogs() []*schema.LogEntry
	Flush(ctx context.Context) error
}

// Config shapes a run.
type Config struct {
	Writers      int   // goroutines calling SaveLog
	Readers      int   // goroutines calling GetAllLogs
	OpsPerWorker int   // operations per goroutine
	Seed         int64 // payload generator seed
}

// DefaultConfig returns a moderate workload.
func DefaultConfig() Config {
	return Config{Writers: 8, Readers: 8, OpsPerWorker: 200, Seed: 42}
}

// LatencyStats captures performance metrics for one operation.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration // Median
	P95          time.Duration
	P99          time.Duration
	TotalQueries int
	Errors       int
	Durations    []time.Duration
}

// Report is the outcome of Run.
type Report struct {
	Save    *LatencyStats
	Read    *LatencyStats
	Elapsed time.Duration // wall time including the final flush
	Saved   int           // entries SaveLog accepted
}

var tools = []string{"Journal", "Gratitude", "Breathing", "Values", "Compass"}

// GeneratePayload builds a plausible exercise payload.
func GeneratePayload(rng *rand.Rand, i int) map[string]any {
	return map[string]any{
		"tool":    tools[rng.Intn(len(tools))],
		"mood":    rng.Intn(10) + 1,
		"text":    fmt.Sprintf("load entry %d", i),
		"minutes": rng.Intn(30),
	}
}

// Run executes the workload against target and waits for persistence.
//
// A write counts as an error when SaveLog returns nil or the entry is not in
// its partition right after the call.
func Run(ctx context.Context, target Target, cfg Config) (*Report, error) {
	if cfg.Writers <= 0 && cfg.Readers <= 0 {
		return nil, fmt.Errorf("nothing to run: no writers or readers")
	}
	if cfg.OpsPerWorker <= 0 {
		return nil, fmt.Errorf("ops per worker must be positive")
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		saves    []time.Duration
		reads    []time.Duration
		saveErrs int
		readErrs int
		saved    int
		start    = time.Now()
	)

	for w := 0; w < cfg.Writers; w++ {
		wg.Add(1)
		go func(writerID int) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(cfg.Seed + int64(writerID)))
			p := schema.Partitions[writerID%len(schema.Partitions)]
			durations := make([]time.Duration, 0, cfg.OpsPerWorker)
			errs, ok := 0, 0

			for i := 0; i < cfg.OpsPerWorker && ctx.Err() == nil; i++ {
				t0 := time.Now()
				entry := target.SaveLog(p, GeneratePayload(rng, i))
				durations = append(durations, time.Since(t0))

				if entry == nil || !contains(target.GetLogs(p), entry.UUID) {
					errs++
					continue
				}
				ok++
			}

			mu.Lock()
			saves = append(saves, durations...)
			saveErrs += errs
			saved += ok
			mu.Unlock()
		}(w)
	}

	for r := 0; r < cfg.Readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			durations := make([]time.Duration, 0, cfg.OpsPerWorker)
			errs := 0
			for i := 0; i < cfg.OpsPerWorker && ctx.Err() == nil; i++ {
				t0 := time.Now()
				all := target.GetAllLogs()
				durations = append(durations, time.Since(t0))

				if !newestFirst(all) {
					errs++
				}
			}

			mu.Lock()
			reads = append(reads, durations...)
			readErrs += errs
			mu.Unlock()
		}()
	}

	wg.Wait()
	if err := target.Flush(ctx); err != nil {
		return nil, fmt.Errorf("flush failed: %w", err)
	}

	report := &Report{
		Save:    computeLatencyStats(saves),
		Read:    computeLatencyStats(reads),
		Elapsed: time.Since(start),
		Saved:   saved,
	}
	report.Save.Errors = saveErrs
	report.Read.Errors = readErrs
	return report, ctx.Err()
}

// Verify checks the service's merged view after a run: wantAtLeast entries,
// unique uuids and newest-first order.
func Verify(target Target, wantAtLeast int) error {
	all := target.GetAllLogs()
	if len(all) < wantAtLeast {
		return fmt.Errorf("found %d entries, want at least %d", len(all), wantAtLeast)
	}
	seen := make(map[string]bool, len(all))
	for _, e := range all {
		if e.UUID == "" {
			continue
		}
		if seen[e.UUID] {
			return fmt.Errorf("duplicate uuid %s", e.UUID)
		}
		seen[e.UUID] = true
	}
	if !newestFirst(all) {
		return fmt.Errorf("entries are not newest first")
	}
	return nil
}

func contains(entries []*schema.LogEntry, uuid string) bool {
	for _, e := range entries {
		if e.UUID == uuid {
			return true
		}
	}
	return false
}

func newestFirst(entries []*schema.LogEntry) bool {
	for i := 1; i < len(entries); i++ {
		if entries[i].CreatedAt.After(entries[i-1].CreatedAt) {
			return false
		}
	}
	return true
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(durations)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalQueries: len(durations),
		Durations:    sorted,
	}
}

// Print writes the statistics under a heading.
func (s *LatencyStats) Print(w io.Writer, heading string) {
	fmt.Fprintf(w, "%s:\n", heading)
	fmt.Fprintf(w, "  Total:         %d\n", s.TotalQueries)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}

// Print writes the whole report.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "Saved %d entries in %v\n", r.Saved, r.Elapsed)
	r.Save.Print(w, "SaveLog latency")
	r.Read.Print(w, "GetAllLogs latency")
}
