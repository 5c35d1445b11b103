package loadtest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"bulkload/internal/engine"
	"bulkload/internal/metrics"
	"bulkload/internal/store/simstore"
)

// Result はロードテストの実行結果
type Result struct {
	Name        string `json:"name"`
	Backend     string `json:"backend"`
	DataFile    string `json:"data_file"`
	Threads     int    `json:"threads"`
	MaxAttempts int    `json:"max_attempts"`

	Run         engine.RunMetrics `json:"run"`
	Attempts    metrics.Snapshot  `json:"attempts"`
	StoreStats  *simstore.Stats   `json:"store_stats,omitempty"`
	Interrupted bool              `json:"interrupted"`
}

// Report は結果をフォーマットして返す
func (r *Result) Report() string {
	var b strings.Builder

	fmt.Fprintf(&b, `
================================================================================
                         LOAD TEST REPORT: %s
================================================================================

EXECUTION SUMMARY
-----------------
  Backend:        %s
  Data File:      %s
  Threads:        %d
  Max Attempts:   %d
  Start Time:     %s
  End Time:       %s
  Duration:       %v
  Test took %d seconds
`,
		r.Name,
		r.Backend,
		r.DataFile,
		r.Threads,
		r.MaxAttempts,
		r.Run.StartTime.Format("2006-01-02 15:04:05"),
		r.Run.EndTime.Format("2006-01-02 15:04:05"),
		r.Run.Duration.Round(time.Millisecond),
		r.Run.DurationSeconds(),
	)
	if r.Interrupted {
		b.WriteString("  Status:         INTERRUPTED (best-effort counts)\n")
	}

	fmt.Fprintf(&b, `
TASK OUTCOMES
-------------
  Total Records:    %d
  Succeeded:        %d
  Exhausted:        %d
  Fatal:            %d
  Unknown:          %d
  Interrupted:      %d

WRITE ATTEMPTS
--------------
  Total Attempts:   %d
  Failed:           %d
  Throttled:        %d
  Error Rate:       %.2f%%
  Avg Latency:      %v
  P99 Latency:      %v
  Total Backoff:    %v
`,
		r.Run.Total,
		r.Run.Succeeded,
		r.Run.Exhausted,
		r.Run.Fatal,
		r.Run.Unknown,
		r.Run.Interrupted,
		r.Attempts.TotalAttempts,
		r.Attempts.FailedAttempts,
		r.Attempts.Throttled,
		r.Attempts.ErrorRate*100,
		r.Attempts.AverageLatency.Round(time.Microsecond),
		r.Attempts.P99Latency.Round(time.Microsecond),
		r.Run.BackoffTime.Round(time.Millisecond),
	)

	if r.StoreStats != nil {
		fmt.Fprintf(&b, `
STORE STATISTICS
----------------
  Partitions:       %d
  Stored:           %d
  Overloaded:       %d
  Gateway 429:      %d
  No Host:          %d
  Rejected:         %d
`,
			r.StoreStats.PartitionCnt,
			r.StoreStats.Stored,
			r.StoreStats.Overloaded,
			r.StoreStats.Gateway429,
			r.StoreStats.NoHost,
			r.StoreStats.Rejected,
		)
	}

	if len(r.Attempts.Outcomes) > 0 {
		b.WriteString("\nOUTCOME COUNTERS\n----------------\n")
		names := make([]string, 0, len(r.Attempts.Outcomes))
		for name := range r.Attempts.Outcomes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "  %-18s %d\n", name+":", r.Attempts.Outcomes[name])
		}
	}

	b.WriteString("\n================================================================================")
	return b.String()
}
