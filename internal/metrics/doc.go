// Package metrics provides write-attempt and task-outcome metrics for load
// test runs.
//
// Metrics collects statistics about write latency, success/failure rates,
// backoff waits and terminal task outcomes. It is thread-safe and built on
// atomic counters for the hot path.
//
// # Basic Usage
//
//	m := metrics.New()
//
//	start := time.Now()
//	err := store.Write(ctx, rec)
//	if err != nil {
//	    m.RecordFailure(time.Since(start))
//	} else {
//	    m.RecordSuccess(time.Since(start))
//	}
//	m.RecordOutcome("succeeded")
//
//	snap := m.Snapshot()
//	fmt.Printf("Attempts: %d, P99: %v\n", snap.TotalAttempts, snap.P99Latency)
//
// # Prometheus
//
// Attach a Collector to mirror every record into Prometheus collectors:
//
//	c := metrics.MustNewCollector(prometheus.DefaultRegisterer)
//	m.Attach(c)
//
// The exported series are prefixed with "bulkload_": write_attempts_total,
// failure_classifications_total, task_outcomes_total, write_latency_seconds,
// backoff_seconds, run_duration_seconds and tasks_in_flight.
package metrics
