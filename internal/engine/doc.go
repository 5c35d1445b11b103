// Package engine runs bulk-write load tests against a record store.
//
// An Engine shuffles a batch of records, dispatches one WriteTask per record
// onto a bounded worker pool and waits until every task is terminal. Each task
// retries its own write while the store reports throttling, waiting an
// exponentially growing backoff between attempts, and gives up after
// MaxAttempts.
//
//	e := engine.New(st, engine.DefaultConfig())
//	rm, err := e.RunLoadTest(ctx, batch)
//	if errors.Is(err, engine.ErrWaitInterrupted) {
//	    // rm holds best-effort counts up to the interruption
//	}
//	fmt.Printf("Test took %d seconds\n", rm.DurationSeconds())
//
// Individual write failures never fail a run; they are counted as exhausted,
// fatal, unknown or interrupted outcomes in RunMetrics.
package engine
