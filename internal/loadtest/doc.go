// Package loadtest wires a dataset, a record store and the engine into one
// runnable load test.
//
// A Config names the data file, the engine knobs (threads, max attempts,
// backoff base) and the backend to write to: the in-process simulation, Redis
// or Cassandra. Runner reads the dataset, builds the store, runs the engine
// and collects a Result:
//
//	r := loadtest.NewRunner(config)
//	result, err := r.Run(ctx)
//	if err != nil && result == nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Report())
//
// A dataset that cannot be read fails the run before any write is issued.
// An interrupted run still returns a Result with best-effort counts.
//
// # Presets
//
// Named presets configure the simulation backend for common situations:
// basic, throttled, gateway, chaos and quick.
package loadtest
