// Package simstore provides an in-process record store with throttling.
//
// The store is split into partitions and routes each record by the FNV-1a
// hash of its id. Every partition owns a token bucket; writes beyond its
// capacity fail with the same failure shapes a hosted wide-column store
// reports under backpressure:
//
//   - Overloaded when the partition is over capacity or suspended
//   - InvalidState wrapping HTTP 429 for a configurable share of throttles
//   - NoHostAvailable with every endpoint overloaded once all partitions
//     are saturated
//
// # Basic Usage
//
//	s := simstore.New(simstore.Config{Partitions: 8, Rate: 500, Burst: 50})
//	defer s.Close()
//
//	if err := s.Write(ctx, rec); err != nil {
//	    class := throttle.Classify(err)
//	}
//
// # Chaos
//
// Chaos suspends random partitions on an interval so that a run sees bursts
// of overload even when the configured rate is generous:
//
//	c := simstore.NewChaos(s, simstore.DefaultChaosConfig())
//	c.Start(ctx)
//	defer c.Stop()
package simstore
