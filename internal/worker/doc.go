// Package worker provides a bounded goroutine pool and a completion tracker
// for fan-out/fan-in batches.
//
// The Pool manages a fixed number of worker goroutines that process jobs
// from a shared queue. Submit blocks while the queue is full, which gives the
// dispatcher natural back-pressure.
//
// # Basic Usage
//
//	pool := worker.NewPool(64)
//	pool.Start(ctx)
//	defer pool.Stop()
//
//	tracker := worker.NewTracker(len(items))
//	for _, item := range items {
//	    pool.Submit(ctx, func() {
//	        defer tracker.Done()
//	        process(item)
//	    })
//	}
//	err := tracker.Wait(ctx) // wraps ErrWaitInterrupted on cancellation
//
// # Configuration
//
// Use NewPoolWithConfig for custom settings:
//
//	config := worker.PoolConfig{
//	    NumWorkers:  8,
//	    QueueFactor: 16, // Queue size = 8 * 16 = 128
//	}
//	pool := worker.NewPoolWithConfig(config)
//
// # Shutdown
//
// Stop() stops accepting jobs and waits for the queue to drain.
// Shutdown() stops accepting jobs and returns immediately; queued jobs are
// still run by the workers in the background. Cancelling the context passed
// to Start() triggers Shutdown().
package worker
