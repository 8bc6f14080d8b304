// Package pool bootstraps a set of workers that share one linear memory.
//
// Start reads the pool descriptor from the module's pool builder, spawns
// one worker per requested thread and returns a promise that settles on
// the main event loop:
//
//	Requested  descriptor read, capability checked
//	Spawning   each worker goroutine creates its own module instance
//	Starting   the worker reports ready and enters the worker entry once
//	Running    all workers ready; Build and Release ran on the main loop
//	TornDown   Close cancelled the workers and joined them
//
// The main loop never blocks: readiness is a host-side cell that workers
// increment and notify, and the loop re-arms an async wait on it until it
// reaches the thread count.
//
// A request for zero threads, or from a host whose Spawner reports no
// parallel support, rejects with UnsupportedConcurrency and spawns
// nothing. A failed spawn cancels the group, closes every worker spawned
// so far and rejects the promise.
package pool
