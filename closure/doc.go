// Package closure wraps module closures as callable host values.
//
// A module closure is an (env, code) pointer pair plus the function table
// index of its destructor. Wrap returns a Closure with a reference count of
// one. Each Call raises the count, clears env for the duration of the call
// so a reentrant call or drop cannot destroy the environment underneath it,
// and lowers the count afterwards on every exit path including errors and
// panics. When the count reaches zero the destructor runs exactly once with
// the original env and code.
//
// Drop releases the module's reference. If no call is in flight the
// destructor runs immediately; otherwise it runs when the last call returns.
//
// A cleanup registered with runtime.AddCleanup covers closures that become
// unreachable without being dropped. The cleanup only queues the state;
// Drain runs the queued destructors on the goroutine that owns the module
// instance, and skips any state whose count already reached zero.
package closure
