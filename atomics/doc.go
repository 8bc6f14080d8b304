// Package atomics implements wait/notify on 32-bit cells shared between the
// main context and worker contexts.
//
// A Cell is either a word in module memory (At) or a host-side counter
// (NewCell). Waiters register with a Notifier under its lock and re-check
// the cell value there, so a Notify issued after the value changed is
// never lost.
//
// Two Waiter implementations share one interface:
//
//	Blocking  parks the calling goroutine; used on worker contexts
//	Async     returns at once and posts the result to an event loop; used
//	          on the main context, which must never block
package atomics
