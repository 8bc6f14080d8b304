// Package engine runs bridge modules on wazero.
//
// An Engine holds one wazero runtime with the "bridge" host module and a
// provider module that defines the linear memory every instance of a program
// imports (by default env.memory). With threads enabled the memory is shared,
// so the main instance and its workers see the same bytes.
//
// # Architecture
//
//	Engine    - runtime, host module, shared memory, wait/notify queues
//	Module    - a compiled module whose bridge imports have been checked
//	Instance  - a running instance with its own handle table and closures
//
// # Instantiation Flow
//
//  1. Engine.Load compiles the module and reports unresolved bridge imports
//  2. Module.Instantiate creates the main instance with an event loop
//  3. The instance is bound to its memory and allocator exports lazily, on
//     the first host call, so start functions can already cross the boundary
//  4. bridge_start is called with the configured stack size when exported
//
// # Worker Pools
//
// A module starts workers by calling start_workers with the handles of its
// module and memory and a pointer to a pool builder. The engine reads the
// builder through the bridge_poolbuilder_* exports, instantiates one worker
// instance per thread against the same memory and runs bridge_start_worker
// on each. Readiness arrives on the main event loop; drive it with Await or
// RunPending.
//
//	p, _ := inst.Call(ctx, "start_pool", builderPtr)
//	promise, _ := inst.Value(uint32(p[0]))
//	pool, err := inst.Await(ctx, promise.(*eventloop.Promise))
//
// # Configuration
//
// Config is read from TOML by LoadConfig:
//
//	memory-module = "env"
//	initial-pages = 17
//	max-pages = 16384
//	threads = true
//	max-workers = 8
//	stack-size = 1048576
//	debug = false
//
// # Thread Safety
//
// Engine and Module may be shared. An Instance belongs to one goroutine;
// worker instances belong to the pool's goroutines.
package engine
