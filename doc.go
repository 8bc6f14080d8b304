// Package hostbridge is a Go host for WebAssembly modules that reference
// host-side values through an opaque handle ABI.
//
// The module cannot allocate or inspect Go values. Instead it holds small
// integer handles into a per-instance table, exchanges UTF-8 text through its
// linear memory, hands the host ref-counted closures to call back later and
// can bootstrap a pool of worker instances that share one linear memory.
//
// # Architecture Overview
//
//	hostbridge/         Root package with the Memory and Allocator interfaces
//	├── errors/         Structured error types (phase + kind)
//	├── memory/         Growable views over linear memory
//	├── resource/       Handle table with reserved singleton handles
//	├── marshal/        Strict UTF-8 text marshaling across the boundary
//	├── closure/        Ref-counted closure adapter with GC fallback
//	├── atomics/        Wait/notify on shared memory words
//	├── eventloop/      Cooperative main-context loop and promises
//	├── pool/           Worker pool bootstrap protocol
//	├── bridge/         The "bridge" import module and per-instance context
//	├── engine/         wazero integration, shared memory and workers
//	├── internal/       Module binary builder and test guests
//	└── cmd/run/        Command line runner and inspector
//
// # Quick Start
//
//	eng, err := engine.New(ctx, engine.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close(ctx)
//
//	mod, err := eng.Load(ctx, "app", wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	inst, err := mod.Instantiate(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close(ctx)
//
// # Thread Safety
//
// Engine and Module are safe for concurrent use. An Instance, its handle
// table and its closures belong to one goroutine: the main instance to the
// event loop, each worker instance to its worker goroutine.
package hostbridge
