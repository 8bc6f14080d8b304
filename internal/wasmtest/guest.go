package wasmtest

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/hostbridge/internal/wasmbin"
)

// Fixed addresses the guest writes to.
const (
	// AddrError receives the handle passed to bridge_exn_store.
	AddrError = 0
	// AddrStackSize receives the argument of bridge_start.
	AddrStackSize = 16
	// HeapBase is where bridge_malloc starts allocating.
	HeapBase = 4096
)

// Closure table slots and the code value make_closure passes.
const (
	SlotAdapter = 0
	SlotDtor    = 1
	ClosureCode = 7
)

// GuestConfig describes the memory the guest imports.
type GuestConfig struct {
	MemoryModule string
	MinPages     uint32
	MaxPages     uint32
	Shared       bool
}

var (
	i32 = api.ValueTypeI32
	f64 = api.ValueTypeF64
)

func types(ts ...api.ValueType) []api.ValueType { return ts }

// Guest builds a module that speaks the bridge ABI. Its exports:
//
//	bridge_malloc, bridge_free, bridge_exn_store, bridge_start
//	greet(ptr, len) -> handle           string_new
//	make_closure(env) -> handle         closure_new(env, ClosureCode, SlotDtor, SlotAdapter)
//	drop_closure(handle) -> i32         cb_drop
//	call_fn(fn, arg) -> handle          closure_call
//	fail(ptr, len)                      throw
//	drop(handle)                        object_drop_ref
//	start_pool(builder) -> handle       start_workers(module(), memory(), builder)
//	bridge_start_worker(addr)           wait(addr, 0, forever)
//	bridge_poolbuilder_*                over a record {threads, receiver, built, freed}
//
// The adapter stores its argument handle at env; the destructor stores the
// closure code at env+4.
func Guest(cfg GuestConfig) []byte {
	b := wasmbin.NewBuilder()

	stringNew := b.ImportFunc("bridge", "string_new", types(i32, i32), types(i32))
	dropRef := b.ImportFunc("bridge", "object_drop_ref", types(i32), nil)
	closureNew := b.ImportFunc("bridge", "closure_new", types(i32, i32, i32, i32), types(i32))
	closureCall := b.ImportFunc("bridge", "closure_call", types(i32, i32), types(i32))
	cbDrop := b.ImportFunc("bridge", "cb_drop", types(i32), types(i32))
	throw := b.ImportFunc("bridge", "throw", types(i32, i32), nil)
	wait := b.ImportFunc("bridge", "wait", types(i32, i32, f64), types(i32))
	startWorkers := b.ImportFunc("bridge", "start_workers", types(i32, i32, i32), types(i32))
	module := b.ImportFunc("bridge", "module", nil, types(i32))
	mem := b.ImportFunc("bridge", "memory", nil, types(i32))

	b.ImportMemory(cfg.MemoryModule, "memory", wasmbin.Limits{
		Min:    cfg.MinPages,
		Max:    cfg.MaxPages,
		HasMax: true,
		Shared: cfg.Shared,
	})
	top := b.Global(i32, true, HeapBase)

	exports := map[string]uint32{}
	def := func(name string, params, results []api.ValueType, body ...[]byte) uint32 {
		idx := b.Func(params, results, nil, wasmbin.Code(body...))
		if name != "" {
			exports[name] = idx
		}
		return idx
	}
	get := wasmbin.LocalGet

	def("bridge_malloc", types(i32, i32), types(i32),
		wasmbin.GlobalGet(top), wasmbin.GlobalGet(top), get(0), wasmbin.I32Add, wasmbin.GlobalSet(top))
	def("bridge_free", types(i32, i32, i32), nil)
	def("bridge_exn_store", types(i32), nil,
		wasmbin.I32Const(AddrError), get(0), wasmbin.I32Store(0))
	def("bridge_start", types(i32), nil,
		wasmbin.I32Const(AddrStackSize), get(0), wasmbin.I32Store(0))

	adapter := def("", types(i32, i32, i32), nil, get(0), get(2), wasmbin.I32Store(0))
	dtor := def("", types(i32, i32), nil, get(0), get(1), wasmbin.I32Store(4))
	b.Table(adapter, dtor)

	def("greet", types(i32, i32), types(i32), get(0), get(1), wasmbin.Call(stringNew))
	def("make_closure", types(i32), types(i32),
		get(0), wasmbin.I32Const(ClosureCode), wasmbin.I32Const(SlotDtor), wasmbin.I32Const(SlotAdapter),
		wasmbin.Call(closureNew))
	def("drop_closure", types(i32), types(i32), get(0), wasmbin.Call(cbDrop))
	def("call_fn", types(i32, i32), types(i32), get(0), get(1), wasmbin.Call(closureCall))
	def("fail", types(i32, i32), nil, get(0), get(1), wasmbin.Call(throw))
	def("drop", types(i32), nil, get(0), wasmbin.Call(dropRef))

	def("start_pool", types(i32), types(i32),
		wasmbin.Call(module), wasmbin.Call(mem), get(0), wasmbin.Call(startWorkers))
	def("bridge_start_worker", types(i32), nil,
		get(0), wasmbin.I32Const(0), f64Const(-1), wasmbin.Call(wait), wasmbin.Drop)

	def("bridge_poolbuilder_main_entry", types(i32), types(i32), wasmbin.I32Const(128))
	def("bridge_poolbuilder_num_threads", types(i32), types(i32), get(0), wasmbin.I32Load(0))
	def("bridge_poolbuilder_receiver", types(i32), types(i32), get(0), wasmbin.I32Load(4))
	def("bridge_poolbuilder_build", types(i32), nil, get(0), wasmbin.I32Const(1), wasmbin.I32Store(8))
	def("bridge_poolbuilder_free", types(i32, i32), nil, get(0), wasmbin.I32Const(1), wasmbin.I32Store(12))

	for name, idx := range exports {
		b.Export(name, wasmbin.KindFunc, idx)
	}
	return b.Build()
}

// f64Const pushes a double. Only -1 is needed.
func f64Const(v float64) []byte {
	if v != -1 {
		panic("wasmtest: unsupported f64 constant")
	}
	return []byte{0x44, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xf0, 0xbf}
}
