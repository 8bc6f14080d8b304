// Package bridge implements the "bridge" import module: the host functions a
// module calls to create, inspect and drop host values, exchange text,
// hand over closures and start a worker pool.
//
// # Architecture
//
// A Host is the set of function definitions. It is instantiated once per
// wazero runtime and shared by every module instance that imports it.
// Per-instance state lives in a Context, which travels with the call:
//
//	c := bridge.NewContext(bridge.Options{Name: "app", Loop: loop})
//	ctx = bridge.WithContext(ctx, c)
//	results, err := fn.Call(ctx, args...) // host functions see c
//
// A Context owns the instance's handle table, memory view, marshaler and
// closure registry. It is bound to the module instance on first use through
// Options.Bind, so host functions called from a start section already see
// the allocator and memory exports.
//
// # Errors
//
// A host function returns an error to fail. When its definition has Catch
// set and the Context has a Sink, the error is stored in the handle table and
// passed to the module's error sink export; the function then returns zero
// results. Otherwise the error panics out of the host function and wazero
// turns it into a trap of the enclosing call.
//
// # Custom functions
//
// Applications add their own imports with Define:
//
//	host := bridge.NewHost()
//	err := host.Define(bridge.Def{
//	    Name:    "now",
//	    Results: []api.ValueType{api.ValueTypeF64},
//	    Fn: func(ctx context.Context, c *bridge.Context, stack []uint64) error {
//	        stack[0] = api.EncodeF64(float64(time.Now().UnixMilli()))
//	        return nil
//	    },
//	})
//
// # Thread Safety
//
// A Context must only be used from its instance's call sequence. The Host is
// immutable after instantiation and safe to share across workers.
package bridge
