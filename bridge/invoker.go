package bridge

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental/table"

	"github.com/wippyai/hostbridge/errors"
)

// TableInvoker calls closure adapters and destructors through the module's
// function table. Adapters take (env, code, args...) as i32 and return
// nothing or one i32 handle; destructors take (env, code).
type TableInvoker struct {
	Module api.Module
	Table  uint32
}

// Invoke implements closure.Invoker.
func (t TableInvoker) Invoke(ctx context.Context, adapter, env, code uint32, args []uint64) ([]uint64, error) {
	params := make([]api.ValueType, 2+len(args))
	for i := range params {
		params[i] = api.ValueTypeI32
	}
	fn, err := t.lookup(adapter, params, nil)
	if err != nil {
		fn, err = t.lookup(adapter, params, []api.ValueType{api.ValueTypeI32})
		if err != nil {
			return nil, err
		}
	}
	stack := make([]uint64, 0, len(params))
	stack = append(stack, api.EncodeU32(env), api.EncodeU32(code))
	stack = append(stack, args...)
	return fn.Call(ctx, stack...)
}

// Destroy implements closure.Invoker.
func (t TableInvoker) Destroy(ctx context.Context, dtor, env, code uint32) error {
	fn, err := t.lookup(dtor, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil)
	if err != nil {
		return err
	}
	_, err = fn.Call(ctx, api.EncodeU32(env), api.EncodeU32(code))
	return err
}

// lookup resolves a table slot. The wazero lookup panics on a missing slot
// or a signature mismatch; that is reported as an error.
func (t TableInvoker) lookup(index uint32, params, results []api.ValueType) (fn api.Function, err error) {
	defer func() {
		if r := recover(); r != nil {
			fn = nil
			err = errors.New(errors.PhaseClosure, errors.KindNotFound).
				Value(index).
				Detail("table %d slot %d: %v", t.Table, index, r).
				Build()
		}
	}()
	if t.Module == nil {
		return nil, fmt.Errorf("table invoker has no module")
	}
	return table.LookupFunction(t.Module, t.Table, index, params, results), nil
}
