package bridge

import (
	"context"
	stderrors "errors"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/hostbridge/closure"
	"github.com/wippyai/hostbridge/errors"
	"github.com/wippyai/hostbridge/eventloop"
	"github.com/wippyai/hostbridge/resource"
)

func callbackDefs() []Def {
	return []Def{
		{
			// throw(ptr, len) fails the enclosing call with the message.
			Name:   "throw",
			Params: []api.ValueType{i32, i32},
			Fn: func(_ context.Context, c *Context, stack []uint64) error {
				msg, err := c.Marshal.Decode(api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
				if err != nil {
					return err
				}
				return stderrors.New(msg)
			},
		},
		{
			// rethrow(handle) takes a stored error and fails with it.
			Name:   "rethrow",
			Params: []api.ValueType{i32},
			Fn: func(_ context.Context, c *Context, stack []uint64) error {
				v, err := c.Heap.Take(handleAt(stack, 0))
				if err != nil {
					return err
				}
				return errorValue(v)
			},
		},
		{
			Name:    "error_new",
			Params:  []api.ValueType{i32, i32},
			Results: []api.ValueType{i32},
			Fn: func(_ context.Context, c *Context, stack []uint64) error {
				msg, err := c.Marshal.Decode(api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
				if err != nil {
					return err
				}
				putHandle(stack, c.Heap.Alloc(stderrors.New(msg)))
				return nil
			},
		},
		{
			// closure_new(env, code, dtor, adapter) wraps a module closure.
			Name:    "closure_new",
			Params:  []api.ValueType{i32, i32, i32, i32},
			Results: []api.ValueType{i32},
			Fn: func(_ context.Context, c *Context, stack []uint64) error {
				env, code := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
				dtor, adapter := api.DecodeU32(stack[2]), api.DecodeU32(stack[3])
				if env == 0 {
					return errors.InvalidInput(errors.PhaseClosure, "closure environment pointer is null")
				}
				cl := c.Closures.Wrap(env, code, dtor, adapter)
				putHandle(stack, c.Heap.Alloc(cl))
				return nil
			},
		},
		{
			// cb_drop(handle) takes the closure handle and drops the module's
			// reference. It returns 1 when the destructor ran.
			Name:    "cb_drop",
			Params:  []api.ValueType{i32},
			Results: []api.ValueType{i32},
			Fn: func(ctx context.Context, c *Context, stack []uint64) error {
				cl, err := resource.As[*closure.Closure](c.Heap, handleAt(stack, 0))
				if err != nil {
					return err
				}
				if err := c.Heap.Release(handleAt(stack, 0)); err != nil {
					return err
				}
				destroyed, err := cl.Drop(ctx)
				putBool(stack, destroyed)
				return err
			},
		},
		{
			// closure_call(fn, arg) calls a callable value and returns a
			// handle to its result.
			Name:    "closure_call",
			Params:  []api.ValueType{i32, i32},
			Results: []api.ValueType{i32},
			Catch:   true,
			Fn: func(ctx context.Context, c *Context, stack []uint64) error {
				fn, err := c.Heap.Get(handleAt(stack, 0))
				if err != nil {
					return err
				}
				arg, err := c.Heap.Get(handleAt(stack, 1))
				if err != nil {
					return err
				}
				res, err := c.Invoke(ctx, fn, arg)
				if err != nil {
					return err
				}
				putHandle(stack, c.Heap.Alloc(res))
				return nil
			},
		},
		{
			// promise_then(promise, fn) returns a promise settled with fn's
			// result once the first one fulfils.
			Name:    "promise_then",
			Params:  []api.ValueType{i32, i32},
			Results: []api.ValueType{i32},
			Catch:   true,
			Fn: func(ctx context.Context, c *Context, stack []uint64) error {
				p, err := resource.As[*eventloop.Promise](c.Heap, handleAt(stack, 0))
				if err != nil {
					return err
				}
				fn, err := c.Heap.Get(handleAt(stack, 1))
				if err != nil {
					return err
				}
				if !IsFunction(fn) {
					return errors.TypeMismatch(errors.PhaseHost, fn, "a function")
				}
				next, err := c.Then(ctx, p, fn)
				if err != nil {
					return err
				}
				putHandle(stack, c.Heap.Alloc(next))
				return nil
			},
		},
	}
}

// Then chains fn onto p on the main loop. The returned promise is rejected
// when p is rejected or fn fails.
func (c *Context) Then(ctx context.Context, p *eventloop.Promise, fn any) (*eventloop.Promise, error) {
	if c.Loop == nil {
		return nil, errors.UnsupportedConcurrency("promises need the main event loop")
	}
	cctx := context.WithoutCancel(ctx)
	next, resolve, reject := eventloop.NewPromise(c.Loop)
	p.Then(func(v any) {
		res, err := c.Invoke(cctx, fn, v)
		if err != nil {
			reject(err)
			return
		}
		resolve(res)
	}, reject)
	return next, nil
}
