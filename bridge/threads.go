package bridge

import (
	"context"
	"math"
	"time"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/hostbridge/atomics"
	"github.com/wippyai/hostbridge/errors"
	"github.com/wippyai/hostbridge/eventloop"
)

func threadDefs() []Def {
	return []Def{
		{
			Name:    "memory",
			Results: []api.ValueType{i32},
			Fn: func(_ context.Context, c *Context, stack []uint64) error {
				putHandle(stack, c.Heap.Alloc(c.Memory))
				return nil
			},
		},
		{
			Name:    "module",
			Results: []api.ValueType{i32},
			Fn: func(_ context.Context, c *Context, stack []uint64) error {
				putHandle(stack, c.Heap.Alloc(c.Module))
				return nil
			},
		},
		{
			// wait(addr, expected, timeout_ms) blocks a worker until notified.
			// It returns 0 (ok), 1 (not-equal) or 2 (timed-out).
			Name:    "wait",
			Params:  []api.ValueType{i32, i32, f64},
			Results: []api.ValueType{i32},
			Fn: func(ctx context.Context, c *Context, stack []uint64) error {
				if c.Loop != nil {
					return errors.UnsupportedConcurrency("blocking wait on the main context")
				}
				cell, err := atomics.At(c.View, api.DecodeU32(stack[0]))
				if err != nil {
					return err
				}
				var res atomics.Result
				err = c.Waiter.Wait(ctx, cell, api.DecodeI32(stack[1]), timeout(api.DecodeF64(stack[2])), func(r atomics.Result) {
					res = r
				})
				if err != nil {
					return err
				}
				if res == atomics.Cancelled {
					return ctx.Err()
				}
				stack[0] = uint64(res)
				return nil
			},
		},
		{
			// wait_async(addr, expected, timeout_ms) returns a promise of the
			// result string.
			Name:    "wait_async",
			Params:  []api.ValueType{i32, i32, f64},
			Results: []api.ValueType{i32},
			Fn: func(ctx context.Context, c *Context, stack []uint64) error {
				if c.Loop == nil {
					return errors.UnsupportedConcurrency("asynchronous wait needs the main event loop")
				}
				cell, err := atomics.At(c.View, api.DecodeU32(stack[0]))
				if err != nil {
					return err
				}
				p, resolve, _ := eventloop.NewPromise(c.Loop)
				err = c.Waiter.Wait(context.WithoutCancel(ctx), cell, api.DecodeI32(stack[1]), timeout(api.DecodeF64(stack[2])), func(r atomics.Result) {
					resolve(r.String())
				})
				if err != nil {
					return err
				}
				putHandle(stack, c.Heap.Alloc(p))
				return nil
			},
		},
		{
			// notify(addr, count) wakes up to count waiters and returns how
			// many woke.
			Name:    "notify",
			Params:  []api.ValueType{i32, i32},
			Results: []api.ValueType{i32},
			Fn: func(_ context.Context, c *Context, stack []uint64) error {
				cell, err := atomics.At(c.View, api.DecodeU32(stack[0]))
				if err != nil {
					return err
				}
				stack[0] = api.EncodeU32(c.Notifier.Notify(cell, api.DecodeU32(stack[1])))
				return nil
			},
		},
		{
			// start_workers(module, memory, builder) takes both handles and
			// returns a promise of the started pool.
			Name:    "start_workers",
			Params:  []api.ValueType{i32, i32, i32},
			Results: []api.ValueType{i32},
			Fn: func(ctx context.Context, c *Context, stack []uint64) error {
				if c.Pools == nil {
					return errors.UnsupportedConcurrency("no worker spawner configured")
				}
				mod, err := c.Heap.Take(handleAt(stack, 0))
				if err != nil {
					return err
				}
				mem, err := c.Heap.Take(handleAt(stack, 1))
				if err != nil {
					return err
				}
				p, err := c.Pools.StartPool(ctx, c, mod, mem, api.DecodeU32(stack[2]))
				if err != nil {
					return err
				}
				putHandle(stack, c.Heap.Alloc(p))
				return nil
			},
		},
	}
}

// timeout converts a millisecond timeout; NaN, infinite and negative values
// wait forever.
func timeout(ms float64) time.Duration {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || ms < 0 {
		return -1
	}
	if ms > float64(math.MaxInt64/int64(time.Millisecond)) {
		return -1
	}
	return time.Duration(ms * float64(time.Millisecond))
}
