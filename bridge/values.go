package bridge

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/hostbridge/closure"
	"github.com/wippyai/hostbridge/errors"
	"github.com/wippyai/hostbridge/eventloop"
	"github.com/wippyai/hostbridge/resource"
)

func handleAt(stack []uint64, i int) resource.Handle {
	return resource.Handle(api.DecodeU32(stack[i]))
}

func putHandle(stack []uint64, h resource.Handle) {
	stack[0] = api.EncodeU32(uint32(h))
}

func putBool(stack []uint64, b bool) {
	if b {
		stack[0] = 1
	} else {
		stack[0] = 0
	}
}

// predicate builds an (handle) -> i32 type test.
func predicate(name string, test func(v any) bool) Def {
	return Def{
		Name:    name,
		Params:  []api.ValueType{i32},
		Results: []api.ValueType{i32},
		Fn: func(_ context.Context, c *Context, stack []uint64) error {
			v, err := c.Heap.Get(handleAt(stack, 0))
			if err != nil {
				return err
			}
			putBool(stack, test(v))
			return nil
		},
	}
}

func valueDefs() []Def {
	return []Def{
		{
			Name:   "object_drop_ref",
			Params: []api.ValueType{i32},
			Fn: func(_ context.Context, c *Context, stack []uint64) error {
				return c.Heap.Release(handleAt(stack, 0))
			},
		},
		{
			Name:    "object_clone_ref",
			Params:  []api.ValueType{i32},
			Results: []api.ValueType{i32},
			Fn: func(_ context.Context, c *Context, stack []uint64) error {
				h, err := c.Heap.CloneRef(handleAt(stack, 0))
				if err != nil {
					return err
				}
				putHandle(stack, h)
				return nil
			},
		},
		{
			Name:    "string_new",
			Params:  []api.ValueType{i32, i32},
			Results: []api.ValueType{i32},
			Fn: func(_ context.Context, c *Context, stack []uint64) error {
				s, err := c.Marshal.Decode(api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
				if err != nil {
					return err
				}
				putHandle(stack, c.Heap.Alloc(s))
				return nil
			},
		},
		{
			// string_get(retptr, handle) writes (ptr, len) at retptr; (0, 0)
			// when the value is not a string.
			Name:   "string_get",
			Params: []api.ValueType{i32, i32},
			Fn: func(ctx context.Context, c *Context, stack []uint64) error {
				retptr := api.DecodeU32(stack[0])
				v, err := c.Heap.Get(handleAt(stack, 1))
				if err != nil {
					return err
				}
				// the return slot is checked before anything is allocated
				if err := writePair(c, retptr, 0, 0); err != nil {
					return err
				}
				var ptr, n uint32
				if s, ok := v.(string); ok {
					span, err := c.Marshal.Encode(ctx, s)
					if err != nil {
						return err
					}
					ptr, n = span.Ptr, span.Len
				}
				return writePair(c, retptr, ptr, n)
			},
		},
		{
			Name:    "number_new",
			Params:  []api.ValueType{f64},
			Results: []api.ValueType{i32},
			Fn: func(_ context.Context, c *Context, stack []uint64) error {
				putHandle(stack, c.Heap.Alloc(api.DecodeF64(stack[0])))
				return nil
			},
		},
		{
			// number_get(retptr, handle) writes is_some at retptr and the
			// value at retptr+8.
			Name:   "number_get",
			Params: []api.ValueType{i32, i32},
			Fn: func(_ context.Context, c *Context, stack []uint64) error {
				retptr := api.DecodeU32(stack[0])
				v, err := c.Heap.Get(handleAt(stack, 1))
				if err != nil {
					return err
				}
				n, ok := Number(v)
				w := c.View.Words()
				if err := w.PutFloat64(retptr+8, n); err != nil {
					return err
				}
				var some int32
				if ok {
					some = 1
				}
				return w.PutInt32(retptr, some)
			},
		},
		{
			// boolean_get returns 1, 0, or 2 when the value is not a bool.
			Name:    "boolean_get",
			Params:  []api.ValueType{i32},
			Results: []api.ValueType{i32},
			Fn: func(_ context.Context, c *Context, stack []uint64) error {
				v, err := c.Heap.Get(handleAt(stack, 0))
				if err != nil {
					return err
				}
				b, ok := v.(bool)
				switch {
				case !ok:
					stack[0] = 2
				case b:
					stack[0] = 1
				default:
					stack[0] = 0
				}
				return nil
			},
		},
		predicate("is_undefined", func(v any) bool { return v == resource.Undefined }),
		predicate("is_null", func(v any) bool { return v == nil }),
		predicate("is_string", func(v any) bool { _, ok := v.(string); return ok }),
		predicate("is_function", IsFunction),
		predicate("is_object", IsObject),
		{
			Name:   "debug_string",
			Params: []api.ValueType{i32, i32},
			Fn: func(ctx context.Context, c *Context, stack []uint64) error {
				retptr := api.DecodeU32(stack[0])
				v, err := c.Heap.Get(handleAt(stack, 1))
				if err != nil {
					return err
				}
				span, err := c.Marshal.Encode(ctx, DebugString(v))
				if err != nil {
					return err
				}
				return writePair(c, retptr, span.Ptr, span.Len)
			},
		},
	}
}

// writePair stores a (ptr, len) record.
func writePair(c *Context, retptr, ptr, n uint32) error {
	w := c.View.Words()
	if err := w.PutUint32(retptr+4, n); err != nil {
		return err
	}
	return w.PutUint32(retptr, ptr)
}

// Number converts numeric Go values to float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// IsFunction reports whether v can be invoked through closure_call. It
// accepts exactly the values Context.Invoke can call.
func IsFunction(v any) bool {
	switch v.(type) {
	case *closure.Closure, Callable, func(context.Context, any) (any, error):
		return true
	}
	return false
}

// IsObject reports whether v is neither a primitive nor a function.
func IsObject(v any) bool {
	switch v.(type) {
	case nil, bool, string, resource.UndefinedValue:
		return false
	case *eventloop.Promise:
		return true
	}
	if _, ok := Number(v); ok {
		return false
	}
	return !IsFunction(v)
}

// errorValue extracts an error from a handle value, wrapping non-errors.
func errorValue(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return errors.New(errors.PhaseHost, errors.KindHostOperationFailed).
		Value(v).
		Detail("thrown value %s", DebugString(v)).
		Build()
}
