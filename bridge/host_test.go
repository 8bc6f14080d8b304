package bridge

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/hostbridge/errors"
	"github.com/wippyai/hostbridge/eventloop"
	"github.com/wippyai/hostbridge/internal/wasmtest"
	"github.com/wippyai/hostbridge/resource"
)

type fakeInvoker struct {
	invoked   []uint32
	destroyed []uint32
	invokeFn  func(args []uint64) ([]uint64, error)
}

func (f *fakeInvoker) Invoke(_ context.Context, adapter, env, _ uint32, args []uint64) ([]uint64, error) {
	f.invoked = append(f.invoked, adapter)
	if f.invokeFn != nil {
		return f.invokeFn(args)
	}
	return nil, nil
}

func (f *fakeInvoker) Destroy(_ context.Context, dtor, _, _ uint32) error {
	f.destroyed = append(f.destroyed, dtor)
	return nil
}

type fixture struct {
	host *Host
	c    *Context
	heap *wasmtest.Heap
	inv  *fakeInvoker
	ctx  context.Context
}

func newFixture(t *testing.T, loop *eventloop.Loop) *fixture {
	t.Helper()
	heap := wasmtest.NewHeap(1)
	inv := &fakeInvoker{}
	c := NewContext(Options{Name: t.Name(), Loop: loop})
	c.Attach(heap, heap, inv)
	return &fixture{host: NewHost(), c: c, heap: heap, inv: inv, ctx: context.Background()}
}

// call runs a host function and returns the stack.
func (f *fixture) call(t *testing.T, name string, args ...uint64) []uint64 {
	t.Helper()
	stack := make([]uint64, max(len(args), 1))
	copy(stack, args)
	if err := f.host.Call(f.ctx, f.c, name, stack); err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return stack
}

func (f *fixture) trap(t *testing.T, name string, args ...uint64) error {
	t.Helper()
	stack := make([]uint64, max(len(args), 1))
	copy(stack, args)
	err := f.host.Call(f.ctx, f.c, name, stack)
	if err == nil {
		t.Fatalf("%s: expected trap", name)
	}
	return err
}

// put copies data into a fresh allocation.
func (f *fixture) put(t *testing.T, data []byte) (uint32, uint32) {
	t.Helper()
	ptr, err := f.heap.Alloc(f.ctx, uint32(len(data)), 1)
	if err != nil {
		t.Fatal(err)
	}
	copy(f.heap.Buffer()[ptr:], data)
	return ptr, uint32(len(data))
}

func (f *fixture) retptr(t *testing.T, size uint32) uint32 {
	t.Helper()
	ptr, err := f.heap.Alloc(f.ctx, size, 8)
	if err != nil {
		t.Fatal(err)
	}
	return ptr
}

func (f *fixture) value(t *testing.T, h uint64) any {
	t.Helper()
	v, err := f.c.Heap.Get(resource.Handle(h))
	if err != nil {
		t.Fatalf("Get(%d): %v", h, err)
	}
	return v
}

func TestHost_StringRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	for _, s := range []string{"", "hello", "héllo wörld", "日本語", "emoji 🎉"} {
		ptr, n := f.put(t, []byte(s))
		h := f.call(t, "string_new", uint64(ptr), uint64(n))[0]
		if got := f.value(t, h); got != s {
			t.Fatalf("string_new = %q, want %q", got, s)
		}

		ret := f.retptr(t, 8)
		f.call(t, "string_get", uint64(ret), h)
		w := f.c.View.Words()
		p, _ := w.Uint32(ret)
		l, _ := w.Uint32(ret + 4)
		got, err := f.c.View.Read(p, l)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != s {
			t.Errorf("string_get = %q, want %q", got, s)
		}
	}
}

func TestHost_StringGetNonString(t *testing.T) {
	f := newFixture(t, nil)
	h := f.c.Heap.Alloc(42.0)
	ret := f.retptr(t, 8)
	_ = f.c.View.Words().PutUint32(ret, 99)
	_ = f.c.View.Words().PutUint32(ret+4, 99)

	f.call(t, "string_get", uint64(ret), uint64(h))

	w := f.c.View.Words()
	p, _ := w.Uint32(ret)
	l, _ := w.Uint32(ret + 4)
	if p != 0 || l != 0 {
		t.Errorf("string_get of a number wrote (%d, %d), want (0, 0)", p, l)
	}
}

func TestHost_StringGetBadRetptrAllocatesNothing(t *testing.T) {
	f := newFixture(t, nil)
	h := f.c.Heap.Alloc("leaked?")
	before := f.c.Marshal.Stats()

	f.trap(t, "string_get", uint64(f.c.View.Size()-4), uint64(h))

	if after := f.c.Marshal.Stats(); after.Encoded != before.Encoded || after.BytesOut != before.BytesOut {
		t.Errorf("string_get encoded %d bytes for an unwritable return slot", after.BytesOut-before.BytesOut)
	}
}

func TestHost_StringNewInvalidUTF8Traps(t *testing.T) {
	f := newFixture(t, nil)
	ptr, n := f.put(t, []byte{'a', 0xff, 'b'})
	before := f.c.Heap.Len()

	err := f.trap(t, "string_new", uint64(ptr), uint64(n))
	if !errors.IsKind(err, errors.KindInvalidEncoding) {
		t.Errorf("error = %v, want invalid encoding", err)
	}
	if f.c.Heap.Len() != before {
		t.Error("handle allocated for invalid text")
	}
}

func TestHost_Numbers(t *testing.T) {
	f := newFixture(t, nil)
	h := f.call(t, "number_new", api.EncodeF64(-2.5))[0]

	ret := f.retptr(t, 16)
	f.call(t, "number_get", uint64(ret), h)
	w := f.c.View.Words()
	some, _ := w.Int32(ret)
	v, _ := w.Float64(ret + 8)
	if some != 1 || v != -2.5 {
		t.Errorf("number_get = (%d, %v), want (1, -2.5)", some, v)
	}

	f.call(t, "number_get", uint64(ret), uint64(resource.HandleNull))
	some, _ = w.Int32(ret)
	v, _ = w.Float64(ret + 8)
	if some != 0 || v != 0 {
		t.Errorf("number_get(null) = (%d, %v), want (0, 0)", some, v)
	}
}

func TestHost_BooleanGet(t *testing.T) {
	f := newFixture(t, nil)
	tests := []struct {
		h    resource.Handle
		want uint64
	}{
		{resource.HandleTrue, 1},
		{resource.HandleFalse, 0},
		{resource.HandleNull, 2},
		{resource.HandleUndefined, 2},
		{f.c.Heap.Alloc("true"), 2},
	}
	for _, tt := range tests {
		if got := f.call(t, "boolean_get", uint64(tt.h))[0]; got != tt.want {
			t.Errorf("boolean_get(%d) = %d, want %d", tt.h, got, tt.want)
		}
	}
}

func TestHost_Predicates(t *testing.T) {
	f := newFixture(t, nil)
	heap := f.c.Heap
	cl := f.c.Closures.Wrap(8, 0, 1, 2)
	values := map[string]resource.Handle{
		"undefined":  resource.HandleUndefined,
		"null":       resource.HandleNull,
		"string":     heap.Alloc("s"),
		"number":     heap.Alloc(1.0),
		"closure":    heap.Alloc(cl),
		"callable":   heap.Alloc(Callable(func(context.Context, any) (any, error) { return nil, nil })),
		"host func":  heap.Alloc(func(context.Context, any) (any, error) { return nil, nil }),
		"plain func": heap.Alloc(func() {}),
		"map":        heap.Alloc(map[string]any{}),
		"promise":    heap.Alloc(eventloop.Resolved(nil, 1)),
		"true":       resource.HandleTrue,
	}
	want := map[string]map[string]uint64{
		"is_undefined": {"undefined": 1},
		"is_null":      {"null": 1},
		"is_string":    {"string": 1},
		"is_function":  {"closure": 1, "callable": 1, "host func": 1},
		"is_object":    {"map": 1, "promise": 1, "plain func": 1},
	}
	for fn, truthy := range want {
		for name, h := range values {
			got := f.call(t, fn, uint64(h))[0]
			if got != truthy[name] {
				t.Errorf("%s(%s) = %d, want %d", fn, name, got, truthy[name])
			}
		}
	}
}

func TestHost_DropAndClone(t *testing.T) {
	f := newFixture(t, nil)
	h := uint64(f.c.Heap.Alloc("x"))
	clone := f.call(t, "object_clone_ref", h)[0]
	if clone == h {
		t.Fatal("clone aliases the original handle")
	}

	f.call(t, "object_drop_ref", h)
	if got := f.value(t, clone); got != "x" {
		t.Errorf("clone = %v after dropping the original", got)
	}

	err := f.trap(t, "object_drop_ref", h)
	if !errors.IsKind(err, errors.KindStaleHandle) {
		t.Errorf("double drop error = %v, want stale handle", err)
	}

	f.call(t, "object_drop_ref", uint64(resource.HandleTrue))
	if f.value(t, uint64(resource.HandleTrue)) != true {
		t.Error("dropping a reserved handle changed it")
	}
}

func TestHost_ClosureLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	h := f.call(t, "closure_new", 64, 5, 11, 12)[0]
	arg := uint64(f.c.Heap.Alloc("event"))

	var seen []any
	f.inv.invokeFn = func(args []uint64) ([]uint64, error) {
		v, err := f.c.Heap.Take(resource.Handle(args[0]))
		if err != nil {
			return nil, err
		}
		seen = append(seen, v)
		return nil, nil
	}

	for i := 0; i < 3; i++ {
		res := f.call(t, "closure_call", h, arg)[0]
		if f.value(t, res) != resource.Undefined {
			t.Errorf("closure_call result = %v, want undefined", f.value(t, res))
		}
	}
	if len(seen) != 3 || seen[0] != "event" {
		t.Errorf("closure saw %v", seen)
	}
	if len(f.inv.destroyed) != 0 {
		t.Fatal("destructor ran while the closure is held")
	}

	if got := f.call(t, "cb_drop", h)[0]; got != 1 {
		t.Errorf("cb_drop = %d, want 1", got)
	}
	if len(f.inv.destroyed) != 1 || f.inv.destroyed[0] != 11 {
		t.Errorf("destroyed = %v, want [11]", f.inv.destroyed)
	}
	if _, err := f.c.Heap.Get(resource.Handle(h)); err == nil {
		t.Error("cb_drop left the closure handle live")
	}
}

func forgetClosure(c *Context) {
	_ = c.Closures.Wrap(64, 3, 9, 2).String()
}

func TestHost_UnreachableClosuresDrainAfterOutermostCall(t *testing.T) {
	f := newFixture(t, nil)
	forgetClosure(f.c)

	deadline := time.Now().Add(5 * time.Second)
	for f.c.Closures.Stats().Pending == 0 {
		if time.Now().After(deadline) {
			t.Fatal("cleanup did not run")
		}
		runtime.GC()
		time.Sleep(time.Millisecond)
	}

	leave := f.c.Enter(f.ctx)
	f.call(t, "number_new", api.EncodeF64(1))
	if n := f.c.Drain(f.ctx); n != 0 {
		t.Errorf("Drain during a call = %d, want 0", n)
	}
	if len(f.inv.destroyed) != 0 {
		t.Fatalf("destructor ran inside a call: %v", f.inv.destroyed)
	}

	inner := f.c.Enter(f.ctx)
	inner()
	if len(f.inv.destroyed) != 0 {
		t.Fatal("nested call return drained the queue")
	}

	leave()
	if len(f.inv.destroyed) != 1 || f.inv.destroyed[0] != 9 {
		t.Errorf("destroyed = %v, want [9]", f.inv.destroyed)
	}
	if f.c.Active() {
		t.Error("context still active after the outermost call")
	}
}

func TestHost_ClosureNewNullEnv(t *testing.T) {
	f := newFixture(t, nil)
	err := f.trap(t, "closure_new", 0, 0, 1, 2)
	if !errors.IsKind(err, errors.KindInvalidInput) {
		t.Errorf("error = %v", err)
	}
}

func TestHost_CatchStoresError(t *testing.T) {
	f := newFixture(t, nil)
	var sunk []resource.Handle
	f.c.Sink = func(_ context.Context, h resource.Handle) error {
		sunk = append(sunk, h)
		return nil
	}
	failing := f.c.Heap.Alloc(Callable(func(context.Context, any) (any, error) {
		return nil, fmt.Errorf("no canvas")
	}))

	stack := f.call(t, "closure_call", uint64(failing), uint64(resource.HandleNull))
	if stack[0] != 0 {
		t.Errorf("caught call returned %d, want 0", stack[0])
	}
	if len(sunk) != 1 {
		t.Fatalf("sink called %d times, want 1", len(sunk))
	}
	v, err := f.c.Heap.Get(sunk[0])
	if err != nil {
		t.Fatal(err)
	}
	e, ok := v.(error)
	if !ok || !errors.IsKind(e, errors.KindHostOperationFailed) {
		t.Errorf("stored value = %#v", v)
	}
}

func TestHost_UncaughtErrorTraps(t *testing.T) {
	f := newFixture(t, nil)
	failing := f.c.Heap.Alloc(Callable(func(context.Context, any) (any, error) {
		return nil, fmt.Errorf("no canvas")
	}))
	err := f.trap(t, "closure_call", uint64(failing), uint64(resource.HandleNull))
	if !errors.IsKind(err, errors.KindHostOperationFailed) {
		t.Errorf("error = %v", err)
	}
}

func TestHost_ThrowAndRethrow(t *testing.T) {
	f := newFixture(t, nil)
	ptr, n := f.put(t, []byte("bad input"))
	err := f.trap(t, "throw", uint64(ptr), uint64(n))
	if got := err.Error(); !strings.Contains(got, "bad input") {
		t.Errorf("throw error = %q", got)
	}

	h := f.call(t, "error_new", uint64(ptr), uint64(n))[0]
	err = f.trap(t, "rethrow", h)
	if !strings.Contains(err.Error(), "bad input") {
		t.Errorf("rethrow error = %q", err)
	}
	if _, gerr := f.c.Heap.Get(resource.Handle(h)); gerr == nil {
		t.Error("rethrow did not take the handle")
	}
}

func TestHost_PromiseThen(t *testing.T) {
	loop := eventloop.New()
	f := newFixture(t, loop)
	p := f.c.Heap.Alloc(eventloop.Resolved(loop, 21.0))
	double := f.c.Heap.Alloc(Callable(func(_ context.Context, v any) (any, error) {
		return v.(float64) * 2, nil
	}))

	h := f.call(t, "promise_then", uint64(p), uint64(double))[0]
	next, ok := f.value(t, h).(*eventloop.Promise)
	if !ok {
		t.Fatalf("promise_then returned %T", f.value(t, h))
	}
	loop.RunPending()

	v, err := next.Await(f.ctx)
	if err != nil || v != 42.0 {
		t.Errorf("chained promise = (%v, %v), want 42", v, err)
	}
}

func TestHost_PromiseThenNeedsLoop(t *testing.T) {
	f := newFixture(t, nil)
	f.c.Sink = func(context.Context, resource.Handle) error { return nil }
	p := f.c.Heap.Alloc(eventloop.Resolved(nil, 1))
	fn := f.c.Heap.Alloc(Callable(func(context.Context, any) (any, error) { return nil, nil }))

	before := f.c.Heap.Stats().Allocs
	f.call(t, "promise_then", uint64(p), uint64(fn))
	if f.c.Heap.Stats().Allocs != before+1 {
		t.Error("expected exactly the error handle to be allocated")
	}
}

func TestHost_MemoryAndModule(t *testing.T) {
	f := newFixture(t, nil)
	f.c.Module = "compiled"
	if got := f.value(t, f.call(t, "module")[0]); got != "compiled" {
		t.Errorf("module = %v", got)
	}
	if got := f.value(t, f.call(t, "memory")[0]); got != f.heap {
		t.Errorf("memory = %v", got)
	}
}

type fakePools struct {
	module, mem any
	builder     uint32
}

func (p *fakePools) StartPool(_ context.Context, c *Context, module, mem any, builder uint32) (*eventloop.Promise, error) {
	p.module, p.mem, p.builder = module, mem, builder
	return eventloop.Resolved(c.Loop, "pool"), nil
}

func TestHost_StartWorkers(t *testing.T) {
	f := newFixture(t, eventloop.New())
	pools := &fakePools{}
	f.c.Pools = pools
	f.c.Module = "compiled"

	mod := f.call(t, "module")[0]
	mem := f.call(t, "memory")[0]
	h := f.call(t, "start_workers", mod, mem, 0x400)[0]

	if pools.module != "compiled" || pools.mem != f.heap || pools.builder != 0x400 {
		t.Errorf("StartPool got (%v, %v, %#x)", pools.module, pools.mem, pools.builder)
	}
	if _, ok := f.value(t, h).(*eventloop.Promise); !ok {
		t.Errorf("start_workers returned %T", f.value(t, h))
	}
	for _, taken := range []uint64{mod, mem} {
		if _, err := f.c.Heap.Get(resource.Handle(taken)); err == nil {
			t.Errorf("handle %d still live after start_workers", taken)
		}
	}
}

func TestHost_StartWorkersUnsupported(t *testing.T) {
	f := newFixture(t, nil)
	err := f.trap(t, "start_workers", uint64(resource.HandleNull), uint64(resource.HandleNull), 0)
	if !errors.IsKind(err, errors.KindUnsupportedConcurrency) {
		t.Errorf("error = %v", err)
	}
}

func TestHost_Define(t *testing.T) {
	h := NewHost()
	err := h.Define(Def{Name: "string_new", Fn: func(context.Context, *Context, []uint64) error { return nil }})
	if err == nil {
		t.Error("redefining a built-in succeeded")
	}
	if err := h.Define(Def{Name: "nothing"}); err == nil {
		t.Error("definition without a function succeeded")
	}

	called := false
	err = h.Define(Def{
		Name:    "now",
		Results: []api.ValueType{api.ValueTypeF64},
		Fn: func(_ context.Context, _ *Context, stack []uint64) error {
			called = true
			stack[0] = api.EncodeF64(math.Pi)
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, nil)
	f.host = h
	if got := api.DecodeF64(f.call(t, "now")[0]); !called || got != math.Pi {
		t.Errorf("now = %v", got)
	}
	if _, ok := h.Lookup("now"); !ok {
		t.Error("Lookup(now) failed")
	}
}

func TestHost_UnboundContext(t *testing.T) {
	h := NewHost()
	c := NewContext(Options{Name: "loose"})
	err := h.Call(context.Background(), c, "number_new", []uint64{0})
	if !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("error = %v", err)
	}
}

func TestHost_UnknownFunction(t *testing.T) {
	f := newFixture(t, nil)
	err := f.host.Call(f.ctx, f.c, "nope", nil)
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindNotFound {
		t.Errorf("error = %v", err)
	}
}
