package bridge

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/hostbridge"
	"github.com/wippyai/hostbridge/atomics"
	"github.com/wippyai/hostbridge/closure"
	"github.com/wippyai/hostbridge/errors"
	"github.com/wippyai/hostbridge/eventloop"
	"github.com/wippyai/hostbridge/marshal"
	"github.com/wippyai/hostbridge/memory"
	"github.com/wippyai/hostbridge/resource"
)

// Sink hands a caught error handle to the module.
type Sink func(ctx context.Context, h resource.Handle) error

// PoolStarter starts a worker pool for start_workers.
type PoolStarter interface {
	StartPool(ctx context.Context, c *Context, module, mem any, builder uint32) (*eventloop.Promise, error)
}

// Callable is a host value the module can call through closure_call.
type Callable func(ctx context.Context, arg any) (any, error)

// Options configures a Context.
type Options struct {
	// Name identifies the instance in logs.
	Name string

	// Notifier is shared by every instance on the same memory.
	Notifier *atomics.Notifier

	// Loop is the main event loop. Worker contexts leave it nil and wait
	// by blocking.
	Loop *eventloop.Loop

	Logger *zap.Logger
	Pools  PoolStarter

	// Module is the value returned to the module by the "module" import.
	Module any

	// Bind is called on the first host call with the calling instance. It
	// typically calls Attach and sets Sink.
	Bind func(ctx context.Context, c *Context, mod api.Module) error

	// Trace logs every handle allocation and release at info level.
	Trace bool
}

// Context is the bridge state of one module instance.
type Context struct {
	Name     string
	Heap     *resource.Table
	View     *memory.View
	Marshal  *marshal.Marshaler
	Closures *closure.Registry
	Notifier *atomics.Notifier
	Waiter   atomics.Waiter
	Loop     *eventloop.Loop
	Logger   *zap.Logger
	Pools    PoolStarter
	Sink     Sink

	// Memory and Module are the values of the "memory" and "module" imports.
	Memory hostbridge.Memory
	Module any

	bind    func(ctx context.Context, c *Context, mod api.Module) error
	bindMu  sync.Mutex
	bound   bool
	pending atomic.Bool
	depth   atomic.Int32
}

type ctxKeyBridge struct{}

// WithContext returns ctx carrying c for host functions.
func WithContext(ctx context.Context, c *Context) context.Context {
	return context.WithValue(ctx, ctxKeyBridge{}, c)
}

// FromContext returns the Context carried by ctx, or nil.
func FromContext(ctx context.Context) *Context {
	c, _ := ctx.Value(ctxKeyBridge{}).(*Context)
	return c
}

// NewContext creates a context with an empty handle table.
func NewContext(opts Options) *Context {
	l := opts.Logger
	if l == nil {
		l = Logger()
	}
	n := opts.Notifier
	if n == nil {
		n = atomics.NewNotifier()
	}
	c := &Context{
		Name:     opts.Name,
		Heap:     resource.NewTable(),
		Notifier: n,
		Loop:     opts.Loop,
		Logger:   l.With(zap.String("instance", opts.Name)),
		Pools:    opts.Pools,
		Module:   opts.Module,
		bind:     opts.Bind,
	}
	if c.Loop != nil {
		c.Waiter = atomics.Async{N: n, Loop: c.Loop}
	} else {
		c.Waiter = atomics.Blocking{N: n}
	}
	switch {
	case opts.Trace:
		c.Heap.Subscribe(heapLogger{c.Logger, zap.InfoLevel})
	case c.Logger.Core().Enabled(zap.DebugLevel):
		c.Heap.Subscribe(heapLogger{c.Logger, zap.DebugLevel})
	}
	return c
}

// Attach binds the context to its memory, allocator and function table.
func (c *Context) Attach(mem hostbridge.Memory, alloc hostbridge.Allocator, inv closure.Invoker) {
	c.Memory = mem
	c.View = memory.NewView(mem)
	c.Marshal = marshal.New(c.View, alloc)
	c.Closures = closure.NewRegistry(inv, c.Logger)
	c.Closures.OnPending(c.schedule)
	c.bound = true
}

// Bound reports whether Attach has run.
func (c *Context) Bound() bool {
	return c.bound
}

func (c *Context) ensureBound(ctx context.Context, mod api.Module) error {
	if c.bound {
		return nil
	}
	c.bindMu.Lock()
	defer c.bindMu.Unlock()
	if c.bound {
		return nil
	}
	if c.bind == nil {
		return errors.New(errors.PhaseHost, errors.KindNotFound).
			Detail("context %q is not attached to a module", c.Name).
			Build()
	}
	if err := c.bind(ctx, c, mod); err != nil {
		return err
	}
	if !c.bound {
		return errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Detail("bind of %q did not attach the context", c.Name).
			Build()
	}
	return nil
}

// schedule runs on the cleanup goroutine when a closure became unreachable.
func (c *Context) schedule() {
	c.pending.Store(true)
	if c.Loop != nil {
		_ = c.Loop.Submit(func() { c.Drain(context.Background()) })
	}
}

// Enter marks the start of a call into the module and returns the func that
// ends it. Destructors queued while the module runs are drained when the
// outermost call returns.
func (c *Context) Enter(ctx context.Context) (leave func()) {
	c.depth.Add(1)
	return func() {
		if c.depth.Add(-1) == 0 {
			c.Drain(ctx)
		}
	}
}

// Active reports whether a call into the module is in progress.
func (c *Context) Active() bool {
	return c.depth.Load() > 0
}

// Drain destroys closures the garbage collector found unreachable. It runs
// between calls only: as a loop task on the main context and when the
// outermost call returns. While a call is active it does nothing and the
// queue stays pending.
func (c *Context) Drain(ctx context.Context) int {
	if c.Active() || c.Closures == nil || !c.pending.Swap(false) {
		return 0
	}
	return c.Closures.Drain(ctx)
}

// Throw stores err as a handle and passes it to the error sink.
func (c *Context) Throw(ctx context.Context, err error) error {
	if c.Sink == nil {
		return err
	}
	h := c.Heap.Alloc(err)
	if serr := c.Sink(ctx, h); serr != nil {
		_ = c.Heap.Release(h)
		return serr
	}
	return nil
}

// Invoke calls a callable host value: a module closure or a Callable.
// Arguments to a closure are passed as fresh handles the closure owns; the
// closure's result handle, if any, is taken back.
func (c *Context) Invoke(ctx context.Context, fn any, arg any) (any, error) {
	if FromContext(ctx) != c {
		ctx = WithContext(ctx, c)
	}
	switch f := fn.(type) {
	case *closure.Closure:
		leave := c.Enter(context.WithoutCancel(ctx))
		defer leave()
		h := c.Heap.Alloc(arg)
		res, err := f.Call(ctx, api.EncodeU32(uint32(h)))
		if err != nil {
			return nil, err
		}
		if len(res) == 0 {
			return resource.Undefined, nil
		}
		return c.Heap.Take(resource.Handle(api.DecodeU32(res[0])))
	case Callable:
		return f(ctx, arg)
	case func(context.Context, any) (any, error):
		return f(ctx, arg)
	default:
		return nil, errors.TypeMismatch(errors.PhaseHost, fn, "a function")
	}
}

// Stats summarizes the context's tables.
type Stats struct {
	Heap     resource.Stats
	Closures closure.Stats
	Marshal  marshal.Stats
}

// Stats returns a snapshot. Zero values are reported before Attach.
func (c *Context) Stats() Stats {
	s := Stats{Heap: c.Heap.Stats()}
	if c.Closures != nil {
		s.Closures = c.Closures.Stats()
	}
	if c.Marshal != nil {
		s.Marshal = c.Marshal.Stats()
	}
	return s
}

type heapLogger struct {
	l     *zap.Logger
	level zapcore.Level
}

func (h heapLogger) OnResourceEvent(e resource.Event) {
	h.l.Log(h.level, "handle "+e.Type.String(),
		zap.Uint32("handle", uint32(e.Handle)),
		zap.String("type", typeOf(e.Value)))
}
