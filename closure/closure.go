package closure

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/hostbridge/errors"
)

// Invoker calls module functions through the function table.
type Invoker interface {
	// Invoke calls the adapter at table index adapter with (env, code, args...).
	Invoke(ctx context.Context, adapter, env, code uint32, args []uint64) ([]uint64, error)

	// Destroy calls the destructor at table index dtor with (env, code).
	Destroy(ctx context.Context, dtor, env, code uint32) error
}

type state struct {
	env     uint32
	code    uint32
	adapter uint32
	dtor    uint32
	count   uint32
}

// Closure is a module closure callable from the host.
type Closure struct {
	reg     *Registry
	st      *state
	cleanup runtime.Cleanup
}

// Stats counts closure lifecycle events.
type Stats struct {
	Live      int
	Wrapped   uint64
	Destroyed uint64
	Finalized uint64
	Pending   int
}

// Registry owns the closures of one module instance.
type Registry struct {
	inv    Invoker
	logger *zap.Logger

	mu        sync.Mutex
	pending   []*state
	onPending func()

	// counters are read by Stats from other goroutines
	live      atomic.Int64
	wrapped   atomic.Uint64
	destroyed atomic.Uint64
	finalized atomic.Uint64
}

// NewRegistry creates a registry that calls into the module through inv.
func NewRegistry(inv Invoker, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{inv: inv, logger: logger}
}

// OnPending sets a hook invoked from the cleanup goroutine whenever an
// unreachable closure is queued. It typically schedules Drain on the owner.
func (r *Registry) OnPending(fn func()) {
	r.mu.Lock()
	r.onPending = fn
	r.mu.Unlock()
}

// Wrap creates a closure with a reference count of one.
func (r *Registry) Wrap(env, code, dtor, adapter uint32) *Closure {
	st := &state{env: env, code: code, adapter: adapter, dtor: dtor, count: 1}
	c := &Closure{reg: r, st: st}
	c.cleanup = runtime.AddCleanup(c, r.enqueue, st)
	r.live.Add(1)
	r.wrapped.Add(1)
	return c
}

func (r *Registry) enqueue(st *state) {
	r.mu.Lock()
	r.pending = append(r.pending, st)
	hook := r.onPending
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// Drain destroys closures queued by the cleanup. It must run on the goroutine
// that owns the module instance.
func (r *Registry) Drain(ctx context.Context) int {
	r.mu.Lock()
	queue := r.pending
	r.pending = nil
	r.mu.Unlock()

	n := 0
	for _, st := range queue {
		if st.count == 0 {
			continue
		}
		st.count--
		if st.count != 0 {
			continue
		}
		r.finalized.Add(1)
		if err := r.destroy(ctx, st, st.env); err != nil {
			r.logger.Warn("closure finalizer: destructor failed",
				zap.Uint32("dtor", st.dtor),
				zap.Error(err))
		}
		n++
	}
	return n
}

func (r *Registry) destroy(ctx context.Context, st *state, env uint32) error {
	st.env = 0
	r.live.Add(-1)
	r.destroyed.Add(1)
	return r.inv.Destroy(ctx, st.dtor, env, st.code)
}

// Stats returns a snapshot of the registry counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	pending := len(r.pending)
	r.mu.Unlock()
	return Stats{
		Live:      int(r.live.Load()),
		Wrapped:   r.wrapped.Load(),
		Destroyed: r.destroyed.Load(),
		Finalized: r.finalized.Load(),
		Pending:   pending,
	}
}

// Call invokes the closure. The reference count is restored, and the
// destructor run if it reaches zero, before Call returns or panics.
func (c *Closure) Call(ctx context.Context, args ...uint64) (results []uint64, err error) {
	st := c.st
	if st.count == 0 || st.env == 0 {
		return nil, errors.StaleHandle(errors.PhaseClosure, st.code,
			"closure invoked recursively or after being dropped")
	}

	st.count++
	env := st.env
	st.env = 0
	defer func() {
		st.count--
		if st.count != 0 {
			st.env = env
			return
		}
		c.cleanup.Stop()
		if derr := c.reg.destroy(ctx, st, env); derr != nil {
			if err == nil {
				err = derr
			} else {
				c.reg.logger.Warn("closure destructor failed after call error",
					zap.Uint32("dtor", st.dtor),
					zap.Error(derr))
			}
		}
	}()

	results, err = c.reg.inv.Invoke(ctx, st.adapter, env, st.code, args)
	if err != nil {
		err = errors.New(errors.PhaseClosure, errors.KindHostOperationFailed).
			Detail("closure adapter %d", st.adapter).
			Cause(err).
			Build()
	}
	return results, err
}

// Drop releases the module's reference. It reports whether the destructor
// ran. Dropping while a call is in flight defers destruction to that call.
func (c *Closure) Drop(ctx context.Context) (bool, error) {
	st := c.st
	if st.count == 0 {
		return false, errors.StaleHandle(errors.PhaseClosure, st.code, "closure dropped twice")
	}
	st.count--
	if st.count != 0 {
		return false, nil
	}
	c.cleanup.Stop()
	return true, c.reg.destroy(ctx, st, st.env)
}

// RefCount returns the current reference count.
func (c *Closure) RefCount() uint32 {
	return c.st.count
}

// Destroyed reports whether the destructor has run.
func (c *Closure) Destroyed() bool {
	return c.st.count == 0
}

func (c *Closure) String() string {
	return fmt.Sprintf("Closure(adapter=%d, refs=%d)", c.st.adapter, c.st.count)
}
