package engine

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/hostbridge/bridge"
	"github.com/wippyai/hostbridge/errors"
	"github.com/wippyai/hostbridge/eventloop"
	"github.com/wippyai/hostbridge/marshal"
	"github.com/wippyai/hostbridge/pool"
	"github.com/wippyai/hostbridge/resource"
)

// Instance is a running module instance. The main instance owns an event
// loop; it must be driven from one goroutine, which also runs the loop
// through RunPending or Await.
type Instance struct {
	module *Module
	name   string
	mod    api.Module
	bctx   *bridge.Context
	loop   *eventloop.Loop
	logger *zap.Logger

	mu     sync.Mutex
	pools  []*pool.Pool
	closed bool
}

// Name returns the wazero module name of the instance.
func (i *Instance) Name() string {
	return i.name
}

// Context returns the bridge state of the instance.
func (i *Instance) Context() *bridge.Context {
	return i.bctx
}

// Loop returns the event loop, or nil for a worker instance.
func (i *Instance) Loop() *eventloop.Loop {
	return i.loop
}

// Call invokes an exported function.
func (i *Instance) Call(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	fn := i.mod.ExportedFunction(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseRuntime, "export", name)
	}
	leave := i.bctx.Enter(context.WithoutCancel(ctx))
	defer leave()
	res, err := fn.Call(bridge.WithContext(ctx, i.bctx), args...)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// PassString copies s into module memory.
func (i *Instance) PassString(ctx context.Context, s string) (marshal.Span, error) {
	return i.bctx.Marshal.Encode(bridge.WithContext(ctx, i.bctx), s)
}

// Value returns the host value behind a handle the module returned.
func (i *Instance) Value(h uint32) (any, error) {
	return i.bctx.Heap.Get(resource.Handle(h))
}

// RunPending runs queued loop tasks on the calling goroutine.
func (i *Instance) RunPending() int {
	if i.loop == nil {
		return 0
	}
	return i.loop.RunPending()
}

// Await drives the loop until p settles.
func (i *Instance) Await(ctx context.Context, p *eventloop.Promise) (any, error) {
	if i.loop == nil {
		return p.Await(ctx)
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()
	if err := i.loop.Run(runCtx); err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	i.loop.RunPending()
	return p.Await(ctx)
}

// Pools returns the pools started by the instance.
func (i *Instance) Pools() []*pool.Pool {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]*pool.Pool, len(i.pools))
	copy(out, i.pools)
	return out
}

// Close tears down the instance's pools and closes the module instance.
func (i *Instance) Close(ctx context.Context) error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	pools := i.pools
	i.pools = nil
	i.mu.Unlock()

	var errs []error
	for _, p := range pools {
		if err := p.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if i.loop != nil {
		_ = i.loop.Close()
		i.loop.RunPending()
	}
	if err := i.mod.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	i.logger.Debug("instance closed", zap.Int("pools", len(pools)))
	return stderrors.Join(errs...)
}
