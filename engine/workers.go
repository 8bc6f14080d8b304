package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/hostbridge/bridge"
	"github.com/wippyai/hostbridge/errors"
	"github.com/wippyai/hostbridge/eventloop"
	"github.com/wippyai/hostbridge/memory"
	"github.com/wippyai/hostbridge/pool"
	"github.com/wippyai/hostbridge/resource"
)

// StartPool implements bridge.PoolStarter for the main instance.
func (i *Instance) StartPool(ctx context.Context, c *bridge.Context, module, mem any, builder uint32) (*eventloop.Promise, error) {
	m, ok := module.(*Module)
	if !ok {
		return nil, errors.TypeMismatch(errors.PhasePool, module, "*engine.Module")
	}
	if m != i.module {
		return nil, errors.InvalidInput(errors.PhasePool, "start_workers got a module other than the caller's")
	}
	w, ok := mem.(*memory.Wazero)
	if !ok {
		return nil, errors.TypeMismatch(errors.PhasePool, mem, "*memory.Wazero")
	}

	e := i.module.engine
	s := &spawner{
		inst:   i,
		shared: w.Mem == e.memory,
		pool:   e.seq.Add(1),
	}
	b := &poolBuilder{inst: i, ptr: builder}
	p, promise := pool.Start(ctx, pool.Options{
		Builder:    b,
		Spawner:    s,
		Loop:       i.loop,
		Notifier:   c.Notifier,
		MaxWorkers: e.cfg.MaxWorkers,
		Logger:     i.logger,
	})

	i.mu.Lock()
	closed := i.closed
	if !closed {
		i.pools = append(i.pools, p)
	}
	i.mu.Unlock()
	if closed {
		_ = p.Close(ctx)
	}
	return promise, nil
}

// spawner instantiates worker instances of the caller's module.
type spawner struct {
	inst   *Instance
	shared bool
	pool   uint64
}

func (s *spawner) Supported() error {
	m := s.inst.module
	switch {
	case !m.engine.cfg.Threads:
		return fmt.Errorf("threads are disabled in the engine configuration")
	case !m.sharesMemory || !s.shared:
		return fmt.Errorf("module %s does not import the shared memory %s.memory", m.name, m.engine.cfg.MemoryModule)
	case !m.hasWorkerEntry:
		return fmt.Errorf("module %s does not export %s", m.name, ExportStartWorker)
	}
	return nil
}

func (s *spawner) Spawn(ctx context.Context, init pool.Init) (pool.Worker, error) {
	name := fmt.Sprintf("%s-pool%d-worker-%d", s.inst.name, s.pool, init.Index)
	inst, err := s.inst.module.instantiate(ctx, name, nil)
	if err != nil {
		return nil, err
	}
	return &worker{inst: inst}, nil
}

// worker runs the worker entry of one instance.
type worker struct {
	inst *Instance
}

func (w *worker) Run(ctx context.Context, receiver uint32) error {
	_, err := w.inst.Call(ctx, ExportStartWorker, api.EncodeU32(receiver))
	return err
}

func (w *worker) Close(ctx context.Context) error {
	return w.inst.Close(ctx)
}

// poolBuilder reads the module's pool builder object through its exports.
type poolBuilder struct {
	inst *Instance
	ptr  uint32
}

func (b *poolBuilder) call(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	res, err := b.inst.Call(ctx, name, append([]uint64{api.EncodeU32(b.ptr)}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return res, nil
}

func (b *poolBuilder) MainEntry(ctx context.Context) (any, error) {
	res, err := b.call(ctx, ExportPoolMainEntry)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, nil
	}
	return b.inst.bctx.Heap.Take(resource.Handle(api.DecodeU32(res[0])))
}

func (b *poolBuilder) ThreadCount(ctx context.Context) (uint32, error) {
	res, err := b.call(ctx, ExportPoolThreads)
	if err != nil || len(res) == 0 {
		return 0, err
	}
	return api.DecodeU32(res[0]), nil
}

func (b *poolBuilder) ReceiverHandle(ctx context.Context) (uint32, error) {
	res, err := b.call(ctx, ExportPoolReceiver)
	if err != nil || len(res) == 0 {
		return 0, err
	}
	return api.DecodeU32(res[0]), nil
}

func (b *poolBuilder) Build(ctx context.Context) error {
	_, err := b.call(ctx, ExportPoolBuild)
	return err
}

func (b *poolBuilder) Release(ctx context.Context) error {
	_, err := b.call(ctx, ExportPoolFree, 0)
	if err == nil {
		b.inst.logger.Debug("pool builder released", zap.Uint32("ptr", b.ptr))
	}
	return err
}
