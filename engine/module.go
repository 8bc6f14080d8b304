package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/hostbridge/bridge"
	"github.com/wippyai/hostbridge/errors"
	"github.com/wippyai/hostbridge/eventloop"
	"github.com/wippyai/hostbridge/memory"
	"github.com/wippyai/hostbridge/resource"
)

// Module is a compiled module. It is the value handed to the module by the
// "module" import and back to start_workers.
type Module struct {
	engine         *Engine
	compiled       wazero.CompiledModule
	name           string
	sharesMemory   bool
	hasWorkerEntry bool
}

// Name returns the module name given to Load.
func (m *Module) Name() string {
	return m.name
}

// SharesMemory reports whether the module imports the engine's memory.
func (m *Module) SharesMemory() bool {
	return m.sharesMemory
}

// Export is an exported function of a module.
type Export struct {
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
}

// Exports returns the module's exported functions sorted by name.
func (m *Module) Exports() []Export {
	defs := m.compiled.ExportedFunctions()
	out := make([]Export, 0, len(defs))
	for name, d := range defs {
		out = append(out, Export{Name: name, Params: d.ParamTypes(), Results: d.ResultTypes()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Instantiate creates the main instance with its own event loop.
func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	return m.instantiate(ctx, m.name, eventloop.New())
}

// instantiate creates an instance. Worker instances pass a nil loop.
func (m *Module) instantiate(ctx context.Context, name string, loop *eventloop.Loop) (*Instance, error) {
	e := m.engine
	inst := &Instance{module: m, name: name, loop: loop, logger: e.logger.With(zap.String("instance", name))}
	opts := bridge.Options{
		Name:     name,
		Notifier: e.notifier,
		Loop:     loop,
		Logger:   e.logger,
		Module:   m,
		Bind:     inst.bind,
		Trace:    e.cfg.Debug,
	}
	if loop != nil {
		opts.Pools = inst
	}
	inst.bctx = bridge.NewContext(opts)
	cctx := bridge.WithContext(ctx, inst.bctx)

	mod, err := e.runtime.InstantiateModule(cctx, m.compiled,
		wazero.NewModuleConfig().WithName(name).WithStartFunctions())
	if err != nil {
		return nil, errors.Instantiation(name, err)
	}
	inst.mod = mod
	if !inst.bctx.Bound() {
		if err := inst.bind(cctx, inst.bctx, mod); err != nil {
			_ = mod.Close(ctx)
			return nil, err
		}
	}

	if start := mod.ExportedFunction(ExportStart); start != nil {
		if _, err := start.Call(cctx, api.EncodeU32(e.cfg.StackSize)); err != nil {
			_ = mod.Close(ctx)
			return nil, errors.Instantiation(name, fmt.Errorf("%s: %w", ExportStart, err))
		}
	}

	inst.logger.Debug("instance created", zap.Bool("main", loop != nil))
	return inst, nil
}

// bind attaches the bridge context to the instance's memory and exports.
func (i *Instance) bind(_ context.Context, c *bridge.Context, mod api.Module) error {
	mem := mod.Memory()
	if mem == nil {
		return errors.NotFound(errors.PhaseRuntime, "memory of module", mod.Name())
	}
	alloc := memory.NewAllocator(memory.Exports{
		Malloc:  mod.ExportedFunction(ExportMalloc),
		Realloc: mod.ExportedFunction(ExportRealloc),
		FreeFn:  mod.ExportedFunction(ExportFree),
	})
	c.Attach(memory.Wrap(mem), alloc, bridge.TableInvoker{Module: mod})

	if sink := mod.ExportedFunction(ExportExnStore); sink != nil {
		c.Sink = func(ctx context.Context, h resource.Handle) error {
			_, err := sink.Call(ctx, api.EncodeU32(uint32(h)))
			return err
		}
	}
	return nil
}
