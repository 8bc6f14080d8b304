package engine

import (
	"context"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"

	"github.com/wippyai/hostbridge/atomics"
	"github.com/wippyai/hostbridge/bridge"
	"github.com/wippyai/hostbridge/errors"
	"github.com/wippyai/hostbridge/internal/wasmbin"
	"github.com/wippyai/hostbridge/memory"
)

// Export names read from a module.
const (
	ExportMalloc      = "bridge_malloc"
	ExportRealloc     = "bridge_realloc"
	ExportFree        = "bridge_free"
	ExportExnStore    = "bridge_exn_store"
	ExportStart       = "bridge_start"
	ExportStartWorker = "bridge_start_worker"

	ExportPoolMainEntry = "bridge_poolbuilder_main_entry"
	ExportPoolThreads   = "bridge_poolbuilder_num_threads"
	ExportPoolReceiver  = "bridge_poolbuilder_receiver"
	ExportPoolBuild     = "bridge_poolbuilder_build"
	ExportPoolFree      = "bridge_poolbuilder_free"
)

// Engine owns a wazero runtime, the bridge host module and one memory
// shared by a program's main instance and its workers.
type Engine struct {
	cfg      Config
	runtime  wazero.Runtime
	host     *bridge.Host
	notifier *atomics.Notifier
	memory   api.Memory
	logger   *zap.Logger
	seq      atomic.Uint64
	closed   atomic.Bool
}

// Option customizes an Engine.
type Option func(*Engine)

// WithHost uses h instead of bridge.NewHost(), typically after Define.
func WithHost(h *bridge.Host) Option {
	return func(e *Engine) { e.host = h }
}

// WithLogger sets the logger for the engine and its instances.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine. A nil cfg uses DefaultConfig.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: *cfg, notifier: atomics.NewNotifier()}
	for _, opt := range opts {
		opt(e)
	}
	if e.host == nil {
		e.host = bridge.NewHost()
	}
	if e.logger == nil {
		e.logger = Logger()
	}

	runtimeCfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(cfg.MaxPages).
		WithCloseOnContextDone(true)
	if cfg.Threads {
		runtimeCfg = runtimeCfg.WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
	}
	e.runtime = wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	if _, err := e.host.Instantiate(ctx, e.runtime); err != nil {
		_ = e.runtime.Close(ctx)
		return nil, err
	}

	provider, err := e.runtime.InstantiateWithConfig(ctx, memoryProvider(cfg),
		wazero.NewModuleConfig().WithName(cfg.MemoryModule))
	if err != nil {
		_ = e.runtime.Close(ctx)
		return nil, errors.Instantiation(cfg.MemoryModule, err)
	}
	e.memory = provider.ExportedMemory("memory")

	e.logger.Debug("engine created",
		zap.String("memory_module", cfg.MemoryModule),
		zap.Uint32("initial_pages", cfg.InitialPages),
		zap.Uint32("max_pages", cfg.MaxPages),
		zap.Bool("threads", cfg.Threads))
	return e, nil
}

// memoryProvider builds the module that defines and exports the memory.
func memoryProvider(cfg *Config) []byte {
	b := wasmbin.NewBuilder()
	b.Memory(wasmbin.Limits{
		Min:    cfg.InitialPages,
		Max:    cfg.MaxPages,
		HasMax: true,
		Shared: cfg.Threads,
	})
	b.Export("memory", wasmbin.KindMemory, 0)
	return b.Build()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Host returns the bridge host module definitions.
func (e *Engine) Host() *bridge.Host {
	return e.host
}

// Memory returns the memory shared by the engine's instances.
func (e *Engine) Memory() api.Memory {
	return e.memory
}

// Notify wakes up to count instances waiting on the word at addr of the
// shared memory and returns how many were woken.
func (e *Engine) Notify(addr, count uint32) (uint32, error) {
	c, err := e.Cell(addr)
	if err != nil {
		return 0, err
	}
	return e.notifier.Notify(c, count), nil
}

// Cell returns the shared memory word at addr for atomic access from the
// host. Words that workers wait on must be written through it.
func (e *Engine) Cell(addr uint32) (atomics.Cell, error) {
	return atomics.At(memory.NewView(memory.Wrap(e.memory)), addr)
}

// Load compiles a module and checks its bridge imports.
func (e *Engine) Load(ctx context.Context, name string, wasm []byte) (*Module, error) {
	if e.closed.Load() {
		return nil, errors.Load("engine closed", nil)
	}
	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Load("compile "+name, err)
	}
	if missing := e.host.Missing(compiled.ImportedFunctions()); len(missing) > 0 {
		_ = compiled.Close(ctx)
		return nil, errors.NewMissingImportsError(missing)
	}

	m := &Module{engine: e, compiled: compiled, name: name}
	for _, mem := range compiled.ImportedMemories() {
		if mod, _, ok := mem.Import(); ok && mod == e.cfg.MemoryModule {
			m.sharesMemory = true
		}
	}
	_, m.hasWorkerEntry = compiled.ExportedFunctions()[ExportStartWorker]

	e.logger.Debug("module loaded",
		zap.String("module", name),
		zap.Bool("shares_memory", m.sharesMemory),
		zap.Bool("worker_entry", m.hasWorkerEntry))
	return m, nil
}

// Close closes the runtime and every instance created from it.
func (e *Engine) Close(ctx context.Context) error {
	if e.closed.Swap(true) {
		return nil
	}
	return e.runtime.Close(ctx)
}
