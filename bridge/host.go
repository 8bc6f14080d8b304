package bridge

import (
	"context"
	"fmt"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/hostbridge/errors"
)

// ModuleName is the import module name of the bridge functions.
const ModuleName = "bridge"

// Func implements a host function. stack holds the parameters on entry and
// receives the results.
type Func func(ctx context.Context, c *Context, stack []uint64) error

// Def describes one host function.
type Def struct {
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
	Fn      Func

	// Catch turns a returned error into a handle passed to the error sink
	// instead of a trap.
	Catch bool
}

// Host is the set of functions exported under ModuleName.
type Host struct {
	name  string
	defs  map[string]Def
	order []string
}

// NewHost returns a host with the built-in functions defined.
func NewHost() *Host {
	h := &Host{name: ModuleName, defs: make(map[string]Def)}
	for _, group := range [][]Def{valueDefs(), callbackDefs(), threadDefs()} {
		for _, d := range group {
			if err := h.Define(d); err != nil {
				panic(err)
			}
		}
	}
	return h
}

var (
	i32 = api.ValueTypeI32
	f64 = api.ValueTypeF64
)

// Define adds a function. Names must be unique.
func (h *Host) Define(d Def) error {
	if d.Name == "" || d.Fn == nil {
		return errors.InvalidInput(errors.PhaseHost, "host function needs a name and an implementation")
	}
	if _, exists := h.defs[d.Name]; exists {
		return errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Detail("host function %q already defined", d.Name).
			Build()
	}
	h.defs[d.Name] = d
	h.order = append(h.order, d.Name)
	return nil
}

// Lookup returns the definition of name.
func (h *Host) Lookup(name string) (Def, bool) {
	d, ok := h.defs[name]
	return d, ok
}

// Names returns the defined function names in sorted order.
func (h *Host) Names() []string {
	names := make([]string, len(h.order))
	copy(names, h.order)
	sort.Strings(names)
	return names
}

// Missing returns the bridge imports in imports that the host does not
// define, formatted as "module#function".
func (h *Host) Missing(imports []api.FunctionDefinition) []string {
	var missing []string
	for _, def := range imports {
		mod, name, ok := def.Import()
		if !ok || mod != h.name {
			continue
		}
		if _, defined := h.defs[name]; !defined {
			missing = append(missing, mod+"#"+name)
		}
	}
	return missing
}

// Instantiate registers the host module in rt.
func (h *Host) Instantiate(ctx context.Context, rt wazero.Runtime) (api.Module, error) {
	b := rt.NewHostModuleBuilder(h.name)
	for _, name := range h.order {
		d := h.defs[name]
		b.NewFunctionBuilder().
			WithGoModuleFunction(h.wrap(d), d.Params, d.Results).
			WithParameterNames(paramNames(len(d.Params))...).
			Export(d.Name)
	}
	mod, err := b.Instantiate(ctx)
	if err != nil {
		return nil, errors.Instantiation(h.name, err)
	}
	Logger().Debug("bridge host module instantiated", zap.Int("functions", len(h.order)))
	return mod, nil
}

// Call runs a host function directly against c, bypassing wazero. Traps are
// returned as errors.
func (h *Host) Call(ctx context.Context, c *Context, name string, stack []uint64) (err error) {
	d, ok := h.defs[name]
	if !ok {
		return errors.NotFound(errors.PhaseHost, "host function", name)
	}
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("%s: %v", name, r)
		}
	}()
	h.invoke(WithContext(ctx, c), d, c, nil, stack)
	return nil
}

func (h *Host) wrap(d Def) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		c := FromContext(ctx)
		if c == nil {
			panic(errors.New(errors.PhaseHost, errors.KindNotFound).
				Detail("%s called without a bridge context", d.Name).
				Build())
		}
		h.invoke(ctx, d, c, mod, stack)
	}
}

func (h *Host) invoke(ctx context.Context, d Def, c *Context, mod api.Module, stack []uint64) {
	if err := c.ensureBound(ctx, mod); err != nil {
		panic(err)
	}

	err := d.Fn(ctx, c, stack)
	if err == nil {
		return
	}
	err = errors.HostOperationFailed(d.Name, err)
	if d.Catch && c.Sink != nil {
		for i := range d.Results {
			stack[i] = 0
		}
		serr := c.Throw(ctx, err)
		if serr == nil {
			c.Logger.Debug("host error caught", zap.String("function", d.Name), zap.Error(err))
			return
		}
		c.Logger.Warn("error sink failed", zap.String("function", d.Name), zap.Error(serr))
	}
	panic(err)
}

func paramNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("arg%d", i)
	}
	return names
}
