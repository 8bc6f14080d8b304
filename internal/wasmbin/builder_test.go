package wasmbin

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental/table"
)

var i32 = api.ValueTypeI32

func TestBuilder_Instantiates(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	b := NewBuilder()
	b.Memory(Limits{Min: 1, Max: 2, HasMax: true})
	counter := b.Global(i32, true, 40)
	add := b.Func([]api.ValueType{i32, i32}, []api.ValueType{i32}, nil,
		Code(LocalGet(0), LocalGet(1), I32Add))
	bump := b.Func(nil, []api.ValueType{i32}, nil,
		Code(GlobalGet(counter), I32Const(2), I32Add, GlobalSet(counter), GlobalGet(counter)))
	b.Table(add)
	b.Export("add", KindFunc, add)
	b.Export("bump", KindFunc, bump)
	b.Export("memory", KindMemory, 0)

	mod, err := rt.Instantiate(ctx, b.Build())
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}

	res, err := mod.ExportedFunction("add").Call(ctx, 2, 3)
	if err != nil || res[0] != 5 {
		t.Errorf("add = (%v, %v)", res, err)
	}
	res, err = mod.ExportedFunction("bump").Call(ctx)
	if err != nil || res[0] != 42 {
		t.Errorf("bump = (%v, %v)", res, err)
	}
	if mod.Memory() == nil || mod.Memory().Size() != 65536 {
		t.Error("memory not exported with one page")
	}

	fn := table.LookupFunction(mod, 0, 0, []api.ValueType{i32, i32}, []api.ValueType{i32})
	res, err = fn.Call(ctx, 20, 22)
	if err != nil || res[0] != 42 {
		t.Errorf("table[0] = (%v, %v)", res, err)
	}
}

func TestBuilder_ImportedMemory(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	provider := NewBuilder()
	provider.Memory(Limits{Min: 1})
	provider.Export("memory", KindMemory, 0)
	if _, err := rt.InstantiateWithConfig(ctx, provider.Build(), wazero.NewModuleConfig().WithName("env")); err != nil {
		t.Fatalf("provider: %v", err)
	}

	b := NewBuilder()
	b.ImportMemory("env", "memory", Limits{Min: 1})
	store := b.Func([]api.ValueType{i32, i32}, nil, nil,
		Code(LocalGet(0), LocalGet(1), I32Store(0)))
	b.Export("store", KindFunc, store)

	mod, err := rt.Instantiate(ctx, b.Build())
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	if _, err := mod.ExportedFunction("store").Call(ctx, 16, 0xbeef); err != nil {
		t.Fatal(err)
	}
	v, ok := rt.Module("env").Memory().ReadUint32Le(16)
	if !ok || v != 0xbeef {
		t.Errorf("provider memory = (%#x, %v), want 0xbeef", v, ok)
	}
}
