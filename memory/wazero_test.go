package memory

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// memoryWASM is a minimal WASM module with 1 page of memory exported as "memory"
var memoryWASM = []byte{
	0x00, 0x61, 0x73, 0x6d, // magic
	0x01, 0x00, 0x00, 0x00, // version
	0x05, 0x03, 0x01, 0x00, 0x01, // memory section: 1 page, no max
	0x07, 0x0a, 0x01, // export section: 10 bytes, 1 export
	0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, // name: "memory" (6 bytes + string)
	0x02, 0x00, // kind: memory, index 0
}

func instantiateMemory(t *testing.T) api.Memory {
	t.Helper()
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	t.Cleanup(func() { rt.Close(ctx) })

	mod, err := rt.Instantiate(ctx, memoryWASM)
	if err != nil {
		t.Fatalf("failed to instantiate: %v", err)
	}
	return mod.ExportedMemory("memory")
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil) != nil {
		t.Error("expected nil for nil memory")
	}
}

func TestNewAllocator_Nil(t *testing.T) {
	if NewAllocator(Exports{}) != nil {
		t.Error("expected nil without malloc")
	}
}

func TestWazero_ViewSeesGrowth(t *testing.T) {
	mem := Wrap(instantiateMemory(t))
	v := NewView(mem)

	if v.Size() != PageSize {
		t.Fatalf("Size = %d, want %d", v.Size(), PageSize)
	}
	if err := v.Write(0, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}

	prev, err := mem.Grow(2)
	if err != nil {
		t.Fatalf("Grow failed: %v", err)
	}
	if prev != 1 {
		t.Errorf("prev pages = %d, want 1", prev)
	}

	if !mem.Mem.WriteByte(2*PageSize+5, 0xab) {
		t.Fatal("direct write to grown page failed")
	}

	if v.Size() != 3*PageSize {
		t.Errorf("Size after grow = %d, want %d", v.Size(), 3*PageSize)
	}
	got, err := v.Read(2*PageSize+5, 1)
	if err != nil {
		t.Fatalf("Read after grow: %v", err)
	}
	if got[0] != 0xab {
		t.Errorf("byte = %#x, want 0xab", got[0])
	}
	head, _ := v.Read(0, 3)
	if head[0] != 1 || head[2] != 3 {
		t.Errorf("head = %v", head)
	}
}
