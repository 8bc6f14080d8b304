package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/hostbridge"
	"github.com/wippyai/hostbridge/errors"
)

// Wrap adapts a wazero memory to hostbridge.Memory.
func Wrap(mem api.Memory) *Wazero {
	if mem == nil {
		return nil
	}
	return &Wazero{Mem: mem}
}

// Wazero adapts wazero api.Memory to the hostbridge.Memory interface.
type Wazero struct {
	Mem api.Memory
}

// Buffer returns the live backing bytes of the memory.
func (m *Wazero) Buffer() []byte {
	buf, ok := m.Mem.Read(0, m.Mem.Size())
	if !ok {
		return nil
	}
	return buf
}

// Grow grows the memory by delta pages and returns the previous page count.
func (m *Wazero) Grow(delta uint32) (uint32, error) {
	prev, ok := m.Mem.Grow(delta)
	if !ok {
		return prev, errors.New(errors.PhaseMemory, errors.KindAllocation).
			Detail("grow by %d pages failed", delta).
			Build()
	}
	return prev, nil
}

// Exports binds the allocator exports of a module.
type Exports struct {
	Malloc  api.Function
	Realloc api.Function
	FreeFn  api.Function
}

// NewAllocator returns a hostbridge.Allocator over the module exports. The
// result also implements hostbridge.Reallocator when a realloc export is
// present.
func NewAllocator(ex Exports) hostbridge.Allocator {
	if ex.Malloc == nil {
		return nil
	}
	a := &Allocator{malloc: ex.Malloc, free: ex.FreeFn, stack: make([]uint64, 4)}
	if ex.Realloc != nil {
		return &ReallocAllocator{Allocator: a, realloc: ex.Realloc}
	}
	return a
}

// Allocator calls the module's malloc and free exports.
type Allocator struct {
	malloc api.Function
	free   api.Function
	stack  []uint64
	mu     sync.Mutex
}

// Alloc calls malloc(size, align).
func (a *Allocator) Alloc(ctx context.Context, size, align uint32) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stack[0] = uint64(size)
	a.stack[1] = uint64(align)
	if err := a.malloc.CallWithStack(ctx, a.stack[:2]); err != nil {
		return 0, errors.AllocationFailed(errors.PhaseMemory, size, align, err)
	}
	ptr := uint32(a.stack[0])
	if ptr == 0 && size != 0 {
		return 0, errors.AllocationFailed(errors.PhaseMemory, size, align, fmt.Errorf("malloc returned null"))
	}
	return ptr, nil
}

// Free calls free(ptr, size, align). A missing free export is not an error.
func (a *Allocator) Free(ctx context.Context, ptr, size, align uint32) error {
	if a.free == nil || ptr == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stack[0] = uint64(ptr)
	a.stack[1] = uint64(size)
	a.stack[2] = uint64(align)
	if err := a.free.CallWithStack(ctx, a.stack[:3]); err != nil {
		return errors.New(errors.PhaseMemory, errors.KindAllocation).
			Detail("free(%d, %d) failed", ptr, size).
			Cause(err).
			Build()
	}
	return nil
}

// ReallocAllocator adds the module's realloc export.
type ReallocAllocator struct {
	*Allocator
	realloc api.Function
}

// Realloc calls realloc(ptr, oldSize, newSize, align).
func (a *ReallocAllocator) Realloc(ctx context.Context, ptr, oldSize, newSize, align uint32) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stack[0] = uint64(ptr)
	a.stack[1] = uint64(oldSize)
	a.stack[2] = uint64(newSize)
	a.stack[3] = uint64(align)
	if err := a.realloc.CallWithStack(ctx, a.stack[:4]); err != nil {
		return 0, errors.AllocationFailed(errors.PhaseMemory, newSize, align, err)
	}
	out := uint32(a.stack[0])
	if out == 0 && newSize != 0 {
		return 0, errors.AllocationFailed(errors.PhaseMemory, newSize, align, fmt.Errorf("realloc returned null"))
	}
	return out, nil
}

var (
	_ hostbridge.Memory      = (*Wazero)(nil)
	_ hostbridge.Memory      = (*Buffer)(nil)
	_ hostbridge.Allocator   = (*Allocator)(nil)
	_ hostbridge.Reallocator = (*ReallocAllocator)(nil)
)
