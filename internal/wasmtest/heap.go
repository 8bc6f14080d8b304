// Package wasmtest provides test doubles and guest module builders shared by
// the package tests.
package wasmtest

import (
	"context"
	"fmt"

	"github.com/wippyai/hostbridge"
	"github.com/wippyai/hostbridge/memory"
)

// Heap is a bump allocator over a growable in-process memory. It grows
// the memory when an allocation does not fit, so any allocation can move
// the backing buffer.
type Heap struct {
	Mem   *memory.Buffer
	Calls []string
	Live  map[uint32]uint32

	// FailOn makes the named call ("alloc", "realloc", "free") fail.
	FailOn string

	top uint32
}

// NewHeap creates a heap over a memory of the given pages.
func NewHeap(pages uint32) *Heap {
	return &Heap{
		Mem:  memory.NewBuffer(pages, 0),
		Live: make(map[uint32]uint32),
		top:  16,
	}
}

// Buffer implements hostbridge.Memory.
func (h *Heap) Buffer() []byte {
	return h.Mem.Buffer()
}

func (h *Heap) reserve(size, align uint32) uint32 {
	if align == 0 {
		align = 1
	}
	ptr := (h.top + align - 1) &^ (align - 1)
	end := uint64(ptr) + uint64(size)
	if have := uint64(len(h.Mem.Buffer())); end > have {
		need := (end - have + memory.PageSize - 1) / memory.PageSize
		_, _ = h.Mem.Grow(uint32(need))
	}
	h.top = uint32(end)
	return ptr
}

// Alloc implements hostbridge.Allocator.
func (h *Heap) Alloc(_ context.Context, size, align uint32) (uint32, error) {
	h.Calls = append(h.Calls, fmt.Sprintf("alloc(%d,%d)", size, align))
	if h.FailOn == "alloc" {
		return 0, fmt.Errorf("alloc refused")
	}
	ptr := h.reserve(size, align)
	h.Live[ptr] = size
	return ptr, nil
}

// Realloc implements hostbridge.Reallocator. The block always moves.
func (h *Heap) Realloc(_ context.Context, ptr, oldSize, newSize, align uint32) (uint32, error) {
	h.Calls = append(h.Calls, fmt.Sprintf("realloc(%d,%d,%d)", ptr, oldSize, newSize))
	if h.FailOn == "realloc" {
		return 0, fmt.Errorf("realloc refused")
	}
	out := h.reserve(newSize, align)
	buf := h.Mem.Buffer()
	copy(buf[out:out+min(oldSize, newSize)], buf[ptr:ptr+oldSize])
	delete(h.Live, ptr)
	h.Live[out] = newSize
	return out, nil
}

// Free implements hostbridge.Allocator.
func (h *Heap) Free(_ context.Context, ptr, size, _ uint32) error {
	h.Calls = append(h.Calls, fmt.Sprintf("free(%d,%d)", ptr, size))
	if h.FailOn == "free" {
		return fmt.Errorf("free refused")
	}
	delete(h.Live, ptr)
	return nil
}

// Plain hides Realloc so the heap only satisfies hostbridge.Allocator.
func (h *Heap) Plain() hostbridge.Allocator {
	return plain{h}
}

type plain struct{ h *Heap }

func (p plain) Alloc(ctx context.Context, size, align uint32) (uint32, error) {
	return p.h.Alloc(ctx, size, align)
}

func (p plain) Free(ctx context.Context, ptr, size, align uint32) error {
	return p.h.Free(ctx, ptr, size, align)
}

var _ hostbridge.Reallocator = (*Heap)(nil)
