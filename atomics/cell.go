package atomics

import (
	"sync/atomic"
	"unsafe"

	"github.com/wippyai/hostbridge/errors"
	"github.com/wippyai/hostbridge/memory"
)

// Cell is a 32-bit location that can be waited on.
type Cell struct {
	p   *int32
	key any
}

// NewCell returns a host-side cell holding v.
func NewCell(v int32) Cell {
	p := new(int32)
	*p = v
	return Cell{p: p, key: p}
}

// At returns the cell at addr in module memory. addr must be 4-byte aligned.
// Shared memories never move, so the cell stays valid across growth; for a
// private memory the caller must not hold it across a growing call.
func At(view *memory.View, addr uint32) (Cell, error) {
	if addr%4 != 0 {
		return Cell{}, errors.New(errors.PhaseMemory, errors.KindOutOfBounds).
			Value(addr).
			Detail("atomic access at %d is not 4-byte aligned", addr).
			Build()
	}
	b, err := view.Slice(addr, 4)
	if err != nil {
		return Cell{}, err
	}
	return Cell{p: (*int32)(unsafe.Pointer(&b[0])), key: addr}, nil
}

// Load atomically reads the cell.
func (c Cell) Load() int32 {
	return atomic.LoadInt32(c.p)
}

// Store atomically writes the cell.
func (c Cell) Store(v int32) {
	atomic.StoreInt32(c.p, v)
}

// Add atomically adds delta and returns the new value.
func (c Cell) Add(delta int32) int32 {
	return atomic.AddInt32(c.p, delta)
}

// Key identifies the cell for notification.
func (c Cell) Key() any {
	return c.key
}
