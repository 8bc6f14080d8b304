package memory

import "github.com/wippyai/hostbridge/errors"

// PageSize is the WebAssembly page size.
const PageSize = 65536

// Buffer is an in-process growable memory. Grow always moves the backing
// array, which makes it useful for exercising view invalidation.
type Buffer struct {
	data []byte
	max  uint32
}

// NewBuffer creates a buffer of the given number of pages. max of 0 means
// no ceiling.
func NewBuffer(pages, max uint32) *Buffer {
	return &Buffer{data: make([]byte, int(pages)*PageSize), max: max}
}

// Buffer implements hostbridge.Memory.
func (b *Buffer) Buffer() []byte {
	return b.data
}

// Pages returns the current size in pages.
func (b *Buffer) Pages() uint32 {
	return uint32(len(b.data) / PageSize)
}

// Grow adds delta pages and returns the previous page count.
func (b *Buffer) Grow(delta uint32) (uint32, error) {
	prev := b.Pages()
	if b.max != 0 && uint64(prev)+uint64(delta) > uint64(b.max) {
		return prev, errors.New(errors.PhaseMemory, errors.KindAllocation).
			Detail("grow by %d pages exceeds maximum %d", delta, b.max).
			Build()
	}
	next := make([]byte, len(b.data)+int(delta)*PageSize)
	copy(next, b.data)
	b.data = next
	return prev, nil
}
