package hostbridge

import "context"

// Memory is a module's linear memory as seen from the host.
//
// Buffer returns the current backing bytes. The returned slice stays valid
// until the memory grows; growth may hand out a different buffer.
type Memory interface {
	Buffer() []byte
}

// Allocator allocates blocks in module memory through the module's own
// allocator exports.
type Allocator interface {
	Alloc(ctx context.Context, size, align uint32) (uint32, error)
	Free(ctx context.Context, ptr, size, align uint32) error
}

// Reallocator is an Allocator that can resize a block in place or move it.
type Reallocator interface {
	Allocator
	Realloc(ctx context.Context, ptr, oldSize, newSize, align uint32) (uint32, error)
}
