package marshal

import (
	"context"
	"unicode/utf8"

	"github.com/wippyai/hostbridge"
	"github.com/wippyai/hostbridge/errors"
	"github.com/wippyai/hostbridge/memory"
)

// Span is a (pointer, length) pair in module memory.
type Span struct {
	Ptr uint32
	Len uint32
}

// Stats counts marshaler activity.
type Stats struct {
	Encoded  uint64
	Decoded  uint64
	Reallocs uint64
	BytesOut uint64
	Failures uint64
}

// Marshaler encodes and decodes text against one module instance.
type Marshaler struct {
	view  *memory.View
	alloc hostbridge.Allocator
	stats Stats
}

// New creates a marshaler over view that allocates with alloc.
func New(view *memory.View, alloc hostbridge.Allocator) *Marshaler {
	return &Marshaler{view: view, alloc: alloc}
}

// Stats returns a snapshot of the counters.
func (m *Marshaler) Stats() Stats {
	return m.stats
}

// Decode returns the UTF-8 text stored at [ptr, ptr+length).
func (m *Marshaler) Decode(ptr, length uint32) (string, error) {
	b, err := m.view.Slice(ptr, length)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		m.stats.Failures++
		return "", errors.InvalidEncoding(errors.PhaseMarshal, b)
	}
	m.stats.Decoded++
	return string(b), nil
}

// DecodeBytes returns a copy of [ptr, ptr+length).
func (m *Marshaler) DecodeBytes(ptr, length uint32) ([]byte, error) {
	return m.view.Read(ptr, length)
}

// Encode writes s into freshly allocated module memory.
func (m *Marshaler) Encode(ctx context.Context, s string) (Span, error) {
	if !utf8.ValidString(s) {
		m.stats.Failures++
		return Span{}, errors.InvalidEncoding(errors.PhaseMarshal, []byte(s))
	}
	return m.write(ctx, len(s), func(dst []byte) { copy(dst, s) })
}

// EncodeBytes writes b into freshly allocated module memory.
func (m *Marshaler) EncodeBytes(ctx context.Context, b []byte) (Span, error) {
	return m.write(ctx, len(b), func(dst []byte) { copy(dst, b) })
}

func (m *Marshaler) write(ctx context.Context, n int, fill func([]byte)) (Span, error) {
	if m.alloc == nil {
		return Span{}, errors.NotFound(errors.PhaseMarshal, "allocator", "malloc")
	}
	size := uint32(n)
	ptr, err := m.alloc.Alloc(ctx, size, 1)
	if err != nil {
		m.stats.Failures++
		return Span{}, err
	}
	// allocation may have grown memory; Slice re-fetches the buffer
	dst, err := m.view.Slice(ptr, size)
	if err != nil {
		m.release(ctx, ptr, size)
		return Span{}, err
	}
	fill(dst)
	m.stats.Encoded++
	m.stats.BytesOut += uint64(size)
	return Span{Ptr: ptr, Len: size}, nil
}

func (m *Marshaler) release(ctx context.Context, ptr, size uint32) {
	m.stats.Failures++
	_ = m.alloc.Free(ctx, ptr, size, 1)
}
