package memory

import (
	"encoding/binary"
	"math"

	"github.com/wippyai/hostbridge/errors"
)

// Words reads and writes little-endian values at aligned offsets.
// A Words value is bound to one buffer snapshot; obtain a fresh one from
// View.Words after any call that can grow memory.
type Words struct {
	b []byte
}

func (w Words) span(ptr, size uint32) ([]byte, error) {
	if ptr%size != 0 {
		return nil, errors.New(errors.PhaseMemory, errors.KindOutOfBounds).
			Value(ptr).
			Detail("offset %d not aligned to %d", ptr, size).
			Build()
	}
	end := uint64(ptr) + uint64(size)
	if end > uint64(len(w.b)) {
		return nil, errors.OutOfBounds(errors.PhaseMemory, ptr, size, len(w.b))
	}
	return w.b[ptr:end], nil
}

// Uint32 reads a u32 at ptr.
func (w Words) Uint32(ptr uint32) (uint32, error) {
	s, err := w.span(ptr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(s), nil
}

// Int32 reads an i32 at ptr.
func (w Words) Int32(ptr uint32) (int32, error) {
	u, err := w.Uint32(ptr)
	return int32(u), err
}

// PutUint32 writes a u32 at ptr.
func (w Words) PutUint32(ptr, val uint32) error {
	s, err := w.span(ptr, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(s, val)
	return nil
}

// PutInt32 writes an i32 at ptr.
func (w Words) PutInt32(ptr uint32, val int32) error {
	return w.PutUint32(ptr, uint32(val))
}

// Float64 reads an f64 at ptr.
func (w Words) Float64(ptr uint32) (float64, error) {
	s, err := w.span(ptr, 8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(s)), nil
}

// PutFloat64 writes an f64 at ptr.
func (w Words) PutFloat64(ptr uint32, val float64) error {
	s, err := w.span(ptr, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(s, math.Float64bits(val))
	return nil
}

// Len returns the size of the snapshot in bytes.
func (w Words) Len() int {
	return len(w.b)
}
