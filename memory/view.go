package memory

import (
	"unsafe"

	"github.com/wippyai/hostbridge"
	"github.com/wippyai/hostbridge/errors"
)

// View caches the current buffer of a module memory.
type View struct {
	src       hostbridge.Memory
	buf       []byte
	base      *byte
	refreshes uint64
}

// NewView creates a view over src. The buffer is fetched lazily.
func NewView(src hostbridge.Memory) *View {
	return &View{src: src}
}

// Bytes returns the current memory buffer, re-fetching it if the backing
// array was replaced since the last access.
func (v *View) Bytes() []byte {
	cur := v.src.Buffer()
	if v.base == nil || unsafe.SliceData(cur) != v.base || len(cur) != len(v.buf) {
		v.buf = cur
		v.base = unsafe.SliceData(cur)
		v.refreshes++
	}
	return v.buf
}

// Words returns a structured view over the current buffer.
func (v *View) Words() Words {
	return Words{b: v.Bytes()}
}

// Size returns the current memory size in bytes.
func (v *View) Size() int {
	return len(v.Bytes())
}

// Slice returns the live sub-slice [ptr, ptr+length). The result aliases
// module memory and is only valid until the next growth.
func (v *View) Slice(ptr, length uint32) ([]byte, error) {
	buf := v.Bytes()
	end := uint64(ptr) + uint64(length)
	if end > uint64(len(buf)) {
		return nil, errors.OutOfBounds(errors.PhaseMemory, ptr, length, len(buf))
	}
	return buf[ptr:end:end], nil
}

// Read returns a copy of [ptr, ptr+length).
func (v *View) Read(ptr, length uint32) ([]byte, error) {
	s, err := v.Slice(ptr, length)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(s))
	copy(out, s)
	return out, nil
}

// Write copies data into memory at ptr. Nothing is written if the range
// does not fit.
func (v *View) Write(ptr uint32, data []byte) error {
	s, err := v.Slice(ptr, uint32(len(data)))
	if err != nil {
		return err
	}
	copy(s, data)
	return nil
}

// Invalidate drops the cached buffer so the next access re-fetches it.
func (v *View) Invalidate() {
	v.buf = nil
	v.base = nil
}

// Refreshes reports how many times the cached buffer has been replaced.
func (v *View) Refreshes() uint64 {
	return v.refreshes
}
