package marshal

import (
	"context"
	"encoding/binary"
	"unicode/utf16"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"

	"github.com/wippyai/hostbridge"
	"github.com/wippyai/hostbridge/errors"
)

// MaxBytesPerUnit is the UTF-8 worst case for one UTF-16 code unit.
const MaxBytesPerUnit = 3

// UTF16 is host text held as UTF-16 code units.
type UTF16 []uint16

// ToUTF16 converts s to code units.
func ToUTF16(s string) UTF16 {
	return utf16.Encode([]rune(s))
}

// String converts the code units to a Go string. Lone surrogates become U+FFFD.
func (u UTF16) String() string {
	return string(utf16.Decode(u))
}

// validate reports the index of the first lone surrogate, or -1.
func (u UTF16) validate() int {
	for i := 0; i < len(u); i++ {
		c := rune(u[i])
		if !utf16.IsSurrogate(c) {
			continue
		}
		if c < 0xdc00 && i+1 < len(u) && u[i+1] >= 0xdc00 && u[i+1] <= 0xdfff {
			i++
			continue
		}
		return i
	}
	return -1
}

func (u UTF16) leBytes() []byte {
	out := make([]byte, 2*len(u))
	for i, c := range u {
		binary.LittleEndian.PutUint16(out[2*i:], c)
	}
	return out
}

func utf16Decoder() *encoding.Decoder {
	return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
}

// EncodeUTF16 transcodes u to UTF-8 in freshly allocated module memory.
func (m *Marshaler) EncodeUTF16(ctx context.Context, u UTF16) (Span, error) {
	if i := u.validate(); i >= 0 {
		m.stats.Failures++
		return Span{}, errors.New(errors.PhaseMarshal, errors.KindInvalidEncoding).
			Value(u[i]).
			Detail("lone surrogate %#04x at unit %d", u[i], i).
			Build()
	}
	if m.alloc == nil {
		return Span{}, errors.NotFound(errors.PhaseMarshal, "allocator", "malloc")
	}

	re, ok := m.alloc.(hostbridge.Reallocator)
	if !ok {
		out, err := utf16Decoder().Bytes(u.leBytes())
		if err != nil {
			m.stats.Failures++
			return Span{}, errors.New(errors.PhaseMarshal, errors.KindInvalidEncoding).Cause(err).Build()
		}
		return m.write(ctx, len(out), func(dst []byte) { copy(dst, out) })
	}
	return m.encodeRealloc(ctx, re, u)
}

func (m *Marshaler) encodeRealloc(ctx context.Context, re hostbridge.Reallocator, u UTF16) (Span, error) {
	size := uint32(len(u))
	ptr, err := re.Alloc(ctx, size, 1)
	if err != nil {
		m.stats.Failures++
		return Span{}, err
	}

	dst, err := m.view.Slice(ptr, size)
	if err != nil {
		m.release(ctx, ptr, size)
		return Span{}, err
	}
	offset := 0
	for ; offset < len(u); offset++ {
		c := u[offset]
		if c > 0x7f {
			break
		}
		dst[offset] = byte(c)
	}

	if offset != len(u) {
		worst := uint32(offset + (len(u)-offset)*MaxBytesPerUnit)
		grown, err := re.Realloc(ctx, ptr, size, worst, 1)
		if err != nil {
			m.release(ctx, ptr, size)
			return Span{}, err
		}
		ptr, size = grown, worst
		m.stats.Reallocs++

		dst, err = m.view.Slice(ptr+uint32(offset), size-uint32(offset))
		if err != nil {
			m.release(ctx, ptr, size)
			return Span{}, err
		}
		n, _, err := utf16Decoder().Transform(dst, u[offset:].leBytes(), true)
		if err != nil {
			m.release(ctx, ptr, size)
			return Span{}, errors.New(errors.PhaseMarshal, errors.KindInvalidEncoding).Cause(err).Build()
		}
		written := uint32(offset + n)

		shrunk, err := re.Realloc(ctx, ptr, size, written, 1)
		if err != nil {
			m.release(ctx, ptr, size)
			return Span{}, err
		}
		ptr, size = shrunk, written
		m.stats.Reallocs++
	}

	m.stats.Encoded++
	m.stats.BytesOut += uint64(size)
	return Span{Ptr: ptr, Len: size}, nil
}

// DecodeUTF16 reads UTF-8 text from module memory as code units.
func (m *Marshaler) DecodeUTF16(ptr, length uint32) (UTF16, error) {
	s, err := m.Decode(ptr, length)
	if err != nil {
		return nil, err
	}
	return ToUTF16(s), nil
}
