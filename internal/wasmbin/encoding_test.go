package wasmbin

import (
	"bytes"
	"testing"
)

func TestEncodeULEB128(t *testing.T) {
	tests := []struct {
		in   uint32
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{624485, []byte{0xe5, 0x8e, 0x26}},
		{0xffffffff, []byte{0xff, 0xff, 0xff, 0xff, 0x0f}},
	}
	for _, tt := range tests {
		got := EncodeULEB128(tt.in)
		if !bytes.Equal(got, tt.want) {
			t.Errorf("EncodeULEB128(%d) = %x, want %x", tt.in, got, tt.want)
		}
		v, n := DecodeULEB128(got)
		if v != tt.in || n != len(got) {
			t.Errorf("DecodeULEB128(%x) = (%d, %d)", got, v, n)
		}
	}
}

func TestEncodeSLEB128(t *testing.T) {
	tests := []struct {
		in   int32
		want []byte
	}{
		{0, []byte{0x00}},
		{-1, []byte{0x7f}},
		{63, []byte{0x3f}},
		{64, []byte{0xc0, 0x00}},
		{-64, []byte{0x40}},
		{-65, []byte{0xbf, 0x7f}},
		{1024, []byte{0x80, 0x08}},
	}
	for _, tt := range tests {
		if got := EncodeSLEB128(tt.in); !bytes.Equal(got, tt.want) {
			t.Errorf("EncodeSLEB128(%d) = %x, want %x", tt.in, got, tt.want)
		}
	}
}
