package wasmbin

// Code concatenates instruction sequences.
func Code(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func LocalGet(i uint32) []byte  { return append([]byte{0x20}, EncodeULEB128(i)...) }
func LocalSet(i uint32) []byte  { return append([]byte{0x21}, EncodeULEB128(i)...) }
func LocalTee(i uint32) []byte  { return append([]byte{0x22}, EncodeULEB128(i)...) }
func GlobalGet(i uint32) []byte { return append([]byte{0x23}, EncodeULEB128(i)...) }
func GlobalSet(i uint32) []byte { return append([]byte{0x24}, EncodeULEB128(i)...) }
func Call(f uint32) []byte      { return append([]byte{0x10}, EncodeULEB128(f)...) }
func I32Const(v int32) []byte   { return append([]byte{0x41}, EncodeSLEB128(v)...) }

// CallIndirect calls through table 0 with the given type index.
func CallIndirect(typeIdx uint32) []byte {
	return append(append([]byte{0x11}, EncodeULEB128(typeIdx)...), 0x00)
}

// I32Load loads with natural alignment from the address on the stack plus offset.
func I32Load(offset uint32) []byte {
	return append([]byte{0x28, 0x02}, EncodeULEB128(offset)...)
}

// I32Store stores with natural alignment.
func I32Store(offset uint32) []byte {
	return append([]byte{0x36, 0x02}, EncodeULEB128(offset)...)
}

var (
	I32Add = []byte{0x6a}
	I32Sub = []byte{0x6b}
	Drop   = []byte{0x1a}
	Return = []byte{0x0f}
)
