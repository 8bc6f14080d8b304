package wasmbin

import (
	"bytes"

	"github.com/tetratelabs/wazero/api"
)

// Export kinds.
const (
	KindFunc   byte = 0x00
	KindTable  byte = 0x01
	KindMemory byte = 0x02
	KindGlobal byte = 0x03
)

// Limits describes a memory.
type Limits struct {
	Min    uint32
	Max    uint32
	HasMax bool
	Shared bool
}

func (l Limits) encode() []byte {
	switch {
	case l.Shared:
		return append(append([]byte{0x03}, EncodeULEB128(l.Min)...), EncodeULEB128(l.Max)...)
	case l.HasMax:
		return append(append([]byte{0x01}, EncodeULEB128(l.Min)...), EncodeULEB128(l.Max)...)
	default:
		return append([]byte{0x00}, EncodeULEB128(l.Min)...)
	}
}

type funcDef struct {
	typeIdx uint32
	locals  []api.ValueType
	body    []byte
}

type global struct {
	valType api.ValueType
	mutable bool
	init    int64
}

type export struct {
	name  string
	kind  byte
	index uint32
}

// Builder assembles a module section by section. Imports must be added
// before functions so function indices stay stable.
type Builder struct {
	types    [][]byte
	imports  [][]byte
	nImports uint32
	funcs    []funcDef
	memory   *Limits
	table    []uint32
	hasTable bool
	globals  []global
	exports  []export
}

// NewBuilder creates an empty module builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) typeIndex(params, results []api.ValueType) uint32 {
	t := []byte{0x60}
	t = append(t, vec(len(params))...)
	for _, p := range params {
		t = append(t, ValType(p))
	}
	t = append(t, vec(len(results))...)
	for _, r := range results {
		t = append(t, ValType(r))
	}
	for i, have := range b.types {
		if bytes.Equal(have, t) {
			return uint32(i)
		}
	}
	b.types = append(b.types, t)
	return uint32(len(b.types) - 1)
}

// ImportFunc adds a function import and returns its function index.
func (b *Builder) ImportFunc(module, field string, params, results []api.ValueType) uint32 {
	if len(b.funcs) > 0 {
		panic("wasmbin: function imports must precede function definitions")
	}
	imp := append(name(module), name(field)...)
	imp = append(imp, KindFunc)
	imp = append(imp, EncodeULEB128(b.typeIndex(params, results))...)
	b.imports = append(b.imports, imp)
	b.nImports++
	return b.nImports - 1
}

// ImportMemory adds a memory import.
func (b *Builder) ImportMemory(module, field string, l Limits) {
	imp := append(name(module), name(field)...)
	imp = append(imp, KindMemory)
	imp = append(imp, l.encode()...)
	b.imports = append(b.imports, imp)
}

// Memory defines the module's own memory.
func (b *Builder) Memory(l Limits) {
	b.memory = &l
}

// Global defines a global initialised with a constant and returns its index.
func (b *Builder) Global(t api.ValueType, mutable bool, init int64) uint32 {
	b.globals = append(b.globals, global{valType: t, mutable: mutable, init: init})
	return uint32(len(b.globals) - 1)
}

// Func defines a function. body holds the instructions without the final
// end opcode. It returns the function index.
func (b *Builder) Func(params, results, locals []api.ValueType, body []byte) uint32 {
	b.funcs = append(b.funcs, funcDef{typeIdx: b.typeIndex(params, results), locals: locals, body: body})
	return b.nImports + uint32(len(b.funcs)) - 1
}

// Table defines a funcref table holding the given functions from slot 0.
func (b *Builder) Table(funcs ...uint32) {
	b.hasTable = true
	b.table = funcs
}

// Export exports an item.
func (b *Builder) Export(field string, kind byte, index uint32) {
	b.exports = append(b.exports, export{name: field, kind: kind, index: index})
}

// Build generates the module bytes.
func (b *Builder) Build() []byte {
	wasm := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(b.types) > 0 {
		s := vec(len(b.types))
		for _, t := range b.types {
			s = append(s, t...)
		}
		wasm = append(wasm, section(0x01, s)...)
	}

	if len(b.imports) > 0 {
		s := vec(len(b.imports))
		for _, imp := range b.imports {
			s = append(s, imp...)
		}
		wasm = append(wasm, section(0x02, s)...)
	}

	if len(b.funcs) > 0 {
		s := vec(len(b.funcs))
		for _, f := range b.funcs {
			s = append(s, EncodeULEB128(f.typeIdx)...)
		}
		wasm = append(wasm, section(0x03, s)...)
	}

	if b.hasTable {
		size := EncodeULEB128(uint32(len(b.table)))
		s := []byte{0x01, 0x70, 0x01}
		s = append(s, size...)
		s = append(s, size...)
		wasm = append(wasm, section(0x04, s)...)
	}

	if b.memory != nil {
		s := append([]byte{0x01}, b.memory.encode()...)
		wasm = append(wasm, section(0x05, s)...)
	}

	if len(b.globals) > 0 {
		s := vec(len(b.globals))
		for _, g := range b.globals {
			s = append(s, ValType(g.valType))
			if g.mutable {
				s = append(s, 0x01)
			} else {
				s = append(s, 0x00)
			}
			switch g.valType {
			case api.ValueTypeI64:
				s = append(s, 0x42)
				s = append(s, EncodeSLEB128(g.init)...)
			default:
				s = append(s, 0x41)
				s = append(s, EncodeSLEB128(int32(g.init))...)
			}
			s = append(s, 0x0b)
		}
		wasm = append(wasm, section(0x06, s)...)
	}

	if len(b.exports) > 0 {
		s := vec(len(b.exports))
		for _, e := range b.exports {
			s = append(s, name(e.name)...)
			s = append(s, e.kind)
			s = append(s, EncodeULEB128(e.index)...)
		}
		wasm = append(wasm, section(0x07, s)...)
	}

	if b.hasTable && len(b.table) > 0 {
		s := []byte{0x01, 0x00, 0x41, 0x00, 0x0b}
		s = append(s, vec(len(b.table))...)
		for _, f := range b.table {
			s = append(s, EncodeULEB128(f)...)
		}
		wasm = append(wasm, section(0x09, s)...)
	}

	if len(b.funcs) > 0 {
		s := vec(len(b.funcs))
		for _, f := range b.funcs {
			body := vec(len(f.locals))
			for _, l := range f.locals {
				body = append(body, 0x01, ValType(l))
			}
			body = append(body, f.body...)
			body = append(body, 0x0b)
			s = append(s, EncodeULEB128(uint32(len(body)))...)
			s = append(s, body...)
		}
		wasm = append(wasm, section(0x0a, s)...)
	}

	return wasm
}
