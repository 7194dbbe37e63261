package wasm_test

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/wippyai/wrt/wasm"
)

func TestLEB128Roundtrip(t *testing.T) {
	unsigned := []uint32{0, 1, 127, 128, 624485, 0xFFFFFFFF}
	for _, v := range unsigned {
		var buf bytes.Buffer
		wasm.WriteLEB128u(&buf, v)
		got, err := wasm.ReadLEB128u(bytes.NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("ReadLEB128u(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("u32 roundtrip %d -> %d", v, got)
		}
	}

	signed := []int32{0, 1, -1, 63, 64, -64, -65, -624485, 1<<31 - 1, -1 << 31}
	for _, v := range signed {
		var buf bytes.Buffer
		wasm.WriteLEB128s(&buf, v)
		got, err := wasm.ReadLEB128s(bytes.NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("ReadLEB128s(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("s32 roundtrip %d -> %d", v, got)
		}
	}

	signed64 := []int64{0, -1, 1 << 40, -(1 << 40), 1<<63 - 1, -1 << 63}
	for _, v := range signed64 {
		var buf bytes.Buffer
		wasm.WriteLEB128s64(&buf, v)
		got, err := wasm.ReadLEB128s64(bytes.NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("ReadLEB128s64(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("s64 roundtrip %d -> %d", v, got)
		}
	}
}

func TestLEB128Overflow(t *testing.T) {
	// Five continuation bytes (a six-byte encoding) exceed the 32-bit width.
	data := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}
	if _, err := wasm.ReadLEB128u(bytes.NewReader(data)); err == nil {
		t.Error("expected overflow error")
	}
}

// addImage is a minimal module exporting add(i32,i32)->i32.
func addImage() *wasm.Image {
	return &wasm.Image{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
		},
		Funcs: []uint32{0},
		Exports: []wasm.Export{
			{Name: "add", Kind: wasm.KindFunc, Idx: 0},
		},
		Code: []wasm.FuncCode{
			{Body: []wasm.Instruction{
				{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
				{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 1}},
				{Opcode: wasm.OpI32Add},
				{Opcode: wasm.OpEnd},
			}},
		},
	}
}

func TestEncodeDecodeRoundtrip(t *testing.T) {
	orig := addImage()
	orig.Memories = []wasm.MemoryType{{Limits: wasm.Limits{Min: 1, Max: 4, HasMax: true}}}
	orig.Globals = []wasm.Global{
		{
			Type: wasm.GlobalType{Type: wasm.ValI64, Mutable: true},
			Init: []wasm.Instruction{
				{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: -7}},
				{Opcode: wasm.OpEnd},
			},
		},
	}
	orig.Data = []wasm.DataSegment{
		{
			Offset: []wasm.Instruction{
				{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 16}},
				{Opcode: wasm.OpEnd},
			},
			Init: []byte("seed"),
		},
	}

	decoded, err := wasm.ParseImageValidate(orig.Encode())
	if err != nil {
		t.Fatalf("roundtrip decode: %v", err)
	}

	if !reflect.DeepEqual(orig.Types, decoded.Types) {
		t.Errorf("types differ: %v vs %v", orig.Types, decoded.Types)
	}
	if !reflect.DeepEqual(orig.Funcs, decoded.Funcs) {
		t.Errorf("funcs differ")
	}
	if !reflect.DeepEqual(orig.Code, decoded.Code) {
		t.Errorf("code differs: %v vs %v", orig.Code, decoded.Code)
	}
	if !reflect.DeepEqual(orig.Globals, decoded.Globals) {
		t.Errorf("globals differ")
	}
	if !reflect.DeepEqual(orig.Data, decoded.Data) {
		t.Errorf("data differs")
	}
	if !reflect.DeepEqual(orig.Memories, decoded.Memories) {
		t.Errorf("memories differ")
	}
}

func TestInstructionRoundtrip(t *testing.T) {
	instrs := []wasm.Instruction{
		{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: wasm.BlockTypeI32}},
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: -42}},
		{Opcode: wasm.OpBrTable, Imm: wasm.BrTableImm{Labels: []uint32{0, 1}, Default: 0}},
		{Opcode: wasm.OpEnd},
		{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: 1 << 40}},
		{Opcode: wasm.OpF32Const, Imm: wasm.F32Imm{Value: 3.5}},
		{Opcode: wasm.OpF64Const, Imm: wasm.F64Imm{Value: -2.25}},
		{Opcode: wasm.OpI32Load, Imm: wasm.MemoryImm{Align: 2, Offset: 8}},
		{Opcode: wasm.OpCallIndirect, Imm: wasm.CallIndirectImm{TypeIdx: 1, TableIdx: 0}},
		{Opcode: wasm.OpMemoryGrow},
		{Opcode: wasm.OpRefNull, Imm: wasm.RefNullImm{Type: wasm.ValFuncRef}},
		{Opcode: wasm.OpPrefixMisc, Imm: wasm.MiscImm{SubOpcode: wasm.MiscMemoryFill, Operands: []uint32{0}}},
		{Opcode: wasm.OpEnd},
	}

	decoded, err := wasm.DecodeInstructions(wasm.EncodeInstructions(instrs))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(instrs, decoded) {
		t.Errorf("instruction roundtrip mismatch:\n got %v\nwant %v", decoded, instrs)
	}
}

func TestParseImageRejectsBadMagic(t *testing.T) {
	if _, err := wasm.ParseImage([]byte{1, 2, 3, 4, 5, 6, 7, 8}); err == nil {
		t.Error("expected bad magic error")
	}
}

func TestFuncTypeEqual(t *testing.T) {
	a := wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}}
	b := wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}}
	c := wasm.FuncType{Params: []wasm.ValType{wasm.ValI64}, Results: []wasm.ValType{wasm.ValI32}}
	d := wasm.FuncType{}

	if !a.Equal(b) {
		t.Error("identical signatures must compare equal")
	}
	if a.Equal(c) || a.Equal(d) {
		t.Error("different signatures must not compare equal")
	}
}
