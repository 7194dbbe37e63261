package wasm

import (
	"bytes"
	"fmt"
)

// Instruction is a decoded WebAssembly instruction. The decoder
// produces flat instruction slices; block structure is recovered from
// the block/loop/if/else/end opcodes themselves.
type Instruction struct {
	Imm    interface{}
	Opcode byte
}

// BlockImm holds the block type for block, loop, and if instructions.
type BlockImm struct {
	Type int32 // negative: BlockType* constant; non-negative: type index
}

// BranchImm holds the label index for br and br_if instructions.
type BranchImm struct {
	LabelIdx uint32
}

// BrTableImm holds the label table for br_table.
type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

// CallImm holds the function index for call.
type CallImm struct {
	FuncIdx uint32
}

// CallIndirectImm holds type and table indices for call_indirect.
type CallIndirectImm struct {
	TypeIdx  uint32
	TableIdx uint32
}

// LocalImm holds the local index for local.get, local.set, local.tee.
type LocalImm struct {
	LocalIdx uint32
}

// GlobalImm holds the global index for global.get and global.set.
type GlobalImm struct {
	GlobalIdx uint32
}

// MemoryImm holds memory access parameters for loads and stores.
type MemoryImm struct {
	Offset uint64
	Align  uint32
}

// I32Imm holds the constant for i32.const.
type I32Imm struct {
	Value int32
}

// I64Imm holds the constant for i64.const.
type I64Imm struct {
	Value int64
}

// F32Imm holds the constant for f32.const.
type F32Imm struct {
	Value float32
}

// F64Imm holds the constant for f64.const.
type F64Imm struct {
	Value float64
}

// MiscImm holds the sub-opcode and immediates for 0xFC instructions.
type MiscImm struct {
	Operands  []uint32
	SubOpcode uint32
}

// TableImm holds the table index for table.get/table.set.
type TableImm struct {
	TableIdx uint32
}

// RefNullImm holds the reference type for ref.null.
type RefNullImm struct {
	Type ValType // ValFuncRef or ValExtern
}

// RefFuncImm holds the function index for ref.func.
type RefFuncImm struct {
	FuncIdx uint32
}

// SelectTypeImm holds the value types for typed select.
type SelectTypeImm struct {
	Types []ValType
}

// DecodeInstructions decodes an instruction stream until the input is
// exhausted. A function body's trailing end opcode is retained.
func DecodeInstructions(code []byte) ([]Instruction, error) {
	r := bytes.NewReader(code)
	// Roughly two bytes per instruction on average.
	instrs := make([]Instruction, 0, len(code)/2)

	for r.Len() > 0 {
		instr, err := decodeInstruction(r)
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, instr)
	}
	return instrs, nil
}

func decodeInstruction(r *bytes.Reader) (Instruction, error) {
	op, err := r.ReadByte()
	if err != nil {
		return Instruction{}, err
	}
	instr := Instruction{Opcode: op}

	switch op {
	case OpBlock, OpLoop, OpIf:
		bt, err := ReadLEB128s(r)
		if err != nil {
			return instr, err
		}
		instr.Imm = BlockImm{Type: bt}

	case OpBr, OpBrIf:
		idx, err := ReadLEB128u(r)
		if err != nil {
			return instr, err
		}
		instr.Imm = BranchImm{LabelIdx: idx}

	case OpBrTable:
		count, err := ReadLEB128u(r)
		if err != nil {
			return instr, err
		}
		labels := make([]uint32, count)
		for i := uint32(0); i < count; i++ {
			labels[i], err = ReadLEB128u(r)
			if err != nil {
				return instr, err
			}
		}
		def, err := ReadLEB128u(r)
		if err != nil {
			return instr, err
		}
		instr.Imm = BrTableImm{Labels: labels, Default: def}

	case OpCall:
		idx, err := ReadLEB128u(r)
		if err != nil {
			return instr, err
		}
		instr.Imm = CallImm{FuncIdx: idx}

	case OpCallIndirect:
		typeIdx, err := ReadLEB128u(r)
		if err != nil {
			return instr, err
		}
		tableIdx, err := ReadLEB128u(r)
		if err != nil {
			return instr, err
		}
		instr.Imm = CallIndirectImm{TypeIdx: typeIdx, TableIdx: tableIdx}

	case OpLocalGet, OpLocalSet, OpLocalTee:
		idx, err := ReadLEB128u(r)
		if err != nil {
			return instr, err
		}
		instr.Imm = LocalImm{LocalIdx: idx}

	case OpGlobalGet, OpGlobalSet:
		idx, err := ReadLEB128u(r)
		if err != nil {
			return instr, err
		}
		instr.Imm = GlobalImm{GlobalIdx: idx}

	case OpTableGet, OpTableSet:
		idx, err := ReadLEB128u(r)
		if err != nil {
			return instr, err
		}
		instr.Imm = TableImm{TableIdx: idx}

	case OpI32Const:
		v, err := ReadLEB128s(r)
		if err != nil {
			return instr, err
		}
		instr.Imm = I32Imm{Value: v}

	case OpI64Const:
		v, err := ReadLEB128s64(r)
		if err != nil {
			return instr, err
		}
		instr.Imm = I64Imm{Value: v}

	case OpF32Const:
		v, err := ReadFloat32(r)
		if err != nil {
			return instr, err
		}
		instr.Imm = F32Imm{Value: v}

	case OpF64Const:
		v, err := ReadFloat64(r)
		if err != nil {
			return instr, err
		}
		instr.Imm = F64Imm{Value: v}

	case OpRefNull:
		t, err := r.ReadByte()
		if err != nil {
			return instr, err
		}
		instr.Imm = RefNullImm{Type: ValType(t)}

	case OpRefFunc:
		idx, err := ReadLEB128u(r)
		if err != nil {
			return instr, err
		}
		instr.Imm = RefFuncImm{FuncIdx: idx}

	case OpSelectType:
		count, err := ReadLEB128u(r)
		if err != nil {
			return instr, err
		}
		types := make([]ValType, count)
		for i := uint32(0); i < count; i++ {
			b, err := r.ReadByte()
			if err != nil {
				return instr, err
			}
			types[i] = ValType(b)
		}
		instr.Imm = SelectTypeImm{Types: types}

	case OpPrefixMisc:
		sub, err := ReadLEB128u(r)
		if err != nil {
			return instr, err
		}
		operands, err := readMiscOperands(r, sub)
		if err != nil {
			return instr, err
		}
		instr.Imm = MiscImm{SubOpcode: sub, Operands: operands}

	default:
		if isMemoryAccess(op) {
			align, err := ReadLEB128u(r)
			if err != nil {
				return instr, err
			}
			offset, err := ReadLEB128u64(r)
			if err != nil {
				return instr, err
			}
			instr.Imm = MemoryImm{Align: align, Offset: offset}
		} else if op == OpMemorySize || op == OpMemoryGrow {
			// Memory index, zero in core wasm.
			if _, err := r.ReadByte(); err != nil {
				return instr, err
			}
		} else if !isPlainOpcode(op) {
			return instr, fmt.Errorf("wasm: unsupported opcode 0x%02X", op)
		}
	}
	return instr, nil
}

// readMiscOperands reads the immediate operands of a 0xFC instruction.
func readMiscOperands(r *bytes.Reader, sub uint32) ([]uint32, error) {
	var count int
	switch sub {
	case MiscI32TruncSatF32S, MiscI32TruncSatF32U, MiscI32TruncSatF64S, MiscI32TruncSatF64U,
		MiscI64TruncSatF32S, MiscI64TruncSatF32U, MiscI64TruncSatF64S, MiscI64TruncSatF64U:
		count = 0
	case MiscDataDrop, MiscElemDrop, MiscTableGrow, MiscTableSize, MiscTableFill:
		count = 1
	case MiscMemoryFill:
		count = 1 // memory index
	case MiscMemoryInit, MiscMemoryCopy, MiscTableInit, MiscTableCopy:
		count = 2
	default:
		return nil, fmt.Errorf("wasm: unsupported misc opcode 0x%02X", sub)
	}
	if count == 0 {
		return nil, nil
	}
	operands := make([]uint32, count)
	for i := 0; i < count; i++ {
		v, err := ReadLEB128u(r)
		if err != nil {
			return nil, err
		}
		operands[i] = v
	}
	return operands, nil
}

// isMemoryAccess reports whether op is a load or store with a memarg.
func isMemoryAccess(op byte) bool {
	return op >= OpI32Load && op <= OpI64Store32
}

// isPlainOpcode reports whether op carries no immediates.
func isPlainOpcode(op byte) bool {
	switch op {
	case OpUnreachable, OpNop, OpElse, OpEnd, OpReturn, OpDrop, OpSelect, OpRefIsNull:
		return true
	}
	// Comparisons, numerics, conversions, extensions.
	return op >= OpI32Eqz && op <= OpI64Extend32S
}

// EncodeInstructionTo appends the binary form of instr to buf.
func EncodeInstructionTo(buf *bytes.Buffer, instr *Instruction) {
	buf.WriteByte(instr.Opcode)

	switch imm := instr.Imm.(type) {
	case BlockImm:
		WriteLEB128s(buf, imm.Type)
	case BranchImm:
		WriteLEB128u(buf, imm.LabelIdx)
	case BrTableImm:
		WriteLEB128u(buf, uint32(len(imm.Labels)))
		for _, l := range imm.Labels {
			WriteLEB128u(buf, l)
		}
		WriteLEB128u(buf, imm.Default)
	case CallImm:
		WriteLEB128u(buf, imm.FuncIdx)
	case CallIndirectImm:
		WriteLEB128u(buf, imm.TypeIdx)
		WriteLEB128u(buf, imm.TableIdx)
	case LocalImm:
		WriteLEB128u(buf, imm.LocalIdx)
	case GlobalImm:
		WriteLEB128u(buf, imm.GlobalIdx)
	case TableImm:
		WriteLEB128u(buf, imm.TableIdx)
	case MemoryImm:
		WriteLEB128u(buf, imm.Align)
		WriteLEB128u64(buf, imm.Offset)
	case I32Imm:
		WriteLEB128s(buf, imm.Value)
	case I64Imm:
		WriteLEB128s64(buf, imm.Value)
	case F32Imm:
		WriteFloat32(buf, imm.Value)
	case F64Imm:
		WriteFloat64(buf, imm.Value)
	case RefNullImm:
		buf.WriteByte(byte(imm.Type))
	case RefFuncImm:
		WriteLEB128u(buf, imm.FuncIdx)
	case SelectTypeImm:
		WriteLEB128u(buf, uint32(len(imm.Types)))
		for _, t := range imm.Types {
			buf.WriteByte(byte(t))
		}
	case MiscImm:
		WriteLEB128u(buf, imm.SubOpcode)
		for _, v := range imm.Operands {
			WriteLEB128u(buf, v)
		}
	case nil:
		if instr.Opcode == OpMemorySize || instr.Opcode == OpMemoryGrow {
			buf.WriteByte(0)
		}
	}
}

// EncodeInstructions encodes an instruction stream to bytes.
func EncodeInstructions(instrs []Instruction) []byte {
	var buf bytes.Buffer
	for i := range instrs {
		EncodeInstructionTo(&buf, &instrs[i])
	}
	return buf.Bytes()
}
