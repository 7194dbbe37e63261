package engine

import (
	"encoding/binary"

	"github.com/wippyai/wrt/errors"
	"github.com/wippyai/wrt/runtime"
	"github.com/wippyai/wrt/safemem"
	"github.com/wippyai/wrt/wasm"
)

// pageBoundSlack is how close to a page boundary a store must land to
// be treated as important by the verification harness.
const pageBoundSlack = 64

// memoryOp executes a load or store. The effective address is
// base + offset in 64-bit arithmetic; one bounds check against the
// current memory size covers the access.
func (e *Engine) memoryOp(frame *Frame, op byte, imm wasm.MemoryImm) error {
	mem, err := e.inst.Memory(0)
	if err != nil {
		return err
	}
	e.gov.noteMemoryOp()
	mem.Reseed(uint64(frame.PC))

	if op >= wasm.OpI32Store && op <= wasm.OpI64Store32 {
		return e.store(frame, mem, op, imm)
	}
	return e.load(frame, mem, op, imm)
}

func (e *Engine) load(frame *Frame, mem *runtime.LinearMemory, op byte, imm wasm.MemoryImm) error {
	n := e.operands.Len()
	if n < 1 {
		return errors.ErrStackUnderflow
	}
	base, _ := e.operands.At(n - 1)
	if base.Type != wasm.ValI32 {
		return errors.ErrTypeMismatch
	}
	addr := uint64(base.AsU32()) + imm.Offset

	var width uint64
	switch op {
	case wasm.OpI32Load8S, wasm.OpI32Load8U, wasm.OpI64Load8S, wasm.OpI64Load8U:
		width = 1
	case wasm.OpI32Load16S, wasm.OpI32Load16U, wasm.OpI64Load16S, wasm.OpI64Load16U:
		width = 2
	case wasm.OpI32Load, wasm.OpF32Load, wasm.OpI64Load32S, wasm.OpI64Load32U:
		width = 4
	default:
		width = 8
	}

	raw, err := mem.ReadBytes(addr, width)
	if err != nil {
		return err
	}

	var v runtime.Value
	switch op {
	case wasm.OpI32Load:
		v = runtime.I32(int32(binary.LittleEndian.Uint32(raw)))
	case wasm.OpI64Load:
		v = runtime.I64(int64(binary.LittleEndian.Uint64(raw)))
	case wasm.OpF32Load:
		v = runtime.Value{Type: wasm.ValF32, Lo: uint64(binary.LittleEndian.Uint32(raw))}
	case wasm.OpF64Load:
		v = runtime.Value{Type: wasm.ValF64, Lo: binary.LittleEndian.Uint64(raw)}
	case wasm.OpI32Load8S:
		v = runtime.I32(int32(int8(raw[0])))
	case wasm.OpI32Load8U:
		v = runtime.I32(int32(uint32(raw[0])))
	case wasm.OpI32Load16S:
		v = runtime.I32(int32(int16(binary.LittleEndian.Uint16(raw))))
	case wasm.OpI32Load16U:
		v = runtime.I32(int32(uint32(binary.LittleEndian.Uint16(raw))))
	case wasm.OpI64Load8S:
		v = runtime.I64(int64(int8(raw[0])))
	case wasm.OpI64Load8U:
		v = runtime.I64(int64(uint64(raw[0])))
	case wasm.OpI64Load16S:
		v = runtime.I64(int64(int16(binary.LittleEndian.Uint16(raw))))
	case wasm.OpI64Load16U:
		v = runtime.I64(int64(uint64(binary.LittleEndian.Uint16(raw))))
	case wasm.OpI64Load32S:
		v = runtime.I64(int64(int32(binary.LittleEndian.Uint32(raw))))
	case wasm.OpI64Load32U:
		v = runtime.I64(int64(uint64(binary.LittleEndian.Uint32(raw))))
	}

	e.operands.Pop()
	if err := e.push(v); err != nil {
		return err
	}
	frame.PC++
	return nil
}

func (e *Engine) store(frame *Frame, mem *runtime.LinearMemory, op byte, imm wasm.MemoryImm) error {
	n := e.operands.Len()
	if n < 2 {
		return errors.ErrStackUnderflow
	}
	val, _ := e.operands.At(n - 1)
	base, _ := e.operands.At(n - 2)
	if base.Type != wasm.ValI32 {
		return errors.ErrTypeMismatch
	}

	var width uint64
	var wantType wasm.ValType
	switch op {
	case wasm.OpI32Store:
		width, wantType = 4, wasm.ValI32
	case wasm.OpI64Store:
		width, wantType = 8, wasm.ValI64
	case wasm.OpF32Store:
		width, wantType = 4, wasm.ValF32
	case wasm.OpF64Store:
		width, wantType = 8, wasm.ValF64
	case wasm.OpI32Store8:
		width, wantType = 1, wasm.ValI32
	case wasm.OpI32Store16:
		width, wantType = 2, wasm.ValI32
	case wasm.OpI64Store8:
		width, wantType = 1, wasm.ValI64
	case wasm.OpI64Store16:
		width, wantType = 2, wasm.ValI64
	case wasm.OpI64Store32:
		width, wantType = 4, wasm.ValI64
	}
	if val.Type != wantType {
		return errors.ErrTypeMismatch
	}

	addr := uint64(base.AsU32()) + imm.Offset
	var raw [8]byte
	binary.LittleEndian.PutUint64(raw[:], val.Lo)

	important := runtime.NearPageBound(addr, width, pageBoundSlack)
	var err error
	if important || e.verify.Kind == safemem.LevelFull || e.verify.Kind == safemem.LevelRedundant {
		err = mem.WriteBytesImportant(addr, raw[:width])
	} else {
		err = mem.WriteBytes(addr, raw[:width])
	}
	if err != nil {
		return err
	}

	e.operands.Pop()
	e.operands.Pop()
	frame.PC++
	return nil
}

// miscOp executes the 0xFC extended set: saturating truncation, bulk
// memory, and table operations.
func (e *Engine) miscOp(frame *Frame, imm wasm.MiscImm) error {
	switch imm.SubOpcode {
	case wasm.MiscI32TruncSatF32S:
		return e.satCvt(frame, wasm.ValF32, func(f float64) runtime.Value { return truncSatI32(f) })
	case wasm.MiscI32TruncSatF32U:
		return e.satCvt(frame, wasm.ValF32, func(f float64) runtime.Value { return truncSatU32(f) })
	case wasm.MiscI32TruncSatF64S:
		return e.satCvt(frame, wasm.ValF64, func(f float64) runtime.Value { return truncSatI32(f) })
	case wasm.MiscI32TruncSatF64U:
		return e.satCvt(frame, wasm.ValF64, func(f float64) runtime.Value { return truncSatU32(f) })
	case wasm.MiscI64TruncSatF32S:
		return e.satCvt(frame, wasm.ValF32, func(f float64) runtime.Value { return truncSatI64(f) })
	case wasm.MiscI64TruncSatF32U:
		return e.satCvt(frame, wasm.ValF32, func(f float64) runtime.Value { return truncSatU64(f) })
	case wasm.MiscI64TruncSatF64S:
		return e.satCvt(frame, wasm.ValF64, func(f float64) runtime.Value { return truncSatI64(f) })
	case wasm.MiscI64TruncSatF64U:
		return e.satCvt(frame, wasm.ValF64, func(f float64) runtime.Value { return truncSatU64(f) })

	case wasm.MiscMemoryFill:
		return e.memoryFill(frame)
	case wasm.MiscMemoryCopy:
		return e.memoryCopy(frame)
	case wasm.MiscMemoryInit:
		return e.memoryInit(frame, imm.Operands[0])
	case wasm.MiscDataDrop:
		e.droppedData[imm.Operands[0]] = true
		frame.PC++
		return nil
	case wasm.MiscElemDrop:
		e.droppedElems[imm.Operands[0]] = true
		frame.PC++
		return nil
	case wasm.MiscTableInit:
		return e.tableInit(frame, imm.Operands[0], imm.Operands[1])
	case wasm.MiscTableCopy:
		return e.tableCopy(frame, imm.Operands[0], imm.Operands[1])
	case wasm.MiscTableGrow:
		return e.tableGrow(frame, imm.Operands[0])
	case wasm.MiscTableSize:
		tbl, err := e.inst.Table(imm.Operands[0])
		if err != nil {
			return err
		}
		if err := e.push(runtime.I32(int32(tbl.Len()))); err != nil {
			return err
		}
		frame.PC++
		return nil
	case wasm.MiscTableFill:
		return e.tableFill(frame, imm.Operands[0])
	}
	return errors.New(errors.CategoryValidation, errors.KindMalformedModule).
		Msgf("unsupported misc opcode 0x%02X", imm.SubOpcode).
		Build()
}

func (e *Engine) satCvt(frame *Frame, t wasm.ValType, fn func(float64) runtime.Value) error {
	v, err := e.popTyped(t)
	if err != nil {
		return err
	}
	f := v.AsF64()
	if t == wasm.ValF32 {
		f = float64(v.AsF32())
	}
	if err := e.push(fn(f)); err != nil {
		return err
	}
	frame.PC++
	return nil
}

// popI32x3 pops the (n, src, dst) triple shared by the bulk ops.
func (e *Engine) popI32x3() (dst, src, n uint32, err error) {
	nv, err := e.popTyped(wasm.ValI32)
	if err != nil {
		return 0, 0, 0, err
	}
	sv, err := e.popTyped(wasm.ValI32)
	if err != nil {
		return 0, 0, 0, err
	}
	dv, err := e.popTyped(wasm.ValI32)
	if err != nil {
		return 0, 0, 0, err
	}
	return dv.AsU32(), sv.AsU32(), nv.AsU32(), nil
}

func (e *Engine) memoryFill(frame *Frame) error {
	mem, err := e.inst.Memory(0)
	if err != nil {
		return err
	}
	dst, val, n, err := e.popI32x3()
	if err != nil {
		return err
	}
	e.gov.noteMemoryOp()
	if n > 0 {
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = byte(val)
		}
		if err := mem.WriteBytes(uint64(dst), buf); err != nil {
			return err
		}
	}
	frame.PC++
	return nil
}

func (e *Engine) memoryCopy(frame *Frame) error {
	mem, err := e.inst.Memory(0)
	if err != nil {
		return err
	}
	dst, src, n, err := e.popI32x3()
	if err != nil {
		return err
	}
	e.gov.noteMemoryOp()
	if n > 0 {
		raw, err := mem.ReadBytes(uint64(src), uint64(n))
		if err != nil {
			return err
		}
		buf := make([]byte, n)
		copy(buf, raw)
		if err := mem.WriteBytes(uint64(dst), buf); err != nil {
			return err
		}
	}
	frame.PC++
	return nil
}

func (e *Engine) memoryInit(frame *Frame, dataIdx uint32) error {
	mem, err := e.inst.Memory(0)
	if err != nil {
		return err
	}
	if int(dataIdx) >= len(e.inst.Image.Data) || e.droppedData[dataIdx] {
		return errors.IndexOutOfRange("data segment", uint64(dataIdx), uint64(len(e.inst.Image.Data)))
	}
	seg := e.inst.Image.Data[dataIdx]
	dst, src, n, err := e.popI32x3()
	if err != nil {
		return err
	}
	if uint64(src)+uint64(n) > uint64(len(seg.Init)) {
		return errors.OutOfBounds(uint64(src), uint64(n), uint64(len(seg.Init)))
	}
	e.gov.noteMemoryOp()
	if n > 0 {
		if err := mem.WriteBytes(uint64(dst), seg.Init[src:src+n]); err != nil {
			return err
		}
	}
	frame.PC++
	return nil
}

func (e *Engine) tableInit(frame *Frame, elemIdx, tableIdx uint32) error {
	tbl, err := e.inst.Table(tableIdx)
	if err != nil {
		return err
	}
	if int(elemIdx) >= len(e.inst.Image.Elements) || e.droppedElems[elemIdx] {
		return errors.IndexOutOfRange("element segment", uint64(elemIdx), uint64(len(e.inst.Image.Elements)))
	}
	seg := e.inst.Image.Elements[elemIdx]
	dst, src, n, err := e.popI32x3()
	if err != nil {
		return err
	}
	if uint64(src)+uint64(n) > uint64(len(seg.FuncIdxs)) {
		return errors.OutOfBounds(uint64(src), uint64(n), uint64(len(seg.FuncIdxs)))
	}
	if err := tbl.Init(dst, seg.FuncIdxs[src:src+n]); err != nil {
		return err
	}
	frame.PC++
	return nil
}

func (e *Engine) tableCopy(frame *Frame, dstTable, srcTable uint32) error {
	dst, err := e.inst.Table(dstTable)
	if err != nil {
		return err
	}
	src, err := e.inst.Table(srcTable)
	if err != nil {
		return err
	}
	d, s, n, err := e.popI32x3()
	if err != nil {
		return err
	}
	if uint64(s)+uint64(n) > uint64(src.Len()) || uint64(d)+uint64(n) > uint64(dst.Len()) {
		return errors.OutOfBounds(uint64(d), uint64(n), uint64(dst.Len()))
	}
	// Copy through a scratch buffer so overlapping ranges behave.
	vals := make([]runtime.Value, n)
	for i := uint32(0); i < n; i++ {
		v, err := src.Get(s + i)
		if err != nil {
			return err
		}
		vals[i] = v
	}
	for i := uint32(0); i < n; i++ {
		if err := dst.Set(d+i, vals[i]); err != nil {
			return err
		}
	}
	frame.PC++
	return nil
}

func (e *Engine) tableGrow(frame *Frame, tableIdx uint32) error {
	tbl, err := e.inst.Table(tableIdx)
	if err != nil {
		return err
	}
	nv, err := e.popTyped(wasm.ValI32)
	if err != nil {
		return err
	}
	init, err := e.operands.Pop()
	if err != nil {
		return err
	}
	if init.Type != tbl.Elem() {
		return errors.ErrTypeMismatch
	}
	if err := e.push(runtime.I32(tbl.Grow(nv.AsU32(), init))); err != nil {
		return err
	}
	frame.PC++
	return nil
}

func (e *Engine) tableFill(frame *Frame, tableIdx uint32) error {
	tbl, err := e.inst.Table(tableIdx)
	if err != nil {
		return err
	}
	nv, err := e.popTyped(wasm.ValI32)
	if err != nil {
		return err
	}
	val, err := e.operands.Pop()
	if err != nil {
		return err
	}
	iv, err := e.popTyped(wasm.ValI32)
	if err != nil {
		return err
	}
	n, i := nv.AsU32(), iv.AsU32()
	if uint64(i)+uint64(n) > uint64(tbl.Len()) {
		return errors.OutOfBounds(uint64(i), uint64(n), uint64(tbl.Len()))
	}
	for k := uint32(0); k < n; k++ {
		if err := tbl.Set(i+k, val); err != nil {
			return err
		}
	}
	frame.PC++
	return nil
}
