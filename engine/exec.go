package engine

import (
	"context"
	stderrors "errors"

	"github.com/wippyai/wrt/errors"
	"github.com/wippyai/wrt/intercept"
	"github.com/wippyai/wrt/runtime"
	"github.com/wippyai/wrt/wasm"
)

// errPause flows out of step when execution must stop at the current
// instruction boundary without executing it.
var errPause = stderrors.New("engine: pause")

// run is the dispatch loop. It steps instructions until the outermost
// frame returns, fuel runs dry, or the guest traps.
func (e *Engine) run(ctx context.Context) ([]runtime.Value, error) {
	for e.state == StateRunning {
		frame, err := e.frames.TopMut()
		if err != nil {
			// No live frame in Running state is an engine bug.
			e.setTrap(errors.KindTrap, nil)
			return nil, e.trapError()
		}
		if int(frame.PC) >= len(frame.body) {
			if err := e.returnFrame(); err != nil {
				e.setTrapFromError(err, frame)
				return nil, e.trapError()
			}
			continue
		}

		instr := &frame.body[frame.PC]
		if !e.gov.TryConsume(costOf(instr.Opcode)) {
			e.state = StatePaused
			e.pauseWhy = PauseFuelExhausted
			return nil, errors.ErrFuelExhausted
		}
		e.gov.noteInstruction()

		if err := e.step(ctx, frame, instr); err != nil {
			if err == errPause {
				e.state = StatePaused
				e.pauseWhy = PauseFuelExhausted
				return nil, errors.ErrFuelExhausted
			}
			e.setTrapFromError(err, frame)
			return nil, e.trapError()
		}
	}

	if e.state == StateFinished {
		return e.results, nil
	}
	return nil, errors.ErrFuelExhausted
}

// setTrapFromError maps an error from a step to a trap kind.
func (e *Engine) setTrapFromError(err error, frame *Frame) {
	kind := errors.KindTrap
	var structured *errors.Error
	if stderrors.As(err, &structured) {
		switch structured.Kind {
		case errors.KindOutOfBounds, errors.KindIntegrityFailure, errors.KindUnaligned,
			errors.KindStackOverflow, errors.KindStackUnderflow, errors.KindTypeMismatch,
			errors.KindUnreachable, errors.KindDivByZero, errors.KindIntegerOverflow,
			errors.KindIndirectCallTypeMismatch, errors.KindNullReference,
			errors.KindCapacityExceeded:
			kind = structured.Kind
		}
	}
	e.setTrap(kind, frame)
}

// step executes one instruction against the current frame.
func (e *Engine) step(ctx context.Context, frame *Frame, instr *wasm.Instruction) error {
	op := instr.Opcode
	switch {
	case op == wasm.OpUnreachable:
		return errors.ErrUnreachable

	case op == wasm.OpNop:
		frame.PC++
		return nil

	case op == wasm.OpBlock, op == wasm.OpLoop:
		return e.enterBlock(frame, instr, op == wasm.OpLoop)

	case op == wasm.OpIf:
		return e.enterIf(frame, instr)

	case op == wasm.OpElse:
		// Falling into else means the then-branch finished: skip to end.
		if len(frame.Labels) == 0 {
			return errors.ErrStackUnderflow
		}
		frame.PC = frame.Labels[len(frame.Labels)-1].EndPC
		return nil

	case op == wasm.OpEnd:
		if len(frame.Labels) > 0 {
			if _, err := frame.popLabel(); err != nil {
				return err
			}
			frame.PC++
			return nil
		}
		return e.returnFrame()

	case op == wasm.OpBr:
		return e.branch(frame, instr.Imm.(wasm.BranchImm).LabelIdx)

	case op == wasm.OpBrIf:
		cond, err := e.popTyped(wasm.ValI32)
		if err != nil {
			return err
		}
		if cond.AsI32() != 0 {
			return e.branch(frame, instr.Imm.(wasm.BranchImm).LabelIdx)
		}
		frame.PC++
		return nil

	case op == wasm.OpBrTable:
		imm := instr.Imm.(wasm.BrTableImm)
		idx, err := e.popTyped(wasm.ValI32)
		if err != nil {
			return err
		}
		// Out-of-range selectors clamp to the default target.
		n := idx.AsU32()
		target := imm.Default
		if n < uint32(len(imm.Labels)) {
			target = imm.Labels[n]
		}
		return e.branch(frame, target)

	case op == wasm.OpReturn:
		return e.returnFrame()

	case op == wasm.OpCall:
		return e.call(ctx, frame, instr.Imm.(wasm.CallImm).FuncIdx)

	case op == wasm.OpCallIndirect:
		return e.callIndirect(ctx, frame, instr.Imm.(wasm.CallIndirectImm))

	case op == wasm.OpDrop:
		if _, err := e.operands.Pop(); err != nil {
			return err
		}
		frame.PC++
		return nil

	case op == wasm.OpSelect, op == wasm.OpSelectType:
		return e.selectOp(frame)

	case op == wasm.OpLocalGet:
		idx := instr.Imm.(wasm.LocalImm).LocalIdx
		if int(idx) >= len(frame.Locals) {
			return errors.IndexOutOfRange("local", uint64(idx), uint64(len(frame.Locals)))
		}
		if err := e.push(frame.Locals[idx]); err != nil {
			return err
		}
		frame.PC++
		return nil

	case op == wasm.OpLocalSet:
		idx := instr.Imm.(wasm.LocalImm).LocalIdx
		if int(idx) >= len(frame.Locals) {
			return errors.IndexOutOfRange("local", uint64(idx), uint64(len(frame.Locals)))
		}
		v, err := e.operands.Pop()
		if err != nil {
			return err
		}
		if v.Type != frame.Locals[idx].Type {
			return errors.ErrTypeMismatch
		}
		frame.Locals[idx] = v
		frame.PC++
		return nil

	case op == wasm.OpLocalTee:
		idx := instr.Imm.(wasm.LocalImm).LocalIdx
		if int(idx) >= len(frame.Locals) {
			return errors.IndexOutOfRange("local", uint64(idx), uint64(len(frame.Locals)))
		}
		v, err := e.operands.Top()
		if err != nil {
			return err
		}
		if v.Type != frame.Locals[idx].Type {
			return errors.ErrTypeMismatch
		}
		frame.Locals[idx] = v
		frame.PC++
		return nil

	case op == wasm.OpGlobalGet:
		idx := instr.Imm.(wasm.GlobalImm).GlobalIdx
		e.inst.Globals.Reseed(uint64(frame.PC))
		v, err := e.inst.Globals.Get(idx)
		if err != nil {
			return err
		}
		if err := e.push(v); err != nil {
			return err
		}
		frame.PC++
		return nil

	case op == wasm.OpGlobalSet:
		idx := instr.Imm.(wasm.GlobalImm).GlobalIdx
		v, err := e.operands.Top()
		if err != nil {
			return err
		}
		e.inst.Globals.Reseed(uint64(frame.PC))
		if err := e.inst.Globals.Set(idx, v); err != nil {
			return err
		}
		e.operands.Pop()
		frame.PC++
		return nil

	case op == wasm.OpTableGet:
		return e.tableGet(frame, instr.Imm.(wasm.TableImm).TableIdx)

	case op == wasm.OpTableSet:
		return e.tableSet(frame, instr.Imm.(wasm.TableImm).TableIdx)

	case op == wasm.OpI32Const:
		if err := e.push(runtime.I32(instr.Imm.(wasm.I32Imm).Value)); err != nil {
			return err
		}
		frame.PC++
		return nil

	case op == wasm.OpI64Const:
		if err := e.push(runtime.I64(instr.Imm.(wasm.I64Imm).Value)); err != nil {
			return err
		}
		frame.PC++
		return nil

	case op == wasm.OpF32Const:
		if err := e.push(runtime.F32(instr.Imm.(wasm.F32Imm).Value)); err != nil {
			return err
		}
		frame.PC++
		return nil

	case op == wasm.OpF64Const:
		if err := e.push(runtime.F64(instr.Imm.(wasm.F64Imm).Value)); err != nil {
			return err
		}
		frame.PC++
		return nil

	case op == wasm.OpRefNull:
		imm := instr.Imm.(wasm.RefNullImm)
		v := runtime.NullFuncRef()
		if imm.Type == wasm.ValExtern {
			v = runtime.NullExternRef()
		}
		if err := e.push(v); err != nil {
			return err
		}
		frame.PC++
		return nil

	case op == wasm.OpRefIsNull:
		v, err := e.operands.Pop()
		if err != nil {
			return err
		}
		if !v.Type.IsRef() {
			return errors.ErrTypeMismatch
		}
		res := int32(0)
		if v.IsNullRef() {
			res = 1
		}
		if err := e.push(runtime.I32(res)); err != nil {
			return err
		}
		frame.PC++
		return nil

	case op == wasm.OpRefFunc:
		if err := e.push(runtime.FuncRef(instr.Imm.(wasm.RefFuncImm).FuncIdx)); err != nil {
			return err
		}
		frame.PC++
		return nil

	case op == wasm.OpMemorySize:
		mem, err := e.inst.Memory(0)
		if err != nil {
			return err
		}
		if err := e.push(runtime.I32(int32(mem.Pages()))); err != nil {
			return err
		}
		frame.PC++
		return nil

	case op == wasm.OpMemoryGrow:
		mem, err := e.inst.Memory(0)
		if err != nil {
			return err
		}
		delta, err := e.popTyped(wasm.ValI32)
		if err != nil {
			return err
		}
		e.gov.noteMemoryOp()
		if err := e.push(runtime.I32(mem.Grow(delta.AsU32()))); err != nil {
			return err
		}
		frame.PC++
		return nil

	case op == wasm.OpPrefixMisc:
		return e.miscOp(frame, instr.Imm.(wasm.MiscImm))

	case isMemoryOp(op):
		return e.memoryOp(frame, op, instr.Imm.(wasm.MemoryImm))

	default:
		return e.numericOp(frame, op)
	}
}

func isMemoryOp(op byte) bool {
	return op >= wasm.OpI32Load && op <= wasm.OpI64Store32
}

// push wraps operand pushes with overflow mapping and height
// accounting.
func (e *Engine) push(v runtime.Value) error {
	if err := e.operands.Push(v); err != nil {
		return errors.ErrStackOverflow
	}
	e.gov.noteOperandHeight(e.operands.Len())
	return nil
}

// popTyped pops a value and checks its type. Runtime mismatch should
// be unreachable after validation; it traps as a bug-detection path.
func (e *Engine) popTyped(t wasm.ValType) (runtime.Value, error) {
	v, err := e.operands.Pop()
	if err != nil {
		return v, err
	}
	if v.Type != t {
		return v, errors.ErrTypeMismatch
	}
	return v, nil
}

// blockArity resolves a block type to its parameter and result counts.
func (e *Engine) blockArity(bt int32) (in, out uint32, err error) {
	switch {
	case bt == wasm.BlockTypeVoid:
		return 0, 0, nil
	case bt < 0:
		return 0, 1, nil
	default:
		if int(bt) >= len(e.inst.Image.Types) {
			return 0, 0, errors.IndexOutOfRange("block type", uint64(bt), uint64(len(e.inst.Image.Types)))
		}
		sig := e.inst.Image.Types[bt]
		return uint32(len(sig.Params)), uint32(len(sig.Results)), nil
	}
}

func (e *Engine) enterBlock(frame *Frame, instr *wasm.Instruction, isLoop bool) error {
	cm, err := e.control(frame.FuncIdx)
	if err != nil {
		return err
	}
	endPC, ok := cm.end[frame.PC]
	if !ok {
		return errors.MalformedModule("block without end")
	}
	in, out, err := e.blockArity(instr.Imm.(wasm.BlockImm).Type)
	if err != nil {
		return err
	}
	if uint32(e.operands.Len()) < in {
		return errors.ErrStackUnderflow
	}
	label := Label{
		HeadPC:    frame.PC + 1,
		EndPC:     endPC,
		ValueBase: uint32(e.operands.Len()) - in,
		ArityIn:   in,
		ArityOut:  out,
		IsLoop:    isLoop,
	}
	if err := frame.pushLabel(label); err != nil {
		return err
	}
	frame.PC++
	return nil
}

func (e *Engine) enterIf(frame *Frame, instr *wasm.Instruction) error {
	cm, err := e.control(frame.FuncIdx)
	if err != nil {
		return err
	}
	endPC, ok := cm.end[frame.PC]
	if !ok {
		return errors.MalformedModule("if without end")
	}
	elsePC, hasElse := cm.els[frame.PC]

	cond, err := e.popTyped(wasm.ValI32)
	if err != nil {
		return err
	}
	in, out, err := e.blockArity(instr.Imm.(wasm.BlockImm).Type)
	if err != nil {
		return err
	}
	if uint32(e.operands.Len()) < in {
		return errors.ErrStackUnderflow
	}
	label := Label{
		HeadPC:    frame.PC + 1,
		EndPC:     endPC,
		ValueBase: uint32(e.operands.Len()) - in,
		ArityIn:   in,
		ArityOut:  out,
	}
	if err := frame.pushLabel(label); err != nil {
		return err
	}
	if cond.AsI32() != 0 {
		frame.PC++
	} else if hasElse {
		frame.PC = elsePC + 1
	} else {
		// No else: jump to end, which pops the label.
		frame.PC = endPC
	}
	return nil
}

// branch transfers control to the label at the given depth, carrying
// the label's arity values and unwinding the operand stack to the
// label's base.
func (e *Engine) branch(frame *Frame, depth uint32) error {
	idx := len(frame.Labels) - 1 - int(depth)
	if idx < 0 {
		// Branching past the outermost label is a function return.
		return e.returnFrame()
	}
	label := frame.Labels[idx]

	carry := label.ArityOut
	if label.IsLoop {
		carry = label.ArityIn
	}
	if uint32(e.operands.Len()) < label.ValueBase+carry {
		return errors.ErrStackUnderflow
	}
	carried := make([]runtime.Value, carry)
	for i := int(carry) - 1; i >= 0; i-- {
		v, err := e.operands.Pop()
		if err != nil {
			return err
		}
		carried[i] = v
	}
	e.operands.Truncate(int(label.ValueBase))
	for _, v := range carried {
		if err := e.push(v); err != nil {
			return err
		}
	}

	if label.IsLoop {
		// Keep the loop's label; re-enter at its head.
		frame.Labels = frame.Labels[:idx+1]
		frame.PC = label.HeadPC
	} else {
		frame.Labels = frame.Labels[:idx]
		frame.PC = label.EndPC + 1
	}
	return nil
}

// returnFrame finishes the top frame: collects its results, unwinds
// the operand stack to the frame's base, and re-pushes the results
// for the caller.
func (e *Engine) returnFrame() error {
	frame, err := e.frames.TopMut()
	if err != nil {
		return err
	}
	nResults := len(frame.sig.Results)
	if e.operands.Len() < int(frame.ValueBase)+nResults {
		return errors.ErrStackUnderflow
	}

	results := make([]runtime.Value, nResults)
	for i := nResults - 1; i >= 0; i-- {
		v, err := e.operands.Pop()
		if err != nil {
			return err
		}
		if v.Type != frame.sig.Results[i] {
			return errors.ErrTypeMismatch
		}
		results[i] = v
	}
	e.operands.Truncate(int(frame.ValueBase))
	if _, err := e.frames.Pop(); err != nil {
		return err
	}

	for _, v := range results {
		if err := e.push(v); err != nil {
			return err
		}
	}

	if e.frames.Len() == 0 {
		e.results = results
		e.state = StateFinished
	}
	return nil
}

// call executes a direct call: host functions dispatch through the
// intercept chain, guest functions push a frame.
func (e *Engine) call(ctx context.Context, frame *Frame, funcIdx uint32) error {
	if hostFn, isHost := e.inst.HostFunc(funcIdx); isHost {
		if err := e.callHost(ctx, hostFn); err != nil {
			return err
		}
		frame.PC++
		return nil
	}
	frame.PC++
	if err := e.pushFrame(funcIdx); err != nil {
		frame.PC--
		return err
	}
	return nil
}

// callIndirect resolves the target through the table and checks the
// expected signature against the resolved function's actual one.
func (e *Engine) callIndirect(ctx context.Context, frame *Frame, imm wasm.CallIndirectImm) error {
	tbl, err := e.inst.Table(imm.TableIdx)
	if err != nil {
		return err
	}
	n := e.operands.Len()
	if n < 1 {
		return errors.ErrStackUnderflow
	}
	sel, err := e.operands.At(n - 1)
	if err != nil {
		return err
	}
	if sel.Type != wasm.ValI32 {
		return errors.ErrTypeMismatch
	}

	// Tables carry no checksum: this read is bounds-checked only and is
	// not upgraded to an integrity probe.
	entry, err := tbl.Get(sel.AsU32())
	if err != nil {
		return err
	}
	if entry.IsNullRef() {
		return errors.ErrNullReference
	}
	target := entry.RefIndex()

	expected := e.inst.Image.Types[imm.TypeIdx]
	actual, ok := e.inst.Image.FuncSignature(target)
	if !ok {
		return errors.IndexOutOfRange("function", uint64(target), uint64(e.inst.Image.NumFuncs()))
	}
	if !expected.Equal(actual) {
		// No effect: the selector stays on the stack for inspection.
		return errors.ErrIndirectCallTypeMismatch
	}

	if hostFn, isHost := e.inst.HostFunc(target); isHost && hostFn.FuelCost > e.gov.Remaining() {
		// Refund the call_indirect opcode so the pause is effect-free.
		e.gov.Refuel(costIndirect)
		return errPause
	}

	// Commit: drop the selector, then dispatch.
	e.operands.Pop()
	return e.call(ctx, frame, target)
}

// callHost pops exact-signature arguments and routes the call through
// the intercept chain.
func (e *Engine) callHost(ctx context.Context, fn *runtime.HostFunc) error {
	if fn.FuelCost > 0 && !e.gov.TryConsume(fn.FuelCost) {
		// Refund the call opcode so the pause is effect-free.
		e.gov.Refuel(costCall)
		return errPause
	}

	nParams := len(fn.Sig.Params)
	if e.operands.Len() < nParams {
		return errors.ErrStackUnderflow
	}
	args := make([]runtime.Value, nParams)
	for i := nParams - 1; i >= 0; i-- {
		v, err := e.operands.Pop()
		if err != nil {
			return err
		}
		if v.Type != fn.Sig.Params[i] {
			return errors.ErrTypeMismatch
		}
		args[i] = v
	}

	call := &intercept.Call{Module: fn.Module, Name: fn.Name, Args: args}
	results, err := e.hooks.Run(ctx, call, fn.Fn)
	if err != nil {
		return err
	}

	if len(results) != len(fn.Sig.Results) {
		return errors.ErrTypeMismatch
	}
	for i, v := range results {
		if v.Type != fn.Sig.Results[i] {
			return errors.ErrTypeMismatch
		}
		if err := e.push(v); err != nil {
			return err
		}
	}
	e.gov.noteCall()
	return nil
}

func (e *Engine) selectOp(frame *Frame) error {
	cond, err := e.popTyped(wasm.ValI32)
	if err != nil {
		return err
	}
	b, err := e.operands.Pop()
	if err != nil {
		return err
	}
	a, err := e.operands.Pop()
	if err != nil {
		return err
	}
	if a.Type != b.Type {
		return errors.ErrTypeMismatch
	}
	v := a
	if cond.AsI32() == 0 {
		v = b
	}
	if err := e.push(v); err != nil {
		return err
	}
	frame.PC++
	return nil
}

func (e *Engine) tableGet(frame *Frame, tableIdx uint32) error {
	tbl, err := e.inst.Table(tableIdx)
	if err != nil {
		return err
	}
	idx, err := e.popTyped(wasm.ValI32)
	if err != nil {
		return err
	}
	v, err := tbl.Get(idx.AsU32())
	if err != nil {
		return err
	}
	if err := e.push(v); err != nil {
		return err
	}
	frame.PC++
	return nil
}

func (e *Engine) tableSet(frame *Frame, tableIdx uint32) error {
	tbl, err := e.inst.Table(tableIdx)
	if err != nil {
		return err
	}
	v, err := e.operands.Pop()
	if err != nil {
		return err
	}
	idx, err := e.popTyped(wasm.ValI32)
	if err != nil {
		return err
	}
	if err := tbl.Set(idx.AsU32(), v); err != nil {
		return err
	}
	frame.PC++
	return nil
}
