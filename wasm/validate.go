package wasm

import "fmt"

// MaxPages is the largest page count a 32-bit linear memory can declare.
const MaxPages = 65536

// Validate checks the image for structural validity: every index
// resolvable (the immediates of 0xFC-prefixed instructions are not
// range-checked), every branch target in range, control nesting
// well-formed. The engine relies on these invariants and treats a
// violation observed at run time as a bug-detection trap.
func (m *Image) Validate() error {
	if err := m.validateTypeIndices(); err != nil {
		return err
	}
	if err := m.validateImports(); err != nil {
		return err
	}
	if err := m.validateMemoryLimits(); err != nil {
		return err
	}
	if err := m.validateGlobals(); err != nil {
		return err
	}
	if err := m.validateExports(); err != nil {
		return err
	}
	if err := m.validateStart(); err != nil {
		return err
	}
	if err := m.validateElements(); err != nil {
		return err
	}
	if err := m.validateData(); err != nil {
		return err
	}
	if err := m.validateCode(); err != nil {
		return err
	}
	return nil
}

func (m *Image) validateTypeIndices() error {
	numTypes := uint32(len(m.Types))
	for i, typeIdx := range m.Funcs {
		if typeIdx >= numTypes {
			return fmt.Errorf("function %d references invalid type index %d (have %d types)", i, typeIdx, numTypes)
		}
	}
	for i, imp := range m.Imports {
		if imp.Kind == KindFunc && imp.TypeIdx >= numTypes {
			return fmt.Errorf("import %d (%s.%s) references invalid type index %d", i, imp.Module, imp.Name, imp.TypeIdx)
		}
	}
	return nil
}

func (m *Image) validateImports() error {
	for i, imp := range m.Imports {
		switch imp.Kind {
		case KindFunc, KindTable, KindMemory, KindGlobal:
		default:
			return fmt.Errorf("import %d has invalid kind 0x%02X", i, imp.Kind)
		}
	}
	return nil
}

func (m *Image) validateMemoryLimits() error {
	check := func(what string, l Limits) error {
		if l.Min > MaxPages {
			return fmt.Errorf("%s min %d exceeds max pages %d", what, l.Min, MaxPages)
		}
		if l.HasMax {
			if l.Max > MaxPages {
				return fmt.Errorf("%s max %d exceeds max pages %d", what, l.Max, MaxPages)
			}
			if l.Max < l.Min {
				return fmt.Errorf("%s max %d below min %d", what, l.Max, l.Min)
			}
		}
		return nil
	}
	for i, mem := range m.Memories {
		if err := check(fmt.Sprintf("memory %d", i), mem.Limits); err != nil {
			return err
		}
	}
	for i, imp := range m.Imports {
		if imp.Kind == KindMemory {
			if err := check(fmt.Sprintf("imported memory %d", i), imp.Memory.Limits); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Image) validateGlobals() error {
	numGlobals := uint32(m.NumImportedGlobals())
	for i, g := range m.Globals {
		if len(g.Init) == 0 {
			return fmt.Errorf("global %d has empty initializer", i)
		}
		if err := m.validateConstExpr(g.Init, numGlobals); err != nil {
			return fmt.Errorf("global %d: %w", i, err)
		}
	}
	return nil
}

// validateConstExpr accepts the constant instruction subset: one const
// or import-global read, terminated by end.
func (m *Image) validateConstExpr(expr []Instruction, numImportedGlobals uint32) error {
	if len(expr) == 0 || expr[len(expr)-1].Opcode != OpEnd {
		return fmt.Errorf("constant expression not end-terminated")
	}
	if len(expr) != 2 {
		return fmt.Errorf("constant expression must hold exactly one instruction before end, has %d", len(expr)-1)
	}
	for _, instr := range expr[:len(expr)-1] {
		switch instr.Opcode {
		case OpI32Const, OpI64Const, OpF32Const, OpF64Const, OpRefNull, OpRefFunc:
		case OpGlobalGet:
			imm := instr.Imm.(GlobalImm)
			if imm.GlobalIdx >= numImportedGlobals {
				return fmt.Errorf("constant expression reads non-imported global %d", imm.GlobalIdx)
			}
		default:
			return fmt.Errorf("non-constant opcode 0x%02X in constant expression", instr.Opcode)
		}
	}
	return nil
}

func (m *Image) validateExports() error {
	seen := make(map[string]bool, len(m.Exports))
	for _, e := range m.Exports {
		if seen[e.Name] {
			return fmt.Errorf("duplicate export name %q", e.Name)
		}
		seen[e.Name] = true

		var max int
		switch e.Kind {
		case KindFunc:
			max = m.NumFuncs()
		case KindTable:
			max = m.NumImportedTables() + len(m.Tables)
		case KindMemory:
			max = m.NumImportedMemories() + len(m.Memories)
		case KindGlobal:
			max = m.NumImportedGlobals() + len(m.Globals)
		default:
			return fmt.Errorf("export %q has invalid kind 0x%02X", e.Name, e.Kind)
		}
		if int(e.Idx) >= max {
			return fmt.Errorf("export %q references invalid index %d (have %d)", e.Name, e.Idx, max)
		}
	}
	return nil
}

func (m *Image) validateStart() error {
	if m.Start == nil {
		return nil
	}
	sig, ok := m.FuncSignature(*m.Start)
	if !ok {
		return fmt.Errorf("start function index %d invalid", *m.Start)
	}
	if len(sig.Params) != 0 || len(sig.Results) != 0 {
		return fmt.Errorf("start function must have signature ()->(), has %d params %d results", len(sig.Params), len(sig.Results))
	}
	return nil
}

func (m *Image) validateElements() error {
	numTables := m.NumImportedTables() + len(m.Tables)
	numFuncs := uint32(m.NumFuncs())
	numGlobals := uint32(m.NumImportedGlobals())
	for i, el := range m.Elements {
		if int(el.TableIdx) >= numTables {
			return fmt.Errorf("element %d references invalid table %d", i, el.TableIdx)
		}
		if err := m.validateConstExpr(el.Offset, numGlobals); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		for _, f := range el.FuncIdxs {
			if f >= numFuncs {
				return fmt.Errorf("element %d references invalid function %d", i, f)
			}
		}
	}
	return nil
}

func (m *Image) validateData() error {
	numMems := m.NumImportedMemories() + len(m.Memories)
	numGlobals := uint32(m.NumImportedGlobals())
	for i, seg := range m.Data {
		if seg.Passive {
			continue
		}
		if int(seg.MemIdx) >= numMems {
			return fmt.Errorf("data segment %d references invalid memory %d", i, seg.MemIdx)
		}
		if err := m.validateConstExpr(seg.Offset, numGlobals); err != nil {
			return fmt.Errorf("data segment %d: %w", i, err)
		}
	}
	return nil
}

func (m *Image) validateCode() error {
	if len(m.Funcs) != len(m.Code) {
		return fmt.Errorf("function count %d does not match code count %d", len(m.Funcs), len(m.Code))
	}
	for i := range m.Code {
		funcIdx := uint32(m.NumImportedFuncs() + i)
		if err := m.validateBody(funcIdx, &m.Code[i]); err != nil {
			return fmt.Errorf("function %d: %w", funcIdx, err)
		}
	}
	return nil
}

// validateBody checks index ranges and control nesting of one body.
// It does not re-run full type inference: immediates are checked
// against the index spaces, branch depths against live nesting.
// Immediates of 0xFC-prefixed instructions are not checked here.
func (m *Image) validateBody(funcIdx uint32, code *FuncCode) error {
	sig, ok := m.FuncSignature(funcIdx)
	if !ok {
		return fmt.Errorf("signature unresolved")
	}
	numLocals := uint32(len(sig.Params) + len(code.Locals))
	numFuncs := uint32(m.NumFuncs())
	numGlobals := uint32(m.NumImportedGlobals() + len(m.Globals))
	numTables := uint32(m.NumImportedTables() + len(m.Tables))
	numMems := m.NumImportedMemories() + len(m.Memories)
	numTypes := uint32(len(m.Types))

	if len(code.Body) == 0 || code.Body[len(code.Body)-1].Opcode != OpEnd {
		return fmt.Errorf("body not end-terminated")
	}

	// Depth 1 is the implicit function block.
	depth := 1
	for pc, instr := range code.Body {
		switch instr.Opcode {
		case OpBlock, OpLoop, OpIf:
			if imm := instr.Imm.(BlockImm); imm.Type >= 0 && uint32(imm.Type) >= numTypes {
				return fmt.Errorf("pc %d: block type index %d invalid", pc, imm.Type)
			}
			depth++
		case OpEnd:
			depth--
			if depth < 0 {
				return fmt.Errorf("pc %d: end without matching block", pc)
			}
		case OpElse:
			if depth < 1 {
				return fmt.Errorf("pc %d: else outside block", pc)
			}
		case OpBr, OpBrIf:
			if imm := instr.Imm.(BranchImm); int(imm.LabelIdx) >= depth {
				return fmt.Errorf("pc %d: branch depth %d exceeds nesting %d", pc, imm.LabelIdx, depth)
			}
		case OpBrTable:
			imm := instr.Imm.(BrTableImm)
			for _, l := range imm.Labels {
				if int(l) >= depth {
					return fmt.Errorf("pc %d: br_table target %d exceeds nesting %d", pc, l, depth)
				}
			}
			if int(imm.Default) >= depth {
				return fmt.Errorf("pc %d: br_table default %d exceeds nesting %d", pc, imm.Default, depth)
			}
		case OpCall:
			if imm := instr.Imm.(CallImm); imm.FuncIdx >= numFuncs {
				return fmt.Errorf("pc %d: call target %d invalid", pc, imm.FuncIdx)
			}
		case OpCallIndirect:
			imm := instr.Imm.(CallIndirectImm)
			if imm.TypeIdx >= numTypes {
				return fmt.Errorf("pc %d: call_indirect type %d invalid", pc, imm.TypeIdx)
			}
			if imm.TableIdx >= numTables {
				return fmt.Errorf("pc %d: call_indirect table %d invalid", pc, imm.TableIdx)
			}
		case OpLocalGet, OpLocalSet, OpLocalTee:
			if imm := instr.Imm.(LocalImm); imm.LocalIdx >= numLocals {
				return fmt.Errorf("pc %d: local %d invalid (have %d)", pc, imm.LocalIdx, numLocals)
			}
		case OpGlobalGet:
			if imm := instr.Imm.(GlobalImm); imm.GlobalIdx >= numGlobals {
				return fmt.Errorf("pc %d: global %d invalid", pc, imm.GlobalIdx)
			}
		case OpGlobalSet:
			imm := instr.Imm.(GlobalImm)
			if imm.GlobalIdx >= numGlobals {
				return fmt.Errorf("pc %d: global %d invalid", pc, imm.GlobalIdx)
			}
			if gt, ok := m.globalType(imm.GlobalIdx); ok && !gt.Mutable {
				return fmt.Errorf("pc %d: global.set on immutable global %d", pc, imm.GlobalIdx)
			}
		case OpTableGet, OpTableSet:
			if imm := instr.Imm.(TableImm); imm.TableIdx >= numTables {
				return fmt.Errorf("pc %d: table %d invalid", pc, imm.TableIdx)
			}
		case OpRefFunc:
			if imm := instr.Imm.(RefFuncImm); imm.FuncIdx >= numFuncs {
				return fmt.Errorf("pc %d: ref.func target %d invalid", pc, imm.FuncIdx)
			}
		case OpMemorySize, OpMemoryGrow:
			if numMems == 0 {
				return fmt.Errorf("pc %d: memory instruction without declared memory", pc)
			}
		default:
			if isMemoryAccess(instr.Opcode) && numMems == 0 {
				return fmt.Errorf("pc %d: memory access without declared memory", pc)
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("unbalanced control nesting: %d blocks unterminated", depth)
	}
	return nil
}

// globalType resolves a global index across imports and locals.
func (m *Image) globalType(idx uint32) (GlobalType, bool) {
	imported := 0
	for _, imp := range m.Imports {
		if imp.Kind != KindGlobal {
			continue
		}
		if uint32(imported) == idx {
			return imp.Global, true
		}
		imported++
	}
	local := idx - uint32(imported)
	if int(local) < len(m.Globals) {
		return m.Globals[local].Type, true
	}
	return GlobalType{}, false
}
