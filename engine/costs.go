package engine

import "github.com/wippyai/wrt/wasm"

// Fuel costs per instruction class. The table is deterministic and
// fixed: two engines running the same trace always account the same
// totals.
const (
	costFree     = 0 // structure: block, loop, else, branches, constants
	costBasic    = 1 // locals, arithmetic, comparisons, conversions, end
	costGlobal   = 2 // global reads go through the verified region
	costMemory   = 2 // linear memory loads and stores
	costCall     = 3 // frame setup
	costIndirect = 4 // table lookup plus signature check
	costGrow     = 8 // page mapping and zero fill
)

// costOf returns the fuel cost of one instruction.
func costOf(op byte) uint64 {
	switch op {
	case wasm.OpNop, wasm.OpBlock, wasm.OpLoop, wasm.OpElse,
		wasm.OpBr, wasm.OpBrIf, wasm.OpBrTable,
		wasm.OpI32Const, wasm.OpI64Const, wasm.OpF32Const, wasm.OpF64Const,
		wasm.OpUnreachable:
		return costFree
	case wasm.OpGlobalGet:
		return costGlobal
	case wasm.OpGlobalSet:
		return costBasic
	case wasm.OpCall, wasm.OpReturn:
		return costCall
	case wasm.OpCallIndirect:
		return costIndirect
	case wasm.OpMemoryGrow:
		return costGrow
	case wasm.OpMemorySize:
		return costBasic
	case wasm.OpTableGet, wasm.OpTableSet:
		return costGlobal
	case wasm.OpPrefixMisc:
		return costMemory
	}
	if op >= wasm.OpI32Load && op <= wasm.OpI64Store32 {
		return costMemory
	}
	return costBasic
}

// opcodeNames maps opcodes to their text names for traces and the
// inspector. Only the subset that shows up in diagnostics is named;
// unnamed opcodes render as "op".
var opcodeNames = map[byte]string{
	wasm.OpUnreachable:  "unreachable",
	wasm.OpNop:          "nop",
	wasm.OpBlock:        "block",
	wasm.OpLoop:         "loop",
	wasm.OpIf:           "if",
	wasm.OpElse:         "else",
	wasm.OpEnd:          "end",
	wasm.OpBr:           "br",
	wasm.OpBrIf:         "br_if",
	wasm.OpBrTable:      "br_table",
	wasm.OpReturn:       "return",
	wasm.OpCall:         "call",
	wasm.OpCallIndirect: "call_indirect",
	wasm.OpDrop:         "drop",
	wasm.OpSelect:       "select",
	wasm.OpLocalGet:     "local.get",
	wasm.OpLocalSet:     "local.set",
	wasm.OpLocalTee:     "local.tee",
	wasm.OpGlobalGet:    "global.get",
	wasm.OpGlobalSet:    "global.set",
	wasm.OpI32Const:     "i32.const",
	wasm.OpI64Const:     "i64.const",
	wasm.OpI32Add:       "i32.add",
	wasm.OpI32Sub:       "i32.sub",
	wasm.OpI32Mul:       "i32.mul",
	wasm.OpI32DivS:      "i32.div_s",
	wasm.OpI32DivU:      "i32.div_u",
	wasm.OpI32Load:      "i32.load",
	wasm.OpI32Store:     "i32.store",
	wasm.OpMemorySize:   "memory.size",
	wasm.OpMemoryGrow:   "memory.grow",
}
