package engine

import (
	"github.com/wippyai/wrt/errors"
	"github.com/wippyai/wrt/runtime"
	"github.com/wippyai/wrt/wasm"
)

// MaxLabelDepth bounds a frame's label stack. Deeper nesting fails as
// a stack overflow trap.
const MaxLabelDepth = 256

// Label records a live block, loop, or if on a frame's label stack.
type Label struct {
	// HeadPC is the pc just after the structured opcode, the target
	// of a backward branch when IsLoop.
	HeadPC uint32
	// EndPC is the pc of the matching end, the target of a forward
	// branch.
	EndPC uint32
	// ValueBase is the operand depth under the label's operands.
	ValueBase uint32
	// ArityIn is the value count carried by a branch to a loop.
	ArityIn uint32
	// ArityOut is the value count carried by a branch past a block.
	ArityOut uint32
	IsLoop   bool
}

// Frame is one call's execution state on the engine's frame stack.
type Frame struct {
	Locals    []runtime.Value
	Labels    []Label
	body      []wasm.Instruction
	sig       wasm.FuncType
	FuncIdx   uint32
	PC        uint32
	ValueBase uint32
}

// pushLabel appends a label, enforcing the nesting bound.
func (f *Frame) pushLabel(l Label) error {
	if len(f.Labels) >= MaxLabelDepth {
		return errors.ErrStackOverflow
	}
	f.Labels = append(f.Labels, l)
	return nil
}

// popLabel removes the innermost label.
func (f *Frame) popLabel() (Label, error) {
	if len(f.Labels) == 0 {
		return Label{}, errors.ErrStackUnderflow
	}
	l := f.Labels[len(f.Labels)-1]
	f.Labels = f.Labels[:len(f.Labels)-1]
	return l, nil
}

// labelAt returns the label at branch depth n (0 = innermost).
func (f *Frame) labelAt(n uint32) (*Label, error) {
	idx := len(f.Labels) - 1 - int(n)
	if idx < 0 {
		return nil, errors.ErrStackUnderflow
	}
	return &f.Labels[idx], nil
}

// controlMap caches the matching else/end positions of a function
// body, computed once per function and shared across calls.
type controlMap struct {
	end  map[uint32]uint32 // block/loop/if pc -> matching end pc
	els  map[uint32]uint32 // if pc -> else pc (absent when no else)
}

// buildControlMap scans a body and pairs structured opcodes with
// their else/end positions. Validation has already checked balance.
func buildControlMap(body []wasm.Instruction) (*controlMap, error) {
	cm := &controlMap{
		end: make(map[uint32]uint32),
		els: make(map[uint32]uint32),
	}
	var stack []uint32
	for pc, instr := range body {
		switch instr.Opcode {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
			stack = append(stack, uint32(pc))
		case wasm.OpElse:
			if len(stack) == 0 {
				return nil, errors.MalformedModule("else outside control structure")
			}
			cm.els[stack[len(stack)-1]] = uint32(pc)
		case wasm.OpEnd:
			if len(stack) == 0 {
				// Function-closing end.
				continue
			}
			opener := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			cm.end[opener] = uint32(pc)
		}
	}
	if len(stack) != 0 {
		return nil, errors.MalformedModule("unbalanced control structure")
	}
	return cm, nil
}
