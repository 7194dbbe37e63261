// Package engine implements the stackless WebAssembly interpreter.
//
// "Stackless" means all execution state lives in the engine's bounded
// operand and frame stacks, never on the host call stack. That keeps
// stack depth exact and budgeted, makes fuel-driven pauses possible at
// any instruction boundary, and lets the whole execution state be
// checkpointed and restored.
//
// An Engine binds to one instance and moves through a small state
// machine: Ready, Running, Paused, Trapped, Finished. Every
// instruction is fuel-accounted before it executes; when the next
// instruction's cost exceeds the remaining fuel the engine pauses with
// no observable guest effect, and the host may refuel and Resume.
// Traps carry their kind, the instruction position, and a snapshot of
// the top operand values; an integrity failure additionally poisons
// the engine so no further invoke runs on possibly corrupt state.
//
// Host calls dispatch through the intercept chain, and Save/Restore
// implement the "WRTC" checkpoint format with a crc32 trailer.
package engine
