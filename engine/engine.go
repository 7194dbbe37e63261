package engine

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/wrt/budget"
	"github.com/wippyai/wrt/errors"
	"github.com/wippyai/wrt/intercept"
	"github.com/wippyai/wrt/runtime"
	"github.com/wippyai/wrt/safemem"
)

// State is the engine's execution state.
type State uint8

const (
	// StateReady means no frame is live.
	StateReady State = iota
	// StateRunning means the dispatch loop is stepping instructions.
	StateRunning
	// StatePaused means execution stopped at an instruction boundary
	// and can resume.
	StatePaused
	// StateTrapped means the guest failed; the trap is recorded.
	StateTrapped
	// StateFinished means the outermost call returned.
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateTrapped:
		return "trapped"
	case StateFinished:
		return "finished"
	}
	return "unknown"
}

// PauseReason says why the engine paused.
type PauseReason uint8

const (
	// PauseFuelExhausted means the next instruction's cost exceeded
	// the remaining fuel.
	PauseFuelExhausted PauseReason = iota
	// PauseCheckpoint means execution stopped for a state capture.
	PauseCheckpoint
)

// Trap describes a guest execution failure: the kind, where it
// happened, and a snapshot of the top operand values at that moment.
type Trap struct {
	Kind     errors.Kind
	FuncIdx  uint32
	PC       uint32
	Operands []runtime.Value // top values, innermost last, at most 4
}

// trapSnapshotDepth is how many top-of-stack values a trap captures.
const trapSnapshotDepth = 4

// Config carries engine construction parameters.
type Config struct {
	Registry *budget.Registry
	Hooks    *intercept.Chain
	Logger   *zap.Logger
	Verify   safemem.Level
	// Fuel is the initial fuel. Zero starts the engine exhausted;
	// refuel before invoking.
	Fuel uint64
	// OperandCapacity and FrameCapacity bound the engine's stacks.
	// Zero selects the defaults.
	OperandCapacity int
	FrameCapacity   int
}

// Default stack bounds.
const (
	DefaultOperandCapacity = 4096
	DefaultFrameCapacity   = 256
)

// Engine is the stackless interpreter. All execution state lives in
// its bounded operand and frame stacks, never on the host call stack,
// which makes depth exact, pauses cheap, and checkpoints possible.
// One engine runs one guest call at a time.
type Engine struct {
	inst     *runtime.Instance
	operands *safemem.BoundedStack[runtime.Value]
	frames   *safemem.BoundedStack[Frame]
	gov      *Governor
	hooks    *intercept.Chain
	logger   *zap.Logger
	verify   safemem.Level
	controls map[uint32]*controlMap
	// Dropped passive segments, per memory.init/table.init semantics.
	droppedData  map[uint32]bool
	droppedElems map[uint32]bool
	trap         *Trap
	results      []runtime.Value
	id           string
	state        State
	pauseWhy     PauseReason
	poisoned     bool
}

// New builds an engine bound to an instance. Stack capacities are
// charged to the engine budget crate up front.
func New(inst *runtime.Instance, cfg Config) (*Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = Logger()
	}
	opCap := cfg.OperandCapacity
	if opCap == 0 {
		opCap = DefaultOperandCapacity
	}
	frCap := cfg.FrameCapacity
	if frCap == 0 {
		frCap = DefaultFrameCapacity
	}

	const operandBytes = 24
	operands, err := safemem.AcquireStack[runtime.Value](cfg.Registry, budget.CrateEngine, opCap, operandBytes)
	if err != nil {
		return nil, err
	}
	const frameBytes = 128
	frames, err := safemem.AcquireStack[Frame](cfg.Registry, budget.CrateEngine, frCap, frameBytes)
	if err != nil {
		operands.Close()
		return nil, err
	}

	e := &Engine{
		inst:         inst,
		operands:     operands,
		frames:       frames,
		gov:          NewGovernor(cfg.Fuel, frCap*3/4, opCap*3/4, cfg.Logger),
		hooks:        cfg.Hooks,
		logger:       cfg.Logger,
		verify:       cfg.Verify,
		controls:     make(map[uint32]*controlMap),
		droppedData:  make(map[uint32]bool),
		droppedElems: make(map[uint32]bool),
		id:           uuid.NewString(),
		state:        StateReady,
	}
	e.logger.Debug("engine created",
		zap.String("engine", e.id),
		zap.String("instance", inst.ID()),
		zap.Int("operand_capacity", opCap),
		zap.Int("frame_capacity", frCap))
	return e, nil
}

// ID returns the engine's identity.
func (e *Engine) ID() string { return e.id }

// State returns the current execution state.
func (e *Engine) State() State { return e.state }

// PausedFor reports why a paused engine stopped.
func (e *Engine) PausedFor() PauseReason { return e.pauseWhy }

// Trap returns the recorded trap after a Trapped transition.
func (e *Engine) Trap() *Trap { return e.trap }

// Governor exposes fuel control and execution statistics.
func (e *Engine) Governor() *Governor { return e.gov }

// Instance returns the bound instance.
func (e *Engine) Instance() *runtime.Instance { return e.inst }

// Poisoned reports whether an integrity failure has disabled the
// engine. A poisoned engine refuses further invokes; only a fresh
// engine over a fresh instance may continue.
func (e *Engine) Poisoned() bool { return e.poisoned }

// Close releases the engine's stacks back to the budget registry.
func (e *Engine) Close() {
	e.operands.Close()
	e.frames.Close()
}

// RunStart runs the module's start function, if any, under the full
// engine contract.
func (e *Engine) RunStart(ctx context.Context) error {
	if e.inst.Image.Start == nil {
		return nil
	}
	_, err := e.invokeIndex(ctx, *e.inst.Image.Start, nil)
	return err
}

// Invoke calls an exported function with the given arguments and
// returns its results, or the structured trap error.
func (e *Engine) Invoke(ctx context.Context, name string, args []runtime.Value) ([]runtime.Value, error) {
	funcIdx, ok := e.inst.Image.ExportedFunc(name)
	if !ok {
		return nil, errors.New(errors.CategoryLink, errors.KindMissingImport).
			Msgf("export %q not found", name).
			Build()
	}
	return e.invokeIndex(ctx, funcIdx, args)
}

// invokeIndex begins execution of a function index from Ready state.
func (e *Engine) invokeIndex(ctx context.Context, funcIdx uint32, args []runtime.Value) ([]runtime.Value, error) {
	if e.poisoned {
		return nil, errors.ErrEnginePoisoned
	}
	if e.state == StateRunning || e.state == StatePaused {
		return nil, errors.New(errors.CategoryRuntime, errors.KindTrap).
			Msg("engine busy").
			Build()
	}
	e.reset()

	sig, ok := e.inst.Image.FuncSignature(funcIdx)
	if !ok {
		return nil, errors.IndexOutOfRange("function", uint64(funcIdx), uint64(e.inst.Image.NumFuncs()))
	}
	if len(args) != len(sig.Params) {
		return nil, errors.New(errors.CategoryCore, errors.KindTypeMismatch).
			Msgf("call needs %d arguments, got %d", len(sig.Params), len(args)).
			Build()
	}
	for i, a := range args {
		if a.Type != sig.Params[i] {
			return nil, errors.ErrTypeMismatch
		}
		if err := e.operands.Push(a); err != nil {
			return nil, err
		}
	}

	if err := e.pushFrame(funcIdx); err != nil {
		return nil, err
	}
	e.state = StateRunning
	return e.run(ctx)
}

// Resume continues a paused engine. The host typically refuels first;
// resuming with no fuel pauses again immediately.
func (e *Engine) Resume(ctx context.Context) ([]runtime.Value, error) {
	if e.poisoned {
		return nil, errors.ErrEnginePoisoned
	}
	if e.state != StatePaused {
		return nil, errors.New(errors.CategoryRuntime, errors.KindTrap).
			Msgf("resume in state %s", e.state).
			Build()
	}
	e.state = StateRunning
	return e.run(ctx)
}

// Refuel adds fuel without resuming.
func (e *Engine) Refuel(n uint64) {
	e.gov.Refuel(n)
}

// Cancel zeroes the fuel; a running engine pauses at the next
// instruction boundary with no torn state.
func (e *Engine) Cancel() {
	e.gov.Exhaust()
}

// Results returns the outermost call's results after Finished.
func (e *Engine) Results() []runtime.Value {
	return e.results
}

// reset clears stacks and transient state before a fresh invoke.
func (e *Engine) reset() {
	e.operands.Truncate(0)
	e.frames.Truncate(0)
	e.trap = nil
	e.results = nil
	e.state = StateReady
}

// pushFrame binds arguments from the operand stack into a new frame's
// locals and pushes it.
func (e *Engine) pushFrame(funcIdx uint32) error {
	img := e.inst.Image
	sig, ok := img.FuncSignature(funcIdx)
	if !ok {
		return errors.IndexOutOfRange("function", uint64(funcIdx), uint64(img.NumFuncs()))
	}
	code, ok := img.LocalCode(funcIdx)
	if !ok {
		return errors.IndexOutOfRange("function body", uint64(funcIdx), uint64(img.NumFuncs()))
	}

	nParams := len(sig.Params)
	if e.operands.Len() < nParams {
		return errors.ErrStackUnderflow
	}

	locals := make([]runtime.Value, nParams+len(code.Locals))
	for i := nParams - 1; i >= 0; i-- {
		v, err := e.operands.Pop()
		if err != nil {
			return err
		}
		if v.Type != sig.Params[i] {
			return errors.ErrTypeMismatch
		}
		locals[i] = v
	}
	for i, t := range code.Locals {
		locals[nParams+i] = runtime.Zero(t)
	}

	frame := Frame{
		FuncIdx:   funcIdx,
		Locals:    locals,
		ValueBase: uint32(e.operands.Len()),
		body:      code.Body,
		sig:       sig,
	}
	if err := e.frames.Push(frame); err != nil {
		return errors.ErrStackOverflow
	}
	e.gov.noteCall()
	e.gov.noteFrameDepth(e.frames.Len())
	return nil
}

// control returns the cached control map for a function.
func (e *Engine) control(funcIdx uint32) (*controlMap, error) {
	if cm, ok := e.controls[funcIdx]; ok {
		return cm, nil
	}
	code, ok := e.inst.Image.LocalCode(funcIdx)
	if !ok {
		return nil, errors.IndexOutOfRange("function body", uint64(funcIdx), uint64(e.inst.Image.NumFuncs()))
	}
	cm, err := buildControlMap(code.Body)
	if err != nil {
		return nil, err
	}
	e.controls[funcIdx] = cm
	return cm, nil
}

// setTrap records a trap and transitions to Trapped. Instructions check
// operands and bounds before they write memory, globals or tables; the
// operand snapshot shows the stack as the trapping instruction left it.
func (e *Engine) setTrap(kind errors.Kind, frame *Frame) {
	t := &Trap{Kind: kind}
	if frame != nil {
		t.FuncIdx = frame.FuncIdx
		t.PC = frame.PC
	}
	n := e.operands.Len()
	depth := trapSnapshotDepth
	if n < depth {
		depth = n
	}
	for i := n - depth; i < n; i++ {
		v, _ := e.operands.At(i)
		t.Operands = append(t.Operands, v)
	}
	e.trap = t
	e.state = StateTrapped

	if kind == errors.KindIntegrityFailure {
		e.poisoned = true
		e.logger.Error("engine poisoned by integrity failure",
			zap.String("engine", e.id),
			zap.Uint32("func", t.FuncIdx),
			zap.Uint32("pc", t.PC))
	}
}

// trapError converts the recorded trap into the error Invoke returns.
// The category follows the trap kind so callers can match the shared
// sentinels.
func (e *Engine) trapError() error {
	t := e.trap
	b := errors.New(errors.CategoryOf(t.Kind), t.Kind).
		Msg(opcodeName(e.trapOpcode())).
		PC(uint64(t.PC)).
		Context("func", uint64(t.FuncIdx))
	return b.Build()
}

// trapOpcode returns the opcode at the trap site, when recoverable.
func (e *Engine) trapOpcode() byte {
	if e.trap == nil {
		return 0
	}
	code, ok := e.inst.Image.LocalCode(e.trap.FuncIdx)
	if !ok || int(e.trap.PC) >= len(code.Body) {
		return 0
	}
	return code.Body[e.trap.PC].Opcode
}

func opcodeName(op byte) string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return "op"
}
