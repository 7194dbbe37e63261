package engine_test

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/wippyai/wrt/budget"
	"github.com/wippyai/wrt/engine"
	"github.com/wippyai/wrt/errors"
	"github.com/wippyai/wrt/provider"
	"github.com/wippyai/wrt/runtime"
	"github.com/wippyai/wrt/safemem"
	"github.com/wippyai/wrt/wasm"
)

// end is shorthand for the end opcode in test bodies.
var end = wasm.Instruction{Opcode: wasm.OpEnd}

func i32const(v int32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: v}}
}

func localGet(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: idx}}
}

func op(b byte) wasm.Instruction {
	return wasm.Instruction{Opcode: b}
}

type testEnv struct {
	reg   *budget.Registry
	store *runtime.Store
	inst  *runtime.Instance
	eng   *engine.Engine
}

// newEnv instantiates img and builds an engine with the given fuel.
// Budgets default to generous test values; override runtimeBudget for
// budget-sensitive scenarios.
func newEnv(t *testing.T, img *wasm.Image, fuel uint64, runtimeBudget uint64, level safemem.Level) *testEnv {
	t.Helper()
	reg := budget.NewRegistry()
	if runtimeBudget == 0 {
		runtimeBudget = 64 * provider.PageSize
	}
	if err := reg.Configure(budget.CrateRuntime, runtimeBudget); err != nil {
		t.Fatal(err)
	}
	if err := reg.Configure(budget.CrateEngine, 1<<20); err != nil {
		t.Fatal(err)
	}

	store := runtime.NewStore(runtime.StoreConfig{
		Registry: reg,
		Hosts:    runtime.NewHostRegistry(),
		Verify:   level,
	})
	inst, err := store.Instantiate(img)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(inst.Close)

	eng, err := engine.New(inst, engine.Config{
		Registry: reg,
		Fuel:     fuel,
		Verify:   level,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(eng.Close)
	return &testEnv{reg: reg, store: store, inst: inst, eng: eng}
}

// addOneImage exports add1(i32)->i32 = local.get 0; i32.const 1; i32.add.
func addOneImage() *wasm.Image {
	return &wasm.Image{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
		},
		Funcs:   []uint32{0},
		Exports: []wasm.Export{{Name: "add1", Kind: wasm.KindFunc, Idx: 0}},
		Code: []wasm.FuncCode{
			{Body: []wasm.Instruction{localGet(0), i32const(1), op(wasm.OpI32Add), end}},
		},
	}
}

func TestAddOne(t *testing.T) {
	env := newEnv(t, addOneImage(), 100, 0, safemem.Basic)

	results, err := env.eng.Invoke(context.Background(), "add1", []runtime.Value{runtime.I32(41)})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(results) != 1 || results[0].AsI32() != 42 {
		t.Errorf("add1(41) = %v, want [42]", results)
	}
	if env.eng.State() != engine.StateFinished {
		t.Errorf("state = %s, want finished", env.eng.State())
	}
	if got := env.eng.Governor().Stats().FuelConsumed; got != 3 {
		t.Errorf("fuel consumed = %d, want 3", got)
	}
}

func TestDivByZeroTrap(t *testing.T) {
	img := &wasm.Image{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
		},
		Funcs:   []uint32{0},
		Exports: []wasm.Export{{Name: "divs", Kind: wasm.KindFunc, Idx: 0}},
		Code: []wasm.FuncCode{
			{Body: []wasm.Instruction{localGet(0), localGet(1), op(wasm.OpI32DivS), end}},
		},
	}
	env := newEnv(t, img, 100, 0, safemem.Basic)

	_, err := env.eng.Invoke(context.Background(), "divs", []runtime.Value{runtime.I32(7), runtime.I32(0)})
	if !errors.ErrDivByZero.Is(err) {
		t.Fatalf("invoke = %v, want DivByZero", err)
	}
	if env.eng.State() != engine.StateTrapped {
		t.Fatalf("state = %s, want trapped", env.eng.State())
	}

	trap := env.eng.Trap()
	if trap.Kind != errors.KindDivByZero {
		t.Errorf("trap kind = %s", trap.Kind)
	}
	if trap.FuncIdx != 0 {
		t.Errorf("trap func = %d, want 0", trap.FuncIdx)
	}
	if trap.PC != 2 {
		t.Errorf("trap pc = %d, want 2", trap.PC)
	}
	// The two inputs stay on the operand stack for inspection.
	if len(trap.Operands) != 2 || trap.Operands[0].AsI32() != 7 || trap.Operands[1].AsI32() != 0 {
		t.Errorf("operand snapshot = %v, want [7 0]", trap.Operands)
	}
}

func TestMemoryGrowAgainstBudget(t *testing.T) {
	img := &wasm.Image{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
		},
		Funcs:    []uint32{0},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1, Max: 10, HasMax: true}}},
		Exports:  []wasm.Export{{Name: "grow", Kind: wasm.KindFunc, Idx: 0}},
		Code: []wasm.FuncCode{
			{Body: []wasm.Instruction{localGet(0), op(wasm.OpMemoryGrow), end}},
		},
	}
	// Budget: 5 pages for guest memory plus slack for the global region.
	env := newEnv(t, img, 1000, 5*provider.PageSize+1024, safemem.Basic)
	ctx := context.Background()

	results, err := env.eng.Invoke(ctx, "grow", []runtime.Value{runtime.I32(4)})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].AsI32() != 1 {
		t.Errorf("grow(4) = %d, want 1", results[0].AsI32())
	}

	results, err = env.eng.Invoke(ctx, "grow", []runtime.Value{runtime.I32(1)})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].AsI32() != -1 {
		t.Errorf("grow(1) over budget = %d, want -1", results[0].AsI32())
	}

	mem, _ := env.inst.Memory(0)
	if mem.Pages() != 5 {
		t.Errorf("final pages = %d, want 5", mem.Pages())
	}
}

// fuelLoopImage increments global 0 forever; with the engine's cost
// table one iteration costs 4 fuel.
func fuelLoopImage() *wasm.Image {
	return &wasm.Image{
		Types: []wasm.FuncType{{}},
		Funcs: []uint32{0},
		Globals: []wasm.Global{
			{
				Type: wasm.GlobalType{Type: wasm.ValI32, Mutable: true},
				Init: []wasm.Instruction{i32const(0), end},
			},
		},
		Exports: []wasm.Export{{Name: "run", Kind: wasm.KindFunc, Idx: 0}},
		Code: []wasm.FuncCode{
			{Body: []wasm.Instruction{
				{Opcode: wasm.OpLoop, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}},
				{Opcode: wasm.OpGlobalGet, Imm: wasm.GlobalImm{GlobalIdx: 0}},
				i32const(1),
				op(wasm.OpI32Add),
				{Opcode: wasm.OpGlobalSet, Imm: wasm.GlobalImm{GlobalIdx: 0}},
				{Opcode: wasm.OpBr, Imm: wasm.BranchImm{LabelIdx: 0}},
				end,
				end,
			}},
		},
	}
}

func TestFuelPauseResume(t *testing.T) {
	env := newEnv(t, fuelLoopImage(), 17, 0, safemem.Basic)
	ctx := context.Background()

	_, err := env.eng.Invoke(ctx, "run", nil)
	if !errors.ErrFuelExhausted.Is(err) {
		t.Fatalf("invoke = %v, want FuelExhausted", err)
	}
	if env.eng.State() != engine.StatePaused {
		t.Fatalf("state = %s, want paused", env.eng.State())
	}
	if env.eng.PausedFor() != engine.PauseFuelExhausted {
		t.Errorf("pause reason = %d", env.eng.PausedFor())
	}
	if got := env.eng.Governor().Remaining(); got != 1 {
		t.Errorf("fuel after pause = %d, want 1", got)
	}
	g, _ := env.inst.Globals.Get(0)
	if g.AsI32() != 4 {
		t.Errorf("global after pause = %d, want 4", g.AsI32())
	}

	env.eng.Refuel(100)
	_, err = env.eng.Resume(ctx)
	if !errors.ErrFuelExhausted.Is(err) {
		t.Fatalf("resume = %v, want FuelExhausted again", err)
	}
	if got := env.eng.Governor().Remaining(); got != 1 {
		t.Errorf("fuel after second pause = %d, want 1", got)
	}
	g, _ = env.inst.Globals.Get(0)
	if g.AsI32() != 29 {
		t.Errorf("global after resume = %d, want 29", g.AsI32())
	}
}

func TestIndirectCallMismatch(t *testing.T) {
	img := &wasm.Image{
		Types: []wasm.FuncType{
			{}, // ()->()
			{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
		},
		Funcs: []uint32{0, 1},
		Tables: []wasm.TableType{
			{Elem: wasm.ValFuncRef, Limits: wasm.Limits{Min: 1, Max: 1, HasMax: true}},
		},
		Elements: []wasm.Element{
			{Offset: []wasm.Instruction{i32const(0), end}, FuncIdxs: []uint32{0}},
		},
		Exports: []wasm.Export{{Name: "caller", Kind: wasm.KindFunc, Idx: 1}},
		Code: []wasm.FuncCode{
			{Body: []wasm.Instruction{end}},
			{Body: []wasm.Instruction{
				localGet(0),
				i32const(0),
				{Opcode: wasm.OpCallIndirect, Imm: wasm.CallIndirectImm{TypeIdx: 1, TableIdx: 0}},
				end,
			}},
		},
	}
	env := newEnv(t, img, 100, 0, safemem.Basic)

	_, err := env.eng.Invoke(context.Background(), "caller", []runtime.Value{runtime.I32(5)})
	if !errors.ErrIndirectCallTypeMismatch.Is(err) {
		t.Fatalf("invoke = %v, want IndirectCallTypeMismatch", err)
	}
	trap := env.eng.Trap()
	if trap.Kind != errors.KindIndirectCallTypeMismatch {
		t.Errorf("trap kind = %s", trap.Kind)
	}
	// No effect: the argument and selector are still on the stack.
	if len(trap.Operands) != 2 || trap.Operands[0].AsI32() != 5 || trap.Operands[1].AsI32() != 0 {
		t.Errorf("operand snapshot = %v, want [5 0]", trap.Operands)
	}
}

func TestIntegrityPoisoning(t *testing.T) {
	img := &wasm.Image{
		Types: []wasm.FuncType{{Results: []wasm.ValType{wasm.ValI32}}},
		Funcs: []uint32{0},
		Globals: []wasm.Global{
			{
				Type: wasm.GlobalType{Type: wasm.ValI32, Mutable: true},
				Init: []wasm.Instruction{i32const(7), end},
			},
		},
		Exports: []wasm.Export{{Name: "get", Kind: wasm.KindFunc, Idx: 0}},
		Code: []wasm.FuncCode{
			{Body: []wasm.Instruction{
				{Opcode: wasm.OpGlobalGet, Imm: wasm.GlobalImm{GlobalIdx: 0}},
				end,
			}},
		},
	}

	reg := budget.NewRegistry()
	if err := reg.Configure(budget.CrateRuntime, 1<<20); err != nil {
		t.Fatal(err)
	}
	if err := reg.Configure(budget.CrateEngine, 1<<20); err != nil {
		t.Fatal(err)
	}

	// Build the instance by hand so the test holds the provider
	// backing the globals.
	prov, err := provider.NewHeapProvider(reg, budget.CrateRuntime, 256)
	if err != nil {
		t.Fatal(err)
	}
	gs, err := runtime.NewGlobalStore(prov, []wasm.GlobalType{{Type: wasm.ValI32, Mutable: true}}, safemem.Full, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := gs.Set(0, runtime.I32(7)); err != nil {
		t.Fatal(err)
	}
	inst := &runtime.Instance{Image: img, Globals: gs}
	defer inst.Close()

	eng, err := engine.New(inst, engine.Config{Registry: reg, Fuel: 1000, Verify: safemem.Full})
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close()
	ctx := context.Background()

	results, err := eng.Invoke(ctx, "get", nil)
	if err != nil || results[0].AsI32() != 7 {
		t.Fatalf("first invoke = %v %v", results, err)
	}

	// Adversary flips one byte in the backing between accesses.
	view, err := prov.View(8, 1)
	if err != nil {
		t.Fatal(err)
	}
	view[0] ^= 0x20

	_, err = eng.Invoke(ctx, "get", nil)
	if !errors.ErrIntegrityFailure.Is(err) {
		t.Fatalf("invoke after corruption = %v, want IntegrityFailure", err)
	}
	if !eng.Poisoned() {
		t.Error("engine should be poisoned")
	}

	_, err = eng.Invoke(ctx, "get", nil)
	if !errors.ErrEnginePoisoned.Is(err) {
		t.Errorf("invoke on poisoned engine = %v, want EnginePoisoned", err)
	}
}

func TestControlFlowIfElse(t *testing.T) {
	// abs(i32)->i32 via if/else.
	img := &wasm.Image{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
		},
		Funcs:   []uint32{0},
		Exports: []wasm.Export{{Name: "abs", Kind: wasm.KindFunc, Idx: 0}},
		Code: []wasm.FuncCode{
			{Body: []wasm.Instruction{
				localGet(0),
				i32const(0),
				op(wasm.OpI32LtS),
				{Opcode: wasm.OpIf, Imm: wasm.BlockImm{Type: wasm.BlockTypeI32}},
				i32const(0),
				localGet(0),
				op(wasm.OpI32Sub),
				op(wasm.OpElse),
				localGet(0),
				end,
				end,
			}},
		},
	}
	env := newEnv(t, img, 1000, 0, safemem.Basic)
	ctx := context.Background()

	for _, tc := range []struct{ in, want int32 }{{-5, 5}, {9, 9}, {0, 0}} {
		results, err := env.eng.Invoke(ctx, "abs", []runtime.Value{runtime.I32(tc.in)})
		if err != nil {
			t.Fatalf("abs(%d): %v", tc.in, err)
		}
		if results[0].AsI32() != tc.want {
			t.Errorf("abs(%d) = %d, want %d", tc.in, results[0].AsI32(), tc.want)
		}
	}
}

func TestNestedCalls(t *testing.T) {
	// double(x) = add(x, x); add(a,b) = a+b.
	img := &wasm.Image{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
			{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
		},
		Funcs:   []uint32{0, 1},
		Exports: []wasm.Export{{Name: "double", Kind: wasm.KindFunc, Idx: 1}},
		Code: []wasm.FuncCode{
			{Body: []wasm.Instruction{localGet(0), localGet(1), op(wasm.OpI32Add), end}},
			{Body: []wasm.Instruction{
				localGet(0),
				localGet(0),
				{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 0}},
				end,
			}},
		},
	}
	env := newEnv(t, img, 1000, 0, safemem.Basic)

	results, err := env.eng.Invoke(context.Background(), "double", []runtime.Value{runtime.I32(21)})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].AsI32() != 42 {
		t.Errorf("double(21) = %d, want 42", results[0].AsI32())
	}
	if got := env.eng.Governor().Stats().FunctionCalls; got != 2 {
		t.Errorf("function calls = %d, want 2", got)
	}
}

func TestHostCallThroughInterceptor(t *testing.T) {
	img := &wasm.Image{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
		},
		Imports: []wasm.Import{{Module: "env", Name: "mul2", Kind: wasm.KindFunc, TypeIdx: 0}},
		Funcs:   []uint32{0},
		Exports: []wasm.Export{{Name: "call_host", Kind: wasm.KindFunc, Idx: 1}},
		Code: []wasm.FuncCode{
			{Body: []wasm.Instruction{
				localGet(0),
				{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 0}},
				end,
			}},
		},
	}

	reg := budget.NewRegistry()
	if err := reg.Configure(budget.CrateRuntime, 1<<20); err != nil {
		t.Fatal(err)
	}
	if err := reg.Configure(budget.CrateEngine, 1<<20); err != nil {
		t.Fatal(err)
	}
	hosts := runtime.NewHostRegistry()
	hosts.Register(&runtime.HostFunc{
		Module: "env",
		Name:   "mul2",
		Sig:    wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
		Fn: func(_ context.Context, args []runtime.Value) ([]runtime.Value, error) {
			return []runtime.Value{runtime.I32(args[0].AsI32() * 2)}, nil
		},
	})
	store := runtime.NewStore(runtime.StoreConfig{Registry: reg, Hosts: hosts, Verify: safemem.Basic})
	inst, err := store.Instantiate(img)
	if err != nil {
		t.Fatal(err)
	}
	defer inst.Close()

	eng, err := engine.New(inst, engine.Config{Registry: reg, Fuel: 1000, Verify: safemem.Basic})
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close()

	results, err := eng.Invoke(context.Background(), "call_host", []runtime.Value{runtime.I32(11)})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].AsI32() != 22 {
		t.Errorf("call_host(11) = %d, want 22", results[0].AsI32())
	}
}

func TestStackOverflowTrap(t *testing.T) {
	// Infinite recursion must trap as stack overflow, not crash.
	img := &wasm.Image{
		Types:   []wasm.FuncType{{}},
		Funcs:   []uint32{0},
		Exports: []wasm.Export{{Name: "recurse", Kind: wasm.KindFunc, Idx: 0}},
		Code: []wasm.FuncCode{
			{Body: []wasm.Instruction{
				{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 0}},
				end,
			}},
		},
	}
	env := newEnv(t, img, 1<<40, 0, safemem.Basic)

	_, err := env.eng.Invoke(context.Background(), "recurse", nil)
	if !errors.ErrStackOverflow.Is(err) {
		t.Fatalf("invoke = %v, want StackOverflow", err)
	}
}

func TestUnreachableTrap(t *testing.T) {
	img := &wasm.Image{
		Types:   []wasm.FuncType{{}},
		Funcs:   []uint32{0},
		Exports: []wasm.Export{{Name: "boom", Kind: wasm.KindFunc, Idx: 0}},
		Code: []wasm.FuncCode{
			{Body: []wasm.Instruction{op(wasm.OpUnreachable), end}},
		},
	}
	env := newEnv(t, img, 100, 0, safemem.Basic)

	_, err := env.eng.Invoke(context.Background(), "boom", nil)
	if !errors.ErrUnreachable.Is(err) {
		t.Fatalf("invoke = %v, want Unreachable", err)
	}
}

func TestOutOfBoundsLoadTrap(t *testing.T) {
	img := &wasm.Image{
		Types:    []wasm.FuncType{{Results: []wasm.ValType{wasm.ValI32}}},
		Funcs:    []uint32{0},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1, Max: 1, HasMax: true}}},
		Exports:  []wasm.Export{{Name: "oob", Kind: wasm.KindFunc, Idx: 0}},
		Code: []wasm.FuncCode{
			{Body: []wasm.Instruction{
				i32const(65533),
				{Opcode: wasm.OpI32Load, Imm: wasm.MemoryImm{}},
				end,
			}},
		},
	}
	env := newEnv(t, img, 100, 0, safemem.Basic)

	_, err := env.eng.Invoke(context.Background(), "oob", nil)
	if !errors.ErrOutOfBounds.Is(err) {
		t.Fatalf("invoke = %v, want OutOfBounds", err)
	}
}

func TestMemoryLoadStore(t *testing.T) {
	img := &wasm.Image{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}},
			{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
		},
		Funcs:    []uint32{0, 1},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1, Max: 1, HasMax: true}}},
		Exports: []wasm.Export{
			{Name: "poke", Kind: wasm.KindFunc, Idx: 0},
			{Name: "peek", Kind: wasm.KindFunc, Idx: 1},
		},
		Code: []wasm.FuncCode{
			{Body: []wasm.Instruction{
				localGet(0),
				localGet(1),
				{Opcode: wasm.OpI32Store, Imm: wasm.MemoryImm{Align: 2}},
				end,
			}},
			{Body: []wasm.Instruction{
				localGet(0),
				{Opcode: wasm.OpI32Load, Imm: wasm.MemoryImm{Align: 2}},
				end,
			}},
		},
	}
	env := newEnv(t, img, 1000, 0, safemem.Full)
	ctx := context.Background()

	if _, err := env.eng.Invoke(ctx, "poke", []runtime.Value{runtime.I32(128), runtime.I32(-99)}); err != nil {
		t.Fatal(err)
	}
	results, err := env.eng.Invoke(ctx, "peek", []runtime.Value{runtime.I32(128)})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].AsI32() != -99 {
		t.Errorf("peek = %d, want -99", results[0].AsI32())
	}
}

func TestDeterministicExecution(t *testing.T) {
	run := func() (int32, uint64) {
		env := newEnv(t, fuelLoopImage(), 1009, 0, safemem.Sampling(4))
		_, err := env.eng.Invoke(context.Background(), "run", nil)
		if !stderrors.Is(err, errors.ErrFuelExhausted) {
			t.Fatalf("want fuel exhaustion, got %v", err)
		}
		g, _ := env.inst.Globals.Get(0)
		return g.AsI32(), env.eng.Governor().Stats().FuelConsumed
	}

	g1, f1 := run()
	g2, f2 := run()
	if g1 != g2 || f1 != f2 {
		t.Errorf("two identical runs diverged: (%d,%d) vs (%d,%d)", g1, f1, g2, f2)
	}
}

func TestCancelPausesEngine(t *testing.T) {
	env := newEnv(t, fuelLoopImage(), 1<<40, 0, safemem.Basic)

	// Exhaust from the "host" before invoking: the engine pauses on
	// the first instruction boundary.
	env.eng.Cancel()
	_, err := env.eng.Invoke(context.Background(), "run", nil)
	if !errors.ErrFuelExhausted.Is(err) {
		t.Fatalf("invoke after cancel = %v", err)
	}
	if env.eng.State() != engine.StatePaused {
		t.Errorf("state = %s, want paused", env.eng.State())
	}
}

func TestBudgetLeakFreedom(t *testing.T) {
	reg := budget.NewRegistry()
	if err := reg.Configure(budget.CrateRuntime, 1<<22); err != nil {
		t.Fatal(err)
	}
	if err := reg.Configure(budget.CrateEngine, 1<<22); err != nil {
		t.Fatal(err)
	}
	store := runtime.NewStore(runtime.StoreConfig{
		Registry: reg,
		Hosts:    runtime.NewHostRegistry(),
		Verify:   safemem.Basic,
	})
	inst, err := store.Instantiate(addOneImage())
	if err != nil {
		t.Fatal(err)
	}
	eng, err := engine.New(inst, engine.Config{Registry: reg, Fuel: 100})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := eng.Invoke(context.Background(), "add1", []runtime.Value{runtime.I32(1)}); err != nil {
		t.Fatal(err)
	}

	eng.Close()
	inst.Close()
	if err := reg.CheckLeaks(); err != nil {
		t.Errorf("leak at teardown: %v", err)
	}
}
