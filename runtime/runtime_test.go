package runtime_test

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/wippyai/wrt/budget"
	"github.com/wippyai/wrt/errors"
	"github.com/wippyai/wrt/provider"
	"github.com/wippyai/wrt/runtime"
	"github.com/wippyai/wrt/safemem"
	"github.com/wippyai/wrt/wasm"
)

func newRegistry(t *testing.T, reservedPages uint64) *budget.Registry {
	t.Helper()
	reg := budget.NewRegistry()
	if err := reg.Configure(budget.CrateRuntime, reservedPages*runtime.PageSize); err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestLinearMemoryGrowSemantics(t *testing.T) {
	reg := newRegistry(t, 16)
	prov, err := provider.NewHeapProvider(reg, budget.CrateRuntime, runtime.PageSize)
	if err != nil {
		t.Fatal(err)
	}
	mem, err := runtime.NewLinearMemory(prov, 1, 10, safemem.Basic, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer mem.Close()

	if got := mem.Grow(4); got != 1 {
		t.Errorf("grow(4) = %d, want 1", got)
	}
	if mem.Pages() != 5 {
		t.Errorf("pages = %d, want 5", mem.Pages())
	}
	// Past the declared max: refuse without mutation.
	if got := mem.Grow(6); got != -1 {
		t.Errorf("grow past max = %d, want -1", got)
	}
	if mem.Pages() != 5 {
		t.Errorf("pages after refused grow = %d, want 5", mem.Pages())
	}
	if got := mem.Grow(0); got != 5 {
		t.Errorf("grow(0) = %d, want 5", got)
	}
}

func TestLinearMemoryGrowBudget(t *testing.T) {
	// Budget holds 5 pages; module max is 10.
	reg := newRegistry(t, 5)
	prov, err := provider.NewHeapProvider(reg, budget.CrateRuntime, runtime.PageSize)
	if err != nil {
		t.Fatal(err)
	}
	mem, err := runtime.NewLinearMemory(prov, 1, 10, safemem.Basic, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer mem.Close()

	if got := mem.Grow(4); got != 1 {
		t.Fatalf("grow(4) = %d, want 1", got)
	}
	// Sixth page exceeds the budget: -1, silent, no mutation.
	if got := mem.Grow(1); got != -1 {
		t.Errorf("grow over budget = %d, want -1", got)
	}
	if mem.Pages() != 5 {
		t.Errorf("pages = %d, want 5", mem.Pages())
	}
}

func TestLinearMemoryContentsSurviveGrow(t *testing.T) {
	reg := newRegistry(t, 8)
	prov, err := provider.NewHeapProvider(reg, budget.CrateRuntime, runtime.PageSize)
	if err != nil {
		t.Fatal(err)
	}
	mem, err := runtime.NewLinearMemory(prov, 1, 8, safemem.Full, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer mem.Close()

	if err := mem.WriteBytes(100, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if got := mem.Grow(2); got != 1 {
		t.Fatal("grow failed")
	}
	got, err := mem.ReadBytes(100, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("contents lost across grow: %v", got)
	}
}

func TestTableGrowAndInit(t *testing.T) {
	tbl := runtime.NewTable(wasm.TableType{
		Elem:   wasm.ValFuncRef,
		Limits: wasm.Limits{Min: 2, Max: 4, HasMax: true},
	})

	if tbl.Len() != 2 {
		t.Fatalf("len = %d, want 2", tbl.Len())
	}
	v, err := tbl.Get(0)
	if err != nil || !v.IsNullRef() {
		t.Errorf("fresh entry should be null, got %v err %v", v, err)
	}

	if got := tbl.Grow(2, runtime.NullFuncRef()); got != 2 {
		t.Errorf("grow = %d, want 2", got)
	}
	if got := tbl.Grow(1, runtime.NullFuncRef()); got != -1 {
		t.Errorf("grow past max = %d, want -1", got)
	}

	if err := tbl.Init(1, []uint32{7, 8}); err != nil {
		t.Fatal(err)
	}
	v, _ = tbl.Get(2)
	if v.IsNullRef() || v.RefIndex() != 8 {
		t.Errorf("entry 2 = %v, want funcref 8", v)
	}

	if err := tbl.Init(3, []uint32{1, 2}); err == nil {
		t.Error("out-of-bounds init should fail")
	}
}

func TestGlobalStoreIntegrity(t *testing.T) {
	reg := newRegistry(t, 1)
	prov, err := provider.NewHeapProvider(reg, budget.CrateRuntime, 256)
	if err != nil {
		t.Fatal(err)
	}
	types := []wasm.GlobalType{{Type: wasm.ValI32, Mutable: true}}
	gs, err := runtime.NewGlobalStore(prov, types, safemem.Full, true)
	if err != nil {
		t.Fatal(err)
	}
	defer gs.Close()

	if err := gs.Set(0, runtime.I32(41)); err != nil {
		t.Fatal(err)
	}
	v, err := gs.Get(0)
	if err != nil || v.AsI32() != 41 {
		t.Fatalf("get = %v err %v, want 41", v, err)
	}

	// Flip a bit behind the store's back.
	view, err := prov.View(8, 1)
	if err != nil {
		t.Fatal(err)
	}
	view[0] ^= 0x01

	_, err = gs.Get(0)
	if !errors.ErrIntegrityFailure.Is(err) {
		t.Errorf("read after corruption = %v, want IntegrityFailure", err)
	}
}

func instantiateConfig(t *testing.T) runtime.StoreConfig {
	t.Helper()
	return runtime.StoreConfig{
		Registry: newRegistry(t, 64),
		Hosts:    runtime.NewHostRegistry(),
		Verify:   safemem.Basic,
	}
}

func TestInstantiateMissingImport(t *testing.T) {
	cfg := instantiateConfig(t)
	store := runtime.NewStore(cfg)

	img := &wasm.Image{
		Types:   []wasm.FuncType{{}},
		Imports: []wasm.Import{{Module: "env", Name: "absent", Kind: wasm.KindFunc, TypeIdx: 0}},
	}
	_, err := store.Instantiate(img)
	if !errors.ErrMissingImport.Is(err) {
		t.Errorf("instantiate = %v, want MissingImport", err)
	}
}

func TestInstantiateSignatureMismatch(t *testing.T) {
	cfg := instantiateConfig(t)
	cfg.Hosts.Register(&runtime.HostFunc{
		Module: "env",
		Name:   "f",
		Sig:    wasm.FuncType{Results: []wasm.ValType{wasm.ValI64}},
		Fn: func(_ context.Context, _ []runtime.Value) ([]runtime.Value, error) {
			return nil, nil
		},
	})
	store := runtime.NewStore(cfg)

	img := &wasm.Image{
		Types:   []wasm.FuncType{{Results: []wasm.ValType{wasm.ValI32}}},
		Imports: []wasm.Import{{Module: "env", Name: "f", Kind: wasm.KindFunc, TypeIdx: 0}},
	}
	_, err := store.Instantiate(img)
	if !errors.ErrSignatureMismatch.Is(err) {
		t.Errorf("instantiate = %v, want SignatureMismatch", err)
	}
}

func TestInstantiateInitializesState(t *testing.T) {
	cfg := instantiateConfig(t)
	store := runtime.NewStore(cfg)

	img := &wasm.Image{
		Types:    []wasm.FuncType{{}},
		Funcs:    []uint32{0},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1, Max: 2, HasMax: true}}},
		Tables: []wasm.TableType{
			{Elem: wasm.ValFuncRef, Limits: wasm.Limits{Min: 2, HasMax: true, Max: 2}},
		},
		Globals: []wasm.Global{
			{
				Type: wasm.GlobalType{Type: wasm.ValI32, Mutable: true},
				Init: []wasm.Instruction{
					{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 9}},
					{Opcode: wasm.OpEnd},
				},
			},
		},
		Elements: []wasm.Element{
			{
				Offset: []wasm.Instruction{
					{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 0}},
					{Opcode: wasm.OpEnd},
				},
				FuncIdxs: []uint32{0},
			},
		},
		Data: []wasm.DataSegment{
			{
				Offset: []wasm.Instruction{
					{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 8}},
					{Opcode: wasm.OpEnd},
				},
				Init: []byte("boot"),
			},
		},
		Code: []wasm.FuncCode{{Body: []wasm.Instruction{{Opcode: wasm.OpEnd}}}},
	}

	inst, err := store.Instantiate(img)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	defer inst.Close()

	g, err := inst.Globals.Get(0)
	if err != nil || g.AsI32() != 9 {
		t.Errorf("global = %v err %v, want 9", g, err)
	}

	mem, _ := inst.Memory(0)
	data, err := mem.ReadBytes(8, 4)
	if err != nil || string(data) != "boot" {
		t.Errorf("data segment not applied: %q err %v", data, err)
	}

	tbl, _ := inst.Table(0)
	ref, _ := tbl.Get(0)
	if ref.IsNullRef() || ref.RefIndex() != 0 {
		t.Errorf("element segment not applied: %v", ref)
	}
}

func TestInstanceCloseReleasesBudget(t *testing.T) {
	reg := newRegistry(t, 64)
	cfg := runtime.StoreConfig{Registry: reg, Hosts: runtime.NewHostRegistry(), Verify: safemem.Basic}
	store := runtime.NewStore(cfg)

	img := &wasm.Image{
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 2, Max: 2, HasMax: true}}},
	}
	inst, err := store.Instantiate(img)
	if err != nil {
		t.Fatal(err)
	}
	inst.Close()

	if err := reg.CheckLeaks(); err != nil {
		t.Errorf("leak after instance close: %v", err)
	}
}

func TestInstanceHandleTable(t *testing.T) {
	cfg := instantiateConfig(t)
	store := runtime.NewStore(cfg)

	inst, err := store.Instantiate(&wasm.Image{})
	if err != nil {
		t.Fatal(err)
	}
	defer inst.Close()

	h := inst.Handles().Insert("host object")
	if h == 0 {
		t.Fatal("insert failed")
	}
	ref := runtime.ExternRef(uint32(h))
	if ref.IsNullRef() {
		t.Error("handle-backed externref must not be null")
	}

	v, ok := inst.Handles().Get(h)
	if !ok || v != "host object" {
		t.Errorf("handle lookup = %v %v", v, ok)
	}
}
