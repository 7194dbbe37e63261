package runtime

import (
	"go.uber.org/zap"

	"github.com/wippyai/wrt/budget"
	"github.com/wippyai/wrt/errors"
	"github.com/wippyai/wrt/provider"
	"github.com/wippyai/wrt/safemem"
	"github.com/wippyai/wrt/wasm"
)

// StoreConfig carries the policies instantiation applies.
type StoreConfig struct {
	Registry *budget.Registry
	Hosts    *HostRegistry
	Logger   *zap.Logger
	Verify   safemem.Level
	// MaxMemPages caps every linear memory's growth below its declared
	// maximum. Zero means no extra cap.
	MaxMemPages uint32
	// Static selects arena backing instead of heap backing for
	// memories and globals; memories then cannot grow past their
	// declared minimum.
	Static bool
}

// Store validates images and materializes instances. Memories, tables
// and globals draw their backing from the budget registry under
// CrateRuntime.
type Store struct {
	cfg StoreConfig
}

// NewStore builds a store. Registry and Hosts must be non-nil.
func NewStore(cfg StoreConfig) *Store {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Store{cfg: cfg}
}

// Hosts returns the store's host registry.
func (s *Store) Hosts() *HostRegistry {
	return s.cfg.Hosts
}

// Instantiate validates img and materializes an instance: memories
// and tables allocated, globals initialized, imports resolved by
// name, element and data segments applied. The start function is NOT
// run here; the engine runs it under its full contract.
func (s *Store) Instantiate(img *wasm.Image) (*Instance, error) {
	if err := img.Validate(); err != nil {
		return nil, errors.New(errors.CategoryValidation, errors.KindMalformedModule).
			Msg("image validation").
			Cause(err).
			Build()
	}

	inst := &Instance{Image: img, id: newInstanceID()}
	ok := false
	defer func() {
		if !ok {
			inst.Close()
		}
	}()

	if err := s.resolveImports(img, inst); err != nil {
		return nil, err
	}
	if err := s.allocateMemories(img, inst); err != nil {
		return nil, err
	}
	s.allocateTables(img, inst)
	if err := s.initGlobals(img, inst); err != nil {
		return nil, err
	}
	if err := s.applyElements(img, inst); err != nil {
		return nil, err
	}
	if err := s.applyData(img, inst); err != nil {
		return nil, err
	}

	s.cfg.Logger.Debug("instance materialized",
		zap.String("instance", inst.id),
		zap.Int("memories", len(inst.Memories)),
		zap.Int("tables", len(inst.Tables)),
		zap.Int("globals", inst.Globals.Len()))

	ok = true
	return inst, nil
}

func (s *Store) resolveImports(img *wasm.Image, inst *Instance) error {
	for _, imp := range img.Imports {
		switch imp.Kind {
		case wasm.KindFunc:
			fn, found := s.cfg.Hosts.LookupFunc(imp.Module, imp.Name)
			if !found {
				return errors.MissingImport(imp.Module, imp.Name)
			}
			declared := img.Types[imp.TypeIdx]
			if !fn.Sig.Equal(declared) {
				return errors.SignatureMismatch(imp.Module, imp.Name)
			}
			inst.hostFuncs = append(inst.hostFuncs, fn)
		case wasm.KindGlobal:
			if _, found := s.cfg.Hosts.LookupGlobal(imp.Module, imp.Name); !found {
				return errors.MissingImport(imp.Module, imp.Name)
			}
		default:
			// Memory and table sharing across instances is not part of
			// this runtime's linking surface.
			return errors.New(errors.CategoryLink, errors.KindMissingImport).
				Msgf("unsupported import kind for %s.%s", imp.Module, imp.Name).
				Build()
		}
	}
	return nil
}

// memProvider builds the backing for a memory of the given limits.
func (s *Store) memProvider(minPages uint32) (provider.Provider, error) {
	if s.cfg.Static {
		return provider.AcquireStaticArena(s.cfg.Registry, budget.CrateRuntime, uint64(minPages)*PageSize)
	}
	return provider.NewHeapProvider(s.cfg.Registry, budget.CrateRuntime, uint64(minPages)*PageSize)
}

func (s *Store) allocateMemories(img *wasm.Image, inst *Instance) error {
	for _, mt := range img.Memories {
		maxPages := uint32(wasm.MaxPages)
		if mt.Limits.HasMax {
			maxPages = mt.Limits.Max
		}
		if s.cfg.MaxMemPages != 0 && maxPages > s.cfg.MaxMemPages {
			maxPages = s.cfg.MaxMemPages
		}
		if s.cfg.Static {
			maxPages = mt.Limits.Min
		}
		prov, err := s.memProvider(mt.Limits.Min)
		if err != nil {
			return err
		}
		mem, err := NewLinearMemory(prov, mt.Limits.Min, maxPages, s.cfg.Verify, s.cfg.Logger)
		if err != nil {
			prov.Close()
			return err
		}
		inst.Memories = append(inst.Memories, mem)
	}
	return nil
}

func (s *Store) allocateTables(img *wasm.Image, inst *Instance) {
	for _, tt := range img.Tables {
		inst.Tables = append(inst.Tables, NewTable(tt))
	}
}

func (s *Store) initGlobals(img *wasm.Image, inst *Instance) error {
	types := make([]wasm.GlobalType, 0, len(img.Globals))
	for _, g := range img.Globals {
		types = append(types, g.Type)
	}

	size := uint64(len(types)) * globalSlot
	if size == 0 {
		size = globalSlot // keep the region non-empty so the slice exists
	}
	var prov provider.Provider
	var err error
	if s.cfg.Static {
		prov, err = provider.AcquireStaticArena(s.cfg.Registry, budget.CrateRuntime, size)
	} else {
		prov, err = provider.NewHeapProvider(s.cfg.Registry, budget.CrateRuntime, size)
	}
	if err != nil {
		return err
	}
	store, err := NewGlobalStore(prov, types, s.cfg.Verify, true)
	if err != nil {
		prov.Close()
		return err
	}
	inst.Globals = store

	for i, g := range img.Globals {
		v, err := s.evalConstExpr(img, g.Init)
		if err != nil {
			return err
		}
		if v.Type != g.Type.Type {
			return errors.ErrTypeMismatch
		}
		if err := store.setInit(uint32(i), v); err != nil {
			return err
		}
	}
	return nil
}

// evalConstExpr evaluates the constant instruction subset. Imported
// globals resolve through the host registry.
func (s *Store) evalConstExpr(img *wasm.Image, expr []wasm.Instruction) (Value, error) {
	var result Value
	var have bool
	for _, instr := range expr {
		switch instr.Opcode {
		case wasm.OpI32Const:
			result, have = I32(instr.Imm.(wasm.I32Imm).Value), true
		case wasm.OpI64Const:
			result, have = I64(instr.Imm.(wasm.I64Imm).Value), true
		case wasm.OpF32Const:
			result, have = F32(instr.Imm.(wasm.F32Imm).Value), true
		case wasm.OpF64Const:
			result, have = F64(instr.Imm.(wasm.F64Imm).Value), true
		case wasm.OpRefNull:
			if instr.Imm.(wasm.RefNullImm).Type == wasm.ValExtern {
				result = NullExternRef()
			} else {
				result = NullFuncRef()
			}
			have = true
		case wasm.OpRefFunc:
			result, have = FuncRef(instr.Imm.(wasm.RefFuncImm).FuncIdx), true
		case wasm.OpGlobalGet:
			idx := instr.Imm.(wasm.GlobalImm).GlobalIdx
			g, found := s.lookupImportedGlobal(img, idx)
			if !found {
				return Value{}, errors.IndexOutOfRange("imported global", uint64(idx), uint64(img.NumImportedGlobals()))
			}
			result, have = g.Value, true
		case wasm.OpEnd:
		default:
			return Value{}, errors.MalformedModule("non-constant opcode in initializer")
		}
	}
	if !have {
		return Value{}, errors.MalformedModule("empty constant expression")
	}
	return result, nil
}

func (s *Store) lookupImportedGlobal(img *wasm.Image, idx uint32) (HostGlobal, bool) {
	n := uint32(0)
	for _, imp := range img.Imports {
		if imp.Kind != wasm.KindGlobal {
			continue
		}
		if n == idx {
			return s.cfg.Hosts.LookupGlobal(imp.Module, imp.Name)
		}
		n++
	}
	return HostGlobal{}, false
}

func (s *Store) applyElements(img *wasm.Image, inst *Instance) error {
	for _, el := range img.Elements {
		tbl, err := inst.Table(el.TableIdx)
		if err != nil {
			return err
		}
		off, err := s.evalConstExpr(img, el.Offset)
		if err != nil {
			return err
		}
		if err := tbl.Init(off.AsU32(), el.FuncIdxs); err != nil {
			return errors.New(errors.CategoryLink, errors.KindMissingImport).
				Msg("element segment out of table bounds").
				Cause(err).
				Build()
		}
	}
	return nil
}

func (s *Store) applyData(img *wasm.Image, inst *Instance) error {
	for _, seg := range img.Data {
		if seg.Passive {
			continue
		}
		mem, err := inst.Memory(seg.MemIdx)
		if err != nil {
			return err
		}
		off, err := s.evalConstExpr(img, seg.Offset)
		if err != nil {
			return err
		}
		if err := mem.WriteBytes(uint64(off.AsU32()), seg.Init); err != nil {
			return errors.New(errors.CategoryLink, errors.KindMissingImport).
				Msg("data segment out of memory bounds").
				Cause(err).
				Build()
		}
	}
	return nil
}
