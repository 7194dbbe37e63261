package runtime

import (
	"context"
	"sync"

	"github.com/wippyai/wrt/errors"
	"github.com/wippyai/wrt/wasm"
)

// HostFunc is a host implementation of an imported function. The
// engine pops exact-signature arguments, invokes Fn, and pushes its
// results after conformance checking. FuelCost is charged to the
// guest per call; zero means host time is free to the guest.
type HostFunc struct {
	Fn       func(ctx context.Context, args []Value) ([]Value, error)
	Module   string
	Name     string
	Sig      wasm.FuncType
	FuelCost uint64
}

// HostGlobal is a host-provided global binding for global imports.
type HostGlobal struct {
	Type  wasm.GlobalType
	Value Value
}

// HostRegistry resolves imports by (module, name). Registration
// happens before instantiation; lookups are read-locked.
type HostRegistry struct {
	funcs   map[string]map[string]*HostFunc
	globals map[string]map[string]HostGlobal
	mu      sync.RWMutex
}

// NewHostRegistry creates an empty registry.
func NewHostRegistry() *HostRegistry {
	return &HostRegistry{
		funcs:   make(map[string]map[string]*HostFunc),
		globals: make(map[string]map[string]HostGlobal),
	}
}

// Register adds a host function binding.
func (r *HostRegistry) Register(fn *HostFunc) error {
	if fn == nil || fn.Fn == nil {
		return errors.New(errors.CategoryLink, errors.KindMissingImport).
			Msg("nil host function").
			Build()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.funcs[fn.Module] == nil {
		r.funcs[fn.Module] = make(map[string]*HostFunc)
	}
	r.funcs[fn.Module][fn.Name] = fn
	return nil
}

// DefineGlobal adds a host global binding.
func (r *HostRegistry) DefineGlobal(module, name string, g HostGlobal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.globals[module] == nil {
		r.globals[module] = make(map[string]HostGlobal)
	}
	r.globals[module][name] = g
}

// LookupFunc resolves a function import.
func (r *HostRegistry) LookupFunc(module, name string) (*HostFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[module][name]
	return fn, ok
}

// LookupGlobal resolves a global import.
func (r *HostRegistry) LookupGlobal(module, name string) (HostGlobal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.globals[module][name]
	return g, ok
}
