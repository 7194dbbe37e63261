package runtime

import (
	"github.com/google/uuid"

	"github.com/wippyai/wrt/errors"
	"github.com/wippyai/wrt/resource"
	"github.com/wippyai/wrt/wasm"
)

// Instance is the runtime realization of a module image: its
// memories, tables, globals, and resolved host bindings. The image is
// shared read-only; everything else is exclusively owned.
type Instance struct {
	Image     *wasm.Image
	Memories  []*LinearMemory
	Tables    []*Table
	Globals   *GlobalStore
	hostFuncs []*HostFunc // indexed by imported function position
	handles   *resource.Table
	id        string
}

// Handles returns the instance's host handle table. Externref values
// passed to or from host functions carry handles into it.
func (i *Instance) Handles() *resource.Table {
	if i.handles == nil {
		i.handles = resource.NewTable(defaultHandleCapacity)
	}
	return i.handles
}

// defaultHandleCapacity bounds live host handles per instance.
const defaultHandleCapacity = 1024

// ID returns the instance's identity, attached to log events.
func (i *Instance) ID() string {
	return i.id
}

// Memory returns memory idx.
func (i *Instance) Memory(idx uint32) (*LinearMemory, error) {
	if int(idx) >= len(i.Memories) {
		return nil, errors.IndexOutOfRange("memory", uint64(idx), uint64(len(i.Memories)))
	}
	return i.Memories[idx], nil
}

// Table returns table idx.
func (i *Instance) Table(idx uint32) (*Table, error) {
	if int(idx) >= len(i.Tables) {
		return nil, errors.IndexOutOfRange("table", uint64(idx), uint64(len(i.Tables)))
	}
	return i.Tables[idx], nil
}

// HostFunc returns the host binding for an imported function index,
// or false when funcIdx addresses a module-local function.
func (i *Instance) HostFunc(funcIdx uint32) (*HostFunc, bool) {
	if int(funcIdx) < len(i.hostFuncs) {
		return i.hostFuncs[funcIdx], true
	}
	return nil, false
}

// Close releases every owned resource. Memories and the global store
// return their backing bytes to the budget registry.
func (i *Instance) Close() {
	for _, m := range i.Memories {
		m.Close()
	}
	i.Memories = nil
	if i.Globals != nil {
		i.Globals.Close()
		i.Globals = nil
	}
	if i.handles != nil {
		i.handles.Clear()
		i.handles = nil
	}
}

func newInstanceID() string {
	return uuid.NewString()
}
