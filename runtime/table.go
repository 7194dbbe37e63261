package runtime

import (
	"github.com/wippyai/wrt/errors"
	"github.com/wippyai/wrt/safemem"
	"github.com/wippyai/wrt/wasm"
)

// Table is a bounded reference table. Entries hold funcref or
// externref values; unset entries read as null.
type Table struct {
	entries *safemem.BoundedVec[Value]
	elem    wasm.ValType
	max     uint32
}

// NewTable builds a table of min elements with room to grow to max.
func NewTable(t wasm.TableType) *Table {
	max := t.Limits.Min
	if t.Limits.HasMax {
		max = t.Limits.Max
	}
	entries := safemem.NewVec[Value](int(max))
	for i := uint32(0); i < t.Limits.Min; i++ {
		// Vector capacity equals max, seeding min entries cannot fail.
		_ = entries.Push(nullOf(t.Elem))
	}
	return &Table{entries: entries, elem: t.Elem, max: max}
}

func nullOf(elem wasm.ValType) Value {
	if elem == wasm.ValExtern {
		return NullExternRef()
	}
	return NullFuncRef()
}

// Elem returns the table's element type.
func (t *Table) Elem() wasm.ValType {
	return t.elem
}

// Len returns the current element count.
func (t *Table) Len() uint32 {
	return uint32(t.entries.Len())
}

// Get returns the entry at idx.
func (t *Table) Get(idx uint32) (Value, error) {
	v, err := t.entries.Get(int(idx))
	if err != nil {
		return Value{}, errors.OutOfBounds(uint64(idx), 1, uint64(t.entries.Len()))
	}
	return v, nil
}

// Set replaces the entry at idx.
func (t *Table) Set(idx uint32, v Value) error {
	if v.Type != t.elem {
		return errors.ErrTypeMismatch
	}
	if err := t.entries.Set(int(idx), v); err != nil {
		return errors.OutOfBounds(uint64(idx), 1, uint64(t.entries.Len()))
	}
	return nil
}

// Grow appends delta copies of init, returning the previous length or
// -1 when the declared maximum refuses, per table.grow semantics.
func (t *Table) Grow(delta uint32, init Value) int32 {
	old := t.Len()
	if uint64(old)+uint64(delta) > uint64(t.max) {
		return -1
	}
	for i := uint32(0); i < delta; i++ {
		if err := t.entries.Push(init); err != nil {
			// Capacity was preallocated to max; reaching it here means
			// the bound above was wrong. Undo and refuse.
			t.entries.Truncate(int(old))
			return -1
		}
	}
	return int32(old)
}

// Init seeds entries [dst, dst+len(funcs)) with function references,
// used for active element segments at instantiation.
func (t *Table) Init(dst uint32, funcs []uint32) error {
	if uint64(dst)+uint64(len(funcs)) > uint64(t.Len()) {
		return errors.OutOfBounds(uint64(dst), uint64(len(funcs)), uint64(t.Len()))
	}
	for i, f := range funcs {
		if err := t.entries.Set(int(dst)+i, FuncRef(f)); err != nil {
			return err
		}
	}
	return nil
}
