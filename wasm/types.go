package wasm

// ValType is a WebAssembly value type encoding.
type ValType byte

// String returns the textual name of the value type.
func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	}
	return "unknown"
}

// IsNum reports whether v is a numeric (non-reference) type.
func (v ValType) IsNum() bool {
	switch v {
	case ValI32, ValI64, ValF32, ValF64, ValV128:
		return true
	}
	return false
}

// IsRef reports whether v is a reference type.
func (v ValType) IsRef() bool {
	return v == ValFuncRef || v == ValExtern
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether two signatures agree exactly. Indirect calls
// compare signatures with it; a disagreement is a runtime trap.
func (f FuncType) Equal(other FuncType) bool {
	if len(f.Params) != len(other.Params) || len(f.Results) != len(other.Results) {
		return false
	}
	for i := range f.Params {
		if f.Params[i] != other.Params[i] {
			return false
		}
	}
	for i := range f.Results {
		if f.Results[i] != other.Results[i] {
			return false
		}
	}
	return true
}

// Limits bound a table or memory size in elements or pages.
type Limits struct {
	Min    uint32
	Max    uint32
	HasMax bool
}

// TableType declares a table's element type and limits.
type TableType struct {
	Elem   ValType // ValFuncRef or ValExtern
	Limits Limits
}

// MemoryType declares a linear memory's limits in 64 KiB pages.
type MemoryType struct {
	Limits Limits
}

// GlobalType declares a global's value type and mutability.
type GlobalType struct {
	Type    ValType
	Mutable bool
}

// Global is a global declaration with its constant initializer.
type Global struct {
	Init []Instruction
	Type GlobalType
}

// Import declares an item resolved at instantiation time.
type Import struct {
	Module string
	Name   string
	Kind   byte
	// Exactly one of the following is meaningful, selected by Kind.
	TypeIdx uint32 // KindFunc: type index
	Table   TableType
	Memory  MemoryType
	Global  GlobalType
}

// Export names an item of the module.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Element is an active element segment seeding a table with function
// references.
type Element struct {
	Offset   []Instruction // constant expression yielding i32
	FuncIdxs []uint32
	TableIdx uint32
}

// DataSegment seeds a memory range (active) or provides bytes for
// memory.init (passive).
type DataSegment struct {
	Offset  []Instruction // constant expression, active segments only
	Init    []byte
	MemIdx  uint32
	Passive bool
}

// CustomSection carries tooling payloads (names, debug info).
type CustomSection struct {
	Name string
	Data []byte
}
