package wasm

// Image is a validated, immutable module description shared read-only
// between instances. Function bodies are fully decoded instruction
// slices; the index spaces follow the wasm convention of imports
// preceding module-local definitions.
type Image struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // type index per module-local function
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Elements []Element
	Code     []FuncCode
	Data     []DataSegment
	Custom   []CustomSection
}

// FuncCode is a decoded function body. Locals lists the declared local
// types expanded (parameters excluded); Body ends with an end opcode.
type FuncCode struct {
	Locals []ValType
	Body   []Instruction
}

// NumImportedFuncs returns the number of function imports, which is
// also the index of the first module-local function.
func (m *Image) NumImportedFuncs() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Kind == KindFunc {
			n++
		}
	}
	return n
}

// NumImportedGlobals returns the number of global imports.
func (m *Image) NumImportedGlobals() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Kind == KindGlobal {
			n++
		}
	}
	return n
}

// NumImportedTables returns the number of table imports.
func (m *Image) NumImportedTables() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Kind == KindTable {
			n++
		}
	}
	return n
}

// NumImportedMemories returns the number of memory imports.
func (m *Image) NumImportedMemories() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Kind == KindMemory {
			n++
		}
	}
	return n
}

// NumFuncs returns the size of the function index space.
func (m *Image) NumFuncs() int {
	return m.NumImportedFuncs() + len(m.Funcs)
}

// FuncTypeIdx resolves a function index to its type index, covering
// imported and local functions.
func (m *Image) FuncTypeIdx(funcIdx uint32) (uint32, bool) {
	imported := 0
	for _, imp := range m.Imports {
		if imp.Kind != KindFunc {
			continue
		}
		if uint32(imported) == funcIdx {
			return imp.TypeIdx, true
		}
		imported++
	}
	local := funcIdx - uint32(imported)
	if int(local) < len(m.Funcs) {
		return m.Funcs[local], true
	}
	return 0, false
}

// FuncSignature resolves a function index to its signature.
func (m *Image) FuncSignature(funcIdx uint32) (FuncType, bool) {
	typeIdx, ok := m.FuncTypeIdx(funcIdx)
	if !ok || int(typeIdx) >= len(m.Types) {
		return FuncType{}, false
	}
	return m.Types[typeIdx], true
}

// LocalCode returns the decoded body for a module-local function
// index (an index into the full function space).
func (m *Image) LocalCode(funcIdx uint32) (*FuncCode, bool) {
	imported := uint32(m.NumImportedFuncs())
	if funcIdx < imported {
		return nil, false
	}
	local := funcIdx - imported
	if int(local) >= len(m.Code) {
		return nil, false
	}
	return &m.Code[local], true
}

// ExportedFunc resolves an export name to a function index.
func (m *Image) ExportedFunc(name string) (uint32, bool) {
	for _, e := range m.Exports {
		if e.Kind == KindFunc && e.Name == name {
			return e.Idx, true
		}
	}
	return 0, false
}
