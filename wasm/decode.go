package wasm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"
)

// ParseImage decodes a core WebAssembly binary into an Image. The
// result is structurally decoded but not yet validated; callers run
// Validate before instantiating.
func ParseImage(data []byte) (*Image, error) {
	r := bytes.NewReader(data)

	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("wasm: read header: %w", err)
	}
	if binary.LittleEndian.Uint32(header[0:4]) != Magic {
		return nil, fmt.Errorf("wasm: bad magic")
	}
	if binary.LittleEndian.Uint32(header[4:8]) != Version {
		return nil, fmt.Errorf("wasm: unsupported version %d", binary.LittleEndian.Uint32(header[4:8]))
	}

	m := &Image{}
	lastSection := -1

	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		size, err := ReadLEB128u(r)
		if err != nil {
			return nil, fmt.Errorf("wasm: section %d size: %w", id, err)
		}
		if uint32(r.Len()) < size {
			return nil, fmt.Errorf("wasm: section %d truncated", id)
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}

		if id != SectionCustom {
			order := sectionOrder(id)
			if order <= lastSection {
				return nil, fmt.Errorf("wasm: section %d out of order", id)
			}
			lastSection = order
		}

		sr := bytes.NewReader(payload)
		switch id {
		case SectionCustom:
			err = parseCustomSection(sr, m)
		case SectionType:
			err = parseTypeSection(sr, m)
		case SectionImport:
			err = parseImportSection(sr, m)
		case SectionFunction:
			err = parseFunctionSection(sr, m)
		case SectionTable:
			err = parseTableSection(sr, m)
		case SectionMemory:
			err = parseMemorySection(sr, m)
		case SectionGlobal:
			err = parseGlobalSection(sr, m)
		case SectionExport:
			err = parseExportSection(sr, m)
		case SectionStart:
			err = parseStartSection(sr, m)
		case SectionElement:
			err = parseElementSection(sr, m)
		case SectionCode:
			err = parseCodeSection(sr, m)
		case SectionData:
			err = parseDataSection(sr, m)
		case SectionDataCount:
			// Count is re-derived from the data section.
			_, err = ReadLEB128u(sr)
		default:
			err = fmt.Errorf("wasm: unknown section id %d", id)
		}
		if err != nil {
			return nil, fmt.Errorf("wasm: section %d: %w", id, err)
		}
	}

	if len(m.Funcs) != len(m.Code) {
		return nil, fmt.Errorf("wasm: function count %d does not match code count %d", len(m.Funcs), len(m.Code))
	}
	return m, nil
}

// ParseImageValidate decodes and validates in one step.
func ParseImageValidate(data []byte) (*Image, error) {
	m, err := ParseImage(data)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// sectionOrder maps a section ID to its mandatory position. DataCount
// sits between Element and Code.
func sectionOrder(id byte) int {
	switch id {
	case SectionDataCount:
		return 95
	case SectionCode:
		return 100
	case SectionData:
		return 110
	default:
		return int(id) * 10
	}
}

func readName(r *bytes.Reader) (string, error) {
	n, err := ReadLEB128u(r)
	if err != nil {
		return "", err
	}
	if uint32(r.Len()) < n {
		return "", fmt.Errorf("name truncated")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	if !utf8.Valid(buf) {
		return "", fmt.Errorf("name is not valid UTF-8")
	}
	return string(buf), nil
}

func readValType(r *bytes.Reader) (ValType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	v := ValType(b)
	if !v.IsNum() && !v.IsRef() {
		return 0, fmt.Errorf("invalid value type 0x%02X", b)
	}
	return v, nil
}

func readFuncType(r *bytes.Reader) (FuncType, error) {
	form, err := r.ReadByte()
	if err != nil {
		return FuncType{}, err
	}
	if form != FuncTypeByte {
		return FuncType{}, fmt.Errorf("expected functype (0x60), got 0x%02X", form)
	}
	var ft FuncType
	nParams, err := ReadLEB128u(r)
	if err != nil {
		return ft, err
	}
	ft.Params = make([]ValType, nParams)
	for i := range ft.Params {
		if ft.Params[i], err = readValType(r); err != nil {
			return ft, err
		}
	}
	nResults, err := ReadLEB128u(r)
	if err != nil {
		return ft, err
	}
	ft.Results = make([]ValType, nResults)
	for i := range ft.Results {
		if ft.Results[i], err = readValType(r); err != nil {
			return ft, err
		}
	}
	return ft, nil
}

func readLimits(r *bytes.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	var l Limits
	switch flags {
	case 0x00:
	case 0x01:
		l.HasMax = true
	default:
		return l, fmt.Errorf("invalid limits flags 0x%02X", flags)
	}
	if l.Min, err = ReadLEB128u(r); err != nil {
		return l, err
	}
	if l.HasMax {
		if l.Max, err = ReadLEB128u(r); err != nil {
			return l, err
		}
		if l.Max < l.Min {
			return l, fmt.Errorf("limits max %d below min %d", l.Max, l.Min)
		}
	}
	return l, nil
}

func readTableType(r *bytes.Reader) (TableType, error) {
	elem, err := r.ReadByte()
	if err != nil {
		return TableType{}, err
	}
	t := TableType{Elem: ValType(elem)}
	if !t.Elem.IsRef() {
		return t, fmt.Errorf("invalid table element type 0x%02X", elem)
	}
	t.Limits, err = readLimits(r)
	return t, err
}

func readGlobalType(r *bytes.Reader) (GlobalType, error) {
	vt, err := readValType(r)
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("invalid mutability flag 0x%02X", mut)
	}
	return GlobalType{Type: vt, Mutable: mut == 1}, nil
}

// readConstExpr decodes a constant expression through its terminating
// end opcode. The end is retained for the evaluator.
func readConstExpr(r *bytes.Reader) ([]Instruction, error) {
	var instrs []Instruction
	for {
		instr, err := decodeInstruction(r)
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, instr)
		if instr.Opcode == OpEnd {
			return instrs, nil
		}
		if len(instrs) > 32 {
			return nil, fmt.Errorf("constant expression too long")
		}
	}
}

func parseCustomSection(r *bytes.Reader, m *Image) error {
	name, err := readName(r)
	if err != nil {
		return err
	}
	data := make([]byte, r.Len())
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	m.Custom = append(m.Custom, CustomSection{Name: name, Data: data})
	return nil
}

func parseTypeSection(r *bytes.Reader, m *Image) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, count)
	for i := range m.Types {
		if m.Types[i], err = readFuncType(r); err != nil {
			return err
		}
	}
	return nil
}

func parseImportSection(r *bytes.Reader, m *Image) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	m.Imports = make([]Import, 0, count)
	for i := uint32(0); i < count; i++ {
		var imp Import
		if imp.Module, err = readName(r); err != nil {
			return err
		}
		if imp.Name, err = readName(r); err != nil {
			return err
		}
		if imp.Kind, err = r.ReadByte(); err != nil {
			return err
		}
		switch imp.Kind {
		case KindFunc:
			if imp.TypeIdx, err = ReadLEB128u(r); err != nil {
				return err
			}
		case KindTable:
			if imp.Table, err = readTableType(r); err != nil {
				return err
			}
		case KindMemory:
			if imp.Memory.Limits, err = readLimits(r); err != nil {
				return err
			}
		case KindGlobal:
			if imp.Global, err = readGlobalType(r); err != nil {
				return err
			}
		default:
			return fmt.Errorf("invalid import kind 0x%02X", imp.Kind)
		}
		m.Imports = append(m.Imports, imp)
	}
	return nil
}

func parseFunctionSection(r *bytes.Reader, m *Image) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, count)
	for i := range m.Funcs {
		if m.Funcs[i], err = ReadLEB128u(r); err != nil {
			return err
		}
	}
	return nil
}

func parseTableSection(r *bytes.Reader, m *Image) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	m.Tables = make([]TableType, count)
	for i := range m.Tables {
		if m.Tables[i], err = readTableType(r); err != nil {
			return err
		}
	}
	return nil
}

func parseMemorySection(r *bytes.Reader, m *Image) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	m.Memories = make([]MemoryType, count)
	for i := range m.Memories {
		if m.Memories[i].Limits, err = readLimits(r); err != nil {
			return err
		}
	}
	return nil
}

func parseGlobalSection(r *bytes.Reader, m *Image) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	m.Globals = make([]Global, count)
	for i := range m.Globals {
		if m.Globals[i].Type, err = readGlobalType(r); err != nil {
			return err
		}
		if m.Globals[i].Init, err = readConstExpr(r); err != nil {
			return err
		}
	}
	return nil
}

func parseExportSection(r *bytes.Reader, m *Image) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	m.Exports = make([]Export, count)
	for i := range m.Exports {
		if m.Exports[i].Name, err = readName(r); err != nil {
			return err
		}
		if m.Exports[i].Kind, err = r.ReadByte(); err != nil {
			return err
		}
		if m.Exports[i].Idx, err = ReadLEB128u(r); err != nil {
			return err
		}
	}
	return nil
}

func parseStartSection(r *bytes.Reader, m *Image) error {
	idx, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	m.Start = &idx
	return nil
}

func parseElementSection(r *bytes.Reader, m *Image) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	m.Elements = make([]Element, 0, count)
	for i := uint32(0); i < count; i++ {
		flags, err := ReadLEB128u(r)
		if err != nil {
			return err
		}
		// Only active funcref segments (flags 0 and 2) are supported.
		var el Element
		switch flags {
		case 0:
		case 2:
			if el.TableIdx, err = ReadLEB128u(r); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported element segment flags %d", flags)
		}
		if el.Offset, err = readConstExpr(r); err != nil {
			return err
		}
		if flags == 2 {
			// Element kind byte, must be 0 (funcref).
			kind, err := r.ReadByte()
			if err != nil {
				return err
			}
			if kind != 0 {
				return fmt.Errorf("unsupported element kind 0x%02X", kind)
			}
		}
		n, err := ReadLEB128u(r)
		if err != nil {
			return err
		}
		el.FuncIdxs = make([]uint32, n)
		for j := range el.FuncIdxs {
			if el.FuncIdxs[j], err = ReadLEB128u(r); err != nil {
				return err
			}
		}
		m.Elements = append(m.Elements, el)
	}
	return nil
}

func parseCodeSection(r *bytes.Reader, m *Image) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	m.Code = make([]FuncCode, count)
	for i := uint32(0); i < count; i++ {
		bodySize, err := ReadLEB128u(r)
		if err != nil {
			return err
		}
		if uint32(r.Len()) < bodySize {
			return fmt.Errorf("function body %d truncated", i)
		}
		body := make([]byte, bodySize)
		if _, err := io.ReadFull(r, body); err != nil {
			return err
		}

		br := bytes.NewReader(body)
		nDecls, err := ReadLEB128u(br)
		if err != nil {
			return err
		}
		var locals []ValType
		for j := uint32(0); j < nDecls; j++ {
			n, err := ReadLEB128u(br)
			if err != nil {
				return err
			}
			vt, err := readValType(br)
			if err != nil {
				return err
			}
			if uint64(len(locals))+uint64(n) > 1<<20 {
				return fmt.Errorf("function %d declares too many locals", i)
			}
			for k := uint32(0); k < n; k++ {
				locals = append(locals, vt)
			}
		}

		rest := make([]byte, br.Len())
		if _, err := io.ReadFull(br, rest); err != nil {
			return err
		}
		instrs, err := DecodeInstructions(rest)
		if err != nil {
			return fmt.Errorf("function %d: %w", i, err)
		}
		m.Code[i] = FuncCode{Locals: locals, Body: instrs}
	}
	return nil
}

func parseDataSection(r *bytes.Reader, m *Image) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	m.Data = make([]DataSegment, 0, count)
	for i := uint32(0); i < count; i++ {
		flags, err := ReadLEB128u(r)
		if err != nil {
			return err
		}
		var seg DataSegment
		switch flags {
		case 0:
		case 1:
			seg.Passive = true
		case 2:
			if seg.MemIdx, err = ReadLEB128u(r); err != nil {
				return err
			}
		default:
			return fmt.Errorf("invalid data segment flags %d", flags)
		}
		if !seg.Passive {
			if seg.Offset, err = readConstExpr(r); err != nil {
				return err
			}
		}
		n, err := ReadLEB128u(r)
		if err != nil {
			return err
		}
		if uint32(r.Len()) < n {
			return fmt.Errorf("data segment %d truncated", i)
		}
		seg.Init = make([]byte, n)
		if _, err := io.ReadFull(r, seg.Init); err != nil {
			return err
		}
		m.Data = append(m.Data, seg)
	}
	return nil
}
