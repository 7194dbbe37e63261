package wasm

import (
	"bytes"
	"encoding/binary"
)

// Encode serializes the image back to the core binary format. The
// output decodes to an equivalent image; it is used by the
// differential execution harness and by tooling that hands modules to
// other runtimes.
func (m *Image) Encode() []byte {
	var out bytes.Buffer

	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], Magic)
	binary.LittleEndian.PutUint32(header[4:8], Version)
	out.Write(header[:])

	if len(m.Types) > 0 {
		var b bytes.Buffer
		WriteLEB128u(&b, uint32(len(m.Types)))
		for _, ft := range m.Types {
			b.WriteByte(FuncTypeByte)
			writeValTypes(&b, ft.Params)
			writeValTypes(&b, ft.Results)
		}
		writeSection(&out, SectionType, b.Bytes())
	}

	if len(m.Imports) > 0 {
		var b bytes.Buffer
		WriteLEB128u(&b, uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			writeName(&b, imp.Module)
			writeName(&b, imp.Name)
			b.WriteByte(imp.Kind)
			switch imp.Kind {
			case KindFunc:
				WriteLEB128u(&b, imp.TypeIdx)
			case KindTable:
				writeTableType(&b, imp.Table)
			case KindMemory:
				writeLimits(&b, imp.Memory.Limits)
			case KindGlobal:
				writeGlobalType(&b, imp.Global)
			}
		}
		writeSection(&out, SectionImport, b.Bytes())
	}

	if len(m.Funcs) > 0 {
		var b bytes.Buffer
		WriteLEB128u(&b, uint32(len(m.Funcs)))
		for _, typeIdx := range m.Funcs {
			WriteLEB128u(&b, typeIdx)
		}
		writeSection(&out, SectionFunction, b.Bytes())
	}

	if len(m.Tables) > 0 {
		var b bytes.Buffer
		WriteLEB128u(&b, uint32(len(m.Tables)))
		for _, t := range m.Tables {
			writeTableType(&b, t)
		}
		writeSection(&out, SectionTable, b.Bytes())
	}

	if len(m.Memories) > 0 {
		var b bytes.Buffer
		WriteLEB128u(&b, uint32(len(m.Memories)))
		for _, mem := range m.Memories {
			writeLimits(&b, mem.Limits)
		}
		writeSection(&out, SectionMemory, b.Bytes())
	}

	if len(m.Globals) > 0 {
		var b bytes.Buffer
		WriteLEB128u(&b, uint32(len(m.Globals)))
		for _, g := range m.Globals {
			writeGlobalType(&b, g.Type)
			b.Write(EncodeInstructions(g.Init))
		}
		writeSection(&out, SectionGlobal, b.Bytes())
	}

	if len(m.Exports) > 0 {
		var b bytes.Buffer
		WriteLEB128u(&b, uint32(len(m.Exports)))
		for _, e := range m.Exports {
			writeName(&b, e.Name)
			b.WriteByte(e.Kind)
			WriteLEB128u(&b, e.Idx)
		}
		writeSection(&out, SectionExport, b.Bytes())
	}

	if m.Start != nil {
		var b bytes.Buffer
		WriteLEB128u(&b, *m.Start)
		writeSection(&out, SectionStart, b.Bytes())
	}

	if len(m.Elements) > 0 {
		var b bytes.Buffer
		WriteLEB128u(&b, uint32(len(m.Elements)))
		for _, el := range m.Elements {
			if el.TableIdx != 0 {
				WriteLEB128u(&b, 2)
				WriteLEB128u(&b, el.TableIdx)
			} else {
				WriteLEB128u(&b, 0)
			}
			b.Write(EncodeInstructions(el.Offset))
			if el.TableIdx != 0 {
				b.WriteByte(0)
			}
			WriteLEB128u(&b, uint32(len(el.FuncIdxs)))
			for _, f := range el.FuncIdxs {
				WriteLEB128u(&b, f)
			}
		}
		writeSection(&out, SectionElement, b.Bytes())
	}

	if len(m.Code) > 0 {
		var b bytes.Buffer
		WriteLEB128u(&b, uint32(len(m.Code)))
		for _, code := range m.Code {
			var fb bytes.Buffer
			writeLocals(&fb, code.Locals)
			fb.Write(EncodeInstructions(code.Body))

			WriteLEB128u(&b, uint32(fb.Len()))
			b.Write(fb.Bytes())
		}
		writeSection(&out, SectionCode, b.Bytes())
	}

	if len(m.Data) > 0 {
		var b bytes.Buffer
		WriteLEB128u(&b, uint32(len(m.Data)))
		for _, seg := range m.Data {
			switch {
			case seg.Passive:
				WriteLEB128u(&b, 1)
			case seg.MemIdx != 0:
				WriteLEB128u(&b, 2)
				WriteLEB128u(&b, seg.MemIdx)
			default:
				WriteLEB128u(&b, 0)
			}
			if !seg.Passive {
				b.Write(EncodeInstructions(seg.Offset))
			}
			WriteLEB128u(&b, uint32(len(seg.Init)))
			b.Write(seg.Init)
		}
		writeSection(&out, SectionData, b.Bytes())
	}

	for _, c := range m.Custom {
		var b bytes.Buffer
		writeName(&b, c.Name)
		b.Write(c.Data)
		writeSection(&out, SectionCustom, b.Bytes())
	}

	return out.Bytes()
}

func writeSection(out *bytes.Buffer, id byte, payload []byte) {
	out.WriteByte(id)
	WriteLEB128u(out, uint32(len(payload)))
	out.Write(payload)
}

func writeName(b *bytes.Buffer, name string) {
	WriteLEB128u(b, uint32(len(name)))
	b.WriteString(name)
}

func writeValTypes(b *bytes.Buffer, types []ValType) {
	WriteLEB128u(b, uint32(len(types)))
	for _, t := range types {
		b.WriteByte(byte(t))
	}
}

func writeLimits(b *bytes.Buffer, l Limits) {
	if l.HasMax {
		b.WriteByte(0x01)
		WriteLEB128u(b, l.Min)
		WriteLEB128u(b, l.Max)
	} else {
		b.WriteByte(0x00)
		WriteLEB128u(b, l.Min)
	}
}

func writeTableType(b *bytes.Buffer, t TableType) {
	b.WriteByte(byte(t.Elem))
	writeLimits(b, t.Limits)
}

func writeGlobalType(b *bytes.Buffer, g GlobalType) {
	b.WriteByte(byte(g.Type))
	if g.Mutable {
		b.WriteByte(0x01)
	} else {
		b.WriteByte(0x00)
	}
}

// writeLocals run-length encodes a function's local declarations.
func writeLocals(b *bytes.Buffer, locals []ValType) {
	type run struct {
		t ValType
		n uint32
	}
	var runs []run
	for _, t := range locals {
		if len(runs) > 0 && runs[len(runs)-1].t == t {
			runs[len(runs)-1].n++
		} else {
			runs = append(runs, run{t: t, n: 1})
		}
	}
	WriteLEB128u(b, uint32(len(runs)))
	for _, r := range runs {
		WriteLEB128u(b, r.n)
		b.WriteByte(byte(r.t))
	}
}
