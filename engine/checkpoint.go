package engine

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/wippyai/wrt/errors"
	"github.com/wippyai/wrt/runtime"
	"github.com/wippyai/wrt/wasm"
)

// Checkpoint format: little-endian, magic "WRTC", version u16, then
// globals, memories, tables, operand stack, frame stack, fuel, and a
// crc32 trailer over everything before it. A checkpoint restored into
// a fresh engine over the same module resumes with identical
// semantics.

var checkpointMagic = [4]byte{'W', 'R', 'T', 'C'}

// checkpointVersion is bumped on any layout change.
const checkpointVersion uint16 = 1

func writeU16(b *bytes.Buffer, v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	b.Write(buf[:])
}

func writeU32(b *bytes.Buffer, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	b.Write(buf[:])
}

func writeU64(b *bytes.Buffer, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	b.Write(buf[:])
}

func writeValue(b *bytes.Buffer, v runtime.Value) {
	b.WriteByte(byte(v.Type))
	writeU64(b, v.Lo)
	writeU64(b, v.Hi)
}

// Save serializes the engine's resumable state. Only a Ready, Paused,
// or Finished engine can be captured; saving mid-instruction is
// impossible by construction.
func (e *Engine) Save() ([]byte, error) {
	switch e.state {
	case StateReady, StatePaused, StateFinished:
	default:
		return nil, errors.New(errors.CategoryRuntime, errors.KindTrap).
			Msgf("checkpoint in state %s", e.state).
			Build()
	}

	var b bytes.Buffer
	b.Write(checkpointMagic[:])
	writeU16(&b, checkpointVersion)

	// Globals.
	nGlobals := e.inst.Globals.Len()
	writeU32(&b, uint32(nGlobals))
	for i := 0; i < nGlobals; i++ {
		v, err := e.inst.Globals.Get(uint32(i))
		if err != nil {
			return nil, err
		}
		writeValue(&b, v)
	}

	// Memories: page count then raw pages.
	writeU32(&b, uint32(len(e.inst.Memories)))
	for _, mem := range e.inst.Memories {
		writeU32(&b, mem.Pages())
		raw, err := mem.ReadBytes(0, mem.Size())
		if err != nil {
			return nil, err
		}
		b.Write(raw)
	}

	// Tables.
	writeU32(&b, uint32(len(e.inst.Tables)))
	for _, tbl := range e.inst.Tables {
		b.WriteByte(byte(tbl.Elem()))
		writeU32(&b, tbl.Len())
		for i := uint32(0); i < tbl.Len(); i++ {
			v, err := tbl.Get(i)
			if err != nil {
				return nil, err
			}
			writeValue(&b, v)
		}
	}

	// Operand stack, bottom first.
	operands := e.operands.Items()
	writeU32(&b, uint32(len(operands)))
	for _, v := range operands {
		writeValue(&b, v)
	}

	// Frame stack, bottom first.
	frames := e.frames.Items()
	writeU32(&b, uint32(len(frames)))
	for i := range frames {
		f := &frames[i]
		writeU32(&b, f.FuncIdx)
		writeU32(&b, f.PC)
		writeU32(&b, f.ValueBase)
		writeU32(&b, uint32(len(f.Locals)))
		for _, v := range f.Locals {
			writeValue(&b, v)
		}
		writeU32(&b, uint32(len(f.Labels)))
		for _, l := range f.Labels {
			writeU32(&b, l.HeadPC)
			writeU32(&b, l.EndPC)
			writeU32(&b, l.ValueBase)
			writeU32(&b, l.ArityIn)
			writeU32(&b, l.ArityOut)
			if l.IsLoop {
				b.WriteByte(1)
			} else {
				b.WriteByte(0)
			}
		}
	}

	writeU64(&b, e.gov.Remaining())

	// Trailer.
	sum := crc32.ChecksumIEEE(b.Bytes())
	writeU32(&b, sum)
	return b.Bytes(), nil
}

type checkpointReader struct {
	data []byte
	pos  int
}

func (r *checkpointReader) remaining() int {
	return len(r.data) - r.pos
}

func (r *checkpointReader) bytes(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, errors.MalformedModule("checkpoint truncated")
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *checkpointReader) u16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *checkpointReader) u32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *checkpointReader) u64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *checkpointReader) value() (runtime.Value, error) {
	b, err := r.bytes(17)
	if err != nil {
		return runtime.Value{}, err
	}
	return runtime.Value{
		Type: wasm.ValType(b[0]),
		Lo:   binary.LittleEndian.Uint64(b[1:9]),
		Hi:   binary.LittleEndian.Uint64(b[9:17]),
	}, nil
}

// Restore loads a checkpoint into this engine. The engine must be
// bound to an instance of the same module the checkpoint was taken
// from; after restoring, a checkpoint with live frames leaves the
// engine Paused and resumable.
func (e *Engine) Restore(data []byte) error {
	if len(data) < 10 {
		return errors.MalformedModule("checkpoint too short")
	}
	body, trailer := data[:len(data)-4], data[len(data)-4:]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(trailer) {
		return errors.New(errors.CategoryMemory, errors.KindIntegrityFailure).
			Msg("checkpoint crc mismatch").
			Build()
	}

	r := &checkpointReader{data: body}
	magic, err := r.bytes(4)
	if err != nil {
		return err
	}
	if !bytes.Equal(magic, checkpointMagic[:]) {
		return errors.MalformedModule("checkpoint magic mismatch")
	}
	version, err := r.u16()
	if err != nil {
		return err
	}
	if version != checkpointVersion {
		return errors.MalformedModule("checkpoint version unsupported")
	}

	// Globals.
	nGlobals, err := r.u32()
	if err != nil {
		return err
	}
	if int(nGlobals) != e.inst.Globals.Len() {
		return errors.MalformedModule("checkpoint global count mismatch")
	}
	for i := uint32(0); i < nGlobals; i++ {
		v, err := r.value()
		if err != nil {
			return err
		}
		if err := e.inst.Globals.Set(i, v); err != nil {
			return err
		}
	}

	// Memories.
	nMems, err := r.u32()
	if err != nil {
		return err
	}
	if int(nMems) != len(e.inst.Memories) {
		return errors.MalformedModule("checkpoint memory count mismatch")
	}
	for _, mem := range e.inst.Memories {
		pages, err := r.u32()
		if err != nil {
			return err
		}
		if pages < mem.Pages() {
			return errors.MalformedModule("checkpoint memory smaller than instance")
		}
		if pages > mem.Pages() {
			if mem.Grow(pages-mem.Pages()) < 0 {
				return errors.BudgetExceeded(uint64(pages)*runtime.PageSize, uint64(mem.Pages())*runtime.PageSize)
			}
		}
		raw, err := r.bytes(int(pages) * runtime.PageSize)
		if err != nil {
			return err
		}
		if err := mem.WriteBytes(0, raw); err != nil {
			return err
		}
	}

	// Tables.
	nTables, err := r.u32()
	if err != nil {
		return err
	}
	if int(nTables) != len(e.inst.Tables) {
		return errors.MalformedModule("checkpoint table count mismatch")
	}
	for _, tbl := range e.inst.Tables {
		if _, err := r.bytes(1); err != nil { // element type, informative
			return err
		}
		length, err := r.u32()
		if err != nil {
			return err
		}
		if length > tbl.Len() {
			if tbl.Grow(length-tbl.Len(), runtime.NullFuncRef()) < 0 {
				return errors.MalformedModule("checkpoint table larger than declared max")
			}
		}
		for i := uint32(0); i < length; i++ {
			v, err := r.value()
			if err != nil {
				return err
			}
			if err := tbl.Set(i, v); err != nil {
				return err
			}
		}
	}

	// Operand stack.
	e.operands.Truncate(0)
	nOperands, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < nOperands; i++ {
		v, err := r.value()
		if err != nil {
			return err
		}
		if err := e.operands.Push(v); err != nil {
			return errors.ErrStackOverflow
		}
	}

	// Frame stack.
	e.frames.Truncate(0)
	nFrames, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < nFrames; i++ {
		var f Frame
		if f.FuncIdx, err = r.u32(); err != nil {
			return err
		}
		if f.PC, err = r.u32(); err != nil {
			return err
		}
		if f.ValueBase, err = r.u32(); err != nil {
			return err
		}
		nLocals, err := r.u32()
		if err != nil {
			return err
		}
		f.Locals = make([]runtime.Value, nLocals)
		for j := uint32(0); j < nLocals; j++ {
			if f.Locals[j], err = r.value(); err != nil {
				return err
			}
		}
		nLabels, err := r.u32()
		if err != nil {
			return err
		}
		f.Labels = make([]Label, nLabels)
		for j := uint32(0); j < nLabels; j++ {
			l := &f.Labels[j]
			if l.HeadPC, err = r.u32(); err != nil {
				return err
			}
			if l.EndPC, err = r.u32(); err != nil {
				return err
			}
			if l.ValueBase, err = r.u32(); err != nil {
				return err
			}
			if l.ArityIn, err = r.u32(); err != nil {
				return err
			}
			if l.ArityOut, err = r.u32(); err != nil {
				return err
			}
			flag, err := r.bytes(1)
			if err != nil {
				return err
			}
			l.IsLoop = flag[0] == 1
		}

		sig, ok := e.inst.Image.FuncSignature(f.FuncIdx)
		if !ok {
			return errors.MalformedModule("checkpoint frame references unknown function")
		}
		code, ok := e.inst.Image.LocalCode(f.FuncIdx)
		if !ok {
			return errors.MalformedModule("checkpoint frame references host function")
		}
		f.sig = sig
		f.body = code.Body
		if err := e.frames.Push(f); err != nil {
			return errors.ErrStackOverflow
		}
	}

	fuel, err := r.u64()
	if err != nil {
		return err
	}
	e.gov.fuel = fuel

	if r.remaining() != 0 {
		return errors.MalformedModule("checkpoint has trailing bytes")
	}

	e.trap = nil
	e.results = nil
	e.poisoned = false
	if e.frames.Len() > 0 {
		e.state = StatePaused
		e.pauseWhy = PauseCheckpoint
	} else {
		e.state = StateReady
	}
	return nil
}
