package runtime

import (
	"fmt"
	"math"

	"github.com/wippyai/wrt/wasm"
)

// NullRef is the encoding of a null reference payload.
const NullRef uint64 = 0

// Value is a typed WebAssembly value. Numeric payloads live in Lo
// (and Hi for v128); function references store their index plus one
// and extern references their nonzero host handle, so that zero means
// null.
type Value struct {
	Lo   uint64
	Hi   uint64
	Type wasm.ValType
}

// I32 constructs an i32 value.
func I32(v int32) Value {
	return Value{Type: wasm.ValI32, Lo: uint64(uint32(v))}
}

// I64 constructs an i64 value.
func I64(v int64) Value {
	return Value{Type: wasm.ValI64, Lo: uint64(v)}
}

// F32 constructs an f32 value.
func F32(v float32) Value {
	return Value{Type: wasm.ValF32, Lo: uint64(math.Float32bits(v))}
}

// F64 constructs an f64 value.
func F64(v float64) Value {
	return Value{Type: wasm.ValF64, Lo: math.Float64bits(v)}
}

// V128 constructs a v128 value from its two halves.
func V128(lo, hi uint64) Value {
	return Value{Type: wasm.ValV128, Lo: lo, Hi: hi}
}

// FuncRef constructs a function reference. Pass NullFuncRef for null.
func FuncRef(funcIdx uint32) Value {
	return Value{Type: wasm.ValFuncRef, Lo: uint64(funcIdx) + 1}
}

// NullFuncRef is the null function reference.
func NullFuncRef() Value {
	return Value{Type: wasm.ValFuncRef, Lo: NullRef}
}

// ExternRef constructs an external reference from a host handle.
func ExternRef(handle uint32) Value {
	return Value{Type: wasm.ValExtern, Lo: uint64(handle)}
}

// NullExternRef is the null external reference.
func NullExternRef() Value {
	return Value{Type: wasm.ValExtern, Lo: NullRef}
}

// Zero returns the zero value of a type, used for local initialization.
func Zero(t wasm.ValType) Value {
	return Value{Type: t}
}

// AsI32 returns the value's payload as int32.
func (v Value) AsI32() int32 { return int32(uint32(v.Lo)) }

// AsU32 returns the value's payload as uint32.
func (v Value) AsU32() uint32 { return uint32(v.Lo) }

// AsI64 returns the value's payload as int64.
func (v Value) AsI64() int64 { return int64(v.Lo) }

// AsU64 returns the value's payload as uint64.
func (v Value) AsU64() uint64 { return v.Lo }

// AsF32 returns the value's payload as float32.
func (v Value) AsF32() float32 { return math.Float32frombits(uint32(v.Lo)) }

// AsF64 returns the value's payload as float64.
func (v Value) AsF64() float64 { return math.Float64frombits(v.Lo) }

// IsNullRef reports whether a reference value is null.
func (v Value) IsNullRef() bool { return v.Lo == NullRef }

// RefIndex returns the function index of a non-null funcref.
func (v Value) RefIndex() uint32 { return uint32(v.Lo - 1) }

// String renders the value for traces and diagnostics.
func (v Value) String() string {
	switch v.Type {
	case wasm.ValI32:
		return fmt.Sprintf("i32:%d", v.AsI32())
	case wasm.ValI64:
		return fmt.Sprintf("i64:%d", v.AsI64())
	case wasm.ValF32:
		return fmt.Sprintf("f32:%g", v.AsF32())
	case wasm.ValF64:
		return fmt.Sprintf("f64:%g", v.AsF64())
	case wasm.ValV128:
		return fmt.Sprintf("v128:%016x%016x", v.Hi, v.Lo)
	case wasm.ValFuncRef:
		if v.IsNullRef() {
			return "funcref:null"
		}
		return fmt.Sprintf("funcref:%d", v.RefIndex())
	case wasm.ValExtern:
		if v.IsNullRef() {
			return "externref:null"
		}
		return fmt.Sprintf("externref:%d", v.Lo)
	}
	return "invalid"
}
