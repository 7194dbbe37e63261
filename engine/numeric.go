package engine

import (
	"math"
	"math/bits"

	"github.com/wippyai/wrt/errors"
	"github.com/wippyai/wrt/runtime"
	"github.com/wippyai/wrt/wasm"
)

// Binary operations peek their operands before committing, so a
// trapping instruction leaves the operand stack untouched for the
// host's snapshot.

func (e *Engine) peek2(t wasm.ValType) (a, b runtime.Value, err error) {
	n := e.operands.Len()
	if n < 2 {
		return a, b, errors.ErrStackUnderflow
	}
	b, _ = e.operands.At(n - 1)
	a, _ = e.operands.At(n - 2)
	if a.Type != t || b.Type != t {
		return a, b, errors.ErrTypeMismatch
	}
	return a, b, nil
}

// commit2 replaces the two peeked operands with the result.
func (e *Engine) commit2(v runtime.Value) error {
	e.operands.Pop()
	e.operands.Pop()
	return e.push(v)
}

func (e *Engine) binOp(t wasm.ValType, fn func(a, b runtime.Value) (runtime.Value, error)) error {
	a, b, err := e.peek2(t)
	if err != nil {
		return err
	}
	v, err := fn(a, b)
	if err != nil {
		return err
	}
	return e.commit2(v)
}

func (e *Engine) unOp(t wasm.ValType, fn func(runtime.Value) runtime.Value) error {
	v, err := e.popTyped(t)
	if err != nil {
		return err
	}
	return e.push(fn(v))
}

// cvtOp converts the top operand, possibly trapping, without
// consuming it on failure.
func (e *Engine) cvtOp(t wasm.ValType, fn func(runtime.Value) (runtime.Value, error)) error {
	n := e.operands.Len()
	if n < 1 {
		return errors.ErrStackUnderflow
	}
	v, _ := e.operands.At(n - 1)
	if v.Type != t {
		return errors.ErrTypeMismatch
	}
	out, err := fn(v)
	if err != nil {
		return err
	}
	e.operands.Pop()
	return e.push(out)
}

func boolVal(b bool) runtime.Value {
	if b {
		return runtime.I32(1)
	}
	return runtime.I32(0)
}

// numericOp dispatches comparison, arithmetic, and conversion
// opcodes. The program counter advances only on success.
func (e *Engine) numericOp(frame *Frame, op byte) error {
	var err error
	switch op {
	// i32 comparisons
	case wasm.OpI32Eqz:
		err = e.unOp(wasm.ValI32, func(v runtime.Value) runtime.Value { return boolVal(v.AsI32() == 0) })
	case wasm.OpI32Eq:
		err = e.binOp(wasm.ValI32, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsI32() == b.AsI32()), nil })
	case wasm.OpI32Ne:
		err = e.binOp(wasm.ValI32, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsI32() != b.AsI32()), nil })
	case wasm.OpI32LtS:
		err = e.binOp(wasm.ValI32, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsI32() < b.AsI32()), nil })
	case wasm.OpI32LtU:
		err = e.binOp(wasm.ValI32, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsU32() < b.AsU32()), nil })
	case wasm.OpI32GtS:
		err = e.binOp(wasm.ValI32, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsI32() > b.AsI32()), nil })
	case wasm.OpI32GtU:
		err = e.binOp(wasm.ValI32, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsU32() > b.AsU32()), nil })
	case wasm.OpI32LeS:
		err = e.binOp(wasm.ValI32, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsI32() <= b.AsI32()), nil })
	case wasm.OpI32LeU:
		err = e.binOp(wasm.ValI32, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsU32() <= b.AsU32()), nil })
	case wasm.OpI32GeS:
		err = e.binOp(wasm.ValI32, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsI32() >= b.AsI32()), nil })
	case wasm.OpI32GeU:
		err = e.binOp(wasm.ValI32, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsU32() >= b.AsU32()), nil })

	// i64 comparisons
	case wasm.OpI64Eqz:
		err = e.unOp(wasm.ValI64, func(v runtime.Value) runtime.Value { return boolVal(v.AsI64() == 0) })
	case wasm.OpI64Eq:
		err = e.binOp(wasm.ValI64, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsI64() == b.AsI64()), nil })
	case wasm.OpI64Ne:
		err = e.binOp(wasm.ValI64, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsI64() != b.AsI64()), nil })
	case wasm.OpI64LtS:
		err = e.binOp(wasm.ValI64, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsI64() < b.AsI64()), nil })
	case wasm.OpI64LtU:
		err = e.binOp(wasm.ValI64, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsU64() < b.AsU64()), nil })
	case wasm.OpI64GtS:
		err = e.binOp(wasm.ValI64, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsI64() > b.AsI64()), nil })
	case wasm.OpI64GtU:
		err = e.binOp(wasm.ValI64, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsU64() > b.AsU64()), nil })
	case wasm.OpI64LeS:
		err = e.binOp(wasm.ValI64, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsI64() <= b.AsI64()), nil })
	case wasm.OpI64LeU:
		err = e.binOp(wasm.ValI64, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsU64() <= b.AsU64()), nil })
	case wasm.OpI64GeS:
		err = e.binOp(wasm.ValI64, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsI64() >= b.AsI64()), nil })
	case wasm.OpI64GeU:
		err = e.binOp(wasm.ValI64, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsU64() >= b.AsU64()), nil })

	// f32 comparisons
	case wasm.OpF32Eq:
		err = e.binOp(wasm.ValF32, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsF32() == b.AsF32()), nil })
	case wasm.OpF32Ne:
		err = e.binOp(wasm.ValF32, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsF32() != b.AsF32()), nil })
	case wasm.OpF32Lt:
		err = e.binOp(wasm.ValF32, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsF32() < b.AsF32()), nil })
	case wasm.OpF32Gt:
		err = e.binOp(wasm.ValF32, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsF32() > b.AsF32()), nil })
	case wasm.OpF32Le:
		err = e.binOp(wasm.ValF32, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsF32() <= b.AsF32()), nil })
	case wasm.OpF32Ge:
		err = e.binOp(wasm.ValF32, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsF32() >= b.AsF32()), nil })

	// f64 comparisons
	case wasm.OpF64Eq:
		err = e.binOp(wasm.ValF64, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsF64() == b.AsF64()), nil })
	case wasm.OpF64Ne:
		err = e.binOp(wasm.ValF64, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsF64() != b.AsF64()), nil })
	case wasm.OpF64Lt:
		err = e.binOp(wasm.ValF64, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsF64() < b.AsF64()), nil })
	case wasm.OpF64Gt:
		err = e.binOp(wasm.ValF64, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsF64() > b.AsF64()), nil })
	case wasm.OpF64Le:
		err = e.binOp(wasm.ValF64, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsF64() <= b.AsF64()), nil })
	case wasm.OpF64Ge:
		err = e.binOp(wasm.ValF64, func(a, b runtime.Value) (runtime.Value, error) { return boolVal(a.AsF64() >= b.AsF64()), nil })

	// i32 arithmetic
	case wasm.OpI32Clz:
		err = e.unOp(wasm.ValI32, func(v runtime.Value) runtime.Value { return runtime.I32(int32(bits.LeadingZeros32(v.AsU32()))) })
	case wasm.OpI32Ctz:
		err = e.unOp(wasm.ValI32, func(v runtime.Value) runtime.Value { return runtime.I32(int32(bits.TrailingZeros32(v.AsU32()))) })
	case wasm.OpI32Popcnt:
		err = e.unOp(wasm.ValI32, func(v runtime.Value) runtime.Value { return runtime.I32(int32(bits.OnesCount32(v.AsU32()))) })
	case wasm.OpI32Add:
		err = e.binOp(wasm.ValI32, func(a, b runtime.Value) (runtime.Value, error) { return runtime.I32(a.AsI32() + b.AsI32()), nil })
	case wasm.OpI32Sub:
		err = e.binOp(wasm.ValI32, func(a, b runtime.Value) (runtime.Value, error) { return runtime.I32(a.AsI32() - b.AsI32()), nil })
	case wasm.OpI32Mul:
		err = e.binOp(wasm.ValI32, func(a, b runtime.Value) (runtime.Value, error) { return runtime.I32(a.AsI32() * b.AsI32()), nil })
	case wasm.OpI32DivS:
		err = e.binOp(wasm.ValI32, func(a, b runtime.Value) (runtime.Value, error) {
			if b.AsI32() == 0 {
				return runtime.Value{}, errors.ErrDivByZero
			}
			if a.AsI32() == math.MinInt32 && b.AsI32() == -1 {
				return runtime.Value{}, errors.ErrIntegerOverflow
			}
			return runtime.I32(a.AsI32() / b.AsI32()), nil
		})
	case wasm.OpI32DivU:
		err = e.binOp(wasm.ValI32, func(a, b runtime.Value) (runtime.Value, error) {
			if b.AsU32() == 0 {
				return runtime.Value{}, errors.ErrDivByZero
			}
			return runtime.I32(int32(a.AsU32() / b.AsU32())), nil
		})
	case wasm.OpI32RemS:
		err = e.binOp(wasm.ValI32, func(a, b runtime.Value) (runtime.Value, error) {
			if b.AsI32() == 0 {
				return runtime.Value{}, errors.ErrDivByZero
			}
			if a.AsI32() == math.MinInt32 && b.AsI32() == -1 {
				return runtime.I32(0), nil
			}
			return runtime.I32(a.AsI32() % b.AsI32()), nil
		})
	case wasm.OpI32RemU:
		err = e.binOp(wasm.ValI32, func(a, b runtime.Value) (runtime.Value, error) {
			if b.AsU32() == 0 {
				return runtime.Value{}, errors.ErrDivByZero
			}
			return runtime.I32(int32(a.AsU32() % b.AsU32())), nil
		})
	case wasm.OpI32And:
		err = e.binOp(wasm.ValI32, func(a, b runtime.Value) (runtime.Value, error) { return runtime.I32(a.AsI32() & b.AsI32()), nil })
	case wasm.OpI32Or:
		err = e.binOp(wasm.ValI32, func(a, b runtime.Value) (runtime.Value, error) { return runtime.I32(a.AsI32() | b.AsI32()), nil })
	case wasm.OpI32Xor:
		err = e.binOp(wasm.ValI32, func(a, b runtime.Value) (runtime.Value, error) { return runtime.I32(a.AsI32() ^ b.AsI32()), nil })
	case wasm.OpI32Shl:
		err = e.binOp(wasm.ValI32, func(a, b runtime.Value) (runtime.Value, error) { return runtime.I32(a.AsI32() << (b.AsU32() & 31)), nil })
	case wasm.OpI32ShrS:
		err = e.binOp(wasm.ValI32, func(a, b runtime.Value) (runtime.Value, error) { return runtime.I32(a.AsI32() >> (b.AsU32() & 31)), nil })
	case wasm.OpI32ShrU:
		err = e.binOp(wasm.ValI32, func(a, b runtime.Value) (runtime.Value, error) { return runtime.I32(int32(a.AsU32() >> (b.AsU32() & 31))), nil })
	case wasm.OpI32Rotl:
		err = e.binOp(wasm.ValI32, func(a, b runtime.Value) (runtime.Value, error) {
			return runtime.I32(int32(bits.RotateLeft32(a.AsU32(), int(b.AsU32()&31)))), nil
		})
	case wasm.OpI32Rotr:
		err = e.binOp(wasm.ValI32, func(a, b runtime.Value) (runtime.Value, error) {
			return runtime.I32(int32(bits.RotateLeft32(a.AsU32(), -int(b.AsU32()&31)))), nil
		})

	// i64 arithmetic
	case wasm.OpI64Clz:
		err = e.unOp(wasm.ValI64, func(v runtime.Value) runtime.Value { return runtime.I64(int64(bits.LeadingZeros64(v.AsU64()))) })
	case wasm.OpI64Ctz:
		err = e.unOp(wasm.ValI64, func(v runtime.Value) runtime.Value { return runtime.I64(int64(bits.TrailingZeros64(v.AsU64()))) })
	case wasm.OpI64Popcnt:
		err = e.unOp(wasm.ValI64, func(v runtime.Value) runtime.Value { return runtime.I64(int64(bits.OnesCount64(v.AsU64()))) })
	case wasm.OpI64Add:
		err = e.binOp(wasm.ValI64, func(a, b runtime.Value) (runtime.Value, error) { return runtime.I64(a.AsI64() + b.AsI64()), nil })
	case wasm.OpI64Sub:
		err = e.binOp(wasm.ValI64, func(a, b runtime.Value) (runtime.Value, error) { return runtime.I64(a.AsI64() - b.AsI64()), nil })
	case wasm.OpI64Mul:
		err = e.binOp(wasm.ValI64, func(a, b runtime.Value) (runtime.Value, error) { return runtime.I64(a.AsI64() * b.AsI64()), nil })
	case wasm.OpI64DivS:
		err = e.binOp(wasm.ValI64, func(a, b runtime.Value) (runtime.Value, error) {
			if b.AsI64() == 0 {
				return runtime.Value{}, errors.ErrDivByZero
			}
			if a.AsI64() == math.MinInt64 && b.AsI64() == -1 {
				return runtime.Value{}, errors.ErrIntegerOverflow
			}
			return runtime.I64(a.AsI64() / b.AsI64()), nil
		})
	case wasm.OpI64DivU:
		err = e.binOp(wasm.ValI64, func(a, b runtime.Value) (runtime.Value, error) {
			if b.AsU64() == 0 {
				return runtime.Value{}, errors.ErrDivByZero
			}
			return runtime.I64(int64(a.AsU64() / b.AsU64())), nil
		})
	case wasm.OpI64RemS:
		err = e.binOp(wasm.ValI64, func(a, b runtime.Value) (runtime.Value, error) {
			if b.AsI64() == 0 {
				return runtime.Value{}, errors.ErrDivByZero
			}
			if a.AsI64() == math.MinInt64 && b.AsI64() == -1 {
				return runtime.I64(0), nil
			}
			return runtime.I64(a.AsI64() % b.AsI64()), nil
		})
	case wasm.OpI64RemU:
		err = e.binOp(wasm.ValI64, func(a, b runtime.Value) (runtime.Value, error) {
			if b.AsU64() == 0 {
				return runtime.Value{}, errors.ErrDivByZero
			}
			return runtime.I64(int64(a.AsU64() % b.AsU64())), nil
		})
	case wasm.OpI64And:
		err = e.binOp(wasm.ValI64, func(a, b runtime.Value) (runtime.Value, error) { return runtime.I64(a.AsI64() & b.AsI64()), nil })
	case wasm.OpI64Or:
		err = e.binOp(wasm.ValI64, func(a, b runtime.Value) (runtime.Value, error) { return runtime.I64(a.AsI64() | b.AsI64()), nil })
	case wasm.OpI64Xor:
		err = e.binOp(wasm.ValI64, func(a, b runtime.Value) (runtime.Value, error) { return runtime.I64(a.AsI64() ^ b.AsI64()), nil })
	case wasm.OpI64Shl:
		err = e.binOp(wasm.ValI64, func(a, b runtime.Value) (runtime.Value, error) { return runtime.I64(a.AsI64() << (b.AsU64() & 63)), nil })
	case wasm.OpI64ShrS:
		err = e.binOp(wasm.ValI64, func(a, b runtime.Value) (runtime.Value, error) { return runtime.I64(a.AsI64() >> (b.AsU64() & 63)), nil })
	case wasm.OpI64ShrU:
		err = e.binOp(wasm.ValI64, func(a, b runtime.Value) (runtime.Value, error) { return runtime.I64(int64(a.AsU64() >> (b.AsU64() & 63))), nil })
	case wasm.OpI64Rotl:
		err = e.binOp(wasm.ValI64, func(a, b runtime.Value) (runtime.Value, error) {
			return runtime.I64(int64(bits.RotateLeft64(a.AsU64(), int(b.AsU64()&63)))), nil
		})
	case wasm.OpI64Rotr:
		err = e.binOp(wasm.ValI64, func(a, b runtime.Value) (runtime.Value, error) {
			return runtime.I64(int64(bits.RotateLeft64(a.AsU64(), -int(b.AsU64()&63)))), nil
		})

	// f32 arithmetic
	case wasm.OpF32Abs:
		err = e.unOp(wasm.ValF32, func(v runtime.Value) runtime.Value { return runtime.F32(float32(math.Abs(float64(v.AsF32())))) })
	case wasm.OpF32Neg:
		err = e.unOp(wasm.ValF32, func(v runtime.Value) runtime.Value { return runtime.F32(-v.AsF32()) })
	case wasm.OpF32Ceil:
		err = e.unOp(wasm.ValF32, func(v runtime.Value) runtime.Value { return runtime.F32(float32(math.Ceil(float64(v.AsF32())))) })
	case wasm.OpF32Floor:
		err = e.unOp(wasm.ValF32, func(v runtime.Value) runtime.Value { return runtime.F32(float32(math.Floor(float64(v.AsF32())))) })
	case wasm.OpF32Trunc:
		err = e.unOp(wasm.ValF32, func(v runtime.Value) runtime.Value { return runtime.F32(float32(math.Trunc(float64(v.AsF32())))) })
	case wasm.OpF32Nearest:
		err = e.unOp(wasm.ValF32, func(v runtime.Value) runtime.Value { return runtime.F32(float32(math.RoundToEven(float64(v.AsF32())))) })
	case wasm.OpF32Sqrt:
		err = e.unOp(wasm.ValF32, func(v runtime.Value) runtime.Value { return runtime.F32(float32(math.Sqrt(float64(v.AsF32())))) })
	case wasm.OpF32Add:
		err = e.binOp(wasm.ValF32, func(a, b runtime.Value) (runtime.Value, error) { return runtime.F32(a.AsF32() + b.AsF32()), nil })
	case wasm.OpF32Sub:
		err = e.binOp(wasm.ValF32, func(a, b runtime.Value) (runtime.Value, error) { return runtime.F32(a.AsF32() - b.AsF32()), nil })
	case wasm.OpF32Mul:
		err = e.binOp(wasm.ValF32, func(a, b runtime.Value) (runtime.Value, error) { return runtime.F32(a.AsF32() * b.AsF32()), nil })
	case wasm.OpF32Div:
		err = e.binOp(wasm.ValF32, func(a, b runtime.Value) (runtime.Value, error) { return runtime.F32(a.AsF32() / b.AsF32()), nil })
	case wasm.OpF32Min:
		err = e.binOp(wasm.ValF32, func(a, b runtime.Value) (runtime.Value, error) {
			return runtime.F32(float32(fmin(float64(a.AsF32()), float64(b.AsF32())))), nil
		})
	case wasm.OpF32Max:
		err = e.binOp(wasm.ValF32, func(a, b runtime.Value) (runtime.Value, error) {
			return runtime.F32(float32(fmax(float64(a.AsF32()), float64(b.AsF32())))), nil
		})
	case wasm.OpF32Copysign:
		err = e.binOp(wasm.ValF32, func(a, b runtime.Value) (runtime.Value, error) {
			return runtime.F32(float32(math.Copysign(float64(a.AsF32()), float64(b.AsF32())))), nil
		})

	// f64 arithmetic
	case wasm.OpF64Abs:
		err = e.unOp(wasm.ValF64, func(v runtime.Value) runtime.Value { return runtime.F64(math.Abs(v.AsF64())) })
	case wasm.OpF64Neg:
		err = e.unOp(wasm.ValF64, func(v runtime.Value) runtime.Value { return runtime.F64(-v.AsF64()) })
	case wasm.OpF64Ceil:
		err = e.unOp(wasm.ValF64, func(v runtime.Value) runtime.Value { return runtime.F64(math.Ceil(v.AsF64())) })
	case wasm.OpF64Floor:
		err = e.unOp(wasm.ValF64, func(v runtime.Value) runtime.Value { return runtime.F64(math.Floor(v.AsF64())) })
	case wasm.OpF64Trunc:
		err = e.unOp(wasm.ValF64, func(v runtime.Value) runtime.Value { return runtime.F64(math.Trunc(v.AsF64())) })
	case wasm.OpF64Nearest:
		err = e.unOp(wasm.ValF64, func(v runtime.Value) runtime.Value { return runtime.F64(math.RoundToEven(v.AsF64())) })
	case wasm.OpF64Sqrt:
		err = e.unOp(wasm.ValF64, func(v runtime.Value) runtime.Value { return runtime.F64(math.Sqrt(v.AsF64())) })
	case wasm.OpF64Add:
		err = e.binOp(wasm.ValF64, func(a, b runtime.Value) (runtime.Value, error) { return runtime.F64(a.AsF64() + b.AsF64()), nil })
	case wasm.OpF64Sub:
		err = e.binOp(wasm.ValF64, func(a, b runtime.Value) (runtime.Value, error) { return runtime.F64(a.AsF64() - b.AsF64()), nil })
	case wasm.OpF64Mul:
		err = e.binOp(wasm.ValF64, func(a, b runtime.Value) (runtime.Value, error) { return runtime.F64(a.AsF64() * b.AsF64()), nil })
	case wasm.OpF64Div:
		err = e.binOp(wasm.ValF64, func(a, b runtime.Value) (runtime.Value, error) { return runtime.F64(a.AsF64() / b.AsF64()), nil })
	case wasm.OpF64Min:
		err = e.binOp(wasm.ValF64, func(a, b runtime.Value) (runtime.Value, error) { return runtime.F64(fmin(a.AsF64(), b.AsF64())), nil })
	case wasm.OpF64Max:
		err = e.binOp(wasm.ValF64, func(a, b runtime.Value) (runtime.Value, error) { return runtime.F64(fmax(a.AsF64(), b.AsF64())), nil })
	case wasm.OpF64Copysign:
		err = e.binOp(wasm.ValF64, func(a, b runtime.Value) (runtime.Value, error) { return runtime.F64(math.Copysign(a.AsF64(), b.AsF64())), nil })

	// conversions
	case wasm.OpI32WrapI64:
		err = e.cvtOp(wasm.ValI64, func(v runtime.Value) (runtime.Value, error) { return runtime.I32(int32(v.AsI64())), nil })
	case wasm.OpI32TruncF32S:
		err = e.cvtOp(wasm.ValF32, func(v runtime.Value) (runtime.Value, error) { return truncToI32(float64(v.AsF32())) })
	case wasm.OpI32TruncF32U:
		err = e.cvtOp(wasm.ValF32, func(v runtime.Value) (runtime.Value, error) { return truncToU32(float64(v.AsF32())) })
	case wasm.OpI32TruncF64S:
		err = e.cvtOp(wasm.ValF64, func(v runtime.Value) (runtime.Value, error) { return truncToI32(v.AsF64()) })
	case wasm.OpI32TruncF64U:
		err = e.cvtOp(wasm.ValF64, func(v runtime.Value) (runtime.Value, error) { return truncToU32(v.AsF64()) })
	case wasm.OpI64ExtendI32S:
		err = e.cvtOp(wasm.ValI32, func(v runtime.Value) (runtime.Value, error) { return runtime.I64(int64(v.AsI32())), nil })
	case wasm.OpI64ExtendI32U:
		err = e.cvtOp(wasm.ValI32, func(v runtime.Value) (runtime.Value, error) { return runtime.I64(int64(v.AsU32())), nil })
	case wasm.OpI64TruncF32S:
		err = e.cvtOp(wasm.ValF32, func(v runtime.Value) (runtime.Value, error) { return truncToI64(float64(v.AsF32())) })
	case wasm.OpI64TruncF32U:
		err = e.cvtOp(wasm.ValF32, func(v runtime.Value) (runtime.Value, error) { return truncToU64(float64(v.AsF32())) })
	case wasm.OpI64TruncF64S:
		err = e.cvtOp(wasm.ValF64, func(v runtime.Value) (runtime.Value, error) { return truncToI64(v.AsF64()) })
	case wasm.OpI64TruncF64U:
		err = e.cvtOp(wasm.ValF64, func(v runtime.Value) (runtime.Value, error) { return truncToU64(v.AsF64()) })
	case wasm.OpF32ConvertI32S:
		err = e.cvtOp(wasm.ValI32, func(v runtime.Value) (runtime.Value, error) { return runtime.F32(float32(v.AsI32())), nil })
	case wasm.OpF32ConvertI32U:
		err = e.cvtOp(wasm.ValI32, func(v runtime.Value) (runtime.Value, error) { return runtime.F32(float32(v.AsU32())), nil })
	case wasm.OpF32ConvertI64S:
		err = e.cvtOp(wasm.ValI64, func(v runtime.Value) (runtime.Value, error) { return runtime.F32(float32(v.AsI64())), nil })
	case wasm.OpF32ConvertI64U:
		err = e.cvtOp(wasm.ValI64, func(v runtime.Value) (runtime.Value, error) { return runtime.F32(float32(v.AsU64())), nil })
	case wasm.OpF32DemoteF64:
		err = e.cvtOp(wasm.ValF64, func(v runtime.Value) (runtime.Value, error) { return runtime.F32(float32(v.AsF64())), nil })
	case wasm.OpF64ConvertI32S:
		err = e.cvtOp(wasm.ValI32, func(v runtime.Value) (runtime.Value, error) { return runtime.F64(float64(v.AsI32())), nil })
	case wasm.OpF64ConvertI32U:
		err = e.cvtOp(wasm.ValI32, func(v runtime.Value) (runtime.Value, error) { return runtime.F64(float64(v.AsU32())), nil })
	case wasm.OpF64ConvertI64S:
		err = e.cvtOp(wasm.ValI64, func(v runtime.Value) (runtime.Value, error) { return runtime.F64(float64(v.AsI64())), nil })
	case wasm.OpF64ConvertI64U:
		err = e.cvtOp(wasm.ValI64, func(v runtime.Value) (runtime.Value, error) { return runtime.F64(float64(v.AsU64())), nil })
	case wasm.OpF64PromoteF32:
		err = e.cvtOp(wasm.ValF32, func(v runtime.Value) (runtime.Value, error) { return runtime.F64(float64(v.AsF32())), nil })
	case wasm.OpI32ReinterpretF32:
		err = e.cvtOp(wasm.ValF32, func(v runtime.Value) (runtime.Value, error) { return runtime.I32(int32(uint32(v.Lo))), nil })
	case wasm.OpI64ReinterpretF64:
		err = e.cvtOp(wasm.ValF64, func(v runtime.Value) (runtime.Value, error) { return runtime.I64(int64(v.Lo)), nil })
	case wasm.OpF32ReinterpretI32:
		err = e.cvtOp(wasm.ValI32, func(v runtime.Value) (runtime.Value, error) {
			return runtime.Value{Type: wasm.ValF32, Lo: v.Lo & 0xFFFFFFFF}, nil
		})
	case wasm.OpF64ReinterpretI64:
		err = e.cvtOp(wasm.ValI64, func(v runtime.Value) (runtime.Value, error) {
			return runtime.Value{Type: wasm.ValF64, Lo: v.Lo}, nil
		})

	// sign extensions
	case wasm.OpI32Extend8S:
		err = e.unOp(wasm.ValI32, func(v runtime.Value) runtime.Value { return runtime.I32(int32(int8(v.AsI32()))) })
	case wasm.OpI32Extend16S:
		err = e.unOp(wasm.ValI32, func(v runtime.Value) runtime.Value { return runtime.I32(int32(int16(v.AsI32()))) })
	case wasm.OpI64Extend8S:
		err = e.unOp(wasm.ValI64, func(v runtime.Value) runtime.Value { return runtime.I64(int64(int8(v.AsI64()))) })
	case wasm.OpI64Extend16S:
		err = e.unOp(wasm.ValI64, func(v runtime.Value) runtime.Value { return runtime.I64(int64(int16(v.AsI64()))) })
	case wasm.OpI64Extend32S:
		err = e.unOp(wasm.ValI64, func(v runtime.Value) runtime.Value { return runtime.I64(int64(int32(v.AsI64()))) })

	default:
		return errors.New(errors.CategoryValidation, errors.KindMalformedModule).
			Msgf("unsupported opcode 0x%02X", op).
			Build()
	}

	if err != nil {
		return err
	}
	frame.PC++
	return nil
}

// fmin implements wasm float min: NaN propagates, -0 beats +0.
func fmin(a, b float64) float64 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	if a == b {
		if math.Signbit(a) {
			return a
		}
		return b
	}
	if a < b {
		return a
	}
	return b
}

// fmax implements wasm float max: NaN propagates, +0 beats -0.
func fmax(a, b float64) float64 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	if a == b {
		if math.Signbit(a) {
			return b
		}
		return a
	}
	if a > b {
		return a
	}
	return b
}

// Trapping float-to-int truncations. NaN and out-of-range inputs trap
// with IntegerOverflow; the operand stays on the stack.

func truncToI32(f float64) (runtime.Value, error) {
	if math.IsNaN(f) {
		return runtime.Value{}, errors.ErrIntegerOverflow
	}
	t := math.Trunc(f)
	if t < math.MinInt32 || t > math.MaxInt32 {
		return runtime.Value{}, errors.ErrIntegerOverflow
	}
	return runtime.I32(int32(t)), nil
}

func truncToU32(f float64) (runtime.Value, error) {
	if math.IsNaN(f) {
		return runtime.Value{}, errors.ErrIntegerOverflow
	}
	t := math.Trunc(f)
	if t < 0 || t > math.MaxUint32 {
		return runtime.Value{}, errors.ErrIntegerOverflow
	}
	return runtime.I32(int32(uint32(t))), nil
}

func truncToI64(f float64) (runtime.Value, error) {
	if math.IsNaN(f) {
		return runtime.Value{}, errors.ErrIntegerOverflow
	}
	t := math.Trunc(f)
	// 2^63 is exactly representable; the boundary itself overflows.
	if t < -9223372036854775808 || t >= 9223372036854775808 {
		return runtime.Value{}, errors.ErrIntegerOverflow
	}
	return runtime.I64(int64(t)), nil
}

func truncToU64(f float64) (runtime.Value, error) {
	if math.IsNaN(f) {
		return runtime.Value{}, errors.ErrIntegerOverflow
	}
	t := math.Trunc(f)
	if t < 0 || t >= 18446744073709551616 {
		return runtime.Value{}, errors.ErrIntegerOverflow
	}
	return runtime.I64(int64(uint64(t))), nil
}

// Saturating truncations for the 0xFC conversions: NaN becomes zero,
// out-of-range clamps.

func truncSatI32(f float64) runtime.Value {
	if math.IsNaN(f) {
		return runtime.I32(0)
	}
	t := math.Trunc(f)
	if t < math.MinInt32 {
		return runtime.I32(math.MinInt32)
	}
	if t > math.MaxInt32 {
		return runtime.I32(math.MaxInt32)
	}
	return runtime.I32(int32(t))
}

func truncSatU32(f float64) runtime.Value {
	if math.IsNaN(f) || f < 0 {
		return runtime.I32(0)
	}
	t := math.Trunc(f)
	if t > math.MaxUint32 {
		maxU32 := uint32(math.MaxUint32)
		return runtime.I32(int32(maxU32))
	}
	return runtime.I32(int32(uint32(t)))
}

func truncSatI64(f float64) runtime.Value {
	if math.IsNaN(f) {
		return runtime.I64(0)
	}
	t := math.Trunc(f)
	if t < -9223372036854775808 {
		return runtime.I64(math.MinInt64)
	}
	if t >= 9223372036854775808 {
		return runtime.I64(math.MaxInt64)
	}
	return runtime.I64(int64(t))
}

func truncSatU64(f float64) runtime.Value {
	if math.IsNaN(f) || f < 0 {
		return runtime.I64(0)
	}
	t := math.Trunc(f)
	if t >= 18446744073709551616 {
		maxU64 := uint64(18446744073709551615)
		return runtime.I64(int64(maxU64))
	}
	return runtime.I64(int64(uint64(t)))
}
