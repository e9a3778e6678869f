package interpreter

import (
	"math"
	"math/bits"

	"github.com/gowasm/gowasm/internal/wasm"
)

// execNumeric evaluates the large contiguous i32/i64/f32/f64
// comparison/arithmetic/conversion range (opcodes 0x45-0xbf and the
// sign-extension range 0xc0-0xc4), whose shapes the validator already
// checked; here they just compute.
func (ce *callEngine) execNumeric(op wasm.Opcode) (execSignal, error) {
	switch {
	case op == wasm.OpcodeI32Eqz:
		ce.push(b2u64(uint32(ce.pop()) == 0))
	case op >= 0x46 && op <= 0x4f:
		b := uint32(ce.pop())
		a := uint32(ce.pop())
		ce.push(i32Compare(op, a, b))
	case op == wasm.OpcodeI64Eqz:
		ce.push(b2u64(ce.pop() == 0))
	case op >= 0x51 && op <= 0x5a:
		b := ce.pop()
		a := ce.pop()
		ce.push(i64Compare(op, a, b))
	case op >= 0x5b && op <= 0x60:
		b := math.Float32frombits(uint32(ce.pop()))
		a := math.Float32frombits(uint32(ce.pop()))
		ce.push(fCompare(op, float64(a), float64(b), 0x5b))
	case op >= 0x61 && op <= 0x66:
		b := math.Float64frombits(ce.pop())
		a := math.Float64frombits(ce.pop())
		ce.push(fCompare(op, a, b, 0x61))
	case op >= 0x67 && op <= 0x69:
		v := uint32(ce.pop())
		ce.push(uint64(i32Unary(op, v)))
	case op >= 0x6a && op <= 0x78:
		b := uint32(ce.pop())
		a := uint32(ce.pop())
		r, err := i32Binary(op, a, b)
		if err != nil {
			return 0, err
		}
		ce.push(uint64(r))
	case op >= 0x79 && op <= 0x7b:
		v := ce.pop()
		ce.push(i64Unary(op, v))
	case op >= 0x7c && op <= 0x8a:
		b := ce.pop()
		a := ce.pop()
		r, err := i64Binary(op, a, b)
		if err != nil {
			return 0, err
		}
		ce.push(r)
	case op >= 0x8b && op <= 0x91:
		v := math.Float32frombits(uint32(ce.pop()))
		ce.push(uint64(math.Float32bits(float32(f32Unary(op, float64(v))))))
	case op >= 0x92 && op <= 0x98:
		b := math.Float32frombits(uint32(ce.pop()))
		a := math.Float32frombits(uint32(ce.pop()))
		ce.push(uint64(math.Float32bits(float32(f32Binary(op, float64(a), float64(b))))))
	case op >= 0x99 && op <= 0x9f:
		v := math.Float64frombits(ce.pop())
		ce.push(math.Float64bits(f64Unary(op, v)))
	case op >= 0xa0 && op <= 0xa6:
		b := math.Float64frombits(ce.pop())
		a := math.Float64frombits(ce.pop())
		ce.push(math.Float64bits(f64Binary(op, a, b)))
	case op == 0xa7: // i32.wrap_i64
		ce.push(uint64(uint32(ce.pop())))
	case op >= 0xa8 && op <= 0xab: // i32.trunc_f32/f64_s/u
		v := ce.pop()
		var f float64
		if op <= 0xa9 {
			f = float64(math.Float32frombits(uint32(v)))
		} else {
			f = math.Float64frombits(v)
		}
		r, err := truncToI32(f, op%2 == 0)
		if err != nil {
			return 0, err
		}
		ce.push(uint64(uint32(r)))
	case op == 0xac || op == 0xad: // i64.extend_i32_s/u
		v := uint32(ce.pop())
		if op == 0xac {
			ce.push(uint64(int64(int32(v))))
		} else {
			ce.push(uint64(v))
		}
	case op >= 0xae && op <= 0xb1: // i64.trunc_f32/f64_s/u
		v := ce.pop()
		var f float64
		if op <= 0xaf {
			f = float64(math.Float32frombits(uint32(v)))
		} else {
			f = math.Float64frombits(v)
		}
		r, err := truncToI64(f, op%2 == 0)
		if err != nil {
			return 0, err
		}
		ce.push(uint64(r))
	case op == 0xb2 || op == 0xb3: // f32.convert_i32_s/u
		v := uint32(ce.pop())
		var f float32
		if op == 0xb2 {
			f = float32(int32(v))
		} else {
			f = float32(v)
		}
		ce.push(uint64(math.Float32bits(f)))
	case op == 0xb4 || op == 0xb5: // f32.convert_i64_s/u
		v := ce.pop()
		var f float32
		if op == 0xb4 {
			f = float32(int64(v))
		} else {
			f = float32(v)
		}
		ce.push(uint64(math.Float32bits(f)))
	case op == 0xb6: // f32.demote_f64
		v := math.Float64frombits(ce.pop())
		ce.push(uint64(math.Float32bits(float32(v))))
	case op == 0xb7 || op == 0xb8: // f64.convert_i32_s/u
		v := uint32(ce.pop())
		var f float64
		if op == 0xb7 {
			f = float64(int32(v))
		} else {
			f = float64(v)
		}
		ce.push(math.Float64bits(f))
	case op == 0xb9 || op == 0xba: // f64.convert_i64_s/u
		v := ce.pop()
		var f float64
		if op == 0xb9 {
			f = float64(int64(v))
		} else {
			f = float64(v)
		}
		ce.push(math.Float64bits(f))
	case op == 0xbb: // f64.promote_f32
		v := math.Float32frombits(uint32(ce.pop()))
		ce.push(math.Float64bits(float64(v)))
	case op == 0xbc: // i32.reinterpret_f32
		ce.push(uint64(ce.pop())) // already bit-identical, just a type relabel
	case op == 0xbd, op == 0xbe, op == 0xbf: // i64/f32/f64 reinterpret
		// Bit pattern passes through unchanged; only the abstract type differs.
	case op >= 0xc0 && op <= 0xc4:
		v := ce.pop()
		ce.push(signExtend(op, v))
	default:
		return 0, wasm.NewTrapError(wasm.TrapIDMisc, "unimplemented opcode %#x", op)
	}
	return 0, nil
}

func b2u64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func i32Compare(op wasm.Opcode, a, b uint32) uint64 {
	switch op {
	case 0x46:
		return b2u64(a == b)
	case 0x47:
		return b2u64(a != b)
	case 0x48:
		return b2u64(int32(a) < int32(b))
	case 0x49:
		return b2u64(a < b)
	case 0x4a:
		return b2u64(int32(a) > int32(b))
	case 0x4b:
		return b2u64(a > b)
	case 0x4c:
		return b2u64(int32(a) <= int32(b))
	case 0x4d:
		return b2u64(a <= b)
	case 0x4e:
		return b2u64(int32(a) >= int32(b))
	case 0x4f:
		return b2u64(a >= b)
	}
	return 0
}

func i64Compare(op wasm.Opcode, a, b uint64) uint64 {
	switch op {
	case 0x51:
		return b2u64(a == b)
	case 0x52:
		return b2u64(a != b)
	case 0x53:
		return b2u64(int64(a) < int64(b))
	case 0x54:
		return b2u64(a < b)
	case 0x55:
		return b2u64(int64(a) > int64(b))
	case 0x56:
		return b2u64(a > b)
	case 0x57:
		return b2u64(int64(a) <= int64(b))
	case 0x58:
		return b2u64(a <= b)
	case 0x59:
		return b2u64(int64(a) >= int64(b))
	case 0x5a:
		return b2u64(a >= b)
	}
	return 0
}

func fCompare(op wasm.Opcode, a, b float64, base wasm.Opcode) uint64 {
	switch op - base {
	case 0:
		return b2u64(a == b)
	case 1:
		return b2u64(a != b)
	case 2:
		return b2u64(a < b)
	case 3:
		return b2u64(a > b)
	case 4:
		return b2u64(a <= b)
	case 5:
		return b2u64(a >= b)
	}
	return 0
}

func i32Unary(op wasm.Opcode, v uint32) uint32 {
	switch op {
	case 0x67:
		return uint32(bits.LeadingZeros32(v))
	case 0x68:
		return uint32(bits.TrailingZeros32(v))
	case 0x69:
		return uint32(bits.OnesCount32(v))
	}
	return 0
}

func i32Binary(op wasm.Opcode, a, b uint32) (uint32, error) {
	switch op {
	case 0x6a:
		return a + b, nil
	case 0x6b:
		return a - b, nil
	case 0x6c:
		return a * b, nil
	case 0x6d: // div_s
		if b == 0 {
			return 0, wasm.NewTrapError(wasm.TrapIDDivByZero, "integer divide by zero")
		}
		if int32(a) == math.MinInt32 && int32(b) == -1 {
			return 0, wasm.NewTrapError(wasm.TrapIDIntegerOverflow, "integer overflow")
		}
		return uint32(int32(a) / int32(b)), nil
	case 0x6e: // div_u
		if b == 0 {
			return 0, wasm.NewTrapError(wasm.TrapIDDivByZero, "integer divide by zero")
		}
		return a / b, nil
	case 0x6f: // rem_s
		if b == 0 {
			return 0, wasm.NewTrapError(wasm.TrapIDDivByZero, "integer divide by zero")
		}
		if int32(a) == math.MinInt32 && int32(b) == -1 {
			return 0, nil
		}
		return uint32(int32(a) % int32(b)), nil
	case 0x70: // rem_u
		if b == 0 {
			return 0, wasm.NewTrapError(wasm.TrapIDDivByZero, "integer divide by zero")
		}
		return a % b, nil
	case 0x71:
		return a & b, nil
	case 0x72:
		return a | b, nil
	case 0x73:
		return a ^ b, nil
	case 0x74:
		return a << (b & 31), nil
	case 0x75:
		return uint32(int32(a) >> (b & 31)), nil
	case 0x76:
		return a >> (b & 31), nil
	case 0x77:
		return bits.RotateLeft32(a, int(b&31)), nil
	case 0x78:
		return bits.RotateLeft32(a, -int(b&31)), nil
	}
	return 0, nil
}

func i64Unary(op wasm.Opcode, v uint64) uint64 {
	switch op {
	case 0x79:
		return uint64(bits.LeadingZeros64(v))
	case 0x7a:
		return uint64(bits.TrailingZeros64(v))
	case 0x7b:
		return uint64(bits.OnesCount64(v))
	}
	return 0
}

func i64Binary(op wasm.Opcode, a, b uint64) (uint64, error) {
	switch op {
	case 0x7c:
		return a + b, nil
	case 0x7d:
		return a - b, nil
	case 0x7e:
		return a * b, nil
	case 0x7f:
		if b == 0 {
			return 0, wasm.NewTrapError(wasm.TrapIDDivByZero, "integer divide by zero")
		}
		if int64(a) == math.MinInt64 && int64(b) == -1 {
			return 0, wasm.NewTrapError(wasm.TrapIDIntegerOverflow, "integer overflow")
		}
		return uint64(int64(a) / int64(b)), nil
	case 0x80:
		if b == 0 {
			return 0, wasm.NewTrapError(wasm.TrapIDDivByZero, "integer divide by zero")
		}
		return a / b, nil
	case 0x81:
		if b == 0 {
			return 0, wasm.NewTrapError(wasm.TrapIDDivByZero, "integer divide by zero")
		}
		if int64(a) == math.MinInt64 && int64(b) == -1 {
			return 0, nil
		}
		return uint64(int64(a) % int64(b)), nil
	case 0x82:
		if b == 0 {
			return 0, wasm.NewTrapError(wasm.TrapIDDivByZero, "integer divide by zero")
		}
		return a % b, nil
	case 0x83:
		return a & b, nil
	case 0x84:
		return a | b, nil
	case 0x85:
		return a ^ b, nil
	case 0x86:
		return a << (b & 63), nil
	case 0x87:
		return uint64(int64(a) >> (b & 63)), nil
	case 0x88:
		return a >> (b & 63), nil
	case 0x89:
		return bits.RotateLeft64(a, int(b&63)), nil
	case 0x8a:
		return bits.RotateLeft64(a, -int(b&63)), nil
	}
	return 0, nil
}

func f32Unary(op wasm.Opcode, v float64) float64 {
	switch op {
	case 0x8b:
		return math.Abs(v)
	case 0x8c:
		return -v
	case 0x8d:
		return math.Ceil(v)
	case 0x8e:
		return math.Floor(v)
	case 0x8f:
		return math.Trunc(v)
	case 0x90:
		return math.RoundToEven(v)
	case 0x91:
		return math.Sqrt(v)
	}
	return v
}

func f32Binary(op wasm.Opcode, a, b float64) float64 {
	switch op {
	case 0x92:
		return a + b
	case 0x93:
		return a - b
	case 0x94:
		return a * b
	case 0x95:
		return a / b
	case 0x96:
		return math.Min(a, b)
	case 0x97:
		return math.Max(a, b)
	case 0x98:
		return math.Copysign(a, b)
	}
	return 0
}

func f64Unary(op wasm.Opcode, v float64) float64 {
	switch op {
	case 0x99:
		return math.Abs(v)
	case 0x9a:
		return -v
	case 0x9b:
		return math.Ceil(v)
	case 0x9c:
		return math.Floor(v)
	case 0x9d:
		return math.Trunc(v)
	case 0x9e:
		return math.RoundToEven(v)
	case 0x9f:
		return math.Sqrt(v)
	}
	return v
}

func f64Binary(op wasm.Opcode, a, b float64) float64 {
	switch op {
	case 0xa0:
		return a + b
	case 0xa1:
		return a - b
	case 0xa2:
		return a * b
	case 0xa3:
		return a / b
	case 0xa4:
		return math.Min(a, b)
	case 0xa5:
		return math.Max(a, b)
	case 0xa6:
		return math.Copysign(a, b)
	}
	return 0
}

func truncToI32(f float64, signed bool) (int32, error) {
	if math.IsNaN(f) {
		return 0, wasm.NewTrapError(wasm.TrapIDInvalidConversionToInteger, "invalid conversion to integer")
	}
	t := math.Trunc(f)
	if signed {
		if t < math.MinInt32 || t > math.MaxInt32 {
			return 0, wasm.NewTrapError(wasm.TrapIDIntegerOverflow, "integer overflow")
		}
		return int32(t), nil
	}
	if t < 0 || t > math.MaxUint32 {
		return 0, wasm.NewTrapError(wasm.TrapIDIntegerOverflow, "integer overflow")
	}
	return int32(uint32(t)), nil
}

func truncToI64(f float64, signed bool) (int64, error) {
	if math.IsNaN(f) {
		return 0, wasm.NewTrapError(wasm.TrapIDInvalidConversionToInteger, "invalid conversion to integer")
	}
	t := math.Trunc(f)
	if signed {
		if t < math.MinInt64 || t >= math.MaxInt64 {
			return 0, wasm.NewTrapError(wasm.TrapIDIntegerOverflow, "integer overflow")
		}
		return int64(t), nil
	}
	if t < 0 || t >= math.MaxUint64 {
		return 0, wasm.NewTrapError(wasm.TrapIDIntegerOverflow, "integer overflow")
	}
	return int64(uint64(t)), nil
}

func signExtend(op wasm.Opcode, v uint64) uint64 {
	switch op {
	case 0xc0: // i32.extend8_s
		return uint64(uint32(int32(int8(v))))
	case 0xc1: // i32.extend16_s
		return uint64(uint32(int32(int16(v))))
	case 0xc2: // i64.extend8_s
		return uint64(int64(int8(v)))
	case 0xc3: // i64.extend16_s
		return uint64(int64(int16(v)))
	case 0xc4: // i64.extend32_s
		return uint64(int64(int32(v)))
	}
	return v
}
