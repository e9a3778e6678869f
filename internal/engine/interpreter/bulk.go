package interpreter

import (
	"math"

	"github.com/gowasm/gowasm/internal/leb128"
	"github.com/gowasm/gowasm/internal/wasm"
)

// execMisc executes the bulk-memory/reference-types/non-trapping-conversion
// extended instruction set introduced by OpcodeMiscPrefix.
func (ce *callEngine) execMisc(frame *callFrame) (execSignal, error) {
	sub, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
	frame.pc += uint32(n)

	switch byte(sub) {
	case wasm.OpcodeMiscI32TruncSatF32S, wasm.OpcodeMiscI32TruncSatF32U,
		wasm.OpcodeMiscI32TruncSatF64S, wasm.OpcodeMiscI32TruncSatF64U,
		wasm.OpcodeMiscI64TruncSatF32S, wasm.OpcodeMiscI64TruncSatF32U,
		wasm.OpcodeMiscI64TruncSatF64S, wasm.OpcodeMiscI64TruncSatF64U:
		ce.push(truncSat(byte(sub), ce.pop()))

	case wasm.OpcodeMiscMemoryInit:
		dataIdx, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		frame.pc++ // reserved memory index byte
		size := uint32(ce.pop())
		src := uint32(ce.pop())
		dst := uint32(ce.pop())
		if ce.inst.DroppedData[dataIdx] {
			if size == 0 {
				return 0, nil
			}
			return 0, wasm.NewTrapError(wasm.TrapIDOOBData, "memory.init: segment dropped")
		}
		data := ce.inst.Module.DataSection[dataIdx].Init
		if uint64(src)+uint64(size) > uint64(len(data)) {
			return 0, wasm.NewTrapError(wasm.TrapIDOOBData, "memory.init out of bounds")
		}
		mem := ce.inst.Mems[0]
		if uint64(dst)+uint64(size) > uint64(len(mem.Buffer)) {
			return 0, wasm.NewTrapError(wasm.TrapIDOOBMemory, "memory.init out of bounds")
		}
		copy(mem.Buffer[dst:dst+size], data[src:src+size])

	case wasm.OpcodeMiscDataDrop:
		idx, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		ce.inst.DroppedData[idx] = true

	case wasm.OpcodeMiscMemoryCopy:
		frame.pc += 2 // two reserved memory-index bytes
		size := uint32(ce.pop())
		src := uint32(ce.pop())
		dst := uint32(ce.pop())
		mem := ce.inst.Mems[0]
		if uint64(src)+uint64(size) > uint64(len(mem.Buffer)) || uint64(dst)+uint64(size) > uint64(len(mem.Buffer)) {
			return 0, wasm.NewTrapError(wasm.TrapIDOOBMemory, "memory.copy out of bounds")
		}
		copy(mem.Buffer[dst:dst+size], mem.Buffer[src:src+size])

	case wasm.OpcodeMiscMemoryFill:
		frame.pc++
		size := uint32(ce.pop())
		val := byte(ce.pop())
		dst := uint32(ce.pop())
		mem := ce.inst.Mems[0]
		if uint64(dst)+uint64(size) > uint64(len(mem.Buffer)) {
			return 0, wasm.NewTrapError(wasm.TrapIDOOBMemory, "memory.fill out of bounds")
		}
		for i := uint32(0); i < size; i++ {
			mem.Buffer[dst+i] = val
		}

	case wasm.OpcodeMiscTableInit:
		elemIdx, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		tblIdx, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		size := uint32(ce.pop())
		src := uint32(ce.pop())
		dst := uint32(ce.pop())
		tbl := ce.inst.Tables[tblIdx]
		if ce.inst.DroppedElem[elemIdx] {
			if size == 0 {
				return 0, nil
			}
			return 0, wasm.NewTrapError(wasm.TrapIDOOBElement, "table.init: segment dropped")
		}
		seg := ce.inst.Module.ElementSection[elemIdx]
		if uint64(src)+uint64(size) > uint64(len(seg.Indices)) {
			return 0, wasm.NewTrapError(wasm.TrapIDOOBElement, "table.init out of bounds")
		}
		if uint64(dst)+uint64(size) > uint64(len(tbl.Refs)) {
			return 0, wasm.NewTrapError(wasm.TrapIDOOBTable, "table.init out of bounds")
		}
		for i := uint32(0); i < size; i++ {
			idx := seg.Indices[src+i]
			if idx == wasm.FuncIndexInvalid {
				tbl.Refs[dst+i] = wasm.Reference{IsNull: true}
			} else {
				tbl.Refs[dst+i] = wasm.Reference{FuncIndex: idx}
			}
		}

	case wasm.OpcodeMiscElemDrop:
		idx, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		ce.inst.DroppedElem[idx] = true

	case wasm.OpcodeMiscTableCopy:
		dstIdx, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		srcIdx, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		size := uint32(ce.pop())
		src := uint32(ce.pop())
		dst := uint32(ce.pop())
		srcTbl := ce.inst.Tables[srcIdx]
		dstTbl := ce.inst.Tables[dstIdx]
		if uint64(src)+uint64(size) > uint64(len(srcTbl.Refs)) || uint64(dst)+uint64(size) > uint64(len(dstTbl.Refs)) {
			return 0, wasm.NewTrapError(wasm.TrapIDOOBTable, "table.copy out of bounds")
		}
		copy(dstTbl.Refs[dst:dst+size], srcTbl.Refs[src:src+size])

	case wasm.OpcodeMiscTableGrow:
		idx, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		tbl := ce.inst.Tables[idx]
		delta := uint32(ce.pop())
		fillVal := decodeRef(ce.pop())
		prev, ok := tbl.Grow(delta, fillVal)
		if !ok {
			ce.push(uint64(uint32(0xffffffff)))
		} else {
			ce.push(uint64(prev))
		}

	case wasm.OpcodeMiscTableSize:
		idx, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		ce.push(uint64(len(ce.inst.Tables[idx].Refs)))

	case wasm.OpcodeMiscTableFill:
		idx, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		tbl := ce.inst.Tables[idx]
		size := uint32(ce.pop())
		val := decodeRef(ce.pop())
		dst := uint32(ce.pop())
		if uint64(dst)+uint64(size) > uint64(len(tbl.Refs)) {
			return 0, wasm.NewTrapError(wasm.TrapIDOOBTable, "table.fill out of bounds")
		}
		for i := uint32(0); i < size; i++ {
			tbl.Refs[dst+i] = val
		}

	default:
		return 0, wasm.NewTrapError(wasm.TrapIDMisc, "unimplemented misc opcode %#x", sub)
	}
	return 0, nil
}

func truncSat(sub byte, v uint64) uint64 {
	f := truncSatOperand(sub, v)
	switch sub {
	case wasm.OpcodeMiscI32TruncSatF32S, wasm.OpcodeMiscI32TruncSatF64S:
		return uint64(uint32(int32(saturateI32(f, true))))
	case wasm.OpcodeMiscI32TruncSatF32U, wasm.OpcodeMiscI32TruncSatF64U:
		return uint64(uint32(saturateI32(f, false)))
	case wasm.OpcodeMiscI64TruncSatF32S, wasm.OpcodeMiscI64TruncSatF64S:
		return uint64(saturateI64(f, true))
	default: // I64TruncSatF32U, I64TruncSatF64U
		return uint64(saturateI64(f, false))
	}
}

// truncSatOperand decodes the source float bit pattern for a given
// truncSat sub-opcode.
func truncSatOperand(sub byte, v uint64) float64 {
	switch sub {
	case wasm.OpcodeMiscI32TruncSatF32S, wasm.OpcodeMiscI32TruncSatF32U,
		wasm.OpcodeMiscI64TruncSatF32S, wasm.OpcodeMiscI64TruncSatF32U:
		return float64(math.Float32frombits(uint32(v)))
	default:
		return math.Float64frombits(v)
	}
}

func saturateI32(f float64, signed bool) int32 {
	if math.IsNaN(f) {
		return 0
	}
	t := math.Trunc(f)
	if signed {
		if t <= math.MinInt32 {
			return math.MinInt32
		}
		if t >= math.MaxInt32 {
			return math.MaxInt32
		}
		return int32(t)
	}
	if t <= 0 {
		return 0
	}
	if t >= math.MaxUint32 {
		return int32(uint32(math.MaxUint32))
	}
	return int32(uint32(t))
}

func saturateI64(f float64, signed bool) int64 {
	if math.IsNaN(f) {
		return 0
	}
	t := math.Trunc(f)
	if signed {
		if t <= math.MinInt64 {
			return math.MinInt64
		}
		if t >= math.MaxInt64 {
			return math.MaxInt64
		}
		return int64(t)
	}
	if t <= 0 {
		return 0
	}
	if t >= math.MaxUint64 {
		return int64(uint64(math.MaxUint64))
	}
	return int64(uint64(t))
}
